package scheduler

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"rentwatch/config"
	"rentwatch/models"
	"rentwatch/services"
	"rentwatch/storage"
)

// Scheduler periodically enqueues crawls for every enabled source, honoring
// each source's refresh interval and rate-limit cooldowns.
type Scheduler struct {
	cfg      *config.Config
	registry *services.SourceRegistry
	queue    *Queue
	jobs     *storage.JobStore
	cron     *cron.Cron
	ticker   *time.Ticker
	stopCh   chan struct{}
}

func New(cfg *config.Config, registry *services.SourceRegistry, queue *Queue, jobs *storage.JobStore) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		registry: registry,
		queue:    queue,
		jobs:     jobs,
		cron:     cron.New(),
		stopCh:   make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.Scheduler.Cron != "" {
		log.Printf("Starting scheduler with cron: %s", s.cfg.Scheduler.Cron)
		_, err := s.cron.AddFunc(s.cfg.Scheduler.Cron, func() {
			if _, err := s.ScheduleAllCrawls(ctx); err != nil {
				log.Printf("Scheduled run error: %v", err)
			}
		})
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
	} else if s.cfg.Scheduler.Interval > 0 {
		log.Printf("Starting scheduler with interval: %s", s.cfg.Scheduler.Interval)
		s.ticker = time.NewTicker(s.cfg.Scheduler.Interval)
		go func() {
			for {
				select {
				case <-s.ticker.C:
					if _, err := s.ScheduleAllCrawls(ctx); err != nil {
						log.Printf("Scheduled run error: %v", err)
					}
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	} else {
		log.Println("No schedule configured, daemon will only respond to API requests")
	}

	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
}

// ScheduleAllCrawls enqueues one crawl per enabled source in priority order,
// skipping sources that finished within their refresh interval or are
// cooling down after a rate limit. Returns the IDs of the jobs created.
func (s *Scheduler) ScheduleAllCrawls(ctx context.Context) ([]string, error) {
	sources, err := s.registry.ListSources(ctx, true)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(sources, func(i, j int) bool {
		return sources[i].Priority < sources[j].Priority
	})

	var scheduled []string
	for _, src := range sources {
		if s.queue.InCooldown(src.ID) {
			log.Printf("[%s] in rate-limit cooldown, skipping", src.ID)
			continue
		}
		if s.withinRefreshInterval(src) {
			continue
		}

		jobID, created, err := s.queue.Schedule(src.ID, src.Priority, models.CrawlOptions{})
		if err != nil {
			log.Printf("[%s] schedule error: %v", src.ID, err)
			continue
		}
		if created {
			scheduled = append(scheduled, jobID)
		}
	}

	if len(scheduled) > 0 {
		log.Printf("Scheduled %d crawl(s)", len(scheduled))
	}
	return scheduled, nil
}

// withinRefreshInterval reports whether src finished a crawl recently
// enough that the next one is not yet due.
func (s *Scheduler) withinRefreshInterval(src models.SourceConfig) bool {
	interval := time.Duration(src.Policy.RefreshIntervalMinutes) * time.Minute
	if interval <= 0 {
		return false
	}
	last, err := s.jobs.LastFinishedAt(src.ID)
	if err != nil {
		log.Printf("[%s] error reading last run time: %v", src.ID, err)
		return false
	}
	if last.IsZero() {
		return false
	}
	return time.Since(last) < interval
}
