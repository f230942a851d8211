package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"rentwatch/models"
	"rentwatch/storage"
)

// CrawlRunner executes one crawl synchronously. Satisfied by
// scraper.Orchestrator.
type CrawlRunner interface {
	RunCrawl(ctx context.Context, sourceID string, opts models.CrawlOptions) (*models.CrawlResult, error)
}

// ErrQueueFull is returned when the job channel cannot accept another job.
var ErrQueueFull = errors.New("scheduler: job queue is full")

const rateLimitCooldown = 15 * time.Minute

// Queue runs crawl jobs on a fixed worker pool with at most one queued or
// running job per source. Duplicate schedule requests return the existing
// job rather than enqueueing a second one.
type Queue struct {
	runner CrawlRunner
	jobs   *storage.JobStore

	mu       sync.Mutex
	inflight map[string]string    // sourceID -> job ID, queued or running
	cooldown map[string]time.Time // sourceID -> earliest next attempt after a rate limit

	ch      chan *models.CrawlJob
	workers int
	wg      sync.WaitGroup
}

func NewQueue(runner CrawlRunner, jobs *storage.JobStore, workers, size int) *Queue {
	if workers < 1 {
		workers = 1
	}
	if size < 1 {
		size = 16
	}
	return &Queue{
		runner:   runner,
		jobs:     jobs,
		inflight: make(map[string]string),
		cooldown: make(map[string]time.Time),
		ch:       make(chan *models.CrawlJob, size),
		workers:  workers,
	}
}

// Start launches the worker pool. Workers drain until ctx is cancelled.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work(ctx)
	}
}

// Wait blocks until all workers have exited.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Schedule enqueues a crawl for sourceID. If a job for the source is already
// queued or running, that job's ID is returned with created=false.
func (q *Queue) Schedule(sourceID string, priority int, opts models.CrawlOptions) (jobID string, created bool, err error) {
	q.mu.Lock()
	if existing, ok := q.inflight[sourceID]; ok {
		q.mu.Unlock()
		return existing, false, nil
	}

	job := &models.CrawlJob{
		ID:          uuid.New().String(),
		SourceID:    sourceID,
		Priority:    priority,
		State:       models.JobQueued,
		Options:     opts,
		ScheduledAt: time.Now(),
	}
	q.inflight[sourceID] = job.ID
	q.mu.Unlock()

	if err := q.jobs.CreateJob(job); err != nil {
		q.release(sourceID)
		return "", false, err
	}

	select {
	case q.ch <- job:
		return job.ID, true, nil
	default:
		q.release(sourceID)
		job.State = models.JobFailed
		job.Error = ErrQueueFull.Error()
		now := time.Now()
		job.FinishedAt = &now
		if uerr := q.jobs.UpdateJob(job); uerr != nil {
			log.Printf("Error updating rejected job %s: %v", job.ID, uerr)
		}
		return "", false, ErrQueueFull
	}
}

// InCooldown reports whether the source was recently rate limited and should
// not be rescheduled yet.
func (q *Queue) InCooldown(sourceID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	until, ok := q.cooldown[sourceID]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(q.cooldown, sourceID)
		return false
	}
	return true
}

func (q *Queue) release(sourceID string) {
	q.mu.Lock()
	delete(q.inflight, sourceID)
	q.mu.Unlock()
}

func (q *Queue) work(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case job := <-q.ch:
			q.run(ctx, job)
		case <-ctx.Done():
			return
		}
	}
}

func (q *Queue) run(ctx context.Context, job *models.CrawlJob) {
	defer q.release(job.SourceID)

	now := time.Now()
	job.State = models.JobRunning
	job.StartedAt = &now
	if err := q.jobs.UpdateJob(job); err != nil {
		log.Printf("Error marking job %s running: %v", job.ID, err)
	}

	result, err := q.runner.RunCrawl(ctx, job.SourceID, job.Options)

	finished := time.Now()
	job.FinishedAt = &finished
	if err != nil {
		job.State = models.JobFailed
		job.Error = err.Error()
		log.Printf("Job %s (%s) failed: %v", job.ID, job.SourceID, err)
	} else {
		job.State = models.JobSucceeded
		job.Result = result
		if result.RateLimited {
			q.mu.Lock()
			q.cooldown[job.SourceID] = finished.Add(rateLimitCooldown)
			q.mu.Unlock()
			log.Printf("Job %s (%s) hit rate limiting, cooling down until %s",
				job.ID, job.SourceID, finished.Add(rateLimitCooldown).Format(time.RFC3339))
		}
	}
	if uerr := q.jobs.UpdateJob(job); uerr != nil {
		log.Printf("Error finalizing job %s: %v", job.ID, uerr)
	}
}
