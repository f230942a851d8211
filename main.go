package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rentwatch/config"
	"rentwatch/httpapi"
	"rentwatch/httputil"
	"rentwatch/logging"
	"rentwatch/models"
	"rentwatch/scheduler"
	"rentwatch/scraper"
	"rentwatch/services"
	"rentwatch/storage"
	"rentwatch/workers"
)

var (
	crawlSource = flag.String("crawl", "", "Crawl one source and exit")
	dryRun      = flag.Bool("dry-run", false, "With -crawl: fetch and report without writing")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logFile, err := logging.Setup(cfg.LogDir)
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting rentwatch...")

	log.Printf("Loaded %d source configs", len(cfg.Sources))
	for id, src := range cfg.Sources {
		log.Printf("  - %s (%s, %s)", src.Name, id, src.Kind)
	}

	clients := httputil.NewClients(cfg.Scraper.ProxyURL)

	ctx := context.Background()

	store, err := storage.NewPostgresStore(ctx, cfg.Postgres.URL)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer store.Close()
	log.Println("Connected to Postgres")

	healthService := services.NewHealthService(store)
	registry := services.NewSourceRegistry(store, healthService)
	listingService := services.NewListingService(store)
	mediaService := services.NewMediaService(store)

	// Seed the registry from YAML configs. The DB copy wins on restarts
	// only for sources not present on disk.
	for _, src := range cfg.Sources {
		if err := registry.Upsert(ctx, src); err != nil {
			log.Fatalf("Failed to seed source %s: %v", src.ID, err)
		}
	}

	orchestrator := scraper.NewOrchestrator(registry, listingService, healthService, clients)
	if cfg.Media.Enabled {
		orchestrator.SetMediaService(mediaService)
	}

	if *crawlSource != "" {
		log.Printf("Crawling %s...", *crawlSource)
		result, err := orchestrator.RunCrawl(ctx, *crawlSource, models.CrawlOptions{DryRun: *dryRun})
		if err != nil {
			log.Fatalf("Crawl failed: %v", err)
		}
		log.Printf("Crawl complete: %d found, %d new, %d updated, %d duplicates, %d delisted",
			result.ListingsFound, result.NewListings, result.UpdatedListings,
			result.Duplicates, result.DelistedListings)
		return
	}

	// Daemon mode
	jobStore, err := storage.NewJobStore(cfg.JobDBPath)
	if err != nil {
		log.Fatalf("Failed to open job database: %v", err)
	}
	defer jobStore.Close()
	log.Printf("Job database: %s", cfg.JobDBPath)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := scheduler.NewQueue(orchestrator, jobStore, cfg.Scheduler.Workers, cfg.Scheduler.QueueLen)
	queue.Start(ctx)

	sched := scheduler.New(cfg, registry, queue, jobStore)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	if cfg.Media.Enabled {
		var uploader workers.Uploader = &workers.NoOpUploader{}
		if cfg.S3.Bucket != "" {
			s3up, err := storage.NewS3Uploader(ctx, storage.S3Config{
				Bucket:          cfg.S3.Bucket,
				Region:          cfg.S3.Region,
				Endpoint:        cfg.S3.Endpoint,
				AccessKeyID:     cfg.S3.AccessKey,
				SecretAccessKey: cfg.S3.SecretKey,
			})
			if err != nil {
				log.Fatalf("Failed to configure S3: %v", err)
			}
			uploader = s3up
		}
		mediaWorker := workers.NewMediaWorker(store, uploader)
		go mediaWorker.Run(ctx, cfg.Media.BatchSize, cfg.Media.Interval)
		log.Println("Media worker started")
	}

	server := httpapi.NewServer(cfg.HTTP.Addr, registry, orchestrator, queue, sched, jobStore)
	server.Start()

	log.Println("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
	sched.Stop()
	cancel()
	queue.Wait()
	log.Println("Goodbye!")
}
