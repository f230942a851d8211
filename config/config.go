package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
	"rentwatch/models"
)

type Config struct {
	Postgres  PostgresConfig
	Scheduler SchedulerConfig
	Scraper   ScraperConfig
	HTTP      HTTPConfig
	Media     MediaConfig
	S3        S3Config
	JobDBPath string
	LogDir    string
	LogLevel  string
	Sources   map[string]*models.SourceConfig
}

type PostgresConfig struct {
	URL string
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
	Workers  int
	QueueLen int
}

type ScraperConfig struct {
	ProxyURL string
}

type HTTPConfig struct {
	Addr string
}

type MediaConfig struct {
	Enabled   bool
	BatchSize int
	Interval  time.Duration
}

type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Postgres: PostgresConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Scheduler: SchedulerConfig{
			Cron:     os.Getenv("CRAWL_CRON"),
			Workers:  getEnvInt("CRAWL_WORKERS", 2),
			QueueLen: getEnvInt("CRAWL_QUEUE_LEN", 32),
		},
		Scraper: ScraperConfig{
			ProxyURL: os.Getenv("SCRAPE_PROXY_URL"),
		},
		HTTP: HTTPConfig{
			Addr: getEnv("HTTP_ADDR", ":8080"),
		},
		Media: MediaConfig{
			Enabled:   os.Getenv("MEDIA_MIRROR") == "true",
			BatchSize: getEnvInt("MEDIA_BATCH_SIZE", 20),
		},
		S3: S3Config{
			Bucket:    os.Getenv("S3_BUCKET"),
			Region:    getEnv("S3_REGION", "us-east-1"),
			Endpoint:  os.Getenv("S3_ENDPOINT"),
			AccessKey: os.Getenv("S3_ACCESS_KEY"),
			SecretKey: os.Getenv("S3_SECRET_KEY"),
		},
		JobDBPath: getEnv("JOB_DB_PATH", "rentwatch.db"),
		LogDir:    getEnv("LOG_DIR", "logs"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		Sources:   make(map[string]*models.SourceConfig),
	}

	if interval := os.Getenv("CRAWL_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err == nil {
			cfg.Scheduler.Interval = d
		}
	}
	if interval := os.Getenv("MEDIA_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err == nil {
			cfg.Media.Interval = d
		}
	}

	if err := cfg.loadSourceConfigs(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadSourceConfigs reads one YAML file per source from config/sources.
// These seed the registry at startup; the database copy is authoritative
// afterwards.
func (c *Config) loadSourceConfigs() error {
	configDir := getEnv("SOURCES_DIR", "config/sources")
	entries, err := os.ReadDir(configDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(configDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var src models.SourceConfig
		if err := yaml.Unmarshal(data, &src); err != nil {
			return err
		}

		c.Sources[src.ID] = &src
	}

	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
