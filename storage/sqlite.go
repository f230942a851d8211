package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"rentwatch/models"
)

// JobStore persists crawl jobs locally. Domain data lives in Postgres; job
// bookkeeping is operational and survives daemon restarts via SQLite.
type JobStore struct {
	db *sql.DB
}

func NewJobStore(path string) (*JobStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	s := &JobStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *JobStore) Close() error {
	return s.db.Close()
}

func (s *JobStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS crawl_jobs (
		id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 0,
		state TEXT NOT NULL,
		options TEXT NOT NULL DEFAULT '{}',
		scheduled_at TIMESTAMP NOT NULL,
		started_at TIMESTAMP,
		finished_at TIMESTAMP,
		result TEXT,
		error TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_crawl_jobs_source ON crawl_jobs(source_id, state);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *JobStore) CreateJob(job *models.CrawlJob) error {
	opts, err := json.Marshal(job.Options)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO crawl_jobs (id, source_id, priority, state, options, scheduled_at, error)
		VALUES (?, ?, ?, ?, ?, ?, '')`,
		job.ID, job.SourceID, job.Priority, job.State, string(opts), job.ScheduledAt,
	)
	return err
}

func (s *JobStore) UpdateJob(job *models.CrawlJob) error {
	var result sql.NullString
	if job.Result != nil {
		data, err := json.Marshal(job.Result)
		if err != nil {
			return err
		}
		result = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.Exec(`
		UPDATE crawl_jobs
		SET state = ?, started_at = ?, finished_at = ?, result = ?, error = ?
		WHERE id = ?`,
		job.State, job.StartedAt, job.FinishedAt, result, job.Error, job.ID,
	)
	return err
}

func (s *JobStore) GetJob(id string) (*models.CrawlJob, error) {
	row := s.db.QueryRow(`
		SELECT id, source_id, priority, state, options, scheduled_at, started_at, finished_at, result, error
		FROM crawl_jobs WHERE id = ?`, id)

	return scanJob(row)
}

func scanJob(row *sql.Row) (*models.CrawlJob, error) {
	var job models.CrawlJob
	var opts string
	var result sql.NullString
	var started, finished sql.NullTime

	err := row.Scan(
		&job.ID, &job.SourceID, &job.Priority, &job.State, &opts,
		&job.ScheduledAt, &started, &finished, &result, &job.Error,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(opts), &job.Options); err != nil {
		return nil, fmt.Errorf("job %s options: %w", job.ID, err)
	}
	if started.Valid {
		job.StartedAt = &started.Time
	}
	if finished.Valid {
		job.FinishedAt = &finished.Time
	}
	if result.Valid {
		var r models.CrawlResult
		if err := json.Unmarshal([]byte(result.String), &r); err != nil {
			return nil, fmt.Errorf("job %s result: %w", job.ID, err)
		}
		job.Result = &r
	}
	return &job, nil
}

// ListRecentJobs returns the newest jobs first.
func (s *JobStore) ListRecentJobs(limit int) ([]models.CrawlJob, error) {
	rows, err := s.db.Query(`
		SELECT id, source_id, priority, state, options, scheduled_at, started_at, finished_at, result, error
		FROM crawl_jobs
		ORDER BY scheduled_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.CrawlJob
	for rows.Next() {
		var job models.CrawlJob
		var opts string
		var result sql.NullString
		var started, finished sql.NullTime

		if err := rows.Scan(
			&job.ID, &job.SourceID, &job.Priority, &job.State, &opts,
			&job.ScheduledAt, &started, &finished, &result, &job.Error,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(opts), &job.Options); err != nil {
			return nil, fmt.Errorf("job %s options: %w", job.ID, err)
		}
		if started.Valid {
			job.StartedAt = &started.Time
		}
		if finished.Valid {
			job.FinishedAt = &finished.Time
		}
		if result.Valid {
			var r models.CrawlResult
			if err := json.Unmarshal([]byte(result.String), &r); err != nil {
				return nil, fmt.Errorf("job %s result: %w", job.ID, err)
			}
			job.Result = &r
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// LastFinishedAt returns when the source's most recent job reached a terminal
// state, or zero time if it never has.
func (s *JobStore) LastFinishedAt(sourceID string) (time.Time, error) {
	var finished sql.NullTime
	err := s.db.QueryRow(`
		SELECT MAX(finished_at) FROM crawl_jobs
		WHERE source_id = ? AND state IN ('succeeded', 'failed')`, sourceID).Scan(&finished)
	if err != nil {
		return time.Time{}, err
	}
	if !finished.Valid {
		return time.Time{}, nil
	}
	return finished.Time, nil
}
