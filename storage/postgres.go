package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"rentwatch/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// =============================================================================
// Listings
// =============================================================================

const listingColumns = `id, source_id, source_listing_id, source_url, source_priority,
	address, unit, neighborhood, borough, price, beds, baths, sqft,
	image_urls, description, canonical_key, is_duplicate, canonical_id,
	status, first_seen_at, last_seen_at, delisted_at, raw_data, created_at, updated_at`

func scanListing(row pgx.Row) (*models.ListingRecord, error) {
	var r models.ListingRecord
	err := row.Scan(
		&r.ID, &r.SourceID, &r.SourceListingID, &r.SourceURL, &r.SourcePriority,
		&r.Address, &r.Unit, &r.Neighborhood, &r.Borough, &r.Price, &r.Beds, &r.Baths, &r.SqFt,
		&r.ImageURLs, &r.Description, &r.CanonicalKey, &r.IsDuplicate, &r.CanonicalID,
		&r.Status, &r.FirstSeenAt, &r.LastSeenAt, &r.DelistedAt, &r.RawData, &r.CreatedAt, &r.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) FindListing(ctx context.Context, sourceID, key string) (*models.ListingRecord, error) {
	query := `
		SELECT ` + listingColumns + `
		FROM listings
		WHERE source_id = $1 AND (source_listing_id = $2 OR (source_listing_id = '' AND source_url = $2))`

	return scanListing(s.pool.QueryRow(ctx, query, sourceID, key))
}

func (s *PostgresStore) InsertListing(ctx context.Context, r *models.ListingRecord) error {
	// ON CONFLICT DO NOTHING keeps the (source, key) invariant under
	// concurrent writers; the RETURNING id confirms this call won the insert.
	query := `
		INSERT INTO listings (` + listingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
		ON CONFLICT (source_id, source_listing_id, source_url) DO NOTHING
		RETURNING id`

	err := s.pool.QueryRow(ctx, query,
		r.ID, r.SourceID, r.SourceListingID, r.SourceURL, r.SourcePriority,
		r.Address, r.Unit, r.Neighborhood, r.Borough, r.Price, r.Beds, r.Baths, r.SqFt,
		r.ImageURLs, r.Description, r.CanonicalKey, r.IsDuplicate, r.CanonicalID,
		r.Status, r.FirstSeenAt, r.LastSeenAt, r.DelistedAt, r.RawData, r.CreatedAt, r.UpdatedAt,
	).Scan(&r.ID)
	if err == pgx.ErrNoRows {
		return fmt.Errorf("listing already exists: %s/%s", r.SourceID, r.Key())
	}
	return err
}

func (s *PostgresStore) UpdateListing(ctx context.Context, r *models.ListingRecord) error {
	query := `
		UPDATE listings SET
			source_url = $2, price = $3, beds = $4, baths = $5, sqft = $6,
			image_urls = $7, description = $8, status = $9,
			last_seen_at = $10, delisted_at = $11, raw_data = $12, updated_at = NOW()
		WHERE id = $1`

	_, err := s.pool.Exec(ctx, query,
		r.ID, r.SourceURL, r.Price, r.Beds, r.Baths, r.SqFt,
		r.ImageURLs, r.Description, r.Status,
		r.LastSeenAt, r.DelistedAt, r.RawData,
	)
	return err
}

func (s *PostgresStore) FindCanonicalByKey(ctx context.Context, canonicalKey, excludeSourceID string) (*models.ListingRecord, error) {
	// Earliest-seen canonical wins; source priority breaks first-seen ties
	// when two sources land the same unit in one batch.
	query := `
		SELECT ` + listingColumns + `
		FROM listings
		WHERE canonical_key = $1 AND is_duplicate = FALSE AND source_id != $2
		ORDER BY first_seen_at, source_priority
		LIMIT 1`

	return scanListing(s.pool.QueryRow(ctx, query, canonicalKey, excludeSourceID))
}

func (s *PostgresStore) QueryActiveKeys(ctx context.Context, sourceID string) ([]string, error) {
	query := `
		SELECT COALESCE(NULLIF(source_listing_id, ''), source_url)
		FROM listings
		WHERE source_id = $1 AND status = 'active' AND is_duplicate = FALSE`

	rows, err := s.pool.Query(ctx, query, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) MarkListingsDelisted(ctx context.Context, sourceID string, activeKeys []string) (int, error) {
	// Duplicate records track provenance only and are never delisted here.
	query := `
		UPDATE listings SET status = 'delisted', delisted_at = NOW(), updated_at = NOW()
		WHERE source_id = $1
		  AND status = 'active'
		  AND is_duplicate = FALSE
		  AND COALESCE(NULLIF(source_listing_id, ''), source_url) != ALL($2)`

	tag, err := s.pool.Exec(ctx, query, sourceID, activeKeys)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// =============================================================================
// Health metrics
// =============================================================================

func (s *PostgresStore) AppendHealthMetric(ctx context.Context, m *models.SourceHealthMetric) error {
	query := `
		INSERT INTO source_health_metrics (
			source_id, recorded_at, fetch_attempts, fetch_successes, fetch_failures,
			listings_found, new_listings, delisted_listings, last_error, last_error_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	return s.pool.QueryRow(ctx, query,
		m.SourceID, m.RecordedAt, m.FetchAttempts, m.FetchSuccesses, m.FetchFailures,
		m.ListingsFound, m.NewListings, m.DelistedListings, m.LastError, m.LastErrorAt,
	).Scan(&m.ID)
}

func (s *PostgresStore) ReadHealthMetrics(ctx context.Context, sourceID string, limit int) ([]models.SourceHealthMetric, error) {
	query := `
		SELECT id, source_id, recorded_at, fetch_attempts, fetch_successes, fetch_failures,
			listings_found, new_listings, delisted_listings, last_error, last_error_at
		FROM source_health_metrics`
	args := []interface{}{}
	if sourceID != "" {
		query += ` WHERE source_id = $1`
		args = append(args, sourceID)
	}
	query += fmt.Sprintf(` ORDER BY recorded_at DESC LIMIT %d`, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var metrics []models.SourceHealthMetric
	for rows.Next() {
		var m models.SourceHealthMetric
		if err := rows.Scan(
			&m.ID, &m.SourceID, &m.RecordedAt, &m.FetchAttempts, &m.FetchSuccesses, &m.FetchFailures,
			&m.ListingsFound, &m.NewListings, &m.DelistedListings, &m.LastError, &m.LastErrorAt,
		); err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

func (s *PostgresStore) LatestHealthMetric(ctx context.Context, sourceID string) (*models.SourceHealthMetric, error) {
	query := `
		SELECT id, source_id, recorded_at, fetch_attempts, fetch_successes, fetch_failures,
			listings_found, new_listings, delisted_listings, last_error, last_error_at
		FROM source_health_metrics
		WHERE source_id = $1
		ORDER BY recorded_at DESC
		LIMIT 1`

	var m models.SourceHealthMetric
	err := s.pool.QueryRow(ctx, query, sourceID).Scan(
		&m.ID, &m.SourceID, &m.RecordedAt, &m.FetchAttempts, &m.FetchSuccesses, &m.FetchFailures,
		&m.ListingsFound, &m.NewListings, &m.DelistedListings, &m.LastError, &m.LastErrorAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// =============================================================================
// Source configuration
// =============================================================================

func (s *PostgresStore) GetSource(ctx context.Context, id string) (*models.SourceConfig, error) {
	query := `
		SELECT id, name, kind, enabled, priority, params
		FROM sources WHERE id = $1`

	var cfg models.SourceConfig
	var params json.RawMessage
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&cfg.ID, &cfg.Name, &cfg.Kind, &cfg.Enabled, &cfg.Priority, &params,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := unmarshalSourceParams(&cfg, params); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *PostgresStore) ListSources(ctx context.Context, enabledOnly bool) ([]models.SourceConfig, error) {
	query := `SELECT id, name, kind, enabled, priority, params FROM sources`
	if enabledOnly {
		query += ` WHERE enabled = TRUE`
	}
	query += ` ORDER BY priority, id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []models.SourceConfig
	for rows.Next() {
		var cfg models.SourceConfig
		var params json.RawMessage
		if err := rows.Scan(&cfg.ID, &cfg.Name, &cfg.Kind, &cfg.Enabled, &cfg.Priority, &params); err != nil {
			return nil, err
		}
		if err := unmarshalSourceParams(&cfg, params); err != nil {
			return nil, err
		}
		sources = append(sources, cfg)
	}
	return sources, rows.Err()
}

func (s *PostgresStore) UpsertSource(ctx context.Context, cfg *models.SourceConfig) error {
	params, err := marshalSourceParams(cfg)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO sources (id, name, kind, enabled, priority, params)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			kind = EXCLUDED.kind,
			enabled = EXCLUDED.enabled,
			priority = EXCLUDED.priority,
			params = EXCLUDED.params`

	_, err = s.pool.Exec(ctx, query, cfg.ID, cfg.Name, cfg.Kind, cfg.Enabled, cfg.Priority, params)
	return err
}

// sourceParams is the jsonb payload for the per-kind config fields.
type sourceParams struct {
	Policy models.ScrapePolicy  `json:"policy"`
	Direct *models.DirectParams `json:"direct,omitempty"`
	Run    *models.RunParams    `json:"run,omitempty"`
	API    *models.APIParams    `json:"api,omitempty"`
}

func marshalSourceParams(cfg *models.SourceConfig) (json.RawMessage, error) {
	return json.Marshal(sourceParams{
		Policy: cfg.Policy,
		Direct: cfg.Direct,
		Run:    cfg.Run,
		API:    cfg.API,
	})
}

func unmarshalSourceParams(cfg *models.SourceConfig, data json.RawMessage) error {
	var p sourceParams
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("source %s params: %w", cfg.ID, err)
	}
	cfg.Policy = p.Policy
	cfg.Direct = p.Direct
	cfg.Run = p.Run
	cfg.API = p.API
	return nil
}

// =============================================================================
// Media
// =============================================================================

func (s *PostgresStore) EnqueueMedia(ctx context.Context, m *models.MediaAsset) error {
	query := `
		INSERT INTO media_assets (id, listing_id, original_url, position, storage_key, content_hash, status, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (listing_id, original_url) DO UPDATE SET position = EXCLUDED.position
		RETURNING id`

	return s.pool.QueryRow(ctx, query,
		m.ID, m.ListingID, m.OriginalURL, m.Position, m.StorageKey, m.ContentHash, m.Status, m.Attempts, m.CreatedAt,
	).Scan(&m.ID)
}

func (s *PostgresStore) PendingMedia(ctx context.Context, limit int) ([]models.MediaAsset, error) {
	query := `
		SELECT id, listing_id, original_url, position, storage_key, content_hash, status, attempts, created_at
		FROM media_assets
		WHERE status = 'pending' AND attempts < 3
		ORDER BY created_at
		LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []models.MediaAsset
	for rows.Next() {
		var m models.MediaAsset
		if err := rows.Scan(
			&m.ID, &m.ListingID, &m.OriginalURL, &m.Position, &m.StorageKey, &m.ContentHash, &m.Status, &m.Attempts, &m.CreatedAt,
		); err != nil {
			return nil, err
		}
		assets = append(assets, m)
	}
	return assets, rows.Err()
}

func (s *PostgresStore) UpdateMediaStatus(ctx context.Context, m *models.MediaAsset) error {
	query := `
		UPDATE media_assets
		SET status = $2, storage_key = COALESCE($3, storage_key), content_hash = COALESCE(NULLIF($4, ''), content_hash), attempts = $5
		WHERE id = $1`

	_, err := s.pool.Exec(ctx, query, m.ID, m.Status, m.StorageKey, m.ContentHash, m.Attempts)
	return err
}
