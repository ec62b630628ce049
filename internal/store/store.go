package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
	_ "modernc.org/sqlite"

	"github.com/valpere/searchrefine/internal/metadata"
	"github.com/valpere/searchrefine/internal/query"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	-- attribute_metadata persists schema metadata fetched from the lookup service
	CREATE TABLE IF NOT EXISTS attribute_metadata (
		id TEXT PRIMARY KEY,
		schema_name TEXT NOT NULL,
		attribute TEXT NOT NULL,
		payload TEXT NOT NULL,
		has_facet_filter BOOLEAN DEFAULT FALSE,
		nested_attribute TEXT,
		usage_count INTEGER DEFAULT 0,
		invalidated BOOLEAN DEFAULT FALSE,
		last_used TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(schema_name, attribute)
	);

	-- refined_requests keeps every request produced by the CLI
	CREATE TABLE IF NOT EXISTS refined_requests (
		id TEXT PRIMARY KEY,
		operation TEXT NOT NULL,
		result_type TEXT,
		request_json TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_metadata_lookup ON attribute_metadata(schema_name, attribute);
	CREATE INDEX IF NOT EXISTS idx_requests_created ON refined_requests(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// GetMetadata returns the stored metadata for schema/attribute and bumps its
// usage counter. Missing or invalidated entries yield metadata.ErrNotFound.
func (s *Store) GetMetadata(ctx context.Context, schema, attribute string) (metadata.Metadata, error) {
	var payload string
	var invalidated bool

	err := s.db.QueryRowContext(ctx,
		`SELECT payload, invalidated FROM attribute_metadata WHERE schema_name = ? AND attribute = ?`,
		normalizeKey(schema), normalizeKey(attribute)).Scan(&payload, &invalidated)

	if err == sql.ErrNoRows || (err == nil && invalidated) {
		return metadata.Metadata{}, fmt.Errorf("%w: %s/%s", metadata.ErrNotFound, schema, attribute)
	}
	if err != nil {
		return metadata.Metadata{}, err
	}

	var m metadata.Metadata
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return metadata.Metadata{}, fmt.Errorf("failed to decode stored metadata %s/%s: %w", schema, attribute, err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE attribute_metadata SET usage_count = usage_count + 1, last_used = ? WHERE schema_name = ? AND attribute = ?`,
		time.Now(), normalizeKey(schema), normalizeKey(attribute))

	return m, err
}

func (s *Store) SaveMetadata(ctx context.Context, schema, attribute string, m metadata.Metadata) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode metadata %s/%s: %w", schema, attribute, err)
	}

	id := "md_" + uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO attribute_metadata (id, schema_name, attribute, payload, has_facet_filter, nested_attribute, usage_count, invalidated, last_used, created_at) VALUES (?, ?, ?, ?, ?, ?, 0, FALSE, ?, ?)`,
		id, normalizeKey(schema), normalizeKey(attribute), string(payload), m.FacetFilter != nil, m.NestedAttribute(), time.Now(), time.Now())
	return err
}

// MetadataEntry is a row from the attribute_metadata table.
type MetadataEntry struct {
	ID              string
	Schema          string
	Attribute       string
	HasFacetFilter  bool
	NestedAttribute string
	UsageCount      int
	Invalidated     bool
	LastUsed        time.Time
}

// CacheStats summarises the persisted metadata cache.
type CacheStats struct {
	TotalEntries   int
	ActiveEntries  int
	InvalidEntries int
	TotalUsage     int
	Requests       int
}

// InvalidateMetadata marks an entry stale so the next lookup refetches it.
func (s *Store) InvalidateMetadata(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE attribute_metadata SET invalidated = TRUE WHERE id = ?`, id)
	return err
}

// DeleteMetadata permanently removes a metadata entry by ID.
func (s *Store) DeleteMetadata(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM attribute_metadata WHERE id = ?`, id)
	return err
}

// ClearMetadata removes all metadata entries.
func (s *Store) ClearMetadata(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM attribute_metadata`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListMetadata returns all metadata entries ordered by most recently used.
func (s *Store) ListMetadata(ctx context.Context) ([]MetadataEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, schema_name, attribute, has_facet_filter, COALESCE(nested_attribute, ''), usage_count, invalidated, last_used FROM attribute_metadata ORDER BY last_used DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []MetadataEntry
	for rows.Next() {
		var e MetadataEntry
		if err := rows.Scan(&e.ID, &e.Schema, &e.Attribute, &e.HasFacetFilter, &e.NestedAttribute, &e.UsageCount, &e.Invalidated, &e.LastUsed); err != nil {
			return nil, err
		}
		results = append(results, e)
	}

	return results, rows.Err()
}

// Stats returns summary statistics for the metadata cache and request history.
func (s *Store) Stats(ctx context.Context) (*CacheStats, error) {
	stats := &CacheStats{}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN NOT invalidated THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN invalidated THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(usage_count), 0)
		FROM attribute_metadata`).Scan(
		&stats.TotalEntries,
		&stats.ActiveEntries,
		&stats.InvalidEntries,
		&stats.TotalUsage,
	)
	if err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM refined_requests`).Scan(&stats.Requests); err != nil {
		return nil, err
	}
	return stats, nil
}

// RequestEntry is a row from the refined_requests table.
type RequestEntry struct {
	ID         string
	Operation  string
	ResultType string
	Request    *query.Request
	CreatedAt  time.Time
}

// SaveRequest records a refined request and returns its generated ID.
func (s *Store) SaveRequest(ctx context.Context, operation, resultType string, req *query.Request) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	id := uuid.New().String()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO refined_requests (id, operation, result_type, request_json, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, operation, resultType, string(data), time.Now())
	return id, err
}

// GetRequest loads a previously saved request by ID.
func (s *Store) GetRequest(ctx context.Context, id string) (*RequestEntry, error) {
	var e RequestEntry
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, operation, COALESCE(result_type, ''), request_json, created_at FROM refined_requests WHERE id = ?`,
		id).Scan(&e.ID, &e.Operation, &e.ResultType, &data, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("request %s not found", id)
	}
	if err != nil {
		return nil, err
	}

	e.Request = &query.Request{}
	if err := json.Unmarshal([]byte(data), e.Request); err != nil {
		return nil, fmt.Errorf("failed to decode stored request %s: %w", id, err)
	}
	return &e, nil
}

// ListRequests returns up to limit recorded requests, newest first. The
// request bodies are not loaded; use GetRequest for that.
func (s *Store) ListRequests(ctx context.Context, limit int) ([]RequestEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, operation, COALESCE(result_type, ''), created_at FROM refined_requests ORDER BY created_at DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RequestEntry
	for rows.Next() {
		var e RequestEntry
		if err := rows.Scan(&e.ID, &e.Operation, &e.ResultType, &e.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, e)
	}

	return results, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

// normalizeKey trims whitespace and applies Unicode NFC normalization
// for consistent cache key comparison.
func normalizeKey(key string) string {
	return norm.NFC.String(strings.TrimSpace(key))
}
