package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jkaufmann/scholarsync/internal/model"
)

// dedupPageSize is how many canonical posts are fetched per page for the
// dedup engine.
const dedupPageSize = 1000

// PostgresStorage is the production backend. Posts live in phd_positions
// keyed by uri; each aggregation run is recorded in sync_runs.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// Connect establishes a connection pool to the database.
func Connect(ctx context.Context, databaseURL string) (*PostgresStorage, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStorage{pool: pool}, nil
}

// Close closes the connection pool.
func (s *PostgresStorage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the tables used by this backend if they do not
// already exist.
func (s *PostgresStorage) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS phd_positions (
			uri             TEXT PRIMARY KEY,
			message         TEXT NOT NULL,
			url             TEXT,
			user_handle     TEXT,
			created_at      TEXT,
			source          TEXT,
			country         TEXT,
			disciplines     TEXT[],
			position_type   TEXT[],
			is_verified_job BOOLEAN,
			duplicate_of    TEXT,
			indexed_at      TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS sync_runs (
			id                UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			status            TEXT NOT NULL,
			posts_saved       INT DEFAULT 0,
			duplicates_marked INT DEFAULT 0,
			started_at        TIMESTAMPTZ DEFAULT NOW(),
			finished_at       TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_positions_dedup
			ON phd_positions (is_verified_job, duplicate_of);
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// SavePosts upserts posts by uri. A re-submitted uri overwrites the prior
// classification fields rather than appending a second row.
func (s *PostgresStorage) SavePosts(ctx context.Context, posts []model.Post) (int, error) {
	if len(posts) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, p := range posts {
		batch.Queue(
			`INSERT INTO phd_positions
			   (uri, message, url, user_handle, created_at, source,
			    country, disciplines, position_type, is_verified_job, indexed_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
			 ON CONFLICT (uri) DO UPDATE SET
			   message = EXCLUDED.message,
			   url = EXCLUDED.url,
			   user_handle = EXCLUDED.user_handle,
			   created_at = EXCLUDED.created_at,
			   source = EXCLUDED.source,
			   country = EXCLUDED.country,
			   disciplines = EXCLUDED.disciplines,
			   position_type = EXCLUDED.position_type,
			   is_verified_job = EXCLUDED.is_verified_job,
			   indexed_at = NOW()`,
			p.URI, p.Message, p.URL, p.UserHandle, p.CreatedAt, p.Source,
			p.Country, p.Disciplines, p.PositionTypes, p.VerifiedJob,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	saved := 0
	for range posts {
		if _, err := results.Exec(); err != nil {
			return saved, fmt.Errorf("failed to upsert post: %w", err)
		}
		saved++
	}
	return saved, nil
}

// ExistingURIs returns all stored URIs.
func (s *PostgresStorage) ExistingURIs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, `SELECT uri FROM phd_positions`)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing URIs: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, fmt.Errorf("failed to scan uri: %w", err)
		}
		out[uri] = struct{}{}
	}
	return out, rows.Err()
}

// LastTimestamp returns the most recent created_at, or "" when empty.
func (s *PostgresStorage) LastTimestamp(ctx context.Context) (string, error) {
	var ts *string
	err := s.pool.QueryRow(ctx,
		`SELECT MAX(created_at) FROM phd_positions`,
	).Scan(&ts)
	if err != nil {
		return "", fmt.Errorf("failed to query last timestamp: %w", err)
	}
	if ts == nil {
		return "", nil
	}
	return *ts, nil
}

// PostsForDedup returns all canonical verified-job posts, paged to keep
// result sets bounded.
func (s *PostgresStorage) PostsForDedup(ctx context.Context) ([]DedupPost, error) {
	var out []DedupPost
	offset := 0

	for {
		rows, err := s.pool.Query(ctx,
			`SELECT uri, message, created_at
			   FROM phd_positions
			  WHERE is_verified_job = TRUE AND duplicate_of IS NULL
			  ORDER BY created_at
			  LIMIT $1 OFFSET $2`,
			dedupPageSize, offset,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to query posts for dedup: %w", err)
		}

		count := 0
		for rows.Next() {
			var p DedupPost
			if err := rows.Scan(&p.URI, &p.Message, &p.Created); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan dedup post: %w", err)
			}
			out = append(out, p)
			count++
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}

		if count < dedupPageSize {
			return out, nil
		}
		offset += dedupPageSize
	}
}

// MarkDuplicate points oldURI's duplicate_of at newURI.
func (s *PostgresStorage) MarkDuplicate(ctx context.Context, oldURI, newURI string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE phd_positions SET duplicate_of = $1 WHERE uri = $2`,
		newURI, oldURI,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark duplicate %s: %w", oldURI, err)
	}
	return tag.RowsAffected() > 0, nil
}

// CreateRun records the start of an aggregation run and returns its ID.
func (s *PostgresStorage) CreateRun(ctx context.Context) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sync_runs (status, started_at)
		 VALUES ('running', NOW())
		 RETURNING id`,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create run: %w", err)
	}
	return id, nil
}

// CompleteRun records the outcome of an aggregation run.
func (s *PostgresStorage) CompleteRun(ctx context.Context, runID uuid.UUID, status string, saved, duplicatesMarked int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE sync_runs
		    SET status = $1, posts_saved = $2, duplicates_marked = $3, finished_at = NOW()
		  WHERE id = $4`,
		status, saved, duplicatesMarked, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}
