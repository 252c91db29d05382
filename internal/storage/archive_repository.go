package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/market-scanner/internal/types"
)

// ArchiveRepository persists one row per accepted snapshot publish, giving
// operators a load history beyond the single rolling status record in the
// cache. It is optional: the orchestrator skips archiving when nil.
type ArchiveRepository struct {
	pool *pgxpool.Pool
}

// NewArchiveRepository creates a new archive repository
func NewArchiveRepository(pool *pgxpool.Pool) *ArchiveRepository {
	return &ArchiveRepository{pool: pool}
}

// RecordRun stores one accepted load run
func (r *ArchiveRepository) RecordRun(ctx context.Context, run *types.LoadRun) error {
	query := `
		INSERT INTO snapshot_runs (
			run_id,
			kind,
			record_count,
			content_hash,
			created_at
		) VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.pool.Exec(
		ctx,
		query,
		run.RunID,
		string(run.Kind),
		run.RecordCount,
		run.ContentHash,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot run: %w", err)
	}

	return nil
}

// RecentRuns returns the most recent runs for a catalog kind, newest first
func (r *ArchiveRepository) RecentRuns(ctx context.Context, kind types.CatalogKind, limit int) ([]*types.LoadRun, error) {
	query := `
		SELECT run_id, kind, record_count, content_hash, created_at
		FROM snapshot_runs
		WHERE kind = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot runs: %w", err)
	}
	defer rows.Close()

	var runs []*types.LoadRun
	for rows.Next() {
		var run types.LoadRun
		var kindStr string
		if err := rows.Scan(&run.RunID, &kindStr, &run.RecordCount, &run.ContentHash, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot run: %w", err)
		}
		run.Kind = types.CatalogKind(kindStr)
		runs = append(runs, &run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshot runs: %w", err)
	}

	return runs, nil
}
