// Package repository implements data persistence adapters
// Following Hexagonal Architecture: Adapters implement ports defined in core
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"rulekeeper/internal/core/domain"
	"rulekeeper/internal/core/ports"
)

// Ensure MySQLRepository implements the required interfaces
var _ ports.AuditRepository = (*MySQLRepository)(nil)

// MySQLRepository implements the request audit trail on MySQL
type MySQLRepository struct {
	db *sql.DB
}

// NewMySQLRepository creates a new MySQL repository instance
func NewMySQLRepository(db *sql.DB) *MySQLRepository {
	return &MySQLRepository{
		db: db,
	}
}

// SaveRequest persists one request outcome to the audit log
func (r *MySQLRepository) SaveRequest(ctx context.Context, rec *domain.RequestRecord) error {
	query := `
		INSERT INTO request_log (id, client, method, path, status, error_code, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.Client,
		rec.Method,
		rec.Path,
		rec.Status,
		rec.ErrorCode,
		rec.CreatedAt,
	)

	if err != nil {
		slog.Error("Failed to save request record",
			"error", err,
			"path", rec.Path,
			"status", rec.Status,
		)
		return fmt.Errorf("save request record: %w", err)
	}

	return nil
}

// PurgeOlderThan deletes audit rows older than the cutoff in one
// bounded batch. Returns the number of rows removed.
func (r *MySQLRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	query := `DELETE FROM request_log WHERE created_at < ? LIMIT ?`

	result, err := r.db.ExecContext(ctx, query, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("purge request log: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge request log: rows affected: %w", err)
	}
	return rows, nil
}

// Count returns the total number of audit rows
func (r *MySQLRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM request_log`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count request log: %w", err)
	}
	return count, nil
}
