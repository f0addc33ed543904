package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/adamscao/ovpnpanel/internal/bandwidth"
	"github.com/adamscao/ovpnpanel/internal/models"
)

// ErrUsageNotFound is returned when a client has no usage row. It matches
// bandwidth.ErrNotFound under errors.Is.
var ErrUsageNotFound = fmt.Errorf("client usage: %w", bandwidth.ErrNotFound)

// UsageRepository stores cumulative usage in the client_usage table.
// It implements bandwidth.Store.
type UsageRepository struct {
	db *sql.DB
}

// NewUsageRepository creates a new usage repository
func NewUsageRepository(db *sql.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

var _ bandwidth.Store = (*UsageRepository)(nil)

// Load returns every usage row keyed by client name
func (r *UsageRepository) Load(ctx context.Context) (map[string]models.CumulativeUsage, error) {
	query := `
		SELECT name, total_sent, total_received, last_sent, last_received, updated_at
		FROM client_usage
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load usage: %w", err)
	}
	defer rows.Close()

	usage := make(map[string]models.CumulativeUsage)
	for rows.Next() {
		u, err := scanUsage(rows)
		if err != nil {
			return nil, err
		}
		usage[u.Name] = u
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate usage: %w", err)
	}

	return usage, nil
}

// Get returns the usage row of one client
func (r *UsageRepository) Get(ctx context.Context, name string) (models.CumulativeUsage, error) {
	query := `
		SELECT name, total_sent, total_received, last_sent, last_received, updated_at
		FROM client_usage
		WHERE name = ?
	`

	u, err := scanUsage(r.db.QueryRowContext(ctx, query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return models.CumulativeUsage{}, ErrUsageNotFound
	}
	return u, err
}

// Save upserts rows in a single transaction
func (r *UsageRepository) Save(ctx context.Context, rows map[string]models.CumulativeUsage) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO client_usage (name, total_sent, total_received, last_sent, last_received, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			total_sent = excluded.total_sent,
			total_received = excluded.total_received,
			last_sent = excluded.last_sent,
			last_received = excluded.last_received,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare usage upsert: %w", err)
	}
	defer stmt.Close()

	for name, u := range rows {
		updatedAt := u.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = time.Now()
		}

		// SQLite integers are signed; counters never get near 2^63
		_, err := stmt.ExecContext(ctx,
			name,
			int64(u.TotalSent),
			int64(u.TotalReceived),
			int64(u.LastSent),
			int64(u.LastReceived),
			updatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to save usage for %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit usage: %w", err)
	}

	return nil
}

// Delete removes the usage row of a client
func (r *UsageRepository) Delete(ctx context.Context, name string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM client_usage WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete usage: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrUsageNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUsage(row rowScanner) (models.CumulativeUsage, error) {
	var (
		u                        models.CumulativeUsage
		totalSent, totalReceived int64
		lastSent, lastReceived   int64
	)

	err := row.Scan(&u.Name, &totalSent, &totalReceived, &lastSent, &lastReceived, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return u, err
	}
	if err != nil {
		return u, fmt.Errorf("failed to scan usage: %w", err)
	}

	u.TotalSent = clampCounter(totalSent)
	u.TotalReceived = clampCounter(totalReceived)
	u.LastSent = clampCounter(lastSent)
	u.LastReceived = clampCounter(lastReceived)

	return u, nil
}

func clampCounter(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}
