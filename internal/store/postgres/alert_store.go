package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

// AlertStore implements domain.AlertStore using PostgreSQL.
type AlertStore struct {
	pool *pgxpool.Pool
}

// NewAlertStore creates a new AlertStore backed by the given connection pool.
func NewAlertStore(pool *pgxpool.Pool) *AlertStore {
	return &AlertStore{pool: pool}
}

const alertSelectCols = `id, strategy, kind, severity, message, asset_ids,
	event_id, data, created_at`

func scanAlertRows(rows pgx.Rows) ([]domain.Alert, error) {
	var alerts []domain.Alert
	for rows.Next() {
		var a domain.Alert
		var dataJSON []byte

		if err := rows.Scan(
			&a.ID, &a.Strategy, &a.Kind, &a.Severity,
			&a.Message, &a.AssetIDs, &a.EventID, &dataJSON, &a.CreatedAt,
		); err != nil {
			return nil, err
		}

		if dataJSON != nil {
			if err := json.Unmarshal(dataJSON, &a.Data); err != nil {
				return nil, fmt.Errorf("unmarshal alert data: %w", err)
			}
		}

		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// Insert persists one alert. Re-inserting an alert with the same ID is a
// no-op via ON CONFLICT DO NOTHING, so replays do not duplicate rows.
func (s *AlertStore) Insert(ctx context.Context, alert domain.Alert) error {
	dataJSON, err := json.Marshal(alert.Data)
	if err != nil {
		return fmt.Errorf("postgres: marshal alert data: %w", err)
	}

	const query = `
		INSERT INTO alerts (
			id, strategy, kind, severity, message,
			asset_ids, event_id, data, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9
		) ON CONFLICT (id) DO NOTHING`

	_, err = s.pool.Exec(ctx, query,
		alert.ID, alert.Strategy, alert.Kind, alert.Severity,
		alert.Message, alert.AssetIDs, alert.EventID, dataJSON, alert.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert alert %s: %w", alert.ID, err)
	}
	return nil
}

// ListRecent returns alerts newest first with pagination and optional time
// filtering.
func (s *AlertStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Alert, error) {
	query := `SELECT ` + alertSelectCols + ` FROM alerts WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent alerts: %w", err)
	}
	defer rows.Close()

	alerts, err := scanAlertRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent alerts: %w", err)
	}
	return alerts, nil
}

// ListBySeverity returns alerts at or above the given severity, newest first,
// with pagination and optional time filtering.
func (s *AlertStore) ListBySeverity(ctx context.Context, min domain.Severity, opts domain.ListOpts) ([]domain.Alert, error) {
	query := `SELECT ` + alertSelectCols + ` FROM alerts WHERE severity >= $1`
	args := []any{min}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list alerts by severity: %w", err)
	}
	defer rows.Close()

	alerts, err := scanAlertRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan alerts by severity: %w", err)
	}
	return alerts, nil
}

// ListBefore returns alerts created strictly before the given time, oldest
// first, for archiving.
func (s *AlertStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Alert, error) {
	query := `SELECT ` + alertSelectCols + ` FROM alerts WHERE created_at < $1 ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list alerts before: %w", err)
	}
	defer rows.Close()
	return scanAlertRows(rows)
}

// DeleteBefore deletes alerts created before the given time. Returns the
// number deleted.
func (s *AlertStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM alerts WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete alerts before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Count returns the total number of stored alerts.
func (s *AlertStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM alerts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count alerts: %w", err)
	}
	return n, nil
}
