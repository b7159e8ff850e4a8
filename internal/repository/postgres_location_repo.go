package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresLocationRepo はPostgreSQLを使用した保管場所リポジトリ。
type PostgresLocationRepo struct {
	db *sql.DB
}

// NewPostgresLocationRepo はPostgresLocationRepoを生成する。
func NewPostgresLocationRepo(db *sql.DB) *PostgresLocationRepo {
	return &PostgresLocationRepo{db: db}
}

// ListNames は保管場所名を名前順で最大limit件返す。
func (r *PostgresLocationRepo) ListNames(ctx context.Context, userID string, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT name FROM locations WHERE user_id = $1 ORDER BY name LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// Ensure は保管場所を登録する。登録済みの場合は何もしない。
func (r *PostgresLocationRepo) Ensure(ctx context.Context, userID, name string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO locations (user_id, name) VALUES ($1, $2)
		 ON CONFLICT (user_id, name) DO NOTHING`,
		userID, name,
	)
	if err != nil {
		return fmt.Errorf("failed to ensure location: %w", err)
	}
	return nil
}

// compile-time interface check
var _ LocationRepository = (*PostgresLocationRepo)(nil)
