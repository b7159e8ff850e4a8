package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/trinket/internal/model"
)

// itemColumns は所持品の全カラム。日付はYYYY-MM-DD文字列で取得する。
const itemColumns = `id, user_id, title, category, description, photo_url, images, tags,
	date_purchased::text, estimated_value, acquisition_method, location, people, added_at, updated_at`

// PostgresItemRepo はPostgreSQLを使用した所持品リポジトリ。
type PostgresItemRepo struct {
	db *sql.DB
}

// NewPostgresItemRepo はPostgresItemRepoを生成する。
func NewPostgresItemRepo(db *sql.DB) *PostgresItemRepo {
	return &PostgresItemRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*model.Item, error) {
	item := &model.Item{}
	var description, photoURL, datePurchased, acquisition, location sql.NullString
	var estimated sql.NullFloat64
	var addedAt, updatedAt sql.NullTime

	err := row.Scan(
		&item.ID, &item.UserID, &item.Title, &item.Category,
		&description, &photoURL,
		pq.Array(&item.Images), pq.Array(&item.Tags),
		&datePurchased, &estimated, &acquisition, &location,
		pq.Array(&item.People), &addedAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.Description = nullStringPtr(description)
	item.PhotoURL = nullStringPtr(photoURL)
	item.DatePurchased = nullStringPtr(datePurchased)
	item.EstimatedValue = nullFloatPtr(estimated)
	item.AcquisitionMethod = nullStringPtr(acquisition)
	item.Location = nullStringPtr(location)
	item.AddedAt = nullTimePtr(addedAt)
	item.UpdatedAt = nullTimePtr(updatedAt)
	item.Images = nonNil(item.Images)
	item.Tags = nonNil(item.Tags)
	item.People = nonNil(item.People)
	return item, nil
}

// ListByUser は一覧画面用の所持品をadded_at降順で返す。
func (r *PostgresItemRepo) ListByUser(ctx context.Context, userID string) ([]model.ItemListEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+model.ItemListColumns+`
		 FROM items
		 WHERE user_id = $1
		 ORDER BY added_at DESC, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	entries := []model.ItemListEntry{}
	for rows.Next() {
		var e model.ItemListEntry
		var location, photoURL sql.NullString
		var estimated sql.NullFloat64
		var addedAt sql.NullTime
		if err := rows.Scan(
			&e.ID, &e.Title, pq.Array(&e.Tags), &location, &estimated, &addedAt, &photoURL, pq.Array(&e.Images),
		); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		e.Location = nullStringPtr(location)
		e.EstimatedValue = nullFloatPtr(estimated)
		e.AddedAt = nullTimePtr(addedAt)
		e.PhotoURL = nullStringPtr(photoURL)
		e.Tags = nonNil(e.Tags)
		e.Images = nonNil(e.Images)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate items: %w", err)
	}
	return entries, nil
}

// FindByID は指定IDの所持品を取得する。見つからない場合はnilを返す。
func (r *PostgresItemRepo) FindByID(ctx context.Context, userID, id string) (*model.Item, error) {
	item, err := scanItem(r.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = $1 AND user_id = $2`,
		id, userID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find item: %w", err)
	}
	return item, nil
}

// Create は所持品を作成し、DB側で決まる値をitemに反映する。
func (r *PostgresItemRepo) Create(ctx context.Context, item *model.Item) error {
	created, err := scanItem(r.db.QueryRowContext(ctx,
		`INSERT INTO items (id, user_id, title, category, description, photo_url, images, tags,
		                    date_purchased, estimated_value, acquisition_method, location, people)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::date, $10, $11, $12, $13)
		 RETURNING `+itemColumns,
		item.ID, item.UserID, item.Title, item.Category,
		stringPtrValue(item.Description), stringPtrValue(item.PhotoURL),
		pq.Array(nonNil(item.Images)), pq.Array(nonNil(item.Tags)),
		stringPtrValue(item.DatePurchased), item.EstimatedValue,
		stringPtrValue(item.AcquisitionMethod), stringPtrValue(item.Location),
		pq.Array(nonNil(item.People)),
	))
	if err != nil {
		return fmt.Errorf("failed to insert item: %w", err)
	}
	*item = *created
	return nil
}

// Update はpatchで指定されたフィールドのみ更新し、更新後の所持品を返す。見つからない場合はnilを返す。
func (r *PostgresItemRepo) Update(ctx context.Context, userID, id string, patch model.ItemPatch) (*model.Item, error) {
	if patch.IsEmpty() {
		return r.FindByID(ctx, userID, id)
	}

	b := &updateBuilder{}
	if patch.Title != nil {
		b.set("title", *patch.Title)
	}
	if patch.Category != nil {
		b.set("category", *patch.Category)
	}
	if patch.Description != nil {
		b.set("description", stringPtrValue(patch.Description))
	}
	if patch.PhotoURL != nil {
		b.set("photo_url", stringPtrValue(patch.PhotoURL))
	}
	if patch.Images != nil {
		b.set("images", pq.Array(nonNil(*patch.Images)))
	}
	if patch.Tags != nil {
		b.set("tags", pq.Array(nonNil(*patch.Tags)))
	}
	if patch.DatePurchased != nil {
		b.set("date_purchased", stringPtrValue(patch.DatePurchased))
	}
	if patch.EstimatedValue != nil {
		b.set("estimated_value", *patch.EstimatedValue)
	}
	if patch.AcquisitionMethod != nil {
		b.set("acquisition_method", stringPtrValue(patch.AcquisitionMethod))
	}
	if patch.Location != nil {
		b.set("location", stringPtrValue(patch.Location))
	}
	if patch.People != nil {
		b.set("people", pq.Array(nonNil(*patch.People)))
	}

	idArg := b.where(id)
	userArg := b.where(userID)
	item, err := scanItem(r.db.QueryRowContext(ctx,
		`UPDATE items SET `+b.clause()+`
		 WHERE id = `+idArg+` AND user_id = `+userArg+`
		 RETURNING `+itemColumns,
		b.args...,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update item: %w", err)
	}
	return item, nil
}

// Delete は所持品を削除する。削除した場合はtrueを返す。
func (r *PostgresItemRepo) Delete(ctx context.Context, userID, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM items WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete item: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// DistinctLocations は所持品に設定済みの保管場所を重複なしで最大limit件返す。
func (r *PostgresItemRepo) DistinctLocations(ctx context.Context, userID string, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT location FROM items
		 WHERE user_id = $1 AND location IS NOT NULL AND location <> ''
		 ORDER BY location
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list item locations: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// Count は全ユーザーの所持品数を返す。
func (r *PostgresItemRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM items`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return n, nil
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan value: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return out, nil
}

// compile-time interface check
var _ ItemRepository = (*PostgresItemRepo)(nil)
