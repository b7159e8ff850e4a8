package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/trinket/internal/model"
)

const eventColumns = `id, user_id, name, description, photo_url, location, event_date::text, created_at`

// PostgresEventRepo はPostgreSQLを使用した出来事リポジトリ。
type PostgresEventRepo struct {
	db *sql.DB
}

// NewPostgresEventRepo はPostgresEventRepoを生成する。
func NewPostgresEventRepo(db *sql.DB) *PostgresEventRepo {
	return &PostgresEventRepo{db: db}
}

func scanEvent(row rowScanner) (*model.Event, error) {
	ev := &model.Event{}
	var description, photoURL, location, eventDate sql.NullString
	var createdAt sql.NullTime
	if err := row.Scan(&ev.ID, &ev.UserID, &ev.Name, &description, &photoURL, &location, &eventDate, &createdAt); err != nil {
		return nil, err
	}
	ev.Description = nullStringPtr(description)
	ev.PhotoURL = nullStringPtr(photoURL)
	ev.Location = nullStringPtr(location)
	ev.EventDate = nullStringPtr(eventDate)
	ev.CreatedAt = nullTimePtr(createdAt)
	return ev, nil
}

// ListByUser は出来事をcreated_at降順で返す。
func (r *PostgresEventRepo) ListByUser(ctx context.Context, userID string) ([]model.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE user_id = $1 ORDER BY created_at DESC, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []model.Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}

// FindByID は指定IDの出来事を取得する。見つからない場合はnilを返す。
func (r *PostgresEventRepo) FindByID(ctx context.Context, userID, id string) (*model.Event, error) {
	ev, err := scanEvent(r.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1 AND user_id = $2`,
		id, userID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find event: %w", err)
	}
	return ev, nil
}

// Create は出来事を作成し、created_atをeventに反映する。
func (r *PostgresEventRepo) Create(ctx context.Context, event *model.Event) error {
	created, err := scanEvent(r.db.QueryRowContext(ctx,
		`INSERT INTO events (id, user_id, name, description, photo_url, location, event_date)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::date)
		 RETURNING `+eventColumns,
		event.ID, event.UserID, event.Name,
		stringPtrValue(event.Description), stringPtrValue(event.PhotoURL),
		stringPtrValue(event.Location), stringPtrValue(event.EventDate),
	))
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	*event = *created
	return nil
}

// Update はpatchで指定されたフィールドのみ更新する。見つからない場合はnilを返す。
func (r *PostgresEventRepo) Update(ctx context.Context, userID, id string, patch model.EventPatch) (*model.Event, error) {
	if patch.IsEmpty() {
		return r.FindByID(ctx, userID, id)
	}

	b := &updateBuilder{}
	if patch.Name != nil {
		b.set("name", *patch.Name)
	}
	if patch.Description != nil {
		b.set("description", stringPtrValue(patch.Description))
	}
	if patch.PhotoURL != nil {
		b.set("photo_url", stringPtrValue(patch.PhotoURL))
	}
	if patch.Location != nil {
		b.set("location", stringPtrValue(patch.Location))
	}
	if patch.EventDate != nil {
		b.set("event_date", stringPtrValue(patch.EventDate))
	}

	idArg := b.where(id)
	userArg := b.where(userID)
	ev, err := scanEvent(r.db.QueryRowContext(ctx,
		`UPDATE events SET `+b.clause()+`
		 WHERE id = `+idArg+` AND user_id = `+userArg+`
		 RETURNING `+eventColumns,
		b.args...,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update event: %w", err)
	}
	return ev, nil
}

// Delete は出来事を削除する。削除した場合はtrueを返す。
func (r *PostgresEventRepo) Delete(ctx context.Context, userID, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete event: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// compile-time interface check
var _ EventRepository = (*PostgresEventRepo)(nil)
