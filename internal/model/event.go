package model

import "time"

// Event はユーザーが記録した出来事を表す。
type Event struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Name        string     `json:"name"`
	Description *string    `json:"description"`
	PhotoURL    *string    `json:"photo_url"`
	Location    *string    `json:"location"`
	EventDate   *string    `json:"event_date"` // YYYY-MM-DD
	CreatedAt   *time.Time `json:"created_at"`
}

// RecordID はリアルタイム同期で使用するレコード識別子を返す。
func (e Event) RecordID() string { return e.ID }

// EventInput は出来事の新規登録フォームの入力値。
type EventInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	PhotoURL    string `json:"photo_url"`
	Location    string `json:"location"`
	EventDate   string `json:"event_date"`
}

// EventPatch は出来事の部分更新。nilのフィールドは変更しない。
type EventPatch struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	PhotoURL    *string `json:"photo_url"`
	Location    *string `json:"location"`
	EventDate   *string `json:"event_date"`
}

// IsEmpty は更新対象のフィールドが1つも指定されていないかを返す。
func (p EventPatch) IsEmpty() bool {
	return p.Name == nil && p.Description == nil && p.PhotoURL == nil &&
		p.Location == nil && p.EventDate == nil
}
