package model

import "time"

// Item はユーザーが登録した所持品を表す。
// itemsテーブルの1行に対応し、JSONタグはバックエンドのカラム名と一致させる。
type Item struct {
	ID                string     `json:"id"`
	UserID            string     `json:"user_id"`
	Title             string     `json:"title"`
	Category          string     `json:"category"`
	Description       *string    `json:"description"`
	PhotoURL          *string    `json:"photo_url"`
	Images            []string   `json:"images"`
	Tags              []string   `json:"tags"`
	DatePurchased     *string    `json:"date_purchased"` // YYYY-MM-DD
	EstimatedValue    *float64   `json:"estimated_value"`
	AcquisitionMethod *string    `json:"acquisition_method"`
	Location          *string    `json:"location"`
	People            []string   `json:"people"`
	AddedAt           *time.Time `json:"added_at"`
	UpdatedAt         *time.Time `json:"updated_at,omitempty"`
}

// RecordID はリアルタイム同期で使用するレコード識別子を返す。
func (i Item) RecordID() string { return i.ID }

// ImageURLs は詳細画面に表示する画像URLの一覧を返す。
// imagesが空の場合はphoto_urlを1件の一覧として扱う。
func (i Item) ImageURLs() []string {
	if len(i.Images) > 0 {
		return i.Images
	}
	if i.PhotoURL != nil && *i.PhotoURL != "" {
		return []string{*i.PhotoURL}
	}
	return []string{}
}

// ItemListEntry は一覧画面が選択するフィールドのみを持つ記録。
// 変更通知のペイロードは全カラムを含むが、JSONデコード時に未選択のフィールドは捨てられる。
type ItemListEntry struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Tags           []string   `json:"tags"`
	Location       *string    `json:"location"`
	EstimatedValue *float64   `json:"estimated_value"`
	AddedAt        *time.Time `json:"added_at"`
	PhotoURL       *string    `json:"photo_url"`
	Images         []string   `json:"images"`
}

// RecordID はリアルタイム同期で使用するレコード識別子を返す。
func (e ItemListEntry) RecordID() string { return e.ID }

// ItemListColumns は一覧画面が選択するカラム。
const ItemListColumns = "id, title, tags, location, estimated_value, added_at, photo_url, images"

// ItemInput は所持品の新規登録フォームの入力値。
type ItemInput struct {
	Title             string   `json:"title"`
	Category          string   `json:"category"`
	Description       string   `json:"description"`
	PhotoURL          string   `json:"photo_url"`
	Images            []string `json:"images"`
	Tags              []string `json:"tags"`
	DatePurchased     string   `json:"date_purchased"`
	EstimatedValue    *float64 `json:"estimated_value"`
	AcquisitionMethod string   `json:"acquisition_method"`
	Location          string   `json:"location"`
	People            []string `json:"people"`
}

// ItemPatch は所持品の部分更新。nilのフィールドは変更しない。
type ItemPatch struct {
	Title             *string   `json:"title"`
	Category          *string   `json:"category"`
	Description       *string   `json:"description"`
	PhotoURL          *string   `json:"photo_url"`
	Images            *[]string `json:"images"`
	Tags              *[]string `json:"tags"`
	DatePurchased     *string   `json:"date_purchased"`
	EstimatedValue    *float64  `json:"estimated_value"`
	AcquisitionMethod *string   `json:"acquisition_method"`
	Location          *string   `json:"location"`
	People            *[]string `json:"people"`
}

// IsEmpty は更新対象のフィールドが1つも指定されていないかを返す。
func (p ItemPatch) IsEmpty() bool {
	return p.Title == nil && p.Category == nil && p.Description == nil &&
		p.PhotoURL == nil && p.Images == nil && p.Tags == nil &&
		p.DatePurchased == nil && p.EstimatedValue == nil &&
		p.AcquisitionMethod == nil && p.Location == nil && p.People == nil
}

const (
	// DefaultCategory はカテゴリ未指定時の既定値。
	DefaultCategory = "other"
	// DefaultAcquisitionMethod は入手方法未指定時の既定値。
	DefaultAcquisitionMethod = "Purchased"
)

// AcquisitionMethods は入手方法の選択肢。
var AcquisitionMethods = []string{"Purchased", "Gift", "Inherited", "Found", "Made", "Other"}

// Categories はカテゴリの選択肢。
var Categories = []string{"furniture", "electronics", "jewelry", "art", "clothing", "collectibles", "documents", "other"}
