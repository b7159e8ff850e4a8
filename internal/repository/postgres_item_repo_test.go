package repository

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/trinket/internal/database"
	"github.com/hitoshi/trinket/internal/model"
)

// setupRepoDB はマイグレーション済みのテスト用データベースを返す。
// TEST_DATABASE_URLが未設定、または接続できない場合はスキップする。
func setupRepoDB(t *testing.T) *sql.DB {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL が未設定のためスキップ")
	}
	db, err := database.Open(dbURL)
	if err != nil {
		t.Fatalf("データベースへの接続に失敗: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("テスト用データベースに接続できません（スキップ）: %v", err)
	}
	if err := database.RunMigrations(dbURL); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestUser(t *testing.T, db *sql.DB) *model.User {
	t.Helper()
	now := time.Now().UTC()
	user := &model.User{
		ID:        uuid.New().String(),
		Email:     uuid.New().String() + "@example.com",
		Metadata:  map[string]any{"first_name": "Lane"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := NewPostgresUserRepo(db).Create(context.Background(), user); err != nil {
		t.Fatalf("ユーザー作成に失敗: %v", err)
	}
	t.Cleanup(func() { NewPostgresUserRepo(db).DeleteByID(context.Background(), user.ID) })
	return user
}

func strPtr(s string) *string { return &s }

func TestPostgresItemRepo_CRUD(t *testing.T) {
	db := setupRepoDB(t)
	user := createTestUser(t, db)
	repo := NewPostgresItemRepo(db)
	ctx := context.Background()

	value := 120.5
	item := &model.Item{
		ID:                uuid.New().String(),
		UserID:            user.ID,
		Title:             "Lamp",
		Category:          model.DefaultCategory,
		Description:       strPtr("Brass desk lamp"),
		Tags:              []string{"brass", "desk"},
		DatePurchased:     strPtr("2021-04-01"),
		EstimatedValue:    &value,
		AcquisitionMethod: strPtr("Gift"),
		Location:          strPtr("Study"),
		People:            []string{"Grandma"},
	}
	if err := repo.Create(ctx, item); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if item.AddedAt == nil {
		t.Error("added_at should be populated from the database")
	}
	if len(item.Images) != 0 {
		t.Errorf("images should default to empty, got %v", item.Images)
	}

	got, err := repo.FindByID(ctx, user.ID, item.ID)
	if err != nil || got == nil {
		t.Fatalf("FindByID = %v, %v", got, err)
	}
	if got.DatePurchased == nil || *got.DatePurchased != "2021-04-01" {
		t.Errorf("date_purchased = %v, want 2021-04-01", got.DatePurchased)
	}
	if got.EstimatedValue == nil || *got.EstimatedValue != 120.5 {
		t.Errorf("estimated_value = %v, want 120.5", got.EstimatedValue)
	}

	other, err := repo.FindByID(ctx, uuid.New().String(), item.ID)
	if err != nil || other != nil {
		t.Errorf("items must be scoped to their owner: %v, %v", other, err)
	}

	list, err := repo.ListByUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("ListByUser failed: %v", err)
	}
	if len(list) != 1 || list[0].ID != item.ID || list[0].Title != "Lamp" {
		t.Errorf("ListByUser = %+v", list)
	}

	newTitle := "Brass lamp"
	cleared := ""
	updated, err := repo.Update(ctx, user.ID, item.ID, model.ItemPatch{Title: &newTitle, Location: &cleared})
	if err != nil || updated == nil {
		t.Fatalf("Update = %v, %v", updated, err)
	}
	if updated.Title != newTitle || updated.Location != nil {
		t.Errorf("Update result = %+v", updated)
	}
	if updated.Description == nil || *updated.Description != "Brass desk lamp" {
		t.Error("fields not in the patch must be kept")
	}

	locations, err := repo.DistinctLocations(ctx, user.ID, 100)
	if err != nil {
		t.Fatalf("DistinctLocations failed: %v", err)
	}
	if len(locations) != 0 {
		t.Errorf("cleared location should not be listed: %v", locations)
	}

	deleted, err := repo.Delete(ctx, user.ID, item.ID)
	if err != nil || !deleted {
		t.Fatalf("Delete = %v, %v", deleted, err)
	}
	deleted, err = repo.Delete(ctx, user.ID, item.ID)
	if err != nil || deleted {
		t.Errorf("second Delete = %v, %v", deleted, err)
	}
}

func TestPostgresEventRepo_CRUD(t *testing.T) {
	db := setupRepoDB(t)
	user := createTestUser(t, db)
	repo := NewPostgresEventRepo(db)
	ctx := context.Background()

	ev := &model.Event{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		Name:      "Moving day",
		EventDate: strPtr("2024-06-01"),
	}
	if err := repo.Create(ctx, ev); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if ev.CreatedAt == nil {
		t.Error("created_at should be populated")
	}

	loc := "New flat"
	updated, err := repo.Update(ctx, user.ID, ev.ID, model.EventPatch{Location: &loc})
	if err != nil || updated == nil || updated.Location == nil || *updated.Location != loc {
		t.Fatalf("Update = %+v, %v", updated, err)
	}

	list, err := repo.ListByUser(ctx, user.ID)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListByUser = %v, %v", list, err)
	}

	if ok, err := repo.Delete(ctx, user.ID, ev.ID); err != nil || !ok {
		t.Fatalf("Delete = %v, %v", ok, err)
	}
}

func TestPostgresLocationRepo(t *testing.T) {
	db := setupRepoDB(t)
	user := createTestUser(t, db)
	repo := NewPostgresLocationRepo(db)
	ctx := context.Background()

	for _, name := range []string{"Garage", "Attic", "Garage"} {
		if err := repo.Ensure(ctx, user.ID, name); err != nil {
			t.Fatalf("Ensure(%q) failed: %v", name, err)
		}
	}

	names, err := repo.ListNames(ctx, user.ID, 100)
	if err != nil {
		t.Fatalf("ListNames failed: %v", err)
	}
	if len(names) != 2 || names[0] != "Attic" || names[1] != "Garage" {
		t.Errorf("ListNames = %v, want [Attic Garage]", names)
	}
}
