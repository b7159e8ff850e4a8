package inventory

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/hitoshi/trinket/internal/model"
	"github.com/hitoshi/trinket/internal/realtime"
	"github.com/hitoshi/trinket/internal/repository"
	"github.com/hitoshi/trinket/internal/security"
)

// PeopleSource はプロフィールの人物一覧を返す。
type PeopleSource interface {
	People(ctx context.Context, userID string) ([]string, error)
}

// FormOptions は所持品登録フォームの選択肢。
type FormOptions struct {
	People             []string `json:"people"`
	Locations          []string `json:"locations"`
	AcquisitionMethods []string `json:"acquisition_methods"`
	Categories         []string `json:"categories"`
}

// ItemService は所持品の取得と保存を提供する。
type ItemService struct {
	items     repository.ItemRepository
	locations repository.LocationRepository
	people    PeopleSource
	sanitizer *security.TextSanitizer
	guard     *SubmitGuard
	logger    *slog.Logger
}

// NewItemService はItemServiceを生成する。peopleとlocationsはnilでもよい。
func NewItemService(
	items repository.ItemRepository,
	locations repository.LocationRepository,
	people PeopleSource,
	sanitizer *security.TextSanitizer,
	guard *SubmitGuard,
	logger *slog.Logger,
) *ItemService {
	if sanitizer == nil {
		sanitizer = security.NewTextSanitizer()
	}
	if guard == nil {
		guard = NewSubmitGuard()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ItemService{
		items:     items,
		locations: locations,
		people:    people,
		sanitizer: sanitizer,
		guard:     guard,
		logger:    logger,
	}
}

// List は一覧画面用の所持品を返す。
func (s *ItemService) List(ctx context.Context, userID string) ([]model.ItemListEntry, error) {
	entries, err := s.items.ListByUser(ctx, userID)
	if err != nil {
		return nil, model.NewLoadFailedError("items", err)
	}
	return entries, nil
}

// Source はuserIDの一覧をリアルタイム同期の読み込み元として返す。
func (s *ItemService) Source(userID string) realtime.Source[model.ItemListEntry] {
	return realtime.SourceFunc[model.ItemListEntry](func(ctx context.Context) ([]model.ItemListEntry, error) {
		return s.items.ListByUser(ctx, userID)
	})
}

// Get は所持品の詳細を返す。
func (s *ItemService) Get(ctx context.Context, userID, id string) (*model.Item, error) {
	item, err := s.items.FindByID(ctx, userID, id)
	if err != nil {
		return nil, model.NewLoadFailedError("item", err)
	}
	if item == nil {
		return nil, model.NewItemNotFoundError(id)
	}
	return item, nil
}

// Create は入力を検証して所持品を登録する。
// 名前が空の場合はバックエンドを呼ばずに検証エラーを返す。
func (s *ItemService) Create(ctx context.Context, userID string, in model.ItemInput) (*model.Item, error) {
	item, apiErr := s.buildItem(userID, in)
	if apiErr != nil {
		return nil, apiErr
	}

	release, err := s.guard.Acquire(userID, "Adding item")
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.items.Create(ctx, item); err != nil {
		return nil, model.NewSaveFailedError("Could not add item", err)
	}
	s.rememberLocation(ctx, userID, item.Location)

	s.logger.Info("item added", slog.String("user_id", userID), slog.String("item_id", item.ID))
	return item, nil
}

func (s *ItemService) buildItem(userID string, in model.ItemInput) (*model.Item, *model.APIError) {
	title := s.sanitizer.Text(in.Title)
	if title == "" {
		return nil, model.NewValidationError("Name is required")
	}

	category := strings.ToLower(s.sanitizer.Text(in.Category))
	if category == "" {
		category = model.DefaultCategory
	}

	method := s.sanitizer.Text(in.AcquisitionMethod)
	if method == "" {
		method = model.DefaultAcquisitionMethod
	}
	if !contains(model.AcquisitionMethods, method) {
		return nil, model.NewValidationError("Unknown acquisition method: " + method)
	}

	date := strings.TrimSpace(in.DatePurchased)
	if apiErr := checkDate("Date purchased", date); apiErr != nil {
		return nil, apiErr
	}
	if in.EstimatedValue != nil && *in.EstimatedValue < 0 {
		return nil, model.NewValidationError("Estimated value cannot be negative")
	}

	item := &model.Item{
		ID:                uuid.New().String(),
		UserID:            userID,
		Title:             title,
		Category:          category,
		Description:       optionalText(s.sanitizer, in.Description),
		PhotoURL:          optionalText(s.sanitizer, in.PhotoURL),
		Images:            s.sanitizer.List(in.Images),
		Tags:              s.sanitizer.List(in.Tags),
		EstimatedValue:    in.EstimatedValue,
		AcquisitionMethod: &method,
		Location:          optionalText(s.sanitizer, in.Location),
		People:            s.sanitizer.List(in.People),
	}
	if date != "" {
		item.DatePurchased = &date
	}
	return item, nil
}

// Update はpatchで指定されたフィールドのみ更新する。
func (s *ItemService) Update(ctx context.Context, userID, id string, patch model.ItemPatch) (*model.Item, error) {
	if patch.IsEmpty() {
		return nil, model.NewValidationError("Nothing to update")
	}

	clean := model.ItemPatch{
		Title:             patchText(s.sanitizer, patch.Title),
		Category:          patchText(s.sanitizer, patch.Category),
		Description:       patchText(s.sanitizer, patch.Description),
		PhotoURL:          patchText(s.sanitizer, patch.PhotoURL),
		Images:            patchList(s.sanitizer, patch.Images),
		Tags:              patchList(s.sanitizer, patch.Tags),
		DatePurchased:     patchText(s.sanitizer, patch.DatePurchased),
		EstimatedValue:    patch.EstimatedValue,
		AcquisitionMethod: patchText(s.sanitizer, patch.AcquisitionMethod),
		Location:          patchText(s.sanitizer, patch.Location),
		People:            patchList(s.sanitizer, patch.People),
	}
	if clean.Title != nil && *clean.Title == "" {
		return nil, model.NewValidationError("Name is required")
	}
	if clean.Category != nil {
		lower := strings.ToLower(*clean.Category)
		if lower == "" {
			lower = model.DefaultCategory
		}
		clean.Category = &lower
	}
	if clean.AcquisitionMethod != nil && *clean.AcquisitionMethod != "" && !contains(model.AcquisitionMethods, *clean.AcquisitionMethod) {
		return nil, model.NewValidationError("Unknown acquisition method: " + *clean.AcquisitionMethod)
	}
	if clean.DatePurchased != nil {
		if apiErr := checkDate("Date purchased", *clean.DatePurchased); apiErr != nil {
			return nil, apiErr
		}
	}
	if clean.EstimatedValue != nil && *clean.EstimatedValue < 0 {
		return nil, model.NewValidationError("Estimated value cannot be negative")
	}

	release, err := s.guard.Acquire(userID, "Updating item")
	if err != nil {
		return nil, err
	}
	defer release()

	item, err := s.items.Update(ctx, userID, id, clean)
	if err != nil {
		return nil, model.NewSaveFailedError("Could not update item", err)
	}
	if item == nil {
		return nil, model.NewItemNotFoundError(id)
	}
	s.rememberLocation(ctx, userID, item.Location)
	return item, nil
}

// Delete は所持品を削除する。
func (s *ItemService) Delete(ctx context.Context, userID, id string) error {
	release, err := s.guard.Acquire(userID, "Deleting item")
	if err != nil {
		return err
	}
	defer release()

	deleted, err := s.items.Delete(ctx, userID, id)
	if err != nil {
		return model.NewSaveFailedError("Delete failed", err)
	}
	if !deleted {
		return model.NewItemNotFoundError(id)
	}
	s.logger.Info("item deleted", slog.String("user_id", userID), slog.String("item_id", id))
	return nil
}

// FormOptions は登録フォームの選択肢を返す。
// 保管場所はlocationsテーブルを優先し、空または取得失敗時は所持品に設定済みの値で補う。
// 選択肢の取得失敗はフォームの表示を妨げないため、ログに残して空の一覧を返す。
func (s *ItemService) FormOptions(ctx context.Context, userID string) FormOptions {
	opts := FormOptions{
		People:             []string{},
		Locations:          []string{},
		AcquisitionMethods: append([]string(nil), model.AcquisitionMethods...),
		Categories:         append([]string(nil), model.Categories...),
	}

	if s.people != nil {
		people, err := s.people.People(ctx, userID)
		if err != nil {
			s.logger.Warn("could not load people options", slog.String("error", err.Error()))
		} else if people != nil {
			opts.People = people
		}
	}

	if s.locations != nil {
		names, err := s.locations.ListNames(ctx, userID, optionLimit)
		if err != nil {
			s.logger.Warn("could not load locations", slog.String("error", err.Error()))
		} else if len(names) > 0 {
			opts.Locations = names
			return opts
		}
	}

	names, err := s.items.DistinctLocations(ctx, userID, optionLimit)
	if err != nil {
		s.logger.Warn("could not load item locations", slog.String("error", err.Error()))
		return opts
	}
	if names != nil {
		opts.Locations = names
	}
	return opts
}

func (s *ItemService) rememberLocation(ctx context.Context, userID string, location *string) {
	if s.locations == nil || location == nil || *location == "" {
		return
	}
	if err := s.locations.Ensure(ctx, userID, *location); err != nil {
		s.logger.Warn("failed to register location",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}
