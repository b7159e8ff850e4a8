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

// EventService は出来事の取得と保存を提供する。
type EventService struct {
	events    repository.EventRepository
	sanitizer *security.TextSanitizer
	guard     *SubmitGuard
	logger    *slog.Logger
}

// NewEventService はEventServiceを生成する。
func NewEventService(events repository.EventRepository, sanitizer *security.TextSanitizer, guard *SubmitGuard, logger *slog.Logger) *EventService {
	if sanitizer == nil {
		sanitizer = security.NewTextSanitizer()
	}
	if guard == nil {
		guard = NewSubmitGuard()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventService{events: events, sanitizer: sanitizer, guard: guard, logger: logger}
}

func (s *EventService) List(ctx context.Context, userID string) ([]model.Event, error) {
	events, err := s.events.ListByUser(ctx, userID)
	if err != nil {
		return nil, model.NewLoadFailedError("events", err)
	}
	return events, nil
}

// Source はuserIDの出来事一覧をリアルタイム同期の読み込み元として返す。
func (s *EventService) Source(userID string) realtime.Source[model.Event] {
	return realtime.SourceFunc[model.Event](func(ctx context.Context) ([]model.Event, error) {
		return s.events.ListByUser(ctx, userID)
	})
}

func (s *EventService) Get(ctx context.Context, userID, id string) (*model.Event, error) {
	event, err := s.events.FindByID(ctx, userID, id)
	if err != nil {
		return nil, model.NewLoadFailedError("event", err)
	}
	if event == nil {
		return nil, model.NewEventNotFoundError(id)
	}
	return event, nil
}

// Create は出来事を登録する。タイトルと日付は必須。
func (s *EventService) Create(ctx context.Context, userID string, in model.EventInput) (*model.Event, error) {
	name := s.sanitizer.Text(in.Name)
	date := strings.TrimSpace(in.EventDate)
	if name == "" || date == "" {
		return nil, model.NewValidationError("Title and date are required")
	}
	if apiErr := checkDate("Event date", date); apiErr != nil {
		return nil, apiErr
	}

	release, err := s.guard.Acquire(userID, "Adding event")
	if err != nil {
		return nil, err
	}
	defer release()

	event := &model.Event{
		ID:          uuid.New().String(),
		UserID:      userID,
		Name:        name,
		Description: optionalText(s.sanitizer, in.Description),
		PhotoURL:    optionalText(s.sanitizer, in.PhotoURL),
		Location:    optionalText(s.sanitizer, in.Location),
		EventDate:   &date,
	}
	if err := s.events.Create(ctx, event); err != nil {
		return nil, model.NewSaveFailedError("Could not add event", err)
	}
	s.logger.Info("event added", slog.String("user_id", userID), slog.String("event_id", event.ID))
	return event, nil
}

// Update はpatchで指定されたフィールドのみ更新する。
// タイトルと日付は空文字でのクリアを許可しない。
func (s *EventService) Update(ctx context.Context, userID, id string, patch model.EventPatch) (*model.Event, error) {
	if patch.IsEmpty() {
		return nil, model.NewValidationError("Nothing to update")
	}
	clean := model.EventPatch{
		Name:        patchText(s.sanitizer, patch.Name),
		Description: patchText(s.sanitizer, patch.Description),
		PhotoURL:    patchText(s.sanitizer, patch.PhotoURL),
		Location:    patchText(s.sanitizer, patch.Location),
		EventDate:   patchText(s.sanitizer, patch.EventDate),
	}
	if (clean.Name != nil && *clean.Name == "") || (clean.EventDate != nil && *clean.EventDate == "") {
		return nil, model.NewValidationError("Title and date are required")
	}
	if clean.EventDate != nil {
		if apiErr := checkDate("Event date", *clean.EventDate); apiErr != nil {
			return nil, apiErr
		}
	}

	release, err := s.guard.Acquire(userID, "Updating event")
	if err != nil {
		return nil, err
	}
	defer release()

	event, err := s.events.Update(ctx, userID, id, clean)
	if err != nil {
		return nil, model.NewSaveFailedError("Could not update event", err)
	}
	if event == nil {
		return nil, model.NewEventNotFoundError(id)
	}
	return event, nil
}

func (s *EventService) Delete(ctx context.Context, userID, id string) error {
	release, err := s.guard.Acquire(userID, "Deleting event")
	if err != nil {
		return err
	}
	defer release()

	deleted, err := s.events.Delete(ctx, userID, id)
	if err != nil {
		return model.NewSaveFailedError("Delete failed", err)
	}
	if !deleted {
		return model.NewEventNotFoundError(id)
	}
	return nil
}
