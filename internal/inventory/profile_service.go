package inventory

import (
	"context"
	"log/slog"
	"strings"

	"github.com/hitoshi/trinket/internal/model"
	"github.com/hitoshi/trinket/internal/security"
)

// AccountStore はアカウントメタデータの読み書きを提供する。auth.Serviceが実装する。
type AccountStore interface {
	GetUser(ctx context.Context, userID string) (*model.User, error)
	UpdateUserMetadata(ctx context.Context, userID string, patch map[string]any) (*model.User, error)
}

// UserNotifier はメタデータ更新をセッションの購読者へ通知する。auth.Clientが実装する。
type UserNotifier interface {
	UserUpdated()
}

// ProfileInput はアカウント画面で編集するプロフィール項目。
type ProfileInput struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Bio       string `json:"bio"`
}

// OnboardingStep はサインアップ直後の入力ステップ。
type OnboardingStep string

const (
	OnboardingName   OnboardingStep = "name"
	OnboardingBio    OnboardingStep = "bio"
	OnboardingPeople OnboardingStep = "people"
)

// OnboardingInput は各ステップの入力値。ステップに関係しないフィールドは無視される。
type OnboardingInput struct {
	Step      OnboardingStep `json:"step"`
	FirstName string         `json:"first_name"`
	LastName  string         `json:"last_name"`
	Bio       string         `json:"bio"`
	People    []string       `json:"people_list"`
}

// ProfileService はアカウントメタデータに保存されたプロフィールを扱う。
type ProfileService struct {
	accounts  AccountStore
	notifier  UserNotifier
	sanitizer *security.TextSanitizer
	guard     *SubmitGuard
	logger    *slog.Logger
}

// NewProfileService はProfileServiceを生成する。notifierはnilでもよい。
func NewProfileService(accounts AccountStore, notifier UserNotifier, sanitizer *security.TextSanitizer, guard *SubmitGuard, logger *slog.Logger) *ProfileService {
	if sanitizer == nil {
		sanitizer = security.NewTextSanitizer()
	}
	if guard == nil {
		guard = NewSubmitGuard()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProfileService{
		accounts:  accounts,
		notifier:  notifier,
		sanitizer: sanitizer,
		guard:     guard,
		logger:    logger,
	}
}

// Get はプロフィールを返す。
func (s *ProfileService) Get(ctx context.Context, userID string) (model.Profile, error) {
	user, err := s.accounts.GetUser(ctx, userID)
	if err != nil {
		if apiErr, ok := model.AsAPIError(err); ok {
			return model.Profile{}, apiErr
		}
		return model.Profile{}, model.NewLoadFailedError("profile", err)
	}
	return model.ProfileFromMetadata(user.Email, user.Metadata), nil
}

// People はプロフィールの人物一覧を返す。PeopleSourceを実装する。
func (s *ProfileService) People(ctx context.Context, userID string) ([]string, error) {
	p, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return p.People, nil
}

// Save は氏名と自己紹介を保存する。人物一覧とプランは変更しない。
func (s *ProfileService) Save(ctx context.Context, userID string, in ProfileInput) (model.Profile, error) {
	patch := map[string]any{
		model.MetaFirstName: s.sanitizer.Text(in.FirstName),
		model.MetaLastName:  s.sanitizer.Text(in.LastName),
		model.MetaBio:       s.sanitizer.Text(in.Bio),
	}
	return s.update(ctx, userID, "Save failed", patch)
}

// ChangePlan はプランを変更する。nilはプランの解除。
func (s *ProfileService) ChangePlan(ctx context.Context, userID string, plan *string) (model.Profile, error) {
	var value any
	if plan != nil {
		p := strings.ToLower(strings.TrimSpace(*plan))
		if !contains(model.SubscriptionPlans, p) {
			return model.Profile{}, model.NewInvalidPlanError(*plan)
		}
		value = p
	}
	return s.update(ctx, userID, "Plan update failed", map[string]any{model.MetaSubscriptionPlan: value})
}

// AddPerson は人物一覧の末尾に追加する。前後の空白を除いて空なら何もしない。
func (s *ProfileService) AddPerson(ctx context.Context, userID, name string) (model.Profile, error) {
	current, err := s.Get(ctx, userID)
	if err != nil {
		return model.Profile{}, err
	}
	name = s.sanitizer.Text(name)
	if name == "" {
		return current, nil
	}
	next := append(append([]string{}, current.People...), name)
	return s.update(ctx, userID, "Could not add person", map[string]any{model.MetaPeopleList: next})
}

// RemovePerson は人物一覧からindex番目を取り除く。
func (s *ProfileService) RemovePerson(ctx context.Context, userID string, index int) (model.Profile, error) {
	current, err := s.Get(ctx, userID)
	if err != nil {
		return model.Profile{}, err
	}
	if index < 0 || index >= len(current.People) {
		return model.Profile{}, model.NewPersonNotFoundError(index)
	}
	next := make([]string, 0, len(current.People)-1)
	next = append(next, current.People[:index]...)
	next = append(next, current.People[index+1:]...)
	return s.update(ctx, userID, "Could not remove", map[string]any{model.MetaPeopleList: next})
}

// CompleteOnboarding はオンボーディングの1ステップを保存する。
// 氏名ステップはfull_nameも合わせて書き込み、人物ステップは空の一覧でスキップ扱いとなる。
func (s *ProfileService) CompleteOnboarding(ctx context.Context, userID string, in OnboardingInput) (model.Profile, error) {
	switch in.Step {
	case OnboardingName:
		first := s.sanitizer.Text(in.FirstName)
		last := s.sanitizer.Text(in.LastName)
		if first == "" || last == "" {
			return model.Profile{}, model.NewValidationError("First and last name are required")
		}
		return s.update(ctx, userID, "Save failed", map[string]any{
			model.MetaFirstName: first,
			model.MetaLastName:  last,
			model.MetaFullName:  strings.TrimSpace(first + " " + last),
		})
	case OnboardingBio:
		bio := s.sanitizer.Text(in.Bio)
		if bio == "" {
			return model.Profile{}, model.NewValidationError("Bio is required")
		}
		return s.update(ctx, userID, "Save failed", map[string]any{model.MetaBio: bio})
	case OnboardingPeople:
		return s.update(ctx, userID, "Could not finish onboarding", map[string]any{
			model.MetaPeopleList: s.sanitizer.List(in.People),
		})
	default:
		return model.Profile{}, model.NewValidationError("Unknown onboarding step: " + string(in.Step))
	}
}

func (s *ProfileService) update(ctx context.Context, userID, action string, patch map[string]any) (model.Profile, error) {
	release, err := s.guard.Acquire(userID, action)
	if err != nil {
		return model.Profile{}, err
	}
	defer release()

	user, err := s.accounts.UpdateUserMetadata(ctx, userID, patch)
	if err != nil {
		if apiErr, ok := model.AsAPIError(err); ok {
			return model.Profile{}, apiErr
		}
		return model.Profile{}, model.NewSaveFailedError(action, err)
	}
	if s.notifier != nil {
		s.notifier.UserUpdated()
	}
	s.logger.Debug("profile updated", slog.String("user_id", userID), slog.String("action", action))
	return model.ProfileFromMetadata(user.Email, user.Metadata), nil
}
