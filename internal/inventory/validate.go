package inventory

import (
	"strings"
	"time"

	"github.com/hitoshi/trinket/internal/model"
	"github.com/hitoshi/trinket/internal/security"
)

const dateLayout = "2006-01-02"

// optionLimit はフォームの選択肢として返す保管場所の最大件数。
const optionLimit = 100

func validDate(s string) bool {
	_, err := time.Parse(dateLayout, s)
	return err == nil
}

func contains(options []string, v string) bool {
	for _, o := range options {
		if o == v {
			return true
		}
	}
	return false
}

// optionalText は空文字をnilに変換したサニタイズ済みの値を返す。
func optionalText(s *security.TextSanitizer, raw string) *string {
	v := s.Text(raw)
	if v == "" {
		return nil
	}
	return &v
}

// patchText はパッチのフィールドをサニタイズする。空文字は値のクリアとして残す。
func patchText(s *security.TextSanitizer, raw *string) *string {
	if raw == nil {
		return nil
	}
	v := s.Text(*raw)
	return &v
}

func patchList(s *security.TextSanitizer, raw *[]string) *[]string {
	if raw == nil {
		return nil
	}
	v := s.List(*raw)
	return &v
}

func checkDate(field, v string) *model.APIError {
	if v != "" && !validDate(strings.TrimSpace(v)) {
		return model.NewValidationError(field + " must be a date in YYYY-MM-DD format")
	}
	return nil
}
