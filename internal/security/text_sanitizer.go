package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は所持品・出来事・プロフィールの自由記述欄を平文に正規化する。
// マークアップはすべて除去され、UIシェル側でそのまま表示できる文字列になる。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はbluemondayのStrictPolicyでTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// Text はタグを取り除き、前後の空白を切り詰めた文字列を返す。
// StrictPolicyはエスケープ済みの文字列を返すため、実体参照は元の文字に戻す。
func (s *TextSanitizer) Text(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}

// List は各要素にTextを適用し、空になった要素と重複を除いた一覧を返す。
// 入力がnilでも空スライスを返す。
func (s *TextSanitizer) List(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, v := range raw {
		clean := s.Text(v)
		if clean == "" {
			continue
		}
		if _, ok := seen[clean]; ok {
			continue
		}
		seen[clean] = struct{}{}
		out = append(out, clean)
	}
	return out
}
