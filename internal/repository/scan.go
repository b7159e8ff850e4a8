package repository

import (
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
)

// ErrDuplicate は一意制約違反を表す。
var ErrDuplicate = errors.New("repository: duplicate key")

// uniqueViolation はPostgreSQLの一意制約違反コード。
const uniqueViolation = "23505"

// translateError はドライバのエラーをリポジトリのエラーに変換する。
func translateError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullFloatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	f := nf.Float64
	return &f
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// nullIfEmpty は空文字をNULLとして書き込むための値を返す。
func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

// stringPtrValue はポインタ型の入力をNULL許容カラムへ書き込む値に変換する。
func stringPtrValue(s *string) any {
	if s == nil {
		return nil
	}
	return nullIfEmpty(*s)
}

// nonNil はtext[]カラムへ書き込むスライスをNULLにしないためのヘルパー。
func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

// updateBuilder は部分更新のSET句を組み立てる。
type updateBuilder struct {
	sets []string
	args []any
}

func (b *updateBuilder) set(column string, value any) {
	b.args = append(b.args, value)
	b.sets = append(b.sets, column+" = $"+strconv.Itoa(len(b.args)))
}

// where は条件の値を追加し、そのプレースホルダを返す。
func (b *updateBuilder) where(value any) string {
	b.args = append(b.args, value)
	return "$" + strconv.Itoa(len(b.args))
}

func (b *updateBuilder) clause() string {
	return strings.Join(b.sets, ", ")
}

func (b *updateBuilder) empty() bool {
	return len(b.sets) == 0
}
