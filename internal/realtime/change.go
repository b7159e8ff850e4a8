// Package realtime はリモートの変更通知を受けて、画面が保持するコレクションを最新に保つ。
package realtime

import (
	"bytes"
	"encoding/json"
)

// Kind は変更通知の種別を表す。
// new/oldレコードの有無だけで決まり、通知本体のtypeフィールドは参照しない。
type Kind int

const (
	// KindUnknown は新旧どちらのレコードも読み取れなかった通知。全件再読み込みに使う。
	KindUnknown Kind = iota
	// KindInsert は新レコードのみを持つ通知。
	KindInsert
	// KindUpdate は新旧両方のレコードを持つ通知。
	KindUpdate
	// KindDelete は旧レコードのみを持つ通知。
	KindDelete
)

// String はメトリクスのラベルやログに使う名前を返す。
func (k Kind) String() string {
	switch k {
	case KindInsert:
		return "insert"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Change は1件の変更通知。
type Change struct {
	Table  string
	New    json.RawMessage // 新レコード（無ければnil）
	Old    json.RawMessage // 旧レコード（無ければnil）
	UserID string          // 所有者。スコープ判定に使う
	Raw    []byte
}

// Kind は通知の種別を返す。
func (c Change) Kind() Kind {
	switch {
	case c.New != nil && c.Old == nil:
		return KindInsert
	case c.New != nil && c.Old != nil:
		return KindUpdate
	case c.New == nil && c.Old != nil:
		return KindDelete
	default:
		return KindUnknown
	}
}

// UnknownChange は指定テーブルの全件再読み込みを要求する通知を生成する。
func UnknownChange(table string) Change {
	return Change{Table: table}
}

// ParseChange は通知ペイロードを解釈する。
// 新レコードは new, record, payload.new の順、旧レコードは old, record.old, payload.old の順で探す。
// nullと空オブジェクトは「無し」として扱う。JSONとして読めない場合もエラーにせずKindUnknownを返す。
func ParseChange(payload []byte) Change {
	c := Change{Raw: payload}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(payload, &top); err != nil {
		return c
	}

	var table string
	if json.Unmarshal(top["table"], &table) == nil {
		c.Table = table
	}

	record := objectFields(top["record"])
	nested := objectFields(top["payload"])

	c.New = firstRecord(top["new"], top["record"], nested["new"])
	c.Old = firstRecord(top["old"], record["old"], nested["old"])

	c.UserID = ownerOf(c.New)
	if c.UserID == "" {
		c.UserID = ownerOf(c.Old)
	}
	if c.UserID == "" {
		var uid string
		if json.Unmarshal(top["user_id"], &uid) == nil {
			c.UserID = uid
		}
	}
	return c
}

// firstRecord は候補のうち最初に見つかった空でないJSONオブジェクトを返す。
func firstRecord(candidates ...json.RawMessage) json.RawMessage {
	for _, raw := range candidates {
		if len(objectFields(raw)) > 0 {
			return bytes.Clone(raw)
		}
	}
	return nil
}

// objectFields はJSONオブジェクトをフィールドごとに分解する。オブジェクトでなければnilを返す。
func objectFields(raw json.RawMessage) map[string]json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}
	return fields
}

func ownerOf(raw json.RawMessage) string {
	var owner struct {
		UserID string `json:"user_id"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &owner) != nil {
		return ""
	}
	return owner.UserID
}
