package model

import (
	"fmt"
	"strings"
	"time"
)

// ProviderKind はカレンダーのホスト先プロバイダーを表す。
type ProviderKind string

const (
	// ProviderKindUnset はプロバイダー未設定を示すゼロ値。
	ProviderKindUnset ProviderKind = ""
	// ProviderKindGoogle はGoogleカレンダー。
	ProviderKindGoogle ProviderKind = "GOOGLE"
)

// DefaultProviderKind は明示指定がない場合に使用するプロバイダー。
const DefaultProviderKind = ProviderKindGoogle

// ParseProviderKind は文字列をProviderKindに変換する。大文字小文字は区別しない。
func ParseProviderKind(s string) (ProviderKind, error) {
	switch ProviderKind(strings.ToUpper(strings.TrimSpace(s))) {
	case ProviderKindGoogle:
		return ProviderKindGoogle, nil
	default:
		return ProviderKindUnset, fmt.Errorf("unknown provider kind: %q", s)
	}
}

// Valid はサポート対象のプロバイダーかを返す。
func (k ProviderKind) Valid() bool {
	return k == ProviderKindGoogle
}

// CalendarRef は編集対象カレンダーへの参照。
type CalendarRef struct {
	Number     int    // テナント内のカレンダー番号（1始まり）
	ResourceID string // プロバイダー側のカレンダーID
}

// Calendar はプロバイダー上に作成済みのカレンダーを表す。
type Calendar struct {
	TenantID       string
	Number         int
	ResourceID     string
	Name           string
	Description    string
	Timezone       string
	Provider       ProviderKind
	CredentialSlot int
	Link           string
	CreatedAt      time.Time
}

// Ref はカレンダーへの参照を返す。
func (c *Calendar) Ref() CalendarRef {
	return CalendarRef{Number: c.Number, ResourceID: c.ResourceID}
}

// CreateSpec はカレンダー作成時にプロバイダーへ渡すペイロード。
type CreateSpec struct {
	Name        string
	Description string
	Timezone    string
	Provider    ProviderKind
}

// UpdateSpec はカレンダー更新時にプロバイダーへ渡すペイロード。
type UpdateSpec struct {
	Name        string
	Description string
	Timezone    string
}

// UpdateResult はカレンダー更新の結果。
type UpdateResult struct {
	Success bool
	Updated *Calendar
}
