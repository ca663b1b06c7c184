// Package draft はテナントごとのカレンダープロビジョニングドラフトと、
// その単一ライター制約を保証するレジストリを提供する。
package draft

import (
	"strings"
	"time"
	_ "time/tzdata" // 実行環境のzoneinfoに依存せずIANA IDを検証する

	"github.com/google/uuid"

	"github.com/hitoshi/calprov/internal/model"
)

type modeKind int

const (
	modeCreate modeKind = iota
	modeEdit
)

// Mode はドラフトが新規作成か既存カレンダーの編集かを表すタグ付き値。
// 編集対象は生成時に固定され、以後変更できない。
type Mode struct {
	kind   modeKind
	target model.CalendarRef
}

// CreateMode は新規作成モードを返す。
func CreateMode() Mode {
	return Mode{kind: modeCreate}
}

// EditMode は指定カレンダーの編集モードを返す。
func EditMode(target model.CalendarRef) Mode {
	return Mode{kind: modeEdit, target: target}
}

// IsEdit は編集モードかを返す。
func (m Mode) IsEdit() bool {
	return m.kind == modeEdit
}

// String はログ用の表記を返す。
func (m Mode) String() string {
	if m.kind == modeEdit {
		return "edit"
	}
	return "create"
}

// Draft は確定前のカレンダー仕様。
// フィールドはセッター経由でのみ変更する。
type Draft struct {
	id          string
	tenantID    string
	mode        Mode
	name        string
	description string
	timezone    *time.Location
	provider    model.ProviderKind
	createdAt   time.Time
	committing  bool
}

// NewCreate は新規作成モードのドラフトを生成する。
// プロバイダーは未設定のまま生成される。
func NewCreate(tenantID string) *Draft {
	return newDraft(tenantID, CreateMode())
}

// NewEdit は既存カレンダーを編集するドラフトを生成する。
func NewEdit(tenantID string, target model.CalendarRef) *Draft {
	return newDraft(tenantID, EditMode(target))
}

func newDraft(tenantID string, mode Mode) *Draft {
	return &Draft{
		id:        uuid.NewString(),
		tenantID:  tenantID,
		mode:      mode,
		createdAt: time.Now(),
	}
}

// ID はドラフトインスタンスの識別子を返す。
func (d *Draft) ID() string { return d.id }

// TenantID は所有テナントIDを返す。
func (d *Draft) TenantID() string { return d.tenantID }

// Mode はドラフトのモードを返す。
func (d *Draft) Mode() Mode { return d.mode }

// Name はカレンダー名を返す。
func (d *Draft) Name() string { return d.name }

// Description は説明文を返す。
func (d *Draft) Description() string { return d.description }

// ProviderKind はプロバイダー種別を返す。
func (d *Draft) ProviderKind() model.ProviderKind { return d.provider }

// CreatedAt はドラフトの生成時刻を返す。
func (d *Draft) CreatedAt() time.Time { return d.createdAt }

// Committing はプロバイダーへの反映中かどうかを返す。
func (d *Draft) Committing() bool { return d.committing }

// Timezone はタイムゾーンIDを返す。未設定の場合は空文字列。
func (d *Draft) Timezone() string {
	if d.timezone == nil {
		return ""
	}
	return d.timezone.String()
}

// Target は編集対象カレンダーを返す。作成モードではfalseを返す。
func (d *Draft) Target() (model.CalendarRef, bool) {
	if !d.mode.IsEdit() {
		return model.CalendarRef{}, false
	}
	return d.mode.target, true
}

// SetName はカレンダー名を置き換える。
func (d *Draft) SetName(name string) {
	d.name = strings.TrimSpace(name)
}

// SetDescription は説明文を置き換える。
func (d *Draft) SetDescription(description string) {
	d.description = strings.TrimSpace(description)
}

// SetTimezone はIANAタイムゾーンIDを検証して設定する。
// 失敗時は既存の値を変更せずにValidationErrorを返す。
func (d *Draft) SetTimezone(name string) error {
	loc, err := ParseTimezone(name)
	if err != nil {
		return err
	}
	d.timezone = loc
	return nil
}

// SetProviderKind はプロバイダー種別を設定する。
func (d *Draft) SetProviderKind(kind model.ProviderKind) error {
	if !kind.Valid() {
		return model.NewValidationError("provider", "unsupported provider kind", nil)
	}
	d.provider = kind
	return nil
}

// IsReady は名前、タイムゾーン、プロバイダーが全て揃っているかを返す。
func (d *Draft) IsReady() bool {
	return d.name != "" && d.timezone != nil && d.provider != model.ProviderKindUnset
}

// ToCreateSpec は作成用ペイロードを返す。IsReadyでない場合はErrNotReady。
func (d *Draft) ToCreateSpec() (model.CreateSpec, error) {
	if !d.IsReady() {
		return model.CreateSpec{}, model.ErrNotReady
	}
	return model.CreateSpec{
		Name:        d.name,
		Description: d.description,
		Timezone:    d.timezone.String(),
		Provider:    d.provider,
	}, nil
}

// ToUpdateSpec は更新用ペイロードを返す。
// IsReadyでない場合、または作成モードの場合はErrNotReady。
func (d *Draft) ToUpdateSpec() (model.UpdateSpec, error) {
	if !d.IsReady() || !d.mode.IsEdit() {
		return model.UpdateSpec{}, model.ErrNotReady
	}
	return model.UpdateSpec{
		Name:        d.name,
		Description: d.description,
		Timezone:    d.timezone.String(),
	}, nil
}

// Clone はドラフトのコピーを返す。*time.Locationは不変なので共有してよい。
func (d *Draft) Clone() *Draft {
	c := *d
	return &c
}

// ParseTimezone はIANAタイムゾーンIDを検証して*time.Locationを返す。
// 空文字列と"Local"は拒否し、大文字小文字が異なる名前も受け付けない。
func ParseTimezone(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "Local" {
		return nil, model.NewValidationError("timezone", "timezone id is required", model.ErrInvalidTimezone)
	}
	loc, err := time.LoadLocation(name)
	if err != nil || loc.String() != name {
		return nil, model.NewValidationError("timezone", "unknown timezone id: "+name, model.ErrInvalidTimezone)
	}
	return loc, nil
}
