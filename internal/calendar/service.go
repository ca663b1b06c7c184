// Package calendar はカレンダーの作成・編集・削除を段階的に行うプロビジョニングサービスを提供する。
package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/calprov/internal/deviceauth"
	"github.com/hitoshi/calprov/internal/draft"
	"github.com/hitoshi/calprov/internal/metrics"
	"github.com/hitoshi/calprov/internal/model"
	"github.com/hitoshi/calprov/internal/repository"
	"github.com/hitoshi/calprov/internal/security"
)

const (
	maxNameLength        = 255
	maxDescriptionLength = 4000
)

// Provider はカレンダーをホストする外部プロバイダーのインターフェース。
type Provider interface {
	// Create はslotのクレデンシャルでカレンダーを作成し、テナントに登録する。
	Create(ctx context.Context, tenantID string, slot int, spec model.CreateSpec) (*model.Calendar, error)
	// Get はテナントのカレンダー番号に対応するカレンダーの現在の内容を取得する。
	Get(ctx context.Context, tenantID string, number int) (*model.Calendar, error)
	// Resolve はプロバイダーに問い合わせずにカレンダー番号を参照に解決する。
	Resolve(ctx context.Context, tenantID string, number int) (model.CalendarRef, error)
	// Update はカレンダーの内容を更新する。
	Update(ctx context.Context, tenantID string, ref model.CalendarRef, spec model.UpdateSpec) (*model.UpdateResult, error)
	// Delete はカレンダーを削除する。
	Delete(ctx context.Context, tenantID string, ref model.CalendarRef) error
	// Count はテナントのカレンダー数を返す。
	Count(ctx context.Context, tenantID string) (int, error)
}

// Authorizer はクレデンシャルスロットのデバイス認可を開始するインターフェース。
type Authorizer interface {
	RequestCode(ctx context.Context, slot int) (*deviceauth.Handle, error)
}

// Defaults はテナント設定が未保存の場合に使う既定値。
type Defaults struct {
	CredentialSlot   int
	CredentialsCount int
	CalendarLimit    int
	ProviderKind     model.ProviderKind
}

// StartCreateRequest は作成ドラフト開始時の入力。名前以外は省略できる。
type StartCreateRequest struct {
	Name        string
	Description string
	Timezone    string
	Provider    string
}

// StartResult はドラフト開始の結果。
// 省略可能な項目の値が不正だった場合、ドラフトは開始したうえでFieldErrに理由を返す。
type StartResult struct {
	Draft    *draft.Draft
	FieldErr error
}

// ConfirmResult はドラフト確定の結果。
type ConfirmResult struct {
	Mode     draft.Mode
	Calendar *model.Calendar
}

// Service はテナントごとのカレンダープロビジョニングを管理する。
type Service struct {
	drafts    *draft.Registry
	provider  Provider
	settings  repository.SettingsRepository
	auth      Authorizer
	sanitizer security.TextSanitizer
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	defaults  Defaults
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	drafts *draft.Registry,
	provider Provider,
	settings repository.SettingsRepository,
	auth Authorizer,
	sanitizer security.TextSanitizer,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	defaults Defaults,
) *Service {
	if defaults.CredentialSlot <= 0 {
		defaults.CredentialSlot = 1
	}
	if defaults.CredentialsCount < defaults.CredentialSlot {
		defaults.CredentialsCount = defaults.CredentialSlot
	}
	if !defaults.ProviderKind.Valid() {
		defaults.ProviderKind = model.DefaultProviderKind
	}
	return &Service{
		drafts:    drafts,
		provider:  provider,
		settings:  settings,
		auth:      auth,
		sanitizer: sanitizer,
		metrics:   collector,
		logger:    logger,
		defaults:  defaults,
		now:       time.Now,
	}
}

// StartCreate は作成モードのドラフトを開始する。
// カレンダー数が上限に達している場合はmodel.ErrCalendarLimitを返す。
// タイムゾーンが不正な場合もドラフトは開始し、StartResult.FieldErrで通知する。
func (s *Service) StartCreate(ctx context.Context, tenantID string, req StartCreateRequest) (*StartResult, error) {
	name, err := s.cleanName(req.Name)
	if err != nil {
		return nil, err
	}
	description, err := s.cleanDescription(req.Description)
	if err != nil {
		return nil, err
	}
	kind := s.defaults.ProviderKind
	if req.Provider != "" {
		if kind, err = model.ParseProviderKind(req.Provider); err != nil {
			return nil, model.NewValidationError("provider", err.Error(), nil)
		}
	}

	// 登録自体はStartで原子的に判定する。ここでは上限確認のDB・プロバイダー呼び出しを省くために先に見る
	if _, ok := s.drafts.Get(tenantID); ok {
		return nil, model.ErrAlreadyActive
	}

	settings, err := s.GetSettings(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	count, err := s.provider.Count(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if count >= settings.CalendarLimit {
		return nil, model.ErrCalendarLimit
	}

	d := draft.NewCreate(tenantID)
	d.SetName(name)
	d.SetDescription(description)
	if err := d.SetProviderKind(kind); err != nil {
		return nil, err
	}
	var fieldErr error
	if req.Timezone != "" {
		fieldErr = d.SetTimezone(req.Timezone)
	}

	if err := s.drafts.Start(d); err != nil {
		return nil, err
	}
	s.recordStarted(d)

	return &StartResult{Draft: d.Clone(), FieldErr: fieldErr}, nil
}

// StartEdit は既存カレンダーの編集ドラフトを開始する。
// 各項目はプロバイダー上の現在の値で初期化する。
func (s *Service) StartEdit(ctx context.Context, tenantID string, number int) (*StartResult, error) {
	if number < 1 {
		return nil, model.NewValidationError("calendar_number", "calendar number must be >= 1", nil)
	}
	// StartCreateと同じく、プロバイダー呼び出しを省くための事前確認
	if _, ok := s.drafts.Get(tenantID); ok {
		return nil, model.ErrAlreadyActive
	}

	cal, err := s.provider.Get(ctx, tenantID, number)
	if err != nil {
		return nil, err
	}

	d := draft.NewEdit(tenantID, cal.Ref())
	d.SetName(cal.Name)
	d.SetDescription(cal.Description)
	kind := cal.Provider
	if !kind.Valid() {
		kind = s.defaults.ProviderKind
	}
	if err := d.SetProviderKind(kind); err != nil {
		return nil, err
	}
	var fieldErr error
	if cal.Timezone != "" {
		if fieldErr = d.SetTimezone(cal.Timezone); fieldErr != nil {
			s.logger.Warn("既存カレンダーのタイムゾーンを解釈できません",
				slog.String("tenant_id", tenantID),
				slog.Int("calendar_number", number),
				slog.String("timezone", cal.Timezone),
			)
		}
	}

	if err := s.drafts.Start(d); err != nil {
		return nil, err
	}
	s.recordStarted(d)

	return &StartResult{Draft: d.Clone(), FieldErr: fieldErr}, nil
}

// SetName はドラフトのカレンダー名を置き換える。
func (s *Service) SetName(tenantID, name string) (*draft.Draft, error) {
	cleaned, err := s.cleanName(name)
	if err != nil {
		return nil, err
	}
	return s.drafts.Update(tenantID, func(d *draft.Draft) error {
		d.SetName(cleaned)
		return nil
	})
}

// SetDescription はドラフトの説明文を置き換える。空文字列で説明を消去する。
func (s *Service) SetDescription(tenantID, description string) (*draft.Draft, error) {
	cleaned, err := s.cleanDescription(description)
	if err != nil {
		return nil, err
	}
	return s.drafts.Update(tenantID, func(d *draft.Draft) error {
		d.SetDescription(cleaned)
		return nil
	})
}

// SetTimezone はドラフトのタイムゾーンを置き換える。
// 不正な値の場合はドラフトを変更せずにエラーを返す。
func (s *Service) SetTimezone(tenantID, timezone string) (*draft.Draft, error) {
	return s.drafts.Update(tenantID, func(d *draft.Draft) error {
		return d.SetTimezone(timezone)
	})
}

// SetProviderKind はドラフトのプロバイダー種別を置き換える。
func (s *Service) SetProviderKind(tenantID, provider string) (*draft.Draft, error) {
	kind, err := model.ParseProviderKind(provider)
	if err != nil {
		return nil, model.NewValidationError("provider", err.Error(), nil)
	}
	return s.drafts.Update(tenantID, func(d *draft.Draft) error {
		return d.SetProviderKind(kind)
	})
}

// Review は進行中のドラフトを返す。
func (s *Service) Review(tenantID string) (*draft.Draft, error) {
	d, ok := s.drafts.Get(tenantID)
	if !ok {
		return nil, model.ErrNoActiveDraft
	}
	return d, nil
}

// Confirm はドラフトをプロバイダーに反映する。
// 準備ができていない場合は何も変更せずにmodel.ErrNotReadyを返す。
// 同じテナントで確定処理中の場合はmodel.ErrCommitInProgressを返す。
// プロバイダーが失敗した場合はドラフトを保持し、再試行できるようにする。
// クレデンシャルが未認可の場合はデバイス認可を開始してmodel.ErrCredentialRequiredを返す。
func (s *Service) Confirm(ctx context.Context, tenantID string) (*ConfirmResult, error) {
	// 反映が終わるまで同じテナントの確定・変更・取消はErrCommitInProgressになる
	d, err := s.drafts.Claim(tenantID)
	if err != nil {
		return nil, err
	}

	var cal *model.Calendar
	if target, isEdit := d.Target(); isEdit {
		cal, err = s.commitEdit(ctx, d, target)
	} else {
		cal, err = s.commitCreate(ctx, d)
	}
	if err != nil {
		s.drafts.Release(tenantID, d.ID())
		s.handleCommitError(ctx, tenantID, err)
		return nil, err
	}

	s.drafts.RemoveIf(tenantID, d.ID())
	if s.metrics != nil {
		s.metrics.RecordDraftCommitted(d.Mode().String())
	}
	s.logger.Info("カレンダーを確定しました",
		slog.String("tenant_id", tenantID),
		slog.String("mode", d.Mode().String()),
		slog.Int("calendar_number", cal.Number),
	)

	return &ConfirmResult{Mode: d.Mode(), Calendar: cal}, nil
}

func (s *Service) commitCreate(ctx context.Context, d *draft.Draft) (*model.Calendar, error) {
	spec, err := d.ToCreateSpec()
	if err != nil {
		return nil, err
	}
	settings, err := s.GetSettings(ctx, d.TenantID())
	if err != nil {
		return nil, err
	}
	count, err := s.provider.Count(ctx, d.TenantID())
	if err != nil {
		return nil, err
	}
	if count >= settings.CalendarLimit {
		return nil, model.ErrCalendarLimit
	}
	return s.provider.Create(ctx, d.TenantID(), settings.CredentialSlot, spec)
}

func (s *Service) commitEdit(ctx context.Context, d *draft.Draft, target model.CalendarRef) (*model.Calendar, error) {
	spec, err := d.ToUpdateSpec()
	if err != nil {
		return nil, err
	}
	res, err := s.provider.Update(ctx, d.TenantID(), target, spec)
	if err != nil {
		return nil, err
	}
	if !res.Success || res.Updated == nil {
		return nil, fmt.Errorf("%w: update was not applied", model.ErrProvider)
	}
	return res.Updated, nil
}

// handleCommitError はクレデンシャル不足の場合にデバイス認可を開始する。
func (s *Service) handleCommitError(ctx context.Context, tenantID string, err error) {
	var credErr *model.CredentialRequiredError
	if !errors.As(err, &credErr) {
		s.logger.Warn("カレンダーの確定に失敗しました",
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()),
		)
		return
	}

	h, authErr := s.auth.RequestCode(ctx, credErr.Slot)
	switch {
	case authErr == nil:
		s.logger.Warn("クレデンシャルが未認可のためデバイス認可を開始しました",
			slog.String("tenant_id", tenantID),
			slog.Int("slot", credErr.Slot),
			slog.String("verification_url", h.VerificationURL()),
			slog.String("user_code", h.UserCode()),
		)
	case errors.Is(authErr, model.ErrAuthInProgress):
	default:
		s.logger.Error("デバイス認可を開始できませんでした",
			slog.Int("slot", credErr.Slot),
			slog.String("error", authErr.Error()),
		)
	}
}

// Cancel は進行中のドラフトを破棄する。確定処理中のドラフトは破棄できない。
func (s *Service) Cancel(tenantID string) error {
	return s.drafts.Discard(tenantID)
}

// Delete はカレンダーを削除する。
// 進行中のドラフトがこのカレンダーを編集している場合はドラフトも破棄する。
func (s *Service) Delete(ctx context.Context, tenantID string, number int) error {
	if number < 1 {
		return model.NewValidationError("calendar_number", "calendar number must be >= 1", nil)
	}
	ref, err := s.provider.Resolve(ctx, tenantID, number)
	if err != nil {
		return err
	}
	if err := s.provider.Delete(ctx, tenantID, ref); err != nil {
		s.handleCommitError(ctx, tenantID, err)
		return err
	}

	if d, ok := s.drafts.Get(tenantID); ok {
		if target, isEdit := d.Target(); isEdit && target.ResourceID == ref.ResourceID {
			s.drafts.RemoveIf(tenantID, d.ID())
		}
	}

	s.logger.Info("カレンダーを削除しました",
		slog.String("tenant_id", tenantID),
		slog.Int("calendar_number", number),
	)
	return nil
}

// GetSettings はテナント設定を返す。未保存の場合は既定値を返す。
func (s *Service) GetSettings(ctx context.Context, tenantID string) (*model.TenantSettings, error) {
	settings, err := s.settings.FindByTenantID(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrPersistence, err)
	}
	if settings == nil {
		return &model.TenantSettings{
			TenantID:       tenantID,
			CredentialSlot: s.defaults.CredentialSlot,
			CalendarLimit:  s.defaults.CalendarLimit,
		}, nil
	}
	return settings, nil
}

// UpdateSettings はテナント設定を保存する。
// スロットは1からCredentialsCountまで、上限は0以上でなければならない。
func (s *Service) UpdateSettings(ctx context.Context, tenantID string, slot, limit int) (*model.TenantSettings, error) {
	if slot < 1 || slot > s.defaults.CredentialsCount {
		return nil, model.NewValidationError("credential_slot",
			fmt.Sprintf("credential slot must be between 1 and %d", s.defaults.CredentialsCount), nil)
	}
	if limit < 0 {
		return nil, model.NewValidationError("calendar_limit", "calendar limit must be >= 0", nil)
	}

	settings := &model.TenantSettings{
		TenantID:       tenantID,
		CredentialSlot: slot,
		CalendarLimit:  limit,
		UpdatedAt:      s.now(),
	}
	if err := s.settings.Upsert(ctx, settings); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrPersistence, err)
	}
	return settings, nil
}

func (s *Service) cleanName(name string) (string, error) {
	cleaned := s.sanitizer.Sanitize(name)
	if cleaned == "" {
		return "", model.NewValidationError("name", "name is required", nil)
	}
	if utf8.RuneCountInString(cleaned) > maxNameLength {
		return "", model.NewValidationError("name", fmt.Sprintf("name must be at most %d characters", maxNameLength), nil)
	}
	return cleaned, nil
}

func (s *Service) cleanDescription(description string) (string, error) {
	cleaned := s.sanitizer.Sanitize(description)
	if utf8.RuneCountInString(cleaned) > maxDescriptionLength {
		return "", model.NewValidationError("description",
			fmt.Sprintf("description must be at most %d characters", maxDescriptionLength), nil)
	}
	return cleaned, nil
}

func (s *Service) recordStarted(d *draft.Draft) {
	if s.metrics != nil {
		s.metrics.RecordDraftStarted(d.Mode().String())
	}
	s.logger.Info("ドラフトを開始しました",
		slog.String("tenant_id", d.TenantID()),
		slog.String("draft_id", d.ID()),
		slog.String("mode", d.Mode().String()),
	)
}
