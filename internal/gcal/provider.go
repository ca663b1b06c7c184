package gcal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/calprov/internal/calendar"
	"github.com/hitoshi/calprov/internal/metrics"
	"github.com/hitoshi/calprov/internal/model"
	"github.com/hitoshi/calprov/internal/repository"
)

// AccessTokenSource はスロットのアクセストークンを提供するインターフェース。
type AccessTokenSource interface {
	AccessToken(ctx context.Context, slot int) (string, error)
	Invalidate(ctx context.Context, slot int) (string, error)
}

// Provider はGoogle Calendarを使ったカレンダープロバイダー。
// テナントのカレンダー番号とGoogle側のカレンダーIDの対応はCalendarRepositoryで管理する。
type Provider struct {
	client    *Client
	tokens    AccessTokenSource
	calendars repository.CalendarRepository
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	now       func() time.Time
}

// NewProvider はProviderを生成する。
func NewProvider(
	client *Client,
	tokens AccessTokenSource,
	calendars repository.CalendarRepository,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Provider {
	return &Provider{
		client:    client,
		tokens:    tokens,
		calendars: calendars,
		metrics:   collector,
		logger:    logger,
		now:       time.Now,
	}
}

// Create はカレンダーを作成して公開し、テナントの次の番号で登録する。
// 登録に失敗した場合は作成したカレンダーを削除する。
func (p *Provider) Create(ctx context.Context, tenantID string, slot int, spec model.CreateSpec) (*model.Calendar, error) {
	var created *calendarResource
	err := p.call(ctx, "insert", slot, func(token string) error {
		var err error
		created, err = p.client.InsertCalendar(ctx, token, &calendarResource{
			Summary:     spec.Name,
			Description: spec.Description,
			TimeZone:    spec.Timezone,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := p.call(ctx, "publish", slot, func(token string) error {
		return p.client.PublishCalendar(ctx, token, created.ID)
	}); err != nil {
		p.logger.Warn("カレンダーの公開設定に失敗しました",
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()),
		)
	}

	cal := &model.Calendar{
		TenantID:       tenantID,
		ResourceID:     created.ID,
		Name:           created.Summary,
		Description:    created.Description,
		Timezone:       created.TimeZone,
		Provider:       model.ProviderKindGoogle,
		CredentialSlot: slot,
		Link:           EmbedLink(created.ID),
		CreatedAt:      p.now(),
	}
	if err := p.calendars.Create(ctx, cal); err != nil {
		p.logger.Error("カレンダーの登録に失敗したため作成を取り消します",
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()),
		)
		if delErr := p.call(ctx, "delete", slot, func(token string) error {
			return p.client.DeleteCalendar(ctx, token, created.ID)
		}); delErr != nil {
			p.logger.Error("作成したカレンダーの削除に失敗しました",
				slog.String("tenant_id", tenantID),
				slog.String("calendar_id", created.ID),
				slog.String("error", delErr.Error()),
			)
		}
		return nil, fmt.Errorf("%w: %v", model.ErrPersistence, err)
	}

	return cal, nil
}

// Get はテナントのカレンダー番号に対応するカレンダーを取得する。
// 未登録またはプロバイダー上で削除済みの場合はmodel.ErrCalendarNotFoundを返す。
func (p *Provider) Get(ctx context.Context, tenantID string, number int) (*model.Calendar, error) {
	cal, err := p.calendars.FindByNumber(ctx, tenantID, number)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrPersistence, err)
	}
	if cal == nil {
		return nil, model.ErrCalendarNotFound
	}

	var res *calendarResource
	if err := p.call(ctx, "get", cal.CredentialSlot, func(token string) error {
		var err error
		res, err = p.client.GetCalendar(ctx, token, cal.ResourceID)
		return err
	}); err != nil {
		return nil, err
	}

	cal.Name = res.Summary
	cal.Description = res.Description
	cal.Timezone = res.TimeZone
	cal.Link = EmbedLink(cal.ResourceID)
	return cal, nil
}

// Resolve はカレンダー番号をプロバイダー側IDへの参照に解決する。APIは呼ばない。
func (p *Provider) Resolve(ctx context.Context, tenantID string, number int) (model.CalendarRef, error) {
	cal, err := p.calendars.FindByNumber(ctx, tenantID, number)
	if err != nil {
		return model.CalendarRef{}, fmt.Errorf("%w: %v", model.ErrPersistence, err)
	}
	if cal == nil {
		return model.CalendarRef{}, model.ErrCalendarNotFound
	}
	return cal.Ref(), nil
}

// Update はカレンダーの名前、説明、タイムゾーンを更新する。
func (p *Provider) Update(ctx context.Context, tenantID string, ref model.CalendarRef, spec model.UpdateSpec) (*model.UpdateResult, error) {
	cal, err := p.calendars.FindByResourceID(ctx, tenantID, ref.ResourceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrPersistence, err)
	}
	if cal == nil {
		return nil, model.ErrCalendarNotFound
	}

	var res *calendarResource
	if err := p.call(ctx, "patch", cal.CredentialSlot, func(token string) error {
		var err error
		res, err = p.client.PatchCalendar(ctx, token, cal.ResourceID, &calendarResource{
			Summary:     spec.Name,
			Description: spec.Description,
			TimeZone:    spec.Timezone,
		})
		return err
	}); err != nil {
		return nil, err
	}

	cal.Name = res.Summary
	cal.Description = res.Description
	cal.Timezone = res.TimeZone
	cal.Link = EmbedLink(cal.ResourceID)
	return &model.UpdateResult{Success: true, Updated: cal}, nil
}

// Delete はカレンダーを削除し、対応を解除する。
// プロバイダー上で既に削除されている場合も対応は解除する。
func (p *Provider) Delete(ctx context.Context, tenantID string, ref model.CalendarRef) error {
	cal, err := p.calendars.FindByResourceID(ctx, tenantID, ref.ResourceID)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrPersistence, err)
	}
	if cal == nil {
		return model.ErrCalendarNotFound
	}

	err = p.call(ctx, "delete", cal.CredentialSlot, func(token string) error {
		return p.client.DeleteCalendar(ctx, token, cal.ResourceID)
	})
	if err != nil && !errors.Is(err, model.ErrCalendarNotFound) {
		return err
	}

	if err := p.calendars.Delete(ctx, tenantID, cal.ResourceID); err != nil {
		return fmt.Errorf("%w: %v", model.ErrPersistence, err)
	}
	return nil
}

// Count はテナントのカレンダー数を返す。
func (p *Provider) Count(ctx context.Context, tenantID string) (int, error) {
	n, err := p.calendars.CountByTenantID(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", model.ErrPersistence, err)
	}
	return n, nil
}

// call はアクセストークンを取得してAPI呼び出しを実行する。
// 401の場合はトークンを更新して1回だけ再試行する。
func (p *Provider) call(ctx context.Context, operation string, slot int, fn func(token string) error) error {
	token, err := p.tokens.AccessToken(ctx, slot)
	if err != nil {
		return err
	}

	start := time.Now()
	err = fn(token)

	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Unauthorized() {
		token, err = p.tokens.Invalidate(ctx, slot)
		if err != nil {
			return err
		}
		err = fn(token)
	}

	if p.metrics != nil {
		p.metrics.RecordProviderCall(operation, err == nil, time.Since(start))
	}
	if err != nil && !errors.Is(err, model.ErrCalendarNotFound) {
		p.logger.Error("カレンダープロバイダーの呼び出しに失敗しました",
			slog.String("operation", operation),
			slog.Int("slot", slot),
			slog.String("error", err.Error()),
		)
	}
	return err
}

// compile-time interface check
var (
	_ calendar.Provider = (*Provider)(nil)
	_ AccessTokenSource = (*TokenSource)(nil)
)
