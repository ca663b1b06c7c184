package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/calprov/internal/calendar"
	"github.com/hitoshi/calprov/internal/deviceauth"
	"github.com/hitoshi/calprov/internal/draft"
	"github.com/hitoshi/calprov/internal/middleware"
	"github.com/hitoshi/calprov/internal/model"
)

const testAPIKey = "test-admin-key"

var errNotMocked = errors.New("not mocked")

// mockCalendarService はCalendarServiceInterfaceのモック。
type mockCalendarService struct {
	startCreateFn    func(ctx context.Context, tenantID string, req calendar.StartCreateRequest) (*calendar.StartResult, error)
	startEditFn      func(ctx context.Context, tenantID string, number int) (*calendar.StartResult, error)
	setFieldFn       func(field, tenantID, value string) (*draft.Draft, error)
	reviewFn         func(tenantID string) (*draft.Draft, error)
	confirmFn        func(ctx context.Context, tenantID string) (*calendar.ConfirmResult, error)
	cancelFn         func(tenantID string) error
	deleteFn         func(ctx context.Context, tenantID string, number int) error
	getSettingsFn    func(ctx context.Context, tenantID string) (*model.TenantSettings, error)
	updateSettingsFn func(ctx context.Context, tenantID string, slot, limit int) (*model.TenantSettings, error)
}

func (m *mockCalendarService) StartCreate(ctx context.Context, tenantID string, req calendar.StartCreateRequest) (*calendar.StartResult, error) {
	if m.startCreateFn != nil {
		return m.startCreateFn(ctx, tenantID, req)
	}
	return nil, errNotMocked
}

func (m *mockCalendarService) StartEdit(ctx context.Context, tenantID string, number int) (*calendar.StartResult, error) {
	if m.startEditFn != nil {
		return m.startEditFn(ctx, tenantID, number)
	}
	return nil, errNotMocked
}

func (m *mockCalendarService) setField(field, tenantID, value string) (*draft.Draft, error) {
	if m.setFieldFn != nil {
		return m.setFieldFn(field, tenantID, value)
	}
	return nil, errNotMocked
}

func (m *mockCalendarService) SetName(tenantID, name string) (*draft.Draft, error) {
	return m.setField("name", tenantID, name)
}

func (m *mockCalendarService) SetDescription(tenantID, description string) (*draft.Draft, error) {
	return m.setField("description", tenantID, description)
}

func (m *mockCalendarService) SetTimezone(tenantID, timezone string) (*draft.Draft, error) {
	return m.setField("timezone", tenantID, timezone)
}

func (m *mockCalendarService) SetProviderKind(tenantID, provider string) (*draft.Draft, error) {
	return m.setField("provider", tenantID, provider)
}

func (m *mockCalendarService) Review(tenantID string) (*draft.Draft, error) {
	if m.reviewFn != nil {
		return m.reviewFn(tenantID)
	}
	return nil, errNotMocked
}

func (m *mockCalendarService) Confirm(ctx context.Context, tenantID string) (*calendar.ConfirmResult, error) {
	if m.confirmFn != nil {
		return m.confirmFn(ctx, tenantID)
	}
	return nil, errNotMocked
}

func (m *mockCalendarService) Cancel(tenantID string) error {
	if m.cancelFn != nil {
		return m.cancelFn(tenantID)
	}
	return errNotMocked
}

func (m *mockCalendarService) Delete(ctx context.Context, tenantID string, number int) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, tenantID, number)
	}
	return errNotMocked
}

func (m *mockCalendarService) GetSettings(ctx context.Context, tenantID string) (*model.TenantSettings, error) {
	if m.getSettingsFn != nil {
		return m.getSettingsFn(ctx, tenantID)
	}
	return nil, errNotMocked
}

func (m *mockCalendarService) UpdateSettings(ctx context.Context, tenantID string, slot, limit int) (*model.TenantSettings, error) {
	if m.updateSettingsFn != nil {
		return m.updateSettingsFn(ctx, tenantID, slot, limit)
	}
	return nil, errNotMocked
}

// mockAuthorizer はDeviceAuthorizerのモック。
type mockAuthorizer struct {
	requestCodeFn func(ctx context.Context, slot int) (*deviceauth.Handle, error)
	getFn         func(slot int) (*deviceauth.Handle, bool)
}

func (m *mockAuthorizer) RequestCode(ctx context.Context, slot int) (*deviceauth.Handle, error) {
	if m.requestCodeFn != nil {
		return m.requestCodeFn(ctx, slot)
	}
	return nil, errNotMocked
}

func (m *mockAuthorizer) Get(slot int) (*deviceauth.Handle, bool) {
	if m.getFn != nil {
		return m.getFn(slot)
	}
	return nil, false
}

// newTestRouter はモックを組み込んだルーターを生成する。
func newTestRouter(t *testing.T, svc *mockCalendarService, auth *mockAuthorizer) http.Handler {
	t.Helper()
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	if svc == nil {
		svc = &mockCalendarService{}
	}
	if auth == nil {
		auth = &mockAuthorizer{}
	}
	return NewRouter(&RouterDeps{
		AdminAPIKey:     testAPIKey,
		RateLimiter:     rl,
		CalendarService: svc,
		Authorizer:      auth,
		CredentialSlot:  3,
	})
}

// doRequest は管理APIキー付きのリクエストを送信する。
func doRequest(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// readyDraft はタイムゾーンまで設定済みの作成ドラフトを返す。
func readyDraft(t *testing.T, tenantID string) *draft.Draft {
	t.Helper()
	d := draft.NewCreate(tenantID)
	d.SetName("Team Calendar")
	if err := d.SetTimezone("Asia/Tokyo"); err != nil {
		t.Fatal(err)
	}
	if err := d.SetProviderKind(model.ProviderKindGoogle); err != nil {
		t.Fatal(err)
	}
	return d
}
