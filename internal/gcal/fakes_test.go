package gcal

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/calprov/internal/deviceauth"
	"github.com/hitoshi/calprov/internal/model"
)

func newTestLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// memoryCalendarRepo はメモリ上のCalendarRepository。
type memoryCalendarRepo struct {
	mu        sync.Mutex
	calendars []*model.Calendar
	createErr error
}

func (r *memoryCalendarRepo) FindByNumber(ctx context.Context, tenantID string, number int) (*model.Calendar, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calendars {
		if c.TenantID == tenantID && c.Number == number {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memoryCalendarRepo) FindByResourceID(ctx context.Context, tenantID, resourceID string) (*model.Calendar, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calendars {
		if c.TenantID == tenantID && c.ResourceID == resourceID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memoryCalendarRepo) CountByTenantID(ctx context.Context, tenantID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calendars {
		if c.TenantID == tenantID {
			n++
		}
	}
	return n, nil
}

func (r *memoryCalendarRepo) Create(ctx context.Context, cal *model.Calendar) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	max := 0
	for _, c := range r.calendars {
		if c.TenantID == cal.TenantID && c.Number > max {
			max = c.Number
		}
	}
	cal.Number = max + 1
	cp := *cal
	r.calendars = append(r.calendars, &cp)
	return nil
}

func (r *memoryCalendarRepo) Delete(ctx context.Context, tenantID, resourceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.calendars[:0]
	for _, c := range r.calendars {
		if !(c.TenantID == tenantID && c.ResourceID == resourceID) {
			kept = append(kept, c)
		}
	}
	r.calendars = kept
	return nil
}

// mockTokenSource はAccessTokenSourceのテスト用モック。
type mockTokenSource struct {
	accessTokenFunc func(slot int) (string, error)
	invalidateFunc  func(slot int) (string, error)
	invalidations   int
}

func (m *mockTokenSource) AccessToken(ctx context.Context, slot int) (string, error) {
	if m.accessTokenFunc != nil {
		return m.accessTokenFunc(slot)
	}
	return "token", nil
}

func (m *mockTokenSource) Invalidate(ctx context.Context, slot int) (string, error) {
	m.invalidations++
	if m.invalidateFunc != nil {
		return m.invalidateFunc(slot)
	}
	return "fresh-token", nil
}

// mockStore はcredential.Storeのテスト用モック。
type mockStore struct {
	mu    sync.Mutex
	cred  *model.Credential
	err   error
	saves int
}

func (m *mockStore) Load(ctx context.Context, slot int) (*model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if m.cred == nil {
		return nil, nil
	}
	cp := *m.cred
	return &cp, nil
}

func (m *mockStore) Save(ctx context.Context, slot int, refresh, access string, expiresIn time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.cred = &model.Credential{Slot: slot, RefreshToken: refresh, AccessToken: access, ExpiresAt: time.Now().Add(expiresIn)}
	return nil
}

// mockRefresher はdeviceauth.TokenRefresherのテスト用モック。
type mockRefresher struct {
	refreshFunc func(refreshToken string) (*deviceauth.Token, error)

	mu    sync.Mutex
	calls int
}

func (m *mockRefresher) Refresh(ctx context.Context, refreshToken string) (*deviceauth.Token, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return m.refreshFunc(refreshToken)
}

func (m *mockRefresher) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
