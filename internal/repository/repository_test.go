package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/calprov/internal/model"
)

func TestPostgresRepos_ImplementInterfaces(t *testing.T) {
	var _ CredentialRepository = (*PostgresCredentialRepo)(nil)
	var _ SettingsRepository = (*PostgresSettingsRepo)(nil)
	var _ CalendarRepository = (*PostgresCalendarRepo)(nil)
	var _ CredentialRepository = (*CachedCredentialRepo)(nil)
}

func TestNewPostgresRepos_Initialize(t *testing.T) {
	if NewPostgresCredentialRepo(nil) == nil {
		t.Error("expected non-nil credential repo")
	}
	if NewPostgresSettingsRepo(nil) == nil {
		t.Error("expected non-nil settings repo")
	}
	if NewPostgresCalendarRepo(nil) == nil {
		t.Error("expected non-nil calendar repo")
	}
}

// stubCredentialRepo はCredentialRepositoryのテスト用モック。
type stubCredentialRepo struct {
	records   map[int]model.CredentialRecord
	finds     int
	upsertErr error
}

func (s *stubCredentialRepo) FindBySlot(ctx context.Context, slot int) (*model.CredentialRecord, error) {
	s.finds++
	rec, ok := s.records[slot]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *stubCredentialRepo) Upsert(ctx context.Context, rec *model.CredentialRecord) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.records[rec.Slot] = *rec
	return nil
}

func TestCachedCredentialRepo_CachesHits(t *testing.T) {
	inner := &stubCredentialRepo{records: map[int]model.CredentialRecord{
		1: {Slot: 1, EncryptedAccessToken: "enc-a", ExpiresAt: time.Now().Add(time.Hour)},
	}}
	repo, err := NewCachedCredentialRepo(inner, 8)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		rec, err := repo.FindBySlot(context.Background(), 1)
		if err != nil || rec == nil {
			t.Fatalf("FindBySlot = %v, %v", rec, err)
		}
	}
	if inner.finds != 1 {
		t.Errorf("inner finds = %d, want 1", inner.finds)
	}
}

func TestCachedCredentialRepo_MissIsNotCached(t *testing.T) {
	inner := &stubCredentialRepo{records: map[int]model.CredentialRecord{}}
	repo, _ := NewCachedCredentialRepo(inner, 8)

	for i := 0; i < 2; i++ {
		rec, err := repo.FindBySlot(context.Background(), 5)
		if err != nil || rec != nil {
			t.Fatalf("FindBySlot = %v, %v; want nil, nil", rec, err)
		}
	}
	if inner.finds != 2 {
		t.Errorf("inner finds = %d, want 2", inner.finds)
	}
}

func TestCachedCredentialRepo_UpsertReplacesEntry(t *testing.T) {
	inner := &stubCredentialRepo{records: map[int]model.CredentialRecord{
		1: {Slot: 1, EncryptedAccessToken: "old"},
	}}
	repo, _ := NewCachedCredentialRepo(inner, 8)
	_, _ = repo.FindBySlot(context.Background(), 1)

	if err := repo.Upsert(context.Background(), &model.CredentialRecord{Slot: 1, EncryptedAccessToken: "new"}); err != nil {
		t.Fatal(err)
	}
	rec, _ := repo.FindBySlot(context.Background(), 1)
	if rec.EncryptedAccessToken != "new" {
		t.Errorf("cached token = %q, want new", rec.EncryptedAccessToken)
	}
}

func TestCachedCredentialRepo_UpsertFailureEvicts(t *testing.T) {
	inner := &stubCredentialRepo{records: map[int]model.CredentialRecord{
		1: {Slot: 1, EncryptedAccessToken: "old"},
	}}
	repo, _ := NewCachedCredentialRepo(inner, 8)
	_, _ = repo.FindBySlot(context.Background(), 1)

	inner.upsertErr = errors.New("db down")
	if err := repo.Upsert(context.Background(), &model.CredentialRecord{Slot: 1, EncryptedAccessToken: "new"}); err == nil {
		t.Fatal("expected error")
	}

	rec, _ := repo.FindBySlot(context.Background(), 1)
	if rec.EncryptedAccessToken != "old" {
		t.Errorf("token = %q, want old (from store)", rec.EncryptedAccessToken)
	}
	if inner.finds != 2 {
		t.Errorf("inner finds = %d, want 2 (cache evicted)", inner.finds)
	}
}
