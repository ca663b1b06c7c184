package repository

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hitoshi/calprov/internal/model"
)

// CachedCredentialRepo はCredentialRepositoryの読み取りをLRUでキャッシュするデコレータ。
// 保存されるのは暗号化済みレコードのみで、平文トークンはキャッシュしない。
// 書き込み時は永続化に成功した場合のみキャッシュを置き換える。
type CachedCredentialRepo struct {
	inner CredentialRepository
	cache *lru.Cache[int, model.CredentialRecord]
}

// NewCachedCredentialRepo はCachedCredentialRepoを生成する。
// sizeが0以下の場合はデフォルト値64を使用する。
func NewCachedCredentialRepo(inner CredentialRepository, size int) (*CachedCredentialRepo, error) {
	if size <= 0 {
		size = 64
	}
	cache, err := lru.New[int, model.CredentialRecord](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create credential cache: %w", err)
	}
	return &CachedCredentialRepo{inner: inner, cache: cache}, nil
}

// FindBySlot はキャッシュを優先してレコードを返す。
// 存在しないスロットはキャッシュしない。
func (r *CachedCredentialRepo) FindBySlot(ctx context.Context, slot int) (*model.CredentialRecord, error) {
	if rec, ok := r.cache.Get(slot); ok {
		return &rec, nil
	}

	rec, err := r.inner.FindBySlot(ctx, slot)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		r.cache.Add(slot, *rec)
	}
	return rec, nil
}

// Upsert は永続化した後にキャッシュを置き換える。
// 永続化に失敗した場合は古いエントリを破棄し、次回はDBから読み直す。
func (r *CachedCredentialRepo) Upsert(ctx context.Context, rec *model.CredentialRecord) error {
	if err := r.inner.Upsert(ctx, rec); err != nil {
		r.cache.Remove(rec.Slot)
		return err
	}
	r.cache.Add(rec.Slot, *rec)
	return nil
}

// compile-time interface check
var _ CredentialRepository = (*CachedCredentialRepo)(nil)
