// Package credential は暗号化されたOAuthクレデンシャルの保存と読み出しを提供する。
package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/calprov/internal/model"
	"github.com/hitoshi/calprov/internal/repository"
	"github.com/hitoshi/calprov/internal/security"
)

// Store はクレデンシャルの保存と読み出しのインターフェース。
// デバイス認可スケジューラとカレンダープロバイダーはこのインターフェース経由で利用する。
type Store interface {
	Save(ctx context.Context, slot int, refreshToken, accessToken string, expiresIn time.Duration) error
	Load(ctx context.Context, slot int) (*model.Credential, error)
}

// Vault はトークンを暗号化してリポジトリに保存する。
type Vault struct {
	repo   repository.CredentialRepository
	cipher security.TokenCipher
	now    func() time.Time
}

// Option はVaultのオプション設定関数。
type Option func(*Vault)

// WithClock は現在時刻の取得関数を差し替える。テスト用。
func WithClock(now func() time.Time) Option {
	return func(v *Vault) {
		v.now = now
	}
}

// NewVault はVaultを生成する。
func NewVault(repo repository.CredentialRepository, cipher security.TokenCipher, opts ...Option) *Vault {
	v := &Vault{
		repo:   repo,
		cipher: cipher,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Save は両トークンを暗号化し、スロットのレコードを一括で置き換える。
// 有効期限は現在時刻+expiresInで計算する。
// 暗号化または保存に失敗した場合はmodel.ErrPersistenceを返し、既存レコードは変更されない。
func (v *Vault) Save(ctx context.Context, slot int, refreshToken, accessToken string, expiresIn time.Duration) error {
	if slot < 1 {
		return model.NewValidationError("slot", "credential slot must be >= 1", nil)
	}

	encRefresh, err := v.cipher.Encrypt(refreshToken)
	if err != nil {
		return fmt.Errorf("%w: encrypt refresh token: %v", model.ErrPersistence, err)
	}
	encAccess, err := v.cipher.Encrypt(accessToken)
	if err != nil {
		return fmt.Errorf("%w: encrypt access token: %v", model.ErrPersistence, err)
	}

	now := v.now()
	rec := &model.CredentialRecord{
		Slot:                  slot,
		EncryptedRefreshToken: encRefresh,
		EncryptedAccessToken:  encAccess,
		ExpiresAt:             now.Add(expiresIn),
		UpdatedAt:             now,
	}
	if err := v.repo.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("%w: %v", model.ErrPersistence, err)
	}
	return nil
}

// Load はスロットのクレデンシャルを復号して返す。
// 未保存の場合はnil, nilを返す。
// 現在の鍵で復号できない場合はmodel.ErrDecryptionを返す。
func (v *Vault) Load(ctx context.Context, slot int) (*model.Credential, error) {
	rec, err := v.repo.FindBySlot(ctx, slot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrPersistence, err)
	}
	if rec == nil {
		return nil, nil
	}

	refresh, err := v.decrypt(rec.EncryptedRefreshToken)
	if err != nil {
		return nil, err
	}
	access, err := v.decrypt(rec.EncryptedAccessToken)
	if err != nil {
		return nil, err
	}

	return &model.Credential{
		Slot:         rec.Slot,
		RefreshToken: refresh,
		AccessToken:  access,
		ExpiresAt:    rec.ExpiresAt,
	}, nil
}

func (v *Vault) decrypt(ciphertext string) (string, error) {
	plain, err := v.cipher.Decrypt(ciphertext)
	if err == nil {
		return plain, nil
	}
	if errors.Is(err, security.ErrCiphertext) {
		return "", fmt.Errorf("%w: %v", model.ErrDecryption, err)
	}
	return "", fmt.Errorf("failed to decrypt credential: %w", err)
}

// compile-time interface check
var _ Store = (*Vault)(nil)
