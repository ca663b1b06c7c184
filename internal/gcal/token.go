package gcal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/calprov/internal/credential"
	"github.com/hitoshi/calprov/internal/deviceauth"
	"github.com/hitoshi/calprov/internal/model"
)

// expirySkew は期限直前のトークンを期限切れとして扱う余裕。
const expirySkew = time.Minute

// TokenSource はクレデンシャルスロットごとのアクセストークンを提供する。
// 期限切れの場合はリフレッシュトークンで更新し、Vaultに書き戻す。
// 同じスロットへの同時リフレッシュはsingleflightで1回にまとめる。
type TokenSource struct {
	store     credential.Store
	refresher deviceauth.TokenRefresher
	logger    *slog.Logger
	now       func() time.Time
	group     singleflight.Group
}

// NewTokenSource はTokenSourceを生成する。
func NewTokenSource(store credential.Store, refresher deviceauth.TokenRefresher, logger *slog.Logger) *TokenSource {
	return &TokenSource{
		store:     store,
		refresher: refresher,
		logger:    logger,
		now:       time.Now,
	}
}

// AccessToken はスロットの有効なアクセストークンを返す。
// クレデンシャルが未保存、または更新を拒否された場合は*model.CredentialRequiredErrorを返す。
func (ts *TokenSource) AccessToken(ctx context.Context, slot int) (string, error) {
	cred, err := ts.store.Load(ctx, slot)
	if err != nil {
		if errors.Is(err, model.ErrDecryption) {
			return "", model.NewCredentialRequiredErr(slot, err)
		}
		return "", err
	}
	if cred == nil {
		return "", model.NewCredentialRequiredErr(slot, nil)
	}
	if !cred.ExpiredAt(ts.now(), expirySkew) {
		return cred.AccessToken, nil
	}
	return ts.refresh(ctx, cred)
}

// Invalidate はアクセストークンを即時に更新する。APIが401を返した場合に使う。
func (ts *TokenSource) Invalidate(ctx context.Context, slot int) (string, error) {
	cred, err := ts.store.Load(ctx, slot)
	if err != nil {
		return "", err
	}
	if cred == nil {
		return "", model.NewCredentialRequiredErr(slot, nil)
	}
	return ts.refresh(ctx, cred)
}

func (ts *TokenSource) refresh(ctx context.Context, cred *model.Credential) (string, error) {
	v, err, shared := ts.group.Do(strconv.Itoa(cred.Slot), func() (any, error) {
		if cred.RefreshToken == "" {
			return "", model.NewCredentialRequiredErr(cred.Slot, nil)
		}

		tok, err := ts.refresher.Refresh(ctx, cred.RefreshToken)
		if err != nil {
			if errors.Is(err, model.ErrProvider) {
				// リフレッシュトークンが失効している
				return "", model.NewCredentialRequiredErr(cred.Slot, err)
			}
			return "", fmt.Errorf("failed to refresh access token: %w", err)
		}

		if err := ts.store.Save(ctx, cred.Slot, tok.RefreshToken, tok.AccessToken, tok.ExpiresIn); err != nil {
			// 取得したトークンは今回の呼び出しでは使える
			ts.logger.Error("更新したアクセストークンの保存に失敗しました",
				slog.Int("slot", cred.Slot),
				slog.String("error", err.Error()),
			)
		}

		ts.logger.Info("アクセストークンを更新しました", slog.Int("slot", cred.Slot))
		return tok.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	if shared {
		ts.logger.Debug("同時のトークン更新を共有しました", slog.Int("slot", cred.Slot))
	}
	return v.(string), nil
}
