// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/calprov/internal/model"
)

const bearerPrefix = "Bearer "

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// tenantIDContextKey はリクエストコンテキストにテナントIDを格納するためのキー。
var tenantIDContextKey = contextKey("tenant_id")

// tenantIDPattern はテナントIDとして受け付ける形式。
var tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]{0,127}$`)

// NewAPIKeyMiddleware はAuthorizationヘッダーのBearerトークンを管理APIキーと照合するミドルウェアを返す。
// 一致しないリクエストには401 Unauthorizedを返す。
func NewAPIKeyMiddleware(apiKey string) func(next http.Handler) http.Handler {
	// 長さの違いから情報が漏れないよう、ハッシュ同士を比較する
	expected := sha256.Sum256([]byte(apiKey))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, bearerPrefix) {
				writeUnauthorized(w)
				return
			}

			got := sha256.Sum256([]byte(strings.TrimPrefix(header, bearerPrefix)))
			if subtle.ConstantTimeCompare(got[:], expected[:]) != 1 {
				slog.Warn("invalid api key",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				writeUnauthorized(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// NewTenantMiddleware はURLパラメータparamからテナントIDを読み取り、
// 形式を検証してリクエストコンテキストに注入するミドルウェアを返す。
// chiのルート内で使用する必要がある。
func NewTenantMiddleware(param string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := chi.URLParam(r, param)
			if !tenantIDPattern.MatchString(tenantID) {
				WriteErrorResponse(w, http.StatusBadRequest,
					model.NewValidationAPIError("tenant_id", "英数字と . _ : - の128文字以内で指定してください"))
				return
			}

			if tr, ok := w.(tenantRecorder); ok {
				tr.recordTenant(tenantID)
			}
			ctx := ContextWithTenantID(r.Context(), tenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TenantIDFromContext はリクエストコンテキストからテナントIDを取得する。
// テナントミドルウェアを通過したリクエストでのみ有効。
func TenantIDFromContext(ctx context.Context) (string, error) {
	tenantID, ok := ctx.Value(tenantIDContextKey).(string)
	if !ok || tenantID == "" {
		return "", fmt.Errorf("tenant ID not found in context")
	}
	return tenantID, nil
}

// ContextWithTenantID はコンテキストにテナントIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDContextKey, tenantID)
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="calprov"`)
	WriteErrorResponse(w, http.StatusUnauthorized, &model.APIError{
		Code:     model.ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "管理APIキーをAuthorizationヘッダーに指定してください。",
	})
}
