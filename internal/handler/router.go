package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/calprov/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger      *slog.Logger
	AdminAPIKey string
	RateLimiter *middleware.RateLimiter

	// ヘルスチェック・メトリクス
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// カレンダー
	CalendarService CalendarServiceInterface

	// デバイス認可
	Authorizer     DeviceAuthorizer
	CredentialSlot int // 設定されたクレデンシャルスロット数
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → APIKey → Tenant → RateLimit(General)
//
// /health と /metrics は認証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	calendarHandler := NewCalendarHandler(deps.CalendarService)
	credentialHandler := NewCredentialHandler(deps.Authorizer, deps.CredentialSlot)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 管理APIキーが必要なルート ---
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewAPIKeyMiddleware(deps.AdminAPIKey))

		// テナント単位の操作
		r.Route("/tenants/{tenantID}", func(r chi.Router) {
			r.Use(middleware.NewTenantMiddleware("tenantID"))
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Route("/draft", func(r chi.Router) {
				r.Post("/", calendarHandler.StartCreate)
				r.Get("/", calendarHandler.Review)
				r.Delete("/", calendarHandler.Cancel)
				r.Post("/edit", calendarHandler.StartEdit)
				r.Post("/confirm", calendarHandler.Confirm)

				for _, field := range []string{"name", "description", "timezone", "provider"} {
					r.Put("/"+field, calendarHandler.SetField(field))
				}
			})

			r.Delete("/calendars/{number}", calendarHandler.DeleteCalendar)

			r.Get("/settings", calendarHandler.GetSettings)
			r.Put("/settings", calendarHandler.UpdateSettings)
		})

		// クレデンシャルのデバイス認可
		r.Route("/credentials/{slot}/authorize", func(r chi.Router) {
			r.Use(deps.RateLimiter.GeneralMiddleware())

			// POST はデバイス認可専用のレート制限を追加
			r.With(deps.RateLimiter.AuthorizeMiddleware()).Post("/", credentialHandler.StartAuthorization)
			r.Get("/", credentialHandler.GetAuthorization)
		})
	})

	return r
}
