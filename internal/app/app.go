package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/calprov/internal/calendar"
	"github.com/hitoshi/calprov/internal/config"
	"github.com/hitoshi/calprov/internal/credential"
	"github.com/hitoshi/calprov/internal/database"
	"github.com/hitoshi/calprov/internal/deviceauth"
	"github.com/hitoshi/calprov/internal/draft"
	"github.com/hitoshi/calprov/internal/gcal"
	"github.com/hitoshi/calprov/internal/handler"
	"github.com/hitoshi/calprov/internal/logger"
	"github.com/hitoshi/calprov/internal/metrics"
	"github.com/hitoshi/calprov/internal/middleware"
	"github.com/hitoshi/calprov/internal/model"
	"github.com/hitoshi/calprov/internal/repository"
	"github.com/hitoshi/calprov/internal/security"
	"github.com/hitoshi/calprov/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. LOG_LEVELを反映する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.Int("credentials_count", cfg.CredentialsCount),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandAuthorize:
		slot, err := ParseSlotArg(args, cfg.CredentialsCount)
		if err != nil {
			return err
		}
		return runAuthorize(cfg, w, slot)
	default:
		return runServe(cfg)
	}
}

// components はサーバーとauthorizeコマンドが共有する依存関係。
type components struct {
	registry  *prometheus.Registry
	collector *metrics.Collector
	scheduler *deviceauth.Scheduler
	drafts    *draft.Registry
	service   *calendar.Service
}

// buildComponents は設定からドメインサービスを組み立てる。
// dbへの接続は行わないため、DBが無くても組み立て自体は成功する。
func buildComponents(cfg *config.Config, db *sql.DB, log *slog.Logger) (*components, error) {
	// 1. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 2. 外部エンドポイントの検証とSSRF防止付きクライアント
	guard := security.NewEndpointGuard(cfg.AllowPrivateEndpoints)
	for _, endpoint := range []string{cfg.DeviceCodeURL, cfg.TokenURL, cfg.CalendarAPIURL} {
		if err := guard.ValidateEndpoint(endpoint); err != nil {
			return nil, fmt.Errorf("invalid provider endpoint: %w", err)
		}
	}
	httpClient := guard.NewSafeClient(cfg.ProviderTimeout)

	// 3. クレデンシャル保管庫
	cipher, err := security.NewAESCipher(cfg.CredentialsKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential cipher: %w", err)
	}
	credRepo, err := repository.NewCachedCredentialRepo(
		repository.NewPostgresCredentialRepo(db), cfg.CredentialCacheSize,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential cache: %w", err)
	}
	vault := credential.NewVault(credRepo, cipher)

	// 4. デバイス認可
	deviceClient := deviceauth.NewGoogleDeviceClient(deviceauth.GoogleDeviceConfig{
		ClientID:      cfg.GoogleClientID,
		ClientSecret:  cfg.GoogleClientSecret,
		DeviceCodeURL: cfg.DeviceCodeURL,
		TokenURL:      cfg.TokenURL,
	}, httpClient)
	scheduler := deviceauth.NewScheduler(deviceClient, vault, log.With(slog.String("component", "deviceauth")),
		deviceauth.WithMetrics(collector),
	)

	// 5. カレンダープロバイダー
	provider := gcal.NewProvider(
		gcal.NewClient(cfg.CalendarAPIURL, httpClient),
		gcal.NewTokenSource(vault, deviceClient, log),
		repository.NewPostgresCalendarRepo(db),
		collector,
		log.With(slog.String("component", "gcal")),
	)

	// 6. カレンダーサービス
	providerKind, err := model.ParseProviderKind(cfg.DefaultProvider)
	if err != nil {
		scheduler.Close()
		return nil, fmt.Errorf("invalid DEFAULT_PROVIDER: %w", err)
	}
	drafts := draft.NewRegistry()
	service := calendar.NewService(
		drafts,
		provider,
		repository.NewPostgresSettingsRepo(db),
		scheduler,
		security.NewTextSanitizer(),
		collector,
		log.With(slog.String("component", "calendar")),
		calendar.Defaults{
			CredentialSlot:   1,
			CredentialsCount: cfg.CredentialsCount,
			CalendarLimit:    cfg.DefaultCalendarLimit,
			ProviderKind:     providerKind,
		},
	)

	return &components{
		registry:  registry,
		collector: collector,
		scheduler: scheduler,
		drafts:    drafts,
		service:   service,
	}, nil
}

// newServer はHTTPサーバーを構築する。
func newServer(cfg *config.Config, db handler.HealthChecker, c *components, rl *middleware.RateLimiter, log *slog.Logger) *http.Server {
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:          log,
		AdminAPIKey:     cfg.AdminAPIKey,
		RateLimiter:     rl,
		HealthChecker:   db,
		MetricsHandler:  metrics.Handler(c.registry),
		CalendarService: c.service,
		Authorizer:      c.scheduler,
		CredentialSlot:  cfg.CredentialsCount,
	})

	return &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// openDB はDB接続を開いて疎通を確認する。
func openDB(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーとドラフトの自動破棄ジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	log := slog.Default()

	c, err := buildComponents(cfg, db, log)
	if err != nil {
		return err
	}
	defer c.scheduler.Close()

	rl := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitAuthorize))
	defer rl.Stop()

	server := newServer(cfg, db, c, rl, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 放置されたドラフトの自動破棄
	cleanupJob := cleanup.NewCleanupJob(c.drafts, c.collector, log.With(slog.String("component", "cleanup")))
	cleanupJob.TTL = cfg.DraftTTL
	go cleanupJob.Start(ctx, cfg.DraftSweepInterval)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err, ok := <-serverErr:
		if ok {
			return fmt.Errorf("server listen error: %w", err)
		}
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runAuthorize はクレデンシャルスロットのデバイス認可を対話的に実行する。
// 認可URLとユーザーコードをwに表示し、認可が終了するかシグナルを受信するまで待つ。
func runAuthorize(cfg *config.Config, w io.Writer, slot int) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	c, err := buildComponents(cfg, db, slog.Default())
	if err != nil {
		return err
	}
	defer c.scheduler.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h, err := c.scheduler.RequestCode(ctx, slot)
	if err != nil {
		return fmt.Errorf("failed to start device authorization: %w", err)
	}

	return awaitAuthorization(ctx, w, h)
}

// awaitAuthorization は認可手順を表示して終了まで待ち、成功以外をエラーとして返す。
func awaitAuthorization(ctx context.Context, w io.Writer, h *deviceauth.Handle) error {
	if w == nil {
		w = os.Stdout
	}
	fmt.Fprintf(w, "Open %s and enter code %s (expires at %s)\n",
		h.VerificationURL(), h.UserCode(), h.ExpiresAt().Format(time.RFC3339))

	res, err := h.Wait(ctx)
	if err != nil {
		return fmt.Errorf("authorization for slot %d interrupted: %w", h.Slot(), err)
	}
	if res.State != deviceauth.StateGranted {
		if res.Err != nil {
			return fmt.Errorf("authorization for slot %d ended in %s: %w", res.Slot, res.State, res.Err)
		}
		return fmt.Errorf("authorization for slot %d ended in %s", res.Slot, res.State)
	}

	fmt.Fprintf(w, "Credential slot %d authorized\n", res.Slot)
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	res, err := database.RunMigrations(cfg.DatabaseURL, slog.Default())
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(res.After.Version)),
		slog.Bool("applied", res.Applied()),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
