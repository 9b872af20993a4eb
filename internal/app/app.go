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
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/servease-console/internal/backend"
	"github.com/hitoshi/servease-console/internal/config"
	"github.com/hitoshi/servease-console/internal/database"
	"github.com/hitoshi/servease-console/internal/guard"
	"github.com/hitoshi/servease-console/internal/handler"
	"github.com/hitoshi/servease-console/internal/logger"
	"github.com/hitoshi/servease-console/internal/metrics"
	"github.com/hitoshi/servease-console/internal/middleware"
	"github.com/hitoshi/servease-console/internal/repository"
	"github.com/hitoshi/servease-console/internal/route"
	"github.com/hitoshi/servease-console/internal/security"
	"github.com/hitoshi/servease-console/internal/session"
	"github.com/hitoshi/servease-console/internal/view"
	"github.com/hitoshi/servease-console/internal/worker/cleanup"
)

// mediaPreflightTimeout はカバー画像URLの事前確認に使うタイムアウト。
const mediaPreflightTimeout = 5 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

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
		slog.String("base_url", cfg.BaseURL),
		slog.String("session_store", cfg.SessionStore),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// pingFunc は関数をhandler.HealthCheckerとして使うためのアダプタ。
type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// snapshotStore はSESSION_STOREに応じて構築したスナップショット保存先。
type snapshotStore struct {
	repo   session.Repository
	health handler.HealthChecker
	// purger はexpires_atで失効を管理するストアのみ設定される。
	purger cleanup.Purger
	close  func()
}

// openSnapshotStore は設定に従ってスナップショット保存先を開く。
func openSnapshotStore(cfg *config.Config) (*snapshotStore, error) {
	maxAge := cfg.SessionMaxAgeDuration()

	switch cfg.SessionStore {
	case config.SessionStorePostgres:
		db, err := openDatabase(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		repo := repository.NewPostgresSnapshotRepo(db, maxAge)
		return &snapshotStore{
			repo:   repo,
			health: pingFunc(db.PingContext),
			purger: repo,
			close:  func() { db.Close() },
		}, nil

	case config.SessionStoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		repo := repository.NewRedisSnapshotRepo(client, maxAge)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := repo.Ping(ctx); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		slog.Info("redis connection established", slog.String("addr", cfg.RedisAddr))
		return &snapshotStore{
			repo:   repo,
			health: repo,
			close:  func() { client.Close() },
		}, nil

	default:
		repo := repository.NewMemorySnapshotRepo(maxAge)
		return &snapshotStore{
			repo:   repo,
			purger: repo,
			close:  func() {},
		}, nil
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(databaseURL string) (*sql.DB, error) {
	db, err := database.Open(databaseURL)
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

// runServe はコンソールサーバーモードで起動する。
// スナップショット保存先を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 2. セッションスナップショットの保存先
	store, err := openSnapshotStore(cfg)
	if err != nil {
		return err
	}
	defer store.close()

	managerCfg := session.DefaultManagerConfig()
	managerCfg.IdleTTL = cfg.SessionIdleTTL
	manager := session.NewManager(store.repo, managerCfg, collector)
	defer manager.Stop()

	// 3. バックエンドAPIクライアント
	client := backend.NewClient(
		cfg.BackendAPIBaseURL,
		&http.Client{Timeout: cfg.BackendTimeout},
		slog.Default(),
		backend.WithRecorder(collector),
		backend.WithAuthEntryMatcher(route.IsAuthEntryPath),
	)

	// 4. 描画とセキュリティ
	sanitizer := security.NewHTMLSanitizer()
	renderer, err := view.NewRenderer(slog.Default(), sanitizer)
	if err != nil {
		return fmt.Errorf("failed to parse templates: %w", err)
	}
	responder, err := view.NewResponder(renderer)
	if err != nil {
		return fmt.Errorf("failed to build status screens: %w", err)
	}

	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitAuth),
	)
	defer rateLimiter.Stop()

	sessionConfig := middleware.SessionConfig{
		Secret:       cfg.SessionSecret,
		MaxAge:       cfg.SessionMaxAge,
		HydrateWait:  cfg.HydrateWait,
		CookieSecure: cfg.CookieSecure,
		CookieDomain: cfg.CookieDomain,
	}

	// 5. 画面
	screens := handler.NewScreens(handler.ScreenDeps{
		Backend:      client,
		Renderer:     renderer,
		Responder:    responder,
		Sanitizer:    sanitizer,
		MediaURL:     security.NewMediaURLGuard(mediaPreflightTimeout),
		Logger:       slog.Default(),
		AuthLimit:    rateLimiter.AuthMiddleware(),
		Sessions:     middleware.NewSessionRotator(manager, sessionConfig),
		CookieSecure: cfg.CookieSecure,
	})

	// 6. ルーターの構築
	deps := &handler.RouterDeps{
		Screens:       screens,
		Responder:     responder,
		StoreProvider: manager,
		SessionConfig: sessionConfig,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter:     rateLimiter,
		Logger:          slog.Default(),
		Recorder:        collector,
		BlockedStatuses: guard.DefaultBlockedStatuses(),
		HealthChecker:   store.health,
	}
	if cfg.MetricsEnabled {
		deps.MetricsHandler = metrics.Handler(registry)
	}

	router, err := handler.NewRouter(deps)
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// メモリストアは別プロセスのworkerから掃除できないため、サーバー内で実行する
	if cfg.SessionStore == config.SessionStoreMemory && store.purger != nil {
		go cleanup.NewCleanupJob(store.purger, slog.Default(), collector).Start(ctx)
	}

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("console server starting",
			slog.String("addr", server.Addr),
			slog.String("backend", cfg.BackendAPIBaseURL),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down console server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("console server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// PostgreSQLに保存した期限切れスナップショットを定期的に削除する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	if cfg.SessionStore != config.SessionStorePostgres {
		return fmt.Errorf("worker requires SESSION_STORE=%s (got %q)", config.SessionStorePostgres, cfg.SessionStore)
	}

	db, err := openDatabase(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	repo := repository.NewPostgresSnapshotRepo(db, cfg.SessionMaxAgeDuration())
	collector := metrics.NewCollector(prometheus.NewRegistry())
	job := cleanup.NewCleanupJob(repo, slog.Default(), collector)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting", slog.Duration("interval", job.Interval))

	job.Start(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("migrate requires DATABASE_URL")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
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
