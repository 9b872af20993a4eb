package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/servease-console/internal/guard"
	"github.com/hitoshi/servease-console/internal/middleware"
	"github.com/hitoshi/servease-console/internal/model"
	"github.com/hitoshi/servease-console/internal/route"
	"github.com/hitoshi/servease-console/internal/view"
)

// healthCheckTimeout はヘルスチェックで依存先の応答を待つ最大時間。
const healthCheckTimeout = 2 * time.Second

// HealthChecker はセッションの保存先などの疎通を確認する。
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// 画面
	Screens   *Screens
	Responder *view.Responder

	// ミドルウェア依存
	StoreProvider middleware.StoreProvider
	SessionConfig middleware.SessionConfig
	CSRFConfig    middleware.CSRFConfig
	RateLimiter   *middleware.RateLimiter
	Logger        *slog.Logger

	// ルーティング
	Recorder        guard.Recorder
	LoadWait        time.Duration
	BlockedStatuses []model.AccountStatus

	// 運用エンドポイント。nilなら登録しない。
	MetricsHandler http.Handler
	HealthChecker  HealthChecker
}

// NewRouter は全画面のルーティングとミドルウェアチェーンを構成したhttp.Handlerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Session → Logging → CSRF → RateLimit(General)
//
// /health と /metrics はセッションチェーンの外に配置する。
func NewRouter(deps *RouterDeps) (http.Handler, error) {
	table, err := route.Build(route.Config{
		Factories:       deps.Screens.Factories(),
		BlockedStatuses: deps.BlockedStatuses,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build route table: %w", err)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// multipartを受け付ける画面は本人確認書類の提出のみ
	csrfConfig := deps.CSRFConfig
	if csrfConfig.MaxMultipartBytes == 0 {
		csrfConfig.MaxMultipartBytes = maxKYCUpload
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(deps.Responder.LoadFailed))

	// --- セッション不要のルート ---
	r.Get("/health", healthHandler(deps.HealthChecker, logger))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- 画面 ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSecurityHeadersMiddleware())
		r.Use(middleware.NewSessionMiddleware(deps.StoreProvider, deps.SessionConfig))
		r.Use(middleware.NewLoggingMiddleware(logger))
		r.Use(middleware.NewCSRFMiddleware(csrfConfig))
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
		}

		route.Mount(r, table, route.MountOptions{
			Responder:   deps.Responder,
			Recorder:    deps.Recorder,
			LoadWait:    deps.LoadWait,
			OnLoadError: deps.Responder.LoadFailed,
		})
	})

	return r, nil
}

type healthResponse struct {
	Status string `json:"status"`
}

// healthHandler は稼働状況をJSONで返す。checkerが失敗した場合は503を返す。
func healthHandler(checker HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()
			if err := checker.Ping(ctx); err != nil {
				logger.Warn("health check failed", slog.String("error", err.Error()))
				status, code = "unavailable", http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(healthResponse{Status: status})
	}
}
