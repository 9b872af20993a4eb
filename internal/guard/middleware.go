package guard

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/servease-console/internal/model"
	"github.com/hitoshi/servease-console/internal/session"
)

const (
	// LoginPath は未認証時のリダイレクト先。
	LoginPath = "/auth/login"
	// AccessDeniedPath は利用者種別が一致しない場合のリダイレクト先。
	AccessDeniedPath = "/access-denied"
)

// Responder はリダイレクト以外の判定結果を描画する。
type Responder interface {
	// Loading はセッション復元中の中立なローディング画面を描画する。
	Loading(w http.ResponseWriter, r *http.Request)
	// Blocked はアカウント停止の通知画面を描画する。
	Blocked(w http.ResponseWriter, r *http.Request, status model.AccountStatus)
	// Forbidden は権限不足で操作を拒否したことを描画する。
	Forbidden(w http.ResponseWriter, r *http.Request, permission string)
}

// Recorder はガード判定の記録先。
type Recorder interface {
	RecordGuardDecision(guard string, outcome string)
}

// Middleware はガードチェーンを評価し、通過した場合のみ次のハンドラーを呼ぶミドルウェアを返す。
// セッションミドルウェアの後に配置すること。recorderはnilでもよい。
func Middleware(chain Chain, responder Responder, recorder Recorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state := session.StateFromContext(r.Context())
			decision, guardName := chain.Evaluate(state)

			if recorder != nil {
				recorder.RecordGuardDecision(guardName, string(decision.Outcome))
			}

			switch decision.Outcome {
			case OutcomePass:
				next.ServeHTTP(w, r)
			case OutcomeLoading:
				responder.Loading(w, r)
			case OutcomeRedirectLogin:
				http.Redirect(w, r, LoginPath, http.StatusFound)
			case OutcomeBlocked:
				slog.Info("blocked account denied",
					slog.String("path", r.URL.Path),
					slog.String("status", string(decision.Status)),
				)
				responder.Blocked(w, r, decision.Status)
			case OutcomeRedirectAccessDenied:
				http.Redirect(w, r, AccessDeniedPath, http.StatusFound)
			default:
				http.Redirect(w, r, LoginPath, http.StatusFound)
			}
		})
	}
}

// RequirePermission は操作用エンドポイントを権限で保護するミドルウェアを返す。
// 権限がない場合はバックエンドを呼ばずに拒否する。
func RequirePermission(permission string, responder Responder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !Allowed(session.StateFromContext(r.Context()), permission) {
				slog.Warn("permission denied",
					slog.String("path", r.URL.Path),
					slog.String("permission", permission),
				)
				responder.Forbidden(w, r, permission)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
