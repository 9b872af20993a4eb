package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// PanicHandler はpanicから復帰したリクエストに応答を書き込む。
type PanicHandler func(w http.ResponseWriter, r *http.Request, err error)

// NewRecoveryMiddleware はpanic発生時にプロセスクラッシュを防ぎ、
// 500レスポンスを返すミドルウェアを生成する。
// onPanicを指定した場合はエラー画面の描画をそれに任せる。nilならプレーンテキストを返す。
func NewRecoveryMiddleware(onPanic PanicHandler) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				slog.Error("panic recovered",
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("user_id", UserIDFromContext(r)),
					slog.String("stack", string(debug.Stack())),
				)

				if onPanic == nil {
					http.Error(w, "internal server error", http.StatusInternalServerError)
					return
				}
				onPanic(w, r, fmt.Errorf("panic: %v", rec))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
