package route

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/servease-console/internal/guard"
)

type contextKey string

var descriptorContextKey = contextKey("route_descriptor")

// WithDescriptor はルート定義をコンテキストに格納する。
func WithDescriptor(ctx context.Context, d Descriptor) context.Context {
	return context.WithValue(ctx, descriptorContextKey, d)
}

// DescriptorFromContext はコンテキストからルート定義を取得する。
func DescriptorFromContext(ctx context.Context) (Descriptor, bool) {
	d, ok := ctx.Value(descriptorContextKey).(Descriptor)
	return d, ok
}

// MountOptions はMountの依存関係。
type MountOptions struct {
	Responder guard.Responder
	Recorder  guard.Recorder
	// LoadWait は画面の生成を待つ最大時間。超えた場合はローディング画面を返す。
	LoadWait time.Duration
	// OnLoadError は画面の生成に失敗した場合の描画。
	OnLoadError func(w http.ResponseWriter, r *http.Request, err error)
}

// Mount はテーブルの全ルートをルーターに登録する。
// 各ルートはガードチェーン、ルート定義のコンテキスト格納、遅延ロード画面の順に処理される。
func Mount(r chi.Router, t *Table, opts MountOptions) {
	for _, d := range t.descriptors {
		var h http.Handler = screenHandler(d, opts)
		h = withDescriptor(d, h)
		if len(d.Guards) > 0 {
			h = guard.Middleware(d.Guards, opts.Responder, opts.Recorder)(h)
		}
		r.Mount(d.Path, h)
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, HomePath, http.StatusFound)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, FallbackPath, http.StatusFound)
	})
}

func withDescriptor(d Descriptor, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithDescriptor(r.Context(), d)))
	})
}

func screenHandler(d Descriptor, opts MountOptions) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if opts.LoadWait > 0 && !d.Screen.Loaded() {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, opts.LoadWait)
			defer cancel()
		}

		h, err := d.Screen.Get(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && r.Context().Err() == nil {
				opts.Responder.Loading(w, r)
				return
			}
			if r.Context().Err() != nil {
				return
			}
			slog.Error("failed to load screen",
				slog.String("screen", string(d.Key)),
				slog.String("error", err.Error()),
			)
			if opts.OnLoadError != nil {
				opts.OnLoadError(w, r, err)
				return
			}
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		h.ServeHTTP(w, r)
	})
}
