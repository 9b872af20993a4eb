package route

import (
	"context"
	"net/http"
	"sync"
)

// Factory は画面ハンドラーを生成する関数。テンプレートの解析などの初期化を含む。
type Factory func() (http.Handler, error)

// Lazy は初回アクセス時に一度だけ画面を生成する遅延ロード単位。
// 生成中の並行アクセスは同じ結果を待つ。生成エラーもキャッシュする。
type Lazy struct {
	factory Factory
	once    sync.Once
	done    chan struct{}
	handler http.Handler
	err     error
}

// NewLazy は新しいLazyを生成する。factoryはまだ呼ばれない。
func NewLazy(factory Factory) *Lazy {
	return &Lazy{
		factory: factory,
		done:    make(chan struct{}),
	}
}

// Start は生成を開始する。既に開始済みの場合は何もしない。
func (l *Lazy) Start() {
	l.once.Do(func() {
		go func() {
			defer close(l.done)
			l.handler, l.err = l.factory()
		}()
	})
}

// Get は生成を開始し、完了まで待って結果を返す。
// ctxが先に終了した場合はctx.Err()を返す。生成自体は継続する。
func (l *Lazy) Get(ctx context.Context) (http.Handler, error) {
	l.Start()
	select {
	case <-l.done:
		return l.handler, l.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Loaded は生成が完了しているかを返す。
func (l *Lazy) Loaded() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}
