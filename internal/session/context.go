package session

import "context"

type contextKey string

var (
	storeContextKey = contextKey("session_store")
	pathContextKey  = contextKey("current_path")
)

// NewContext はStoreを格納したコンテキストを返す。
func NewContext(ctx context.Context, store *Store) context.Context {
	return context.WithValue(ctx, storeContextKey, store)
}

// FromContext はコンテキストからStoreを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func FromContext(ctx context.Context) (*Store, bool) {
	store, ok := ctx.Value(storeContextKey).(*Store)
	return store, ok && store != nil
}

// StateFromContext はコンテキストのStoreの現在状態を返す。
// Storeがない場合は未認証かつローディング完了の状態を返す。
func StateFromContext(ctx context.Context) State {
	if store, ok := FromContext(ctx); ok {
		return store.State()
	}
	return State{}
}

// WithCurrentPath はブラウザが表示中のパスをコンテキストに格納する。
// バックエンドクライアントが401を受けた際の判定に使う。
func WithCurrentPath(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, pathContextKey, path)
}

// CurrentPath はコンテキストに格納された表示中のパスを返す。
func CurrentPath(ctx context.Context) string {
	path, _ := ctx.Value(pathContextKey).(string)
	return path
}
