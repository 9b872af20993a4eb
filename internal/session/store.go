// Package session はブラウザセッションごとの認証状態ストアを提供する。
//
// Storeは認証済みユーザーのIdentity、ベアラートークン、起動時のローディングフラグを保持する。
// 読み取りは不変コピーで行い、書き込みは名前付きの変更操作からのみ行う。
// 変更のたびにスナップショット（Identityとトークンのみ）をRepositoryへ保存する。
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/servease-console/internal/model"
)

// Repository はセッションスナップショットの永続化インターフェース。
// UI層は具体的な保存先ではなくこのインターフェースに依存する。
type Repository interface {
	// Load は指定キーのスナップショットを取得する。存在しない場合はnilを返す。
	Load(ctx context.Context, key string) (*model.Snapshot, error)
	// Save は指定キーにスナップショットを保存する。
	Save(ctx context.Context, key string, snapshot model.Snapshot) error
	// Clear は指定キーのスナップショットを削除する。
	Clear(ctx context.Context, key string) error
}

// State はストアが保持する認証状態。
// Identityがnilの場合は未認証を表す。
type State struct {
	Identity     *model.Identity
	AccessToken  string
	RefreshToken string
	IsLoading    bool
}

// IsAuthenticated はIdentityを保持しているかを返す。
func (s State) IsAuthenticated() bool {
	return s.Identity != nil
}

// HasPermission は権限文字列を保持しているかを返す。未認証の場合はfalse。
func (s State) HasPermission(permission string) bool {
	return s.Identity.HasPermission(permission)
}

// Snapshot は永続化対象の部分だけを取り出す。
func (s State) Snapshot() model.Snapshot {
	return model.Snapshot{
		Identity:     s.Identity.Clone(),
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
	}
}

func (s State) clone() State {
	s.Identity = s.Identity.Clone()
	return s
}

// Listener は状態遷移の通知を受け取る関数。
type Listener func(State)

// Store はひとつのブラウザセッションの認証状態を保持する。
// 各変更操作は単一の状態遷移として適用され、読み取り側が途中状態を観測することはない。
// 並行する書き込みは後勝ちとなる。
type Store struct {
	key  string
	repo Repository

	// writeMu は状態遷移と永続化の順序を揃えるためのロック。
	writeMu sync.Mutex
	// mutated はHydrateより先に変更操作が行われたか。writeMuで保護する。
	mutated bool

	mu        sync.RWMutex
	state     State
	listeners map[int]Listener
	nextID    int

	ready     chan struct{}
	readyOnce sync.Once
}

// NewStore はローディング中の空のStoreを生成する。
// Hydrateが完了するまでIsLoadingはtrueのまま。
func NewStore(key string, repo Repository) *Store {
	return &Store{
		key:       key,
		repo:      repo,
		state:     State{IsLoading: true},
		listeners: make(map[int]Listener),
		ready:     make(chan struct{}),
	}
}

// NewEmptyStore は発行したばかりのキー向けに、復元済みの空のStoreを生成する。
// 保存済みスナップショットが存在しえないため、永続化層の読み込みを行わない。
func NewEmptyStore(key string, repo Repository) *Store {
	s := NewStore(key, repo)
	s.state.IsLoading = false
	s.readyOnce.Do(func() { close(s.ready) })
	return s
}

// Key はストアに対応するブラウザセッションキーを返す。
func (s *Store) Key() string {
	return s.key
}

// State は現在の状態の不変コピーを返す。
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// HasPermission は現在のIdentityが権限文字列を保持しているかを返す。
// Identityがない場合はfalse。
func (s *Store) HasPermission(permission string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.HasPermission(permission)
}

// Ready はHydrateの完了時にcloseされるチャネルを返す。
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

// Subscribe は状態遷移ごとに呼ばれるリスナーを登録し、登録解除関数を返す。
// リスナーはロックの外で、遷移後の状態のコピーを受け取る。
func (s *Store) Subscribe(l Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// SetIdentity はIdentityを置き換える。検証は行わない。
func (s *Store) SetIdentity(ctx context.Context, identity *model.Identity) error {
	return s.mutate(ctx, func(st *State) {
		st.Identity = identity.Clone()
	})
}

// SetAccessToken はアクセストークンを置き換える。空文字列はトークンなしを表す。
func (s *Store) SetAccessToken(ctx context.Context, token string) error {
	return s.mutate(ctx, func(st *State) {
		st.AccessToken = token
	})
}

// SetRefreshToken はリフレッシュトークンを置き換える。空文字列はトークンなしを表す。
func (s *Store) SetRefreshToken(ctx context.Context, token string) error {
	return s.mutate(ctx, func(st *State) {
		st.RefreshToken = token
	})
}

// SignIn はIdentityと両トークンを単一の状態遷移で書き込む。
// OTP検証成功時に使用する。
func (s *Store) SignIn(ctx context.Context, identity *model.Identity, accessToken, refreshToken string) error {
	return s.mutate(ctx, func(st *State) {
		st.Identity = identity.Clone()
		st.AccessToken = accessToken
		st.RefreshToken = refreshToken
	})
}

// SetLoading はローディングフラグを切り替える。永続化はしない。
func (s *Store) SetLoading(loading bool) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.apply(func(st *State) {
		st.IsLoading = loading
	})
}

// Logout はIdentityと両トークンを単一の状態遷移でクリアし、保存済みスナップショットを削除する。
// 冪等: 2回呼んでも1回呼んだ場合と同じ状態になる。
func (s *Store) Logout(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mutated = true
	s.apply(func(st *State) {
		st.Identity = nil
		st.AccessToken = ""
		st.RefreshToken = ""
	})

	if err := s.repo.Clear(ctx, s.key); err != nil {
		return fmt.Errorf("failed to clear session snapshot: %w", err)
	}
	return nil
}

// Hydrate は保存済みスナップショットから状態を復元し、ローディングを終了する。
// 読み込みやパースに失敗した場合は未ログインとして扱い、エラーにはしない。
// 読み込み中に変更操作が行われた場合は、読み込んだスナップショットを適用しない。
// 2回目以降の呼び出しは何もしない。
func (s *Store) Hydrate(ctx context.Context) {
	select {
	case <-s.ready:
		return
	default:
	}

	snapshot, err := s.repo.Load(ctx, s.key)
	if err != nil {
		slog.Warn("failed to load session snapshot, starting logged out",
			slog.String("error", err.Error()),
		)
		snapshot = nil
	}

	s.writeMu.Lock()
	stale := s.mutated
	s.apply(func(st *State) {
		if snapshot != nil && !stale {
			st.Identity = snapshot.Identity.Clone()
			st.AccessToken = snapshot.AccessToken
			st.RefreshToken = snapshot.RefreshToken
		}
		st.IsLoading = false
	})
	s.writeMu.Unlock()

	s.readyOnce.Do(func() { close(s.ready) })
}

// mutate は状態遷移を適用し、スナップショットを永続化する。
func (s *Store) mutate(ctx context.Context, fn func(*State)) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mutated = true
	next := s.apply(fn)

	// 未ログイン状態と等価になった場合は空のスナップショットを残さない
	snapshot := next.Snapshot()
	if snapshot.IsEmpty() {
		if err := s.repo.Clear(ctx, s.key); err != nil {
			return fmt.Errorf("failed to clear session snapshot: %w", err)
		}
		return nil
	}

	if err := s.repo.Save(ctx, s.key, snapshot); err != nil {
		return fmt.Errorf("failed to save session snapshot: %w", err)
	}
	return nil
}

// apply は新しい状態を組み立てて1回の代入で差し替え、リスナーへ通知する。
// 呼び出し側はwriteMuを保持していること。
func (s *Store) apply(fn func(*State)) State {
	s.mu.Lock()
	next := s.state.clone()
	fn(&next)
	s.state = next

	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(next.clone())
	}
	return next
}
