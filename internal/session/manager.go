package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// StoreGauge はアクティブなStore数の記録先。
type StoreGauge interface {
	SetActiveStores(n int)
}

// ManagerConfig はManagerの設定。
type ManagerConfig struct {
	IdleTTL         time.Duration // 最終アクセスからStoreを破棄するまでの時間
	CleanupInterval time.Duration // アイドルStoreの掃除間隔
	HydrateTimeout  time.Duration // スナップショット読み込みのタイムアウト
}

// DefaultManagerConfig はデフォルトのManager設定を返す。
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		IdleTTL:         30 * time.Minute,
		CleanupInterval: 5 * time.Minute,
		HydrateTimeout:  5 * time.Second,
	}
}

type managedStore struct {
	store      *Store
	lastAccess time.Time
}

// Manager はブラウザセッションキーごとのStoreを管理する。
// 初回アクセス時にStoreを生成し、スナップショットの復元をバックグラウンドで開始する。
// 一定時間アクセスのないStoreはメモリから破棄する（永続化済みの内容は残る）。
type Manager struct {
	repo   Repository
	config ManagerConfig
	gauge  StoreGauge

	mu     sync.Mutex
	stores map[string]*managedStore

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewManager は新しいManagerを生成し、掃除ループを開始する。
// gaugeはnilでもよい。
func NewManager(repo Repository, config ManagerConfig, gauge StoreGauge) *Manager {
	m := &Manager{
		repo:   repo,
		config: config,
		gauge:  gauge,
		stores: make(map[string]*managedStore),
		stopCh: make(chan struct{}),
	}

	if config.CleanupInterval > 0 {
		go m.cleanupLoop()
	}

	return m
}

// Get は指定キーのStoreを返す。未生成の場合は生成して復元を開始する。
// 復元の完了はStore.Readyで待つ。
func (m *Manager) Get(key string) *Store {
	m.mu.Lock()
	entry, ok := m.stores[key]
	if ok {
		entry.lastAccess = time.Now()
		m.mu.Unlock()
		return entry.store
	}

	store := NewStore(key, m.repo)
	m.stores[key] = &managedStore{store: store, lastAccess: time.Now()}
	n := len(m.stores)
	m.mu.Unlock()

	m.report(n)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.config.HydrateTimeout)
		defer cancel()
		store.Hydrate(ctx)
	}()

	return store
}

// New は発行したばかりのキーのStoreを返す。
// 保存済みスナップショットがないため復元は行わず、メモリ上でも管理しない。
// 変更操作はRepositoryへ保存され、次回以降のGetが復元する。
func (m *Manager) New(key string) *Store {
	return NewEmptyStore(key, m.repo)
}

// Discard は指定キーのStoreをメモリから破棄する。
func (m *Manager) Discard(key string) {
	m.mu.Lock()
	delete(m.stores, key)
	n := len(m.stores)
	m.mu.Unlock()

	m.report(n)
}

// Len は管理中のStore数を返す。テストおよびメトリクス用。
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stores)
}

// Stop は掃除ループを停止する。
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanup(time.Now())
		case <-m.stopCh:
			return
		}
	}
}

// cleanup は最終アクセスからIdleTTLを超えたStoreを破棄する。
func (m *Manager) cleanup(now time.Time) {
	m.mu.Lock()
	removed := 0
	for key, entry := range m.stores {
		if now.Sub(entry.lastAccess) > m.config.IdleTTL {
			delete(m.stores, key)
			removed++
		}
	}
	n := len(m.stores)
	m.mu.Unlock()

	if removed > 0 {
		slog.Debug("idle session stores evicted",
			slog.Int("removed", removed),
			slog.Int("remaining", n),
		)
	}
	m.report(n)
}

func (m *Manager) report(n int) {
	if m.gauge != nil {
		m.gauge.SetActiveStores(n)
	}
}
