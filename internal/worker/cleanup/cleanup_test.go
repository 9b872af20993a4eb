package cleanup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

// mockPurger はPurgerのモック実装。
type mockPurger struct {
	mu     sync.Mutex
	calls  int
	result int64
	err    error
}

func (m *mockPurger) PurgeExpired(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.result, m.err
}

func (m *mockPurger) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockRecorder struct {
	purged []int
}

func (m *mockRecorder) RecordSnapshotsPurged(count int) {
	m.purged = append(m.purged, count)
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func TestNewCleanupJob_DefaultInterval(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockPurger{}, newTestLogger(&buf), nil)

	if job == nil {
		t.Fatal("NewCleanupJob は nil を返してはならない")
	}
	if job.Interval != 24*time.Hour {
		t.Errorf("Interval = %v, want 24h", job.Interval)
	}
}

func TestCleanupJob_Run_PurgesAndRecords(t *testing.T) {
	var buf bytes.Buffer
	purger := &mockPurger{result: 7}
	rec := &mockRecorder{}
	job := NewCleanupJob(purger, newTestLogger(&buf), rec)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run がエラーを返した: %v", err)
	}

	if purger.callCount() != 1 {
		t.Errorf("PurgeExpired calls = %d, want 1", purger.callCount())
	}
	if len(rec.purged) != 1 || rec.purged[0] != 7 {
		t.Errorf("recorded = %v, want [7]", rec.purged)
	}
}

func TestCleanupJob_Run_LogsDeletedCount(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockPurger{result: 3}, newTestLogger(&buf), nil)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run がエラーを返した: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("ログのパースに失敗: %v", err)
	}
	if entry["deleted_count"] != float64(3) {
		t.Errorf("deleted_count = %v, want 3", entry["deleted_count"])
	}
}

func TestCleanupJob_Run_ReturnsErrorOnFailure(t *testing.T) {
	var buf bytes.Buffer
	rec := &mockRecorder{}
	job := NewCleanupJob(&mockPurger{err: errors.New("connection refused")}, newTestLogger(&buf), rec)

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("Run はエラーを返すべき")
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("元のエラーがラップされていない: %v", err)
	}
	if len(rec.purged) != 0 {
		t.Error("失敗時は削除件数を記録してはならない")
	}
	if !strings.Contains(buf.String(), "ERROR") {
		t.Error("失敗時はエラーログを出力すべき")
	}
}

func TestCleanupJob_Run_NothingToDelete_IsNotError(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockPurger{result: 0}, newTestLogger(&buf), nil)

	if err := job.Run(context.Background()); err != nil {
		t.Errorf("削除対象なしでエラーになってはならない: %v", err)
	}
}

func TestCleanupJob_Start_RunsImmediatelyAndOnTicks(t *testing.T) {
	var buf bytes.Buffer
	purger := &mockPurger{}
	job := NewCleanupJob(purger, newTestLogger(&buf), nil)
	job.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for purger.callCount() < 3 {
		select {
		case <-deadline:
			t.Fatalf("calls = %d, want >= 3", purger.callCount())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start はキャンセル後に終了すべき")
	}
}
