package watch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"spreadwatch/internal/aggregate"
	"spreadwatch/internal/alert"
	"spreadwatch/internal/config"
	"spreadwatch/internal/model"
)

type recordingSink struct {
	mu      sync.Mutex
	updates []model.PriceUpdate
	err     error
}

func (s *recordingSink) Record(ctx context.Context, u model.PriceUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, u)
	return s.err
}

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Migrate(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockRepository) LogSpreadAlert(ctx context.Context, a model.SpreadAlert) error {
	return m.Called(ctx, a).Error(0)
}

func (m *MockRepository) RecentSpreadAlerts(ctx context.Context, symbol string, limit int) ([]model.SpreadAlert, error) {
	args := m.Called(ctx, symbol, limit)
	return nil, args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestWatcher_Run(t *testing.T) {
	store := aggregate.NewStore(10)
	repo := new(MockRepository)
	repo.On("LogSpreadAlert", mock.Anything, mock.MatchedBy(func(a model.SpreadAlert) bool {
		return a.Symbol == "BTC" && a.HighVenue == model.VenueVertex
	})).Return(nil).Once()
	monitor := alert.NewSpreadMonitor(testLogger(), repo, config.AlertConfig{Enabled: true, ThresholdPercent: 2.0})
	good := &recordingSink{}
	bad := &recordingSink{err: errors.New("redis down")}

	w := NewWatcher(testLogger(), store, monitor, good, bad)

	updates := make(chan model.PriceUpdate, 8)
	updates <- model.PriceUpdate{Symbol: "BTC", Price: 100, Timestamp: 1, Source: model.VenueReya}
	updates <- model.PriceUpdate{Symbol: "BTC", Price: 105, Timestamp: 2, Source: model.VenueVertex}
	updates <- model.PriceUpdate{Symbol: "BTC", Price: 0, Timestamp: 3, Source: model.VenueVertex}
	close(updates)

	require.NoError(t, w.Run(context.Background(), updates))

	applied, dropped := w.Stats()
	assert.Equal(t, int64(2), applied)
	assert.Equal(t, int64(1), dropped)
	assert.Equal(t, aggregate.FullData, store.State("BTC"))
	assert.Len(t, good.updates, 2)
	assert.Len(t, bad.updates, 2, "a failing sink does not stop the stream")
	repo.AssertExpectations(t)
}

func TestWatcher_StopsOnCancel(t *testing.T) {
	w := NewWatcher(testLogger(), aggregate.NewStore(10), nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, make(chan model.PriceUpdate)) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}

type blockingSink struct {
	release chan struct{}
	got     atomic.Int32
}

func (s *blockingSink) Record(ctx context.Context, u model.PriceUpdate) error {
	<-s.release
	s.got.Add(1)
	return nil
}

func TestWatcher_SlowSinkDoesNotStallStore(t *testing.T) {
	store := aggregate.NewStore(10)
	sink := &blockingSink{release: make(chan struct{})}
	w := NewWatcher(testLogger(), store, nil, sink)
	w.sinkTimeout = 5 * time.Second

	updates := make(chan model.PriceUpdate)
	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background(), updates) }()

	for i := 1; i <= 3; i++ {
		updates <- model.PriceUpdate{Symbol: "BTC", Price: float64(100 + i), Timestamp: int64(i), Source: model.VenueReya}
	}
	require.Eventually(t, func() bool {
		applied, _ := w.Stats()
		return applied == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), sink.got.Load())

	close(sink.release)
	close(updates)
	require.NoError(t, <-done)
	assert.Equal(t, int32(3), sink.got.Load(), "queued updates are flushed before Run returns")
	assert.Zero(t, w.QueueDrops())
}

func TestWatcher_FullQueueDrops(t *testing.T) {
	store := aggregate.NewStore(10)
	sink := &blockingSink{release: make(chan struct{})}
	w := NewWatcher(testLogger(), store, nil, sink)
	w.queueSize = 1

	updates := make(chan model.PriceUpdate)
	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background(), updates) }()

	updates <- model.PriceUpdate{Symbol: "BTC", Price: 1, Timestamp: 1, Source: model.VenueReya}
	// Wait for the worker to take the first job so the queue is empty again.
	require.Eventually(t, func() bool {
		applied, _ := w.Stats()
		return applied == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	updates <- model.PriceUpdate{Symbol: "BTC", Price: 2, Timestamp: 2, Source: model.VenueReya}
	updates <- model.PriceUpdate{Symbol: "BTC", Price: 3, Timestamp: 3, Source: model.VenueReya}
	require.Eventually(t, func() bool { return w.QueueDrops() == 1 }, time.Second, 5*time.Millisecond)

	applied, _ := w.Stats()
	assert.Equal(t, int64(3), applied, "the store sees every update")

	close(sink.release)
	close(updates)
	require.NoError(t, <-done)
	assert.Equal(t, int32(2), sink.got.Load())
}
