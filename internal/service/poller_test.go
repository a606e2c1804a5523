package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/campus-tools/canvaswatch/internal/dto"
)

type stubSnapshotService struct {
	mu       sync.Mutex
	snapshot dto.Snapshot
	err      error
	calls    int
	block    chan struct{}
}

func (s *stubSnapshotService) Build(ctx context.Context, _ Options) (dto.Snapshot, error) {
	s.mu.Lock()
	s.calls++
	block := s.block
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return dto.Snapshot{}, ctx.Err()
		}
	}
	return s.snapshot, s.err
}

func (s *stubSnapshotService) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type staticOptions struct{ err error }

func (s staticOptions) Resolve(context.Context) (Options, error) {
	return Options{DaysAhead: 42, Timezone: time.UTC}, s.err
}

func newTestPoller(service SnapshotService, store *SnapshotStore) *Poller {
	return NewPoller(service, staticOptions{}, store, nil, "", time.Minute, zerolog.Nop())
}

func TestRefreshPublishesOnSuccess(t *testing.T) {
	snapshot := snapshotFixture(time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC))
	stub := &stubSnapshotService{snapshot: snapshot}
	store := NewSnapshotStore(nil, zerolog.Nop())

	poller := newTestPoller(stub, store)
	require.NoError(t, poller.Refresh(context.Background()))

	latest, ok := store.Latest()
	require.True(t, ok)
	require.Equal(t, snapshot, latest)
	require.False(t, store.Health().Degraded)
}

func TestRefreshFailureRetainsPreviousSnapshot(t *testing.T) {
	snapshot := snapshotFixture(time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC))
	stub := &stubSnapshotService{snapshot: snapshot}
	store := NewSnapshotStore(nil, zerolog.Nop())
	poller := newTestPoller(stub, store)

	require.NoError(t, poller.Refresh(context.Background()))

	stub.mu.Lock()
	stub.err = errors.New("canvas exploded")
	stub.mu.Unlock()

	require.Error(t, poller.Refresh(context.Background()))

	latest, ok := store.Latest()
	require.True(t, ok)
	require.Equal(t, snapshot, latest)
	require.True(t, store.Health().Degraded)
}

func TestRefreshFailsWhenOptionsUnresolvable(t *testing.T) {
	stub := &stubSnapshotService{}
	store := NewSnapshotStore(nil, zerolog.Nop())
	poller := NewPoller(stub, staticOptions{err: errors.New("bad options")}, store, nil, "", time.Minute, zerolog.Nop())

	require.Error(t, poller.Refresh(context.Background()))
	require.Zero(t, stub.callCount())
	require.True(t, store.Health().Degraded)
}

func TestRefreshSkipsOverlappingCycle(t *testing.T) {
	block := make(chan struct{})
	stub := &stubSnapshotService{block: block}
	store := NewSnapshotStore(nil, zerolog.Nop())
	poller := newTestPoller(stub, store)

	done := make(chan error, 1)
	go func() { done <- poller.Refresh(context.Background()) }()

	// Wait for the first cycle to be in flight.
	require.Eventually(t, func() bool { return stub.callCount() == 1 }, time.Second, time.Millisecond)

	// The overlapping tick is a silent no-op.
	require.NoError(t, poller.Refresh(context.Background()))
	require.Equal(t, 1, stub.callCount())

	close(block)
	require.NoError(t, <-done)
}

func TestSubscribeReceivesPublishedSnapshots(t *testing.T) {
	snapshot := snapshotFixture(time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC))
	stub := &stubSnapshotService{snapshot: snapshot}
	poller := newTestPoller(stub, NewSnapshotStore(nil, zerolog.Nop()))

	updates, cancel := poller.Subscribe()
	defer cancel()

	require.NoError(t, poller.Refresh(context.Background()))

	select {
	case received := <-updates:
		require.Equal(t, snapshot, received)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for fan-out")
	}
}

func TestSlowSubscriberDropsIntermediateSnapshots(t *testing.T) {
	stub := &stubSnapshotService{snapshot: snapshotFixture(time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC))}
	poller := newTestPoller(stub, NewSnapshotStore(nil, zerolog.Nop()))

	updates, cancel := poller.Subscribe()
	defer cancel()

	// Nobody drains the channel between refreshes; the second and third
	// publishes must not block the poll loop.
	for i := 0; i < 3; i++ {
		require.NoError(t, poller.Refresh(context.Background()))
	}

	require.Len(t, updates, 1)
}

func TestCancelledSubscriberStopsReceiving(t *testing.T) {
	stub := &stubSnapshotService{snapshot: snapshotFixture(time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC))}
	poller := newTestPoller(stub, NewSnapshotStore(nil, zerolog.Nop()))

	updates, cancel := poller.Subscribe()
	cancel()

	require.NoError(t, poller.Refresh(context.Background()))

	_, open := <-updates
	require.False(t, open)
}
