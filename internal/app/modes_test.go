package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeArchiver records sweep calls and signals after each full sweep.
type fakeArchiver struct {
	mu         sync.Mutex
	cutoffs    []time.Time
	settledErr error
	settled    int
	cancelled  int
	sweeps     chan struct{}
}

func newFakeArchiver() *fakeArchiver {
	return &fakeArchiver{sweeps: make(chan struct{}, 16)}
}

func (f *fakeArchiver) ArchiveSettled(ctx context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, before)
	if f.settledErr != nil {
		return 0, f.settledErr
	}
	f.settled++
	return 1, nil
}

func (f *fakeArchiver) ArchiveCancelled(ctx context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	f.cancelled++
	f.mu.Unlock()

	select {
	case f.sweeps <- struct{}{}:
	default:
	}
	return 0, nil
}

func waitSweeps(t *testing.T, arch *fakeArchiver, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-arch.sweeps:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for sweep %d", i+1)
		}
	}
}

func TestRunArchiveLoop(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	t.Run("SweepsOnInterval", func(t *testing.T) {
		arch := newFakeArchiver()
		ctx, cancel := context.WithCancel(context.Background())

		retain := time.Hour
		done := make(chan error, 1)
		go func() {
			done <- runArchiveLoop(ctx, arch, 5*time.Millisecond, retain, logger)
		}()

		waitSweeps(t, arch, 2)
		start := time.Now()
		cancel()

		err := <-done
		assert.ErrorIs(t, err, context.Canceled)

		arch.mu.Lock()
		defer arch.mu.Unlock()
		require.NotEmpty(t, arch.cutoffs)
		for _, cutoff := range arch.cutoffs {
			delta := start.Add(-retain).Sub(cutoff)
			assert.Less(t, delta.Abs(), time.Minute, "cutoff tracks now minus retention")
		}
		assert.GreaterOrEqual(t, arch.settled, 2)
		assert.GreaterOrEqual(t, arch.cancelled, 2)
	})

	t.Run("SweepErrorDoesNotStopLoop", func(t *testing.T) {
		arch := newFakeArchiver()
		arch.settledErr = errors.New("bucket unavailable")
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		done := make(chan error, 1)
		go func() {
			done <- runArchiveLoop(ctx, arch, 5*time.Millisecond, 0, logger)
		}()

		// The cancelled sweep still runs after the settled sweep fails, and
		// the loop survives to sweep again.
		waitSweeps(t, arch, 2)
		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)

		arch.mu.Lock()
		defer arch.mu.Unlock()
		assert.Zero(t, arch.settled)
		assert.GreaterOrEqual(t, arch.cancelled, 2)
	})
}
