package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in      string
		want    Priority
		wantErr bool
	}{
		{"", Normal, false},
		{"low", Low, false},
		{"HIGH", High, false},
		{" critical ", Critical, false},
		{"urgent", Normal, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePriority(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSubmitAndAwait(t *testing.T) {
	q := New[string](2)
	defer q.Close()

	id, err := q.Submit(func(ctx context.Context) (string, error) {
		return "ok", nil
	}, Normal, time.Second)
	require.NoError(t, err)

	got, err := q.AwaitResult(context.Background(), id, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ok", got)

	st := q.Stats()
	assert.Equal(t, int64(1), st.Processed)
	assert.Equal(t, 0, st.Tracked, "delivered result is evicted")
}

func TestPriorityOrderSingleWorker(t *testing.T) {
	q := New[string](1)
	defer q.Close()

	gate := make(chan struct{})
	started := make(chan struct{})
	var mu sync.Mutex
	var order []string

	record := func(name string) Func[string] {
		return func(ctx context.Context) (string, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return name, nil
		}
	}

	// Occupy the only worker until every job is queued.
	blockID, err := q.Submit(func(ctx context.Context) (string, error) {
		close(started)
		<-gate
		return "gate", nil
	}, Critical, 5*time.Second)
	require.NoError(t, err)
	<-started

	var ids []string
	for _, p := range []struct {
		name string
		prio Priority
	}{{"low", Low}, {"high", High}, {"normal", Normal}} {
		id, err := q.Submit(record(p.name), p.prio, time.Second)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	close(gate)

	_, err = q.AwaitResult(context.Background(), blockID, time.Second)
	require.NoError(t, err)
	for _, id := range ids {
		_, err := q.AwaitResult(context.Background(), id, time.Second)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"high", "normal", "low"}, order)
}

func TestFIFOWithinPriority(t *testing.T) {
	q := New[int](1)
	defer q.Close()

	gate := make(chan struct{})
	started := make(chan struct{})
	_, err := q.Submit(func(ctx context.Context) (int, error) {
		close(started)
		<-gate
		return 0, nil
	}, Normal, time.Second)
	require.NoError(t, err)
	<-started

	var mu sync.Mutex
	var order []int
	var ids []string
	for i := 1; i <= 5; i++ {
		n := i
		id, err := q.Submit(func(ctx context.Context) (int, error) {
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			return n, nil
		}, Normal, time.Second)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	close(gate)
	for _, id := range ids {
		_, err := q.AwaitResult(context.Background(), id, time.Second)
		require.NoError(t, err)
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5}, order)
}

func TestJobErrorDoesNotStopWorker(t *testing.T) {
	q := New[string](1)
	defer q.Close()

	boom := errors.New("boom")
	badID, err := q.Submit(func(ctx context.Context) (string, error) {
		return "", boom
	}, Normal, time.Second)
	require.NoError(t, err)
	_, err = q.AwaitResult(context.Background(), badID, time.Second)
	assert.ErrorIs(t, err, boom)

	panicID, err := q.Submit(func(ctx context.Context) (string, error) {
		panic("kaboom")
	}, Normal, time.Second)
	require.NoError(t, err)
	_, err = q.AwaitResult(context.Background(), panicID, time.Second)
	assert.ErrorContains(t, err, "panicked")

	goodID, err := q.Submit(func(ctx context.Context) (string, error) {
		return "still alive", nil
	}, Normal, time.Second)
	require.NoError(t, err)
	got, err := q.AwaitResult(context.Background(), goodID, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "still alive", got)

	st := q.Stats()
	assert.Equal(t, int64(2), st.Failed)
	assert.Equal(t, int64(1), st.Processed)
	assert.Equal(t, 1, st.WorkersRunning)
}

func TestJobTimeout(t *testing.T) {
	q := New[string](1)
	defer q.Close()

	t.Run("context aware", func(t *testing.T) {
		id, err := q.Submit(func(ctx context.Context) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}, Normal, 20*time.Millisecond)
		require.NoError(t, err)
		_, err = q.AwaitResult(context.Background(), id, time.Second)
		assert.ErrorIs(t, err, ErrJobTimeout)
	})

	t.Run("ignores context", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)
		id, err := q.Submit(func(ctx context.Context) (string, error) {
			<-release
			return "late", nil
		}, Normal, 20*time.Millisecond)
		require.NoError(t, err)
		_, err = q.AwaitResult(context.Background(), id, time.Second)
		assert.ErrorIs(t, err, ErrJobTimeout)
	})
}

func TestAwaitTimeoutLeavesWorkRunning(t *testing.T) {
	q := New[string](1)
	defer q.Close()

	finished := make(chan struct{})
	id, err := q.Submit(func(ctx context.Context) (string, error) {
		time.Sleep(50 * time.Millisecond)
		close(finished)
		return "done", nil
	}, Normal, time.Second)
	require.NoError(t, err)

	_, err = q.AwaitResult(context.Background(), id, 5*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)

	_, err = q.AwaitResult(context.Background(), id, time.Second)
	assert.ErrorIs(t, err, ErrNotFound, "bookkeeping removed after caller gave up")

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("in-flight job was not allowed to finish")
	}
}

func TestWorkerPoolBound(t *testing.T) {
	const workers = 3
	q := New[int](workers)
	defer q.Close()

	var mu sync.Mutex
	active, peak := 0, 0
	var ids []string
	for i := 0; i < 12; i++ {
		id, err := q.Submit(func(ctx context.Context) (int, error) {
			mu.Lock()
			active++
			peak = max(peak, active)
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			return 0, nil
		}, Normal, time.Second)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for _, id := range ids {
		_, err := q.AwaitResult(context.Background(), id, 2*time.Second)
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, peak, workers)
	assert.Equal(t, workers, q.Stats().WorkersRunning)
}

func TestIdleWorkerSweepsUnclaimedResults(t *testing.T) {
	q := New[string](1, WithIdleWait(10*time.Millisecond), WithResultRetention(time.Millisecond))
	defer q.Close()

	_, err := q.Submit(func(ctx context.Context) (string, error) { return "orphan", nil }, Low, time.Second)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return q.Stats().Tracked == 0
	}, time.Second, 5*time.Millisecond)
}

func TestClose(t *testing.T) {
	q := New[string](1)

	gate := make(chan struct{})
	started := make(chan struct{})
	_, err := q.Submit(func(ctx context.Context) (string, error) {
		close(started)
		select {
		case <-gate:
		case <-ctx.Done():
		}
		return "", ctx.Err()
	}, Normal, time.Second)
	require.NoError(t, err)
	<-started

	pendingID, err := q.Submit(func(ctx context.Context) (string, error) { return "never", nil }, Normal, time.Second)
	require.NoError(t, err)

	q.Close()
	_, err = q.AwaitResult(context.Background(), pendingID, time.Second)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = q.Submit(func(ctx context.Context) (string, error) { return "", nil }, Normal, time.Second)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 0, q.Stats().WorkersRunning)
}
