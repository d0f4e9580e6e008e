package commandqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandQueue_BasicEnqueue(t *testing.T) {
	cq := New()
	defer cq.Close()

	executed := false
	task := func(ctx context.Context) (interface{}, error) {
		executed = true
		return "result", nil
	}

	result, err := cq.Enqueue(context.Background(), "test", task, nil)

	assert.NoError(t, err)
	assert.Equal(t, "result", result)
	assert.True(t, executed)
}

func TestCommandQueue_TaskError(t *testing.T) {
	cq := New()
	defer cq.Close()

	expectedErr := errors.New("task failed")
	result, err := cq.Enqueue(context.Background(), "test", func(ctx context.Context) (interface{}, error) {
		return nil, expectedErr
	}, nil)

	assert.Same(t, expectedErr, err)
	assert.Nil(t, result)
}

func TestCommandQueue_TaskPanic(t *testing.T) {
	cq := New()
	defer cq.Close()

	_, err := cq.Enqueue(context.Background(), "test", func(ctx context.Context) (interface{}, error) {
		panic("boom")
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	// lane still usable
	result, err := cq.Enqueue(context.Background(), "test", func(ctx context.Context) (interface{}, error) {
		return 1, nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result)
}

func TestCommandQueue_SessionLaneSerializes(t *testing.T) {
	cq := New()
	defer cq.Close()

	lane := SessionLane("abc")
	var active, maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cq.Enqueue(context.Background(), lane, func(ctx context.Context) (interface{}, error) {
				n := atomic.AddInt32(&active, 1)
				for {
					m := atomic.LoadInt32(&maxActive)
					if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil, nil
			}, nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive)
	assert.Equal(t, "session:abc", lane)
}

func TestCommandQueue_FIFOWithinLane(t *testing.T) {
	cq := New()
	defer cq.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	var order []int
	var mu sync.Mutex

	go func() {
		_, _ = cq.Enqueue(context.Background(), "fifo", func(ctx context.Context) (interface{}, error) {
			close(started)
			<-release
			return nil, nil
		}, nil)
	}()
	<-started

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cq.Enqueue(context.Background(), "fifo", func(ctx context.Context) (interface{}, error) {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil, nil
			}, nil)
		}()
		require.Eventually(t, func() bool { return cq.GetQueueSize("fifo") == i+1 }, time.Second, time.Millisecond)
	}

	close(release)
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestCommandQueue_ConcurrentLanes(t *testing.T) {
	cq := New(WithLane(StatelessLane, 2))
	defer cq.Close()

	barrier := make(chan struct{})
	var arrived int32
	task := func(ctx context.Context) (interface{}, error) {
		if atomic.AddInt32(&arrived, 1) == 2 {
			close(barrier)
		}
		select {
		case <-barrier:
			return "ok", nil
		case <-time.After(time.Second):
			return nil, errors.New("tasks did not overlap")
		}
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = cq.Enqueue(context.Background(), StatelessLane, task, nil)
		}()
	}
	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
}

func TestCommandQueue_CancelWhileQueued(t *testing.T) {
	cq := New()
	defer cq.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = cq.Enqueue(context.Background(), "busy", func(ctx context.Context) (interface{}, error) {
			close(started)
			<-release
			return nil, nil
		}, nil)
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	ran := false
	done := make(chan error, 1)
	go func() {
		_, err := cq.Enqueue(ctx, "busy", func(ctx context.Context) (interface{}, error) {
			ran = true
			return nil, nil
		}, nil)
		done <- err
	}()
	require.Eventually(t, func() bool { return cq.GetQueueSize("busy") == 1 }, time.Second, time.Millisecond)

	cancel()
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, cq.GetQueueSize("busy"))

	close(release)
	assert.True(t, cq.WaitForActive(time.Second))
	assert.False(t, ran)
}

func TestCommandQueue_WarnAfter(t *testing.T) {
	cq := New()
	defer cq.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = cq.Enqueue(context.Background(), "slow", func(ctx context.Context) (interface{}, error) {
			close(started)
			<-release
			return nil, nil
		}, nil)
	}()
	<-started

	warned := make(chan int, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = cq.Enqueue(context.Background(), "slow", func(ctx context.Context) (interface{}, error) {
			return nil, nil
		}, &TaskOptions{
			WarnAfter: 10 * time.Millisecond,
			OnWait: func(wait time.Duration, queuePos int) {
				warned <- queuePos
			},
		})
	}()

	select {
	case pos := <-warned:
		assert.Equal(t, 0, pos)
	case <-time.After(time.Second):
		t.Fatal("expected wait warning")
	}

	close(release)
	<-done
}

func TestCommandQueue_GetStats(t *testing.T) {
	cq := New(WithLane(StatelessLane, 4))
	defer cq.Close()

	stats := cq.GetStats()
	require.Contains(t, stats, StatelessLane)
	assert.Equal(t, 4, stats[StatelessLane]["concurrency"])
	assert.Equal(t, 0, stats[StatelessLane]["queued"])
}

func TestCommandQueue_ClearLane(t *testing.T) {
	cq := New()
	defer cq.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = cq.Enqueue(context.Background(), "clear", func(ctx context.Context) (interface{}, error) {
			close(started)
			<-release
			return nil, nil
		}, nil)
	}()
	<-started

	done := make(chan error, 1)
	go func() {
		_, err := cq.Enqueue(context.Background(), "clear", func(ctx context.Context) (interface{}, error) {
			return nil, nil
		}, nil)
		done <- err
	}()
	require.Eventually(t, func() bool { return cq.GetQueueSize("clear") == 1 }, time.Second, time.Millisecond)

	assert.Equal(t, 1, cq.ClearLane("clear"))
	assert.ErrorIs(t, <-done, ErrLaneCleared)
	close(release)
}

func TestCommandQueue_SetConcurrency(t *testing.T) {
	cq := New()
	defer cq.Close()

	cq.SetConcurrency("custom", 3)
	assert.Equal(t, 3, cq.GetStats()["custom"]["concurrency"])

	cq.SetConcurrency("custom", 0)
	assert.Equal(t, 1, cq.GetStats()["custom"]["concurrency"])
}

func TestCommandQueue_CloseRejectsNewWork(t *testing.T) {
	cq := New()
	require.NoError(t, cq.Close())
	require.NoError(t, cq.Close())

	_, err := cq.Enqueue(context.Background(), "test", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	}, nil)
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestCommandQueue_CloseCancelsRunning(t *testing.T) {
	cq := New()

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := cq.Enqueue(context.Background(), "run", func(ctx context.Context) (interface{}, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}, nil)
		done <- err
	}()
	<-started

	require.NoError(t, cq.Close())
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestCommandQueue_DrainedSessionLaneRemoved(t *testing.T) {
	cq := New(WithLane(StatelessLane, 2))
	defer cq.Close()

	for i := 0; i < 50; i++ {
		lane := SessionLane(fmt.Sprintf("s-%d", i))
		_, err := cq.Enqueue(context.Background(), lane, func(ctx context.Context) (interface{}, error) {
			return nil, nil
		}, nil)
		require.NoError(t, err)
	}
	_, err := cq.Enqueue(context.Background(), StatelessLane, func(ctx context.Context) (interface{}, error) {
		return nil, nil
	}, nil)
	require.NoError(t, err)

	stats := cq.GetStats()
	assert.Len(t, stats, 1)
	assert.Contains(t, stats, StatelessLane)
}

func TestCommandQueue_LaneKeptWhileBusy(t *testing.T) {
	cq := New()
	defer cq.Close()

	lane := SessionLane("busy")
	release := make(chan struct{})
	started := make(chan struct{})
	first := make(chan error, 1)
	go func() {
		_, err := cq.Enqueue(context.Background(), lane, func(ctx context.Context) (interface{}, error) {
			close(started)
			<-release
			return nil, nil
		}, nil)
		first <- err
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	second := make(chan error, 1)
	go func() {
		_, err := cq.Enqueue(ctx, lane, func(ctx context.Context) (interface{}, error) {
			return nil, nil
		}, nil)
		second <- err
	}()
	require.Eventually(t, func() bool { return cq.GetQueueSize(lane) == 1 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-second, context.Canceled)
	assert.Contains(t, cq.GetStats(), lane)
	assert.Equal(t, 1, cq.GetRunningCount(lane))

	close(release)
	require.NoError(t, <-first)
	assert.NotContains(t, cq.GetStats(), lane)
}

func TestCommandQueue_PinnedLaneSurvivesDrain(t *testing.T) {
	cq := New()
	defer cq.Close()

	cq.SetConcurrency("pinned", 2)
	_, err := cq.Enqueue(context.Background(), "pinned", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	}, nil)
	require.NoError(t, err)

	require.Contains(t, cq.GetStats(), "pinned")
	assert.Equal(t, 2, cq.GetStats()["pinned"]["concurrency"])
}

func TestLaneClass(t *testing.T) {
	assert.Equal(t, "session", LaneClass(SessionLane("abc")))
	assert.Equal(t, StatelessLane, LaneClass(StatelessLane))
	assert.Equal(t, "custom", LaneClass("custom"))
}
