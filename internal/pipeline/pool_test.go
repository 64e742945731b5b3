package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRunCollectsEveryResult(t *testing.T) {
	inputs := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	var running, peak atomic.Int32

	task := func(_ context.Context, n int) Result[int] {
		cur := running.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		running.Add(-1)
		if n%4 == 0 {
			return Result[int]{Subject: fmt.Sprint(n), Err: errors.New("multiple of four")}
		}
		return Result[int]{Subject: fmt.Sprint(n), Value: n * n}
	}

	var got []int
	failed := 0
	err := Run(context.Background(), 3, inputs, task, func(r Result[int]) error {
		if r.Err != nil {
			failed++
			return nil
		}
		assert.Positive(t, r.Took)
		got = append(got, r.Value)
		return nil
	})
	require.NoError(t, err)
	sort.Ints(got)
	assert.Equal(t, []int{1, 4, 9, 25, 36, 49, 81, 100}, got)
	assert.Equal(t, 2, failed)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestRunStopsOnCollectError(t *testing.T) {
	inputs := make([]int, 50)
	var started atomic.Int32
	task := func(ctx context.Context, n int) Result[int] {
		started.Add(1)
		select {
		case <-ctx.Done():
		case <-time.After(time.Millisecond):
		}
		return Result[int]{Value: n}
	}
	boom := errors.New("sink full")
	calls := 0
	err := Run(context.Background(), 2, inputs, task, func(Result[int]) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
	assert.Less(t, started.Load(), int32(len(inputs)))
}

func TestRunHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	task := func(ctx context.Context, n int) Result[int] {
		if n == 0 {
			cancel()
		}
		<-ctx.Done()
		return Result[int]{Err: ctx.Err()}
	}
	err := Run(ctx, 1, []int{0, 1, 2, 3}, task, func(Result[int]) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunRecoversPanickingTask(t *testing.T) {
	task := func(_ context.Context, n int) Result[int] {
		if n == 3 {
			var m map[string]int
			m["x"] = n
		}
		return Result[int]{Subject: fmt.Sprint(n), Value: n}
	}
	var got []Result[int]
	err := Run(context.Background(), 2, []int{1, 2, 3, 4}, task, func(r Result[int]) error {
		got = append(got, r)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 4)

	var pe *PanicError
	for _, r := range got {
		if r.Subject != "3" {
			assert.NoError(t, r.Err)
			continue
		}
		require.ErrorAs(t, r.Err, &pe)
		assert.Contains(t, pe.Error(), "assignment to entry in nil map")
		assert.NotEmpty(t, pe.Stack)
	}
	require.NotNil(t, pe, "panicking task was not collected")
}

func TestRunEmptyAndZeroWorkers(t *testing.T) {
	called := false
	err := Run(context.Background(), 0, nil, func(context.Context, string) Result[string] {
		called = true
		return Result[string]{}
	}, func(Result[string]) error { return nil })
	require.NoError(t, err)
	assert.False(t, called)

	n := 0
	err = Run(context.Background(), 0, []string{"a", "b"}, func(_ context.Context, s string) Result[string] {
		return Result[string]{Subject: s}
	}, func(Result[string]) error { n++; return nil })
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
