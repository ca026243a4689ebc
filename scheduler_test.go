package ratchet_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icgood/ratchet-sub000"
)

func TestSchedulerRunUntilDone(t *testing.T) {
	ran := false
	s, err := ratchet.New(func(ctx context.Context) (any, error) {
		ran = true
		return 42, nil
	})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.RunUntilDone())
	assert.True(t, ran)
}

func TestSpawnRunsBeforeParentBlocksFurther(t *testing.T) {
	var order []string
	s, err := ratchet.New(func(ctx context.Context) (any, error) {
		order = append(order, "parent-start")
		child := ratchet.Spawn(ctx, func(ctx context.Context) (any, error) {
			order = append(order, "child")
			return nil, nil
		})
		require.NoError(t, ratchet.WaitAll(ctx, []*ratchet.Task{child}))
		order = append(order, "parent-end")
		return nil, nil
	})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.RunUntilDone())
	assert.Equal(t, []string{"parent-start", "child", "parent-end"}, order)
}

func TestWaitAllTiming(t *testing.T) {
	var results []int
	s, err := ratchet.New(func(ctx context.Context) (any, error) {
		var tasks []*ratchet.Task
		for i, d := range []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond} {
			i, d := i, d
			tasks = append(tasks, ratchet.Spawn(ctx, func(ctx context.Context) (any, error) {
				require.NoError(t, ratchet.Timer(ctx, d))
				return i, nil
			}))
		}
		start := time.Now()
		require.NoError(t, ratchet.WaitAll(ctx, tasks))
		elapsed := time.Since(start)
		assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
		assert.Less(t, elapsed, 500*time.Millisecond)
		for _, tk := range tasks {
			res, _ := tk.Result()
			results = append(results, res.(int))
		}
		return nil, nil
	})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.RunUntilDone())
	assert.ElementsMatch(t, []int{0, 1, 2}, results)
}

func TestAlarmPreemptsWait(t *testing.T) {
	var failErr error
	s, err := ratchet.New(func(ctx context.Context) (any, error) {
		ratchet.Alarm(ctx, 100*time.Millisecond, nil)
		if _, perr := ratchet.Pause(ctx); perr != nil {
			return nil, perr
		}
		return nil, nil
	}, ratchet.WithErrorHandler(func(sch *ratchet.Scheduler, tk *ratchet.Task) error {
		_, failErr = tk.Result()
		return nil
	}))
	require.NoError(t, err)
	defer s.Close()

	start := time.Now()
	require.NoError(t, s.RunUntilDone())
	assert.Less(t, time.Since(start), 200*time.Millisecond)
	require.Error(t, failErr)
}

func TestKillStopsTask(t *testing.T) {
	started := false
	resumed := false
	s, err := ratchet.New(func(ctx context.Context) (any, error) {
		child := ratchet.Spawn(ctx, func(ctx context.Context) (any, error) {
			started = true
			ratchet.Pause(ctx)
			resumed = true
			return nil, nil
		})
		require.NoError(t, ratchet.Timer(ctx, 10*time.Millisecond))
		ratchet.Kill(ctx, child)
		require.NoError(t, ratchet.Timer(ctx, 10*time.Millisecond))
		return nil, nil
	})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.RunUntilDone())
	assert.True(t, started)
	assert.False(t, resumed)
}

func TestDeadlockDetected(t *testing.T) {
	s, err := ratchet.New(func(ctx context.Context) (any, error) {
		ratchet.Pause(ctx) // nobody will ever Unpause this
		return nil, nil
	})
	require.NoError(t, err)
	defer s.Close()

	err = s.RunUntilDone()
	require.Error(t, err)
}
