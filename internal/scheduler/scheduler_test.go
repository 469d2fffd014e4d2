package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefreshNowRunsJobsInOrder(t *testing.T) {
	s := New(time.Hour)
	var order []string
	s.Add(Job{Name: "a", Run: func(context.Context) error { order = append(order, "a"); return nil }})
	s.Add(Job{Name: "b", Run: func(context.Context) error { order = append(order, "b"); return errors.New("boom") }})
	s.Add(Job{Name: "c", Run: func(context.Context) error { order = append(order, "c"); return nil }})

	err := s.RefreshNow(context.Background())

	assert.Error(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order, "ошибка одной задачи не останавливает остальные")
}

func TestPanicIsContained(t *testing.T) {
	s := New(time.Hour)
	var ran atomic.Bool
	s.Add(Job{Name: "panics", Run: func(context.Context) error { panic("oops") }})
	s.Add(Job{Name: "after", Run: func(context.Context) error { ran.Store(true); return nil }})

	assert.Error(t, s.RefreshNow(context.Background()))
	assert.True(t, ran.Load())
}

func TestLoopKeepsRunningAfterErrors(t *testing.T) {
	s := New(10 * time.Millisecond)
	var runs atomic.Int32
	s.Add(Job{Name: "flaky", Run: func(context.Context) error {
		runs.Add(1)
		return errors.New("gateway down")
	}})

	s.Start(context.Background())
	require.True(t, s.Running())

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)

	s.Stop()
	assert.False(t, s.Running())

	stopped := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, runs.Load(), "после Stop задачи не запускаются")
}

func TestTrigger(t *testing.T) {
	s := New(time.Hour)
	var runs atomic.Int32
	s.Add(Job{Name: "count", Run: func(context.Context) error { runs.Add(1); return nil }})

	s.Start(context.Background())
	defer s.Stop()

	s.Trigger()
	assert.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestStopIdempotent(t *testing.T) {
	s := New(time.Hour)
	s.Stop()
	s.Start(context.Background())
	s.Start(context.Background())
	s.Stop()
	s.Stop()
	assert.False(t, s.Running())
}
