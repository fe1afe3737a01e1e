package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"arxivbot/internal/dispatch"
	logx "arxivbot/pkg/logx"

	"go.uber.org/goleak"
)

type runnerFunc func(ctx context.Context, now time.Time) (dispatch.TickReport, error)

func (f runnerFunc) RunTick(ctx context.Context, now time.Time) (dispatch.TickReport, error) {
	return f(ctx, now)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func stop(t *testing.T, l *Loop) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	l.Stop(ctx)
}

func TestFirstTickRunsImmediatelyWithClockTime(t *testing.T) {
	defer goleak.VerifyNone(t)

	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	var got atomic.Value
	var calls atomic.Int32
	r := runnerFunc(func(ctx context.Context, now time.Time) (dispatch.TickReport, error) {
		got.Store(now)
		calls.Add(1)
		return dispatch.TickReport{}, nil
	})
	l := New(r, time.Hour, logx.Nop(), WithClock(dispatch.NewFixedClock(at)))
	l.Start(context.Background())
	l.Start(context.Background()) // idempotent

	waitFor(t, func() bool { return calls.Load() == 1 })
	stop(t, l)

	if now := got.Load().(time.Time); !now.Equal(at) {
		t.Fatalf("tick time %v, want clock time %v", now, at)
	}
	if c := l.Counters(); c.Runs != 1 || c.Failed != 0 {
		t.Fatalf("counters: %+v", c)
	}
}

func TestOverlappingTriggerIsSkipped(t *testing.T) {
	defer goleak.VerifyNone(t)

	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	r := runnerFunc(func(ctx context.Context, now time.Time) (dispatch.TickReport, error) {
		entered <- struct{}{}
		<-release
		return dispatch.TickReport{}, nil
	})
	l := New(r, time.Hour, logx.Nop())
	l.Start(context.Background())
	<-entered

	l.fire() // cron trigger while the first tick is in flight
	if c := l.Counters(); c.Skipped != 1 || c.Runs != 1 {
		t.Fatalf("expected skip, got %+v", c)
	}
	close(release)
	stop(t, l)
}

func TestTickErrorsAndPanicsKeepLoopAlive(t *testing.T) {
	defer goleak.VerifyNone(t)

	var n atomic.Int32
	r := runnerFunc(func(ctx context.Context, now time.Time) (dispatch.TickReport, error) {
		switch n.Add(1) {
		case 1:
			return dispatch.TickReport{}, errors.New("storage failure")
		case 2:
			panic("boom")
		}
		return dispatch.TickReport{}, nil
	})
	l := New(r, time.Hour, logx.Nop())
	l.Start(context.Background())
	waitFor(t, func() bool { return n.Load() == 1 })
	waitFor(t, func() bool { return !l.running.Load() })

	l.fire()
	l.fire()
	stop(t, l)

	if c := l.Counters(); c.Runs != 3 || c.Failed != 2 {
		t.Fatalf("counters: %+v", c)
	}
}

func TestCronTriggersAndApply(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls atomic.Int32
	r := runnerFunc(func(ctx context.Context, now time.Time) (dispatch.TickReport, error) {
		calls.Add(1)
		return dispatch.TickReport{}, nil
	})
	l := New(r, time.Hour, logx.Nop())
	l.Start(context.Background())
	waitFor(t, func() bool { return calls.Load() == 1 })

	l.Apply(time.Second)
	if l.Interval() != time.Second {
		t.Fatalf("interval not applied")
	}
	waitFor(t, func() bool { return calls.Load() >= 2 })
	stop(t, l)
}

func TestRunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	started := make(chan struct{})
	r := runnerFunc(func(ctx context.Context, now time.Time) (dispatch.TickReport, error) {
		close(started)
		<-ctx.Done()
		return dispatch.TickReport{}, ctx.Err()
	})
	l := New(r, time.Hour, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()

	<-started
	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Run did not return")
	}
}
