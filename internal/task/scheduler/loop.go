package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"arxivbot/internal/dispatch"
	logx "arxivbot/pkg/logx"

	"github.com/robfig/cron/v3"
)

// Runner executes one tick for the window ending at now.
type Runner interface {
	RunTick(ctx context.Context, now time.Time) (dispatch.TickReport, error)
}

// Counters are cumulative since New.
type Counters struct {
	Runs    uint64
	Failed  uint64
	Skipped uint64
}

// Loop is the periodic tick trigger. It is safe for concurrent use.
type Loop struct {
	mu       sync.Mutex
	log      logx.Logger
	runner   Runner
	clock    dispatch.Clock
	interval time.Duration

	c     *cron.Cron
	entry cron.EntryID
	ctx   context.Context
	wg    sync.WaitGroup

	running atomic.Bool
	runs    atomic.Uint64
	failed  atomic.Uint64
	skipped atomic.Uint64
}

type Option func(*Loop)

func WithClock(c dispatch.Clock) Option { return func(l *Loop) { l.clock = c } }

func New(r Runner, interval time.Duration, log logx.Logger, opts ...Option) *Loop {
	if log.IsZero() {
		log = logx.Nop()
	}
	if interval <= 0 {
		interval = dispatch.DefaultInterval
	}
	l := &Loop{
		log:      log.With(logx.String("comp", "scheduler")),
		runner:   r,
		clock:    dispatch.SystemClock(),
		interval: interval,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Loop) Interval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.interval
}

func (l *Loop) Counters() Counters {
	return Counters{Runs: l.runs.Load(), Failed: l.failed.Load(), Skipped: l.skipped.Load()}
}

// Start begins triggering and fires the first tick immediately. Ticks run
// with ctx; cancelling it interrupts an in-flight tick. Start is idempotent.
func (l *Loop) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	l.mu.Lock()
	if l.c != nil {
		l.mu.Unlock()
		return
	}
	cl := cronLogger{log: l.log}
	l.ctx = ctx
	l.c = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	l.entry = l.c.Schedule(cron.Every(l.interval), cron.FuncJob(l.fire))
	l.c.Start()
	interval := l.interval
	l.wg.Add(1)
	l.mu.Unlock()

	l.log.Info("scheduler started", logx.Duration("interval", interval))
	go func() {
		defer l.wg.Done()
		l.fire()
	}()
}

// Stop stops triggering and waits (until ctx is done) for an in-flight tick.
func (l *Loop) Stop(ctx context.Context) {
	l.mu.Lock()
	c := l.c
	l.c = nil
	l.mu.Unlock()
	if c == nil {
		return
	}

	done := make(chan struct{})
	go func() {
		<-c.Stop().Done()
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		l.log.Info("scheduler stopped")
	case <-ctx.Done():
		l.log.Warn("scheduler stop timed out with a tick in flight")
	}
}

// Run starts the loop and blocks until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	l.Start(ctx)
	<-ctx.Done()
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	l.Stop(sctx)
	return ctx.Err()
}

// Apply reschedules with a new interval. The next trigger is one full
// interval from now.
func (l *Loop) Apply(interval time.Duration) {
	if interval <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if interval == l.interval {
		return
	}
	old := l.interval
	l.interval = interval
	if l.c == nil {
		return
	}
	l.c.Remove(l.entry)
	l.entry = l.c.Schedule(cron.Every(interval), cron.FuncJob(l.fire))
	l.log.Info("scheduler rescheduled", logx.Duration("from", old), logx.Duration("to", interval))
}

func (l *Loop) fire() {
	if !l.running.CompareAndSwap(false, true) {
		l.skipped.Add(1)
		l.log.Warn("previous tick still running, skipping trigger")
		return
	}
	defer l.running.Store(false)

	l.mu.Lock()
	ctx := l.ctx
	l.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	l.runs.Add(1)
	if err := l.runOnce(ctx); err != nil {
		l.failed.Add(1)
		if errors.Is(err, context.Canceled) {
			return
		}
		l.log.Error("tick failed", logx.Err(err))
	}
}

func (l *Loop) runOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("tick panic", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("tick panic: %v", r)
		}
	}()
	_, err = l.runner.RunTick(ctx, l.clock.Now())
	return err
}
