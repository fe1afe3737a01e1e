package notifier

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"arxivbot/internal/eventbus"
	"arxivbot/internal/paper"
	kit "arxivbot/internal/transport"
	logx "arxivbot/pkg/logx"

	"golang.org/x/time/rate"
)

// Service sends rendered articles through a transport adapter.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	adapter kit.Adapter
	bus     eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	sent    atomic.Uint64
	failed  atomic.Uint64
	retries atomic.Uint64

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		adapter: adapter,
		log:     log.With(logx.String("comp", "notifier")),
		bus:     bus,
		sleep:   sleepCtx,
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 25
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 30 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	def := paper.DefaultRenderOptions()
	if cfg.Render.MaxAuthors <= 0 {
		cfg.Render.MaxAuthors = def.MaxAuthors
	}
	if cfg.Render.MaxAbstract <= 0 {
		cfg.Render.MaxAbstract = def.MaxAbstract
	}

	rateChanged := s.limiter == nil || s.cfg.RatePerSec != cfg.RatePerSec
	s.cfg = cfg
	if rateChanged {
		// Token bucket: burst = rate per sec, so short spikes don't block too hard.
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
}

func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Service) Stats() Stats {
	return Stats{Sent: s.sent.Load(), Failed: s.failed.Load(), Retries: s.retries.Load()}
}

// SendNotification renders a and delivers it to userID's private chat.
func (s *Service) SendNotification(ctx context.Context, userID int64, topic string, a paper.Article) error {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	text := paper.Render(topic, a, cfg.Render)
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: !cfg.EnableWebPagePreview}
	to := kit.ChatTarget{ChatID: userID}

	maxAttempts := 1 + cfg.RetryMax
	var (
		lastErr error
		attempt int
	)
	for attempt = 1; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			lastErr = err
			break
		}

		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		_, err := s.adapter.SendText(callCtx, to, text, opt)
		cancel()
		if err == nil {
			s.sent.Add(1)
			if s.bus != nil {
				now := time.Now()
				s.bus.Publish(eventbus.Event{Type: eventbus.TypeNotifierSent, Time: now, Data: SentInfo{UserID: userID, Topic: topic, ArticleID: a.ID, Attempts: attempt, At: now}})
			}
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}

		var se *kit.SendError
		if errors.As(err, &se) && se.Permanent() {
			break
		}
		if attempt >= maxAttempts {
			break
		}

		delay := retryDelay(cfg, attempt)
		if se != nil && se.RetryAfter > delay {
			delay = se.RetryAfter
		}
		if delay > cfg.RetryMaxDelay {
			// Waiting out a long flood ban would stall the tick; give up on this recipient.
			break
		}
		s.retries.Add(1)
		s.log.Debug("send failed, retrying", logx.Int64("user", userID), logx.Int("attempt", attempt), logx.Duration("delay", delay), logx.Err(err))
		if err := s.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}
	if attempt > maxAttempts {
		attempt = maxAttempts
	}

	derr := &DeliveryError{UserID: userID, Topic: topic, ArticleID: a.ID, Reason: reasonOf(lastErr), Attempts: attempt, Err: lastErr}
	s.failed.Add(1)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeDeliveryFailed, Time: time.Now(), Data: *derr})
	}
	return derr
}

func reasonOf(err error) kit.FailureReason {
	var se *kit.SendError
	if errors.As(err, &se) {
		return se.Reason
	}
	return kit.ReasonTransport
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1 (first attempt), delay is for the NEXT attempt.
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			return cfg.RetryMaxDelay
		}
	}
	// Jitter 0.7..1.3
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
