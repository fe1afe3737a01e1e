package dispatch

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"arxivbot/internal/eventbus"
	"arxivbot/internal/paper"
	"arxivbot/internal/storage"
	logx "arxivbot/pkg/logx"
)

// Gateway searches one topic. Implementations return only articles published
// in [since, until); an empty result is not an error.
type Gateway interface {
	Search(ctx context.Context, q paper.Query, since, until time.Time) ([]paper.Article, error)
}

// Sender delivers one article to one user. Errors are per-recipient and never
// stop the tick.
type Sender interface {
	SendNotification(ctx context.Context, userID int64, topic string, article paper.Article) error
}

// Store is the slice of storage the engine needs.
type Store interface {
	TopicSource
	SubscribersOf(ctx context.Context, topic string) ([]int64, error)
	storage.Ledger
}

// Settings are hot-reloadable.
type Settings struct {
	Interval   time.Duration
	Buffer     time.Duration
	MaxResults int
	Retention  time.Duration // ledger age limit; 0 disables pruning
}

func DefaultSettings() Settings {
	return Settings{Interval: DefaultInterval, Buffer: DefaultBuffer, MaxResults: 100, Retention: 7 * 24 * time.Hour}
}

// TickReport summarizes one tick.
type TickReport struct {
	StartedAt        time.Time     `json:"started_at"`
	Window           Window        `json:"window"`
	Topics           int           `json:"topics"`
	FailedTopics     int           `json:"failed_topics"`
	ArticlesSeen     int           `json:"articles_seen"`
	NewArticles      int           `json:"new_articles"`
	Deliveries       int           `json:"deliveries"`
	DeliveryFailures int           `json:"delivery_failures"`
	Pruned           int           `json:"pruned"`
	Took             time.Duration `json:"took"`
}

type Dispatcher struct {
	store   Store
	agg     *Aggregator
	gateway Gateway
	sender  Sender
	clock   Clock
	bus     eventbus.Bus
	log     logx.Logger

	settings atomic.Pointer[Settings]
}

type Option func(*Dispatcher)

func WithClock(c Clock) Option        { return func(d *Dispatcher) { d.clock = c } }
func WithBus(b eventbus.Bus) Option   { return func(d *Dispatcher) { d.bus = b } }
func WithLogger(l logx.Logger) Option { return func(d *Dispatcher) { d.log = l } }
func WithSettings(s Settings) Option  { return func(d *Dispatcher) { d.Apply(s) } }

func New(store Store, gw Gateway, sender Sender, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:   store,
		agg:     NewAggregator(store),
		gateway: gw,
		sender:  sender,
		clock:   SystemClock(),
	}
	d.Apply(DefaultSettings())
	for _, o := range opts {
		o(d)
	}
	if d.log.IsZero() {
		d.log = logx.Nop()
	}
	d.log = d.log.With(logx.String("comp", "dispatch"))
	return d
}

// Apply swaps settings; the next tick picks them up.
func (d *Dispatcher) Apply(s Settings) {
	def := DefaultSettings()
	if s.Interval <= 0 {
		s.Interval = def.Interval
	}
	if s.Buffer < 0 {
		s.Buffer = 0
	}
	if s.MaxResults <= 0 {
		s.MaxResults = def.MaxResults
	}
	if s.Retention < 0 {
		s.Retention = 0
	}
	d.settings.Store(&s)
}

func (d *Dispatcher) Settings() Settings { return *d.settings.Load() }

// RunTick processes every subscribed topic for the window ending at now.
//
// Gateway failures skip their topic. Delivery failures are counted and
// logged. A storage failure aborts the tick with an error wrapping
// storage.ErrStorage; cancellation aborts with ctx.Err(). An article being
// processed when the tick aborts is left unmarked and is picked up again by
// the next, overlapping window.
func (d *Dispatcher) RunTick(ctx context.Context, now time.Time) (rep TickReport, err error) {
	set := d.Settings()
	rep.StartedAt = now
	rep.Window = WindowFor(now, set.Interval, set.Buffer)
	defer func() {
		rep.Took = d.clock.Now().Sub(now)
		d.finish(rep, err)
	}()

	topics, err := d.agg.Aggregate(ctx)
	if err != nil {
		return rep, err
	}
	rep.Topics = len(topics)
	if len(topics) == 0 {
		return rep, d.prune(ctx, now, set, &rep)
	}

	for _, t := range topics {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if err := d.processTopic(ctx, t, rep.Window, set, &rep); err != nil {
			return rep, err
		}
	}
	return rep, d.prune(ctx, now, set, &rep)
}

func (d *Dispatcher) processTopic(ctx context.Context, t paper.Topic, w Window, set Settings, rep *TickReport) error {
	log := d.log.With(logx.String("topic", t.Name))

	articles, err := d.gateway.Search(ctx, paper.Query{Topic: t, MaxResults: set.MaxResults}, w.Since, w.Until)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rep.FailedTopics++
		log.Warn("search failed, skipping topic", logx.Err(err))
		return nil
	}

	inWindow := make([]paper.Article, 0, len(articles))
	for _, a := range articles {
		if a.ID != "" && w.Contains(a.PublishedAt) {
			inWindow = append(inWindow, a)
		}
	}
	sort.SliceStable(inWindow, func(i, j int) bool { return inWindow[i].PublishedAt.Before(inWindow[j].PublishedAt) })
	rep.ArticlesSeen += len(inWindow)

	for _, a := range inWindow {
		if err := ctx.Err(); err != nil {
			return err
		}
		seen, err := d.store.IsNotified(ctx, t.Name, a.ID)
		if err != nil {
			return err
		}
		if seen {
			continue
		}
		if err := d.deliver(ctx, t, a, rep, log); err != nil {
			return err
		}
	}
	return nil
}

// deliver attempts every current subscriber, then marks the article.
func (d *Dispatcher) deliver(ctx context.Context, t paper.Topic, a paper.Article, rep *TickReport, log logx.Logger) error {
	recipients, err := d.store.SubscribersOf(ctx, t.Name)
	if err != nil {
		return err
	}
	rep.NewArticles++

	for _, uid := range recipients {
		if err := d.sender.SendNotification(ctx, uid, t.Name, a); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			rep.DeliveryFailures++
			log.Warn("delivery failed", logx.Int64("user", uid), logx.String("article", a.ID), logx.Err(err))
			continue
		}
		rep.Deliveries++
	}

	// Shutdown between the last send and the mark leaves the article for the next tick.
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.store.MarkNotified(ctx, t.Name, a.ID, d.clock.Now()); err != nil {
		return err
	}
	log.Debug("article processed", logx.String("article", a.ID), logx.Int("recipients", len(recipients)))
	return nil
}

func (d *Dispatcher) prune(ctx context.Context, now time.Time, set Settings, rep *TickReport) error {
	if set.Retention <= 0 {
		return nil
	}
	n, err := d.store.PruneNotified(ctx, now.Add(-set.Retention))
	if err != nil {
		return err
	}
	rep.Pruned = n
	return nil
}

func (d *Dispatcher) finish(rep TickReport, err error) {
	fields := []logx.Field{
		logx.Int("topics", rep.Topics),
		logx.Int("failed_topics", rep.FailedTopics),
		logx.Int("articles", rep.ArticlesSeen),
		logx.Int("new", rep.NewArticles),
		logx.Int("sent", rep.Deliveries),
		logx.Int("send_failed", rep.DeliveryFailures),
		logx.Int("pruned", rep.Pruned),
		logx.Duration("window", rep.Window.Duration()),
		logx.Duration("took", rep.Took),
	}
	switch {
	case err == nil:
		d.log.Info("tick done", fields...)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		d.log.Warn("tick interrupted", append(fields, logx.Err(err))...)
	default:
		d.log.Error("tick aborted", append(fields, logx.Err(err))...)
	}
	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeDispatchTick, Time: rep.StartedAt, Data: rep})
	}
}
