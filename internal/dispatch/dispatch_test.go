package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"arxivbot/internal/eventbus"
	"arxivbot/internal/paper"
	"arxivbot/internal/storage"
	logx "arxivbot/pkg/logx"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type indexed struct {
	article paper.Article
	// visibleAt simulates indexing lag: the gateway hides the article before this time.
	visibleAt time.Time
}

type fakeGateway struct {
	mu       sync.Mutex
	clock    Clock
	articles map[string][]indexed
	fail     map[string]error
	calls    map[string]int
}

func newFakeGateway(clock Clock) *fakeGateway {
	return &fakeGateway{clock: clock, articles: map[string][]indexed{}, fail: map[string]error{}, calls: map[string]int{}}
}

func (g *fakeGateway) add(topic string, a paper.Article, visibleAt time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.articles[topic] = append(g.articles[topic], indexed{article: a, visibleAt: visibleAt})
}

func (g *fakeGateway) Search(ctx context.Context, q paper.Query, since, until time.Time) ([]paper.Article, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls[q.Topic.Name]++
	if err := g.fail[q.Topic.Name]; err != nil {
		return nil, err
	}
	now := g.clock.Now()
	var out []paper.Article
	// Newest first, like the real API.
	list := g.articles[q.Topic.Name]
	for i := len(list) - 1; i >= 0; i-- {
		it := list[i]
		if now.Before(it.visibleAt) {
			continue
		}
		if !it.article.PublishedAt.Before(since) && it.article.PublishedAt.Before(until) {
			out = append(out, it.article)
		}
	}
	return out, nil
}

type sent struct {
	user    int64
	topic   string
	article string
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []sent
	failOn map[int64]error
	onSend func(user int64)
}

func (s *fakeSender) SendNotification(ctx context.Context, userID int64, topic string, a paper.Article) error {
	if s.onSend != nil {
		s.onSend(userID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failOn[userID]; err != nil {
		return err
	}
	s.sent = append(s.sent, sent{user: userID, topic: topic, article: a.ID})
	return nil
}

func (s *fakeSender) count(user int64, article string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, x := range s.sent {
		if x.user == user && x.article == article {
			n++
		}
	}
	return n
}

type harness struct {
	store  storage.Store
	gw     *fakeGateway
	sender *fakeSender
	clock  *FixedClock
	d      *Dispatcher
}

func newHarness(t *testing.T, set Settings) *harness {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	clock := NewFixedClock(t0)
	h := &harness{store: st, gw: newFakeGateway(clock), sender: &fakeSender{failOn: map[int64]error{}}, clock: clock}
	h.d = New(st, h.gw, h.sender, WithClock(clock), WithSettings(set))
	return h
}

func (h *harness) subscribe(t *testing.T, user int64, topic string) {
	t.Helper()
	err := h.store.AddSubscription(context.Background(), paper.Subscription{UserID: user, Topic: topic, Kind: paper.Classify(topic), CreatedAt: h.clock.Now()})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
}

func (h *harness) tick(t *testing.T) TickReport {
	t.Helper()
	rep, err := h.d.RunTick(context.Background(), h.clock.Now())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	return rep
}

func article(id string, published time.Time) paper.Article {
	return paper.Article{ID: id, Title: "Paper " + id, PublishedAt: published}
}

func hourly() Settings {
	return Settings{Interval: time.Hour, Buffer: 5 * time.Minute, MaxResults: 100}
}

func TestWindowFor(t *testing.T) {
	w := WindowFor(t0, time.Minute, 5*time.Minute)
	if w.Duration() != 6*time.Minute || !w.Until.Equal(t0) {
		t.Fatalf("unexpected window: %+v", w)
	}
	if w.Contains(t0) {
		t.Fatalf("until must be exclusive")
	}
	if !w.Contains(w.Since) {
		t.Fatalf("since must be inclusive")
	}
	if w.Contains(t0.Add(-10 * time.Minute)) {
		t.Fatalf("10 minutes back must be outside a 6 minute window")
	}
	if d := WindowFor(t0, DefaultInterval, DefaultBuffer).Duration(); d != 65*time.Minute {
		t.Fatalf("default window %v", d)
	}
}

func TestEverySubscriberGetsNewArticleOnce(t *testing.T) {
	h := newHarness(t, hourly())
	h.subscribe(t, 1, "cs.AI")
	h.subscribe(t, 2, "cs.AI")
	h.gw.add("cs.AI", article("2403.00001", t0.Add(-10*time.Minute)), time.Time{})
	h.gw.add("cs.AI", article("2403.00002", t0.Add(-2*time.Hour)), time.Time{}) // outside window

	rep := h.tick(t)
	if rep.NewArticles != 1 || rep.Deliveries != 2 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	for _, u := range []int64{1, 2} {
		if n := h.sender.count(u, "2403.00001"); n != 1 {
			t.Fatalf("user %d got %d notifications", u, n)
		}
		if n := h.sender.count(u, "2403.00002"); n != 0 {
			t.Fatalf("user %d got out-of-window article", u)
		}
	}
	if ok, _ := h.store.IsNotified(context.Background(), "cs.AI", "2403.00001"); !ok {
		t.Fatalf("article not ledgered")
	}

	// Overlapping next tick: same article is in the buffer region but already ledgered.
	h.clock.Advance(time.Hour - 15*time.Minute)
	rep = h.tick(t)
	if rep.ArticlesSeen != 1 || rep.NewArticles != 0 {
		t.Fatalf("expected the overlap to be deduplicated: %+v", rep)
	}
	if n := h.sender.count(1, "2403.00001"); n != 1 {
		t.Fatalf("duplicate delivery: %d", n)
	}
}

func TestOldestFirst(t *testing.T) {
	h := newHarness(t, hourly())
	h.subscribe(t, 1, "quant-ph")
	h.gw.add("quant-ph", article("a", t0.Add(-30*time.Minute)), time.Time{})
	h.gw.add("quant-ph", article("b", t0.Add(-20*time.Minute)), time.Time{})
	h.gw.add("quant-ph", article("c", t0.Add(-40*time.Minute)), time.Time{})

	h.tick(t)
	var order []string
	for _, s := range h.sender.sent {
		order = append(order, s.article)
	}
	if len(order) != 3 || order[0] != "c" || order[1] != "a" || order[2] != "b" {
		t.Fatalf("expected oldest first, got %v", order)
	}
}

func TestFirstRunWindowPreventsFlood(t *testing.T) {
	h := newHarness(t, Settings{Interval: time.Minute, Buffer: 5 * time.Minute, MaxResults: 100})
	h.subscribe(t, 1, "cs.LG")
	h.gw.add("cs.LG", article("old", t0.Add(-10*time.Minute)), time.Time{})
	h.gw.add("cs.LG", article("edge", t0.Add(-6*time.Minute)), time.Time{})
	h.gw.add("cs.LG", article("recent", t0.Add(-3*time.Minute)), time.Time{})

	rep := h.tick(t)
	if rep.Window.Duration() != 6*time.Minute {
		t.Fatalf("window %v", rep.Window.Duration())
	}
	if h.sender.count(1, "old") != 0 {
		t.Fatalf("article 10 minutes old must not be surfaced on first run")
	}
	if h.sender.count(1, "edge") != 1 || h.sender.count(1, "recent") != 1 {
		t.Fatalf("in-window articles missing: %+v", h.sender.sent)
	}
}

func TestOverlapRecoversLateIndexedArticle(t *testing.T) {
	h := newHarness(t, hourly())
	h.subscribe(t, 1, "cs.CL")
	// Published 30s before the tick but only visible to search 2 minutes later.
	h.gw.add("cs.CL", article("late", t0.Add(-30*time.Second)), t0.Add(2*time.Minute))

	if rep := h.tick(t); rep.NewArticles != 0 {
		t.Fatalf("article should not be visible yet: %+v", rep)
	}
	h.clock.Advance(time.Hour)
	rep := h.tick(t)
	if !rep.Window.Contains(t0.Add(-30 * time.Second)) {
		t.Fatalf("next window %+v must cover the late article", rep.Window)
	}
	if h.sender.count(1, "late") != 1 {
		t.Fatalf("late article not recovered: %+v", h.sender.sent)
	}
}

func TestAggregationQueriesTopicOnce(t *testing.T) {
	h := newHarness(t, hourly())
	h.subscribe(t, 1, "cs.AI")
	h.subscribe(t, 2, "cs.AI")
	h.subscribe(t, 2, "cs.RO")
	h.gw.add("cs.AI", article("x", t0.Add(-time.Minute)), time.Time{})

	rep := h.tick(t)
	if rep.Topics != 2 {
		t.Fatalf("expected 2 unique topics, got %d", rep.Topics)
	}
	if h.gw.calls["cs.AI"] != 1 || h.gw.calls["cs.RO"] != 1 {
		t.Fatalf("unexpected gateway calls: %v", h.gw.calls)
	}
	if h.sender.count(1, "x") != 1 || h.sender.count(2, "x") != 1 {
		t.Fatalf("both users must receive: %+v", h.sender.sent)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := newHarness(t, hourly())
	h.subscribe(t, 1, "hep-th")
	h.subscribe(t, 2, "hep-th")
	h.gw.add("hep-th", article("first", t0.Add(-time.Minute)), time.Time{})
	h.tick(t)

	if err := h.store.RemoveSubscription(context.Background(), 1, "hep-th"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	h.clock.Advance(time.Hour)
	h.gw.add("hep-th", article("second", h.clock.Now().Add(-time.Minute)), time.Time{})
	h.tick(t)

	if h.sender.count(1, "second") != 0 {
		t.Fatalf("unsubscribed user was notified")
	}
	if h.sender.count(2, "second") != 1 {
		t.Fatalf("remaining subscriber missed the article")
	}
}

func TestGatewayFailureIsolatedToTopic(t *testing.T) {
	h := newHarness(t, hourly())
	h.subscribe(t, 1, "cs.AI")
	h.subscribe(t, 1, "cs.CV")
	h.gw.fail["cs.AI"] = errors.New("connection refused")
	h.gw.add("cs.CV", article("vision", t0.Add(-time.Minute)), time.Time{})

	rep := h.tick(t)
	if rep.FailedTopics != 1 || rep.NewArticles != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if h.sender.count(1, "vision") != 1 {
		t.Fatalf("healthy topic not delivered")
	}
	if ok, _ := h.store.IsNotified(context.Background(), "cs.CV", "vision"); !ok {
		t.Fatalf("healthy topic not ledgered")
	}
}

func TestDeliveryFailureStillMarks(t *testing.T) {
	h := newHarness(t, hourly())
	h.subscribe(t, 1, "math.CO")
	h.subscribe(t, 2, "math.CO")
	h.sender.failOn[1] = errors.New("blocked")
	h.gw.add("math.CO", article("graphs", t0.Add(-time.Minute)), time.Time{})

	rep := h.tick(t)
	if rep.DeliveryFailures != 1 || rep.Deliveries != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if ok, _ := h.store.IsNotified(context.Background(), "math.CO", "graphs"); !ok {
		t.Fatalf("mark-after-attempt: article must be ledgered despite a failed recipient")
	}

	// Next tick does not retry the failed recipient.
	delete(h.sender.failOn, 1)
	h.clock.Advance(10 * time.Minute)
	h.tick(t)
	if h.sender.count(1, "graphs") != 0 || h.sender.count(2, "graphs") != 1 {
		t.Fatalf("unexpected redelivery: %+v", h.sender.sent)
	}
}

func TestCancelMidArticleLeavesItUnmarked(t *testing.T) {
	h := newHarness(t, hourly())
	h.subscribe(t, 1, "stat.ML")
	h.subscribe(t, 2, "stat.ML")
	h.gw.add("stat.ML", article("interrupted", t0.Add(-time.Minute)), time.Time{})

	ctx, cancel := context.WithCancel(context.Background())
	h.sender.onSend = func(user int64) {
		if user == 1 {
			cancel()
		}
	}
	if _, err := h.d.RunTick(ctx, t0); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if ok, _ := h.store.IsNotified(context.Background(), "stat.ML", "interrupted"); ok {
		t.Fatalf("interrupted article must stay unmarked")
	}

	h.sender.onSend = nil
	h.clock.Advance(time.Hour)
	h.tick(t)
	if h.sender.count(2, "interrupted") != 1 {
		t.Fatalf("article not recovered on next tick: %+v", h.sender.sent)
	}
}

type failingLedger struct {
	Store
}

func (failingLedger) MarkNotified(context.Context, string, string, time.Time) error {
	return errors.Join(storage.ErrStorage, errors.New("disk full"))
}

func TestStorageFailureAbortsTick(t *testing.T) {
	h := newHarness(t, hourly())
	h.subscribe(t, 1, "cs.AI")
	h.subscribe(t, 1, "cs.DB")
	h.gw.add("cs.AI", article("a1", t0.Add(-time.Minute)), time.Time{})
	h.gw.add("cs.DB", article("d1", t0.Add(-time.Minute)), time.Time{})

	d := New(failingLedger{h.store}, h.gw, h.sender, WithClock(h.clock), WithSettings(hourly()))
	_, err := d.RunTick(context.Background(), t0)
	if !errors.Is(err, storage.ErrStorage) {
		t.Fatalf("expected storage failure, got %v", err)
	}
	if h.gw.calls["cs.DB"] != 0 {
		t.Fatalf("tick should abort before the next topic")
	}
}

func TestEmptyTopicsAndPruneAndEvent(t *testing.T) {
	set := hourly()
	set.Retention = 24 * time.Hour
	h := newHarness(t, set)
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4, eventbus.TypeDispatchTick)
	defer unsub()
	h.d = New(h.store, h.gw, h.sender, WithClock(h.clock), WithSettings(set), WithBus(bus))

	ctx := context.Background()
	if err := h.store.MarkNotified(ctx, "gone", "ancient", t0.Add(-48*time.Hour)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	rep := h.tick(t)
	if rep.Topics != 0 || rep.Pruned != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if len(h.gw.calls) != 0 {
		t.Fatalf("no topics must mean no gateway calls: %v", h.gw.calls)
	}
	select {
	case e := <-events:
		if r, ok := e.Data.(TickReport); !ok || r.Pruned != 1 {
			t.Fatalf("unexpected event payload: %+v", e.Data)
		}
	default:
		t.Fatalf("expected dispatch.tick event")
	}
}

func TestAggregatorDedupes(t *testing.T) {
	src := topicList{{Name: "b"}, {Name: "a", Kind: paper.KindKeyword}, {Name: "b"}, {Name: ""}, {Name: "cs.AI"}}
	got, err := NewAggregator(src).Aggregate(context.Background())
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(got) != 3 || got[0].Name != "a" || got[1].Name != "b" || got[2].Name != "cs.AI" {
		t.Fatalf("unexpected: %+v", got)
	}
	if got[2].Kind != paper.KindCategory {
		t.Fatalf("missing kind should be classified: %+v", got[2])
	}
}

type topicList []paper.Topic

func (l topicList) AllTopics(context.Context) ([]paper.Topic, error) { return l, nil }
