package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"arxivbot/internal/paper"
	logx "arxivbot/pkg/logx"
)

var drivers = []string{"sqlite", "file"}

func openTest(t *testing.T, driver, path string) Store {
	t.Helper()
	st, err := Open(Config{Driver: driver, Path: path, CompactEvery: 3}, logx.Nop())
	if err != nil {
		t.Fatalf("open %s: %v", driver, err)
	}
	return st
}

func forEachDriver(t *testing.T, fn func(t *testing.T, driver, path string)) {
	for _, d := range drivers {
		t.Run(d, func(t *testing.T) {
			fn(t, d, filepath.Join(t.TempDir(), "bot.db"))
		})
	}
}

func sub(user int64, topic string, at time.Time) paper.Subscription {
	return paper.Subscription{UserID: user, Topic: topic, Kind: paper.Classify(topic), CreatedAt: at}
}

func TestSubscriptions(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver, path string) {
		ctx := context.Background()
		st := openTest(t, driver, path)
		defer st.Close()

		t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		mustAdd(t, st, sub(1, "cs.AI", t0.Add(2*time.Minute)))
		mustAdd(t, st, sub(1, "graph neural networks", t0))
		mustAdd(t, st, sub(2, "cs.AI", t0))

		if err := st.AddSubscription(ctx, sub(1, "cs.AI", t0)); !errors.Is(err, ErrAlreadySubscribed) {
			t.Fatalf("expected ErrAlreadySubscribed, got %v", err)
		}

		list, err := st.ListSubscriptions(ctx, 1)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(list) != 2 || list[0].Topic != "graph neural networks" || list[1].Topic != "cs.AI" {
			t.Fatalf("unexpected list order: %+v", list)
		}
		if list[1].Kind != paper.KindCategory || list[0].Kind != paper.KindKeyword {
			t.Fatalf("kinds not persisted: %+v", list)
		}

		topics, err := st.AllTopics(ctx)
		if err != nil {
			t.Fatalf("all topics: %v", err)
		}
		if len(topics) != 2 || topics[0].Name != "cs.AI" || topics[1].Name != "graph neural networks" {
			t.Fatalf("unexpected topics: %+v", topics)
		}

		users, err := st.SubscribersOf(ctx, "cs.AI")
		if err != nil {
			t.Fatalf("subscribers: %v", err)
		}
		if len(users) != 2 || users[0] != 1 || users[1] != 2 {
			t.Fatalf("unexpected subscribers: %v", users)
		}

		if err := st.RemoveSubscription(ctx, 1, "cs.AI"); err != nil {
			t.Fatalf("remove: %v", err)
		}
		if err := st.RemoveSubscription(ctx, 1, "cs.AI"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		users, _ = st.SubscribersOf(ctx, "cs.AI")
		if len(users) != 1 || users[0] != 2 {
			t.Fatalf("unexpected subscribers after remove: %v", users)
		}
		if list, _ := st.ListSubscriptions(ctx, 42); len(list) != 0 {
			t.Fatalf("unknown user should have no subscriptions: %+v", list)
		}
	})
}

func TestLedgerIdempotentAndPrune(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver, path string) {
		ctx := context.Background()
		st := openTest(t, driver, path)
		defer st.Close()

		t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		if ok, err := st.IsNotified(ctx, "cs.AI", "2401.00001"); err != nil || ok {
			t.Fatalf("fresh ledger: ok=%v err=%v", ok, err)
		}
		for i := 0; i < 2; i++ {
			if err := st.MarkNotified(ctx, "cs.AI", "2401.00001", t0); err != nil {
				t.Fatalf("mark #%d: %v", i, err)
			}
		}
		if err := st.MarkNotified(ctx, "cs.AI", "2401.00002", t0.Add(48*time.Hour)); err != nil {
			t.Fatalf("mark: %v", err)
		}
		if ok, _ := st.IsNotified(ctx, "cs.AI", "2401.00001"); !ok {
			t.Fatalf("expected notified")
		}
		// Ledger is per topic.
		if ok, _ := st.IsNotified(ctx, "cs.LG", "2401.00001"); ok {
			t.Fatalf("other topic must not be notified")
		}

		n, err := st.PruneNotified(ctx, t0.Add(24*time.Hour))
		if err != nil || n != 1 {
			t.Fatalf("prune: n=%d err=%v", n, err)
		}
		if ok, _ := st.IsNotified(ctx, "cs.AI", "2401.00001"); ok {
			t.Fatalf("old record should be pruned")
		}
		if ok, _ := st.IsNotified(ctx, "cs.AI", "2401.00002"); !ok {
			t.Fatalf("recent record should survive prune")
		}
		if n, _ := st.PruneNotified(ctx, t0.Add(24*time.Hour)); n != 0 {
			t.Fatalf("second prune removed %d", n)
		}
	})
}

func TestDurableAcrossReopen(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver, path string) {
		ctx := context.Background()
		t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

		st := openTest(t, driver, path)
		// Enough writes to trigger at least one file compaction (CompactEvery=3).
		mustAdd(t, st, sub(1, "cs.AI", t0))
		mustAdd(t, st, sub(1, "quant-ph", t0.Add(time.Second)))
		mustAdd(t, st, sub(2, "quant-ph", t0))
		if err := st.RemoveSubscription(ctx, 2, "quant-ph"); err != nil {
			t.Fatalf("remove: %v", err)
		}
		if err := st.MarkNotified(ctx, "cs.AI", "2401.00001", t0); err != nil {
			t.Fatalf("mark: %v", err)
		}
		if err := st.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}

		st = openTest(t, driver, path)
		defer st.Close()
		list, err := st.ListSubscriptions(ctx, 1)
		if err != nil || len(list) != 2 || list[0].Topic != "cs.AI" || list[1].Topic != "quant-ph" {
			t.Fatalf("after reopen: %+v err=%v", list, err)
		}
		if list[0].CreatedAt.UnixNano() != t0.UnixNano() {
			t.Fatalf("created_at not preserved: %v", list[0].CreatedAt)
		}
		if users, _ := st.SubscribersOf(ctx, "quant-ph"); len(users) != 1 || users[0] != 1 {
			t.Fatalf("removed subscription resurrected: %v", users)
		}
		if ok, _ := st.IsNotified(ctx, "cs.AI", "2401.00001"); !ok {
			t.Fatalf("ledger lost across reopen")
		}
	})
}

func TestConcurrentAccess(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver, path string) {
		ctx := context.Background()
		st := openTest(t, driver, path)
		defer st.Close()

		var wg sync.WaitGroup
		for u := int64(1); u <= 8; u++ {
			wg.Add(2)
			go func(u int64) {
				defer wg.Done()
				_ = st.AddSubscription(ctx, sub(u, "cs.AI", time.Now()))
			}(u)
			go func(u int64) {
				defer wg.Done()
				_ = st.MarkNotified(ctx, "cs.AI", "2401.00001", time.Now())
				_, _ = st.AllTopics(ctx)
			}(u)
		}
		wg.Wait()

		users, err := st.SubscribersOf(ctx, "cs.AI")
		if err != nil || len(users) != 8 {
			t.Fatalf("expected 8 subscribers, got %v err=%v", users, err)
		}
	})
}

func TestFileJournalSurvivesTornLine(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bot.db")
	st := openTest(t, "file", path)
	mustAdd(t, st, sub(1, "cs.AI", time.Now()))
	_ = st.Close()

	journal := filepath.Join(filepath.Dir(path), "bot.journal.jsonl")
	f, err := os.OpenFile(journal, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	_, _ = f.WriteString(`{"op":"sub_add","user":9,"top`)
	_ = f.Close()

	st = openTest(t, "file", path)
	mustAdd(t, st, sub(3, "cs.LG", time.Now()))
	_ = st.Close()

	st = openTest(t, "file", path)
	defer st.Close()
	topics, err := st.AllTopics(ctx)
	if err != nil || len(topics) != 2 {
		t.Fatalf("expected 2 topics after torn line, got %+v err=%v", topics, err)
	}
}

func TestStorageErrorsWrapSentinel(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver, path string) {
		st := openTest(t, driver, path)
		_ = st.Close()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := st.MarkNotified(ctx, "t", "a", time.Now()); !errors.Is(err, ErrStorage) {
			t.Fatalf("expected ErrStorage, got %v", err)
		}
	})
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "redis", Path: t.TempDir()}, logx.Nop()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func mustAdd(t *testing.T, st Store, s paper.Subscription) {
	t.Helper()
	if err := st.AddSubscription(context.Background(), s); err != nil {
		t.Fatalf("add %d/%s: %v", s.UserID, s.Topic, err)
	}
}

func TestFileSnapshotStoresNotifiedRecords(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bot.db")
	at := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	st, err := Open(Config{Driver: "file", Path: path, CompactEvery: 1}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := st.MarkNotified(ctx, "cs.AI", "2403.00001", at); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(filepath.Dir(path), "bot.snapshot.json"))
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	var snap snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	want := paper.NotifiedRecord{Topic: "cs.AI", ArticleID: "2403.00001", NotifiedAt: at}
	if len(snap.Notified) != 1 || snap.Notified[0].Topic != want.Topic ||
		snap.Notified[0].ArticleID != want.ArticleID || !snap.Notified[0].NotifiedAt.Equal(at) {
		t.Fatalf("snapshot notified = %+v", snap.Notified)
	}

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	if ok, _ := st.IsNotified(ctx, "cs.AI", "2403.00001"); !ok {
		t.Fatalf("mark lost after reload from snapshot")
	}
	// The reloaded timestamp drives retention.
	if n, err := st.PruneNotified(ctx, at.Add(-time.Minute)); err != nil || n != 0 {
		t.Fatalf("prune before mark: n=%d err=%v", n, err)
	}
	if n, err := st.PruneNotified(ctx, at.Add(time.Minute)); err != nil || n != 1 {
		t.Fatalf("prune after mark: n=%d err=%v", n, err)
	}
}
