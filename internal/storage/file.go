package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"arxivbot/internal/paper"
	logx "arxivbot/pkg/logx"
)

// fileStore is the dependency-free driver.
//
// Files:
//   - <prefix>.snapshot.json (full state, replaced atomically on compaction)
//   - <prefix>.journal.jsonl (append-only, fsync'ed per write)
//
// State is the snapshot with the journal replayed on top.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journal      *os.File

	subs   map[int64]map[string]subEntry
	ledger map[ledgerKey]int64 // unix nano
	seq    uint64

	writes       int
	compactEvery int
}

type subEntry struct {
	Kind      paper.TopicKind
	CreatedAt int64 // unix nano
	Seq       uint64
}

type ledgerKey struct {
	Topic     string
	ArticleID string
}

const (
	opSubAdd = "sub_add"
	opSubDel = "sub_del"
	opMark   = "mark"
	opPrune  = "prune"
)

type journalRecord struct {
	Op        string `json:"op"`
	UserID    int64  `json:"user,omitempty"`
	Topic     string `json:"topic,omitempty"`
	Kind      string `json:"kind,omitempty"`
	ArticleID string `json:"article,omitempty"`
	At        int64  `json:"at,omitempty"`
}

type snapshotSub struct {
	UserID    int64  `json:"user"`
	Topic     string `json:"topic"`
	Kind      string `json:"kind"`
	CreatedAt int64  `json:"created_at"`
}

type snapshot struct {
	Subscriptions []snapshotSub          `json:"subscriptions"`
	Notified      []paper.NotifiedRecord `json:"notified"`
}

func openFile(cfg Config, log logx.Logger) (*fileStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		snapshotPath: prefix + ".snapshot.json",
		subs:         map[int64]map[string]subEntry{},
		ledger:       map[ledgerKey]int64{},
		compactEvery: cfg.CompactEvery,
	}
	if s.compactEvery <= 0 {
		s.compactEvery = 1000
	}
	if err := s.loadSnapshot(); err != nil {
		return nil, err
	}
	journalPath := prefix + ".journal.jsonl"
	if err := s.replayJournal(journalPath); err != nil {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := terminateTornLine(jf); err != nil {
		_ = jf.Close()
		return nil, err
	}
	s.journal = jf
	return s, nil
}

// terminateTornLine appends a newline when the journal ends mid-record so the
// next append starts on its own line.
func terminateTornLine(f *os.File) error {
	st, err := f.Stat()
	if err != nil || st.Size() == 0 {
		return err
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, st.Size()-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}
	_, err = f.Write([]byte{'\n'})
	return err
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

func (s *fileStore) AddSubscription(ctx context.Context, sub paper.Subscription) error {
	if err := ctx.Err(); err != nil {
		return storageErr("add subscription", err)
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[sub.UserID][sub.Topic]; ok {
		return ErrAlreadySubscribed
	}
	rec := journalRecord{Op: opSubAdd, UserID: sub.UserID, Topic: sub.Topic, Kind: string(sub.Kind), At: sub.CreatedAt.UTC().UnixNano()}
	if err := s.appendLocked(rec); err != nil {
		return storageErr("add subscription", err)
	}
	s.apply(rec)
	s.maybeCompactLocked()
	return nil
}

func (s *fileStore) RemoveSubscription(ctx context.Context, userID int64, topic string) error {
	if err := ctx.Err(); err != nil {
		return storageErr("remove subscription", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[userID][topic]; !ok {
		return ErrNotFound
	}
	rec := journalRecord{Op: opSubDel, UserID: userID, Topic: topic}
	if err := s.appendLocked(rec); err != nil {
		return storageErr("remove subscription", err)
	}
	s.apply(rec)
	s.maybeCompactLocked()
	return nil
}

func (s *fileStore) ListSubscriptions(ctx context.Context, userID int64) ([]paper.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageErr("list subscriptions", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	type row struct {
		sub paper.Subscription
		seq uint64
	}
	rows := make([]row, 0, len(s.subs[userID]))
	for topic, e := range s.subs[userID] {
		rows = append(rows, row{
			sub: paper.Subscription{UserID: userID, Topic: topic, Kind: e.Kind, CreatedAt: time.Unix(0, e.CreatedAt).UTC()},
			seq: e.Seq,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].sub.CreatedAt.Equal(rows[j].sub.CreatedAt) {
			return rows[i].sub.CreatedAt.Before(rows[j].sub.CreatedAt)
		}
		return rows[i].seq < rows[j].seq
	})
	if len(rows) == 0 {
		return nil, nil
	}
	out := make([]paper.Subscription, len(rows))
	for i, r := range rows {
		out[i] = r.sub
	}
	return out, nil
}

func (s *fileStore) AllTopics(ctx context.Context) ([]paper.Topic, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageErr("all topics", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := map[string]paper.TopicKind{}
	for _, topics := range s.subs {
		for name, e := range topics {
			seen[name] = e.Kind
		}
	}
	if len(seen) == 0 {
		return nil, nil
	}
	out := make([]paper.Topic, 0, len(seen))
	for name, kind := range seen {
		out = append(out, paper.Topic{Name: name, Kind: kind})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *fileStore) SubscribersOf(ctx context.Context, topic string) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageErr("subscribers", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []int64
	for uid, topics := range s.subs {
		if _, ok := topics[topic]; ok {
			out = append(out, uid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *fileStore) IsNotified(ctx context.Context, topic, articleID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, storageErr("is notified", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ledger[ledgerKey{Topic: topic, ArticleID: articleID}]
	return ok, nil
}

func (s *fileStore) MarkNotified(ctx context.Context, topic, articleID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return storageErr("mark notified", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ledger[ledgerKey{Topic: topic, ArticleID: articleID}]; ok {
		return nil
	}
	rec := journalRecord{Op: opMark, Topic: topic, ArticleID: articleID, At: at.UTC().UnixNano()}
	if err := s.appendLocked(rec); err != nil {
		return storageErr("mark notified", err)
	}
	s.apply(rec)
	s.maybeCompactLocked()
	return nil
}

func (s *fileStore) PruneNotified(ctx context.Context, olderThan time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, storageErr("prune notified", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := olderThan.UTC().UnixNano()
	n := 0
	for _, at := range s.ledger {
		if at < cutoff {
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	rec := journalRecord{Op: opPrune, At: cutoff}
	if err := s.appendLocked(rec); err != nil {
		return 0, storageErr("prune notified", err)
	}
	s.apply(rec)
	s.maybeCompactLocked()
	return n, nil
}

// apply mutates in-memory state. It is shared by writes and journal replay.
func (s *fileStore) apply(r journalRecord) {
	switch r.Op {
	case opSubAdd:
		topics := s.subs[r.UserID]
		if topics == nil {
			topics = map[string]subEntry{}
			s.subs[r.UserID] = topics
		}
		if _, ok := topics[r.Topic]; ok {
			return
		}
		s.seq++
		topics[r.Topic] = subEntry{Kind: paper.TopicKind(r.Kind), CreatedAt: r.At, Seq: s.seq}
	case opSubDel:
		delete(s.subs[r.UserID], r.Topic)
		if len(s.subs[r.UserID]) == 0 {
			delete(s.subs, r.UserID)
		}
	case opMark:
		k := ledgerKey{Topic: r.Topic, ArticleID: r.ArticleID}
		if _, ok := s.ledger[k]; !ok {
			s.ledger[k] = r.At
		}
	case opPrune:
		for k, at := range s.ledger {
			if at < r.At {
				delete(s.ledger, k)
			}
		}
	}
}

func (s *fileStore) appendLocked(r journalRecord) error {
	if s.journal == nil {
		return ErrClosed
	}
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	if _, err := s.journal.Write(append(b, '\n')); err != nil {
		return err
	}
	return s.journal.Sync()
}

func (s *fileStore) maybeCompactLocked() {
	s.writes++
	if s.writes%s.compactEvery != 0 {
		return
	}
	if err := s.compactLocked(); err != nil {
		s.log.Warn("journal compaction failed", logx.Err(err))
	}
}

// compactLocked writes a full snapshot (tmp + fsync + rename) and truncates the journal.
func (s *fileStore) compactLocked() error {
	snap := snapshot{
		Subscriptions: make([]snapshotSub, 0),
		Notified:      make([]paper.NotifiedRecord, 0, len(s.ledger)),
	}
	type seqSub struct {
		snapshotSub
		seq uint64
	}
	var subs []seqSub
	for uid, topics := range s.subs {
		for topic, e := range topics {
			subs = append(subs, seqSub{snapshotSub{UserID: uid, Topic: topic, Kind: string(e.Kind), CreatedAt: e.CreatedAt}, e.Seq})
		}
	}
	// Replay order must keep creation ties stable.
	sort.Slice(subs, func(i, j int) bool { return subs[i].seq < subs[j].seq })
	for _, x := range subs {
		snap.Subscriptions = append(snap.Subscriptions, x.snapshotSub)
	}
	for k, at := range s.ledger {
		snap.Notified = append(snap.Notified, paper.NotifiedRecord{
			Topic:      k.Topic,
			ArticleID:  k.ArticleID,
			NotifiedAt: time.Unix(0, at).UTC(),
		})
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

func (s *fileStore) loadSnapshot() error {
	f, err := os.Open(s.snapshotPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	var snap snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for _, x := range snap.Subscriptions {
		s.apply(journalRecord{Op: opSubAdd, UserID: x.UserID, Topic: x.Topic, Kind: x.Kind, At: x.CreatedAt})
	}
	for _, m := range snap.Notified {
		s.apply(journalRecord{Op: opMark, Topic: m.Topic, ArticleID: m.ArticleID, At: m.NotifiedAt.UnixNano()})
	}
	return nil
}

// replayJournal applies records in order. A torn final line (crash mid-write)
// is skipped.
func (s *fileStore) replayJournal(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	skipped := 0
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Op == "" {
			skipped++
			continue
		}
		s.apply(r)
	}
	if skipped > 0 {
		s.log.Warn("journal lines skipped", logx.Int("count", skipped))
	}
	return sc.Err()
}
