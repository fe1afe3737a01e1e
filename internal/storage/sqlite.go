package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"arxivbot/internal/paper"
	logx "arxivbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsSQL string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func sqliteDSN(path string, busy time.Duration) string {
	if busy <= 0 {
		busy = 5 * time.Second
	}
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(FULL)")
	q.Add("_pragma", "foreign_keys(ON)")
	return "file:" + path + "?" + q.Encode()
}

func openSQLite(cfg Config, log logx.Logger) (*sqliteStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", sqliteDSN(path, cfg.BusyTimeout))
	if err != nil {
		return nil, err
	}
	// One connection serializes writers; the dispatcher and the bot handler share it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}
	if _, err := db.ExecContext(context.Background(), migrationsSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AddSubscription(ctx context.Context, sub paper.Subscription) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions(user_id, topic, kind, created_at) VALUES(?,?,?,?)
		 ON CONFLICT(user_id, topic) DO NOTHING`,
		sub.UserID, sub.Topic, string(sub.Kind), sub.CreatedAt.UTC().UnixNano(),
	)
	if err != nil {
		return storageErr("add subscription", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("add subscription", err)
	}
	if n == 0 {
		return ErrAlreadySubscribed
	}
	return nil
}

func (s *sqliteStore) RemoveSubscription(ctx context.Context, userID int64, topic string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE user_id = ? AND topic = ?`, userID, topic)
	if err != nil {
		return storageErr("remove subscription", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("remove subscription", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) ListSubscriptions(ctx context.Context, userID int64) ([]paper.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT topic, kind, created_at FROM subscriptions WHERE user_id = ? ORDER BY created_at, rowid`, userID)
	if err != nil {
		return nil, storageErr("list subscriptions", err)
	}
	defer rows.Close()

	var out []paper.Subscription
	for rows.Next() {
		var (
			topic, kind string
			created     int64
		)
		if err := rows.Scan(&topic, &kind, &created); err != nil {
			return nil, storageErr("list subscriptions", err)
		}
		out = append(out, paper.Subscription{
			UserID:    userID,
			Topic:     topic,
			Kind:      paper.TopicKind(kind),
			CreatedAt: time.Unix(0, created).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list subscriptions", err)
	}
	return out, nil
}

func (s *sqliteStore) AllTopics(ctx context.Context) ([]paper.Topic, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT topic, MIN(kind) FROM subscriptions GROUP BY topic ORDER BY topic`)
	if err != nil {
		return nil, storageErr("all topics", err)
	}
	defer rows.Close()

	var out []paper.Topic
	for rows.Next() {
		var name, kind string
		if err := rows.Scan(&name, &kind); err != nil {
			return nil, storageErr("all topics", err)
		}
		out = append(out, paper.Topic{Name: name, Kind: paper.TopicKind(kind)})
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("all topics", err)
	}
	return out, nil
}

func (s *sqliteStore) SubscribersOf(ctx context.Context, topic string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM subscriptions WHERE topic = ? ORDER BY user_id`, topic)
	if err != nil {
		return nil, storageErr("subscribers", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("subscribers", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("subscribers", err)
	}
	return out, nil
}

func (s *sqliteStore) IsNotified(ctx context.Context, topic, articleID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM notified WHERE topic = ? AND article_id = ?`, topic, articleID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storageErr("is notified", err)
	}
	return true, nil
}

func (s *sqliteStore) MarkNotified(ctx context.Context, topic, articleID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notified(topic, article_id, notified_at) VALUES(?,?,?)
		 ON CONFLICT(topic, article_id) DO NOTHING`,
		topic, articleID, at.UTC().UnixNano(),
	)
	return storageErr("mark notified", err)
}

func (s *sqliteStore) PruneNotified(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notified WHERE notified_at < ?`, olderThan.UTC().UnixNano())
	if err != nil {
		return 0, storageErr("prune notified", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("prune notified", err)
	}
	if n > 0 {
		s.log.Debug("ledger pruned", logx.Int64("removed", n))
	}
	return int(n), nil
}
