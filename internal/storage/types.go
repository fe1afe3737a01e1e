package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"arxivbot/internal/paper"
)

var (
	ErrAlreadySubscribed = errors.New("already subscribed")
	ErrNotFound          = errors.New("subscription not found")
	ErrStorage           = errors.New("storage failure")
	ErrClosed            = errors.New("store closed")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite" (or empty): SQLite database file
//   - "file": snapshot + journal files next to Path
type Config struct {
	Driver       string
	Path         string
	BusyTimeout  time.Duration // sqlite only; 0 means 5s
	CompactEvery int           // file only; journal writes between compactions, 0 means 1000
}

// Subscriptions is the subscription store.
type Subscriptions interface {
	// AddSubscription returns ErrAlreadySubscribed for an existing (user, topic).
	AddSubscription(ctx context.Context, sub paper.Subscription) error
	// RemoveSubscription returns ErrNotFound when nothing was removed.
	RemoveSubscription(ctx context.Context, userID int64, topic string) error
	// ListSubscriptions returns a user's subscriptions, oldest first.
	ListSubscriptions(ctx context.Context, userID int64) ([]paper.Subscription, error)
	// AllTopics returns every subscribed topic once, sorted by name.
	AllTopics(ctx context.Context) ([]paper.Topic, error)
	// SubscribersOf returns the users subscribed to topic, ascending.
	SubscribersOf(ctx context.Context, topic string) ([]int64, error)
}

// Ledger records which (topic, article) pairs were already processed.
type Ledger interface {
	IsNotified(ctx context.Context, topic, articleID string) (bool, error)
	// MarkNotified is idempotent: marking twice is a no-op.
	MarkNotified(ctx context.Context, topic, articleID string, at time.Time) error
	// PruneNotified deletes records notified before olderThan and returns how many.
	PruneNotified(ctx context.Context, olderThan time.Time) (int, error)
}

type Store interface {
	Subscriptions
	Ledger
	Close() error
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
