// Package storage persists subscriptions and the notification ledger.
//
// Two drivers share one contract:
//   - "sqlite" (default): a single SQLite file, one writer connection
//   - "file": JSON snapshot + fsync'ed JSONL journal, compacted periodically
//
// Every driver error is wrapped so errors.Is(err, ErrStorage) holds;
// ErrAlreadySubscribed and ErrNotFound are domain results, not failures.
package storage
