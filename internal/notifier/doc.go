// Package notifier delivers article notifications to Telegram users.
//
// Every send goes through a shared token bucket so a large tick cannot trip
// the platform's global flood limit. Flood and transport failures are retried
// with backoff (flood waits honor the platform's retry-after); blocked or
// missing chats fail immediately.
//
// Failures are returned as *DeliveryError, which matches ErrDeliveryFailed
// with errors.Is, and are also published on the event bus.
package notifier
