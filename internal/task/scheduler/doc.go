// Package scheduler drives the dispatcher on a fixed interval.
//
// The loop fires one tick as soon as it starts and then every interval via a
// robfig/cron @every schedule. At most one tick runs at a time: a trigger that
// fires while a tick is still in flight is skipped, never queued. Tick errors
// and panics are logged and the loop keeps going.
package scheduler
