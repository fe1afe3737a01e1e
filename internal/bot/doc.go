// Package bot is the interactive side of the notifier: slash commands, the
// MENU reply keyboard and the inline-button menus for browsing categories and
// managing subscriptions.
//
// Updates from the transport adapter are routed on a bounded worker pool.
// Every handler runs behind the same middleware chain (panic recovery,
// request log, timeout).
package bot
