// Package dispatch is the notification engine. On each tick it collapses all
// subscriptions into unique topics, searches each topic inside a rolling
// window, skips articles already in the ledger, hands new ones to the sender
// for every subscriber and then marks them in the ledger.
//
// Delivery is mark-after-attempt: an article is ledgered once every
// recipient was tried, whether or not the sends succeeded. A recipient that
// is permanently unreachable therefore never causes re-delivery to the
// others; the guarantee is at-most-once per (topic, article), not per user.
package dispatch
