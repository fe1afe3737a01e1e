// Package paper holds the bot's domain types (topics, articles, subscriptions)
// and renders article cards for Telegram.
package paper
