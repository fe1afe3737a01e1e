// Package tgui provides small Telegram UI helpers:
//   - inline and reply keyboard builders
//   - callback data helpers (namespace:action:payload)
//   - an HTML-safe message builder
package tgui
