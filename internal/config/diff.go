package config

import (
	"reflect"

	logx "arxivbot/pkg/logx"
)

// Section names reported by SummarizeConfigChange.
const (
	SectionTelegram = "telegram"
	SectionLogging  = "logging"
	SectionArxiv    = "arxiv"
	SectionDispatch = "dispatch"
	SectionNotifier = "notifier"
	SectionBot      = "bot"
	SectionStorage  = "storage"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured attrs for logging. Secrets (the bot token) are never included;
// a token change is reported as a flag only.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, SectionTelegram)
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
			logx.String("telegram.poll_timeout", newCfg.Telegram.PollTimeout),
		)
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, SectionLogging)
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Arxiv, newCfg.Arxiv) {
		changed = append(changed, SectionArxiv)
		attrs = append(attrs,
			logx.String("arxiv.min_interval", newCfg.Arxiv.MinInterval),
			logx.Int("arxiv.max_results_per_search", newCfg.Arxiv.MaxResultsPerSearch),
		)
	}
	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, SectionDispatch)
		attrs = append(attrs,
			logx.String("dispatch.check_interval", newCfg.Dispatch.CheckInterval),
			logx.String("dispatch.search_buffer", newCfg.Dispatch.SearchBuffer),
			logx.String("dispatch.ledger_retention", newCfg.Dispatch.LedgerRetention),
		)
	}
	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, SectionNotifier)
		attrs = append(attrs,
			logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec),
			logx.Bool("notifier.preview", newCfg.Notifier.EnableWebPagePreview),
		)
	}
	if oldCfg.Bot != newCfg.Bot {
		changed = append(changed, SectionBot)
		attrs = append(attrs,
			logx.Int("bot.workers", newCfg.Bot.Workers),
			logx.Int("bot.max_test_results", newCfg.Bot.MaxTestResults),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, SectionStorage)
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	return changed, attrs
}

// RestartRequired reports sections whose change only takes effect after a
// restart (the bot token, poll timeout, and storage location).
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		if s == SectionTelegram || s == SectionStorage {
			out = append(out, s)
		}
	}
	return out
}
