package app

import (
	"time"

	"arxivbot/internal/arxiv"
	"arxivbot/internal/bot"
	"arxivbot/internal/config"
	"arxivbot/internal/dispatch"
	"arxivbot/internal/notifier"
	"arxivbot/internal/paper"
	"arxivbot/internal/storage"
	logx "arxivbot/pkg/logx"
)

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Logging.Telegram.ChatID,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func storageConfig(s config.Settings) storage.Config {
	return storage.Config{
		Driver:       s.StorageDriver,
		Path:         s.StoragePath,
		BusyTimeout:  s.StorageBusy,
		CompactEvery: s.StorageCompaction,
	}
}

func arxivConfig(s config.Settings) arxiv.Config {
	return arxiv.Config{
		BaseURL:     s.ArxivBaseURL,
		UserAgent:   s.ArxivUserAgent,
		Timeout:     s.ArxivTimeout,
		MinInterval: s.ArxivMinInterval,
		Retries:     s.ArxivRetries,
	}
}

func renderOptions(s config.Settings) paper.RenderOptions {
	return paper.RenderOptions{MaxAuthors: s.MaxAuthorsDisplay, MaxAbstract: s.MaxAbstractLength}
}

func dispatchSettings(s config.Settings) dispatch.Settings {
	return dispatch.Settings{
		Interval:   s.CheckInterval,
		Buffer:     s.SearchBuffer,
		MaxResults: s.MaxResults,
		Retention:  s.LedgerRetention,
	}
}

func notifierConfig(s config.Settings) notifier.Config {
	return notifier.Config{
		RatePerSec:           s.NotifyRate,
		RetryMax:             s.NotifyRetryMax,
		RetryBase:            s.NotifyRetryBase,
		RetryMaxDelay:        s.NotifyRetryMaxDelay,
		SendTimeout:          10 * time.Second,
		EnableWebPagePreview: s.EnablePreview,
		Render:               renderOptions(s),
	}
}

func botSettings(s config.Settings) bot.Settings {
	return bot.Settings{
		TestWindow:     s.TestSearchWindow,
		MaxTestResults: s.MaxTestResults,
		Render:         renderOptions(s),
		EnablePreview:  s.EnablePreview,
		HandlerTimeout: s.HandlerTimeout,
	}
}
