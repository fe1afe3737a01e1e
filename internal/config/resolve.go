package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrMissingToken = errors.New("telegram token is required (set telegram.token or TELEGRAM_API_TOKEN)")

// Settings is the validated, typed view of Config with defaults applied.
type Settings struct {
	Token       string
	PollTimeout time.Duration

	ArxivBaseURL     string
	ArxivUserAgent   string
	ArxivTimeout     time.Duration
	ArxivMinInterval time.Duration
	ArxivRetries     int
	MaxResults       int

	CheckInterval   time.Duration
	SearchBuffer    time.Duration
	LedgerRetention time.Duration

	NotifyRate          int
	NotifyRetryMax      int
	NotifyRetryBase     time.Duration
	NotifyRetryMaxDelay time.Duration
	EnablePreview       bool
	MaxAbstractLength   int
	MaxAuthorsDisplay   int

	BotWorkers        int
	HandlerTimeout    time.Duration
	TestSearchWindow  time.Duration
	MaxTestResults    int
	StorageDriver     string
	StoragePath       string
	StorageBusy       time.Duration
	StorageCompaction int
}

// Resolve validates cfg and fills defaults.
func Resolve(cfg *Config) (Settings, error) {
	if cfg == nil {
		return Settings{}, errors.New("config is nil")
	}
	var (
		s    Settings
		errs []error
	)
	dur := func(path, raw string, def time.Duration) time.Duration {
		d, err := parseDurationOrDefault(path, raw, def)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}

	s.Token = strings.TrimSpace(cfg.Telegram.Token)
	if s.Token == "" {
		errs = append(errs, ErrMissingToken)
	}
	s.PollTimeout = dur("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)

	s.ArxivBaseURL = strings.TrimSpace(cfg.Arxiv.BaseURL)
	s.ArxivUserAgent = strings.TrimSpace(cfg.Arxiv.UserAgent)
	s.ArxivTimeout = dur("arxiv.timeout", cfg.Arxiv.Timeout, 30*time.Second)
	s.ArxivMinInterval = dur("arxiv.min_interval", cfg.Arxiv.MinInterval, 3*time.Second)
	s.ArxivRetries = intPtrOr(cfg.Arxiv.Retries, 2)
	s.MaxResults = intOr(cfg.Arxiv.MaxResultsPerSearch, 100)

	s.CheckInterval = dur("dispatch.check_interval", cfg.Dispatch.CheckInterval, 60*time.Minute)
	if s.CheckInterval < time.Minute {
		errs = append(errs, fmt.Errorf("dispatch.check_interval: must be at least 1m"))
	}
	s.SearchBuffer = optionalDur(&errs, "dispatch.search_buffer", cfg.Dispatch.SearchBuffer, 5*time.Minute)
	s.LedgerRetention = optionalDur(&errs, "dispatch.ledger_retention", cfg.Dispatch.LedgerRetention, 7*24*time.Hour)
	if s.LedgerRetention > 0 && s.LedgerRetention < s.CheckInterval+s.SearchBuffer {
		errs = append(errs, fmt.Errorf("dispatch.ledger_retention: must cover at least one window (%s)", s.CheckInterval+s.SearchBuffer))
	}

	s.NotifyRate = intOr(cfg.Notifier.RatePerSec, 25)
	s.NotifyRetryMax = intPtrOr(cfg.Notifier.RetryMax, 1)
	s.NotifyRetryBase = dur("notifier.retry_base", cfg.Notifier.RetryBase, 500*time.Millisecond)
	s.NotifyRetryMaxDelay = dur("notifier.retry_max_delay", cfg.Notifier.RetryMaxDelay, 30*time.Second)
	s.EnablePreview = cfg.Notifier.EnableWebPagePreview
	s.MaxAbstractLength = intOr(cfg.Notifier.MaxAbstractLength, 700)
	s.MaxAuthorsDisplay = intOr(cfg.Notifier.MaxAuthorsDisplay, 3)

	s.BotWorkers = intOr(cfg.Bot.Workers, 4)
	s.HandlerTimeout = dur("bot.handler_timeout", cfg.Bot.HandlerTimeout, 60*time.Second)
	s.TestSearchWindow = time.Duration(intOr(cfg.Bot.DaysBackForTestSearch, 7)) * 24 * time.Hour
	s.MaxTestResults = intOr(cfg.Bot.MaxTestResults, 3)

	s.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	s.StoragePath = strings.TrimSpace(cfg.Storage.Path)
	s.StorageBusy = dur("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	s.StorageCompaction = cfg.Storage.CompactEvery
	switch s.StorageDriver {
	case "", "sqlite", "sqlite3", "file":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}

	if err := errors.Join(errs...); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// optionalDur returns def only when raw is empty, so an explicit "0s" is kept.
func optionalDur(errs *[]error, path, raw string, def time.Duration) time.Duration {
	if strings.TrimSpace(raw) == "" {
		return def
	}
	d, err := parseDurationField(path, raw)
	if err != nil {
		*errs = append(*errs, err)
	}
	return d
}

func intOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// intPtrOr applies def only when v is unset; an explicit 0 (or less) means none.
func intPtrOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return max(*v, 0)
}

func parseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func parseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := parseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
