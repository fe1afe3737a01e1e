package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays the supported environment variables onto cfg. Minute and
// hour counts are converted to duration strings.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, apply func(n int)) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q", key, v)
		}
		if n < 0 {
			return fmt.Errorf("%s: must be >= 0", key)
		}
		apply(n)
		return nil
	}

	str("TELEGRAM_API_TOKEN", &cfg.Telegram.Token)
	str("STORAGE_DRIVER", &cfg.Storage.Driver)
	str("STORAGE_PATH", &cfg.Storage.Path)

	if v, ok := lookup("ENABLE_WEB_PAGE_PREVIEW"); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("ENABLE_WEB_PAGE_PREVIEW: invalid boolean %q", v)
		}
		cfg.Notifier.EnableWebPagePreview = b
	}

	ints := []struct {
		key   string
		apply func(n int)
	}{
		{"CHECK_INTERVAL_MINUTES", func(n int) { cfg.Dispatch.CheckInterval = fmt.Sprintf("%dm", n) }},
		{"SEARCH_BUFFER_MINUTES", func(n int) { cfg.Dispatch.SearchBuffer = fmt.Sprintf("%dm", n) }},
		{"LEDGER_RETENTION_HOURS", func(n int) { cfg.Dispatch.LedgerRetention = fmt.Sprintf("%dh", n) }},
		{"MAX_RESULTS_PER_SEARCH", func(n int) { cfg.Arxiv.MaxResultsPerSearch = n }},
		{"MAX_ABSTRACT_LENGTH", func(n int) { cfg.Notifier.MaxAbstractLength = n }},
		{"MAX_AUTHORS_DISPLAY", func(n int) { cfg.Notifier.MaxAuthorsDisplay = n }},
		{"DAYS_BACK_FOR_TEST_SEARCH", func(n int) { cfg.Bot.DaysBackForTestSearch = n }},
		{"MAX_TEST_RESULTS", func(n int) { cfg.Bot.MaxTestResults = n }},
	}
	for _, it := range ints {
		if err := num(it.key, it.apply); err != nil {
			return err
		}
	}
	return nil
}
