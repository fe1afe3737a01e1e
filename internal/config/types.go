package config

// Config is the on-disk configuration (JSON or YAML). Durations are Go
// duration strings ("90s", "1h"); use Resolve to get typed settings.
//
// Environment variables override file values, see env.go.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Arxiv    ArxivConfig    `json:"arxiv"`
	Dispatch DispatchConfig `json:"dispatch"`
	Notifier NotifierConfig `json:"notifier"`
	Bot      BotConfig      `json:"bot"`
	Storage  StorageConfig  `json:"storage"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram mirrors warnings and errors to an operator chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// ArxivConfig controls the search gateway.
//
// Defaults:
//   - base_url: http://export.arxiv.org/api/query
//   - timeout: "30s"
//   - min_interval: "3s" (arXiv API etiquette)
//   - retries: 2 (0 disables retrying)
//   - max_results_per_search: 100
type ArxivConfig struct {
	BaseURL             string `json:"base_url,omitempty"`
	UserAgent           string `json:"user_agent,omitempty"`
	Timeout             string `json:"timeout,omitempty"`
	MinInterval         string `json:"min_interval,omitempty"`
	Retries             *int   `json:"retries,omitempty"`
	MaxResultsPerSearch int    `json:"max_results_per_search,omitempty"`
}

// DispatchConfig controls the tick schedule and ledger retention.
//
// Defaults: check_interval "60m", search_buffer "5m", ledger_retention "168h".
// Use "0s" for ledger_retention to keep records forever.
type DispatchConfig struct {
	CheckInterval   string `json:"check_interval,omitempty"`
	SearchBuffer    string `json:"search_buffer,omitempty"`
	LedgerRetention string `json:"ledger_retention,omitempty"`
}

type NotifierConfig struct {
	RatePerSec           int    `json:"rate_per_sec,omitempty"`
	RetryMax             *int   `json:"retry_max,omitempty"`
	RetryBase            string `json:"retry_base,omitempty"`
	RetryMaxDelay        string `json:"retry_max_delay,omitempty"`
	EnableWebPagePreview bool   `json:"enable_web_page_preview"`
	MaxAbstractLength    int    `json:"max_abstract_length,omitempty"`
	MaxAuthorsDisplay    int    `json:"max_authors_display,omitempty"`
}

// BotConfig controls the interactive command handler.
type BotConfig struct {
	Workers               int    `json:"workers,omitempty"`
	HandlerTimeout        string `json:"handler_timeout,omitempty"`
	DaysBackForTestSearch int    `json:"days_back_for_test_search,omitempty"`
	MaxTestResults        int    `json:"max_test_results,omitempty"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	storage: { driver: "file", path: "./data/arxivbot" }
type StorageConfig struct {
	Driver       string `json:"driver,omitempty"`
	Path         string `json:"path,omitempty"`
	BusyTimeout  string `json:"busy_timeout,omitempty"`  // sqlite
	CompactEvery int    `json:"compact_every,omitempty"` // file
}
