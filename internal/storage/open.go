package storage

import (
	"fmt"
	"strings"

	logx "arxivbot/pkg/logx"
)

const DefaultPath = "./data/arxivbot.db"

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Path) == "" {
		cfg.Path = DefaultPath
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver), logx.String("path", cfg.Path))

	var (
		st  Store
		err error
	)
	switch driver {
	case "", "sqlite", "sqlite3":
		st, err = openSQLite(cfg, log)
	case "file":
		st, err = openFile(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
	if err != nil {
		return nil, storageErr("open", err)
	}
	log.Info("storage opened")
	return st, nil
}
