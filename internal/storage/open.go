package storage

import (
	"errors"
	"strings"

	logx "chanpost/pkg/logx"
)

// Open initializes the configured store. The schedule snapshot and the
// admin list must survive process restarts, so there is no "none" driver;
// an empty config defaults to the file backend.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
