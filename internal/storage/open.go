package storage

import (
	"context"
	"fmt"
	"strings"

	logx "remindbot/pkg/logx"
)

// DefaultPath is used when the config leaves storage.path empty.
const DefaultPath = "./remindbot.db"

// Open initializes the configured store and applies pending migrations.
func Open(ctx context.Context, cfg Config, log logx.Logger) (*DB, error) {
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Path) == "" {
			cfg.Path = DefaultPath
		}
		return openSQLite(ctx, cfg, log.With(logx.String("comp", "storage")))
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
