// Package store opens the configured session record store.
package store

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/zen-systems/thinkgate/pkg/config"
	"github.com/zen-systems/thinkgate/pkg/evidence"
	"github.com/zen-systems/thinkgate/pkg/record"
	"github.com/zen-systems/thinkgate/pkg/store/badgerstore"
	"github.com/zen-systems/thinkgate/pkg/store/sqlitestore"
)

// Kinds lists the supported sink kinds.
var Kinds = []string{"file", "badger", "sqlite", "none"}

// Open returns the store for kind at path. Kind "none" keeps sessions in
// memory for the life of the process.
func Open(kind, path string, logger *slog.Logger) (record.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch kind {
	case "file":
		return evidence.NewStore(path)
	case "badger":
		return badgerstore.Open(badgerstore.Config{Path: path, GCInterval: 10 * time.Minute, Logger: logger})
	case "sqlite":
		return sqlitestore.Open(path)
	case "none":
		return record.NewMemoryStore(), nil
	default:
		return nil, &config.ConfigurationError{Field: "sink.kind", Reason: fmt.Sprintf("unknown sink %q", kind)}
	}
}

// OpenFromConfig opens the store described by cfg.
func OpenFromConfig(cfg *config.Config, logger *slog.Logger) (record.Store, error) {
	return Open(cfg.Scheduler.Sink.Kind, cfg.SinkPath(), logger)
}
