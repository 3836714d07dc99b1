package storage

import (
	"fmt"
	"log/slog"

	"github.com/rs/zerolog"

	"github.com/sio-stoke/stoke/internal/config"
	gormstorage "github.com/sio-stoke/stoke/internal/storage/gorm"
	"github.com/sio-stoke/stoke/internal/storage/memory"
	"github.com/sio-stoke/stoke/internal/storage/postgres"
	sqlitestorage "github.com/sio-stoke/stoke/internal/storage/sqlite"
)

// NewBackend creates a storage backend based on configuration. The backend
// is not initialized.
func NewBackend(cfg config.StorageConfig, logger *slog.Logger, dbLog zerolog.Logger) (Backend, error) {
	switch cfg.Type {
	case "postgres":
		return postgres.New(cfg.Postgres, cfg.SQLite, logger, dbLog), nil
	case "sqlite":
		return sqlitestorage.New(sqlitestorage.Config{
			DumpInterval: cfg.SQLite.DumpInterval,
			DumpPath:     cfg.SQLite.Path,
		}, logger)
	case "memory":
		return memory.New(cfg.Memory), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

var (
	_ Backend  = (*memory.Backend)(nil)
	_ Exporter = (*memory.Backend)(nil)
	_ Backend  = (*gormstorage.Backend)(nil)
	_ Backend  = (*sqlitestorage.Backend)(nil)
	_ Backend  = (*postgres.Backend)(nil)
)
