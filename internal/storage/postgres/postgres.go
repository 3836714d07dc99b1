// Package postgres is the storage.Backend for a networked Postgres/PostGIS
// server. When the server cannot be reached it falls back to an in-memory
// SQLite database dumped to disk periodically, so a field session is never
// lost to a missing network.
package postgres

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/rs/zerolog"

	"github.com/sio-stoke/stoke/internal/config"
	"github.com/sio-stoke/stoke/internal/database"
	gormstorage "github.com/sio-stoke/stoke/internal/storage/gorm"
)

// Backend wraps the GORM backend around a database.Manager connection.
type Backend struct {
	*gormstorage.Backend
	manager  *database.Manager
	logger   *slog.Logger
	interval time.Duration
	stopChan chan struct{}
	done     chan struct{}
}

// New creates the backend. Nothing is connected until Init. fallback.Path
// is where the SQLite fallback is dumped.
func New(pg config.PostgresConfig, fallback config.SQLiteConfig, logger *slog.Logger, dbLog zerolog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		manager:  database.NewManager(dbLog, pg, fallback.Path),
		logger:   logger,
		interval: fallback.DumpInterval,
	}
}

// Init connects (or falls back), migrates and starts the writer.
func (b *Backend) Init() error {
	if err := b.manager.Connect(); err != nil {
		return err
	}
	b.Backend = gormstorage.New(gormstorage.Dependencies{
		DB:     b.manager.DB,
		Logger: b.logger,
	})
	if err := b.Backend.Init(); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}

	b.stopChan = make(chan struct{})
	b.done = make(chan struct{})
	if b.manager.ShouldSaveLocal && b.manager.SqliteFilePath != "" && b.interval > 0 {
		go b.dumpLoop()
	} else {
		close(b.done)
	}
	return nil
}

// Local reports whether the SQLite fallback is in use.
func (b *Backend) Local() bool {
	return b.manager.ShouldSaveLocal
}

// Close flushes, dumps the fallback database one last time and closes the
// connection.
func (b *Backend) Close() error {
	if b.Backend == nil {
		return nil
	}
	close(b.stopChan)
	<-b.done
	if err := b.Backend.Close(); err != nil {
		return err
	}
	if b.manager.SqliteFilePath != "" {
		if err := b.manager.DumpMemoryToDisk(); err != nil {
			b.logger.Error("Final dump failed", "error", err)
		}
	}
	return b.manager.Close()
}

func (b *Backend) dumpLoop() {
	defer close(b.done)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			b.Backend.Flush()
			if err := b.manager.DumpMemoryToDisk(); err != nil {
				b.logger.Error("Error dumping to disk", "error", err)
			}
		}
	}
}
