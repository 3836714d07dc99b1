package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"

	"github.com/sio-stoke/stoke/internal/config"
	"github.com/sio-stoke/stoke/pkg/core"
)

// Bucket names used by the rig.
const (
	BucketClock       = "clock"
	BucketBursts      = "bursts"
	BucketNav         = "nav"
	BucketPerformance = "performance"
)

// DefaultBucketNames are the buckets created on connect.
var DefaultBucketNames = []string{
	BucketClock,
	BucketBursts,
	BucketNav,
	BucketPerformance,
}

// BackupFileName is the gzip line-protocol file written while the server is
// unreachable.
const BackupFileName = "influx_backup.lp.gz"

// ErrDisabled is returned by Connect when influx.enabled is false.
var ErrDisabled = errors.New("influxdb is disabled")

// Manager handles InfluxDB connections and writes.
type Manager struct {
	Client       influxdb2.Client
	Writers      map[string]influxdb2_api.WriteAPI
	BackupWriter *gzip.Writer
	IsValid      bool
	BucketNames  []string
	Logger       zerolog.Logger
	BackupPath   string

	cfg        config.InfluxConfig
	backupFile *os.File
	mu         sync.Mutex
}

// NewManager creates a new InfluxDB manager.
func NewManager(log zerolog.Logger, cfg config.InfluxConfig) *Manager {
	return &Manager{
		Writers:     make(map[string]influxdb2_api.WriteAPI),
		IsValid:     false,
		BucketNames: DefaultBucketNames,
		Logger:      log,
		BackupPath:  filepath.Join(cfg.BackupDir, BackupFileName),
		cfg:         cfg,
	}
}

// Connect establishes a connection to InfluxDB, or opens the backup file when
// the server does not answer.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.cfg.Enabled {
		return ErrDisabled
	}

	m.Client = influxdb2.NewClientWithOptions(
		fmt.Sprintf("%s://%s:%s", m.cfg.Protocol, m.cfg.Host, m.cfg.Port),
		m.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(500).
			SetFlushInterval(1000),
	)

	// validate client connection health
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	running, err := m.Client.Ping(pingCtx)
	cancel()

	if err != nil || !running {
		m.Logger.Info().Str("backupPath", m.BackupPath).
			Msg("Failed to initialize InfluxDB client, writing to backup file")
		m.Client.Close()
		m.Client = nil
		return m.OpenBackup()
	}

	if err := m.setupOrganizationAndBuckets(ctx); err != nil {
		return err
	}
	m.CreateWriters()
	m.IsValid = true
	m.Logger.Info().Msg("InfluxDB client initialized")
	return nil
}

// OpenBackup switches the manager to the gzip backup file.
func (m *Manager) OpenBackup() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.IsValid = false
	if m.BackupWriter != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.BackupPath), 0755); err != nil {
		return fmt.Errorf("error creating backup dir: %w", err)
	}
	file, err := os.OpenFile(m.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("error creating backup file: %w", err)
	}
	m.backupFile = file
	m.BackupWriter = gzip.NewWriter(file)
	m.Logger.Warn().Msg("InfluxDB unavailable, using backup writer")
	return nil
}

func (m *Manager) setupOrganizationAndBuckets(ctx context.Context) error {
	orgName := m.cfg.Org

	// ensure org exists
	_, err := m.Client.OrganizationsAPI().FindOrganizationByName(ctx, orgName)
	if err != nil {
		m.Logger.Info().Str("org", orgName).Msg("Organization not found, creating")
		_, err = m.Client.OrganizationsAPI().CreateOrganizationWithName(ctx, orgName)
		if err != nil {
			m.Logger.Error().Err(err).Str("org", orgName).Msg("Error creating organization")
			return err
		}
	}

	influxOrg, err := m.Client.OrganizationsAPI().FindOrganizationByName(ctx, orgName)
	if err != nil {
		m.Logger.Error().Err(err).Str("org", orgName).Msg("Error getting organization")
		return err
	}

	// field deployments sync rarely; keep a year
	for _, bucket := range m.BucketNames {
		_, err = m.Client.BucketsAPI().FindBucketByName(ctx, bucket)
		if err != nil {
			m.Logger.Info().Str("bucket", bucket).Msg("Bucket not found, creating")

			rule := domain.RetentionRuleTypeExpire
			_, err = m.Client.BucketsAPI().CreateBucketWithName(ctx, influxOrg, bucket, domain.RetentionRule{
				Type:         &rule,
				EverySeconds: 60 * 60 * 24 * 365,
			})
			if err != nil {
				m.Logger.Error().Err(err).Str("bucket", bucket).Msg("Error creating bucket")
				return err
			}
		}
	}

	return nil
}

// CreateWriters creates write APIs for all configured buckets.
func (m *Manager) CreateWriters() {
	for _, bucket := range m.BucketNames {
		m.Logger.Trace().Str("bucket", bucket).Msg("Creating InfluxDB writer")
		m.Writers[bucket] = m.Client.WriteAPI(m.cfg.Org, bucket)

		errorsCh := m.Writers[bucket].Errors()
		go func(bucketName string, errorsCh <-chan error) {
			for writeErr := range errorsCh {
				m.Logger.Error().Err(writeErr).Str("bucket", bucketName).
					Msg("Error sending data to InfluxDB")
			}
		}(bucket, errorsCh)
	}

	m.Logger.Debug().Msg("InfluxDB writers initialized")
}

// WritePoint writes a point to InfluxDB or the backup file. Backup lines are
// prefixed with "# bucket" so they can be replayed per bucket.
func (m *Manager) WritePoint(bucket string, point *influxdb2_write.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.IsValid {
		w, ok := m.Writers[bucket]
		if !ok {
			return fmt.Errorf("influxDB bucket '%s' not registered", bucket)
		}
		w.WritePoint(point)
		return nil
	}

	if m.BackupWriter == nil {
		return fmt.Errorf("influxDB client not initialized and backup writer not available")
	}
	// PointToLineProtocol already terminates the line
	lineProtocol := strings.TrimSuffix(influxdb2_write.PointToLineProtocol(point, time.Nanosecond), "\n")
	if _, err := fmt.Fprintf(m.BackupWriter, "# %s\n%s\n", bucket, lineProtocol); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

// Close flushes pending writes and closes the client or backup file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range m.Writers {
		w.Flush()
	}
	if m.Client != nil {
		m.Client.Close()
	}
	var err error
	if m.BackupWriter != nil {
		err = errors.Join(m.BackupWriter.Close(), m.backupFile.Close())
		m.BackupWriter = nil
	}
	m.IsValid = false
	return err
}

// ClockOffsetPoint builds the clock bucket point for a synchronization result.
func ClockOffsetPoint(o core.ClockOffset) *influxdb2_write.Point {
	return influxdb2.NewPoint("clock_offset",
		map[string]string{"fix": o.Fix.String()},
		map[string]interface{}{
			"delta_s":      o.DeltaSeconds,
			"adjustments":  o.Adjustments,
			"monotonic_ns": o.LocalMonotonicNs,
		},
		o.ExternalAbsolute,
	)
}

// BurstPoint builds the bursts bucket point for one burst summary.
func BurstPoint(b core.Burst) *influxdb2_write.Point {
	return influxdb2.NewPoint("burst",
		sessionTags(b.SessionUUID, "strategy", b.Strategy),
		map[string]interface{}{
			"iterations":  b.Iterations,
			"captured":    b.Captured,
			"discarded":   b.Discarded,
			"evicted":     b.Evicted,
			"duration_ms": float64(b.EndedNs-b.StartedNs) / 1e6,
		},
		b.StartTime,
	)
}

// NavSamplePoint builds the nav bucket point for one reading.
func NavSamplePoint(n core.NavSample) *influxdb2_write.Point {
	return influxdb2.NewPoint("nav",
		sessionTags(n.SessionUUID, "fix", n.Fix.String()),
		map[string]interface{}{
			"lon":     n.Position.X,
			"lat":     n.Position.Y,
			"alt":     n.Position.Z,
			"sats":    n.NumSats,
			"mono_ns": n.MonotonicNs,
		},
		n.Time,
	)
}

// PerformancePoint builds the performance bucket point for one snapshot.
func PerformancePoint(p core.Performance) *influxdb2_write.Point {
	return influxdb2.NewPoint("buffers",
		map[string]string{"mode": p.Mode},
		map[string]interface{}{
			"ring0":             p.RingOccupancy[0],
			"ring1":             p.RingOccupancy[1],
			"ring_capacity":     p.RingCapacity,
			"writer_backlog":    p.WriterBacklog,
			"last_batch_frames": p.LastBatchFrames,
			"last_batch_ms":     float64(p.LastBatchDuration.Microseconds()) / 1000,
		},
		p.Time,
	)
}

// empty tag values are not valid line protocol
func sessionTags(session, key, value string) map[string]string {
	tags := map[string]string{key: value}
	if session != "" {
		tags["session"] = session
	}
	return tags
}
