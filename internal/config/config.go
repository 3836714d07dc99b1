// Package config holds the rig configuration. Values come from
// stoke.cfg.yaml, command-line flags bound on top, and the defaults below.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ConfigFileName is the name of the YAML configuration file looked up in the
// configuration directory.
const ConfigFileName = "stoke.cfg.yaml"

// CaptureConfig holds the capture loop and persistence settings shared by
// every profile.
type CaptureConfig struct {
	HardwareLatencyUs float64       `mapstructure:"hardwareLatencyUs"`
	RingCapacity      int           `mapstructure:"ringCapacity"`
	WriterPool        int           `mapstructure:"writerPool"`
	WriterQueue       int           `mapstructure:"writerQueue"`
	ImageExt          string        `mapstructure:"imageExt"`
	JPEGQuality       int           `mapstructure:"jpegQuality"`
	WarmupPulses      int           `mapstructure:"warmupPulses"`
	WarmupGap         time.Duration `mapstructure:"warmupGap"`
	HoldTime          time.Duration `mapstructure:"holdTime"`
	PollInterval      time.Duration `mapstructure:"pollInterval"`
	OutputDir         string        `mapstructure:"outputDir"`
	CalibFrames       int           `mapstructure:"calibFrames"`
	CalibInterval     time.Duration `mapstructure:"calibInterval"`
	ProfileIndex      int           `mapstructure:"profile"`
}

// Profile is one operator-selectable shooting mode.
type Profile struct {
	Name       string  `mapstructure:"name" json:"name"`
	FrameRate  float64 `mapstructure:"fps" json:"fps"`
	ExposureUs float64 `mapstructure:"exposureUs" json:"exposureUs"`
	Strategy   string  `mapstructure:"strategy" json:"strategy"`
	FrameCount int     `mapstructure:"frameCount" json:"frameCount"`
}

// CameraConfig describes both frame sources.
type CameraConfig struct {
	Driver          string   `mapstructure:"driver"`
	Devices         []string `mapstructure:"devices"`
	Width           int      `mapstructure:"width"`
	Height          int      `mapstructure:"height"`
	Format          string   `mapstructure:"format"`
	TriggerModePath string   `mapstructure:"triggerModePath"`
}

// PinConfig maps rig functions to GPIO line names.
type PinConfig struct {
	Trigger          string `mapstructure:"trigger"`
	TriggerActiveLow bool   `mapstructure:"triggerActiveLow"`
	Primary          string `mapstructure:"primary"`
	Secondary        string `mapstructure:"secondary"`
	Green            string `mapstructure:"green"`
	Yellow           string `mapstructure:"yellow"`
	Red              string `mapstructure:"red"`
}

// NavConfig holds the navigation sensor and clock synchronization settings.
type NavConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Port            string        `mapstructure:"port"`
	Baud            int           `mapstructure:"baud"`
	FixTimeout      time.Duration `mapstructure:"fixTimeout"`
	PollInterval    time.Duration `mapstructure:"pollInterval"`
	SampleInterval  time.Duration `mapstructure:"sampleInterval"`
	QualifyingFix   string        `mapstructure:"qualifyingFix"`
	MaxAdjustments  int           `mapstructure:"maxAdjustments"`
	AdjustClock     bool          `mapstructure:"adjustClock"`
	MonitorInterval time.Duration `mapstructure:"monitorInterval"`
	RecordInterval  time.Duration `mapstructure:"recordInterval"`
}

// MemoryConfig holds in-memory/JSON storage backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SQLiteConfig holds SQLite storage backend settings
type SQLiteConfig struct {
	Path         string        `json:"path" mapstructure:"path"`
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
}

// PostgresConfig holds connection settings for the postgres backend.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// StorageConfig selects the metadata backend.
type StorageConfig struct {
	Type     string         `json:"type" mapstructure:"type"`
	Memory   MemoryConfig   `json:"memory" mapstructure:"memory"`
	SQLite   SQLiteConfig   `json:"sqlite" mapstructure:"sqlite"`
	Postgres PostgresConfig `json:"postgres" mapstructure:"postgres"`
}

// InfluxConfig holds the InfluxDB telemetry settings.
type InfluxConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Host      string `mapstructure:"host"`
	Port      string `mapstructure:"port"`
	Protocol  string `mapstructure:"protocol"`
	Token     string `mapstructure:"token"`
	Org       string `mapstructure:"org"`
	BackupDir string `mapstructure:"backupDir"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// GraylogConfig holds the GELF sink settings.
type GraylogConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// MonitorConfig holds the status file settings.
type MonitorConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Path     string        `mapstructure:"path"`
}

// DefaultProfiles are the shooting modes available without a config file.
var DefaultProfiles = []Profile{
	{Name: "auto", FrameRate: 25, ExposureUs: 2000, Strategy: "burst"},
	{Name: "fast", FrameRate: 25, ExposureUs: 500, Strategy: "burst"},
	{Name: "dark", FrameRate: 10, ExposureUs: 8000, Strategy: "burst"},
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./stokelogs")
	viper.SetDefault("siteLocation", "")
	viper.SetDefault("dryRun", false)

	viper.SetDefault("capture.hardwareLatencyUs", 14.26)
	viper.SetDefault("capture.ringCapacity", 1000)
	viper.SetDefault("capture.writerPool", 2)
	viper.SetDefault("capture.writerQueue", 8)
	viper.SetDefault("capture.imageExt", "jpg")
	viper.SetDefault("capture.jpegQuality", 95)
	viper.SetDefault("capture.warmupPulses", 10)
	viper.SetDefault("capture.warmupGap", "100ms")
	viper.SetDefault("capture.holdTime", "3s")
	viper.SetDefault("capture.pollInterval", "50ms")
	viper.SetDefault("capture.outputDir", "./sessions")
	viper.SetDefault("capture.calibFrames", 20)
	viper.SetDefault("capture.calibInterval", "2s")
	viper.SetDefault("capture.profile", 0)

	viper.SetDefault("camera.driver", "v4l2")
	viper.SetDefault("camera.devices", []string{"/dev/video0", "/dev/video1"})
	viper.SetDefault("camera.width", 1456)
	viper.SetDefault("camera.height", 1088)
	viper.SetDefault("camera.format", "mjpeg")
	viper.SetDefault("camera.triggerModePath", "/sys/module/imx296/parameters/trigger_mode")

	viper.SetDefault("pins.trigger", "GPIO26")
	viper.SetDefault("pins.triggerActiveLow", true)
	viper.SetDefault("pins.primary", "GPIO18")
	viper.SetDefault("pins.secondary", "GPIO17")
	viper.SetDefault("pins.green", "GPIO12")
	viper.SetDefault("pins.yellow", "GPIO16")
	viper.SetDefault("pins.red", "GPIO24")

	viper.SetDefault("nav.enabled", true)
	viper.SetDefault("nav.port", "/dev/ttyUSB0")
	viper.SetDefault("nav.baud", 115200)
	viper.SetDefault("nav.fixTimeout", "60s")
	viper.SetDefault("nav.pollInterval", "500ms")
	viper.SetDefault("nav.sampleInterval", "200ms")
	viper.SetDefault("nav.qualifyingFix", "Fix3D")
	viper.SetDefault("nav.maxAdjustments", 5)
	viper.SetDefault("nav.adjustClock", true)
	viper.SetDefault("nav.monitorInterval", "10s")
	viper.SetDefault("nav.recordInterval", "1s")

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.memory.outputDir", "./sessions")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.sqlite.path", "")
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")
	viper.SetDefault("storage.postgres.host", "localhost")
	viper.SetDefault("storage.postgres.port", "5432")
	viper.SetDefault("storage.postgres.username", "postgres")
	viper.SetDefault("storage.postgres.password", "postgres")
	viper.SetDefault("storage.postgres.database", "stoke")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "stoke")
	viper.SetDefault("influx.backupDir", "./stokelogs")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "stoke")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("monitor.enabled", true)
	viper.SetDefault("monitor.interval", "1s")
	viper.SetDefault("monitor.path", "status.txt")
}

// Load reads configuration from the YAML file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	setDefaults()

	viper.SetConfigName(strings.TrimSuffix(ConfigFileName, ".yaml"))
	viper.AddConfigPath(configDir)
	viper.SetConfigType("yaml")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// Flags registers the command-line overrides on fs.
func Flags(fs *pflag.FlagSet) {
	fs.String("config", ".", "directory containing "+ConfigFileName)
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.Bool("dry-run", false, "use synthetic cameras and no GPIO or serial hardware")
}

// BindFlags binds the parsed overrides into viper so they win over file values.
func BindFlags(fs *pflag.FlagSet) error {
	if f := fs.Lookup("log-level"); f != nil && f.Changed {
		if err := viper.BindPFlag("logLevel", f); err != nil {
			return err
		}
	}
	if f := fs.Lookup("dry-run"); f != nil && f.Changed {
		if err := viper.BindPFlag("dryRun", f); err != nil {
			return err
		}
	}
	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetCaptureConfig returns the capture loop configuration.
func GetCaptureConfig() CaptureConfig {
	return CaptureConfig{
		HardwareLatencyUs: viper.GetFloat64("capture.hardwareLatencyUs"),
		RingCapacity:      viper.GetInt("capture.ringCapacity"),
		WriterPool:        viper.GetInt("capture.writerPool"),
		WriterQueue:       viper.GetInt("capture.writerQueue"),
		ImageExt:          viper.GetString("capture.imageExt"),
		JPEGQuality:       viper.GetInt("capture.jpegQuality"),
		WarmupPulses:      viper.GetInt("capture.warmupPulses"),
		WarmupGap:         viper.GetDuration("capture.warmupGap"),
		HoldTime:          viper.GetDuration("capture.holdTime"),
		PollInterval:      viper.GetDuration("capture.pollInterval"),
		OutputDir:         viper.GetString("capture.outputDir"),
		CalibFrames:       viper.GetInt("capture.calibFrames"),
		CalibInterval:     viper.GetDuration("capture.calibInterval"),
		ProfileIndex:      viper.GetInt("capture.profile"),
	}
}

// GetProfiles returns the configured shooting profiles, or DefaultProfiles
// when none are configured.
func GetProfiles() ([]Profile, error) {
	if !viper.IsSet("profiles") {
		return append([]Profile(nil), DefaultProfiles...), nil
	}
	var profiles []Profile
	if err := viper.UnmarshalKey("profiles", &profiles); err != nil {
		return nil, fmt.Errorf("error decoding profiles: %w", err)
	}
	if len(profiles) == 0 {
		return append([]Profile(nil), DefaultProfiles...), nil
	}
	for i := range profiles {
		if profiles[i].Strategy == "" {
			profiles[i].Strategy = "burst"
		}
		if profiles[i].Name == "" {
			return nil, fmt.Errorf("profile %d has no name", i)
		}
	}
	return profiles, nil
}

// GetCameraConfig returns the frame source configuration.
func GetCameraConfig() CameraConfig {
	return CameraConfig{
		Driver:          viper.GetString("camera.driver"),
		Devices:         viper.GetStringSlice("camera.devices"),
		Width:           viper.GetInt("camera.width"),
		Height:          viper.GetInt("camera.height"),
		Format:          viper.GetString("camera.format"),
		TriggerModePath: viper.GetString("camera.triggerModePath"),
	}
}

// GetPinConfig returns the GPIO assignment.
func GetPinConfig() PinConfig {
	return PinConfig{
		Trigger:          viper.GetString("pins.trigger"),
		TriggerActiveLow: viper.GetBool("pins.triggerActiveLow"),
		Primary:          viper.GetString("pins.primary"),
		Secondary:        viper.GetString("pins.secondary"),
		Green:            viper.GetString("pins.green"),
		Yellow:           viper.GetString("pins.yellow"),
		Red:              viper.GetString("pins.red"),
	}
}

// GetNavConfig returns the navigation sensor configuration.
func GetNavConfig() NavConfig {
	return NavConfig{
		Enabled:         viper.GetBool("nav.enabled"),
		Port:            viper.GetString("nav.port"),
		Baud:            viper.GetInt("nav.baud"),
		FixTimeout:      viper.GetDuration("nav.fixTimeout"),
		PollInterval:    viper.GetDuration("nav.pollInterval"),
		SampleInterval:  viper.GetDuration("nav.sampleInterval"),
		QualifyingFix:   viper.GetString("nav.qualifyingFix"),
		MaxAdjustments:  viper.GetInt("nav.maxAdjustments"),
		AdjustClock:     viper.GetBool("nav.adjustClock"),
		MonitorInterval: viper.GetDuration("nav.monitorInterval"),
		RecordInterval:  viper.GetDuration("nav.recordInterval"),
	}
}

// GetStorageConfig returns the storage backend configuration.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		SQLite: SQLiteConfig{
			Path:         viper.GetString("storage.sqlite.path"),
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
		},
		Postgres: PostgresConfig{
			Host:     viper.GetString("storage.postgres.host"),
			Port:     viper.GetString("storage.postgres.port"),
			Username: viper.GetString("storage.postgres.username"),
			Password: viper.GetString("storage.postgres.password"),
			Database: viper.GetString("storage.postgres.database"),
		},
	}
}

// GetInfluxConfig returns the InfluxDB configuration.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:   viper.GetBool("influx.enabled"),
		Host:      viper.GetString("influx.host"),
		Port:      viper.GetString("influx.port"),
		Protocol:  viper.GetString("influx.protocol"),
		Token:     viper.GetString("influx.token"),
		Org:       viper.GetString("influx.org"),
		BackupDir: viper.GetString("influx.backupDir"),
	}
}

// GetOTelConfig returns the OpenTelemetry configuration.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetGraylogConfig returns the GELF sink configuration.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

// GetMonitorConfig returns the status file configuration.
func GetMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Enabled:  viper.GetBool("monitor.enabled"),
		Interval: viper.GetDuration("monitor.interval"),
		Path:     viper.GetString("monitor.path"),
	}
}
