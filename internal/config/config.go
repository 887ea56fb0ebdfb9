// Package config provides configuration loading and management for the
// racewatch worker.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Defaults applied by ScheduleConfig.ApplyDefaults.
const (
	DefaultGameCatalogSpec = "*/30 * * * *"
	DefaultRaceSyncSpec    = "* * * * *"
	DefaultAnnounceSpec    = "* * * * *"

	DefaultLockTTL               = time.Minute
	DefaultReleaseGrace          = 10 * time.Second
	DefaultAnnounceWindow        = 6 * time.Hour
	DefaultRaceLookback          = 24 * time.Hour
	DefaultRaceRecency           = 24 * time.Hour
	DefaultMaxNewAnnounceChanges = 3
	DefaultMaxFailedUpdates      = 5
)

// Duration wraps time.Duration so YAML values can use Go duration strings
// such as "10s" or "6h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}
		cfg.path = filepath.Clean(path)
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// InstanceName identifies this process instance in lock ownership and
	// logs. Defaults to the hostname if not specified.
	InstanceName string `yaml:"instanceName,omitempty"`

	Database  *DatabaseConfig  `yaml:"database,omitempty"`
	Redis     *RedisConfig     `yaml:"redis,omitempty"`
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`

	Sources  []SourceConfig `yaml:"sources"`
	Schedule ScheduleConfig `yaml:"schedule"`
}

// TelemetryConfig enables OTLP metric export. Omitting the block disables
// metrics entirely.
type TelemetryConfig struct {
	// Endpoint is the OTLP HTTP collector endpoint as host:port.
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS toward the collector.
	Insecure bool `yaml:"insecure,omitempty"`

	// Interval between metric exports. Defaults to 60s.
	Interval Duration `yaml:"interval,omitempty"`
}

// SourceConfig defines a single upstream race service plus the destination
// credentials used to announce its races.
type SourceConfig struct {
	// Connector is the tag identifying the upstream service. It scopes
	// lock keys and all persisted records.
	Connector string `yaml:"connector"`

	// BaseURL is the upstream API base URL.
	BaseURL string `yaml:"baseURL"`

	// TelegramTokenFile is the path to a file containing the Telegram bot
	// token used for announcements sourced from this connector.
	TelegramTokenFile string `yaml:"telegramTokenFile,omitempty"`
}

// ScheduleConfig defines the cadences and windows driving reconciliation.
// All cron specs use the standard 5-field format.
type ScheduleConfig struct {
	GameCatalogSpec string `yaml:"gameCatalogSpec,omitempty"`
	RaceSyncSpec    string `yaml:"raceSyncSpec,omitempty"`
	AnnounceSpec    string `yaml:"announceSpec,omitempty"`

	// LockTTL bounds how long a crashed holder can block a task key.
	LockTTL Duration `yaml:"lockTTL,omitempty"`

	// ReleaseGrace delays lock release after the race and announcement
	// cadences complete, absorbing clock skew between instances.
	ReleaseGrace Duration `yaml:"releaseGrace,omitempty"`

	// AnnounceWindow bounds which races the announcement reconciler
	// reconsiders each tick; races synced longer ago are dormant.
	AnnounceWindow Duration `yaml:"announceWindow,omitempty"`

	// RaceLookback bounds dropped-race recovery; races created longer ago
	// are no longer fetched individually.
	RaceLookback Duration `yaml:"raceLookback,omitempty"`

	// RaceRecency scopes race identifier uniqueness, since upstream
	// identifiers can be reused after expiry.
	RaceRecency Duration `yaml:"raceRecency,omitempty"`

	// MaxNewAnnounceChanges caps the race change counter beyond which no
	// new announcements are created for a race.
	MaxNewAnnounceChanges int `yaml:"maxNewAnnounceChanges,omitempty"`

	// MaxFailedUpdates is the failed-attempt count past which an
	// announcement is abandoned.
	MaxFailedUpdates int `yaml:"maxFailedUpdates,omitempty"`
}

// RedisConfig defines the shared lock store connection settings
type RedisConfig struct {
	Addr string `yaml:"addr"`

	// PasswordFile is the path to a file containing the Redis password.
	PasswordFile string `yaml:"passwordFile,omitempty"`

	DB int `yaml:"db,omitempty"`
}

// GetPassword returns the Redis password from PasswordFile, or empty if no
// file is configured.
func (r *RedisConfig) GetPassword() (string, error) {
	if r.PasswordFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(filepath.Clean(r.PasswordFile))
	if err != nil {
		return "", fmt.Errorf("failed to read redis password from file %s: %w", r.PasswordFile, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password.
	// The file should contain only the password with optional trailing
	// whitespace.
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxConns is the maximum number of pooled connections
	MaxConns int32 `yaml:"maxConns,omitempty"`
}

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from RACEWATCH_DATABASE_PASSWORD environment variable
//
// The password from file will have leading/trailing whitespace trimmed.
func (d *DatabaseConfig) GetPassword() (string, error) {
	if d.PasswordFile != "" {
		cleanPath := filepath.Clean(d.PasswordFile)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", d.PasswordFile, err)
		}

		return strings.TrimSpace(string(data)), nil
	}

	if envPassword := os.Getenv("RACEWATCH_DATABASE_PASSWORD"); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no database password configured: set passwordFile or RACEWATCH_DATABASE_PASSWORD environment variable",
	)
}

// GetConnectionString builds a PostgreSQL connection string.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	connString := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host,
		d.Port,
		d.User,
		password,
		d.Database,
		sslMode,
	)

	return connString, nil
}

// GetMigrationURL builds a connection URL for the migration tooling.
func (d *DatabaseConfig) GetMigrationURL() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	return fmt.Sprintf(
		"pgx5://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(d.User),
		url.QueryEscape(password),
		d.Host,
		d.Port,
		d.Database,
		sslMode,
	), nil
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	config.Schedule.ApplyDefaults()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// GetInstanceName returns the instance name, falling back to the hostname.
func (c *Config) GetInstanceName() string {
	if c.InstanceName != "" {
		return c.InstanceName
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "racewatch"
	}
	return hostname
}

// ApplyDefaults fills unset schedule fields with the package defaults.
func (s *ScheduleConfig) ApplyDefaults() {
	if s.GameCatalogSpec == "" {
		s.GameCatalogSpec = DefaultGameCatalogSpec
	}
	if s.RaceSyncSpec == "" {
		s.RaceSyncSpec = DefaultRaceSyncSpec
	}
	if s.AnnounceSpec == "" {
		s.AnnounceSpec = DefaultAnnounceSpec
	}
	if s.LockTTL == 0 {
		s.LockTTL = Duration(DefaultLockTTL)
	}
	if s.ReleaseGrace == 0 {
		s.ReleaseGrace = Duration(DefaultReleaseGrace)
	}
	if s.AnnounceWindow == 0 {
		s.AnnounceWindow = Duration(DefaultAnnounceWindow)
	}
	if s.RaceLookback == 0 {
		s.RaceLookback = Duration(DefaultRaceLookback)
	}
	if s.RaceRecency == 0 {
		s.RaceRecency = Duration(DefaultRaceRecency)
	}
	if s.MaxNewAnnounceChanges == 0 {
		s.MaxNewAnnounceChanges = DefaultMaxNewAnnounceChanges
	}
	if s.MaxFailedUpdates == 0 {
		s.MaxFailedUpdates = DefaultMaxFailedUpdates
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source must be configured")
	}

	connectors := make(map[string]bool)
	for i, src := range c.Sources {
		if src.Connector == "" {
			return fmt.Errorf("source[%d]: connector is required", i)
		}
		if connectors[src.Connector] {
			return fmt.Errorf("source[%d]: duplicate connector '%s'", i, src.Connector)
		}
		connectors[src.Connector] = true

		if src.BaseURL == "" {
			return fmt.Errorf("source[%d] (%s): baseURL is required", i, src.Connector)
		}
	}

	if c.Telemetry != nil && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint is required when telemetry is configured")
	}

	return c.Schedule.validate()
}

func (s *ScheduleConfig) validate() error {
	specs := []struct {
		name string
		spec string
	}{
		{"gameCatalogSpec", s.GameCatalogSpec},
		{"raceSyncSpec", s.RaceSyncSpec},
		{"announceSpec", s.AnnounceSpec},
	}
	for _, entry := range specs {
		if _, err := cron.ParseStandard(entry.spec); err != nil {
			return fmt.Errorf("schedule.%s: invalid cron spec %q: %w", entry.name, entry.spec, err)
		}
	}

	if s.LockTTL <= 0 {
		return fmt.Errorf("schedule.lockTTL must be positive")
	}
	if s.ReleaseGrace < 0 {
		return fmt.Errorf("schedule.releaseGrace must not be negative")
	}
	if s.MaxNewAnnounceChanges < 0 {
		return fmt.Errorf("schedule.maxNewAnnounceChanges must not be negative")
	}
	if s.MaxFailedUpdates < 1 {
		return fmt.Errorf("schedule.maxFailedUpdates must be at least 1")
	}

	return nil
}
