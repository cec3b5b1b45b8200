// Package config loads docseed settings from an optional YAML file,
// DOCSEED_* environment variables and built-in defaults, in that order of
// precedence (environment wins over file). Command-line flags bound with
// BindFlags win over both.
//
// Environment names are the dotted key upper-cased with "." replaced by "_":
// records.dsn is DOCSEED_RECORDS_DSN.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/roach88/docseed/internal/blobstore"
	"github.com/roach88/docseed/internal/retry"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DOCSEED"

// Config is the full docseed configuration.
type Config struct {
	Records Records `mapstructure:"records"`
	Blobs   Blobs   `mapstructure:"blobs"`
	Retry   Retry   `mapstructure:"retry"`
	Log     Log     `mapstructure:"log"`
	Metrics Metrics `mapstructure:"metrics"`
}

// Records selects the record store.
type Records struct {
	Driver string `mapstructure:"driver" validate:"oneof=sqlite postgres memory"`
	DSN    string `mapstructure:"dsn" validate:"required_unless=Driver memory"`

	// Transactions is auto, required or disabled.
	Transactions string `mapstructure:"transactions" validate:"oneof=auto required disabled"`
}

// Blobs selects the blob store.
type Blobs struct {
	Kind            string `mapstructure:"kind" validate:"oneof=badger gcs memory"`
	Path            string `mapstructure:"path" validate:"required_if=Kind badger"`
	Bucket          string `mapstructure:"bucket" validate:"required_if=Kind gcs"`
	Prefix          string `mapstructure:"prefix"`
	CredentialsFile string `mapstructure:"credentials_file"`
	ChunkSize       int    `mapstructure:"chunk_size" validate:"gte=0"`
	Compression     string `mapstructure:"compression" validate:"oneof=none zstd"`
}

// Retry tunes the storage retry policy.
type Retry struct {
	MaxAttempts int           `mapstructure:"max_attempts" validate:"gte=1,lte=10"`
	BaseDelay   time.Duration `mapstructure:"base_delay" validate:"gte=0"`
	MaxDelay    time.Duration `mapstructure:"max_delay" validate:"gtefield=BaseDelay"`
}

// Log configures the process logger.
type Log struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// Metrics configures metric export.
type Metrics struct {
	// Textfile, when set, receives a node-exporter textfile dump on exit.
	Textfile string `mapstructure:"textfile"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("records.driver", "sqlite")
	v.SetDefault("records.dsn", "docseed.db")
	v.SetDefault("records.transactions", "auto")

	v.SetDefault("blobs.kind", "badger")
	v.SetDefault("blobs.path", "docseed-blobs")
	v.SetDefault("blobs.bucket", "")
	v.SetDefault("blobs.prefix", "")
	v.SetDefault("blobs.credentials_file", "")
	v.SetDefault("blobs.chunk_size", blobstore.DefaultChunkSize)
	v.SetDefault("blobs.compression", string(blobstore.CompressionNone))

	v.SetDefault("retry.max_attempts", retry.DefaultMaxAttempts)
	v.SetDefault("retry.base_delay", retry.DefaultBaseDelay)
	v.SetDefault("retry.max_delay", retry.DefaultMaxDelay)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("metrics.textfile", "")
}

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// FlagKeys maps command-line flag names to the config keys they override.
var FlagKeys = map[string]string{
	"records-driver": "records.driver",
	"dsn":            "records.dsn",
	"blobs":          "blobs.kind",
	"blobs-path":     "blobs.path",
}

// BindFlags binds every flag of fs named in FlagKeys. A flag the user did
// not set leaves file, environment and default values in place.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range FlagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// Load reads path (if not empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	return LoadWithFlags(path, nil)
}

// LoadWithFlags is Load with command-line overrides from fs, which take
// precedence over the environment.
func LoadWithFlags(path string, fs *pflag.FlagSet) (Config, error) {
	v := New()
	if fs != nil {
		if err := BindFlags(v, fs); err != nil {
			return Config{}, err
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("error unmarshalling config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Records.Driver = strings.ToLower(strings.TrimSpace(c.Records.Driver))
	c.Records.Transactions = strings.ToLower(strings.TrimSpace(c.Records.Transactions))
	c.Blobs.Kind = strings.ToLower(strings.TrimSpace(c.Blobs.Kind))
	c.Blobs.Compression = strings.ToLower(strings.TrimSpace(c.Blobs.Compression))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
}

// Validate checks every field and reports all failures at once.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s: %s %s=%v", configKey(fe.Namespace()), fe.Tag(), fe.Param(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(parts, "; "))
}

// validate reports fields by their mapstructure keys, so a failing
// Retry.MaxAttempts is named "Config.retry.max_attempts".
var validate = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}()

// configKey turns "Config.records.dsn" into "records.dsn".
func configKey(ns string) string {
	return strings.TrimPrefix(ns, "Config.")
}

// RetryPolicy returns the configured retry policy.
func (c Config) RetryPolicy() retry.Policy {
	p := retry.Default()
	p.MaxAttempts = c.Retry.MaxAttempts
	p.BaseDelay = c.Retry.BaseDelay
	p.MaxDelay = c.Retry.MaxDelay
	return p
}

// LogLevel returns the slog level for Log.Level.
func (c Config) LogLevel() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
