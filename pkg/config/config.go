// Package config loads the pgl-tsbackup configuration file.
//
// The file is read with viper, so YAML, TOML and JSON all work, chosen by
// extension. Every key can be overridden from the environment as
// PGL_TSBACKUP_<SECTION>_<KEY>. Overrides are read-only: the only value ever
// written back to the file is backup.last_backup_time (see FileStore).
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/paulschiretz/pgl-tsbackup/pkg/exclusion"
	"github.com/paulschiretz/pgl-tsbackup/pkg/plog"
	"github.com/paulschiretz/pgl-tsbackup/pkg/timespec"
	"github.com/paulschiretz/pgl-tsbackup/pkg/util"
)

// DefaultConfigFileName is used when no --config flag is given.
const DefaultConfigFileName = "pgl-tsbackup.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PGL_TSBACKUP"

// Configuration keys.
const (
	KeySourcePath      = "backup.source_path"
	KeyBackupPath      = "backup.backup_path"
	KeyLastBackupTime  = "backup.last_backup_time"
	KeyExclude         = "backup.exclude"
	KeyWatermarkPolicy = "backup.watermark_policy"
	KeyRetentionTime   = "timeframes.backup_retention_time"
	KeySecondStage     = "timeframes.second_stage_backup_interval"
	KeyLogLevel        = "logging.level"
	KeyLogFile         = "logging.file"
	KeyMetricsTextfile = "metrics.textfile"
	KeyScheduleCron    = "schedule.cron"
	KeyPreBackupHooks  = "hooks.pre_backup"
	KeyPostBackupHooks = "hooks.post_backup"
)

var knownKeys = []string{
	KeySourcePath, KeyBackupPath, KeyLastBackupTime, KeyExclude, KeyWatermarkPolicy,
	KeyRetentionTime, KeySecondStage,
	KeyLogLevel, KeyLogFile,
	KeyMetricsTextfile,
	KeyScheduleCron,
	KeyPreBackupHooks, KeyPostBackupHooks,
}

var (
	// ErrMissingKey is returned for a required key that is absent or empty.
	ErrMissingKey = errors.New("required key is missing")
	// ErrUnknownKey is returned for a key the configuration does not define.
	ErrUnknownKey = errors.New("unknown key")
	// ErrInvalidValue is returned for a value outside the allowed set.
	ErrInvalidValue = errors.New("invalid value")
)

// ConfigError reports a configuration problem together with the key it concerns.
type ConfigError struct {
	Key string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Key, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// WatermarkPolicy decides what happens to the watermark after a run in which
// some files failed to copy.
type WatermarkPolicy string

const (
	// PolicyRetry advances the watermark and records the failed files in the
	// retry ledger so the next run copies them regardless of their age.
	PolicyRetry WatermarkPolicy = "retry"
	// PolicyHold keeps the previous watermark, so the next run re-examines
	// everything modified since then.
	PolicyHold WatermarkPolicy = "hold"
)

// Config is the validated configuration. It is passed by value.
type Config struct {
	// Path is the file the configuration was loaded from.
	Path string

	Source          string
	Destination     string
	Exclude         []string
	WatermarkPolicy WatermarkPolicy

	Retention   timespec.Duration
	SecondStage timespec.Duration

	LogLevel        string
	LogFile         string
	MetricsTextfile string
	ScheduleCron    string

	PreBackupHooks  []string
	PostBackupHooks []string

	// DryRun is set from the command line only.
	DryRun bool
}

// NewDefault returns the configuration written by init. Source and
// Destination are intentionally empty.
func NewDefault() Config {
	return Config{
		Exclude:         []string{},
		WatermarkPolicy: PolicyRetry,
		Retention:       timespec.New(7, timespec.Days),
		SecondStage:     timespec.New(0, timespec.Days),
		LogLevel:        "info",
		ScheduleCron:    "0 * * * *",
		PreBackupHooks:  []string{},
		PostBackupHooks: []string{},
	}
}

// newViper returns a viper instance for path with environment overrides bound.
func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range knownKeys {
		_ = v.BindEnv(key)
	}
	return v
}

// Load reads and validates the configuration file at path.
// Any returned error is a *ConfigError.
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		return Config{}, &ConfigError{Err: errors.New("no configuration file given")}
	}
	absPath, err := util.ExpandedAbsPath(path)
	if err != nil {
		return Config{}, &ConfigError{Err: err}
	}

	v := newViper(absPath)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, &ConfigError{Err: fmt.Errorf("failed to read %s: %w", absPath, err)}
	}
	for _, key := range v.AllKeys() {
		if !slices.Contains(knownKeys, key) {
			return Config{}, &ConfigError{Key: key, Err: ErrUnknownKey}
		}
	}

	c := NewDefault()
	c.Path = absPath

	if c.Source, err = requiredPath(v, KeySourcePath); err != nil {
		return Config{}, err
	}
	if c.Destination, err = requiredPath(v, KeyBackupPath); err != nil {
		return Config{}, err
	}

	c.Exclude = util.MergeAndDeduplicate(v.GetStringSlice(KeyExclude))
	if _, err := exclusion.New(c.Exclude); err != nil {
		return Config{}, &ConfigError{Key: KeyExclude, Err: err}
	}

	if raw := strings.TrimSpace(v.GetString(KeyWatermarkPolicy)); raw != "" {
		c.WatermarkPolicy = WatermarkPolicy(strings.ToLower(raw))
	}
	if c.WatermarkPolicy != PolicyRetry && c.WatermarkPolicy != PolicyHold {
		return Config{}, &ConfigError{Key: KeyWatermarkPolicy, Err: fmt.Errorf("%w: %q (want %q or %q)", ErrInvalidValue, c.WatermarkPolicy, PolicyRetry, PolicyHold)}
	}

	if c.Retention, err = requiredTimespec(v, KeyRetentionTime); err != nil {
		return Config{}, err
	}
	if c.Retention.IsZero() {
		return Config{}, &ConfigError{Key: KeyRetentionTime, Err: fmt.Errorf("%w: must be greater than zero", timespec.ErrInvalidTimeMagnitude)}
	}
	if raw := strings.TrimSpace(v.GetString(KeySecondStage)); raw != "" {
		if c.SecondStage, err = timespec.Parse(raw); err != nil {
			return Config{}, &ConfigError{Key: KeySecondStage, Err: err}
		}
	}

	if raw := strings.TrimSpace(v.GetString(KeyLogLevel)); raw != "" {
		c.LogLevel = strings.ToLower(raw)
	}
	if !plog.ValidLevel(c.LogLevel) {
		return Config{}, &ConfigError{Key: KeyLogLevel, Err: fmt.Errorf("%w: %q", ErrInvalidValue, c.LogLevel)}
	}
	if raw := strings.TrimSpace(v.GetString(KeyLogFile)); raw != "" {
		if c.LogFile, err = util.ExpandedAbsPath(raw); err != nil {
			return Config{}, &ConfigError{Key: KeyLogFile, Err: err}
		}
	}
	if raw := strings.TrimSpace(v.GetString(KeyMetricsTextfile)); raw != "" {
		if c.MetricsTextfile, err = util.ExpandedAbsPath(raw); err != nil {
			return Config{}, &ConfigError{Key: KeyMetricsTextfile, Err: err}
		}
	}

	if v.IsSet(KeyScheduleCron) {
		c.ScheduleCron = strings.TrimSpace(v.GetString(KeyScheduleCron))
	}
	if c.ScheduleCron != "" {
		if _, err := cron.ParseStandard(c.ScheduleCron); err != nil {
			return Config{}, &ConfigError{Key: KeyScheduleCron, Err: fmt.Errorf("%w: %v", ErrInvalidValue, err)}
		}
	}

	c.PreBackupHooks = commandList(v.GetStringSlice(KeyPreBackupHooks))
	c.PostBackupHooks = commandList(v.GetStringSlice(KeyPostBackupHooks))

	return c, nil
}

// commandList drops blank entries and keeps the order.
func commandList(raw []string) []string {
	out := []string{}
	for _, c := range raw {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func requiredPath(v *viper.Viper, key string) (string, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return "", &ConfigError{Key: key, Err: ErrMissingKey}
	}
	abs, err := util.ExpandedAbsPath(raw)
	if err != nil {
		return "", &ConfigError{Key: key, Err: err}
	}
	return abs, nil
}

func requiredTimespec(v *viper.Viper, key string) (timespec.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return timespec.Duration{}, &ConfigError{Key: key, Err: ErrMissingKey}
	}
	d, err := timespec.Parse(raw)
	if err != nil {
		return timespec.Duration{}, &ConfigError{Key: key, Err: err}
	}
	return d, nil
}

// Overrides holds the command line flags that take precedence over the file.
// Empty fields leave the loaded value alone.
type Overrides struct {
	LogLevel string
	DryRun   bool
}

// WithOverrides returns a copy of c with the command line flags applied.
func (c Config) WithOverrides(o Overrides) (Config, error) {
	if o.LogLevel != "" {
		level := strings.ToLower(o.LogLevel)
		if !plog.ValidLevel(level) {
			return c, &ConfigError{Key: "--log-level", Err: fmt.Errorf("%w: %q", ErrInvalidValue, o.LogLevel)}
		}
		c.LogLevel = level
	}
	if o.DryRun {
		c.DryRun = true
	}
	return c, nil
}

// LogSummary logs the effective configuration.
func (c Config) LogSummary() {
	plog.Debug("Configuration loaded",
		"path", c.Path,
		"source", c.Source,
		"destination", c.Destination,
		"retention", c.Retention.String(),
		"second_stage", c.SecondStage.String(),
		"watermark_policy", string(c.WatermarkPolicy),
		"exclude", strings.Join(c.Exclude, ","),
		"log_level", c.LogLevel,
		"log_file", c.LogFile,
		"metrics_textfile", c.MetricsTextfile,
		"schedule", c.ScheduleCron,
		"pre_backup_hooks", len(c.PreBackupHooks),
		"post_backup_hooks", len(c.PostBackupHooks),
		"dry_run", c.DryRun,
	)
}
