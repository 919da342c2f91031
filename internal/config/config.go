package config

import (
	"context"
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/mutker/motordash/internal/errors"
	"codeberg.org/mutker/motordash/internal/logger"
	"codeberg.org/mutker/motordash/internal/settings"
	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultEnvPrefix         = "MOTORDASH"
	DefaultConfigPath        = "/etc/motordash.toml"
	DefaultDotEnvPath        = ".env"
	DefaultListen            = "127.0.0.1:8080"
	DefaultLogLevel          = string(LogLevelInfo)
	DefaultControllerTimeout = 3 * time.Second
	DefaultSettingsDB        = ""
	pidFileName              = "motordash.pid"
)

// Config is the boot configuration. APIBaseURL, RefreshRate and
// SimulationMode seed the settings store; saved settings take precedence.
type Config struct {
	Listen            string
	LogLevel          string
	APIBaseURL        string
	RefreshRate       int
	SimulationMode    bool
	SettingsDB        string
	ControllerTimeout time.Duration
	PIDFile           string

	v    *viper.Viper
	path string
}

var _ Watcher = (*Config)(nil)

// Load reads configuration from, in increasing precedence, defaults, the
// TOML config file, the dotenv file, MOTORDASH_* environment variables and
// command line flags.
func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{
		envPrefix:  DefaultEnvPrefix,
		dotEnvPath: DefaultDotEnvPath,
		args:       os.Args[1:],
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	if o.dotEnvPath != "" {
		if err := godotenv.Load(o.dotEnvPath); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	flags := newFlagSet()
	if err := flags.Parse(o.args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}
	if err := bindFlags(v, flags); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	path, explicit := resolveConfigPath(o, flags)
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			var notFound *fs.PathError
			if explicit || !stderrors.As(err, &notFound) {
				return nil, errFactory.Wrap(errors.ErrReadConfig, err)
			}
			path = ""
		}
	}

	cfg := fromViper(v)
	cfg.path = path

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	defaults := settings.Defaults()

	v.SetDefault("listen", DefaultListen)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("api_base_url", defaults.APIBaseURL)
	v.SetDefault("refresh_rate", defaults.RefreshRateMs)
	v.SetDefault("simulation_mode", defaults.SimulationMode)
	v.SetDefault("settings_db", DefaultSettingsDB)
	v.SetDefault("controller_timeout", DefaultControllerTimeout)
	v.SetDefault("pid_file", filepath.Join(os.TempDir(), pidFileName))
}

func newFlagSet() *pflag.FlagSet {
	defaults := settings.Defaults()

	flags := pflag.NewFlagSet("motordash", pflag.ContinueOnError)
	flags.String("config", "", "Path to the TOML configuration file")
	flags.String("listen", DefaultListen, "Dashboard listen address")
	flags.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	flags.String("api-base-url", defaults.APIBaseURL, "Motor controller base URL")
	flags.Int("refresh-rate", defaults.RefreshRateMs, "Acquisition period in milliseconds")
	flags.Bool("simulation", defaults.SimulationMode, "Simulate telemetry instead of polling the controller")
	flags.String("settings-db", DefaultSettingsDB, "SQLite database for persisted settings (empty keeps them in memory)")
	flags.Duration("controller-timeout", DefaultControllerTimeout, "Controller request timeout")
	flags.String("pid-file", filepath.Join(os.TempDir(), pidFileName), "PID file path")

	return flags
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	bindings := map[string]string{
		"listen":             "listen",
		"log_level":          "log-level",
		"api_base_url":       "api-base-url",
		"refresh_rate":       "refresh-rate",
		"simulation_mode":    "simulation",
		"settings_db":        "settings-db",
		"controller_timeout": "controller-timeout",
		"pid_file":           "pid-file",
	}

	for key, name := range bindings {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return err
		}
	}

	return nil
}

// resolveConfigPath picks the config file: option, --config, the
// <PREFIX>_CONFIG variable, then the system default. explicit reports
// whether a missing file is an error.
func resolveConfigPath(o *options, flags *pflag.FlagSet) (path string, explicit bool) {
	if o.configPath != "" {
		return o.configPath, true
	}
	if p, _ := flags.GetString("config"); p != "" {
		return p, true
	}
	if p := os.Getenv(o.envPrefix + "_CONFIG"); p != "" {
		return p, true
	}

	return DefaultConfigPath, false
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Listen:            v.GetString("listen"),
		LogLevel:          strings.ToLower(v.GetString("log_level")),
		APIBaseURL:        v.GetString("api_base_url"),
		RefreshRate:       v.GetInt("refresh_rate"),
		SimulationMode:    v.GetBool("simulation_mode"),
		SettingsDB:        v.GetString("settings_db"),
		ControllerTimeout: v.GetDuration("controller_timeout"),
		PIDFile:           v.GetString("pid_file"),
		v:                 v,
	}
}

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}
	if c.Listen == "" {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "listen address is empty")
	}
	if c.ControllerTimeout <= 0 {
		return errFactory.WithData(errors.ErrInvalidTimeout, c.ControllerTimeout)
	}

	return c.Settings().Validate()
}

// Settings returns the configured settings defaults.
func (c *Config) Settings() settings.Settings {
	return settings.Settings{
		APIBaseURL:     c.APIBaseURL,
		RefreshRateMs:  c.RefreshRate,
		SimulationMode: c.SimulationMode,
	}
}

// File returns the config file in use, or "" when none was read.
func (c *Config) File() string {
	return c.path
}

// Watch re-reads the config file whenever it changes on disk and passes
// the result to callback. Invalid revisions are logged and skipped. It is
// a no-op when no config file was read.
func (c *Config) Watch(ctx context.Context, callback func(*Config)) error {
	if c.path == "" || c.v == nil {
		logger.Debug().Msg("No config file loaded, not watching for changes")
		return nil
	}

	c.v.OnConfigChange(func(e fsnotify.Event) {
		if ctx.Err() != nil {
			return
		}

		next := fromViper(c.v)
		next.path = c.path
		if err := next.Validate(); err != nil {
			logger.Warn().Err(err).Str("file", e.Name).Msg("Ignoring invalid configuration change")
			return
		}

		logger.Info().Str("file", e.Name).Str("op", e.Op.String()).Msg("Configuration reloaded")
		callback(next)
	})
	c.v.WatchConfig()

	return nil
}
