// Package config loads the shell configuration from an optional TOML file,
// CYPHER_* environment variables and built-in defaults, in that precedence
// order (env wins).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cypherdesk/cypher/internal/locator"
	"github.com/cypherdesk/cypher/internal/logger"
	"github.com/cypherdesk/cypher/internal/metrics"
)

const EnvPrefix = "CYPHER"

type Config struct {
	AppRoot      string   `toml:"app_root" mapstructure:"app_root"`
	ResourcesDir string   `toml:"resources_dir" mapstructure:"resources_dir"`
	Packaged     bool     `toml:"packaged" mapstructure:"packaged"`
	DataDir      string   `toml:"data_dir" mapstructure:"data_dir"`
	Env          []string `toml:"env" mapstructure:"env"`             // extra K=V for the backend
	EnvFiles     []string `toml:"env_files" mapstructure:"env_files"` // .env files for the backend

	Backend BackendConfig `toml:"backend" mapstructure:"backend"`
	Bridge  BridgeConfig  `toml:"bridge" mapstructure:"bridge"`
	State   StateConfig   `toml:"state" mapstructure:"state"`
	Log     LogConfig     `toml:"log" mapstructure:"log"`
	STT     STTConfig     `toml:"stt" mapstructure:"stt"`
	Mapping MappingConfig `toml:"mapping" mapstructure:"mapping"`
	Metrics MetricsConfig `toml:"metrics" mapstructure:"metrics"`
}

type BackendConfig struct {
	URL            string        `toml:"url" mapstructure:"url"`
	Executable     string        `toml:"executable" mapstructure:"executable"` // explicit binary, skips layout search
	Subpath        string        `toml:"subpath" mapstructure:"subpath"`
	Args           []string      `toml:"args" mapstructure:"args"`
	ProbeTimeout   time.Duration `toml:"probe_timeout" mapstructure:"probe_timeout"`
	RequestTimeout time.Duration `toml:"request_timeout" mapstructure:"request_timeout"`
}

type BridgeConfig struct {
	Addr     string `toml:"addr" mapstructure:"addr"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
	// AuthSecret enables bearer-token auth on the bridge; empty leaves it open.
	AuthSecret string        `toml:"auth_secret" mapstructure:"auth_secret"`
	TokenTTL   time.Duration `toml:"token_ttl" mapstructure:"token_ttl"`
}

type StateConfig struct {
	SettingsPath string `toml:"settings_path" mapstructure:"settings_path"`
	ContextDSN   string `toml:"context_dsn" mapstructure:"context_dsn"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Dir        string `toml:"dir" mapstructure:"dir"`
	Stdout     string `toml:"stdout" mapstructure:"stdout"`
	Stderr     string `toml:"stderr" mapstructure:"stderr"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type STTConfig struct {
	FFmpeg string `toml:"ffmpeg" mapstructure:"ffmpeg"`
}

// MappingConfig controls background refreshes of the system context.
// Schedule takes a cron expression or descriptor ("@every 6h"); empty
// disables refreshes.
type MappingConfig struct {
	Schedule string `toml:"schedule" mapstructure:"schedule"`
	Timezone string `toml:"timezone" mapstructure:"timezone"`
}

type MetricsConfig struct {
	Enabled   bool                   `toml:"enabled" mapstructure:"enabled"`
	Resources metrics.ResourceConfig `toml:"resources" mapstructure:"resources"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_root", "")
	v.SetDefault("resources_dir", "")
	v.SetDefault("packaged", false)
	v.SetDefault("data_dir", "")
	v.SetDefault("env", []string{})
	v.SetDefault("env_files", []string{})

	v.SetDefault("backend.url", "http://127.0.0.1:8080")
	v.SetDefault("backend.executable", "")
	v.SetDefault("backend.subpath", filepath.Join("backend", "cypher_backend"))
	v.SetDefault("backend.args", []string{})
	v.SetDefault("backend.probe_timeout", time.Second)
	v.SetDefault("backend.request_timeout", 2*time.Minute)

	v.SetDefault("bridge.addr", "127.0.0.1:8765")
	v.SetDefault("bridge.base_path", "/api")
	v.SetDefault("bridge.auth_secret", "")
	v.SetDefault("bridge.token_ttl", 12*time.Hour)

	v.SetDefault("state.settings_path", "")
	v.SetDefault("state.context_dsn", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.dir", "")
	v.SetDefault("log.stdout", "")
	v.SetDefault("log.stderr", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)

	v.SetDefault("stt.ffmpeg", "")

	v.SetDefault("mapping.schedule", "")
	v.SetDefault("mapping.timezone", "")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.resources.enabled", false)
	v.SetDefault("metrics.resources.interval", 10*time.Second)
}

// Load reads path (optional) and the environment. Relative directories are
// left as given; Resolve fills derived defaults.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if filepath.Ext(path) == "" {
			v.SetConfigType("toml")
		}
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Resolve(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Resolve fills the defaults that depend on the host: the application root,
// the data directory and the context store DSN.
func (c *Config) Resolve() error {
	if c.AppRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve app root: %w", err)
		}
		c.AppRoot = wd
	}
	if c.Packaged && c.ResourcesDir == "" {
		c.ResourcesDir = filepath.Join(c.AppRoot, "resources")
	}
	if c.DataDir == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("resolve data dir: %w", err)
		}
		c.DataDir = filepath.Join(dir, "Cypher")
	}
	if c.State.ContextDSN == "" {
		c.State.ContextDSN = "sqlite://" + filepath.Join(c.DataDir, "state.db")
	}
	if c.Bridge.BasePath != "" && !strings.HasPrefix(c.Bridge.BasePath, "/") {
		c.Bridge.BasePath = "/" + c.Bridge.BasePath
	}
	return nil
}

// Locator returns the executable locator for the configured layout.
func (c Config) Locator() *locator.Locator {
	return &locator.Locator{Packaged: c.Packaged, ResourcesDir: c.ResourcesDir, AppRoot: c.AppRoot}
}

// LoggerConfig converts the log section.
func (c Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:      c.Log.Level,
		Dir:        c.Log.Dir,
		StdoutPath: c.Log.Stdout,
		StderrPath: c.Log.Stderr,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
	}
}

// BackendEnv returns the extra backend environment: env_files in order,
// then the env list. Values are not expanded here.
func (c Config) BackendEnv() ([]string, error) {
	var out []string
	for _, p := range c.EnvFiles {
		pairs, err := LoadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		out = append(out, pairs...)
	}
	return append(out, c.Env...), nil
}

// LoadEnvFile parses a simple .env file (KEY=VALUE lines, # comments, no
// quoting) into "KEY=VALUE" entries in file order.
func LoadEnvFile(path string) ([]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out = append(out, strings.TrimSpace(k)+"="+strings.TrimSpace(v))
	}
	return out, nil
}
