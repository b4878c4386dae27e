// Package config loads and hot-reloads the daemon's YAML configuration,
// following the teacher's XDG-path + SIGHUP-reload pattern
// (internal/monitor/monitor.go's SetConfig).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration. Every field has a sensible
// default so the daemon runs unconfigured.
type Config struct {
	Pipe      PipeConfig      `yaml:"pipe"`
	Debug     DebugConfig     `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Scanner   ScannerConfig   `yaml:"scanner"`
	LogWatch  LogWatchConfig  `yaml:"log_watch"`
	Cleaner   CleanerConfig   `yaml:"cleaner"`
	Hooks     HooksConfig     `yaml:"hooks"`
}

// PipeConfig describes the HookReceiver's named pipe.
type PipeConfig struct {
	Path               string        `yaml:"path"`
	OpenRetryAttempts   int           `yaml:"open_retry_attempts"`
	OpenRetryBackoff    time.Duration `yaml:"open_retry_backoff"`
	ReadTimeout         time.Duration `yaml:"read_timeout"`
	MaxReconnects       int           `yaml:"max_reconnects"`
	ReconnectBackoff    time.Duration `yaml:"reconnect_backoff"`
	StatsSummaryEvery   time.Duration `yaml:"stats_summary_every"`
}

// DebugConfig points at the observed tool's debug-log directory (shared by
// LogWatcher and the coordinator's pid→session-id resolver).
type DebugConfig struct {
	Dir string `yaml:"dir"`
}

type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
	AuthToken        string        `yaml:"auth_token"`
	MaxConnections   int           `yaml:"max_connections"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

// ScannerConfig tunes ProcessScanner's cadence and dampening per §4.2.
type ScannerConfig struct {
	Interpreter          string        `yaml:"interpreter"`
	ArgSignature         string        `yaml:"arg_signature"`
	HighCPUCadence       time.Duration `yaml:"high_cpu_cadence"`
	MidCPUCadence        time.Duration `yaml:"mid_cpu_cadence"`
	LowCPUCadence        time.Duration `yaml:"low_cpu_cadence"`
	HighCPUThreshold     float64       `yaml:"high_cpu_threshold"`
	MidCPUThreshold      float64       `yaml:"mid_cpu_threshold"`
	WorkingThreshold     float64       `yaml:"working_threshold"`
	CPUDeltaThreshold    float64       `yaml:"cpu_delta_threshold"`
	RefreshGap           time.Duration `yaml:"refresh_gap"`
}

// LogWatchConfig tunes LogWatcher's debounce per §4.3.
type LogWatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// CleanerConfig tunes SessionCleaner's fallback timer per §4.5.
type CleanerConfig struct {
	TimerInterval time.Duration `yaml:"timer_interval"`
}

// HooksConfig controls hook installation at startup (§6).
type HooksConfig struct {
	Enabled      bool   `yaml:"enabled"`
	SettingsPath string `yaml:"settings_path"`
}

func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	fillDefaults(cfg)
	return cfg, nil
}

// LoadOrDefault loads config from path, or returns the default config if
// the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return defaultConfig(), nil
	}
	return Load(path)
}

func defaultConfig() *Config {
	return &Config{
		Pipe: PipeConfig{
			Path:              "/tmp/claudeminer_pipe",
			OpenRetryAttempts: 10,
			OpenRetryBackoff:  100 * time.Millisecond,
			ReadTimeout:       60 * time.Second,
			MaxReconnects:     5,
			ReconnectBackoff:  time.Second,
			StatsSummaryEvery: 5 * time.Minute,
		},
		Debug: DebugConfig{
			Dir: defaultDebugDir(),
		},
		Server: ServerConfig{
			Host:             "127.0.0.1",
			Port:             7890,
			MaxConnections:   1000,
			SnapshotInterval: 5 * time.Second,
		},
		Scanner: ScannerConfig{
			Interpreter:       "node",
			ArgSignature:      "claude",
			HighCPUCadence:    500 * time.Millisecond,
			MidCPUCadence:     time.Second,
			LowCPUCadence:     2 * time.Second,
			HighCPUThreshold:  20.0,
			MidCPUThreshold:   5.0,
			WorkingThreshold:  5.0,
			CPUDeltaThreshold: 3.0,
			RefreshGap:        200 * time.Millisecond,
		},
		LogWatch: LogWatchConfig{
			Debounce: 200 * time.Millisecond,
		},
		Cleaner: CleanerConfig{
			TimerInterval: 15 * time.Second,
		},
		Hooks: HooksConfig{
			Enabled:      true,
			SettingsPath: defaultSettingsPath(),
		},
	}
}

func fillDefaults(cfg *Config) {
	d := defaultConfig()
	if cfg.Pipe.Path == "" {
		cfg.Pipe.Path = d.Pipe.Path
	}
	if cfg.Pipe.OpenRetryAttempts == 0 {
		cfg.Pipe.OpenRetryAttempts = d.Pipe.OpenRetryAttempts
	}
	if cfg.Pipe.OpenRetryBackoff == 0 {
		cfg.Pipe.OpenRetryBackoff = d.Pipe.OpenRetryBackoff
	}
	if cfg.Pipe.ReadTimeout == 0 {
		cfg.Pipe.ReadTimeout = d.Pipe.ReadTimeout
	}
	if cfg.Pipe.MaxReconnects == 0 {
		cfg.Pipe.MaxReconnects = d.Pipe.MaxReconnects
	}
	if cfg.Pipe.ReconnectBackoff == 0 {
		cfg.Pipe.ReconnectBackoff = d.Pipe.ReconnectBackoff
	}
	if cfg.Pipe.StatsSummaryEvery == 0 {
		cfg.Pipe.StatsSummaryEvery = d.Pipe.StatsSummaryEvery
	}
	if cfg.Debug.Dir == "" {
		cfg.Debug.Dir = d.Debug.Dir
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = d.Server.Host
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = d.Server.Port
	}
	if cfg.Server.MaxConnections == 0 {
		cfg.Server.MaxConnections = d.Server.MaxConnections
	}
	if cfg.Server.SnapshotInterval == 0 {
		cfg.Server.SnapshotInterval = d.Server.SnapshotInterval
	}
	if cfg.Scanner.Interpreter == "" {
		cfg.Scanner.Interpreter = d.Scanner.Interpreter
	}
	if cfg.Scanner.ArgSignature == "" {
		cfg.Scanner.ArgSignature = d.Scanner.ArgSignature
	}
	if cfg.Scanner.HighCPUCadence == 0 {
		cfg.Scanner.HighCPUCadence = d.Scanner.HighCPUCadence
	}
	if cfg.Scanner.MidCPUCadence == 0 {
		cfg.Scanner.MidCPUCadence = d.Scanner.MidCPUCadence
	}
	if cfg.Scanner.LowCPUCadence == 0 {
		cfg.Scanner.LowCPUCadence = d.Scanner.LowCPUCadence
	}
	if cfg.Scanner.HighCPUThreshold == 0 {
		cfg.Scanner.HighCPUThreshold = d.Scanner.HighCPUThreshold
	}
	if cfg.Scanner.MidCPUThreshold == 0 {
		cfg.Scanner.MidCPUThreshold = d.Scanner.MidCPUThreshold
	}
	if cfg.Scanner.WorkingThreshold == 0 {
		cfg.Scanner.WorkingThreshold = d.Scanner.WorkingThreshold
	}
	if cfg.Scanner.CPUDeltaThreshold == 0 {
		cfg.Scanner.CPUDeltaThreshold = d.Scanner.CPUDeltaThreshold
	}
	if cfg.Scanner.RefreshGap == 0 {
		cfg.Scanner.RefreshGap = d.Scanner.RefreshGap
	}
	if cfg.LogWatch.Debounce == 0 {
		cfg.LogWatch.Debounce = d.LogWatch.Debounce
	}
	if cfg.Cleaner.TimerInterval == 0 {
		cfg.Cleaner.TimerInterval = d.Cleaner.TimerInterval
	}
	if cfg.Hooks.SettingsPath == "" {
		cfg.Hooks.SettingsPath = d.Hooks.SettingsPath
	}
}

func defaultDebugDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".claude", "debug")
}

func defaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".claude", "settings.json")
}

func defaultConfigDir() string {
	if value := os.Getenv("XDG_CONFIG_HOME"); value != "" {
		return value
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config")
}

// DefaultConfigPath returns the default XDG-compliant config file path.
func DefaultConfigPath() string {
	return filepath.Join(defaultConfigDir(), "claudeminer", "config.yaml")
}

// Diff compares two configs and returns human-readable descriptions of
// what changed, for the SIGHUP reload log line.
func Diff(old, new *Config) []string {
	var changes []string
	if old.Scanner != new.Scanner {
		changes = append(changes, fmt.Sprintf("scanner: %+v -> %+v", old.Scanner, new.Scanner))
	}
	if old.LogWatch != new.LogWatch {
		changes = append(changes, fmt.Sprintf("log_watch: %+v -> %+v", old.LogWatch, new.LogWatch))
	}
	if old.Cleaner != new.Cleaner {
		changes = append(changes, fmt.Sprintf("cleaner: %+v -> %+v", old.Cleaner, new.Cleaner))
	}
	if old.Server.SnapshotInterval != new.Server.SnapshotInterval {
		changes = append(changes, fmt.Sprintf("server.snapshot_interval: %s -> %s", old.Server.SnapshotInterval, new.Server.SnapshotInterval))
	}
	return changes
}
