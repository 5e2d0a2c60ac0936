package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"dutybot/internal/templatefmt"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultPollIntervalSec     = 60
	defaultReminderIntervalSec = 300
	defaultPollWindowHours     = 12
	defaultQueryWindowHours    = 2
	defaultMinSeverity         = 2
	defaultLockTTLSec          = 60
	defaultLockRenewSec        = 30
	defaultTelegramAPIBase     = "https://api.telegram.org"
	defaultTelegramTimeoutSec  = 10
	defaultZabbixTimeoutSec    = 10
	defaultStoreBucket         = "dutybot"

	// StoreModeMemory keeps lock/flag state in process memory.
	StoreModeMemory = "memory"
	// StoreModeNATS keeps lock/flag state in a JetStream KV bucket.
	StoreModeNATS = "nats"

	defaultNewTemplate = "🔔 New problem!\n" +
		"Host: {{ .Host }}\n" +
		"Description: {{ .Name }}\n" +
		"Severity: {{ .Severity }}"
	defaultReminderTemplate = "⚠️ Unacknowledged problem reminder!\n" +
		"Host: {{ .Host }}\n" +
		"Description: {{ .Name }}"
)

// Config holds service runtime settings.
// Params: TOML sections from file or merged directory snapshot.
// Returns: validated runtime configuration.
type Config struct {
	Service  ServiceConfig  `toml:"service"`
	Log      LogConfig      `toml:"log"`
	Telegram TelegramConfig `toml:"telegram"`
	Zabbix   ZabbixConfig   `toml:"zabbix"`
	Store    StoreConfig    `toml:"store"`
}

// ServiceConfig contains process-level polling and leadership settings.
// Params: intervals in seconds, windows in hours, and severity floor.
// Returns: scheduler and lock behavior defaults.
type ServiceConfig struct {
	Name                string `toml:"name"`
	PollIntervalSec     int    `toml:"poll_interval_sec"`
	ReminderIntervalSec int    `toml:"reminder_interval_sec"`
	PollWindowHours     int    `toml:"poll_window_hours"`
	QueryWindowHours    int    `toml:"query_window_hours"`
	MinSeverity         int    `toml:"min_severity"`
	LockTTLSec          int    `toml:"lock_ttl_sec"`
	LockRenewSec        int    `toml:"lock_renew_sec"`
}

// LogConfig groups console and file log sinks.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig configures one log sink.
// Params: enable flag, level, format, and file path for file sinks.
// Returns: sink behavior for logger construction.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// TelegramConfig configures the chat transport and operator allow-list.
// Params: bot credentials, recipient chat ids, and message templates.
// Returns: Telegram runtime options.
type TelegramConfig struct {
	BotToken         string  `toml:"bot_token"`
	APIBase          string  `toml:"api_base"`
	AdminIDs         []int64 `toml:"admin_ids"`
	TimeoutSec       int     `toml:"timeout_sec"`
	NewTemplate      string  `toml:"new_template"`
	ReminderTemplate string  `toml:"reminder_template"`
}

// ZabbixConfig configures the monitoring backend endpoint.
// Params: API URL, credentials, timeout, and tag inclusion filter.
// Returns: backend client options.
type ZabbixConfig struct {
	URL        string   `toml:"url"`
	User       string   `toml:"user"`
	Password   string   `toml:"password"`
	TimeoutSec int      `toml:"timeout_sec"`
	Tag        []string `toml:"tag"`
}

// StoreConfig configures the shared key-value store backend.
// Params: backend mode and NATS connection settings.
// Returns: store selection options.
type StoreConfig struct {
	Mode               string   `toml:"mode"`
	URL                []string `toml:"url"`
	Bucket             string   `toml:"bucket"`
	AllowCreateBuckets bool     `toml:"allow_create_buckets"`
}

// ConfigSource describes file or directory config source.
// Params: exactly one of file path or directory path.
// Returns: normalized source descriptor.
type ConfigSource struct {
	File string
	Dir  string
}

// FromCLI builds normalized source configuration from input paths.
// Params: optional file and directory arguments.
// Returns: source descriptor or validation error.
func FromCLI(filePath, dirPath string) (ConfigSource, error) {
	filePath = strings.TrimSpace(filePath)
	dirPath = strings.TrimSpace(dirPath)

	if filePath == "" && dirPath == "" {
		return ConfigSource{}, errors.New("either --config-file or --config-dir must be provided")
	}
	if filePath != "" && dirPath != "" {
		return ConfigSource{}, errors.New("config source must be either file or dir")
	}

	if filePath != "" {
		return ConfigSource{File: filePath}, nil
	}
	return ConfigSource{Dir: dirPath}, nil
}

// LoadSnapshot loads and validates configuration from one source.
// Params: source selects file or directory mode.
// Returns: validated config or load/validation error.
func LoadSnapshot(src ConfigSource) (Config, error) {
	var cfg Config
	var err error
	if src.File != "" {
		cfg, err = loadFile(src.File)
	} else {
		cfg, err = loadDir(src.Dir)
	}
	if err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode decodes one TOML document into config without defaults/validation.
// Params: raw TOML bytes.
// Returns: decoded config or decode error.
func Decode(body []byte) (Config, error) {
	var cfg Config
	if err := toml.Unmarshal(body, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// loadFile reads one TOML config file.
// Params: file path.
// Returns: decoded config or read/decode error.
func loadFile(path string) (Config, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %q: %w", path, err)
	}
	return Decode(body)
}

// loadDir merges TOML fragments from one directory in lexical order.
// Params: directory path with *.toml fragments.
// Returns: merged config or read/decode error.
func loadDir(dir string) (Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Config{}, fmt.Errorf("read config dir %q: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}
		names = append(names, entry.Name())
	}
	if len(names) == 0 {
		return Config{}, fmt.Errorf("config dir %q contains no *.toml fragments", dir)
	}
	sort.Strings(names)

	var cfg Config
	for _, name := range names {
		body, readErr := os.ReadFile(filepath.Join(dir, name))
		if readErr != nil {
			return Config{}, fmt.Errorf("read config fragment %q: %w", name, readErr)
		}
		if err := toml.Unmarshal(body, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config fragment %q: %w", name, err)
		}
	}
	return cfg, nil
}

// applyDefaults fills zero-value settings with runtime defaults.
// Params: mutable decoded config.
// Returns: config mutated in place.
func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Service.Name) == "" {
		cfg.Service.Name = "dutybot"
	}
	if cfg.Service.PollIntervalSec <= 0 {
		cfg.Service.PollIntervalSec = defaultPollIntervalSec
	}
	if cfg.Service.ReminderIntervalSec <= 0 {
		cfg.Service.ReminderIntervalSec = defaultReminderIntervalSec
	}
	if cfg.Service.PollWindowHours <= 0 {
		cfg.Service.PollWindowHours = defaultPollWindowHours
	}
	if cfg.Service.QueryWindowHours <= 0 {
		cfg.Service.QueryWindowHours = defaultQueryWindowHours
	}
	if cfg.Service.MinSeverity == 0 {
		cfg.Service.MinSeverity = defaultMinSeverity
	}
	if cfg.Service.LockTTLSec <= 0 {
		cfg.Service.LockTTLSec = defaultLockTTLSec
	}
	if cfg.Service.LockRenewSec <= 0 {
		cfg.Service.LockRenewSec = defaultLockRenewSec
	}

	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}
	if cfg.Log.Console.Level == "" {
		cfg.Log.Console.Level = "info"
	}
	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = "line"
	}
	if cfg.Log.File.Level == "" {
		cfg.Log.File.Level = "info"
	}
	if cfg.Log.File.Format == "" {
		cfg.Log.File.Format = "json"
	}

	if strings.TrimSpace(cfg.Telegram.APIBase) == "" {
		cfg.Telegram.APIBase = defaultTelegramAPIBase
	}
	if cfg.Telegram.TimeoutSec <= 0 {
		cfg.Telegram.TimeoutSec = defaultTelegramTimeoutSec
	}
	if strings.TrimSpace(cfg.Telegram.NewTemplate) == "" {
		cfg.Telegram.NewTemplate = defaultNewTemplate
	}
	if strings.TrimSpace(cfg.Telegram.ReminderTemplate) == "" {
		cfg.Telegram.ReminderTemplate = defaultReminderTemplate
	}

	if cfg.Zabbix.TimeoutSec <= 0 {
		cfg.Zabbix.TimeoutSec = defaultZabbixTimeoutSec
	}

	if strings.TrimSpace(cfg.Store.Mode) == "" {
		cfg.Store.Mode = StoreModeMemory
	}
	cfg.Store.Mode = strings.ToLower(strings.TrimSpace(cfg.Store.Mode))
	if strings.TrimSpace(cfg.Store.Bucket) == "" {
		cfg.Store.Bucket = defaultStoreBucket
	}
}

// validateConfig checks decoded settings for contradictions.
// Params: config snapshot after defaults.
// Returns: first validation error naming the TOML path.
func validateConfig(cfg Config) error {
	if cfg.Service.MinSeverity < 0 || cfg.Service.MinSeverity > 5 {
		return errors.New("service.min_severity must be in 0..5")
	}
	if cfg.Service.LockRenewSec >= cfg.Service.LockTTLSec {
		return errors.New("service.lock_renew_sec must be strictly less than service.lock_ttl_sec")
	}

	for _, sink := range []struct {
		name string
		cfg  LogSinkConfig
	}{{"log.console", cfg.Log.Console}, {"log.file", cfg.Log.File}} {
		if !sink.cfg.Enabled {
			continue
		}
		switch sink.cfg.Format {
		case "line", "json":
		default:
			return fmt.Errorf("%s.format %q is not supported", sink.name, sink.cfg.Format)
		}
	}
	if cfg.Log.File.Enabled && strings.TrimSpace(cfg.Log.File.Path) == "" {
		return errors.New("log.file.path is required when log.file.enabled")
	}

	if strings.TrimSpace(cfg.Telegram.BotToken) == "" {
		return errors.New("telegram.bot_token is required")
	}
	if len(cfg.Telegram.AdminIDs) == 0 {
		return errors.New("telegram.admin_ids must list at least one operator chat id")
	}
	if _, err := templatefmt.ParseNotificationTemplate("telegram.new_template", cfg.Telegram.NewTemplate); err != nil {
		return fmt.Errorf("telegram.new_template: %w", err)
	}
	if _, err := templatefmt.ParseNotificationTemplate("telegram.reminder_template", cfg.Telegram.ReminderTemplate); err != nil {
		return fmt.Errorf("telegram.reminder_template: %w", err)
	}

	if strings.TrimSpace(cfg.Zabbix.URL) == "" {
		return errors.New("zabbix.url is required")
	}
	if strings.TrimSpace(cfg.Zabbix.User) == "" {
		return errors.New("zabbix.user is required")
	}
	if strings.TrimSpace(cfg.Zabbix.Password) == "" {
		return errors.New("zabbix.password is required")
	}
	for _, tag := range cfg.Zabbix.Tag {
		if strings.TrimSpace(tag) == "" {
			return errors.New("zabbix.tag entries must not be empty")
		}
	}

	switch cfg.Store.Mode {
	case StoreModeMemory:
	case StoreModeNATS:
		if len(cfg.Store.URL) == 0 {
			return errors.New("store.url is required for store.mode = \"nats\"")
		}
	default:
		return fmt.Errorf("store.mode %q is not supported", cfg.Store.Mode)
	}

	return nil
}
