package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Duration wraps time.Duration so toml values can be written as "90s" or
// "24h" strings.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Config struct {
	Database  DatabaseConfig  `toml:"database"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Notify    NotifyConfig    `toml:"notify"`
	Logging   LoggingConfig   `toml:"logging"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type SchedulerConfig struct {
	TickInterval  Duration   `toml:"tick_interval"`
	RetryAttempts int        `toml:"retry_attempts"`
	RetryBackoff  Duration   `toml:"retry_backoff"`
	ReminderLeads []Duration `toml:"reminder_leads"`
}

type NotifyConfig struct {
	SuppressWindow Duration `toml:"suppress_window"`
}

type LoggingConfig struct {
	Level string `toml:"level"` // debug | info | warn | error
}

func Default(dbPath string) Config {
	return Config{
		Database: DatabaseConfig{
			Path: dbPath,
		},
		Scheduler: SchedulerConfig{
			TickInterval:  Duration{time.Minute},
			RetryAttempts: 3,
			RetryBackoff:  Duration{5 * time.Second},
			ReminderLeads: []Duration{{24 * time.Hour}, {time.Hour}},
		},
		Notify: NotifyConfig{
			SuppressWindow: Duration{6 * time.Hour},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the toml file at path over the given defaults. A missing or
// empty file yields the defaults unchanged.
func Load(path string, defaults Config) (Config, error) {
	cfg := defaults
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(content) == 0 {
		return cfg, nil
	}

	if err := toml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode toml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return errors.New("database path is required")
	}

	if c.Scheduler.TickInterval.Duration <= 0 {
		return errors.New("scheduler.tick_interval must be positive")
	}
	if c.Scheduler.RetryAttempts <= 0 {
		return errors.New("scheduler.retry_attempts must be positive")
	}
	if c.Scheduler.RetryBackoff.Duration <= 0 {
		return errors.New("scheduler.retry_backoff must be positive")
	}
	if len(c.Scheduler.ReminderLeads) == 0 {
		return errors.New("scheduler.reminder_leads must include at least one lead")
	}
	for i, lead := range c.Scheduler.ReminderLeads {
		if lead.Duration <= 0 {
			return fmt.Errorf("scheduler.reminder_leads[%d] must be positive", i)
		}
	}

	if c.Notify.SuppressWindow.Duration <= 0 {
		return errors.New("notify.suppress_window must be positive")
	}

	switch strings.TrimSpace(strings.ToLower(c.Logging.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
	}

	return nil
}

func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
