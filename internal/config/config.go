// Package config provides YAML-based configuration loading for archivebot.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables that override secrets from the config file.
const (
	EnvTelegramToken = "ARCHIVEBOT_TELEGRAM_TOKEN"
	EnvArchiveAccess = "ARCHIVEBOT_IA_ACCESS"
	EnvArchiveSecret = "ARCHIVEBOT_IA_SECRET"
)

// Config is the top-level archivebot configuration, loaded from archivebot.yaml.
type Config struct {
	Platform       string          `yaml:"platform"`
	Telegram       TelegramConfig  `yaml:"telegram"`
	Discord        DiscordConfig   `yaml:"discord"`
	Slack          SlackConfig     `yaml:"slack"`
	Slots          []SlotConfig    `yaml:"slots"`
	Database       DatabaseConfig  `yaml:"database"`
	DataDir        string          `yaml:"data_dir"`
	CursorFile     string          `yaml:"cursor_file"`
	PollTimeoutSec int             `yaml:"poll_timeout_sec"`
	Archive        ArchiveConfig   `yaml:"archive"`
	FFmpeg         FFmpegConfig    `yaml:"ffmpeg"`
	Reminders      RemindersConfig `yaml:"reminders"`
	Dashboard      DashboardConfig `yaml:"dashboard"`
	Log            LogConfig       `yaml:"log"`
}

// TelegramConfig holds Telegram Bot API settings.
type TelegramConfig struct {
	Token  string `yaml:"token"`
	APIURL string `yaml:"api_url"` // defaults to https://api.telegram.org
}

// DiscordConfig holds Discord gateway settings.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
}

// SlackConfig holds Slack Socket Mode settings.
type SlackConfig struct {
	AppToken string `yaml:"app_token"`
	BotToken string `yaml:"bot_token"`
}

// SlotConfig binds a conversation slot to a channel and optional thread.
type SlotConfig struct {
	Channel string `yaml:"channel"`
	Thread  string `yaml:"thread"`
}

// DatabaseConfig selects and configures the record store backend.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" or "mysql"
	Path     string `yaml:"path"`   // sqlite file
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// ArchiveConfig holds Internet Archive upload settings.
type ArchiveConfig struct {
	Endpoint   string `yaml:"endpoint"`
	Access     string `yaml:"access"`
	Secret     string `yaml:"secret"`
	Collection string `yaml:"collection"`
	Podcast    string `yaml:"podcast"`
	Creator    string `yaml:"creator"`
}

// FFmpegConfig configures the transcoder subprocess.
type FFmpegConfig struct {
	Binary  string `yaml:"binary"`
	Bitrate string `yaml:"bitrate"`
}

// RemindersConfig schedules notices about submissions left unfinished.
type RemindersConfig struct {
	Cron            string `yaml:"cron"` // 5-field cron; empty disables reminders
	StaleAfterHours int    `yaml:"stale_after_hours"`
}

// DashboardConfig controls the read-only HTTP status API.
type DashboardConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or console
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overrides secrets from the environment when set.
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvTelegramToken); v != "" {
		c.Telegram.Token = v
	}
	if v := os.Getenv(EnvArchiveAccess); v != "" {
		c.Archive.Access = v
	}
	if v := os.Getenv(EnvArchiveSecret); v != "" {
		c.Archive.Secret = v
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Platform == "" {
		c.Platform = "telegram"
	}
	if c.Telegram.APIURL == "" {
		c.Telegram.APIURL = "https://api.telegram.org"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.CursorFile == "" {
		c.CursorFile = filepath.Join(c.DataDir, "state.json")
	}
	if c.PollTimeoutSec == 0 {
		c.PollTimeoutSec = 300
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = filepath.Join(c.DataDir, "archivebot.db")
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
		if c.Database.Name == "" {
			c.Database.Name = "archivebot"
		}
	}
	if c.Archive.Endpoint == "" {
		c.Archive.Endpoint = "https://s3.us.archive.org"
	}
	if c.Archive.Collection == "" {
		c.Archive.Collection = "opensource_audio"
	}
	if c.FFmpeg.Binary == "" {
		c.FFmpeg.Binary = "ffmpeg"
	}
	if c.FFmpeg.Bitrate == "" {
		c.FFmpeg.Bitrate = "128k"
	}
	if c.Reminders.StaleAfterHours == 0 {
		c.Reminders.StaleAfterHours = 24
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	for i := range c.Slots {
		// Telegram reports "no thread" as thread 0.
		if c.Slots[i].Thread == "0" {
			c.Slots[i].Thread = ""
		}
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Platform {
	case "telegram":
		if c.Telegram.Token == "" {
			errs = append(errs, "telegram.token is required")
		}
	case "discord":
		if c.Discord.BotToken == "" {
			errs = append(errs, "discord.bot_token is required")
		}
	case "slack":
		if c.Slack.AppToken == "" {
			errs = append(errs, "slack.app_token is required")
		}
		if c.Slack.BotToken == "" {
			errs = append(errs, "slack.bot_token is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("unsupported platform %q", c.Platform))
	}
	if len(c.Slots) == 0 {
		errs = append(errs, "at least one slot is required")
	}
	for i, s := range c.Slots {
		if s.Channel == "" {
			errs = append(errs, fmt.Sprintf("slots[%d].channel is required", i))
		}
	}
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("unsupported database.driver %q", c.Database.Driver))
	}
	if c.Archive.Access == "" {
		errs = append(errs, "archive.access is required")
	}
	if c.Archive.Secret == "" {
		errs = append(errs, "archive.secret is required")
	}
	if c.PollTimeoutSec < 0 {
		errs = append(errs, "poll_timeout_sec must not be negative")
	}
	if c.Reminders.StaleAfterHours < 0 {
		errs = append(errs, "reminders.stale_after_hours must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
