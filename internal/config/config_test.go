package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const fullYAML = `
platform: telegram
telegram:
  token: "123:abc"
  api_url: http://localhost:8081
slots:
  - channel: "-100200300"
    thread: "42"
  - channel: "-100999"
database:
  driver: mysql
  host: 10.0.0.5
  port: 3307
  name: voices
  user: bot
  password: hunter2
data_dir: /srv/archivebot
poll_timeout_sec: 60
archive:
  access: AK
  secret: SK
  collection: community_audio
  podcast: Atareao
  creator: atareao
ffmpeg:
  binary: /usr/bin/ffmpeg
  bitrate: 96k
reminders:
  cron: "0 9 * * *"
  stale_after_hours: 12
dashboard:
  enabled: true
  port: 9090
log:
  level: debug
  format: console
`

const minimalYAML = `
telegram:
  token: "123:abc"
slots:
  - channel: "-100200300"
archive:
  access: AK
  secret: SK
`

func TestParse_FullConfig(t *testing.T) {
	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Platform != "telegram" {
		t.Errorf("Platform = %q, want telegram", cfg.Platform)
	}
	if cfg.Telegram.APIURL != "http://localhost:8081" {
		t.Errorf("Telegram.APIURL = %q", cfg.Telegram.APIURL)
	}
	if len(cfg.Slots) != 2 {
		t.Fatalf("len(Slots) = %d, want 2", len(cfg.Slots))
	}
	if cfg.Slots[0].Channel != "-100200300" || cfg.Slots[0].Thread != "42" {
		t.Errorf("Slots[0] = %+v", cfg.Slots[0])
	}
	if cfg.Database.Driver != "mysql" || cfg.Database.Host != "10.0.0.5" || cfg.Database.Port != 3307 {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.CursorFile != filepath.Join("/srv/archivebot", "state.json") {
		t.Errorf("CursorFile = %q", cfg.CursorFile)
	}
	if cfg.PollTimeoutSec != 60 {
		t.Errorf("PollTimeoutSec = %d, want 60", cfg.PollTimeoutSec)
	}
	if cfg.Archive.Collection != "community_audio" {
		t.Errorf("Archive.Collection = %q", cfg.Archive.Collection)
	}
	if cfg.FFmpeg.Bitrate != "96k" {
		t.Errorf("FFmpeg.Bitrate = %q", cfg.FFmpeg.Bitrate)
	}
	if cfg.Reminders.Cron != "0 9 * * *" || cfg.Reminders.StaleAfterHours != 12 {
		t.Errorf("Reminders = %+v", cfg.Reminders)
	}
	if !cfg.Dashboard.Enabled || cfg.Dashboard.Port != 9090 {
		t.Errorf("Dashboard = %+v", cfg.Dashboard)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "console" {
		t.Errorf("Log = %+v", cfg.Log)
	}
}

func TestParse_MinimalConfigDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Platform != "telegram" {
		t.Errorf("Platform = %q, want telegram", cfg.Platform)
	}
	if cfg.Telegram.APIURL != "https://api.telegram.org" {
		t.Errorf("Telegram.APIURL = %q", cfg.Telegram.APIURL)
	}
	if cfg.DataDir != "data" {
		t.Errorf("DataDir = %q, want data", cfg.DataDir)
	}
	if cfg.CursorFile != filepath.Join("data", "state.json") {
		t.Errorf("CursorFile = %q", cfg.CursorFile)
	}
	if cfg.PollTimeoutSec != 300 {
		t.Errorf("PollTimeoutSec = %d, want 300", cfg.PollTimeoutSec)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Database.Driver = %q, want sqlite", cfg.Database.Driver)
	}
	if cfg.Database.Path != filepath.Join("data", "archivebot.db") {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Archive.Endpoint != "https://s3.us.archive.org" {
		t.Errorf("Archive.Endpoint = %q", cfg.Archive.Endpoint)
	}
	if cfg.Archive.Collection != "opensource_audio" {
		t.Errorf("Archive.Collection = %q", cfg.Archive.Collection)
	}
	if cfg.FFmpeg.Binary != "ffmpeg" || cfg.FFmpeg.Bitrate != "128k" {
		t.Errorf("FFmpeg = %+v", cfg.FFmpeg)
	}
	if cfg.Reminders.Cron != "" || cfg.Reminders.StaleAfterHours != 24 {
		t.Errorf("Reminders = %+v", cfg.Reminders)
	}
	if cfg.Dashboard.Enabled || cfg.Dashboard.Port != 8080 {
		t.Errorf("Dashboard = %+v", cfg.Dashboard)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
}

func TestParse_MySQLDefaults(t *testing.T) {
	yaml := minimalYAML + "database:\n  driver: mysql\n"
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Host != "127.0.0.1" || cfg.Database.Port != 3306 {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.Database.User != "root" || cfg.Database.Name != "archivebot" {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.Database.Path != "" {
		t.Errorf("Database.Path = %q, want empty for mysql", cfg.Database.Path)
	}
}

func TestParse_ThreadZeroMeansNoThread(t *testing.T) {
	yaml := `
telegram:
  token: "t"
slots:
  - channel: "-1"
    thread: "0"
archive:
  access: a
  secret: s
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Slots[0].Thread != "" {
		t.Errorf("Thread = %q, want empty", cfg.Slots[0].Thread)
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr []string
	}{
		{
			name:    "empty config",
			yaml:    "{}",
			wantErr: []string{"telegram.token is required", "at least one slot is required", "archive.access is required", "archive.secret is required"},
		},
		{
			name: "unknown platform",
			yaml: `
platform: irc
slots: [{channel: "c"}]
archive: {access: a, secret: s}
`,
			wantErr: []string{`unsupported platform "irc"`},
		},
		{
			name: "discord without token",
			yaml: `
platform: discord
slots: [{channel: "c"}]
archive: {access: a, secret: s}
`,
			wantErr: []string{"discord.bot_token is required"},
		},
		{
			name: "slack without tokens",
			yaml: `
platform: slack
slots: [{channel: "c"}]
archive: {access: a, secret: s}
`,
			wantErr: []string{"slack.app_token is required", "slack.bot_token is required"},
		},
		{
			name: "slot without channel",
			yaml: `
telegram: {token: t}
slots: [{thread: "5"}]
archive: {access: a, secret: s}
`,
			wantErr: []string{"slots[0].channel is required"},
		},
		{
			name: "unknown driver",
			yaml: `
telegram: {token: t}
slots: [{channel: "c"}]
database: {driver: postgres}
archive: {access: a, secret: s}
`,
			wantErr: []string{`unsupported database.driver "postgres"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q missing %q", err.Error(), want)
				}
			}
		})
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("slots: [unterminated"))
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !strings.Contains(err.Error(), "config: parse") {
		t.Errorf("error = %q, want config: parse prefix", err.Error())
	}
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv(EnvTelegramToken, "env-token")
	t.Setenv(EnvArchiveAccess, "env-access")
	t.Setenv(EnvArchiveSecret, "env-secret")

	yaml := `
slots:
  - channel: "-1"
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Telegram.Token != "env-token" {
		t.Errorf("Telegram.Token = %q", cfg.Telegram.Token)
	}
	if cfg.Archive.Access != "env-access" || cfg.Archive.Secret != "env-secret" {
		t.Errorf("Archive = %+v", cfg.Archive)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archivebot.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Errorf("Telegram.Token = %q", cfg.Telegram.Token)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "config: read") {
		t.Errorf("error = %q, want config: read prefix", err.Error())
	}
}
