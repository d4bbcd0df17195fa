package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zulandar/archivebot/internal/config"
)

// writeConfig writes a minimal sqlite-backed config into a temp dir and
// returns its path.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	yaml := fmt.Sprintf(`
telegram:
  token: "123:abc"
slots:
  - channel: "-100200300"
archive:
  access: AK
  secret: SK
data_dir: %s
database:
  driver: sqlite
  path: %s
`, dir, filepath.Join(dir, "archivebot.db"))
	path := filepath.Join(dir, "archivebot.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDBMigrateCmd(t *testing.T) {
	path := writeConfig(t)

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"db", "migrate", "-c", path})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("db migrate failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Migrated 1 tables") {
		t.Errorf("output = %q, want migrated count", out)
	}
	if !strings.Contains(out, "sqlite ") {
		t.Errorf("output = %q, want sqlite description", out)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(path), "archivebot.db")); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

func TestDBMigrateCmd_MissingConfig(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"db", "migrate", "-c", filepath.Join(t.TempDir(), "nope.yaml")})

	err := cmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing config")
	}
	if !strings.Contains(err.Error(), "load config") {
		t.Errorf("error = %q, want load config prefix", err.Error())
	}
}

func TestDescribeDB(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.DatabaseConfig
		want string
	}{
		{"sqlite", config.DatabaseConfig{Driver: "sqlite", Path: "data/archivebot.db"}, "sqlite data/archivebot.db"},
		{"mysql", config.DatabaseConfig{Driver: "mysql", User: "bot", Host: "db", Port: 3306, Name: "voices"}, "mysql bot@db:3306/voices"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := describeDB(tt.cfg); got != tt.want {
				t.Errorf("describeDB = %q, want %q", got, tt.want)
			}
		})
	}
}
