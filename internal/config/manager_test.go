package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return NewManager(path)
}

func TestParse(t *testing.T) {
	m := writeConfig(t, `{
		"discord": {"token": "tok", "presence": "clist.by"},
		"clist": {"api_key": "username=u&api_key=k", "lookback": "48h"},
		"logging": {"level": "info", "console": true},
		"remind": {"refresh_period": "10m"},
		"storage": {"driver": "file", "path": "./data"}
	}`)

	cfg, err := m.Parse()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Discord.Token != "tok" {
		t.Errorf("token = %q", cfg.Discord.Token)
	}
	if cfg.Remind.RefreshPeriod != "10m" {
		t.Errorf("refresh_period = %q", cfg.Remind.RefreshPeriod)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	m := writeConfig(t, `{"discord": {"token": "tok"}, "typo_field": 1}`)
	if _, err := m.Parse(); err == nil {
		t.Error("unknown top-level field accepted")
	}
}

func TestParseYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "discord:\n  token: tok\nclist:\n  api_key: k\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Discord.Token != "tok" {
		t.Errorf("token = %q", cfg.Discord.Token)
	}
}

func TestDuration(t *testing.T) {
	if _, err := Duration("x", "10m"); err != nil {
		t.Errorf("valid duration rejected: %v", err)
	}
	if _, err := Duration("x", "soon"); err == nil {
		t.Error("bogus duration accepted")
	}
	if _, err := Duration("x", "-5m"); err == nil {
		t.Error("negative duration accepted")
	}
	if d, err := Duration("x", ""); err != nil || d != 0 {
		t.Errorf("empty duration: d=%v err=%v, want zero and no error", d, err)
	}
	if d, err := DurationOr("x", "", time.Minute); err != nil || d != time.Minute {
		t.Errorf("unset field: d=%v err=%v, want fallback", d, err)
	}
	if d, err := DurationOr("x", "2m", time.Minute); err != nil || d != 2*time.Minute {
		t.Errorf("set field: d=%v err=%v, want 2m", d, err)
	}
}
