package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultProfile = "work"
	cfg.Presence.Watch = []string{"u1", "u2"}
	cfg.Transport.RequestTimeout = Duration{3 * time.Second}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
	if loaded.Transport.RequestTimeout.Duration != 3*time.Second {
		t.Errorf("RequestTimeout = %v, want 3s", loaded.Transport.RequestTimeout)
	}
	if len(loaded.Presence.Watch) != 2 {
		t.Errorf("Watch = %v", loaded.Presence.Watch)
	}
}

func TestLoadFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
user_id = "u42"

[server]
socket_url = "wss://chat.example.com/ws"

[presence]
heartbeat_interval = "10s"
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.UserID != "u42" || cfg.Server.SocketURL != "wss://chat.example.com/ws" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Presence.HeartbeatInterval.Duration != 10*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 10s", cfg.Presence.HeartbeatInterval)
	}
	if cfg.Presence.TypingIdle.Duration != 2*time.Second {
		t.Errorf("TypingIdle = %v, want default 2s", cfg.Presence.TypingIdle)
	}
	if cfg.Transport.MaxReconnectAttempts != 5 || cfg.Chat.PageSize != 20 {
		t.Errorf("defaults lost: %+v %+v", cfg.Transport, cfg.Chat)
	}
}

func TestLoadBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[transport]\nrequest_timeout = \"soon\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for malformed duration")
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
	cfg, err := LoadOrDefault("/nonexistent/config.toml")
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.DefaultProfile != "main" {
		t.Errorf("DefaultProfile = %q, want main", cfg.DefaultProfile)
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
