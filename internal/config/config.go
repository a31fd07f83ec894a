package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.gigline/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`
	// UserID is the signed-in user. When empty it is read from the token's subject.
	UserID   string `toml:"user_id"`
	LogLevel string `toml:"log_level"`

	Server    Server    `toml:"server"`
	Transport Transport `toml:"transport"`
	Chat      Chat      `toml:"chat"`
	Presence  Presence  `toml:"presence"`
}

// Server locates the realtime and REST endpoints.
type Server struct {
	SocketURL  string `toml:"socket_url"`
	HistoryURL string `toml:"history_url"`
}

// Transport tunes the realtime connection.
type Transport struct {
	ReconnectBaseDelay   Duration `toml:"reconnect_base_delay"`
	MaxReconnectAttempts int      `toml:"max_reconnect_attempts"`
	RequestTimeout       Duration `toml:"request_timeout"`
	PingPeriod           Duration `toml:"ping_period"`
	WriteWait            Duration `toml:"write_wait"`
	PongWait             Duration `toml:"pong_wait"`
}

// Chat tunes the chat session.
type Chat struct {
	PageSize int `toml:"page_size"`
}

// Presence tunes presence tracking.
type Presence struct {
	HeartbeatInterval   Duration `toml:"heartbeat_interval"`
	ActivityMinInterval Duration `toml:"activity_min_interval"`
	TypingIdle          Duration `toml:"typing_idle"`
	// Watch lists users the agent keeps subscribed while it runs.
	Watch []string `toml:"watch"`
}

// Duration is a time.Duration written as a string such as "25s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DefaultProfile: "main",
		LogLevel:       "info",
		Server: Server{
			SocketURL: "ws://localhost:8080/ws",
		},
		Transport: Transport{
			ReconnectBaseDelay:   Duration{time.Second},
			MaxReconnectAttempts: 5,
			RequestTimeout:       Duration{10 * time.Second},
			PingPeriod:           Duration{54 * time.Second},
			WriteWait:            Duration{10 * time.Second},
			PongWait:             Duration{60 * time.Second},
		},
		Chat: Chat{PageSize: 20},
		Presence: Presence{
			HeartbeatInterval:   Duration{25 * time.Second},
			ActivityMinInterval: Duration{2 * time.Second},
			TypingIdle:          Duration{2 * time.Second},
		},
	}
}

// Load reads config from the given path over the defaults. Returns an error if the
// file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, falling back to Default when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
