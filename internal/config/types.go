package config

// Config is the root configuration for the notifyd daemon.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Server   ServerConfig   `json:"server"`
	Dispatch DispatchConfig `json:"dispatch"`
	Session  SessionConfig  `json:"session"`
	Store    StoreConfig    `json:"store"`
	Logging  LoggingConfig  `json:"logging"`
	Janitor  JanitorConfig  `json:"janitor,omitempty"`
	Pprof    PprofConfig    `json:"pprof,omitempty"`
}

// ServerConfig controls the HTTP/WebSocket listener.
type ServerConfig struct {
	Addr string `json:"addr"` // default ":8085"

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// AllowedOrigins restricts WebSocket upgrades by Origin header.
	// Empty or ["*"] allows everything (non-browser clients always pass).
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// DispatchConfig controls the delivery engine.
//
// Defaults (when fields are omitted/zero):
//   - tick_interval: "1s"
//   - deliver_timeout: "5s"
//   - ack_timeout: "2s"
//
// DropOffline is a pointer so we can distinguish "omitted" (default true,
// matching the historical behavior of dropping messages with no live session)
// from an explicit false (hold the message until it ages out).
type DispatchConfig struct {
	TickInterval   string `json:"tick_interval,omitempty"`
	DeliverTimeout string `json:"deliver_timeout,omitempty"`
	AckTimeout     string `json:"ack_timeout,omitempty"`
	DropOffline    *bool  `json:"drop_offline,omitempty"`
}

// SessionConfig controls authentication of senders and client sessions.
type SessionConfig struct {
	// TTL is how long a session record stays valid in the external store
	// without activity. Renewed on authentication and on every positive ack.
	TTL string `json:"ttl,omitempty"` // default "30m"

	// Senders is the list of accepted sender authorization keys.
	Senders []string `json:"senders"`

	// RatePerSec limits /notify submissions per sender key (0 = default 10).
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// StoreConfig controls the external session store backend.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": in-process map, for development and tests
type StoreConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type LoggingConfig struct {
	Level   string            `json:"level"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// JanitorConfig controls periodic maintenance (expired session pruning and
// a stats heartbeat). Schedule is a cron spec or @every duration.
type JanitorConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"` // default "@every 1m"
}

// PprofConfig controls the optional pprof HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
type PprofConfig struct {
	Enabled              bool   `json:"enabled"`
	Address              string `json:"address,omitempty"` // default "127.0.0.1:6060"
	BlockProfileRate     int    `json:"block_profile_rate,omitempty"`
	MutexProfileFraction int    `json:"mutex_profile_fraction,omitempty"`
}
