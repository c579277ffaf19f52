package config

// Config is the whole service configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// The file may be YAML or JSON; unknown fields are rejected either way.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Logging   LoggingConfig   `json:"logging"`
	Store     StoreConfig     `json:"store"`
	Scheduler SchedulerConfig `json:"scheduler"`

	Executor ExecutorConfig `json:"executor,omitempty"`
	History  *HistoryConfig `json:"history,omitempty"`
	Alerts   *AlertsConfig  `json:"alerts,omitempty"`
}

type ServerConfig struct {
	// Address is the HTTP listen address, e.g. ":3000".
	Address string `json:"address"`
}

type LoggingConfig struct {
	Level   string            `json:"level,omitempty"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file,omitempty"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StoreConfig points at the service's own database.
//
// The service account is a secret and never lives in the config file: it is
// read from service_account_file, or from the FIREBASE_SERVICE_ACCOUNT
// environment variable when the field is empty.
type StoreConfig struct {
	// Driver is "firebase" (default) or "memory" (local development only;
	// state is lost on restart).
	Driver string `json:"driver,omitempty"`

	DatabaseURL        string `json:"database_url"`
	ServiceAccountFile string `json:"service_account_file,omitempty"`

	// PollInterval is the watch polling period. Defaults to "5s".
	PollInterval string `json:"poll_interval,omitempty"`
}

type SchedulerConfig struct {
	// Timezone is an IANA zone for cron evaluation. Defaults to UTC.
	Timezone string `json:"timezone,omitempty"`
}

type ExecutorConfig struct {
	// PingTimeout caps URL pings. Defaults to "30s".
	PingTimeout string `json:"ping_timeout,omitempty"`

	// RemoteOpTimeout caps one remote-op run. Defaults to "2m".
	RemoteOpTimeout string `json:"remote_op_timeout,omitempty"`
}

// HistoryConfig controls the optional local run-history store.
// Driver is one of "none", "file", "sqlite".
type HistoryConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	KeepRecords int    `json:"keep_records,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// AlertsConfig controls failed-run Telegram alerts.
type AlertsConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token,omitempty"`
	ChatID     int64  `json:"chat_id,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	QueueSize  int    `json:"queue_size,omitempty"`
}
