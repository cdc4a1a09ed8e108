package config

type Config struct {
	Discord DiscordConfig `json:"discord"`
	Clist   ClistConfig   `json:"clist"`
	Logging LoggingConfig `json:"logging"`

	// Remind controls the reminder engine: how often the contest cache is
	// re-read and pending reminders are rebuilt, and how often guild
	// settings are snapshotted for disaster recovery.
	Remind RemindConfig `json:"remind"`

	Storage StorageConfig `json:"storage"`
}

type DiscordConfig struct {
	Token string `json:"token"`
	// Presence is the "watching ..." activity shown on the bot profile.
	Presence string `json:"presence,omitempty"`
	// SendRatePerSec caps outgoing reminder messages. Default 1.
	SendRatePerSec float64 `json:"send_rate_per_sec,omitempty"`
}

// ClistConfig controls the upstream contest-listing API client.
//
// All durations are Go duration strings (e.g. "10m", "12h").
type ClistConfig struct {
	BaseURL string `json:"base_url,omitempty"`
	// APIKey is the clist.by query credential ("username=...&api_key=...").
	APIKey string `json:"api_key"`
	// Limit bounds the number of contests per fetch. Default 200.
	Limit int `json:"limit,omitempty"`
	// Lookback asks for contests starting after now-lookback so active
	// contests are still present. Default "48h".
	Lookback string `json:"lookback,omitempty"`
	// CacheTTL is the snapshot freshness threshold: a non-forced refresh
	// under this age serves the persisted snapshot. Default "12h".
	CacheTTL string `json:"cache_ttl,omitempty"`
	// RatePerMin caps upstream requests. Default 6.
	RatePerMin int `json:"rate_per_min,omitempty"`
}

// RemindConfig controls the recurring refresh/reschedule cycle.
type RemindConfig struct {
	// RefreshPeriod is the cycle cadence. Default "10m".
	// Independent of clist.cache_ttl: the loop may run often while the
	// cache still serves the persisted snapshot.
	RefreshPeriod string `json:"refresh_period,omitempty"`
	// BackupSpec is a cron spec for settings backups. Default "@daily".
	BackupSpec string `json:"backup_spec,omitempty"`
	// FinishedLimit caps the finished bucket. Default 5.
	FinishedLimit int `json:"finished_limit,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}
