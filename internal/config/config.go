package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines client configuration.
type Config struct {
	Sync   SyncConfig   `yaml:"sync"`
	Server ServerConfig `yaml:"server"`
	DB     DBConfig     `yaml:"db"`
	Log    LogConfig    `yaml:"log"`
}

// SyncConfig describes the collaboration server and the sync engine tuning.
type SyncConfig struct {
	ServerURL           string        `yaml:"server_url"`
	ActorID             string        `yaml:"actor_id"`
	ClientID            string        `yaml:"client_id"`
	TeamID              string        `yaml:"team_id"`
	ProjectID           string        `yaml:"project_id"`
	HeartbeatInterval   time.Duration `yaml:"heartbeat_interval"`
	ReconnectInterval   time.Duration `yaml:"reconnect_interval"`
	ReconnectAttempts   int           `yaml:"reconnect_attempts"`
	ReconnectMultiplier float64       `yaml:"reconnect_multiplier"`
	DialTimeout         time.Duration `yaml:"dial_timeout"`
	WriteTimeout        time.Duration `yaml:"write_timeout"`
	MaxMessageSize      int64         `yaml:"max_message_size"`
	FlushInterval       time.Duration `yaml:"flush_interval"`
	BatchSize           int           `yaml:"batch_size"`
	MaxRetries          int           `yaml:"max_retries"`
	MaxSyncErrors       int           `yaml:"max_sync_errors"`
	ConflictWindow      time.Duration `yaml:"conflict_window"`
}

// ServerConfig is the local control API listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DBConfig struct {
	DSN string `yaml:"dsn"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Sync: SyncConfig{
			ServerURL:           "ws://localhost:8080/sync",
			ClientID:            "default",
			HeartbeatInterval:   30 * time.Second,
			ReconnectInterval:   3 * time.Second,
			ReconnectAttempts:   5,
			ReconnectMultiplier: 1.0,
			DialTimeout:         10 * time.Second,
			WriteTimeout:        5 * time.Second,
			MaxMessageSize:      1 << 20,
			FlushInterval:       30 * time.Second,
			BatchSize:           10,
			MaxRetries:          5,
			MaxSyncErrors:       50,
			ConflictWindow:      5 * time.Second,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 7070,
		},
		DB: DBConfig{
			DSN: "tasksync.db",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from an optional YAML file and environment variables.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("TASKSYNC_CONFIG_PATH"); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	strs := map[string]*string{
		"TASKSYNC_SERVER_URL":   &cfg.Sync.ServerURL,
		"TASKSYNC_ACTOR_ID":     &cfg.Sync.ActorID,
		"TASKSYNC_CLIENT_ID":    &cfg.Sync.ClientID,
		"TASKSYNC_TEAM_ID":      &cfg.Sync.TeamID,
		"TASKSYNC_PROJECT_ID":   &cfg.Sync.ProjectID,
		"TASKSYNC_CONTROL_HOST": &cfg.Server.Host,
		"TASKSYNC_DB_DSN":       &cfg.DB.DSN,
		"TASKSYNC_LOG_LEVEL":    &cfg.Log.Level,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"TASKSYNC_CONTROL_PORT":       &cfg.Server.Port,
		"TASKSYNC_RECONNECT_ATTEMPTS": &cfg.Sync.ReconnectAttempts,
		"TASKSYNC_BATCH_SIZE":         &cfg.Sync.BatchSize,
		"TASKSYNC_MAX_RETRIES":        &cfg.Sync.MaxRetries,
		"TASKSYNC_MAX_SYNC_ERRORS":    &cfg.Sync.MaxSyncErrors,
	}
	for key, dst := range ints {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = n
	}

	durations := map[string]*time.Duration{
		"TASKSYNC_HEARTBEAT_INTERVAL": &cfg.Sync.HeartbeatInterval,
		"TASKSYNC_RECONNECT_INTERVAL": &cfg.Sync.ReconnectInterval,
		"TASKSYNC_DIAL_TIMEOUT":       &cfg.Sync.DialTimeout,
		"TASKSYNC_WRITE_TIMEOUT":      &cfg.Sync.WriteTimeout,
		"TASKSYNC_FLUSH_INTERVAL":     &cfg.Sync.FlushInterval,
		"TASKSYNC_CONFLICT_WINDOW":    &cfg.Sync.ConflictWindow,
	}
	for key, dst := range durations {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = d
	}

	if v := os.Getenv("TASKSYNC_MAX_MESSAGE_SIZE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid TASKSYNC_MAX_MESSAGE_SIZE: %w", err)
		}
		cfg.Sync.MaxMessageSize = n
	}

	if v := os.Getenv("TASKSYNC_RECONNECT_MULTIPLIER"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid TASKSYNC_RECONNECT_MULTIPLIER: %w", err)
		}
		cfg.Sync.ReconnectMultiplier = f
	}
	return nil
}

// Validate reports every setting that cannot work.
func (c Config) Validate() error {
	var errs []error
	if c.Sync.ServerURL == "" {
		errs = append(errs, errors.New("sync.server_url is required"))
	}
	if c.Sync.ClientID == "" {
		errs = append(errs, errors.New("sync.client_id is required"))
	}
	if c.Sync.ReconnectAttempts < 1 {
		errs = append(errs, errors.New("sync.reconnect_attempts must be at least 1"))
	}
	if c.Sync.ReconnectInterval <= 0 {
		errs = append(errs, errors.New("sync.reconnect_interval must be positive"))
	}
	if c.Sync.ReconnectMultiplier < 1 {
		errs = append(errs, errors.New("sync.reconnect_multiplier must be at least 1"))
	}
	if c.Sync.BatchSize < 1 {
		errs = append(errs, errors.New("sync.batch_size must be at least 1"))
	}
	if c.Sync.MaxRetries < 1 {
		errs = append(errs, errors.New("sync.max_retries must be at least 1"))
	}
	if c.Sync.MaxSyncErrors < 1 {
		errs = append(errs, errors.New("sync.max_sync_errors must be at least 1"))
	}
	if c.Sync.MaxMessageSize < 1024 {
		errs = append(errs, errors.New("sync.max_message_size must be at least 1024 bytes"))
	}
	if c.Sync.ConflictWindow < 0 {
		errs = append(errs, errors.New("sync.conflict_window must not be negative"))
	}
	if c.Sync.FlushInterval < 0 {
		errs = append(errs, errors.New("sync.flush_interval must not be negative"))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.DB.DSN == "" {
		errs = append(errs, errors.New("db.dsn is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ControlAddr is the host:port of the control API.
func (c Config) ControlAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}
