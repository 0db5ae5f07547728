// Package config provides Viper-based configuration loading for the game
// server and client binaries.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cory-johannsen/gridchase/internal/game/engine"
	"github.com/cory-johannsen/gridchase/internal/game/lobby"
)

// Client transports.
const (
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"
)

// ServerConfig holds the host's listener settings.
type ServerConfig struct {
	// Host is the bind address for both listeners.
	Host string `mapstructure:"host"`
	// Port is the TCP port for newline-framed connections.
	Port int `mapstructure:"port"`
	// HTTPPort serves /ws, /healthz and /status. Zero disables HTTP.
	HTTPPort int `mapstructure:"http_port"`
	// ReadTimeout is the per-frame read timeout. Zero waits forever.
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxClients   int           `mapstructure:"max_clients"`
	OutboxSize   int           `mapstructure:"outbox_size"`
	MaxFrameSize int           `mapstructure:"max_frame_size"`
}

// Addr returns the "host:port" TCP listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// HTTPAddr returns the "host:port" HTTP listen address.
func (s ServerConfig) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.HTTPPort)
}

// ClientConfig holds participant settings.
type ClientConfig struct {
	// Transport is "tcp" or "websocket".
	Transport string `mapstructure:"transport"`
	// ServerAddr is the "host:port" of the TCP listener.
	ServerAddr string `mapstructure:"server_addr"`
	// WebSocketURL is the ws:// URL of the host's /ws endpoint.
	WebSocketURL string        `mapstructure:"websocket_url"`
	Username     string        `mapstructure:"username"`
	MoveInterval time.Duration `mapstructure:"move_interval"`
}

// GameConfig holds the match settings the host starts with.
type GameConfig struct {
	// Map names a built-in map or a <maps_dir>/<map>.yaml file.
	Map          string        `mapstructure:"map"`
	MapsDir      string        `mapstructure:"maps_dir"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
	GhostCount   int           `mapstructure:"ghost_count"`
	BotCount     int           `mapstructure:"bot_count"`
	// AutostartPlayers starts a match once this many players joined.
	// Zero never starts automatically.
	AutostartPlayers int           `mapstructure:"autostart_players"`
	RestartDelay     time.Duration `mapstructure:"restart_delay"`
}

// Settings converts the game section into match settings.
func (g GameConfig) Settings() lobby.Settings {
	return lobby.Settings{
		Map:          g.Map,
		GhostCount:   g.GhostCount,
		BotCount:     g.BotCount,
		TickInterval: g.TickInterval,
	}
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	// Enabled turns on match history recording.
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Client   ClientConfig   `mapstructure:"client"`
	Game     GameConfig     `mapstructure:"game"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string
	for _, err := range []error{
		validateServer(c.Server),
		validateClient(c.Client),
		validateGame(c.Game),
		validateDatabase(c.Database),
		validateLogging(c.Logging),
	} {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validPort(p int) bool { return p >= 1 && p <= 65535 }

func validateServer(s ServerConfig) error {
	var errs []string
	if !validPort(s.Port) {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", s.Port))
	}
	if s.HTTPPort != 0 && !validPort(s.HTTPPort) {
		errs = append(errs, fmt.Sprintf("server.http_port must be 0 or 1-65535, got %d", s.HTTPPort))
	}
	if s.HTTPPort != 0 && s.HTTPPort == s.Port {
		errs = append(errs, "server.http_port must differ from server.port")
	}
	if s.MaxClients < 1 || s.MaxClients > engine.BotIDBase {
		errs = append(errs, fmt.Sprintf("server.max_clients must be 1-%d, got %d", engine.BotIDBase, s.MaxClients))
	}
	if s.OutboxSize < 1 {
		errs = append(errs, fmt.Sprintf("server.outbox_size must be >= 1, got %d", s.OutboxSize))
	}
	if s.ReadTimeout < 0 {
		errs = append(errs, "server.read_timeout must not be negative")
	}
	if s.WriteTimeout < 0 {
		errs = append(errs, "server.write_timeout must not be negative")
	}
	if s.MaxFrameSize < 0 {
		errs = append(errs, "server.max_frame_size must not be negative")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateClient(c ClientConfig) error {
	var errs []string
	switch c.Transport {
	case TransportTCP:
		if c.ServerAddr == "" {
			errs = append(errs, "client.server_addr must not be empty for tcp transport")
		}
	case TransportWebSocket:
		if !strings.HasPrefix(c.WebSocketURL, "ws://") && !strings.HasPrefix(c.WebSocketURL, "wss://") {
			errs = append(errs, fmt.Sprintf("client.websocket_url must be a ws:// or wss:// URL, got %q", c.WebSocketURL))
		}
	default:
		errs = append(errs, fmt.Sprintf("client.transport must be one of [tcp, websocket], got %q", c.Transport))
	}
	if strings.TrimSpace(c.Username) == "" {
		errs = append(errs, "client.username must not be empty")
	}
	if c.MoveInterval <= 0 {
		errs = append(errs, fmt.Sprintf("client.move_interval must be > 0, got %s", c.MoveInterval))
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateGame(g GameConfig) error {
	var errs []string
	if err := g.Settings().Validate(); err != nil {
		errs = append(errs, "game: "+err.Error())
	}
	if g.AutostartPlayers < 0 {
		errs = append(errs, fmt.Sprintf("game.autostart_players must be >= 0, got %d", g.AutostartPlayers))
	}
	if g.RestartDelay < 0 {
		errs = append(errs, "game.restart_delay must not be negative")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// validateDatabase checks connection settings only when recording is on.
func validateDatabase(d DatabaseConfig) error {
	if !d.Enabled {
		return nil
	}
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if !validPort(d.Port) {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 || d.MinConns > d.MaxConns {
		errs = append(errs, fmt.Sprintf("database.min_conns must be 0-%d, got %d", d.MaxConns, d.MinConns))
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := NewViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return LoadFromViper(v)
}

// NewViper returns a Viper instance with defaults and GRIDCHASE_ environment
// overrides applied.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("GRIDCHASE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 7777)
	v.SetDefault("server.http_port", 7778)
	v.SetDefault("server.read_timeout", "0s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.max_clients", 16)
	v.SetDefault("server.outbox_size", 256)
	v.SetDefault("server.max_frame_size", 64*1024)

	v.SetDefault("client.transport", TransportTCP)
	v.SetDefault("client.server_addr", "127.0.0.1:7777")
	v.SetDefault("client.websocket_url", "ws://127.0.0.1:7778/ws")
	v.SetDefault("client.username", "Player")
	v.SetDefault("client.move_interval", "300ms")

	defaults := lobby.DefaultSettings()
	v.SetDefault("game.map", defaults.Map)
	v.SetDefault("game.maps_dir", "")
	v.SetDefault("game.tick_interval", defaults.TickInterval.String())
	v.SetDefault("game.ghost_count", defaults.GhostCount)
	v.SetDefault("game.bot_count", defaults.BotCount)
	v.SetDefault("game.autostart_players", 0)
	v.SetDefault("game.restart_delay", "5s")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "gridchase")
	v.SetDefault("database.password", "gridchase")
	v.SetDefault("database.name", "gridchase")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
