// Package config provides configuration management for the tunnel and
// workstation runtimes. It supports loading from environment variables,
// config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections.
type Config struct {
	Tunnel      TunnelConfig      `mapstructure:"tunnel"`
	Workstation WorkstationConfig `mapstructure:"workstation"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Speech      SpeechConfig      `mapstructure:"speech"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// TunnelConfig holds the relay's configuration.
type TunnelConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	PublicURL          string `mapstructure:"publicUrl"`
	RegistrationAPIKey string `mapstructure:"registrationApiKey"`
	StoragePath        string `mapstructure:"storagePath"`

	// SendQueueSize bounds each connection's outbound queue. Overflow
	// closes the connection with BACKPRESSURE_EXCEEDED.
	SendQueueSize int `mapstructure:"sendQueueSize"`

	// RateLimit shapes per-client inbound traffic (messages per second
	// sustained, RateBurst at peak).
	RateLimit float64 `mapstructure:"rateLimit"`
	RateBurst int     `mapstructure:"rateBurst"`

	// Long-poll watch adapter tuning.
	WatchQueueSize  int `mapstructure:"watchQueueSize"`
	WatchIdleExpiry int `mapstructure:"watchIdleExpiry"` // seconds
}

// WorkstationConfig holds the workstation runtime's configuration.
type WorkstationConfig struct {
	Name           string `mapstructure:"name"`
	TunnelURL      string `mapstructure:"tunnelUrl"`
	TunnelAPIKey   string `mapstructure:"tunnelApiKey"`
	AuthKey        string `mapstructure:"authKey"`
	WorkspacesRoot string `mapstructure:"workspacesRoot"`
	StatePath      string `mapstructure:"statePath"`

	// Agents available for agent sessions, plus AGENT_ALIAS_<NAME>
	// overrides collected from the environment at load time.
	Agents  []string          `mapstructure:"agents"`
	Aliases map[string]string `mapstructure:"aliases"`

	// TerminalBufferSize is the per-terminal output ring capacity.
	TerminalBufferSize int `mapstructure:"terminalBufferSize"`

	// HistoryWindow bounds agent and supervisor chat history.
	HistoryWindow int `mapstructure:"historyWindow"`

	// SendQueueSize bounds each device's outbound queue on the hub.
	SendQueueSize int `mapstructure:"sendQueueSize"`
}

// NATSConfig holds NATS messaging configuration. An empty URL selects the
// in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// SpeechConfig holds the STT/TTS collaborator endpoints.
type SpeechConfig struct {
	STTURL  string `mapstructure:"sttUrl"`
	TTSURL  string `mapstructure:"ttsUrl"`
	APIKey  string `mapstructure:"apiKey"`
	Voice   string `mapstructure:"voice"`
	Timeout int    `mapstructure:"timeout"` // seconds
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// TimeoutDuration returns the speech call timeout as a time.Duration.
func (s *SpeechConfig) TimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// WatchIdleExpiryDuration returns the watch GC expiry as a time.Duration.
func (t *TunnelConfig) WatchIdleExpiryDuration() time.Duration {
	return time.Duration(t.WatchIdleExpiry) * time.Second
}

func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("TIFLIS_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("tunnel.host", "0.0.0.0")
	v.SetDefault("tunnel.port", 8080)
	v.SetDefault("tunnel.publicUrl", "")
	v.SetDefault("tunnel.registrationApiKey", "")
	v.SetDefault("tunnel.storagePath", "tunnel-identities.json")
	v.SetDefault("tunnel.sendQueueSize", 256)
	v.SetDefault("tunnel.rateLimit", 100.0)
	v.SetDefault("tunnel.rateBurst", 200)
	v.SetDefault("tunnel.watchQueueSize", 256)
	v.SetDefault("tunnel.watchIdleExpiry", 300)

	v.SetDefault("workstation.name", defaultWorkstationName())
	v.SetDefault("workstation.tunnelUrl", "ws://localhost:8080")
	v.SetDefault("workstation.tunnelApiKey", "")
	v.SetDefault("workstation.authKey", "")
	v.SetDefault("workstation.workspacesRoot", defaultWorkspacesRoot())
	v.SetDefault("workstation.statePath", "workstation-state.json")
	v.SetDefault("workstation.agents", []string{"claude", "cursor", "opencode"})
	v.SetDefault("workstation.terminalBufferSize", 1000)
	v.SetDefault("workstation.historyWindow", 50)
	v.SetDefault("workstation.sendQueueSize", 256)

	// Empty NATS URL means use the in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("speech.sttUrl", "")
	v.SetDefault("speech.ttsUrl", "")
	v.SetDefault("speech.apiKey", "")
	v.SetDefault("speech.voice", "")
	v.SetDefault("speech.timeout", 30)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and
// defaults. Environment variables use the TIFLIS_ prefix; the well-known
// variables from the deployment docs are bound explicitly.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default
// locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("TIFLIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bindings for the documented variable names, which predate the
	// TIFLIS_ prefix convention.
	_ = v.BindEnv("tunnel.registrationApiKey", "TUNNEL_REGISTRATION_API_KEY", "TIFLIS_TUNNEL_REGISTRATION_API_KEY")
	_ = v.BindEnv("tunnel.publicUrl", "TUNNEL_PUBLIC_URL", "TIFLIS_TUNNEL_PUBLIC_URL")
	_ = v.BindEnv("workstation.tunnelUrl", "TUNNEL_URL", "TIFLIS_WORKSTATION_TUNNEL_URL")
	_ = v.BindEnv("workstation.tunnelApiKey", "TUNNEL_API_KEY", "TIFLIS_WORKSTATION_TUNNEL_API_KEY")
	_ = v.BindEnv("workstation.authKey", "WORKSTATION_AUTH_KEY", "TIFLIS_WORKSTATION_AUTH_KEY")
	_ = v.BindEnv("workstation.workspacesRoot", "WORKSPACES_ROOT", "TIFLIS_WORKSTATION_WORKSPACES_ROOT")
	_ = v.BindEnv("nats.url", "TIFLIS_NATS_URL")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/tiflis/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.Workstation.Aliases == nil {
		cfg.Workstation.Aliases = make(map[string]string)
	}
	for name, command := range AliasesFromEnv(os.Environ()) {
		cfg.Workstation.Aliases[name] = command
	}

	return &cfg, nil
}

// ValidateTunnel checks the fields the tunnel runtime requires.
func (c *Config) ValidateTunnel() error {
	var errs []string
	if c.Tunnel.Port <= 0 || c.Tunnel.Port > 65535 {
		errs = append(errs, "tunnel.port must be between 1 and 65535")
	}
	if len(c.Tunnel.RegistrationAPIKey) < 32 {
		errs = append(errs, "tunnel.registrationApiKey must be at least 32 characters (TUNNEL_REGISTRATION_API_KEY)")
	}
	if c.Tunnel.StoragePath == "" {
		errs = append(errs, "tunnel.storagePath is required")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// ValidateWorkstation checks the fields the workstation runtime requires.
func (c *Config) ValidateWorkstation() error {
	var errs []string
	if c.Workstation.TunnelURL == "" {
		errs = append(errs, "workstation.tunnelUrl is required (TUNNEL_URL)")
	}
	if c.Workstation.TunnelAPIKey == "" {
		errs = append(errs, "workstation.tunnelApiKey is required (TUNNEL_API_KEY)")
	}
	if c.Workstation.AuthKey == "" {
		errs = append(errs, "workstation.authKey is required (WORKSTATION_AUTH_KEY)")
	}
	if c.Workstation.TerminalBufferSize < 100 {
		errs = append(errs, "workstation.terminalBufferSize must be at least 100")
	}
	if c.Workstation.HistoryWindow <= 0 {
		errs = append(errs, "workstation.historyWindow must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// AliasesFromEnv collects AGENT_ALIAS_<NAME>=<command> entries. Alias names
// are lowercased; empty commands are skipped.
func AliasesFromEnv(environ []string) map[string]string {
	const prefix = "AGENT_ALIAS_"
	aliases := make(map[string]string)
	for _, entry := range environ {
		if !strings.HasPrefix(entry, prefix) {
			continue
		}
		eq := strings.Index(entry, "=")
		if eq <= len(prefix) {
			continue
		}
		name := strings.ToLower(entry[len(prefix):eq])
		command := entry[eq+1:]
		if name == "" || command == "" {
			continue
		}
		aliases[name] = command
	}
	return aliases
}

func defaultWorkstationName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "workstation"
	}
	return host
}

func defaultWorkspacesRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
