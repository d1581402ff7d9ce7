// Package config handles configuration loading, validation, and persistence
// for the pokeproto battle peer.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultPort       = 8888
	DefaultBoostUses  = 5
)

// Config is the root configuration structure for pokeproto.
type Config struct {
	mu   sync.RWMutex
	path string

	Peer            PeerData        `json:"peer"`
	ApplicationData ApplicationData `json:"application_data"`
}

// PeerData contains battle peer configuration. CLI flags override these
// values for a single run without being persisted.
type PeerData struct {
	// Identity
	Name string `json:"peer_name"`

	// Network
	Port        int    `json:"udp_port"`
	ConnectAddr string `json:"connect_addr"`

	// Battle
	Pokemon   string `json:"pokemon"`
	SpAtkUses int    `json:"sp_atk_uses"`
	SpDefUses int    `json:"sp_def_uses"`

	// Combatant data source (CSV). Empty means the built-in set.
	DataFile string `json:"pokemon_data_file"`
}

// ApplicationData contains application-level configuration.
type ApplicationData struct {
	Timers   TimerConfig   `json:"timers"`
	Stickers StickerConfig `json:"stickers"`
	History  HistoryConfig `json:"history"`
	MQTT     MQTTConfig    `json:"mqtt"`
	API      APIConfig     `json:"api"`
	Logging  LoggingConfig `json:"logging"`
}

// TimerConfig holds the reliability layer timing parameters.
type TimerConfig struct {
	RetransmitTickMS int `json:"retransmit_tick_ms"`
	AckTimeoutMS     int `json:"ack_timeout_ms"`
	MaxRetries       int `json:"max_retries"`
	GameOverGraceMS  int `json:"game_over_grace_ms"`
}

// StickerConfig holds received-sticker persistence settings.
type StickerConfig struct {
	Directory     string `json:"directory"`
	RetentionDays int    `json:"retention_days"`
}

// HistoryConfig holds battle history database settings.
type HistoryConfig struct {
	Enabled       bool   `json:"enabled"`
	Path          string `json:"path"`
	RetentionDays int    `json:"retention_days"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

// APIConfig holds the read-only observer HTTP API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Peer: PeerData{
			Name:      "Player",
			Port:      DefaultPort,
			SpAtkUses: DefaultBoostUses,
			SpDefUses: DefaultBoostUses,
		},
		ApplicationData: ApplicationData{
			Timers: TimerConfig{
				RetransmitTickMS: 100,
				AckTimeoutMS:     500,
				MaxRetries:       3,
				GameOverGraceMS:  1000,
			},
			Stickers: StickerConfig{
				Directory:     "stickers",
				RetentionDays: 7,
			},
			History: HistoryConfig{
				Enabled:       true,
				Path:          filepath.Join("data", "history.db"),
				RetentionDays: 90,
			},
			MQTT: MQTTConfig{
				Enabled:     false,
				Port:        8883,
				UseTLS:      true,
				TopicPrefix: "pokeproto",
			},
			API: APIConfig{
				Enabled: false,
				Port:    5000,
			},
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxBackups: 5,
			},
		},
	}
}

// Load reads configuration from a JSON file.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetPeer returns a copy of the peer configuration.
func (c *Config) GetPeer() PeerData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Peer
}

// SetPeer updates the peer configuration.
func (c *Config) SetPeer(data PeerData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Peer = data
}

// GetApplicationData returns a copy of the application data configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}
