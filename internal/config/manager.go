package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/uvstream/vrgdisplay/internal/logger"
)

// EnvPrefix namespaces environment overrides, e.g. VRGDISPLAY_API_PORT.
const EnvPrefix = "VRGDISPLAY"

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// DefaultPath is $HOME/.config/vrgdisplay/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "vrgdisplay", "config.yaml"), nil
}

// NewManager loads configFile, or the default path when empty. A missing
// file is created with defaults.
func NewManager(configFile string) (*Manager, error) {
	path := configFile
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}

	m := &Manager{configPath: path}

	if err := m.load(); err != nil {
		if os.IsNotExist(err) {
			logger.WithComponent("config").Info().
				Str("path", m.configPath).
				Msg("Config file not found, creating new config")
			m.config = Defaults()
			if err := m.Save(); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Str("display", m.config.Display.Kind).
		Msg("Config loaded")
	return m, nil
}

// load reads the configuration from disk. Keys absent from the file keep
// their defaults.
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", m.configPath, err)
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg := *m.config
	return &cfg
}

// Save writes the configuration to disk.
func (m *Manager) Save() error {
	cfg := m.Get()

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("config_dir", configDir).
			Msg("Failed to create config directory")
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Config saved")
	return nil
}

// Update validates and replaces the entire configuration
func (m *Manager) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c := *cfg
	m.mu.Lock()
	m.config = &c
	m.mu.Unlock()
	return m.Save()
}

// SetLogLevel sets and persists the log level
func (m *Manager) SetLogLevel(level string) error {
	if !validLevels[level] {
		return fmt.Errorf("invalid log level: %s (use: debug, info, warn, error)", level)
	}
	m.mu.Lock()
	m.config.LogLevel = level
	m.mu.Unlock()
	return m.Save()
}

// Path returns the path to the config file
func (m *Manager) Path() string {
	return m.configPath
}

// NewViper returns a viper instance reading VRGDISPLAY_* environment
// variables, with nested keys joined by underscores
// (display.kind is VRGDISPLAY_DISPLAY_KIND).
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Resolve returns the configuration with every key set in v (flags or
// environment) applied on top. The file is not modified.
func (m *Manager) Resolve(v *viper.Viper) (*Config, error) {
	cfg := m.Get()
	if v == nil {
		return cfg, nil
	}

	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	integer := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}
	float := func(key string, dst *float64) {
		if v.IsSet(key) {
			*dst = v.GetFloat64(key)
		}
	}

	str("log_level", &cfg.LogLevel)
	if v.IsSet("log_pretty") {
		cfg.LogPretty = v.GetBool("log_pretty")
	}
	integer("api_port", &cfg.APIPort)

	str("display.kind", &cfg.Display.Kind)
	str("display.spec", &cfg.Display.Spec)
	str("display.codec", &cfg.Display.Codec)
	integer("display.width", &cfg.Display.Width)
	integer("display.height", &cfg.Display.Height)
	float("display.fps", &cfg.Display.FPS)
	if v.IsSet("display.report_interval") {
		cfg.Display.ReportInterval = v.GetDuration("display.report_interval")
	}

	str("stream.endpoint", &cfg.Stream.Endpoint)
	str("stream.renderer_listen", &cfg.Stream.RendererListen)
	if v.IsSet("stream.handshake_timeout") {
		cfg.Stream.HandshakeTimeout = v.GetDuration("stream.handshake_timeout")
	}
	if v.IsSet("stream.submit_timeout") {
		cfg.Stream.SubmitTimeout = v.GetDuration("stream.submit_timeout")
	}

	str("receiver.listen", &cfg.Receiver.Listen)

	str("sender.receiver", &cfg.Sender.Receiver)
	integer("sender.port", &cfg.Sender.Port)
	str("sender.compression", &cfg.Sender.Compression)
	integer("sender.quality", &cfg.Sender.Quality)
	integer("sender.width", &cfg.Sender.Width)
	integer("sender.height", &cfg.Sender.Height)
	float("sender.fps", &cfg.Sender.FPS)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
