package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/bryanchriswhite/CanvasCamera/internal/camera"
	"github.com/bryanchriswhite/CanvasCamera/internal/logger"
)

// DefaultPath returns $HOME/.config/canvascam/config.yaml
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "canvascam", "config.yaml"), nil
}

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex

	viper *viper.Viper

	// watching hands viper refreshes over to the watcher
	watching atomic.Bool
}

// NewManager creates a new configuration manager. An empty configFile uses
// DefaultPath; a missing file is created with defaults.
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := configFile
	if actualConfigPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		actualConfigPath = p
	}

	if err := os.MkdirAll(filepath.Dir(actualConfigPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	m := &Manager{configPath: actualConfigPath}

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

	m.viper = viper.New()
	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")
	if err := m.viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Str("backend", m.config.Capture.Backend).
		Int("devices", len(m.config.Devices)).
		Msg("Config loaded")

	return m, nil
}

// load reads the configuration from disk
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", camera.ErrConfig, err)
	}

	m.mu.Lock()
	m.config = &cfg
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return Defaults()
	}
	cfg := *m.config
	cfg.Devices = append([]DeviceConfig(nil), m.config.Devices...)
	return &cfg
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	if cfg == nil {
		cfg = Defaults()
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Saving config")

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
		logger.WithComponent("config").Error().
			Err(err).
			Msg("Failed to marshal config")
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	// Keep the viper view in step with the file
	if m.viper != nil && !m.watching.Load() {
		if err := m.viper.ReadInConfig(); err != nil {
			logger.WithComponent("config").Warn().Err(err).Msg("Failed to refresh viper view")
		}
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Msg("Config saved successfully")
	return nil
}

// Update validates and replaces the entire configuration
func (m *Manager) Update(cfg *Config) error {
	next := *cfg
	next.fillDefaults()
	if err := next.Validate(); err != nil {
		return fmt.Errorf("%w: %w", camera.ErrConfig, err)
	}
	m.mu.Lock()
	m.config = &next
	m.mu.Unlock()
	return m.Save()
}

// mutate applies fn to a copy of the configuration, validates and saves it
func (m *Manager) mutate(fn func(c *Config)) error {
	cfg := m.Get()
	fn(cfg)
	return m.Update(cfg)
}

// SetPort sets the server port
func (m *Manager) SetPort(port int) error {
	return m.mutate(func(c *Config) { c.ServerPort = port })
}

// GetPort returns the server port
func (m *Manager) GetPort() int {
	return m.Get().ServerPort
}

// SetLogLevel sets the log level
func (m *Manager) SetLogLevel(level string) error {
	return m.mutate(func(c *Config) { c.LogLevel = level })
}

// GetLogLevel returns the log level
func (m *Manager) GetLogLevel() string {
	return m.Get().LogLevel
}

// SetBackend sets the capture backend
func (m *Manager) SetBackend(backend string) error {
	return m.mutate(func(c *Config) { c.Capture.Backend = backend })
}

// SetPosition persists the camera position used at startup
func (m *Manager) SetPosition(p camera.Position) error {
	return m.mutate(func(c *Config) { c.Capture.Position = string(p) })
}

// SetFlashMode persists the flash mode used at startup
func (m *Manager) SetFlashMode(mode camera.FlashMode) error {
	return m.mutate(func(c *Config) { c.Capture.FlashMode = string(mode) })
}

// GetConfigPath returns the config file path
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// GetConfigDir returns the directory holding the config file
func (m *Manager) GetConfigDir() string {
	return filepath.Dir(m.configPath)
}

// GetViper returns a viper view of the config file, keyed by dotted YAML
// paths such as capture.width.
func (m *Manager) GetViper() *viper.Viper {
	return m.viper
}

// Set parses value for the dotted key and saves it. Unknown keys and values
// that fail validation are rejected without touching the file.
func (m *Manager) Set(key, value string) error {
	key = strings.ToLower(key)
	if !m.viper.IsSet(key) {
		return fmt.Errorf("configuration key not found: %s", key)
	}

	var typed interface{} = value
	switch current := m.viper.Get(key).(type) {
	case int, int64, float64:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid number for %s: %s", key, value)
		}
		typed = n
	case bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for %s: %s (use: true or false)", key, value)
		}
		typed = b
	case string:
	default:
		return fmt.Errorf("%s is a %T; edit the file to change it", key, current)
	}

	// Round-trip through a scratch viper so the live view is untouched on
	// failure.
	scratch := viper.New()
	if err := scratch.MergeConfigMap(m.viper.AllSettings()); err != nil {
		return err
	}
	scratch.Set(key, typed)
	data, err := yaml.Marshal(scratch.AllSettings())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to apply %s: %w", key, err)
	}
	return m.Update(&cfg)
}

// Watch calls fn with the reloaded configuration whenever the file changes
// on disk. Invalid edits are logged and ignored.
func (m *Manager) Watch(fn func(*Config)) {
	log := logger.WithComponent("config")
	m.watching.Store(true)
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		if err := m.load(); err != nil {
			log.Warn().Err(err).Str("path", e.Name).Msg("Ignoring invalid config change")
			return
		}
		log.Info().Str("path", e.Name).Str("op", e.Op.String()).Msg("Config reloaded")
		fn(m.Get())
	})
	m.viper.WatchConfig()
}
