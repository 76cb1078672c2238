// Package config owns the host-maintained ~/.deskjarvis/config.json file:
// reading it through viper, transparent API key de-obfuscation, writing it
// back, and hot reload while the agent runs.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"deskjarvis/agent/pkg/logger"
	"deskjarvis/agent/pkg/utils"
)

// DirName is the agent state directory under the user home.
const DirName = ".deskjarvis"

// EmailConfig holds the mail endpoints used by the email executor family.
type EmailConfig struct {
	IMAPServer string `json:"imap_server,omitempty" mapstructure:"imap_server"`
	SMTPServer string `json:"smtp_server,omitempty" mapstructure:"smtp_server"`
	Address    string `json:"address,omitempty" mapstructure:"address"`
	Password   string `json:"password,omitempty" mapstructure:"password"`
}

// EmbeddingConfig steers the embedding service.
type EmbeddingConfig struct {
	Provider string `json:"provider,omitempty" mapstructure:"provider"`
	Model    string `json:"model,omitempty" mapstructure:"model"`
	APIKey   string `json:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL  string `json:"base_url,omitempty" mapstructure:"base_url"`
	Offline  bool   `json:"offline,omitempty" mapstructure:"offline"`
}

// ExecutorConfig binds one executor family to an external MCP tool server.
type ExecutorConfig struct {
	MCPCommand string   `json:"mcp_command,omitempty" mapstructure:"mcp_command"`
	MCPArgs    []string `json:"mcp_args,omitempty" mapstructure:"mcp_args"`
}

// Config mirrors config.json. The host desktop app writes this file; the
// agent reads it and only writes back for key obfuscation migration.
type Config struct {
	Provider    string                    `json:"provider,omitempty" mapstructure:"provider"`
	Model       string                    `json:"model,omitempty" mapstructure:"model"`
	APIKey      string                    `json:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL     string                    `json:"base_url,omitempty" mapstructure:"base_url"`
	Temperature float64                   `json:"temperature,omitempty" mapstructure:"temperature"`
	SandboxPath string                    `json:"sandbox_path,omitempty" mapstructure:"sandbox_path"`
	Email       EmailConfig               `json:"email,omitempty" mapstructure:"email"`
	Embedding   EmbeddingConfig           `json:"embedding,omitempty" mapstructure:"embedding"`
	Executors   map[string]ExecutorConfig `json:"executors,omitempty" mapstructure:"executors"`
}

// Dir returns the agent state directory, creating it if needed.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	dir := filepath.Join(home, DirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}
	return dir, nil
}

// DefaultPath returns the standard config.json location.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// DefaultSandboxPath is used when config.json does not set one.
func DefaultSandboxPath() string {
	return utils.ExpandHome(filepath.Join("~", "Documents", "DeskJarvis"))
}

// Manager loads, saves and watches one config file.
type Manager struct {
	path string
	log  logger.Logger

	mu       sync.RWMutex
	current  *Config
	onChange []func(*Config)
}

// NewManager creates a manager for the given config path.
func NewManager(path string, log logger.Logger) *Manager {
	return &Manager{path: path, log: log}
}

// Load reads the config file. A missing file yields defaults, not an
// error; the host may not have completed setup yet. Stored API keys are
// de-obfuscated, and plaintext keys found on disk are migrated to the
// obfuscated form.
func (m *Manager) Load() (*Config, error) {
	cfg := &Config{}

	v := viper.New()
	v.SetConfigFile(m.path)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if os.IsNotExist(err) || errors.As(err, &notFound) {
			m.log.Warnf("Config file %s not found, using defaults", m.path)
			m.applyDefaults(cfg)
			m.setCurrent(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	m.migrateKeys(cfg)
	m.applyDefaults(cfg)
	m.setCurrent(cfg)
	return cfg, nil
}

// migrateKeys de-obfuscates stored secrets and rewrites the file when it
// still carries plaintext or legacy-format keys.
func (m *Manager) migrateKeys(cfg *Config) {
	needsRewrite := needsMigration(cfg.APIKey) ||
		needsMigration(cfg.Email.Password) ||
		needsMigration(cfg.Embedding.APIKey)

	cfg.APIKey = utils.DeobfuscateKey(cfg.APIKey)
	cfg.Email.Password = utils.DeobfuscateKey(cfg.Email.Password)
	cfg.Embedding.APIKey = utils.DeobfuscateKey(cfg.Embedding.APIKey)

	if needsRewrite {
		m.log.Infof("Migrating stored credentials to obfuscated form")
		if err := m.Save(cfg); err != nil {
			m.log.Warnf("Credential migration failed: %v", err)
		}
	}
}

func needsMigration(stored string) bool {
	return stored != "" && !hasObfuscatedPrefix(stored)
}

func hasObfuscatedPrefix(s string) bool {
	return len(s) >= len(utils.ObfuscatedPrefix) && s[:len(utils.ObfuscatedPrefix)] == utils.ObfuscatedPrefix
}

func (m *Manager) applyDefaults(cfg *Config) {
	if cfg.Provider == "" {
		cfg.Provider = "deepseek"
	}
	if cfg.SandboxPath == "" {
		cfg.SandboxPath = DefaultSandboxPath()
	} else {
		cfg.SandboxPath = utils.ExpandHome(cfg.SandboxPath)
	}
	if os.Getenv("EMBED_OFFLINE") == "1" {
		cfg.Embedding.Offline = true
	}
}

// Save writes the config back with secrets obfuscated.
func (m *Manager) Save(cfg *Config) error {
	out := *cfg
	out.APIKey = utils.ObfuscateKey(cfg.APIKey)
	out.Email.Password = utils.ObfuscateKey(cfg.Email.Password)
	out.Embedding.APIKey = utils.ObfuscateKey(cfg.Embedding.APIKey)

	payload, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(m.path, payload, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Current returns the most recently loaded config, loading on first use.
func (m *Manager) Current() *Config {
	m.mu.RLock()
	cfg := m.current
	m.mu.RUnlock()
	if cfg != nil {
		return cfg
	}
	loaded, err := m.Load()
	if err != nil {
		m.log.Errorf("Config load failed: %v", err)
		fallback := &Config{}
		m.applyDefaults(fallback)
		return fallback
	}
	return loaded
}

func (m *Manager) setCurrent(cfg *Config) {
	m.mu.Lock()
	m.current = cfg
	m.mu.Unlock()
}

// OnChange registers a callback fired after each hot reload.
func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	m.onChange = append(m.onChange, fn)
	m.mu.Unlock()
}

// Watch re-reads the file whenever the host edits it. Reload failures keep
// the previous config.
func (m *Manager) Watch() {
	v := viper.New()
	v.SetConfigFile(m.path)
	v.SetConfigType("json")
	v.OnConfigChange(func(e fsnotify.Event) {
		m.log.Infof("Config file changed (%s), reloading", e.Op)
		cfg, err := m.Load()
		if err != nil {
			m.log.Warnf("Config reload failed, keeping previous: %v", err)
			return
		}
		m.mu.RLock()
		callbacks := make([]func(*Config), len(m.onChange))
		copy(callbacks, m.onChange)
		m.mu.RUnlock()
		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	v.WatchConfig()
}
