package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"cropsight/internal/annotate"
	"cropsight/internal/detection"
	"cropsight/internal/pipeline"
)

// EnvConfigPath names the environment variable pointing at the config
// file when the -config flag is not set
const EnvConfigPath = "CROPSIGHT_CONFIG"

// Config is the service configuration, persisted as JSON. Secrets
// (Telegram token, auth credentials, JWT secret) stay in the environment
// and never appear here.
type Config struct {
	OutputBase string          `json:"output_base"`
	Pipeline   PipelineConfig  `json:"pipeline"`
	Detector   DetectorConfig  `json:"detector"`
	Annotator  AnnotatorConfig `json:"annotator"`
	Server     ServerConfig    `json:"server"`
	Telegram   TelegramConfig  `json:"telegram"`
}

// PipelineConfig holds orchestrator tunables
type PipelineConfig struct {
	BatchSize   int `json:"batch_size"`
	JPEGQuality int `json:"jpeg_quality"`
}

// DetectorConfig selects the detection backend
type DetectorConfig struct {
	Kind          string  `json:"kind"`
	Endpoint      string  `json:"endpoint"`
	ReplayFile    string  `json:"replay_file,omitempty"`
	ConfThreshold float32 `json:"conf_threshold"`
}

// AnnotatorConfig maps detection classes to box colors (hex)
type AnnotatorConfig struct {
	Colors map[string]string `json:"colors"`
}

// ServerConfig holds the HTTP listener settings
type ServerConfig struct {
	Address string `json:"address"`
}

// TelegramConfig switches completion notifications; the bot token and
// chat id come from TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID
type TelegramConfig struct {
	Enabled         bool `json:"enabled"`
	CooldownSeconds int  `json:"cooldown_seconds"`
}

// Default returns the stock configuration
func Default() *Config {
	return &Config{
		OutputBase: "runs",
		Pipeline: PipelineConfig{
			BatchSize:   pipeline.DefaultBatchSize,
			JPEGQuality: pipeline.DefaultJPEGQuality,
		},
		Detector: DetectorConfig{
			Kind:          "remote",
			Endpoint:      "http://localhost:8500",
			ConfThreshold: detection.DefaultConfThreshold,
		},
		Annotator: AnnotatorConfig{
			Colors: annotate.DefaultColors(),
		},
		Server: ServerConfig{
			Address: ":8080",
		},
		Telegram: TelegramConfig{
			CooldownSeconds: 30,
		},
	}
}

// Load reads the config file at path over the defaults. A missing file
// or an empty path yields the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges and backend requirements
func (c *Config) Validate() error {
	if c.OutputBase == "" {
		return fmt.Errorf("output_base cannot be empty")
	}
	if c.Pipeline.BatchSize < 1 {
		return fmt.Errorf("pipeline.batch_size must be at least 1")
	}
	if c.Pipeline.JPEGQuality < 1 || c.Pipeline.JPEGQuality > 100 {
		return fmt.Errorf("pipeline.jpeg_quality must be between 1 and 100")
	}

	switch c.Detector.Kind {
	case "remote":
		if c.Detector.Endpoint == "" {
			return fmt.Errorf("detector.endpoint is required for the remote backend")
		}
	case "replay":
		if c.Detector.ReplayFile == "" {
			return fmt.Errorf("detector.replay_file is required for the replay backend")
		}
	default:
		return fmt.Errorf("unknown detector.kind %q", c.Detector.Kind)
	}
	if c.Detector.ConfThreshold < 0 || c.Detector.ConfThreshold > 1 {
		return fmt.Errorf("detector.conf_threshold must be between 0 and 1")
	}

	for class, hex := range c.Annotator.Colors {
		if _, err := annotate.ParseHexColor(hex); err != nil {
			return fmt.Errorf("annotator color for %q: %w", class, err)
		}
	}

	if c.Server.Address == "" {
		return fmt.Errorf("server.address cannot be empty")
	}
	if c.Telegram.CooldownSeconds < 0 {
		return fmt.Errorf("telegram.cooldown_seconds cannot be negative")
	}
	return nil
}

// Save writes the config as indented JSON
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Manager guards a live configuration shared between the HTTP surface
// and the pipeline wiring. Updates persist to the backing file and apply
// on the next restart; the running pipeline keeps its boot-time values.
type Manager struct {
	mu   sync.RWMutex
	path string
	cfg  *Config
}

// NewManager loads path (or defaults when absent) into a manager
func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Manager{path: path, cfg: cfg}, nil
}

// NewManagerWith wraps an already prepared configuration
func NewManagerWith(path string, cfg *Config) *Manager {
	return &Manager{path: path, cfg: cfg}
}

// Get returns a copy of the current configuration
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp := *m.cfg
	colors := make(map[string]string, len(m.cfg.Annotator.Colors))
	for class, hex := range m.cfg.Annotator.Colors {
		colors[class] = hex
	}
	cp.Annotator.Colors = colors
	return cp
}

// Update validates, applies and persists a new configuration
func (m *Manager) Update(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.cfg = &cfg
	if m.path == "" {
		return nil
	}
	return m.cfg.Save(m.path)
}

// Path returns the backing file path, or "" when running on defaults
func (m *Manager) Path() string {
	return m.path
}
