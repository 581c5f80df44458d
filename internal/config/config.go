// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all resolved application paths
type Config struct {
	HomeDir      string
	RewindDir    string
	SnapshotsDir string
	DatabasePath string
	LogDir       string
	SettingsPath string
}

// Load creates a Config instance with resolved paths
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	rewindDir := filepath.Join(home, ".rewind")
	snapshotsDir := filepath.Join(rewindDir, "snapshots")
	logDir := filepath.Join(rewindDir, "logs")

	// Ensure directories exist
	for _, dir := range []string{rewindDir, snapshotsDir, logDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	return &Config{
		HomeDir:      home,
		RewindDir:    rewindDir,
		SnapshotsDir: snapshotsDir,
		DatabasePath: filepath.Join(rewindDir, "tasks.db"),
		LogDir:       logDir,
		SettingsPath: filepath.Join(rewindDir, "config.yaml"),
	}, nil
}

// TaskSnapshotDir returns the shadow repository path for a task
func (c *Config) TaskSnapshotDir(taskID string) string {
	return filepath.Join(c.SnapshotsDir, taskID)
}

// Settings holds user-tunable behavior loaded from config.yaml
type Settings struct {
	CheckpointsEnabled bool          `yaml:"checkpoints_enabled"`
	InitTimeout        time.Duration `yaml:"init_timeout"`
	InitWarning        time.Duration `yaml:"init_warning"`
	CompressionLevel   int           `yaml:"compression_level"`
	Exclude            []string      `yaml:"exclude"`
}

// duration bridges yaml and time.Duration: bare numbers are seconds,
// strings go through time.ParseDuration
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = duration(time.Duration(n) * time.Second)
		return nil
	}

	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = duration(parsed)
	return nil
}

func (d duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// settingsYAML is the on-disk shape of Settings
type settingsYAML struct {
	CheckpointsEnabled bool     `yaml:"checkpoints_enabled"`
	InitTimeout        duration `yaml:"init_timeout"`
	InitWarning        duration `yaml:"init_warning"`
	CompressionLevel   int      `yaml:"compression_level"`
	Exclude            []string `yaml:"exclude"`
}

func (s *Settings) UnmarshalYAML(value *yaml.Node) error {
	aux := settingsYAML{
		CheckpointsEnabled: s.CheckpointsEnabled,
		InitTimeout:        duration(s.InitTimeout),
		InitWarning:        duration(s.InitWarning),
		CompressionLevel:   s.CompressionLevel,
		Exclude:            s.Exclude,
	}
	if err := value.Decode(&aux); err != nil {
		return err
	}
	*s = Settings{
		CheckpointsEnabled: aux.CheckpointsEnabled,
		InitTimeout:        time.Duration(aux.InitTimeout),
		InitWarning:        time.Duration(aux.InitWarning),
		CompressionLevel:   aux.CompressionLevel,
		Exclude:            aux.Exclude,
	}
	return nil
}

func (s Settings) MarshalYAML() (interface{}, error) {
	return settingsYAML{
		CheckpointsEnabled: s.CheckpointsEnabled,
		InitTimeout:        duration(s.InitTimeout),
		InitWarning:        duration(s.InitWarning),
		CompressionLevel:   s.CompressionLevel,
		Exclude:            s.Exclude,
	}, nil
}

// DefaultSettings returns the default settings
func DefaultSettings() *Settings {
	return &Settings{
		CheckpointsEnabled: true,
		InitTimeout:        15 * time.Second,
		InitWarning:        7 * time.Second,
		CompressionLevel:   3,
		Exclude: []string{
			"node_modules/",
			"dist/",
			"build/",
			"__pycache__/",
			".venv/",
			"*.log",
		},
	}
}

// LoadSettings reads settings from the given path, falling back to
// defaults when the file does not exist
func LoadSettings(path string) (*Settings, error) {
	settings := DefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}

	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}

	if settings.InitTimeout <= 0 {
		settings.InitTimeout = DefaultSettings().InitTimeout
	}
	if settings.InitWarning <= 0 {
		settings.InitWarning = DefaultSettings().InitWarning
	}

	return settings, nil
}

// SaveSettings writes settings to the given path
func SaveSettings(path string, settings *Settings) error {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
