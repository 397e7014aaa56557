package docdex

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/docdex/ingest"
)

// Config holds all docdex configuration.
type Config struct {
	DBPath string `yaml:"db_path"`
	Listen string `yaml:"listen"`
	// UploadDir is where submitted source files are stored.
	UploadDir string `yaml:"upload_dir"`
	// MaxFileSize caps accepted uploads, in bytes.
	MaxFileSize int64 `yaml:"max_file_size"`

	Ingest ingest.Config `yaml:"ingest"`
	Queue  QueueConfig   `yaml:"queue"`
}

// QueueConfig controls work-queue delivery behaviour.
type QueueConfig struct {
	Visibility   time.Duration `yaml:"visibility"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

func (c *Config) defaults() {
	if c.DBPath == "" {
		c.DBPath = "docdex.db"
	}
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.UploadDir == "" {
		c.UploadDir = "uploads"
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = 100 << 20
	}
	if c.Ingest.SpoolDir == "" {
		c.Ingest.SpoolDir = "spool"
	}
	if c.Queue.Visibility <= 0 {
		c.Queue.Visibility = 60 * time.Second
	}
	if c.Queue.PollInterval <= 0 {
		c.Queue.PollInterval = time.Second
	}
	if c.Queue.MaxAttempts <= 0 {
		c.Queue.MaxAttempts = 5
	}
}

// LoadConfigFile reads a YAML config file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
