package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"sightline.ai/internal/vision"
	"sightline.ai/internal/worker"
)

type Config struct {
	DiscSides        int     `yaml:"disc_sides"`
	DefaultTolerance float64 `yaml:"default_tolerance"`

	Worker    WorkerConfig    `yaml:"worker"`
	Store     StoreConfig     `yaml:"store"`
	Snapshots SnapshotsConfig `yaml:"snapshots"`
	Mirror    MirrorConfig    `yaml:"mirror"`
	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
}

type WorkerConfig struct {
	QueueSize int `yaml:"queue_size"`
	// Addr is a ws:// URL of a remote worker. Empty runs the worker in process.
	Addr string `yaml:"addr"`
}

type StoreConfig struct {
	Path    string `yaml:"path"`
	Disable bool   `yaml:"disable"`
}

type SnapshotsConfig struct {
	Dir string `yaml:"dir"`
	// IntervalSec writes snapshots of live sessions periodically. 0 writes
	// them only on shutdown.
	IntervalSec int `yaml:"interval_sec"`
}

// MirrorConfig uploads written snapshots to S3-compatible storage. Empty
// endpoint disables it. Credentials fall back to SIGHTLINE_MIRROR_ACCESS_KEY
// and SIGHTLINE_MIRROR_SECRET_KEY.
type MirrorConfig struct {
	Endpoint        string `yaml:"endpoint"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Secure          bool   `yaml:"secure"`
	Workers         int    `yaml:"workers"`
}

func (m MirrorConfig) Enabled() bool { return m.Endpoint != "" }

type LogConfig struct {
	Dir string `yaml:"dir"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("sightline.yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("sightline.yaml: %w", err)
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		DiscSides:        vision.DefaultDiscSides,
		DefaultTolerance: 0,
		Worker:           WorkerConfig{QueueSize: worker.DefaultQueueSize},
		Store:            StoreConfig{Path: "data/fog.sqlite"},
		Snapshots:        SnapshotsConfig{Dir: "data/snapshots"},
		Log:              LogConfig{Dir: "data/events"},
		HTTP:             HTTPConfig{Addr: ":8080"},
	}
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	if c.DiscSides == 0 {
		c.DiscSides = vision.DefaultDiscSides
	}
	if c.Worker.QueueSize == 0 {
		c.Worker.QueueSize = worker.DefaultQueueSize
	}
	c.Worker.Addr = strings.TrimSpace(c.Worker.Addr)
	c.Mirror.Endpoint = strings.TrimSpace(c.Mirror.Endpoint)
	c.Mirror.Bucket = strings.TrimSpace(c.Mirror.Bucket)
	if c.Mirror.AccessKeyID == "" {
		c.Mirror.AccessKeyID = os.Getenv("SIGHTLINE_MIRROR_ACCESS_KEY")
	}
	if c.Mirror.SecretAccessKey == "" {
		c.Mirror.SecretAccessKey = os.Getenv("SIGHTLINE_MIRROR_SECRET_KEY")
	}
	if c.Mirror.Workers == 0 {
		c.Mirror.Workers = 2
	}
	c.Store.Path = strings.TrimSpace(c.Store.Path)
	c.HTTP.Addr = strings.TrimSpace(c.HTTP.Addr)
}

func (c Config) Validate() error {
	c.Normalize()
	if c.DiscSides < 3 {
		return fmt.Errorf("disc_sides must be >= 3")
	}
	if c.DefaultTolerance < 0 {
		return fmt.Errorf("default_tolerance must be >= 0")
	}
	if c.Worker.QueueSize < 0 {
		return fmt.Errorf("worker.queue_size must be > 0")
	}
	if c.Worker.Addr != "" && !strings.HasPrefix(c.Worker.Addr, "ws://") && !strings.HasPrefix(c.Worker.Addr, "wss://") {
		return fmt.Errorf("worker.addr must be a ws:// or wss:// url: %s", c.Worker.Addr)
	}
	if c.Snapshots.IntervalSec < 0 {
		return fmt.Errorf("snapshots.interval_sec must be >= 0")
	}
	if c.Mirror.Enabled() {
		if c.Mirror.Bucket == "" {
			return fmt.Errorf("mirror.bucket must not be empty when mirror.endpoint is set")
		}
		if c.Snapshots.Dir == "" {
			return fmt.Errorf("mirror needs snapshots.dir")
		}
	}
	if !c.Store.Disable && c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty unless store.disable is set")
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr must not be empty")
	}
	return nil
}

// SetOptions are the vision.Set options implied by the config.
func (c Config) SetOptions() []vision.Option {
	return []vision.Option{vision.WithDiscSides(c.DiscSides)}
}
