// Package config loads the nested configuration tree for the job and
// workflow orchestration core from a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/nrhinela/zoltag-sub001/pkg/errors"
	"github.com/nrhinela/zoltag-sub001/pkg/logger/conf"
)

// Config is the root configuration tree, loaded once at process
// startup and shared read-only across components.
type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	HTTP        HTTPConfig        `yaml:"http"`
	Logging     conf.LogConfig    `yaml:"logging"`
	Worker      WorkerConfig      `yaml:"worker"`
	Dispatcher  DispatcherConfig  `yaml:"dispatcher"`
	Janitor     JanitorConfig     `yaml:"janitor"`
	Trigger     TriggerConfig     `yaml:"trigger"`
	Workflow    WorkflowConfig    `yaml:"workflow"`
	Reconciler  ReconcilerConfig  `yaml:"reconciler"`
	Catalog     CatalogConfig     `yaml:"catalog"`
}

// DatabaseConfig names the primary (read/write) and optional replica
// (read-only) Postgres DSNs. When ReplicaDSN is empty, reads are
// served from the primary — gorm.io/plugin/dbresolver is only
// registered when a replica is configured.
type DatabaseConfig struct {
	PrimaryDSN string `yaml:"primaryDSN"`
	ReplicaDSN string `yaml:"replicaDSN"`
	MaxOpen    int    `yaml:"maxOpenConns"`
	MaxIdle    int    `yaml:"maxIdleConns"`
}

type HTTPConfig struct {
	Port int `yaml:"port"`
}

// WorkerConfig tunes the Worker Runtime (spec §4.5).
type WorkerConfig struct {
	WorkerID           string        `yaml:"workerID"`
	Hostname           string        `yaml:"hostname"`
	Version            string        `yaml:"version"`
	AcceptedDefinitions []string     `yaml:"acceptedDefinitions"`
	Concurrency        int           `yaml:"concurrency"`
	PollInterval       time.Duration `yaml:"pollInterval"`
	PollJitter         time.Duration `yaml:"pollJitter"`
	ShutdownGrace      time.Duration `yaml:"shutdownGrace"`
	StdoutTailBytes    int           `yaml:"stdoutTailBytes"`
	// HeartbeatInterval controls how often the Runtime re-upserts its
	// own job_workers row while running, so LastSeenAt keeps advancing
	// past startup (spec §4.7 step 3 relies on a fresh LastSeenAt to
	// tell a live worker from a stale one).
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
}

// DispatcherConfig tunes claim behavior (spec §4.4).
type DispatcherConfig struct {
	DefaultLeaseCap time.Duration `yaml:"defaultLeaseCap"`
	LeaseOverhead   time.Duration `yaml:"leaseOverhead"`
	BackoffBase     time.Duration `yaml:"backoffBase"`
	BackoffCap      time.Duration `yaml:"backoffCap"`
}

// JanitorConfig tunes the Lease Janitor (spec §4.7).
type JanitorConfig struct {
	Interval      time.Duration `yaml:"interval"`
	StaleThreshold time.Duration `yaml:"staleThreshold"`
}

// TriggerConfig tunes the Trigger Engine (spec §4.10).
type TriggerConfig struct {
	ScheduleInterval time.Duration `yaml:"scheduleInterval"`
}

// WorkflowConfig supplies workflow-wide defaults used when a
// WorkflowRun does not override them.
type WorkflowConfig struct {
	DefaultMaxParallelSteps int `yaml:"defaultMaxParallelSteps"`
}

// ReconcilerConfig tunes the Reconciler (spec §4.9).
type ReconcilerConfig struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batchSize"`
}

// CatalogConfig tunes the Catalog's in-process cache (spec §4.1).
type CatalogConfig struct {
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// Default returns the configuration used when no file is supplied,
// matching the numeric defaults named throughout spec.md.
func Default() *Config {
	return &Config{
		HTTP:    HTTPConfig{Port: 8080},
		Logging: *conf.DefaultConfig(),
		Worker: WorkerConfig{
			Concurrency:       4,
			PollInterval:      time.Second,
			PollJitter:        250 * time.Millisecond,
			ShutdownGrace:     30 * time.Second,
			StdoutTailBytes:   16 * 1024,
			HeartbeatInterval: 20 * time.Second,
		},
		Dispatcher: DispatcherConfig{
			DefaultLeaseCap: 15 * time.Minute,
			LeaseOverhead:   30 * time.Second,
			BackoffBase:     10 * time.Second,
			BackoffCap:      10 * time.Minute,
		},
		Janitor: JanitorConfig{
			Interval:       30 * time.Second,
			StaleThreshold: 90 * time.Second,
		},
		Trigger: TriggerConfig{
			ScheduleInterval: 15 * time.Second,
		},
		Workflow: WorkflowConfig{
			DefaultMaxParallelSteps: 2,
		},
		Reconciler: ReconcilerConfig{
			Interval:  60 * time.Second,
			BatchSize: 50,
		},
		Catalog: CatalogConfig{
			CacheTTL: 60 * time.Second,
		},
	}
}

// Load reads and parses the YAML file at path, filling any unset
// fields with the corresponding default via a merge-over-defaults
// decode. An empty path falls back to CONFIG_PATH, then "config.yaml".
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "config.yaml"
	}

	cfg := Default()
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, errors.NewError().
			WithCode(errors.CodeInitializeError).
			WithMessage(fmt.Sprintf("failed to open config file %q", path)).
			WithError(err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(cfg); err != nil {
		return nil, errors.NewError().
			WithCode(errors.CodeInitializeError).
			WithMessage("failed to parse config file").
			WithError(err)
	}
	return cfg, nil
}
