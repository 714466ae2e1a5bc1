// Package config loads and validates sweep.yml, the single configuration
// file describing the experiment, the shared store, the coordination
// policies, and the search space.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tunelab/sweep/internal/searchspace"
	"github.com/tunelab/sweep/pkg/trialstore"
)

// Duration is a time.Duration that unmarshals from YAML strings like "5s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the top-level sweep.yml configuration.
type Config struct {
	Version     string                 `yaml:"version"`
	Experiment  ExperimentConfig       `yaml:"experiment"`
	Redis       RedisConfig            `yaml:"redis"`
	Namespace   string                 `yaml:"namespace"`
	Policy      PolicyConfig           `yaml:"policy"`
	Worker      WorkerConfig           `yaml:"worker"`
	Optimizer   string                 `yaml:"optimizer"`
	SearchSpace searchspace.Definition `yaml:"search_space"`
}

// ExperimentConfig identifies the experiment and the trial command.
type ExperimentConfig struct {
	Name    string `yaml:"name"`
	Command string `yaml:"command"`

	// Sources are the experiment's source files; their content digests are
	// recorded on every queued job and checked by claiming workers.
	Sources []string `yaml:"sources,omitempty"`

	// Dependencies map dependency name to version, compared against queued
	// jobs per the dependency_check policy.
	Dependencies map[string]string `yaml:"dependencies,omitempty"`
}

// RedisConfig locates the shared store.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// PolicyConfig holds the coordination policies that were implicit in older
// systems and are explicit here.
type PolicyConfig struct {
	// Direction: "minimize" or "maximize" the optimization target.
	Direction string `yaml:"direction"`

	// DependencyCheck: "newer", "equal" or "ignore".
	DependencyCheck string `yaml:"dependency_check"`

	// OnIncompatible: "requeue" or "leave".
	OnIncompatible string `yaml:"on_incompatible"`
}

// WorkerConfig holds the worker-side timing knobs.
type WorkerConfig struct {
	MaxWait      Duration `yaml:"max_wait"`
	PollInterval Duration `yaml:"poll_interval"`
	TrialTimeout Duration `yaml:"trial_timeout"`
	StoreTimeout Duration `yaml:"store_timeout"`
}

// Load reads, parses, applies defaults to, and validates a sweep.yml file.
// The REDIS_URL environment variable overrides redis.url when set.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if url := os.Getenv("REDIS_URL"); url != "" {
		config.Redis.URL = url
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Redis.URL == "" {
		c.Redis.URL = "localhost:6379"
	}
	if c.Namespace == "" {
		c.Namespace = c.Experiment.Name
	}
	if c.Optimizer == "" {
		c.Optimizer = "random"
	}
	if c.Policy.Direction == "" {
		c.Policy.Direction = "minimize"
	}
	if c.Policy.DependencyCheck == "" {
		c.Policy.DependencyCheck = "newer"
	}
	if c.Policy.OnIncompatible == "" {
		c.Policy.OnIncompatible = "requeue"
	}
	if c.Worker.MaxWait == 0 {
		c.Worker.MaxWait = Duration(10 * time.Minute)
	}
	if c.Worker.PollInterval == 0 {
		c.Worker.PollInterval = Duration(5 * time.Second)
	}
	if c.Worker.TrialTimeout == 0 {
		c.Worker.TrialTimeout = Duration(time.Hour)
	}
	if c.Worker.StoreTimeout == 0 {
		c.Worker.StoreTimeout = Duration(10 * time.Second)
	}
}

// Validate checks the configuration for consistency. Field names in errors
// match sweep.yml keys.
func (c *Config) Validate() error {
	if c.Experiment.Name == "" {
		return fmt.Errorf("experiment.name is required")
	}
	if c.Experiment.Command == "" {
		return fmt.Errorf("experiment.command is required")
	}

	switch c.Policy.Direction {
	case "minimize", "maximize":
	default:
		return fmt.Errorf("policy.direction must be minimize or maximize, got %q", c.Policy.Direction)
	}
	switch c.Policy.DependencyCheck {
	case "newer", "equal", "ignore":
	default:
		return fmt.Errorf("policy.dependency_check must be newer, equal or ignore, got %q", c.Policy.DependencyCheck)
	}
	switch c.Policy.OnIncompatible {
	case "requeue", "leave":
	default:
		return fmt.Errorf("policy.on_incompatible must be requeue or leave, got %q", c.Policy.OnIncompatible)
	}

	if c.Worker.PollInterval.Std() >= c.Worker.MaxWait.Std() {
		return fmt.Errorf("worker.poll_interval must be below worker.max_wait")
	}

	if len(c.SearchSpace) > 0 {
		if err := c.SearchSpace.Validate(); err != nil {
			return fmt.Errorf("search_space: %w", err)
		}
	}

	return nil
}

// ExperimentInfo builds the experiment identity recorded on jobs: the
// experiment name, a content digest per declared source file, and the
// declared dependency versions in stable order.
func (c *Config) ExperimentInfo() (trialstore.ExperimentInfo, error) {
	info := trialstore.ExperimentInfo{Name: c.Experiment.Name}

	for _, path := range c.Experiment.Sources {
		data, err := os.ReadFile(path)
		if err != nil {
			return trialstore.ExperimentInfo{}, fmt.Errorf("failed to read source %s: %w", path, err)
		}
		sum := sha256.Sum256(data)
		info.Sources = append(info.Sources, trialstore.SourceFile{
			Filename: path,
			Digest:   hex.EncodeToString(sum[:]),
		})
	}

	names := make([]string, 0, len(c.Experiment.Dependencies))
	for name := range c.Experiment.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		info.Dependencies = append(info.Dependencies, trialstore.Dependency{
			Name:    name,
			Version: c.Experiment.Dependencies[name],
		})
	}

	return info, nil
}
