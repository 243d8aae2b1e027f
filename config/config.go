// Package config loads the YAML pipeline definition run by cmd/taskqueue.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is a complete pipeline definition.
type Config struct {
	// Workers is the thread pool size.
	Workers int           `yaml:"workers"`
	Queue   QueueConfig   `yaml:"queue"`
	Metrics MetricsConfig `yaml:"metrics"`
	Events  EventsConfig  `yaml:"events"`
	Tasks   []TaskConfig  `yaml:"tasks"`
}

// QueueConfig configures the top-level queue.
type QueueConfig struct {
	Name            string `yaml:"name"`
	HistoryCapacity int    `yaml:"history_capacity"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr serves /metrics when non-empty (e.g. ":9090").
	Addr         string        `yaml:"addr"`
	Namespace    string        `yaml:"namespace"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// EventsConfig configures lifecycle event publishing to NATS.
type EventsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// TaskConfig describes one task. A task with Group entries becomes a group
// running them; otherwise it sleeps for Sleep and then fails with Fail if set.
type TaskConfig struct {
	Name      string        `yaml:"name"`
	Sleep     time.Duration `yaml:"sleep"`
	Fail      string        `yaml:"fail"`
	DependsOn []string      `yaml:"depends_on"`

	// Exclusive lists mutual-exclusion categories.
	Exclusive []string `yaml:"exclusive"`

	// Timeout cancels the task if it runs longer.
	Timeout time.Duration `yaml:"timeout"`

	// WaitForFile delays the task until the path exists, giving up after
	// WaitTimeout (zero waits indefinitely).
	WaitForFile string        `yaml:"wait_for_file"`
	WaitTimeout time.Duration `yaml:"wait_timeout"`

	// Unless inverts WaitForFile: the task runs only if the path is absent.
	Unless string `yaml:"unless_file"`

	// NoCancelledDependencies fails the task if a dependency was cancelled.
	NoCancelledDependencies bool `yaml:"no_cancelled_dependencies"`

	Group []TaskConfig `yaml:"group"`
}

// DefaultConfig returns a Config with defaults for every optional field.
func DefaultConfig() *Config {
	return &Config{
		Workers: 4,
		Queue: QueueConfig{
			Name:            "pipeline",
			HistoryCapacity: 100,
		},
		Metrics: MetricsConfig{
			Namespace:    "taskqueue",
			PollInterval: 5 * time.Second,
		},
		Events: EventsConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "taskqueue.events",
		},
	}
}

// Validate checks the structure: unique names per level, known dependencies
// and no dependency cycles.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.Queue.Name == "" {
		return errors.New("queue.name is required")
	}
	if c.Metrics.PollInterval <= 0 {
		return errors.New("metrics.poll_interval must be positive")
	}
	if c.Events.Enabled && c.Events.URL == "" {
		return errors.New("events.url is required when events are enabled")
	}
	if len(c.Tasks) == 0 {
		return errors.New("at least one task is required")
	}
	return validateTasks("tasks", c.Tasks)
}

func validateTasks(path string, tasks []TaskConfig) error {
	index := make(map[string]int, len(tasks))
	for i, t := range tasks {
		if t.Name == "" {
			return fmt.Errorf("%s[%d]: name is required", path, i)
		}
		if _, dup := index[t.Name]; dup {
			return fmt.Errorf("%s[%d]: duplicate task name %q", path, i, t.Name)
		}
		index[t.Name] = i
		if t.Sleep < 0 || t.Timeout < 0 || t.WaitTimeout < 0 {
			return fmt.Errorf("%s.%s: durations must not be negative", path, t.Name)
		}
		if len(t.Group) > 0 {
			if err := validateTasks(path+"."+t.Name+".group", t.Group); err != nil {
				return err
			}
		}
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if _, ok := index[dep]; !ok {
				return fmt.Errorf("%s.%s: unknown dependency %q", path, t.Name, dep)
			}
			if dep == t.Name {
				return fmt.Errorf("%s.%s: task depends on itself", path, t.Name)
			}
		}
	}
	return detectCycle(path, tasks, index)
}

func detectCycle(path string, tasks []TaskConfig, index map[string]int) error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, len(tasks))
	var visit func(i int) error
	visit = func(i int) error {
		switch state[i] {
		case visiting:
			return fmt.Errorf("%s: dependency cycle through %q", path, tasks[i].Name)
		case done:
			return nil
		}
		state[i] = visiting
		for _, dep := range tasks[i].DependsOn {
			if err := visit(index[dep]); err != nil {
				return err
			}
		}
		state[i] = done
		return nil
	}
	for i := range tasks {
		if err := visit(i); err != nil {
			return err
		}
	}
	return nil
}

// Parse decodes YAML over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// LoadFromFile reads and parses a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}
