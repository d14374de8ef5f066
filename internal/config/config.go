// internal/config/config.go
//
// This package handles run configuration and the on-disk layout of a run.
// Every artifact of a run lives next to the workload file and is named after
// it, so a workload path alone identifies a run.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigEnv names the environment variable that points at a config file.
	ConfigEnv = "SLOTFEED_CONFIG"

	// FormatText and FormatJSON are the supported log formats.
	FormatText = "text"
	FormatJSON = "json"

	// SchedulerSlurm is the only scheduler kind shipped today.
	SchedulerSlurm = "slurm"
)

// SlotsConfig shapes the slot pool.
type SlotsConfig struct {
	Max             int `yaml:"max"`
	MaxItemsPerSlot int `yaml:"max_items_per_slot"`
	TasksPerJob     int `yaml:"tasks_per_job"`
}

// LoopConfig controls the control loop cadence.
type LoopConfig struct {
	PollInterval  time.Duration `yaml:"poll_interval"`
	QueryEvery    int           `yaml:"query_every"`
	ReportEvery   int           `yaml:"report_every"`
	StatusTimeout time.Duration `yaml:"status_timeout"`
}

// SlurmConfig describes how jobs are submitted to Slurm.
type SlurmConfig struct {
	Sbatch       string   `yaml:"sbatch"`
	Squeue       string   `yaml:"squeue"`
	Partition    string   `yaml:"partition"`
	Nodes        int      `yaml:"nodes"`
	TasksPerNode int      `yaml:"tasks_per_node"`
	Exclusive    bool     `yaml:"exclusive"`
	TimeLimit    string   `yaml:"time_limit"`
	JobName      string   `yaml:"job_name,omitempty"`
	Worker       string   `yaml:"worker"`
	ExtraArgs    []string `yaml:"extra_args,omitempty"`
}

// SchedulerConfig selects and configures the external scheduler.
type SchedulerConfig struct {
	Kind   string      `yaml:"kind"`
	States []string    `yaml:"states"`
	User   string      `yaml:"user,omitempty"`
	Slurm  SlurmConfig `yaml:"slurm"`
}

// LoggingConfig controls the logger and the run journal.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
	File    string `yaml:"file,omitempty"`
	Journal string `yaml:"journal,omitempty"`
}

// MetricsConfig controls metric export. Both outputs are optional.
type MetricsConfig struct {
	Textfile string `yaml:"textfile,omitempty"`
	Listen   string `yaml:"listen,omitempty"`
}

// RunConfig models the YAML configuration document.
type RunConfig struct {
	Version   int             `yaml:"version"`
	Slots     SlotsConfig     `yaml:"slots"`
	Loop      LoopConfig      `yaml:"loop"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// Config holds the runtime configuration for one run.
type Config struct {
	// Workload is the absolute path of the run's input file.
	Workload string

	// Source is the config file that was loaded, empty when defaults are used.
	Source string

	Run RunConfig
}

// Default returns the built-in configuration.
func Default() RunConfig {
	return RunConfig{
		Version: 1,
		Slots: SlotsConfig{
			Max:             50,
			MaxItemsPerSlot: 6,
			TasksPerJob:     1,
		},
		Loop: LoopConfig{
			PollInterval: 3 * time.Second,
			QueryEvery:   100,
			ReportEvery:  100,
		},
		Scheduler: SchedulerConfig{
			Kind:   SchedulerSlurm,
			States: []string{"RUNNING", "PENDING"},
			Slurm: SlurmConfig{
				Sbatch:       "sbatch",
				Squeue:       "squeue",
				Partition:    "single",
				Nodes:        1,
				TasksPerNode: 1,
				Exclusive:    true,
				TimeLimit:    "3-00:00:00",
				Worker:       "./smallworkqueue_worker.sh",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: FormatText,
		},
	}
}

// Load builds the configuration for a workload. explicit wins over the
// SLOTFEED_CONFIG variable, which wins over <workload>.yaml. With no file the
// defaults are used.
func Load(workload, explicit string) (*Config, error) {
	workload = strings.TrimSpace(workload)
	if workload == "" {
		return nil, fmt.Errorf("config: workload path is required")
	}
	abs, err := filepath.Abs(workload)
	if err != nil {
		return nil, fmt.Errorf("config: resolve %s: %w", workload, err)
	}
	cfg := &Config{Workload: abs, Run: Default()}

	path, required := explicit, explicit != ""
	if path == "" {
		if env := strings.TrimSpace(os.Getenv(ConfigEnv)); env != "" {
			path, required = env, true
		} else {
			path = abs + ".yaml"
		}
	}
	if err := cfg.loadFile(path, required); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	parsed, err := Parse(data)
	if err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	parsed.normalize(filepath.Dir(path))
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	c.Run = parsed
	c.Source = path
	return nil
}

// Parse decodes a YAML document on top of the defaults.
func Parse(data []byte) (RunConfig, error) {
	parsed := Default()
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return RunConfig{}, err
	}
	parsed.applyDefaults()
	return parsed, nil
}

// Marshal renders the configuration as YAML.
func (rc RunConfig) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(rc)
	if err != nil {
		return nil, fmt.Errorf("config: encode config: %w", err)
	}
	return data, nil
}

// Validate reports the first invalid setting.
func (rc RunConfig) Validate() error {
	return rc.validate()
}

func (rc *RunConfig) applyDefaults() {
	def := Default()
	if rc.Version == 0 {
		rc.Version = 1
	}
	if rc.Slots.TasksPerJob == 0 {
		rc.Slots.TasksPerJob = 1
	}
	if rc.Loop.ReportEvery == 0 {
		rc.Loop.ReportEvery = rc.Loop.QueryEvery
	}
	if len(rc.Scheduler.States) == 0 {
		rc.Scheduler.States = def.Scheduler.States
	}
	if rc.Scheduler.Slurm.Sbatch == "" {
		rc.Scheduler.Slurm.Sbatch = def.Scheduler.Slurm.Sbatch
	}
	if rc.Scheduler.Slurm.Squeue == "" {
		rc.Scheduler.Slurm.Squeue = def.Scheduler.Slurm.Squeue
	}
}

func (rc *RunConfig) normalize(base string) {
	rc.Scheduler.Kind = strings.ToLower(strings.TrimSpace(rc.Scheduler.Kind))
	states := rc.Scheduler.States[:0]
	for _, state := range rc.Scheduler.States {
		if s := strings.ToUpper(strings.TrimSpace(state)); s != "" {
			states = append(states, s)
		}
	}
	rc.Scheduler.States = states
	rc.Scheduler.User = strings.TrimSpace(rc.Scheduler.User)
	rc.Logging.Level = strings.ToLower(strings.TrimSpace(rc.Logging.Level))
	rc.Logging.Format = strings.ToLower(strings.TrimSpace(rc.Logging.Format))
	rc.Logging.File = resolvePath(base, rc.Logging.File)
	rc.Logging.Journal = resolvePath(base, rc.Logging.Journal)
	rc.Metrics.Textfile = resolvePath(base, rc.Metrics.Textfile)
	rc.Metrics.Listen = strings.TrimSpace(rc.Metrics.Listen)
}

func (rc RunConfig) validate() error {
	if rc.Version != 1 {
		return fmt.Errorf("unsupported config version %d", rc.Version)
	}
	if rc.Slots.Max < 1 {
		return fmt.Errorf("slots.max must be >= 1")
	}
	if rc.Slots.MaxItemsPerSlot < 1 {
		return fmt.Errorf("slots.max_items_per_slot must be >= 1")
	}
	if rc.Slots.TasksPerJob < 1 {
		return fmt.Errorf("slots.tasks_per_job must be >= 1")
	}
	if rc.Loop.PollInterval <= 0 {
		return fmt.Errorf("loop.poll_interval must be positive")
	}
	if rc.Loop.QueryEvery < 1 {
		return fmt.Errorf("loop.query_every must be >= 1")
	}
	if rc.Loop.ReportEvery < 1 {
		return fmt.Errorf("loop.report_every must be >= 1")
	}
	if rc.Loop.StatusTimeout < 0 {
		return fmt.Errorf("loop.status_timeout must not be negative")
	}
	if rc.Scheduler.Kind != SchedulerSlurm {
		return fmt.Errorf("scheduler.kind must be %q", SchedulerSlurm)
	}
	if len(rc.Scheduler.States) == 0 {
		return fmt.Errorf("scheduler.states must list at least one state")
	}
	if err := rc.Scheduler.Slurm.validate(rc.Slots.TasksPerJob); err != nil {
		return fmt.Errorf("scheduler.slurm: %w", err)
	}
	switch rc.Logging.Format {
	case FormatText, FormatJSON:
	default:
		return fmt.Errorf("logging.format must be %q or %q", FormatText, FormatJSON)
	}
	if _, err := logrus.ParseLevel(rc.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

func (sc SlurmConfig) validate(tasksPerJob int) error {
	if strings.TrimSpace(sc.Worker) == "" {
		return fmt.Errorf("worker is required")
	}
	if strings.TrimSpace(sc.Partition) == "" {
		return fmt.Errorf("partition is required")
	}
	if strings.TrimSpace(sc.TimeLimit) == "" {
		return fmt.Errorf("time_limit is required")
	}
	if sc.Nodes < 1 || sc.TasksPerNode < 1 {
		return fmt.Errorf("nodes and tasks_per_node must be >= 1")
	}
	if tasksPerJob > 1 && sc.Nodes*sc.TasksPerNode != tasksPerJob {
		return fmt.Errorf("nodes * tasks_per_node (%d) must equal slots.tasks_per_job (%d)", sc.Nodes*sc.TasksPerNode, tasksPerJob)
	}
	return nil
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

// Paths returns the artifact layout for this run.
func (c *Config) Paths() Paths {
	journal := c.Run.Logging.Journal
	if journal == "" {
		journal = c.Workload + ".journal"
	}
	return Paths{
		Workload:    c.Workload,
		TasksPerJob: c.Run.Slots.TasksPerJob,
		journal:     journal,
	}
}
