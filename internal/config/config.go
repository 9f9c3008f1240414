package config

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"regrun/internal/scheduler"
)

const (
	defaultAddr           = ":5000"
	defaultMaxUploadBytes = 4 << 20
	defaultTemplateDir    = "./template"
	defaultWorkRoot       = "."
	defaultLogFile        = "xrun.log"
	defaultSubmitCommand  = "bsub make"
	defaultListCommand    = "bjobs -a"
	defaultBuildFile      = "Makefile"
	defaultDockerImage    = "alpine:latest"
)

// Config holds all regrun configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Tail      TailConfig      `yaml:"tail"`
	Store     StoreConfig     `yaml:"store"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Addr           string `yaml:"addr"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
	// PollInterval > 0 starts a background reconciliation loop in the server.
	PollInterval time.Duration `yaml:"poll_interval"`
}

type WorkspaceConfig struct {
	TemplateDir string `yaml:"template_dir"`
	WorkRoot    string `yaml:"work_root"`
	ScratchRoot string `yaml:"scratch_root"`
	LogFile     string `yaml:"log_file"` // relative to the case directory
}

type SchedulerConfig struct {
	Backend       string        `yaml:"backend"` // lsf, docker
	SubmitCommand string        `yaml:"submit_command"`
	ListCommand   string        `yaml:"list_command"`
	BuildFile     string        `yaml:"build_file"`
	SubmitTimeout time.Duration `yaml:"submit_timeout"`
	ListTimeout   time.Duration `yaml:"list_timeout"`
	Match         string        `yaml:"match"` // substring, token
	Parallelism   int           `yaml:"parallelism"`
	Docker        DockerConfig  `yaml:"docker"`
}

type DockerConfig struct {
	Image   string   `yaml:"image"`
	Command []string `yaml:"command"`
}

type TailConfig struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
}

type StoreConfig struct {
	Backend       string        `yaml:"backend"` // memory, etcd
	EtcdEndpoints []string      `yaml:"etcd_endpoints"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, console
	File   string `yaml:"file"`
}

// Default returns a configuration that works against a local LSF installation.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:           defaultAddr,
			MaxUploadBytes: defaultMaxUploadBytes,
		},
		Workspace: WorkspaceConfig{
			TemplateDir: defaultTemplateDir,
			WorkRoot:    defaultWorkRoot,
			ScratchRoot: defaultScratchRoot(),
			LogFile:     defaultLogFile,
		},
		Scheduler: SchedulerConfig{
			Backend:       "lsf",
			SubmitCommand: defaultSubmitCommand,
			ListCommand:   defaultListCommand,
			BuildFile:     defaultBuildFile,
			SubmitTimeout: 10 * time.Second,
			ListTimeout:   10 * time.Second,
			Match:         string(scheduler.MatchSubstring),
			Parallelism:   8,
			Docker: DockerConfig{
				Image:   defaultDockerImage,
				Command: []string{"make"},
			},
		},
		Tail: TailConfig{
			Attempts: 3,
			Delay:    500 * time.Millisecond,
		},
		Store: StoreConfig{
			Backend:       "memory",
			EtcdEndpoints: []string{"localhost:2379"},
			DialTimeout:   5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "json",
			File:   "regression.log",
		},
	}
}

func defaultScratchRoot() string {
	name := "regrun"
	if u, err := user.Current(); err == nil && u.Username != "" {
		name = u.Username
	}
	return filepath.Join(os.TempDir(), "regrun-scratch", name)
}

// Load reads the YAML file at path (optional) over the defaults, then applies
// REGRUN_* environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	stringEnv("REGRUN_ADDR", &cfg.Server.Addr)
	stringEnv("REGRUN_TEMPLATE_DIR", &cfg.Workspace.TemplateDir)
	stringEnv("REGRUN_WORK_ROOT", &cfg.Workspace.WorkRoot)
	stringEnv("REGRUN_SCRATCH_ROOT", &cfg.Workspace.ScratchRoot)
	stringEnv("REGRUN_LOG_FILE", &cfg.Workspace.LogFile)
	stringEnv("REGRUN_SCHEDULER", &cfg.Scheduler.Backend)
	stringEnv("REGRUN_SUBMIT_COMMAND", &cfg.Scheduler.SubmitCommand)
	stringEnv("REGRUN_LIST_COMMAND", &cfg.Scheduler.ListCommand)
	stringEnv("REGRUN_MATCH_MODE", &cfg.Scheduler.Match)
	stringEnv("REGRUN_DOCKER_IMAGE", &cfg.Scheduler.Docker.Image)
	stringEnv("REGRUN_STORE", &cfg.Store.Backend)
	stringEnv("REGRUN_LOG_LEVEL", &cfg.Logging.Level)
	stringEnv("REGRUN_LOG_FORMAT", &cfg.Logging.Format)
	stringEnv("REGRUN_LOG", &cfg.Logging.File)

	if endpoints := splitCSV(os.Getenv("REGRUN_ETCD_ENDPOINTS")); len(endpoints) > 0 {
		cfg.Store.EtcdEndpoints = endpoints
	}

	if err := intEnv("REGRUN_PARALLELISM", &cfg.Scheduler.Parallelism); err != nil {
		return err
	}
	if err := durationEnv("REGRUN_SUBMIT_TIMEOUT", &cfg.Scheduler.SubmitTimeout); err != nil {
		return err
	}
	if err := durationEnv("REGRUN_POLL_INTERVAL", &cfg.Server.PollInterval); err != nil {
		return err
	}
	return nil
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, errors.New("server.addr must not be empty"))
	}
	if c.Server.MaxUploadBytes < 1 {
		errs = append(errs, errors.New("server.max_upload_bytes must be >= 1"))
	}
	if c.Server.PollInterval < 0 {
		errs = append(errs, errors.New("server.poll_interval must not be negative"))
	}
	if c.Workspace.LogFile == "" || filepath.IsAbs(c.Workspace.LogFile) {
		errs = append(errs, errors.New("workspace.log_file must be a relative path"))
	}
	switch c.Scheduler.Backend {
	case "lsf", "docker":
	default:
		errs = append(errs, fmt.Errorf("scheduler.backend %q must be lsf or docker", c.Scheduler.Backend))
	}
	if _, err := scheduler.ParseMatchMode(c.Scheduler.Match); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.match: %w", err))
	}
	if c.Scheduler.SubmitTimeout <= 0 || c.Scheduler.ListTimeout <= 0 {
		errs = append(errs, errors.New("scheduler timeouts must be > 0"))
	}
	if c.Scheduler.Parallelism < 1 {
		errs = append(errs, errors.New("scheduler.parallelism must be >= 1"))
	}
	if c.Tail.Attempts < 1 {
		errs = append(errs, errors.New("tail.attempts must be >= 1"))
	}
	switch c.Store.Backend {
	case "memory":
	case "etcd":
		if len(c.Store.EtcdEndpoints) == 0 {
			errs = append(errs, errors.New("store.etcd_endpoints required for etcd backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q must be memory or etcd", c.Store.Backend))
	}
	return errors.Join(errs...)
}

func stringEnv(key string, target *string) {
	if raw := strings.TrimSpace(os.Getenv(key)); raw != "" {
		*target = raw
	}
}

func intEnv(key string, target *int) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("%s must be an integer: %w", key, err)
	}
	*target = value
	return nil
}

func durationEnv(key string, target *time.Duration) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%s must be a duration: %w", key, err)
	}
	*target = value
	return nil
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		value := strings.TrimSpace(part)
		if value == "" {
			continue
		}
		result = append(result, value)
	}
	return result
}
