// Package config loads runmgr configuration.
//
// Configuration is read from a single file named by the --config flag or the
// RUNMGR_CONFIG environment variable. Files ending in .toml are decoded with
// go-toml; anything else is treated as YAML. Defaults are applied first, the
// file second, and a fixed set of RUNMGR_* environment variables last.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// EnvConfig names the variable consulted when no explicit path is given.
const EnvConfig = "RUNMGR_CONFIG"

// Config is the complete runmgr configuration.
type Config struct {
	Storage      StorageConfig      `yaml:"storage" toml:"storage"`
	Paths        PathsConfig        `yaml:"paths" toml:"paths"`
	Scheduler    SchedulerConfig    `yaml:"scheduler" toml:"scheduler"`
	SampleSheets SampleSheetsConfig `yaml:"sample_sheets" toml:"sample_sheets"`
	BaseSpace    BaseSpaceConfig    `yaml:"basespace" toml:"basespace"`
	Mail         MailConfig         `yaml:"mail" toml:"mail"`
	Pipeline     PipelineConfig     `yaml:"pipeline" toml:"pipeline"`
	Metrics      MetricsConfig      `yaml:"metrics" toml:"metrics"`
	Log          LogConfig          `yaml:"log" toml:"log"`
}

// StorageConfig selects the operation store backend.
type StorageConfig struct {
	// Driver is memory, sqlite or postgres.
	Driver      string `yaml:"driver" toml:"driver"`
	SQLitePath  string `yaml:"sqlite_path" toml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn" toml:"postgres_dsn"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is exposed to the other paths as ${RUNMGR_ROOT}.
	Root string `yaml:"root" toml:"root"`
	// Bin holds the job templates handed to the scheduler.
	Bin string `yaml:"bin" toml:"bin"`
	// RunDirectory receives downloaded runs, one subdirectory per run.
	RunDirectory string `yaml:"run_directory" toml:"run_directory"`
	// ProjectsDirectory receives demultiplexed projects.
	ProjectsDirectory string `yaml:"projects_directory" toml:"projects_directory"`
	// LockFile guards against concurrent cycles.
	LockFile string `yaml:"lock_file" toml:"lock_file"`
}

// SchedulerConfig describes the batch submission command.
type SchedulerConfig struct {
	Command          string   `yaml:"command" toml:"command"`
	Args             []string `yaml:"args" toml:"args"`
	DownloadTemplate string   `yaml:"download_template" toml:"download_template"`
	DemuxTemplate    string   `yaml:"demux_template" toml:"demux_template"`
	UploadTemplate   string   `yaml:"upload_template" toml:"upload_template"`
	RedemuxTemplate  string   `yaml:"redemux_template" toml:"redemux_template"`
}

// SampleSheetsConfig locates the sample sheet source.
type SampleSheetsConfig struct {
	// Driver is fs, s3 or memory.
	Driver string `yaml:"driver" toml:"driver"`
	// Root is the sheet directory for the fs driver.
	Root string `yaml:"root" toml:"root"`
	// Prefix restricts lookups to keys under it.
	Prefix string   `yaml:"prefix" toml:"prefix"`
	S3     S3Config `yaml:"s3" toml:"s3"`
}

// S3Config configures the bucket used by the s3 driver. Credentials come
// from the standard AWS environment and shared config files.
type S3Config struct {
	Bucket    string `yaml:"bucket" toml:"bucket"`
	Region    string `yaml:"region" toml:"region"`
	Endpoint  string `yaml:"endpoint" toml:"endpoint"`
	PathStyle bool   `yaml:"path_style" toml:"path_style"`
}

// BaseSpaceConfig configures the bs command line client.
type BaseSpaceConfig struct {
	Binary      string `yaml:"binary" toml:"binary"`
	APIServer   string `yaml:"api_server" toml:"api_server"`
	AccessToken string `yaml:"access_token" toml:"access_token"`
	// ConfigName selects a named bs configuration (bs --config).
	ConfigName string `yaml:"config_name" toml:"config_name"`
}

// MailConfig configures the per-cycle digest. An empty Server disables mail.
type MailConfig struct {
	Server     string   `yaml:"server" toml:"server"`
	Sender     string   `yaml:"sender" toml:"sender"`
	Recipients []string `yaml:"recipients" toml:"recipients"`
	Subject    string   `yaml:"subject" toml:"subject"`
}

// PipelineConfig tunes the orchestrator.
type PipelineConfig struct {
	// StageTimeout fails Ongoing stages older than this. Zero disables it.
	StageTimeout Duration `yaml:"stage_timeout" toml:"stage_timeout"`
}

// MetricsConfig configures the metrics exports.
type MetricsConfig struct {
	// Textfile is written after every cycle when set.
	Textfile string `yaml:"textfile" toml:"textfile"`
	// Snapshot receives the JSON operation and transition counters after
	// every cycle when set. The same counters are published through expvar.
	Snapshot string `yaml:"snapshot" toml:"snapshot"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
	// Trace, when set, is a file that every service operation is appended
	// to as one JSON line.
	Trace string `yaml:"trace" toml:"trace"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{Driver: "sqlite", SQLitePath: "runmgr.db"},
		Paths: PathsConfig{
			Bin:               "bin",
			RunDirectory:      "runs",
			ProjectsDirectory: "projects",
			LockFile:          "runmgr.lock",
		},
		Scheduler: SchedulerConfig{
			Command:          "submit",
			Args:             []string{"-p", "NGS"},
			DownloadTemplate: "download_run.qsub",
			DemuxTemplate:    "pardemux.qsub",
			UploadTemplate:   "upload-project.qsub",
			RedemuxTemplate:  "reDemux.qsub",
		},
		SampleSheets: SampleSheetsConfig{Driver: "fs", Root: "samplesheets"},
		BaseSpace: BaseSpaceConfig{
			Binary:    "bs",
			APIServer: "https://api.basespace.illumina.com/",
		},
		Mail:     MailConfig{Subject: "Updates from ICBR Illumina Run Manager"},
		Pipeline: PipelineConfig{StageTimeout: Duration(96 * time.Hour)},
		Log:      LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads the file at path, or the file named by RUNMGR_CONFIG when path
// is empty. With neither set the defaults are used.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	cfg.applyEnvironment()
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return toml.Unmarshal(data, c)
	default:
		return yaml.Unmarshal(data, c)
	}
}

// applyEnvironment applies the supported RUNMGR_* overrides.
func (c *Config) applyEnvironment() {
	overrides := []struct {
		name string
		dst  *string
	}{
		{"RUNMGR_STORAGE_DRIVER", &c.Storage.Driver},
		{"RUNMGR_SQLITE_PATH", &c.Storage.SQLitePath},
		{"RUNMGR_POSTGRES_DSN", &c.Storage.PostgresDSN},
		{"RUNMGR_SAMPLESHEET_DRIVER", &c.SampleSheets.Driver},
		{"RUNMGR_BS_ACCESS_TOKEN", &c.BaseSpace.AccessToken},
		{"RUNMGR_LOG_LEVEL", &c.Log.Level},
	}
	for _, o := range overrides {
		if v := strings.TrimSpace(os.Getenv(o.name)); v != "" {
			*o.dst = v
		}
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["RUNMGR_ROOT"] = c.Paths.Root

	for _, p := range []*string{
		&c.Paths.Bin,
		&c.Paths.RunDirectory,
		&c.Paths.ProjectsDirectory,
		&c.Paths.LockFile,
		&c.Storage.SQLitePath,
		&c.SampleSheets.Root,
		&c.Metrics.Textfile,
		&c.Metrics.Snapshot,
		&c.Log.Trace,
	} {
		*p = expandVars(*p, vars)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, fallback := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return fallback
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case "memory", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be one of memory, sqlite, postgres: %q", c.Storage.Driver))
	}
	switch c.SampleSheets.Driver {
	case "fs", "memory":
	case "s3":
		if c.SampleSheets.S3.Bucket == "" {
			errs = append(errs, errors.New("sample_sheets.s3.bucket is required for the s3 driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("sample_sheets.driver must be one of fs, s3, memory: %q", c.SampleSheets.Driver))
	}
	if c.Scheduler.Command == "" {
		errs = append(errs, errors.New("scheduler.command is required"))
	}
	if c.Paths.RunDirectory == "" || c.Paths.ProjectsDirectory == "" {
		errs = append(errs, errors.New("paths.run_directory and paths.projects_directory are required"))
	}
	if c.Mail.Server != "" && (c.Mail.Sender == "" || len(c.Mail.Recipients) == 0) {
		errs = append(errs, errors.New("mail.sender and mail.recipients are required when mail.server is set"))
	}
	if c.Pipeline.StageTimeout < 0 {
		errs = append(errs, errors.New("pipeline.stage_timeout must not be negative"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text: %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// Duration is a time.Duration written as a Go duration string ("96h").
type Duration time.Duration

// UnmarshalText parses a duration string; TOML uses it.
func (d *Duration) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "0" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText renders the duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalYAML parses a duration scalar.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }
