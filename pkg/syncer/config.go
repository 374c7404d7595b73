package syncer

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultGroup       = "github"
	defaultHost        = "gitlab.com"
	defaultWorkDir     = "/tmp/github-mirror"
	defaultCreateDelay = 2 * time.Second
)

// Config is the run configuration. It is read once at startup and is
// immutable for the duration of one run.
type Config struct {
	// Group is the destination GitLab group under which all projects
	// are created
	Group string `yaml:"gitlab_group"`

	// Host of the destination GitLab instance
	Host string `yaml:"gitlab_host"`

	// User is the source GitHub account. If empty, repositories of the
	// authenticated user are mirrored.
	User string `yaml:"github_user"`

	// WorkDir is the absolute path of the root dir holding the local
	// mirror clones. It acts as an incremental cache across runs and is
	// never deleted by the syncer.
	WorkDir string `yaml:"work_dir"`

	// IncludeForks mirrors forked repositories as well
	IncludeForks bool `yaml:"include_forks"`

	// IncludeArchived mirrors archived repositories as well
	IncludeArchived bool `yaml:"include_archived"`

	// DryRun reports what would be done without creating or pushing
	// anything
	DryRun bool `yaml:"dry_run"`

	// CreateDelay is how long to wait between project creation and the
	// first push, to tolerate destination-side eventual consistency
	CreateDelay time.Duration `yaml:"create_delay"`

	// MirrorTimeout represents the total time allowed for one repository
	// mirror cycle
	MirrorTimeout time.Duration `yaml:"mirror_timeout"`

	// GitGC garbage collection string. valid values are
	// 'auto', 'always', 'aggressive' or 'off'
	GitGC string `yaml:"git_gc"`

	// FailOnError exits non-zero when one or more repositories failed,
	// for schedulers that depend on the exit code alone
	FailOnError bool `yaml:"fail_on_error"`

	// GitEnvs are passed to all git commands
	GitEnvs []string `yaml:"-"`
}

// ApplyDefaults fills in unset optional fields.
func (c *Config) ApplyDefaults() {
	if c.Group == "" {
		c.Group = defaultGroup
	}
	if c.Host == "" {
		c.Host = defaultHost
	}
	if c.WorkDir == "" {
		c.WorkDir = defaultWorkDir
	}
	if c.CreateDelay == 0 {
		c.CreateDelay = defaultCreateDelay
	}
	// mirror timeout and git gc defaults are owned by the mirror package
}

func (c *Config) Validate() error {
	if c.Group == "" {
		return fmt.Errorf("gitlab group cannot be empty")
	}
	if c.Host == "" {
		return fmt.Errorf("gitlab host cannot be empty")
	}
	if !filepath.IsAbs(c.WorkDir) {
		return fmt.Errorf("work dir '%s' must be absolute", c.WorkDir)
	}
	return nil
}

// LoadConfigFile reads an optional YAML config file. Flags and env vars
// take precedence over file values, so callers overlay these afterwards.
func LoadConfigFile(path string) (*Config, error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	conf := &Config{}
	if err := yaml.Unmarshal(yamlFile, conf); err != nil {
		return nil, err
	}
	return conf, nil
}
