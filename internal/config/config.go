package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/shinji-kodama/webdeploy/internal/install"
	"github.com/shinji-kodama/webdeploy/internal/model"
)

// EnvPrefix is prepended to every environment override, e.g.
// WEBDEPLOY_REPO_DIR or WEBDEPLOY_READINESS_TIMEOUT.
const EnvPrefix = "WEBDEPLOY"

// Proxy controller modes.
const (
	ProxyModeCommand = "command"
	ProxyModeDocker  = "docker"
)

// Config holds all webdeploy configuration.
type Config struct {
	Repo      RepoConfig         `mapstructure:"repo" yaml:"repo" json:"repo"`
	Site      install.Site       `mapstructure:"site" yaml:"site" json:"site"`
	Assets    AssetsConfig       `mapstructure:"assets" yaml:"assets" json:"assets"`
	Services  []model.ServiceDef `mapstructure:"services" yaml:"services" json:"services"`
	Readiness ReadinessConfig    `mapstructure:"readiness" yaml:"readiness" json:"readiness"`
	Reaper    ReaperConfig       `mapstructure:"reaper" yaml:"reaper" json:"reaper"`
	Proxy     ProxyConfig        `mapstructure:"proxy" yaml:"proxy" json:"proxy"`
	Log       LogConfig          `mapstructure:"log" yaml:"log" json:"log"`
	Metrics   MetricsConfig      `mapstructure:"metrics" yaml:"metrics" json:"metrics"`

	// Skip lists stages to leave out of a run, e.g. ["source", "assets"].
	Skip []string `mapstructure:"skip" yaml:"skip" json:"skip"`

	// File is the configuration file that was read, empty when running on
	// defaults alone.
	File string `mapstructure:"-" yaml:"-" json:"file,omitempty"`
}

// RepoConfig locates the repository checkout that Source Sync updates.
type RepoConfig struct {
	Dir    string `mapstructure:"dir" yaml:"dir" json:"dir"`
	Branch string `mapstructure:"branch" yaml:"branch" json:"branch"`
	Remote string `mapstructure:"remote" yaml:"remote" json:"remote"`
}

// AssetsConfig describes the static asset mirror.
type AssetsConfig struct {
	// Source is the built front-end directory. Relative paths are resolved
	// against the repository directory.
	Source string `mapstructure:"source" yaml:"source" json:"source"`

	// Dest is the web root served by the proxy.
	Dest string `mapstructure:"dest" yaml:"dest" json:"dest"`
}

// ReadinessConfig tunes the Readiness Poller.
type ReadinessConfig struct {
	Host     string        `mapstructure:"host" yaml:"host" json:"host"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval" json:"interval"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`

	// BlockReloadOnTimeout makes a readiness timeout abort the run before
	// the proxy is reloaded. Off by default: a service that is slow to come
	// up still gets its proxy route refreshed.
	BlockReloadOnTimeout bool `mapstructure:"block_reload_on_timeout" yaml:"block_reload_on_timeout" json:"block_reload_on_timeout"`
}

// ReaperConfig tunes the Port Reaper's post-kill re-check.
type ReaperConfig struct {
	Settle   time.Duration `mapstructure:"settle" yaml:"settle" json:"settle"`
	Rechecks int           `mapstructure:"rechecks" yaml:"rechecks" json:"rechecks"`
}

// ProxyConfig selects and configures the proxy controller.
type ProxyConfig struct {
	// Mode is "command" (host binaries) or "docker" (nginx in a container).
	Mode string `mapstructure:"mode" yaml:"mode" json:"mode"`

	// ValidateCommand and ReloadCommand are argv slices used in command mode.
	// ValidateCommand is also exec'd inside the container in docker mode.
	ValidateCommand []string `mapstructure:"validate_command" yaml:"validate_command" json:"validate_command"`
	ReloadCommand   []string `mapstructure:"reload_command" yaml:"reload_command" json:"reload_command"`

	// Container is the proxy container name or ID in docker mode.
	Container string `mapstructure:"container" yaml:"container" json:"container"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" json:"level"`
	Format string `mapstructure:"format" yaml:"format" json:"format"`
}

// MetricsConfig controls the Prometheus textfile export.
type MetricsConfig struct {
	// Textfile is the .prom file written after each run for the node
	// exporter's textfile collector. Empty disables the export.
	Textfile string `mapstructure:"textfile" yaml:"textfile" json:"textfile"`
}

// DefaultServices returns the stock service definitions.
func DefaultServices() []model.ServiceDef {
	return []model.ServiceDef{
		{
			Name:    "test",
			Command: []string{"python3", "server.py"},
			Dir:     "test-backend",
			Port:    5000,
		},
		{
			Name:    "primary",
			Command: []string{"./target/release/rust-backend"},
			Dir:     "rust-backend",
			Port:    6000,
			LogFile: "/var/log/webdeploy/primary.log",
		},
		{
			Name:    "inference",
			Command: []string{"python3", "-m", "uvicorn", "app:app", "--host", "0.0.0.0", "--port", "8000"},
			Dir:     "inference",
			Port:    8000,
		},
	}
}

// setDefaults registers every key with viper. Registering a key is also what
// makes AutomaticEnv consider it, so every field needs an entry here.
func setDefaults(v *viper.Viper) {
	v.SetDefault("repo.dir", "/srv/webapp")
	v.SetDefault("repo.branch", "")
	v.SetDefault("repo.remote", "origin")

	v.SetDefault("site.source", "nginx/webapp.conf")
	v.SetDefault("site.name", "")
	v.SetDefault("site.available_dir", "/etc/nginx/sites-available")
	v.SetDefault("site.enabled_dir", "/etc/nginx/sites-enabled")

	v.SetDefault("assets.source", "frontend/dist")
	v.SetDefault("assets.dest", "/var/www/webapp")

	services := make([]map[string]any, 0, 3)
	for _, s := range DefaultServices() {
		m := map[string]any{
			"name":    s.Name,
			"command": s.Command,
			"dir":     s.Dir,
			"port":    s.Port,
		}
		if s.LogFile != "" {
			m["log_file"] = s.LogFile
		}
		services = append(services, m)
	}
	v.SetDefault("services", services)

	v.SetDefault("readiness.host", "localhost")
	v.SetDefault("readiness.interval", "1s")
	v.SetDefault("readiness.timeout", "60s")
	v.SetDefault("readiness.block_reload_on_timeout", false)

	v.SetDefault("reaper.settle", "200ms")
	v.SetDefault("reaper.rechecks", 5)

	v.SetDefault("proxy.mode", ProxyModeCommand)
	v.SetDefault("proxy.validate_command", []string{"nginx", "-t"})
	v.SetDefault("proxy.reload_command", []string{"systemctl", "reload", "nginx"})
	v.SetDefault("proxy.container", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("metrics.textfile", "")

	v.SetDefault("skip", []string{})
}

// Load reads configuration from path (when non-empty) or from the default
// search locations, applies environment overrides, resolves relative paths
// against the repository directory, and validates the result.
//
// An explicitly named file that does not exist is an error. When no path is
// given, a missing webdeploy.yaml in the working directory or
// /etc/webdeploy is fine and the defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if err := readFile(v, path); err != nil {
		return nil, model.WrapCLIError(model.ExitGeneralError, "failed to load configuration", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, model.WrapCLIError(model.ExitGeneralError, "failed to unmarshal configuration", err)
	}
	cfg.File = v.ConfigFileUsed()
	if err := restoreEnvCase(&cfg, cfg.File); err != nil {
		return nil, model.WrapCLIError(model.ExitGeneralError, "failed to load configuration", err)
	}

	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, model.WrapCLIError(model.ExitGeneralError, "invalid configuration", err)
	}
	return &cfg, nil
}

// readFile loads the config file into v.
func readFile(v *viper.Viper, path string) error {
	if path == "" {
		v.SetConfigName("webdeploy")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/webdeploy")
		err := v.ReadInConfig()
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}

	if strings.EqualFold(filepath.Ext(path), ".jsonc") {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		v.SetConfigType("json")
		if err := v.ReadConfig(bytes.NewReader(jsonc.ToJSON(data))); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		// ReadConfig does not record a file name; keep it for the report.
		v.SetConfigFile(path)
		return nil
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

// rawServices is the services list of a config file decoded without viper,
// which folds every map key to lower case.
type rawServices struct {
	Services []struct {
		Env map[string]any `yaml:"env" json:"env"`
	} `yaml:"services" json:"services"`
}

// restoreEnvCase re-reads the service env maps from path so variable names
// such as RUST_LOG reach the launcher with their case intact.
func restoreEnvCase(cfg *Config, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	var raw rawServices
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		err = json.Unmarshal(jsonc.ToJSON(data), &raw)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("parse services in %s: %w", path, err)
	}

	// An env override replaced the list; there is nothing to match up.
	if len(raw.Services) != len(cfg.Services) {
		return nil
	}
	for i, svc := range raw.Services {
		if len(svc.Env) == 0 {
			continue
		}
		env := make(map[string]string, len(svc.Env))
		for k, val := range svc.Env {
			env[k] = fmt.Sprint(val)
		}
		cfg.Services[i].Env = env
	}
	return nil
}

// Resolve turns repository-relative paths into absolute ones and fills in
// per-service timeouts from the readiness default.
func (c *Config) Resolve() {
	c.Site.Source = c.inRepo(c.Site.Source)
	c.Assets.Source = c.inRepo(c.Assets.Source)
	for i := range c.Services {
		c.Services[i].Dir = c.inRepo(c.Services[i].Dir)
		if c.Services[i].Timeout == 0 {
			c.Services[i].Timeout = c.Readiness.Timeout
		}
	}
}

func (c *Config) inRepo(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Repo.Dir, p)
}

// Validate checks values that would otherwise fail half-way through a run.
func (c *Config) Validate() error {
	if c.Repo.Dir == "" {
		return errors.New("repo.dir must be set")
	}
	if len(c.Services) == 0 {
		return errors.New("at least one service must be defined")
	}
	if err := model.ValidateServices(c.Services); err != nil {
		return err
	}
	if c.Readiness.Interval <= 0 {
		return fmt.Errorf("readiness.interval must be positive, got %s", c.Readiness.Interval)
	}
	if c.Readiness.Timeout < 0 {
		return fmt.Errorf("readiness.timeout must not be negative, got %s", c.Readiness.Timeout)
	}

	switch c.Proxy.Mode {
	case ProxyModeCommand:
	case ProxyModeDocker:
		if c.Proxy.Container == "" {
			return errors.New("proxy.container is required in docker mode")
		}
	default:
		return fmt.Errorf("invalid proxy.mode: %q (valid: command, docker)", c.Proxy.Mode)
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log.format: %q (valid: text, json)", c.Log.Format)
	}

	_, err := c.SkipStages()
	return err
}

// SkipStages parses Skip into a set.
func (c *Config) SkipStages() (map[model.Stage]bool, error) {
	skip := make(map[model.Stage]bool, len(c.Skip))
	for _, s := range c.Skip {
		if strings.TrimSpace(s) == "" {
			continue
		}
		stage, err := model.ParseStage(s)
		if err != nil {
			return nil, fmt.Errorf("skip: %w", err)
		}
		skip[stage] = true
	}
	return skip, nil
}
