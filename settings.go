package gravity

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults applied when the configuration file leaves settings unset
const (
	// DefaultInstanceName is the instance name used when none is configured
	DefaultInstanceName = "_default_"
	// DefaultBind is the default gunicorn bind address
	DefaultBind = "localhost:8080"
	// DefaultURLPrefix is the default URL path prefix
	DefaultURLPrefix = "/"
	// DefaultAppName prefixes generated artifact and unit names
	DefaultAppName = "galaxy"
	// DefaultStartupTimeoutSeconds bounds readiness verification per service
	DefaultStartupTimeoutSeconds = 30
)

// ProxyReadyMarker is the literal line gx-it-proxy logs once it is
// serving and watching its session map.
const ProxyReadyMarker = "Watching path"

// GunicornSettings configures the web service
type GunicornSettings struct {
	// Bind is the host:port gunicorn listens on
	Bind string `yaml:"bind"`
	// Workers is the gunicorn worker count
	Workers int `yaml:"workers"`
	// TimeoutSeconds is the gunicorn request timeout
	TimeoutSeconds int `yaml:"timeout"`
	// StartTimeoutSeconds bounds the readiness probe after start
	StartTimeoutSeconds int `yaml:"start_timeout"`
}

// CelerySettings configures the background worker and scheduler services
type CelerySettings struct {
	// Enable controls whether the worker service is declared
	Enable *bool `yaml:"enable"`
	// EnableBeat controls whether the scheduler service is declared
	EnableBeat *bool `yaml:"enable_beat"`
	// Concurrency is the worker process count
	Concurrency int `yaml:"concurrency"`
	// Loglevel is the celery log level
	Loglevel string `yaml:"loglevel"`
}

// GxItProxySettings configures the auxiliary interactive tools proxy
type GxItProxySettings struct {
	// Enable controls whether the proxy service is declared
	Enable bool `yaml:"enable"`
	// Port is the proxy listen port
	Port int `yaml:"port"`
	// Sessions is the path to the session map database
	Sessions string `yaml:"sessions"`
	// Verbose enables verbose proxy logging
	Verbose bool `yaml:"verbose"`
	// StartTimeoutSeconds bounds the log-marker readiness check
	StartTimeoutSeconds int `yaml:"start_timeout"`
}

// ReportsSettings configures the optional reports web service
type ReportsSettings struct {
	// Enable controls whether the reports service is declared
	Enable bool `yaml:"enable"`
	// Bind is the host:port the reports server listens on
	Bind string `yaml:"bind"`
	// StartTimeoutSeconds bounds the readiness probe after start
	StartTimeoutSeconds int `yaml:"start_timeout"`
}

// TusdSettings configures the optional resumable upload service
type TusdSettings struct {
	// Enable controls whether the upload service is declared
	Enable bool `yaml:"enable"`
	// Port is the tusd listen port
	Port int `yaml:"port"`
	// UploadDir is the directory uploads are written to
	UploadDir string `yaml:"upload_dir"`
}

// GravitySettings is the `gravity:` section of the configuration file
type GravitySettings struct {
	// ProcessManager selects the backend (supervisor or systemd)
	ProcessManager string `yaml:"process_manager"`
	// InstanceName distinguishes instances sharing a host
	InstanceName string `yaml:"instance_name"`
	// StateDir holds generated artifacts, logs and runtime state
	StateDir string `yaml:"state_dir"`
	// Virtualenv is the application virtualenv activated for all services
	Virtualenv string `yaml:"virtualenv"`

	Gunicorn  GunicornSettings  `yaml:"gunicorn"`
	Celery    CelerySettings    `yaml:"celery"`
	GxItProxy GxItProxySettings `yaml:"gx_it_proxy"`
	Reports   ReportsSettings   `yaml:"reports"`
	Tusd      TusdSettings      `yaml:"tusd"`
}

// GalaxySettings is the subset of the application's own section the
// lifecycle layer needs.
type GalaxySettings struct {
	// URLPrefix is the URL path prefix the web service is served under
	URLPrefix string `yaml:"galaxy_url_prefix"`
}

type configFile struct {
	Gravity GravitySettings `yaml:"gravity"`
	Galaxy  GalaxySettings  `yaml:"galaxy"`
}

// Config is a loaded, defaulted instance configuration
type Config struct {
	// Path is the configuration file this instance was loaded from
	Path string
	// ConfigType identifies the application the file configures
	ConfigType string

	Gravity GravitySettings
	Galaxy  GalaxySettings
}

// LoadConfig reads and validates the instance configuration file and
// applies defaults. Missing files and YAML problems are ConfigErrors.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Field: path, Err: err}
	}

	var cf configFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, &ConfigError{Field: path, Err: err}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &ConfigError{Field: path, Err: err}
	}

	cfg := &Config{
		Path:       abs,
		ConfigType: DefaultAppName,
		Gravity:    cf.Gravity,
		Galaxy:     cf.Galaxy,
	}
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	g := &c.Gravity
	if g.ProcessManager == "" {
		g.ProcessManager = ManagerSupervisorStr
	}
	if g.InstanceName == "" {
		g.InstanceName = DefaultInstanceName
	}
	if g.StateDir == "" {
		g.StateDir = filepath.Join(filepath.Dir(c.Path), "gravity")
	}
	if g.Gunicorn.Bind == "" {
		g.Gunicorn.Bind = DefaultBind
	}
	if g.Gunicorn.Workers == 0 {
		g.Gunicorn.Workers = 1
	}
	if g.Gunicorn.TimeoutSeconds == 0 {
		g.Gunicorn.TimeoutSeconds = 300
	}
	if g.Gunicorn.StartTimeoutSeconds == 0 {
		g.Gunicorn.StartTimeoutSeconds = DefaultStartupTimeoutSeconds
	}
	if g.Celery.Enable == nil {
		g.Celery.Enable = boolPtr(true)
	}
	if g.Celery.EnableBeat == nil {
		g.Celery.EnableBeat = boolPtr(true)
	}
	if g.Celery.Concurrency == 0 {
		g.Celery.Concurrency = 2
	}
	if g.Celery.Loglevel == "" {
		g.Celery.Loglevel = "DEBUG"
	}
	if g.GxItProxy.Port == 0 {
		g.GxItProxy.Port = 4002
	}
	if g.GxItProxy.Sessions == "" {
		g.GxItProxy.Sessions = "database/interactivetools_map.sqlite"
	}
	if g.GxItProxy.StartTimeoutSeconds == 0 {
		g.GxItProxy.StartTimeoutSeconds = DefaultStartupTimeoutSeconds
	}
	if g.Reports.Bind == "" {
		g.Reports.Bind = "localhost:9001"
	}
	if g.Reports.StartTimeoutSeconds == 0 {
		g.Reports.StartTimeoutSeconds = DefaultStartupTimeoutSeconds
	}
	if g.Tusd.Port == 0 {
		g.Tusd.Port = 1080
	}
	if g.Tusd.UploadDir == "" {
		g.Tusd.UploadDir = filepath.Join(g.StateDir, "tus_upload")
	}
	if c.Galaxy.URLPrefix == "" {
		c.Galaxy.URLPrefix = DefaultURLPrefix
	}
}

func (c *Config) validate() error {
	switch c.Gravity.ProcessManager {
	case ManagerSupervisorStr, ManagerSystemdStr:
	default:
		return &ConfigError{
			Field: "process_manager",
			Err:   fmt.Errorf("%w: %q", ErrUnknownProcessManager, c.Gravity.ProcessManager),
		}
	}
	if !strings.HasPrefix(c.Galaxy.URLPrefix, "/") {
		return &ConfigError{Field: "galaxy_url_prefix", Err: fmt.Errorf("must start with /")}
	}
	return nil
}

// StateDir returns the instance's state directory
func (c *Config) StateDir() string {
	return c.Gravity.StateDir
}

// ManagerKind returns the configured backend kind
func (c *Config) ManagerKind() ManagerKind {
	if c.Gravity.ProcessManager == ManagerSystemdStr {
		return ManagerSystemd
	}
	return ManagerSupervisor
}

// probeURL builds the readiness probe URL for a bind address and path,
// honoring the configured URL prefix.
func probeURL(bind, prefix, path string) string {
	_, port, found := strings.Cut(bind, ":")
	if !found {
		port = bind
	}
	return "http://localhost:" + port + strings.TrimRight(prefix, "/") + path
}

// Registry derives the ordered service set from the configuration.
// Changing a service's command or the URL prefix changes the registry and
// therefore the generated artifacts; a restart alone does not pick the
// change up until update regenerates them.
func (c *Config) Registry() (*Registry, error) {
	g := c.Gravity
	env := map[string]string{}
	if g.Virtualenv != "" {
		env["VIRTUAL_ENV"] = g.Virtualenv
		env["PATH"] = filepath.Join(g.Virtualenv, "bin") + ":" + os.Getenv("PATH")
	}

	webCmd := []string{
		"gunicorn", "galaxy.webapps.galaxy.fast_factory:factory()",
		"--timeout", fmt.Sprintf("%d", g.Gunicorn.TimeoutSeconds),
		"--pythonpath", "lib",
		"-k", "galaxy.webapps.galaxy.workers.Worker",
		"-b", g.Gunicorn.Bind,
		"--workers", fmt.Sprintf("%d", g.Gunicorn.Workers),
	}
	if prefix := strings.TrimRight(c.Galaxy.URLPrefix, "/"); prefix != "" {
		webCmd = append(webCmd, "--env", "SCRIPT_NAME="+prefix)
	}

	services := []Service{
		{
			Name:        "gunicorn",
			Kind:        KindWeb,
			Command:     webCmd,
			Environment: env,
			Readiness: ReadinessSpec{
				Kind:           ReadinessHTTP,
				URL:            probeURL(g.Gunicorn.Bind, c.Galaxy.URLPrefix, "/api/version"),
				TimeoutSeconds: g.Gunicorn.StartTimeoutSeconds,
			},
		},
	}

	if *g.Celery.Enable {
		services = append(services, Service{
			Name: "celery",
			Kind: KindWorker,
			Command: []string{
				"celery", "--app", "galaxy.celery", "worker",
				"--concurrency", fmt.Sprintf("%d", g.Celery.Concurrency),
				"--loglevel", g.Celery.Loglevel,
			},
			Environment: env,
		})
	}

	if *g.Celery.EnableBeat {
		services = append(services, Service{
			Name: "celery-beat",
			Kind: KindScheduler,
			Command: []string{
				"celery", "--app", "galaxy.celery", "beat",
				"--loglevel", g.Celery.Loglevel,
				"--schedule", filepath.Join(g.StateDir, CeleryBeatDBFilename),
			},
			Environment: env,
		})
	}

	if g.GxItProxy.Enable {
		cmd := []string{
			"npx", "gx-it-proxy",
			"--ip", "localhost",
			"--port", fmt.Sprintf("%d", g.GxItProxy.Port),
			"--sessions", g.GxItProxy.Sessions,
		}
		if g.GxItProxy.Verbose {
			cmd = append(cmd, "--verbose")
		}
		services = append(services, Service{
			Name:        "gx-it-proxy",
			Kind:        KindProxy,
			Command:     cmd,
			Environment: env,
			Readiness: ReadinessSpec{
				Kind:           ReadinessLogMarker,
				Marker:         ProxyReadyMarker,
				TimeoutSeconds: g.GxItProxy.StartTimeoutSeconds,
			},
		})
	}

	if g.Reports.Enable {
		services = append(services, Service{
			Name: "reports",
			Kind: KindReport,
			Command: []string{
				"gunicorn", "galaxy.webapps.reports.fast_factory:factory()",
				"--timeout", fmt.Sprintf("%d", g.Gunicorn.TimeoutSeconds),
				"--pythonpath", "lib",
				"-k", "uvicorn.workers.UvicornWorker",
				"-b", g.Reports.Bind,
			},
			Environment: env,
			Readiness: ReadinessSpec{
				Kind:           ReadinessHTTP,
				URL:            probeURL(g.Reports.Bind, "/", "/"),
				TimeoutSeconds: g.Reports.StartTimeoutSeconds,
			},
		})
	}

	if g.Tusd.Enable {
		services = append(services, Service{
			Name: "tusd",
			Kind: KindUpload,
			Command: []string{
				"tusd",
				"-host", "localhost",
				"-port", fmt.Sprintf("%d", g.Tusd.Port),
				"-upload-dir", g.Tusd.UploadDir,
			},
			Environment: env,
		})
	}

	return NewRegistry(services)
}

// Resolved returns the configuration with all defaults applied, as a YAML
// document suitable for operator inspection. It has no side effects.
func (c *Config) Resolved() (string, error) {
	doc := struct {
		ConfigType string          `yaml:"config_type"`
		ConfigFile string          `yaml:"config_file"`
		Gravity    GravitySettings `yaml:"gravity"`
		Galaxy     GalaxySettings  `yaml:"galaxy"`
	}{
		ConfigType: c.ConfigType,
		ConfigFile: c.Path,
		Gravity:    c.Gravity,
		Galaxy:     c.Galaxy,
	}
	out, err := yaml.Marshal(&doc)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func boolPtr(b bool) *bool { return &b }
