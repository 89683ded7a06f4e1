package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/berth-dev/berth/internal/errors"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "berth.json"

	// DefaultPort is the default server port.
	DefaultPort = 8000

	// DefaultHost is the default bind address (all local interfaces).
	DefaultHost = "0.0.0.0"

	// DefaultLogRetentionDays is how long orphaned log files are kept
	// before cleanup prunes them.
	DefaultLogRetentionDays = 7

	// StateDirEnv overrides the state directory when set.
	StateDirEnv = "BERTH_STATE_DIR"
)

// Config represents the complete berth.json configuration.
type Config struct {
	// Port is the default port for new instances.
	Port int `json:"port,omitempty"`

	// Host is the default bind address for new instances.
	Host string `json:"host,omitempty"`

	// StateDir holds the registry and log directories.
	// Default: ~/.berth, overridable via BERTH_STATE_DIR.
	StateDir string `json:"stateDir,omitempty"`

	// Server contains settings for the spawned server process.
	Server ServerConfig `json:"server,omitempty"`

	// Serve contains settings for the built-in file server.
	Serve ServeConfig `json:"serve,omitempty"`

	// Logs contains log housekeeping settings.
	Logs LogsConfig `json:"logs,omitempty"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// ServerConfig controls what process berth spawns for an instance.
type ServerConfig struct {
	// Command overrides the server command line. Empty means "run
	// this binary's own serve subcommand". The placeholders {{dir}},
	// {{host}} and {{port}} are substituted before execution, e.g.
	//
	//	"python3 -m http.server {{port}} --directory {{dir}} --bind {{host}}"
	Command string `json:"command,omitempty"`
}

// ServeConfig contains built-in file server settings.
type ServeConfig struct {
	// Listing enables directory listings for directories without an
	// index.html.
	Listing *bool `json:"listing,omitempty"`

	// Tracing enables the OpenTelemetry tracing middleware.
	Tracing bool `json:"tracing,omitempty"`
}

// LogsConfig contains log housekeeping settings.
type LogsConfig struct {
	// RetentionDays is how many days cleanup keeps log files whose
	// instance is gone. 0 means the default.
	RetentionDays int `json:"retentionDays,omitempty"`
}

// New creates a new Config with default values.
func New() *Config {
	cfg := &Config{
		Port:     DefaultPort,
		Host:     DefaultHost,
		StateDir: defaultStateDir(),
		Logs: LogsConfig{
			RetentionDays: DefaultLogRetentionDays,
		},
	}
	listing := true
	cfg.Serve.Listing = &listing
	return cfg
}

// Load reads configuration from the specified directory.
// It looks for berth.json in the directory.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, ConfigFileName))
}

// LoadFile reads configuration from the specified file path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.CodeConfigError).
				WithDetail("No berth.json found in " + filepath.Dir(path)).
				WithSuggestion("berth works without one; create berth.json only to override defaults")
		}
		return nil, errors.New(errors.CodeConfigError).Wrap(err)
	}

	cfg := New()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.New(errors.CodeConfigError).
			WithDetail("Failed to parse berth.json: " + err.Error()).
			WithSuggestion("Check that berth.json is valid JSON")
	}

	cfg.configPath = path
	cfg.applyDefaults()

	return cfg, nil
}

// LoadFromWorkingDir loads configuration by searching upward from the
// current working directory. A missing config file is not an error;
// defaults are returned instead.
func LoadFromWorkingDir() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	root, ok := findProjectRoot(wd)
	if !ok {
		cfg := New()
		cfg.applyDefaults()
		return cfg, nil
	}

	return Load(root)
}

// Save writes the configuration to the file it was loaded from.
func (c *Config) Save() error {
	if c.configPath == "" {
		return errors.Newf(errors.CategoryConfig, "no config path set")
	}
	return c.SaveTo(c.configPath)
}

// SaveTo writes the configuration to the specified path.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.New(errors.CodeConfigError).Wrap(err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.New(errors.CodeConfigError).Wrap(err)
	}

	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// applyDefaults fills in default values for empty fields. The
// BERTH_STATE_DIR environment variable wins over both the file and
// the built-in default.
func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if env := os.Getenv(StateDirEnv); env != "" {
		c.StateDir = env
	}
	if c.StateDir == "" {
		c.StateDir = defaultStateDir()
	}
	if c.Logs.RetentionDays == 0 {
		c.Logs.RetentionDays = DefaultLogRetentionDays
	}
	if c.Serve.Listing == nil {
		listing := true
		c.Serve.Listing = &listing
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return errors.New(errors.CodeConfigInvalid).
			WithDetail("Port must be between 1 and 65535")
	}
	if c.Logs.RetentionDays < 0 {
		return errors.New(errors.CodeConfigInvalid).
			WithDetail("logs.retentionDays must not be negative")
	}
	return nil
}

// RegistryDir returns the directory holding per-port instance records.
func (c *Config) RegistryDir() string {
	return filepath.Join(c.StateDir, "registry")
}

// LogDir returns the directory holding background instance logs.
func (c *Config) LogDir() string {
	return filepath.Join(c.StateDir, "logs")
}

// ListingEnabled reports whether directory listings are on.
func (c *Config) ListingEnabled() bool {
	return c.Serve.Listing == nil || *c.Serve.Listing
}

// URL returns the browsable URL for an instance on the given port.
// A wildcard bind address is rewritten to localhost.
func (c *Config) URL(port int) string {
	host := c.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + host + ":" + strconv.Itoa(port) + "/"
}

// defaultStateDir returns ~/.berth, falling back to a relative
// directory when the home directory cannot be determined.
func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".berth"
	}
	return filepath.Join(home, ".berth")
}

// findProjectRoot walks up directories looking for berth.json.
func findProjectRoot(startDir string) (string, bool) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, ConfigFileName)); err == nil {
			return dir, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}
