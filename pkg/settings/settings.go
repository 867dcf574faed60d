// Package settings loads the daemon configuration file.
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/newtron-network/newtorch/pkg/util"
)

// DefaultPath is where the daemon looks for its configuration.
const DefaultPath = "/etc/newtorch/newtorch.yaml"

// Settings is the daemon configuration.
type Settings struct {
	Redis      Redis      `yaml:"redis"`
	SSH        *SSH       `yaml:"ssh,omitempty"`
	Switch     Switch     `yaml:"switch"`
	Driver     Driver     `yaml:"driver"`
	Boundary   Boundary   `yaml:"boundary"`
	References References `yaml:"references"`
	Mux        Mux        `yaml:"mux"`
	Metrics    Metrics    `yaml:"metrics"`
	Log        Log        `yaml:"log"`
	Domains    Domains    `yaml:"domains"`
	Record     Record     `yaml:"record"`
}

// Redis locates the switch databases.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
}

// SSH tunnels the Redis connection for switches that only expose it on
// loopback.
type SSH struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port,omitempty"`
	User     string `yaml:"user"`
	Password string `yaml:"password,omitempty"`
	KeyFile  string `yaml:"key_file,omitempty"`
}

// Switch holds identity programmed at bootstrap.
type Switch struct {
	MAC string `yaml:"mac"`
}

// Driver tunes scheduling and retries.
type Driver struct {
	Workers       int           `yaml:"workers"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	BackoffBase   time.Duration `yaml:"backoff_base"`
	BackoffMax    time.Duration `yaml:"backoff_max"`
	MaxAttempts   int           `yaml:"max_attempts"`
}

// Boundary tunes the hardware abstraction boundary.
type Boundary struct {
	Timeout time.Duration `yaml:"timeout"`
	// Limits caps live objects per SAI object type.
	Limits map[string]int `yaml:"limits,omitempty"`
}

// References selects how reference table violations are handled.
type References struct {
	// Strict panics on a violation instead of logging it.
	Strict bool `yaml:"strict"`
}

// Mux names the decap tunnel shared with the peer switch.
type Mux struct {
	Tunnel string `yaml:"tunnel"`
}

// Metrics configures the Prometheus endpoint. An empty Listen disables it.
type Metrics struct {
	Listen string `yaml:"listen"`
}

// Log configures logging.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Domains selects the orchestrators to run; an empty Enabled runs all.
type Domains struct {
	Enabled  []string `yaml:"enabled,omitempty"`
	Disabled []string `yaml:"disabled,omitempty"`
}

// Record configures the boundary operation trail. An empty Path disables it.
type Record struct {
	Path       string `yaml:"path,omitempty"`
	MaxSize    int64  `yaml:"max_size,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
}

// Default returns the settings used when no file exists.
func Default() *Settings {
	return &Settings{
		Redis:  Redis{Addr: "127.0.0.1:6379"},
		Switch: Switch{MAC: "00:00:00:00:00:00"},
		Driver: Driver{
			Workers:       4,
			RetryInterval: time.Second,
			BackoffBase:   100 * time.Millisecond,
			BackoffMax:    10 * time.Second,
			MaxAttempts:   5,
		},
		Boundary: Boundary{Timeout: 5 * time.Second},
		Mux:      Mux{Tunnel: "MuxTunnel0"},
		Metrics:  Metrics{Listen: ":9101"},
		Log:      Log{Level: "info", Format: "text"},
		Record:   Record{MaxSize: 10 << 20, MaxBackups: 3},
	}
}

// Load reads settings from the default location.
func Load() (*Settings, error) {
	return LoadFrom(DefaultPath)
}

// LoadFrom reads settings from path on top of the defaults. A missing file
// yields the defaults.
func LoadFrom(path string) (*Settings, error) {
	s := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Validate checks the settings for values the daemon cannot run with.
func (s *Settings) Validate() error {
	v := &util.ValidationBuilder{}
	v.Add(s.Redis.Addr != "", "redis.addr is required")
	v.Add(s.Driver.Workers >= 0, "driver.workers must not be negative")
	v.Add(s.Driver.MaxAttempts >= 0, "driver.max_attempts must not be negative")
	v.Add(s.Driver.BackoffMax == 0 || s.Driver.BackoffBase <= s.Driver.BackoffMax,
		"driver.backoff_base exceeds driver.backoff_max")
	v.Add(s.Log.Format == "" || s.Log.Format == "text" || s.Log.Format == "json",
		"log.format must be text or json")
	if s.SSH != nil {
		v.Add(s.SSH.Host != "" && s.SSH.User != "", "ssh needs host and user")
	}
	for t, n := range s.Boundary.Limits {
		v.Add(n > 0, fmt.Sprintf("boundary.limits.%s must be positive", t))
	}
	return v.Build()
}

// Save writes settings to the default location.
func (s *Settings) Save() error {
	return s.SaveTo(DefaultPath)
}

// SaveTo writes settings to a specific path.
func (s *Settings) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// DomainEnabled reports whether the named orchestrator should run.
func (s *Settings) DomainEnabled(name string) bool {
	for _, d := range s.Domains.Disabled {
		if d == name {
			return false
		}
	}
	if len(s.Domains.Enabled) == 0 {
		return true
	}
	for _, d := range s.Domains.Enabled {
		if d == name {
			return true
		}
	}
	return false
}
