package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

var (
	// ErrUnknownFeed is returned when a feed name is not configured.
	ErrUnknownFeed = errors.New("unknown feed")
	// ErrNoDatabaseFolder is returned when no database folder can be resolved.
	ErrNoDatabaseFolder = errors.New("no database folder configured")
)

type Config struct {
	Feeds     []Feed    `yaml:"feeds"`
	Databases Databases `yaml:"databases"`
	Fetch     Fetch     `yaml:"fetch"`
	Logging   Logging   `yaml:"logging"`
	Mail      Mail      `yaml:"mail"`
	Server    Server    `yaml:"server"`
	Schedule  Schedule  `yaml:"schedule"`
}

// Feed is one configured news feed. Name is the unique key.
type Feed struct {
	Name   string `yaml:"name"`
	URL    string `yaml:"feed"`
	Type   string `yaml:"type"`
	DB     string `yaml:"db"`
	Schema string `yaml:"schema"`
}

type Databases struct {
	Folder string `yaml:"folder"`
}

type Fetch struct {
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
	MinDelay  time.Duration `yaml:"min_delay"`
	MaxDelay  time.Duration `yaml:"max_delay"`
}

type Logging struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

type Mail struct {
	Mailgun Mailgun `yaml:"mailgun"`
}

type Mailgun struct {
	URL       string `yaml:"url"`
	APIKeyEnv string `yaml:"api_key_env"`
	From      string `yaml:"from"`
	To        string `yaml:"to"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Schedule struct {
	Daily []string `yaml:"daily"`
}

// ConfigDir returns the XDG config directory for feedkeeper.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "feedkeeper")
}

// DataDir returns the XDG data directory for feedkeeper.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "feedkeeper")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/feedkeeper/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'feedkeeper init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Fetch: Fetch{
			Timeout:   30 * time.Second,
			UserAgent: "feedkeeper/1.0",
			MinDelay:  3 * time.Second,
			MaxDelay:  8 * time.Second,
		},
		Logging: Logging{Level: "INFO", MaxSizeMB: 1, MaxBackups: 10},
		Mail:    Mail{Mailgun: Mailgun{APIKeyEnv: "MAILGUN_API_KEY"}},
		Server:  Server{Port: 8000},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	seen := make(map[string]struct{}, len(c.Feeds))
	for i := range c.Feeds {
		f := &c.Feeds[i]
		if f.Name == "" {
			return fmt.Errorf("feed #%d: name is required", i+1)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("feed %q: duplicate name", f.Name)
		}
		seen[f.Name] = struct{}{}
		if f.URL == "" {
			return fmt.Errorf("feed %q: feed url is required", f.Name)
		}
		if f.Type == "" {
			f.Type = "rss"
		}
		if f.DB == "" {
			f.DB = f.Name + ".db"
		}
		if f.Schema == "" {
			f.Schema = "core"
		}
	}
	if c.Fetch.MaxDelay < c.Fetch.MinDelay {
		return fmt.Errorf("fetch: max_delay %s is below min_delay %s", c.Fetch.MaxDelay, c.Fetch.MinDelay)
	}
	return nil
}

// Feed returns the feed configured under name.
func (c *Config) Feed(name string) (Feed, error) {
	for _, f := range c.Feeds {
		if f.Name == name {
			return f, nil
		}
	}
	return Feed{}, fmt.Errorf("%w: %s", ErrUnknownFeed, name)
}

// DatabasePath returns the store file of a feed inside the database folder.
func (c *Config) DatabasePath(f Feed) (string, error) {
	if c.Databases.Folder == "" {
		return "", fmt.Errorf("%w (databases.folder in config, or run 'feedkeeper init')", ErrNoDatabaseFolder)
	}
	return filepath.Join(c.Databases.Folder, f.DB), nil
}

// LogFile returns the rotating log file path, defaulting to the config directory.
func (c *Config) LogFile() string {
	if c.Logging.File != "" {
		return c.Logging.File
	}
	return filepath.Join(ConfigDir(), "default.log")
}

// LastRunReport is where the Markdown report of the latest run is kept.
func (c *Config) LastRunReport() string {
	return filepath.Join(ConfigDir(), "last-run.md")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
