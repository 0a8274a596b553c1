package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultConfigPath = "./andromirror.yaml"

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	AndroModem AndroModemConfig `yaml:"andromodem"`
	Mirroring  MirroringConfig  `yaml:"mirroring"`
	Events     EventsConfig     `yaml:"events"`
	Database   DatabaseConfig   `yaml:"database"`
	Recording  RecordingConfig  `yaml:"recording"`
	Log        LogConfig        `yaml:"log"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"`
}

type AndroModemConfig struct {
	BaseURL string `yaml:"base_url"`
}

type MirroringConfig struct {
	PingInterval  time.Duration `yaml:"ping_interval"`
	CooldownTicks int           `yaml:"cooldown_ticks"`
	CooldownTick  time.Duration `yaml:"cooldown_tick"`
}

type EventsConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RecordingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type LogConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}

// Flags holds runtime overrides from CLI flags
type Flags struct {
	ConfigPath string
	Listen     string
	BaseURL    string
	LogLevel   string
	Record     bool
}

func Default() *Config {
	return &Config{
		Server:     ServerConfig{Listen: ":8080"},
		AndroModem: AndroModemConfig{BaseURL: "http://localhost:49153"},
		Mirroring: MirroringConfig{
			PingInterval:  5 * time.Second,
			CooldownTicks: 5,
			CooldownTick:  time.Second,
		},
		Events: EventsConfig{
			MaxRetries:    5,
			RetryInterval: 5 * time.Second,
		},
		Database:  DatabaseConfig{Path: DatabasePath},
		Recording: RecordingConfig{Dir: "recordings"},
		Log:       LogConfig{Dir: "log", Level: "info"},
	}
}

// ParseFlags parses CLI flags from args (usually os.Args[1:])
func ParseFlags(args []string) (Flags, error) {
	var f Flags
	fs := flag.NewFlagSet("andromirror", flag.ContinueOnError)
	fs.StringVar(&f.ConfigPath, "config", DefaultConfigPath, "config file path")
	fs.StringVar(&f.Listen, "listen", "", "override local listen address")
	fs.StringVar(&f.BaseURL, "server", "", "override AndroModem base URL")
	fs.StringVar(&f.LogLevel, "log-level", "", "log level: debug|info|warn|error")
	fs.BoolVar(&f.Record, "record", false, "record mirrored video to disk")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	return f, nil
}

// Load reads the YAML file at path, then applies environment and flag
// overrides. A missing file at the default path is not an error.
func Load(f Flags) (*Config, error) {
	cfg := Default()

	path := f.ConfigPath
	if path == "" {
		path = DefaultConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && path == DefaultConfigPath:
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg.AndroModem.BaseURL = getEnv("ANDROMODEM_BASE_URL", cfg.AndroModem.BaseURL)
	cfg.Server.Listen = getEnv("ANDROMIRROR_LISTEN", cfg.Server.Listen)

	if f.Listen != "" {
		cfg.Server.Listen = f.Listen
	}
	if f.BaseURL != "" {
		cfg.AndroModem.BaseURL = f.BaseURL
	}
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.Record {
		cfg.Recording.Enabled = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.AndroModem.BaseURL == "" {
		return errors.New("andromodem.base_url is required")
	}
	if c.Server.Listen == "" {
		return errors.New("server.listen is required")
	}
	if c.Recording.Enabled && c.Recording.Dir == "" {
		return errors.New("recording.dir is required when recording is enabled")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
