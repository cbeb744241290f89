package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	DefaultConfigFile = "pinger.toml"
	DefaultProbeLog   = "pinger.txt"
)

// Config represents the pinger configuration
type Config struct {
	ListenAddr       string `toml:"listen_addr"`         // Local UDP address, e.g. ":0" for an ephemeral port
	LogFile          string `toml:"log_file"`            // Probe log path, defaults to pinger.txt next to the executable
	PollIntervalMs   int    `toml:"poll_interval_ms"`    // Clock poll interval of the sender in milliseconds
	DrainIntervalMs  int    `toml:"drain_interval_ms"`   // Fallback wake-up of the log writer in milliseconds
	SendRetries      int    `toml:"send_retries"`        // Extra attempts per probe after a failed send, 0 = fire and forget
	SendRetryDelayMs int    `toml:"send_retry_delay_ms"` // Pause between send attempts in milliseconds
	MaxWriteFailures int    `toml:"max_write_failures"`  // Consecutive probe log write failures before giving up
	LogLevel         string `toml:"log_level"`           // Log level: debug, info, warn, error
	AppLogDir        string `toml:"app_log_dir"`         // Directory of the rotating application log
}

// LoadConfig loads configuration from the specified TOML file.
// A missing file is only an error when mustExist is set; otherwise defaults are used.
func LoadConfig(configPath string, mustExist bool) (*Config, error) {
	var cfg Config
	if configPath == "" {
		configPath = filepath.Join(ExecutableDir(), DefaultConfigFile)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if mustExist {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
	} else if _, err := toml.DecodeFile(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file %s: %w", configPath, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills every unset field
func (c *Config) ApplyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":0"
	}
	if c.LogFile == "" {
		c.LogFile = filepath.Join(ExecutableDir(), DefaultProbeLog)
	}
	if c.PollIntervalMs == 0 {
		c.PollIntervalMs = 50
	}
	if c.DrainIntervalMs == 0 {
		c.DrainIntervalMs = 50
	}
	if c.SendRetryDelayMs == 0 {
		c.SendRetryDelayMs = 100
	}
	if c.MaxWriteFailures == 0 {
		c.MaxWriteFailures = 5
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.AppLogDir == "" {
		c.AppLogDir = filepath.Join(ExecutableDir(), "logs")
	}
}

func (c *Config) Validate() error {
	if c.PollIntervalMs < 0 || c.DrainIntervalMs < 0 || c.SendRetryDelayMs < 0 {
		return fmt.Errorf("intervals must not be negative")
	}
	if c.PollIntervalMs >= 1000 {
		return fmt.Errorf("poll_interval_ms must be below 1000, got %d", c.PollIntervalMs)
	}
	if c.SendRetries < 0 {
		return fmt.Errorf("send_retries must not be negative, got %d", c.SendRetries)
	}
	if c.MaxWriteFailures < 0 {
		return fmt.Errorf("max_write_failures must not be negative, got %d", c.MaxWriteFailures)
	}
	return nil
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func (c *Config) DrainInterval() time.Duration {
	return time.Duration(c.DrainIntervalMs) * time.Millisecond
}

func (c *Config) SendRetryDelay() time.Duration {
	return time.Duration(c.SendRetryDelayMs) * time.Millisecond
}

// ExecutableDir is the directory holding the running binary, or "." if it cannot be determined.
func ExecutableDir() string {
	exePath, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exePath)
}

// SetupLogger configures the logger based on config
func SetupLogger(cfg *Config) {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warnf("Invalid log level '%s', using 'info'", cfg.LogLevel)
		level = log.InfoLevel
	}

	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	if err := os.MkdirAll(cfg.AppLogDir, 0755); err != nil {
		log.Warnf("cant create log dir %s, logging to stdout only: %v", cfg.AppLogDir, err)
		log.SetOutput(os.Stdout)
		return
	}

	fileLogger := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.AppLogDir, "pinger.log"),
		MaxSize:    100,  // MB
		MaxBackups: 7,    // Keep 7 old log files
		MaxAge:     30,   // Days
		Compress:   true, // Compress old log files
	}

	// Output to both file and stdout
	log.SetOutput(io.MultiWriter(os.Stdout, fileLogger))
}
