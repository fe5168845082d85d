// Package config loads runtime settings from a .env file, the environment
// and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every setting the capture service understands.
type Config struct {
	// Camera
	Protocol       string
	Host           string
	Port           int
	URL            string
	HWAcceleration bool
	Mock           bool

	// Session
	BufferCapacity int
	PollRunning    time.Duration
	PollStartup    time.Duration

	// Reconnect
	Reconnect         bool
	ReconnectDelay    time.Duration
	ReconnectMaxDelay time.Duration
	MaxRetries        int

	// Consumers
	MotionThreshold float64
	JPEGQuality     int

	// Surfaces
	HTTPAddr  string
	StaticDir string
	DBPath    string
	Display   bool
	Tray      bool

	// Logging
	LogLevel  string
	LogFormat string
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Protocol:          "tcp",
		Host:              "192.168.1.254",
		Port:              9998,
		HWAcceleration:    true,
		BufferCapacity:    2,
		PollRunning:       time.Millisecond,
		PollStartup:       100 * time.Millisecond,
		ReconnectDelay:    time.Second,
		ReconnectMaxDelay: 30 * time.Second,
		MaxRetries:        5,
		MotionThreshold:   1.0,
		JPEGQuality:       80,
		HTTPAddr:          ":8080",
		DBPath:            defaultDBPath(),
		LogLevel:          "info",
		LogFormat:         "console",
	}
}

func defaultDBPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "rpi-sandbox.db"
	}
	return filepath.Join(homeDir, ".rpi-sandbox", "sessions.db")
}

// Load reads envFile (if it exists), then the environment, then args.
// A missing env file is not an error.
func Load(envFile string, args []string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	cfg := Default()
	cfg.applyEnv()

	fs := flag.NewFlagSet("rpi-sandbox", flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Protocol = getEnv("CAMERA_PROTOCOL", c.Protocol)
	c.Host = getEnv("CAMERA_HOST", c.Host)
	c.Port = getEnvAsInt("CAMERA_PORT", c.Port)
	c.URL = getEnv("CAMERA_URL", c.URL)
	c.HWAcceleration = getEnvAsBool("CAMERA_HW_ACCEL", c.HWAcceleration)
	c.Mock = getEnvAsBool("CAMERA_MOCK", c.Mock)

	c.BufferCapacity = getEnvAsInt("BUFFER_CAPACITY", c.BufferCapacity)
	c.PollRunning = getEnvAsDuration("POLL_RUNNING", c.PollRunning)
	c.PollStartup = getEnvAsDuration("POLL_STARTUP", c.PollStartup)

	c.Reconnect = getEnvAsBool("RECONNECT", c.Reconnect)
	c.ReconnectDelay = getEnvAsDuration("RECONNECT_DELAY", c.ReconnectDelay)
	c.ReconnectMaxDelay = getEnvAsDuration("RECONNECT_MAX_DELAY", c.ReconnectMaxDelay)
	c.MaxRetries = getEnvAsInt("MAX_RETRIES", c.MaxRetries)

	c.MotionThreshold = getEnvAsFloat("MOTION_THRESHOLD", c.MotionThreshold)
	c.JPEGQuality = getEnvAsInt("JPEG_QUALITY", c.JPEGQuality)

	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.StaticDir = getEnv("STATIC_DIR", c.StaticDir)
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.Display = getEnvAsBool("DISPLAY_WINDOW", c.Display)
	c.Tray = getEnvAsBool("TRAY", c.Tray)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
}

// RegisterFlags binds every setting to a flag, using the current values as
// defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Protocol, "protocol", c.Protocol, "camera stream protocol")
	fs.StringVar(&c.Host, "ip", c.Host, "camera host")
	fs.IntVar(&c.Port, "port", c.Port, "camera port")
	fs.StringVar(&c.URL, "url", c.URL, "full camera URL, overrides protocol/ip/port")
	fs.BoolVar(&c.HWAcceleration, "hwaccel", c.HWAcceleration, "request hardware decoding")
	fs.BoolVar(&c.Mock, "mock", c.Mock, "use a generated test pattern instead of a camera")

	fs.IntVar(&c.BufferCapacity, "buffer", c.BufferCapacity, "frames held for the consumer")
	fs.DurationVar(&c.PollRunning, "poll", c.PollRunning, "consumer re-check interval while streaming")
	fs.DurationVar(&c.PollStartup, "poll-startup", c.PollStartup, "consumer re-check interval before capture starts")

	fs.BoolVar(&c.Reconnect, "reconnect", c.Reconnect, "start a new session when the stream ends")
	fs.DurationVar(&c.ReconnectDelay, "reconnect-delay", c.ReconnectDelay, "initial reconnect backoff")
	fs.DurationVar(&c.ReconnectMaxDelay, "reconnect-max-delay", c.ReconnectMaxDelay, "reconnect backoff cap")
	fs.IntVar(&c.MaxRetries, "max-retries", c.MaxRetries, "consecutive failed sessions before giving up (0 = forever)")

	fs.Float64Var(&c.MotionThreshold, "motion", c.MotionThreshold, "percent of changed pixels that counts as motion")
	fs.IntVar(&c.JPEGQuality, "jpeg-quality", c.JPEGQuality, "preview JPEG quality (1-100)")

	fs.StringVar(&c.HTTPAddr, "http", c.HTTPAddr, "HTTP listen address, empty to disable")
	fs.StringVar(&c.StaticDir, "static", c.StaticDir, "directory of static files to serve")
	fs.StringVar(&c.DBPath, "db", c.DBPath, "session history database, empty to disable")
	fs.BoolVar(&c.Display, "display", c.Display, "show frames in a window")
	fs.BoolVar(&c.Tray, "tray", c.Tray, "show a system tray menu")

	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "console or json")
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.BufferCapacity <= 0 {
		errs = append(errs, fmt.Errorf("buffer capacity must be positive, got %d", c.BufferCapacity))
	}
	if c.PollRunning <= 0 || c.PollStartup <= 0 {
		errs = append(errs, errors.New("poll intervals must be positive"))
	}
	if c.URL == "" && !c.Mock {
		if c.Host == "" {
			errs = append(errs, errors.New("camera host is required"))
		}
		if c.Port <= 0 || c.Port > 65535 {
			errs = append(errs, fmt.Errorf("camera port out of range: %d", c.Port))
		}
	}
	if c.Reconnect && c.ReconnectDelay <= 0 {
		errs = append(errs, errors.New("reconnect delay must be positive"))
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("jpeg quality must be 1-100, got %d", c.JPEGQuality))
	}
	if c.Display && c.Tray {
		errs = append(errs, errors.New("display and tray both need the main thread; pick one"))
	}
	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("250ms") or plain milliseconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
