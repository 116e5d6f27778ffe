package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/netdata-proxy/internal/errs"
)

// ForwarderConfig holds the configuration settings for the Netdata forwarder.
type ForwarderConfig struct {
	NetdataURL    string        // Netdata API base URL
	ProxyURL      string        // proxy HTTP endpoint
	Interval      time.Duration // pull interval in continuous mode
	ClientTimeout time.Duration // HTTP client timeout
	MaxRetries    int           // attempts per request on transient network errors
	Once          bool          // pull once and exit
	LogLevel      string
	Logger        *zap.SugaredLogger
}

type forwarderFile struct {
	NetdataURL    *string `json:"netdata_url" yaml:"netdata_url"`
	ProxyURL      *string `json:"proxy_url" yaml:"proxy_url"`
	Interval      *string `json:"interval" yaml:"interval"` // "30s"
	ClientTimeout *string `json:"client_timeout" yaml:"client_timeout"`
	MaxRetries    *int    `json:"max_retries" yaml:"max_retries"`
	LogLevel      *string `json:"log_level" yaml:"log_level"`
}

// NewForwarderConfig parses os.Args and the environment and builds the logger.
func NewForwarderConfig() (*ForwarderConfig, error) {
	return LoadForwarderConfig(os.Args[1:])
}

// LoadForwarderConfig resolves the configuration from args, the config file and the environment.
func LoadForwarderConfig(args []string) (*ForwarderConfig, error) {
	cfg := &ForwarderConfig{
		NetdataURL:    "http://localhost:19999",
		ProxyURL:      "http://localhost:8081",
		Interval:      30 * time.Second,
		ClientTimeout: 10 * time.Second,
		MaxRetries:    3,
		LogLevel:      "info",
	}

	fs := flag.NewFlagSet("forwarder", flag.ContinueOnError)
	var fNetdata, fProxy, fLevel, fConf strFlag
	var fInterval, fTimeout durFlag
	var fRetries intFlag
	var fOnce boolFlag
	fs.Var(&fNetdata, "netdata", "Netdata API base URL")
	fs.Var(&fProxy, "proxy", "proxy HTTP endpoint")
	fs.Var(&fInterval, "i", "pull interval")
	fs.Var(&fTimeout, "t", "HTTP client timeout")
	fs.Var(&fRetries, "r", "max attempts on network errors")
	fs.Var(&fOnce, "once", "pull once and exit")
	fs.Var(&fLevel, "log-level", "log level")
	fs.Var(&fConf, "c", "Path to JSON or YAML config file")
	fs.Var(&fConf, "config", "Path to JSON or YAML config file (alias)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if path := configPath(fConf); path != "" {
		var file forwarderFile
		if err := loadFile(path, &file); err != nil {
			return nil, fmt.Errorf("%w: %w", errs.ErrConfiguration, err)
		}
		if err := file.apply(cfg); err != nil {
			return nil, err
		}
	}

	setString(&cfg.NetdataURL, fNetdata)
	setString(&cfg.ProxyURL, fProxy)
	setString(&cfg.LogLevel, fLevel)
	if fInterval.set {
		cfg.Interval = fInterval.v
	}
	if fTimeout.set {
		cfg.ClientTimeout = fTimeout.v
	}
	if fRetries.set {
		cfg.MaxRetries = fRetries.v
	}
	cfg.Once = fOnce.v

	if err := readForwarderEnvironment(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrConfiguration, err)
	}

	cfg.NetdataURL = withScheme(cfg.NetdataURL)
	cfg.ProxyURL = withScheme(cfg.ProxyURL)
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("%w: interval must be positive", errs.ErrConfiguration)
	}

	logger, err := NewLogger(cfg.LogLevel, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrConfiguration, err)
	}
	cfg.Logger = logger
	return cfg, nil
}

func (f *forwarderFile) apply(cfg *ForwarderConfig) error {
	if f.NetdataURL != nil {
		cfg.NetdataURL = *f.NetdataURL
	}
	if f.ProxyURL != nil {
		cfg.ProxyURL = *f.ProxyURL
	}
	if f.MaxRetries != nil {
		cfg.MaxRetries = *f.MaxRetries
	}
	if f.LogLevel != nil {
		cfg.LogLevel = *f.LogLevel
	}
	if f.Interval != nil {
		d, err := parseDuration(*f.Interval)
		if err != nil {
			return fmt.Errorf("%w: invalid interval: %w", errs.ErrConfiguration, err)
		}
		cfg.Interval = d
	}
	if f.ClientTimeout != nil {
		d, err := parseDuration(*f.ClientTimeout)
		if err != nil {
			return fmt.Errorf("%w: invalid client_timeout: %w", errs.ErrConfiguration, err)
		}
		cfg.ClientTimeout = d
	}
	return nil
}

func readForwarderEnvironment(cfg *ForwarderConfig) error {
	envString("NETDATA_URL", &cfg.NetdataURL)
	envString("PROXY_URL", &cfg.ProxyURL)
	envString("LOG_LEVEL", &cfg.LogLevel)

	return errors.Join(
		envDuration("INTERVAL", &cfg.Interval),
		envDuration("CLIENT_TIMEOUT", &cfg.ClientTimeout),
		envInt("MAX_RETRIES", &cfg.MaxRetries),
	)
}

func withScheme(addr string) string {
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		return "http://" + addr
	}
	return addr
}
