// Package config resolves runtime configuration from, in rising precedence,
// an optional TOML configuration file, IBFABRIC_EXPORTER_* environment
// variables, and command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"log/slog"

	"github.com/BurntSushi/toml"
)

const (
	defaultListenAddress = ":9880"
	defaultMetricsPath   = "/metrics"
	defaultHealthPath    = "/healthz"
	defaultLogLevel      = "info"
	defaultTimeout       = 2 * time.Second
	defaultScrapeTimeout = 30 * time.Second
	defaultMaxHops       = -1
)

// Config captures runtime configuration options.
type Config struct {
	ListenAddress string
	MetricsPath   string
	HealthPath    string
	LogLevel      slog.Level

	// Discovery knobs.
	Device   string
	Port     int
	Timeout  time.Duration // per-SMP query
	MaxHops  int
	FromDR   string
	Progress bool

	ScrapeTimeout time.Duration

	Once        bool
	ShowVersion bool
}

// fileConfig mirrors the TOML configuration file.
type fileConfig struct {
	ListenAddress string        `toml:"listen_address"`
	MetricsPath   string        `toml:"metrics_path"`
	HealthPath    string        `toml:"health_path"`
	LogLevel      string        `toml:"log_level"`
	ScrapeTimeout string        `toml:"scrape_timeout"`
	Discovery     fileDiscovery `toml:"discovery"`
}

type fileDiscovery struct {
	Device   string `toml:"device"`
	Port     int    `toml:"port"`
	Timeout  string `toml:"timeout"`
	MaxHops  *int   `toml:"max_hops"`
	From     string `toml:"from"`
	Progress bool   `toml:"progress"`
}

// Parse constructs a Config from an optional config file, environment
// variables, and command-line flags.
func Parse(args []string) (Config, error) {
	var cfg Config

	path := prescanConfigPath(args)
	file, err := loadFile(path)
	if err != nil {
		return cfg, err
	}

	fs := flag.NewFlagSet("ibfabric_exporter", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	fs.String("config", path, "Path to a TOML configuration file.")
	listen := fs.String("listen-address", envOrDefault("IBFABRIC_EXPORTER_LISTEN_ADDRESS", fallback(file.ListenAddress, defaultListenAddress)), "Address to listen on for HTTP requests.")
	metricsPath := fs.String("metrics-path", envOrDefault("IBFABRIC_EXPORTER_METRICS_PATH", fallback(file.MetricsPath, defaultMetricsPath)), "HTTP path under which metrics are served.")
	healthPath := fs.String("health-path", envOrDefault("IBFABRIC_EXPORTER_HEALTH_PATH", fallback(file.HealthPath, defaultHealthPath)), "HTTP path for health checks.")
	logLevel := fs.String("log-level", envOrDefault("IBFABRIC_EXPORTER_LOG_LEVEL", fallback(file.LogLevel, defaultLogLevel)), "Log level (debug, info, warn, error).")

	device := fs.String("device", envOrDefault("IBFABRIC_EXPORTER_DEVICE", file.Discovery.Device), "InfiniBand CA to send SMPs through. Empty picks the first device.")
	port := fs.Int("port", intFallback(file.Discovery.Port, 1), "CA port number to send SMPs through.")
	fromDR := fs.String("from", envOrDefault("IBFABRIC_EXPORTER_FROM", file.Discovery.From), "Directed route of the starting port, e.g. \"0,1\". Empty starts locally.")

	timeoutDefault, err := durationDefault("IBFABRIC_EXPORTER_TIMEOUT", file.Discovery.Timeout, defaultTimeout)
	if err != nil {
		return cfg, err
	}
	timeout := fs.Duration("timeout", timeoutDefault, "Timeout for a single SMP query.")

	scrapeTimeoutDefault, err := durationDefault("IBFABRIC_EXPORTER_SCRAPE_TIMEOUT", file.ScrapeTimeout, defaultScrapeTimeout)
	if err != nil {
		return cfg, err
	}
	scrapeTimeout := fs.Duration("scrape-timeout", scrapeTimeoutDefault, "Maximum duration of one discovery scrape.")

	maxHopsDefault := defaultMaxHops
	if file.Discovery.MaxHops != nil {
		maxHopsDefault = *file.Discovery.MaxHops
	}
	maxHops := fs.Int("max-hops", maxHopsDefault, "Bound on the discovery walk in switch hops. Negative walks everything.")

	progress := fs.Bool("progress", file.Discovery.Progress, "Log one line per discovered node.")
	once := fs.Bool("once", false, "Discover once, print the topology, and exit.")
	showVersion := fs.Bool("version", false, "Print version information and exit.")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return cfg, err
		}
		return cfg, fmt.Errorf("parse flags: %w", err)
	}

	level, err := parseLogLevel(*logLevel)
	if err != nil {
		return cfg, err
	}

	cfg = Config{
		ListenAddress: *listen,
		MetricsPath:   *metricsPath,
		HealthPath:    *healthPath,
		LogLevel:      level,
		Device:        *device,
		Port:          *port,
		Timeout:       *timeout,
		MaxHops:       *maxHops,
		FromDR:        *fromDR,
		Progress:      *progress,
		ScrapeTimeout: *scrapeTimeout,
		Once:          *once,
		ShowVersion:   *showVersion,
	}
	return cfg, nil
}

// prescanConfigPath finds the -config flag before the flag set is built,
// so the file can seed flag defaults.
func prescanConfigPath(args []string) string {
	path := strings.TrimSpace(os.Getenv("IBFABRIC_EXPORTER_CONFIG"))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			continue
		}
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if name != "config" {
			continue
		}
		if hasValue {
			path = value
		} else if i+1 < len(args) {
			path = args[i+1]
		}
	}
	return path
}

func loadFile(path string) (fileConfig, error) {
	var file fileConfig
	if path == "" {
		return file, nil
	}
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return file, fmt.Errorf("load config file %s: %w", path, err)
	}
	return file, nil
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func fallback(value, def string) string {
	if value != "" {
		return value
	}
	return def
}

func intFallback(value, def int) int {
	if value != 0 {
		return value
	}
	return def
}

func durationDefault(envKey, fileValue string, def time.Duration) (time.Duration, error) {
	out := def
	if fileValue != "" {
		parsed, err := time.ParseDuration(fileValue)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q in config file: %w", fileValue, err)
		}
		out = parsed
	}
	if envValue := os.Getenv(envKey); envValue != "" {
		parsed, err := time.ParseDuration(envValue)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", envKey, err)
		}
		out = parsed
	}
	return out, nil
}

func parseLogLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "err":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", value)
	}
}
