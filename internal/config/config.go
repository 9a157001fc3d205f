// Package config handles configuration loading and validation for the chain service.
//
// Configuration is environment-based with fail-fast validation. An optional
// .env file is merged into the process environment first (existing variables
// always win), then every setting is read from the environment with sensible
// defaults where appropriate.
//
// # Environment Variables
//
// Required variables:
//   - SERVICE_APP_NAME: Logical service name (APP_NAME is accepted as fallback)
//
// Service identification:
//   - APP_VERSION: Service version (default: 0.0.0)
//   - APP_ENV: Environment (development, dev, local, staging, stage, test, production, prod)
//
// HTTP and chain:
//   - HTTP_PORT: Main listener port (default: 5000)
//   - METRICS_PORT: Metrics exposition port, 0 disables (default: 8000)
//   - TARGET_ONE_HOST, TARGET_TWO_HOST: Downstream hosts, bare or as base URL (default: app-b, app-c)
//   - TARGET_PORT: Port used with bare target hosts (default: 5000)
//   - CHAIN_SELF_URL: First hop of the chain (default: http://localhost:HTTP_PORT)
//   - CHAIN_HEADERS_FILE: Diagnostic dump of outbound headers, empty disables (default: ./data.json)
//
// Observability:
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP collector endpoint, scheme optional (default: localhost:4317)
//   - OBSERVABILITY_METRICS_ENABLED: Request/runtime metrics and /metrics exposition (default: true)
//   - OBSERVABILITY_METRICS_OTLP_ENABLED: Also push metrics over OTLP (default: false)
//   - OBSERVABILITY_TRACING_ENABLED: Distributed tracing (default: true)
//   - OBSERVABILITY_LOGS_ENABLED: OTLP log export (default: true)
//   - OBSERVABILITY_SYSTEM_METRICS_ENABLED: Host system gauges (default: true)
//   - OBSERVABILITY_METRIC_EXPORT_INTERVAL: OTLP metric push interval in seconds (default: 10)
//   - OBSERVABILITY_TRACE_SAMPLING_RATE: Trace sampling rate 0.0-1.0 (default: environment-based)
//   - OBSERVABILITY_TRACE_BATCH_SIZE: Span batch size (default: 512)
//   - LOG_LEVEL: debug, info, warn, error (default: info)
//
// # Example Usage
//
//	if err := config.LoadDotEnv(); err != nil {
//	    log.Fatal("failed to read .env", err)
//	}
//	cfg, err := config.LoadFromEnv()
//	if err != nil {
//	    log.Fatal("Invalid configuration", err)
//	}
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config defines the complete service configuration.
type Config struct {
	// ServiceName tags every metric, span and log line (from SERVICE_APP_NAME).
	ServiceName string

	// ServiceVersion is the application version (from APP_VERSION).
	ServiceVersion string

	// Environment specifies the deployment environment (from APP_ENV).
	Environment string

	// HostName is the system hostname, auto-detected if not provided.
	HostName string

	// HTTPPort is the main listener port.
	HTTPPort int

	// MetricsPort is the dedicated exposition listener port. Zero disables it.
	MetricsPort int

	// SelfURL, TargetOneURL and TargetTwoURL are the base URLs of the three
	// chain hops, resolved once at load time.
	SelfURL      string
	TargetOneURL string
	TargetTwoURL string

	// HeadersFile receives the outbound propagation headers of each chain
	// call. Empty disables the dump.
	HeadersFile string

	// OTLPEndpoint is the OTLP collector endpoint in host:port format.
	OTLPEndpoint string

	MetricsEnabled       bool
	MetricsOTLPEnabled   bool
	TracingEnabled       bool
	LogsEnabled          bool
	SystemMetricsEnabled bool

	// MetricExportIntervalSec is the OTLP metric push interval.
	// Valid range: 1-300. Default: 10.
	MetricExportIntervalSec int

	// TraceSamplingRate determines what fraction of root traces to sample.
	// Valid range: 0.0-1.0. Default is environment-based:
	//   - development/staging: 1.0 (100%)
	//   - production: 0.1 (10%)
	TraceSamplingRate float64

	// TraceBatchSize is the maximum number of spans per export batch.
	TraceBatchSize int

	// LogLevel is the minimum zap level.
	LogLevel string
}

// Common validation errors returned by LoadFromEnv and Validate.
var (
	// ErrMissingServiceName indicates SERVICE_APP_NAME (and APP_NAME) is not set.
	ErrMissingServiceName = errors.New("SERVICE_APP_NAME is required and cannot be empty")

	// ErrInvalidEnvironment indicates APP_ENV has an invalid value.
	ErrInvalidEnvironment = errors.New("APP_ENV must be one of: development, dev, local, staging, stage, test, production, prod")

	// ErrInvalidOTLPEndpoint indicates the OTLP endpoint format is invalid.
	ErrInvalidOTLPEndpoint = errors.New("OTEL_EXPORTER_OTLP_ENDPOINT must be in format host:port or scheme://host:port")

	// ErrInvalidTarget indicates a chain target cannot be turned into a URL.
	ErrInvalidTarget = errors.New("chain target must be a host name or an absolute http(s) URL")
)

var validEnvs = map[string]bool{
	"development": true,
	"dev":         true,
	"local":       true,
	"staging":     true,
	"stage":       true,
	"test":        true,
	"production":  true,
	"prod":        true,
}

// LoadDotEnv merges the given dotenv files into the process environment.
// Files that do not exist are skipped. Variables already present in the
// environment are never overridden. With no arguments ".env" is tried.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}

	present := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}

	if err := godotenv.Load(present...); err != nil {
		return fmt.Errorf("failed to load dotenv files %v: %w", present, err)
	}
	return nil
}

// LoadFromEnv loads and validates configuration from environment variables.
//
// It returns an error if:
//   - SERVICE_APP_NAME and APP_NAME are both missing or empty
//   - APP_ENV contains an invalid environment name
//   - OTEL_EXPORTER_OTLP_ENDPOINT cannot be normalised to host:port
//   - a chain target cannot be turned into a base URL
//   - numeric values are out of valid ranges
func LoadFromEnv() (Config, error) {
	serviceName := getEnvString("SERVICE_APP_NAME", os.Getenv("APP_NAME"))
	if strings.TrimSpace(serviceName) == "" {
		return Config{}, ErrMissingServiceName
	}

	environment := getEnvString("APP_ENV", "development")
	if !validEnvs[strings.ToLower(environment)] {
		return Config{}, fmt.Errorf("%w: got '%s'", ErrInvalidEnvironment, environment)
	}

	otlpEndpoint, err := normalizeEndpoint(getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"))
	if err != nil {
		return Config{}, err
	}

	httpPort := getEnvInt("HTTP_PORT", 5000)
	targetPort := getEnvInt("TARGET_PORT", 5000)

	targetOne, err := targetURL(getEnvString("TARGET_ONE_HOST", "app-b"), targetPort)
	if err != nil {
		return Config{}, fmt.Errorf("TARGET_ONE_HOST: %w", err)
	}
	targetTwo, err := targetURL(getEnvString("TARGET_TWO_HOST", "app-c"), targetPort)
	if err != nil {
		return Config{}, fmt.Errorf("TARGET_TWO_HOST: %w", err)
	}
	self, err := targetURL(getEnvString("CHAIN_SELF_URL", fmt.Sprintf("http://localhost:%d", httpPort)), httpPort)
	if err != nil {
		return Config{}, fmt.Errorf("CHAIN_SELF_URL: %w", err)
	}

	headersFile := "./data.json"
	if v, ok := os.LookupEnv("CHAIN_HEADERS_FILE"); ok {
		headersFile = v
	}

	samplingRate := getDefaultSamplingRate(environment)
	if v, ok := os.LookupEnv("OBSERVABILITY_TRACE_SAMPLING_RATE"); ok && v != "" {
		samplingRate, err = strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("OBSERVABILITY_TRACE_SAMPLING_RATE: %w", err)
		}
	}

	cfg := Config{
		ServiceName:             serviceName,
		ServiceVersion:          getEnvString("APP_VERSION", "0.0.0"),
		Environment:             environment,
		HTTPPort:                httpPort,
		MetricsPort:             getEnvInt("METRICS_PORT", 8000),
		SelfURL:                 self,
		TargetOneURL:            targetOne,
		TargetTwoURL:            targetTwo,
		HeadersFile:             headersFile,
		OTLPEndpoint:            otlpEndpoint,
		MetricsEnabled:          getEnvBool("OBSERVABILITY_METRICS_ENABLED", true),
		MetricsOTLPEnabled:      getEnvBool("OBSERVABILITY_METRICS_OTLP_ENABLED", false),
		TracingEnabled:          getEnvBool("OBSERVABILITY_TRACING_ENABLED", true),
		LogsEnabled:             getEnvBool("OBSERVABILITY_LOGS_ENABLED", true),
		SystemMetricsEnabled:    getEnvBool("OBSERVABILITY_SYSTEM_METRICS_ENABLED", true),
		MetricExportIntervalSec: getEnvInt("OBSERVABILITY_METRIC_EXPORT_INTERVAL", 10),
		TraceSamplingRate:       samplingRate,
		TraceBatchSize:          getEnvInt("OBSERVABILITY_TRACE_BATCH_SIZE", 512),
		LogLevel:                getEnvString("LOG_LEVEL", "info"),
	}

	cfg = applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// MustLoadFromEnv loads configuration from environment or panics on error.
func MustLoadFromEnv() Config {
	cfg, err := LoadFromEnv()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration from environment: %v", err))
	}
	return cfg
}

// Validate verifies that the configuration is internally consistent and complete.
//
// Returns nil if validation passes, or an error describing all validation failures.
func (c Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.ServiceName) == "" {
		errs = append(errs, "ServiceName is required")
	}
	if !validEnvs[strings.ToLower(c.Environment)] {
		errs = append(errs, fmt.Sprintf("APP_ENV invalid value '%s'", c.Environment))
	}

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Sprintf("HTTP_PORT must be 1-65535, got: %d", c.HTTPPort))
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		errs = append(errs, fmt.Sprintf("METRICS_PORT must be 0-65535, got: %d", c.MetricsPort))
	}
	if c.MetricsPort != 0 && c.MetricsPort == c.HTTPPort {
		errs = append(errs, "METRICS_PORT must differ from HTTP_PORT")
	}

	for name, target := range map[string]string{
		"CHAIN_SELF_URL":  c.SelfURL,
		"TARGET_ONE_HOST": c.TargetOneURL,
		"TARGET_TWO_HOST": c.TargetTwoURL,
	} {
		if target == "" {
			errs = append(errs, name+" is required")
		}
	}

	if c.exportsOTLP() && !isValidEndpoint(c.OTLPEndpoint) {
		errs = append(errs, fmt.Sprintf("OTEL_EXPORTER_OTLP_ENDPOINT invalid format '%s' (expected host:port)", c.OTLPEndpoint))
	}

	if c.TraceSamplingRate < 0.0 || c.TraceSamplingRate > 1.0 {
		errs = append(errs, fmt.Sprintf("OBSERVABILITY_TRACE_SAMPLING_RATE must be 0.0-1.0, got: %f", c.TraceSamplingRate))
	}

	if c.MetricExportIntervalSec < 1 || c.MetricExportIntervalSec > 300 {
		errs = append(errs, fmt.Sprintf("OBSERVABILITY_METRIC_EXPORT_INTERVAL must be 1-300, got: %d", c.MetricExportIntervalSec))
	}

	if c.TraceBatchSize < 1 {
		errs = append(errs, fmt.Sprintf("OBSERVABILITY_TRACE_BATCH_SIZE must be positive, got: %d", c.TraceBatchSize))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// IsEnabled returns true if at least one observability component is enabled.
func (c Config) IsEnabled() bool {
	return c.MetricsEnabled || c.TracingEnabled || c.LogsEnabled
}

// EnabledComponents returns the names of enabled observability components,
// any of "metrics", "metrics-otlp", "tracing", "logs", "system".
//
//	log.Info("Observability enabled", zap.Strings("components", cfg.EnabledComponents()))
func (c Config) EnabledComponents() []string {
	components := []string{}
	if c.MetricsEnabled {
		components = append(components, "metrics")
		if c.MetricsOTLPEnabled {
			components = append(components, "metrics-otlp")
		}
		if c.SystemMetricsEnabled {
			components = append(components, "system")
		}
	}
	if c.TracingEnabled {
		components = append(components, "tracing")
	}
	if c.LogsEnabled {
		components = append(components, "logs")
	}
	return components
}

// exportsOTLP reports whether any component pushes to the OTLP collector.
func (c Config) exportsOTLP() bool {
	return (c.MetricsEnabled && c.MetricsOTLPEnabled) || c.TracingEnabled || c.LogsEnabled
}

// applyDefaults fills in default values for unset configuration fields.
func applyDefaults(cfg Config) Config {
	if cfg.HostName == "" {
		cfg.HostName = getHostName()
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg
}

// getDefaultSamplingRate returns the default trace sampling rate based on environment.
func getDefaultSamplingRate(env string) float64 {
	switch strings.ToLower(env) {
	case "development", "dev", "local", "staging", "stage", "test":
		return 1.0
	case "production", "prod":
		return 0.1
	default:
		return 0.05
	}
}

// getHostName checks HOSTNAME, then os.Hostname, then gives up with "unknown".
func getHostName() string {
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	if hostname, err := os.Hostname(); err == nil {
		return hostname
	}
	return "unknown"
}

// normalizeEndpoint strips an optional scheme and path so the gRPC exporters
// receive a bare host:port.
func normalizeEndpoint(endpoint string) (string, error) {
	endpoint = strings.TrimSpace(endpoint)
	if strings.Contains(endpoint, "://") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidOTLPEndpoint, err)
		}
		endpoint = u.Host
	}
	if !isValidEndpoint(endpoint) {
		return "", fmt.Errorf("%w: got '%s'", ErrInvalidOTLPEndpoint, endpoint)
	}
	return endpoint, nil
}

// isValidEndpoint verifies host:port with a non-empty host and numeric port.
func isValidEndpoint(endpoint string) bool {
	host, port, err := net.SplitHostPort(endpoint)
	if err != nil || host == "" {
		return false
	}
	_, err = strconv.Atoi(port)
	return err == nil
}

// targetURL turns a bare host into http://host:port, or validates and
// trims an absolute base URL.
func targetURL(target string, port int) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", ErrInvalidTarget
	}
	if !strings.Contains(target, "://") {
		return fmt.Sprintf("http://%s", net.JoinHostPort(target, strconv.Itoa(port))), nil
	}

	u, err := url.Parse(target)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("%w: got '%s'", ErrInvalidTarget, target)
	}
	return strings.TrimRight(u.String(), "/"), nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBool treats "true" (any case) and "1" as true and every other
// non-empty value as false.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}
