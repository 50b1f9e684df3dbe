package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vyrodovalexey/filterproxy/internal/util"
)

// Default configuration values.
const (
	DefaultPort             = 8080
	DefaultTargetHost       = "localhost"
	DefaultTargetPort       = 80
	DefaultProxyHost        = "localhost"
	DefaultProxyPort        = 8080
	DefaultWorkers          = 20
	DefaultCleanupInterval  = time.Minute
	DefaultBreakerThreshold = 5
	DefaultBreakerTimeout   = 30 * time.Second
	DefaultAdminPort        = 9090
	DefaultMetricsPath      = "/metrics"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "json"
	DefaultServiceName      = "filterproxy"
	DefaultSamplingRate     = 1.0
	DefaultShutdownTimeout  = 30 * time.Second
)

// ProxyConfig holds all configuration settings for the filter proxy.
type ProxyConfig struct {
	Port       int    `yaml:"port" json:"port"`
	TargetHost string `yaml:"targetHost" json:"targetHost"`
	TargetPort int    `yaml:"targetPort" json:"targetPort"`

	// UseSSL enables TLS towards the backend. Certificates are not verified
	// since the proxy talks to exactly one, operator-chosen target.
	UseSSL *bool `yaml:"useSSL,omitempty" json:"useSSL,omitempty"`

	UseProxy  bool   `yaml:"useProxy" json:"useProxy"`
	ProxyHost string `yaml:"proxyHost" json:"proxyHost"`
	ProxyPort int    `yaml:"proxyPort" json:"proxyPort"`

	ShutdownTimeout Duration `yaml:"shutdownTimeout,omitempty" json:"shutdownTimeout,omitempty"`

	Cache          CacheConfig          `yaml:"cache" json:"cache"`
	Workers        WorkersConfig        `yaml:"workers" json:"workers"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker" json:"circuitBreaker"`
	Log            LogConfig            `yaml:"log" json:"log"`
	Admin          AdminConfig          `yaml:"admin" json:"admin"`
	Tracing        TracingConfig        `yaml:"tracing" json:"tracing"`

	Filters []FilterRuleConfig `yaml:"filters" json:"filters"`
}

// CacheConfig configures the in-memory response cache.
type CacheConfig struct {
	Enabled         bool     `yaml:"enabled" json:"enabled"`
	CleanupInterval Duration `yaml:"cleanupInterval,omitempty" json:"cleanupInterval,omitempty"`
}

// WorkersConfig configures the bounded pool used for CPU-heavy filter transforms.
type WorkersConfig struct {
	Size int `yaml:"size" json:"size"`
}

// CircuitBreakerConfig configures the optional breaker around backend calls.
type CircuitBreakerConfig struct {
	Enabled   bool     `yaml:"enabled" json:"enabled"`
	Threshold int      `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	Timeout   Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// AdminConfig configures the admin server exposing metrics and health.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path,omitempty" json:"path,omitempty"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Endpoint     string  `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	SamplingRate float64 `yaml:"samplingRate,omitempty" json:"samplingRate,omitempty"`
	ServiceName  string  `yaml:"serviceName,omitempty" json:"serviceName,omitempty"`
}

// FilterRuleConfig maps a MIME type and a URL matcher to a filter id.
type FilterRuleConfig struct {
	MimeType   string            `yaml:"mimeType" json:"mimeType"`
	Path       string            `yaml:"path" json:"path"`
	Regex      bool              `yaml:"regex,omitempty" json:"regex,omitempty"`
	Filter     string            `yaml:"filter" json:"filter"`
	Subfilters []SubfilterConfig `yaml:"subfilters,omitempty" json:"subfilters,omitempty"`
}

// SubfilterConfig names a sub-filter and carries its opaque parameters.
type SubfilterConfig struct {
	Filter     string                 `yaml:"filter" json:"filter"`
	Parameters map[string]interface{} `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *ProxyConfig {
	useSSL := true
	return &ProxyConfig{
		Port:            DefaultPort,
		TargetHost:      DefaultTargetHost,
		TargetPort:      DefaultTargetPort,
		UseSSL:          &useSSL,
		ProxyHost:       DefaultProxyHost,
		ProxyPort:       DefaultProxyPort,
		ShutdownTimeout: Duration(DefaultShutdownTimeout),
		Cache: CacheConfig{
			Enabled:         true,
			CleanupInterval: Duration(DefaultCleanupInterval),
		},
		Workers: WorkersConfig{Size: DefaultWorkers},
		CircuitBreaker: CircuitBreakerConfig{
			Threshold: DefaultBreakerThreshold,
			Timeout:   Duration(DefaultBreakerTimeout),
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Admin: AdminConfig{
			Enabled: true,
			Port:    DefaultAdminPort,
			Path:    DefaultMetricsPath,
		},
		Tracing: TracingConfig{
			SamplingRate: DefaultSamplingRate,
			ServiceName:  DefaultServiceName,
		},
	}
}

// SSLEnabled reports whether TLS is used towards the backend. Defaults to true.
func (c *ProxyConfig) SSLEnabled() bool {
	if c.UseSSL == nil {
		return true
	}
	return *c.UseSSL
}

// TargetAddress returns the backend host:port.
func (c *ProxyConfig) TargetAddress() string {
	return util.HostPort(c.TargetHost, c.TargetPort)
}

// ListenAddress returns the proxy listen address.
func (c *ProxyConfig) ListenAddress() string {
	return ":" + strconv.Itoa(c.Port)
}

// ForwardProxyURL returns the upstream forward proxy URL, or an empty
// string when no forward proxy is configured.
func (c *ProxyConfig) ForwardProxyURL() string {
	if !c.UseProxy {
		return ""
	}
	return "http://" + util.HostPort(c.ProxyHost, c.ProxyPort)
}

// String returns a short, log-friendly description of the configuration.
func (c *ProxyConfig) String() string {
	return fmt.Sprintf("ProxyConfig{port=%d, target=%s, ssl=%t, proxy=%q, cache=%t, filters=%d}",
		c.Port, c.TargetAddress(), c.SSLEnabled(), c.ForwardProxyURL(), c.Cache.Enabled, len(c.Filters))
}

// NormalizedMimeType returns the rule MIME type lowercased with parameters stripped.
func (r *FilterRuleConfig) NormalizedMimeType() string {
	return NormalizeMimeType(r.MimeType)
}

// NormalizeMimeType lowercases a media type and strips everything after ';'.
func NormalizeMimeType(mimeType string) string {
	if idx := strings.IndexByte(mimeType, ';'); idx >= 0 {
		mimeType = mimeType[:idx]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

// String returns the string parameter named key, or def.
func (s SubfilterConfig) String(key, def string) string {
	v, ok := s.Parameters[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// Int returns the integer parameter named key, or def.
func (s SubfilterConfig) Int(key string, def int) int {
	v, ok := s.Parameters[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case uint64:
		return int(t)
	case float64:
		return int(t)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n
		}
	}
	return def
}

// Bool returns the boolean parameter named key, or def.
func (s SubfilterConfig) Bool(key string, def bool) bool {
	v, ok := s.Parameters[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(t)); err == nil {
			return b
		}
	}
	return def
}

// Strings returns the parameter named key as a list. A single string is
// returned as a one-element list.
func (s SubfilterConfig) Strings(key string) []string {
	v, ok := s.Parameters[key]
	if !ok || v == nil {
		return nil
	}
	switch t := v.(type) {
	case string:
		return []string{t}
	case []string:
		return append([]string(nil), t...)
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}

// Has reports whether a parameter named key is present.
func (s SubfilterConfig) Has(key string) bool {
	_, ok := s.Parameters[key]
	return ok
}
