package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvPort      = "PORT"
	EnvHTTPProxy = "HTTP_PROXY"
)

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// LookupFunc resolves an environment variable.
type LookupFunc func(key string) (string, bool)

// Loader handles configuration loading from files and readers.
type Loader struct {
	lookup LookupFunc
}

// LoaderOption is a functional option for the loader.
type LoaderOption func(*Loader)

// WithLookup sets the environment lookup used for substitution and overrides.
func WithLookup(lookup LookupFunc) LoaderOption {
	return func(l *Loader) {
		l.lookup = lookup
	}
}

// NewLoader creates a new configuration loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{lookup: os.LookupEnv}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadConfig loads configuration from a file path using the process environment.
func LoadConfig(path string) (*ProxyConfig, error) {
	return NewLoader().Load(path)
}

// LoadConfigFromReader loads configuration from an io.Reader using the process environment.
func LoadConfigFromReader(r io.Reader) (*ProxyConfig, error) {
	return NewLoader().LoadFromReader(r)
}

// Load loads configuration from a file path.
func (l *Loader) Load(path string) (*ProxyConfig, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", path, err)
	}

	data, err := os.ReadFile(absPath) //nolint:gosec // path is validated via filepath.Abs
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return l.parseConfig(data)
}

// LoadFromReader loads configuration from an io.Reader.
func (l *Loader) LoadFromReader(r io.Reader) (*ProxyConfig, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return l.parseConfig(data)
}

// parseConfig parses YAML data on top of the defaults and applies env overrides.
func (l *Loader) parseConfig(data []byte) (*ProxyConfig, error) {
	content := l.substituteEnvVars(string(data))

	config := DefaultConfig()
	if len(bytes.TrimSpace([]byte(content))) > 0 {
		if err := yaml.Unmarshal([]byte(content), config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	if err := l.applyEnvOverrides(config); err != nil {
		return nil, err
	}

	return config, nil
}

// substituteEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment variable values.
func (l *Loader) substituteEnvVars(content string) string {
	content = strings.ReplaceAll(content, "$$", "\x00ESCAPED_DOLLAR\x00")

	result := envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		defaultValue := ""
		if len(submatches) >= 3 {
			defaultValue = submatches[2]
		}

		if value, exists := l.lookup(varName); exists {
			return value
		}
		return defaultValue
	})

	return strings.ReplaceAll(result, "\x00ESCAPED_DOLLAR\x00", "$")
}

// applyEnvOverrides applies PORT and HTTP_PROXY.
func (l *Loader) applyEnvOverrides(config *ProxyConfig) error {
	if value, ok := l.lookup(EnvPort); ok && strings.TrimSpace(value) != "" {
		port, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", EnvPort, value, err)
		}
		config.Port = port
	}

	if value, ok := l.lookup(EnvHTTPProxy); ok && value != "" {
		host, port := ParseForwardProxy(value, DefaultProxyHost, DefaultProxyPort)
		config.UseProxy = true
		config.ProxyHost = host
		config.ProxyPort = port
	}

	return nil
}

// ParseForwardProxy extracts host and port from an HTTP_PROXY style value
// such as "http://proxy.corp:3128/". The first slash-separated fragment
// that contains a colon and is not a scheme is used. Missing parts fall
// back to the given defaults.
func ParseForwardProxy(value, defaultHost string, defaultPort int) (host string, port int) {
	host, port = defaultHost, defaultPort
	for _, fragment := range strings.Split(value, "/") {
		if strings.HasPrefix(fragment, "http:") || strings.HasPrefix(fragment, "https:") {
			continue
		}
		if idx := strings.LastIndex(fragment, "@"); idx >= 0 {
			fragment = fragment[idx+1:]
		}
		if strings.Index(fragment, ":") <= 0 {
			continue
		}
		parts := strings.SplitN(fragment, ":", 2)
		host = parts[0]
		if n, err := strconv.Atoi(parts[1]); err == nil {
			port = n
		}
		return host, port
	}
	return host, port
}
