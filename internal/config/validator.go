package config

import (
	"fmt"
	"regexp"
	"strings"
)

// Validation bounds.
const (
	minPort        = 1
	maxPort        = 65535
	maxWorkers     = 1024
	maxFilterRules = 1024
	maxSubfilters  = 64
)

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

var validLogFormats = map[string]bool{
	"json": true, "console": true,
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// HasErrors returns true if there are validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates proxy configuration. Filter ids are not checked
// here; the filter registry reports unknown ids when it is built.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// ValidateConfig validates a proxy configuration.
func ValidateConfig(config *ProxyConfig) error {
	v := NewValidator()
	return v.Validate(config)
}

// Validate validates the configuration and returns any errors.
func (v *Validator) Validate(config *ProxyConfig) error {
	v.errors = make(ValidationErrors, 0)

	if config == nil {
		v.addError("", "configuration is nil")
		return v.errors
	}

	v.validatePort("port", config.Port)
	if strings.TrimSpace(config.TargetHost) == "" {
		v.addError("targetHost", "targetHost is required")
	}
	v.validatePort("targetPort", config.TargetPort)
	if config.UseProxy {
		if strings.TrimSpace(config.ProxyHost) == "" {
			v.addError("proxyHost", "proxyHost is required when useProxy is set")
		}
		v.validatePort("proxyPort", config.ProxyPort)
	}
	if config.ShutdownTimeout < 0 {
		v.addError("shutdownTimeout", "shutdownTimeout must not be negative")
	}

	v.validateCache(&config.Cache)
	v.validateWorkers(&config.Workers)
	v.validateCircuitBreaker(&config.CircuitBreaker)
	v.validateLog(&config.Log)
	v.validateAdmin(&config.Admin, config.Port)
	v.validateTracing(&config.Tracing)
	v.validateFilters(config.Filters)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

func (v *Validator) validatePort(path string, port int) {
	if port < minPort || port > maxPort {
		v.addError(path, fmt.Sprintf("port must be between %d and %d", minPort, maxPort))
	}
}

func (v *Validator) validateCache(cache *CacheConfig) {
	if cache.CleanupInterval < 0 {
		v.addError("cache.cleanupInterval", "cleanupInterval must not be negative")
	}
}

func (v *Validator) validateWorkers(workers *WorkersConfig) {
	if workers.Size < 1 || workers.Size > maxWorkers {
		v.addError("workers.size", fmt.Sprintf("size must be between 1 and %d", maxWorkers))
	}
}

func (v *Validator) validateCircuitBreaker(cb *CircuitBreakerConfig) {
	if !cb.Enabled {
		return
	}
	if cb.Threshold < 1 {
		v.addError("circuitBreaker.threshold", "threshold must be at least 1")
	}
	if cb.Timeout <= 0 {
		v.addError("circuitBreaker.timeout", "timeout must be positive")
	}
}

func (v *Validator) validateLog(log *LogConfig) {
	if log.Level != "" && !validLogLevels[strings.ToLower(log.Level)] {
		v.addError("log.level", fmt.Sprintf("unsupported log level %q", log.Level))
	}
	if log.Format != "" && !validLogFormats[strings.ToLower(log.Format)] {
		v.addError("log.format", fmt.Sprintf("unsupported log format %q", log.Format))
	}
}

func (v *Validator) validateAdmin(admin *AdminConfig, proxyPort int) {
	if !admin.Enabled {
		return
	}
	v.validatePort("admin.port", admin.Port)
	if admin.Port == proxyPort {
		v.addError("admin.port", "admin port must differ from the proxy port")
	}
	if admin.Path != "" && !strings.HasPrefix(admin.Path, "/") {
		v.addError("admin.path", "path must start with '/'")
	}
}

func (v *Validator) validateTracing(tracing *TracingConfig) {
	if !tracing.Enabled {
		return
	}
	if tracing.SamplingRate < 0 || tracing.SamplingRate > 1 {
		v.addError("tracing.samplingRate", "samplingRate must be between 0 and 1")
	}
}

func (v *Validator) validateFilters(filters []FilterRuleConfig) {
	if len(filters) > maxFilterRules {
		v.addError("filters", fmt.Sprintf("at most %d filter rules are supported", maxFilterRules))
		return
	}

	for i := range filters {
		rule := &filters[i]
		path := fmt.Sprintf("filters[%d]", i)

		if rule.NormalizedMimeType() == "" {
			v.addError(path+".mimeType", "mimeType is required")
		}
		if rule.Path == "" {
			v.addError(path+".path", "path is required")
		}
		if rule.Regex && rule.Path != "" {
			if _, err := regexp.Compile(rule.Path); err != nil {
				v.addError(path+".path", fmt.Sprintf("invalid regular expression: %v", err))
			}
		}
		if strings.TrimSpace(rule.Filter) == "" {
			v.addError(path+".filter", "filter is required")
		}
		if len(rule.Subfilters) > maxSubfilters {
			v.addError(path+".subfilters", fmt.Sprintf("at most %d subfilters are supported", maxSubfilters))
			continue
		}
		for j, sf := range rule.Subfilters {
			if strings.TrimSpace(sf.Filter) == "" {
				v.addError(fmt.Sprintf("%s.subfilters[%d].filter", path, j), "filter is required")
			}
		}
	}
}

func (v *Validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: message})
}
