package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// MatchType defines how a route's path pattern is interpreted.
type MatchType string

const (
	// MatchTypeExact matches the path exactly.
	MatchTypeExact MatchType = "Exact"
	// MatchTypePrefix matches any path starting with the prefix.
	MatchTypePrefix MatchType = "Prefix"
)

// LogLevel defines the minimum severity for log entries.
type LogLevel string

const (
	LogLevelDebug   LogLevel = "DEBUG"
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARNING"
	LogLevelError   LogLevel = "ERROR"
)

// Config is the top-level configuration structure.
type Config struct {
	Server  *ServerConfig  `json:"server,omitempty" toml:"server,omitempty"`
	Routing *RoutingConfig `json:"routing,omitempty" toml:"routing,omitempty"`
	Logging *LoggingConfig `json:"logging,omitempty" toml:"logging,omitempty"`
}

// ServerConfig holds the request-processing limits.
type ServerConfig struct {
	// Scheme is the scheme the transport established for the connection;
	// request :scheme values must match it exactly.
	Scheme string `json:"scheme,omitempty" toml:"scheme,omitempty"`

	// MaxHeaderFieldSize bounds a single header field, counted as
	// name length + value length + 32.
	MaxHeaderFieldSize uint32 `json:"max_header_field_size,omitempty" toml:"max_header_field_size,omitempty"`

	// MaxRequestLineSize bounds the combined size of the request
	// pseudo-header values.
	MaxRequestLineSize uint32 `json:"max_request_line_size,omitempty" toml:"max_request_line_size,omitempty"`

	// FieldSizeHardAbort selects how an oversized header field is
	// handled: true kills the stream with no protocol-level message,
	// false aborts it with a descriptive message error.
	FieldSizeHardAbort *bool `json:"field_size_hard_abort,omitempty" toml:"field_size_hard_abort,omitempty"`
}

// RoutingConfig contains the list of routes.
type RoutingConfig struct {
	Routes []Route `json:"routes,omitempty" toml:"routes,omitempty"`
}

// Route defines a single routing rule.
type Route struct {
	PathPattern   string          `json:"path_pattern" toml:"path_pattern"`
	MatchType     MatchType       `json:"match_type" toml:"match_type"`
	HandlerType   string          `json:"handler_type" toml:"handler_type"`
	HandlerConfig json.RawMessage `json:"handler_config,omitempty" toml:"handler_config,omitempty"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	LogLevel LogLevel `json:"log_level,omitempty" toml:"log_level,omitempty"`
	Target   string   `json:"target,omitempty" toml:"target,omitempty"`
}

// IsFilePath reports whether a log target names a file rather than one of
// the standard streams.
func IsFilePath(target string) bool {
	return target != "stdout" && target != "stderr" && target != ""
}

// Default values applied by ApplyDefaults.
const (
	DefaultScheme             = "https"
	DefaultMaxHeaderFieldSize = 16384
	DefaultMaxRequestLineSize = 8192
	DefaultLogTarget          = "stderr"
)

// ApplyDefaults fills in every unset field, allocating missing sections.
func (c *Config) ApplyDefaults() {
	if c.Server == nil {
		c.Server = &ServerConfig{}
	}
	if c.Server.Scheme == "" {
		c.Server.Scheme = DefaultScheme
	}
	if c.Server.MaxHeaderFieldSize == 0 {
		c.Server.MaxHeaderFieldSize = DefaultMaxHeaderFieldSize
	}
	if c.Server.MaxRequestLineSize == 0 {
		c.Server.MaxRequestLineSize = DefaultMaxRequestLineSize
	}
	if c.Server.FieldSizeHardAbort == nil {
		hard := true
		c.Server.FieldSizeHardAbort = &hard
	}
	if c.Routing == nil {
		c.Routing = &RoutingConfig{}
	}
	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	if c.Logging.LogLevel == "" {
		c.Logging.LogLevel = LogLevelInfo
	}
	if c.Logging.Target == "" {
		c.Logging.Target = DefaultLogTarget
	}
}

// Validate checks the configuration for values that cannot be acted on.
func (c *Config) Validate() error {
	if c.Server != nil {
		if s := c.Server.Scheme; s != "" && s != "http" && s != "https" {
			return fmt.Errorf("server.scheme must be \"http\" or \"https\", got %q", s)
		}
	}
	if c.Logging != nil {
		switch c.Logging.LogLevel {
		case "", LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
		default:
			return fmt.Errorf("logging.log_level %q is not a valid log level", c.Logging.LogLevel)
		}
		if t := c.Logging.Target; IsFilePath(t) && !filepath.IsAbs(t) {
			return fmt.Errorf("logging.target %q must be an absolute path, \"stdout\" or \"stderr\"", t)
		}
	}
	if c.Routing != nil {
		for i, r := range c.Routing.Routes {
			if r.PathPattern == "" {
				return fmt.Errorf("routing.routes[%d]: path_pattern is required", i)
			}
			if !strings.HasPrefix(r.PathPattern, "/") {
				return fmt.Errorf("routing.routes[%d]: path_pattern %q must start with '/'", i, r.PathPattern)
			}
			switch r.MatchType {
			case MatchTypeExact, MatchTypePrefix:
			default:
				return fmt.Errorf("routing.routes[%d]: match_type %q is not valid", i, r.MatchType)
			}
			if r.MatchType == MatchTypePrefix && !strings.HasSuffix(r.PathPattern, "/") {
				return fmt.Errorf("routing.routes[%d]: prefix pattern %q must end with '/'", i, r.PathPattern)
			}
			if r.HandlerType == "" {
				return fmt.Errorf("routing.routes[%d]: handler_type is required", i)
			}
		}
	}
	return nil
}

// LoadConfig reads, parses, defaults and validates a configuration file. The
// format is selected by extension (.toml or .json); without a recognized
// extension both parsers are tried, TOML first.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML config %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config %s: %w", path, err)
		}
	default:
		tomlErr := toml.Unmarshal(data, cfg)
		if tomlErr != nil {
			*cfg = Config{}
			if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
				return nil, fmt.Errorf("failed to parse config %s as TOML (%v) or JSON (%v)", path, tomlErr, jsonErr)
			}
		}
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}
