package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeTempFile creates a temporary config file with the given content and
// extension, returning its path.
func writeTempFile(t *testing.T, content string, ext string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config"+ext)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}
	return path
}

// checkErrorContains checks that err is non-nil and mentions the substring.
func checkErrorContains(t *testing.T, err error, expectedSubstring string) {
	t.Helper()
	if err == nil {
		t.Fatalf("Expected an error containing %q, but got nil", expectedSubstring)
	}
	if !strings.Contains(err.Error(), expectedSubstring) {
		t.Fatalf("Expected error message to contain %q, but got: %v", expectedSubstring, err)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	checkErrorContains(t, err, "failed to read config file")
}

func TestLoadConfig_TOML(t *testing.T) {
	content := `
[server]
scheme = "https"
max_header_field_size = 8192
max_request_line_size = 4096
field_size_hard_abort = false

[logging]
log_level = "DEBUG"
target = "stdout"

[[routing.routes]]
path_pattern = "/echo/"
match_type = "Prefix"
handler_type = "Echo"
`
	cfg, err := LoadConfig(writeTempFile(t, content, ".toml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Scheme != "https" {
		t.Errorf("Scheme = %q", cfg.Server.Scheme)
	}
	if cfg.Server.MaxHeaderFieldSize != 8192 {
		t.Errorf("MaxHeaderFieldSize = %d", cfg.Server.MaxHeaderFieldSize)
	}
	if cfg.Server.MaxRequestLineSize != 4096 {
		t.Errorf("MaxRequestLineSize = %d", cfg.Server.MaxRequestLineSize)
	}
	if cfg.Server.FieldSizeHardAbort == nil || *cfg.Server.FieldSizeHardAbort {
		t.Errorf("FieldSizeHardAbort = %v, want false", cfg.Server.FieldSizeHardAbort)
	}
	if cfg.Logging.LogLevel != LogLevelDebug || cfg.Logging.Target != "stdout" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if len(cfg.Routing.Routes) != 1 {
		t.Fatalf("Routes = %v", cfg.Routing.Routes)
	}
	r := cfg.Routing.Routes[0]
	if r.PathPattern != "/echo/" || r.MatchType != MatchTypePrefix || r.HandlerType != "Echo" {
		t.Errorf("route = %+v", r)
	}
}

func TestLoadConfig_JSON(t *testing.T) {
	content := `{
  "server": {"scheme": "http"},
  "routing": {"routes": [
    {"path_pattern": "/", "match_type": "Exact", "handler_type": "Echo",
     "handler_config": {"echo_headers": true}}
  ]}
}`
	cfg, err := LoadConfig(writeTempFile(t, content, ".json"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Scheme != "http" {
		t.Errorf("Scheme = %q", cfg.Server.Scheme)
	}
	if len(cfg.Routing.Routes) != 1 {
		t.Fatalf("Routes = %v", cfg.Routing.Routes)
	}
	if len(cfg.Routing.Routes[0].HandlerConfig) == 0 {
		t.Error("HandlerConfig was not preserved")
	}
}

func TestLoadConfig_AutoDetect(t *testing.T) {
	jsonContent := `{"server": {"scheme": "http"}}`
	cfg, err := LoadConfig(writeTempFile(t, jsonContent, ".conf"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Scheme != "http" {
		t.Errorf("Scheme = %q", cfg.Server.Scheme)
	}
}

func TestLoadConfig_Unparseable(t *testing.T) {
	_, err := LoadConfig(writeTempFile(t, "not valid anything {{{", ".conf"))
	checkErrorContains(t, err, "failed to parse config")
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	if cfg.Server.Scheme != DefaultScheme {
		t.Errorf("Scheme = %q", cfg.Server.Scheme)
	}
	if cfg.Server.MaxHeaderFieldSize != DefaultMaxHeaderFieldSize {
		t.Errorf("MaxHeaderFieldSize = %d", cfg.Server.MaxHeaderFieldSize)
	}
	if cfg.Server.MaxRequestLineSize != DefaultMaxRequestLineSize {
		t.Errorf("MaxRequestLineSize = %d", cfg.Server.MaxRequestLineSize)
	}
	if cfg.Server.FieldSizeHardAbort == nil || !*cfg.Server.FieldSizeHardAbort {
		t.Errorf("FieldSizeHardAbort = %v, want true", cfg.Server.FieldSizeHardAbort)
	}
	if cfg.Logging.LogLevel != LogLevelInfo {
		t.Errorf("LogLevel = %q", cfg.Logging.LogLevel)
	}
	if cfg.Logging.Target != DefaultLogTarget {
		t.Errorf("Target = %q", cfg.Logging.Target)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := &Config{}
		c.ApplyDefaults()
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"default is valid", func(c *Config) {}, ""},
		{"bad scheme", func(c *Config) { c.Server.Scheme = "ftp" }, "server.scheme"},
		{"bad log level", func(c *Config) { c.Logging.LogLevel = "LOUD" }, "not a valid log level"},
		{"relative log path", func(c *Config) { c.Logging.Target = "relative/log" }, "must be an absolute path"},
		{"route without pattern", func(c *Config) {
			c.Routing.Routes = []Route{{MatchType: MatchTypeExact, HandlerType: "Echo"}}
		}, "path_pattern is required"},
		{"route pattern without slash", func(c *Config) {
			c.Routing.Routes = []Route{{PathPattern: "echo", MatchType: MatchTypeExact, HandlerType: "Echo"}}
		}, "must start with '/'"},
		{"bad match type", func(c *Config) {
			c.Routing.Routes = []Route{{PathPattern: "/", MatchType: "Glob", HandlerType: "Echo"}}
		}, "match_type"},
		{"prefix without trailing slash", func(c *Config) {
			c.Routing.Routes = []Route{{PathPattern: "/echo", MatchType: MatchTypePrefix, HandlerType: "Echo"}}
		}, "must end with '/'"},
		{"route without handler type", func(c *Config) {
			c.Routing.Routes = []Route{{PathPattern: "/", MatchType: MatchTypeExact}}
		}, "handler_type is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			checkErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestIsFilePath(t *testing.T) {
	if IsFilePath("stdout") || IsFilePath("stderr") || IsFilePath("") {
		t.Error("standard streams misclassified as file paths")
	}
	if !IsFilePath("/var/log/h3serve.log") {
		t.Error("file path not recognized")
	}
}
