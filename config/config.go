// Package config loads the proxy's YAML configuration, applying
// ${NAME[:-default]} environment-variable substitution before parsing.
package config

import (
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration surface.
type Config struct {
	Proxy           ProxyConfig           `yaml:"proxy"`
	Backend         BackendConfig         `yaml:"backend"`
	Capabilities    CapabilitiesConfig    `yaml:"capabilities"`
	Transformations TransformationsConfig `yaml:"transformations"`
	BusinessRules   BusinessRulesConfig   `yaml:"business_rules"`
	Security        SecurityConfig        `yaml:"security"`
	Logging         LoggingConfig         `yaml:"logging"`
}

type ProxyConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	MaxConnections int    `yaml:"max_connections"`
}

type BackendConfig struct {
	ConnectionType     string `yaml:"connection_type"` // "odbc" or "native"
	ConnectionString   string `yaml:"connection_string"`
	PoolSize           int    `yaml:"pool_size"`
	TimeoutSeconds     int    `yaml:"timeout"`
	PoolPrePing        bool   `yaml:"pool_pre_ping"`
	PoolRecycleSeconds int    `yaml:"pool_recycle"`
}

// Timeout returns the backend call/connect timeout as a time.Duration.
func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// PoolRecycle returns the slot max-age as a time.Duration.
func (b BackendConfig) PoolRecycle() time.Duration {
	return time.Duration(b.PoolRecycleSeconds) * time.Second
}

type CapabilitiesConfig struct {
	UnsupportedFeatures  []string `yaml:"unsupported_features"` // joins, unions, window_functions, count_function, case_statements
	UnsupportedFunctions []string `yaml:"unsupported_functions"`
}

type TransformationsConfig struct {
	UnwrapSubqueries bool `yaml:"unwrap_subqueries"`
	AutoFixGroupBy   bool `yaml:"auto_fix_group_by"`
	MaxSubqueryDepth int  `yaml:"max_subquery_depth"`
}

type BusinessRulesConfig struct {
	RequireCobDate bool     `yaml:"require_cob_date"`
	DateColumns    []string `yaml:"date_columns"`
}

type SecurityConfig struct {
	BlockWrites bool `yaml:"block_writes"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
	JSON  bool   `yaml:"json"`
}

// defaults mirrors §6's stated defaults for options that must have one.
func defaults() Config {
	return Config{
		Proxy: ProxyConfig{Host: "0.0.0.0", Port: 3307, MaxConnections: 100},
		Backend: BackendConfig{
			ConnectionType: "native",
			PoolSize:       1,
			TimeoutSeconds: 30,
			PoolPrePing:    true,
		},
		Capabilities: CapabilitiesConfig{
			UnsupportedFeatures:  []string{"joins", "unions", "window_functions"},
			UnsupportedFunctions: []string{"COUNT"},
		},
		Transformations: TransformationsConfig{
			UnwrapSubqueries: true,
			AutoFixGroupBy:   true,
			MaxSubqueryDepth: 2,
		},
		BusinessRules: BusinessRulesConfig{
			RequireCobDate: true,
			DateColumns:    []string{"cob_date", "date_index"},
		},
		Security: SecurityConfig{BlockWrites: true},
		Logging:  LoggingConfig{Level: "info"},
	}
}

// Load reads path as YAML, after expanding ${NAME[:-default]}
// references against the process environment.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := expandEnv(string(raw))

	cfg := defaults()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandEnv replaces ${NAME} and ${NAME:-default} with the
// environment's value for NAME, falling back to default (or "" if none
// was given) when NAME is unset or empty.
func expandEnv(s string) string {
	return envRefPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envRefPattern.FindStringSubmatch(match)
		name, fallback := groups[1], groups[3]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return fallback
	})
}
