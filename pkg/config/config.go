// Package config provides unified configuration for the agentd runtime.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (AGENTD_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Config holds all configuration for the agentd runtime.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Provider      ProviderConfig      `yaml:"provider"`
	Loop          LoopConfig          `yaml:"loop"`
	Sessions      SessionsConfig      `yaml:"sessions"`
	Auth          AuthConfig          `yaml:"auth"`
	Tools         ToolsConfig         `yaml:"tools"`
	MCP           MCPConfig           `yaml:"mcp"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`          // default: 8080
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"` // default: 120s
}

// ProviderConfig holds the model provider connection settings.
type ProviderConfig struct {
	// Type selects the backend provider. Only "ollama" is supported today.
	Type         string `yaml:"type"`          // default: "ollama"
	BaseURL      string `yaml:"base_url"`      // required, e.g. "http://localhost:11434"
	DefaultModel string `yaml:"default_model"` // optional
}

// LoopConfig holds defaults for the agentic turn loop.
type LoopConfig struct {
	MaxIterations int `yaml:"max_iterations"` // default: 10
}

// SessionsConfig holds conversation persistence settings.
type SessionsConfig struct {
	Type     string         `yaml:"type"`     // "memory" or "postgres", default: "memory"
	MaxSize  int            `yaml:"max_size"` // for memory store, 0 = unlimited, default: 10000
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 25
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: false
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	Type    string         `yaml:"type"`     // "none", "apikey", "jwt", default: "none"
	APIKeys []APIKeyConfig `yaml:"api_keys"` // API key entries for type=apikey
	JWT     JWTConfig      `yaml:"jwt"`      // settings for type=jwt
}

// JWTConfig configures JWT/OIDC bearer token validation.
type JWTConfig struct {
	Issuer      string `yaml:"issuer"`
	Audience    string `yaml:"audience"`
	JWKSURL     string `yaml:"jwks_url"`
	UserClaim   string `yaml:"user_claim"`
	TenantClaim string `yaml:"tenant_claim"`
	ScopesClaim string `yaml:"scopes_claim"`
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key         string `yaml:"key"`
	KeyFile     string `yaml:"key_file"` // _file variant for key
	Subject     string `yaml:"subject"`
	TenantID    string `yaml:"tenant_id"`
	ServiceTier string `yaml:"service_tier"`
}

// ToolsConfig holds built-in tool settings.
type ToolsConfig struct {
	Exec  ExecToolConfig  `yaml:"exec"`
	Files FilesToolConfig `yaml:"files"`
}

// ExecToolConfig configures the built-in shell execution tool.
type ExecToolConfig struct {
	Enabled bool   `yaml:"enabled"`  // default: false
	WorkDir string `yaml:"work_dir"` // directory commands run in
}

// FilesToolConfig configures the built-in file read/write tool.
type FilesToolConfig struct {
	Enabled      bool   `yaml:"enabled"`        // default: false
	Root         string `yaml:"root"`           // workspace root, required if enabled
	MaxReadBytes int    `yaml:"max_read_bytes"` // default: 200000
}

// MCPConfig holds MCP (Model Context Protocol) server settings.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig describes a single MCP server connection.
type MCPServerConfig struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport"` // "sse" or "streamable-http"
	URL       string            `yaml:"url"`
	Headers   map[string]string `yaml:"headers"`
	Auth      MCPAuthConfig     `yaml:"auth"`
}

// MCPAuthConfig describes the authentication configuration for an MCP server.
type MCPAuthConfig struct {
	Type             string   `yaml:"type"` // "static" or "oauth_client_credentials"
	TokenURL         string   `yaml:"token_url"`
	ClientID         string   `yaml:"client_id"`
	ClientIDFile     string   `yaml:"client_id_file"`
	ClientSecret     string   `yaml:"client_secret"`
	ClientSecretFile string   `yaml:"client_secret_file"`
	Scopes           []string `yaml:"scopes"`
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
		},
		Provider: ProviderConfig{
			Type: "ollama",
		},
		Loop: LoopConfig{
			MaxIterations: 10,
		},
		Sessions: SessionsConfig{
			Type:    "memory",
			MaxSize: 10000,
			Postgres: PostgresConfig{
				MaxConns: 25,
			},
		},
		Auth: AuthConfig{
			Type: "none",
		},
		Tools: ToolsConfig{
			Files: FilesToolConfig{
				MaxReadBytes: 200000,
			},
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}
