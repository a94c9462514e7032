package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type Config struct {
	Model      ModelConfig   `toml:"model"`
	MCPServers []MCPServer   `toml:"mcp_server"`
	Gateway    GatewayConfig `toml:"gateway"`
	DB         DBConfig      `toml:"db"`
	Trace      TraceConfig   `toml:"trace"`
}

type ModelConfig struct {
	// Type selects the backend: "openai", "azure" or "mock".
	Type    string `toml:"type"`
	Model   string `toml:"model"`
	APIKey  string `toml:"api_key"`
	APIBase string `toml:"api_base"`
}

type MCPServer struct {
	Name   string `toml:"name"`
	URL    string `toml:"url"`
	APIKey string `toml:"api_key"`
}

type GatewayConfig struct {
	Addr string `toml:"addr"`
}

type DBConfig struct {
	Path string `toml:"path"`
}

type TraceConfig struct {
	Endpoint string `toml:"endpoint"`
	URLPath  string `toml:"url_path"`
	APIKey   string `toml:"api_key"`
}

// Load reads the TOML config file over built-in defaults, then applies
// .env / environment overrides. Environment wins over the file, matching
// the precedence the server has always had.
func Load() (*Config, error) {
	cfg := &Config{
		Model: ModelConfig{
			Type:    "mock",
			Model:   "gpt-4o",
			APIBase: "https://api.openai.com/v1",
		},
		Gateway: GatewayConfig{
			Addr: ":5050",
		},
		DB: DBConfig{
			Path: defaultDBPath(),
		},
	}

	path := configPath()
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, err
		}
	}

	// .env is optional; absence is not an error.
	_ = godotenv.Load()
	cfg.applyEnv()

	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("MODEL_TYPE"); v != "" {
		c.Model.Type = v
	}
	if v := os.Getenv("MODEL_API_KEY"); v != "" {
		c.Model.APIKey = v
	}
	if v := os.Getenv("MODEL_NAME"); v != "" {
		c.Model.Model = v
	}
	if v := os.Getenv("MODEL_API_BASE"); v != "" {
		c.Model.APIBase = v
	}
	if v := os.Getenv("MCP_HTTP_URL"); v != "" {
		if len(c.MCPServers) == 0 {
			c.MCPServers = append(c.MCPServers, MCPServer{Name: "Default MCP Server"})
		}
		c.MCPServers[0].URL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.Gateway.Addr = ":" + v
	}
}

func configPath() string {
	dir, _ := os.UserConfigDir()
	return filepath.Join(dir, "spockchat", "config.toml")
}

func defaultDBPath() string {
	dir, _ := os.UserHomeDir()
	return filepath.Join(dir, ".local", "share", "spockchat", "spockchat.db")
}
