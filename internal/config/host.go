package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// HostConfig holds configuration for the host process that brokers surface
// requests to the tool backend.
type HostConfig struct {
	Port           int           `yaml:"port"`
	WSPath         string        `yaml:"ws_path"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	Origin         string        `yaml:"origin"`
	MCPURL         string        `yaml:"mcp_url"`
	RenderTool     string        `yaml:"render_tool"`
	ToolTimeout    time.Duration `yaml:"tool_timeout"`
	RedisURL       string        `yaml:"redis_url"`
	NATSURL        string        `yaml:"nats_url"`
	Surface        string        `yaml:"surface"`
	ChannelPrefix  string        `yaml:"channel_prefix"`
	ConfigFile     string        `yaml:"-"`
	LogLevel       string        `yaml:"log_level"`
}

// BindFlags populates the struct with defaults from environment variables and
// binds command line flags so main can call flag.Parse().
func (c *HostConfig) BindFlags() { c.bind(flag.CommandLine) }

func (c *HostConfig) bind(fs *flag.FlagSet) {
	c.ConfigFile = GetEnv("CONFIG_FILE", DefaultConfigPath("host.yaml"))
	c.LogLevel = GetEnv("LOG_LEVEL", "info")
	port, err := strconv.Atoi(GetEnv("PORT", "8080"))
	if err != nil {
		port = 8080
	}
	c.Port = port
	c.WSPath = GetEnv("WS_PATH", "/ui/connect")
	c.AllowedOrigins = splitList(GetEnv("ALLOWED_ORIGINS", ""))
	c.Origin = GetEnv("HOST_ORIGIN", "")
	c.MCPURL = GetEnv("MCP_URL", "")
	c.RenderTool = GetEnv("RENDER_TOOL", "")
	c.ToolTimeout, err = time.ParseDuration(GetEnv("TOOL_TIMEOUT", "60s"))
	if err != nil {
		c.ToolTimeout = time.Minute
	}
	c.RedisURL = GetEnv("REDIS_URL", "")
	c.NATSURL = GetEnv("NATS_URL", "")
	c.Surface = GetEnv("SURFACE", "default")
	c.ChannelPrefix = GetEnv("CHANNEL_PREFIX", "framelink")

	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "host config file path")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
	fs.IntVar(&c.Port, "port", c.Port, "HTTP listen port for the websocket endpoint, health and metrics")
	fs.StringVar(&c.WSPath, "ws-path", c.WSPath, "path surfaces use to establish WebSocket connections")
	fs.Func("allowed-origins", "comma separated CORS and websocket origin patterns", func(v string) error {
		c.AllowedOrigins = splitList(v)
		return nil
	})
	fs.StringVar(&c.Origin, "origin", c.Origin, "origin this host stamps on messages it posts to surfaces")
	fs.StringVar(&c.MCPURL, "mcp-url", c.MCPURL, "streamable HTTP URL of the MCP server providing tools")
	fs.StringVar(&c.RenderTool, "render-tool", c.RenderTool, "MCP tool whose structured content is pushed as render data; disabled when empty")
	fs.DurationVar(&c.ToolTimeout, "tool-timeout", c.ToolTimeout, "maximum duration of a single tool invocation")
	fs.StringVar(&c.RedisURL, "redis-url", c.RedisURL, "serve the surface over Redis pub/sub at this URL; disabled when empty")
	fs.StringVar(&c.NATSURL, "nats-url", c.NATSURL, "serve the surface over NATS at this URL; disabled when empty")
	fs.StringVar(&c.Surface, "surface", c.Surface, "surface name used for Redis and NATS channels")
	fs.StringVar(&c.ChannelPrefix, "channel-prefix", c.ChannelPrefix, "prefix for Redis channels and NATS subjects")
}

// LoadFile populates the config from a YAML file. Fields already set remain unless
// overwritten by corresponding entries in the file.
func (c *HostConfig) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, c)
}

// Addr returns the listen address for the HTTP server.
func (c HostConfig) Addr() string { return ":" + strconv.Itoa(c.Port) }

// OriginOrDefault returns the configured origin or one derived from the port.
func (c HostConfig) OriginOrDefault() string {
	if o := strings.TrimSpace(c.Origin); o != "" {
		return o
	}
	return "http://localhost" + c.Addr()
}
