package config

import (
	"flag"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ProbeConfig holds configuration for the surface-side probe client.
type ProbeConfig struct {
	HostURL        string        `yaml:"host_url"`
	TrustedOrigin  string        `yaml:"trusted_origin"`
	Origin         string        `yaml:"origin"`
	Type           string        `yaml:"type"`
	ToolName       string        `yaml:"tool_name"`
	Params         string        `yaml:"params"`
	URL            string        `yaml:"url"`
	Prompt         string        `yaml:"prompt"`
	WaitRenderData bool          `yaml:"wait_render_data"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Reconnect      bool          `yaml:"reconnect"`
	ConfigFile     string        `yaml:"-"`
	LogLevel       string        `yaml:"log_level"`
}

// BindFlags populates the struct with defaults from environment variables and
// binds command line flags so main can call flag.Parse().
func (c *ProbeConfig) BindFlags() { c.bind(flag.CommandLine) }

func (c *ProbeConfig) bind(fs *flag.FlagSet) {
	c.ConfigFile = GetEnv("CONFIG_FILE", DefaultConfigPath("probe.yaml"))
	c.LogLevel = GetEnv("LOG_LEVEL", "info")
	c.HostURL = GetEnv("HOST_URL", "ws://localhost:8080/ui/connect")
	c.TrustedOrigin = GetEnv("TRUSTED_ORIGIN", "")
	c.Origin = GetEnv("SURFACE_ORIGIN", "framelink://probe")
	c.Type = GetEnv("MESSAGE_TYPE", "tool")
	c.ToolName = GetEnv("TOOL_NAME", "")
	c.Params = GetEnv("TOOL_PARAMS", "{}")
	c.URL = GetEnv("LINK_URL", "")
	c.Prompt = GetEnv("PROMPT", "")
	if v, err := strconv.ParseFloat(GetEnv("REQUEST_TIMEOUT", "30"), 64); err == nil {
		c.RequestTimeout = time.Duration(v * float64(time.Second))
	} else {
		c.RequestTimeout = 30 * time.Second
	}
	if b, err := strconv.ParseBool(GetEnv("RECONNECT", "false")); err == nil {
		c.Reconnect = b
	}
	if b, err := strconv.ParseBool(GetEnv("WAIT_RENDER_DATA", "false")); err == nil {
		c.WaitRenderData = b
	}

	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "probe config file path")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
	fs.StringVar(&c.HostURL, "host-url", c.HostURL, "host WebSocket URL (e.g. ws://localhost:8080/ui/connect)")
	fs.StringVar(&c.TrustedOrigin, "trusted-origin", c.TrustedOrigin, "only accept replies from this origin; derived from --host-url when empty, * accepts any")
	fs.StringVar(&c.Origin, "origin", c.Origin, "origin the probe presents to the host")
	fs.StringVar(&c.Type, "type", c.Type, "message type to send (tool, link, prompt)")
	fs.StringVar(&c.ToolName, "tool", c.ToolName, "tool name for --type tool")
	fs.StringVar(&c.Params, "params", c.Params, "JSON object of tool parameters")
	fs.StringVar(&c.URL, "url", c.URL, "URL for --type link")
	fs.StringVar(&c.Prompt, "prompt", c.Prompt, "prompt text for --type prompt")
	fs.BoolVar(&c.WaitRenderData, "wait-render-data", c.WaitRenderData, "wait for the host to push render data before sending")
	fs.Func("request-timeout", "request timeout in seconds for the host reply", func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		c.RequestTimeout = time.Duration(f * float64(time.Second))
		return nil
	})
	fs.BoolVar(&c.Reconnect, "reconnect", c.Reconnect, "retry connecting to the host on failure")
	fs.BoolVar(&c.Reconnect, "r", c.Reconnect, "short for --reconnect")
}

// LoadFile populates the config from a YAML file. Fields already set remain unless
// overwritten by corresponding entries in the file.
func (c *ProbeConfig) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, c)
}

// ExpectedOrigin returns the origin replies must come from. An explicit
// TrustedOrigin wins; otherwise the origin is derived from HostURL.
func (c ProbeConfig) ExpectedOrigin() string {
	if c.TrustedOrigin != "" {
		return c.TrustedOrigin
	}
	u, err := url.Parse(c.HostURL)
	if err != nil || u.Host == "" {
		return "*"
	}
	scheme := "http"
	if u.Scheme == "wss" || u.Scheme == "https" {
		scheme = "https"
	}
	return scheme + "://" + u.Host
}
