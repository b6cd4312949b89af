package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestResolveConfigPath(t *testing.T) {
	tests := []struct {
		name        string
		goos        string
		home        string
		programData string
		want        string
	}{
		{name: "linux", goos: "linux", home: "/home/user", want: "/etc/framelink/host.yaml"},
		{name: "darwin", goos: "darwin", home: "/Users/test", want: "/Users/test/Library/Application Support/framelink/host.yaml"},
		{name: "windows", goos: "windows", programData: "C:\\ProgramData\\", want: "C:/ProgramData/framelink/host.yaml"},
		{name: "windows default ProgramData", goos: "windows", want: "C:/ProgramData/framelink/host.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strings.ReplaceAll(ResolveConfigPath(tt.goos, tt.home, tt.programData, "host.yaml"), "\\", "/")
			if got != tt.want {
				t.Errorf("got %q want %q", got, tt.want)
			}
		})
	}
}

func TestHostConfigEnvAndFlags(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("TOOL_TIMEOUT", "5s")
	var c HostConfig
	fs := flag.NewFlagSet("host", flag.ContinueOnError)
	c.bind(fs)
	if c.Port != 9090 {
		t.Fatalf("port = %d", c.Port)
	}
	if len(c.AllowedOrigins) != 2 || c.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("origins = %v", c.AllowedOrigins)
	}
	if c.ToolTimeout != 5*time.Second {
		t.Fatalf("tool timeout = %v", c.ToolTimeout)
	}
	if err := fs.Parse([]string{"--surface", "editor", "--mcp-url", "http://127.0.0.1:7777/mcp"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Surface != "editor" || c.MCPURL != "http://127.0.0.1:7777/mcp" {
		t.Fatalf("flags not applied: %+v", c)
	}
	if c.OriginOrDefault() != "http://localhost:9090" {
		t.Fatalf("origin = %q", c.OriginOrDefault())
	}
}

func TestHostConfigLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host.yaml")
	doc := "port: 7000\nrender_tool: get_entry\ntool_timeout: 3s\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	c := HostConfig{Surface: "keep"}
	if err := c.LoadFile(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Port != 7000 || c.RenderTool != "get_entry" || c.ToolTimeout != 3*time.Second {
		t.Fatalf("unexpected config %+v", c)
	}
	if c.Surface != "keep" {
		t.Fatalf("unset field overwritten: %q", c.Surface)
	}
}

func TestProbeExpectedOrigin(t *testing.T) {
	tests := []struct {
		cfg  ProbeConfig
		want string
	}{
		{ProbeConfig{HostURL: "ws://localhost:8080/ui/connect"}, "http://localhost:8080"},
		{ProbeConfig{HostURL: "wss://host.example/ui/connect"}, "https://host.example"},
		{ProbeConfig{HostURL: "ws://localhost:8080", TrustedOrigin: "*"}, "*"},
		{ProbeConfig{HostURL: "::bad"}, "*"},
	}
	for _, tt := range tests {
		if got := tt.cfg.ExpectedOrigin(); got != tt.want {
			t.Fatalf("ExpectedOrigin(%q) = %q want %q", tt.cfg.HostURL, got, tt.want)
		}
	}
}

func TestProbeRequestTimeoutFlag(t *testing.T) {
	var c ProbeConfig
	fs := flag.NewFlagSet("probe", flag.ContinueOnError)
	c.bind(fs)
	if c.RequestTimeout != 30*time.Second {
		t.Fatalf("default timeout = %v", c.RequestTimeout)
	}
	if err := fs.Parse([]string{"--request-timeout", "1.5", "-r"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.RequestTimeout != 1500*time.Millisecond || !c.Reconnect {
		t.Fatalf("unexpected %+v", c)
	}
}
