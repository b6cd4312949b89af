package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gaspardpetit/framelink/internal/bridge"
	"github.com/gaspardpetit/framelink/internal/config"
	"github.com/gaspardpetit/framelink/internal/logx"
	"github.com/gaspardpetit/framelink/internal/reconnect"
	"github.com/gaspardpetit/framelink/internal/schema"
	"github.com/gaspardpetit/framelink/internal/transport/wsport"
	"github.com/gaspardpetit/framelink/internal/uiwire"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

func binaryName() string {
	b := filepath.Base(os.Args[0])
	if strings.HasPrefix(b, "framelink-") {
		return strings.TrimPrefix(b, "framelink-")
	}
	return b
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	var cfg config.ProbeConfig
	cfg.BindFlags()
	flag.Usage = func() {
		_, _ = fmt.Fprintf(flag.CommandLine.Output(), "framelink-%s version=%s sha=%s date=%s\n\n", binaryName(), version, buildSHA, buildDate)
		flag.PrintDefaults()
	}
	flag.Parse()
	if *showVersion {
		fmt.Printf("framelink-%s version=%s sha=%s date=%s\n", binaryName(), version, buildSHA, buildDate)
		return
	}
	if cfg.ConfigFile != "" {
		if err := cfg.LoadFile(cfg.ConfigFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			logx.Log.Fatal().Err(err).Str("path", cfg.ConfigFile).Msg("load config")
		}
	}
	logx.Configure(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, os.Stdout); err != nil {
		logx.Log.Fatal().Err(err).Msg("probe failed")
	}
}

func run(ctx context.Context, cfg config.ProbeConfig, out io.Writer) error {
	req, err := request(cfg)
	if err != nil {
		return err
	}

	var port *wsport.Port
	err = reconnect.Run(ctx, cfg.Reconnect, func(ctx context.Context) error {
		p, err := wsport.Dial(ctx, cfg.HostURL, cfg.Origin)
		if err != nil {
			logx.Log.Warn().Err(err).Str("url", cfg.HostURL).Msg("connect to host")
			return err
		}
		port = p
		return nil
	})
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() { _ = port.Close() }()
	logx.Log.Info().Str("url", cfg.HostURL).Str("trusted_origin", cfg.ExpectedOrigin()).Msg("connected to host")

	c := bridge.New(port, bridge.WithTrustedOrigin(cfg.ExpectedOrigin()))
	defer func() { _ = c.Close() }()

	if cfg.WaitRenderData {
		rctx, cancel := withTimeout(ctx, cfg)
		data, err := bridge.WaitForRenderData(rctx, c, schema.MustFor[any]())
		cancel()
		if err != nil {
			return fmt.Errorf("render data: %w", err)
		}
		if err := printJSON(out, "renderData", data); err != nil {
			return err
		}
	} else if err := bridge.Announce(ctx, c, nil); err != nil {
		return err
	}

	if req == nil {
		return nil
	}
	cctx, cancel := withTimeout(ctx, cfg)
	defer cancel()
	resp, err := c.Call(cctx, req)
	if err != nil {
		return fmt.Errorf("%s: %w", req.MessageType(), err)
	}
	return printJSON(out, "response", resp)
}

// request builds the message selected by cfg. An empty type sends nothing.
func request(cfg config.ProbeConfig) (uiwire.Request, error) {
	switch uiwire.MessageType(cfg.Type) {
	case "", "none":
		return nil, nil
	case uiwire.TypeTool:
		if cfg.ToolName == "" {
			return nil, errors.New("--tool is required for tool messages")
		}
		var params map[string]any
		if p := strings.TrimSpace(cfg.Params); p != "" {
			if err := json.Unmarshal([]byte(p), &params); err != nil {
				return nil, fmt.Errorf("parse --params: %w", err)
			}
		}
		return uiwire.Tool(cfg.ToolName, params), nil
	case uiwire.TypeLink:
		if cfg.URL == "" {
			return nil, errors.New("--url is required for link messages")
		}
		return uiwire.Link(cfg.URL), nil
	case uiwire.TypePrompt:
		if cfg.Prompt == "" {
			return nil, errors.New("--prompt is required for prompt messages")
		}
		return uiwire.Prompt(cfg.Prompt), nil
	default:
		return nil, fmt.Errorf("unknown message type %q", cfg.Type)
	}
}

// withTimeout applies the probe's request timeout. The bridge itself never
// times out a call.
func withTimeout(ctx context.Context, cfg config.ProbeConfig) (context.Context, context.CancelFunc) {
	if cfg.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, cfg.RequestTimeout)
}

func printJSON(w io.Writer, key string, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{key: v})
}
