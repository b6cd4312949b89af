package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gaspardpetit/framelink/internal/bus"
	"github.com/gaspardpetit/framelink/internal/config"
	"github.com/gaspardpetit/framelink/internal/host"
	"github.com/gaspardpetit/framelink/internal/host/mcptools"
	"github.com/gaspardpetit/framelink/internal/logx"
	"github.com/gaspardpetit/framelink/internal/metrics"
	"github.com/gaspardpetit/framelink/internal/secret"
	"github.com/gaspardpetit/framelink/internal/server"
	"github.com/gaspardpetit/framelink/internal/transport/natsport"
	"github.com/gaspardpetit/framelink/internal/transport/redisport"
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

// logLinks records link requests; a headless host has nowhere to navigate.
type logLinks struct{}

func (logLinks) OpenLink(_ context.Context, url string) error {
	logx.Log.Info().Str("url", url).Msg("surface requested link")
	return nil
}

// logPrompts records prompts for the agent driving the conversation.
type logPrompts struct{}

func (logPrompts) HandlePrompt(_ context.Context, text string) (json.RawMessage, error) {
	logx.Log.Info().Str("prompt", text).Msg("surface submitted prompt")
	return json.RawMessage(`{"queued":true}`), nil
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	var cfg config.HostConfig
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
	metrics.SetBuildInfo(binaryName(), version, buildSHA, buildDate)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		logx.Log.Fatal().Err(err).Msg("host exited")
	}
}

func run(ctx context.Context, cfg config.HostConfig) error {
	hc := host.Config{Links: logLinks{}, Prompts: logPrompts{}, Timeout: cfg.ToolTimeout}
	if cfg.MCPURL != "" {
		dctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		inv, err := mcptools.Dial(dctx, cfg.MCPURL)
		cancel()
		if err != nil {
			return fmt.Errorf("connect MCP server %s: %w", secret.MaskURL(cfg.MCPURL), err)
		}
		defer func() { _ = inv.Close() }()
		hc.Tools = inv
		if cfg.RenderTool != "" {
			hc.RenderData = mcptools.ToolRenderData{Invoker: inv, Tool: cfg.RenderTool}
		}
	} else if cfg.RenderTool != "" {
		logx.Log.Warn().Str("tool", cfg.RenderTool).Msg("render tool ignored without an MCP server")
	}

	g, ctx := errgroup.WithContext(ctx)

	srv := &http.Server{Addr: cfg.Addr(), Handler: server.New(cfg, hc)}
	g.Go(func() error {
		logx.Log.Info().Str("addr", cfg.Addr()).Str("ws_path", cfg.WSPath).Str("origin", cfg.OriginOrDefault()).Msg("host listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if cfg.RedisURL != "" {
		g.Go(func() error { return serveRedis(ctx, cfg, hc) })
	}
	if cfg.NATSURL != "" {
		g.Go(func() error { return serveNATS(ctx, cfg, hc) })
	}
	return g.Wait()
}

func serveRedis(ctx context.Context, cfg config.HostConfig, hc host.Config) error {
	client, err := redisport.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()
	port, err := redisport.NewHost(ctx, client, cfg.ChannelPrefix, cfg.Surface, cfg.OriginOrDefault())
	if err != nil {
		return err
	}
	toHost, _ := redisport.Channels(cfg.ChannelPrefix, cfg.Surface)
	logx.Log.Info().Str("url", secret.MaskURL(cfg.RedisURL)).Str("channel", toHost).Msg("serving surface over redis")
	serve(ctx, port, hc)
	return nil
}

func serveNATS(ctx context.Context, cfg config.HostConfig, hc host.Config) error {
	nc, err := natsport.Connect(cfg.NATSURL, "framelink-host")
	if err != nil {
		return err
	}
	defer nc.Close()
	port, err := natsport.NewHost(nc, cfg.ChannelPrefix, cfg.Surface, cfg.OriginOrDefault())
	if err != nil {
		return err
	}
	toHost, _ := natsport.Subjects(cfg.ChannelPrefix, cfg.Surface)
	logx.Log.Info().Str("subject", toHost).Msg("serving surface over NATS")
	serve(ctx, port, hc)
	return nil
}

// serve runs a host on tr until ctx is done.
func serve(ctx context.Context, tr bus.Transport, hc host.Config) {
	h := host.New(tr, hc)
	metrics.SurfaceConnected()
	<-ctx.Done()
	_ = h.Close()
	_ = tr.Close()
	metrics.SurfaceDisconnected()
}
