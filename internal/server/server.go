// Package server exposes hosts to surfaces over HTTP: a websocket endpoint
// where each connection gets its own host, plus health, state and metrics.
package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gaspardpetit/framelink/internal/config"
	"github.com/gaspardpetit/framelink/internal/host"
	"github.com/gaspardpetit/framelink/internal/logx"
	"github.com/gaspardpetit/framelink/internal/metrics"
	"github.com/gaspardpetit/framelink/internal/transport/wsport"
)

// State is the body of GET /api/state.
type State struct {
	Origin   string `json:"origin"`
	Surfaces int64  `json:"surfaces"`
}

// New constructs the HTTP handler for the host. hc configures the host
// served on every websocket connection.
func New(cfg config.HostConfig, hc host.Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "OPTIONS"},
			AllowedHeaders: []string{"*"},
		}))
	}

	preg := prometheus.NewRegistry()
	metrics.Register(preg)

	var surfaces atomic.Int64
	origin := cfg.OriginOrDefault()
	patterns := originPatterns(cfg.AllowedOrigins)

	r.Get(cfg.WSPath, func(w http.ResponseWriter, req *http.Request) {
		port, err := wsport.Accept(w, req, origin, patterns)
		if err != nil {
			logx.Log.Warn().Err(err).Str("remote", req.RemoteAddr).Msg("websocket accept")
			return
		}
		surfaces.Add(1)
		metrics.SurfaceConnected()
		h := host.New(port, hc)
		logx.Log.Info().Str("origin", req.Header.Get("Origin")).Str("request_id", middleware.GetReqID(req.Context())).Msg("surface connected")
		defer func() {
			_ = h.Close()
			_ = port.Close()
			surfaces.Add(-1)
			metrics.SurfaceDisconnected()
			logx.Log.Info().Err(port.Err()).Msg("surface disconnected")
		}()
		select {
		case <-port.Done():
		case <-req.Context().Done():
		}
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Get("/api/state", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(State{Origin: origin, Surfaces: surfaces.Load()})
	})
	r.Handle("/metrics", promhttp.HandlerFor(preg, promhttp.HandlerOpts{}))
	return r
}

// originPatterns turns CORS origins into websocket origin host patterns.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			out = append(out, "*")
			continue
		}
		if strings.Contains(o, "://") {
			if u, err := url.Parse(o); err == nil && u.Host != "" {
				out = append(out, u.Host)
				continue
			}
		}
		out = append(out, o)
	}
	return out
}
