// Package api serves Prometheus metrics and JSON table snapshots over HTTP.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"firestige.xyz/netsensor/internal/log"
	"firestige.xyz/netsensor/internal/registry"
	"firestige.xyz/netsensor/internal/table/icmp"
	"firestige.xyz/netsensor/internal/table/tcprtt"
	"firestige.xyz/netsensor/internal/table/topology"
	"firestige.xyz/netsensor/internal/table/traffic"
)

// Options configures a Server. Nil tables answer 404.
type Options struct {
	Listen   string
	Registry *registry.Registry
	Traffic  *traffic.Table
	Topology *topology.Table
	ICMP     *icmp.Table
	RTT      *tcprtt.Table
	Monitors func() map[string]string // Interface -> init status
	Logger   log.Logger
	Now      func() time.Time
}

// Server is the diagnostics HTTP server.
type Server struct {
	opts   Options
	logger log.Logger
	router *mux.Router
	server *http.Server
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Server{opts: opts, logger: opts.Logger}
	s.router = s.routes()
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/v1/health", s.health).Methods(http.MethodGet)

	v := r.PathPrefix("/v1/interfaces/{iface}").Subrouter()
	v.HandleFunc("/traffic", s.traffic).Methods(http.MethodGet)
	v.HandleFunc("/topology/internal", s.topology(true)).Methods(http.MethodGet)
	v.HandleFunc("/topology/external", s.topology(false)).Methods(http.MethodGet)
	v.HandleFunc("/icmp", s.icmp).Methods(http.MethodGet)
	v.HandleFunc("/rtt", s.rtt).Methods(http.MethodGet)
	return r
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return fmt.Errorf("api server listen %s: %w", s.opts.Listen, err)
	}
	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.WithField("addr", ln.Addr().String()).Info("starting api server")
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("api server error")
		}
	}()
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown failed: %w", err)
	}
	s.logger.Info("api server stopped")
	return nil
}
