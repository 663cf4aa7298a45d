/*
 * AuthGate
 * Copyright (C) 2025  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package service assembles the authgate daemon: it opens storage, seeds
// the built-in roles, builds the token key, the auth server, the decision
// engine and the web handler, and supervises the HTTP listeners and the
// background sweeper.
//
// Components are wired explicitly in New; every dependency is passed by
// hand so the construction graph reads top to bottom.
package service

import (
	"context"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/gravitational/authgate"
	"github.com/gravitational/authgate/lib/auth"
	"github.com/gravitational/authgate/lib/auth/webauthn"
	"github.com/gravitational/authgate/lib/authz"
	"github.com/gravitational/authgate/lib/defaults"
	"github.com/gravitational/authgate/lib/jwt"
	"github.com/gravitational/authgate/lib/storage"
	logutils "github.com/gravitational/authgate/lib/utils/log"
	"github.com/gravitational/authgate/lib/web"
)

var log = logutils.NewPackageLogger(authgate.ComponentKey, authgate.ComponentProcess)

// Config holds the daemon settings after file and environment parsing.
type Config struct {
	// DBPath is the sqlite database file path.
	DBPath string

	// ListenAddr is the address the web API listens on.
	ListenAddr string

	// DiagAddr is the address the diagnostic service (metrics, health and
	// profiling) listens on.
	DiagAddr string

	// SigningKey is the 32-byte symmetric token signing key.
	SigningKey []byte

	// RPID is the WebAuthn relying party ID, the domain all passkeys are
	// scoped to.
	RPID string

	// Origins are the full web origins permitted in ceremony responses.
	Origins []string

	// DriftTolerance bounds the accepted clock skew on token issue times.
	DriftTolerance time.Duration

	// SessionTTL is the default lifetime of minted sessions and tokens.
	SessionTTL time.Duration

	// ChallengeTTL is how long issued ceremony challenges stay redeemable.
	ChallengeTTL time.Duration

	// Clock is used to control time across the daemon.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (cfg *Config) CheckAndSetDefaults() error {
	if len(cfg.SigningKey) == 0 {
		return trace.BadParameter("missing parameter SigningKey")
	}
	if cfg.RPID == "" {
		return trace.BadParameter("missing parameter RPID")
	}
	if len(cfg.Origins) == 0 {
		return trace.BadParameter("missing parameter Origins")
	}
	if cfg.DBPath == "" {
		cfg.DBPath = defaults.DataDir + "/" + defaults.DBFileName
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = net.JoinHostPort(defaults.BindIP, strconv.Itoa(defaults.HTTPListenPort))
	}
	if cfg.DiagAddr == "" {
		cfg.DiagAddr = net.JoinHostPort(defaults.Localhost, strconv.Itoa(defaults.DiagnosticPort))
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Service is an assembled authgate daemon.
type Service struct {
	cfg Config

	storage    *storage.Storage
	authServer *auth.Server
	handler    *web.Handler
	diag       http.Handler
}

// New builds the daemon from cfg: storage first, then the token key, the
// ceremony and decision engines, and finally the web handler on top. The
// store is seeded with the built-in roles before the service is returned,
// so a returned Service is always ready to serve.
func New(ctx context.Context, cfg Config) (*Service, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}

	store, err := storage.New(ctx, storage.Config{
		Path:  cfg.DBPath,
		Clock: cfg.Clock,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := auth.Init(ctx, auth.InitConfig{Storage: store}); err != nil {
		store.Close()
		return nil, trace.Wrap(err)
	}

	tokens, err := jwt.New(&jwt.Config{
		SigningKey:     cfg.SigningKey,
		DriftTolerance: cfg.DriftTolerance,
		Clock:          cfg.Clock,
	})
	if err != nil {
		store.Close()
		return nil, trace.Wrap(err)
	}

	authServer, err := auth.NewServer(&auth.Config{
		Storage: store,
		Tokens:  tokens,
		Webauthn: &webauthn.Config{
			RPID:         cfg.RPID,
			RPOrigins:    cfg.Origins,
			ChallengeTTL: cfg.ChallengeTTL,
		},
		SessionTTL: cfg.SessionTTL,
		Clock:      cfg.Clock,
	})
	if err != nil {
		store.Close()
		return nil, trace.Wrap(err)
	}

	engine, err := authz.NewEngine(&authz.Config{
		AccessPoint: store,
		Clock:       cfg.Clock,
	})
	if err != nil {
		store.Close()
		return nil, trace.Wrap(err)
	}

	handler, err := web.NewHandler(web.Config{
		AuthServer: authServer,
		Authz:      engine,
		Clock:      cfg.Clock,
	})
	if err != nil {
		store.Close()
		return nil, trace.Wrap(err)
	}

	return &Service{
		cfg:        cfg,
		storage:    store,
		authServer: authServer,
		handler:    handler,
		diag:       newDiagnosticHandler(store),
	}, nil
}

// Handler returns the web API handler. Exposed for tests that drive the
// API without binding sockets.
func (s *Service) Handler() http.Handler {
	return s.handler
}

// Run serves the web API and the diagnostic endpoint and runs the sweeper
// until ctx is canceled, then drains in-flight requests and closes
// storage. A canceled context is a clean shutdown, not an error.
func (s *Service) Run(ctx context.Context) error {
	apiListener, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return trace.Wrap(err, "listening on %v", s.cfg.ListenAddr)
	}
	diagListener, err := net.Listen("tcp", s.cfg.DiagAddr)
	if err != nil {
		apiListener.Close()
		return trace.Wrap(err, "listening on %v", s.cfg.DiagAddr)
	}

	apiServer := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: defaults.ReadHeadersTimeout,
		IdleTimeout:       defaults.IdleTimeout,
	}
	diagServer := &http.Server{
		Handler:           s.diag,
		ReadHeaderTimeout: defaults.ReadHeadersTimeout,
		IdleTimeout:       defaults.IdleTimeout,
	}

	log.InfoContext(ctx, "Starting authgate.",
		"version", authgate.Version,
		"listen_addr", apiListener.Addr().String(),
		"diag_addr", diagListener.Addr().String())

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := apiServer.Serve(apiListener); err != http.ErrServerClosed {
			return trace.Wrap(err)
		}
		return nil
	})
	group.Go(func() error {
		if err := diagServer.Serve(diagListener); err != http.ErrServerClosed {
			return trace.Wrap(err)
		}
		return nil
	})
	group.Go(func() error {
		s.authServer.RunPeriodicOperations(groupCtx)
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		log.InfoContext(ctx, "Shutting down.")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaults.ShutdownTimeout)
		defer cancel()
		apiServer.Shutdown(shutdownCtx)
		diagServer.Shutdown(shutdownCtx)
		return nil
	})

	err = group.Wait()
	if closeErr := s.storage.Close(); closeErr != nil {
		log.WarnContext(ctx, "Failed to close storage.", "error", closeErr)
	}
	return trace.Wrap(err)
}

// Close releases the service's resources without serving. Run closes them
// itself; Close is for the construction-only paths.
func (s *Service) Close() error {
	return trace.Wrap(s.storage.Close())
}

// newDiagnosticHandler serves metrics, a liveness probe and the profiling
// endpoints. The diagnostic listener binds to localhost by default and is
// never authenticated.
func newDiagnosticHandler(store *storage.Storage) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			http.Error(w, "database is not reachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}
