// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/credgate/internal/auth"
	"github.com/holomush/credgate/internal/config"
	"github.com/holomush/credgate/internal/store"
	"github.com/holomush/credgate/internal/web"
	"github.com/holomush/credgate/pkg/errutil"
)

const (
	shutdownTimeout  = 5 * time.Second
	readinessTimeout = 2 * time.Second
)

func newServeCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the sign-up and login API",
		Long: `Serve the sign-up and login HTTP API, plus metrics and health probes
on a separate address.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := prepare(cmd)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cmd, cfg, deps, logger)
		},
	}

	cmd.Flags().String("addr", "127.0.0.1:8080", "API listen address")
	cmd.Flags().String("metrics-addr", "127.0.0.1:9100", "metrics/health HTTP address (empty = disabled)")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, cfg *config.Config, deps *Deps, logger *slog.Logger) error {
	logger.Info("starting credgate",
		"addr", cfg.Server.Addr,
		"authenticators", cfg.Authenticators(),
	)

	b, err := openBackend(ctx, cfg, deps, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	if err := b.store.EnsureSchema(ctx); err != nil {
		// Sign-up retries this; a read-only role can still log users in.
		errutil.LogWarn(logger, "could not ensure credential schema", err)
	}

	identities := auth.NewIdentityRegistry()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	routerDeps := web.Deps{
		Signup:        b.store,
		Authenticator: b.gateway,
		Identities:    identities,
		Throttle:      auth.NewLoginThrottle(),
		Logger:        logger,
	}

	var obsServer ObservabilityServer
	if cfg.Server.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Server.MetricsAddr, store.Ready(b.db, readinessTimeout), logger)
		obsServer.TrackIdentities(identities)
		if m := obsServer.Metrics(); m != nil {
			routerDeps.Observer = m
		}
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.Code("SERVE_START_FAILED").With("server", "observability").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability", logger)
		logger.Info("observability server started", "addr", obsServer.Addr())
	}
	stopObservability := func(ctx context.Context) {
		if obsServer == nil {
			return
		}
		if err := obsServer.Stop(ctx); err != nil {
			errutil.LogWarn(logger, "error stopping observability server", err)
		}
	}

	router, err := web.NewRouter(routerDeps)
	if err != nil {
		stopObservability(context.Background())
		return err
	}

	listener, err := deps.ListenerFactory("tcp", cfg.Server.Addr)
	if err != nil {
		stopObservability(context.Background())
		return oops.Code("SERVE_LISTEN_FAILED").With("addr", cfg.Server.Addr).Wrap(err)
	}

	httpServer := &http.Server{
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}
	apiErrChan := make(chan error, 1)
	serveDone := make(chan struct{})
	go func() {
		defer close(serveDone)
		if serveErr := httpServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			apiErrChan <- serveErr
		}
	}()
	go monitorServerErrors(ctx, cancel, apiErrChan, "api", logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Printf("credgate listening on %s\n", listener.Addr())
	logger.Info("credgate ready", "addr", listener.Addr().String())

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping api server", "error", err)
	}
	<-serveDone
	stopObservability(shutdownCtx)

	logger.Info("shutdown complete", "identities", identities.Len())
	return nil
}

// monitorServerErrors cancels ctx when a server reports an error. It exits
// when an error arrives, the channel closes, or ctx is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			errutil.LogError(logger.With("server", serverName), "server error, triggering shutdown", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
