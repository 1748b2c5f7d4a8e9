package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"shizhend/internal/capability"
	"shizhend/internal/config"
	"shizhend/internal/httpapi"
	"shizhend/internal/service"
)

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	log := newLogger(cfg.Log, cmd.ErrOrStderr())
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
	}
	return serve(ctx, cfg, log, ln)
}

// serve answers HTTP on ln while the model loads in the background. It
// returns when ctx is cancelled, the listener fails or the load fails; a
// failed load is fatal.
func serve(ctx context.Context, cfg config.Config, log zerolog.Logger, ln net.Listener) error {
	c, err := capability.FromConfig(cfg, log)
	if err != nil {
		return err
	}
	svc := service.New(c, service.Config{
		ModelName:   cfg.Model.Name,
		OwnedBy:     cfg.Model.OwnedBy,
		ServiceName: cfg.Model.ServiceName,
		CacheDir:    cfg.Model.CacheDir,
		VisionQuery: cfg.Model.VisionQuery,
		Logger:      log,
	})

	httpapi.SetLogger(log)
	httpapi.SetMaxBodyBytes(cfg.Server.MaxBodyBytes)
	httpapi.SetMaxUploadBytes(cfg.Server.MaxUploadBytes)
	httpapi.SetCORSOptions(cfg.Server.CORSEnabled, cfg.Server.CORSOrigins, nil, nil)

	// In-flight requests get the shutdown grace period before being cancelled.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetBaseContext(baseCtx)

	srv := &http.Server{
		Handler:           httpapi.NewMux(svc),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Str("backend", cfg.Runtime.Backend).Str("model", cfg.Model.Name).Msg("shizhend listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	loadErr := make(chan error, 1)
	go func() {
		if err := svc.Load(baseCtx); err != nil {
			loadErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-serveErr:
		runErr = fmt.Errorf("server error: %w", err)
	case err := <-loadErr:
		runErr = fmt.Errorf("model load failed: %w", err)
	}

	grace := time.Duration(cfg.Server.ShutdownSeconds) * time.Second
	sctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	cancelBase()
	if err := svc.Close(); err != nil {
		log.Warn().Err(err).Msg("model close error")
	}
	return runErr
}
