package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"sheetmap/internal/api"
	"sheetmap/internal/config"
	fileutil "sheetmap/internal/file"
	"sheetmap/internal/jobs"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var port int
	var dataDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local processing service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Server.Port = port
			}
			if dataDir != "" {
				cfg.Server.DataDir = dataDir
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
			if err != nil {
				return fmt.Errorf("listen: %w", err)
			}
			return serve(runCtx, cfg.Server, ln)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "Listen port (overrides server.port)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Data directory (overrides server.data_dir)")
	return cmd
}

// serve runs the service on ln until ctx is cancelled, then shuts down
// and waits for running jobs.
func serve(ctx context.Context, cfg config.ServerConfig, ln net.Listener) error {
	if err := fileutil.EnsureDir(cfg.DataDir); err != nil {
		return fmt.Errorf("ensure data dir %s: %w", cfg.DataDir, err)
	}

	manager := buildJobManager(cfg)
	baseCtx, baseCancel := context.WithCancel(context.Background())
	manager.SetBaseContext(baseCtx)

	srv := &http.Server{
		Handler:           setupRouter(manager),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	log.Info().Str("addr", ln.Addr().String()).Str("data_dir", cfg.DataDir).Msg("processing service listening")

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case serveErr = <-errCh:
		log.Error().Err(serveErr).Msg("http server failed")
	}

	gracefulShutdown(srv, baseCancel, manager, shutdownTimeout)
	return serveErr
}

func setupRouter(manager *jobs.Manager) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(api.ZerologLogger("/status/"))
	api.NewAPI(manager).RegisterRoutes(r)
	return r
}

func buildJobManager(cfg config.ServerConfig) *jobs.Manager {
	m := jobs.NewManagerWithOptions(jobs.Options{
		DataDir:            cfg.DataDir,
		AllowedExtensions:  cfg.AllowedExtensions,
		MaxConcurrentTasks: cfg.MaxConcurrentTasks,
		StepDelay:          cfg.StepDelay,
	})
	if err := m.LoadFromDisk(); err != nil {
		log.Warn().Err(err).Msg("failed to load persisted jobs")
	}
	return m
}

func gracefulShutdown(srv *http.Server, cancelBase context.CancelFunc, m *jobs.Manager, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}

	cancelBase()
	if !m.WaitAll(ctx) {
		log.Warn().Msg("background workers did not finish before timeout")
	}
	log.Info().Msg("server exited cleanly")
}
