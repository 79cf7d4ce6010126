package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/ASHISH26940/recordstore/internal/config"
	"github.com/ASHISH26940/recordstore/internal/replication"
	"github.com/ASHISH26940/recordstore/internal/server"
	"github.com/ASHISH26940/recordstore/internal/upsert"
	"github.com/ASHISH26940/recordstore/internal/watch"
	"github.com/kjk/common/httplogger"
	"github.com/spf13/cobra"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Bootstrap bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts.RootOptions)
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Log.Level, opts.Verbose)
			slog.SetDefault(logger)
			return runServe(cmd.Context(), cfg, opts, logger)
		},
	}

	cmd.Flags().BoolVar(&opts.Bootstrap, "bootstrap", false, "bootstrap the raft cluster (run on the first node only)")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, opts *ServeOptions, logger *slog.Logger) error {
	st := openStore(cfg, logger)
	if err := st.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	svc := upsert.NewService(st, upsert.Options{
		KeyField:   cfg.Store.KeyField,
		StrictLoad: cfg.Store.StrictLoad,
		Logger:     logger,
	})

	srvOpts := server.Options{
		Reader:      svc,
		Upserter:    svc,
		StaticDir:   cfg.HTTP.StaticDir,
		CORSOrigins: cfg.HTTP.CORSOrigins,
		RateLimit:   cfg.HTTP.RateLimit,
		RateBurst:   cfg.HTTP.RateBurst,
		Logger:      logger,
	}

	if cfg.Raft.Enabled {
		if err := os.MkdirAll(cfg.Raft.DataDir, 0o755); err != nil {
			return fmt.Errorf("failed to create raft data directory: %w", err)
		}
		fsm, err := replication.NewFSM(svc, st, replication.IndexFile(cfg.Raft.DataDir), logger)
		if err != nil {
			return err
		}
		node, err := replication.NewNode(replication.Config{
			NodeID:       cfg.Raft.NodeID,
			Bind:         cfg.Raft.Bind,
			DataDir:      cfg.Raft.DataDir,
			Bootstrap:    opts.Bootstrap,
			ApplyTimeout: cfg.Raft.ApplyTimeout.Duration,
			LogLevel:     cfg.Log.Level,
		}, fsm, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := node.Shutdown(); err != nil {
				logger.Warn("Raft shutdown failed", "err", err)
			}
		}()
		srvOpts.Upserter = node
		srvOpts.Joiner = node
		logger.InfoContext(ctx, "Raft enabled", "node_id", cfg.Raft.NodeID, "bind", cfg.Raft.Bind, "applied_index", fsm.Applied())
	}

	if cfg.Store.Watch {
		if err := watch.New(st, logger, nil).Start(ctx); err != nil {
			logger.WarnContext(ctx, "Cannot watch store file", "err", err)
		}
	}

	if dir := cfg.Log.AccessLogDir; dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create access log directory: %w", err)
		}
		accessLog, err := httplogger.New(dir, nil)
		if err != nil {
			return fmt.Errorf("failed to open access log: %w", err)
		}
		defer func() { _ = accessLog.Close() }()
		srvOpts.AccessLog = accessLog
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server.New(srvOpts),
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "Server running", "url", "http://"+cfg.Addr(), "data_file", st.Path(), "key_field", svc.KeyField())
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.InfoContext(ctx, "Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		logger.InfoContext(ctx, "Server stopped")
	}
	return nil
}
