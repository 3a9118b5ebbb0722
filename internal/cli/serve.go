package cli

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

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/RichardoC/Pad-i/internal/api"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API until SIGINT or SIGTERM.

Endpoints:
  GET    /health
  GET    /api/stats
  GET    /api/conversations
  POST   /api/conversations
  PATCH  /api/conversations/{id}
  DELETE /api/conversations/{id}
  GET    /api/conversations/{id}/messages
  POST   /api/conversations/{id}/messages
  POST   /api/messages

Conversation endpoints require the X-User-ID header.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides PADI_ADDR)")
}

func runServe(cmd *cobra.Command, args []string) (err error) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, a.Close()) }()

	addr := cfg.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	handler := api.NewHandler(a.chat, a.responder, a.stats, a.store, logger.Named("api"))
	srv := &http.Server{
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      turnBudget(a.responder.Backends()),
		IdleTimeout:       120 * time.Second,
	}
	return serve(ctx, srv, ln, cfg.ShutdownTimeout, logger)
}

// serve runs srv on ln until ctx is cancelled, then shuts it down within
// shutdownTimeout.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, shutdownTimeout time.Duration, logger *zap.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		logger.Info("server stopped")
		return nil
	})

	return g.Wait()
}
