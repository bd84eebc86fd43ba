package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	zerrors "github.com/sprezz-net/sprezz/pkg/errors"
	"github.com/sprezz-net/sprezz/pkg/httpapi"
	"github.com/sprezz-net/sprezz/pkg/zot"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	var (
		address  string
		channels []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the hub",
		Long:  `Serve zot-info discovery, the hub callback endpoint, /metrics and /healthz.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()
			if address != "" {
				cfg.Server.Address = address
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			eng, err := openEngine(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer eng.Close()

			for _, spec := range channels {
				if err := ensureChannel(ctx, eng.zot, spec); err != nil {
					return err
				}
			}

			srv := &http.Server{
				Addr: cfg.Server.Address,
				Handler: httpapi.New(httpapi.Options{
					Zot:      eng.zot,
					Logger:   logger,
					Gatherer: eng.metrics,
				}),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("Starting hub",
					zap.String("address", cfg.Server.Address),
					zap.String("site_url", eng.zot.Site().URL),
					zap.String("callback", eng.zot.Site().Callback))
				if cfg.Server.TLSCert != "" {
					errCh <- srv.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey)
					return
				}
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info("Shutting down hub")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "listen address (overrides server.address)")
	cmd.Flags().StringSliceVar(&channels, "channel", nil, "channel to create on start, as nickname[:Display Name]")

	return cmd
}

// parseChannelSpec splits a nickname[:Display Name] flag value.
func parseChannelSpec(spec string) (nickname, name string) {
	nickname, name, _ = strings.Cut(spec, ":")
	return strings.TrimSpace(nickname), strings.TrimSpace(name)
}

// ensureChannel creates the channel described by spec unless it exists.
func ensureChannel(ctx context.Context, z *zot.Zot, spec string) error {
	nickname, name := parseChannelSpec(spec)
	_, err := z.AddChannel(ctx, nickname, name)
	if zerrors.Is(err, zerrors.ErrDuplicateChannel) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create channel %q: %w", nickname, err)
	}
	return nil
}
