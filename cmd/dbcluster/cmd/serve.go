package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	cluster "github.com/eth0jp/go-dbcluster"
	"github.com/eth0jp/go-dbcluster/health"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve pool status and metrics",
	Long: `Keep the pool open and expose its state.

The server will:
- Serve /status (JSON, 503 when no node is connected) and /healthz
- Serve Prometheus metrics on /metrics
- Answer status requests on dbcluster.<pool>.status when --nats is set
- Publish node events on dbcluster.<pool>.events.<type> when --nats is set

Example:
  dbcluster serve --config /etc/dbcluster/pool.yaml --addr :8080`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", ":8080", "HTTP listen address")
	serveCmd.Flags().Duration("probe-interval", 10*time.Second, "How often to run node selection to drive reconnects")
	serveCmd.Flags().Bool("publish-selections", false, "Also publish node_selected events")

	_ = viper.BindPFlag("http_addr", serveCmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("probe_interval", serveCmd.Flags().Lookup("probe-interval"))
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger(slog.LevelInfo)

	// Create context that cancels on interrupt
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := cluster.NewMetrics()
	opts := []cluster.Option{cluster.WithMetrics(metrics)}

	var nc *nats.Conn
	if url := getNATSURL(); url != "" {
		natsOpts := []nats.Option{nats.Name("dbcluster-serve"), nats.MaxReconnects(-1)}
		if creds := viper.GetString("nats_creds"); creds != "" {
			natsOpts = append(natsOpts, nats.UserCredentials(creds))
		}
		var err error
		nc, err = nats.Connect(url, natsOpts...)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer nc.Close()

		pub := health.NewPublisher(nc, logger)
		pub.PublishSelections, _ = cmd.Flags().GetBool("publish-selections")
		opts = append(opts, cluster.WithObserver(pub))
	}

	pool, err := openPool(ctx, logger, opts...)
	if err != nil {
		return err
	}
	defer pool.Close()

	if nc != nil {
		checker, err := health.NewChecker(health.Config{
			Pool:            pool.Name(),
			NATSURLs:        strings.Split(getNATSURL(), ","),
			NATSCredentials: viper.GetString("nats_creds"),
			Logger:          logger,
		}, pool)
		if err != nil {
			return err
		}
		if err := checker.Start(ctx); err != nil {
			return err
		}
		defer checker.Stop()
	}

	mux := http.NewServeMux()
	mux.Handle("/status", cluster.StatusHandler(pool))
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              viper.GetString("http_addr"),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	go probe(ctx, pool, viper.GetDuration("probe_interval"), logger)

	logger.Info("serving pool", "pool", pool.Name(), "addr", srv.Addr)

	// Wait for shutdown or error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// probe runs a selection every interval so dead nodes get their background
// reconnects even when no traffic flows through this process.
func probe(ctx context.Context, pool *cluster.Pool, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := pool.SelectActiveNode(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("probe selection failed", "error", err)
			}
		}
	}
}
