package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/spf13/cobra"

	"github.com/roach88/docsync/internal/config"
	"github.com/roach88/docsync/internal/replication"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Once    bool
	Timeout time.Duration
}

// SyncSummary reports a finished --once run.
type SyncSummary struct {
	Identifier string  `json:"identifier"`
	Collection string  `json:"collection"`
	Pulled     float64 `json:"pulled"`
	Pushed     float64 `json:"pushed"`
	Conflicts  float64 `json:"conflicts"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync <config.yaml>",
		Short: "Replicate a fork collection with its master",
		Long: `Run the push and pull loops described by a replication config.

Without --once the replication runs until interrupted (SIGINT/SIGTERM),
following changes on both sides. With --once it stops as soon as both
sides are in sync.

Examples:
  docsync sync ./replication.yaml
  docsync sync ./replication.yaml --once --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Once, "once", false, "stop once fork and master are in sync")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "give up waiting for --once after this long (0 = no limit)")

	return cmd
}

func runSync(opts *SyncOptions, configPath string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	logger := slog.Default()

	cfg, err := config.Load(configPath)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "invalid config", err)
	}
	collection, err := loadCollection(cfg.Schemas, cfg.Collection)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeSchema, "failed to load schema", err)
	}

	fork, err := openStore("fork", cfg.Fork, collection)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeStorage, "failed to open fork", err)
	}
	defer fork.Close()
	master, err := openStore("master", cfg.Master, collection)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeStorage, "failed to open master", err)
	}
	defer master.Close()
	// Closed before the fork so its database is still open.
	meta, err := openMeta(cfg, fork)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeStorage, "failed to open replication meta", err)
	}
	defer meta.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := replication.NewMetrics(reg)
	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, reg, logger)
		defer srv.Close()
	}

	handler := replication.MasterWins
	if cfg.ConflictStrategy == config.ForkWins {
		handler = replication.ForkWins
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	state, err := replication.Replicate(ctx, replication.Input{
		Identifier:      cfg.Identifier,
		Fork:            fork,
		Master:          master,
		Meta:            meta,
		PullBatchSize:   cfg.PullBatchSize,
		PushBatchSize:   cfg.PushBatchSize,
		ConflictHandler: handler,
		Logger:          logger,
		Metrics:         metrics,
		RetryTime:       cfg.RetryTime,
		MaxRetryTime:    cfg.MaxRetryTime,
	})
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeReplication, "failed to start replication", err)
	}
	defer state.Cancel()

	logger.Info("replication started",
		"identifier", cfg.Identifier,
		"collection", cfg.Collection,
		"fork", fork.DatabaseName(),
		"master", master.DatabaseName(),
	)

	errDone := make(chan struct{})
	go func() {
		defer close(errDone)
		for err := range state.Errors() {
			logger.Error("replication error", "code", replication.CodeOf(err), "error", err)
		}
	}()

	if !opts.Once {
		<-state.Canceled()
		<-errDone
		logger.Info("replication stopped")
		return nil
	}

	waitCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	syncErr := state.AwaitInSync(waitCtx)
	state.Cancel()
	<-errDone
	if syncErr != nil {
		return formatter.Fail(ExitFailure, ErrCodeReplication, "replication did not reach sync", syncErr)
	}

	summary := SyncSummary{
		Identifier: cfg.Identifier,
		Collection: cfg.Collection,
		Pulled:     counterValue(metrics.Documents, replication.DirectionPull),
		Pushed:     counterValue(metrics.Documents, replication.DirectionPush),
		Conflicts: counterValue(metrics.Conflicts, replication.DirectionPull) +
			counterValue(metrics.Conflicts, replication.DirectionPush),
	}
	if formatter.Format == "json" {
		return formatter.Success(summary)
	}
	fmt.Fprintf(formatter.Writer, "✓ in sync: pulled %.0f, pushed %.0f, %.0f conflict(s)\n",
		summary.Pulled, summary.Pushed, summary.Conflicts)
	return nil
}

// serveMetrics exposes reg on addr until the returned server is closed.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return srv
}

func counterValue(vec *prometheus.CounterVec, direction replication.Direction) float64 {
	var m dto.Metric
	if err := vec.WithLabelValues(string(direction)).Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
