package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/storefront-payments/internal/payment"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Start background workers that keep order payments consistent with the gateway.`,
}

var reconcileWorkerCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Poll the gateway for stale pending payments",
	Long:  `Periodically query the gateway for pending sessions that neither the callback nor the webhook settled.`,
	Run: func(cmd *cobra.Command, args []string) {
		startReconcileWorker()
	},
}

var purgeWebhooksCmd = &cobra.Command{
	Use:   "purge-webhooks",
	Short: "Delete expired webhook dedup keys",
	Run: func(cmd *cobra.Command, args []string) {
		purgeWebhookKeys()
	},
}

var (
	maxWorkers   int
	batchSize    int
	staleAfter   time.Duration
	pollInterval time.Duration
	runOnce      bool
)

// purger is implemented by the dedup stores that do not expire keys on their own.
type purger interface {
	Purge(ctx context.Context) (int64, error)
}

func startReconcileWorker() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := initializeDependencies(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	defer deps.Close()

	cfg := deps.Config.Reconcile
	sweeperConfig := payment.SweeperConfig{
		StaleAfter: getDurationFlag(staleAfter, cfg.StaleAfter),
		Interval:   getDurationFlag(pollInterval, cfg.Interval),
		BatchSize:  getIntFlag(batchSize, cfg.BatchSize),
		MaxWorkers: getIntFlag(maxWorkers, cfg.MaxWorkers),
	}

	deps.Logger.Info("starting reconcile worker",
		"stale_after", sweeperConfig.StaleAfter,
		"interval", sweeperConfig.Interval,
		"batch_size", sweeperConfig.BatchSize,
		"max_workers", sweeperConfig.MaxWorkers,
		"once", runOnce)

	sweeper := payment.NewSweeper(deps.Reconciler, sweeperConfig, deps.Logger)

	if runOnce {
		summary, err := sweeper.RunOnce(ctx)
		if err != nil {
			deps.Logger.Error("reconcile sweep failed", "error", err)
			os.Exit(1)
		}
		fmt.Printf("checked=%d completed=%d failed=%d pending=%d errors=%d\n",
			summary.Checked, summary.Completed, summary.Failed, summary.Pending, summary.Errors)
		return
	}

	if err := sweeper.Run(ctx); err != nil && ctx.Err() == nil {
		deps.Logger.Error("reconcile worker stopped", "error", err)
		os.Exit(1)
	}
	deps.Logger.Info("reconcile worker shutdown complete")
}

func purgeWebhookKeys() {
	ctx := context.Background()
	deps, err := initializeDependencies(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	defer deps.Close()

	p, ok := deps.Dedup.(purger)
	if !ok {
		deps.Logger.Info("dedup backend expires keys itself, nothing to purge", "backend", deps.Config.Webhook.DedupBackend)
		return
	}

	n, err := p.Purge(ctx)
	if err != nil {
		deps.Logger.Error("purge webhook keys failed", "error", err)
		os.Exit(1)
	}
	deps.Logger.Info("purged expired webhook keys", "count", n, "backend", deps.Config.Webhook.DedupBackend)
}

func getIntFlag(flagValue, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func getDurationFlag(flagValue, configValue time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func init() {
	reconcileWorkerCmd.Flags().IntVar(&maxWorkers, "max-workers", 0, "Maximum number of concurrent status queries (overrides config)")
	reconcileWorkerCmd.Flags().IntVar(&batchSize, "batch-size", 0, "Orders examined per sweep (overrides config)")
	reconcileWorkerCmd.Flags().DurationVar(&staleAfter, "stale-after", 0, "Age after which a pending session is polled (overrides config)")
	reconcileWorkerCmd.Flags().DurationVar(&pollInterval, "interval", 0, "Time between sweeps (overrides config)")
	reconcileWorkerCmd.Flags().BoolVar(&runOnce, "once", false, "Run a single sweep and exit")

	workerCmd.AddCommand(reconcileWorkerCmd)
	workerCmd.AddCommand(purgeWebhooksCmd)

	rootCmd.AddCommand(workerCmd)
}
