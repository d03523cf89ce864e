package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ppiankov/outagelens/internal/model"
	"github.com/ppiankov/outagelens/internal/notify"
	"github.com/ppiankov/outagelens/internal/schedule"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	watchCron    string
	watchMetrics string
	watchOnce    bool
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the pipeline on a cron schedule with metrics and alerts",
	Long: `Watch runs the full pipeline for every configured provider on a cron
schedule (six fields, seconds first). Runs never overlap. Each run rewrites
the reports, updates the Prometheus metrics endpoint and, when notifications
are enabled, sends a Telegram alert for every new high-scoring incident or
outage tracker spike.

Example:
  outagelens watch
  outagelens watch --cron "0 */5 * * * *" --metrics-addr :9464
  OUTAGELENS_NOTIFY_ENABLED=true TELEGRAM_BOT_TOKEN=... outagelens watch`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVar(&watchCron, "cron", "", "cron schedule (default: schedule.cron)")
	watchCmd.Flags().StringVar(&watchMetrics, "metrics-addr", "", "serve Prometheus metrics on this address (default: metrics.addr when enabled)")
	watchCmd.Flags().BoolVar(&watchOnce, "once", false, "run immediately before waiting for the schedule")
	watchCmd.Flags().StringSliceVarP(&providerNames, "provider", "p", nil, "provider to watch (repeatable, default: all configured)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if watchCron != "" {
		cfg.Schedule.Cron = watchCron
	}
	if watchMetrics != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = watchMetrics
	}
	providers, err := selectProviders(cfg, providerNames)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, appOptions{scrape: true, metrics: cfg.Metrics.Enabled})
	if err != nil {
		return err
	}
	defer a.Close()

	var notifier *notify.Notifier
	if cfg.Notify.Enabled {
		sender, err := notify.NewTelegramSender(cfg.Notify.Token)
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		notifier = notify.NewNotifier(sender, cfg.Notify.ChatID, cfg.Notify.ScoreThreshold, a.logger)
	}

	job := func(ctx context.Context) {
		results := runProviders(ctx, a, a.pipeline, providers)
		if err := reportResults(a, results); err != nil {
			a.logger.Warn("scheduled run finished with failures", zap.Error(err))
		}
		if notifier == nil {
			return
		}
		ordered := make([]*model.ProviderResult, 0, len(results))
		for _, p := range results.Providers() {
			ordered = append(ordered, results[p])
		}
		if _, err := notifier.Notify(ctx, ordered); err != nil {
			a.logger.Warn("notification interrupted", zap.Error(err))
		}
	}

	sched, err := schedule.New(cfg.Schedule.Cron, cfg.Schedule.Timezone, job, a.logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.metrics != nil {
		srv := a.metrics.NewServer(cfg.Metrics.Addr)
		go func() {
			if err := srv.Serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		a.logger.Info("serving metrics", zap.String("addr", cfg.Metrics.Addr))
	}

	printBanner("outagelens watch", cfg, providers)
	if watchOnce {
		job(ctx)
	}

	sched.Start()
	fmt.Fprintf(os.Stderr, "  Next run: %s\n", sched.Next().Format(time.RFC3339))
	<-ctx.Done()
	sched.Stop()
	return nil
}
