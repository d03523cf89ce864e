package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var trainTimeout time.Duration

// trainCmd represents the train command
var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train, evaluate and store the verifier for each provider",
	Long: `Train fits the verifier on each provider's labeled incident history,
evaluates it on a stratified held-out split and stores it for later runs.
An existing model for the same feature schema is replaced.

Example:
  outagelens train
  outagelens train --provider telus`,
	Args: cobra.NoArgs,
	RunE: runTrain,
}

func init() {
	rootCmd.AddCommand(trainCmd)

	trainCmd.Flags().StringSliceVarP(&providerNames, "provider", "p", nil, "provider to train (repeatable, default: all configured)")
	trainCmd.Flags().DurationVar(&trainTimeout, "timeout", 30*time.Minute, "total timeout for training")
}

func runTrain(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	providers, err := selectProviders(cfg, providerNames)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, appOptions{forceTrain: true})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), trainTimeout)
	defer cancel()

	printBanner("outagelens train", cfg, providers)
	results := runProviders(ctx, a, a.pipeline.Trainer(), providers)

	for _, p := range results.Providers() {
		res := results[p]
		if res.Failed() {
			fmt.Fprintf(os.Stderr, "✗ %s: %s\n", p, res.Err)
			continue
		}
		m := res.Metrics
		fmt.Fprintf(os.Stderr, "✓ %s: balanced accuracy %.3f, accuracy %.3f (train %d / test %d) schema %s\n",
			p, m.BalancedAccuracy, m.Accuracy, m.TrainSize, m.TestSize, a.pipeline.SchemaID())
		for _, sig := range res.Score.Signals {
			fmt.Fprintf(os.Stderr, "  [%s] %s\n", sig.Severity, sig.Description)
		}
	}

	if failed := results.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d provider(s) failed: %v", len(failed), failed)
	}
	return nil
}
