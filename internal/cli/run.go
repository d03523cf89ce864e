package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ppiankov/outagelens/internal/model"
	"github.com/ppiankov/outagelens/internal/pipeline"
	"github.com/ppiankov/outagelens/internal/worker"
	"github.com/spf13/cobra"
)

var (
	providerNames []string
	outputDir     string
	runTimeout    time.Duration
	noScrape      bool
	forceTrain    bool
	llmProvider   string
	llmModel      string
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline for one or more providers",
	Long: `Run executes the full per-provider pipeline:
- Normalize the labeled incident history and the official status feed
- Load the stored verifier, or train one when none exists
- Rank feed entries by combined score (verifier confidence and severity)
- Collect forum, outage tracker and status page evidence
- Match the feed against that evidence by day or ISO week
- Write <provider>.json and <provider>.md to the output directory

Providers run in parallel; a failing provider never affects the others.

Example:
  outagelens run
  outagelens run --provider rogers --provider bell --output-dir ./reports
  outagelens run --no-scrape --retrain
  outagelens run --llm openai --llm-model gpt-4o-mini`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringSliceVarP(&providerNames, "provider", "p", nil, "provider to run (repeatable, default: all configured)")
	runCmd.Flags().StringVar(&outputDir, "output-dir", "", "output directory for reports (default: output.dir)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 10*time.Minute, "total timeout for the run")
	runCmd.Flags().BoolVar(&noScrape, "no-scrape", false, "skip community evidence collection")
	runCmd.Flags().BoolVar(&forceTrain, "retrain", false, "retrain models even when a stored model exists")

	// LLM flags
	runCmd.Flags().StringVar(&llmProvider, "llm", "", "enable LLM summaries with this provider (openai)")
	runCmd.Flags().StringVar(&llmModel, "llm-model", "", "LLM model name (default: llm.model)")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if outputDir != "" {
		cfg.Output.Dir = outputDir
	}
	if llmProvider != "" {
		cfg.LLM.Provider = llmProvider
	}
	if llmModel != "" {
		cfg.LLM.Model = llmModel
	}
	if cfg.LLM.Provider != "" && cfg.LLM.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}

	providers, err := selectProviders(cfg, providerNames)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, appOptions{scrape: !noScrape, forceTrain: forceTrain})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), runTimeout)
	defer cancel()

	printBanner("outagelens run", cfg, providers)
	results := runProviders(ctx, a, a.pipeline, providers)
	return reportResults(a, results)
}

// runProviders runs providers on the worker pool and indexes their results
func runProviders(ctx context.Context, a *app, runner worker.Runner, providers []model.Provider) pipeline.Results {
	batch := worker.NewProviderBatch(runner, a.cfg.Concurrency.Providers, a.logger)
	return pipeline.NewResults(batch.Run(ctx, providers))
}

// reportResults renders every result and fails when any provider failed
func reportResults(a *app, results pipeline.Results) error {
	for _, p := range results.Providers() {
		res := results[p]
		a.renderer.RenderSummary(os.Stderr, res)
		if res.Failed() {
			continue
		}
		paths, err := a.renderer.RenderAll(res, a.cfg.Output.Dir)
		if err != nil {
			return fmt.Errorf("render %s: %w", p, err)
		}
		if a.cfg.Output.Verbose {
			fmt.Fprintf(os.Stderr, "  ✓ Wrote %s and %s\n", paths.JSON, paths.Markdown)
			if paths.LLM != "" {
				fmt.Fprintf(os.Stderr, "  ✓ Wrote LLM Summary: %s\n", paths.LLM)
			}
		}
	}

	failed := results.Failed()
	fmt.Fprintf(os.Stderr, "\n  Total: %d  Success: %d  Failures: %d  Output: %s\n\n",
		len(results), len(results)-len(failed), len(failed), a.cfg.Output.Dir)
	if len(failed) > 0 {
		return fmt.Errorf("%d provider(s) failed: %v", len(failed), failed)
	}
	return nil
}

func printBanner(title string, cfg *model.Config, providers []model.Provider) {
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  %s\n", title)
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Providers:    %v\n", providers)
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", cfg.Concurrency.Providers)
	fmt.Fprintf(os.Stderr, "  Ratio norm:   %s\n", cfg.Features.RatioNorm)
	fmt.Fprintf(os.Stderr, "  Store:        %s\n", cfg.Store.Path)
	if cfg.LLM.Provider != "" {
		fmt.Fprintf(os.Stderr, "  LLM:          %s/%s\n", cfg.LLM.Provider, cfg.LLM.Model)
	}
	fmt.Fprintf(os.Stderr, "\n")
}
