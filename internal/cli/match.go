package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ppiankov/outagelens/internal/match"
	"github.com/ppiankov/outagelens/internal/model"
	"github.com/ppiankov/outagelens/internal/pipeline"
	"github.com/spf13/cobra"
)

var (
	matchA    string
	matchB    string
	matchJSON bool
)

// matchCmd represents the match command
var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Match two report files by calendar day or ISO week",
	Long: `Match normalizes two CSV or RSS/XML files and finds the windows where both
have activity. Shared days are compressed into runs of consecutive dates; when
no day is shared the files are matched on ISO week instead.

Example:
  outagelens match --a data/rogers/feed.xml --b data/rogers/incidents.csv
  outagelens match --a a.xml --b b.xml --json`,
	Args: cobra.NoArgs,
	RunE: runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().StringVar(&matchA, "a", "", "first input file (.csv or .xml)")
	matchCmd.Flags().StringVar(&matchB, "b", "", "second input file (.csv or .xml)")
	matchCmd.Flags().BoolVar(&matchJSON, "json", false, "print the match result as JSON")
	_ = matchCmd.MarkFlagRequired("a")
	_ = matchCmd.MarkFlagRequired("b")
}

func runMatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	aSource, err := sourceOf(matchA)
	if err != nil {
		return err
	}
	bSource, err := sourceOf(matchB)
	if err != nil {
		return err
	}

	p, err := pipeline.NewPipeline(cfg)
	if err != nil {
		return err
	}
	res, err := p.Match(aSource, matchA, bSource, matchB)
	if err != nil {
		return err
	}

	if matchJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Printf("Granularity: %s\n", res.Granularity)
	for _, w := range res.Windows {
		fmt.Printf("  %-28s %4d | %4d\n", w.Label, len(w.A), len(w.B))
	}
	if sig, ok := match.WeekFallback(res); ok {
		fmt.Fprintf(os.Stderr, "\n⚠ %s\n", sig.Description)
	}
	return nil
}

func sourceOf(path string) (model.Source, error) {
	src, ok := pipeline.SourceForPath(path)
	if !ok {
		return "", fmt.Errorf("cannot tell the format of %s (expected .csv or .xml)", path)
	}
	return src, nil
}
