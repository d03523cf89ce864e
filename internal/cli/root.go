package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ppiankov/outagelens/internal/model"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Version is set at build time with -ldflags "-X github.com/ppiankov/outagelens/internal/cli.Version=..."
var Version = "v0.1.0"

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "outagelens",
	Short: "outagelens - telecom outage verification and cross-source correlation",
	Long: `outagelens decides which reports in a provider's official status feed describe
real, verifiable outages and correlates them with independently observed
community evidence in the same time window.

For each provider it:
- clusters reports in time and derives temporal features
- trains (or loads) a verifier on the labeled incident history
- ranks feed entries by verifier confidence and severity
- matches the feed against forum, outage tracker and status page evidence
  by calendar day, falling back to ISO week

Scores are computed from data only; the optional LLM summary never changes them.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("outagelens %s\n", Version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.outagelens/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Bind flags to viper
	_ = viper.BindPFlag("output.verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if err := setDefaults(model.DefaultConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading defaults: %v\n", err)
	}

	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			return
		}
		viper.AddConfigPath(filepath.Join(home, ".outagelens"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// Read in environment variables that match OUTAGELENS_*, e.g. OUTAGELENS_LLM_API_KEY
	viper.SetEnvPrefix("OUTAGELENS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	// omitempty keys have no default to hang the environment lookup on
	for _, key := range []string{"llm.api_key", "llm.base_url", "notify.token", "http.http_proxy", "http.https_proxy", "http.no_proxy"} {
		_ = viper.BindEnv(key)
	}

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// setDefaults registers every default so that nested keys resolve from the environment
func setDefaults(cfg *model.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	var tree map[string]interface{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return err
	}
	walkDefaults("", tree)
	return nil
}

func walkDefaults(prefix string, tree map[string]interface{}) {
	for k, v := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := v.(map[string]interface{}); ok {
			walkDefaults(key, sub)
			continue
		}
		viper.SetDefault(key, v)
	}
}

// loadConfig resolves flags, environment, config file and defaults into a Config
func loadConfig() (*model.Config, error) {
	cfg := model.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Conventional key variables win over an empty config value
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Notify.Token == "" {
		cfg.Notify.Token = os.Getenv("TELEGRAM_BOT_TOKEN")
	}
	if verbose {
		cfg.Output.Verbose = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// selectProviders resolves --provider values, defaulting to every configured provider
func selectProviders(cfg *model.Config, names []string) ([]model.Provider, error) {
	if len(names) == 0 {
		out := make([]model.Provider, len(cfg.Providers))
		for i, p := range cfg.Providers {
			out[i] = p.Name
		}
		return out, nil
	}

	var out []model.Provider
	for _, name := range names {
		p, err := model.ParseProvider(name)
		if err != nil {
			return nil, err
		}
		if _, ok := cfg.ProviderByName(p); !ok {
			return nil, fmt.Errorf("provider %s is not configured", p)
		}
		out = append(out, p)
	}
	return out, nil
}
