package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/uhmm/internal/logger"
	"github.com/ppiankov/uhmm/internal/model"
)

// Version is overridden at build time with -ldflags "-X .../cli.Version=..."
var Version = "0.1.0"

var (
	cfgFile   string
	verbose   bool
	appConfig model.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "uhmm",
	Short: "uhmm - live fact-check verdicts for spoken claims",
	Long: `uhmm listens to a live speech-to-text stream, groups fragments into
sentences, extracts checkable claims and verifies each one against a
small set of trusted sources.

Verdicts (supported, contradicted, unclear, not_found) are pushed to
every connected viewer over WebSocket as soon as they are ready.

uhmm reports how well a claim is backed by the sources it was allowed
to search. It is a second opinion, not an oracle.`,
	SilenceErrors:     true,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Display the version number of uhmm.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("uhmm v%s\n", Version)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.uhmm/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logging)")
	rootCmd.PersistentFlags().String("log-format", "", "log format: console or json")

	// Bind flags to viper
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
}

// initConfig loads the configuration and sets up logging before any
// subcommand runs
func initConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(viper.GetViper(), cfgFile)
	if err != nil {
		return err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	logger.Init(logger.Options{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Service: "uhmm",
	})
	if used := viper.ConfigFileUsed(); used != "" {
		logger.Named("config").Debug().Str("file", used).Msg("using config file")
	}

	appConfig = cfg
	return nil
}

// sensitiveKeys are omitted from the marshalled defaults when empty, so
// they are registered explicitly to stay visible to env overrides
var sensitiveKeys = []string{
	"llm.api_key",
	"llm.base_url",
	"llm.http_proxy",
	"llm.https_proxy",
	"search.api_key",
	"search.base_url",
	"telemetry.otlp_endpoint",
}

// loadConfig layers defaults, the config file, UHMM_* environment variables
// and bound flags, in increasing priority
func loadConfig(v *viper.Viper, file string) (model.Config, error) {
	defaults, err := yaml.Marshal(model.DefaultConfig())
	if err != nil {
		return model.Config{}, fmt.Errorf("marshal defaults: %w", err)
	}
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return model.Config{}, fmt.Errorf("load defaults: %w", err)
	}
	for _, key := range sensitiveKeys {
		v.SetDefault(key, "")
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.MergeInConfig(); err != nil {
			return model.Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	} else if path := defaultConfigPath(); path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.MergeInConfig(); err != nil {
				return model.Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	// Read in environment variables that match UHMM_*
	v.SetEnvPrefix("UHMM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg model.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return model.Config{}, fmt.Errorf("decode config: %w", err)
	}
	applyEnvFallbacks(&cfg)

	if err := cfg.Validate(); err != nil {
		return model.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// defaultConfigPath returns $HOME/.uhmm/config.yaml, or "" without a home
func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".uhmm", "config.yaml")
}

// applyEnvFallbacks fills API keys from the provider-specific environment
// variables most tools already export
func applyEnvFallbacks(cfg *model.Config) {
	if cfg.LLM.APIKey == "" {
		switch strings.ToLower(cfg.LLM.Provider) {
		case "openai":
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		case "groq":
			cfg.LLM.APIKey = os.Getenv("GROQ_API_KEY")
		case "anthropic", "claude":
			cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}
	if cfg.LLM.BaseURL == "" && strings.EqualFold(cfg.LLM.Provider, "ollama") {
		cfg.LLM.BaseURL = os.Getenv("OLLAMA_BASE_URL")
	}

	if cfg.Search.APIKey == "" {
		switch strings.ToLower(cfg.Search.Provider) {
		case "exa":
			cfg.Search.APIKey = os.Getenv("EXA_API_KEY")
		case "brave":
			cfg.Search.APIKey = os.Getenv("BRAVE_API_KEY")
		}
	}
}
