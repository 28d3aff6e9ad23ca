// Package cmd implements the bucketctl command line.
package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	cfgFile string
	verbose bool

	// logger is replaced in initConfig.
	logger = zap.NewNop()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bucketctl",
	Short: "Inspect and exercise restbucket rate limit state",
	Long: `bucketctl inspects the account-wide rate limit state that restbucket
limiters share through SQLite or Redis, and runs simulated workloads against
a fake rate limited API.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

// SetVersion is called by the main package to set the version string.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	defer logger.Sync() // nolint:errcheck // best-effort flush
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./bucketctl.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
	rootCmd.PersistentFlags().String("sqlite", "", "SQLite database holding global rate limit state")
	rootCmd.PersistentFlags().String("redis", "", "Redis URL holding global rate limit state, e.g. redis://localhost:6379/0")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("store.sqlite", rootCmd.PersistentFlags().Lookup("sqlite"))
	_ = viper.BindPFlag("store.redis", rootCmd.PersistentFlags().Lookup("redis"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("bucketctl")
		viper.SetConfigType("yaml")
	}

	// BUCKETCTL_STORE_SQLITE, BUCKETCTL_STORE_REDIS, ...
	viper.SetEnvPrefix("BUCKETCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	l, err := newLogger(viper.GetBool("verbose"))
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger = l
	logger.Debug("configuration loaded", zap.String("config_file", viper.ConfigFileUsed()))
	return nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	cfg.OutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = true
	return cfg.Build()
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("simulate.requests", 20)
	viper.SetDefault("simulate.buckets", 2)
	viper.SetDefault("simulate.limit", 5)
	viper.SetDefault("simulate.window", "1s")
	viper.SetDefault("simulate.global_limit", 0)
	viper.SetDefault("simulate.global_window", "1s")
	viper.SetDefault("simulate.workers", 16)
	viper.SetDefault("simulate.max_attempts", 0)
	viper.SetDefault("simulate.credential", "Bot bucketctl")
}
