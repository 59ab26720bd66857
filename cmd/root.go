package cmd

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gorm.io/gorm"

	"crm-datakeeper/internal/config"
	"crm-datakeeper/internal/logging"
	"crm-datakeeper/internal/store"
)

var cfgFile string

// CLI flag variables
var (
	tenantID string
	verbose  bool
	quiet    bool
	logFile  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "crm-datakeeper",
	Short: "Backup, restore and data-quality engine for multi-tenant CRM data",
	Long: `crm-datakeeper manages the data safety net of a multi-tenant CRM:
database and file backups with verification and retention, point-in-time
restores, structural integrity scans, and duplicate-record merges.

Examples:
  # Create a full backup for a tenant
  crm-datakeeper backup create --tenant acme --type FULL

  # Restore a completed backup
  crm-datakeeper backup restore 6f1b... --tenant acme

  # Scan for orphaned records and null out dangling references
  crm-datakeeper integrity run ORPHANED_RECORDS --tenant acme --auto-fix --fix-method nullify

  # Merge a duplicate company into its primary record
  crm-datakeeper merge process --tenant acme --type COMPANY --primary 12 --duplicate 48`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.crm-datakeeper.yaml)")
	rootCmd.PersistentFlags().StringVar(&tenantID, "tenant", "", "tenant id to operate on")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to file in addition to stdout")

	viper.BindPFlag("log_file", rootCmd.PersistentFlags().Lookup("log-file"))

	rootCmd.AddCommand(createVersionCommand())
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".crm-datakeeper" (without extension).
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".crm-datakeeper")
	}

	// Set environment variable prefix
	viper.SetEnvPrefix("CRM_DATAKEEPER")
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// loadConfig builds the engine configuration from the config file, environment
// variables and CLI flags.
func loadConfig() (*config.Config, error) {
	cfg := &config.Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if logFile != "" {
		cfg.LogFile = logFile
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// newLogger creates the CLI logger, with --verbose/--quiet overriding the
// configured level.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	if verbose && quiet {
		return nil, fmt.Errorf("--verbose and --quiet flags are mutually exclusive")
	}

	level := logging.LogLevel(cfg.LogLevel)
	if verbose {
		level = logging.LogLevelVerbose
	}
	if quiet {
		level = logging.LogLevelQuiet
	}

	return logging.NewLogger(logging.Config{
		Level:   level,
		Format:  "text",
		LogFile: cfg.LogFile,
	})
}

// openStore connects to the configured engine database.
func openStore(cfg *config.Config) (*gorm.DB, error) {
	db, err := store.Open(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// requireTenant validates that --tenant was supplied.
func requireTenant() error {
	if tenantID == "" {
		return fmt.Errorf("--tenant is required")
	}
	return nil
}

// Version information set from build flags
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc string) {
	version = v
	buildTime = bt
	gitCommit = gc
}

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("crm-datakeeper version %s\n", version)
			fmt.Printf("Build time: %s\n", buildTime)
			fmt.Printf("Git commit: %s\n", gitCommit)
			fmt.Printf("Go version: %s\n", runtime.Version())
		},
	}
}
