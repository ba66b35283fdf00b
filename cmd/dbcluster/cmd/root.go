// Package cmd provides the CLI commands for dbcluster.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	cluster "github.com/eth0jp/go-dbcluster"
	"github.com/eth0jp/go-dbcluster/mysqldriver"
	"github.com/eth0jp/go-dbcluster/pgxdriver"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	driver  string
	natsURL string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dbcluster",
	Short: "Failover connection pool for replicated SQL nodes",
	Long: `dbcluster keeps a connection to every configured database node and
hands out whichever one is reachable:
  - non-blocking randomized scan over connected nodes
  - background reconnects throttled by a per-node retry interval
  - synchronous last-resort connects when every node is down

Use dbcluster to inspect a pool, run statements through it, or serve its
status over HTTP and NATS.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.dbcluster.yaml)")
	rootCmd.PersistentFlags().StringVarP(&driver, "driver", "d", "", "database driver: mysql or postgres")
	rootCmd.PersistentFlags().StringVarP(&natsURL, "nats", "n", "", "NATS server URL for status and events")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	// Bind flags to viper
	_ = viper.BindPFlag("driver", rootCmd.PersistentFlags().Lookup("driver"))
	_ = viper.BindPFlag("nats_url", rootCmd.PersistentFlags().Lookup("nats"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	// Environment variable bindings
	viper.SetEnvPrefix("DBCLUSTER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	_ = viper.BindEnv("nats_url", "DBCLUSTER_NATS_URL", "NATS_URL")
	_ = viper.BindEnv("nats_creds", "DBCLUSTER_NATS_CREDS", "NATS_CREDS")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, "Warning: could not find home directory:", err)
		} else {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/dbcluster")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".dbcluster")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verboseEnabled() {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// getNATSURL returns the NATS URL from flag, env or config.
func getNATSURL() string {
	if natsURL != "" {
		return natsURL
	}
	return viper.GetString("nats_url")
}

func verboseEnabled() bool {
	return viper.GetBool("verbose")
}

// newLogger logs at level, or at debug with --verbose.
func newLogger(level slog.Level) *slog.Logger {
	if verboseEnabled() {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// loadPoolConfig decodes the pool section of the viper configuration.
func loadPoolConfig(v *viper.Viper) (*cluster.FileConfig, error) {
	var fc cluster.FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := fc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	fc.ApplyDefaults()
	return &fc, nil
}

// newDriver returns the driver registered under name.
func newDriver(name string) (cluster.Driver, error) {
	switch strings.ToLower(name) {
	case "", "mysql":
		return mysqldriver.New(), nil
	case "postgres", "postgresql", "pgx":
		return pgxdriver.New(), nil
	default:
		return nil, fmt.Errorf("unknown driver %q (use mysql or postgres)", name)
	}
}

// openPool builds the configured pool. Flags override the config file.
func openPool(ctx context.Context, logger *slog.Logger, opts ...cluster.Option) (*cluster.Pool, error) {
	fc, err := loadPoolConfig(viper.GetViper())
	if err != nil {
		return nil, err
	}
	drv, err := newDriver(fc.Driver)
	if err != nil {
		return nil, err
	}

	opts = append([]cluster.Option{cluster.WithLogger(logger)}, opts...)
	pool, err := cluster.NewPool(ctx, fc.ToConfig(logger), drv, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	return pool, nil
}
