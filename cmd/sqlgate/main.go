// Package main provides the sqlgate command line.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	_ "github.com/TFMV/sqlgate/pkg/engines/athena"
	_ "github.com/TFMV/sqlgate/pkg/engines/clickhouse"
	_ "github.com/TFMV/sqlgate/pkg/engines/duckdb"
	_ "github.com/TFMV/sqlgate/pkg/engines/mongo"
	_ "github.com/TFMV/sqlgate/pkg/engines/mysql"
	_ "github.com/TFMV/sqlgate/pkg/engines/oracle"
	_ "github.com/TFMV/sqlgate/pkg/engines/pgsql"
	_ "github.com/TFMV/sqlgate/pkg/engines/redis"
	_ "github.com/TFMV/sqlgate/pkg/engines/snowflake"
	_ "github.com/TFMV/sqlgate/pkg/engines/sqlite"
)

var (
	// Version information (set by build flags)
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "sqlgate",
	Short: "Audit, execute and query SQL through a single gateway",
	Long: `sqlgate checks scripts before they run, executes them statement by
statement with optional backups, and serves read queries with column masking.

Example:
  sqlgate check --config ./sqlgate.yaml --instance orders migrate.sql
  sqlgate query --instance orders "SELECT * FROM users"`,
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "config file path")
	flags.StringP("instance", "i", "", "instance name (defaults to the only configured instance)")
	flags.StringP("schema", "s", "", "schema to run against (defaults to the instance's default schema)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")

	if err := viper.BindPFlag("log_level", flags.Lookup("log-level")); err != nil {
		panic(fmt.Errorf("failed to bind flags: %w", err))
	}

	rootCmd.AddCommand(checkCmd(), queryCheckCmd(), executeCmd(), queryCmd(), rollbackCmd(),
		databasesCmd(), tablesCmd())

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sqlgate\n")
			fmt.Printf("Version:    %s\n", version)
			fmt.Printf("Commit:     %s\n", commit)
			fmt.Printf("Build Date: %s\n", buildDate)
		},
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogging(level string, console bool) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond

	logLevel, err := zerolog.ParseLevel(level)
	if err != nil || logLevel == zerolog.NoLevel {
		logLevel = zerolog.InfoLevel
	}

	// results go to stdout, so logs stay on stderr
	var logger zerolog.Context
	if console {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With()
	} else {
		logger = zerolog.New(os.Stderr).With()
	}
	logger = logger.Timestamp().Str("service", "sqlgate")
	if logLevel == zerolog.DebugLevel {
		logger = logger.Caller()
	}
	return logger.Logger().Level(logLevel)
}
