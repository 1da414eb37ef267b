// Package cmd implements the loom command line: it registers entity schemas,
// saves documents and loads entities by identifier through load plans.
package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "dev"

type rootOptions struct {
	cfgFile string
	verbose bool
}

// NewRootCmd builds the loom command tree. Every call gets its own viper
// instance.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	v := viper.New()

	root := &cobra.Command{
		Use:          "loom",
		Short:        "Load entities through fetch-aware load plans",
		Long:         `loom registers entity schemas, saves documents and loads entities by identifier, joining their associations in a single statement.`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return initConfig(v, opts)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.cfgFile, "config", "c", "", "config file (default: ./loom.yaml)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "development logging at debug level")
	flags.String("driver", "", "database driver: sqlite3, postgres or mysql")
	flags.String("dsn", "", "data source name")
	flags.Int("batch-size", 0, "identifiers loaded per statement")
	flags.String("fetch", "", "association fetching: none or join")

	_ = v.BindPFlag("database.driver", flags.Lookup("driver"))
	_ = v.BindPFlag("database.dsn", flags.Lookup("dsn"))
	_ = v.BindPFlag("loader.batch_size", flags.Lookup("batch-size"))
	_ = v.BindPFlag("loader.fetch", flags.Lookup("fetch"))

	root.AddCommand(
		newInitCmd(v, opts),
		newSaveCmd(v, opts),
		newLoadCmd(v, opts),
		newSQLCmd(v, opts),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "loom.db")
	v.SetDefault("loader.batch_size", 1)
	v.SetDefault("loader.fetch", "none")
	v.SetDefault("loader.parallelism", 4)
	v.SetDefault("tracing.exporter", "none")
	v.SetDefault("loom.naming.provider", "memory")
	v.SetDefault("loom.naming.url", "java:comp/env")
}

// initConfig reads .env, then loom.yaml, then LOOM_* environment variables.
// Flags win over all three.
func initConfig(v *viper.Viper, opts *rootOptions) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	setDefaults(v)
	v.SetEnvPrefix("LOOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.cfgFile != "" {
		v.SetConfigFile(opts.cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("loom")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	return nil
}
