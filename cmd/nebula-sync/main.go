package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "0.1.0"

const envPrefix = "NEBULA_SYNC"

func main() {
	// .env is optional
	_ = godotenv.Load()

	if err := newRootCommand(viper.New()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRootCommand builds the CLI. Every persistent flag can also be set
// through NEBULA_SYNC_<FLAG> with dashes replaced by underscores.
func newRootCommand(v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:           "nebula-sync",
		Short:         "nebula-sync - extract ad platform data and load it into warehouses",
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `nebula-sync extracts streams from advertising platforms and loads them into
flat files, relational databases, BigQuery or Athena.

Jobs are described in YAML:

  nebula-sync sync --config job.yaml`,
	}

	flags := root.PersistentFlags()
	flags.StringP("config", "c", "", "Path to the job YAML file")
	flags.String("log-level", "", "Log level override (debug, info, warn, error)")
	flags.String("log-encoding", "", "Log encoding override (json, console)")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	flags.Bool("tracing", false, "Export job and stream spans to stderr")
	flags.String("state-backend", "", "State backend override (memory, postgres, mongo)")
	flags.String("state-dsn", "", "State backend connection string")
	flags.StringSlice("kafka-brokers", nil, "Publish job status events to these brokers")
	flags.String("kafka-topic", "", "Job status event topic")
	_ = v.BindPFlags(flags)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root.AddCommand(
		newVersionCommand(),
		newConnectorsCommand(),
		newSpecCommand(),
		newCheckCommand(v),
		newDiscoverCommand(v),
		newSyncCommand(v),
	)
	return root
}
