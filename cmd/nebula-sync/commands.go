package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-sync/internal/pipeline"
	"github.com/ajitpratap0/nebula-sync/pkg/config"
	"github.com/ajitpratap0/nebula-sync/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sync/pkg/connector/destinations"
	"github.com/ajitpratap0/nebula-sync/pkg/connector/registry"
	"github.com/ajitpratap0/nebula-sync/pkg/errors"
	jsonpool "github.com/ajitpratap0/nebula-sync/pkg/json"
	"github.com/ajitpratap0/nebula-sync/pkg/logger"
	"github.com/ajitpratap0/nebula-sync/pkg/observability"
	"github.com/ajitpratap0/nebula-sync/pkg/state"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "nebula-sync v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newConnectorsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "connectors",
		Short: "List available source connectors and destinations",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := newRegistry()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SOURCE\tVERSION\tDESCRIPTION")
			for _, d := range reg.List() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", d.Type, d.Version, d.Description)
			}
			fmt.Fprintln(w)
			fmt.Fprintln(w, "DESTINATION\tCATEGORY")
			for _, t := range core.DestinationTypes() {
				fmt.Fprintf(w, "%s\t%s\n", t, t.Category())
			}
			return w.Flush()
		},
	}
}

func newSpecCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "spec <connector-type>",
		Short: "Print the configuration keys a source connector accepts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := newRegistry()
			if err != nil {
				return err
			}
			t := core.ConnectorType(args[0])
			if err := t.Validate(); err != nil {
				return err
			}
			d, ok := reg.Descriptor(t)
			if !ok {
				return errors.Newf(errors.ErrorTypeUnknownConnector, "no connector registered for %q", args[0])
			}
			return printJSON(cmd.OutOrStdout(), d.Spec)
		},
	}
}

func newCheckCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify source credentials and destination reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := loadJob(v)
			if err != nil {
				return err
			}
			return withConnector(job, func(ctx context.Context, conn core.SourceConnector) error {
				status := conn.CheckConnection(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "source %s: %s\n", job.Source.Type, status.Message)
				if !status.OK {
					return status.Err
				}
				return checkDestination(ctx, cmd.OutOrStdout(), job)
			})
		},
	}
}

func newDiscoverCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Print the stream catalog of the job's source connector as a SPEC message",
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := loadJob(v)
			if err != nil {
				return err
			}
			return withConnector(job, func(ctx context.Context, conn core.SourceConnector) error {
				catalog, err := conn.Discover(ctx)
				if err != nil {
					return err
				}
				if err := catalog.Validate(); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), core.NewSpecMessage(catalog))
			})
		},
	}
}

func newSyncCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run the transfer job",
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := loadJob(v)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSync(ctx, cmd.OutOrStdout(), job)
		},
	}
}

func runSync(ctx context.Context, out io.Writer, job *config.JobConfig) error {
	log := logger.Get().With(zap.String("component", "nebula-sync-cli"), zap.String("job", job.Name))

	if addr := job.Observability.MetricsAddr; addr != "" {
		srv := &http.Server{Addr: addr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer func() { _ = srv.Shutdown(context.WithoutCancel(ctx)) }()
		log.Info("serving metrics", zap.String("addr", addr))
	}

	if job.Observability.EnableTracing {
		shutdown, err := observability.InitTracing(ctx, observability.TracingConfig{
			ServiceName:    "nebula-sync",
			ServiceVersion: version,
			SamplingRate:   1.0,
			Output:         os.Stderr,
		})
		if err != nil {
			return err
		}
		defer func() { _ = shutdown(context.WithoutCancel(ctx)) }()
	}

	store, err := state.New(ctx, job.State)
	if err != nil {
		return err
	}
	defer store.Close()

	var tracker pipeline.JobTracker = pipeline.NewMemoryTracker()
	if len(job.Observability.KafkaBrokers) > 0 {
		kt, err := pipeline.NewKafkaTracker(job.Observability.KafkaBrokers, job.Observability.KafkaTopic)
		if err != nil {
			return err
		}
		defer kt.Close()
		tracker = kt
	}

	reg, err := newRegistry()
	if err != nil {
		return err
	}
	orch := pipeline.NewTransferOrchestrator(reg, store, tracker, job.Sync)
	summary, runErr := orch.Run(ctx, pipeline.TransferRequest{
		Source:      &job.Source,
		Destination: &job.Destination,
	})
	if summary != nil {
		if err := printJSON(out, summary); err != nil {
			return err
		}
	}
	return runErr
}

// loadJob reads the job file and applies flag and environment overrides.
func loadJob(v *viper.Viper) (*config.JobConfig, error) {
	path := v.GetString("config")
	if path == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "a job file is required (--config or NEBULA_SYNC_CONFIG)")
	}
	job, err := config.LoadJob(path)
	if err != nil {
		return nil, err
	}
	applyOverrides(v, job)

	if err := logger.Init(job.Logging); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to initialize logger")
	}
	return job, nil
}

func applyOverrides(v *viper.Viper, job *config.JobConfig) {
	if s := v.GetString("log-level"); s != "" {
		job.Logging.Level = s
	}
	if s := v.GetString("log-encoding"); s != "" {
		job.Logging.Encoding = s
	}
	if s := v.GetString("metrics-addr"); s != "" {
		job.Observability.MetricsAddr = s
	}
	if v.GetBool("tracing") {
		job.Observability.EnableTracing = true
	}
	if s := v.GetString("state-backend"); s != "" {
		job.State.Backend = s
	}
	if s := v.GetString("state-dsn"); s != "" {
		job.State.DSN = s
	}
	if brokers := v.GetStringSlice("kafka-brokers"); len(brokers) > 0 {
		job.Observability.KafkaBrokers = brokers
	}
	if s := v.GetString("kafka-topic"); s != "" {
		job.Observability.KafkaTopic = s
	}
}

func newRegistry() (*registry.Registry, error) {
	reg := registry.NewRegistry()
	if err := registry.RegisterAll(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// checkDestination builds the job's destination adapter and tests its connection.
func checkDestination(ctx context.Context, w io.Writer, job *config.JobConfig) error {
	adapter, err := destinations.New(ctx, &job.Destination, job.Sync)
	if err != nil {
		return err
	}
	defer func() { _ = adapter.Close(ctx) }()
	if err := adapter.TestConnection(ctx); err != nil {
		return err
	}
	fmt.Fprintf(w, "destination %s: reachable\n", job.Destination.Type)
	return nil
}

// withConnector creates the job's source connector, runs fn and releases it.
func withConnector(job *config.JobConfig, fn func(ctx context.Context, conn core.SourceConnector) error) error {
	reg, err := newRegistry()
	if err != nil {
		return err
	}
	inst, err := reg.Create(&job.Source, job.Sync)
	if err != nil {
		return err
	}
	defer func() { _ = reg.Release(inst.Key) }()

	ctx := context.Background()
	if job.Sync.Timeouts.Request > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Sync.Timeouts.Request)
		defer cancel()
	}
	return fn(ctx, inst.Connector)
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := jsonpool.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to encode output")
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
