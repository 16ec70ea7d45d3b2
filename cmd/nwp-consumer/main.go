// Command nwp-consumer downloads numerical weather prediction runs from an
// upstream source, stores the raw files and converts each init time into a
// zarr store.
//
// Logging:
//   - The base logger is built here from LOG_LEVEL and LOG_FORMAT
//   - --verbose forces the debug level
//   - Components receive the logger and scope it with their own attributes
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/couchcryptid/nwp-consumer/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/nwp-consumer/internal/adapter/kafka"
	"github.com/couchcryptid/nwp-consumer/internal/config"
	"github.com/couchcryptid/nwp-consumer/internal/domain"
	"github.com/couchcryptid/nwp-consumer/internal/observability"
	"github.com/couchcryptid/nwp-consumer/internal/pipeline"
	"github.com/couchcryptid/nwp-consumer/internal/scratch"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

// options holds the flags shared by the data commands.
type options struct {
	source       string
	sink         string
	rsink        string // raw sink, defaults to sink
	from         string
	to           string
	rdir         string
	zdir         string
	createLatest bool
	consolidate  bool
	verbose      bool
}

func main() {
	// A missing .env file is the normal case outside development.
	_ = godotenv.Load()

	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		slog.Error("nwp-consumer failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var o options

	root := &cobra.Command{
		Use:           "nwp-consumer",
		Short:         "Consume numerical weather prediction data into zarr stores",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.StringVar(&o.source, "source", "ceda", "data source: "+strings.Join(config.Sources, ", "))
	pf.StringVar(&o.sink, "sink", "local", "data sink: "+strings.Join(config.Sinks, ", "))
	pf.StringVar(&o.rsink, "rsink", "", "sink for raw files (default: --sink)")
	pf.StringVar(&o.from, "from", "", "start as YYYY-MM-DD or YYYY-MM-DDTHH:MM (default: today)")
	pf.StringVar(&o.to, "to", "", "exclusive end as YYYY-MM-DD or YYYY-MM-DDTHH:MM (default: --from plus one day)")
	pf.StringVar(&o.rdir, "rdir", "/tmp/raw", "directory or prefix of the raw store")
	pf.StringVar(&o.zdir, "zdir", "/tmp/zarr", "directory or prefix of the zarr store")
	pf.BoolVar(&o.createLatest, "create-latest", false, "refresh the latest zarr store at the end of download, convert or consume")
	pf.BoolVar(&o.consolidate, "consolidate", false, "append converted init times to the monthly store")
	pf.BoolVar(&o.verbose, "verbose", false, "enable debug logging")

	dataCmd := func(use, short string) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd.Context(), use, o)
			},
		}
	}

	root.AddCommand(
		dataCmd("download", "Download raw files from the source into the raw sink"),
		dataCmd("convert", "Convert raw files in the raw sink into zarr stores"),
		dataCmd("consume", "Download and convert in one run"),
		dataCmd("check", "Probe the sinks and scratch directory without moving data"),
		&cobra.Command{
			Use:   "env",
			Short: "Report unset environment variables for the chosen source and sinks",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return reportEnv(cmd.OutOrStdout(), o)
			},
		},
	)
	return root
}

// reportEnv lists, per selected source and sink, the required variables that
// are unset. It performs no network calls.
func reportEnv(w io.Writer, o options) error {
	for _, name := range o.names() {
		missing, err := config.Missing(name)
		if err != nil {
			return err
		}
		if len(missing) == 0 {
			fmt.Fprintf(w, "%s: ok\n", name)
			continue
		}
		fmt.Fprintf(w, "%s: missing %s\n", name, strings.Join(missing, ", "))
	}
	return nil
}

// names returns the source and sink names selected by o, without repeats.
func (o options) names() []string {
	names := []string{o.source, o.sink}
	if r := o.rawSink(); r != o.sink {
		names = append(names, r)
	}
	return names
}

func (o options) rawSink() string {
	if o.rsink == "" {
		return o.sink
	}
	return o.rsink
}

func run(parent context.Context, command string, o options) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	level := cfg.LogLevel
	if o.verbose {
		level = "debug"
	}
	logger := observability.NewLogger(level, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start, end, err := domain.ParseTimeRange(o.from, o.to, domain.Now())
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	res := &resources{logger: logger}
	defer res.close()

	fetcher, err := newSource(o.source, cfg, metrics, logger)
	if err != nil {
		return err
	}
	raw, err := res.newStore(ctx, o.rawSink(), cfg, metrics, o.rdir)
	if err != nil {
		return err
	}
	zarrStore, err := res.newStore(ctx, o.sink, cfg, metrics, o.zdir)
	if err != nil {
		return err
	}

	var notifier pipeline.Notifier
	if cfg.NotificationsEnabled() && command != "check" {
		w := kafkaadapter.NewWriter(cfg, logger)
		res.add("kafka writer", w)
		notifier = w
		logger.Info("notifications enabled", "topic", cfg.KafkaTopic)
	}

	svc := pipeline.New(fetcher, raw, zarrStore, notifier, logger, metrics, pipeline.Options{
		RawDir:          o.rdir,
		ZarrDir:         o.zdir,
		Zip:             cfg.Zip(o.sink),
		CreateLatest:    o.createLatest,
		Consolidate:     o.consolidate,
		InitTimeWorkers: cfg.InitTimeWorkers,
		FileWorkers:     cfg.DownloadWorkers,
	})

	dir, err := scratch.New(cfg.ScratchDir, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := dir.Close(); err != nil {
			logger.Error("scratch cleanup error", "error", err)
		}
	}()

	if cfg.MetricsAddr != "" {
		srv := httpadapter.NewServer(cfg.MetricsAddr, svc, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("http server shutdown error", "error", err)
			}
		}()
	}

	logger.Info("nwp-consumer starting",
		"version", version,
		"command", command,
		"sink", o.sink,
		"raw_sink", o.rawSink(),
		"from", start.Format(domain.DateTimeLayout),
		"to", end.Format(domain.DateTimeLayout),
	)

	switch command {
	case "download":
		_, err = svc.DownloadRawDataset(ctx, dir, start, end)
	case "convert":
		_, err = svc.ConvertRawDatasetToZarr(ctx, dir, start, end)
	case "consume":
		_, err = svc.DownloadAndConvert(ctx, dir, start, end)
	case "check":
		err = svc.Check(ctx, dir)
	default:
		err = fmt.Errorf("%w: unknown command %q", domain.ErrConfig, command)
	}
	if err != nil {
		return err
	}
	logger.Info("nwp-consumer finished", "command", command)
	return nil
}
