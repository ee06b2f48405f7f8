// Command descgen generates product descriptions for a list of product
// pages and exports them in input order.
//
//	descgen -config descgen.yaml -input urls.txt -output descriptions.csv
//
// Interrupting a run (Ctrl-C) stops dispatching, writes the export with
// missing rows for unfinished items and keeps the progress store, so the
// next run resumes where this one stopped.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/budget"
	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/cache"
	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/config"
	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/export"
	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/extract"
	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/fetcher"
	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/gate"
	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/generate"
	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/logging"
	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/metrics"
	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/pipeline"
	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/progress"
	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/validate"
)

// Exit codes.
const (
	exitOK          = 0
	exitFatal       = 1
	exitUsage       = 2
	exitInterrupted = 130
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	configPath  string
	input       string
	output      string
	report      string
	progress    string
	logLevel    string
	metricsAddr string
	pretty      bool
	reset       bool
	skipFailed  bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("descgen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&o.input, "input", "", "file with one product URL per line (required)")
	fs.StringVar(&o.output, "output", "", "export file, .csv or .json (overrides export.output)")
	fs.StringVar(&o.report, "report", "", "run report JSON file (overrides export.report)")
	fs.StringVar(&o.progress, "progress", "", "progress file or database (overrides progress.path)")
	fs.StringVar(&o.logLevel, "log-level", "", "debug, info, warn or error (overrides log.level)")
	fs.StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	fs.BoolVar(&o.pretty, "pretty", false, "human-readable logs")
	fs.BoolVar(&o.reset, "reset", false, "discard stored progress and start a new session")
	fs.BoolVar(&o.skipFailed, "skip-failed", false, "do not retry pairs that failed in a previous run")

	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.input == "" {
		fs.Usage()
		return o, errors.New("-input is required")
	}
	return o, nil
}

func (o options) apply(cfg *config.Config) {
	if o.output != "" {
		cfg.Export.Output = o.output
	}
	if o.report != "" {
		cfg.Export.Report = o.report
	}
	if o.progress != "" {
		cfg.Progress.Path = o.progress
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.metricsAddr != "" {
		cfg.Metrics.Addr = o.metricsAddr
	}
	if o.pretty {
		cfg.Log.Pretty = true
	}
	if o.skipFailed {
		cfg.Pipeline.SkipFailed = true
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "descgen: %v\n", err)
		return exitUsage
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "descgen: %v\n", err)
		return exitFatal
	}
	opts.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "descgen: %v\n", err)
		return exitFatal
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
		Output: stderr,
	})

	code, err := execute(ctx, cfg, opts, logger, stdout)
	if err != nil {
		logger.Error().Err(err).Msg("Run failed")
	}
	return code
}

// execute wires the components, runs the pipeline and writes the export
// and report.
func execute(ctx context.Context, cfg config.Config, opts options, logger zerolog.Logger, stdout io.Writer) (int, error) {
	items, err := pipeline.LoadItemsFile(opts.input)
	if err != nil {
		return exitFatal, err
	}
	if len(items) == 0 {
		return exitFatal, fmt.Errorf("no items in %s", opts.input)
	}

	store, err := progress.Open(ctx, cfg.Progress, logging.OrDefault(&logger, "progress"))
	if err != nil {
		return exitFatal, fmt.Errorf("open progress store: %w", err)
	}
	defer store.Close()

	if opts.reset {
		if err := store.ResetSession(ctx); err != nil {
			return exitFatal, fmt.Errorf("reset progress: %w", err)
		}
		logger.Info().Msg("Progress reset - starting a new session")
	}
	if sess, err := store.Session(ctx); err == nil {
		logger.Info().Str("session_id", sess.ID).Time("session_start", sess.Start).Msg("Progress session")
	}

	f, err := fetcher.New(cfg.Fetch, logging.OrDefault(&logger, "fetcher"))
	if err != nil {
		return exitFatal, err
	}
	if cfg.Cache.Enabled {
		pages, err := cache.Open(ctx, cfg.Cache, logging.OrDefault(&logger, "cache"))
		if err != nil {
			logger.Warn().Err(err).Msg("Page cache unavailable - fetching without it")
		} else {
			defer pages.Close()
			f.SetCache(pages, pages.DefaultTTL())
		}
	}
	gen, err := newGenerator(cfg.Generator, logging.OrDefault(&logger, "generator"))
	if err != nil {
		return exitFatal, err
	}
	ledger, err := budget.New(cfg.Budget, logging.OrDefault(&logger, "budget"))
	if err != nil {
		return exitFatal, err
	}
	gates, err := gate.NewGates(cfg.Pipeline.ConcurrentItems, cfg.Pipeline.ConcurrentCalls, logging.OrDefault(&logger, "gate"))
	if err != nil {
		return exitFatal, err
	}

	orch, err := pipeline.New(cfg.Pipeline, pipeline.Deps{
		Fetcher:   f,
		Extractor: extract.New(),
		Generator: gen,
		Validator: validate.NewBasic(),
		Budget:    ledger,
		Gates:     gates,
		Progress:  store,
		Logger:    logging.OrDefault(&logger, "pipeline"),
	})
	if err != nil {
		return exitFatal, err
	}

	exp, err := export.New(cfg.Export.Output, cfg.Pipeline.Locales, logging.OrDefault(&logger, "export"))
	if err != nil {
		return exitFatal, err
	}
	exp.Expect(items)

	if cfg.Metrics.Addr != "" {
		srv, err := metrics.Listen(cfg.Metrics.Addr, logging.OrDefault(&logger, "metrics"))
		if err != nil {
			return exitFatal, fmt.Errorf("metrics listener: %w", err)
		}
		mctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		go func() {
			if err := srv.Serve(mctx); err != nil {
				logger.Warn().Err(err).Msg("Metrics server stopped")
			}
		}()
	}

	rep, runErr := orch.Run(ctx, items, exp)

	// The export is written even after a fatal error or interrupt so that
	// finished rows are not lost.
	out, expErr := exp.Finalize()
	if expErr == nil {
		rep.Output = out.Location
		rep.OutputRows = out.WrittenRows
		rep.Fallback = out.Fallback
	}
	rep.RateLimit = f.RateLimitState()

	if err := rep.WriteJSON(cfg.ReportPath()); err != nil {
		logger.Warn().Err(err).Str("path", cfg.ReportPath()).Msg("Could not write run report")
	}
	fmt.Fprint(stdout, rep.Summary())

	switch {
	case runErr != nil && expErr != nil:
		return exitFatal, errors.Join(runErr, expErr)
	case runErr != nil:
		return exitFatal, runErr
	case expErr != nil:
		return exitFatal, fmt.Errorf("export: %w", expErr)
	case rep.Interrupted:
		return exitInterrupted, nil
	}
	return exitOK, nil
}

func newGenerator(cfg generate.Config, logger zerolog.Logger) (pipeline.Generator, error) {
	if cfg.Endpoint == "" {
		logger.Info().Msg("No generator endpoint configured - building descriptions from page facts")
		return generate.Passthrough{}, nil
	}
	g, err := generate.NewHTTP(cfg, logger)
	if err != nil {
		return nil, err
	}
	return g, nil
}
