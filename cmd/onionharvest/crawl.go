package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nao1215/onionharvest/internal/config"
	"github.com/nao1215/onionharvest/internal/crawler"
	"github.com/nao1215/onionharvest/internal/database"
	"github.com/nao1215/onionharvest/internal/intel"
	"github.com/nao1215/onionharvest/internal/log"
	"github.com/nao1215/onionharvest/internal/model"
	"github.com/nao1215/onionharvest/internal/pipeline"
	"github.com/nao1215/onionharvest/internal/report"
	"github.com/nao1215/onionharvest/internal/sink"
	"github.com/nao1215/onionharvest/internal/tor"
	"github.com/spf13/cobra"
)

// errNoSiteCompleted makes the process exit non-zero after the summary
// has already explained what happened.
var errNoSiteCompleted = errors.New("no seed crawl completed")

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl [onion-url...]",
		Short: "Crawl onion sites and extract threat intelligence",
		Long: `Crawl fetches each seed site breadth-first through Tor, up to the depth
limit and the per-site page budget. Pages whose text was already seen,
on any site, are not stored again.

Every accepted page gets its IOCs (IPs, emails, hashes, CVEs, crypto
addresses, onion and clearnet references) and a risk label, then goes
to the enabled outputs in the output directory.

Examples:
  # Crawl one site through the local Tor proxy
  onionharvest crawl http://<56 chars>.onion

  # Seeds from the config file, deeper crawl, spreadsheet export
  onionharvest crawl -c onionharvest.yaml -d 3 --xlsx

  # Start a private Tor daemon and verify the exit before crawling
  onionharvest crawl --embedded-tor --verify-tor -u <site>.onion

  # Continue a previous run without fetching known URLs again
  onionharvest crawl --resume -c onionharvest.yaml`,
		Args: cobra.ArbitraryArgs,
		RunE: runCrawlCmd,
	}

	f := cmd.Flags()
	f.StringArrayP("url", "u", nil, "Seed URL (repeatable)")
	f.StringP("config", "c", "", "Configuration file (default: ./onionharvest.yaml or XDG config dir)")

	f.IntP("depth", "d", config.DefaultMaxDepth, "Maximum link depth per site")
	f.IntP("pages", "p", config.DefaultMaxPages, "Maximum pages fetched per site")
	f.IntP("workers", "w", config.DefaultMaxWorkers, "Sites crawled concurrently")
	f.Duration("delay", config.DefaultDelay, "Delay before every request to a host")
	f.Bool("stay-on-site", false, "Only follow links to the seed's own host")
	f.Bool("resume", false, "Skip URLs already recorded in the database")

	f.StringP("output", "o", config.DefaultOutputDir, "Output directory")
	f.Bool("no-json", false, "Disable the JSON export")
	f.Bool("no-csv", false, "Disable the CSV export")
	f.Bool("no-sqlite", false, "Disable the SQLite pages table")
	f.Bool("xlsx", false, "Enable the XLSX export")
	f.Bool("no-report", false, "Disable the HTML report")
	f.Bool("markdown", false, "Write a Markdown summary")

	f.String("log-level", config.DefaultLogLevel, "Log level (debug, info, warning, error)")
	f.String("log-file", "", "Also write logs to this file")
	f.String("log-format", config.DefaultLogFormat, "Log format (text, json)")

	f.Bool("verify-tor", false, "Check that traffic exits through Tor before crawling")
	f.Bool("embedded-tor", false, "Start a private Tor daemon instead of using the SOCKS proxy")
	f.Duration("tor-timeout", config.DefaultTorStartupTimeout, "Timeout for embedded Tor startup")

	return cmd
}

func runCrawlCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args, os.LookupEnv)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger, closeLog, err := setupLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Info("received shutdown signal, finishing in-flight pages...")
			cancel()
		case <-ctx.Done():
		}
	}()

	out := cmd.OutOrStdout()
	_, _ = report.NewSummaryWriter(out).WriteBanner(report.Banner{
		Version:  getVersion(),
		Seeds:    len(cfg.SeedURLs),
		Depth:    cfg.Crawler.MaxDepth,
		Pages:    cfg.Crawler.MaxPages,
		Workers:  cfg.Crawler.MaxWorkers,
		Proxy:    cfg.Tor.SocksAddress,
		Embedded: cfg.Tor.Embedded,
		Output:   cfg.Storage.OutputDir,
	})

	deps, cleanup, err := setupTor(ctx, *cfg, out, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	summary, err := harvest(ctx, *cfg, deps, out, logger)
	if err != nil {
		return err
	}
	if !summary.AnyCompleted() {
		return errNoSiteCompleted
	}
	return nil
}

// buildConfig layers the config file, the environment and the flags, in
// that order. Flags only apply when set explicitly.
func buildConfig(cmd *cobra.Command, args []string, lookup func(string) (string, bool)) (*config.Config, error) {
	f := cmd.Flags()

	configFlag, err := f.GetString("config")
	if err != nil {
		return nil, err
	}
	cfg := config.NewConfig()
	if path := config.FindConfigFile(configFlag); path != "" {
		if cfg, err = config.LoadFile(path); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	} else if configFlag != "" {
		return nil, fmt.Errorf("%w: %s", config.ErrConfigNotFound, configFlag)
	}

	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, err
	}

	type intFlag struct {
		name string
		dst  *int
	}
	for _, fl := range []intFlag{
		{"depth", &cfg.Crawler.MaxDepth},
		{"pages", &cfg.Crawler.MaxPages},
		{"workers", &cfg.Crawler.MaxWorkers},
	} {
		if f.Changed(fl.name) {
			if *fl.dst, err = f.GetInt(fl.name); err != nil {
				return nil, err
			}
		}
	}

	type durationFlag struct {
		name string
		dst  *time.Duration
	}
	for _, fl := range []durationFlag{
		{"delay", &cfg.Crawler.Delay},
		{"tor-timeout", &cfg.Tor.StartupTimeout},
	} {
		if f.Changed(fl.name) {
			if *fl.dst, err = f.GetDuration(fl.name); err != nil {
				return nil, err
			}
		}
	}

	type stringFlag struct {
		name string
		dst  *string
	}
	for _, fl := range []stringFlag{
		{"output", &cfg.Storage.OutputDir},
		{"log-level", &cfg.LogLevel},
		{"log-file", &cfg.LogFile},
		{"log-format", &cfg.LogFormat},
	} {
		if f.Changed(fl.name) {
			if *fl.dst, err = f.GetString(fl.name); err != nil {
				return nil, err
			}
		}
	}

	// Boolean flags; invert marks the --no-* switches.
	type boolFlag struct {
		name   string
		dst    *bool
		invert bool
	}
	for _, fl := range []boolFlag{
		{"no-json", &cfg.Storage.JSON, true},
		{"no-csv", &cfg.Storage.CSV, true},
		{"no-sqlite", &cfg.Storage.SQLite, true},
		{"no-report", &cfg.Storage.HTMLReport, true},
		{"xlsx", &cfg.Storage.XLSX, false},
		{"markdown", &cfg.Storage.Markdown, false},
		{"stay-on-site", &cfg.Crawler.StayOnSite, false},
		{"resume", &cfg.Crawler.Resume, false},
		{"verify-tor", &cfg.Tor.Verify, false},
		{"embedded-tor", &cfg.Tor.Embedded, false},
	} {
		if !f.Changed(fl.name) {
			continue
		}
		v, err := f.GetBool(fl.name)
		if err != nil {
			return nil, err
		}
		*fl.dst = v != fl.invert
	}

	seeds, err := f.GetStringArray("url")
	if err != nil {
		return nil, err
	}
	seeds = append(seeds, args...)
	if len(seeds) > 0 {
		cfg.SeedURLs = seeds
	}
	return cfg, nil
}

// setupLogger builds the secure logger, teeing to logFile when set.
func setupLogger(level, format, logFile string) (*slog.Logger, func(), error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, nil, err
	}
	newLogger := log.NewSecureLogger
	switch format {
	case "", config.LogFormatText:
	case config.LogFormatJSON:
		newLogger = log.NewSecureJSONLogger
	default:
		return nil, nil, fmt.Errorf("%w: %q", config.ErrInvalidLogFormat, format)
	}
	if logFile == "" {
		return newLogger(os.Stderr, lvl), func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(logFile), 0o750); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Clean(logFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logger := newLogger(io.MultiWriter(os.Stderr, f), lvl)
	return logger, func() { _ = f.Close() }, nil
}

// harvestDeps are the Tor-facing collaborators of a run.
type harvestDeps struct {
	Fetcher crawler.Fetcher

	// Renewer may be nil, which disables circuit renewal.
	Renewer pipeline.Renewer
}

// setupTor connects to the configured or embedded Tor daemon and returns
// the fetcher and circuit renewer of the run.
func setupTor(ctx context.Context, cfg config.Config, out io.Writer, logger *slog.Logger) (harvestDeps, func(), error) {
	var (
		client      *tor.Client
		controlAddr = cfg.Tor.ControlAddress
		cleanup     = func() {}
		err         error
	)

	if cfg.Tor.Embedded {
		fmt.Fprintln(out, "Starting embedded Tor daemon, this may take 1-3 minutes...")
		embedded := tor.NewEmbeddedTor(tor.WithStartupTimeout(cfg.Tor.StartupTimeout))
		if err := embedded.Start(ctx); err != nil {
			return harvestDeps{}, nil, fmt.Errorf("failed to start embedded Tor: %w", err)
		}
		cleanup = func() {
			logger.Info("stopping embedded Tor daemon")
			if err := embedded.Stop(); err != nil {
				logger.Error("failed to stop embedded Tor", "error", err)
			}
		}
		logger.Info("embedded Tor daemon started", "socks", embedded.SocksAddr(), "control", embedded.ControlAddr())
		controlAddr = embedded.ControlAddr()
		client, err = embedded.NewClient(cfg.Crawler.Timeout)
	} else {
		client, err = tor.NewClient(cfg.Tor.SocksAddress, cfg.Crawler.Timeout)
	}
	if err != nil {
		cleanup()
		return harvestDeps{}, nil, fmt.Errorf("failed to create Tor client: %w", err)
	}

	if status := client.CheckConnection(ctx); status != tor.ProxyStatusOK {
		cleanup()
		return harvestDeps{}, nil, fmt.Errorf("tor proxy check failed: %s (make sure Tor is running at %s): %w",
			status, client.ProxyAddress(), status.Err())
	}
	logger.Info("tor proxy reachable", "address", client.ProxyAddress())

	if cfg.Tor.Verify {
		check, err := client.VerifyTor(ctx)
		if err != nil {
			cleanup()
			return harvestDeps{}, nil, fmt.Errorf("tor verification failed: %w", err)
		}
		fmt.Fprintf(out, "Traffic exits through Tor (exit %s)\n\n", check.IP)
	}

	transport := tor.NewTransport(client.NewHTTPClient(),
		tor.WithDelay(cfg.Crawler.Delay),
		tor.WithRetry(cfg.Crawler.RetryCount, cfg.Crawler.BackoffBase),
		tor.WithMaxBodySize(cfg.Crawler.MaxBodySize),
		tor.WithHostHeaders(cfg.SiteHeaders()),
		tor.WithTransportLogger(logger))

	var renewer pipeline.Renewer
	if controlAddr != "" {
		renewer = tor.NewController(controlAddr, cfg.Tor.ControlPassword, controllerOptions(cfg, logger)...)
	}
	return harvestDeps{Fetcher: transport, Renewer: renewer}, cleanup, nil
}

// controllerOptions selects control port authentication. The embedded
// daemon is cookie authenticated; an external Tor uses the password.
func controllerOptions(cfg config.Config, logger *slog.Logger) []tor.ControllerOption {
	opts := []tor.ControllerOption{
		tor.WithSettle(cfg.Tor.RenewSettle),
		tor.WithControlLogger(logger),
	}
	if cfg.Tor.Embedded {
		opts = append(opts, tor.WithCookieAuth())
	}
	return opts
}

// harvest runs the crawl and writes every enabled output. Outputs are
// still written when ctx is cancelled mid-run.
func harvest(ctx context.Context, cfg config.Config, deps harvestDeps, out io.Writer, logger *slog.Logger) (model.RunSummary, error) {
	// Writing results must outlive a cancelled crawl.
	finishCtx := context.WithoutCancel(ctx)

	store, err := database.Open(cfg.DBPath(), database.DefaultOptions())
	if err != nil {
		return model.RunSummary{}, fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	engine, err := intel.NewEngine(
		intel.WithThresholds(cfg.Intel.Thresholds),
		intel.WithSaturation(cfg.Intel.Saturation))
	if err != nil {
		return model.RunSummary{}, err
	}

	frontierOpts := []crawler.Option{
		crawler.WithMaxDepth(cfg.Crawler.MaxDepth),
		crawler.WithMaxPages(cfg.Crawler.MaxPages),
		crawler.WithBlacklist(cfg.Crawler.Blacklist),
		crawler.WithStayOnSite(cfg.Crawler.StayOnSite),
	}
	if cfg.Crawler.Resume {
		known, err := store.KnownURLs(ctx)
		if err != nil {
			return model.RunSummary{}, fmt.Errorf("failed to load known URLs: %w", err)
		}
		logger.Info("resuming", "known_urls", len(known))
		frontierOpts = append(frontierOpts, crawler.WithKnownURLs(known))
	}

	runID := uuid.NewString()
	started := time.Now()
	sinks, err := openSinks(cfg, store, runID, started, logger)
	if err != nil {
		return model.RunSummary{}, err
	}
	// The collector feeds the reports and the terminal summary.
	collector := sink.NewCollector()
	multi := sink.NewMulti(logger, append(sinks, collector)...)

	pages := pipeline.New(pipeline.WithLogger(logger))
	pages.Then(pipeline.NewIntelStep(engine), pipeline.NewSinkStep(multi))

	circuit := pipeline.NewCircuitManager(deps.Renewer, cfg.Tor.RenewCircuitEvery,
		pipeline.WithCircuitLogger(logger))
	bus := pipeline.NewEventBus(256)
	rendered := make(chan struct{})
	go func() {
		defer close(rendered)
		renderEvents(out, bus.Events())
	}()

	orch := pipeline.NewOrchestrator(deps.Fetcher, store, pages,
		pipeline.WithWorkers(cfg.Crawler.MaxWorkers),
		pipeline.WithRunID(runID),
		pipeline.WithEventBus(bus),
		pipeline.WithCircuitManager(circuit),
		pipeline.WithFrontierOptions(frontierOpts...),
		pipeline.WithSiteOptions(siteOptions(cfg)),
		pipeline.WithOrchestratorLogger(logger))

	summary, runErr := orch.Run(ctx, cfg.SeedURLs)
	bus.Close()
	<-rendered

	if err := multi.Close(); err != nil {
		logger.Error("failed to close outputs", "error", err)
	}
	if runErr != nil {
		return summary, runErr
	}
	if err := store.SaveRun(finishCtx, summary); err != nil {
		logger.Error("failed to save run summary", "run_id", runID, "error", err)
	}

	rep := report.New(collector.Records(), &summary, getVersion())
	if err := writeReports(cfg, rep, started, out); err != nil {
		logger.Error("failed to write report", "error", err)
	}
	for _, s := range sinks {
		if p, ok := s.(interface{ Path() string }); ok {
			fmt.Fprintf(out, "Wrote %s\n", p.Path())
		}
	}
	if cfg.Storage.SQLite {
		fmt.Fprintf(out, "Wrote %s (run %s)\n", store.Path(), runID)
	}

	if _, err := report.NewSummaryWriter(out).Write(rep); err != nil {
		logger.Warn("failed to print summary", "error", err)
	}
	return summary, nil
}

// openSinks creates the enabled file and database outputs.
func openSinks(cfg config.Config, store *database.Store, runID string, started time.Time, logger *slog.Logger) ([]sink.Sink, error) {
	dir := cfg.Storage.OutputDir
	var sinks []sink.Sink
	closeAll := func() {
		for _, s := range sinks {
			_ = s.Close()
		}
	}

	if cfg.Storage.JSON {
		s, err := sink.NewJSON(sink.FileName(dir, "results", "json", started))
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.Storage.CSV {
		s, err := sink.NewCSV(sink.FileName(dir, "results", "csv", started))
		if err != nil {
			closeAll()
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.Storage.XLSX {
		sinks = append(sinks, sink.NewXLSX(sink.FileName(dir, "results", "xlsx", started)))
	}
	if cfg.Storage.SQLite {
		sinks = append(sinks, sink.NewSQLite(store, runID, logger))
	}
	return sinks, nil
}

// writeReports writes the HTML report and the Markdown summary when enabled.
func writeReports(cfg config.Config, rep *report.Report, started time.Time, out io.Writer) error {
	var errs []error
	dir := cfg.Storage.OutputDir
	if cfg.Storage.HTMLReport {
		path := sink.FileName(dir, "report", "html", started)
		if err := report.SaveFile(path, rep, func(w io.Writer) report.Writer { return report.NewHTMLWriter(w) }); err != nil {
			errs = append(errs, err)
		} else {
			fmt.Fprintf(out, "Wrote %s\n", path)
		}
	}
	if cfg.Storage.Markdown {
		path := sink.FileName(dir, "summary", "md", started)
		if err := report.SaveFile(path, rep, func(w io.Writer) report.Writer { return report.NewMarkdownWriter(w) }); err != nil {
			errs = append(errs, err)
		} else {
			fmt.Fprintf(out, "Wrote %s\n", path)
		}
	}
	return errors.Join(errs...)
}

// siteOptions returns the per-site frontier overrides of cfg.Sites.
func siteOptions(cfg config.Config) func(seed string) []crawler.Option {
	return func(seed string) []crawler.Option {
		if len(cfg.Sites) == 0 {
			return nil
		}
		normalized, err := tor.NormalizeSeed(seed)
		if err != nil {
			return nil
		}
		u, err := url.Parse(normalized)
		if err != nil {
			return nil
		}
		policy := cfg.Policy(u.Hostname())
		return []crawler.Option{
			crawler.WithMaxDepth(policy.MaxDepth),
			crawler.WithMaxPages(policy.MaxPages),
			crawler.WithBlacklist(policy.Blacklist),
		}
	}
}
