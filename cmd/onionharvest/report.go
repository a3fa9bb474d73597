package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"time"

	"github.com/nao1215/onionharvest/internal/config"
	"github.com/nao1215/onionharvest/internal/database"
	"github.com/nao1215/onionharvest/internal/report"
	"github.com/nao1215/onionharvest/internal/sink"
	"github.com/spf13/cobra"
)

// errNoReportFormat is returned when every report format is disabled.
var errNoReportFormat = errors.New("no report format selected: drop --no-html or add --markdown")

// NewReportCmd creates the report command.
func NewReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render reports from a previous run stored in SQLite",
		Long: `Report rebuilds the HTML report and the Markdown summary from the pages
stored in the harvester database, without touching the network.

Examples:
  # Report on the latest run
  onionharvest report

  # List stored runs, then report on one of them
  onionharvest report --list
  onionharvest report --run 3f1c... --markdown

  # Every page ever stored, across runs
  onionharvest report --all`,
		Args: cobra.NoArgs,
		RunE: runReport,
	}

	f := cmd.Flags()
	f.StringP("config", "c", "", "Configuration file used to locate the database")
	f.String("db", "", "Database file (default: <output_dir>/<db_name> from the config)")
	f.StringP("output", "o", "", "Directory for the report files (default: the config's output_dir)")
	f.String("run", "", "Run id to report on (default: the latest run)")
	f.Bool("all", false, "Report on every stored page across runs")
	f.Bool("list", false, "List stored runs and exit")
	f.Bool("markdown", false, "Also write a Markdown summary")
	f.Bool("no-html", false, "Do not write the HTML report")
	f.Bool("no-color", false, "Disable colors in the terminal summary")
	cmd.MarkFlagsMutuallyExclusive("run", "all")

	return cmd
}

// reportOptions are the resolved flags of the report command.
type reportOptions struct {
	DBPath    string
	OutputDir string
	RunID     string
	All       bool
	List      bool
	HTML      bool
	Markdown  bool
	NoColor   bool
}

func runReport(cmd *cobra.Command, _ []string) error {
	opts, err := reportOptionsFromFlags(cmd)
	if err != nil {
		return err
	}
	return renderStoredReport(cmd, opts, cmd.OutOrStdout())
}

func reportOptionsFromFlags(cmd *cobra.Command) (reportOptions, error) {
	f := cmd.Flags()
	configFlag, _ := f.GetString("config") //nolint:errcheck // flag is defined above
	dbPath, _ := f.GetString("db")         //nolint:errcheck // flag is defined above
	outputDir, _ := f.GetString("output")  //nolint:errcheck // flag is defined above
	runID, _ := f.GetString("run")         //nolint:errcheck // flag is defined above
	all, _ := f.GetBool("all")             //nolint:errcheck // flag is defined above
	list, _ := f.GetBool("list")           //nolint:errcheck // flag is defined above
	markdown, _ := f.GetBool("markdown")   //nolint:errcheck // flag is defined above
	noHTML, _ := f.GetBool("no-html")      //nolint:errcheck // flag is defined above
	noColor, _ := f.GetBool("no-color")    //nolint:errcheck // flag is defined above

	cfg := config.NewConfig()
	if path := config.FindConfigFile(configFlag); path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return reportOptions{}, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
		cfg = loaded
	} else if configFlag != "" {
		return reportOptions{}, fmt.Errorf("%w: %s", config.ErrConfigNotFound, configFlag)
	}

	if dbPath == "" {
		dbPath = cfg.DBPath()
	}
	if outputDir == "" {
		outputDir = cfg.Storage.OutputDir
		if f.Changed("db") {
			outputDir = filepath.Dir(dbPath)
		}
	}

	opts := reportOptions{
		DBPath:    dbPath,
		OutputDir: outputDir,
		RunID:     runID,
		All:       all,
		List:      list,
		HTML:      !noHTML,
		Markdown:  markdown,
		NoColor:   noColor,
	}
	if !opts.List && !opts.HTML && !opts.Markdown {
		return reportOptions{}, errNoReportFormat
	}
	return opts, nil
}

// renderStoredReport loads the selected run from the database and writes
// the requested report files.
func renderStoredReport(cmd *cobra.Command, opts reportOptions, out io.Writer) error {
	ctx := cmd.Context()

	dbOpts := database.DefaultOptions()
	dbOpts.CreateIfNotExists = false
	store, err := database.Open(opts.DBPath, dbOpts)
	if err != nil {
		return err
	}
	defer store.Close()

	if opts.List {
		runs, err := store.Runs(ctx)
		if err != nil {
			return err
		}
		return writeRunList(out, runs, opts.NoColor)
	}

	var rep *report.Report
	switch {
	case opts.All:
		pages, err := store.Pages(ctx, "")
		if err != nil {
			return err
		}
		rep = report.New(pages, nil, getVersion())
	default:
		var run *database.RunRecord
		if opts.RunID != "" {
			run, err = store.Run(ctx, opts.RunID)
		} else {
			run, err = store.LatestRun(ctx)
		}
		if err != nil {
			if errors.Is(err, database.ErrRunNotFound) && opts.RunID == "" {
				return fmt.Errorf("%w: %s has no recorded runs, crawl first", err, opts.DBPath)
			}
			return err
		}
		pages, err := store.Pages(ctx, run.ID)
		if err != nil {
			return err
		}
		rep = report.New(pages, &run.Summary, getVersion())
	}

	now := time.Now()
	var errs []error
	if opts.HTML {
		errs = append(errs, saveReport(out, opts.OutputDir, "report", "html", now, rep,
			func(w io.Writer) report.Writer { return report.NewHTMLWriter(w) }))
	}
	if opts.Markdown {
		errs = append(errs, saveReport(out, opts.OutputDir, "summary", "md", now, rep,
			func(w io.Writer) report.Writer { return report.NewMarkdownWriter(w) }))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	_, err = report.NewSummaryWriter(out, report.WithNoColor(opts.NoColor)).Write(rep)
	return err
}

func saveReport(out io.Writer, dir, prefix, ext string, t time.Time, rep *report.Report, newWriter func(io.Writer) report.Writer) error {
	path := sink.FileName(dir, prefix, ext, t)
	if err := report.SaveFile(path, rep, newWriter); err != nil {
		return err
	}
	fmt.Fprintf(out, "Wrote %s\n", path)
	return nil
}

// writeRunList prints the stored runs, most recent first.
func writeRunList(out io.Writer, runs []database.RunRecord, noColor bool) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(out, "No runs recorded.")
		return err
	}

	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		finished := "-"
		if !run.Finished.IsZero() {
			finished = run.Finished.Local().Format(time.DateTime)
		}
		rows = append(rows, []string{
			run.ID,
			run.Started.Local().Format(time.DateTime),
			finished,
			fmt.Sprintf("%d / %d", run.Summary.SitesCrawled(), len(run.Summary.Sites)),
			strconv.Itoa(run.Summary.PagesAccepted()),
		})
	}

	tbl := report.NewSummaryWriter(out, report.WithNoColor(noColor)).
		Table([]string{"Run", "Started", "Finished", "Sites", "Pages"}, rows)
	_, err := fmt.Fprintln(out, tbl)
	return err
}
