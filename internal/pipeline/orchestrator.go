package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nao1215/onionharvest/internal/crawler"
	"github.com/nao1215/onionharvest/internal/model"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the number of sites crawled at the same time.
const DefaultWorkers = 3

// ErrNoSeeds is returned by Run when no seed URL was given.
var ErrNoSeeds = errors.New("no seed URLs to crawl")

// Orchestrator crawls many seeds concurrently, one frontier goroutine per
// site, bounded by the worker limit. Excess seeds wait for a free slot.
//
// Every accepted page goes through the page pipeline and is counted by
// the circuit manager. Frontier transitions are turned into progress
// events on the bus.
type Orchestrator struct {
	fetcher  crawler.Fetcher
	store    crawler.DedupStore
	pages    *Pipeline
	circuit  *CircuitManager
	events   *EventBus
	workers  int
	runID    string
	frontier []crawler.Option
	perSite  func(seed string) []crawler.Option
	logger   *slog.Logger
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithWorkers sets the maximum number of concurrent site crawls.
func WithWorkers(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithCircuitManager sets the circuit manager shared by every frontier.
func WithCircuitManager(m *CircuitManager) OrchestratorOption {
	return func(o *Orchestrator) {
		o.circuit = m
	}
}

// WithEventBus publishes progress events to bus.
func WithEventBus(bus *EventBus) OrchestratorOption {
	return func(o *Orchestrator) {
		o.events = bus
	}
}

// WithRunID sets the run id. A random UUID is used otherwise.
func WithRunID(id string) OrchestratorOption {
	return func(o *Orchestrator) {
		o.runID = id
	}
}

// WithFrontierOptions passes options to every frontier.
func WithFrontierOptions(opts ...crawler.Option) OrchestratorOption {
	return func(o *Orchestrator) {
		o.frontier = append(o.frontier, opts...)
	}
}

// WithSiteOptions sets a function that returns extra frontier options for
// one seed. They are applied after the options shared by every frontier.
func WithSiteOptions(fn func(seed string) []crawler.Option) OrchestratorOption {
	return func(o *Orchestrator) {
		o.perSite = fn
	}
}

// WithOrchestratorLogger sets the logger.
func WithOrchestratorLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// NewOrchestrator creates an Orchestrator. Frontiers fetch through
// fetcher, deduplicate against store and pass accepted pages to pages.
func NewOrchestrator(fetcher crawler.Fetcher, store crawler.DedupStore, pages *Pipeline, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		fetcher: fetcher,
		store:   store,
		pages:   pages,
		workers: DefaultWorkers,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.runID == "" {
		o.runID = uuid.NewString()
	}
	if o.circuit == nil {
		o.circuit = NewCircuitManager(nil, 0, WithCircuitLogger(o.logger))
	}
	if o.pages == nil {
		o.pages = New(WithLogger(o.logger))
	}
	return o
}

// RunID returns the id of the run.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// Run crawls every seed and returns the aggregated summary once all
// frontiers have stopped. Site failures never fail the run; they are
// reported in the per-site stats. Cancelling ctx makes each frontier
// stop at its next queue pop, and seeds not yet started are reported as
// cancelled.
func (o *Orchestrator) Run(ctx context.Context, seeds []string) (model.RunSummary, error) {
	summary := model.RunSummary{
		RunID:   o.runID,
		Started: time.Now().UTC(),
	}
	if len(seeds) == 0 {
		return summary, ErrNoSeeds
	}

	o.logger.Info("starting harvest run",
		"run_id", o.runID,
		"seeds", len(seeds),
		"workers", o.workers)

	stats := make([]model.SiteStats, len(seeds))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(o.workers)
	for i, seed := range seeds {
		g.Go(func() error {
			st := o.crawlSite(ctx, seed)
			mu.Lock()
			stats[i] = st
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // site goroutines never return errors

	summary.Sites = stats
	summary.Finished = time.Now().UTC()
	summary.Epochs = o.circuit.Epoch()

	o.logger.Info("harvest run complete",
		"run_id", o.runID,
		"sites", summary.SitesCrawled(),
		"pages", summary.PagesAccepted(),
		"failed", summary.PagesFailed(),
		"elapsed", summary.Elapsed())
	o.publish(Event{Kind: EventRunDone, Summary: &summary})

	return summary, nil
}

// crawlSite runs one frontier and converts its outcome into stats.
func (o *Orchestrator) crawlSite(ctx context.Context, seed string) model.SiteStats {
	if ctx.Err() != nil {
		st := model.SiteStats{Seed: seed, Status: model.SiteCancelled}
		o.publish(Event{Kind: EventSiteDone, Site: seed, Stats: &st})
		return st
	}

	opts := make([]crawler.Option, 0, len(o.frontier)+2)
	opts = append(opts, o.frontier...)
	if o.perSite != nil {
		opts = append(opts, o.perSite(seed)...)
	}
	opts = append(opts, crawler.WithObserver(o.observe), crawler.WithLogger(o.logger))

	f := crawler.NewFrontier(o.fetcher, o.store, o.handlePage, opts...)
	st, err := f.Run(ctx, seed)

	if errors.Is(err, crawler.ErrInvalidSeed) {
		o.logger.Warn("invalid seed skipped", "seed", seed, "error", err)
		o.publish(Event{Kind: EventLog, Site: seed, Err: err, Message: fmt.Sprintf("invalid seed skipped: %s", seed)})
	}

	site := st.Site
	if site == "" {
		site = seed
	}
	o.publish(Event{Kind: EventSiteDone, Site: site, Err: err, Stats: &st})
	return st
}

// handlePage runs the page pipeline and counts the page for circuit
// renewal. Pipeline failures are logged; they do not stop the site.
func (o *Orchestrator) handlePage(ctx context.Context, rec *model.PageRecord) error {
	if err := o.pages.Execute(ctx, rec); err != nil {
		o.logger.Error("page pipeline failed", "url", rec.URL, "error", err)
		o.publish(Event{Kind: EventLog, Site: rec.Site, URL: rec.URL, Err: err, Message: "page pipeline failed"})
	}
	o.publish(Event{Kind: EventPageAccepted, Site: rec.Site, URL: rec.URL, Depth: rec.Depth, Page: rec})

	if o.circuit.PageAccepted(ctx) {
		o.publish(Event{Kind: EventLog, Message: fmt.Sprintf("tor circuit renewed (epoch %d)", o.circuit.Epoch())})
	}
	return nil
}

// observe maps frontier transitions onto progress events.
func (o *Orchestrator) observe(ev crawler.StateEvent) {
	switch ev.State {
	case crawler.StateRejected:
		o.publish(Event{Kind: EventPageRejected, Time: ev.At, Site: ev.Site, URL: ev.URL, Depth: ev.Depth})
	case crawler.StateFailedTerminal:
		o.publish(Event{Kind: EventFetchFailed, Time: ev.At, Site: ev.Site, URL: ev.URL, Depth: ev.Depth, Err: ev.Err})
	default:
	}
}

func (o *Orchestrator) publish(ev Event) {
	if o.events != nil {
		o.events.Publish(ev)
	}
}
