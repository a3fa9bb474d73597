package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/nao1215/onionharvest/internal/model"
	"github.com/nao1215/onionharvest/internal/tor"
)

// Default frontier limits.
const (
	DefaultMaxDepth = 2
	DefaultMaxPages = 20
)

// Fetcher retrieves one URL. *tor.Transport implements it. A request in
// progress when ctx is cancelled should complete and return its page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*tor.Response, error)
}

// DedupStore is the URL and content-hash index shared by every frontier
// of a run. Record must be an atomic check-and-insert: it returns true
// only for the first caller that presents a given URL or hash.
type DedupStore interface {
	Seen(ctx context.Context, url string) (bool, error)
	Record(ctx context.Context, url, hash string) (bool, error)
}

// PageHandler receives every accepted page. The record must not be
// modified after the handler returns.
type PageHandler func(ctx context.Context, rec *model.PageRecord) error

// Frontier crawls one onion site breadth-first.
//
// Each call to Run owns its queue and visited set, so a Frontier holds
// only configuration and may be reused for several seeds in sequence.
// Run must not be called concurrently on the same Frontier if an
// Observer that is not goroutine safe is installed.
type Frontier struct {
	fetcher Fetcher
	store   DedupStore
	handler PageHandler

	// maxDepth is the deepest link level followed. 0 fetches the seed only.
	maxDepth int

	// maxPages bounds the number of fetches per site, whatever their outcome.
	maxPages int

	blacklist  []string
	stayOnSite bool
	known      map[string]bool
	observer   Observer
	logger     *slog.Logger
}

// Option configures a Frontier.
type Option func(*Frontier)

// WithMaxDepth sets the maximum link depth.
func WithMaxDepth(depth int) Option {
	return func(f *Frontier) {
		f.maxDepth = depth
	}
}

// WithMaxPages sets the per-site fetch budget.
func WithMaxPages(n int) Option {
	return func(f *Frontier) {
		f.maxPages = n
	}
}

// WithBlacklist sets the path patterns that are never fetched. A pattern
// matches a path that equals it, ends with it or starts with it, ignoring
// case and trailing slashes.
func WithBlacklist(patterns []string) Option {
	return func(f *Frontier) {
		f.blacklist = f.blacklist[:0]
		for _, p := range patterns {
			p = strings.TrimRight(strings.ToLower(strings.TrimSpace(p)), "/")
			if p != "" {
				f.blacklist = append(f.blacklist, p)
			}
		}
	}
}

// WithStayOnSite restricts link following to the seed's host.
func WithStayOnSite(stay bool) Option {
	return func(f *Frontier) {
		f.stayOnSite = stay
	}
}

// WithKnownURLs marks urls as already crawled by an earlier run. They are
// skipped when dequeued, the seed included.
func WithKnownURLs(urls map[string]bool) Option {
	return func(f *Frontier) {
		f.known = urls
	}
}

// WithObserver installs a callback for state transitions.
func WithObserver(o Observer) Option {
	return func(f *Frontier) {
		f.observer = o
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Frontier) {
		f.logger = l
	}
}

// NewFrontier creates a Frontier that fetches through fetcher, consults
// store before persisting or enqueueing, and passes accepted pages to
// handler.
func NewFrontier(fetcher Fetcher, store DedupStore, handler PageHandler, opts ...Option) *Frontier {
	f := &Frontier{
		fetcher:  fetcher,
		store:    store,
		handler:  handler,
		maxDepth: DefaultMaxDepth,
		maxPages: DefaultMaxPages,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// queueItem represents an item in the crawl queue.
type queueItem struct {
	url   string
	depth int
}

// crawlState is the per-run state of one site.
type crawlState struct {
	site     string
	host     string
	queue    []queueItem
	enqueued map[string]bool
	visited  map[string]bool
	stats    model.SiteStats
	logger   *slog.Logger
}

// Run crawls the site of seed until the queue drains, the fetch budget is
// spent or ctx is cancelled. Accepted pages are handed to the PageHandler
// as they are found.
//
// An invalid seed returns ErrInvalidSeed with status SiteInvalid. A dedup
// store or handler failure stops the site with status SiteAborted and is
// returned. Cancellation is not an error: the stats report
// SiteCancelled.
func (f *Frontier) Run(ctx context.Context, seed string) (model.SiteStats, error) {
	start := time.Now()

	seedURL, err := tor.NormalizeSeed(seed)
	if err != nil {
		return model.SiteStats{
			Seed:   seed,
			Status: model.SiteInvalid,
			Error:  err.Error(),
		}, fmt.Errorf("%w %q: %w", ErrInvalidSeed, seed, err)
	}
	u, err := url.Parse(seedURL)
	if err != nil {
		return model.SiteStats{Seed: seed, Status: model.SiteInvalid, Error: err.Error()},
			fmt.Errorf("%w %q: %w", ErrInvalidSeed, seed, err)
	}

	st := &crawlState{
		site:     u.Scheme + "://" + u.Host,
		host:     u.Host,
		queue:    []queueItem{{url: seedURL}},
		enqueued: map[string]bool{seedURL: true},
		visited:  make(map[string]bool),
		stats: model.SiteStats{
			Seed:   seed,
			Status: model.SiteCompleted,
		},
	}
	st.stats.Site = st.site
	st.logger = f.logger.With("site", st.site)
	st.logger.Info("starting site crawl", "seed", seedURL, "max_depth", f.maxDepth, "max_pages", f.maxPages)

	err = f.crawl(ctx, st)

	st.stats.Duration = time.Since(start)
	if err != nil {
		st.stats.Status = model.SiteAborted
		st.stats.Error = err.Error()
		st.logger.Error("site crawl aborted", "error", err)
		return st.stats, err
	}
	st.logger.Info("site crawl finished",
		"status", st.stats.Status,
		"fetched", st.stats.Fetched,
		"accepted", st.stats.Accepted,
		"duplicates", st.stats.Duplicates,
		"failed", st.stats.Failed,
		"skipped", st.stats.Skipped,
		"duration", st.stats.Duration)
	return st.stats, nil
}

func (f *Frontier) crawl(ctx context.Context, st *crawlState) error {
	// Work that follows a completed fetch is not interrupted, so a page
	// that was downloaded is also recorded.
	persistCtx := context.WithoutCancel(ctx)

	for len(st.queue) > 0 && st.stats.Fetched < f.maxPages {
		if ctx.Err() != nil {
			st.stats.Status = model.SiteCancelled
			return nil
		}

		item := st.queue[0]
		st.queue = st.queue[1:]

		if st.visited[item.url] {
			continue
		}
		st.visited[item.url] = true
		if f.known[item.url] {
			st.stats.Skipped++
			continue
		}

		f.emit(st, item, StateEvent{State: StateFetching})
		st.stats.Fetched++

		// A stop during the fetch lets the request finish; only a failed
		// fetch after the stop is discarded.
		resp, err := f.fetcher.Fetch(ctx, item.url)
		if err != nil {
			if ctx.Err() != nil {
				st.stats.Fetched--
				st.stats.Status = model.SiteCancelled
				return nil
			}
			f.fetchFailed(st, item, err)
			continue
		}
		if resp.Attempts > 1 {
			f.emit(st, item, StateEvent{State: StateFailedRetry, Attempts: resp.Attempts - 1})
		}

		base := resp.URL
		if base == "" {
			base = item.url
		}
		extractStart := time.Now()
		content := Extract(resp.Body, resp.ContentType, base)
		crawlTime := resp.Elapsed + time.Since(extractStart)

		fresh, err := f.store.Record(persistCtx, item.url, content.Hash)
		if err != nil {
			return fmt.Errorf("record %s: %w", item.url, err)
		}

		if fresh {
			st.stats.Accepted++
			rec := &model.PageRecord{
				URL:         item.url,
				Site:        st.site,
				Title:       content.Title,
				Depth:       item.depth,
				CrawlTime:   crawlTime,
				LinksFound:  len(content.Links),
				ContentHash: content.Hash,
				Text:        content.Text,
				CrawledAt:   time.Now().UTC(),
			}
			f.emit(st, item, StateEvent{State: StateAccepted, Attempts: resp.Attempts})
			st.logger.Info("page accepted", "url", item.url, "depth", item.depth, "title", rec.Title, "links", rec.LinksFound)
			if err := f.handler(persistCtx, rec); err != nil {
				return fmt.Errorf("%w for %s: %w", ErrHandlerFailed, item.url, err)
			}
		} else {
			st.stats.Duplicates++
			f.emit(st, item, StateEvent{State: StateRejected, Attempts: resp.Attempts})
			st.logger.Debug("duplicate content, not persisted", "url", item.url, "hash", content.Hash)
		}

		if item.depth >= f.maxDepth {
			continue
		}
		n, err := f.enqueue(persistCtx, st, content.Links, item.depth+1)
		if err != nil {
			return err
		}
		if n > 0 {
			f.emit(st, item, StateEvent{State: StateEnqueueLinks, Links: n})
		}
	}
	return nil
}

func (f *Frontier) fetchFailed(st *crawlState, item queueItem, err error) {
	attempts := 1
	var fe *tor.FetchError
	if errors.As(err, &fe) && fe.Attempts > 0 {
		attempts = fe.Attempts
	}
	if attempts > 1 {
		f.emit(st, item, StateEvent{State: StateFailedRetry, Attempts: attempts - 1, Err: err})
	}
	st.stats.Failed++
	f.emit(st, item, StateEvent{State: StateFailedTerminal, Attempts: attempts, Err: err})
	st.logger.Warn("fetch failed", "url", item.url, "depth", item.depth, "attempts", attempts, "error", err)
}

// enqueue appends the links that pass every admission rule and returns
// how many were added.
func (f *Frontier) enqueue(ctx context.Context, st *crawlState, links []string, depth int) (int, error) {
	added := 0
	for _, link := range links {
		if st.enqueued[link] {
			continue
		}
		u, err := url.Parse(link)
		if err != nil {
			continue
		}
		if f.stayOnSite && !strings.EqualFold(u.Host, st.host) {
			continue
		}

		st.enqueued[link] = true
		if f.isBlacklisted(u.Path) {
			st.stats.Skipped++
			st.logger.Debug("skipping blacklisted path", "url", link)
			continue
		}
		if f.known[link] {
			st.stats.Skipped++
			continue
		}
		seen, err := f.store.Seen(ctx, link)
		if err != nil {
			return added, fmt.Errorf("lookup %s: %w", link, err)
		}
		if seen {
			st.stats.Skipped++
			continue
		}

		st.queue = append(st.queue, queueItem{url: link, depth: depth})
		added++
	}
	return added, nil
}

// isBlacklisted reports whether path matches a blacklist pattern.
func (f *Frontier) isBlacklisted(path string) bool {
	path = strings.TrimRight(strings.ToLower(path), "/")
	for _, p := range f.blacklist {
		if path == p || strings.HasSuffix(path, p) || strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func (f *Frontier) emit(st *crawlState, item queueItem, ev StateEvent) {
	if f.observer == nil {
		return
	}
	ev.Site = st.site
	ev.URL = item.url
	ev.Depth = item.depth
	ev.At = time.Now()
	f.observer(ev)
}
