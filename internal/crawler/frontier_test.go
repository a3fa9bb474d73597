package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nao1215/onionharvest/internal/log"
	"github.com/nao1215/onionharvest/internal/model"
	"github.com/nao1215/onionharvest/internal/tor"
)

// fakeFetcher serves pages from memory keyed by URL. Unknown URLs are a
// terminal 404.
type fakeFetcher struct {
	pages map[string]string

	mu    sync.Mutex
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (*tor.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.mu.Unlock()

	body, ok := f.pages[url]
	if !ok {
		return nil, &tor.FetchError{URL: url, Kind: tor.Terminal, Status: http.StatusNotFound, Attempts: 1, Err: tor.ErrHTTPStatus}
	}
	return &tor.Response{URL: url, Status: http.StatusOK, ContentType: "text/html", Body: []byte(body), Attempts: 1}, nil
}

func (f *fakeFetcher) fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// memStore is an in-memory DedupStore.
type memStore struct {
	mu     sync.Mutex
	urls   map[string]bool
	hashes map[string]bool
	err    error
}

func newMemStore() *memStore {
	return &memStore{urls: make(map[string]bool), hashes: make(map[string]bool)}
}

func (s *memStore) Seen(_ context.Context, url string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	return s.urls[url], nil
}

func (s *memStore) Record(_ context.Context, url, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if s.urls[url] || s.hashes[hash] {
		return false, nil
	}
	s.urls[url] = true
	s.hashes[hash] = true
	return true, nil
}

// collector is a PageHandler that keeps every accepted record.
type collector struct {
	mu      sync.Mutex
	records []*model.PageRecord
}

func (c *collector) handle(_ context.Context, rec *model.PageRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
	return nil
}

func (c *collector) urls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.records))
	for _, r := range c.records {
		out = append(out, r.URL)
	}
	return out
}

// linkPage renders a page with unique text and anchors to the given paths.
func linkPage(text string, hrefs ...string) string {
	var sb strings.Builder
	sb.WriteString("<html><head><title>" + text + "</title></head><body><p>" + text + "</p>")
	for _, h := range hrefs {
		sb.WriteString(`<a href="` + h + `"></a>`)
	}
	sb.WriteString("</body></html>")
	return sb.String()
}

func TestFrontierBudget(t *testing.T) {
	t.Parallel()

	site := "http://" + testOnion(t, 10)
	pages := map[string]string{}
	var hrefs []string
	for i := range 10 {
		p := fmt.Sprintf("/p%d", i)
		hrefs = append(hrefs, p)
		pages[site+p] = linkPage(fmt.Sprintf("page %d", i), "/deeper"+p)
	}
	pages[site+"/"] = linkPage("index", hrefs...)

	fetcher := &fakeFetcher{pages: pages}
	var c collector
	f := NewFrontier(fetcher, newMemStore(), c.handle,
		WithMaxDepth(1), WithMaxPages(5), WithLogger(log.Discard()))

	stats, err := f.Run(t.Context(), site)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if stats.Fetched != 5 || stats.Accepted != 5 || stats.Status != model.SiteCompleted {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if len(c.records) != 5 {
		t.Fatalf("expected 5 records, got %d", len(c.records))
	}
	for _, rec := range c.records {
		if rec.Depth > 1 {
			t.Errorf("record %s has depth %d > 1", rec.URL, rec.Depth)
		}
		if rec.Site != site {
			t.Errorf("record %s has site %s", rec.URL, rec.Site)
		}
		if strings.Contains(rec.URL, "/deeper") {
			t.Errorf("link beyond max depth fetched: %s", rec.URL)
		}
	}
	if c.records[0].URL != site+"/" || c.records[0].Title != "index" || c.records[0].LinksFound != 10 {
		t.Errorf("unexpected seed record: %+v", c.records[0])
	}
}

func TestFrontierDepthOrder(t *testing.T) {
	t.Parallel()

	site := "http://" + testOnion(t, 11)
	pages := map[string]string{
		site + "/":    linkPage("root", "/a", "/b"),
		site + "/a":   linkPage("a", "/a/1", "/b"),
		site + "/b":   linkPage("b", "/b/1"),
		site + "/a/1": linkPage("a1", "/a/1/x"),
		site + "/b/1": linkPage("b1"),
	}

	var mu sync.Mutex
	var depths []int
	observer := func(ev StateEvent) {
		if ev.State == StateFetching {
			mu.Lock()
			depths = append(depths, ev.Depth)
			mu.Unlock()
		}
	}

	fetcher := &fakeFetcher{pages: pages}
	var c collector
	f := NewFrontier(fetcher, newMemStore(), c.handle,
		WithMaxDepth(2), WithMaxPages(100), WithObserver(observer), WithLogger(log.Discard()))
	if _, err := f.Run(t.Context(), site); err != nil {
		t.Fatal(err)
	}

	want := []string{site + "/", site + "/a", site + "/b", site + "/a/1", site + "/b/1"}
	if got := fetcher.fetched(); strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("fetch order = %v, want %v", got, want)
	}
	for i := 1; i < len(depths); i++ {
		if depths[i] < depths[i-1] {
			t.Errorf("depth decreased: %v", depths)
		}
		if depths[i] > 2 {
			t.Errorf("depth %d exceeds max", depths[i])
		}
	}
}

func TestFrontierDuplicateContent(t *testing.T) {
	t.Parallel()

	site := "http://" + testOnion(t, 12)
	pages := map[string]string{
		site + "/":  linkPage("root", "/a", "/b"),
		site + "/a": `<p>mirror</p><a href="/c"></a>`,
		site + "/b": `<p>mirror</p><a href="/d"></a>`,
		site + "/c": linkPage("c"),
		site + "/d": linkPage("d"),
	}

	var rejected []string
	observer := func(ev StateEvent) {
		if ev.State == StateRejected {
			rejected = append(rejected, ev.URL)
		}
	}

	fetcher := &fakeFetcher{pages: pages}
	var c collector
	f := NewFrontier(fetcher, newMemStore(), c.handle,
		WithMaxDepth(2), WithObserver(observer), WithLogger(log.Discard()))
	stats, err := f.Run(t.Context(), site)
	if err != nil {
		t.Fatal(err)
	}

	if stats.Accepted != 4 || stats.Duplicates != 1 || stats.Fetched != 5 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if len(rejected) != 1 || rejected[0] != site+"/b" {
		t.Errorf("expected /b rejected, got %v", rejected)
	}
	got := strings.Join(c.urls(), " ")
	if strings.Contains(got, site+"/b ") || !strings.Contains(got, site+"/d") {
		t.Errorf("duplicate persisted or its links dropped: %s", got)
	}
}

func TestFrontierTerminalFailure(t *testing.T) {
	t.Parallel()

	var privateCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			_, _ = w.Write([]byte(linkPage("root", "/private", "/open")))
		case "/private":
			privateCalls.Add(1)
			w.WriteHeader(http.StatusForbidden)
		default:
			_, _ = w.Write([]byte(linkPage("open")))
		}
	}))
	defer srv.Close()

	client, err := tor.NewClient("127.0.0.1:9050", 5*time.Second,
		tor.WithDialer(redirectDialer{addr: srv.Listener.Addr().String()}))
	if err != nil {
		t.Fatal(err)
	}
	transport := tor.NewTransport(client.NewHTTPClient(),
		tor.WithRetry(3, time.Millisecond), tor.WithTransportLogger(log.Discard()))

	var failures []StateEvent
	observer := func(ev StateEvent) {
		if ev.State == StateFailedTerminal || ev.State == StateFailedRetry {
			failures = append(failures, ev)
		}
	}

	site := "http://" + testOnion(t, 13)
	var c collector
	f := NewFrontier(transport, newMemStore(), c.handle,
		WithMaxDepth(1), WithObserver(observer), WithLogger(log.Discard()))
	stats, err := f.Run(t.Context(), site)
	if err != nil {
		t.Fatal(err)
	}

	if stats.Failed != 1 || stats.Accepted != 2 || stats.Fetched != 3 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if privateCalls.Load() != 1 {
		t.Errorf("403 must be requested exactly once, got %d", privateCalls.Load())
	}
	if len(failures) != 1 || failures[0].State != StateFailedTerminal || failures[0].Attempts != 1 {
		t.Fatalf("unexpected failure events: %+v", failures)
	}
	if !tor.IsTerminal(failures[0].Err) {
		t.Errorf("expected a terminal fetch error, got %v", failures[0].Err)
	}
}

// redirectDialer sends every connection to addr, standing in for the
// SOCKS5 proxy.
type redirectDialer struct {
	addr string
}

func (d redirectDialer) DialContext(ctx context.Context, network, _ string) (net.Conn, error) {
	var nd net.Dialer
	return nd.DialContext(ctx, network, d.addr)
}

func TestFrontierBlacklist(t *testing.T) {
	t.Parallel()

	site := "http://" + testOnion(t, 14)
	pages := map[string]string{
		site + "/":        linkPage("root", "/login/", "/forum/LOGIN", "/auth/token", "/about", "/catalog"),
		site + "/about":   linkPage("about"),
		site + "/catalog": linkPage("catalog"),
	}

	fetcher := &fakeFetcher{pages: pages}
	var c collector
	f := NewFrontier(fetcher, newMemStore(), c.handle,
		WithMaxDepth(1), WithBlacklist([]string{"/Login/", "/auth"}), WithLogger(log.Discard()))
	stats, err := f.Run(t.Context(), site)
	if err != nil {
		t.Fatal(err)
	}

	for _, u := range fetcher.fetched() {
		if strings.Contains(strings.ToLower(u), "login") || strings.Contains(u, "/auth") {
			t.Errorf("blacklisted url fetched: %s", u)
		}
	}
	if stats.Skipped != 3 || stats.Accepted != 3 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestIsBlacklisted(t *testing.T) {
	t.Parallel()

	f := NewFrontier(nil, nil, nil, WithBlacklist([]string{"/register", "/login/", " /AUTH ", "/"}))
	tests := []struct {
		path string
		want bool
	}{
		{"/register", true},
		{"/register/", true},
		{"/forum/register", true},
		{"/login/step2", true},
		{"/Auth", true},
		{"/about", false},
		{"/", false},
		{"", false},
		{"/pages/registered", false},
	}
	for _, tt := range tests {
		if got := f.isBlacklisted(tt.path); got != tt.want {
			t.Errorf("isBlacklisted(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestFrontierStayOnSite(t *testing.T) {
	t.Parallel()

	home := "http://" + testOnion(t, 15)
	away := "http://" + testOnion(t, 16)
	pages := map[string]string{
		home + "/":      linkPage("home", away+"/", "/local"),
		home + "/local": linkPage("local"),
		away + "/":      linkPage("away"),
	}

	for _, stay := range []bool{false, true} {
		fetcher := &fakeFetcher{pages: pages}
		var c collector
		f := NewFrontier(fetcher, newMemStore(), c.handle,
			WithMaxDepth(1), WithStayOnSite(stay), WithLogger(log.Discard()))
		if _, err := f.Run(t.Context(), home); err != nil {
			t.Fatal(err)
		}
		followed := strings.Contains(strings.Join(fetcher.fetched(), " "), away)
		if followed == stay {
			t.Errorf("stayOnSite=%v: cross-site link followed=%v", stay, followed)
		}
	}
}

func TestFrontierResume(t *testing.T) {
	t.Parallel()

	site := "http://" + testOnion(t, 17)
	pages := map[string]string{
		site + "/":  linkPage("root", "/a", "/b"),
		site + "/a": linkPage("a"),
		site + "/b": linkPage("b"),
	}
	store := newMemStore()

	var first collector
	f := NewFrontier(&fakeFetcher{pages: pages}, store, first.handle, WithLogger(log.Discard()))
	if _, err := f.Run(t.Context(), site); err != nil {
		t.Fatal(err)
	}
	if len(first.records) != 3 {
		t.Fatalf("expected 3 records on the first run, got %d", len(first.records))
	}

	t.Run("second run persists nothing", func(t *testing.T) {
		var again collector
		fetcher := &fakeFetcher{pages: pages}
		stats, err := NewFrontier(fetcher, store, again.handle, WithLogger(log.Discard())).Run(t.Context(), site)
		if err != nil {
			t.Fatal(err)
		}
		if len(again.records) != 0 || stats.Duplicates != 1 || stats.Skipped != 2 {
			t.Errorf("unexpected second run: records=%d stats=%+v", len(again.records), stats)
		}
		if got := fetcher.fetched(); len(got) != 1 {
			t.Errorf("only the seed should be refetched, got %v", got)
		}
	})

	t.Run("known urls skip the seed", func(t *testing.T) {
		fetcher := &fakeFetcher{pages: pages}
		known := map[string]bool{site + "/": true}
		var c collector
		stats, err := NewFrontier(fetcher, store, c.handle,
			WithKnownURLs(known), WithLogger(log.Discard())).Run(t.Context(), site)
		if err != nil {
			t.Fatal(err)
		}
		if len(fetcher.fetched()) != 0 || stats.Skipped != 1 {
			t.Errorf("unexpected resume run: fetched=%v stats=%+v", fetcher.fetched(), stats)
		}
	})
}

func TestFrontierInvalidSeed(t *testing.T) {
	t.Parallel()

	f := NewFrontier(&fakeFetcher{}, newMemStore(), (&collector{}).handle, WithLogger(log.Discard()))
	stats, err := f.Run(t.Context(), "http://example.com/")
	if !errors.Is(err, ErrInvalidSeed) || !errors.Is(err, tor.ErrInvalidOnionAddress) {
		t.Errorf("expected ErrInvalidSeed wrapping ErrInvalidOnionAddress, got %v", err)
	}
	if stats.Status != model.SiteInvalid || stats.Fetched != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestFrontierStoreFailure(t *testing.T) {
	t.Parallel()

	site := "http://" + testOnion(t, 18)
	store := newMemStore()
	store.err = errors.New("disk I/O error")

	var c collector
	f := NewFrontier(&fakeFetcher{pages: map[string]string{site + "/": linkPage("root")}}, store, c.handle,
		WithLogger(log.Discard()))
	stats, err := f.Run(t.Context(), site)
	if err == nil || !strings.Contains(err.Error(), "disk I/O error") {
		t.Errorf("expected store error, got %v", err)
	}
	if stats.Status != model.SiteAborted || len(c.records) != 0 {
		t.Errorf("unexpected result: stats=%+v records=%d", stats, len(c.records))
	}
}

func TestFrontierHandlerFailure(t *testing.T) {
	t.Parallel()

	site := "http://" + testOnion(t, 19)
	failing := func(context.Context, *model.PageRecord) error { return errors.New("sink closed") }
	f := NewFrontier(&fakeFetcher{pages: map[string]string{site + "/": linkPage("root", "/a")}},
		newMemStore(), failing, WithLogger(log.Discard()))

	stats, err := f.Run(t.Context(), site)
	if !errors.Is(err, ErrHandlerFailed) {
		t.Errorf("expected ErrHandlerFailed, got %v", err)
	}
	if stats.Status != model.SiteAborted || stats.Fetched != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestFrontierCancelled(t *testing.T) {
	t.Parallel()

	site := "http://" + testOnion(t, 20)
	ctx, cancel := context.WithCancel(t.Context())

	var c collector
	handler := func(ctx context.Context, rec *model.PageRecord) error {
		cancel()
		return c.handle(ctx, rec)
	}
	fetcher := &fakeFetcher{pages: map[string]string{
		site + "/":  linkPage("root", "/a"),
		site + "/a": linkPage("a"),
	}}
	stats, err := NewFrontier(fetcher, newMemStore(), handler, WithLogger(log.Discard())).Run(ctx, site)
	if err != nil {
		t.Fatalf("cancellation must not be an error, got %v", err)
	}
	if stats.Status != model.SiteCancelled {
		t.Errorf("expected cancelled status, got %s", stats.Status)
	}
	if len(c.records) != 1 || len(fetcher.fetched()) != 1 {
		t.Errorf("the page in flight must be kept and nothing else fetched: records=%d fetched=%v",
			len(c.records), fetcher.fetched())
	}
}

// slowSiteTransport returns a Transport whose connections all reach srv.
func slowSiteTransport(t *testing.T, srv *httptest.Server, opts ...tor.TransportOption) *tor.Transport {
	t.Helper()
	client, err := tor.NewClient("127.0.0.1:9050", 5*time.Second,
		tor.WithDialer(redirectDialer{addr: srv.Listener.Addr().String()}))
	if err != nil {
		t.Fatal(err)
	}
	return tor.NewTransport(client.NewHTTPClient(),
		append([]tor.TransportOption{tor.WithTransportLogger(log.Discard())}, opts...)...)
}

func TestFrontierCancelledDuringFetch(t *testing.T) {
	t.Parallel()

	reached := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			_, _ = w.Write([]byte(linkPage("child")))
			return
		}
		reached <- struct{}{}
		time.Sleep(300 * time.Millisecond)
		_, _ = w.Write([]byte(linkPage("slow root", "/a")))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go func() {
		<-reached
		cancel()
	}()

	site := "http://" + testOnion(t, 21)
	var c collector
	f := NewFrontier(slowSiteTransport(t, srv), newMemStore(), c.handle, WithLogger(log.Discard()))
	stats, err := f.Run(ctx, site)
	if err != nil {
		t.Fatalf("cancellation must not be an error, got %v", err)
	}

	if stats.Status != model.SiteCancelled {
		t.Errorf("expected cancelled status, got %s", stats.Status)
	}
	if stats.Fetched != 1 || stats.Accepted != 1 {
		t.Errorf("the page being downloaded must be kept: %+v", stats)
	}
	if got := c.urls(); len(got) != 1 || got[0] != site+"/" {
		t.Errorf("unexpected records: %v", got)
	}
}

func TestFrontierCrawlTimeExcludesDelay(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(linkPage("instant")))
	}))
	defer srv.Close()

	const delay = 400 * time.Millisecond
	site := "http://" + testOnion(t, 22)
	var c collector
	f := NewFrontier(slowSiteTransport(t, srv, tor.WithDelay(delay)), newMemStore(), c.handle,
		WithLogger(log.Discard()))

	start := time.Now()
	if _, err := f.Run(t.Context(), site); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) < delay {
		t.Fatal("the politeness delay was not applied")
	}
	if len(c.records) != 1 {
		t.Fatalf("expected one record, got %d", len(c.records))
	}
	if got := c.records[0].CrawlTime; got <= 0 || got >= delay/2 {
		t.Errorf("CrawlTime = %v, want the fetch and parse time without the %v delay", got, delay)
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	want := map[State]string{
		StateReady:          "READY",
		StateFetching:       "FETCHING",
		StateAccepted:       "ACCEPTED",
		StateEnqueueLinks:   "ENQUEUE_LINKS",
		StateRejected:       "REJECTED",
		StateFailedRetry:    "FAILED_RETRY",
		StateFailedTerminal: "FAILED_TERMINAL",
		State(99):           "UNKNOWN",
	}
	for s, w := range want {
		if s.String() != w {
			t.Errorf("State(%d).String() = %s, want %s", int(s), s.String(), w)
		}
	}
}
