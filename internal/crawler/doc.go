// Package crawler walks onion sites breadth-first and turns fetched HTML
// into page records.
//
// # Components
//
//   - Extract: decodes a response body, strips non-visible elements and
//     returns the title, normalized text, its SHA-256 hash and the onion
//     links on the page.
//   - Frontier: the per-site BFS scheduler. It pops URLs in non-decreasing
//     depth order, fetches them through a Fetcher, consults a DedupStore
//     before persisting a page or enqueueing a link, and hands accepted
//     pages to a PageHandler.
//
// # Budget
//
// A frontier stops after MaxPages fetches, counting accepted, duplicate
// and failed fetches alike. Links are followed up to MaxDepth hops from
// the seed.
//
// # Usage
//
//	f := crawler.NewFrontier(transport, store, handle, crawler.WithMaxDepth(2))
//	stats, err := f.Run(ctx, "http://<56 chars>.onion/")
package crawler
