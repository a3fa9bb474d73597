// Package main provides the entry point for the onionharvest CLI.
//
// onionharvest crawls Tor hidden services, extracts indicators of
// compromise from every page and classifies each page by threat category.
//
// Usage:
//
//	onionharvest crawl <onion-url>...
//	onionharvest crawl -c onionharvest.yaml
//
// See --help for all available options.
package main

func main() {
	Execute()
}
