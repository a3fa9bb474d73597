package config

import (
	"errors"
	"maps"
	"strings"
)

// SiteConfig holds per-site overrides for a single onion host.
type SiteConfig struct {
	// MaxDepth overrides the global depth limit. Zero keeps the global value.
	MaxDepth int `yaml:"max_depth,omitempty"`

	// MaxPages overrides the global page budget. Zero keeps the global value.
	MaxPages int `yaml:"max_pages,omitempty"`

	// Blacklist patterns are added to the global blacklist for this site.
	Blacklist []string `yaml:"blacklist,omitempty"`

	// Cookie is sent with every request to this site.
	// Format: "name=value" or "name1=value1; name2=value2"
	Cookie string `yaml:"cookie,omitempty"`

	// Headers are extra HTTP headers sent to this site.
	Headers map[string]string `yaml:"headers,omitempty"`
}

// SitePolicy is the effective crawl policy of one site after merging its
// overrides with the global crawler settings.
type SitePolicy struct {
	MaxDepth  int
	MaxPages  int
	Blacklist []string
	Headers   map[string]string
}

var (
	errNegativeSiteDepth = errors.New("max_depth must be non-negative")
	errNegativeSitePages = errors.New("max_pages must be non-negative")
)

func (s SiteConfig) validate() error {
	if s.MaxDepth < 0 {
		return errNegativeSiteDepth
	}
	if s.MaxPages < 0 {
		return errNegativeSitePages
	}
	return nil
}

// Policy returns the effective policy for host. Hosts without an entry
// get the global settings.
func (c *Config) Policy(host string) SitePolicy {
	policy := SitePolicy{
		MaxDepth:  c.Crawler.MaxDepth,
		MaxPages:  c.Crawler.MaxPages,
		Blacklist: append([]string(nil), c.Crawler.Blacklist...),
	}

	site, ok := c.Sites[strings.ToLower(host)]
	if !ok {
		return policy
	}

	if site.MaxDepth != 0 {
		policy.MaxDepth = site.MaxDepth
	}
	if site.MaxPages != 0 {
		policy.MaxPages = site.MaxPages
	}
	policy.Blacklist = append(policy.Blacklist, site.Blacklist...)

	if len(site.Headers) > 0 || site.Cookie != "" {
		policy.Headers = make(map[string]string, len(site.Headers)+1)
		maps.Copy(policy.Headers, site.Headers)
		if site.Cookie != "" {
			policy.Headers["Cookie"] = site.Cookie
		}
	}
	return policy
}

// SiteHeaders returns the extra headers of every configured site, keyed by
// lowercase host. Sites without headers are omitted.
func (c *Config) SiteHeaders() map[string]map[string]string {
	out := make(map[string]map[string]string)
	for host := range c.Sites {
		if h := c.Policy(host).Headers; len(h) > 0 {
			out[strings.ToLower(host)] = h
		}
	}
	return out
}
