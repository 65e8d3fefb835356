package offline

import (
	"net/url"
	"path"
	"strings"
)

// Class is a caching strategy.
type Class int

const (
	// Shell is served cache-first and filled from the network on a miss.
	Shell Class = iota
	// NetworkOnly is never read from or written to the cache.
	NetworkOnly
	// NetworkFirst prefers the network and falls back to a cached copy.
	NetworkFirst
)

func (c Class) String() string {
	switch c {
	case Shell:
		return "shell"
	case NetworkOnly:
		return "network-only"
	default:
		return "network-first"
	}
}

var staticExt = map[string]bool{
	".html": true, ".css": true, ".js": true, ".json": true, ".webmanifest": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".svg": true, ".ico": true, ".webp": true,
	".woff": true, ".woff2": true,
}

type Classifier struct {
	originHost   string
	core         map[string]bool
	bypassHosts  []string
	livePrefixes []string
}

// NewClassifier builds a classifier for the shell served at origin.
// bypassHosts are host suffixes of the identity provider and document
// store; livePrefixes are same-origin paths that carry live data.
func NewClassifier(origin *url.URL, coreAssets, bypassHosts, livePrefixes []string) *Classifier {
	core := make(map[string]bool, len(coreAssets))
	for _, a := range coreAssets {
		core[normalizePath(a)] = true
	}
	hosts := make([]string, 0, len(bypassHosts))
	for _, h := range bypassHosts {
		hosts = append(hosts, strings.ToLower(strings.TrimPrefix(h, ".")))
	}
	return &Classifier{
		originHost:   strings.ToLower(origin.Hostname()),
		core:         core,
		bypassHosts:  hosts,
		livePrefixes: livePrefixes,
	}
}

func (c *Classifier) Classify(u *url.URL) Class {
	host := strings.ToLower(u.Hostname())
	if host != "" && host != c.originHost {
		for _, suffix := range c.bypassHosts {
			if host == suffix || strings.HasSuffix(host, "."+suffix) {
				return NetworkOnly
			}
		}
		return NetworkFirst
	}

	p := normalizePath(u.Path)
	for _, prefix := range c.livePrefixes {
		if strings.HasPrefix(p, prefix) {
			return NetworkOnly
		}
	}
	if c.core[p] || staticExt[strings.ToLower(path.Ext(p))] {
		return Shell
	}
	return NetworkFirst
}

// normalizePath maps "./app.js", "app.js" and "/app.js" to "/app.js".
func normalizePath(p string) string {
	p = strings.TrimPrefix(p, ".")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
