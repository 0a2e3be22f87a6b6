/*
Package router builds and queries the immutable Router Index described
in spec §3/§4.B: a host map (exact, then single-label wildcard) plus,
per application, a path trie for longest-prefix route matching.

An Index is built once from a config.Config and never mutated; reload
(config §4.B, §9 "snapshot publishing") builds a brand new Index and
swaps an atomic.Pointer, so in-flight requests keep dereferencing their
original Index while new requests see the latest one — no per-lookup
locking on the hot path.
*/
package router

import (
	"fmt"
	"strings"

	"github.com/cuemby/rpxy/internal/config"
	"github.com/cuemby/rpxy/internal/perr"
)

// Route is the resolved route returned by a lookup, bundling the
// config route with the application it belongs to.
type Route struct {
	AppID       string
	App         *config.Application
	Path        string
	ReplacePath string
	Upstream    []*config.UpstreamLocation
	LoadBalance string
	StickyCookieName string
	MaxRetries       int
	KeepOriginalHost bool
	RateLimit        *config.RateLimit
	AccessControl    *config.AccessControl
}

// Index is an immutable snapshot of the routing table.
type Index struct {
	hosts         map[string]string // exact server_name -> appID
	wildcardHosts map[string]string // suffix after the leading label -> appID
	perApp        map[string]*appRouter
	defaultApp    string
}

type appRouter struct {
	trie    *pathNode
	defaultRoute *Route
}

// Build constructs a new Index from a validated Config. It is the only
// place spec §4.B's build-time "equal-length path patterns are a
// configuration error" rule and wildcard-recognition rule are enforced
// beyond per-application validation already done by config.Validate.
func Build(cfg *config.Config) (*Index, error) {
	idx := &Index{
		hosts:         make(map[string]string),
		wildcardHosts: make(map[string]string),
		perApp:        make(map[string]*appRouter),
		defaultApp:    cfg.DefaultApplication,
	}

	for id, app := range cfg.Apps {
		if strings.HasPrefix(app.ServerName, "*.") {
			suffix := app.ServerName[2:]
			if existing, ok := idx.wildcardHosts[suffix]; ok && existing != id {
				return nil, perr.New(perr.KindConfig, fmt.Errorf("duplicate wildcard host %q claimed by %q and %q", app.ServerName, existing, id))
			}
			idx.wildcardHosts[suffix] = id
		} else {
			if existing, ok := idx.hosts[app.ServerName]; ok && existing != id {
				return nil, perr.New(perr.KindConfig, fmt.Errorf("duplicate server_name %q claimed by %q and %q", app.ServerName, existing, id))
			}
			idx.hosts[app.ServerName] = id
		}

		ar := &appRouter{trie: newPathNode()}
		for _, r := range app.Routes {
			route := &Route{
				AppID:            id,
				App:              app,
				Path:             r.Path,
				ReplacePath:      r.ReplacePath,
				Upstream:         r.Upstream,
				LoadBalance:      normalizeLB(r.LoadBalance),
				StickyCookieName: stickyName(r.StickyCookieName),
				MaxRetries:       maxRetries(r.MaxRetries),
				KeepOriginalHost: r.KeepOriginalHost,
				RateLimit:        r.RateLimit,
				AccessControl:    r.AccessControl,
			}
			if r.Path == "" {
				if ar.defaultRoute != nil {
					return nil, perr.New(perr.KindConfig, fmt.Errorf("app %q: more than one default route", id))
				}
				ar.defaultRoute = route
				continue
			}
			if err := ar.trie.insert(r.Path, route); err != nil {
				return nil, perr.New(perr.KindConfig, fmt.Errorf("app %q: %w", id, err))
			}
		}
		idx.perApp[id] = ar
	}

	return idx, nil
}

func normalizeLB(lb string) string {
	if lb == "" {
		return config.LoadBalanceRoundRobin
	}
	return lb
}

func stickyName(name string) string {
	if name == "" {
		return config.DefaultStickyCookieName
	}
	return name
}

func maxRetries(n int) int {
	if n <= 0 {
		return config.DefaultMaxRetries
	}
	return n
}

// LookupHost resolves a server name (SNI or Host header, already
// lower-cased with any trailing dot trimmed by the caller) to an
// application ID: exact match first, then single-label wildcard, per
// spec §4.B step 1.
func (idx *Index) LookupHost(serverName string) (string, bool) {
	if id, ok := idx.hosts[serverName]; ok {
		return id, true
	}
	if dot := strings.IndexByte(serverName, '.'); dot >= 0 {
		suffix := serverName[dot+1:]
		if id, ok := idx.wildcardHosts[suffix]; ok {
			return id, true
		}
	}
	return "", false
}

// DefaultApplication returns the configured default_application id, if any.
func (idx *Index) DefaultApplication() (string, bool) {
	if idx.defaultApp == "" {
		return "", false
	}
	return idx.defaultApp, true
}

// LookupRoute resolves path within the given application per spec
// §4.B step 2: longest explicit-path prefix, falling back to the
// application's default route.
func (idx *Index) LookupRoute(appID, path string) (*Route, error) {
	ar, ok := idx.perApp[appID]
	if !ok {
		return nil, perr.New(perr.KindHostNotFound, fmt.Errorf("unknown application %q", appID))
	}
	if r := ar.trie.longestMatch(path); r != nil {
		return r, nil
	}
	if ar.defaultRoute != nil {
		return ar.defaultRoute, nil
	}
	return nil, perr.New(perr.KindRouteNotFound, fmt.Errorf("no route matches path %q in app %q", path, appID))
}
