package router

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"speechkit-bot/config"
)

// Router maps the model alias of a chat request to a model URI
type Router struct {
	folderID     string
	defaultModel string
	routes       map[string]string
	patterns     []patternRoute
	mu           sync.RWMutex
}

type patternRoute struct {
	glob    string
	pattern *regexp.Regexp
	target  string
}

// NewRouter creates a new router
func NewRouter(folderID, defaultModel string, routes []config.RouteConfig) *Router {
	r := &Router{
		folderID:     folderID,
		defaultModel: defaultModel,
		routes:       make(map[string]string),
	}

	for _, route := range routes {
		r.AddRoute(route.Pattern, route.Target)
	}

	return r
}

func globToRegexp(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("^" + strings.ReplaceAll(regexp.QuoteMeta(pattern), `\*`, ".*") + "$")
}

// AddRoute adds a route mapping. Patterns with * are globs, tried in the
// order they were added after exact matches.
func (r *Router) AddRoute(pattern, target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addLocked(pattern, target)
}

func (r *Router) addLocked(pattern, target string) {
	if !strings.Contains(pattern, "*") {
		r.routes[pattern] = target
		return
	}
	if re, err := globToRegexp(pattern); err == nil {
		r.patterns = append(r.patterns, patternRoute{glob: pattern, pattern: re, target: target})
	}
}

// RemoveRoute removes a route and reports whether it existed
func (r *Router) RemoveRoute(pattern string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, found := r.routes[pattern]
	delete(r.routes, pattern)

	for i, p := range r.patterns {
		if p.glob == pattern {
			r.patterns = append(r.patterns[:i], r.patterns[i+1:]...)
			found = true
			break
		}
	}
	return found
}

// Route returns the model name for an alias. An empty alias selects the
// default model; an alias without a route is used as the model name.
func (r *Router) Route(alias string) string {
	if alias == "" {
		return r.defaultModel
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if target, ok := r.routes[alias]; ok {
		return target
	}

	for _, p := range r.patterns {
		if p.pattern.MatchString(alias) {
			return p.target
		}
	}

	return alias
}

// ModelURI resolves an alias to gpt://<folder>/<model>/latest. Full URIs pass
// through unchanged.
func (r *Router) ModelURI(alias string) string {
	model := r.Route(alias)
	if strings.HasPrefix(model, "gpt://") {
		return model
	}
	if strings.Contains(model, "/") {
		return fmt.Sprintf("gpt://%s/%s", r.folderID, model)
	}
	return fmt.Sprintf("gpt://%s/%s/latest", r.folderID, model)
}

// GetRoutes returns all routes
func (r *Router) GetRoutes() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	routes := make(map[string]string, len(r.routes)+len(r.patterns))
	for k, v := range r.routes {
		routes[k] = v
	}
	for _, p := range r.patterns {
		routes[p.glob] = p.target
	}

	return routes
}

// SetRoutes replaces all routes
func (r *Router) SetRoutes(routes map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.routes = make(map[string]string)
	r.patterns = nil

	for pattern, target := range routes {
		r.addLocked(pattern, target)
	}
}
