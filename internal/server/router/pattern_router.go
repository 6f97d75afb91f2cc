package router

import (
	"net/http"
	"regexp"
	"strings"
)

// PatternRouter matches paths with {name} placeholders, optionally bound to
// a method:
//
//	pr.HandleFunc("GET /api/devices/{serial}/screenshot", h)
//	pr.HandleFunc("/devices/{serial}", h)
//
// Matched values are stored with http.Request.SetPathValue so handlers use
// req.PathValue. Routes are tried in registration order.
type PatternRouter struct {
	routes []routeEntry
}

type routeEntry struct {
	method  string
	pattern *regexp.Regexp
	keys    []string
	handler http.HandlerFunc
}

// NewPatternRouter creates a new pattern router
func NewPatternRouter() *PatternRouter {
	return &PatternRouter{}
}

// HandleFunc registers handler for pattern. A placeholder may carry its own
// expression, as in "{path:.*}"; otherwise it matches one path segment.
func (pr *PatternRouter) HandleFunc(pattern string, handler http.HandlerFunc) {
	method := ""
	if i := strings.IndexByte(pattern, ' '); i > 0 {
		method, pattern = pattern[:i], strings.TrimSpace(pattern[i+1:])
	}
	re, keys := compilePattern(pattern)
	pr.routes = append(pr.routes, routeEntry{
		method:  method,
		pattern: re,
		keys:    keys,
		handler: handler,
	})
}

// ServeHTTP implements http.Handler. A path that matches only under other
// methods gets 405.
func (pr *PatternRouter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var allowed []string
	for _, route := range pr.routes {
		matches := route.pattern.FindStringSubmatch(r.URL.Path)
		if matches == nil {
			continue
		}
		if route.method != "" && route.method != r.Method &&
			!(route.method == http.MethodGet && r.Method == http.MethodHead) {
			allowed = append(allowed, route.method)
			continue
		}
		for i, key := range route.keys {
			r.SetPathValue(key, matches[i+1])
		}
		route.handler(w, r)
		return
	}
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	http.NotFound(w, r)
}

var placeholderRegex = regexp.MustCompile(`\\\{([^}:]+)(?::([^}]+))?\\\}`)

// compilePattern converts a placeholder pattern into an anchored regexp and
// the ordered placeholder names.
func compilePattern(pattern string) (*regexp.Regexp, []string) {
	var keys []string
	expr := placeholderRegex.ReplaceAllStringFunc(regexp.QuoteMeta(pattern), func(match string) string {
		content := strings.TrimSuffix(strings.TrimPrefix(match, `\{`), `\}`)
		name, custom, hasCustom := strings.Cut(content, ":")
		keys = append(keys, name)
		if hasCustom {
			return "(" + unquoteMeta(custom) + ")"
		}
		return `([^/]+)`
	})
	return regexp.MustCompile("^" + expr + "$"), keys
}

// unquoteMeta undoes QuoteMeta inside a custom placeholder expression.
func unquoteMeta(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// PathParam returns a matched placeholder value, or "" when absent.
func PathParam(r *http.Request, key string) string {
	return r.PathValue(key)
}
