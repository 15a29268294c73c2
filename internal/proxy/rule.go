package proxy

import (
	"net/http"
	"path"
	"strings"

	"github.com/iTrooz/offline-cache/internal/config"
)

// Rule decides whether a fresh network response for a request may be stored
type Rule interface {
	Match(requ *http.Request) bool
}

// ExtensionRule matches requests whose path ends with one of the extensions.
// The query string is not considered.
type ExtensionRule struct {
	Extensions []string
}

// Match checks the request path's extension
func (r *ExtensionRule) Match(requ *http.Request) bool {
	ext := strings.ToLower(path.Ext(requ.URL.Path))
	if ext == "" {
		return false
	}
	for _, e := range r.Extensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

// DestinationRule matches requests by their Sec-Fetch-Dest header,
// e.g. "document" for navigations or "image" for <img> loads.
type DestinationRule struct {
	Destinations []string
}

// Match checks the request destination
func (r *DestinationRule) Match(requ *http.Request) bool {
	dest := requ.Header.Get("Sec-Fetch-Dest")
	if dest == "" {
		return false
	}
	for _, d := range r.Destinations {
		if strings.EqualFold(d, dest) {
			return true
		}
	}
	return false
}

// rulesFromConfig builds the cacheable-resource rules
func rulesFromConfig(cfg config.AssetsConfig) []Rule {
	var rules []Rule
	if len(cfg.Extensions) > 0 {
		rules = append(rules, &ExtensionRule{Extensions: cfg.Extensions})
	}
	if len(cfg.Destinations) > 0 {
		rules = append(rules, &DestinationRule{Destinations: cfg.Destinations})
	}
	return rules
}
