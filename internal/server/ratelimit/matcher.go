package ratelimit

import "strings"

// unlimited reports routes that are never limited: probes and scrapes.
func unlimited(path, method string) bool {
	return method == "GET" && (path == "/health" || path == "/metrics")
}

// MatchEndpoint returns the config for path and method, or nil when the
// default limit applies. Exact matches win over prefix matches, and longer
// prefixes over shorter ones.
func MatchEndpoint(path, method string, configs []EndpointConfig) *EndpointConfig {
	if unlimited(path, method) {
		return &EndpointConfig{Path: path, Method: method}
	}

	var best *EndpointConfig
	for i := range configs {
		c := &configs[i]
		if c.Method != method {
			continue
		}
		if c.Path == path {
			return c
		}
		if strings.HasSuffix(c.Path, "/") && strings.HasPrefix(path, c.Path) {
			if best == nil || len(c.Path) > len(best.Path) {
				best = c
			}
		}
	}
	return best
}
