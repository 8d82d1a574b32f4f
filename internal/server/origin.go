package server

import (
	"net"
	"net/url"
	"strings"
)

// isLocalOrigin accepts editor host pages served from this machine: file
// pages and http(s) pages on localhost or a loopback address.
func isLocalOrigin(u *url.URL) bool {
	switch u.Scheme {
	case "file":
		return u.Host == ""
	case "http", "https":
		host := u.Hostname()
		if host == "localhost" {
			return true
		}
		ip := net.ParseIP(host)
		return ip != nil && ip.IsLoopback()
	default:
		return false
	}
}

// originPattern is one configured origin. A port of "*" matches any port.
type originPattern struct {
	any      bool
	exact    string
	scheme   string
	hostname string
}

func parseOriginPattern(raw string) (originPattern, bool) {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	switch {
	case raw == "":
		return originPattern{}, false
	case raw == "*":
		return originPattern{any: true}, true
	case strings.HasSuffix(raw, ":*"):
		u, err := url.Parse(strings.TrimSuffix(raw, ":*"))
		if err != nil || u.Host == "" {
			return originPattern{}, false
		}
		return originPattern{scheme: u.Scheme, hostname: u.Hostname()}, true
	default:
		return originPattern{exact: raw}, true
	}
}

func (p originPattern) matches(origin string, u *url.URL) bool {
	switch {
	case p.any:
		return true
	case p.exact != "":
		return p.exact == origin
	default:
		return u != nil && u.Scheme == p.scheme && u.Hostname() == p.hostname
	}
}

// AllowedOrigin returns the websocket origin check. Requests without an
// Origin header and local pages always pass; extra lists further origins,
// "*" or "scheme://host:*" patterns.
func AllowedOrigin(extra []string) func(string) bool {
	var patterns []originPattern
	seen := make(map[string]struct{}, len(extra))
	for _, raw := range extra {
		p, ok := parseOriginPattern(raw)
		if !ok {
			continue
		}
		key := strings.TrimRight(strings.TrimSpace(raw), "/")
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		patterns = append(patterns, p)
	}

	return func(origin string) bool {
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			u = nil
		}
		for _, p := range patterns {
			if p.matches(origin, u) {
				return true
			}
		}
		return u != nil && isLocalOrigin(u)
	}
}
