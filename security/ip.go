package security

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP extracts the real client IP address from the request so the
// outer layer can hand the Auditor and IPTracker a meaningful address.
// Proxy headers are only honored when trustProxy is set.
//
// SECURITY: X-Forwarded-For is attacker-controlled unless every hop in
// front of this server is trusted. trustedProxyCount says how many
// rightmost entries were appended by proxies we control; the client is
// the entry just before them.
func ClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := clientIPFromForwarded(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" && net.ParseIP(ip) != nil {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func clientIPFromForwarded(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}
	if trustedProxyCount <= 0 {
		trustedProxyCount = 1
	}

	parts := strings.Split(xff, ",")
	idx := len(parts) - trustedProxyCount - 1
	if idx < 0 {
		idx = 0
	}

	candidate := strings.TrimSpace(parts[idx])
	if net.ParseIP(candidate) != nil {
		return candidate
	}
	return ""
}
