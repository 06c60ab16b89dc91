package http

import (
	"net"
	"net/http"
	"strings"
	"unicode/utf8"
)

const maxDeviceInfoLen = 255

// IPConfig lists the proxies whose forwarding headers are trusted
type IPConfig struct {
	TrustedProxies []string // CIDR ranges
}

// ExtractClientIP returns the caller's address. X-Forwarded-For and
// X-Real-IP are honoured only when the direct peer is a trusted proxy;
// otherwise the peer address is used as is.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	peer := remoteHost(r)

	if config == nil || !inAnyNetwork(peer, config.TrustedProxies) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, candidate := range strings.Split(xff, ",") {
			candidate = strings.TrimSpace(candidate)
			if net.ParseIP(candidate) != nil {
				return candidate
			}
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
		return xri
	}

	return peer
}

// DeviceInfo describes the client for the session list, from User-Agent.
func DeviceInfo(r *http.Request) string {
	ua := strings.TrimSpace(r.UserAgent())
	if ua == "" {
		return "unknown device"
	}
	if len(ua) <= maxDeviceInfoLen {
		return ua
	}
	cut := ua[:maxDeviceInfoLen]
	for !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}

func remoteHost(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func inAnyNetwork(ip string, cidrs []string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}

	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		if network.Contains(parsed) {
			return true
		}
	}
	return false
}
