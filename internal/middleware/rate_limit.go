package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/agjmills/huddle/internal/logger"
	"github.com/didip/tollbooth/v7"
	"github.com/didip/tollbooth/v7/limiter"
)

// ParseTrustedCIDRs parses a list of CIDR strings into net.IPNet objects.
// Bare IPs are treated as single-host ranges. Invalid entries are logged and skipped.
func ParseTrustedCIDRs(cidrs []string) []*net.IPNet {
	var result []*net.IPNet
	for _, cidr := range cidrs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			if ip := net.ParseIP(cidr); ip != nil {
				bits := 128
				if ip.To4() != nil {
					bits = 32
				}
				result = append(result, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
				continue
			}
			logger.Warn("invalid trusted proxy CIDR, skipping", "cidr", cidr, "error", err)
			continue
		}
		result = append(result, ipNet)
	}
	return result
}

// isIPInCIDRs checks if the given IP string is contained in any of the CIDR ranges.
func isIPInCIDRs(ipStr string, cidrs []*net.IPNet) bool {
	host, _, err := net.SplitHostPort(ipStr)
	if err != nil {
		host = ipStr
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}

	for _, cidr := range cidrs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP returns the client address without port. X-Real-IP and the leftmost
// X-Forwarded-For entry are only honored when the peer is a trusted proxy.
func ClientIP(r *http.Request, trusted []*net.IPNet) string {
	if len(trusted) > 0 && isIPInCIDRs(r.RemoteAddr, trusted) {
		if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
			return realIP
		}
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
				return first
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimit limits requests per client IP using lmt.
func RateLimit(lmt *limiter.Limiter, trusted []*net.IPNet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r, trusted)
			if httpErr := tollbooth.LimitByKeys(lmt, []string{ip}); httpErr != nil {
				logger.Warn("rate limit exceeded", "client_ip", ip, "path", r.URL.Path)
				writeError(w, httpErr.StatusCode, httpErr.Message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
