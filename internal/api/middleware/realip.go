package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// ipSet matches addresses against single IPs and CIDR ranges.
type ipSet struct {
	nets []*net.IPNet
	ips  map[string]bool
}

func parseIPSet(entries []string, logger zerolog.Logger, what string) ipSet {
	s := ipSet{ips: make(map[string]bool)}
	for _, entry := range entries {
		if strings.Contains(entry, "/") {
			_, ipNet, err := net.ParseCIDR(entry)
			if err != nil {
				logger.Warn().Str("entry", entry).Err(err).Msg("invalid CIDR in " + what)
				continue
			}
			s.nets = append(s.nets, ipNet)
			continue
		}
		if ip := net.ParseIP(entry); ip != nil {
			s.ips[ip.String()] = true
			continue
		}
		logger.Warn().Str("entry", entry).Msg("invalid IP in " + what)
	}
	return s
}

func (s ipSet) empty() bool {
	return len(s.nets) == 0 && len(s.ips) == 0
}

func (s ipSet) contains(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	if s.ips[ip.String()] {
		return true
	}
	for _, ipNet := range s.nets {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// TrustedProxies resolves the client IP of a request. X-Forwarded-For and
// X-Real-IP are only honored when the connecting peer is a trusted proxy;
// anyone else could set them to pick a fresh rate limit bucket per request.
type TrustedProxies struct {
	set ipSet
}

// NewTrustedProxies parses proxy IPs and CIDRs. An empty list trusts no one.
func NewTrustedProxies(entries []string, logger zerolog.Logger) *TrustedProxies {
	tp := &TrustedProxies{set: parseIPSet(entries, logger, "trusted proxies")}
	if !tp.set.empty() {
		logger.Info().
			Int("ips", len(tp.set.ips)).
			Int("cidrs", len(tp.set.nets)).
			Msg("trusted proxies configured")
	}
	return tp
}

// ClientIP returns the peer address, or the forwarded client address when
// the peer is a trusted proxy. X-Forwarded-For is walked right to left and
// the first hop that is not itself a trusted proxy wins.
func (tp *TrustedProxies) ClientIP(r *http.Request) string {
	peer := RealIP(r)
	if tp == nil || !tp.set.contains(peer) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if net.ParseIP(hop) == nil {
				break
			}
			if i == 0 || !tp.set.contains(hop) {
				return hop
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(ip) != nil {
		return ip
	}
	return peer
}

// Middleware rewrites RemoteAddr to the resolved client IP so later
// middleware and handlers see the same address.
func (tp *TrustedProxies) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ip := tp.ClientIP(r); ip != "" {
			r.RemoteAddr = ip
		}
		next.ServeHTTP(w, r)
	})
}

// RealIP returns the host part of RemoteAddr. Behind TrustedProxies.Middleware
// that is the resolved client IP.
func RealIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
