package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ClientIPResolver returns the address attempt limits are keyed by.
// X-Forwarded-For and X-Real-IP are honoured only when the connection comes
// from a trusted proxy; otherwise anyone could pick the identifier that gets
// locked out.
type ClientIPResolver struct {
	trusted []*net.IPNet
}

// NewClientIPResolver parses a list of trusted proxy CIDRs. Bare addresses
// are accepted as single-host networks.
func NewClientIPResolver(proxies []string) (*ClientIPResolver, error) {
	res := &ClientIPResolver{}
	for _, p := range proxies {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.Contains(p, "/") {
			ip := net.ParseIP(p)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy %q", p)
			}
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			res.trusted = append(res.trusted, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, network, err := net.ParseCIDR(p)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", p, err)
		}
		res.trusted = append(res.trusted, network)
	}
	return res, nil
}

func (c *ClientIPResolver) isTrusted(addr string) bool {
	if c == nil {
		return false
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range c.trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP returns the originating client address of r. A nil resolver
// trusts no proxy.
//
// Behind a trusted proxy the X-Forwarded-For chain is walked from the right
// and the first hop that is not itself a trusted proxy wins.
func (c *ClientIPResolver) ClientIP(r *http.Request) string {
	remote := remoteHost(r)
	if !c.isTrusted(remote) {
		return remote
	}

	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		hops := strings.Split(fwd, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if !c.isTrusted(hop) || i == 0 {
				return hop
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return remote
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
