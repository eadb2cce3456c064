// Package safeurl rejects URLs that would let a user-configured source
// point a fetch at internal network targets.
package safeurl

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

var (
	ErrScheme  = errors.New("scheme must be http or https")
	ErrNoHost  = errors.New("url has no host")
	ErrPrivate = errors.New("host resolves to a private or internal address")
)

// Validate checks that raw is an http(s) URL whose host does not point
// at loopback, link-local, or private address space. It is called on
// every user- or admin-supplied base URL before any strategy fetches
// it; built-in strategies with hard-coded endpoints are exempt.
func Validate(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ErrScheme
	}
	host := u.Hostname()
	if host == "" {
		return ErrNoHost
	}
	if isBlockedName(host) {
		return ErrPrivate
	}

	// Literal IPs are checked directly; hostnames are resolved so a DNS
	// record pointing inside the network is caught too.
	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return ErrPrivate
		}
		return nil
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", host, err)
	}
	for _, ip := range ips {
		if isBlockedIP(ip) {
			return ErrPrivate
		}
	}
	return nil
}

func isBlockedName(host string) bool {
	h := strings.ToLower(host)
	return h == "localhost" || strings.HasSuffix(h, ".localhost") ||
		strings.HasSuffix(h, ".local") || strings.HasSuffix(h, ".internal")
}

func isBlockedIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsPrivate() ||
		ip.IsUnspecified()
}
