// Package urlguard vets URLs submitted for on-demand scans, so the sensor
// cannot be pointed at the host's own network.
package urlguard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrUnsafeURL wraps every rejection.
var ErrUnsafeURL = errors.New("urlguard: unsafe URL")

// Guard checks URLs. The zero value is not usable, call New.
type Guard struct {
	lookup func(ctx context.Context, host string) ([]string, error)
}

// New returns a Guard resolving through net.DefaultResolver.
func New() *Guard {
	return &Guard{lookup: net.DefaultResolver.LookupHost}
}

// Check rejects URLs that are not http(s), have no host, or name or resolve
// to a loopback, private, link-local or unspecified address. A DNS failure
// is not a rejection: the fetch fails on its own.
func (g *Guard) Check(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsafeURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("%w: scheme %q", ErrUnsafeURL, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: no host", ErrUnsafeURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		if private(ip) {
			return fmt.Errorf("%w: %s is not public", ErrUnsafeURL, host)
		}
		return nil
	}
	addrs, err := g.lookup(ctx, host)
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && private(ip) {
			return fmt.Errorf("%w: %s resolves to %s", ErrUnsafeURL, host, a)
		}
	}
	return nil
}

func private(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}
