package linkpreview

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"
)

// ErrBlocked is returned when a URL points at a non-public destination.
var ErrBlocked = errors.New("blocked destination")

var blockedHostnames = map[string]bool{
	"localhost":                true,
	"metadata.google.internal": true,
}

var blockedSuffixes = []string{".localhost", ".local", ".internal"}

// carrier-grade NAT, not covered by netip.Addr.IsPrivate
var cgnat = netip.MustParsePrefix("100.64.0.0/10")

// IsPublicAddr reports whether addr may be contacted from an unfurl.
func IsPublicAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	switch {
	case !addr.IsValid(),
		addr.IsUnspecified(),
		addr.IsLoopback(),
		addr.IsPrivate(),
		addr.IsLinkLocalUnicast(),
		addr.IsLinkLocalMulticast(),
		addr.IsInterfaceLocalMulticast(),
		addr.IsMulticast(),
		cgnat.Contains(addr):
		return false
	}
	return true
}

// CheckURL rejects anything but http(s) URLs with a public-looking host.
// Resolved addresses are checked again at dial time.
func CheckURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q", ErrBlocked, u.Scheme)
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return nil, fmt.Errorf("%w: empty host", ErrBlocked)
	}
	if blockedHostnames[host] {
		return nil, fmt.Errorf("%w: %s", ErrBlocked, host)
	}
	for _, suffix := range blockedSuffixes {
		if strings.HasSuffix(host, suffix) {
			return nil, fmt.Errorf("%w: %s", ErrBlocked, host)
		}
	}
	if addr, err := netip.ParseAddr(host); err == nil && !IsPublicAddr(addr) {
		return nil, fmt.Errorf("%w: %s", ErrBlocked, host)
	}
	return u, nil
}

// guardedDialContext refuses connections to non-public addresses after DNS
// resolution, so rebinding a public name to an internal address fails.
func guardedDialContext(timeout time.Duration) func(ctx context.Context, network, address string) (net.Conn, error) {
	dialer := &net.Dialer{
		Timeout: timeout,
		Control: func(network, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			addr, err := netip.ParseAddr(host)
			if err != nil {
				return err
			}
			if !IsPublicAddr(addr) {
				return fmt.Errorf("%w: %s", ErrBlocked, addr)
			}
			return nil
		},
	}
	return dialer.DialContext
}
