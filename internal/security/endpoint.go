package security

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

var blockedHosts = map[string]bool{
	"localhost":                true,
	"metadata.google.internal": true,
	"metadata.google":          true,
}

// Ranges the stdlib predicates do not cover.
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("100.64.0.0/10"), // carrier-grade NAT
	netip.MustParsePrefix("198.18.0.0/15"), // benchmarking
	netip.MustParsePrefix("0.0.0.0/8"),
}

// ValidateEndpointURL rejects gang webhook targets that could reach the
// service's own network: loopback, private, link-local, CGNAT, multicast
// and unspecified addresses. Hostnames are resolved and every address is
// checked. URLs carrying credentials are refused.
func ValidateEndpointURL(rawURL string) error {
	return validateEndpointURL(rawURL, net.LookupHost)
}

func validateEndpointURL(rawURL string, lookup func(string) ([]string, error)) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return errors.New("URL scheme must be http or https")
	}
	if u.Host == "" {
		return errors.New("URL must have a host")
	}
	if u.User != nil {
		return errors.New("URL must not contain credentials")
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if blockedHosts[host] || strings.HasSuffix(host, ".localhost") {
		return fmt.Errorf("URL host %q is not allowed", host)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		return checkAddr(addr)
	}

	resolved, err := lookup(host)
	if err != nil || len(resolved) == 0 {
		return fmt.Errorf("cannot resolve URL host: %s", host)
	}
	for _, a := range resolved {
		addr, err := netip.ParseAddr(a)
		if err != nil {
			continue
		}
		if err := checkAddr(addr); err != nil {
			return fmt.Errorf("URL host %q resolves to blocked address: %w", host, err)
		}
	}
	return nil
}

func checkAddr(addr netip.Addr) error {
	addr = addr.Unmap()
	switch {
	case addr.IsLoopback():
		return errors.New("loopback addresses are not allowed")
	case addr.IsPrivate():
		return errors.New("private addresses are not allowed")
	case addr.IsLinkLocalUnicast(), addr.IsLinkLocalMulticast():
		return errors.New("link-local addresses are not allowed")
	case addr.IsMulticast():
		return errors.New("multicast addresses are not allowed")
	case addr.IsUnspecified():
		return errors.New("unspecified addresses are not allowed")
	}
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return fmt.Errorf("address range %s is not allowed", p)
		}
	}
	return nil
}
