package gateway

import (
	"context"
	"net"
	"net/url"

	"github.com/m-mizutani/goerr/v2"
)

// vetURL validates a URL for outbound fetching and resolves its hostname
// exactly once. The returned IP must be the one dialed; re-resolving at
// connect time would reopen the DNS rebinding hole the single resolution
// closes.
func vetURL(ctx context.Context, resolver *net.Resolver, rawURL string, allowLoopback bool) (*url.URL, net.IP, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "unparseable URL", goerr.T(TagBlockedURL), goerr.V("url", rawURL))
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, nil, goerr.New("scheme not allowed", goerr.T(TagBlockedURL),
			goerr.V("url", rawURL), goerr.V("scheme", u.Scheme))
	}
	if u.Fragment != "" {
		return nil, nil, goerr.New("fragment not allowed", goerr.T(TagBlockedURL), goerr.V("url", rawURL))
	}
	host := u.Hostname()
	if host == "" {
		return nil, nil, goerr.New("URL has no hostname", goerr.T(TagBlockedURL), goerr.V("url", rawURL))
	}

	// Literal IPs skip DNS but still go through the range check.
	if ip := net.ParseIP(host); ip != nil {
		if allowLoopback && ip.IsLoopback() {
			return u, ip, nil
		}
		if !publicIP(ip) {
			return nil, nil, goerr.New("address in blocked range", goerr.T(TagBlockedURL),
				goerr.V("url", rawURL), goerr.V("ip", ip.String()))
		}
		return u, ip, nil
	}

	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "DNS resolution failed", goerr.T(TagDNSFailure),
			goerr.V("url", rawURL), goerr.V("host", host))
	}
	if len(addrs) == 0 {
		return nil, nil, goerr.New("hostname resolves to nothing", goerr.T(TagDNSFailure),
			goerr.V("url", rawURL), goerr.V("host", host))
	}

	// Every resolved address must be public. A host mixing public and
	// private records is treated as hostile.
	for _, addr := range addrs {
		if !publicIP(addr.IP) {
			return nil, nil, goerr.New("hostname resolves into blocked range", goerr.T(TagBlockedURL),
				goerr.V("url", rawURL), goerr.V("host", host), goerr.V("ip", addr.IP.String()))
		}
	}

	return u, addrs[0].IP, nil
}

// publicIP reports whether the address is routable and outside every
// loopback, link-local, private, multicast and reserved range, for both
// IPv4 and IPv6.
func publicIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() || ip.IsInterfaceLocalMulticast() ||
		ip.IsPrivate() {
		return false
	}
	for _, cidr := range reservedRanges {
		if cidr.Contains(ip) {
			return false
		}
	}
	return true
}

// Ranges not covered by the net.IP classification helpers.
var reservedRanges = func() []*net.IPNet {
	blocks := []string{
		"100.64.0.0/10",   // carrier-grade NAT
		"192.0.0.0/24",    // IETF protocol assignments
		"192.0.2.0/24",    // TEST-NET-1
		"198.18.0.0/15",   // benchmarking
		"198.51.100.0/24", // TEST-NET-2
		"203.0.113.0/24",  // TEST-NET-3
		"240.0.0.0/4",     // reserved
		"64:ff9b::/96",    // IPv4-IPv6 translation
		"100::/64",        // discard-only
		"2001:db8::/32",   // documentation
		"fc00::/7",        // unique local
	}
	nets := make([]*net.IPNet, 0, len(blocks))
	for _, b := range blocks {
		_, n, err := net.ParseCIDR(b)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}()
