package mcphub

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// ErrBlockedHost is returned when a destination resolves to a disallowed
// address range.
type ErrBlockedHost struct {
	Host string
}

func (e *ErrBlockedHost) Error() string {
	return fmt.Sprintf("mcphub: outbound request to %q blocked (loopback/link-local/private range)", e.Host)
}

// isBlockedIP reports whether ip falls in a loopback, link-local, or
// private range that outbound registry/MCP calls must not reach unless
// explicitly allowed.
func isBlockedIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsPrivate() || ip.IsUnspecified()
}

// CheckSSRF resolves rawURL's host and rejects it if any resolved address
// is in a blocked range, unless allowPrivate is set (used for
// operator-configured on-prem MCP deployments).
func CheckSSRF(rawURL string, allowPrivate bool) error {
	if allowPrivate {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("mcphub: empty host in %q", rawURL)
	}
	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return &ErrBlockedHost{Host: host}
		}
		return nil
	}
	addrs, err := net.LookupIP(host)
	if err != nil {
		return err
	}
	for _, ip := range addrs {
		if isBlockedIP(ip) {
			return &ErrBlockedHost{Host: host}
		}
	}
	return nil
}

// newGuardedClient returns an http.Client that re-validates SSRF on every
// redirect hop via CheckRedirect. The initial request URL is checked by the
// caller with CheckSSRF before Do is called (Client.call and MarketSearch).
func newGuardedClient(allowPrivate bool) *http.Client {
	return &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("mcphub: too many redirects")
			}
			return CheckSSRF(req.URL.String(), allowPrivate)
		},
	}
}
