package link

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"
)

const maxRedirects = 5

var errBlockedAddress = errors.New("blocked address")

// blockedIP reports addresses a link may not point at: loopback, private
// ranges, link-local (cloud metadata lives there), multicast and the
// unspecified address. IPv4-mapped IPv6 forms are checked as IPv4.
func blockedIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() || ip.IsMulticast()
}

// numericHost reports hosts such as "127.1", "2130706433" or "0x7f.1" that
// resolvers read as IPv4 addresses even though net.ParseIP does not.
// No public suffix is numeric.
func numericHost(host string) bool {
	host = strings.TrimSuffix(host, ".")
	last := host[strings.LastIndex(host, ".")+1:]
	if last == "" {
		return false
	}
	if strings.HasPrefix(last, "0x") {
		return true
	}
	for _, r := range last {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// hostBlocked applies the address rules to a URL host.
func hostBlocked(host string) bool {
	if ip := net.ParseIP(host); ip != nil {
		return blockedIP(ip)
	}
	return numericHost(host)
}

// GuardedClient returns an HTTP client that refuses to connect to blocked
// addresses. The check runs on the resolved address at dial time, so it
// also holds for redirects and for names that resolve inward.
func GuardedClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: 10 * time.Second, Control: dialControl}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext
	return &http.Client{Timeout: timeout, Transport: transport, CheckRedirect: checkRedirect}
}

func dialControl(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	if ip := net.ParseIP(host); ip == nil || blockedIP(ip) {
		return fmt.Errorf("%w: %s", errBlockedAddress, host)
	}
	return nil
}

func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return fmt.Errorf("redirect to unsupported scheme %q", req.URL.Scheme)
	}
	if host := strings.ToLower(req.URL.Hostname()); host == "" || hostBlocked(host) {
		return fmt.Errorf("redirect to %w: %s", errBlockedAddress, host)
	}
	return nil
}
