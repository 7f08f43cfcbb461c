package urlutil

import (
	"errors"
	"fmt"
	"net"
	"net/url"

	"golang.org/x/net/idna"
)

var ErrNotAbsoluteHTTP = errors.New("url is not an absolute http(s) url")

// RobotsURL returns the robots.txt location governing targetURL.
// Two spellings of the same origin always map to the same string:
//   - Scheme and host are lowercased
//   - Internationalized hostnames are converted to their punycode form
//   - Default ports are omitted (e.g., :80 for http, :443 for https)
func RobotsURL(targetURL string) (string, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotAbsoluteHTTP, err)
	}

	scheme := lowerASCII(u.Scheme)
	if (scheme != "http" && scheme != "https") || u.Hostname() == "" {
		return "", fmt.Errorf("%w: %q", ErrNotAbsoluteHTTP, targetURL)
	}

	hostname := u.Hostname()
	ip := net.ParseIP(hostname)
	if ip == nil {
		// hosts outside STD3 rules (underscores, etc.) are kept as typed
		if ascii, err := idna.Lookup.ToASCII(hostname); err == nil {
			hostname = ascii
		}
	}
	hostname = lowerASCII(hostname)

	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}

	host := hostname
	switch {
	case port != "":
		host = net.JoinHostPort(hostname, port)
	case ip != nil && ip.To4() == nil:
		host = "[" + hostname + "]"
	}

	origin := url.URL{Scheme: scheme, Host: host, Path: "/robots.txt"}
	return origin.String(), nil
}

// RequestPath returns the path and query of targetURL as robots rules see it.
// An empty path is reported as "/".
func RequestPath(targetURL string) (string, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotAbsoluteHTTP, err)
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return path, nil
}

// lowerASCII converts ASCII characters to lowercase without allocating.
// This is faster than strings.ToLower for ASCII-only strings.
func lowerASCII(s string) string {
	var needsLower bool
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			needsLower = true
			break
		}
	}
	if !needsLower {
		return s
	}
	b := make([]byte, len(s))
	copy(b, s)
	for i := 0; i < len(b); i++ {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}
