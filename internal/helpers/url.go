package helpers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"path"
	"sort"
	"strings"
)

var trackingQueryParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"gclid":        {},
	"fbclid":       {},
	"msclkid":      {},
}

// CanonicalURL normalises an import URL: lowercased scheme/host, default
// ports and fragments dropped, tracking parameters removed, remaining query
// keys sorted. Schemeless input defaults to https. Only http(s) is accepted.
func CanonicalURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty url")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" && parsed.Host == "" {
		if parsed, err = url.Parse("https://" + strings.TrimPrefix(raw, "//")); err != nil {
			return "", err
		}
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("unsupported url scheme: " + parsed.Scheme)
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return "", errors.New("url missing host")
	}
	if port := parsed.Port(); port != "" && !(parsed.Scheme == "http" && port == "80") && !(parsed.Scheme == "https" && port == "443") {
		host = host + ":" + port
	}
	parsed.Host = host

	if parsed.Path != "" {
		cleaned := path.Clean(parsed.Path)
		if strings.HasSuffix(parsed.Path, "/") && cleaned != "/" {
			cleaned += "/"
		}
		parsed.Path = cleaned
	}
	parsed.Fragment = ""

	query := parsed.Query()
	for key := range query {
		if _, drop := trackingQueryParams[strings.ToLower(key)]; drop {
			query.Del(key)
		}
	}
	keys := make([]string, 0, len(query))
	for key := range query {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, key := range keys {
		for _, value := range query[key] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(key))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(value))
		}
	}
	parsed.RawQuery = b.String()
	return parsed.String(), nil
}

// HostAllowed reports whether rawURL's host matches the allowlist. Entries
// match exactly or as a parent domain ("example.com" admits "www.example.com").
// An empty allowlist admits every host.
func HostAllowed(rawURL string, allowlist []string) bool {
	if len(allowlist) == 0 {
		return true
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	for _, entry := range allowlist {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}
		if host == entry || strings.HasSuffix(host, "."+entry) {
			return true
		}
	}
	return false
}

// ErrNonPublicHost is returned for URLs whose host is or resolves to a
// loopback, private, link-local, multicast or unspecified address.
var ErrNonPublicHost = errors.New("host is not publicly routable")

// IPLookup resolves a host name, like net.Resolver.LookupIPAddr.
type IPLookup func(ctx context.Context, host string) ([]net.IPAddr, error)

func publicIP(ip net.IP) bool {
	return !(ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsInterfaceLocalMulticast() ||
		ip.IsMulticast() || ip.IsUnspecified())
}

// CheckPublicHost rejects rawURL unless every address its host resolves to is
// publicly routable. A nil lookup uses net.DefaultResolver.
func CheckPublicHost(ctx context.Context, rawURL string, lookup IPLookup) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	host := strings.TrimSuffix(strings.ToLower(parsed.Hostname()), ".")
	if host == "" {
		return errors.New("url has no host")
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return fmt.Errorf("%w: %s", ErrNonPublicHost, host)
	}
	if ip := net.ParseIP(host); ip != nil {
		if !publicIP(ip) {
			return fmt.Errorf("%w: %s", ErrNonPublicHost, host)
		}
		return nil
	}
	if lookup == nil {
		lookup = net.DefaultResolver.LookupIPAddr
	}
	addrs, err := lookup(ctx, host)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("resolve %s: no addresses", host)
	}
	for _, a := range addrs {
		if !publicIP(a.IP) {
			return fmt.Errorf("%w: %s resolves to %s", ErrNonPublicHost, host, a.IP)
		}
	}
	return nil
}
