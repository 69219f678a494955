package crawl

import (
	"net/url"
	"strings"
)

// Canonicalize normalizes a discovered URL so the frontier's dedup set
// treats equivalent URLs as the same entry: it lowercases the scheme
// and host, strips a leading "www." label (https://www.example.com and
// https://example.com are the same frontier entry), drops the fragment
// always, and drops the query string when dropQuery is set. It is
// idempotent: Canonicalize(Canonicalize(u)) == Canonicalize(u).
func Canonicalize(raw string, dropQuery bool) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	u.Scheme = strings.ToLower(u.Scheme)
	hostname := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if port := u.Port(); port != "" {
		u.Host = hostname + ":" + port
	} else {
		u.Host = hostname
	}
	u.Fragment = ""
	if dropQuery {
		u.RawQuery = ""
	}
	// Drop a trailing slash on an otherwise-empty path so
	// "https://example.com" and "https://example.com/" collapse to the
	// same frontier entry.
	if u.Path == "/" {
		u.Path = ""
	}
	return u.String(), nil
}
