package cache

import (
	"net/url"
	"strings"
)

// DefaultKeyPrefix namespaces page entries in Redis.
const DefaultKeyPrefix = "descgen:page"

// Key builds the Redis key of a page URL. Scheme and host are lower-cased,
// the fragment is dropped, query parameters are sorted and a trailing slash
// is removed from non-root paths, so equivalent spellings share one entry.
//
// Example:
//
//	descgen:page:https://shop.example/kettle?color=red&size=2
func Key(prefix, rawURL string) string {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return prefix + ":" + normalizeURL(rawURL)
}

func normalizeURL(rawURL string) string {
	raw := strings.TrimSpace(rawURL)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		if u.Path == "" {
			u.Path = "/"
		}
		u.RawPath = ""
	}
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}
	return u.String()
}
