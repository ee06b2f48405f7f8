package fetcher

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultSecondaryPrefix is the path prefix of the secondary-locale page.
const DefaultSecondaryPrefix = "/ru"

// LocalePair derives the secondary-locale URL of a product page by inserting
// prefix at the start of its path. A URL that already carries the prefix is
// returned unchanged.
func LocalePair(primaryKey, prefix string) (string, error) {
	if prefix == "" {
		prefix = DefaultSecondaryPrefix
	}
	prefix = "/" + strings.Trim(prefix, "/")

	u, err := url.Parse(strings.TrimSpace(primaryKey))
	if err != nil {
		return "", fmt.Errorf("parse key %q: %w", primaryKey, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("key %q is not an absolute URL", primaryKey)
	}

	p := u.Path
	if p == prefix || strings.HasPrefix(p, prefix+"/") {
		return u.String(), nil
	}
	if p == "" {
		p = "/"
	}
	u.Path = prefix + p
	if u.RawPath != "" {
		u.RawPath = prefix + u.RawPath
	}
	return u.String(), nil
}
