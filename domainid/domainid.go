// Package domainid reduces a URL to the identifier used for trust decisions:
// the lower-cased hostname without one leading "www.", or the base name of a
// local file. The identifier is not a URL and cannot be turned back into one.
package domainid

import (
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// LocalFile is returned for file: URLs whose path has no last segment.
const LocalFile = "local-file"

// Normalize returns the identifier for rawURL. The boolean is false when the
// URL cannot be parsed or carries no usable host; callers must then treat the
// page as untrusted.
func Normalize(rawURL string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Scheme == "" {
		return "", false
	}

	if strings.EqualFold(u.Scheme, "file") {
		segs := strings.Split(u.Path, "/")
		if last := segs[len(segs)-1]; last != "" {
			return last, true
		}
		return LocalFile, true
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", false
	}
	if ascii, err := idna.Punycode.ToASCII(host); err == nil {
		host = ascii
	}
	return strings.TrimPrefix(host, "www."), true
}
