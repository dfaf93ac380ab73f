package trust

import (
	"net/url"
	"strings"
)

// IsFrameOriginTrusted decides whether an iframe source is a benign origin
// for the page at page. A missing source is not a signal. data: and blob:
// sources are never trusted, and anything that fails to parse fails closed.
func IsFrameOriginTrusted(frameURL string, page *url.URL) bool {
	src := strings.TrimSpace(frameURL)
	if src == "" {
		return true
	}
	lower := strings.ToLower(src)
	if strings.HasPrefix(lower, "data:") || strings.HasPrefix(lower, "blob:") {
		return false
	}

	u, err := url.Parse(src)
	if err != nil {
		return false
	}
	if page != nil {
		u = page.ResolveReference(u)
	}

	host := strings.ToLower(u.Hostname())
	if page != nil && host != "" && host == strings.ToLower(page.Hostname()) {
		return true
	}
	return Contains(host, EmbedProviders)
}
