package search

import (
	"net/url"
	"strings"
)

// socialMediaDomains lists platforms whose pages never yield a usable article
// body. They render through JavaScript or sit behind logins, so fetching them
// only burns attempts.
var socialMediaDomains = map[string]bool{
	// Twitter/X
	"twitter.com": true,
	"x.com":       true,
	"t.co":        true,

	// Facebook/Meta
	"facebook.com":  true,
	"fb.com":        true,
	"fb.me":         true,
	"instagram.com": true,
	"threads.net":   true,

	// Video platforms
	"youtube.com": true,
	"youtu.be":    true,
	"tiktok.com":  true,
	"vimeo.com":   true,
	"twitch.tv":   true,

	// Professional/Business social
	"linkedin.com": true,

	// Messaging platforms
	"telegram.org": true,
	"t.me":         true,
	"discord.com":  true,
	"discord.gg":   true,
	"whatsapp.com": true,

	// Other social platforms
	"reddit.com":    true,
	"pinterest.com": true,
	"tumblr.com":    true,
	"snapchat.com":  true,
	"weibo.com":     true,
	"vk.com":        true,
	"ok.ru":         true,

	// URL shorteners (can't extract content)
	"bit.ly":      true,
	"goo.gl":      true,
	"tinyurl.com": true,
	"ow.ly":       true,
	"buff.ly":     true,
	"is.gd":       true,
	"v.gd":        true,
	"cutt.ly":     true,
	"rebrand.ly":  true,
}

// DomainFilter handles allowlist/denylist filtering of candidate domains.
// Social media domains are not filtered here: the selector drops them with a
// recorded reason so the audit trail keeps the attempt.
type DomainFilter struct {
	allowlist map[string]bool
	denylist  map[string]bool
	mode      filterMode
}

type filterMode int

const (
	filterModeAllowAll  filterMode = iota // No filtering (empty lists)
	filterModeAllowlist                   // Only allow domains in allowlist
	filterModeDenylist                    // Allow all except denylist
)

// NewDomainFilter creates a domain filter from comma-separated allowlist and
// denylist strings. A non-empty allowlist wins over the denylist.
func NewDomainFilter(allowlistStr, denylistStr string) *DomainFilter {
	allowlist := parseDomainList(allowlistStr)
	denylist := parseDomainList(denylistStr)

	var mode filterMode

	switch {
	case len(allowlist) > 0:
		mode = filterModeAllowlist
	case len(denylist) > 0:
		mode = filterModeDenylist
	default:
		mode = filterModeAllowAll
	}

	return &DomainFilter{
		allowlist: allowlist,
		denylist:  denylist,
		mode:      mode,
	}
}

// IsAllowed checks if a domain is allowed based on the filter configuration.
func (f *DomainFilter) IsAllowed(domain string) bool {
	if domain == "" {
		return false
	}

	domain = NormalizeDomain(domain)

	switch f.mode {
	case filterModeAllowAll:
		return true
	case filterModeAllowlist:
		return matchesList(domain, f.allowlist)
	case filterModeDenylist:
		return !matchesList(domain, f.denylist)
	default:
		return true
	}
}

// IsSocialMedia checks if a domain is a social media platform or shortener.
func (f *DomainFilter) IsSocialMedia(domain string) bool {
	domain = NormalizeDomain(domain)

	if socialMediaDomains[domain] {
		return true
	}

	// Suffix match for subdomains (e.g., mobile.twitter.com)
	for d := range socialMediaDomains {
		if strings.HasSuffix(domain, "."+d) {
			return true
		}
	}

	return false
}

// matchesList supports exact match and suffix match, so "example.com" also
// matches "sub.example.com".
func matchesList(domain string, list map[string]bool) bool {
	if list[domain] {
		return true
	}

	for d := range list {
		if strings.HasSuffix(domain, "."+d) {
			return true
		}
	}

	return false
}

func parseDomainList(s string) map[string]bool {
	if s == "" {
		return nil
	}

	result := make(map[string]bool)

	for _, domain := range strings.Split(s, ",") {
		domain = NormalizeDomain(domain)
		if domain != "" {
			result[domain] = true
		}
	}

	if len(result) == 0 {
		return nil
	}

	return result
}

// ExtractDomain returns the normalized host of a URL, or "" when unparseable.
func ExtractDomain(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	return NormalizeDomain(parsed.Host)
}

// NormalizeDomain normalizes a domain for comparison.
func NormalizeDomain(domain string) string {
	domain = strings.TrimSpace(domain)
	domain = strings.ToLower(domain)

	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "http://")

	domain = strings.TrimSuffix(domain, "/")

	domain = strings.TrimPrefix(domain, "www.")

	return domain
}
