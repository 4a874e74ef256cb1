package search

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDomainFilter(t *testing.T) {
	tests := []struct {
		name      string
		allowlist string
		denylist  string
		domain    string
		want      bool
	}{
		{name: "no lists allows anything", domain: "news.example.com", want: true},
		{name: "empty domain denied", domain: "", want: false},
		{name: "social media passes through to the selector", domain: "twitter.com", want: true},
		{name: "allowlist pass", allowlist: "example.com,other.org", domain: "example.com", want: true},
		{name: "allowlist subdomain pass", allowlist: "example.com", domain: "news.example.com", want: true},
		{name: "allowlist miss", allowlist: "example.com", domain: "elsewhere.net", want: false},
		{name: "denylist hit", denylist: "spam.example", domain: "spam.example", want: false},
		{name: "denylist subdomain hit", denylist: "spam.example", domain: "cdn.spam.example", want: false},
		{name: "denylist miss", denylist: "spam.example", domain: "fine.example", want: true},
		{name: "www stripped before match", denylist: "spam.example", domain: "www.spam.example", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewDomainFilter(tt.allowlist, tt.denylist)
			require.Equal(t, tt.want, f.IsAllowed(tt.domain))
		})
	}
}

func TestIsSocialMedia(t *testing.T) {
	f := NewDomainFilter("", "")

	require.True(t, f.IsSocialMedia("twitter.com"))
	require.True(t, f.IsSocialMedia("mobile.twitter.com"))
	require.True(t, f.IsSocialMedia("bit.ly"))
	require.False(t, f.IsSocialMedia("news.example.com"))
}

func TestExtractDomain(t *testing.T) {
	require.Equal(t, "news.example.com", ExtractDomain("https://www.news.example.com/path/to/story"))
	require.Equal(t, "example.org", ExtractDomain("http://example.org"))
	require.Equal(t, "", ExtractDomain("://not-a-url"))
}

func TestCanonicalURLKey(t *testing.T) {
	a := canonicalURLKey("https://www.Example.com/story/")
	b := canonicalURLKey("http://example.com/story#section")
	require.Equal(t, a, b)
	require.Equal(t, "", canonicalURLKey("  "))
}
