package crawl

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/openbrief/article-resolver/internal/core/domain"
)

// Gate thresholds. Content failing any check never reaches the verifier.
const (
	minContentChars = 350
	maxContentChars = 50000

	// short-but-real exception: short content still proceeds when it is
	// proportionally substantial relative to the item's own description
	shortButRealMinChars  = 150
	shortButRealMinFactor = 1.5

	maxLinkTextRatio    = 0.30
	maxBoilerplateRatio = 0.40
	maxNavigationRatio  = 0.55
	minUniqueTokenRatio = 0.10

	navLineMaxWords = 4
)

var boilerplatePhrases = []string{
	"all rights reserved",
	"cookie policy",
	"privacy policy",
	"terms of service",
	"terms of use",
	"sign up for our newsletter",
	"subscribe to our newsletter",
	"enable javascript",
	"advertisement",
	"related articles",
	"share this article",
	"follow us on",
}

var paywallPhrases = []string{
	"subscribe to continue reading",
	"subscribe to read",
	"subscription required",
	"this content is for subscribers",
	"already a subscriber",
	"register to continue",
	"create a free account to continue",
	"sign in to continue reading",
}

var unavailablePhrases = []string{
	"content is not available in your country",
	"not available in your region",
	"this video is unavailable",
	"removed for copyright",
	"copyright claim",
	"page not found",
	"404 not found",
	"access denied",
}

var markupMarkers = []string{
	"function(",
	"var ",
	"document.getelementbyid",
	"window.location",
	"{display:",
	"@media",
	"<!doctype",
	"<html",
	"</div>",
}

// Inspect classifies extracted content, returning the matching reason or ""
// for clean prose. descriptionLen is the rune length of the source item's
// description, used by the short-but-real exception.
func Inspect(content *Content, descriptionLen int) domain.FailureReason {
	text := strings.TrimSpace(content.Text)
	if text == "" {
		return domain.ReasonEmptyContent
	}

	lower := strings.ToLower(normalizeText(text))

	if looksLikeMarkup(lower) {
		return domain.ReasonMarkupContent
	}

	if containsAny(lower, paywallPhrases) {
		return domain.ReasonPaywallDetected
	}

	if containsAny(lower, unavailablePhrases) {
		return domain.ReasonCopyrightBlocked
	}

	length := utf8.RuneCountInString(text)

	if length > maxContentChars {
		return domain.ReasonContentTooLong
	}

	if length < minContentChars && !shortButReal(length, descriptionLen) {
		return domain.ReasonContentTooShort
	}

	if content.LinkTextRatio >= maxLinkTextRatio {
		return domain.ReasonTooManyLinks
	}

	lines := splitLines(text)

	if boilerplateRatio(lines) >= maxBoilerplateRatio {
		return domain.ReasonBoilerplate
	}

	if navigationRatio(lines) >= maxNavigationRatio {
		return domain.ReasonNavigationText
	}

	if uniqueTokenRatio(lower) < minUniqueTokenRatio {
		return domain.ReasonRepeatedContent
	}

	return ""
}

func shortButReal(length, descriptionLen int) bool {
	return length >= shortButRealMinChars &&
		float64(length) > shortButRealMinFactor*float64(descriptionLen)
}

func containsAny(lower string, phrases []string) bool {
	for _, phrase := range phrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}

	return false
}

// looksLikeMarkup detects pages whose "text" is leaked script, style, or raw
// HTML rather than prose.
func looksLikeMarkup(lower string) bool {
	hits := 0

	for _, marker := range markupMarkers {
		if strings.Contains(lower, marker) {
			hits++
		}
	}

	if hits >= 2 {
		return true
	}

	// heavily braced or semicolon-terminated text is code, not prose
	structural := strings.Count(lower, "{") + strings.Count(lower, "}") + strings.Count(lower, ";")

	return structural > 0 && len(lower) > 0 && float64(structural)/float64(utf8.RuneCountInString(lower)) > 0.02
}

func splitLines(text string) []string {
	raw := strings.Split(text, "\n")
	lines := make([]string, 0, len(raw))

	for _, line := range raw {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}

	return lines
}

func boilerplateRatio(lines []string) float64 {
	if len(lines) == 0 {
		return 0
	}

	matched := 0

	for _, line := range lines {
		if containsAny(strings.ToLower(line), boilerplatePhrases) {
			matched++
		}
	}

	return float64(matched) / float64(len(lines))
}

// navigationRatio treats short label-like lines as menu entries.
func navigationRatio(lines []string) float64 {
	if len(lines) == 0 {
		return 0
	}

	navLines := 0

	for _, line := range lines {
		words := strings.Fields(line)
		if len(words) <= navLineMaxWords && !strings.ContainsAny(line, ".!?") {
			navLines++
		}
	}

	return float64(navLines) / float64(len(lines))
}

func uniqueTokenRatio(lower string) float64 {
	tokens := strings.Fields(lower)
	if len(tokens) == 0 {
		return 0
	}

	unique := make(map[string]bool, len(tokens))

	for _, token := range tokens {
		unique[strings.Trim(token, ".,;:!?\"'()[]")] = true
	}

	return float64(len(unique)) / float64(len(tokens))
}

// normalizeText applies NFKC so visually-identical unicode variants compare
// equal in the phrase and token checks.
func normalizeText(s string) string {
	return norm.NFKC.String(s)
}
