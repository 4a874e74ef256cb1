package domain

// FailureReason classifies why a candidate did not become the accepted
// substitute. The set is closed: storage keys per-reason counters by these
// values, so new reasons must be added here and nowhere else.
type FailureReason string

const (
	// Transport family. The only blockable reasons: they indicate the
	// domain's infrastructure is unhealthy rather than a bad article pairing.
	ReasonHTTPError    FailureReason = "http error"
	ReasonNetworkError FailureReason = "timeout or network error"

	// Structural / quality family, produced by the garbage gate.
	ReasonContentTooShort  FailureReason = "content too short"
	ReasonContentTooLong   FailureReason = "content too long"
	ReasonTooManyLinks     FailureReason = "too many links"
	ReasonBoilerplate      FailureReason = "boilerplate content"
	ReasonNavigationText   FailureReason = "navigation content"
	ReasonRepeatedContent  FailureReason = "repeated content"
	ReasonEmptyContent     FailureReason = "empty content"
	ReasonMarkupContent    FailureReason = "css/js instead of content"
	ReasonCopyrightBlocked FailureReason = "copyright or unavailable"
	ReasonSocialMedia      FailureReason = "social media"
	ReasonPaywallDetected  FailureReason = "paywall detected"
	ReasonExtractionFailed FailureReason = "extraction failed"

	// Relevance family, produced by the verifier.
	ReasonLowRelevance FailureReason = "low relevance"
	ReasonLLMRejected  FailureReason = "llm rejected"

	// Administrative family. Recorded when the selector drops a candidate
	// before any network call, to keep the audit trail complete.
	ReasonDomainBlocked FailureReason = "domain blocked"
)

// AllFailureReasons lists every reason in the closed enumeration.
var AllFailureReasons = []FailureReason{
	ReasonHTTPError,
	ReasonNetworkError,
	ReasonContentTooShort,
	ReasonContentTooLong,
	ReasonTooManyLinks,
	ReasonBoilerplate,
	ReasonNavigationText,
	ReasonRepeatedContent,
	ReasonEmptyContent,
	ReasonMarkupContent,
	ReasonCopyrightBlocked,
	ReasonSocialMedia,
	ReasonPaywallDetected,
	ReasonExtractionFailed,
	ReasonLowRelevance,
	ReasonLLMRejected,
	ReasonDomainBlocked,
}

var blockableReasons = map[FailureReason]bool{
	ReasonHTTPError:    true,
	ReasonNetworkError: true,
}

// retryableReasons are transport failures worth retrying on the same
// candidate before advancing to the next one.
var retryableReasons = map[FailureReason]bool{
	ReasonHTTPError:    true,
	ReasonNetworkError: true,
}

// Blockable reports whether the reason counts toward auto-blocking the
// domain. Content and relevance mismatches are excluded: they describe one
// article pairing, not the domain's health.
func (r FailureReason) Blockable() bool {
	return blockableReasons[r]
}

// Retryable reports whether the same candidate may be re-fetched after this
// failure.
func (r FailureReason) Retryable() bool {
	return retryableReasons[r]
}

// Known reports whether the value belongs to the closed enumeration.
func (r FailureReason) Known() bool {
	for _, known := range AllFailureReasons {
		if r == known {
			return true
		}
	}

	return false
}
