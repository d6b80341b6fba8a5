// Package errors provides structured error handling for NEXUS.
//
// Every failure that crosses a component boundary is tagged with a Kind.
// The HTTP layer maps kinds to status codes; the retry helpers consult
// the retryable flag derived from the kind.
package errors

// Kind classifies an error for callers and for the HTTP edge.
type Kind string

const (
	// KindUnconfigured indicates a missing credential at provider construction.
	KindUnconfigured Kind = "unconfigured"
	// KindUnknownProvider indicates the router received an unrecognised name.
	KindUnknownProvider Kind = "unknown_provider"
	// KindModeViolation indicates a non-local provider requested under local mode.
	KindModeViolation Kind = "mode_violation"
	// KindRateLimit indicates a provider 429-class response.
	KindRateLimit Kind = "rate_limit"
	// KindServerFault indicates a provider 5xx-class response.
	KindServerFault Kind = "server_fault"
	// KindUnrecoverable indicates a provider error that must not be retried.
	KindUnrecoverable Kind = "unrecoverable"
	// KindPolicyViolation indicates an outbound payload failed policy validation.
	KindPolicyViolation Kind = "policy_violation"
	// KindNotIndexed indicates a query against an unpopulated workspace.
	KindNotIndexed Kind = "not_indexed"
	// KindNotFound indicates a lookup of an absent run id.
	KindNotFound Kind = "not_found"
	// KindBadRequest indicates an invalid client request.
	KindBadRequest Kind = "bad_request"
	// KindConfigInvalid indicates startup configuration validation failure.
	KindConfigInvalid Kind = "config_invalid"
	// KindInternal indicates an unexpected internal failure.
	KindInternal Kind = "internal"
)

// retryableKinds are transient provider faults worth another attempt.
var retryableKinds = map[Kind]bool{
	KindRateLimit:   true,
	KindServerFault: true,
}

// isRetryableKind reports whether errors of the kind may be retried.
func isRetryableKind(k Kind) bool {
	return retryableKinds[k]
}
