// Package policy enforces hybrid safety mode: documents stay local and
// only bounded snippets leave for cloud providers. Full excerpts are
// hashed before truncation so the audit trail covers what was retrieved,
// not just what was sent.
package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Snippet is a retrieved excerpt with its source attribution.
type Snippet struct {
	Excerpt string
	Source  string
	Page    int
}

// Redactor truncates snippets to the configured bound and records
// content hashes for auditing.
type Redactor struct {
	// SafeMode enables truncation and outbound length checks.
	SafeMode bool
	// MaxSnippetLength is the per-snippet character bound.
	MaxSnippetLength int
}

// NewRedactor creates a redactor with the given policy settings.
func NewRedactor(safeMode bool, maxSnippetLength int) *Redactor {
	return &Redactor{SafeMode: safeMode, MaxSnippetLength: maxSnippetLength}
}

// Redact converts snippets into a combined context string safe for
// cloud transmission, and returns the SHA-256 hash of each full excerpt
// taken before any truncation.
func (r *Redactor) Redact(snippets []Snippet) (string, []string) {
	safeSnippets := make([]string, 0, len(snippets))
	excerptHashes := make([]string, 0, len(snippets))

	for _, s := range snippets {
		excerpt := s.Excerpt

		// Hash before truncation so the audit record covers the full excerpt.
		excerptHashes = append(excerptHashes, HashContent(excerpt))

		if r.SafeMode {
			if runes := []rune(excerpt); len(runes) > r.MaxSnippetLength {
				excerpt = string(runes[:r.MaxSnippetLength]) + "..."
			}
		}

		sourceInfo := "[Source: " + s.Source
		if s.Page > 0 {
			sourceInfo += fmt.Sprintf(", Page %d", s.Page)
		}
		sourceInfo += "]"

		safeSnippets = append(safeSnippets, sourceInfo+"\n"+excerpt)
	}

	combined := strings.Join(safeSnippets, "\n\n---\n\n")

	// Emergency bound on the combined context. Separator overhead can
	// push the total past per-snippet limits.
	if r.SafeMode && len(snippets) > 0 {
		maxTotal := r.MaxSnippetLength * len(snippets)
		if runes := []rune(combined); len(runes) > maxTotal {
			combined = string(runes[:maxTotal]) + "\n\n[Context truncated for safety]"
		}
	}

	return combined, excerptHashes
}

// ValidateOutboundPayload reports whether payload may leave the host.
// In safe mode, payloads longer than ten times the snippet bound are
// rejected. Sentinel strings that must not appear reject the payload
// regardless of mode.
func (r *Redactor) ValidateOutboundPayload(payload string, sentinels ...string) bool {
	if r.SafeMode {
		maxAllowed := r.MaxSnippetLength * 10
		if len([]rune(payload)) > maxAllowed {
			return false
		}
	}

	for _, sentinel := range sentinels {
		if sentinel != "" && strings.Contains(payload, sentinel) {
			return false
		}
	}

	return true
}

// Summary reports the active policy settings for logging.
func (r *Redactor) Summary() map[string]any {
	return map[string]any{
		"hybrid_safe_mode":   r.SafeMode,
		"max_snippet_length": r.MaxSnippetLength,
		"policy_enforced":    true,
	}
}

// HashContent returns the SHA-256 hex digest of content.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
