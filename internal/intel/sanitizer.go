package intel

import (
	"sort"
	"strings"

	"github.com/hivetrap/backend/internal/core"
)

// maxKeywords caps the keyword list in the outbound payload. Seven
// indicators is plenty for an evaluator; the rest is noise.
const maxKeywords = 7

// SanitizePayload is the final gate before dispatch: every outbound
// payload passes through here exactly once, and passing twice changes
// nothing. Extracted entities ship regardless of the verdict; only the
// keyword list is tied to a scam finding.
func SanitizePayload(p core.CallbackPayload) core.CallbackPayload {
	if p.Confidence < 0 {
		p.Confidence = 0
	}
	if p.Confidence > 1 {
		p.Confidence = 1
	}
	if !p.ScamDetected {
		p.Confidence = 0
	}
	p.ExtractedIntelligence = SanitizeIntelligence(p.ExtractedIntelligence)
	if !p.ScamDetected {
		p.ExtractedIntelligence.SuspiciousKeywords = nil
	}
	return p
}

// SanitizeIntelligence normalises a merged intelligence record into
// the strict outbound shape. Idempotent.
func SanitizeIntelligence(in core.Intelligence) core.Intelligence {
	return core.Intelligence{
		BankAccounts:       sanitizeBankAccounts(in.BankAccounts),
		UPIIDs:             sanitizeUPIIDs(in.UPIIDs),
		PhishingLinks:      sanitizeLinks(in.PhishingLinks),
		PhoneNumbers:       sanitizePhones(in.PhoneNumbers),
		SuspiciousKeywords: sanitizeKeywords(in.SuspiciousKeywords),
	}
}

// sanitizeBankAccounts keeps pure account numbers. Values carrying
// letters are masked descriptions ("XXXX1234") or bank codes, not
// numbers an evaluator can act on; separators inside real numbers are
// stripped.
func sanitizeBankAccounts(values []string) []string {
	var out []string
	for _, v := range values {
		if strings.ContainsFunc(v, isLetter) {
			continue
		}
		cleaned := strings.Map(func(r rune) rune {
			if r == ' ' || r == '-' {
				return -1
			}
			return r
		}, v)
		if len(cleaned) >= 4 && isAllDigits(cleaned) {
			out = append(out, cleaned)
		}
	}
	return dedupeSortedList(out)
}

func sanitizeUPIIDs(values []string) []string {
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(strings.ToLower(v))
		if strings.Contains(v, "@") {
			out = append(out, v)
		}
	}
	return dedupeSortedList(out)
}

// sanitizeLinks keeps absolute http(s) URLs whose address part (before
// any query string) carries no whitespace.
func sanitizeLinks(values []string) []string {
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if !strings.HasPrefix(v, "http") {
			continue
		}
		prefix := v
		if q := strings.IndexByte(v, '?'); q >= 0 {
			prefix = v[:q]
		}
		if strings.ContainsAny(prefix, " \t\n") {
			continue
		}
		out = append(out, v)
	}
	return dedupeSortedList(out)
}

func sanitizePhones(values []string) []string {
	var out []string
	for _, v := range values {
		digits := 0
		for _, r := range v {
			if r >= '0' && r <= '9' {
				digits++
			}
		}
		if digits >= 10 {
			out = append(out, strings.TrimSpace(v))
		}
	}
	return dedupeSortedList(out)
}

// sanitizeKeywords lowercases, drops keywords that merely extend a
// shorter kept one ("bank account details" adds nothing over "bank"),
// and caps the list. Ordering shortest-first makes the substring
// reduction deterministic and idempotent.
func sanitizeKeywords(values []string) []string {
	cleaned := make([]string, 0, len(values))
	seen := make(map[string]bool)
	for _, v := range values {
		v = strings.TrimSpace(strings.ToLower(v))
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		cleaned = append(cleaned, v)
	}

	sort.Slice(cleaned, func(i, j int) bool {
		if len(cleaned[i]) != len(cleaned[j]) {
			return len(cleaned[i]) < len(cleaned[j])
		}
		return cleaned[i] < cleaned[j]
	})

	var out []string
	for _, kw := range cleaned {
		redundant := false
		for _, kept := range out {
			if strings.Contains(kw, kept) {
				redundant = true
				break
			}
		}
		if redundant {
			continue
		}
		out = append(out, kw)
		if len(out) == maxKeywords {
			break
		}
	}
	return out
}

func dedupeSortedList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
