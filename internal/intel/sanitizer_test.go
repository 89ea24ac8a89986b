package intel

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hivetrap/backend/internal/core"
)

func TestSanitizeIntelligence_StressCase(t *testing.T) {
	in := core.Intelligence{
		BankAccounts:       []string{"XXXX1234", "98 7654 3210 12"},
		UPIIDs:             []string{"user@ybl", "click here"},
		PhishingLinks:      []string{"http://a.xyz?x=1", "Click here", "http://a.xyz?x=1"},
		SuspiciousKeywords: []string{"urgent", "very urgent", "urgent now", "OTP", "otp"},
	}

	out := SanitizeIntelligence(in)

	assert.Equal(t, []string{"987654321012"}, out.BankAccounts)
	assert.Equal(t, []string{"user@ybl"}, out.UPIIDs)
	assert.Equal(t, []string{"http://a.xyz?x=1"}, out.PhishingLinks)
	assert.Equal(t, []string{"otp", "urgent"}, out.SuspiciousKeywords)
}

func TestSanitizeIntelligence_Idempotent(t *testing.T) {
	in := core.Intelligence{
		BankAccounts:       []string{"1234-5678-9012", "IFSC0001234", "12"},
		UPIIDs:             []string{"Fraud@Paytm", "noat"},
		PhishingLinks:      []string{"http://b.tk/pay?ref=1 extra", "https://c.click/login"},
		PhoneNumbers:       []string{"+919876543210", "12345"},
		SuspiciousKeywords: []string{"kyc", "kyc update", "verify", "OTP", "share otp now", "bank", "account", "card", "free", "prize"},
	}

	once := SanitizeIntelligence(in)
	twice := SanitizeIntelligence(once)
	assert.Equal(t, once, twice)

	assert.Equal(t, []string{"123456789012"}, once.BankAccounts)
	assert.Equal(t, []string{"fraud@paytm"}, once.UPIIDs)
	// Whitespace after the '?' is tolerated; only the address part must
	// be clean.
	assert.Equal(t, []string{"http://b.tk/pay?ref=1 extra", "https://c.click/login"}, once.PhishingLinks)
	assert.Equal(t, []string{"+919876543210"}, once.PhoneNumbers)
	assert.LessOrEqual(t, len(once.SuspiciousKeywords), 7)
}

func TestSanitizeKeywords_NoSubstringPairsAndCap(t *testing.T) {
	in := []string{"a1", "a1 b", "c22", "c22 d", "e333", "f444", "g555", "h666", "i777", "j888"}
	out := sanitizeKeywords(in)

	assert.Len(t, out, 7)
	for i, a := range out {
		for j, b := range out {
			if i != j {
				assert.NotContainsf(t, a, b, "%q should not contain %q", a, b)
			}
		}
	}
}

func TestSanitizeLinks_QueryStringWhitespace(t *testing.T) {
	out := sanitizeLinks([]string{
		"http://ok.xyz/path?q=hello world", // whitespace only after '?'
		"http://bad domain.xyz/path",
		"ftp://wrong.scheme",
	})
	assert.Equal(t, []string{"http://ok.xyz/path?q=hello world"}, out)
}

func TestSanitizePayload_SafeVerdictKeepsEntitiesDropsKeywords(t *testing.T) {
	p := core.CallbackPayload{
		SessionID:    "s1",
		ScamDetected: false,
		Confidence:   0.3,
		ExtractedIntelligence: core.Intelligence{
			BankAccounts:       []string{"987654321012"},
			UPIIDs:             []string{"fraud@ybl"},
			PhoneNumbers:       []string{"+919876543210"},
			SuspiciousKeywords: []string{"otp"},
		},
	}

	out := SanitizePayload(p)
	// Entities survive a safe verdict; only the keywords are tied to a
	// scam finding.
	assert.Equal(t, []string{"987654321012"}, out.ExtractedIntelligence.BankAccounts)
	assert.Equal(t, []string{"fraud@ybl"}, out.ExtractedIntelligence.UPIIDs)
	assert.Equal(t, []string{"+919876543210"}, out.ExtractedIntelligence.PhoneNumbers)
	assert.Empty(t, out.ExtractedIntelligence.SuspiciousKeywords)
	assert.Equal(t, float64(0), out.Confidence)
}

func TestSanitizePayload_ClampsConfidence(t *testing.T) {
	out := SanitizePayload(core.CallbackPayload{ScamDetected: true, Confidence: 1.7})
	assert.Equal(t, float64(1), out.Confidence)
}
