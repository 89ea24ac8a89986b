package intel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hivetrap/backend/internal/core"
	"github.com/hivetrap/backend/internal/llm"
)

type stubCompleter struct {
	content string
	err     error
}

func (s *stubCompleter) Complete(context.Context, llm.Request) (string, error) {
	return s.content, s.err
}

func deterministicExtractor() *Extractor {
	return NewExtractor(nil, "", false)
}

func TestExtract_UPIAndPhone(t *testing.T) {
	intel := deterministicExtractor().Extract(context.Background(),
		"Send money to fraudster@ybl or call 9876543210 right now", nil)

	assert.Equal(t, []string{"fraudster@ybl"}, intel.UPIIDs)
	assert.Equal(t, []string{"+919876543210"}, intel.PhoneNumbers)
	assert.Contains(t, intel.SuspiciousKeywords, "now")
}

func TestExtract_CountryCodePrefix(t *testing.T) {
	intel := deterministicExtractor().Extract(context.Background(),
		"WhatsApp +91-9876543210 for your prize", nil)

	assert.Equal(t, []string{"+919876543210"}, intel.PhoneNumbers)
	assert.Contains(t, intel.SuspiciousKeywords, "prize")
}

func TestExtract_EmailNotReportedAsUPI(t *testing.T) {
	intel := deterministicExtractor().Extract(context.Background(),
		"Reply to support@gmail.com or pay victim@okaxis", nil)

	assert.Equal(t, []string{"victim@okaxis"}, intel.UPIIDs)
}

func TestExtract_PhishingLinksAndSafeDomains(t *testing.T) {
	intel := deterministicExtractor().Extract(context.Background(),
		"Verify at http://sbi-verify.xyz/kyc not https://www.google.com/search", nil)

	assert.Equal(t, []string{"http://sbi-verify.xyz/kyc"}, intel.PhishingLinks)
}

func TestExtract_BankAccountNotPhone(t *testing.T) {
	intel := deterministicExtractor().Extract(context.Background(),
		"Transfer to account 123456789012, IFSC SBIN0001234", nil)

	assert.Contains(t, intel.BankAccounts, "123456789012")
	assert.Contains(t, intel.BankAccounts, "SBIN0001234")
	assert.Empty(t, intel.PhoneNumbers)
}

func TestExtract_HistoryScannedForScammerTurnsOnly(t *testing.T) {
	history := []core.Message{
		{Sender: "scammer", Text: "pay old-handle@paytm"},
		{Sender: "user", Text: "my own handle is me@paytm"},
	}
	intel := deterministicExtractor().Extract(context.Background(), "hurry up", history)

	assert.Equal(t, []string{"old-handle@paytm"}, intel.UPIIDs)
	assert.Contains(t, intel.SuspiciousKeywords, "hurry")
}

func TestExtract_DedupeAcrossTurns(t *testing.T) {
	history := []core.Message{{Sender: "scammer", Text: "send to fraud@ybl"}}
	intel := deterministicExtractor().Extract(context.Background(), "yes, fraud@ybl today", history)

	assert.Equal(t, []string{"fraud@ybl"}, intel.UPIIDs)
}

func TestExtract_PlaceholderUPIsDropped(t *testing.T) {
	intel := deterministicExtractor().Extract(context.Background(),
		"pay test@upi or demo@paytm or real.person@ybl", nil)

	assert.Equal(t, []string{"real.person@ybl"}, intel.UPIIDs)
}

func TestExtract_LLMSweepMergedIn(t *testing.T) {
	stub := &stubCompleter{content: `{"upi_ids": ["hidden@ybl"], "scam_keywords": ["gift card"], "phone_numbers": [], "bank_accounts": [], "phishing_links": []}`}
	e := NewExtractor(stub, "llama-3.1-8b-instant", true)

	intel := e.Extract(context.Background(), "pay via the handle I mentioned, urgent", nil)

	assert.Contains(t, intel.UPIIDs, "hidden@ybl")
	assert.Contains(t, intel.SuspiciousKeywords, "gift card")
	assert.Contains(t, intel.SuspiciousKeywords, "urgent")
}

func TestExtract_LLMFailureAbsorbed(t *testing.T) {
	stub := &stubCompleter{err: errors.New("provider down")}
	e := NewExtractor(stub, "m", true)

	intel := e.Extract(context.Background(), "urgent, share your otp", nil)

	assert.Contains(t, intel.SuspiciousKeywords, "otp")
	assert.Contains(t, intel.SuspiciousKeywords, "urgent")
}

func TestExtract_NothingFound(t *testing.T) {
	intel := deterministicExtractor().Extract(context.Background(), "hello, how are you?", nil)
	assert.True(t, intel.IsEmpty())
}
