// Package intel extracts actionable fraud indicators from scammer
// messages. Three passes feed one merged record: regex patterns,
// keyword lexicon matching, and an optional LLM sweep for anything the
// patterns miss.
package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"

	"github.com/hivetrap/backend/internal/core"
	"github.com/hivetrap/backend/internal/llm"
)

// Completer abstracts the LLM client for the optional sweep.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

var (
	upiKnownRe   = regexp.MustCompile(`(?i)\b[\w.-]+@(?:ybl|paytm|okaxis|okhdfcbank|ibl|axl|sbi|upi|apl|rapl|ikwik|pingpay|waaxis|waicici|wahdfcbank|kmbl)\b`)
	upiGenericRe = regexp.MustCompile(`(?i)\b[\w.-]+@[a-z]{2,10}\b`)
	emailRe      = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	phoneRe      = regexp.MustCompile(`(?:\+91[-\s]?|0)?[6-9]\d{9}\b`)
	accountRe    = regexp.MustCompile(`\b\d{9,18}\b`)
	ifscRe       = regexp.MustCompile(`\b[A-Z]{4}0[A-Z0-9]{6}\b`)
	urlRe        = regexp.MustCompile(`https?://[^\s<>"{}|\\^` + "`" + `\[\]]+|www\.[^\s<>"{}|\\^` + "`" + `\[\]]+`)
	digitsRe     = regexp.MustCompile(`\D`)
)

// suspiciousKeywords is the flat lexicon, drawn from urgency, threat,
// action, financial, reward and authority vocabularies of Indian
// financial scams.
var suspiciousKeywords = []string{
	// urgency
	"urgent", "immediately", "now", "today", "asap", "hurry", "quick", "fast", "deadline", "expires",
	// threat
	"blocked", "suspended", "closed", "frozen", "terminated", "deactivated", "legal", "police", "arrest",
	// action
	"verify", "update", "confirm", "click", "share", "send", "enter", "provide", "submit",
	// financial
	"otp", "pin", "password", "cvv", "upi", "bank", "account", "card", "kyc", "aadhar", "pan",
	// reward
	"won", "prize", "lottery", "cashback", "reward", "refund", "bonus", "offer", "free",
	// authority
	"sbi", "rbi", "hdfc", "icici", "axis", "government", "official", "department", "ministry",
}

// scamDomains flags link shorteners, throwaway TLDs and form hosts.
var scamDomains = []string{
	"bit.ly", "tinyurl", "shorturl", "goo.gl",
	".xyz", ".click", ".link", ".online", ".site", ".tk", ".ml", ".top",
	"forms.gle", "docs.google.com/forms",
}

// safeDomains are never reported as phishing even when matched.
var safeDomains = []string{".gov.in", "npci.org.in", ".bank.in", "google.com", "facebook.com", "whatsapp.com"}

// placeholderMarkers mark obviously fake UPI handles.
var placeholderMarkers = []string{"test", "fake", "example", "demo", "sample"}

// Extractor pulls intelligence out of message text. The LLM sweep is
// optional; with it disabled the extractor is fully deterministic.
type Extractor struct {
	client     Completer
	model      string
	llmEnabled bool
	logger     *log.Logger
}

func NewExtractor(client Completer, model string, llmEnabled bool) *Extractor {
	return &Extractor{
		client:     client,
		model:      model,
		llmEnabled: llmEnabled && client != nil,
		logger:     log.New(log.Writer(), "[INTEL] ", log.LstdFlags),
	}
}

// Extract runs every pass over the current message plus all prior
// scammer messages and returns the merged, filtered record. The LLM
// sweep is best-effort: its failures are absorbed silently.
func (e *Extractor) Extract(ctx context.Context, message string, history []core.Message) core.Intelligence {
	text := message
	for _, msg := range history {
		if msg.Sender == "scammer" {
			text += " " + msg.Text
		}
	}

	merged := extractPatterns(text).Merge(extractKeywords(text))

	if e.llmEnabled {
		if llmIntel, err := e.extractWithLLM(ctx, text); err == nil {
			merged = merged.Merge(llmIntel)
		} else {
			e.logger.Printf("⚠️ LLM sweep skipped: %v", err)
		}
	}

	return filterIntelligence(merged)
}

// extractPatterns is the regex pass.
func extractPatterns(text string) core.Intelligence {
	var intel core.Intelligence

	emails := make(map[int]bool)
	for _, loc := range emailRe.FindAllStringIndex(text, -1) {
		emails[loc[0]] = true
	}

	for _, m := range upiKnownRe.FindAllString(text, -1) {
		intel.UPIIDs = append(intel.UPIIDs, strings.ToLower(m))
	}
	// The generic handle pattern also matches the local@host prefix of
	// email addresses; anchor positions learned from the email pass
	// disambiguate.
	for _, loc := range upiGenericRe.FindAllStringIndex(text, -1) {
		if emails[loc[0]] {
			continue
		}
		intel.UPIIDs = append(intel.UPIIDs, strings.ToLower(text[loc[0]:loc[1]]))
	}

	for _, m := range phoneRe.FindAllString(text, -1) {
		cleaned := digitsRe.ReplaceAllString(m, "")
		cleaned = strings.TrimPrefix(cleaned, "0")
		switch {
		case len(cleaned) == 10:
			intel.PhoneNumbers = append(intel.PhoneNumbers, "+91"+cleaned)
		case len(cleaned) == 12 && strings.HasPrefix(cleaned, "91"):
			intel.PhoneNumbers = append(intel.PhoneNumbers, "+"+cleaned)
		}
	}

	for _, m := range urlRe.FindAllString(text, -1) {
		lower := strings.ToLower(m)
		if matchesAny(lower, scamDomains) || !matchesAny(lower, safeDomains) {
			intel.PhishingLinks = append(intel.PhishingLinks, m)
		}
	}

	for _, m := range accountRe.FindAllString(text, -1) {
		// Indian mobiles start 6-9; a long digit run with any other
		// leading digit reads as an account number.
		if m[0] < '6' {
			intel.BankAccounts = append(intel.BankAccounts, m)
		}
	}
	intel.BankAccounts = append(intel.BankAccounts, ifscRe.FindAllString(text, -1)...)

	return dedupeSorted(intel)
}

// extractKeywords is the lexicon pass: plain substring matching on the
// lowercased text.
func extractKeywords(text string) core.Intelligence {
	lower := strings.ToLower(text)
	var found []string
	for _, kw := range suspiciousKeywords {
		if strings.Contains(lower, kw) {
			found = append(found, kw)
		}
	}
	sort.Strings(found)
	return core.Intelligence{SuspiciousKeywords: found}
}

// extractWithLLM asks a small model for indicators the patterns miss.
func (e *Extractor) extractWithLLM(ctx context.Context, text string) (core.Intelligence, error) {
	const system = `Extract financial fraud indicators from the message.
Return ONLY valid JSON with these fields:
{
    "upi_ids": ["list of UPI IDs like xyz@upi"],
    "phone_numbers": ["list of phone numbers"],
    "bank_accounts": ["list of account numbers"],
    "phishing_links": ["list of suspicious URLs"],
    "scam_keywords": ["key suspicious phrases"]
}
Only include items actually present in the text. Use empty lists if none found.`

	if len(text) > 2000 {
		text = text[:2000]
	}
	content, err := e.client.Complete(ctx, llm.Request{
		Model:     e.model,
		System:    system,
		Prompt:    "Extract from: " + text,
		MaxTokens: 300,
		JSONMode:  true,
	})
	if err != nil {
		return core.Intelligence{}, err
	}

	var parsed struct {
		UPIIDs        []string `json:"upi_ids"`
		PhoneNumbers  []string `json:"phone_numbers"`
		BankAccounts  []string `json:"bank_accounts"`
		PhishingLinks []string `json:"phishing_links"`
		ScamKeywords  []string `json:"scam_keywords"`
	}
	if err := decodeLLMObject(content, &parsed); err != nil {
		return core.Intelligence{}, fmt.Errorf("sweep output: %w", err)
	}

	return core.Intelligence{
		UPIIDs:             parsed.UPIIDs,
		PhoneNumbers:       parsed.PhoneNumbers,
		BankAccounts:       parsed.BankAccounts,
		PhishingLinks:      parsed.PhishingLinks,
		SuspiciousKeywords: parsed.ScamKeywords,
	}, nil
}

// filterIntelligence drops placeholder and obviously safe entries.
func filterIntelligence(intel core.Intelligence) core.Intelligence {
	var upis []string
	for _, upi := range intel.UPIIDs {
		if !matchesAny(strings.ToLower(upi), placeholderMarkers) {
			upis = append(upis, upi)
		}
	}
	intel.UPIIDs = upis

	var phones []string
	for _, phone := range intel.PhoneNumbers {
		if len(digitsRe.ReplaceAllString(phone, "")) >= 10 {
			phones = append(phones, phone)
		}
	}
	intel.PhoneNumbers = phones

	var links []string
	for _, url := range intel.PhishingLinks {
		if !matchesAny(strings.ToLower(url), safeDomains) {
			links = append(links, url)
		}
	}
	intel.PhishingLinks = links

	return dedupeSorted(intel)
}

// decodeLLMObject unwraps code fences and stray prose around a JSON
// object before unmarshalling into dst.
func decodeLLMObject(raw string, dst interface{}) error {
	content := strings.TrimSpace(raw)
	content = strings.ReplaceAll(content, "```json", "")
	content = strings.ReplaceAll(content, "```", "")
	if start := strings.IndexByte(content, '{'); start >= 0 {
		if end := strings.LastIndexByte(content, '}'); end > start {
			content = content[start : end+1]
		}
	}
	return json.Unmarshal([]byte(content), dst)
}

func matchesAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func dedupeSorted(intel core.Intelligence) core.Intelligence {
	return core.Intelligence{}.Merge(intel)
}
