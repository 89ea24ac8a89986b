package core

import "sort"

// Message is one entry in a session's conversation log. Inbound
// timestamps are dropped at the HTTP boundary; only sender and text
// survive ingest.
type Message struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

// Intelligence is the five-field extracted intelligence record carried
// through votes, sessions and the final callback payload. Fields are
// conceptually sets: order irrelevant, duplicates impossible after
// Merge/Sanitize.
type Intelligence struct {
	BankAccounts       []string `json:"bankAccounts"`
	UPIIDs             []string `json:"upiIds"`
	PhishingLinks      []string `json:"phishingLinks"`
	PhoneNumbers       []string `json:"phoneNumbers"`
	SuspiciousKeywords []string `json:"suspiciousKeywords"`
}

// Merge returns the set union of two intelligence records, sorted per
// field for stable downstream comparison.
func (i Intelligence) Merge(other Intelligence) Intelligence {
	return Intelligence{
		BankAccounts:       unionSorted(i.BankAccounts, other.BankAccounts),
		UPIIDs:             unionSorted(i.UPIIDs, other.UPIIDs),
		PhishingLinks:      unionSorted(i.PhishingLinks, other.PhishingLinks),
		PhoneNumbers:       unionSorted(i.PhoneNumbers, other.PhoneNumbers),
		SuspiciousKeywords: unionSorted(i.SuspiciousKeywords, other.SuspiciousKeywords),
	}
}

// IsEmpty reports whether no field holds any entry.
func (i Intelligence) IsEmpty() bool {
	return len(i.BankAccounts) == 0 &&
		len(i.UPIIDs) == 0 &&
		len(i.PhishingLinks) == 0 &&
		len(i.PhoneNumbers) == 0 &&
		len(i.SuspiciousKeywords) == 0
}

func unionSorted(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

// Vote is one voter's structured judgement for one turn. Failed marks
// the sentinel produced when the provider call itself broke; the
// council records it as a skipped voter, never as a "safe" vote.
type Vote struct {
	Voter      string       `json:"voter"`
	Failed     bool         `json:"failed,omitempty"`
	IsScam     bool         `json:"isScam"`
	Confidence float64      `json:"confidence"`
	ScamType   string       `json:"scamType"`
	Reasoning  string       `json:"reasoning"`
	Intel      Intelligence `json:"extractedIntelligence"`
}

// Verdict is the council's lightweight aggregation of one turn's
// votes, attached to the session immediately after fan-out. The Judge
// produces the authoritative payload later.
type Verdict struct {
	IsScam     bool    `json:"isScam"`
	Confidence float64 `json:"confidence"`
	ScamType   string  `json:"scamType"`
	ScamVotes  int     `json:"scamVotes"`
	VoterCount int     `json:"voterCount"`
	Reasoning  string  `json:"reasoning"`
	Votes      []Vote  `json:"votes"`
}

// CallbackPayload is the Judge's authoritative output, posted to the
// evaluation endpoint. Any upstream extras are stripped by decoding
// into this struct before dispatch.
type CallbackPayload struct {
	SessionID              string       `json:"sessionId"`
	ScamDetected           bool         `json:"scamDetected"`
	Confidence             float64      `json:"confidence"`
	ScamType               string       `json:"scamType"`
	TotalMessagesExchanged int          `json:"totalMessagesExchanged"`
	ExtractedIntelligence  Intelligence `json:"extractedIntelligence"`
	AgentNotes             string       `json:"agentNotes"`
}

// Request is the inbound envelope after the HTTP layer has stripped
// everything the core does not consume (timestamps, auth, metadata
// beyond channel).
type Request struct {
	SessionID string
	Message   Message
	History   []Message
	Channel   string
}

// Response is the synchronous reply envelope. Reply is nil when the
// persona generator signalled a skip. ScamDetected/Confidence are
// best-effort state from the prior turn.
type Response struct {
	SessionID    string  `json:"sessionId"`
	Status       string  `json:"status"`
	Reply        *string `json:"reply"`
	ScamDetected bool    `json:"scamDetected"`
	Confidence   float64 `json:"confidence"`
}
