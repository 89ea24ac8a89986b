package api

// inboundMessage is one message as the ingest endpoint receives it.
// Timestamps are accepted on the wire but deliberately not modelled:
// ordering comes from array position, never from client clocks.
type inboundMessage struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

type inboundMetadata struct {
	Channel  string `json:"channel"`
	Language string `json:"language"`
	Locale   string `json:"locale"`
}

// messageEnvelope is the POST /honeypot/message request body.
type messageEnvelope struct {
	SessionID string           `json:"sessionId"`
	Message   inboundMessage   `json:"message"`
	History   []inboundMessage `json:"conversationHistory"`
	Metadata  inboundMetadata  `json:"metadata"`
}

type errorResponse struct {
	Error string `json:"error"`
}
