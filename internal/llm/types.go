package llm

import "errors"

// ErrMalformedUpstreamResponse is returned when the upstream answered 2xx but
// the payload was not parseable. Callers degrade to a canned reply instead of
// surfacing this to the end user.
var ErrMalformedUpstreamResponse = errors.New("malformed upstream response")

// Gemini generateContent wire format.

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"system_instruction,omitempty"`
}

type geminiCandidate struct {
	Content geminiContent `json:"content"`
}

type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

// roleModel is the upstream's name for assistant turns.
const roleModel = "model"
