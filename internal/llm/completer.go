package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"

	"github.com/dannyai/assistant-gateway/internal/chat"
	"github.com/dannyai/assistant-gateway/internal/observability"
)

// FallbackReply is spoken when the upstream answered but carried no usable
// candidate text. A degraded reply beats failing the whole turn.
const FallbackReply = "I'm sorry, I couldn't process that question. Could you try asking it differently?"

// Poster issues a resilient POST against one upstream service.
type Poster interface {
	Post(ctx context.Context, url string, body any) ([]byte, error)
}

// Completer produces the assistant's next message from the conversation
// history and the new user utterance, via the language-model upstream.
type Completer struct {
	client   Poster
	endpoint string
	logger   zerolog.Logger
}

// NewCompleter creates a Completer that POSTs to endpoint through client.
func NewCompleter(client Poster, endpoint string) *Completer {
	return &Completer{
		client:   client,
		endpoint: endpoint,
		logger:   observability.GetLogger().With().Str("component", "completer").Logger(),
	}
}

// Complete maps history into the upstream turn format in order, appends the
// new user turn, attaches the system instruction, and returns the first
// candidate's text. A 2xx response without candidate text yields FallbackReply
// without an error; an unparsable 2xx body fails with
// ErrMalformedUpstreamResponse.
func (c *Completer) Complete(ctx context.Context, history []chat.Message, userText, systemInstruction string) (string, error) {
	contents := make([]geminiContent, 0, len(history)+1)
	for _, msg := range history {
		role := string(chat.RoleUser)
		if msg.Role == chat.RoleAssistant {
			role = roleModel
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: msg.Text}},
		})
	}
	contents = append(contents, geminiContent{
		Role:  string(chat.RoleUser),
		Parts: []geminiPart{{Text: userText}},
	})

	req := geminiRequest{Contents: contents}
	if systemInstruction != "" {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: systemInstruction}}}
	}

	body, err := c.client.Post(ctx, c.endpoint, req)
	if err != nil {
		return "", err
	}

	var resp geminiResponse
	if err := sonic.Unmarshal(body, &resp); err != nil {
		c.logger.Warn().Err(err).Msg("Upstream returned unparsable completion body")
		return "", fmt.Errorf("%w: %v", ErrMalformedUpstreamResponse, err)
	}

	text := firstCandidateText(resp)
	if text == "" {
		c.logger.Warn().Msg("Upstream completion carried no candidate text, using fallback reply")
		return FallbackReply, nil
	}
	return text, nil
}

func firstCandidateText(resp geminiResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	parts := resp.Candidates[0].Content.Parts
	if len(parts) == 0 {
		return ""
	}
	return strings.TrimSpace(parts[0].Text)
}
