package llm

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
)

// persona is the fixed system instruction shaping the assistant's replies.
const persona = "You are %s, a friendly, patient, and encouraging virtual assistant for students. " +
	"Your goal is to explain educational topics clearly and very concisely. " +
	"Keep your answers focused, brief, and to the point. " +
	"If the question is not educational, try to answer but guide the user back to learning topics."

// SystemInstruction builds the per-turn system instruction, folding in the
// user's name and any stored context about them.
func SystemInstruction(assistantName, userName, userContext string) string {
	s := fmt.Sprintf(persona, assistantName)
	if userName != "" {
		s += fmt.Sprintf(" The user's name is %s. Address them by name occasionally, but not in every single message.", userName)
	}
	if userContext != "" {
		s += "\n\nSome context about the user: " + userContext
	}
	return s
}

// WelcomeFallback is used when the welcome-message completion fails.
func WelcomeFallback(name string) string {
	if name == "" {
		return "Hello! Ready when you are, ask me anything you want to learn about."
	}
	return fmt.Sprintf("Hello %s! Nice to be with you on this learning adventure, where do you want to start?", name)
}

// GenerateWelcome asks the language model for a short personalized welcome
// message. It never fails: any error degrades to WelcomeFallback.
func (c *Completer) GenerateWelcome(ctx context.Context, assistantName, userName, userContext string) string {
	prompt := fmt.Sprintf("Create a brief, personalized welcome message for %s. "+
		"Keep it under 20 words, be very concise. "+
		"Make it encouraging and mention being ready to help with educational questions.", userName)
	if userContext != "" {
		prompt += "\n\nUser context: " + userContext
	}

	req := geminiRequest{
		Contents:          []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: SystemInstruction(assistantName, "", "")}}},
	}

	body, err := c.client.Post(ctx, c.endpoint, req)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Welcome message generation failed, using fallback")
		return WelcomeFallback(userName)
	}

	var resp geminiResponse
	if err := sonic.Unmarshal(body, &resp); err != nil {
		return WelcomeFallback(userName)
	}
	if text := firstCandidateText(resp); text != "" {
		return text
	}
	return WelcomeFallback(userName)
}
