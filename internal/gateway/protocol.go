package gateway

import (
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/dannyai/assistant-gateway/internal/store"
)

// Client -> server event types.
const (
	ClientEventHello          = "hello"
	ClientEventUserInput      = "user_input"
	ClientEventSetPreferences = "set_preferences"
	ClientEventCancel         = "cancel"
)

// Server -> client event types.
const (
	ServerEventState   = "state"
	ServerEventReply   = "reply"
	ServerEventWelcome = "welcome"
	ServerEventAudio   = "audio"
	ServerEventWord    = "word"
	ServerEventNotice  = "notice"
	ServerEventError   = "error"
)

// ClientEvent is a message from the browser UI.
type ClientEvent struct {
	Type string `json:"type"`

	// user_input / hello
	Text        string `json:"text,omitempty"`
	UserName    string `json:"user_name,omitempty"`
	UserContext string `json:"user_context,omitempty"`

	// set_preferences
	Preferences *store.Preferences `json:"preferences,omitempty"`
}

// ServerEvent is a message to the browser UI.
type ServerEvent struct {
	Type string `json:"type"`

	// state
	State string `json:"state,omitempty"`

	// reply / welcome / notice / error
	Text      string `json:"text,omitempty"`
	MessageID string `json:"message_id,omitempty"`

	// audio: base64-encoded WAV for the browser audio sink
	Audio string `json:"audio,omitempty"`

	// word: caption-highlighting word boundary. The index is a pointer so
	// word events carry index zero while other event types omit the field.
	Word      string `json:"word,omitempty"`
	WordIndex *int   `json:"word_index,omitempty"`
}

// DecodeClientEvent parses one inbound frame.
func DecodeClientEvent(data []byte) (ClientEvent, error) {
	var ev ClientEvent
	if err := sonic.Unmarshal(data, &ev); err != nil {
		return ClientEvent{}, fmt.Errorf("decode client event: %w", err)
	}
	if ev.Type == "" {
		return ClientEvent{}, fmt.Errorf("client event missing type")
	}
	return ev, nil
}

// EncodeServerEvent serializes one outbound frame.
func EncodeServerEvent(ev ServerEvent) ([]byte, error) {
	data, err := sonic.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode server event: %w", err)
	}
	return data, nil
}
