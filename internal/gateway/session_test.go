package gateway

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/dannyai/assistant-gateway/internal/apiclient"
	"github.com/dannyai/assistant-gateway/internal/chat"
	"github.com/dannyai/assistant-gateway/internal/llm"
	"github.com/dannyai/assistant-gateway/internal/store"
	"github.com/dannyai/assistant-gateway/internal/tts"
)

type fakeCompleter struct {
	reply   string
	err     error
	welcome string

	mu           sync.Mutex
	lastHistory  []chat.Message
	lastUserText string
}

func (f *fakeCompleter) Complete(ctx context.Context, history []chat.Message, userText, systemInstruction string) (string, error) {
	f.mu.Lock()
	f.lastHistory = history
	f.lastUserText = userText
	f.mu.Unlock()
	return f.reply, f.err
}

func (f *fakeCompleter) GenerateWelcome(ctx context.Context, assistantName, userName, userContext string) string {
	return f.welcome
}

func (f *fakeCompleter) lastCall() ([]chat.Message, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastHistory, f.lastUserText
}

type fakeSynth struct {
	mu     sync.Mutex
	spoken []string
	static []bool
	voices []string
	notify func(string)
}

func (f *fakeSynth) Synthesize(ctx context.Context, text string, opts tts.Options) error {
	f.mu.Lock()
	f.spoken = append(f.spoken, text)
	f.static = append(f.static, opts.Static)
	f.voices = append(f.voices, opts.Voice)
	f.mu.Unlock()
	if opts.Events.OnWord != nil {
		for i, w := range strings.Fields(text) {
			opts.Events.OnWord(w, i)
		}
	}
	return nil
}

func (f *fakeSynth) calls() ([]string, []bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.spoken...), append([]bool(nil), f.static...)
}

func (f *fakeSynth) spokenVoices() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.voices...)
}

func (f *fakeSynth) setNotify(notify func(string)) {
	f.mu.Lock()
	f.notify = notify
	f.mu.Unlock()
}

func (f *fakeSynth) sendNotice(message string) {
	f.mu.Lock()
	notify := f.notify
	f.mu.Unlock()
	notify(message)
}

func dialSession(t *testing.T, completer Completer) (*websocket.Conn, *fakeSynth) {
	t.Helper()

	synth := &fakeSynth{}
	srv := httptest.NewServer(HandleSession(SessionConfig{
		Completer: completer,
		NewSynthesizer: func(player tts.Player, notify func(string)) Synthesizer {
			synth.setNotify(notify)
			return synth
		},
		AssistantName: "Danny",
		DefaultVoice:  "Basil-PlayAI",
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Expected WebSocket dial to succeed, got %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, synth
}

func sendEvent(t *testing.T, conn *websocket.Conn, ev ClientEvent) {
	t.Helper()
	data, err := sonic.Marshal(ev)
	if err != nil {
		t.Fatalf("Expected client event to encode, got %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("Expected write to succeed, got %v", err)
	}
}

// readUntilIdle collects server events until the session returns to idle.
func readUntilIdle(t *testing.T, conn *websocket.Conn) []ServerEvent {
	t.Helper()

	var events []ServerEvent
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Expected server event before idle, got %v (so far: %+v)", err, events)
		}
		var ev ServerEvent
		if err := sonic.Unmarshal(data, &ev); err != nil {
			t.Fatalf("Expected decodable server event, got %v", err)
		}
		events = append(events, ev)
		if ev.Type == ServerEventState && ev.State == string(chat.StateIdle) {
			return events
		}
	}
}

func states(events []ServerEvent) []string {
	var out []string
	for _, ev := range events {
		if ev.Type == ServerEventState {
			out = append(out, ev.State)
		}
	}
	return out
}

func findEvent(events []ServerEvent, typ string) (ServerEvent, bool) {
	for _, ev := range events {
		if ev.Type == typ {
			return ev, true
		}
	}
	return ServerEvent{}, false
}

func TestSessionTurnHappyPath(t *testing.T) {
	completer := &fakeCompleter{reply: "Gravity pulls objects together."}
	conn, synth := dialSession(t, completer)

	sendEvent(t, conn, ClientEvent{Type: ClientEventUserInput, Text: "What is gravity?"})
	events := readUntilIdle(t, conn)

	got := states(events)
	want := []string{"thinking", "speaking", "idle"}
	if len(got) != len(want) {
		t.Fatalf("Expected states %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected state %d to be %q, got %q", i, want[i], got[i])
		}
	}

	reply, ok := findEvent(events, ServerEventReply)
	if !ok {
		t.Fatal("Expected a reply event")
	}
	if reply.Text != "Gravity pulls objects together." {
		t.Errorf("Expected completion text in reply, got %q", reply.Text)
	}
	if reply.MessageID == "" {
		t.Error("Expected reply to carry a message ID")
	}

	history, userText := completer.lastCall()
	if userText != "What is gravity?" {
		t.Errorf("Expected user text to reach the completer, got %q", userText)
	}
	if len(history) != 0 {
		t.Errorf("Expected first turn to see empty history, got %d messages", len(history))
	}

	spoken, static := synth.calls()
	if len(spoken) != 1 || spoken[0] != "Gravity pulls objects together." {
		t.Errorf("Expected the reply to be spoken, got %v", spoken)
	}
	if static[0] {
		t.Error("Expected a conversational reply to be synthesized as dynamic text")
	}

	if word, ok := findEvent(events, ServerEventWord); !ok {
		t.Error("Expected word events during speech")
	} else if word.Word != "Gravity" {
		t.Errorf("Expected first word event to be Gravity, got %q", word.Word)
	}
}

func TestSessionWelcome(t *testing.T) {
	completer := &fakeCompleter{welcome: "Hi Ada! Ready to learn?"}
	conn, synth := dialSession(t, completer)

	sendEvent(t, conn, ClientEvent{Type: ClientEventHello, UserName: "Ada"})
	events := readUntilIdle(t, conn)

	welcome, ok := findEvent(events, ServerEventWelcome)
	if !ok {
		t.Fatal("Expected a welcome event")
	}
	if welcome.Text != "Hi Ada! Ready to learn?" {
		t.Errorf("Expected welcome text, got %q", welcome.Text)
	}
	spoken, _ := synth.calls()
	if len(spoken) != 1 || spoken[0] != "Hi Ada! Ready to learn?" {
		t.Errorf("Expected the welcome to be spoken, got %v", spoken)
	}
}

func TestSessionAllCredentialsFailedSpeaksApology(t *testing.T) {
	completer := &fakeCompleter{err: fmt.Errorf("completion: %w", apiclient.ErrAllCredentialsFailed)}
	conn, synth := dialSession(t, completer)

	sendEvent(t, conn, ClientEvent{Type: ClientEventUserInput, Text: "hello?"})
	events := readUntilIdle(t, conn)

	got := states(events)
	want := []string{"thinking", "error_api", "speaking", "idle"}
	if len(got) != len(want) {
		t.Fatalf("Expected states %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected state %d to be %q, got %q", i, want[i], got[i])
		}
	}

	errEv, ok := findEvent(events, ServerEventError)
	if !ok {
		t.Fatal("Expected an error event")
	}
	if errEv.Text != apologyAllBusy {
		t.Errorf("Expected the all-busy apology, got %q", errEv.Text)
	}

	spoken, static := synth.calls()
	if len(spoken) != 1 || spoken[0] != apologyAllBusy {
		t.Errorf("Expected the apology to be spoken, got %v", spoken)
	}
	if !static[0] {
		t.Error("Expected the apology to go through the static synthesis path")
	}
}

func TestSessionGenericErrorApology(t *testing.T) {
	completer := &fakeCompleter{err: fmt.Errorf("boom")}
	conn, synth := dialSession(t, completer)

	sendEvent(t, conn, ClientEvent{Type: ClientEventUserInput, Text: "hello?"})
	events := readUntilIdle(t, conn)

	errEv, ok := findEvent(events, ServerEventError)
	if !ok {
		t.Fatal("Expected an error event")
	}
	if errEv.Text != apologyGeneric {
		t.Errorf("Expected the generic apology, got %q", errEv.Text)
	}
	spoken, _ := synth.calls()
	if len(spoken) != 1 || spoken[0] != apologyGeneric {
		t.Errorf("Expected the apology to be spoken, got %v", spoken)
	}
}

func TestSessionMalformedResponseDegradesToFallbackReply(t *testing.T) {
	completer := &fakeCompleter{err: fmt.Errorf("completion: %w", llm.ErrMalformedUpstreamResponse)}
	conn, synth := dialSession(t, completer)

	sendEvent(t, conn, ClientEvent{Type: ClientEventUserInput, Text: "hello?"})
	events := readUntilIdle(t, conn)

	if _, ok := findEvent(events, ServerEventError); ok {
		t.Error("Expected no error event for a malformed upstream response")
	}
	reply, ok := findEvent(events, ServerEventReply)
	if !ok {
		t.Fatal("Expected a reply event")
	}
	if reply.Text != llm.FallbackReply {
		t.Errorf("Expected the fallback reply, got %q", reply.Text)
	}
	spoken, _ := synth.calls()
	if len(spoken) != 1 || spoken[0] != llm.FallbackReply {
		t.Errorf("Expected the fallback reply to be spoken, got %v", spoken)
	}
}

func TestSessionPreferenceVoiceUsedForSynthesis(t *testing.T) {
	completer := &fakeCompleter{reply: "ok"}
	conn, synth := dialSession(t, completer)

	sendEvent(t, conn, ClientEvent{Type: ClientEventUserInput, Text: "first"})
	readUntilIdle(t, conn)

	sendEvent(t, conn, ClientEvent{Type: ClientEventSetPreferences, Preferences: &store.Preferences{
		SpeechRate:   1.0,
		SpeechVolume: 1.0,
		Voice:        "Celeste-PlayAI",
		Avatar:       "Robin",
	}})
	sendEvent(t, conn, ClientEvent{Type: ClientEventUserInput, Text: "second"})
	readUntilIdle(t, conn)

	voices := synth.spokenVoices()
	if len(voices) != 2 {
		t.Fatalf("Expected 2 synthesis calls, got %d", len(voices))
	}
	if voices[0] != "Basil-PlayAI" {
		t.Errorf("Expected default voice for the first turn, got %q", voices[0])
	}
	if voices[1] != "Celeste-PlayAI" {
		t.Errorf("Expected updated voice for the second turn, got %q", voices[1])
	}
}

func TestSessionStartupNotice(t *testing.T) {
	srv := httptest.NewServer(HandleSession(SessionConfig{
		Completer: &fakeCompleter{},
		NewSynthesizer: func(player tts.Player, notify func(string)) Synthesizer {
			return &fakeSynth{}
		},
		AssistantName: "Danny",
		DefaultVoice:  "Basil-PlayAI",
		StartupNotice: "Backup voice is not configured; speech may be unavailable during outages.",
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Expected WebSocket dial to succeed, got %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Expected a startup notice, got %v", err)
	}
	var ev ServerEvent
	if err := sonic.Unmarshal(data, &ev); err != nil {
		t.Fatalf("Expected decodable server event, got %v", err)
	}
	if ev.Type != ServerEventNotice {
		t.Errorf("Expected notice event, got %q", ev.Type)
	}
}

func TestSessionNotifySendsNotice(t *testing.T) {
	completer := &fakeCompleter{reply: "ok"}
	conn, synth := dialSession(t, completer)

	// Drive one turn so the synthesizer factory has run.
	sendEvent(t, conn, ClientEvent{Type: ClientEventUserInput, Text: "hi"})
	readUntilIdle(t, conn)

	synth.sendNotice("Premium voice is unavailable, using the fallback voice.")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Expected a notice event, got %v", err)
	}
	var ev ServerEvent
	if err := sonic.Unmarshal(data, &ev); err != nil {
		t.Fatalf("Expected decodable server event, got %v", err)
	}
	if ev.Type != ServerEventNotice {
		t.Errorf("Expected notice event, got %q", ev.Type)
	}
}
