package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/dannyai/assistant-gateway/internal/apiclient"
	"github.com/dannyai/assistant-gateway/internal/chat"
	"github.com/dannyai/assistant-gateway/internal/llm"
	"github.com/dannyai/assistant-gateway/internal/observability"
	"github.com/dannyai/assistant-gateway/internal/store"
	"github.com/dannyai/assistant-gateway/internal/tts"
)

// Apology texts spoken when a turn fails. They are fixed strings, so they go
// through the static synthesis path and get cached.
const (
	apologyAllBusy = "I'm sorry, all available connections are currently busy. Please try again in a few minutes."
	apologyGeneric = "Hmm, I'm having a little trouble connecting right now. Please try again in a moment."
)

// Synthesizer is the speech side of a turn.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, opts tts.Options) error
}

// Completer is the language-model side of a turn.
type Completer interface {
	Complete(ctx context.Context, history []chat.Message, userText, systemInstruction string) (string, error)
	GenerateWelcome(ctx context.Context, assistantName, userName, userContext string) string
}

// Session drives one browser conversation: it owns the message history, the
// turn state machine, and the outbound event stream. One turn runs at a time;
// input received while a turn is in flight is dropped (never cancelling the
// in-flight work).
type Session struct {
	id            string
	conn          *websocket.Conn
	completer     Completer
	synth         Synthesizer
	prefs         *store.PrefsRepo
	assistantName string
	defaultVoice  string

	startupNotice string

	conversation *chat.Conversation
	machine      *chat.StateMachine

	// profileMu guards the fields below: they are written on the read-loop
	// goroutine (hello, set_preferences) and read by in-flight turn goroutines.
	profileMu   sync.Mutex
	userName    string
	userContext string
	voice       string

	outbound  chan ServerEvent
	done      chan struct{}
	closeOnce sync.Once

	turnMu sync.Mutex
	inTurn bool

	logger zerolog.Logger
}

// SynthesizerFactory binds a synthesis orchestrator to one session's playback
// sink and notification channel.
type SynthesizerFactory func(player tts.Player, notify func(message string)) Synthesizer

// SessionConfig carries the collaborators a session needs.
type SessionConfig struct {
	Completer      Completer
	NewSynthesizer SynthesizerFactory
	Prefs          *store.PrefsRepo
	AssistantName  string
	DefaultVoice   string

	// StartupNotice, when non-empty, is surfaced once as a notice event when
	// the session opens (degraded capability announcements).
	StartupNotice string
}

// NewSession creates a session over an established WebSocket connection.
func NewSession(conn *websocket.Conn, cfg SessionConfig) *Session {
	id := observability.NewSessionID()
	s := &Session{
		id:            id,
		conn:          conn,
		completer:     cfg.Completer,
		prefs:         cfg.Prefs,
		assistantName: cfg.AssistantName,
		defaultVoice:  cfg.DefaultVoice,
		startupNotice: cfg.StartupNotice,
		conversation:  chat.NewConversation(),
		voice:         cfg.DefaultVoice,
		outbound:      make(chan ServerEvent, 64),
		done:          make(chan struct{}),
		logger:        observability.WithSessionID(id),
	}
	s.machine = chat.NewStateMachine(func(state chat.State) {
		s.push(ServerEvent{Type: ServerEventState, State: string(state)})
	})
	if cfg.NewSynthesizer != nil {
		s.synth = cfg.NewSynthesizer(s.Player(), s.Notify)
	}
	return s
}

// Run processes the session until the connection closes.
func (s *Session) Run(ctx context.Context) {
	observability.RecordSessionStart()
	defer observability.RecordSessionEnd()

	s.loadPreferences(ctx)
	if s.startupNotice != "" {
		s.push(ServerEvent{Type: ServerEventNotice, Text: s.startupNotice})
	}

	go s.writeLoop(ctx)
	s.readLoop(ctx)
}

// push queues an outbound event, dropping it if the session is gone.
func (s *Session) push(ev ServerEvent) {
	select {
	case s.outbound <- ev:
	case <-s.done:
	}
}

// send is the synchronous variant used by the playback path so audio and
// word events keep their relative order.
func (s *Session) send(ev ServerEvent) error {
	select {
	case s.outbound <- ev:
		return nil
	case <-s.done:
		return errors.New("session closed")
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Session) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case ev := <-s.outbound:
			data, err := EncodeServerEvent(ev)
			if err != nil {
				s.logger.Error().Err(err).Msg("Failed to encode server event")
				continue
			}
			s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Warn().Err(err).Msg("WebSocket write failed, closing session")
				s.close()
				return
			}
		}
	}
}

func (s *Session) readLoop(ctx context.Context) {
	defer s.close()

	for {
		select {
		case <-s.done:
			return
		default:
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn().Err(err).Msg("WebSocket read failed")
			}
			return
		}

		ev, err := DecodeClientEvent(data)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Dropping malformed client event")
			continue
		}
		s.dispatch(ctx, ev)
	}
}

func (s *Session) dispatch(ctx context.Context, ev ClientEvent) {
	switch ev.Type {
	case ClientEventHello:
		s.setProfile(ev.UserName, ev.UserContext)
		s.startTurn(ctx, func(turnCtx context.Context) { s.runWelcome(turnCtx) })
	case ClientEventUserInput:
		text := ev.Text
		if text == "" {
			return
		}
		s.startTurn(ctx, func(turnCtx context.Context) { s.runTurn(turnCtx, text) })
	case ClientEventSetPreferences:
		s.applyPreferences(ctx, ev.Preferences)
	case ClientEventCancel:
		// Stopping capture never cancels in-flight work; there is nothing to
		// do beyond acknowledging that no new turn will start from it.
		s.logger.Debug().Msg("Cancel received")
	default:
		s.logger.Warn().Str("type", ev.Type).Msg("Unknown client event type")
	}
}

// startTurn runs fn on its own goroutine unless a turn is already in flight,
// in which case the input is suppressed.
func (s *Session) startTurn(ctx context.Context, fn func(context.Context)) {
	s.turnMu.Lock()
	if s.inTurn {
		s.turnMu.Unlock()
		s.logger.Debug().Msg("Turn already in flight, suppressing new input")
		return
	}
	s.inTurn = true
	s.turnMu.Unlock()

	go func() {
		defer func() {
			s.turnMu.Lock()
			s.inTurn = false
			s.turnMu.Unlock()
		}()
		fn(ctx)
	}()
}

// runTurn executes one conversation turn: completion strictly before synthesis.
func (s *Session) runTurn(ctx context.Context, userText string) {
	s.conversation.Append(chat.RoleUser, userText)
	history := s.conversation.History()
	// The new user turn is passed separately; history carries what came before.
	history = history[:len(history)-1]

	if err := s.machine.Transition(chat.StateThinking); err != nil {
		s.logger.Warn().Err(err).Msg("State transition rejected")
	}

	userName, userContext := s.profile()
	instruction := llm.SystemInstruction(s.assistantName, userName, userContext)

	start := time.Now()
	reply, err := s.completer.Complete(ctx, history, userText, instruction)
	observability.ObserveTurnStage("completion", time.Since(start).Seconds())

	if err != nil && errors.Is(err, llm.ErrMalformedUpstreamResponse) {
		// Degraded but non-fatal: speak the canned reply instead.
		reply, err = llm.FallbackReply, nil
	}
	if err != nil {
		s.failTurn(ctx, err)
		return
	}

	msg := s.conversation.Append(chat.RoleAssistant, reply)
	s.push(ServerEvent{Type: ServerEventReply, Text: reply, MessageID: msg.ID})

	s.machine.Transition(chat.StateSpeaking)
	s.speak(ctx, reply, false)
	s.machine.Transition(chat.StateIdle)
}

// runWelcome speaks a personalized greeting at session start.
func (s *Session) runWelcome(ctx context.Context) {
	s.machine.Transition(chat.StateThinking)
	userName, userContext := s.profile()
	welcome := s.completer.GenerateWelcome(ctx, s.assistantName, userName, userContext)

	msg := s.conversation.Append(chat.RoleAssistant, welcome)
	s.push(ServerEvent{Type: ServerEventWelcome, Text: welcome, MessageID: msg.ID})

	s.machine.Transition(chat.StateSpeaking)
	s.speak(ctx, welcome, false)
	s.machine.Transition(chat.StateIdle)
}

// failTurn enters the error state, speaks an apology through the synthesis
// pipeline (which itself degrades to the fallback engine), and recovers.
// Silence is never an acceptable failure mode.
func (s *Session) failTurn(ctx context.Context, cause error) {
	s.logger.Error().Err(cause).Msg("Conversation turn failed")
	observability.RecordTurnError(errorKind(cause))
	s.machine.Transition(chat.StateErrorAPI)

	apology := apologyGeneric
	if errors.Is(cause, apiclient.ErrAllCredentialsFailed) {
		apology = apologyAllBusy
	}
	s.push(ServerEvent{Type: ServerEventError, Text: apology})

	s.machine.Transition(chat.StateSpeaking)
	s.speak(ctx, apology, true)
	s.machine.Transition(chat.StateIdle)
}

func (s *Session) speak(ctx context.Context, text string, static bool) {
	start := time.Now()
	err := s.synth.Synthesize(ctx, text, tts.Options{
		Voice:  s.currentVoice(),
		Static: static,
		Events: tts.Events{
			OnWord: func(word string, index int) {
				i := index
				s.push(ServerEvent{Type: ServerEventWord, Word: word, WordIndex: &i})
			},
		},
	})
	observability.ObserveTurnStage("synthesis", time.Since(start).Seconds())
	if err != nil {
		s.logger.Error().Err(err).Msg("Synthesis failed with no fallback available")
		s.push(ServerEvent{Type: ServerEventNotice, Text: "Speech output is temporarily unavailable."})
	}
}

// Notify surfaces a non-blocking user notification, used by the synthesis
// fallback and credential-switch observers.
func (s *Session) Notify(message string) {
	s.push(ServerEvent{Type: ServerEventNotice, Text: message})
}

// Player returns the playback sink that ships audio and word events to this
// session's browser.
func (s *Session) Player() tts.Player {
	return &sessionPlayer{send: s.send}
}

func (s *Session) loadPreferences(ctx context.Context) {
	if s.prefs == nil {
		return
	}
	prefs, err := s.prefs.Load(ctx, store.DefaultPreferences(s.defaultVoice))
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to load preferences")
		return
	}
	s.setVoice(prefs.Voice)
}

func (s *Session) applyPreferences(ctx context.Context, prefs *store.Preferences) {
	if prefs == nil {
		return
	}
	s.setVoice(prefs.Voice)
	if s.prefs == nil {
		return
	}
	if err := s.prefs.Save(ctx, *prefs); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to persist preferences")
	}
}

func (s *Session) setProfile(userName, userContext string) {
	s.profileMu.Lock()
	s.userName = userName
	s.userContext = userContext
	s.profileMu.Unlock()
}

func (s *Session) profile() (userName, userContext string) {
	s.profileMu.Lock()
	defer s.profileMu.Unlock()
	return s.userName, s.userContext
}

func (s *Session) setVoice(voice string) {
	s.profileMu.Lock()
	s.voice = voice
	s.profileMu.Unlock()
}

func (s *Session) currentVoice() string {
	s.profileMu.Lock()
	defer s.profileMu.Unlock()
	return s.voice
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, apiclient.ErrAllCredentialsFailed):
		return "all_credentials_failed"
	case errors.Is(err, llm.ErrMalformedUpstreamResponse):
		return "malformed_response"
	default:
		return "other"
	}
}
