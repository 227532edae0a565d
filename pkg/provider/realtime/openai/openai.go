// Package openai implements the realtime.Provider interface for OpenAI's
// Realtime API.
//
// It establishes a bidirectional WebSocket connection to the OpenAI Realtime
// endpoint and exchanges JSON events according to the Realtime API protocol.
// Audio travels as base64-encoded PCM16 chunks; incoming protocol events are
// translated into the closed realtime.Event set and delivered in arrival
// order on the session's Events channel.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/hira-ai/hira/pkg/provider/realtime"
)

var _ realtime.Provider = (*Provider)(nil)
var _ realtime.Session = (*session)(nil)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the OpenAI model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements realtime.Provider for OpenAI's Realtime API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new OpenAI Realtime Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect establishes a new OpenAI Realtime session. The returned Session is
// ready to accept audio immediately after the session.update message is sent.
func (p *Provider) Connect(ctx context.Context, cfg realtime.SessionConfig) (realtime.Session, error) {
	wsURL := fmt.Sprintf("%s?model=%s", p.baseURL, p.model)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai realtime: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:        conn,
		events:      make(chan realtime.Event, 128),
		replyTexts:  make(map[string]string),
		ctx:         sessCtx,
		cancel:      sessCancel,
	}

	if err := sess.sendSessionUpdate(cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai realtime: session update: %w", err)
	}

	go sess.receiveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Voice              string              `json:"voice,omitempty"`
	Instructions       string              `json:"instructions,omitempty"`
	Tools              []oaiTool           `json:"tools,omitempty"`
	InputAudioFormat   string              `json:"input_audio_format"`
	OutputAudioFormat  string              `json:"output_audio_format"`
	InputTranscription *transcriptionCfg   `json:"input_audio_transcription,omitempty"`
	TurnDetection      *turnDetectionCfg   `json:"turn_detection,omitempty"`
}

type transcriptionCfg struct {
	Model string `json:"model"`
}

type turnDetectionCfg struct {
	Type           string `json:"type"`
	CreateResponse *bool  `json:"create_response,omitempty"`
}

type oaiTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

type createConversationItemMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string             `json:"type"`
	Role    string             `json:"role,omitempty"`
	Content []conversationPart `json:"content,omitempty"`
	CallID  string             `json:"call_id,omitempty"`
	Output  string             `json:"output,omitempty"`
}

type conversationPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// serverErrorDetail represents the nested error object in an OpenAI Realtime
// error event: {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta
	Delta      string `json:"delta,omitempty"`
	ResponseID string `json:"response_id,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// response.function_call_arguments.done
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`

	// response.created / response.done
	Response *responseDetail `json:"response,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

type responseDetail struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn   *websocket.Conn
	events chan realtime.Event

	mu     sync.Mutex
	errVal error
	closed bool

	// replyTexts accumulates response.audio_transcript.delta text per response
	// until the matching response.done arrives.
	replyTexts map[string]string

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendSessionUpdate sends a session.update event carrying voice, instructions,
// tools, audio formats, transcription and turn-detection settings.
func (s *session) sendSessionUpdate(cfg realtime.SessionConfig) error {
	params := sessionParams{
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		Voice:             cfg.Voice,
		Instructions:      cfg.Instructions,
	}
	if len(cfg.Tools) > 0 {
		params.Tools = toOAITools(cfg.Tools)
	}
	if cfg.InputTranscriptionModel != "" {
		params.InputTranscription = &transcriptionCfg{Model: cfg.InputTranscriptionModel}
	}
	if cfg.DisableAutoResponse {
		off := false
		params.TurnDetection = &turnDetectionCfg{Type: "server_vad", CreateResponse: &off}
	}
	return s.writeJSON(sessionUpdateMessage{Type: "session.update", Session: params})
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai realtime: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and dispatches them. It owns the
// events channel: it closes it when it exits.
func (s *session) receiveLoop() {
	defer s.closeEvents()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.setErr(err)
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}

		s.handleServerEvent(&evt)
	}
}

func (s *session) handleServerEvent(evt *serverEvent) {
	switch evt.Type {
	case "input_audio_buffer.speech_started":
		s.emit(realtime.SpeechStarted{})

	case "input_audio_buffer.speech_stopped":
		s.emit(realtime.SpeechStopped{})

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return
		}
		s.emit(realtime.InputTranscript{Text: evt.Transcript})

	case "response.created":
		if evt.Response == nil {
			return
		}
		s.emit(realtime.ReplyStarted{ResponseID: evt.Response.ID})

	case "response.audio.delta":
		if evt.Delta == "" {
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(pcm) == 0 {
			return
		}
		s.emit(realtime.AudioDelta{ResponseID: evt.ResponseID, PCM: pcm})

	case "response.audio_transcript.delta":
		if evt.Delta == "" {
			return
		}
		s.mu.Lock()
		s.replyTexts[evt.ResponseID] += evt.Delta
		s.mu.Unlock()
		s.emit(realtime.ReplyTextDelta{ResponseID: evt.ResponseID, Text: evt.Delta})

	case "response.done":
		if evt.Response == nil {
			return
		}
		s.mu.Lock()
		text := s.replyTexts[evt.Response.ID]
		delete(s.replyTexts, evt.Response.ID)
		s.mu.Unlock()
		s.emit(realtime.ReplyDone{
			ResponseID: evt.Response.ID,
			Text:       text,
			Cancelled:  evt.Response.Status == "cancelled",
		})

	case "response.function_call_arguments.done":
		s.emit(realtime.ToolCall{
			CallID:    evt.CallID,
			Name:      evt.Name,
			Arguments: evt.Arguments,
		})

	case "error":
		code, msg := "", "unknown error"
		if evt.Error != nil {
			code = evt.Error.Code
			if evt.Error.Message != "" {
				msg = evt.Error.Message
			}
		}
		s.emit(realtime.ProtocolError{Code: code, Message: msg})
	}
}

// emit delivers an event unless the session is shutting down.
func (s *session) emit(evt realtime.Event) {
	select {
	case s.events <- evt:
	case <-s.ctx.Done():
	}
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *session) closeEvents() {
	s.closeOnce.Do(func() {
		close(s.events)
	})
}

// toOAITools converts realtime.Tool values to the OpenAI Realtime tool format.
func toOAITools(tools []realtime.Tool) []oaiTool {
	out := make([]oaiTool, len(tools))
	for i, t := range tools {
		out[i] = oaiTool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		}
	}
	return out
}

// ── Session methods ────────────────────────────────────────────────────────────

// SendAudio delivers a raw PCM16 audio chunk to the upstream input buffer.
func (s *session) SendAudio(pcm []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("openai realtime: session closed")
	}
	s.mu.Unlock()

	return s.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
}

// Events returns the ordered upstream event stream.
func (s *session) Events() <-chan realtime.Event { return s.events }

// Err returns the first non-nil error that terminated the session.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// CreateResponse asks the model to generate a reply to the conversation so far.
func (s *session) CreateResponse() error {
	return s.writeJSON(map[string]string{"type": "response.create"})
}

// CancelResponse sends a response.cancel event to abort the in-flight reply.
func (s *session) CancelResponse() error {
	return s.writeJSON(map[string]string{"type": "response.cancel"})
}

// SubmitToolOutput returns a tool result and triggers the next model response.
func (s *session) SubmitToolOutput(callID string, output string) error {
	if err := s.writeJSON(createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:   "function_call_output",
			CallID: callID,
			Output: output,
		},
	}); err != nil {
		return err
	}
	return s.writeJSON(map[string]string{"type": "response.create"})
}

// UpdateInstructions replaces the system instructions via a session.update event.
func (s *session) UpdateInstructions(instructions string) error {
	return s.writeJSON(sessionUpdateMessage{
		Type: "session.update",
		Session: sessionParams{
			Instructions:      instructions,
			InputAudioFormat:  "pcm16",
			OutputAudioFormat: "pcm16",
		},
	})
}

// InjectContext inserts a text message as a conversation.item.create event.
// Unknown roles are coerced to "user".
func (s *session) InjectContext(role string, content string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("openai realtime: session closed")
	}
	s.mu.Unlock()

	switch role {
	case "assistant", "system":
	default:
		role = "user"
	}

	// Assistant messages use the "text" part type, everything else "input_text".
	partType := "input_text"
	if role == "assistant" {
		partType = "text"
	}

	return s.writeJSON(createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type: "message",
			Role: role,
			Content: []conversationPart{
				{Type: partType, Text: content},
			},
		},
	})
}

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
