// Package relay implements the bidirectional session between a client audio
// connection and an upstream speech-to-speech session.
//
// Each Session owns exactly one client connection and one upstream session.
// A single run-loop goroutine consumes the upstream event stream and applies
// all turn-state bookkeeping, so no event handler ever races another: a
// late audio delta for a cancelled reply is dropped at the same dispatch
// point that marked it cancelled. Inbound client audio flows through
// [Session.HandleClientAudio] on the server's read pump and never waits on a
// retrieval round trip.
//
// The session drives the turn cycle ready → listening → thinking → speaking
// and decides itself when the upstream generates a reply: turns that do not
// address the assistant by name produce no response at all.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hira-ai/hira/internal/observe"
	"github.com/hira-ai/hira/internal/retrieval"
	"github.com/hira-ai/hira/internal/transcript"
	"github.com/hira-ai/hira/internal/wakeword"
	"github.com/hira-ai/hira/pkg/audio"
	"github.com/hira-ai/hira/pkg/provider/realtime"
)

// ToolName is the single retrieval tool declared to the upstream model.
const ToolName = "search_knowledge_base"

// ToolDefinition is the upstream-facing declaration of the retrieval tool.
func ToolDefinition() realtime.Tool {
	return realtime.Tool{
		Name:        ToolName,
		Description: "Search the knowledge base for information relevant to the user's question. Use this whenever the user asks about facts, documents, policies or anything that may be on record.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query derived from the user's question.",
				},
			},
			"required": []string{"query"},
		},
	}
}

// errClientGone marks a failed write to the client connection. The session
// treats it as a disconnect, not an error state.
var errClientGone = errors.New("relay: client connection gone")

// Retriever is the session's view of the knowledge retrieval bridge.
type Retriever interface {
	Retrieve(ctx context.Context, query string) (retrieval.Result, error)
}

// toolResult carries a finished retrieval back into the run loop.
type toolResult struct {
	epoch   int
	callID  string
	meeting string
	result  retrieval.Result
	err     error
}

// Option is a functional option for configuring a [Session].
type Option func(*Session)

// WithGate sets the wake-word gate. The default is wakeword.NewGate().
func WithGate(g *wakeword.Gate) Option {
	return func(s *Session) { s.gate = g }
}

// WithRetriever sets the knowledge retrieval bridge. Without one, every tool
// call is answered with the retrieval fallback.
func WithRetriever(r Retriever) Option {
	return func(s *Session) { s.retriever = r }
}

// WithBuffer sets the transcript buffer. The default holds
// transcript.DefaultCapacity entries.
func WithBuffer(b *transcript.Buffer) Option {
	return func(s *Session) { s.buffer = b }
}

// WithContextSize sets how many recent transcript entries are handed to
// retrieval as meeting context. The default is transcript.DefaultContextSize.
func WithContextSize(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.contextSize = n
		}
	}
}

// WithClientFormat declares the PCM16 format of inbound client audio. The
// default assumes the client already sends the upstream format (24 kHz mono).
func WithClientFormat(f audio.Format) Option {
	return func(s *Session) { s.clientFormat = f }
}

// WithMetrics sets the metrics sink. The default is observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithLogger sets the session logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// Session is one active relay connection. Create it with [NewSession], drive
// it with [Session.Run], and feed it client audio with
// [Session.HandleClientAudio]. All other state changes are owned by the run
// loop.
type Session struct {
	id       string
	upstream realtime.Session
	sink     Sink

	gate      *wakeword.Gate
	retriever Retriever
	buffer    *transcript.Buffer
	metrics   *observe.Metrics
	log       *slog.Logger

	contextSize  int
	clientFormat audio.Format

	mu    sync.Mutex
	state State

	// Turn bookkeeping below is owned exclusively by the run loop.
	turnEpoch     int
	retrievalBusy bool
	currentReply  string
	cancelled     map[string]bool

	toolResults chan toolResult
}

// NewSession wires a relay session over an open upstream session and a client
// sink. The session takes ownership of upstream and closes it when Run
// returns.
func NewSession(id string, upstream realtime.Session, sink Sink, opts ...Option) *Session {
	s := &Session{
		id:           id,
		upstream:     upstream,
		sink:         sink,
		contextSize:  transcript.DefaultContextSize,
		clientFormat: audio.Format{SampleRate: audio.UpstreamSampleRate, Channels: 1},
		state:        StateConnecting,
		cancelled:    make(map[string]bool),
		toolResults:  make(chan toolResult, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.gate == nil {
		s.gate = wakeword.NewGate()
	}
	if s.buffer == nil {
		s.buffer = transcript.NewBuffer(transcript.DefaultCapacity)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("session", id)
	return s
}

// State returns the session's current state. Safe for concurrent use.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transcript returns the session's transcript buffer.
func (s *Session) Transcript() *transcript.Buffer {
	return s.buffer
}

// HandleClientAudio forwards one inbound client audio chunk to the upstream
// session, converting it to the upstream format first. It is called from the
// server's client read pump, concurrently with the run loop, and never waits
// on turn processing.
func (s *Session) HandleClientAudio(ctx context.Context, pcm []byte) error {
	converted := audio.ToUpstream(pcm, s.clientFormat)
	if converted == nil {
		return fmt.Errorf("relay: malformed client audio frame (%d bytes, %s)", len(pcm), s.clientFormat)
	}
	if err := s.upstream.SendAudio(converted); err != nil {
		return fmt.Errorf("relay: forward audio upstream: %w", err)
	}
	s.metrics.RecordAudioFrame(ctx, "upstream")
	return nil
}

// HandleClientContext records one out-of-band transcript line from the
// client, e.g. a meeting-bot feeding the ongoing meeting transcript. The line
// is injected into the upstream conversation without triggering a reply and
// becomes part of the retrieval meeting context. Roles other than "user" and
// "assistant" are coerced to "user". Called from the server's client read
// pump, concurrently with the run loop.
func (s *Session) HandleClientContext(role, text string) error {
	if text == "" {
		return nil
	}
	if role != "user" && role != "assistant" {
		role = "user"
	}
	if err := s.upstream.InjectContext(role, text); err != nil {
		return fmt.Errorf("relay: inject context upstream: %w", err)
	}
	s.buffer.Append(transcript.Entry{Speaker: role, Text: text})
	return nil
}

// UpdateInstructions replaces the upstream system prompt mid-session,
// effective for the next turn. Used when the configured instructions are
// hot-reloaded.
func (s *Session) UpdateInstructions(instructions string) error {
	if err := s.upstream.UpdateInstructions(instructions); err != nil {
		return fmt.Errorf("relay: update instructions: %w", err)
	}
	return nil
}

// Run executes the session's event loop until the upstream session ends, the
// client goes away, or ctx is cancelled. It always closes the upstream
// session before returning. The returned error is non-nil only for
// unrecoverable protocol failures; clean disconnects return nil.
func (s *Session) Run(ctx context.Context) error {
	start := time.Now()
	defer func() {
		_ = s.upstream.Close()
		s.metrics.SessionDuration.Record(context.WithoutCancel(ctx), time.Since(start).Seconds())
	}()

	s.setState(StateReady)

	for {
		select {
		case <-ctx.Done():
			s.setState(StateDisconnected)
			return nil

		case tr := <-s.toolResults:
			s.handleToolResult(ctx, tr)

		case ev, ok := <-s.upstream.Events():
			if !ok {
				if err := s.upstream.Err(); err != nil {
					s.setState(StateError)
					return fmt.Errorf("relay: upstream session failed: %w", err)
				}
				s.setState(StateDisconnected)
				return nil
			}
			if err := s.handleEvent(ctx, ev); err != nil {
				if errors.Is(err, errClientGone) {
					s.setState(StateDisconnected)
					return nil
				}
				s.setState(StateError)
				return err
			}
		}
	}
}

// handleEvent applies one upstream event to the session. It runs on the run
// loop goroutine only.
func (s *Session) handleEvent(ctx context.Context, ev realtime.Event) error {
	switch ev := ev.(type) {
	case realtime.SpeechStarted:
		s.onSpeechStarted(ctx)

	case realtime.SpeechStopped:
		if s.State() == StateListening {
			s.setState(StateThinking)
		}

	case realtime.InputTranscript:
		return s.onInputTranscript(ctx, ev.Text)

	case realtime.ToolCall:
		s.onToolCall(ctx, ev)

	case realtime.ReplyStarted:
		s.onReplyStarted(ev.ResponseID)

	case realtime.AudioDelta:
		if s.cancelled[ev.ResponseID] {
			return nil
		}
		if err := s.sink.SendAudio(ev.PCM); err != nil {
			return errClientGone
		}
		s.metrics.RecordAudioFrame(ctx, "client")

	case realtime.ReplyTextDelta:
		// Full reply text arrives with ReplyDone; deltas are not forwarded.

	case realtime.ReplyDone:
		return s.onReplyDone(ev)

	case realtime.ProtocolError:
		s.log.Warn("upstream protocol error", "code", ev.Code, "message", ev.Message)
		s.metrics.RecordUpstreamError(ctx, "protocol")
	}
	return nil
}

// onSpeechStarted handles the voice-activity start signal, including barge-in
// while a reply is being produced or retrieved.
func (s *Session) onSpeechStarted(ctx context.Context) {
	switch s.State() {
	case StateSpeaking, StateThinking:
		// Barge-in: abandon the turn in flight. Any pending retrieval result
		// and any further audio of the current reply must be discarded.
		s.turnEpoch++
		if s.currentReply != "" {
			s.cancelled[s.currentReply] = true
		}
		if err := s.upstream.CancelResponse(); err != nil {
			s.log.Warn("cancel response failed", "err", err)
		}
		s.metrics.BargeIns.Add(ctx, 1)
		s.log.Debug("barge-in", "cancelled_reply", s.currentReply)
		s.setState(StateListening)

	case StateReady:
		s.setState(StateListening)
	}
}

// onInputTranscript finalises a user turn: records it, runs the wake-word
// gate, and requests a reply only for addressed turns.
func (s *Session) onInputTranscript(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	if s.State() == StateListening {
		// Transcription completed before the speech-stop signal.
		s.setState(StateThinking)
	}

	s.buffer.Append(transcript.Entry{Speaker: "user", Text: text})
	if err := s.sink.SendEvent(ClientEvent{Type: "transcript", Role: "user", Text: text}); err != nil {
		return errClientGone
	}

	request, addressed := s.gate.Match(text)
	if !addressed {
		s.metrics.RecordWakeWord(ctx, "ignored")
		s.log.Debug("utterance not addressed to assistant", "text", text)
		s.setState(StateReady)
		return nil
	}

	s.metrics.RecordWakeWord(ctx, "addressed")
	s.log.Debug("addressed turn", "request", request)
	if err := s.upstream.CreateResponse(); err != nil {
		return fmt.Errorf("relay: create response: %w", err)
	}
	s.setState(StateThinking)
	return nil
}

// onToolCall starts a retrieval for the model's tool call without blocking
// the run loop. At most one retrieval is outstanding per session; an overlap
// is answered with the fallback immediately so the model is never left
// hanging.
func (s *Session) onToolCall(ctx context.Context, ev realtime.ToolCall) {
	if ev.Name != ToolName {
		s.log.Warn("unknown tool requested", "tool", ev.Name)
		s.submitFallback(ctx, ev.CallID, "unknown_tool")
		return
	}

	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(ev.Arguments), &args); err != nil || args.Query == "" {
		s.log.Warn("malformed tool arguments", "args", ev.Arguments, "err", err)
		s.submitFallback(ctx, ev.CallID, "bad_arguments")
		return
	}

	if s.retrievalBusy {
		s.log.Warn("retrieval already in flight, answering with fallback", "query", args.Query)
		s.submitFallback(ctx, ev.CallID, "busy")
		return
	}
	if s.retriever == nil {
		s.submitFallback(ctx, ev.CallID, "no_retriever")
		return
	}

	s.retrievalBusy = true
	epoch := s.turnEpoch
	meeting := s.buffer.Context(s.contextSize)
	query := args.Query
	callID := ev.CallID

	go func() {
		start := time.Now()
		result, err := s.retriever.Retrieve(ctx, query)
		s.metrics.RetrievalDuration.Record(ctx, time.Since(start).Seconds())

		select {
		case s.toolResults <- toolResult{epoch: epoch, callID: callID, meeting: meeting, result: result, err: err}:
		case <-ctx.Done():
		}
	}()
}

// handleToolResult submits a finished retrieval to the upstream, unless the
// triggering turn was cancelled by barge-in while the retrieval was pending.
func (s *Session) handleToolResult(ctx context.Context, tr toolResult) {
	s.retrievalBusy = false

	if tr.epoch != s.turnEpoch {
		s.log.Debug("discarding retrieval result after barge-in", "call_id", tr.callID)
		s.metrics.RecordToolCall(ctx, ToolName, "abandoned")
		return
	}

	status := "ok"
	if tr.err != nil {
		// The bridge already produced a fallback Result; the error is for
		// logging and metrics only.
		status = "fallback"
		s.log.Warn("retrieval failed, answering with fallback", "err", tr.err)
	}

	output, err := tr.result.ToolOutput(tr.meeting)
	if err != nil {
		s.log.Error("encode tool output", "err", err)
		output, _ = retrieval.FallbackResult().ToolOutput("")
		status = "fallback"
	}

	if err := s.upstream.SubmitToolOutput(tr.callID, output); err != nil {
		s.log.Warn("submit tool output failed", "err", err)
		status = "error"
	}
	s.metrics.RecordToolCall(ctx, ToolName, status)
}

// submitFallback answers a tool call with the no-information result.
func (s *Session) submitFallback(ctx context.Context, callID, status string) {
	output, _ := retrieval.FallbackResult().ToolOutput("")
	if err := s.upstream.SubmitToolOutput(callID, output); err != nil {
		s.log.Warn("submit fallback tool output failed", "err", err)
	}
	s.metrics.RecordToolCall(ctx, ToolName, status)
}

// onReplyStarted begins forwarding a reply, or cancels one that arrives
// after its turn was already abandoned.
func (s *Session) onReplyStarted(responseID string) {
	if s.State() != StateThinking {
		// A reply for a turn we no longer want (barge-in raced the upstream).
		s.cancelled[responseID] = true
		if err := s.upstream.CancelResponse(); err != nil {
			s.log.Warn("cancel stale response failed", "err", err)
		}
		return
	}
	s.currentReply = responseID
	s.setState(StateSpeaking)
}

// onReplyDone finishes a reply turn. Completed replies become an assistant
// transcript entry; cancelled replies leave no trace in the transcript.
func (s *Session) onReplyDone(ev realtime.ReplyDone) error {
	wasCancelled := ev.Cancelled || s.cancelled[ev.ResponseID]
	delete(s.cancelled, ev.ResponseID)
	if ev.ResponseID == s.currentReply {
		s.currentReply = ""
	}

	if wasCancelled {
		// Barge-in already moved the session to listening; an upstream-side
		// truncation while still speaking returns to ready.
		if s.State() == StateSpeaking {
			s.setState(StateReady)
		}
		return nil
	}

	if ev.Text != "" {
		s.buffer.Append(transcript.Entry{Speaker: "assistant", Text: ev.Text})
		if err := s.sink.SendEvent(ClientEvent{Type: "transcript", Role: "assistant", Text: ev.Text}); err != nil {
			return errClientGone
		}
	}
	s.setState(StateReady)
	return nil
}

// setState records the new state and pushes a status event to the client.
// Status delivery is best effort; a failed write surfaces on the next audio
// or transcript forward instead.
func (s *Session) setState(next State) {
	s.mu.Lock()
	if s.state == next {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = next
	s.mu.Unlock()

	s.log.Debug("state transition", "from", prev, "to", next)
	_ = s.sink.SendEvent(ClientEvent{Type: "state", State: next.String()})
}
