// Package realtime defines the Provider interface for speech-to-speech voice
// backends.
//
// A realtime provider wraps a stateful voice AI service that accepts raw audio
// input and returns synthesised audio output over a single long-lived
// connection, such as the OpenAI Realtime API. The central abstraction is
// Session: audio goes in through SendAudio, and everything the upstream emits
// comes back out as a single ordered stream of Event values on Events().
//
// Event delivery is deliberately funnelled through one channel rather than one
// channel per concern: the relay consumes upstream activity at a single
// dispatch point, so event ordering is exactly the upstream's ordering and new
// event kinds extend the Event set instead of widening the Session interface.
//
// All implementations must be safe for concurrent use.
package realtime

import "context"

// Tool describes a function the model may invoke during a session. When the
// model decides to call a tool, the session emits a ToolCall event; the caller
// computes the result and submits it with SubmitToolOutput.
type Tool struct {
	// Name identifies the tool, e.g. "search_knowledge_base".
	Name string

	// Description tells the model when to use the tool.
	Description string

	// Parameters is the JSON Schema describing the tool's arguments.
	Parameters map[string]any
}

// SessionConfig is the initial configuration for a new session.
type SessionConfig struct {
	// Voice selects the synthesised output voice, e.g. "shimmer".
	Voice string

	// Instructions is the system-level prompt defining the assistant's
	// persona and behavioural constraints.
	Instructions string

	// Tools is the set of tool definitions offered to the model.
	Tools []Tool

	// InputTranscriptionModel, when non-empty, enables transcription of user
	// speech (e.g. "whisper-1"). Transcripts arrive as InputTranscript events.
	InputTranscriptionModel string

	// DisableAutoResponse turns off the upstream's automatic reply after each
	// detected turn. The caller then decides per turn whether to call
	// CreateResponse, which is how unaddressed speech stays unanswered.
	DisableAutoResponse bool
}

// Session is an open speech-to-speech session.
//
// The session is the hot path of the voice relay: every method must return
// quickly, and the caller must drain Events() promptly so the receive loop is
// never stalled. All methods are safe for concurrent use. Callers must call
// Close when done.
type Session interface {
	// SendAudio delivers a raw PCM16 audio chunk to the upstream input buffer.
	// Returns an error if the session is closed or the write fails.
	SendAudio(pcm []byte) error

	// Events returns the ordered stream of upstream events. The channel is
	// closed when the session ends; after it closes, Err reports whether the
	// session ended cleanly.
	Events() <-chan Event

	// Err returns the error that terminated the session, or nil if it ended
	// cleanly. Valid after the Events channel closes.
	Err() error

	// CreateResponse asks the model to generate a spoken reply to the
	// conversation so far. Used with DisableAutoResponse to answer only
	// turns the caller has decided to answer.
	CreateResponse() error

	// CancelResponse aborts the in-flight model reply, if any. The upstream
	// stops generating; already-emitted audio deltas are the caller's problem.
	CancelResponse() error

	// SubmitToolOutput returns a tool result for the given call and triggers
	// the model to continue with a spoken reply incorporating it.
	SubmitToolOutput(callID string, output string) error

	// UpdateInstructions replaces the system-level instructions mid-session.
	// Effective for the next model turn.
	UpdateInstructions(instructions string) error

	// InjectContext inserts a text message into the session's rolling
	// conversation without triggering a reply. role is "user", "assistant"
	// or "system"; unknown roles are coerced to "user".
	InjectContext(role string, content string) error

	// Close terminates the session and closes the Events channel.
	// Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any speech-to-speech backend.
type Provider interface {
	// Connect establishes a new session with the given configuration. The
	// returned Session is ready to accept audio immediately. The caller owns
	// the Session and must call Close.
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)
}
