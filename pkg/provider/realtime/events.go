package realtime

// Event is one item in a session's ordered upstream event stream. The set of
// variants is closed: consumers switch on the concrete type and can rely on
// every session event being one of the types below.
type Event interface {
	isEvent()
}

// SpeechStarted signals that the upstream voice-activity detector heard the
// user start speaking. If a reply is being synthesised at this moment, the
// consumer should treat it as barge-in.
type SpeechStarted struct{}

// SpeechStopped signals that the upstream voice-activity detector heard the
// user stop speaking. A transcript for the finished turn usually follows.
type SpeechStopped struct{}

// InputTranscript carries the upstream's transcription of a completed user
// turn.
type InputTranscript struct {
	// Text is the recognised utterance.
	Text string
}

// ReplyStarted signals that the model began generating a reply.
type ReplyStarted struct {
	// ResponseID identifies the reply; subsequent AudioDelta, ReplyTextDelta
	// and ReplyDone events for this reply carry the same ID.
	ResponseID string
}

// AudioDelta carries one chunk of synthesised reply audio.
type AudioDelta struct {
	ResponseID string

	// PCM is raw little-endian PCM16 audio in the session's output format.
	PCM []byte
}

// ReplyTextDelta carries an incremental piece of the reply's text transcript.
type ReplyTextDelta struct {
	ResponseID string
	Text       string
}

// ReplyDone signals that a reply finished, completing or not.
type ReplyDone struct {
	ResponseID string

	// Text is the full text transcript of the reply, as accumulated from the
	// upstream's transcript deltas.
	Text string

	// Cancelled is true when the reply was aborted (CancelResponse or
	// upstream-side truncation) rather than played to completion.
	Cancelled bool
}

// ToolCall signals that the model requests a tool invocation. The consumer
// answers with Session.SubmitToolOutput using the same CallID.
type ToolCall struct {
	CallID    string
	Name      string
	Arguments string // JSON-encoded per the tool's parameter schema
}

// ProtocolError carries a non-fatal error event from the upstream. Fatal
// errors terminate the session instead and surface through Session.Err.
type ProtocolError struct {
	Code    string
	Message string
}

func (SpeechStarted) isEvent()   {}
func (SpeechStopped) isEvent()   {}
func (InputTranscript) isEvent() {}
func (ReplyStarted) isEvent()    {}
func (AudioDelta) isEvent()      {}
func (ReplyTextDelta) isEvent()  {}
func (ReplyDone) isEvent()       {}
func (ToolCall) isEvent()        {}
func (ProtocolError) isEvent()   {}
