package relay

// ClientEvent is an out-of-band JSON message sent to the client alongside the
// binary audio stream.
type ClientEvent struct {
	// Type is "state", "transcript" or "error".
	Type string `json:"type"`

	// State carries the session state for "state" events.
	State string `json:"state,omitempty"`

	// Role is "user" or "assistant" for "transcript" events.
	Role string `json:"role,omitempty"`

	// Text carries the transcript text for "transcript" events.
	Text string `json:"text,omitempty"`
}

// Sink is the session's handle on the client connection. The relay server
// backs it with a WebSocket; tests use an in-memory recorder.
//
// Both methods are called from the session run loop and must not block
// indefinitely.
type Sink interface {
	// SendAudio forwards one chunk of synthesised reply audio to the client
	// as a binary frame.
	SendAudio(pcm []byte) error

	// SendEvent forwards an out-of-band JSON event to the client.
	SendEvent(ev ClientEvent) error
}
