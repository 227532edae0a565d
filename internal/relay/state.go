package relay

// State is the turn-processing state of a relay session. A session moves
// through the non-terminal states as the conversation progresses and ends in
// StateDisconnected or StateError.
type State int

const (
	// StateConnecting is the initial state while both the client connection
	// and the upstream session handshake are being established.
	StateConnecting State = iota

	// StateReady means the session is idle and waiting for the user to speak.
	StateReady

	// StateListening means the upstream voice-activity detector heard the
	// user start speaking.
	StateListening

	// StateThinking means the user's turn ended and the session is deciding
	// on (and possibly retrieving context for) a reply.
	StateThinking

	// StateSpeaking means reply audio is being streamed to the client.
	StateSpeaking

	// StateDisconnected is terminal: either endpoint closed the connection.
	StateDisconnected

	// StateError is terminal: an unrecoverable error tore the session down.
	StateError
)

// String returns the lowercase wire name of the state, as sent to clients in
// status events.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateListening:
		return "listening"
	case StateThinking:
		return "thinking"
	case StateSpeaking:
		return "speaking"
	case StateDisconnected:
		return "disconnected"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Terminal reports whether the state ends the session.
func (s State) Terminal() bool {
	return s == StateDisconnected || s == StateError
}
