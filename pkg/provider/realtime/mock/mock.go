// Package mock provides test doubles for the realtime package interfaces.
//
// Use Provider to verify Connect calls and hand out a controlled Session.
// Use Session to script upstream events through EventsCh and inspect which
// methods the relay invoked.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	s, _ := p.Connect(ctx, cfg)
//	sess.EventsCh <- realtime.SpeechStarted{}
package mock

import (
	"context"
	"sync"

	"github.com/hira-ai/hira/pkg/provider/realtime"
)

var _ realtime.Provider = (*Provider)(nil)
var _ realtime.Session = (*Session)(nil)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	Ctx context.Context
	Cfg realtime.SessionConfig
}

// Provider is a mock implementation of realtime.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by Connect. If nil, Connect returns a fresh
	// NewSession().
	Session realtime.Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg realtime.SessionConfig) (realtime.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// Calls returns a copy of all recorded Connect calls.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConnectCall, len(p.ConnectCalls))
	copy(out, p.ConnectCalls)
	return out
}

// ToolOutputCall records a single invocation of Session.SubmitToolOutput.
type ToolOutputCall struct {
	CallID string
	Output string
}

// InjectContextCall records a single invocation of Session.InjectContext.
type InjectContextCall struct {
	Role    string
	Content string
}

// Session is a scripted implementation of realtime.Session.
//
// Tests feed upstream events into EventsCh and close it (or call Close) to
// signal end-of-session. All recorded call slices are guarded by the internal
// mutex; use the accessor methods from concurrent tests.
type Session struct {
	// EventsCh is the channel returned by Events. Buffered so tests can
	// enqueue a script without a consumer running yet.
	EventsCh chan realtime.Event

	mu sync.Mutex

	// Errors returned by the corresponding methods, nil for success.
	SendAudioErr          error
	CreateResponseErr     error
	CancelResponseErr     error
	SubmitToolOutputErr   error
	UpdateInstructionsErr error
	InjectContextErr      error

	// ErrVal is returned by Err.
	ErrVal error

	sentAudio          [][]byte
	createResponses    int
	cancelResponses    int
	toolOutputs        []ToolOutputCall
	instructionUpdates []string
	injectedContext    []InjectContextCall
	closed             bool
	closeOnce          sync.Once
}

// NewSession returns a Session with a buffered EventsCh ready for scripting.
func NewSession() *Session {
	return &Session{EventsCh: make(chan realtime.Event, 128)}
}

// SendAudio records the chunk and returns SendAudioErr.
func (s *Session) SendAudio(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	s.sentAudio = append(s.sentAudio, cp)
	return s.SendAudioErr
}

// Events returns EventsCh.
func (s *Session) Events() <-chan realtime.Event { return s.EventsCh }

// Err returns ErrVal.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ErrVal
}

// CreateResponse records the call and returns CreateResponseErr.
func (s *Session) CreateResponse() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createResponses++
	return s.CreateResponseErr
}

// CancelResponse records the call and returns CancelResponseErr.
func (s *Session) CancelResponse() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelResponses++
	return s.CancelResponseErr
}

// SubmitToolOutput records the call and returns SubmitToolOutputErr.
func (s *Session) SubmitToolOutput(callID string, output string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolOutputs = append(s.toolOutputs, ToolOutputCall{CallID: callID, Output: output})
	return s.SubmitToolOutputErr
}

// UpdateInstructions records the call and returns UpdateInstructionsErr.
func (s *Session) UpdateInstructions(instructions string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instructionUpdates = append(s.instructionUpdates, instructions)
	return s.UpdateInstructionsErr
}

// InjectContext records the call and returns InjectContextErr.
func (s *Session) InjectContext(role string, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.injectedContext = append(s.injectedContext, InjectContextCall{Role: role, Content: content})
	return s.InjectContextErr
}

// Close marks the session closed and closes EventsCh. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.EventsCh) })
	return nil
}

// SentAudio returns a copy of all chunks passed to SendAudio.
func (s *Session) SentAudio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sentAudio))
	copy(out, s.sentAudio)
	return out
}

// CreateResponseCount returns how many times CreateResponse was called.
func (s *Session) CreateResponseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createResponses
}

// CancelResponseCount returns how many times CancelResponse was called.
func (s *Session) CancelResponseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelResponses
}

// ToolOutputs returns a copy of all recorded SubmitToolOutput calls.
func (s *Session) ToolOutputs() []ToolOutputCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ToolOutputCall, len(s.toolOutputs))
	copy(out, s.toolOutputs)
	return out
}

// InstructionUpdates returns a copy of all UpdateInstructions arguments.
func (s *Session) InstructionUpdates() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.instructionUpdates))
	copy(out, s.instructionUpdates)
	return out
}

// InjectedContext returns a copy of all recorded InjectContext calls.
func (s *Session) InjectedContext() []InjectContextCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]InjectContextCall, len(s.injectedContext))
	copy(out, s.injectedContext)
	return out
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
