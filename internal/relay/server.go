package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hira-ai/hira/internal/observe"
	"github.com/hira-ai/hira/internal/transcript"
	"github.com/hira-ai/hira/internal/wakeword"
	"github.com/hira-ai/hira/pkg/audio"
	"github.com/hira-ai/hira/pkg/provider/realtime"
)

// defaultWriteTimeout bounds a single write to the client connection so a
// stalled client cannot wedge the session run loop.
const defaultWriteTimeout = 5 * time.Second

// ServerOption is a functional option for configuring a [Server].
type ServerOption func(*Server)

// WithSessionConfig sets the upstream session configuration applied to every
// connection. The server always appends the retrieval tool declaration and
// disables upstream auto-response, regardless of cfg.
func WithSessionConfig(cfg realtime.SessionConfig) ServerOption {
	return func(s *Server) { s.sessionCfg = cfg }
}

// WithServerGate sets the wake-word gate shared by all sessions. Gates are
// immutable after construction and safe for concurrent use.
func WithServerGate(g *wakeword.Gate) ServerOption {
	return func(s *Server) { s.gate = g }
}

// WithServerRetriever sets the knowledge retrieval bridge shared by all
// sessions.
func WithServerRetriever(r Retriever) ServerOption {
	return func(s *Server) { s.retriever = r }
}

// WithBufferSize sets the per-session transcript capacity.
func WithBufferSize(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.bufferSize = n
		}
	}
}

// WithServerContextSize sets how many transcript entries retrieval receives
// as meeting context.
func WithServerContextSize(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.contextSize = n
		}
	}
}

// WithServerClientFormat declares the PCM16 format clients send.
func WithServerClientFormat(f audio.Format) ServerOption {
	return func(s *Server) { s.clientFormat = f }
}

// WithServerMetrics sets the metrics sink shared by all sessions.
func WithServerMetrics(m *observe.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithServerLogger sets the server logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// Server accepts client WebSocket connections and runs one relay [Session]
// per connection. Each accepted connection gets its own upstream session and
// transcript buffer; nothing mutable is shared between sessions.
type Server struct {
	provider realtime.Provider

	gate         *wakeword.Gate
	retriever    Retriever
	bufferSize   int
	contextSize  int
	clientFormat audio.Format
	metrics      *observe.Metrics
	log          *slog.Logger

	mu         sync.Mutex
	sessionCfg realtime.SessionConfig
	sessions   map[string]*Session

	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
}

// NewServer creates a relay server over the given upstream provider.
func NewServer(provider realtime.Provider, opts ...ServerOption) *Server {
	s := &Server{
		provider:     provider,
		bufferSize:   transcript.DefaultCapacity,
		contextSize:  transcript.DefaultContextSize,
		clientFormat: audio.Format{SampleRate: audio.UpstreamSampleRate, Channels: 1},
		sessions:     make(map[string]*Session),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.gate == nil {
		s.gate = wakeword.NewGate()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// upstreamConfig returns the per-connection upstream session configuration:
// the configured voice and instructions, the retrieval tool, input
// transcription, and relay-controlled response creation.
func (s *Server) upstreamConfig() realtime.SessionConfig {
	s.mu.Lock()
	cfg := s.sessionCfg
	s.mu.Unlock()
	cfg.Tools = append([]realtime.Tool{ToolDefinition()}, cfg.Tools...)
	cfg.DisableAutoResponse = true
	if cfg.InputTranscriptionModel == "" {
		cfg.InputTranscriptionModel = "whisper-1"
	}
	return cfg
}

// SetInstructions replaces the upstream system prompt. New sessions connect
// with the new prompt; live sessions receive it via a session update,
// effective for their next turn.
func (s *Server) SetInstructions(instructions string) {
	s.mu.Lock()
	s.sessionCfg.Instructions = instructions
	live := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		live = append(live, sess)
	}
	s.mu.Unlock()

	for _, sess := range live {
		if err := sess.UpdateInstructions(instructions); err != nil {
			s.log.Warn("instructions update failed", "session", sess.id, "err", err)
		}
	}
}

func (s *Server) addSession(id string, sess *Session) {
	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()
}

func (s *Server) removeSession(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// ServeHTTP upgrades the request to a WebSocket, connects the upstream
// session, and runs the relay session until either side disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.done:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("websocket accept failed", "err", err)
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	id := uuid.NewString()
	log := s.log.With("session", id, "remote", r.RemoteAddr)

	s.metrics.ActiveSessions.Add(ctx, 1)
	defer s.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)

	upstream, err := s.provider.Connect(ctx, s.upstreamConfig())
	if err != nil {
		log.Error("upstream connect failed", "err", err)
		s.metrics.RecordUpstreamError(ctx, "connect")
		sink := &wsSink{ctx: ctx, conn: conn, timeout: defaultWriteTimeout}
		_ = sink.SendEvent(ClientEvent{Type: "state", State: StateError.String()})
		conn.Close(websocket.StatusInternalError, "upstream unavailable")
		return
	}

	sink := &wsSink{ctx: ctx, conn: conn, timeout: defaultWriteTimeout}
	sess := NewSession(id, upstream, sink,
		WithGate(s.gate),
		WithRetriever(s.retriever),
		WithBuffer(transcript.NewBuffer(s.bufferSize)),
		WithContextSize(s.contextSize),
		WithClientFormat(s.clientFormat),
		WithMetrics(s.metrics),
		WithLogger(s.log),
	)

	s.addSession(id, sess)
	defer s.removeSession(id)

	log.Info("session started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return sess.Run(gctx)
	})
	g.Go(func() error {
		defer cancel()
		return s.readPump(gctx, conn, sess)
	})

	err = g.Wait()
	switch {
	case err == nil || errors.Is(err, context.Canceled):
		conn.Close(websocket.StatusNormalClosure, "session ended")
		log.Info("session ended")
	default:
		conn.Close(websocket.StatusInternalError, "session error")
		log.Error("session failed", "err", err)
	}
}

// contextMessage is the one text frame clients may send: an out-of-band
// transcript line from the surrounding meeting, e.g. what a meeting bot
// hears outside the wake-word exchange.
type contextMessage struct {
	Type string `json:"type"`
	Role string `json:"role"`
	Text string `json:"text"`
}

// readPump forwards inbound client frames for the lifetime of the
// connection: binary frames carry PCM16 audio, text frames carry meeting
// context lines. It returns nil on a clean client close.
func (s *Server) readPump(ctx context.Context, conn *websocket.Conn, sess *Session) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway ||
				errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("relay: client read: %w", err)
		}
		if typ == websocket.MessageText {
			var msg contextMessage
			if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "context" {
				s.log.Warn("unrecognised client message", "err", err)
				continue
			}
			if err := sess.HandleClientContext(msg.Role, msg.Text); err != nil {
				s.log.Warn("client context dropped", "err", err)
			}
			continue
		}
		if typ != websocket.MessageBinary {
			continue
		}
		if err := sess.HandleClientAudio(ctx, data); err != nil {
			s.log.Warn("client audio dropped", "err", err)
		}
	}
}

// Shutdown stops accepting new connections and waits for active sessions to
// finish, up to the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.done) })

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("relay: shutdown: %w", ctx.Err())
	}
}

// wsSink adapts a client WebSocket connection to the [Sink] interface. Writes
// are serialised and bounded by a per-write timeout.
type wsSink struct {
	ctx     context.Context
	conn    *websocket.Conn
	timeout time.Duration

	mu sync.Mutex
}

func (w *wsSink) SendAudio(pcm []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	ctx, cancel := context.WithTimeout(w.ctx, w.timeout)
	defer cancel()
	return w.conn.Write(ctx, websocket.MessageBinary, pcm)
}

func (w *wsSink) SendEvent(ev ClientEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("relay: encode client event: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	ctx, cancel := context.WithTimeout(w.ctx, w.timeout)
	defer cancel()
	return w.conn.Write(ctx, websocket.MessageText, data)
}
