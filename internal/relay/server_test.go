package relay_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/hira-ai/hira/internal/relay"
	"github.com/hira-ai/hira/pkg/provider/realtime"
	"github.com/hira-ai/hira/pkg/provider/realtime/mock"
)

// wsURL converts an httptest server URL to a ws:// URL.
func wsURL(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// dial opens a client WebSocket to the relay server.
func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(t, srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

// clientMessage is one frame received by the test client.
type clientMessage struct {
	binary []byte
	event  relay.ClientEvent
	isText bool
}

// readMessages drains n frames from the client connection.
func readMessages(t *testing.T, conn *websocket.Conn, n int) []clientMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out []clientMessage
	for len(out) < n {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("client read after %d messages: %v", len(out), err)
		}
		msg := clientMessage{}
		if typ == websocket.MessageText {
			msg.isText = true
			if err := json.Unmarshal(data, &msg.event); err != nil {
				t.Fatalf("decode client event: %v", err)
			}
		} else {
			msg.binary = data
		}
		out = append(out, msg)
	}
	return out
}

func TestServer_FullTurnOverWebSocket(t *testing.T) {
	t.Parallel()
	upstream := mock.NewSession()
	provider := &mock.Provider{Session: upstream}
	server := relay.NewServer(provider)
	srv := httptest.NewServer(server)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close(websocket.StatusNormalClosure, "")

	upstream.EventsCh <- realtime.SpeechStarted{}
	upstream.EventsCh <- realtime.SpeechStopped{}
	upstream.EventsCh <- realtime.InputTranscript{Text: "Hey HiRA, who owns the migration task?"}
	upstream.EventsCh <- realtime.ReplyStarted{ResponseID: "r1"}
	upstream.EventsCh <- realtime.AudioDelta{ResponseID: "r1", PCM: []byte{7, 7, 7, 7}}
	upstream.EventsCh <- realtime.ReplyDone{ResponseID: "r1", Text: "Dana owns it."}

	// ready, listening, thinking, user transcript, speaking, audio,
	// assistant transcript, ready.
	msgs := readMessages(t, conn, 8)

	var states []string
	var audioFrames int
	var transcripts []relay.ClientEvent
	for _, m := range msgs {
		switch {
		case !m.isText:
			audioFrames++
		case m.event.Type == "state":
			states = append(states, m.event.State)
		case m.event.Type == "transcript":
			transcripts = append(transcripts, m.event)
		}
	}

	wantStates := []string{"ready", "listening", "thinking", "speaking", "ready"}
	if len(states) != len(wantStates) {
		t.Fatalf("states = %v, want %v", states, wantStates)
	}
	for i := range wantStates {
		if states[i] != wantStates[i] {
			t.Errorf("state[%d] = %q, want %q", i, states[i], wantStates[i])
		}
	}
	if audioFrames != 1 {
		t.Errorf("client received %d audio frames, want 1", audioFrames)
	}
	if len(transcripts) != 2 || transcripts[0].Role != "user" || transcripts[1].Role != "assistant" {
		t.Errorf("transcript events = %+v", transcripts)
	}
}

func TestServer_UpstreamSessionConfig(t *testing.T) {
	t.Parallel()
	upstream := mock.NewSession()
	provider := &mock.Provider{Session: upstream}
	server := relay.NewServer(provider, relay.WithSessionConfig(realtime.SessionConfig{
		Voice:        "shimmer",
		Instructions: "You are HiRA.",
	}))
	srv := httptest.NewServer(server)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close(websocket.StatusNormalClosure, "")

	waitFor(t, func() bool { return len(provider.Calls()) == 1 }, "upstream connected")

	cfg := provider.Calls()[0].Cfg
	if cfg.Voice != "shimmer" || cfg.Instructions != "You are HiRA." {
		t.Errorf("voice/instructions not passed through: %+v", cfg)
	}
	if !cfg.DisableAutoResponse {
		t.Error("relay must disable upstream auto-response")
	}
	if cfg.InputTranscriptionModel == "" {
		t.Error("input transcription must be enabled")
	}
	found := false
	for _, tool := range cfg.Tools {
		if tool.Name == relay.ToolName {
			found = true
		}
	}
	if !found {
		t.Errorf("retrieval tool not declared, tools = %+v", cfg.Tools)
	}
}

func TestServer_ForwardsClientAudioUpstream(t *testing.T) {
	t.Parallel()
	upstream := mock.NewSession()
	provider := &mock.Provider{Session: upstream}
	server := relay.NewServer(provider)
	srv := httptest.NewServer(server)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageBinary, []byte{1, 0, 2, 0}); err != nil {
		t.Fatalf("client write: %v", err)
	}

	waitFor(t, func() bool { return len(upstream.SentAudio()) == 1 }, "audio forwarded upstream")
	if got := upstream.SentAudio()[0]; len(got) != 4 {
		t.Errorf("forwarded chunk = %d bytes, want 4", len(got))
	}
}

func TestServer_UpstreamConnectFailure(t *testing.T) {
	t.Parallel()
	provider := &mock.Provider{ConnectErr: errors.New("401 unauthorized")}
	server := relay.NewServer(provider)
	srv := httptest.NewServer(server)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close(websocket.StatusNormalClosure, "")

	msgs := readMessages(t, conn, 1)
	if !msgs[0].isText || msgs[0].event.Type != "state" || msgs[0].event.State != "error" {
		t.Errorf("client should receive an error state event, got %+v", msgs[0])
	}
}

func TestServer_ClientCloseEndsSession(t *testing.T) {
	t.Parallel()
	upstream := mock.NewSession()
	provider := &mock.Provider{Session: upstream}
	server := relay.NewServer(provider)
	srv := httptest.NewServer(server)
	defer srv.Close()

	conn := dial(t, srv)
	readMessages(t, conn, 1) // initial ready state
	conn.Close(websocket.StatusNormalClosure, "done")

	waitFor(t, func() bool { return upstream.Closed() }, "upstream closed after client disconnect")
}

func TestServer_ShutdownRejectsNewConnections(t *testing.T) {
	t.Parallel()
	provider := &mock.Provider{}
	server := relay.NewServer(provider)
	srv := httptest.NewServer(server)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}
}

func TestServer_ShutdownWaitsForActiveSessions(t *testing.T) {
	t.Parallel()
	upstream := mock.NewSession()
	provider := &mock.Provider{Session: upstream}
	server := relay.NewServer(provider)
	srv := httptest.NewServer(server)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close(websocket.StatusNormalClosure, "")
	readMessages(t, conn, 1) // session established

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	// Shutdown cancelled the session context; the upstream must be closed.
	if !upstream.Closed() {
		t.Error("upstream session should be closed after shutdown")
	}
}

func TestServer_ContextTextFrameInjectsUpstream(t *testing.T) {
	t.Parallel()
	upstream := mock.NewSession()
	provider := &mock.Provider{Session: upstream}
	server := relay.NewServer(provider)
	srv := httptest.NewServer(server)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Wait for the initial ready state so the session is live.
	readMessages(t, conn, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText,
		[]byte(`{"type":"context","role":"assistant","text":"Minutes from the last call are shared."}`)); err != nil {
		t.Fatalf("write context frame: %v", err)
	}

	waitFor(t, func() bool { return len(upstream.InjectedContext()) == 1 }, "context injected upstream")
	injected := upstream.InjectedContext()[0]
	if injected.Role != "assistant" || injected.Content != "Minutes from the last call are shared." {
		t.Errorf("injected = %+v", injected)
	}

	// Unrecognised text frames are dropped without ending the session.
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"bogus"}`)); err != nil {
		t.Fatalf("write bogus frame: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageBinary, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("write audio frame: %v", err)
	}
	waitFor(t, func() bool { return len(upstream.SentAudio()) == 1 }, "audio still forwarded")
}

func TestServer_SetInstructionsReachesLiveAndNewSessions(t *testing.T) {
	t.Parallel()
	upstream := mock.NewSession()
	provider := &mock.Provider{Session: upstream}
	server := relay.NewServer(provider, relay.WithSessionConfig(realtime.SessionConfig{
		Instructions: "old prompt",
	}))
	srv := httptest.NewServer(server)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close(websocket.StatusNormalClosure, "")
	readMessages(t, conn, 1)

	server.SetInstructions("new prompt")

	got := upstream.InstructionUpdates()
	if len(got) != 1 || got[0] != "new prompt" {
		t.Fatalf("live session instruction updates = %v", got)
	}

	conn2 := dial(t, srv)
	defer conn2.Close(websocket.StatusNormalClosure, "")
	readMessages(t, conn2, 1)

	calls := provider.Calls()
	if len(calls) != 2 {
		t.Fatalf("connect calls = %d, want 2", len(calls))
	}
	if calls[1].Cfg.Instructions != "new prompt" {
		t.Errorf("new session instructions = %q, want %q", calls[1].Cfg.Instructions, "new prompt")
	}
}
