package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/vango-go/vai-journal/pkg/core"
	"github.com/vango-go/vai-journal/pkg/core/live/protocol"
)

type fakeLiveSession struct {
	incoming chan *genai.LiveServerMessage
	failWith chan error
	closed   chan struct{}
	once     sync.Once

	// stalled, if set, makes SendRealtimeInput block until Close.
	stalled chan struct{}

	mu    sync.Mutex
	audio []genai.LiveRealtimeInput
	tools []genai.LiveToolResponseInput
}

func newFakeLiveSession() *fakeLiveSession {
	return &fakeLiveSession{
		incoming: make(chan *genai.LiveServerMessage, 8),
		failWith: make(chan error, 1),
		closed:   make(chan struct{}),
	}
}

func (f *fakeLiveSession) SendRealtimeInput(input genai.LiveRealtimeInput) error {
	if f.stalled != nil {
		close(f.stalled)
		<-f.closed
		return errors.New("use of closed network connection")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, input)
	return nil
}

func (f *fakeLiveSession) SendToolResponse(input genai.LiveToolResponseInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tools = append(f.tools, input)
	return nil
}

func (f *fakeLiveSession) Receive() (*genai.LiveServerMessage, error) {
	select {
	case msg := <-f.incoming:
		return msg, nil
	case err := <-f.failWith:
		return nil, err
	case <-f.closed:
		return nil, errors.New("use of closed network connection")
	}
}

func (f *fakeLiveSession) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func TestTranslate_Order(t *testing.T) {
	msg := &genai.LiveServerMessage{
		ServerContent: &genai.LiveServerContent{
			Interrupted:         true,
			TurnComplete:        true,
			InputTranscription:  &genai.Transcription{Text: "hi"},
			OutputTranscription: &genai.Transcription{Text: "hello"},
			ModelTurn: &genai.Content{Parts: []*genai.Part{
				{InlineData: &genai.Blob{MIMEType: "audio/pcm;rate=24000", Data: []byte{1, 0}}},
				{Text: "ignored"},
			}},
		},
		ToolCall: &genai.LiveServerToolCall{FunctionCalls: []*genai.FunctionCall{
			{ID: "c1", Name: protocol.ToolFindEntries, Args: map[string]any{"query": "coffee"}},
		}},
	}

	events := translate(msg)
	want := []string{"interrupted", "input_transcription", "output_transcription", "audio", "turn_complete", "tool_calls"}
	if len(events) != len(want) {
		t.Fatalf("events=%d, want %d", len(events), len(want))
	}
	for i, e := range events {
		if protocol.EventType(e) != want[i] {
			t.Fatalf("event[%d]=%s, want %s", i, protocol.EventType(e), want[i])
		}
	}
	if a := events[3].(protocol.Audio); a.SampleRate != 24000 {
		t.Fatalf("audio rate=%d", a.SampleRate)
	}
	if calls := events[5].(protocol.ToolCalls); calls.Calls[0].Args["query"] != "coffee" {
		t.Fatalf("calls=%+v", calls)
	}

	if events := translate(&genai.LiveServerMessage{SetupComplete: &genai.LiveServerSetupComplete{}}); len(events) != 1 {
		t.Fatalf("setup events=%d, want 1", len(events))
	}
	if events := translate(nil); len(events) != 0 {
		t.Fatalf("nil message produced events")
	}
}

func TestLiveConnectConfig(t *testing.T) {
	cfg := testConnectConfig()
	cfg.Voice = "Puck"
	cfg.SystemInstruction = "be brief"

	out := liveConnectConfig(cfg)
	if len(out.ResponseModalities) != 1 || out.ResponseModalities[0] != genai.ModalityAudio {
		t.Fatalf("modalities=%v", out.ResponseModalities)
	}
	if out.SpeechConfig == nil || out.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName != "Puck" {
		t.Fatalf("speech config missing voice")
	}
	if out.SystemInstruction == nil || out.SystemInstruction.Parts[0].Text != "be brief" {
		t.Fatalf("system instruction missing")
	}
	if out.InputAudioTranscription == nil || out.OutputAudioTranscription != nil {
		t.Fatalf("transcription config mismatch")
	}
	decls := out.Tools[0].FunctionDeclarations
	if len(decls) != 2 || decls[1].Name != protocol.ToolUpdateJournalEntry {
		t.Fatalf("declarations=%+v", decls)
	}
	field := decls[1].Parameters.Properties["field"]
	if field.Type != genai.TypeString || len(field.Enum) != 2 {
		t.Fatalf("field schema=%+v", field)
	}
	if decls[1].Parameters.Properties["row"].Type != genai.TypeInteger {
		t.Fatalf("row schema type=%v", decls[1].Parameters.Properties["row"].Type)
	}
}

func TestGenAIConn_SendsAndEvents(t *testing.T) {
	fake := newFakeLiveSession()
	d := &GenAIDialer{connect: func(ctx context.Context, model string, cfg *genai.LiveConnectConfig) (liveSession, error) {
		if model != "gemini-live-2.5-flash-preview" {
			t.Errorf("model=%q", model)
		}
		return fake, nil
	}}
	conn, err := d.Dial(context.Background(), testConnectConfig())
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer conn.Close()

	if _, ok := nextEvent(t, conn.Events()).(protocol.Open); !ok {
		t.Fatalf("expected Open on connect")
	}
	fake.incoming <- &genai.LiveServerMessage{SetupComplete: &genai.LiveServerSetupComplete{}}
	fake.incoming <- &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{TurnComplete: true}}
	if _, ok := nextEvent(t, conn.Events()).(protocol.TurnComplete); !ok {
		t.Fatalf("setupComplete must not produce a second Open")
	}

	if err := conn.SendAudio([]byte{1, 0, 2, 0}); err != nil {
		t.Fatalf("SendAudio() error: %v", err)
	}
	if err := conn.SendToolResponse(protocol.ToolResult{ID: "c1", Name: protocol.ToolUpdateJournalEntry, Err: "unknown field"}); err != nil {
		t.Fatalf("SendToolResponse() error: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.audio) != 1 || fake.audio[0].Audio.MIMEType != "audio/pcm;rate=16000" {
		t.Fatalf("audio=%+v", fake.audio)
	}
	resp := fake.tools[0].FunctionResponses[0]
	if resp.ID != "c1" || resp.Response["error"] != "unknown field" {
		t.Fatalf("tool response=%+v", resp)
	}
}

func TestGenAIConn_ReceiveErrors(t *testing.T) {
	fake := newFakeLiveSession()
	conn := newGenAIConn(fake, 16000, nil)
	defer conn.Close()

	_ = nextEvent(t, conn.Events())
	fake.failWith <- errors.New("connection reset by peer")
	ev, ok := nextEvent(t, conn.Events()).(protocol.Error)
	if !ok || !core.IsType(ev.Err, core.ErrTransport) {
		t.Fatalf("expected transport Error event, got %+v", ev)
	}

	fake = newFakeLiveSession()
	conn2 := newGenAIConn(fake, 16000, nil)
	defer conn2.Close()
	_ = nextEvent(t, conn2.Events())
	fake.failWith <- &websocket.CloseError{Code: websocket.CloseNormalClosure, Text: "done"}
	if c, ok := nextEvent(t, conn2.Events()).(protocol.Close); !ok || c.Reason != "done" {
		t.Fatalf("expected Close{done}, got %+v", c)
	}
}

func TestGenAIConn_LocalCloseIsSilent(t *testing.T) {
	fake := newFakeLiveSession()
	conn := newGenAIConn(fake, 16000, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = conn.Close()
		_ = conn.Close()
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Close() hung")
	}
	for e := range conn.Events() {
		if _, ok := e.(protocol.Open); !ok {
			t.Fatalf("unexpected event after local close: %T", e)
		}
	}
	if err := conn.SendAudio([]byte{1, 0}); !errors.Is(err, ErrClosed) {
		t.Fatalf("SendAudio after Close err=%v", err)
	}
}

func TestGenAIConn_CloseDoesNotWaitForStalledSend(t *testing.T) {
	fake := newFakeLiveSession()
	fake.stalled = make(chan struct{})
	conn := newGenAIConn(fake, 16000, nil)

	sendErr := make(chan error, 1)
	go func() { sendErr <- conn.SendAudio([]byte{1, 0}) }()
	select {
	case <-fake.stalled:
	case <-time.After(2 * time.Second):
		t.Fatalf("send never reached the session")
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		_ = conn.Close()
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("Close() blocked behind a stalled send")
	}

	select {
	case err := <-sendErr:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("stalled SendAudio err=%v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stalled send never returned")
	}
}
