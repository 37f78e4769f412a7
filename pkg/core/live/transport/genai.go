package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/vango-go/vai-journal/pkg/core"
	"github.com/vango-go/vai-journal/pkg/core/live/protocol"
)

// liveSession is the part of *genai.Session the connection uses.
type liveSession interface {
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	SendToolResponse(input genai.LiveToolResponseInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

type connectFunc func(ctx context.Context, model string, cfg *genai.LiveConnectConfig) (liveSession, error)

// GenAIDialer opens sessions through the Gemini Live API client.
type GenAIDialer struct {
	logger  *slog.Logger
	connect connectFunc
}

// NewGenAIDialer creates a Gemini API client authenticated with apiKey.
func NewGenAIDialer(ctx context.Context, apiKey string, logger *slog.Logger) (*GenAIDialer, error) {
	if apiKey == "" {
		return nil, core.NewPreconditionError("a Gemini API key is required for the live session")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, core.NewTransportError("create genai client", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GenAIDialer{
		logger: logger,
		connect: func(ctx context.Context, model string, cfg *genai.LiveConnectConfig) (liveSession, error) {
			session, err := client.Live.Connect(ctx, model, cfg)
			if err != nil {
				return nil, err
			}
			return session, nil
		},
	}, nil
}

func (d *GenAIDialer) Dial(ctx context.Context, cfg protocol.ConnectConfig) (Conn, error) {
	if d == nil || d.connect == nil {
		return nil, core.NewInvalidRequestError("dialer is not initialized")
	}
	if err := cfg.Validate(); err != nil {
		return nil, core.NewInvalidRequestError(err.Error())
	}
	session, err := d.connect(ctx, cfg.Model, liveConnectConfig(cfg))
	if err != nil {
		return nil, wrap("connect", "", err)
	}
	return newGenAIConn(session, cfg.InputSampleRate, d.logger), nil
}

func liveConnectConfig(cfg protocol.ConnectConfig) *genai.LiveConnectConfig {
	out := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
	}
	if cfg.Voice != "" {
		out.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.SystemInstruction != "" {
		out.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: cfg.SystemInstruction}}}
	}
	if len(cfg.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(cfg.Tools))
		for _, t := range cfg.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  genaiSchema(t.Parameters),
			})
		}
		out.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	if cfg.InputTranscription {
		out.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if cfg.OutputTranscription {
		out.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	return out
}

func genaiSchema(s *protocol.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        genai.Type(s.Type),
		Description: s.Description,
		Required:    s.Required,
		Enum:        s.Enum,
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, p := range s.Properties {
			out.Properties[name] = genaiSchema(p)
		}
	}
	return out
}

type genaiConn struct {
	session liveSession
	mime    string
	logger  *slog.Logger

	events chan protocol.Event

	writeMu   sync.Mutex
	closing   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
	done      chan struct{}
}

func newGenAIConn(session liveSession, rate int, logger *slog.Logger) *genaiConn {
	if logger == nil {
		logger = slog.Default()
	}
	c := &genaiConn{
		session: session,
		mime:    protocol.AudioMIMEType(rate),
		logger:  logger,
		events:  make(chan protocol.Event, eventBuffer),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	// Connect has already sent setup, and the server applies frames in
	// order, so the channel is usable now. A later setupComplete is dropped.
	c.events <- protocol.Open{}
	go c.readLoop()
	return c
}

func (c *genaiConn) Events() <-chan protocol.Event {
	return c.events
}

func (c *genaiConn) SendAudio(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	return c.send("send audio", func() error {
		return c.session.SendRealtimeInput(genai.LiveRealtimeInput{
			Audio: &genai.Blob{MIMEType: c.mime, Data: pcm},
		})
	})
}

func (c *genaiConn) SendToolResponse(results ...protocol.ToolResult) error {
	if len(results) == 0 {
		return nil
	}
	responses := make([]*genai.FunctionResponse, 0, len(results))
	for _, r := range results {
		responses = append(responses, &genai.FunctionResponse{
			ID:       r.ID,
			Name:     r.Name,
			Response: r.Payload(),
		})
	}
	return c.send("send tool response", func() error {
		return c.session.SendToolResponse(genai.LiveToolResponseInput{FunctionResponses: responses})
	})
}

// send serializes writes; the underlying websocket allows one writer.
func (c *genaiConn) send(op string, fn func() error) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed.Load() {
		return ErrClosed
	}
	if err := fn(); err != nil {
		if c.closed.Load() {
			return ErrClosed
		}
		return wrap(op, "", err)
	}
	return nil
}

// Close does not wait for an in-flight send: closing the session is what
// unblocks a stalled write.
func (c *genaiConn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.closing)
		_ = c.session.Close()
	})
	<-c.done
	return nil
}

func (c *genaiConn) readLoop() {
	defer close(c.done)
	defer close(c.events)

	for {
		msg, err := c.session.Receive()
		if err != nil {
			if c.closed.Load() {
				return
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) && (ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway) {
				c.emit(protocol.Close{Reason: ce.Text})
				return
			}
			c.emit(protocol.Error{Err: wrap("receive", "", err)})
			return
		}
		for _, event := range translate(msg) {
			switch e := event.(type) {
			case protocol.Open:
				continue
			case protocol.GoAway:
				c.logger.Info("live: server going away", "time_left", e.TimeLeft)
			}
			if !c.emit(event) {
				return
			}
		}
	}
}

func (c *genaiConn) emit(event protocol.Event) bool {
	select {
	case c.events <- event:
		return true
	case <-c.closing:
		return false
	}
}

// translate maps a genai server message onto the same event order the
// websocket decoder produces.
func translate(msg *genai.LiveServerMessage) []protocol.Event {
	if msg == nil {
		return nil
	}
	wire := protocol.ServerMessage{}
	if msg.SetupComplete != nil {
		wire.SetupComplete = &struct{}{}
	}
	if sc := msg.ServerContent; sc != nil {
		content := &protocol.ServerContent{
			Interrupted:  sc.Interrupted,
			TurnComplete: sc.TurnComplete,
		}
		if sc.InputTranscription != nil {
			content.InputTranscription = &protocol.Transcription{Text: sc.InputTranscription.Text}
		}
		if sc.OutputTranscription != nil {
			content.OutputTranscription = &protocol.Transcription{Text: sc.OutputTranscription.Text}
		}
		if sc.ModelTurn != nil {
			turn := &protocol.Content{Role: sc.ModelTurn.Role}
			for _, p := range sc.ModelTurn.Parts {
				if p == nil || p.InlineData == nil {
					continue
				}
				turn.Parts = append(turn.Parts, protocol.Part{
					InlineData: &protocol.Blob{MIMEType: p.InlineData.MIMEType, Data: p.InlineData.Data},
				})
			}
			content.ModelTurn = turn
		}
		wire.ServerContent = content
	}
	if tc := msg.ToolCall; tc != nil {
		call := &protocol.ServerToolCall{}
		for _, fc := range tc.FunctionCalls {
			if fc == nil {
				continue
			}
			call.FunctionCalls = append(call.FunctionCalls, protocol.FunctionCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
		wire.ToolCall = call
	}
	if cancel := msg.ToolCallCancellation; cancel != nil {
		wire.ToolCallCancellation = &protocol.ServerToolCallCancellation{IDs: cancel.IDs}
	}
	if msg.GoAway != nil {
		wire.GoAway = &protocol.ServerGoAway{TimeLeft: fmt.Sprint(msg.GoAway.TimeLeft)}
	}
	return wire.Events()
}
