// Package transport carries a live session to and from the speech model.
// Two implementations share one contract: the genai Live client and a raw
// BidiGenerateContent websocket client.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/vango-go/vai-journal/pkg/core"
	"github.com/vango-go/vai-journal/pkg/core/live/protocol"
)

// ErrClosed is returned by sends on a closed connection.
var ErrClosed = errors.New("transport: connection closed")

// Dialer opens live connections.
type Dialer interface {
	Dial(ctx context.Context, cfg protocol.ConnectConfig) (Conn, error)
}

// Conn is one live connection. Sends are ordered per kind and never wait
// for the network. Events delivers a protocol.Open once the channel is
// ready, then server events in arrival order; it is closed after a Close
// or Error event or after Close is called.
type Conn interface {
	SendAudio(pcm []byte) error
	SendToolResponse(results ...protocol.ToolResult) error
	Events() <-chan protocol.Event
	// Close terminates the channel. It is safe to call more than once.
	Close() error
}

const (
	KindGenAI     = "genai"
	KindWebSocket = "websocket"
)

// NewDialer returns the dialer for kind. An empty kind selects genai.
func NewDialer(ctx context.Context, kind, apiKey, endpoint string, logger *slog.Logger) (Dialer, error) {
	switch kind {
	case "", KindGenAI:
		return NewGenAIDialer(ctx, apiKey, logger)
	case KindWebSocket:
		if apiKey == "" {
			return nil, core.NewPreconditionError("a Gemini API key is required for the live session")
		}
		return &WebSocketDialer{Endpoint: endpoint, APIKey: apiKey, Logger: logger}, nil
	default:
		return nil, core.NewInvalidRequestErrorWithParam(fmt.Sprintf("unknown transport %q", kind), "transport")
	}
}

// TransportError describes a failed dial, read or write.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	if e == nil {
		return ""
	}
	if e.URL == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// wrap turns a transport failure into the core taxonomy.
func wrap(op, rawURL string, err error) error {
	return core.NewTransportError("live "+op+" failed", &TransportError{Op: op, URL: redactURL(rawURL), Err: err})
}

// redactURL drops query parameters, which may carry an API key.
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	u.RawQuery = ""
	return u.String()
}
