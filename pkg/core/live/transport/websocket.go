package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-journal/pkg/core"
	"github.com/vango-go/vai-journal/pkg/core/live/protocol"
)

// DefaultEndpoint is the public BidiGenerateContent websocket.
const DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

const (
	defaultConnectTimeout = 15 * time.Second
	defaultWriteTimeout   = 5 * time.Second
	defaultPingInterval   = 20 * time.Second

	eventBuffer     = 256
	audioQueueDepth = 256
	toolQueueDepth  = 16
)

// WebSocketDialer speaks the raw BidiGenerateContent JSON protocol.
type WebSocketDialer struct {
	Endpoint string
	APIKey   string
	Header   http.Header

	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration

	Logger *slog.Logger
}

// Dial performs the websocket handshake and sends the setup frame. The
// returned Conn accepts sends immediately; they are held back until the
// server acknowledges setup.
func (d *WebSocketDialer) Dial(ctx context.Context, cfg protocol.ConnectConfig) (Conn, error) {
	if d == nil {
		return nil, core.NewInvalidRequestError("dialer must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, core.NewInvalidRequestError(err.Error())
	}
	setup, err := json.Marshal(protocol.NewClientSetup(cfg))
	if err != nil {
		return nil, fmt.Errorf("encode setup: %w", err)
	}

	wsURL, err := d.url()
	if err != nil {
		return nil, err
	}

	dialer := d.wsDialer()
	dialCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, dialer.HandshakeTimeout)
		defer cancel()
	}

	ws, resp, err := dialer.DialContext(dialCtx, wsURL, d.Header)
	if err != nil {
		if resp != nil {
			return nil, wrap("dial", wsURL, fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err))
		}
		return nil, wrap("dial", wsURL, err)
	}

	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &wsConn{
		ws:           ws,
		url:          redactURL(wsURL),
		rate:         cfg.InputSampleRate,
		logger:       logger,
		writeTimeout: durationOr(d.WriteTimeout, defaultWriteTimeout),
		pingInterval: durationOr(d.PingInterval, defaultPingInterval),
		setup:        setup,
		priority:     make(chan []byte, toolQueueDepth),
		normal:       make(chan []byte, audioQueueDepth),
		events:       make(chan protocol.Event, eventBuffer),
		opened:       make(chan struct{}),
		closing:      make(chan struct{}),
		readDone:     make(chan struct{}),
		writeDone:    make(chan struct{}),
	}
	go c.writeLoop()
	go c.readLoop()
	return c, nil
}

func (d *WebSocketDialer) wsDialer() *websocket.Dialer {
	return &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: durationOr(d.ConnectTimeout, defaultConnectTimeout),
	}
}

func (d *WebSocketDialer) url() (string, error) {
	endpoint := d.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", core.NewInvalidRequestErrorWithParam("invalid live endpoint", "endpoint")
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", core.NewInvalidRequestErrorWithParam("live endpoint must be a ws or wss URL", "endpoint")
	}
	if d.APIKey != "" {
		q := u.Query()
		q.Set("key", d.APIKey)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

type wsConn struct {
	ws     *websocket.Conn
	url    string
	rate   int
	logger *slog.Logger

	writeTimeout time.Duration
	pingInterval time.Duration

	setup    []byte
	priority chan []byte
	normal   chan []byte
	events   chan protocol.Event

	opened    chan struct{}
	openOnce  sync.Once
	closing   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	readDone  chan struct{}
	writeDone chan struct{}

	errMu    sync.Mutex
	writeErr error
}

func (c *wsConn) Events() <-chan protocol.Event {
	return c.events
}

func (c *wsConn) SendAudio(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	frame, err := json.Marshal(protocol.NewClientAudio(pcm, c.rate))
	if err != nil {
		return fmt.Errorf("encode audio: %w", err)
	}
	return c.enqueue(c.normal, frame)
}

func (c *wsConn) SendToolResponse(results ...protocol.ToolResult) error {
	if len(results) == 0 {
		return nil
	}
	frame, err := json.Marshal(protocol.NewClientToolResponse(results...))
	if err != nil {
		return fmt.Errorf("encode tool response: %w", err)
	}
	return c.enqueue(c.priority, frame)
}

func (c *wsConn) enqueue(ch chan []byte, frame []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	select {
	case ch <- frame:
		return nil
	case <-c.closing:
		return ErrClosed
	}
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.closing)
		<-c.writeDone
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(c.writeTimeout))
		_ = c.ws.Close()
	})
	<-c.readDone
	return nil
}

// writeLoop sends setup first, then waits for the server to acknowledge it
// before draining queued frames. Tool responses preempt audio.
func (c *wsConn) writeLoop() {
	defer close(c.writeDone)

	if err := c.writeFrame(c.setup); err != nil {
		c.failWrite(err)
		return
	}
	select {
	case <-c.opened:
	case <-c.closing:
		return
	}

	pingTicker := time.NewTicker(c.pingInterval)
	defer pingTicker.Stop()

	var pendingNormal []byte
	for {
		select {
		case <-c.closing:
			return
		default:
		}

		select {
		case frame := <-c.priority:
			if err := c.writeFrame(frame); err != nil {
				c.failWrite(err)
				return
			}
			continue
		default:
		}

		if pendingNormal != nil {
			if err := c.writeFrame(pendingNormal); err != nil {
				c.failWrite(err)
				return
			}
			pendingNormal = nil
			continue
		}

		select {
		case <-c.closing:
			return
		case <-pingTicker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(c.writeTimeout)); err != nil {
				c.failWrite(err)
				return
			}
		case frame := <-c.priority:
			if err := c.writeFrame(frame); err != nil {
				c.failWrite(err)
				return
			}
		case frame := <-c.normal:
			pendingNormal = frame
		}
	}
}

func (c *wsConn) writeFrame(frame []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

// failWrite records the first write error and closes the socket so the
// read loop reports it.
func (c *wsConn) failWrite(err error) {
	c.errMu.Lock()
	if c.writeErr == nil {
		c.writeErr = err
	}
	c.errMu.Unlock()
	_ = c.ws.Close()
}

func (c *wsConn) lastWriteErr() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.writeErr
}

func (c *wsConn) readLoop() {
	defer close(c.readDone)
	defer close(c.events)

	for {
		// The server sends JSON in both text and binary frames.
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.readFailed(err)
			return
		}
		events, err := protocol.DecodeServerMessage(data)
		if err != nil {
			c.logger.Warn("live: dropping undecodable frame", "error", err, "bytes", len(data))
			continue
		}
		for _, event := range events {
			switch e := event.(type) {
			case protocol.Open:
				first := false
				c.openOnce.Do(func() {
					close(c.opened)
					first = true
				})
				if !first {
					c.logger.Debug("live: ignoring repeated setupComplete")
					continue
				}
			case protocol.GoAway:
				c.logger.Info("live: server going away", "time_left", e.TimeLeft)
			}
			if !c.emit(event) {
				return
			}
		}
	}
}

func (c *wsConn) readFailed(err error) {
	if c.closed.Load() {
		return
	}
	if werr := c.lastWriteErr(); werr != nil {
		c.emit(protocol.Error{Err: wrap("write", c.url, werr)})
		return
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway {
			c.emit(protocol.Close{Reason: ce.Text})
			return
		}
		c.emit(protocol.Error{Err: wrap("read", c.url, fmt.Errorf("closed by server (code %d): %s", ce.Code, ce.Text))})
		return
	}
	c.emit(protocol.Error{Err: wrap("read", c.url, err)})
}

// emit blocks until the consumer takes the event or the connection is
// closed locally. Events are never dropped while the session is live.
func (c *wsConn) emit(event protocol.Event) bool {
	select {
	case c.events <- event:
		return true
	case <-c.closing:
		return false
	}
}

func durationOr(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
