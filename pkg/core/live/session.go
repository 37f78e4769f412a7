package live

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/vango-go/vai-journal/pkg/core"
	"github.com/vango-go/vai-journal/pkg/core/live/audio"
	"github.com/vango-go/vai-journal/pkg/core/live/protocol"
	"github.com/vango-go/vai-journal/pkg/core/live/tools"
	"github.com/vango-go/vai-journal/pkg/core/live/transport"
)

// TokenProvider supplies the Google access token the journal needs. A
// missing token must be reported as a core precondition error.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// OutputOpener opens a playback output for one session.
type OutputOpener interface {
	Open() (audio.Output, error)
}

// Deps are the collaborators a Manager drives.
type Deps struct {
	// Token, if set, is checked before anything else is acquired.
	Token      TokenProvider
	Microphone audio.Microphone
	Dialer     transport.Dialer
	Speaker    OutputOpener
	Journal    tools.Backend
	Logger     *slog.Logger
}

// errSuperseded reports that Stop ran while Start was still acquiring.
var errSuperseded = errors.New("live: session stopped during start")

// Manager runs at most one live session at a time and exposes its state
// to the UI.
type Manager struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	notifier notifier

	mu         sync.Mutex
	state      SessionState
	sess       *session
	transcript []TranscriptEntry
	volume     float64
	lastErr    error
}

// session bundles everything one Start acquires. Fields are written under
// Manager.mu while the session is current and read by teardown after it
// has been detached.
type session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc

	cancelConnect context.CancelFunc

	source     audio.Source
	output     audio.Output
	scheduler  *audio.Scheduler
	recorder   *audio.Recorder
	conn       transport.Conn
	dispatcher *tools.Dispatcher

	stopPump context.CancelFunc
	pumpDone chan struct{}

	outstanding int

	opened   chan struct{}
	openOnce sync.Once

	ended   chan struct{}
	endOnce sync.Once
	endErr  error

	teardownOnce sync.Once
}

func (s *session) markOpened() {
	s.openOnce.Do(func() { close(s.opened) })
}

func (s *session) end(err error) {
	s.endOnce.Do(func() {
		s.endErr = err
		close(s.ended)
	})
}

// NewManager creates an idle Manager.
func NewManager(cfg Config, deps Deps) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, core.NewInvalidRequestError(err.Error())
	}
	switch {
	case deps.Microphone == nil:
		return nil, core.NewInvalidRequestError("microphone must not be nil")
	case deps.Dialer == nil:
		return nil, core.NewInvalidRequestError("dialer must not be nil")
	case deps.Speaker == nil:
		return nil, core.NewInvalidRequestError("speaker must not be nil")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:    cfg.withDefaults(),
		deps:   deps,
		logger: logger,
		state:  StateIdle,
	}, nil
}

// State returns the current session state.
func (m *Manager) State() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transcript returns a copy of the current transcript.
func (m *Manager) Transcript() []TranscriptEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TranscriptEntry(nil), m.transcript...)
}

// InputVolume returns the most recent microphone level.
func (m *Manager) InputVolume() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.volume
}

// LastError returns the banner text for the last fatal error, or "".
func (m *Manager) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return core.UserMessage(m.lastErr)
}

// Err returns the last fatal error itself.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Snapshot returns all observable state at once.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := Snapshot{
		State:       m.state,
		Transcript:  append([]TranscriptEntry(nil), m.transcript...),
		InputVolume: m.volume,
		LastError:   core.UserMessage(m.lastErr),
	}
	if m.sess != nil {
		snap.SessionID = m.sess.id
	}
	return snap
}

// Subscribe returns a channel that receives a signal after state,
// transcript, volume or error changes. Signals coalesce; read the current
// values with Snapshot. The returned func unsubscribes and closes the
// channel.
func (m *Manager) Subscribe() (<-chan struct{}, func()) {
	return m.notifier.subscribe()
}

// Start opens a session and returns once audio is streaming. It is a
// no-op while a session is connecting or running. ctx bounds the startup
// only; the session runs until Stop or until the server ends it.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state.Active() {
		state := m.state
		m.mu.Unlock()
		m.logger.Debug("live: start ignored", "state", state.String())
		return nil
	}
	sctx, cancel := context.WithCancel(context.Background())
	cctx, cancelConnect := context.WithCancel(ctx)
	sess := &session{
		id:            "live_" + uuid.NewString(),
		ctx:           sctx,
		cancel:        cancel,
		cancelConnect: cancelConnect,
		opened:        make(chan struct{}),
		ended:         make(chan struct{}),
	}
	m.sess = sess
	m.transcript = nil
	m.lastErr = nil
	m.volume = 0
	m.state = StateConnecting
	m.mu.Unlock()
	m.notifier.notify()
	defer cancelConnect()

	m.logger.Info("live: session starting", "session_id", sess.id, "model", m.cfg.Model)

	if err := m.connect(cctx, sess); err != nil {
		if errors.Is(err, errSuperseded) || !m.attach(sess, func() {}) {
			// Stop won the race; its teardown released what was acquired.
			return nil
		}
		m.finish(sess, err)
		return err
	}

	select {
	case <-sess.opened:
		return nil
	case <-sess.ended:
		return sess.endErr
	case <-ctx.Done():
		err := core.NewTransportError("live session did not open", ctx.Err())
		m.finish(sess, err)
		return err
	}
}

// Stop ends the current session, if any, and leaves the Manager IDLE. It
// is safe to call at any time and any number of times.
func (m *Manager) Stop() {
	m.mu.Lock()
	sess := m.sess
	if sess == nil {
		changed := m.state != StateIdle
		m.state = StateIdle
		m.mu.Unlock()
		if changed {
			m.notifier.notify()
		}
		return
	}
	m.mu.Unlock()
	m.finish(sess, nil)
}

// connect acquires credentials, microphone, output and transport in that
// order, attaching each to sess as soon as it is held.
func (m *Manager) connect(ctx context.Context, sess *session) error {
	if m.deps.Token != nil {
		if _, err := m.deps.Token.AccessToken(ctx); err != nil {
			if core.TypeOf(err) == "" {
				err = &core.Error{Type: core.ErrPrecondition, Message: "sign in to Google before starting a voice session", Cause: err}
			}
			return err
		}
	}

	src, err := m.deps.Microphone.Open(ctx, m.cfg.FrameSize)
	if err != nil {
		if core.TypeOf(err) == "" {
			err = core.NewPermissionError("open microphone", err)
		}
		return err
	}
	if !m.attach(sess, func() { sess.source = src }) {
		_ = src.Close()
		return errSuperseded
	}

	out, err := m.deps.Speaker.Open()
	if err != nil {
		if core.TypeOf(err) == "" {
			err = core.NewAudioError("open speaker", err)
		}
		return err
	}
	if !m.attach(sess, func() {
		sess.output = out
		sess.scheduler = audio.NewScheduler(out, m.logger)
		if m.cfg.RecordDir != "" {
			sess.recorder = audio.NewRecorder(m.cfg.RecordDir, sess.id, m.cfg.InputSampleRate, audio.OutputSampleRate)
		}
	}) {
		_ = out.Close()
		return errSuperseded
	}

	conn, err := m.deps.Dialer.Dial(ctx, m.cfg.ConnectConfig())
	if err != nil {
		if core.TypeOf(err) == "" {
			err = core.NewTransportError("connect to live model", err)
		}
		return err
	}
	if !m.attach(sess, func() {
		sess.conn = conn
		sess.dispatcher = tools.NewDispatcher(m.deps.Journal, func(line string) {
			m.addTranscript(sess, SourceSystem, line)
		}, tools.WithLogger(m.logger))
	}) {
		_ = conn.Close()
		return errSuperseded
	}

	go m.run(sess)
	return nil
}

// attach runs fn under the lock if sess is still the current session.
func (m *Manager) attach(sess *session, fn func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != sess {
		return false
	}
	fn()
	return true
}

// run is the session's single event consumer.
func (m *Manager) run(sess *session) {
	for event := range sess.conn.Events() {
		switch e := event.(type) {
		case protocol.Open:
			m.onOpen(sess)
		case protocol.InputTranscription:
			m.addTranscript(sess, SourceUser, e.Text)
		case protocol.OutputTranscription:
			m.addTranscript(sess, SourceAI, e.Text)
		case protocol.Audio:
			m.onAudio(sess, e)
		case protocol.Interrupted:
			n := sess.scheduler.Interrupt()
			m.logger.Debug("live: playback interrupted", "session_id", sess.id, "flushed", n)
		case protocol.TurnComplete:
			m.logger.Debug("live: turn complete", "session_id", sess.id)
		case protocol.ToolCalls:
			m.onToolCalls(sess, e.Calls)
		case protocol.ToolCancellation:
			m.logger.Info("live: tool calls cancelled", "session_id", sess.id, "ids", e.IDs)
		case protocol.GoAway:
			m.logger.Info("live: server will close the session", "session_id", sess.id, "time_left", e.TimeLeft)
		case protocol.Close:
			m.logger.Info("live: server closed the session", "session_id", sess.id, "reason", e.Reason)
			m.finish(sess, nil)
			return
		case protocol.Error:
			err := e.Err
			if err == nil {
				err = core.NewTransportError("live connection failed", nil)
			}
			m.finish(sess, err)
			return
		default:
			m.logger.Warn("live: unhandled event", "session_id", sess.id, "type", protocol.EventType(event))
		}
	}
	m.finish(sess, nil)
}

func (m *Manager) onOpen(sess *session) {
	pumpCtx, stopPump := context.WithCancel(sess.ctx)
	pumpDone := make(chan struct{})
	capture := &audio.Capture{
		TargetRate: m.cfg.InputSampleRate,
		OnVolume:   func(v float64) { m.setVolume(sess, v) },
		Logger:     m.logger,
	}

	var src audio.Source
	var conn transport.Conn
	var pumping bool
	if !m.attach(sess, func() {
		// A repeated Open must not start a second pump on the same source.
		if pumping = sess.stopPump != nil; pumping {
			return
		}
		src, conn = sess.source, sess.conn
		if sess.recorder != nil {
			capture.OnFrame = sess.recorder.AddInput
		}
		sess.stopPump = stopPump
		sess.pumpDone = pumpDone
		if m.state == StateConnecting {
			m.state = StateListening
		}
	}) || pumping {
		stopPump()
		return
	}

	go func() {
		defer close(pumpDone)
		err := capture.Run(pumpCtx, src, conn.SendAudio)
		if err == nil || errors.Is(err, transport.ErrClosed) {
			return
		}
		if core.TypeOf(err) == "" {
			err = core.NewAudioError("microphone capture failed", err)
		}
		// finish waits for this goroutine, so it cannot run here.
		go m.finish(sess, err)
	}()

	m.logger.Info("live: session listening", "session_id", sess.id, "device_rate", src.SampleRate())
	m.notifier.notify()
	sess.markOpened()
}

func (m *Manager) onAudio(sess *session, e protocol.Audio) {
	if sess.recorder != nil {
		sess.recorder.AddOutput(e.Data, e.SampleRate)
	}
	start, err := sess.scheduler.Enqueue(e.Data, e.SampleRate)
	if err != nil {
		m.logger.Warn("live: skipping audio chunk", "session_id", sess.id, "bytes", len(e.Data), "error", err)
		return
	}
	m.logger.Debug("live: audio chunk scheduled", "session_id", sess.id, "bytes", len(e.Data), "start", start, "energy", audio.CalculateRMSEnergy(e.Data))
}

func (m *Manager) onToolCalls(sess *session, calls []protocol.ToolCall) {
	if len(calls) == 0 {
		return
	}
	if !m.attach(sess, func() {
		sess.outstanding++
		if m.state == StateListening {
			m.state = StateProcessing
		}
	}) {
		return
	}
	m.notifier.notify()

	go func() {
		results := sess.dispatcher.Dispatch(sess.ctx, calls)
		if err := sess.conn.SendToolResponse(results...); err != nil && !errors.Is(err, transport.ErrClosed) {
			m.logger.Warn("live: send tool response failed", "session_id", sess.id, "error", err)
		}
		if m.attach(sess, func() {
			sess.outstanding--
			if sess.outstanding == 0 && m.state == StateProcessing {
				m.state = StateListening
			}
		}) {
			m.notifier.notify()
		}
	}()
}

func (m *Manager) addTranscript(sess *session, src Source, text string) {
	if !m.attach(sess, func() { m.transcript = appendTranscript(m.transcript, src, text) }) {
		return
	}
	m.notifier.notify()
}

func (m *Manager) setVolume(sess *session, v float64) {
	if !m.attach(sess, func() { m.volume = v }) {
		return
	}
	m.notifier.notify()
}

// finish detaches sess, tears it down, then settles the state: IDLE for a
// clean end, ERROR when cause is non-nil. Only the first call for a
// session has any effect.
func (m *Manager) finish(sess *session, cause error) {
	m.mu.Lock()
	if m.sess != sess {
		m.mu.Unlock()
		return
	}
	m.sess = nil
	m.mu.Unlock()

	m.teardown(sess)

	m.mu.Lock()
	m.volume = 0
	if cause != nil {
		m.state = StateError
		m.lastErr = cause
	} else {
		m.state = StateIdle
	}
	m.mu.Unlock()

	if cause != nil {
		m.logger.Error("live: session failed", "session_id", sess.id, "error", cause)
	} else {
		m.logger.Info("live: session ended", "session_id", sess.id)
	}
	sess.end(cause)
	m.notifier.notify()
}

// teardown releases everything sess holds, in order: transport,
// microphone, capture pump, pending playback, output, recorder. Each step
// tolerates the resource never having been acquired.
func (m *Manager) teardown(sess *session) {
	sess.teardownOnce.Do(func() {
		if sess.cancelConnect != nil {
			sess.cancelConnect()
		}
		sess.cancel()

		if sess.conn != nil {
			_ = sess.conn.Close()
		}
		if sess.source != nil {
			if err := sess.source.Close(); err != nil {
				m.logger.Warn("live: close microphone", "session_id", sess.id, "error", err)
			}
		}
		if sess.stopPump != nil {
			sess.stopPump()
			<-sess.pumpDone
		}
		if sess.scheduler != nil {
			sess.scheduler.Close()
		}
		if sess.output != nil {
			if err := sess.output.Close(); err != nil {
				m.logger.Warn("live: close speaker", "session_id", sess.id, "error", err)
			}
		}
		if sess.recorder != nil {
			files, err := sess.recorder.Close()
			if err != nil {
				m.logger.Warn("live: write recording", "session_id", sess.id, "error", err)
			} else if len(files) > 0 {
				m.logger.Info("live: recording saved", "session_id", sess.id, "files", files)
			}
		}
	})
}
