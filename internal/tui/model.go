// Package tui is the terminal front end for a live journal session: a mic
// button, an input level meter, the running transcript and an error banner.
package tui

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/vango-go/vai-journal/pkg/core/live"
)

// Session is the slice of *live.Manager the UI drives.
type Session interface {
	Start(ctx context.Context) error
	Stop()
	Snapshot() live.Snapshot
	Subscribe() (<-chan struct{}, func())
}

// volumeGain scales RMS levels, which rarely exceed 0.25 for speech, onto
// the meter.
const volumeGain = 4

type changedMsg struct{}

type startedMsg struct{ err error }

// Model is the bubbletea model for a live session.
type Model struct {
	ctx         context.Context
	session     Session
	changes     <-chan struct{}
	unsubscribe func()

	snap live.Snapshot

	width    int
	height   int
	ready    bool
	quitting bool

	viewport viewport.Model
	meter    progress.Model
}

// New subscribes to session changes; Close releases the subscription.
func New(ctx context.Context, session Session) Model {
	changes, unsubscribe := session.Subscribe()
	return Model{
		ctx:         ctx,
		session:     session,
		changes:     changes,
		unsubscribe: unsubscribe,
		snap:        session.Snapshot(),
		meter:       progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
	}
}

// Close ends the change subscription.
func (m Model) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

// Run shows the UI until the user quits or ctx is cancelled. The session is
// stopped on the way out.
func Run(ctx context.Context, session Session, opts ...tea.ProgramOption) error {
	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	model := New(ctx, session)
	defer model.Close()
	_, err := tea.NewProgram(model, opts...).Run()
	session.Stop()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m Model) Init() tea.Cmd {
	return m.waitForChange()
}

func (m Model) waitForChange() tea.Cmd {
	changes := m.changes
	return func() tea.Msg {
		if _, ok := <-changes; !ok {
			return nil
		}
		return changedMsg{}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		// title, button (3), meter, banner, help, transcript border
		vpHeight := max(msg.Height-10, 3)
		if !m.ready {
			m.viewport = viewport.New(msg.Width-2, vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width - 2
			m.viewport.Height = vpHeight
		}
		m.meter.Width = max(msg.Width-12, 10)
		m.refreshTranscript()
		return m, nil

	case changedMsg:
		m.snap = m.session.Snapshot()
		m.refreshTranscript()
		return m, m.waitForChange()

	case startedMsg:
		// Start failures are already reflected in the snapshot.
		m.snap = m.session.Snapshot()
		m.refreshTranscript()
		return m, nil
	}

	if m.ready {
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q", "esc":
		m.quitting = true
		session := m.session
		return m, func() tea.Msg {
			session.Stop()
			return tea.Quit()
		}
	case " ", "enter":
		return m, m.toggle()
	}
	if m.ready {
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	return m, nil
}

// toggle starts a session from IDLE or ERROR and stops an active one.
func (m Model) toggle() tea.Cmd {
	session, ctx := m.session, m.ctx
	if m.snap.State.Active() {
		return func() tea.Msg {
			session.Stop()
			return changedMsg{}
		}
	}
	return func() tea.Msg {
		return startedMsg{err: session.Start(ctx)}
	}
}

func (m *Model) refreshTranscript() {
	if !m.ready {
		return
	}
	width := max(m.viewport.Width-2, 10)
	var b strings.Builder
	for i, e := range m.snap.Transcript {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(renderEntry(e, width))
	}
	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

func renderEntry(e live.TranscriptEntry, width int) string {
	wrap := lipgloss.NewStyle().Width(width)
	switch e.Source {
	case live.SourceUser:
		return wrap.Render(userStyle.Render("You: ") + e.Text)
	case live.SourceAI:
		return wrap.Render(aiStyle.Render("AI: " + e.Text))
	default:
		return wrap.Render(systemStyle.Render("· " + e.Text))
	}
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	var sections []string
	sections = append(sections,
		lipgloss.JoinHorizontal(lipgloss.Center,
			titleStyle.Render("vai-journal"), "  ", stateStyle.Render(m.snap.State.String())),
		m.renderButton(),
		"Mic "+m.meter.ViewAs(meterLevel(m.snap.InputVolume)),
	)
	if m.snap.LastError != "" {
		sections = append(sections, errorBannerStyle.Render(m.snap.LastError))
	}
	if m.ready {
		sections = append(sections, transcriptStyle.Render(m.viewport.View()))
	}
	sections = append(sections, helpStyle.Render("space: start/stop • ↑/↓: scroll • q: quit"))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderButton() string {
	switch m.snap.State {
	case live.StateConnecting:
		return activeButtonStyle.Render("Connecting...")
	case live.StateListening:
		return activeButtonStyle.Render("● Listening (space to stop)")
	case live.StateProcessing:
		return activeButtonStyle.Render("● Working on it (space to stop)")
	case live.StateError:
		return retryButtonStyle.Render("⟳ Tap to retry")
	default:
		return buttonStyle.Render("🎤 Tap to talk")
	}
}

func meterLevel(v float64) float64 {
	return min(max(v*volumeGain, 0), 1)
}
