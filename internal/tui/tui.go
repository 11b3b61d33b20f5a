// Package tui provides the live practice view using Bubble Tea.
package tui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/joss/aaroh/internal/domain"
	"github.com/joss/aaroh/internal/render"
	"github.com/joss/aaroh/internal/timeline"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginLeft(2)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	activeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	missingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			MarginTop(1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)

	cursorStyle = lipgloss.NewStyle().
			Underline(true).
			Bold(true)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Background(lipgloss.Color("236")).
			Padding(0, 1)
)

// View represents the current view mode
type View int

const (
	ViewPractice View = iota
	ViewHelp
)

// Messages sent into the program by the practice command.
type (
	VerdictMsg domain.Verdict
	StatusMsg  string
	SummaryMsg domain.Summary
	FailedMsg  struct{ Err error }
	// StateMsg reports the transport link state.
	StateMsg string
)

type tickMsg time.Time

// Model is the practice view.
type Model struct {
	title    string
	timeline *timeline.Timeline
	clock    *timeline.Clock
	duration float64
	stop     func()
	stopOnce *sync.Once

	view     View
	verdicts []domain.Verdict
	status   string
	link     string
	summary  *domain.Summary
	err      error
	stopping bool
	ready    bool
	quitting bool

	spinner  spinner.Model
	log      viewport.Model
	renderer *render.Renderer
	width    int
	height   int
}

// New creates a practice view over a schedule. stop is called once
// when the user asks to finish; the summary then arrives as SummaryMsg.
func New(title string, events []domain.ChordEvent, clock *timeline.Clock, stop func()) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	var duration float64
	for _, e := range events {
		if end := e.End(); end > duration {
			duration = end
		}
	}

	return Model{
		title:    title,
		timeline: timeline.New(events),
		clock:    clock,
		duration: duration,
		stop:     stop,
		stopOnce: &sync.Once{},
		spinner:  s,
		log:      viewport.New(60, 6),
		renderer: render.New(false),
		link:     "connected",
	}
}

// Init initializes the TUI
func (m Model) Init() tea.Cmd {
	m.clock.Play()
	return tea.Batch(m.spinner.Tick, tickCmd())
}

func (m Model) requestStop() {
	if m.stop != nil {
		m.stopOnce.Do(func() { go m.stop() })
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.requestStop()
			m.quitting = true
			return m, tea.Quit
		case "q", "esc":
			if m.view == ViewHelp {
				m.view = ViewPractice
				return m, nil
			}
			if m.finished() {
				m.quitting = true
				return m, tea.Quit
			}
			m.stopping = true
			m.requestStop()
			return m, nil
		case "?":
			if m.view == ViewPractice {
				m.view = ViewHelp
			} else {
				m.view = ViewPractice
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.log.Width = msg.Width - 6
		m.log.Height = 6

	case VerdictMsg:
		v := domain.Verdict(msg)
		m.timeline.Apply(v)
		m.verdicts = append(m.verdicts, v)
		m.log.SetContent(m.verdictLog())
		m.log.GotoBottom()

	case StatusMsg:
		m.status = string(msg)

	case StateMsg:
		m.link = string(msg)

	case SummaryMsg:
		s := domain.Summary(msg)
		m.summary = &s
		m.timeline.Seal()
		m.clock.Pause()

	case FailedMsg:
		m.err = msg.Err
		m.clock.Pause()

	case tickMsg:
		if !m.finished() {
			cmds = append(cmds, tickCmd())
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.log, cmd = m.log.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m Model) finished() bool {
	return m.summary != nil || m.err != nil
}

func (m Model) verdictLog() string {
	var b strings.Builder
	for _, v := range m.verdicts {
		b.WriteString(m.renderer.Verdict(v))
	}
	return strings.TrimRight(b.String(), "\n")
}

// View renders the TUI
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	if !m.ready {
		return fmt.Sprintf("\n  %s Loading...", m.spinner.View())
	}

	if m.view == ViewHelp {
		return m.viewHelp()
	}
	return m.viewPractice()
}

func (m Model) viewPractice() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("♪ "+m.title) + "\n\n")

	pos := m.clock.Position()
	b.WriteString(m.viewNow(pos) + "\n\n")
	b.WriteString(m.viewLane(pos) + "\n")

	b.WriteString(boxStyle.Width(max(m.width-4, 20)).Render(m.log.View()) + "\n")

	switch {
	case m.err != nil:
		b.WriteString("\n" + errorStyle.Render("  ✗ "+m.err.Error()) + "\n")
	case m.summary != nil:
		b.WriteString("\n" + render.New(true).Summary(*m.summary))
	case m.stopping:
		b.WriteString(fmt.Sprintf("\n  %s Finishing session...\n", m.spinner.View()))
	}

	bar := fmt.Sprintf("%s / %s │ link: %s", clockText(pos), clockText(m.duration), m.link)
	if m.status != "" {
		bar += " │ " + m.status
	}
	b.WriteString("\n" + statusBarStyle.Render(bar))

	help := "q: finish │ ?: help"
	if m.finished() {
		help = "q: quit"
	}
	b.WriteString(helpStyle.Render("\n  " + help))
	return b.String()
}

// viewNow shows the chord to play and the one after it.
func (m Model) viewNow(pos float64) string {
	frame := m.timeline.At(pos)
	now := infoStyle.Render("rest")
	if frame.Active {
		now = activeStyle.Render(frame.Mark.Event.Chord)
	}

	next := ""
	for _, mark := range m.timeline.Marks() {
		if mark.Event.Start > pos {
			next = mark.Event.Chord
			break
		}
	}
	line := "  Now: " + now
	if next != "" {
		line += infoStyle.Render("   Next: " + next)
	}
	return line
}

// viewLane draws every expected chord colored by its feedback status.
func (m Model) viewLane(pos float64) string {
	marks := m.timeline.Marks()
	cells := make([]string, 0, len(marks))
	for _, mark := range marks {
		label := mark.Event.Chord
		if mark.Status == timeline.StatusIncorrect && mark.Detected != "" {
			label += "→" + mark.Detected
		}

		var style lipgloss.Style
		switch mark.Status {
		case timeline.StatusCorrect:
			style = activeStyle
		case timeline.StatusIncorrect:
			style = errorStyle
		case timeline.StatusMissing:
			style = missingStyle
		default:
			style = infoStyle
		}
		if mark.Event.Start <= pos && pos < mark.Event.End() {
			style = style.Inherit(cursorStyle)
		}
		cells = append(cells, style.Render(label))
	}
	return "  " + strings.Join(cells, " ")
}

func (m Model) viewHelp() string {
	help := `
  ♪ Practice - Help

  Play along with the highlighted chord. Each chunk of audio
  comes back as a verdict; the lane colors every scheduled chord:

    green     played correctly
    red       wrong chord (expected→detected)
    orange    never played
    grey      not reached yet

  KEYS
    q         Finish the session and show the summary
    ?         Toggle help
    ctrl+c    Quit immediately
`
	return titleStyle.Render("Help") + "\n" + infoStyle.Render(help) + helpStyle.Render("\n  press ? to return")
}

func clockText(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second))
	return fmt.Sprintf("%d:%04.1f", int(d.Minutes()), d.Seconds()-float64(int(d.Minutes())*60))
}

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// NewProgram wraps the model in a Bubble Tea program. The caller feeds
// session events in with Send and runs it.
func NewProgram(m Model) *tea.Program {
	return tea.NewProgram(m, tea.WithAltScreen())
}
