package tui

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/aaroh/internal/domain"
	"github.com/joss/aaroh/internal/timeline"
)

var events = []domain.ChordEvent{
	{Index: 0, Chord: "C", Start: 0, Duration: 1},
	{Index: 1, Chord: "G", Start: 1, Duration: 1},
	{Index: 2, Chord: "Am", Start: 2, Duration: 1},
}

func newModel(t *testing.T, stop func()) (Model, *time.Time) {
	t.Helper()
	now := time.Unix(100, 0)
	clock := timeline.NewClock(func() time.Time { return now })
	m := New("Warmup", events, clock, stop)
	m.Init()

	updated, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 30})
	return updated.(Model), &now
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestViewShowsCurrentChord(t *testing.T) {
	m, now := newModel(t, nil)

	view := m.View()
	assert.Contains(t, view, "Warmup")
	assert.Contains(t, view, "Now: C")
	assert.Contains(t, view, "Next: G")

	*now = now.Add(1500 * time.Millisecond)
	view = m.View()
	assert.Contains(t, view, "Now: G")
	assert.Contains(t, view, "0:01.5 / 0:03.0")
}

func TestVerdictsColorTheLane(t *testing.T) {
	m, _ := newModel(t, nil)

	m, _ = update(t, m, VerdictMsg(domain.Verdict{Sequence: 0, DetectedChord: "C", ExpectedChord: "C", Correct: true, EventIndex: 0}))
	m, _ = update(t, m, VerdictMsg(domain.Verdict{Sequence: 1, DetectedChord: "D", ExpectedChord: "G", EventIndex: 1}))

	view := m.View()
	assert.Contains(t, view, "G→D")
	assert.Contains(t, view, "seq=1 detected=D expected=G")

	marks := m.timeline.Marks()
	assert.Equal(t, timeline.StatusCorrect, marks[0].Status)
	assert.Equal(t, timeline.StatusIncorrect, marks[1].Status)
	assert.Equal(t, timeline.StatusPending, marks[2].Status)
}

func TestQuitStopsOnceThenExitsAfterSummary(t *testing.T) {
	var stops atomic.Int32
	done := make(chan struct{}, 2)
	m, _ := newModel(t, func() {
		stops.Add(1)
		done <- struct{}{}
	})

	m, cmd := update(t, m, key("q"))
	assert.Nil(t, cmd)
	assert.True(t, m.stopping)
	assert.Contains(t, m.View(), "Finishing session")

	m, _ = update(t, m, key("q"))
	<-done
	assert.Equal(t, int32(1), stops.Load())

	m, _ = update(t, m, SummaryMsg(domain.Summary{SessionID: "s1", Accuracy: 100, TotalChords: 3, Level: domain.LevelAdvanced, Final: true}))
	assert.Contains(t, m.View(), "Session Summary")
	assert.False(t, m.clock.Playing())
	assert.Equal(t, timeline.StatusMissing, m.timeline.Marks()[2].Status)

	_, cmd = update(t, m, key("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
}

func TestFailureIsShown(t *testing.T) {
	m, _ := newModel(t, nil)

	m, _ = update(t, m, StateMsg("reconnecting"))
	assert.Contains(t, m.View(), "link: reconnecting")

	m, _ = update(t, m, FailedMsg{Err: errors.New("transport lost")})
	assert.Contains(t, m.View(), "✗ transport lost")
	assert.Contains(t, m.View(), "q: quit")
}

func TestHelpToggle(t *testing.T) {
	m, _ := newModel(t, nil)

	m, _ = update(t, m, key("?"))
	assert.Contains(t, m.View(), "never played")

	m, _ = update(t, m, key("q"))
	assert.Equal(t, ViewPractice, m.view)
	assert.False(t, m.stopping)
}

func TestClockText(t *testing.T) {
	assert.Equal(t, "0:00.0", clockText(0))
	assert.Equal(t, "1:05.5", clockText(65.5))
}
