package aggregate

import (
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/aaroh/internal/domain"
)

// fourBars is one event per second: C G Am F C.
func fourBars() []domain.ChordEvent {
	chords := []string{"C", "G", "Am", "F", "C"}
	out := make([]domain.ChordEvent, len(chords))
	for i, c := range chords {
		out[i] = domain.ChordEvent{Index: i, Chord: c, Start: float64(i), Duration: 1}
	}
	return out
}

// played builds a verdict for sequence seq mapped to the same-index event.
func played(events []domain.ChordEvent, seq int, detected string) domain.Verdict {
	e := events[seq]
	return domain.Verdict{
		SessionID:     "s",
		Sequence:      seq,
		DetectedChord: detected,
		Correct:       detected == e.Chord,
		ExpectedChord: e.Chord,
		EventIndex:    e.Index,
	}
}

func TestSummarize_AllCorrect(t *testing.T) {
	events := fourBars()
	var vs []domain.Verdict
	for i, e := range events {
		vs = append(vs, played(events, i, e.Chord))
	}

	sum := Summarize("s", events, vs, nil)

	assert.Equal(t, 100.0, sum.Accuracy)
	assert.Equal(t, 5, sum.TotalChords)
	assert.Equal(t, 5, sum.CorrectChords)
	assert.Equal(t, 0, sum.Mistakes)
	assert.Empty(t, sum.MissingChords)
	assert.Empty(t, sum.TransitionsWrong)
	assert.Equal(t, domain.LevelAdvanced, sum.Level)
	// C has two attempts, so it wins the tie at 100%.
	assert.Equal(t, "C", sum.BestChord)
	assert.Equal(t, "C", sum.WorstChord)
}

func TestSummarize_OrderIndependent(t *testing.T) {
	events := fourBars()
	vs := []domain.Verdict{
		played(events, 0, "C"),
		played(events, 1, "Am"),
		played(events, 2, "F"),
		played(events, 3, "F"),
		played(events, 4, "G"),
	}
	want := Summarize("s", events, vs, nil)

	r := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := make([]domain.Verdict, len(vs))
		copy(shuffled, vs)
		r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		assert.Equal(t, want, Summarize("s", events, shuffled, nil))
	}
}

func TestSummarize_TransitionsWrong(t *testing.T) {
	events := fourBars()
	vs := []domain.Verdict{
		played(events, 0, "C"),  // correct
		played(events, 1, "Am"), // wrong after correct: (C, Am)
		played(events, 2, "F"),  // wrong after wrong: (Am, F)
		played(events, 3, "F"),  // correct: no transition
	}

	sum := Summarize("s", events, vs, nil)

	assert.Equal(t, 2, len(sum.TransitionsWrong))
	assert.Equal(t, 1, sum.TransitionsWrong[domain.Transition{From: "C", To: "Am"}])
	assert.Equal(t, 1, sum.TransitionsWrong[domain.Transition{From: "Am", To: "F"}])
	assert.Equal(t, 50.0, sum.Accuracy)
	assert.Equal(t, 2, sum.Mistakes)
	assert.Equal(t, domain.LevelBeginner, sum.Level)
}

func TestSummarize_GapBreaksTransitionAndIsMissing(t *testing.T) {
	events := fourBars()
	vs := []domain.Verdict{
		played(events, 0, "C"),
		played(events, 1, "G"),
		played(events, 3, "C"),
		played(events, 4, "C"),
	}

	sum := Summarize("s", events, vs, []int{2, 2})

	assert.Equal(t, 4, sum.TotalChords)
	assert.Equal(t, 1, sum.Mistakes)
	require.Len(t, sum.MissingChords, 1)
	assert.Equal(t, "Am", sum.MissingChords[0].Chord)
	assert.Equal(t, []int{2}, sum.Gaps)
	// (G, C) would need 1 and 3 to be adjacent.
	assert.Equal(t, 0, sum.TransitionsWrong[domain.Transition{From: "G", To: "C"}])
	// C (2/2) beats G (1/1) on attempts.
	assert.Equal(t, "C", sum.BestChord)
	assert.Equal(t, "F", sum.WorstChord)
}

func TestSummarize_FailuresAndUnmatched(t *testing.T) {
	events := fourBars()
	failed := domain.FailureVerdict("s", 1, "recognizer timeout", time.Now())
	failed.EventIndex = 1
	failed.ExpectedChord = "G"

	vs := []domain.Verdict{
		played(events, 0, "C"),
		failed,
		{SessionID: "s", Sequence: 9, DetectedChord: "D", EventIndex: -1},
	}

	sum := Summarize("s", events, vs, nil)

	// The failed chunk is a mistake against G and covers its event.
	assert.Equal(t, 3, sum.TotalChords)
	assert.Equal(t, 1, sum.CorrectChords)
	assert.Equal(t, 1, sum.Mistakes)
	assert.Equal(t, 1, sum.Unmatched)
	assert.Equal(t, 50.0, sum.Accuracy)
	assert.Equal(t, "G", sum.WorstChord)
	require.Len(t, sum.MissingChords, 3)
	assert.Equal(t, "Am", sum.MissingChords[0].Chord)
	assert.Equal(t, 1, sum.TransitionsWrong[domain.Transition{From: "C", To: domain.NoChord}])
}

func TestAggregator_FailureCountsAsMistake(t *testing.T) {
	a, _, events := newTestAggregator()
	failed := domain.FailureVerdict("s", 2, "recognition failed", time.Now())
	failed.EventIndex = 2
	failed.ExpectedChord = "Am"

	require.NoError(t, a.Add(played(events, 0, "C")))
	require.NoError(t, a.Add(played(events, 1, "G")))
	require.NoError(t, a.Add(failed))
	require.NoError(t, a.Add(played(events, 3, "F")))

	r := a.Running()
	assert.Equal(t, 3, r.Correct)
	assert.Equal(t, 1, r.Mistakes)
	assert.Equal(t, 75.0, r.Accuracy)

	sum := a.Seal()
	assert.Equal(t, 75.0, sum.Accuracy)
	assert.Equal(t, 1, sum.Mistakes)
	require.Len(t, sum.MissingChords, 1)
	assert.Equal(t, 4, sum.MissingChords[0].Index)
}

func TestSummarize_Empty(t *testing.T) {
	sum := Summarize("s", fourBars(), nil, nil)

	assert.Equal(t, 0.0, sum.Accuracy)
	assert.Equal(t, "", sum.BestChord)
	assert.Len(t, sum.MissingChords, 5)

	data, err := json.Marshal(sum)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"transitionsWrong":[]`)
}

func TestSummarize_AccuracyRounding(t *testing.T) {
	events := fourBars()
	vs := []domain.Verdict{
		played(events, 0, "C"),
		played(events, 1, "G"),
		played(events, 2, "C"),
	}
	sum := Summarize("s", events, vs, nil)
	assert.Equal(t, 66.67, sum.Accuracy)
	assert.Equal(t, domain.LevelIntermediate, sum.Level)
}

type manualClock struct{ t time.Time }

func (c *manualClock) now() time.Time { return c.t }

func newTestAggregator() (*Aggregator, *manualClock, []domain.ChordEvent) {
	clk := &manualClock{t: time.Unix(0, 0)}
	events := fourBars()
	return New("s", events, Options{Grace: 2 * time.Second, Now: clk.now}), clk, events
}

func TestAggregator_InOrder(t *testing.T) {
	a, _, events := newTestAggregator()

	require.NoError(t, a.Add(played(events, 0, "C")))
	require.NoError(t, a.Add(played(events, 1, "D")))

	r := a.Running()
	assert.Equal(t, 2, r.Next)
	assert.Equal(t, 1, r.Correct)
	assert.Equal(t, 1, r.Mistakes)
	assert.Equal(t, 50.0, r.Accuracy)
	assert.Equal(t, 0, r.Buffered)
}

func TestAggregator_ReordersWithinGrace(t *testing.T) {
	a, clk, events := newTestAggregator()

	require.NoError(t, a.Add(played(events, 1, "G")))
	r := a.Running()
	assert.Equal(t, 0, r.Next)
	assert.Equal(t, 0, r.Applied)
	assert.Equal(t, 1, r.Buffered)

	clk.t = clk.t.Add(time.Second)
	require.NoError(t, a.Add(played(events, 0, "C")))

	r = a.Running()
	assert.Equal(t, 2, r.Next)
	assert.Equal(t, 2, r.Applied)
	assert.Empty(t, r.Skipped)
}

func TestAggregator_SkipsHoleAfterGraceAndCountsLateVerdict(t *testing.T) {
	a, clk, events := newTestAggregator()

	require.NoError(t, a.Add(played(events, 0, "C")))
	require.NoError(t, a.Add(played(events, 2, "Am")))
	assert.Equal(t, 1, a.Running().Next)

	clk.t = clk.t.Add(2 * time.Second)
	a.Tick()

	r := a.Running()
	assert.Equal(t, 3, r.Next)
	assert.Equal(t, []int{1}, r.Skipped)
	assert.Equal(t, 2, r.Correct)

	require.NoError(t, a.Add(played(events, 1, "D")))
	r = a.Running()
	assert.Equal(t, 3, r.Next)
	assert.Empty(t, r.Skipped)
	assert.Equal(t, 1, r.Mistakes)

	sum := a.Summary()
	assert.Equal(t, 3, sum.TotalChords)
	assert.Equal(t, 1, sum.TransitionsWrong[domain.Transition{From: "C", To: "D"}])
	assert.False(t, sum.Final)
}

func TestAggregator_GapUnblocksRunningTotals(t *testing.T) {
	a, _, events := newTestAggregator()

	require.NoError(t, a.Add(played(events, 0, "C")))
	require.NoError(t, a.Add(played(events, 2, "Am")))
	a.Gap(1)

	r := a.Running()
	assert.Equal(t, 3, r.Next)
	assert.Empty(t, r.Skipped)

	sum := a.Summary()
	assert.Equal(t, []int{1}, sum.Gaps)
	assert.Equal(t, "G", sum.MissingChords[0].Chord)

	// A late arrival of a gap sequence clears the gap.
	require.NoError(t, a.Add(played(events, 1, "G")))
	assert.Empty(t, a.Summary().Gaps)
}

func TestAggregator_DuplicateAndSeal(t *testing.T) {
	a, _, events := newTestAggregator()

	require.NoError(t, a.Add(played(events, 0, "C")))
	assert.ErrorIs(t, a.Add(played(events, 0, "G")), ErrDuplicate)

	final := a.Seal()
	assert.True(t, final.Final)
	assert.Equal(t, 1, final.TotalChords)

	assert.ErrorIs(t, a.Add(played(events, 1, "G")), ErrSealed)
	a.Gap(3)
	assert.Equal(t, final, a.Seal())
	assert.Equal(t, final, a.Summary())
	assert.Len(t, a.Verdicts(), 1)
}

func TestAggregator_ConcurrentReaders(t *testing.T) {
	a, _, events := newTestAggregator()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			_ = a.Running()
			_ = a.Summary()
		}
	}()
	for i := range events {
		require.NoError(t, a.Add(played(events, i, events[i].Chord)))
	}
	<-done

	assert.Equal(t, 5, a.Running().Correct)
}
