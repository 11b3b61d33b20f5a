// Package aggregate turns a session's verdict stream into running totals
// and the final performance summary.
package aggregate

import (
	"math"
	"sort"

	"github.com/joss/aaroh/internal/domain"
)

type chordStats struct {
	attempts int
	correct  int
}

func (s chordStats) accuracy() float64 {
	return float64(s.correct) / float64(s.attempts)
}

// Summarize computes a summary from verdicts in any order. The result
// depends only on the set of verdicts, the schedule and the gaps.
func Summarize(sessionID string, events []domain.ChordEvent, verdicts []domain.Verdict, gaps []int) domain.Summary {
	sorted := make([]domain.Verdict, len(verdicts))
	copy(sorted, verdicts)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Sequence < sorted[j].Sequence
	})

	sum := domain.Summary{
		SessionID:        sessionID,
		TotalChords:      len(sorted),
		TransitionsWrong: domain.TransitionCounts{},
		MissingChords:    []domain.ChordEvent{},
	}

	covered := make(map[int]bool)
	stats := make(map[string]*chordStats)
	seen := make(map[int]bool, len(sorted))

	for i, v := range sorted {
		seen[v.Sequence] = true
		if !v.Matched() {
			sum.Unmatched++
		} else {
			covered[v.EventIndex] = true
			st := stats[v.ExpectedChord]
			if st == nil {
				st = &chordStats{}
				stats[v.ExpectedChord] = st
			}
			st.attempts++
			if v.Correct {
				st.correct++
				sum.CorrectChords++
			} else {
				sum.Mistakes++
			}
		}

		if i > 0 {
			prev := sorted[i-1]
			if prev.Sequence+1 == v.Sequence && !v.Correct {
				sum.TransitionsWrong[domain.Transition{From: prev.Label(), To: v.Label()}]++
			}
		}
	}

	if n := sum.CorrectChords + sum.Mistakes; n > 0 {
		sum.Accuracy = round2(float64(sum.CorrectChords) / float64(n) * 100)
	}
	sum.BestChord, sum.WorstChord = bestAndWorst(stats)
	sum.Level = domain.LevelFor(sum.Accuracy)

	for _, e := range events {
		if !covered[e.Index] {
			sum.MissingChords = append(sum.MissingChords, e)
		}
	}

	for _, g := range uniqueSorted(gaps) {
		if !seen[g] {
			sum.Gaps = append(sum.Gaps, g)
		}
	}
	return sum
}

// bestAndWorst ranks expected chords by accuracy. Ties go to the label
// with more attempts, then to the lexicographically smaller label.
func bestAndWorst(stats map[string]*chordStats) (best, worst string) {
	labels := make([]string, 0, len(stats))
	for l := range stats {
		labels = append(labels, l)
	}
	if len(labels) == 0 {
		return "", ""
	}

	rank := func(higher bool) string {
		sort.Slice(labels, func(i, j int) bool {
			a, b := stats[labels[i]], stats[labels[j]]
			if a.accuracy() != b.accuracy() {
				if higher {
					return a.accuracy() > b.accuracy()
				}
				return a.accuracy() < b.accuracy()
			}
			if a.attempts != b.attempts {
				return a.attempts > b.attempts
			}
			return labels[i] < labels[j]
		})
		return labels[0]
	}
	return rank(true), rank(false)
}

func uniqueSorted(in []int) []int {
	if len(in) == 0 {
		return nil
	}
	out := make([]int, len(in))
	copy(out, in)
	sort.Ints(out)
	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
