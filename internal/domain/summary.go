package domain

import (
	"encoding/json"
	"sort"
)

// Level grades a performance from its accuracy.
type Level string

const (
	LevelBeginner     Level = "beginner"
	LevelIntermediate Level = "intermediate"
	LevelAdvanced     Level = "advanced"
)

// LevelFor maps an accuracy percentage to a level.
func LevelFor(accuracy float64) Level {
	switch {
	case accuracy >= 85:
		return LevelAdvanced
	case accuracy >= 60:
		return LevelIntermediate
	default:
		return LevelBeginner
	}
}

// Transition is an ordered pair of detected chords.
type Transition struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// TransitionCounts counts wrong transitions between detected chords.
// It is encoded as a list sorted by (from, to) since JSON object keys must be strings.
type TransitionCounts map[Transition]int

type transitionCount struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Count int    `json:"count"`
}

// Sorted returns the transitions ordered by (From, To).
func (tc TransitionCounts) Sorted() []Transition {
	keys := make([]Transition, 0, len(tc))
	for k := range tc {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].From != keys[j].From {
			return keys[i].From < keys[j].From
		}
		return keys[i].To < keys[j].To
	})
	return keys
}

// MarshalJSON implements json.Marshaler.
func (tc TransitionCounts) MarshalJSON() ([]byte, error) {
	out := make([]transitionCount, 0, len(tc))
	for _, k := range tc.Sorted() {
		out = append(out, transitionCount{From: k.From, To: k.To, Count: tc[k]})
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (tc *TransitionCounts) UnmarshalJSON(data []byte) error {
	var in []transitionCount
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	m := make(TransitionCounts, len(in))
	for _, c := range in {
		m[Transition{From: c.From, To: c.To}] += c.Count
	}
	*tc = m
	return nil
}

// Summary is the aggregated outcome of a session. It is recomputable at any
// time from the verdicts and the expected schedule; Final marks the sealed copy.
type Summary struct {
	SessionID        string           `json:"sessionId"`
	Accuracy         float64          `json:"accuracy"`
	TotalChords      int              `json:"totalChords"`
	CorrectChords    int              `json:"correctChords"`
	Mistakes         int              `json:"mistakes"`
	Unmatched        int              `json:"unmatched"`
	BestChord        string           `json:"bestChord,omitempty"`
	WorstChord       string           `json:"worstChord,omitempty"`
	TransitionsWrong TransitionCounts `json:"transitionsWrong"`
	MissingChords    []ChordEvent     `json:"missingChords"`
	Gaps             []int            `json:"gaps,omitempty"`
	Level            Level            `json:"level"`
	Final            bool             `json:"final"`
}
