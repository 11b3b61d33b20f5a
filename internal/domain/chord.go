package domain

// NoChord labels a chunk whose chord could not be detected.
const NoChord = "?"

// ChordEvent is one entry of the expected schedule derived from the ideal take.
// Start and Duration are in seconds.
type ChordEvent struct {
	Index       int     `json:"index" yaml:"index" toml:"index"`
	Chord       string  `json:"chord" yaml:"chord" toml:"chord"`
	Start       float64 `json:"start" yaml:"start" toml:"start"`
	Duration    float64 `json:"duration" yaml:"duration" toml:"duration"`
	StringIndex int     `json:"stringIndex" yaml:"stringIndex" toml:"stringIndex"`
}

// End returns the exclusive end time of the event.
func (e ChordEvent) End() float64 {
	return e.Start + e.Duration
}

// Contains reports whether t lies within [Start, End).
func (e ChordEvent) Contains(t float64) bool {
	return e.Start <= t && t < e.End()
}
