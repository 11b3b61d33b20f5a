package domain

import (
	"encoding/json"
	"time"
)

// Chunk is a bounded audio segment captured during a session.
// Chunks are immutable once created.
type Chunk struct {
	SessionID  string        `json:"sessionId"`
	Sequence   int           `json:"sequence"`
	CapturedAt time.Duration `json:"capturedAt"` // offset from session start
	Payload    []byte        `json:"payload"`
}

// Verdict is the recognized outcome of one chunk.
//
// DetectedChord is empty when recognition failed; it is encoded as null.
// EventIndex is -1 when the chunk maps to no expected event.
type Verdict struct {
	SessionID     string    `json:"sessionId"`
	Sequence      int       `json:"sequence"`
	DetectedChord string    `json:"detectedChord"`
	Correct       bool      `json:"correct"`
	Timestamp     time.Time `json:"timestamp"`
	ExpectedChord string    `json:"expectedChord,omitempty"`
	EventIndex    int       `json:"eventIndex"`
	Confidence    float64   `json:"confidence,omitempty"`
	Failure       string    `json:"failure,omitempty"`
}

// FailureVerdict builds the synthetic verdict used when recognition fails or times out.
func FailureVerdict(sessionID string, sequence int, reason string, at time.Time) Verdict {
	return Verdict{
		SessionID:  sessionID,
		Sequence:   sequence,
		Correct:    false,
		Timestamp:  at,
		EventIndex: -1,
		Failure:    reason,
	}
}

// Matched reports whether the verdict maps to an expected event.
func (v Verdict) Matched() bool {
	return v.EventIndex >= 0
}

// Label returns the detected chord, or NoChord when nothing was detected.
func (v Verdict) Label() string {
	if v.DetectedChord == "" {
		return NoChord
	}
	return v.DetectedChord
}

// MarshalJSON encodes an empty detected chord as null.
func (v Verdict) MarshalJSON() ([]byte, error) {
	type alias Verdict
	var detected *string
	if v.DetectedChord != "" {
		d := v.DetectedChord
		detected = &d
	}
	return json.Marshal(struct {
		alias
		DetectedChord *string `json:"detectedChord"`
	}{alias: alias(v), DetectedChord: detected})
}

// UnmarshalJSON accepts null for detectedChord.
func (v *Verdict) UnmarshalJSON(data []byte) error {
	type alias Verdict
	aux := struct {
		*alias
		DetectedChord *string `json:"detectedChord"`
	}{alias: (*alias)(v)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	v.DetectedChord = ""
	if aux.DetectedChord != nil {
		v.DetectedChord = *aux.DetectedChord
	}
	return nil
}
