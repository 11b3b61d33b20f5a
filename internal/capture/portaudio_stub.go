//go:build !portaudio

package capture

import (
	"context"
	"errors"
)

// MicrophoneSupported reports whether this binary can open a microphone.
const MicrophoneSupported = false

var errNoPortAudio = errors.New("built without portaudio support (rebuild with -tags portaudio)")

// PortAudioSource is unavailable in this build; Open always fails.
type PortAudioSource struct {
	SampleRate int
}

// NewPortAudioSource creates a source that cannot be opened.
func NewPortAudioSource(sampleRate int) *PortAudioSource {
	return &PortAudioSource{SampleRate: sampleRate}
}

func (p *PortAudioSource) Open(ctx context.Context) (int, error) { return 0, errNoPortAudio }
func (p *PortAudioSource) Drain() ([]float64, error)             { return nil, errNoPortAudio }
func (p *PortAudioSource) Close() error                          { return nil }

// DefaultInputDevice is unavailable in this build.
func DefaultInputDevice() (string, error) {
	return "", errNoPortAudio
}
