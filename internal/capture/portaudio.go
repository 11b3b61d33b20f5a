//go:build portaudio

package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// MicrophoneSupported reports whether this binary can open a microphone.
const MicrophoneSupported = true

// PortAudioSource records from the default input device.
type PortAudioSource struct {
	SampleRate      int
	FramesPerBuffer int

	mu      sync.Mutex
	stream  *portaudio.Stream
	buf     []float32
	pending []float64
	done    chan struct{}
	readErr error
}

// NewPortAudioSource creates a mono microphone source.
func NewPortAudioSource(sampleRate int) *PortAudioSource {
	return &PortAudioSource{SampleRate: sampleRate, FramesPerBuffer: 4096}
}

// Open initializes PortAudio and starts the input stream.
func (p *PortAudioSource) Open(ctx context.Context) (int, error) {
	if err := portaudio.Initialize(); err != nil {
		return 0, fmt.Errorf("initialize portaudio: %w", err)
	}

	p.buf = make([]float32, p.FramesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(p.SampleRate), p.FramesPerBuffer, p.buf)
	if err != nil {
		portaudio.Terminate()
		return 0, fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return 0, fmt.Errorf("start input stream: %w", err)
	}

	p.mu.Lock()
	p.stream = stream
	p.pending = nil
	p.readErr = nil
	p.done = make(chan struct{})
	p.mu.Unlock()

	go p.read(stream, p.done)
	return p.SampleRate, nil
}

// read copies blocking stream reads into the pending buffer until Close.
func (p *PortAudioSource) read(stream *portaudio.Stream, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}
		if err := stream.Read(); err != nil {
			p.mu.Lock()
			select {
			case <-done:
			default:
				p.readErr = err
			}
			p.mu.Unlock()
			return
		}
		p.mu.Lock()
		for _, s := range p.buf {
			p.pending = append(p.pending, float64(s))
		}
		p.mu.Unlock()
	}
}

// Drain returns the samples recorded since the last call.
func (p *PortAudioSource) Drain() ([]float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.pending
	p.pending = nil
	return out, p.readErr
}

// Close stops the stream and releases PortAudio. Safe after a failed Open.
func (p *PortAudioSource) Close() error {
	p.mu.Lock()
	stream := p.stream
	p.stream = nil
	if p.done != nil {
		close(p.done)
		p.done = nil
	}
	p.mu.Unlock()

	if stream == nil {
		return nil
	}
	stream.Stop()
	err := stream.Close()
	portaudio.Terminate()
	return err
}

// DefaultInputDevice names the microphone PortAudio would use.
func DefaultInputDevice() (string, error) {
	if err := portaudio.Initialize(); err != nil {
		return "", err
	}
	defer portaudio.Terminate()

	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return "", err
	}
	return dev.Name, nil
}
