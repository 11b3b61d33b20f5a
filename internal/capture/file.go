package capture

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/joss/aaroh/internal/audio"
)

// ClipSource plays a decoded clip back in real time: each Drain returns
// the samples that would have been heard since the previous one.
type ClipSource struct {
	clip *audio.Clip
	// Now is the playback clock; tests replace it.
	Now func() time.Time

	mu      sync.Mutex
	started time.Time
	pos     int
	open    bool
}

// NewClipSource wraps an in-memory clip.
func NewClipSource(clip *audio.Clip) *ClipSource {
	return &ClipSource{clip: clip, Now: time.Now}
}

// Open starts playback.
func (s *ClipSource) Open(ctx context.Context) (int, error) {
	if s.clip == nil || s.clip.SampleRate <= 0 {
		return 0, errors.New("clip has no sample rate")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = s.Now()
	s.pos = 0
	s.open = true
	return s.clip.SampleRate, nil
}

// Drain returns the samples played since the last call, with io.EOF once
// the clip is finished.
func (s *ClipSource) Drain() ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil, errors.New("source not open")
	}

	elapsed := s.Now().Sub(s.started)
	end := int(elapsed.Seconds() * float64(s.clip.SampleRate))
	if end > len(s.clip.Samples) {
		end = len(s.clip.Samples)
	}
	if end < s.pos {
		end = s.pos
	}
	out := s.clip.Samples[s.pos:end]
	s.pos = end
	if s.pos >= len(s.clip.Samples) {
		return out, io.EOF
	}
	return out, nil
}

// Close stops playback.
func (s *ClipSource) Close() error {
	s.mu.Lock()
	s.open = false
	s.mu.Unlock()
	return nil
}

// FileSource plays a WAV practice take from disk in real time.
type FileSource struct {
	*ClipSource
	path string
}

// NewFileSource creates a source for the WAV file at path. The file is
// read on Open.
func NewFileSource(path string) *FileSource {
	return &FileSource{ClipSource: NewClipSource(nil), path: path}
}

// Open decodes the file and starts playback.
func (s *FileSource) Open(ctx context.Context) (int, error) {
	clip, err := audio.ReadWAVFile(s.path)
	if err != nil {
		return 0, err
	}
	s.ClipSource.mu.Lock()
	s.ClipSource.clip = clip
	s.ClipSource.mu.Unlock()
	return s.ClipSource.Open(ctx)
}

// Path returns the file being played.
func (s *FileSource) Path() string {
	return s.path
}
