package recognizer

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"
	"strings"

	"github.com/mjibson/go-dsp/fft"

	"github.com/joss/aaroh/internal/audio"
	"github.com/joss/aaroh/internal/timeline"
)

const (
	chromaWindow  = 4096
	chromaHop     = 2048
	chromaMinFreq = 60.0
	chromaMaxFreq = 2000.0
	silenceRMS    = 0.01
)

var pitchClasses = []string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// template is a triad as a 12-bin pitch class profile.
type template struct {
	label   string
	profile [12]float64
}

// ChromaRecognizer matches the pitch class profile of a WAV chunk against
// major and minor triad templates. It needs no external service, which
// makes it the default for offline practice.
type ChromaRecognizer struct {
	templates []template
}

// NewChroma creates a recognizer over all 24 major and minor triads, or
// only over labels when given (for example the chords of a schedule).
// Labels other than plain major or minor triads are matched by their
// root and third.
func NewChroma(labels ...string) *ChromaRecognizer {
	c := &ChromaRecognizer{}
	if len(labels) == 0 {
		for _, root := range pitchClasses {
			labels = append(labels, root, root+"m")
		}
	}
	seen := map[string]bool{}
	for _, l := range labels {
		if seen[l] {
			continue
		}
		seen[l] = true
		if t, ok := triad(l); ok {
			c.templates = append(c.templates, t)
		}
	}
	return c
}

func triad(label string) (template, bool) {
	norm := timeline.NormalizeChord(label)
	if norm == "" {
		return template{}, false
	}
	rootLen := 1
	if len(norm) > 1 && norm[1] == '#' {
		rootLen = 2
	}
	root := -1
	for i, pc := range pitchClasses {
		if pc == norm[:rootLen] {
			root = i
		}
	}
	if root < 0 {
		return template{}, false
	}
	rest := norm[rootLen:]
	third := 4
	if strings.HasPrefix(rest, "m") && !strings.HasPrefix(rest, "maj") {
		third = 3
	}

	t := template{label: label}
	t.profile[root] = 1
	t.profile[(root+third)%12] = 1
	t.profile[(root+7)%12] = 1
	return t, true
}

// Recognize implements Recognizer. Silent chunks yield an empty chord.
func (c *ChromaRecognizer) Recognize(ctx context.Context, payload []byte) (Result, error) {
	clip, err := audio.DecodeWAVBytes(payload)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	if audio.RMS(clip.Samples) < silenceRMS {
		return Result{}, nil
	}

	chroma, err := Chromagram(ctx, clip.Samples, clip.SampleRate)
	if err != nil {
		return Result{}, err
	}

	best, bestScore := "", 0.0
	for _, t := range c.templates {
		if s := cosine(chroma, t.profile); s > bestScore {
			best, bestScore = t.label, s
		}
	}
	return Result{Chord: best, Confidence: math.Round(bestScore*1000) / 1000}, nil
}

// Chromagram sums the Hann-windowed magnitude spectrum of samples into
// 12 pitch classes (C = 0).
func Chromagram(ctx context.Context, samples []float64, sampleRate int) ([12]float64, error) {
	var chroma [12]float64

	window := make([]float64, chromaWindow)
	for i := range window {
		window[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(chromaWindow-1))
	}

	// Precompute the pitch class of every usable bin.
	binHz := float64(sampleRate) / float64(chromaWindow)
	classes := make([]int, chromaWindow/2)
	for k := range classes {
		f := float64(k) * binHz
		if f < chromaMinFreq || f > chromaMaxFreq {
			classes[k] = -1
			continue
		}
		midi := 69 + 12*math.Log2(f/440)
		classes[k] = ((int(math.Round(midi)) % 12) + 12) % 12
	}

	frame := make([]float64, chromaWindow)
	for start := 0; start < len(samples); start += chromaHop {
		if err := ctx.Err(); err != nil {
			return chroma, err
		}
		for i := range frame {
			frame[i] = 0
			if start+i < len(samples) {
				frame[i] = samples[start+i] * window[i]
			}
		}
		spectrum := fft.FFTReal(frame)
		for k, pc := range classes {
			if pc >= 0 {
				chroma[pc] += cmplx.Abs(spectrum[k])
			}
		}
		if start+chromaWindow >= len(samples) {
			break
		}
	}
	return chroma, nil
}

func cosine(a, b [12]float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / math.Sqrt(na*nb)
}
