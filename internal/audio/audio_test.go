package audio

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeWAVHeader(t *testing.T) {
	data := EncodeWAV([]float64{0, 0.5, -0.5, 2}, 8000)

	require.Len(t, data, 44+8)
	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))
	assert.Equal(t, "data", string(data[36:40]))
	assert.Equal(t, uint32(8000), binary.LittleEndian.Uint32(data[24:28]))
	assert.Equal(t, uint32(8), binary.LittleEndian.Uint32(data[40:44]))

	// Out-of-range samples are clamped.
	last := int16(binary.LittleEndian.Uint16(data[50:52]))
	assert.Equal(t, int16(32767), last)
}

func TestWAVRoundTrip(t *testing.T) {
	in := Tone([]float64{440}, 8000, 0.25)
	clip, err := DecodeWAVBytes(EncodeWAV(in, 8000))
	require.NoError(t, err)

	assert.Equal(t, 8000, clip.SampleRate)
	require.Len(t, clip.Samples, len(in))
	for i := range in {
		assert.InDelta(t, in[i], clip.Samples[i], 1e-3)
	}
	assert.Equal(t, 250*time.Millisecond, clip.Duration())
}

func TestReadWAVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "take.wav")
	require.NoError(t, os.WriteFile(path, EncodeWAV(make([]float64, 100), 16000), 0644))

	clip, err := ReadWAVFile(path)
	require.NoError(t, err)
	assert.Len(t, clip.Samples, 100)

	_, err = ReadWAVFile(filepath.Join(t.TempDir(), "missing.wav"))
	assert.Error(t, err)
}

func TestDecodeWAV_Garbage(t *testing.T) {
	_, err := DecodeWAVBytes([]byte("not a wav file at all"))
	assert.Error(t, err)
}

func TestResample(t *testing.T) {
	in := []float64{0, 1, 2, 3, 4, 5, 6, 7}

	assert.Equal(t, in, Resample(in, 100, 100))

	down := Resample(in, 8, 4)
	assert.Equal(t, []float64{0, 2, 4, 6}, down)

	up := Resample([]float64{0, 1}, 1, 2)
	assert.Equal(t, []float64{0, 0.5, 1, 1}, up)
}

func TestRMSAndTone(t *testing.T) {
	assert.Equal(t, 0.0, RMS(nil))
	assert.Equal(t, 0.0, RMS(Tone(nil, 8000, 0.1)))

	sine := Tone([]float64{100}, 8000, 1)
	assert.InDelta(t, 0.8/math.Sqrt2, RMS(sine), 1e-3)
	for _, s := range Tone([]float64{100, 200, 300}, 8000, 0.1) {
		assert.LessOrEqual(t, math.Abs(s), 0.8+1e-9)
	}
}
