package audio

import "math"

// Resample converts samples between rates using linear interpolation.
func Resample(samples []float64, fromRate, toRate int) []float64 {
	if fromRate == toRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	n := int(float64(len(samples)) / ratio)
	out := make([]float64, n)

	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		switch {
		case idx+1 < len(samples):
			out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
		case idx < len(samples):
			out[i] = samples[idx]
		default:
			out[i] = samples[len(samples)-1]
		}
	}
	return out
}

// RMS returns the root mean square level of samples.
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Tone synthesizes the sum of sine waves at freqs, scaled to stay within [-1, 1].
func Tone(freqs []float64, sampleRate int, seconds float64) []float64 {
	n := int(float64(sampleRate) * seconds)
	out := make([]float64, n)
	if len(freqs) == 0 {
		return out
	}
	amp := 0.8 / float64(len(freqs))
	for i := range out {
		t := float64(i) / float64(sampleRate)
		for _, f := range freqs {
			out[i] += amp * math.Sin(2*math.Pi*f*t)
		}
	}
	return out
}
