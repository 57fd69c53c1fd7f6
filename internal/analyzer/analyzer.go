// Package analyzer estimates tempo and musical key from the extracted
// audio. Tempo comes from autocorrelation of an onset-energy envelope; key
// comes from Goertzel chroma correlated against the Krumhansl-Schmuckler
// key profiles.
package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/karaforge/karaforge/internal/audio"
)

// Analysis is the result of one audio analysis pass.
type Analysis struct {
	// BPM is the estimated tempo, rounded to one decimal.
	BPM float64 `json:"bpm"`
	// Key is the estimated key, e.g. "A minor".
	Key string `json:"key"`
	// KeyConfidence is in [0, 1].
	KeyConfidence float64 `json:"key_confidence"`
}

// keyNames is the chromatic pitch-class order used for key naming.
var keyNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// Krumhansl-Schmuckler tone profiles.
var (
	majorProfile = [12]float64{6.35, 2.23, 3.48, 2.33, 4.38, 4.09, 2.52, 5.19, 2.39, 3.66, 2.29, 2.88}
	minorProfile = [12]float64{6.33, 2.68, 3.52, 5.38, 2.60, 3.53, 2.54, 4.75, 3.98, 2.69, 3.34, 3.17}
)

// Tempo search bounds in beats per minute.
const (
	minBPM = 60.0
	maxBPM = 200.0
)

// Analyzer computes Analysis results from WAV files.
type Analyzer struct {
	logger *slog.Logger
}

// New creates an Analyzer.
func New(logger *slog.Logger) *Analyzer {
	return &Analyzer{logger: logger.With("component", "analyzer")}
}

// Analyze decodes audioPath and estimates its tempo and key.
func (a *Analyzer) Analyze(ctx context.Context, audioPath string) (*Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	wav, err := audio.DecodeWAVFile(audioPath)
	if err != nil {
		return nil, fmt.Errorf("decoding analysis input: %w", err)
	}
	samples := audio.MonoFloat64(wav.Data, wav.Channels)
	if len(samples) == 0 {
		return nil, fmt.Errorf("analysis input has no samples")
	}

	bpm := estimateBPM(samples, wav.SampleRate)
	key, confidence := estimateKey(samples, wav.SampleRate)

	result := &Analysis{
		BPM:           math.Round(bpm*10) / 10,
		Key:           key,
		KeyConfidence: confidence,
	}
	a.logger.Info("audio analyzed", "bpm", result.BPM, "key", result.Key, "confidence", result.KeyConfidence)
	return result, nil
}

// estimateBPM autocorrelates an onset-energy envelope and picks the lag
// with the strongest periodicity inside the tempo search range.
func estimateBPM(samples []float64, sampleRate int) float64 {
	const hop = 512
	frames := len(samples) / hop
	if frames < 8 {
		return 0
	}

	// Onset envelope: positive energy flux between consecutive frames.
	energy := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for j := i * hop; j < (i+1)*hop; j++ {
			sum += samples[j] * samples[j]
		}
		energy[i] = sum
	}
	onset := make([]float64, frames)
	for i := 1; i < frames; i++ {
		if d := energy[i] - energy[i-1]; d > 0 {
			onset[i] = d
		}
	}

	// Remove the mean so the autocorrelation peaks on periodicity, not on
	// overall loudness.
	var mean float64
	for _, v := range onset {
		mean += v
	}
	mean /= float64(frames)
	for i := range onset {
		onset[i] -= mean
	}

	envRate := float64(sampleRate) / hop
	minLag := int(envRate * 60.0 / maxBPM)
	maxLag := int(envRate * 60.0 / minBPM)
	if maxLag >= frames {
		maxLag = frames - 1
	}
	if minLag < 1 {
		minLag = 1
	}

	bestLag, bestCorr := 0, 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		var corr float64
		for i := lag; i < frames; i++ {
			corr += onset[i] * onset[i-lag]
		}
		if corr > bestCorr {
			bestCorr = corr
			bestLag = lag
		}
	}
	if bestLag == 0 {
		return 0
	}
	return 60.0 * envRate / float64(bestLag)
}

// estimateKey builds a chroma vector with Goertzel filters over five
// octaves and correlates it against all 24 rotated key profiles.
func estimateKey(samples []float64, sampleRate int) (string, float64) {
	chroma := chromaVector(samples, sampleRate)

	bestKey := ""
	bestCorr := -2.0
	for root := 0; root < 12; root++ {
		if r := correlation(chroma[:], rotated(majorProfile, root)); r > bestCorr {
			bestCorr = r
			bestKey = keyNames[root] + " major"
		}
		if r := correlation(chroma[:], rotated(minorProfile, root)); r > bestCorr {
			bestCorr = r
			bestKey = keyNames[root] + " minor"
		}
	}

	confidence := (bestCorr + 1) / 2
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return bestKey, confidence
}

// chromaVector accumulates Goertzel magnitudes for each pitch class from
// C2 (MIDI 36) through B6 (MIDI 83).
func chromaVector(samples []float64, sampleRate int) [12]float64 {
	var chroma [12]float64

	// Bound the analysis window so long tracks stay cheap. 30 seconds
	// from the middle of the track avoids intros and outros.
	maxLen := sampleRate * 30
	if len(samples) > maxLen {
		start := (len(samples) - maxLen) / 2
		samples = samples[start : start+maxLen]
	}

	for midi := 36; midi <= 83; midi++ {
		freq := 440.0 * math.Pow(2, (float64(midi)-69)/12)
		if freq >= float64(sampleRate)/2 {
			break
		}
		mag := goertzel(samples, sampleRate, freq)
		chroma[midi%12] += mag
	}
	return chroma
}

// goertzel computes the magnitude of a single frequency component.
func goertzel(samples []float64, sampleRate int, freq float64) float64 {
	omega := 2 * math.Pi * freq / float64(sampleRate)
	coeff := 2 * math.Cos(omega)

	var s0, s1, s2 float64
	for _, x := range samples {
		s0 = x + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}
	power := s1*s1 + s2*s2 - coeff*s1*s2
	if power < 0 {
		power = 0
	}
	return math.Sqrt(power) / float64(len(samples))
}

// rotated returns the profile shifted so index 0 lines up with root.
func rotated(profile [12]float64, root int) []float64 {
	out := make([]float64, 12)
	for i := 0; i < 12; i++ {
		out[i] = profile[(i-root+12)%12]
	}
	return out
}

// correlation is the Pearson correlation of two equal-length vectors.
func correlation(a, b []float64) float64 {
	n := float64(len(a))
	var sumA, sumB float64
	for i := range a {
		sumA += a[i]
		sumB += b[i]
	}
	meanA, meanB := sumA/n, sumB/n

	var cov, varA, varB float64
	for i := range a {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}

// TransposeKey shifts a key name by the given number of semitones,
// preserving its mode. Unknown key strings are returned unchanged.
func TransposeKey(key string, semitones int) string {
	parts := strings.SplitN(key, " ", 2)
	if len(parts) != 2 {
		return key
	}
	root := -1
	for i, name := range keyNames {
		if name == parts[0] {
			root = i
			break
		}
	}
	if root == -1 {
		return key
	}
	shifted := ((root+semitones)%12 + 12) % 12
	return keyNames[shifted] + " " + parts[1]
}
