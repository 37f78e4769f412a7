// Package audio holds the capture and playback halves of a live voice
// session: frame conversion for the uplink, a gapless playback scheduler for
// the downlink, and the device bindings behind them.
package audio

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/vango-go/vai-journal/pkg/core"
)

const (
	// InputSampleRate is the rate the model expects for microphone audio.
	InputSampleRate = 16000
	// OutputSampleRate is the rate of model audio replies.
	OutputSampleRate = 24000
	// DefaultFrameSize is the number of device samples per capture frame.
	DefaultFrameSize = 4096

	volumeStride = 4
)

// Downsample converts in from fromRate to toRate by nearest neighbour.
// The output has ceil(len(in)/ratio) samples and out[i] = in[floor(i*ratio)],
// so a device slower than toRate is upsampled by repeating samples. Equal
// rates copy the input unchanged.
func Downsample(in []float32, fromRate, toRate int) []float32 {
	return resample(in, fromRate, toRate)
}

// Resample16 is Downsample for decoded PCM16 samples.
func Resample16(in []int16, fromRate, toRate int) []int16 {
	return resample(in, fromRate, toRate)
}

func resample[T float32 | int16](in []T, fromRate, toRate int) []T {
	if fromRate <= 0 || toRate <= 0 || fromRate == toRate {
		out := make([]T, len(in))
		copy(out, in)
		return out
	}
	ratio := float64(fromRate) / float64(toRate)
	n := int(math.Ceil(float64(len(in)) / ratio))
	out := make([]T, n)
	for i := range out {
		idx := int(math.Floor(float64(i) * ratio))
		if idx >= len(in) {
			idx = len(in) - 1
		}
		out[i] = in[idx]
	}
	return out
}

// Volume is the RMS of every 4th sample of frame. It is a cheap level
// meter for the UI, not a loudness measurement.
func Volume(frame []float32) float64 {
	var sum float64
	var count int
	for i := 0; i < len(frame); i += volumeStride {
		s := float64(frame[i])
		sum += s * s
		count++
	}
	if count == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(count))
}

// EncodePCM16 converts float samples in [-1, 1] to 16-bit little-endian PCM.
// Out-of-range samples are clamped.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var v int16
		if s < 0 {
			v = int16(s * 0x8000)
		} else {
			v = int16(s * 0x7FFF)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// DecodePCM16 converts 16-bit little-endian PCM to samples.
func DecodePCM16(pcm []byte) ([]int16, error) {
	if len(pcm)%2 != 0 {
		return nil, core.NewAudioError("pcm16 chunk has odd byte length", nil)
	}
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out, nil
}

// CalculateRMSEnergy is the RMS level of a PCM16 LE chunk, in [0, 1].
func CalculateRMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < len(pcm)-1; i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}

	return math.Sqrt(sum / float64(samples))
}

// SamplesDuration returns how long n samples last at rate.
func SamplesDuration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(rate)
}
