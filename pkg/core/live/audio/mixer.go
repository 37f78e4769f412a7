package audio

import (
	"encoding/binary"
	"io"
	"math"
	"sync"
	"time"
)

// Mixer is a software Output. It renders scheduled voices into PCM16 LE at
// its own rate when read, and the number of samples read so far is its
// clock. A device player drains it; tests read it directly.
type Mixer struct {
	rate int

	mu     sync.Mutex
	pos    int64
	voices []*mixerVoice
	closed bool
	acc    []int32
}

// NewMixer creates a mixer producing mono audio at rate.
func NewMixer(rate int) *Mixer {
	if rate <= 0 {
		rate = OutputSampleRate
	}
	return &Mixer{rate: rate}
}

// Rate returns the output sample rate.
func (m *Mixer) Rate() int { return m.rate }

// Now returns the playback position.
func (m *Mixer) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return SamplesDuration(int(m.pos), m.rate)
}

type mixerVoice struct {
	mixer   *Mixer
	samples []int16
	rate    int
	start   int64
	length  int64
	ended   func()
	stopped bool
}

// Schedule places samples on the timeline. Voices at another rate are
// converted by nearest neighbour as they are rendered.
func (m *Mixer) Schedule(samples []int16, rate int, at time.Duration, ended func()) Voice {
	v := &mixerVoice{
		mixer:   m,
		samples: samples,
		rate:    rate,
		start:   int64(math.Round(at.Seconds() * float64(m.rate))),
		length:  int64(math.Ceil(float64(len(samples)) * float64(m.rate) / float64(rate))),
		ended:   ended,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		v.stopped = true
		return v
	}
	m.voices = append(m.voices, v)
	return v
}

func (v *mixerVoice) sample(offset int64) int32 {
	idx := offset
	if v.rate != v.mixer.rate {
		idx = offset * int64(v.rate) / int64(v.mixer.rate)
	}
	if idx >= int64(len(v.samples)) {
		return 0
	}
	return int32(v.samples[idx])
}

// Stop removes the voice without firing ended.
func (v *mixerVoice) Stop() {
	m := v.mixer
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.stopped {
		return
	}
	v.stopped = true
	for i, other := range m.voices {
		if other == v {
			m.voices = append(m.voices[:i], m.voices[i+1:]...)
			break
		}
	}
}

// Read renders the next len(p)/2 samples and advances the clock. It never
// blocks; with nothing scheduled it produces silence. After Close it
// returns io.EOF.
func (m *Mixer) Read(p []byte) (int, error) {
	n := len(p) / 2
	if n == 0 {
		return 0, nil
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, io.EOF
	}
	if cap(m.acc) < n {
		m.acc = make([]int32, n)
	}
	acc := m.acc[:n]
	for i := range acc {
		acc[i] = 0
	}

	from := m.pos
	to := from + int64(n)
	var finished []*mixerVoice
	kept := m.voices[:0]
	for _, v := range m.voices {
		end := v.start + v.length
		lo := max(from, v.start)
		hi := min(to, end)
		for t := lo; t < hi; t++ {
			acc[t-from] += v.sample(t - v.start)
		}
		if end <= to {
			v.stopped = true
			finished = append(finished, v)
			continue
		}
		kept = append(kept, v)
	}
	for i := len(kept); i < len(m.voices); i++ {
		m.voices[i] = nil
	}
	m.voices = kept
	m.pos = to

	for i, s := range acc {
		if s > math.MaxInt16 {
			s = math.MaxInt16
		} else if s < math.MinInt16 {
			s = math.MinInt16
		}
		binary.LittleEndian.PutUint16(p[i*2:], uint16(int16(s)))
	}
	m.mu.Unlock()

	for _, v := range finished {
		if v.ended != nil {
			v.ended()
		}
	}
	return n * 2, nil
}

// Active returns the number of voices not yet finished or stopped.
func (m *Mixer) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.voices)
}

// Close drops every voice and ends the stream.
func (m *Mixer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.voices {
		v.stopped = true
	}
	m.voices = nil
	m.closed = true
	return nil
}
