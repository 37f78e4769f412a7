package audio

import (
	"log/slog"
	"sync"
	"time"
)

// Output is a playback clock that can start buffers at a given time. It
// plays the role of an audio context: Now is the device clock and Close
// releases the device.
type Output interface {
	Now() time.Duration
	// Schedule starts samples (mono, at rate) at time at. ended is called
	// once after the last sample has been played, unless the voice is
	// stopped first.
	Schedule(samples []int16, rate int, at time.Duration, ended func()) Voice
	Close() error
}

// Voice is one scheduled buffer.
type Voice interface {
	Stop()
}

// Scheduler plays model audio chunks back to back on an Output.
//
// Each chunk starts at max(next, now) and advances next by its duration,
// so chunks arriving in bursts neither overlap nor leave gaps. Interrupt
// drops everything queued and resets the cursor.
type Scheduler struct {
	out    Output
	logger *slog.Logger

	mu      sync.Mutex
	next    time.Duration
	seq     uint64
	pending map[uint64]Voice
	closed  bool
}

// NewScheduler creates a scheduler over out.
func NewScheduler(out Output, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		out:     out,
		logger:  logger,
		pending: make(map[uint64]Voice),
	}
}

// Enqueue decodes a PCM16 chunk recorded at sampleRate and schedules it.
// It returns the start time. Undecodable chunks return an audio error and
// schedule nothing.
func (s *Scheduler) Enqueue(chunk []byte, sampleRate int) (time.Duration, error) {
	samples, err := DecodePCM16(chunk)
	if err != nil {
		return 0, err
	}
	if len(samples) == 0 || sampleRate <= 0 {
		return 0, nil
	}
	dur := SamplesDuration(len(samples), sampleRate)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, nil
	}

	startAt := s.next
	if now := s.out.Now(); now > startAt {
		startAt = now
	}
	id := s.seq
	s.seq++
	s.pending[id] = s.out.Schedule(samples, sampleRate, startAt, func() { s.ended(id) })
	s.next = startAt + dur
	return startAt, nil
}

func (s *Scheduler) ended(id uint64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// Interrupt stops every pending buffer, clears the set and resets the
// cursor so the next chunk starts at the current clock time.
func (s *Scheduler) Interrupt() int {
	s.mu.Lock()
	voices := s.pending
	s.pending = make(map[uint64]Voice)
	s.next = 0
	s.mu.Unlock()

	for _, v := range voices {
		v.Stop()
	}
	if len(voices) > 0 {
		s.logger.Debug("playback interrupted", "stopped", len(voices))
	}
	return len(voices)
}

// Pending returns how many buffers are scheduled or playing.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// NextStart returns the playback cursor.
func (s *Scheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Close stops all pending buffers. Later Enqueue calls are ignored.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Interrupt()
}
