package audio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrSourceClosed is returned by ReadFrame after Close.
var ErrSourceClosed = errors.New("audio: source closed")

// Microphone acquires capture sources. Open failures caused by the device
// being refused or unavailable are reported as core permission errors.
type Microphone interface {
	Open(ctx context.Context, frameSize int) (Source, error)
}

// Source is an acquired microphone producing fixed-size mono frames at its
// native rate. Close releases the device and is safe to call repeatedly.
type Source interface {
	SampleRate() int
	ReadFrame(ctx context.Context) ([]float32, error)
	Close() error
}

// Capture turns frames from a Source into encoded uplink audio.
type Capture struct {
	// TargetRate is the uplink sample rate. Zero means InputSampleRate.
	TargetRate int
	// OnVolume receives the level of every frame before it is sent.
	OnVolume func(float64)
	// OnFrame, if set, receives every encoded frame (session recording).
	OnFrame func([]byte)
	Logger  *slog.Logger
}

// ProcessFrame downsamples frame to targetRate, measures its volume on the
// original samples, and encodes it as PCM16.
func ProcessFrame(frame []float32, deviceRate, targetRate int) ([]byte, float64) {
	vol := Volume(frame)
	if deviceRate != targetRate {
		frame = Downsample(frame, deviceRate, targetRate)
	}
	return EncodePCM16(frame), vol
}

// Run pumps frames from src to send until ctx is cancelled, the source ends,
// or send fails. Frames are sent in capture order. A cancelled context or an
// exhausted source is a clean stop and returns nil.
func (c *Capture) Run(ctx context.Context, src Source, send func([]byte) error) error {
	target := c.TargetRate
	if target <= 0 {
		target = InputSampleRate
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var frames int
	defer func() {
		logger.Debug("capture stopped", "frames", frames)
	}()

	for {
		frame, err := src.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, ErrSourceClosed) {
				return nil
			}
			return err
		}
		encoded, vol := ProcessFrame(frame, src.SampleRate(), target)
		if c.OnVolume != nil {
			c.OnVolume(vol)
		}
		if c.OnFrame != nil {
			c.OnFrame(encoded)
		}
		if err := send(encoded); err != nil {
			return err
		}
		frames++
	}
}

// frameQueue re-chunks device callbacks into fixed frames. push runs on the
// audio thread and never blocks; frames are dropped when the reader lags.
type frameQueue struct {
	size    int
	mu      sync.Mutex
	pending []float32
	frames  chan []float32
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
}

func newFrameQueue(size, depth int) *frameQueue {
	if size <= 0 {
		size = DefaultFrameSize
	}
	if depth <= 0 {
		depth = 32
	}
	return &frameQueue{
		size:   size,
		frames: make(chan []float32, depth),
		done:   make(chan struct{}),
	}
}

func (q *frameQueue) push(samples []float32) {
	select {
	case <-q.done:
		return
	default:
	}

	q.mu.Lock()
	q.pending = append(q.pending, samples...)
	var ready [][]float32
	for len(q.pending) >= q.size {
		frame := make([]float32, q.size)
		copy(frame, q.pending[:q.size])
		q.pending = append(q.pending[:0], q.pending[q.size:]...)
		ready = append(ready, frame)
	}
	q.mu.Unlock()

	for _, frame := range ready {
		select {
		case q.frames <- frame:
		default:
			q.dropped.Add(1)
		}
	}
}

func (q *frameQueue) next(ctx context.Context) ([]float32, error) {
	select {
	case frame := <-q.frames:
		return frame, nil
	case <-q.done:
		return nil, ErrSourceClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *frameQueue) close() {
	q.once.Do(func() { close(q.done) })
}
