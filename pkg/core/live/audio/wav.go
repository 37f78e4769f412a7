package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	wav "github.com/youpy/go-wav"

	"github.com/vango-go/vai-journal/pkg/core"
)

// WAVMicrophone replays a WAV file as if it were a microphone. It is used
// for headless runs and for tests.
type WAVMicrophone struct {
	Path string
	// Realtime paces frames at the file's sample rate.
	Realtime bool
}

func (m *WAVMicrophone) Open(ctx context.Context, frameSize int) (Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if frameSize <= 0 {
		frameSize = DefaultFrameSize
	}
	samples, rate, err := loadWAV(m.Path)
	if err != nil {
		return nil, core.NewPermissionError("open wav input "+m.Path, err)
	}
	return &wavSource{
		samples:   samples,
		rate:      rate,
		frameSize: frameSize,
		realtime:  m.Realtime,
		done:      make(chan struct{}),
	}, nil
}

func loadWAV(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	r := wav.NewReader(f)
	format, err := r.Format()
	if err != nil {
		return nil, 0, fmt.Errorf("wav format: %w", err)
	}
	channels := int(format.NumChannels)
	if channels < 1 || channels > 2 {
		return nil, 0, fmt.Errorf("wav: only mono or stereo supported, got %d channels", channels)
	}

	var out []float32
	for {
		chunk, err := r.ReadSamples()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("read wav samples: %w", err)
		}
		for _, s := range chunk {
			v := r.FloatValue(s, 0)
			if channels == 2 {
				v = (v + r.FloatValue(s, 1)) / 2
			}
			out = append(out, float32(v))
		}
	}
	return out, int(format.SampleRate), nil
}

type wavSource struct {
	samples   []float32
	rate      int
	frameSize int
	realtime  bool

	mu   sync.Mutex
	pos  int
	last time.Time
	done chan struct{}
	once sync.Once
}

func (s *wavSource) SampleRate() int { return s.rate }

// ReadFrame returns the next frame, zero padding the tail, then io.EOF.
func (s *wavSource) ReadFrame(ctx context.Context) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return nil, ErrSourceClosed
	default:
	}
	if s.pos >= len(s.samples) {
		return nil, io.EOF
	}

	if s.realtime && !s.last.IsZero() {
		wait := time.Until(s.last.Add(SamplesDuration(s.frameSize, s.rate)))
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-s.done:
				timer.Stop()
				return nil, ErrSourceClosed
			}
		}
	}
	s.last = time.Now()

	frame := make([]float32, s.frameSize)
	s.pos += copy(frame, s.samples[s.pos:])
	return frame, nil
}

func (s *wavSource) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// Recorder keeps the uplink and downlink audio of one session and writes
// them as WAV files when closed.
type Recorder struct {
	dir        string
	sessionID  string
	inputRate  int
	outputRate int

	mu     sync.Mutex
	input  []int16
	output []int16
	closed bool
}

// NewRecorder creates a recorder writing into dir.
func NewRecorder(dir, sessionID string, inputRate, outputRate int) *Recorder {
	return &Recorder{dir: dir, sessionID: sessionID, inputRate: inputRate, outputRate: outputRate}
}

// AddInput appends an encoded uplink frame, already at the input rate.
func (r *Recorder) AddInput(pcm []byte) { r.add(pcm, r.inputRate, true) }

// AddOutput appends an encoded model audio chunk played at rate. Chunks
// at another rate than the track are converted so the file keeps time.
func (r *Recorder) AddOutput(pcm []byte, rate int) { r.add(pcm, rate, false) }

func (r *Recorder) add(pcm []byte, rate int, input bool) {
	samples, err := DecodePCM16(pcm)
	if err != nil {
		return
	}
	track := r.outputRate
	if input {
		track = r.inputRate
	}
	if rate > 0 && rate != track {
		samples = Resample16(samples, rate, track)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if input {
		r.input = append(r.input, samples...)
	} else {
		r.output = append(r.output, samples...)
	}
}

// Close writes <session>-mic.wav and <session>-model.wav and returns the
// paths written. Later calls do nothing.
func (r *Recorder) Close() ([]string, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, nil
	}
	r.closed = true
	input, output := r.input, r.output
	r.input, r.output = nil, nil
	r.mu.Unlock()

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create record dir: %w", err)
	}
	var paths []string
	for _, track := range []struct {
		suffix  string
		rate    int
		samples []int16
	}{
		{"mic", r.inputRate, input},
		{"model", r.outputRate, output},
	} {
		if len(track.samples) == 0 {
			continue
		}
		path := filepath.Join(r.dir, fmt.Sprintf("%s-%s.wav", r.sessionID, track.suffix))
		if err := writeWAV(path, track.samples, track.rate); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeWAV(path string, samples []int16, rate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	wavSamples := make([]wav.Sample, len(samples))
	for i, v := range samples {
		wavSamples[i] = wav.Sample{Values: [2]int{int(v), 0}}
	}
	w := wav.NewWriter(f, uint32(len(wavSamples)), 1, uint32(rate), 16)
	if err := w.WriteSamples(wavSamples); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
