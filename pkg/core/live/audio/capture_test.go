package audio

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"
)

type sliceSource struct {
	rate   int
	frames [][]float32
	closed bool
}

func (s *sliceSource) SampleRate() int { return s.rate }

func (s *sliceSource) ReadFrame(ctx context.Context) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.frames) == 0 {
		return nil, io.EOF
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, nil
}

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

func ramp(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i%100) / 100
	}
	return out
}

func TestCapture_RunDownsamplesInOrder(t *testing.T) {
	src := &sliceSource{rate: 48000, frames: [][]float32{ramp(960), make([]float32, 960), ramp(960)}}
	var volumes []float64
	var sent [][]byte
	c := &Capture{TargetRate: 16000, OnVolume: func(v float64) { volumes = append(volumes, v) }}

	err := c.Run(context.Background(), src, func(b []byte) error {
		sent = append(sent, b)
		return nil
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(sent) != 3 {
		t.Fatalf("sent %d frames, want 3", len(sent))
	}
	for i, b := range sent {
		if len(b) != 320*2 {
			t.Fatalf("frame %d = %d bytes, want 640", i, len(b))
		}
	}
	if volumes[1] != 0 || volumes[0] == 0 {
		t.Fatalf("unexpected volumes %v", volumes)
	}

	decoded, _ := DecodePCM16(sent[0])
	want, _ := DecodePCM16(EncodePCM16([]float32{ramp(960)[3]}))
	if decoded[1] != want[0] {
		t.Fatalf("sample 1 = %d, want input[3] encoded %d", decoded[1], want[0])
	}
}

func TestCapture_SendErrorStops(t *testing.T) {
	src := &sliceSource{rate: 16000, frames: [][]float32{ramp(10), ramp(10)}}
	boom := errors.New("send failed")
	calls := 0
	err := (&Capture{}).Run(context.Background(), src, func([]byte) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Run err = %v, want %v", err, boom)
	}
	if calls != 1 {
		t.Fatalf("send called %d times, want 1", calls)
	}
}

func TestCapture_CancelledContextIsCleanStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &sliceSource{rate: 16000, frames: [][]float32{ramp(10)}}
	if err := (&Capture{}).Run(ctx, src, func([]byte) error { return nil }); err != nil {
		t.Fatalf("Run err = %v, want nil", err)
	}
}

func TestFrameQueue_RechunksAndDropsWhenFull(t *testing.T) {
	q := newFrameQueue(4, 2)
	q.push([]float32{1, 2, 3})
	q.push([]float32{4, 5, 6, 7, 8, 9, 10, 11, 12, 13})

	f, err := q.next(context.Background())
	if err != nil {
		t.Fatalf("next error: %v", err)
	}
	if f[0] != 1 || f[3] != 4 {
		t.Fatalf("first frame = %v", f)
	}
	f, _ = q.next(context.Background())
	if f[0] != 5 {
		t.Fatalf("second frame = %v", f)
	}
	if q.dropped.Load() != 1 {
		t.Fatalf("dropped = %d, want 1", q.dropped.Load())
	}

	q.close()
	q.close()
	if _, err := q.next(context.Background()); !errors.Is(err, ErrSourceClosed) {
		t.Fatalf("next after close err = %v", err)
	}
}

func TestRecorderAndWAVMicrophone_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	rec := NewRecorder(dir, "sess", 16000, 24000)
	rec.AddInput(EncodePCM16([]float32{0.5, -0.5, 0.25, 0}))
	rec.AddOutput(EncodePCM16([]float32{0.1}), 24000)

	paths, err := rec.Close()
	if err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("paths = %v, want 2 files", paths)
	}
	if again, _ := rec.Close(); again != nil {
		t.Fatalf("second Close wrote %v", again)
	}

	mic := &WAVMicrophone{Path: filepath.Join(dir, "sess-mic.wav")}
	src, err := mic.Open(context.Background(), 3)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer src.Close()
	if src.SampleRate() != 16000 {
		t.Fatalf("SampleRate = %d, want 16000", src.SampleRate())
	}

	first, err := src.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("ReadFrame error: %v", err)
	}
	if d := first[0] - 0.5; d > 0.001 || d < -0.001 {
		t.Fatalf("first sample = %v, want ~0.5", first[0])
	}
	second, err := src.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("ReadFrame error: %v", err)
	}
	if len(second) != 3 || second[1] != 0 {
		t.Fatalf("tail frame = %v, want zero padded", second)
	}
	if _, err := src.ReadFrame(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("ReadFrame at end err = %v, want EOF", err)
	}
}

func TestRecorder_ModelTrackKeepsTime(t *testing.T) {
	dir := t.TempDir()
	rec := NewRecorder(dir, "sess", 16000, 24000)
	// 100ms at 24 kHz plus 100ms at 16 kHz.
	rec.AddOutput(make([]byte, 2400*2), 24000)
	rec.AddOutput(make([]byte, 1600*2), 16000)
	if _, err := rec.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	samples, rate, err := loadWAV(filepath.Join(dir, "sess-model.wav"))
	if err != nil {
		t.Fatalf("loadWAV error: %v", err)
	}
	if rate != 24000 {
		t.Fatalf("rate = %d, want 24000", rate)
	}
	if got := SamplesDuration(len(samples), rate); got != 200*time.Millisecond {
		t.Fatalf("model track lasts %v, want 200ms", got)
	}
}

func TestWAVMicrophone_MissingFileIsPermissionError(t *testing.T) {
	mic := &WAVMicrophone{Path: filepath.Join(t.TempDir(), "missing.wav")}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := mic.Open(ctx, 0); err == nil {
		t.Fatalf("expected error")
	}
}
