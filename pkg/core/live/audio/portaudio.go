//go:build portaudio

package audio

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/vango-go/vai-journal/pkg/core"
)

func init() {
	registerMicrophone("portaudio", func(rate int, logger *slog.Logger) Microphone {
		return &PortAudioMicrophone{SampleRate: rate, Logger: logger}
	})
}

// PortAudioMicrophone captures from the default input device through
// PortAudio. Build with -tags portaudio.
type PortAudioMicrophone struct {
	// SampleRate requests a device rate; zero uses the device default.
	SampleRate int
	Logger     *slog.Logger
}

func (m *PortAudioMicrophone) Open(ctx context.Context, frameSize int) (Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if frameSize <= 0 {
		frameSize = DefaultFrameSize
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, core.NewPermissionError("initialize portaudio", err)
	}

	rate := float64(m.SampleRate)
	if rate <= 0 {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			_ = portaudio.Terminate()
			return nil, core.NewPermissionError("find default microphone", err)
		}
		rate = dev.DefaultSampleRate
	}

	buf := make([]float32, frameSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, rate, frameSize, buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, core.NewPermissionError("open microphone", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, core.NewPermissionError("start microphone", err)
	}

	src := &portAudioSource{
		stream: stream,
		buf:    buf,
		rate:   int(rate),
		queue:  newFrameQueue(frameSize, 0),
		logger: logger,
		done:   make(chan struct{}),
	}
	go src.readLoop()
	logger.Debug("microphone opened", "backend", "portaudio", "sample_rate", src.rate, "frame_size", frameSize)
	return src, nil
}

type portAudioSource struct {
	stream *portaudio.Stream
	buf    []float32
	rate   int
	queue  *frameQueue
	logger *slog.Logger
	done   chan struct{}
	once   sync.Once
}

// readLoop blocks in stream.Read, so it owns the stream until Close stops it.
func (s *portAudioSource) readLoop() {
	defer close(s.done)
	for {
		select {
		case <-s.queue.done:
			return
		default:
		}
		if err := s.stream.Read(); err != nil {
			s.logger.Debug("portaudio read stopped", "error", err)
			return
		}
		frame := make([]float32, len(s.buf))
		copy(frame, s.buf)
		s.queue.push(frame)
	}
}

func (s *portAudioSource) SampleRate() int { return s.rate }

func (s *portAudioSource) ReadFrame(ctx context.Context) ([]float32, error) {
	return s.queue.next(ctx)
}

func (s *portAudioSource) Close() error {
	s.once.Do(func() {
		s.queue.close()
		_ = s.stream.Stop()
		<-s.done
		_ = s.stream.Close()
		_ = portaudio.Terminate()
	})
	return nil
}
