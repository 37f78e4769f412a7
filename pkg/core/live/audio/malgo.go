package audio

import (
	"context"
	"encoding/binary"
	"log/slog"
	"math"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/vango-go/vai-journal/pkg/core"
)

// MalgoMicrophone captures from the default input device through miniaudio.
type MalgoMicrophone struct {
	// SampleRate requests a device rate; zero keeps the device's native rate.
	SampleRate int
	Logger     *slog.Logger
}

// Open initialises a capture device. Any failure to obtain the device is a
// permission error: miniaudio does not distinguish denial from busy devices.
func (m *MalgoMicrophone) Open(ctx context.Context, frameSize int) (Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, core.NewPermissionError("initialize audio backend", err)
	}

	q := newFrameQueue(frameSize, 0)
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(m.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	onRecvFrames := func(_, pSample []byte, framecount uint32) {
		if framecount == 0 {
			return
		}
		n := int(framecount)
		if len(pSample) < n*4 {
			n = len(pSample) / 4
		}
		samples := make([]float32, n)
		for i := range samples {
			samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(pSample[i*4:]))
		}
		q.push(samples)
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onRecvFrames})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, core.NewPermissionError("open microphone", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, core.NewPermissionError("start microphone", err)
	}

	rate := int(device.SampleRate())
	logger.Debug("microphone opened", "backend", "malgo", "sample_rate", rate, "frame_size", q.size)
	return &malgoSource{ctx: mctx, device: device, queue: q, rate: rate, logger: logger}, nil
}

type malgoSource struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	queue  *frameQueue
	rate   int
	logger *slog.Logger
	once   sync.Once
}

func (s *malgoSource) SampleRate() int { return s.rate }

func (s *malgoSource) ReadFrame(ctx context.Context) ([]float32, error) {
	return s.queue.next(ctx)
}

func (s *malgoSource) Close() error {
	s.once.Do(func() {
		s.queue.close()
		s.device.Uninit()
		_ = s.ctx.Uninit()
		s.ctx.Free()
		if dropped := s.queue.dropped.Load(); dropped > 0 {
			s.logger.Warn("microphone frames dropped", "count", dropped)
		}
	})
	return nil
}
