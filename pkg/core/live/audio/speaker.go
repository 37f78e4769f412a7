package audio

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/vango-go/vai-journal/pkg/core"
)

// Speaker opens playback outputs on the default device through oto. oto
// allows a single context per process, so the context is created on first
// use and shared; each Open gets its own mixer and player.
type Speaker struct {
	Rate int
	// BufferSize is the device buffer duration. Smaller is lower latency.
	BufferSize time.Duration
	Logger     *slog.Logger

	once sync.Once
	ctx  *oto.Context
	err  error
}

func (s *Speaker) init() {
	rate := s.Rate
	if rate <= 0 {
		rate = OutputSampleRate
	}
	buffer := s.BufferSize
	if buffer <= 0 {
		buffer = 100 * time.Millisecond
	}
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   rate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   buffer,
	})
	if err != nil {
		s.err = core.NewAudioError("open speaker", err)
		return
	}
	<-ready
	s.ctx = ctx
	s.Rate = rate
}

// Open returns a fresh Output playing through the shared device context.
func (s *Speaker) Open() (Output, error) {
	s.once.Do(s.init)
	if s.err != nil {
		return nil, s.err
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mixer := NewMixer(s.Rate)
	player := s.ctx.NewPlayer(mixer)
	player.Play()
	return &speakerOutput{Mixer: mixer, player: player, logger: logger}, nil
}

type speakerOutput struct {
	*Mixer
	player *oto.Player
	logger *slog.Logger
	once   sync.Once
}

// Close pauses the player, drops buffered audio and releases it.
func (o *speakerOutput) Close() error {
	var err error
	o.once.Do(func() {
		o.player.Pause()
		_ = o.Mixer.Close()
		if perr := o.player.Err(); perr != nil {
			o.logger.Debug("speaker player error", "error", perr)
		}
		err = o.player.Close()
	})
	return err
}
