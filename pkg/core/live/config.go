package live

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vango-go/vai-journal/pkg/core/live/audio"
	"github.com/vango-go/vai-journal/pkg/core/live/protocol"
	"github.com/vango-go/vai-journal/pkg/journal"
)

// SessionState represents the current state of the live session.
type SessionState int

const (
	// StateIdle is the resting state: no microphone, no connection.
	StateIdle SessionState = iota
	// StateConnecting covers credential checks, microphone acquisition and
	// the transport handshake.
	StateConnecting
	// StateListening is when microphone audio is streaming to the model.
	StateListening
	// StateProcessing is when at least one tool call is being answered.
	StateProcessing
	// StateError is a resting state after a fatal failure. Start is allowed.
	StateError
)

// String returns a human-readable state name.
func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateListening:
		return "LISTENING"
	case StateProcessing:
		return "PROCESSING"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Active reports whether a session is in progress, so Start would be a
// no-op.
func (s SessionState) Active() bool {
	return s == StateConnecting || s == StateListening || s == StateProcessing
}

// Config holds the per-session settings of a Manager.
type Config struct {
	// Model is the live model id, with or without the "models/" prefix.
	Model string `json:"model"`

	// Voice is a prebuilt voice name. Empty uses the model default.
	Voice string `json:"voice,omitempty"`

	// SystemInstruction is sent verbatim at connect time.
	// Default: DefaultSystemInstruction
	SystemInstruction string `json:"system_instruction,omitempty"`

	// InputSampleRate is the uplink rate in Hz.
	// Default: 16000
	InputSampleRate int `json:"input_sample_rate"`

	// FrameSize is the number of device samples per capture frame.
	// Default: 4096
	FrameSize int `json:"frame_size"`

	// RecordDir, if set, receives a WAV of each side of every session.
	RecordDir string `json:"record_dir,omitempty"`
}

// DefaultConfig returns a Config with the standard audio settings.
func DefaultConfig(model string) Config {
	return Config{
		Model:             model,
		SystemInstruction: DefaultSystemInstruction,
		InputSampleRate:   audio.InputSampleRate,
		FrameSize:         audio.DefaultFrameSize,
	}
}

func (c Config) withDefaults() Config {
	if c.SystemInstruction == "" {
		c.SystemInstruction = DefaultSystemInstruction
	}
	if c.InputSampleRate == 0 {
		c.InputSampleRate = audio.InputSampleRate
	}
	if c.FrameSize == 0 {
		c.FrameSize = audio.DefaultFrameSize
	}
	return c
}

// Validate reports settings that cannot produce a session.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Model) == "" {
		errs = append(errs, errors.New("model is required"))
	}
	if c.InputSampleRate < 0 {
		errs = append(errs, errors.New("input sample rate must be > 0"))
	}
	if c.FrameSize < 0 {
		errs = append(errs, errors.New("frame size must be > 0"))
	}
	return errors.Join(errs...)
}

// ConnectConfig renders the transport configuration for one session.
func (c Config) ConnectConfig() protocol.ConnectConfig {
	c = c.withDefaults()
	return protocol.ConnectConfig{
		Model:               c.Model,
		Voice:               c.Voice,
		SystemInstruction:   c.SystemInstruction,
		InputSampleRate:     c.InputSampleRate,
		InputTranscription:  true,
		OutputTranscription: true,
		Tools:               protocol.JournalTools(fieldNames()),
	}
}

func fieldNames() []string {
	names := make([]string, len(journal.Fields))
	for i, f := range journal.Fields {
		names[i] = string(f)
	}
	return names
}

// DefaultSystemInstruction tells the model what the journal looks like and
// how to use its tools.
var DefaultSystemInstruction = fmt.Sprintf(`You are a friendly voice assistant for the user's personal journal.
The journal is a spreadsheet with the columns %s. Each entry is addressed by its spreadsheet row.
Use findEntries to look entries up. Call it with no arguments to get the most recent entries, with "query" to match entry text, and with startDate/endDate (YYYY-MM-DD) to filter by due date.
Use updateJournalEntry to change one field of an entry; the field must be one of %s. Always find the entry first so you know its row.
taskStatus is usually "todo", "in progress" or "done". priority is "low", "medium" or "high". dueDate is YYYY-MM-DD.
Keep spoken answers short and confirm every change you make.`,
	strings.Join(journal.Columns, ", "), journal.FieldNames())
