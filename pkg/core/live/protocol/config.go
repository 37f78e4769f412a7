package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// ConnectConfig is everything needed to open a live session.
type ConnectConfig struct {
	Model             string
	Voice             string
	SystemInstruction string
	// InputSampleRate is the rate of uplink PCM16 audio.
	InputSampleRate int
	// InputTranscription and OutputTranscription enable transcripts of the
	// user and the model respectively.
	InputTranscription  bool
	OutputTranscription bool
	Tools               []ToolDeclaration
}

// Validate reports configuration that cannot produce a working session.
func (c ConnectConfig) Validate() error {
	if strings.TrimSpace(c.Model) == "" {
		return badRequest("model is required", "model")
	}
	if c.InputSampleRate <= 0 {
		return badRequest("input sample rate must be > 0", "input_sample_rate")
	}
	seen := make(map[string]struct{}, len(c.Tools))
	for i, t := range c.Tools {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return badRequest("tool names must be non-empty", fmt.Sprintf("tools[%d].name", i))
		}
		if _, ok := seen[name]; ok {
			return badRequest("tool names must be unique", fmt.Sprintf("tools[%d].name", i))
		}
		seen[name] = struct{}{}
	}
	return nil
}

// AudioMIMEType renders the MIME type for PCM16 audio at rate.
func AudioMIMEType(rate int) string {
	return "audio/pcm;rate=" + strconv.Itoa(rate)
}

// ParseAudioRate extracts the rate parameter from a PCM MIME type,
// returning def when it is absent or malformed.
func ParseAudioRate(mimeType string, def int) int {
	for _, part := range strings.Split(mimeType, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || strings.TrimSpace(k) != "rate" {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			return n
		}
	}
	return def
}
