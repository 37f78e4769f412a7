package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultOutputSampleRate is assumed for model audio without a rate.
const DefaultOutputSampleRate = 24000

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

// Client frames.

type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inlineData,omitempty"`
}

type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Blob carries binary data; encoding/json base64-encodes Data.
type Blob struct {
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

type PrebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type VoiceConfig struct {
	PrebuiltVoiceConfig *PrebuiltVoiceConfig `json:"prebuiltVoiceConfig,omitempty"`
}

type SpeechConfig struct {
	VoiceConfig *VoiceConfig `json:"voiceConfig,omitempty"`
}

type GenerationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *SpeechConfig `json:"speechConfig,omitempty"`
}

type Tool struct {
	FunctionDeclarations []ToolDeclaration `json:"functionDeclarations"`
}

type Setup struct {
	Model                    string           `json:"model"`
	GenerationConfig         GenerationConfig `json:"generationConfig"`
	SystemInstruction        *Content         `json:"systemInstruction,omitempty"`
	Tools                    []Tool           `json:"tools,omitempty"`
	InputAudioTranscription  *struct{}        `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}        `json:"outputAudioTranscription,omitempty"`
}

type ClientSetup struct {
	Setup Setup `json:"setup"`
}

type RealtimeInput struct {
	Audio *Blob `json:"audio,omitempty"`
}

type ClientRealtimeInput struct {
	RealtimeInput RealtimeInput `json:"realtimeInput"`
}

type FunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type ToolResponse struct {
	FunctionResponses []FunctionResponse `json:"functionResponses"`
}

type ClientToolResponse struct {
	ToolResponse ToolResponse `json:"toolResponse"`
}

// NewClientSetup renders cfg as the first websocket frame.
func NewClientSetup(cfg ConnectConfig) ClientSetup {
	model := cfg.Model
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	setup := Setup{
		Model: model,
		GenerationConfig: GenerationConfig{
			ResponseModalities: []string{"AUDIO"},
		},
	}
	if cfg.Voice != "" {
		setup.GenerationConfig.SpeechConfig = &SpeechConfig{
			VoiceConfig: &VoiceConfig{PrebuiltVoiceConfig: &PrebuiltVoiceConfig{VoiceName: cfg.Voice}},
		}
	}
	if cfg.SystemInstruction != "" {
		setup.SystemInstruction = &Content{Parts: []Part{{Text: cfg.SystemInstruction}}}
	}
	if len(cfg.Tools) > 0 {
		setup.Tools = []Tool{{FunctionDeclarations: cfg.Tools}}
	}
	if cfg.InputTranscription {
		setup.InputAudioTranscription = &struct{}{}
	}
	if cfg.OutputTranscription {
		setup.OutputAudioTranscription = &struct{}{}
	}
	return ClientSetup{Setup: setup}
}

// NewClientAudio wraps one uplink PCM16 frame.
func NewClientAudio(pcm []byte, rate int) ClientRealtimeInput {
	return ClientRealtimeInput{RealtimeInput: RealtimeInput{Audio: &Blob{MIMEType: AudioMIMEType(rate), Data: pcm}}}
}

// NewClientToolResponse wraps tool results into one frame.
func NewClientToolResponse(results ...ToolResult) ClientToolResponse {
	out := ClientToolResponse{ToolResponse: ToolResponse{FunctionResponses: make([]FunctionResponse, 0, len(results))}}
	for _, r := range results {
		out.ToolResponse.FunctionResponses = append(out.ToolResponse.FunctionResponses, FunctionResponse{
			ID:       r.ID,
			Name:     r.Name,
			Response: r.Payload(),
		})
	}
	return out
}

// Server frames.

type Transcription struct {
	Text     string `json:"text"`
	Finished bool   `json:"finished,omitempty"`
}

type ServerContent struct {
	ModelTurn           *Content       `json:"modelTurn,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	InputTranscription  *Transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *Transcription `json:"outputTranscription,omitempty"`
}

type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type ServerToolCall struct {
	FunctionCalls []FunctionCall `json:"functionCalls"`
}

type ServerToolCallCancellation struct {
	IDs []string `json:"ids"`
}

type ServerGoAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

type ServerMessage struct {
	SetupComplete        *struct{}                   `json:"setupComplete,omitempty"`
	ServerContent        *ServerContent              `json:"serverContent,omitempty"`
	ToolCall             *ServerToolCall             `json:"toolCall,omitempty"`
	ToolCallCancellation *ServerToolCallCancellation `json:"toolCallCancellation,omitempty"`
	GoAway               *ServerGoAway               `json:"goAway,omitempty"`
}

// DecodeServerMessage parses one server frame into events, in the order
// they must be applied. Frames with no recognised content decode to no
// events.
func DecodeServerMessage(data []byte) ([]Event, error) {
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	return msg.Events(), nil
}

// Events flattens m into the event union.
func (m ServerMessage) Events() []Event {
	var events []Event
	if m.SetupComplete != nil {
		events = append(events, Open{})
	}
	if sc := m.ServerContent; sc != nil {
		if sc.Interrupted {
			events = append(events, Interrupted{})
		}
		if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
			events = append(events, InputTranscription{Text: sc.InputTranscription.Text})
		}
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			events = append(events, OutputTranscription{Text: sc.OutputTranscription.Text})
		}
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p.InlineData == nil || len(p.InlineData.Data) == 0 {
					continue
				}
				events = append(events, Audio{
					Data:       p.InlineData.Data,
					SampleRate: ParseAudioRate(p.InlineData.MIMEType, DefaultOutputSampleRate),
				})
			}
		}
		if sc.TurnComplete {
			events = append(events, TurnComplete{})
		}
	}
	if tc := m.ToolCall; tc != nil && len(tc.FunctionCalls) > 0 {
		calls := make([]ToolCall, 0, len(tc.FunctionCalls))
		for _, fc := range tc.FunctionCalls {
			calls = append(calls, ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
		events = append(events, ToolCalls{Calls: calls})
	}
	if c := m.ToolCallCancellation; c != nil && len(c.IDs) > 0 {
		events = append(events, ToolCancellation{IDs: c.IDs})
	}
	if m.GoAway != nil {
		events = append(events, GoAway{TimeLeft: m.GoAway.TimeLeft})
	}
	return events
}
