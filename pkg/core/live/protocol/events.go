// Package protocol defines what flows over a live model session: the
// inbound event union, tool calls and results, the connect configuration,
// and the raw JSON frames of the BidiGenerateContent websocket protocol.
package protocol

// Event is an inbound transport event. The set is closed; consumers switch
// on the concrete type.
type Event interface {
	eventType() string
}

// EventType returns a stable name for e, for logging.
func EventType(e Event) string {
	if e == nil {
		return ""
	}
	return e.eventType()
}

// Open fires once when the channel is ready to carry audio.
type Open struct{}

// InputTranscription is a partial transcription of the user's speech.
type InputTranscription struct{ Text string }

// OutputTranscription is a partial transcription of the model's speech.
type OutputTranscription struct{ Text string }

// ToolCalls carries one or more function calls; each needs exactly one
// ToolResult.
type ToolCalls struct{ Calls []ToolCall }

// ToolCancellation lists call ids the model no longer needs answered.
type ToolCancellation struct{ IDs []string }

// Audio is an inline PCM16 chunk from the model.
type Audio struct {
	Data       []byte
	SampleRate int
}

// Interrupted signals that the user barged in over model audio.
type Interrupted struct{}

// TurnComplete marks the end of a model turn.
type TurnComplete struct{}

// GoAway warns that the server will close the channel soon.
type GoAway struct{ TimeLeft string }

// Close reports that the server ended the channel.
type Close struct{ Reason string }

// Error reports a fatal transport fault. No events follow it.
type Error struct{ Err error }

func (Open) eventType() string                { return "open" }
func (InputTranscription) eventType() string  { return "input_transcription" }
func (OutputTranscription) eventType() string { return "output_transcription" }
func (ToolCalls) eventType() string           { return "tool_calls" }
func (ToolCancellation) eventType() string    { return "tool_cancellation" }
func (Audio) eventType() string               { return "audio" }
func (Interrupted) eventType() string         { return "interrupted" }
func (TurnComplete) eventType() string        { return "turn_complete" }
func (GoAway) eventType() string              { return "go_away" }
func (Close) eventType() string               { return "close" }
func (Error) eventType() string               { return "error" }
