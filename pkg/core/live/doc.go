// Package live runs real-time voice sessions with a speech-capable model.
//
// A Manager owns at most one session. Start acquires, in order, the Google
// access token, the microphone, the speaker and the live connection; once
// the connection opens, a capture pump streams microphone frames to the
// model. Server events are consumed by a single goroutine per session:
//
//	InputTranscription / OutputTranscription → transcript
//	Audio                                   → playback scheduler
//	Interrupted                             → flush playback (barge-in)
//	ToolCalls                               → journal tool dispatcher
//	Close / Error                           → teardown
//
// # State Machine
//
//	IDLE → CONNECTING → LISTENING ⇄ PROCESSING
//	  ↑         │            │
//	  └─────────┴── ERROR ←──┘
//
// PROCESSING is held while tool calls are outstanding. ERROR behaves like
// IDLE for Start. Teardown always runs before the state settles and is
// safe to repeat.
//
// # Usage
//
//	m, err := live.NewManager(live.DefaultConfig("gemini-live-2.5-flash-preview"), live.Deps{
//	    Token:      tokens,
//	    Microphone: mic,
//	    Dialer:     dialer,
//	    Speaker:    &audio.Speaker{},
//	    Journal:    store,
//	})
//	changes, cancel := m.Subscribe()
//	defer cancel()
//	if err := m.Start(ctx); err != nil {
//	    fmt.Println(core.UserMessage(err))
//	}
//	for range changes {
//	    snap := m.Snapshot()
//	    render(snap)
//	}
package live
