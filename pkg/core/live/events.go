package live

import "sync"

// Source identifies who produced a transcript entry.
type Source string

const (
	SourceUser   Source = "user"
	SourceAI     Source = "ai"
	SourceSystem Source = "system"
)

// TranscriptEntry is one line of the conversation.
type TranscriptEntry struct {
	Source Source `json:"source"`
	Text   string `json:"text"`
}

// appendTranscript applies a streamed delta. A delta from the speaker of
// the trailing entry extends it; anything else starts a new entry. System
// lines always start a new entry.
func appendTranscript(entries []TranscriptEntry, src Source, text string) []TranscriptEntry {
	if text == "" {
		return entries
	}
	if n := len(entries); n > 0 && src != SourceSystem && entries[n-1].Source == src {
		entries[n-1].Text += text
		return entries
	}
	return append(entries, TranscriptEntry{Source: src, Text: text})
}

// Snapshot is the observable state of a Manager at one instant.
type Snapshot struct {
	SessionID   string            `json:"session_id,omitempty"`
	State       SessionState      `json:"state"`
	Transcript  []TranscriptEntry `json:"transcript"`
	InputVolume float64           `json:"input_volume"`
	LastError   string            `json:"last_error,omitempty"`
}

// notifier fans change signals out to subscribers. Each subscriber has a
// one-slot channel, so bursts of changes coalesce into a single wakeup and
// a slow reader never blocks the session.
type notifier struct {
	mu   sync.Mutex
	next int
	subs map[int]chan struct{}
}

func (n *notifier) subscribe() (<-chan struct{}, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subs == nil {
		n.subs = make(map[int]chan struct{})
	}
	id := n.next
	n.next++
	ch := make(chan struct{}, 1)
	n.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(n.subs, id)
			close(ch)
		})
	}
}

func (n *notifier) notify() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
