package intake

import "sync"

// ManualSource is a Transcriber whose utterances are pushed in by the
// caller instead of arriving from a live audio stream. The phone channel
// uses it (Twilio delivers transcribed answers as webhook callbacks) and
// so do tests.
type ManualSource struct {
	mu        sync.Mutex
	finals    chan string
	closed    bool
	capturing bool
}

func NewManualSource() *ManualSource {
	return &ManualSource{finals: make(chan string, 10)}
}

func (m *ManualSource) Connect() error { return nil }

func (m *ManualSource) BeginTurn() {
	m.mu.Lock()
	m.capturing = true
	m.mu.Unlock()
}

func (m *ManualSource) Finalize() <-chan string { return m.finals }

// Capturing reports whether a listening turn is open, i.e. whether a
// Push right now would be delivered.
func (m *ManualSource) Capturing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capturing
}

// Push delivers one completed utterance, as if silence had ended a spoken
// answer. Pushes outside a listening turn are dropped.
func (m *ManualSource) Push(text string) {
	m.mu.Lock()
	if m.closed || !m.capturing {
		m.mu.Unlock()
		return
	}
	m.capturing = false
	m.mu.Unlock()
	m.finals <- text
}

func (m *ManualSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.capturing = false
	close(m.finals)
	return nil
}
