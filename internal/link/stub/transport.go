// Package stub provides an in-memory link.Transport for host-side tests and
// for running the relay without a radio.
package stub

import (
	"sync"

	"github.com/BrandonDHaskell/Portunus/relay/internal/link"
)

// Transport queues inbound frames and records outbound ones.
type Transport struct {
	mu        sync.Mutex
	inbound   [][]byte
	sent      [][]byte
	failAt    map[int]bool
	listening bool
	trace     []bool
	onSend    func(n int, frame []byte)
}

func New() *Transport {
	return &Transport{failAt: make(map[int]bool)}
}

// Inject queues a frame for Receive.
func (t *Transport) Inject(frames ...[]byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, f := range frames {
		t.inbound = append(t.inbound, clone(f))
	}
}

// FailSend makes the n-th Send call (0-based, counting every attempt)
// return link.ErrWriteRejected.
func (t *Transport) FailSend(n int) {
	t.mu.Lock()
	t.failAt[n] = true
	t.mu.Unlock()
}

// OnSend registers fn to run after every Send attempt, outside the lock, so
// a test can play the peer by calling Inject.
func (t *Transport) OnSend(fn func(n int, frame []byte)) {
	t.mu.Lock()
	t.onSend = fn
	t.mu.Unlock()
}

func (t *Transport) Send(frame []byte) error {
	t.mu.Lock()
	n := len(t.sent)
	t.sent = append(t.sent, clone(frame))
	fail := t.failAt[n]
	fn := t.onSend
	t.mu.Unlock()

	if fn != nil {
		fn(n, frame)
	}
	if fail {
		return link.ErrWriteRejected
	}
	return nil
}

func (t *Transport) Receive() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.inbound) == 0 {
		return nil, nil
	}
	f := t.inbound[0]
	t.inbound = t.inbound[1:]
	return f, nil
}

func (t *Transport) Available() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inbound) > 0
}

func (t *Transport) StartListening() { t.setListening(true) }
func (t *Transport) StopListening()  { t.setListening(false) }

func (t *Transport) setListening(v bool) {
	t.mu.Lock()
	t.listening = v
	t.trace = append(t.trace, v)
	t.mu.Unlock()
}

// Sent returns every frame passed to Send, including rejected ones.
func (t *Transport) Sent() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.sent))
	for i, f := range t.sent {
		out[i] = clone(f)
	}
	return out
}

func (t *Transport) Listening() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.listening
}

// ListeningTrace returns the sequence of Start (true) and Stop (false)
// calls.
func (t *Transport) ListeningTrace() []bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]bool(nil), t.trace...)
}

func (t *Transport) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inbound)
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
