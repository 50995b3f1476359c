package tasks

import "sync"

// mailbox is an unbounded FIFO in front of a channel, so publishers never
// block while holding the executor lock.
type mailbox struct {
	out  chan Update
	wake chan struct{}

	mu     sync.Mutex
	items  []Update
	closed bool
}

func newMailbox() *mailbox {
	m := &mailbox{
		out:  make(chan Update),
		wake: make(chan struct{}, 1),
	}
	go m.pump()
	return m
}

func (m *mailbox) put(u Update) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.items = append(m.items, u)
	m.mu.Unlock()
	m.signal()
}

// close lets pending items drain, then closes out.
func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.signal()
}

func (m *mailbox) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *mailbox) pump() {
	for {
		m.mu.Lock()
		if len(m.items) == 0 {
			closed := m.closed
			m.mu.Unlock()
			if closed {
				close(m.out)
				return
			}
			<-m.wake
			continue
		}
		u := m.items[0]
		m.items = m.items[1:]
		m.mu.Unlock()
		m.out <- u
	}
}
