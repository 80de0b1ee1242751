package transport

import (
	"sync"

	"github.com/GriffinCanCode/fuzzpriv/internal/protocol"
)

// Port is one end of a message channel.
type Port interface {
	// Send queues msg for the peer. Failures are logged, never returned.
	Send(msg protocol.Message)
	// OnMessage registers the inbound handler. Messages that arrive before
	// a handler is registered are held until one is.
	OnMessage(handler func(protocol.Message))
	Close() error
}

// mailbox is an unbounded FIFO drained by one goroutine into a handler.
type mailbox struct {
	mu      sync.Mutex
	queue   []protocol.Message
	handler func(protocol.Message)
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

func newMailbox() *mailbox {
	m := &mailbox{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *mailbox) push(msg protocol.Message) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, msg)
	m.mu.Unlock()
	m.signal()
	return true
}

func (m *mailbox) setHandler(h func(protocol.Message)) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
	m.signal()
}

func (m *mailbox) close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.queue = nil
	m.mu.Unlock()
	close(m.done)
}

func (m *mailbox) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *mailbox) run() {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return
		}
		h := m.handler
		var batch []protocol.Message
		if h != nil && len(m.queue) > 0 {
			batch = m.queue
			m.queue = nil
		}
		m.mu.Unlock()

		if batch == nil {
			select {
			case <-m.wake:
			case <-m.done:
				return
			}
			continue
		}

		for _, msg := range batch {
			select {
			case <-m.done:
				return
			default:
			}
			h(msg)
		}
	}
}
