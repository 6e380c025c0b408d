package channel

import (
	"runtime"
	"slices"
	"sync"
	"weak"

	"github.com/Swind/go-message-port/core"
)

// Message carries an opaque payload from one port to its sink. The payload is
// fixed at construction; origin and target are set once, when a port first
// sends the message, and never change afterward.
type Message struct {
	data []byte

	mu      sync.Mutex
	claimed bool
	origin  string
	target  weak.Pointer[Port]
	ports   []weak.Pointer[Port]
}

// NewMessage creates an unclaimed message holding a copy of data.
func NewMessage(data []byte) *Message {
	m := &Message{data: slices.Clone(data)}
	traceMessage(m, core.DefaultTracer())
	return m
}

// NewTextMessage creates an unclaimed message from a string payload.
func NewTextMessage(s string) *Message {
	return NewMessage([]byte(s))
}

// NewMessageWithPorts creates a message that also carries weak references to
// transferable ports.
func NewMessageWithPorts(data []byte, ports ...*Port) *Message {
	m := NewMessage(data)
	for _, p := range ports {
		if p != nil {
			m.ports = append(m.ports, weak.Make(p))
		}
	}
	return m
}

func traceMessage(m *Message, tracer *core.ObjectTracer) {
	tracer.Add(core.TraceKindMessage)
	runtime.AddCleanup(m, func(t *core.ObjectTracer) {
		t.Remove(core.TraceKindMessage)
	}, tracer)
}

// Clone returns a new, unclaimed message with a copy of the payload.
func (m *Message) Clone() *Message {
	return NewMessage(m.data)
}

// Data returns the payload. Callers must not modify it.
func (m *Message) Data() []byte {
	return m.data
}

// Text returns the payload as a string.
func (m *Message) Text() string {
	return string(m.data)
}

// Origin is the origin tag of the port that claimed the message, or "".
func (m *Message) Origin() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.origin
}

// Ports returns the transferable ports attached to the message.
func (m *Message) Ports() []weak.Pointer[Port] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.ports)
}

// Target is the sink that claimed the message. Its Value is nil if the
// message is unclaimed or the sink has been released.
func (m *Message) Target() weak.Pointer[Port] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.target
}

// Claimed reports whether a port has claimed the message.
func (m *Message) Claimed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.claimed
}

// claim binds the message to target on first use. Later claims succeed only
// for the same target.
func (m *Message) claim(target weak.Pointer[Port], origin string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.claimed {
		m.claimed = true
		m.target = target
		m.origin = origin
		return nil
	}
	if m.target != target {
		return ErrInvalidMessageEvent
	}
	return nil
}
