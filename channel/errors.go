package channel

import "errors"

// Send results. A nil error means the delivery was scheduled.
var (
	// ErrNoSink means the paired port has been released.
	ErrNoSink = errors.New("channel: sink port released")

	// ErrNoOnMessage means the sink is alive but has no handler; the message is dropped.
	ErrNoOnMessage = errors.New("channel: sink has no message handler")

	// ErrInvalidMessageEvent means the message is nil or already claimed by a different sink.
	ErrInvalidMessageEvent = errors.New("channel: message claimed by another sink")

	// ErrInvalidPortLoop means the sink has neither a loop nor a future to obtain one.
	ErrInvalidPortLoop = errors.New("channel: port has no loop")
)

// Result enumerates the outcomes of Port.Send.
type Result int

const (
	NoError Result = iota
	NoSink
	NoOnMessage
	InvalidMessageEvent
	InvalidPortLoop
	// Unknown is returned by ResultOf for errors outside the taxonomy.
	Unknown
)

// ResultOf maps an error returned by Port.Send to its Result.
func ResultOf(err error) Result {
	switch {
	case err == nil:
		return NoError
	case errors.Is(err, ErrNoSink):
		return NoSink
	case errors.Is(err, ErrNoOnMessage):
		return NoOnMessage
	case errors.Is(err, ErrInvalidMessageEvent):
		return InvalidMessageEvent
	case errors.Is(err, ErrInvalidPortLoop):
		return InvalidPortLoop
	default:
		return Unknown
	}
}

// String returns a stable snake_case label, used for metrics.
func (r Result) String() string {
	switch r {
	case NoError:
		return "no_error"
	case NoSink:
		return "no_sink"
	case NoOnMessage:
		return "no_on_message"
	case InvalidMessageEvent:
		return "invalid_message_event"
	case InvalidPortLoop:
		return "invalid_port_loop"
	default:
		return "unknown"
	}
}
