// Package protocol implements the line-oriented request/reply/event framing
// spoken by the Carberry companion daemon on its local TCP socket.
//
// Every line is CRLF terminated. A command is answered by exactly one primary
// reply line; data-bearing replies are followed by a trailing "OK" that must
// be absorbed before the next command. Unsolicited notifications start with
// "EVNT".
package protocol

import "strings"

// Wire tokens.
const (
	Terminator  = "\r\n"
	TokenOK     = "OK"
	ErrorPrefix = "ERROR"
	EventPrefix = "EVNT"
)

// DefaultAddr is where the companion daemon listens.
const DefaultAddr = "localhost:7070"

// ReplyKind classifies a primary reply line.
type ReplyKind int

const (
	// ReplyData is any reply that carries a payload and is followed by a
	// trailing acknowledgment line.
	ReplyData ReplyKind = iota
	ReplyOK
	ReplyError
	ReplyEvent
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyOK:
		return "OK"
	case ReplyError:
		return "ERROR"
	case ReplyEvent:
		return "EVENT"
	default:
		return "DATA"
	}
}

// Reply is a classified primary reply.
type Reply struct {
	Kind ReplyKind
	Text string
}

// OK reports whether the reply is exactly the plain success token.
func (r Reply) OK() bool { return r.Kind == ReplyOK }

// ClassifyReply sorts a trimmed reply line into its kind.
func ClassifyReply(line string) Reply {
	switch {
	case line == TokenOK:
		return Reply{Kind: ReplyOK, Text: line}
	case strings.HasPrefix(line, ErrorPrefix):
		return Reply{Kind: ReplyError, Text: line}
	case strings.HasPrefix(line, EventPrefix):
		return Reply{Kind: ReplyEvent, Text: line}
	default:
		return Reply{Kind: ReplyData, Text: line}
	}
}

// terminal reports whether no trailing acknowledgment follows the reply.
func (r Reply) terminal() bool { return r.Kind != ReplyData }

// EventKind is the closed set of notifications the daemon reacts to.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventIgnitionOff
	EventIgnitionOn
	EventGoToSleep
)

func (k EventKind) String() string {
	switch k {
	case EventIgnitionOff:
		return "IGNITION_OFF"
	case EventIgnitionOn:
		return "IGNITION_ON"
	case EventGoToSleep:
		return "GOTOSLEEP"
	default:
		return "UNKNOWN"
	}
}

// Event is a classified notification line.
type Event struct {
	Kind EventKind
	Raw  string
}

var eventPrefixes = []struct {
	prefix string
	kind   EventKind
}{
	{"EVNT IGNITION OFF", EventIgnitionOff},
	{"EVNT IGNITION ON", EventIgnitionOn},
	{"EVNT GOTOSLEEP", EventGoToSleep},
}

// ParseEvent classifies a trimmed line read from the event stream.
// Anything not matching a known prefix is EventUnknown.
func ParseEvent(line string) Event {
	for _, p := range eventPrefixes {
		if strings.HasPrefix(line, p.prefix) {
			return Event{Kind: p.kind, Raw: line}
		}
	}
	return Event{Kind: EventUnknown, Raw: line}
}
