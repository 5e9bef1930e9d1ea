package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"time"
)

// ErrClosed is returned by operations on a closed Link.
var ErrClosed = errors.New("protocol: link closed")

// ErrHandshake is returned when the probe is never acknowledged.
var ErrHandshake = errors.New("protocol: handshake not acknowledged")

// HandshakeAttempts is the total number of probes sent before giving up.
const HandshakeAttempts = 2

// Options tunes diagnostics on a Link. Framing never depends on them.
type Options struct {
	// Trace logs every line written and read.
	Trace bool

	// OnAnomaly, if set, is called when a data reply is not followed by
	// the plain success token.
	OnAnomaly func(cmd, reply, ack string)
}

// Link owns the single connection to the companion daemon. It is not safe
// for concurrent use; exactly one command may be in flight at a time.
type Link struct {
	conn      io.ReadWriteCloser
	r         *bufio.Reader
	w         *bufio.Writer
	opts      Options
	closed bool
}

// New wraps an established connection.
func New(conn io.ReadWriteCloser, opts Options) *Link {
	return &Link{
		conn: conn,
		r:    bufio.NewReader(conn),
		w:    bufio.NewWriter(conn),
		opts: opts,
	}
}

// Dial connects to the companion daemon at addr.
func Dial(addr string, timeout time.Duration, opts Options) (*Link, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return New(conn, opts), nil
}

// Send writes cmd, then reads its primary reply. A data reply is followed
// by one more line which should be "OK"; a mismatch is logged and passed
// to OnAnomaly but the primary reply is still returned.
func (l *Link) Send(cmd string) (Reply, error) {
	if l.closed {
		return Reply{}, ErrClosed
	}
	l.trace("-> %s", cmd)
	if _, err := l.w.WriteString(cmd + Terminator); err != nil {
		return Reply{}, fmt.Errorf("write %q: %w", cmd, err)
	}
	if err := l.w.Flush(); err != nil {
		return Reply{}, fmt.Errorf("flush %q: %w", cmd, err)
	}

	line, err := l.readLine()
	if err != nil {
		return Reply{}, fmt.Errorf("read reply to %q: %w", cmd, err)
	}
	reply := ClassifyReply(line)
	if reply.terminal() {
		return reply, nil
	}

	ack, err := l.readLine()
	if err != nil {
		return Reply{}, fmt.Errorf("read ack to %q: %w", cmd, err)
	}
	if ack != TokenOK {
		log.Printf("protocol: anomaly: %q answered %q, then %q instead of %s", cmd, line, ack, TokenOK)
		if l.opts.OnAnomaly != nil {
			l.opts.OnAnomaly(cmd, line, ack)
		}
	}
	return reply, nil
}

// ReceiveEvent blocks for the next line and classifies it as an event.
func (l *Link) ReceiveEvent() (Event, error) {
	if l.closed {
		return Event{}, ErrClosed
	}
	line, err := l.readLine()
	if err != nil {
		return Event{}, fmt.Errorf("read event: %w", err)
	}
	return ParseEvent(line), nil
}

// Handshake probes the daemon until it answers "OK", up to
// HandshakeAttempts probes. On failure the link is closed.
func (l *Link) Handshake() error {
	for attempt := 1; attempt <= HandshakeAttempts; attempt++ {
		reply, err := l.Send(CmdProbe)
		if err != nil {
			l.Close()
			return fmt.Errorf("handshake: %w", err)
		}
		if reply.OK() {
			return nil
		}
		log.Printf("protocol: handshake attempt %d/%d got %q", attempt, HandshakeAttempts, reply.Text)
	}
	l.Close()
	return ErrHandshake
}

// Close closes the underlying connection. It is safe to call twice.
func (l *Link) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	return l.conn.Close()
}

func (l *Link) readLine() (string, error) {
	raw, err := l.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	line := strings.TrimSpace(raw)
	l.trace("<- %s", line)
	return line, nil
}

func (l *Link) trace(format string, v ...interface{}) {
	if l.opts.Trace {
		log.Printf(format, v...)
	}
}
