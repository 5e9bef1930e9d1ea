package protocol

import (
	"bytes"
	"strings"
)

// FakeConn is an in-memory connection that replays scripted lines from the
// companion daemon and records everything written to it.
type FakeConn struct {
	in      *bytes.Reader
	written bytes.Buffer

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeConn scripts the given lines, each terminated with CRLF. Once the
// script is exhausted Read returns io.EOF.
func NewFakeConn(lines ...string) *FakeConn {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString(Terminator)
	}
	return &FakeConn{in: bytes.NewReader([]byte(b.String()))}
}

// Read returns the next scripted bytes.
func (f *FakeConn) Read(p []byte) (int, error) {
	return f.in.Read(p)
}

// Write records p.
func (f *FakeConn) Write(p []byte) (int, error) {
	return f.written.Write(p)
}

// Close marks the connection closed.
func (f *FakeConn) Close() error {
	f.Closed = true
	return nil
}

// Commands returns every command written, without terminators.
func (f *FakeConn) Commands() []string {
	s := strings.TrimSuffix(f.written.String(), Terminator)
	if s == "" {
		return nil
	}
	return strings.Split(s, Terminator)
}
