package mqtt

import "log"

// bufferedMsg is a formatted message held until the broker is reachable.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer queues messages published while offline. When full, the
// oldest message is overwritten so the newest vehicle state survives.
// Callers synchronize access.
type ringBuffer struct {
	msgs    []bufferedMsg
	next    int // slot the next push writes
	count   int
	dropped int // overwritten since the last drain
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{msgs: make([]bufferedMsg, capacity)}
}

func (r *ringBuffer) push(msg bufferedMsg) {
	size := len(r.msgs)
	if r.count == size {
		if r.dropped == 0 {
			log.Printf("mqtt: offline buffer full (%d messages), overwriting oldest", size)
		}
		r.dropped++
	} else {
		r.count++
	}
	r.msgs[r.next] = msg
	r.next = (r.next + 1) % size
}

// drainAll empties the buffer, returning messages oldest first and how
// many were overwritten before they could be sent.
func (r *ringBuffer) drainAll() ([]bufferedMsg, int) {
	dropped := r.dropped
	r.dropped = 0
	if r.count == 0 {
		return nil, dropped
	}

	size := len(r.msgs)
	first := (r.next - r.count + size) % size
	out := make([]bufferedMsg, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.msgs[(first+i)%size])
	}

	r.count = 0
	r.next = 0
	return out, dropped
}

func (r *ringBuffer) len() int {
	return r.count
}
