package mqtt

// outMsg stages a serialized MQTT message for replay after reconnection.
type outMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox is a fixed-capacity FIFO holding messages while the broker link is
// down. When full, the oldest staged message is overwritten. Not safe for
// concurrent use; the publisher guards it.
type outbox struct {
	buf     []outMsg
	head    int // next write position
	count   int
	dropped int // messages overwritten since the last drain
}

func newOutbox(capacity int) *outbox {
	return &outbox{buf: make([]outMsg, capacity)}
}

func (o *outbox) push(msg outMsg) {
	if o.count == len(o.buf) {
		// Overwrite oldest: head is already pointing at it.
		o.buf[o.head] = msg
		o.head = (o.head + 1) % len(o.buf)
		o.dropped++
		return
	}
	o.buf[o.head] = msg
	o.head = (o.head + 1) % len(o.buf)
	o.count++
}

// drain returns the staged messages oldest-first and empties the outbox.
func (o *outbox) drain() []outMsg {
	if o.count == 0 {
		return nil
	}

	result := make([]outMsg, o.count)
	start := (o.head - o.count + len(o.buf)) % len(o.buf)
	for i := 0; i < o.count; i++ {
		result[i] = o.buf[(start+i)%len(o.buf)]
	}

	o.count = 0
	o.head = 0
	o.dropped = 0
	return result
}

func (o *outbox) len() int { return o.count }
