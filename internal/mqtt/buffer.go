package mqtt

import (
	"sync"

	"go.uber.org/zap"
)

// queuedMsg is a publish held back while the broker is unreachable.
type queuedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox is a fixed-capacity FIFO of publishes made while disconnected.
// When full the oldest message is dropped: for switch commands the newest
// intent is the one that matters.
type outbox struct {
	mu       sync.Mutex
	log      *zap.Logger
	buf      []queuedMsg
	head     int // next write position
	count    int
	overflow bool // dropped since the last drain
	dropped  int
}

func newOutbox(capacity int, log *zap.Logger) *outbox {
	if capacity < 1 {
		capacity = 1
	}
	return &outbox{buf: make([]queuedMsg, capacity), log: log}
}

func (o *outbox) push(msg queuedMsg) {
	o.mu.Lock()
	defer o.mu.Unlock()
	capacity := len(o.buf)
	o.buf[o.head] = msg
	o.head = (o.head + 1) % capacity
	if o.count < capacity {
		o.count++
		return
	}
	o.dropped++
	if !o.overflow {
		o.log.Warn("outbox full, dropping oldest", zap.Int("capacity", capacity))
		o.overflow = true
	}
}

// drain returns the queued messages oldest first and empties the outbox.
func (o *outbox) drain() []queuedMsg {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.count == 0 {
		return nil
	}
	capacity := len(o.buf)
	out := make([]queuedMsg, o.count)
	start := (o.head - o.count + capacity) % capacity
	for i := range out {
		out[i] = o.buf[(start+i)%capacity]
	}
	o.count = 0
	o.head = 0
	o.overflow = false
	return out
}

func (o *outbox) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.count
}
