package mqtt

import (
	"sync"
)

// Sent is one message published through a FakeBus.
type Sent struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

// FakeBus records publishes and lets tests inject inbound messages.
type FakeBus struct {
	mu   sync.Mutex
	pubs []Sent
	subs map[string]Handler

	// PublishError, if set, is returned by Publish.
	PublishError error

	// Loopback delivers every publish to matching subscribers, the way a
	// broker echoes switch commands.
	Loopback bool

	Connected bool
	Closed    bool
}

// NewFakeBus creates a connected FakeBus.
func NewFakeBus() *FakeBus {
	return &FakeBus{subs: make(map[string]Handler), Connected: true}
}

// Publish records the message.
func (f *FakeBus) Publish(topic string, qos byte, retained bool, payload []byte) error {
	f.mu.Lock()
	if f.PublishError != nil {
		err := f.PublishError
		f.mu.Unlock()
		return err
	}
	f.pubs = append(f.pubs, Sent{Topic: topic, QoS: qos, Retained: retained, Payload: payload})
	loop := f.Loopback
	f.mu.Unlock()
	if loop {
		f.Deliver(topic, payload)
	}
	return nil
}

// Subscribe registers h for filter.
func (f *FakeBus) Subscribe(filter string, qos byte, h Handler) error {
	f.mu.Lock()
	f.subs[filter] = h
	f.mu.Unlock()
	return nil
}

// Deliver sends an inbound message to every matching subscriber and
// returns how many received it.
func (f *FakeBus) Deliver(topic string, payload []byte) int {
	f.mu.Lock()
	var hs []Handler
	for filter, h := range f.subs {
		if Match(filter, topic) {
			hs = append(hs, h)
		}
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(topic, payload)
	}
	return len(hs)
}

// SetPublishError sets or clears the injected publish error.
func (f *FakeBus) SetPublishError(err error) {
	f.mu.Lock()
	f.PublishError = err
	f.mu.Unlock()
}

// Published returns a copy of every recorded publish.
func (f *FakeBus) Published() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.pubs...)
}

// PublishedTo returns the publishes on topic.
func (f *FakeBus) PublishedTo(topic string) []Sent {
	var out []Sent
	for _, p := range f.Published() {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// Filters returns the subscribed filters.
func (f *FakeBus) Filters() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.subs))
	for k := range f.subs {
		out = append(out, k)
	}
	return out
}

// Reset clears recorded publishes.
func (f *FakeBus) Reset() {
	f.mu.Lock()
	f.pubs = nil
	f.mu.Unlock()
}

// Close marks the bus closed.
func (f *FakeBus) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.Connected = false
	f.mu.Unlock()
	return nil
}

// IsConnected reports the Connected field.
func (f *FakeBus) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}
