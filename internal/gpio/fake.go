package gpio

import "sync"

// Write is one recorded relay write.
type Write struct {
	Pin int
	On  bool
}

// FakeRelay records relay writes for tests.
type FakeRelay struct {
	mu     sync.Mutex
	writes []Write
	pins   map[int]bool

	// SetError, if set, is returned by Set.
	SetError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeRelay creates a FakeRelay.
func NewFakeRelay() *FakeRelay {
	return &FakeRelay{pins: make(map[int]bool)}
}

// Set records the write.
func (f *FakeRelay) Set(pin int, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	f.writes = append(f.writes, Write{Pin: pin, On: on})
	f.pins[pin] = on
	return nil
}

// Pin returns the last value written to pin.
func (f *FakeRelay) Pin(pin int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pins[pin]
}

// Writes returns a copy of every write.
func (f *FakeRelay) Writes() []Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Write(nil), f.writes...)
}

// Close marks the relay closed.
func (f *FakeRelay) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}
