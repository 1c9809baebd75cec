// Package gpio drives local relay outputs that follow switch commands.
// The real implementation uses the Linux GPIO character device; the fake
// records writes for tests.
package gpio

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/sweeney/growroom-automation/internal/router"
)

// DefaultChip is the GPIO chip on a Raspberry Pi.
const DefaultChip = "gpiochip0"

// Relay sets output pins.
type Relay interface {
	// Set drives pin to the logical state on.
	Set(pin int, on bool) error

	// Close returns every pin to a safe input state and releases it.
	Close() error
}

// Follower applies switch/{name} messages to the relay pin of the named
// device, so a host wired to the relays acts on the bus commands directly.
type Follower struct {
	relay Relay
	pins  map[string]int
	log   *zap.Logger

	mu    sync.Mutex
	state map[string]bool
}

// NewFollower creates a Follower for devices with a pin (pin > 0).
func NewFollower(relay Relay, pins map[string]int, logger *zap.Logger) *Follower {
	p := make(map[string]int, len(pins))
	for name, pin := range pins {
		if pin > 0 {
			p[name] = pin
		}
	}
	return &Follower{
		relay: relay,
		pins:  p,
		log:   logger.Named("gpio"),
		state: make(map[string]bool),
	}
}

// Pins returns the pins the follower drives, sorted.
func (f *Follower) Pins() []int {
	out := make([]int, 0, len(f.pins))
	for _, pin := range f.pins {
		out = append(out, pin)
	}
	sort.Ints(out)
	return out
}

// Handle applies a switch message. Other classes and devices without a
// pin are ignored.
func (f *Follower) Handle(msg router.Message) {
	if msg.Class != router.ClassSwitch {
		return
	}
	pin, ok := f.pins[msg.Name]
	if !ok {
		return
	}
	on, err := msg.Switch()
	if err != nil {
		f.log.Warn("bad switch payload", zap.String("device", msg.Name), zap.Error(err))
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if prev, seen := f.state[msg.Name]; seen && prev == on {
		return
	}
	if err := f.relay.Set(pin, on); err != nil {
		f.log.Error("relay write failed",
			zap.String("device", msg.Name), zap.Int("pin", pin), zap.Bool("on", on), zap.Error(err))
		return
	}
	f.state[msg.Name] = on
	f.log.Info("relay", zap.String("device", msg.Name), zap.Int("pin", pin), zap.Bool("on", on))
}

// States returns the last state written per device.
func (f *Follower) States() map[string]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]bool, len(f.state))
	for k, v := range f.state {
		out[k] = v
	}
	return out
}

// Open claims the lines for every pinned device on chip and returns a
// Follower driving them.
func Open(chip string, pins map[string]int, activeLow bool, logger *zap.Logger) (*Follower, error) {
	f := NewFollower(nil, pins, logger)
	relay, err := NewRealRelay(chip, f.Pins(), activeLow)
	if err != nil {
		return nil, err
	}
	f.relay = relay
	return f, nil
}

// Close releases the relay.
func (f *Follower) Close() error {
	return f.relay.Close()
}
