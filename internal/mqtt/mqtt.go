// Package mqtt connects the automation engine to the device-control bus,
// with an in-memory fake for testing.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sweeney/growroom-automation/internal/router"
)

// TopicSystem is the topic for system lifecycle events.
const TopicSystem = "system/automation"

// Handler receives an inbound message.
type Handler func(topic string, payload []byte)

// Bus publishes and subscribes on the broker.
type Bus interface {
	// Publish sends payload. While disconnected the message may be queued
	// for delivery after reconnect.
	Publish(topic string, qos byte, retained bool, payload []byte) error

	// Subscribe delivers messages matching filter to h. Subscriptions
	// survive reconnects.
	Subscribe(filter string, qos byte, h Handler) error

	// Close disconnects from the broker.
	Close() error

	IsConnected() bool
}

// SystemEvent is a lifecycle event (STARTUP, SHUTDOWN, HEARTBEAT, ...).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string
	Reason     string // shutdown signal, reconnect cause
	RawPayload []byte // pre-formatted JSON; if set it is published as-is
	Retained   bool
}

// SystemPayload is the JSON body of simple system events.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload returns the JSON payload for a system event.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	})
}

// PublishSystem publishes a system event with QoS 1.
func PublishSystem(b Bus, event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	if err := b.Publish(TopicSystem, 1, event.Retained, payload); err != nil {
		return fmt.Errorf("publish system %s: %w", event.Event, err)
	}
	return nil
}

// Commander publishes switch commands on a Bus.
type Commander struct {
	bus Bus
}

// NewCommander returns a Commander publishing on bus.
func NewCommander(bus Bus) *Commander {
	return &Commander{bus: bus}
}

// SetSwitch publishes {pattern, data:{name, value}} to switch/{name}.
func (c *Commander) SetSwitch(ctx context.Context, name string, on bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	topic, payload, err := router.FormatSwitch(name, on)
	if err != nil {
		return err
	}
	return c.bus.Publish(topic, 1, false, payload)
}

// Listen subscribes to filter and delivers every message with a known
// topic class to h, stamped with now(). Other topics are dropped.
func Listen(b Bus, filter string, now func() time.Time, h func(router.Message)) error {
	return b.Subscribe(filter, 1, func(topic string, payload []byte) {
		msg, ok := router.NewMessage(topic, payload, now())
		if !ok {
			return
		}
		h(msg)
	})
}

// Match reports whether topic matches the subscription filter, honouring
// the + and # wildcards.
func Match(filter, topic string) bool {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")
	for i, f := range fs {
		if f == "#" {
			return true
		}
		if i >= len(ts) {
			return false
		}
		if f != "+" && f != ts[i] {
			return false
		}
	}
	return len(fs) == len(ts)
}
