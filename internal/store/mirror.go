package store

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/sweeney/growroom-automation/internal/router"
)

// Mirror copies the latest switch and current values seen on the bus into
// the KV so the reconciler can compare them.
type Mirror struct {
	kv  KV
	log *zap.Logger
	in  chan router.Message
}

// NewMirror creates a Mirror with an inbox of the given size.
func NewMirror(kv KV, logger *zap.Logger, buffer int) *Mirror {
	if buffer < 1 {
		buffer = 1
	}
	return &Mirror{kv: kv, log: logger.Named("mirror"), in: make(chan router.Message, buffer)}
}

// Handle queues msg for writing. It never blocks; when the inbox is full
// the message is dropped and the next one for the key supersedes it.
func (m *Mirror) Handle(msg router.Message) {
	select {
	case m.in <- msg:
	default:
		m.log.Warn("inbox full, dropping", zap.String("topic", msg.Topic))
	}
}

// Run writes queued messages until ctx is cancelled.
func (m *Mirror) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-m.in:
			if err := m.Write(ctx, msg); err != nil {
				m.log.Warn("write failed", zap.String("topic", msg.Topic), zap.Error(err))
			}
		}
	}
}

// Write stores one message synchronously.
func (m *Mirror) Write(ctx context.Context, msg router.Message) error {
	switch msg.Class {
	case router.ClassSwitch:
		on, err := msg.Switch()
		if err != nil {
			return err
		}
		return m.kv.Set(ctx, SwitchKey(msg.Name), strconv.FormatBool(on))
	case router.ClassCurrent:
		v, err := msg.RawValue()
		if err != nil {
			return err
		}
		return m.kv.Set(ctx, CurrentKey(msg.Name), v)
	default:
		return fmt.Errorf("mirror: unexpected topic %s", msg.Topic)
	}
}
