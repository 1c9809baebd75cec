package mqtt

import (
	"fmt"
	"sort"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Defaults for Options.
const (
	DefaultKeepAlive      = 60 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultBufferSize     = 256
	publishTimeout        = 5 * time.Second
)

// Options configures a RealBus.
type Options struct {
	Broker   string
	ClientID string // generated when empty
	Username string
	Password string

	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	// BufferSize is how many publishes are held while disconnected.
	BufferSize int

	// Will is published retained on TopicSystem by the broker if the
	// connection drops without a clean disconnect.
	Will []byte

	Logger *zap.Logger
	// OnConnect runs after every (re)connect, once subscriptions are
	// restored and the outbox is flushed.
	OnConnect func()
	// OnConnectionLost runs when the connection drops.
	OnConnectionLost func(err error)
}

// NewClientID returns a unique client id so two instances never kick each
// other off the broker.
func NewClientID() string {
	return "growroom-" + uuid.NewString()[:8]
}

type subscription struct {
	qos byte
	h   Handler
}

// RealBus talks to an MQTT broker through paho.
type RealBus struct {
	client paho.Client
	log    *zap.Logger
	out    *outbox
	opts   Options

	mu   sync.Mutex
	subs map[string]subscription
}

// NewRealBus connects to the broker. Paho reconnects automatically after
// the first successful connect.
func NewRealBus(opts Options) (*RealBus, error) {
	if opts.ClientID == "" {
		opts.ClientID = NewClientID()
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = DefaultKeepAlive
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	log := opts.Logger.Named("mqtt").With(zap.String("broker", opts.Broker))

	b := &RealBus{
		log:  log,
		out:  newOutbox(opts.BufferSize, log),
		opts: opts,
		subs: make(map[string]subscription),
	}

	co := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetUsername(opts.Username).
		SetPassword(opts.Password).
		SetKeepAlive(opts.KeepAlive).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(paho.Client) { b.onConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn("connection lost", zap.Error(err))
			if opts.OnConnectionLost != nil {
				opts.OnConnectionLost(err)
			}
		})
	if opts.Will != nil {
		co.SetBinaryWill(TopicSystem, opts.Will, 1, true)
	}

	b.client = paho.NewClient(co)
	token := b.client.Connect()
	if !token.WaitTimeout(opts.ConnectTimeout) {
		b.client.Disconnect(0)
		return nil, fmt.Errorf("connect to %s: timeout after %v", opts.Broker, opts.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", opts.Broker, err)
	}
	log.Info("connected", zap.String("client_id", opts.ClientID))
	return b, nil
}

// onConnect restores subscriptions and flushes the outbox. Paho runs it on
// its own goroutine, so waiting on tokens is safe.
func (b *RealBus) onConnect() {
	b.mu.Lock()
	filters := make([]string, 0, len(b.subs))
	for f := range b.subs {
		filters = append(filters, f)
	}
	sort.Strings(filters)
	subs := make([]subscription, len(filters))
	for i, f := range filters {
		subs[i] = b.subs[f]
	}
	b.mu.Unlock()

	for i, f := range filters {
		if err := b.subscribe(f, subs[i]); err != nil {
			b.log.Error("resubscribe failed", zap.String("filter", f), zap.Error(err))
		}
	}

	queued := b.out.drain()
	for _, m := range queued {
		if err := b.publish(m.topic, m.qos, m.retained, m.payload); err != nil {
			b.log.Warn("replay failed", zap.String("topic", m.topic), zap.Error(err))
		}
	}
	b.log.Info("subscriptions restored",
		zap.Int("filters", len(filters)), zap.Int("replayed", len(queued)))

	if b.opts.OnConnect != nil {
		b.opts.OnConnect()
	}
}

func (b *RealBus) subscribe(filter string, s subscription) error {
	token := b.client.Subscribe(filter, s.qos, func(_ paho.Client, m paho.Message) {
		s.h(m.Topic(), m.Payload())
	})
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("subscribe %s: timeout", filter)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", filter, err)
	}
	return nil
}

func (b *RealBus) publish(topic string, qos byte, retained bool, payload []byte) error {
	token := b.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Publish sends payload, or queues it while the connection is down.
func (b *RealBus) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if !b.client.IsConnectionOpen() {
		b.out.push(queuedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		b.log.Debug("queued while offline", zap.String("topic", topic), zap.Int("queued", b.out.len()))
		return nil
	}
	return b.publish(topic, qos, retained, payload)
}

// Subscribe registers h for filter and subscribes now if connected.
func (b *RealBus) Subscribe(filter string, qos byte, h Handler) error {
	s := subscription{qos: qos, h: h}
	b.mu.Lock()
	b.subs[filter] = s
	b.mu.Unlock()
	if !b.client.IsConnectionOpen() {
		return nil
	}
	return b.subscribe(filter, s)
}

// IsConnected reports whether the connection is up.
func (b *RealBus) IsConnected() bool {
	return b.client.IsConnectionOpen()
}

// Close disconnects, allowing one second for in-flight messages.
func (b *RealBus) Close() error {
	b.client.Disconnect(1000)
	return nil
}
