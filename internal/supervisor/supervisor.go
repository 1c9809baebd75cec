// Package supervisor runs one goroutine per automation plus background
// tasks, restarting any that panic or fail.
package supervisor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/growroom-automation/internal/automation"
	"github.com/sweeney/growroom-automation/internal/router"
)

// Defaults for Options.
const (
	DefaultControlInterval = 60 * time.Second
	DefaultRestartDelay    = 5 * time.Second
	DefaultInboxSize       = 64
)

// TickerFunc returns a tick channel and a stop function.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Options configures a Supervisor.
type Options struct {
	// ControlInterval is how often each strategy's Control runs.
	ControlInterval time.Duration
	RestartDelay    time.Duration
	InboxSize       int
	Logger          *zap.Logger
	// Ticker overrides time.NewTicker, for tests.
	Ticker TickerFunc
	// OnRestart is called each time a worker is restarted.
	OnRestart func(name string)
}

type worker struct {
	name  string
	s     automation.Strategy
	inbox chan router.Message
}

type task struct {
	name string
	fn   func(ctx context.Context) error
}

// Supervisor owns the automation workers and background tasks.
type Supervisor struct {
	router *router.Router
	opts   Options
	log    *zap.Logger

	mu       sync.Mutex
	workers  []*worker
	tasks    []task
	restarts map[string]int
}

// New creates a Supervisor that receives messages through r.
func New(r *router.Router, opts Options) *Supervisor {
	if opts.ControlInterval <= 0 {
		opts.ControlInterval = DefaultControlInterval
	}
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = DefaultRestartDelay
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = DefaultInboxSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Ticker == nil {
		opts.Ticker = realTicker
	}
	return &Supervisor{
		router:   r,
		opts:     opts,
		log:      opts.Logger.Named("supervisor"),
		restarts: make(map[string]int),
	}
}

// Add registers s's topics and queues its worker. Call before Run.
func (sv *Supervisor) Add(s automation.Strategy) {
	w := &worker{
		name:  "automation/" + s.Device().Name,
		s:     s,
		inbox: make(chan router.Message, sv.opts.InboxSize),
	}
	for _, topic := range s.Topics() {
		sv.router.Register(topic, w.name, func(msg router.Message) {
			select {
			case w.inbox <- msg:
			default:
				sv.log.Warn("inbox full, dropping message",
					zap.String("worker", w.name), zap.String("topic", msg.Topic))
			}
		})
	}
	sv.mu.Lock()
	sv.workers = append(sv.workers, w)
	sv.mu.Unlock()
}

// AddTask queues a background task. A task that returns an error or panics
// is restarted; one that returns nil is done.
func (sv *Supervisor) AddTask(name string, fn func(ctx context.Context) error) {
	sv.mu.Lock()
	sv.tasks = append(sv.tasks, task{name: name, fn: fn})
	sv.mu.Unlock()
}

// Run starts every worker and task and blocks until ctx is cancelled and
// all of them have exited. Strategies are closed before Run returns.
func (sv *Supervisor) Run(ctx context.Context) error {
	sv.mu.Lock()
	workers := append([]*worker(nil), sv.workers...)
	tasks := append([]task(nil), sv.tasks...)
	sv.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range workers {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			sv.supervise(ctx, w.name, w.run(sv))
		}()
	}
	for _, t := range tasks {
		t := t
		wg.Add(1)
		go func() {
			defer wg.Done()
			sv.supervise(ctx, t.name, t.fn)
		}()
	}
	sv.log.Info("started", zap.Int("workers", len(workers)), zap.Int("tasks", len(tasks)))

	<-ctx.Done()
	wg.Wait()
	for _, w := range workers {
		sv.router.Unregister(w.name)
		w.s.Close()
	}
	sv.log.Info("stopped")
	return nil
}

// supervise runs fn until ctx is done, restarting it after a panic or error.
func (sv *Supervisor) supervise(ctx context.Context, name string, fn func(context.Context) error) {
	log := sv.log.With(zap.String("worker", name))
	for {
		err := safeRun(ctx, fn)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			log.Info("exited")
			return
		}
		sv.mu.Lock()
		sv.restarts[name]++
		n := sv.restarts[name]
		sv.mu.Unlock()
		if sv.opts.OnRestart != nil {
			sv.opts.OnRestart(name)
		}
		log.Error("worker failed, restarting",
			zap.Error(err), zap.Int("restarts", n), zap.Duration("delay", sv.opts.RestartDelay))

		t := time.NewTimer(sv.opts.RestartDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func safeRun(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}

// run returns the worker loop: an initial Control, then inbound messages in
// arrival order and a periodic Control. Strategy errors are logged; they are
// transient and retried on the next event or tick.
func (w *worker) run(sv *Supervisor) func(context.Context) error {
	log := sv.log.With(zap.String("worker", w.name))
	return func(ctx context.Context) error {
		tick, stop := sv.opts.Ticker(sv.opts.ControlInterval)
		defer stop()

		if err := w.s.Control(ctx); err != nil {
			log.Warn("control failed", zap.Error(err))
		}
		for {
			select {
			case <-ctx.Done():
				return nil
			case msg := <-w.inbox:
				if err := w.s.HandleMessage(ctx, msg); err != nil {
					log.Warn("message failed", zap.String("topic", msg.Topic), zap.Error(err))
				}
			case <-tick:
				if err := w.s.Control(ctx); err != nil {
					log.Warn("control failed", zap.Error(err))
				}
			}
		}
	}
}

// Restarts returns the restart count per worker name.
func (sv *Supervisor) Restarts() map[string]int {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	out := make(map[string]int, len(sv.restarts))
	for k, v := range sv.restarts {
		out[k] = v
	}
	return out
}

// Statuses returns every strategy's status, sorted by device name.
func (sv *Supervisor) Statuses() []automation.Status {
	sv.mu.Lock()
	workers := append([]*worker(nil), sv.workers...)
	sv.mu.Unlock()
	out := make([]automation.Status, 0, len(workers))
	for _, w := range workers {
		out = append(out, w.s.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Device < out[j].Device })
	return out
}
