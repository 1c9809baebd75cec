package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/growroom-automation/internal/automation"
	"github.com/sweeney/growroom-automation/internal/clock"
	"github.com/sweeney/growroom-automation/internal/config"
	"github.com/sweeney/growroom-automation/internal/gpio"
	"github.com/sweeney/growroom-automation/internal/metrics"
	"github.com/sweeney/growroom-automation/internal/mqtt"
	"github.com/sweeney/growroom-automation/internal/reconcile"
	"github.com/sweeney/growroom-automation/internal/router"
	"github.com/sweeney/growroom-automation/internal/snapshot"
	"github.com/sweeney/growroom-automation/internal/status"
	"github.com/sweeney/growroom-automation/internal/store"
	"github.com/sweeney/growroom-automation/internal/supervisor"
)

// mirrorBuffer is the inbox size of the KV mirror task.
const mirrorBuffer = 256

// wiring holds what build needs. Everything with I/O is injected so
// tests can pass fakes.
type wiring struct {
	cfg      config.Config
	snap     snapshot.Snapshot
	kv       store.KV
	bus      mqtt.Bus
	follower *gpio.Follower
	clock    clock.Clock
	tracker  *status.Tracker
	metrics  *metrics.Metrics
	logger   *zap.Logger
	ticker   supervisor.TickerFunc
}

// daemon is the assembled automation engine.
type daemon struct {
	log         *zap.Logger
	bus         mqtt.Bus
	tracker     *status.Tracker
	metrics     *metrics.Metrics
	router      *router.Router
	sup         *supervisor.Supervisor
	rec         *reconcile.Reconciler
	heartbeat   time.Duration
	automations int
}

// build creates the strategies from the snapshot and connects them, the
// mirror, the reconciler and the relay follower to the bus.
func build(w wiring) (*daemon, error) {
	log := w.logger.Named("main")
	registry := w.snap.Registry()
	commander := mqtt.NewCommander(w.bus)
	recovery := store.NewRecovery(w.kv)
	recovery.SetLogger(w.logger.Named("recovery"))

	factory := automation.NewFactory(registry, automation.Deps{
		Commander:     commander,
		Recovery:      recovery,
		Clock:         w.clock,
		Logger:        w.logger,
		Observer:      w.metrics,
		RequiredCount: w.cfg.RequiredCount,
	})
	strategies, errs := factory.BuildAll(w.snap.Automations)
	for _, err := range errs {
		log.Error("automation skipped", zap.Error(err))
	}
	if len(strategies) == 0 {
		log.Warn("no automations configured")
	}

	r := router.New()
	sup := supervisor.New(r, supervisor.Options{
		ControlInterval: w.cfg.ControlInterval,
		Logger:          w.logger,
		Ticker:          w.ticker,
		OnRestart:       w.metrics.Restart,
	})
	for _, s := range strategies {
		sup.Add(s)
	}

	mirror := store.NewMirror(w.kv, w.logger, mirrorBuffer)
	for _, name := range registry.Names() {
		r.Register(router.Topic(router.ClassSwitch, name), "mirror", mirror.Handle)
		r.Register(router.Topic(router.ClassCurrent, name), "mirror", mirror.Handle)
		if w.follower != nil {
			r.Register(router.Topic(router.ClassSwitch, name), "gpio", w.follower.Handle)
		}
	}
	sup.AddTask("mirror", mirror.Run)

	rec := reconcile.New(w.kv, commander, registry.Names, reconcile.Options{
		Threshold:        w.cfg.Reconcile.Threshold,
		CurrentThreshold: w.cfg.Reconcile.CurrentThreshold,
		Logger:           w.logger,
		Clock:            w.clock,
		Observer:         w.metrics,
	})
	tickerFn := w.ticker
	if tickerFn == nil {
		tickerFn = func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		}
	}
	interval := w.cfg.Reconcile.Interval
	sup.AddTask("reconcile", func(ctx context.Context) error {
		tick, stop := tickerFn(interval)
		defer stop()
		return rec.Run(ctx, tick)
	})

	now := w.clock.Now
	for _, class := range []router.TopicClass{
		router.ClassAutomation, router.ClassEnvironment, router.ClassSwitch, router.ClassCurrent,
	} {
		filter := router.Wildcard(class)
		if err := mqtt.Listen(w.bus, filter, now, func(msg router.Message) { r.Dispatch(msg) }); err != nil {
			return nil, fmt.Errorf("subscribe %s: %w", filter, err)
		}
	}

	return &daemon{
		log:         log,
		bus:         w.bus,
		tracker:     w.tracker,
		metrics:     w.metrics,
		router:      r,
		sup:         sup,
		rec:         rec,
		heartbeat:   w.cfg.Heartbeat,
		automations: len(strategies),
	}, nil
}

// refresh copies strategy, reconciler and connection state into the
// status tracker.
func (d *daemon) refresh() {
	rs := d.rec.Snapshot()
	mismatches := make(map[string]int, len(rs.Devices))
	for _, ds := range rs.Devices {
		mismatches[ds.Name] = ds.Mismatches
	}

	statuses := d.sup.Statuses()
	devices := make([]status.Device, 0, len(statuses))
	for _, st := range statuses {
		devices = append(devices, status.Device{
			Name:       st.Device,
			Category:   string(st.Category),
			Active:     st.Active,
			On:         st.On,
			Changed:    st.Changed,
			LastToggle: st.LastToggle,
			PendingOn:  st.PendingOn,
			PendingOff: st.PendingOff,
			Reading:    st.Reading,
			InRange:    st.InRange,
			Mismatches: mismatches[st.Device],
			Detail:     st.Detail,
			Error:      st.Error,
		})
	}
	d.tracker.Update(devices, rs.Corrections, d.sup.Restarts())

	connected := d.bus.IsConnected()
	d.tracker.SetMQTTConnected(connected)
	d.metrics.SetMQTTConnected(connected)
}

func (d *daemon) publishEvent(event, reason string, retained bool, at time.Time) {
	snap := d.tracker.Snapshot()
	err := mqtt.PublishSystem(d.bus, mqtt.SystemEvent{
		Timestamp:  at,
		Event:      event,
		Reason:     reason,
		Retained:   retained,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	})
	if err != nil {
		d.log.Warn("failed to publish system event", zap.String("event", event), zap.Error(err))
		return
	}
	d.log.Info("published system event", zap.String("event", event))
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

// runLoop starts the supervisor, publishes STARTUP, refreshes status on
// every tick with a HEARTBEAT when due, and publishes SHUTDOWN once a
// signal arrives and every worker has stopped.
func runLoop(d *daemon, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.sup.Run(ctx) }()

	d.refresh()
	d.publishEvent("STARTUP", "", true, now())
	lastHeartbeat := now()

	for {
		select {
		case s := <-sig:
			name := signalName(s)
			d.log.Info("shutting down", zap.String("signal", name))
			cancel()
			err := <-done
			d.refresh()
			d.publishEvent("SHUTDOWN", name, true, now())
			return err

		case err := <-done:
			if err == nil {
				err = errors.New("supervisor exited")
			}
			return err

		case t := <-tick:
			d.refresh()
			if d.heartbeat > 0 && t.Sub(lastHeartbeat) >= d.heartbeat {
				lastHeartbeat = t
				snap := d.tracker.Snapshot()
				d.log.Info("heartbeat",
					zap.Duration("uptime", snap.Uptime()),
					zap.Int("devices_on", snap.On()),
					zap.Int("corrections", snap.Corrections))
				d.metrics.Heartbeat(float64(t.Unix()))
				d.publishEvent("HEARTBEAT", "", false, t)
			}
		}
	}
}
