// Command growroom-automation runs the per-device automations of a grow
// room over MQTT: time windows, duty cycles and sensor targets.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sweeney/growroom-automation/internal/clock"
	"github.com/sweeney/growroom-automation/internal/config"
	"github.com/sweeney/growroom-automation/internal/gpio"
	"github.com/sweeney/growroom-automation/internal/logging"
	"github.com/sweeney/growroom-automation/internal/metrics"
	"github.com/sweeney/growroom-automation/internal/mqtt"
	"github.com/sweeney/growroom-automation/internal/snapshot"
	"github.com/sweeney/growroom-automation/internal/status"
	"github.com/sweeney/growroom-automation/internal/store"
	"github.com/sweeney/growroom-automation/internal/web"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// statusInterval is how often the run loop refreshes the status tracker
// and checks whether a heartbeat is due.
const statusInterval = 5 * time.Second

type rootOptions struct {
	configPath string
	envFile    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts rootOptions
	root := &cobra.Command{
		Use:           "growroom-automation",
		Short:         "Run grow room device automations over MQTT",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML config file")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file overlaid on the environment")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the automation daemon (default)",
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(opts)
			},
		},
		&cobra.Command{
			Use:   "snapshot",
			Short: "Print the loaded automations and exit",
			RunE: func(cmd *cobra.Command, args []string) error {
				return printSnapshot(cmd.Context(), opts, cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)
	return root
}

func setup(opts rootOptions) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(opts.configPath, opts.envFile)
	if err != nil {
		return cfg, nil, err
	}
	logger, err := logging.New(logging.Options{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		Dir:         cfg.Log.Dir,
	})
	if err != nil {
		return cfg, nil, err
	}
	return cfg, logger, nil
}

func snapshotSource(cfg config.Config, logger *zap.Logger) snapshot.Source {
	if cfg.SnapshotFile != "" {
		return snapshot.File{Path: cfg.SnapshotFile}
	}
	return snapshot.NewClient(snapshot.ClientOptions{
		BaseURL:        cfg.API.BaseURL,
		SigninPath:     cfg.API.SigninPath,
		AutomationPath: cfg.API.AutomationPath,
		MachinesPath:   cfg.API.MachinesPath,
		Username:       cfg.API.Email,
		Password:       cfg.API.Password,
		Timeout:        cfg.API.Timeout,
		Logger:         logger,
	})
}

func printSnapshot(ctx context.Context, opts rootOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, logger, err := setup(opts)
	if err != nil {
		return err
	}
	defer logger.Sync()

	snap, err := snapshotSource(cfg, logger).Load(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	fmt.Fprintf(out, "%d machines, %d automations\n", len(snap.Machines), len(snap.Automations))
	for _, line := range snap.Summary() {
		fmt.Fprintln(out, line)
	}
	return nil
}

func openStore(ctx context.Context, cfg config.Store) (store.KV, error) {
	switch cfg.Backend {
	case "sqlite":
		return store.OpenSQLiteKV(cfg.SQLitePath)
	case "redis":
		return store.NewRedisKV(ctx, store.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

// mergePins overlays configured pins on the snapshot's.
func mergePins(fromSnapshot, fromConfig map[string]int) map[string]int {
	out := make(map[string]int, len(fromSnapshot)+len(fromConfig))
	for k, v := range fromSnapshot {
		out[k] = v
	}
	for k, v := range fromConfig {
		out[k] = v
	}
	return out
}

func run(opts rootOptions) error {
	cfg, logger, err := setup(opts)
	if err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Named("main")

	ctx := context.Background()
	loadCtx, cancel := context.WithTimeout(ctx, cfg.API.Timeout*3)
	snap, err := snapshotSource(cfg, logger).Load(loadCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	kv, err := openStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer kv.Close()

	tracker := status.NewTracker(time.Now(), uuid.NewString(), status.Config{
		Version:           version,
		Broker:            cfg.MQTT.Broker,
		HTTPAddr:          cfg.HTTPAddr,
		Store:             cfg.Store.Backend,
		ControlInterval:   cfg.ControlInterval,
		ReconcileInterval: cfg.Reconcile.Interval,
		Heartbeat:         cfg.Heartbeat,
	})
	m := metrics.New()

	will, err := mqtt.FormatSystemPayload(mqtt.SystemEvent{
		Timestamp: time.Now(),
		Event:     "OFFLINE",
		Reason:    "connection lost",
	})
	if err != nil {
		return err
	}
	bus, err := mqtt.NewRealBus(mqtt.Options{
		Broker:     cfg.MQTT.Broker,
		ClientID:   cfg.MQTT.ClientID,
		Username:   cfg.MQTT.Username,
		Password:   cfg.MQTT.Password,
		KeepAlive:  cfg.MQTT.KeepAlive,
		BufferSize: cfg.MQTT.Buffer,
		Will:       will,
		Logger:     logger,
		OnConnect: func() {
			tracker.SetMQTTConnected(true)
			m.SetMQTTConnected(true)
		},
		OnConnectionLost: func(error) {
			tracker.SetMQTTConnected(false)
			m.SetMQTTConnected(false)
		},
	})
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer bus.Close()

	var follower *gpio.Follower
	if cfg.GPIO.Enabled {
		follower, err = gpio.Open(cfg.GPIO.Chip, mergePins(snap.Pins(), cfg.GPIO.Pins), cfg.GPIO.ActiveLow, logger)
		if err != nil {
			return fmt.Errorf("init gpio: %w", err)
		}
		defer follower.Close()
	}

	d, err := build(wiring{
		cfg:      cfg,
		snap:     snap,
		kv:       kv,
		bus:      bus,
		follower: follower,
		clock:    clock.Real{},
		tracker:  tracker,
		metrics:  m,
		logger:   logger,
	})
	if err != nil {
		return err
	}

	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, tracker, web.Options{Metrics: m.Handler(), Logger: logger})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server", zap.Error(err))
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(sctx)
		}()
		log.Info("http status server listening", zap.String("addr", cfg.HTTPAddr))
	}

	log.Info("started",
		zap.String("version", version),
		zap.String("broker", cfg.MQTT.Broker),
		zap.String("store", cfg.Store.Backend),
		zap.Int("automations", d.automations),
		zap.Duration("control_interval", cfg.ControlInterval),
		zap.Duration("heartbeat", cfg.Heartbeat))

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(d, time.Now, ticker.C, sigCh)
}
