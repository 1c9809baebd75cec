// Package config loads daemon configuration from a YAML file, an optional
// .env overlay and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// API configures the configuration-snapshot HTTP source.
type API struct {
	BaseURL        string        `yaml:"base_url"`
	SigninPath     string        `yaml:"signin_path"`
	AutomationPath string        `yaml:"automation_path"`
	MachinesPath   string        `yaml:"machines_path"`
	Email          string        `yaml:"email"`
	Password       string        `yaml:"password"`
	Timeout        time.Duration `yaml:"timeout"`
}

// MQTT configures the broker connection.
type MQTT struct {
	Broker    string        `yaml:"broker"`
	ClientID  string        `yaml:"client_id"`
	Username  string        `yaml:"username"`
	Password  string        `yaml:"password"`
	KeepAlive time.Duration `yaml:"keepalive"`
	Buffer    int           `yaml:"buffer"`
}

// Store selects and configures the key-value backend.
type Store struct {
	Backend       string `yaml:"backend"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	SQLitePath    string `yaml:"sqlite_path"`
}

// Reconcile configures the current-sensor reconciler.
type Reconcile struct {
	Interval         time.Duration `yaml:"interval"`
	Threshold        int           `yaml:"threshold"`
	CurrentThreshold float64       `yaml:"current_threshold"`
}

// GPIO configures optional local relay outputs.
type GPIO struct {
	Enabled   bool           `yaml:"enabled"`
	Chip      string         `yaml:"chip"`
	ActiveLow bool           `yaml:"active_low"`
	Pins      map[string]int `yaml:"pins"`
}

// Log configures logging.
type Log struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
	Dir         string `yaml:"dir"`
}

// Config is the complete daemon configuration.
type Config struct {
	API             API           `yaml:"api"`
	SnapshotFile    string        `yaml:"snapshot_file"`
	MQTT            MQTT          `yaml:"mqtt"`
	Store           Store         `yaml:"store"`
	ControlInterval time.Duration `yaml:"control_interval"`
	RequiredCount   int           `yaml:"required_count"`
	Reconcile       Reconcile     `yaml:"reconcile"`
	Heartbeat       time.Duration `yaml:"heartbeat"`
	HTTPAddr        string        `yaml:"http_addr"`
	GPIO            GPIO          `yaml:"gpio"`
	Log             Log           `yaml:"log"`
}

// Default returns the configuration used when no file overrides a value.
func Default() Config {
	return Config{
		API: API{
			BaseURL:        "http://localhost:3000",
			SigninPath:     "/api/auth/signin",
			AutomationPath: "/api/automation/read",
			MachinesPath:   "/api/machine/device/read",
			Timeout:        10 * time.Second,
		},
		MQTT: MQTT{
			Broker:    "tcp://localhost:1883",
			KeepAlive: 60 * time.Second,
			Buffer:    256,
		},
		Store: Store{
			Backend:    "redis",
			RedisAddr:  "localhost:6379",
			SQLitePath: "growroom.db",
		},
		ControlInterval: 60 * time.Second,
		RequiredCount:   3,
		Reconcile: Reconcile{
			Interval:         5 * time.Second,
			Threshold:        3,
			CurrentThreshold: 0.5,
		},
		Heartbeat: 15 * time.Minute,
		HTTPAddr:  ":8080",
		GPIO:      GPIO{Chip: "gpiochip0"},
		Log:       Log{Level: "info"},
	}
}

// Load reads path (if non-empty) over the defaults, then envFile (if it
// exists), then the process environment, and validates the result.
func Load(path, envFile string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if envFile != "" {
		// godotenv.Load never overrides variables already set.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("load env file: %w", err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := map[string]*string{
		"API_BASE_URL":   &c.API.BaseURL,
		"API_USERNAME":   &c.API.Email,
		"API_PASSWORD":   &c.API.Password,
		"SNAPSHOT_FILE":  &c.SnapshotFile,
		"MQTT_BROKER":    &c.MQTT.Broker,
		"MQTT_CLIENT_ID": &c.MQTT.ClientID,
		"MQTT_USERNAME":  &c.MQTT.Username,
		"MQTT_PASSWORD":  &c.MQTT.Password,
		"STORE_BACKEND":  &c.Store.Backend,
		"REDIS_ADDR":     &c.Store.RedisAddr,
		"REDIS_PASSWORD": &c.Store.RedisPassword,
		"SQLITE_PATH":    &c.Store.SQLitePath,
		"HTTP_ADDR":      &c.HTTPAddr,
		"GPIO_CHIP":      &c.GPIO.Chip,
		"LOG_LEVEL":      &c.Log.Level,
		"LOG_DIR":        &c.Log.Dir,
	}
	for k, p := range str {
		if v, ok := lookup(k); ok && v != "" {
			*p = v
		}
	}

	// Host/port pairs as the original deployment sets them.
	if host, ok := lookup("MQTT_HOST"); ok && host != "" {
		port := "1883"
		if p, ok := lookup("MQTT_PORT"); ok && p != "" {
			port = p
		}
		c.MQTT.Broker = "tcp://" + host + ":" + port
	}
	if host, ok := lookup("REDIS_HOST"); ok && host != "" {
		port := "6379"
		if p, ok := lookup("REDIS_PORT"); ok && p != "" {
			port = p
		}
		c.Store.RedisAddr = host + ":" + port
	}

	ints := map[string]*int{
		"REDIS_DB":              &c.Store.RedisDB,
		"TARGET_REQUIRED_COUNT": &c.RequiredCount,
	}
	for k, p := range ints {
		if v, ok := lookup(k); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
			*p = n
		}
	}

	durs := map[string]*time.Duration{
		"CONTROL_INTERVAL":   &c.ControlInterval,
		"RECONCILE_INTERVAL": &c.Reconcile.Interval,
		"HEARTBEAT":          &c.Heartbeat,
	}
	for k, p := range durs {
		if v, ok := lookup(k); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
			*p = d
		}
	}

	if v, ok := lookup("USE_REAL_GPIO"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("USE_REAL_GPIO: %w", err)
		}
		c.GPIO.Enabled = b
	}
	return nil
}

// Validate reports every invalid setting, joined.
func (c Config) Validate() error {
	var errs []error
	if c.SnapshotFile == "" && c.API.BaseURL == "" {
		errs = append(errs, errors.New("either snapshot_file or api.base_url is required"))
	}
	if c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required"))
	}
	switch strings.ToLower(c.Store.Backend) {
	case "redis":
		if c.Store.RedisAddr == "" {
			errs = append(errs, errors.New("store.redis_addr is required for the redis backend"))
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required for the sqlite backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q: want redis or sqlite", c.Store.Backend))
	}
	for _, d := range []struct {
		key string
		val time.Duration
	}{
		{"control_interval", c.ControlInterval},
		{"reconcile.interval", c.Reconcile.Interval},
		{"heartbeat", c.Heartbeat},
		{"mqtt.keepalive", c.MQTT.KeepAlive},
		{"api.timeout", c.API.Timeout},
	} {
		if d.val <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", d.key, d.val))
		}
	}
	if c.RequiredCount <= 0 {
		errs = append(errs, fmt.Errorf("required_count must be positive, got %d", c.RequiredCount))
	}
	if c.Reconcile.Threshold <= 0 {
		errs = append(errs, fmt.Errorf("reconcile.threshold must be positive, got %d", c.Reconcile.Threshold))
	}
	for name, pin := range c.GPIO.Pins {
		if pin < 0 {
			errs = append(errs, fmt.Errorf("gpio.pins.%s: negative pin %d", name, pin))
		}
	}
	return errors.Join(errs...)
}
