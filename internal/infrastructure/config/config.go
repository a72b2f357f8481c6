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

// ErrInvalidConfig is wrapped by every validation failure so callers can tell
// configuration problems apart from I/O errors.
var ErrInvalidConfig = errors.New("config: invalid")

// Run modes accepted by Node.Mode.
const (
	ModeLocal   = "local"
	ModeNetwork = "network"
)

// Discovery backends accepted by DiscoveryConfig.Backend.
const (
	BackendLocal     = "local"
	BackendMulticast = "multicast"
	BackendMQTT      = "mqtt"
)

// Store backends accepted by StoreConfig.Backend.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Config is the root configuration structure shared by every fieldmesh process.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Node        NodeConfig        `yaml:"node"`
	Discovery   DiscoveryConfig   `yaml:"discovery"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Controller  ControllerConfig  `yaml:"controller"`
	Store       StoreConfig       `yaml:"store"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	API         APIConfig         `yaml:"api"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	Environment EnvironmentConfig `yaml:"environment"`
	Demo        DemoConfig        `yaml:"demo"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// NodeConfig identifies the device this process runs and where it listens.
type NodeConfig struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Model string `yaml:"model"`

	// Mode is "local" (loopback only) or "network" (all interfaces).
	Mode string `yaml:"mode"`
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// AdvertiseHost is the host placed in announcements. Empty means derive
	// from Mode: 127.0.0.1 locally, the outbound interface address otherwise.
	AdvertiseHost string `yaml:"advertise_host"`
}

// DiscoveryConfig contains announce/browse settings.
type DiscoveryConfig struct {
	Backend string `yaml:"backend"`

	// Multicast backend.
	Group     string `yaml:"group"`
	Port      int    `yaml:"port"`
	Interface string `yaml:"interface"`
	HopLimit  int    `yaml:"hop_limit"`

	// MQTT backend.
	TopicPrefix string `yaml:"topic_prefix"`

	// TTL is how long an announcement keeps a device alive without a refresh.
	TTL Duration `yaml:"ttl"`

	// AnnounceInterval defaults to TTL/3 when zero.
	AnnounceInterval Duration `yaml:"announce_interval"`

	// RestartDelay is the pause before a failed browse stream is reopened.
	RestartDelay Duration `yaml:"restart_delay"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// ControllerConfig tunes the polling loop.
type ControllerConfig struct {
	PollInterval   Duration     `yaml:"poll_interval"`
	CallTimeout    Duration     `yaml:"call_timeout"`
	MaxConcurrency int          `yaml:"max_concurrency"`
	SweepInterval  Duration     `yaml:"sweep_interval"`
	Policy         PolicyConfig `yaml:"policy"`
}

// PolicyConfig holds thermostat thresholds. Readings below Low heat towards
// Target, readings above High cool towards Target.
type PolicyConfig struct {
	Low    float64 `yaml:"low"`
	High   float64 `yaml:"high"`
	Target float64 `yaml:"target"`
}

// StoreConfig selects where the controller keeps the latest reading per sensor.
type StoreConfig struct {
	Backend string `yaml:"backend"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Addr      string   `yaml:"addr"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	KeyPrefix string   `yaml:"key_prefix"`
	Timeout   Duration `yaml:"timeout"`
}

// APIConfig contains HTTP server settings shared by every process.
type APIConfig struct {
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`

	// PanelDir serves the dashboard from disk instead of the embedded copy.
	PanelDir string `yaml:"panel_dir"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// EnvironmentConfig parameterises the simulated environment.
type EnvironmentConfig struct {
	Constant    float64 `yaml:"constant"`
	Slope       float64 `yaml:"slope"`
	Amplitude   float64 `yaml:"amplitude"`
	Period      float64 `yaml:"period"`
	Phase       float64 `yaml:"phase"`
	Noise       float64 `yaml:"noise"`
	CommandGain float64 `yaml:"command_gain"`
}

// DemoConfig holds the ports used by the demo launcher.
type DemoConfig struct {
	EnvironmentPort int    `yaml:"environment_port"`
	SensorPort      int    `yaml:"sensor_port"`
	ActuatorPort    int    `yaml:"actuator_port"`
	ControllerPort  int    `yaml:"controller_port"`
	BinDir          string `yaml:"bin_dir"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Duration is a time.Duration that unmarshals from "1s"-style strings.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (skipped when path is empty)
//  3. A .env file in the working directory, if present
//  4. Environment variables (override file values)
//
// Environment variables follow the pattern: FIELDMESH_SECTION_KEY
// For example: FIELDMESH_NODE_PORT, FIELDMESH_DISCOVERY_BACKEND
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	// A missing .env file is the common case.
	_ = godotenv.Load() //nolint:errcheck // optional file

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with the documented defaults.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			Name:  "fieldmesh",
			Model: "unsupported",
			Mode:  ModeLocal,
			Port:  8080,
		},
		Discovery: DiscoveryConfig{
			Backend:      BackendMulticast,
			Group:        "239.255.77.77",
			Port:         17777,
			HopLimit:     1,
			TopicPrefix:  "fieldmesh",
			TTL:          Duration(6 * time.Second),
			RestartDelay: Duration(time.Second),
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Controller: ControllerConfig{
			PollInterval:   Duration(time.Second),
			CallTimeout:    Duration(2 * time.Second),
			MaxConcurrency: 8,
			SweepInterval:  Duration(time.Second),
			Policy: PolicyConfig{
				Low:    22,
				High:   28,
				Target: 25,
			},
		},
		Store: StoreConfig{
			Backend: StoreMemory,
		},
		Database: DatabaseConfig{
			Path:        "./data/fieldmesh.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "fieldmesh:",
			Timeout:   Duration(2 * time.Second),
		},
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Environment: EnvironmentConfig{
			Amplitude:   5,
			Period:      10000,
			Noise:       0.5,
			CommandGain: 0.01,
		},
		Demo: DemoConfig{
			EnvironmentPort: 5454,
			SensorPort:      8787,
			ActuatorPort:    9898,
			ControllerPort:  6565,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: FIELDMESH_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"FIELDMESH_NODE_ID":             &cfg.Node.ID,
		"FIELDMESH_NODE_NAME":           &cfg.Node.Name,
		"FIELDMESH_NODE_MODEL":          &cfg.Node.Model,
		"FIELDMESH_NODE_MODE":           &cfg.Node.Mode,
		"FIELDMESH_NODE_HOST":           &cfg.Node.Host,
		"FIELDMESH_NODE_ADVERTISE_HOST": &cfg.Node.AdvertiseHost,
		"FIELDMESH_DISCOVERY_BACKEND":   &cfg.Discovery.Backend,
		"FIELDMESH_DISCOVERY_INTERFACE": &cfg.Discovery.Interface,
		"FIELDMESH_MQTT_HOST":           &cfg.MQTT.Broker.Host,
		"FIELDMESH_MQTT_USERNAME":       &cfg.MQTT.Auth.Username,
		"FIELDMESH_MQTT_PASSWORD":       &cfg.MQTT.Auth.Password,
		"FIELDMESH_STORE_BACKEND":       &cfg.Store.Backend,
		"FIELDMESH_DATABASE_PATH":       &cfg.Database.Path,
		"FIELDMESH_REDIS_ADDR":          &cfg.Redis.Addr,
		"FIELDMESH_REDIS_PASSWORD":      &cfg.Redis.Password,
		"FIELDMESH_LOG_LEVEL":           &cfg.Logging.Level,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"FIELDMESH_NODE_PORT":                  &cfg.Node.Port,
		"FIELDMESH_MQTT_PORT":                  &cfg.MQTT.Broker.Port,
		"FIELDMESH_CONTROLLER_MAX_CONCURRENCY": &cfg.Controller.MaxConcurrency,
	}
	for key, dst := range ints {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, key, v)
		}
		*dst = n
	}

	durations := map[string]*Duration{
		"FIELDMESH_DISCOVERY_TTL":           &cfg.Discovery.TTL,
		"FIELDMESH_CONTROLLER_POLL":         &cfg.Controller.PollInterval,
		"FIELDMESH_CONTROLLER_CALL_TIMEOUT": &cfg.Controller.CallTimeout,
	}
	for key, dst := range durations {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a duration", ErrInvalidConfig, key, v)
		}
		*dst = Duration(d)
	}

	return nil
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure wrapping ErrInvalidConfig, or nil
func (c *Config) Validate() error {
	var errs []string

	switch c.Node.Mode {
	case ModeLocal, ModeNetwork:
	default:
		errs = append(errs, fmt.Sprintf("node.mode must be %q or %q", ModeLocal, ModeNetwork))
	}
	if c.Node.Port < 0 || c.Node.Port > 65535 {
		errs = append(errs, "node.port must be between 0 and 65535")
	}

	switch c.Discovery.Backend {
	case BackendLocal, BackendMQTT:
	case BackendMulticast:
		if c.Discovery.Port < 1 || c.Discovery.Port > 65535 {
			errs = append(errs, "discovery.port must be between 1 and 65535")
		}
		if c.Discovery.Group == "" {
			errs = append(errs, "discovery.group is required for multicast")
		}
	default:
		errs = append(errs, "discovery.backend must be local, multicast or mqtt")
	}
	if c.Discovery.TTL <= 0 {
		errs = append(errs, "discovery.ttl must be positive")
	}
	if c.Discovery.AnnounceInterval < 0 || (c.Discovery.AnnounceInterval > 0 && c.Discovery.AnnounceInterval >= c.Discovery.TTL) {
		errs = append(errs, "discovery.announce_interval must be shorter than discovery.ttl")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Controller.PollInterval <= 0 {
		errs = append(errs, "controller.poll_interval must be positive")
	}
	if c.Controller.CallTimeout <= 0 {
		errs = append(errs, "controller.call_timeout must be positive")
	}
	if c.Controller.MaxConcurrency < 1 {
		errs = append(errs, "controller.max_concurrency must be at least 1")
	}
	if c.Controller.Policy.Low > c.Controller.Policy.High {
		errs = append(errs, "controller.policy.low must not exceed controller.policy.high")
	}

	switch c.Store.Backend {
	case StoreMemory, StoreRedis:
	case StoreSQLite:
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite store")
		}
	default:
		errs = append(errs, "store.backend must be memory, sqlite or redis")
	}

	if c.Environment.Period == 0 {
		errs = append(errs, "environment.period must be non-zero")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: configuration errors: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

// AnnounceEvery returns the re-announce cadence, defaulting to a third of the TTL.
func (d DiscoveryConfig) AnnounceEvery() time.Duration {
	if d.AnnounceInterval > 0 {
		return d.AnnounceInterval.Std()
	}
	return d.TTL.Std() / 3
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// ListenHost returns the host to bind: Node.Host if set, else loopback in
// local mode and all interfaces in network mode.
func (n NodeConfig) ListenHost() string {
	if n.Host != "" {
		return n.Host
	}
	if n.Mode == ModeNetwork {
		return "0.0.0.0"
	}
	return "127.0.0.1"
}
