package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete swarmbot configuration
type Config struct {
	Broker     BrokerConfig     `mapstructure:"broker" yaml:"broker"`
	Agent      AgentConfig      `mapstructure:"agent" yaml:"agent"`
	Ranging    RangingConfig    `mapstructure:"ranging" yaml:"ranging"`
	Motion     MotionConfig     `mapstructure:"motion" yaml:"motion"`
	Hardware   HardwareConfig   `mapstructure:"hardware" yaml:"hardware"`
	Simulation SimulationConfig `mapstructure:"simulation" yaml:"simulation"`
	Watchdog   WatchdogConfig   `mapstructure:"watchdog" yaml:"watchdog"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
}

// BrokerConfig controls the connection to the coordination broker
type BrokerConfig struct {
	// URL of the MQTT broker, e.g. "tcp://master.local:1883" or "ssl://host:8883"
	URL string `mapstructure:"url" yaml:"url"`
	// ClientID is the MQTT client id. Empty derives "swarmbot-<hostname>".
	ClientID string `mapstructure:"client_id" yaml:"client_id"`
	// Username and Password for plain broker auth
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	// QoS for subscriptions and publishes (default: 1)
	QoS int `mapstructure:"qos" yaml:"qos"`
	// CAFile enables TLS with the given PEM bundle
	CAFile string `mapstructure:"ca_file" yaml:"ca_file"`
	// InsecureSkipVerify disables TLS certificate verification (lab use only)
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	// ConnectTimeoutMs bounds each connect attempt (default: 5000)
	ConnectTimeoutMs int `mapstructure:"connect_timeout_ms" yaml:"connect_timeout_ms"`
	// KeepAliveSec is the MQTT keep-alive interval (default: 30)
	KeepAliveSec int `mapstructure:"keep_alive_sec" yaml:"keep_alive_sec"`
	// JWT configures a signed token used as the broker password
	JWT JWTConfig `mapstructure:"jwt" yaml:"jwt"`
}

// JWTConfig controls signed-token broker authentication
type JWTConfig struct {
	// Enabled replaces Password with a freshly signed HS256 token at every connect
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Secret is the HMAC key. SecretFile takes precedence when set.
	Secret     string `mapstructure:"secret" yaml:"secret"`
	SecretFile string `mapstructure:"secret_file" yaml:"secret_file"`
	// Issuer and Audience claims
	Issuer   string `mapstructure:"issuer" yaml:"issuer"`
	Audience string `mapstructure:"audience" yaml:"audience"`
	// TTLMinutes is the token lifetime (default: 60)
	TTLMinutes int `mapstructure:"ttl_minutes" yaml:"ttl_minutes"`
}

// AgentConfig controls the coordination state machine
type AgentConfig struct {
	// ForwardDistanceMM is the distance driven by action 0 (default: 200)
	ForwardDistanceMM float64 `mapstructure:"forward_distance_mm" yaml:"forward_distance_mm"`
	// SafetyThresholdMM refuses forward actions closer than this (default: 200)
	SafetyThresholdMM float64 `mapstructure:"safety_threshold_mm" yaml:"safety_threshold_mm"`
	// StepReward is published for every dispatched action (default: -1)
	StepReward int `mapstructure:"step_reward" yaml:"step_reward"`
	// CollisionPenalty is published when a forward action is refused (default: -50)
	CollisionPenalty int `mapstructure:"collision_penalty" yaml:"collision_penalty"`
	// LoopIntervalMs bounds the wait for the next protocol message (default: 500)
	LoopIntervalMs int `mapstructure:"loop_interval_ms" yaml:"loop_interval_ms"`
	// ReadyPollMs is the re-poll period while the master or link is not ready (default: 500)
	ReadyPollMs int `mapstructure:"ready_poll_ms" yaml:"ready_poll_ms"`
	// HandshakePollMs is the poll period during the handshake (default: 50)
	HandshakePollMs int `mapstructure:"handshake_poll_ms" yaml:"handshake_poll_ms"`
}

// RangingConfig controls the echo ranging sensor
type RangingConfig struct {
	TriggerPulseUs      int     `mapstructure:"trigger_pulse_us" yaml:"trigger_pulse_us"`
	TimeoutMs           int     `mapstructure:"timeout_ms" yaml:"timeout_ms"`
	MaxWindowUs         int     `mapstructure:"max_window_us" yaml:"max_window_us"`
	MinRangeMM          float64 `mapstructure:"min_range_mm" yaml:"min_range_mm"`
	MaxRangeMM          float64 `mapstructure:"max_range_mm" yaml:"max_range_mm"`
	SpeedOfSoundMMPerUs float64 `mapstructure:"speed_of_sound_mm_per_us" yaml:"speed_of_sound_mm_per_us"`
}

// MotionConfig holds the open-loop calibration constants
type MotionConfig struct {
	LinearMMPerSec   float64 `mapstructure:"linear_mm_per_sec" yaml:"linear_mm_per_sec"`
	AngularRadPerSec float64 `mapstructure:"angular_rad_per_sec" yaml:"angular_rad_per_sec"`
}

// HardwareConfig selects and configures the hardware backend
type HardwareConfig struct {
	// Backend is "periph" (host GPIO) or "serial" (co-processor bridge)
	Backend string       `mapstructure:"backend" yaml:"backend"`
	Pins    PinsConfig   `mapstructure:"pins" yaml:"pins"`
	Serial  SerialConfig `mapstructure:"serial" yaml:"serial"`
	// AlarmBits is the width of the motion alarm counter (default: 54)
	AlarmBits int `mapstructure:"alarm_bits" yaml:"alarm_bits"`
}

// PinsConfig names the pins used by the agent. For the periph backend these
// are gpioreg names; for the serial backend they are the co-processor's pin
// numbers.
type PinsConfig struct {
	MotorAIn1 string `mapstructure:"motor_a_in1" yaml:"motor_a_in1"`
	MotorAIn2 string `mapstructure:"motor_a_in2" yaml:"motor_a_in2"`
	MotorBIn1 string `mapstructure:"motor_b_in1" yaml:"motor_b_in1"`
	MotorBIn2 string `mapstructure:"motor_b_in2" yaml:"motor_b_in2"`
	Trigger   string `mapstructure:"trigger" yaml:"trigger"`
	Echo      string `mapstructure:"echo" yaml:"echo"`
}

// SerialConfig configures the co-processor link
type SerialConfig struct {
	Port          string `mapstructure:"port" yaml:"port"`
	Baud          int    `mapstructure:"baud" yaml:"baud"`
	ReadTimeoutMs int    `mapstructure:"read_timeout_ms" yaml:"read_timeout_ms"`
}

// SimulationConfig controls `swarmbot simulate`
type SimulationConfig struct {
	// Agents is the number of simulated robots (default: 1)
	Agents int `mapstructure:"agents" yaml:"agents"`
	// ArenaWidthMM and ArenaHeightMM size the rectangular arena
	ArenaWidthMM  float64 `mapstructure:"arena_width_mm" yaml:"arena_width_mm"`
	ArenaHeightMM float64 `mapstructure:"arena_height_mm" yaml:"arena_height_mm"`
	// TimeScale speeds up the simulated clock (default: 1.0, real time)
	TimeScale float64 `mapstructure:"time_scale" yaml:"time_scale"`
	// NoiseMM is the standard deviation of echo distance noise (default: 0)
	NoiseMM float64 `mapstructure:"noise_mm" yaml:"noise_mm"`
	// Seed for the action policy and sensor noise
	Seed int64 `mapstructure:"seed" yaml:"seed"`
	// Policy is the built-in master's action policy: "cycle", "random", "scripted"
	Policy string `mapstructure:"policy" yaml:"policy"`
	// Script is the action sequence for the "scripted" policy
	Script []int `mapstructure:"script" yaml:"script"`
	// MaxSteps per episode (default: 20)
	MaxSteps int `mapstructure:"max_steps" yaml:"max_steps"`
	// Episodes to run before the master stops (default: 1)
	Episodes int `mapstructure:"episodes" yaml:"episodes"`
	// EmbeddedBroker runs the in-process broker and master instead of using broker.url
	EmbeddedBroker bool `mapstructure:"embedded_broker" yaml:"embedded_broker"`
}

// WatchdogConfig controls fatal-fault surfacing for blocking hardware waits
type WatchdogConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// GraceMs is added to every operation budget (default: 250)
	GraceMs int `mapstructure:"grace_ms" yaml:"grace_ms"`
	// ExitCode is the process exit status on expiry (default: 3)
	ExitCode int `mapstructure:"exit_code" yaml:"exit_code"`
}

// LoggingConfig controls structured logging
type LoggingConfig struct {
	// Enabled writes logs to Dir; otherwise logs go to stderr
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level" yaml:"level"`
	// Dir is the log directory. Empty uses <config dir>/logs.
	Dir string `mapstructure:"dir" yaml:"dir"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
	// MaxAgeDays removes backups older than this (default: 14)
	MaxAgeDays int `mapstructure:"max_age_days" yaml:"max_age_days"`
	// Compress gzips rotated files (default: true)
	Compress bool `mapstructure:"compress" yaml:"compress"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			URL:              "tcp://localhost:1883",
			QoS:              1,
			ConnectTimeoutMs: 5000,
			KeepAliveSec:     30,
			JWT: JWTConfig{
				Issuer:     "swarmbot",
				Audience:   "swarm-broker",
				TTLMinutes: 60,
			},
		},
		Agent: AgentConfig{
			ForwardDistanceMM: 200,
			SafetyThresholdMM: 200,
			StepReward:        -1,
			CollisionPenalty:  -50,
			LoopIntervalMs:    500,
			ReadyPollMs:       500,
			HandshakePollMs:   50,
		},
		Ranging: RangingConfig{
			TriggerPulseUs:      10,
			TimeoutMs:           30,    // 4000mm round trip plus margin
			MaxWindowUs:         23530, // round trip for 4000mm at 0.34mm/us
			MinRangeMM:          20,
			MaxRangeMM:          4000,
			SpeedOfSoundMMPerUs: 0.34,
		},
		Motion: MotionConfig{
			LinearMMPerSec:   500,
			AngularRadPerSec: 0.5,
		},
		Hardware: HardwareConfig{
			Backend: "periph",
			Pins: PinsConfig{
				MotorAIn1: "GPIO17",
				MotorAIn2: "GPIO27",
				MotorBIn1: "GPIO22",
				MotorBIn2: "GPIO23",
				Trigger:   "GPIO24",
				Echo:      "GPIO25",
			},
			Serial: SerialConfig{
				Port:          "/dev/ttyACM0",
				Baud:          115200,
				ReadTimeoutMs: 100,
			},
			AlarmBits: 54,
		},
		Simulation: SimulationConfig{
			Agents:         1,
			ArenaWidthMM:   2000,
			ArenaHeightMM:  2000,
			TimeScale:      1.0,
			Seed:           1,
			Policy:         "cycle",
			MaxSteps:       20,
			Episodes:       1,
			EmbeddedBroker: true,
		},
		Watchdog: WatchdogConfig{
			Enabled:  true,
			GraceMs:  250,
			ExitCode: 3,
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 14,
			Compress:   true,
		},
	}
}

// LoopInterval returns the bounded message wait of the step loop
func (c *AgentConfig) LoopInterval() time.Duration {
	return time.Duration(c.LoopIntervalMs) * time.Millisecond
}

// ReadyPoll returns the master-status re-poll period
func (c *AgentConfig) ReadyPoll() time.Duration {
	return time.Duration(c.ReadyPollMs) * time.Millisecond
}

// HandshakePoll returns the handshake poll period
func (c *AgentConfig) HandshakePoll() time.Duration {
	return time.Duration(c.HandshakePollMs) * time.Millisecond
}

// Timeout returns the bounded echo wait
func (c *RangingConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// TriggerPulse returns the trigger high time
func (c *RangingConfig) TriggerPulse() time.Duration {
	return time.Duration(c.TriggerPulseUs) * time.Microsecond
}

// ConnectTimeout returns the per-attempt connect bound
func (c *BrokerConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMs) * time.Millisecond
}

// KeepAlive returns the MQTT keep-alive interval
func (c *BrokerConfig) KeepAlive() time.Duration {
	return time.Duration(c.KeepAliveSec) * time.Second
}

// TTL returns the token lifetime
func (c *JWTConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

// Grace returns the slack added to every guarded operation
func (c *WatchdogConfig) Grace() time.Duration {
	return time.Duration(c.GraceMs) * time.Millisecond
}

// ReadTimeout returns the serial read timeout
func (c *SerialConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutMs) * time.Millisecond
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Broker defaults
	viper.SetDefault("broker.url", defaults.Broker.URL)
	viper.SetDefault("broker.client_id", defaults.Broker.ClientID)
	viper.SetDefault("broker.username", defaults.Broker.Username)
	viper.SetDefault("broker.password", defaults.Broker.Password)
	viper.SetDefault("broker.qos", defaults.Broker.QoS)
	viper.SetDefault("broker.ca_file", defaults.Broker.CAFile)
	viper.SetDefault("broker.insecure_skip_verify", defaults.Broker.InsecureSkipVerify)
	viper.SetDefault("broker.connect_timeout_ms", defaults.Broker.ConnectTimeoutMs)
	viper.SetDefault("broker.keep_alive_sec", defaults.Broker.KeepAliveSec)
	viper.SetDefault("broker.jwt.enabled", defaults.Broker.JWT.Enabled)
	viper.SetDefault("broker.jwt.secret", defaults.Broker.JWT.Secret)
	viper.SetDefault("broker.jwt.secret_file", defaults.Broker.JWT.SecretFile)
	viper.SetDefault("broker.jwt.issuer", defaults.Broker.JWT.Issuer)
	viper.SetDefault("broker.jwt.audience", defaults.Broker.JWT.Audience)
	viper.SetDefault("broker.jwt.ttl_minutes", defaults.Broker.JWT.TTLMinutes)

	// Agent defaults
	viper.SetDefault("agent.forward_distance_mm", defaults.Agent.ForwardDistanceMM)
	viper.SetDefault("agent.safety_threshold_mm", defaults.Agent.SafetyThresholdMM)
	viper.SetDefault("agent.step_reward", defaults.Agent.StepReward)
	viper.SetDefault("agent.collision_penalty", defaults.Agent.CollisionPenalty)
	viper.SetDefault("agent.loop_interval_ms", defaults.Agent.LoopIntervalMs)
	viper.SetDefault("agent.ready_poll_ms", defaults.Agent.ReadyPollMs)
	viper.SetDefault("agent.handshake_poll_ms", defaults.Agent.HandshakePollMs)

	// Ranging defaults
	viper.SetDefault("ranging.trigger_pulse_us", defaults.Ranging.TriggerPulseUs)
	viper.SetDefault("ranging.timeout_ms", defaults.Ranging.TimeoutMs)
	viper.SetDefault("ranging.max_window_us", defaults.Ranging.MaxWindowUs)
	viper.SetDefault("ranging.min_range_mm", defaults.Ranging.MinRangeMM)
	viper.SetDefault("ranging.max_range_mm", defaults.Ranging.MaxRangeMM)
	viper.SetDefault("ranging.speed_of_sound_mm_per_us", defaults.Ranging.SpeedOfSoundMMPerUs)

	// Motion defaults
	viper.SetDefault("motion.linear_mm_per_sec", defaults.Motion.LinearMMPerSec)
	viper.SetDefault("motion.angular_rad_per_sec", defaults.Motion.AngularRadPerSec)

	// Hardware defaults
	viper.SetDefault("hardware.backend", defaults.Hardware.Backend)
	viper.SetDefault("hardware.pins.motor_a_in1", defaults.Hardware.Pins.MotorAIn1)
	viper.SetDefault("hardware.pins.motor_a_in2", defaults.Hardware.Pins.MotorAIn2)
	viper.SetDefault("hardware.pins.motor_b_in1", defaults.Hardware.Pins.MotorBIn1)
	viper.SetDefault("hardware.pins.motor_b_in2", defaults.Hardware.Pins.MotorBIn2)
	viper.SetDefault("hardware.pins.trigger", defaults.Hardware.Pins.Trigger)
	viper.SetDefault("hardware.pins.echo", defaults.Hardware.Pins.Echo)
	viper.SetDefault("hardware.serial.port", defaults.Hardware.Serial.Port)
	viper.SetDefault("hardware.serial.baud", defaults.Hardware.Serial.Baud)
	viper.SetDefault("hardware.serial.read_timeout_ms", defaults.Hardware.Serial.ReadTimeoutMs)
	viper.SetDefault("hardware.alarm_bits", defaults.Hardware.AlarmBits)

	// Simulation defaults
	viper.SetDefault("simulation.agents", defaults.Simulation.Agents)
	viper.SetDefault("simulation.arena_width_mm", defaults.Simulation.ArenaWidthMM)
	viper.SetDefault("simulation.arena_height_mm", defaults.Simulation.ArenaHeightMM)
	viper.SetDefault("simulation.time_scale", defaults.Simulation.TimeScale)
	viper.SetDefault("simulation.noise_mm", defaults.Simulation.NoiseMM)
	viper.SetDefault("simulation.seed", defaults.Simulation.Seed)
	viper.SetDefault("simulation.policy", defaults.Simulation.Policy)
	viper.SetDefault("simulation.script", defaults.Simulation.Script)
	viper.SetDefault("simulation.max_steps", defaults.Simulation.MaxSteps)
	viper.SetDefault("simulation.episodes", defaults.Simulation.Episodes)
	viper.SetDefault("simulation.embedded_broker", defaults.Simulation.EmbeddedBroker)

	// Watchdog defaults
	viper.SetDefault("watchdog.enabled", defaults.Watchdog.Enabled)
	viper.SetDefault("watchdog.grace_ms", defaults.Watchdog.GraceMs)
	viper.SetDefault("watchdog.exit_code", defaults.Watchdog.ExitCode)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.max_age_days", defaults.Logging.MaxAgeDays)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "swarmbot")
	}
	// Fall back to ~/.config/swarmbot
	home, err := os.UserHomeDir()
	if err != nil {
		return ".swarmbot"
	}
	return filepath.Join(home, ".config", "swarmbot")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// LogDir resolves the effective log directory
func (c *LoggingConfig) LogDir() string {
	if c.Dir != "" {
		return c.Dir
	}
	return filepath.Join(ConfigDir(), "logs")
}

// ClientIDOrDefault returns ClientID, or "swarmbot-<hostname>" when unset
func (c *BrokerConfig) ClientIDOrDefault() string {
	if c.ClientID != "" {
		return c.ClientID
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "agent"
	}
	return "swarmbot-" + host
}
