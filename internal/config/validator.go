package config

import (
	"fmt"
	"math"
	"net/url"
	"os"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "ranging.timeout_ms")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidBackends returns the list of valid hardware backends
func ValidBackends() []string {
	return []string{"periph", "serial"}
}

// ValidPolicies returns the list of valid simulated master policies
func ValidPolicies() []string {
	return []string{"cycle", "random", "scripted"}
}

// ValidBrokerSchemes returns the URL schemes paho can dial
func ValidBrokerSchemes() []string {
	return []string{"tcp", "mqtt", "ssl", "tls", "mqtts", "ws", "wss"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateBroker()...)
	errors = append(errors, c.validateAgent()...)
	errors = append(errors, c.validateRanging()...)
	errors = append(errors, c.validateMotion()...)
	errors = append(errors, c.validateHardware()...)
	errors = append(errors, c.validateSimulation()...)
	errors = append(errors, c.validateWatchdog()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateBroker validates the BrokerConfig
func (c *Config) validateBroker() []ValidationError {
	var errors []ValidationError

	u, err := url.Parse(c.Broker.URL)
	if c.Broker.URL == "" || err != nil || u.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "broker.url",
			Value:   c.Broker.URL,
			Message: "must be a broker URL like tcp://host:1883",
		})
	} else if !slices.Contains(ValidBrokerSchemes(), u.Scheme) {
		errors = append(errors, ValidationError{
			Field:   "broker.url",
			Value:   c.Broker.URL,
			Message: fmt.Sprintf("scheme must be one of: %s", strings.Join(ValidBrokerSchemes(), ", ")),
		})
	}

	if c.Broker.QoS < 0 || c.Broker.QoS > 2 {
		errors = append(errors, ValidationError{
			Field:   "broker.qos",
			Value:   c.Broker.QoS,
			Message: "must be 0, 1 or 2",
		})
	}

	if c.Broker.ConnectTimeoutMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "broker.connect_timeout_ms",
			Value:   c.Broker.ConnectTimeoutMs,
			Message: "must be positive",
		})
	}

	if c.Broker.KeepAliveSec < 0 {
		errors = append(errors, ValidationError{
			Field:   "broker.keep_alive_sec",
			Value:   c.Broker.KeepAliveSec,
			Message: "must be non-negative",
		})
	}

	if c.Broker.CAFile != "" {
		if _, err := os.Stat(c.Broker.CAFile); err != nil {
			errors = append(errors, ValidationError{
				Field:   "broker.ca_file",
				Value:   c.Broker.CAFile,
				Message: "file does not exist",
			})
		}
	}

	if c.Broker.JWT.Enabled {
		if c.Broker.JWT.Secret == "" && c.Broker.JWT.SecretFile == "" {
			errors = append(errors, ValidationError{
				Field:   "broker.jwt.secret",
				Value:   "",
				Message: "secret or secret_file is required when jwt is enabled",
			})
		}
		if c.Broker.JWT.TTLMinutes <= 0 {
			errors = append(errors, ValidationError{
				Field:   "broker.jwt.ttl_minutes",
				Value:   c.Broker.JWT.TTLMinutes,
				Message: "must be positive",
			})
		}
	}

	return errors
}

// validateAgent validates the AgentConfig
func (c *Config) validateAgent() []ValidationError {
	var errors []ValidationError

	if !finitePositive(c.Agent.ForwardDistanceMM) {
		errors = append(errors, ValidationError{
			Field:   "agent.forward_distance_mm",
			Value:   c.Agent.ForwardDistanceMM,
			Message: "must be positive",
		})
	}

	if c.Agent.SafetyThresholdMM < 0 || math.IsNaN(c.Agent.SafetyThresholdMM) {
		errors = append(errors, ValidationError{
			Field:   "agent.safety_threshold_mm",
			Value:   c.Agent.SafetyThresholdMM,
			Message: "must be non-negative",
		})
	}

	for field, v := range map[string]int{
		"agent.loop_interval_ms":  c.Agent.LoopIntervalMs,
		"agent.ready_poll_ms":     c.Agent.ReadyPollMs,
		"agent.handshake_poll_ms": c.Agent.HandshakePollMs,
	} {
		if v <= 0 {
			errors = append(errors, ValidationError{Field: field, Value: v, Message: "must be positive"})
		}
	}
	slices.SortFunc(errors, func(a, b ValidationError) int { return strings.Compare(a.Field, b.Field) })

	return errors
}

// validateRanging validates the RangingConfig
func (c *Config) validateRanging() []ValidationError {
	var errors []ValidationError
	r := c.Ranging

	if r.TriggerPulseUs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "ranging.trigger_pulse_us",
			Value:   r.TriggerPulseUs,
			Message: "must be positive",
		})
	}

	if r.TimeoutMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "ranging.timeout_ms",
			Value:   r.TimeoutMs,
			Message: "must be positive",
		})
	}

	if r.MaxWindowUs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "ranging.max_window_us",
			Value:   r.MaxWindowUs,
			Message: "must be positive",
		})
	}

	if !finitePositive(r.SpeedOfSoundMMPerUs) {
		errors = append(errors, ValidationError{
			Field:   "ranging.speed_of_sound_mm_per_us",
			Value:   r.SpeedOfSoundMMPerUs,
			Message: "must be positive",
		})
	}

	if r.MinRangeMM < 0 || !(r.MinRangeMM < r.MaxRangeMM) {
		errors = append(errors, ValidationError{
			Field:   "ranging.min_range_mm",
			Value:   r.MinRangeMM,
			Message: fmt.Sprintf("must be non-negative and below max_range_mm (%v)", r.MaxRangeMM),
		})
	}

	// The wait must outlast the echo of the farthest reportable obstacle.
	if r.TimeoutMs > 0 && r.MaxWindowUs > r.TimeoutMs*1000 {
		errors = append(errors, ValidationError{
			Field:   "ranging.timeout_ms",
			Value:   r.TimeoutMs,
			Message: fmt.Sprintf("must cover max_window_us (%dus)", r.MaxWindowUs),
		})
	}

	return errors
}

// validateMotion validates the MotionConfig
func (c *Config) validateMotion() []ValidationError {
	var errors []ValidationError

	if !finitePositive(c.Motion.LinearMMPerSec) {
		errors = append(errors, ValidationError{
			Field:   "motion.linear_mm_per_sec",
			Value:   c.Motion.LinearMMPerSec,
			Message: "must be positive",
		})
	}

	if !finitePositive(c.Motion.AngularRadPerSec) {
		errors = append(errors, ValidationError{
			Field:   "motion.angular_rad_per_sec",
			Value:   c.Motion.AngularRadPerSec,
			Message: "must be positive",
		})
	}

	return errors
}

// validateHardware validates the HardwareConfig
func (c *Config) validateHardware() []ValidationError {
	var errors []ValidationError
	h := c.Hardware

	if !slices.Contains(ValidBackends(), h.Backend) {
		errors = append(errors, ValidationError{
			Field:   "hardware.backend",
			Value:   h.Backend,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidBackends(), ", ")),
		})
	}

	pins := []struct {
		field string
		value string
	}{
		{"hardware.pins.motor_a_in1", h.Pins.MotorAIn1},
		{"hardware.pins.motor_a_in2", h.Pins.MotorAIn2},
		{"hardware.pins.motor_b_in1", h.Pins.MotorBIn1},
		{"hardware.pins.motor_b_in2", h.Pins.MotorBIn2},
		{"hardware.pins.trigger", h.Pins.Trigger},
		{"hardware.pins.echo", h.Pins.Echo},
	}
	seen := make(map[string]string)
	for _, p := range pins {
		if strings.TrimSpace(p.value) == "" {
			errors = append(errors, ValidationError{Field: p.field, Value: p.value, Message: "must not be empty"})
			continue
		}
		if other, dup := seen[p.value]; dup {
			errors = append(errors, ValidationError{
				Field:   p.field,
				Value:   p.value,
				Message: fmt.Sprintf("pin already used by %s", other),
			})
			continue
		}
		seen[p.value] = p.field
	}

	if h.Backend == "serial" {
		if h.Serial.Port == "" {
			errors = append(errors, ValidationError{
				Field:   "hardware.serial.port",
				Value:   h.Serial.Port,
				Message: "required for the serial backend",
			})
		}
		if h.Serial.Baud <= 0 {
			errors = append(errors, ValidationError{
				Field:   "hardware.serial.baud",
				Value:   h.Serial.Baud,
				Message: "must be positive",
			})
		}
	}

	if h.AlarmBits < 16 || h.AlarmBits > 64 {
		errors = append(errors, ValidationError{
			Field:   "hardware.alarm_bits",
			Value:   h.AlarmBits,
			Message: "must be between 16 and 64",
		})
	}

	return errors
}

// validateSimulation validates the SimulationConfig
func (c *Config) validateSimulation() []ValidationError {
	var errors []ValidationError
	s := c.Simulation

	if s.Agents < 1 {
		errors = append(errors, ValidationError{
			Field:   "simulation.agents",
			Value:   s.Agents,
			Message: "must be at least 1",
		})
	}

	if !finitePositive(s.ArenaWidthMM) || !finitePositive(s.ArenaHeightMM) {
		errors = append(errors, ValidationError{
			Field:   "simulation.arena_width_mm",
			Value:   fmt.Sprintf("%vx%v", s.ArenaWidthMM, s.ArenaHeightMM),
			Message: "arena dimensions must be positive",
		})
	}

	if !finitePositive(s.TimeScale) {
		errors = append(errors, ValidationError{
			Field:   "simulation.time_scale",
			Value:   s.TimeScale,
			Message: "must be positive",
		})
	}

	if s.NoiseMM < 0 {
		errors = append(errors, ValidationError{
			Field:   "simulation.noise_mm",
			Value:   s.NoiseMM,
			Message: "must be non-negative",
		})
	}

	if !slices.Contains(ValidPolicies(), s.Policy) {
		errors = append(errors, ValidationError{
			Field:   "simulation.policy",
			Value:   s.Policy,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidPolicies(), ", ")),
		})
	} else if s.Policy == "scripted" && len(s.Script) == 0 {
		errors = append(errors, ValidationError{
			Field:   "simulation.script",
			Value:   s.Script,
			Message: "must not be empty for the scripted policy",
		})
	}

	for i, a := range s.Script {
		if a < 0 || a > 3 {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("simulation.script[%d]", i),
				Value:   a,
				Message: "action must be between 0 and 3",
			})
		}
	}

	if s.MaxSteps < 1 {
		errors = append(errors, ValidationError{
			Field:   "simulation.max_steps",
			Value:   s.MaxSteps,
			Message: "must be at least 1",
		})
	}

	if s.Episodes < 1 {
		errors = append(errors, ValidationError{
			Field:   "simulation.episodes",
			Value:   s.Episodes,
			Message: "must be at least 1",
		})
	}

	return errors
}

// validateWatchdog validates the WatchdogConfig
func (c *Config) validateWatchdog() []ValidationError {
	var errors []ValidationError

	if c.Watchdog.GraceMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "watchdog.grace_ms",
			Value:   c.Watchdog.GraceMs,
			Message: "must be non-negative",
		})
	}

	if c.Watchdog.ExitCode < 1 || c.Watchdog.ExitCode > 125 {
		errors = append(errors, ValidationError{
			Field:   "watchdog.exit_code",
			Value:   c.Watchdog.ExitCode,
			Message: "must be between 1 and 125",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	if c.Logging.MaxAgeDays < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_age_days",
			Value:   c.Logging.MaxAgeDays,
			Message: "must be non-negative",
		})
	}

	if strings.ContainsRune(c.Logging.Dir, '\x00') {
		errors = append(errors, ValidationError{
			Field:   "logging.dir",
			Value:   c.Logging.Dir,
			Message: "contains invalid null character",
		})
	}

	return errors
}

func finitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
