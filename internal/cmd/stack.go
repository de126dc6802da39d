package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/Iron-Ham/swarmbot/internal/agent"
	"github.com/Iron-Ham/swarmbot/internal/config"
	"github.com/Iron-Ham/swarmbot/internal/event"
	"github.com/Iron-Ham/swarmbot/internal/hal"
	"github.com/Iron-Ham/swarmbot/internal/hal/periph"
	"github.com/Iron-Ham/swarmbot/internal/hal/serialbridge"
	"github.com/Iron-Ham/swarmbot/internal/hal/sim"
	"github.com/Iron-Ham/swarmbot/internal/logging"
	"github.com/Iron-Ham/swarmbot/internal/motion"
	"github.com/Iron-Ham/swarmbot/internal/ranging"
	"github.com/Iron-Ham/swarmbot/internal/transport"
	"github.com/Iron-Ham/swarmbot/internal/watchdog"
)

// openBoard opens the configured hardware backend.
func openBoard(cfg *config.Config, logger *logging.Logger) (*hal.Board, error) {
	hw := cfg.Hardware
	switch hw.Backend {
	case "periph":
		return periph.Open(periph.PinNames{
			MotorAIn1: hw.Pins.MotorAIn1,
			MotorAIn2: hw.Pins.MotorAIn2,
			MotorBIn1: hw.Pins.MotorBIn1,
			MotorBIn2: hw.Pins.MotorBIn2,
			Trigger:   hw.Pins.Trigger,
			Echo:      hw.Pins.Echo,
		}, hw.AlarmBits, logger)
	case "serial":
		return serialbridge.Open(serialbridge.PortConfig{
			Port:        hw.Serial.Port,
			Baud:        hw.Serial.Baud,
			ReadTimeout: hw.Serial.ReadTimeout(),
		}, serialbridge.PinNames{
			MotorAIn1: hw.Pins.MotorAIn1,
			MotorAIn2: hw.Pins.MotorAIn2,
			MotorBIn1: hw.Pins.MotorBIn1,
			MotorBIn2: hw.Pins.MotorBIn2,
			Trigger:   hw.Pins.Trigger,
			Echo:      hw.Pins.Echo,
		}, hw.AlarmBits, logger)
	default:
		return nil, fmt.Errorf("unknown hardware backend %q (valid: %s)", hw.Backend, strings.Join(config.ValidBackends(), ", "))
	}
}

func rangingConfig(cfg *config.Config) ranging.Config {
	r := cfg.Ranging
	return ranging.Config{
		TriggerPulse:        r.TriggerPulse(),
		Timeout:             r.Timeout(),
		MaxWindowMicros:     uint64(r.MaxWindowUs),
		MinRangeMM:          r.MinRangeMM,
		MaxRangeMM:          r.MaxRangeMM,
		SpeedOfSoundMMPerUs: r.SpeedOfSoundMMPerUs,
	}
}

func calibration(cfg *config.Config) motion.Calibration {
	return motion.Calibration{
		LinearMMPerSec:   cfg.Motion.LinearMMPerSec,
		AngularRadPerSec: cfg.Motion.AngularRadPerSec,
	}
}

func agentConfig(cfg *config.Config) agent.Config {
	a := cfg.Agent
	return agent.Config{
		ForwardDistanceMM: a.ForwardDistanceMM,
		SafetyThresholdMM: a.SafetyThresholdMM,
		StepReward:        a.StepReward,
		CollisionPenalty:  a.CollisionPenalty,
		LoopInterval:      a.LoopInterval(),
		ReadyPoll:         a.ReadyPoll(),
		HandshakePoll:     a.HandshakePoll(),
	}
}

// robot is the sensing and actuation stack over one board.
type robot struct {
	board  *hal.Board
	ranger *ranging.Timer
	motion *motion.Controller
}

// newRobot builds ranging and motion over board. guard may be nil.
func newRobot(board *hal.Board, cfg *config.Config, guard *watchdog.Watchdog, logger *logging.Logger, bus *event.Bus) (*robot, error) {
	ropts := []ranging.Option{ranging.WithLogger(logger), ranging.WithBus(bus)}
	mopts := []motion.Option{motion.WithLogger(logger), motion.WithBus(bus)}
	if guard != nil {
		ropts = append(ropts, ranging.WithSupervisor(guard))
		mopts = append(mopts, motion.WithSupervisor(guard))
	}
	ranger, err := ranging.NewFromBoard(board, rangingConfig(cfg), ropts...)
	if err != nil {
		return nil, fmt.Errorf("failed to set up ranging: %w", err)
	}
	return &robot{
		board:  board,
		ranger: ranger,
		motion: motion.New(board, calibration(cfg), mopts...),
	}, nil
}

// openRobot builds the robot stack over the configured hardware, or over a
// simulated robot in the simulation arena when simulated is set.
func openRobot(cfg *config.Config, simulated bool, logger *logging.Logger, bus *event.Bus) (*robot, *sim.World, error) {
	if simulated {
		rig := sim.NewRig(sim.WithClock(sim.NewScaledClock(cfg.Simulation.TimeScale)), sim.WithAlarmBits(cfg.Hardware.AlarmBits))
		arena := sim.Arena{Width: cfg.Simulation.ArenaWidthMM, Height: cfg.Simulation.ArenaHeightMM}
		world := sim.NewWorld(rig, arena, startPose(0, 1, arena),
			sim.WithVelocities(cfg.Motion.LinearMMPerSec, cfg.Motion.AngularRadPerSec),
			sim.WithSensorRange(cfg.Ranging.MaxRangeMM),
		)
		bot, err := newRobot(rig.Board, cfg, nil, logger, bus)
		return bot, world, err
	}

	board, err := openBoard(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s hardware: %w", cfg.Hardware.Backend, err)
	}
	bot, err := newRobot(board, cfg, newWatchdog(cfg, logger, bus), logger, bus)
	if err != nil {
		_ = board.Close()
		return nil, nil, err
	}
	return bot, nil, nil
}

// newWatchdog returns nil when supervision is disabled.
func newWatchdog(cfg *config.Config, logger *logging.Logger, bus *event.Bus) *watchdog.Watchdog {
	if !cfg.Watchdog.Enabled {
		return nil
	}
	return watchdog.New(
		watchdog.WithGrace(cfg.Watchdog.Grace()),
		watchdog.WithExpiry(watchdog.ExitOnExpiry(cfg.Watchdog.ExitCode)),
		watchdog.WithLogger(logger),
		watchdog.WithBus(bus),
	)
}

// Close stops any movement and releases the board.
func (r *robot) Close() error {
	r.motion.Stop()
	return errors.Join(r.ranger.Close(), r.board.Close())
}

// jwtSecret resolves the signing key, preferring the secret file.
func jwtSecret(j config.JWTConfig) ([]byte, error) {
	if j.SecretFile != "" {
		b, err := os.ReadFile(j.SecretFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read jwt secret file: %w", err)
		}
		return []byte(strings.TrimSpace(string(b))), nil
	}
	return []byte(j.Secret), nil
}

// tokenSource returns nil when token auth is disabled.
func tokenSource(cfg *config.Config, subject string) (*transport.JWTSource, error) {
	j := cfg.Broker.JWT
	if !j.Enabled {
		return nil, nil
	}
	secret, err := jwtSecret(j)
	if err != nil {
		return nil, err
	}
	return transport.NewJWTSource(secret, j.Issuer, j.Audience, subject, j.TTL())
}

// mqttConfig describes a broker connection for clientID.
func mqttConfig(cfg *config.Config, clientID string, will *transport.Will) (transport.MQTTConfig, error) {
	b := cfg.Broker
	mc := transport.MQTTConfig{
		Broker:         b.URL,
		ClientID:       clientID,
		Username:       b.Username,
		Password:       b.Password,
		QoS:            byte(b.QoS),
		ConnectTimeout: b.ConnectTimeout(),
		KeepAlive:      b.KeepAlive(),
		Will:           will,
	}
	tokens, err := tokenSource(cfg, clientID)
	if err != nil {
		return mc, err
	}
	if tokens != nil {
		mc.Tokens = tokens
	}
	if b.CAFile != "" || b.InsecureSkipVerify {
		tlsCfg, err := transport.LoadTLS(b.CAFile, b.InsecureSkipVerify)
		if err != nil {
			return mc, err
		}
		mc.TLS = tlsCfg
	}
	return mc, nil
}
