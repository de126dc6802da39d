package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/swarmbot/internal/agent"
	"github.com/Iron-Ham/swarmbot/internal/config"
	"github.com/Iron-Ham/swarmbot/internal/event"
	"github.com/Iron-Ham/swarmbot/internal/transport"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent on robot hardware",
	Long: `Run the agent against the configured hardware backend and MQTT broker.

The agent waits for the master, takes the index it assigns, and then turns
every action it receives into a timed movement, reporting the new distance
reading, the reward and the done flag after each one.

Stop it with Ctrl+C or SIGTERM; the motors are released on exit.`,
	RunE: runAgent,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Close() }()
	watchLogLevel(logger)

	ctx, stop := signalContext(cmd)
	defer stop()

	bus := event.NewBus(event.WithLogger(logger))
	bot, _, err := openRobot(cfg, false, logger, bus)
	if err != nil {
		return err
	}
	defer func() {
		if err := bot.Close(); err != nil {
			logger.Warn("failed to release hardware", "error", err)
		}
	}()

	a, err := agent.New(bot.ranger, bot.motion, agentConfig(cfg), agent.WithLogger(logger), agent.WithBus(bus))
	if err != nil {
		return err
	}

	mc, err := mqttConfig(cfg, cfg.Broker.ClientIDOrDefault(), nil)
	if err != nil {
		return fmt.Errorf("invalid broker settings: %w", err)
	}
	link := transport.NewMQTT(mc, a.Handle, transport.WithMQTTLogger(logger), transport.WithMQTTBus(bus))
	defer func() { _ = link.Close() }()

	logger.Info("agent starting",
		"broker", cfg.Broker.URL,
		"client_id", mc.ClientID,
		"backend", cfg.Hardware.Backend,
	)
	err = a.Run(ctx, link)

	snap := a.Snapshot()
	logger.Info("agent stopped",
		"index", snap.Index,
		"episodes", snap.Episodes,
		"steps", snap.Steps,
		"collisions_averted", snap.Collisions,
	)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
