package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Iron-Ham/swarmbot/internal/config"
	"github.com/Iron-Ham/swarmbot/internal/master"
	"github.com/Iron-Ham/swarmbot/internal/transport"
	"github.com/Iron-Ham/swarmbot/internal/tui/teleop"
)

var teleopCmd = &cobra.Command{
	Use:   "teleop",
	Short: "Drive one agent by hand from the terminal",
	Long: `Act as the master for a single agent and send its actions from the
keyboard: arrows or WASD move, n starts a new episode, q quits.

The console announces itself on the configured broker, assigns the given
index to the first agent that joins, and shows the distance and reward the
agent reports after every move. Only one master may be active on a broker.`,
	RunE: runTeleop,
}

var teleopIndex uint16

func init() {
	rootCmd.AddCommand(teleopCmd)

	teleopCmd.Flags().Uint16Var(&teleopIndex, "index", 0, "index to assign to the agent")
}

func runTeleop(cmd *cobra.Command, args []string) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
		return errors.New("teleop needs an interactive terminal")
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	// The console owns the screen, so logs always go to the file.
	cfg.Logging.Enabled = true
	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Close() }()

	ctx, stop := signalContext(cmd)
	defer stop()

	will := master.Will()
	mc, err := mqttConfig(cfg, cfg.Broker.ClientIDOrDefault()+"-teleop", &will)
	if err != nil {
		return fmt.Errorf("invalid broker settings: %w", err)
	}
	inbox := teleop.NewInbox(64)
	link := transport.NewMQTT(mc, inbox.Handle, transport.WithMQTTLogger(logger))
	if err := link.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", cfg.Broker.URL, err)
	}
	defer func() {
		// Leave no stale "ready" behind for the agent.
		_ = link.Publish(will.Topic, will.Payload, will.Retained)
		_ = link.Close()
	}()

	logger.Info("teleop console started", "broker", cfg.Broker.URL, "index", teleopIndex)
	return teleop.Run(link, uint32(teleopIndex), inbox)
}
