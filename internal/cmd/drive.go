package cmd

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/swarmbot/internal/config"
	"github.com/Iron-Ham/swarmbot/internal/event"
	"github.com/Iron-Ham/swarmbot/internal/hal"
	"github.com/Iron-Ham/swarmbot/internal/motion"
)

var driveCmd = &cobra.Command{
	Use:   "drive <forward|left|right> <magnitude>",
	Short: "Perform a single timed movement",
	Long: `Perform one open-loop movement and print how long the motors ran.

The magnitude is millimetres for forward and degrees for turns (radians with
--radians). The duration comes from the motion calibration, so this is the
way to check it: drive a known distance and measure how far the robot went.

Examples:
  swarmbot drive forward 200
  swarmbot drive left 90
  swarmbot drive right 3.1416 --radians --dry-run`,
	Args: cobra.ExactArgs(2),
	RunE: runDrive,
}

var (
	driveDryRun  bool
	driveRadians bool
	driveSim     bool
)

func init() {
	rootCmd.AddCommand(driveCmd)

	driveCmd.Flags().BoolVar(&driveDryRun, "dry-run", false, "print the computed duration without moving")
	driveCmd.Flags().BoolVar(&driveRadians, "radians", false, "turn magnitudes are in radians")
	driveCmd.Flags().BoolVar(&driveSim, "sim", false, "drive a simulated robot instead of hardware")
}

// parseDriveArgs turns the positional arguments into a request.
func parseDriveArgs(kindArg, magnitudeArg string, radians bool) (motion.Request, error) {
	kind, err := motion.ParseKind(kindArg)
	if err != nil {
		return motion.Request{}, err
	}
	magnitude, err := strconv.ParseFloat(magnitudeArg, 64)
	if err != nil {
		return motion.Request{}, fmt.Errorf("invalid magnitude %q: %w", magnitudeArg, err)
	}
	if kind != motion.Forward && !radians {
		magnitude = magnitude * math.Pi / 180
	}
	return motion.Request{Kind: kind, Magnitude: magnitude}, nil
}

func runDrive(cmd *cobra.Command, args []string) error {
	req, err := parseDriveArgs(args[0], args[1], driveRadians)
	if err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	out := cmd.OutOrStdout()
	if driveDryRun {
		us, err := calibration(cfg).Duration(req, maxAlarmMicros(cfg))
		if err != nil {
			return err
		}
		printDuration(cmd, req, us)
		return nil
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Close() }()

	bot, world, err := openRobot(cfg, driveSim, logger, event.NewBus(event.WithLogger(logger)))
	if err != nil {
		return err
	}
	defer func() { _ = bot.Close() }()

	us, err := bot.motion.Duration(req)
	if err != nil {
		return err
	}
	start := time.Now()
	if err := bot.motion.Drive(req); err != nil {
		return err
	}
	printDuration(cmd, req, us)
	fmt.Fprintf(out, "wall time: %s\n", time.Since(start).Round(time.Millisecond))
	if world != nil {
		p := world.Pose()
		fmt.Fprintf(out, "pose: x=%.0f y=%.0f heading=%.0f°\n", p.X, p.Y, p.Heading*180/math.Pi)
	}
	return nil
}

func maxAlarmMicros(cfg *config.Config) uint64 {
	return hal.MaxMicrosForBits(cfg.Hardware.AlarmBits)
}

func printDuration(cmd *cobra.Command, req motion.Request, us uint64) {
	unit := "rad"
	if req.Kind == motion.Forward {
		unit = "mm"
	}
	d := time.Duration(us) * time.Microsecond
	fmt.Fprintf(cmd.OutOrStdout(), "%s %.4g %s: %d µs (%s)\n", req.Kind, req.Magnitude, unit, us, d)
}
