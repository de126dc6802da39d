package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/swarmbot/internal/config"
	"github.com/Iron-Ham/swarmbot/internal/event"
)

var measureCmd = &cobra.Command{
	Use:   "measure",
	Short: "Take distance readings with the ultrasonic sensor",
	Long: `Trigger the ultrasonic sensor and print the distance to the nearest
obstacle ahead. Useful for checking wiring and calibration before a run.

Readings are clamped to the sensor's rated range; a reading marked
"timeout" means no echo came back in time and the maximum is reported.`,
	RunE: runMeasure,
}

var (
	measureCount    int
	measureInterval time.Duration
	measureSim      bool
)

func init() {
	rootCmd.AddCommand(measureCmd)

	measureCmd.Flags().IntVarP(&measureCount, "count", "n", 1, "number of readings")
	measureCmd.Flags().DurationVarP(&measureInterval, "interval", "i", 100*time.Millisecond, "pause between readings")
	measureCmd.Flags().BoolVar(&measureSim, "sim", false, "range inside the simulated arena instead of hardware")
}

func runMeasure(cmd *cobra.Command, args []string) error {
	if measureCount < 1 {
		return fmt.Errorf("--count must be at least 1")
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Close() }()

	ctx, stop := signalContext(cmd)
	defer stop()

	bot, _, err := openRobot(cfg, measureSim, logger, event.NewBus(event.WithLogger(logger)))
	if err != nil {
		return err
	}
	defer func() { _ = bot.Close() }()

	out := cmd.OutOrStdout()
	for i := range measureCount {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(measureInterval):
			}
		}
		r := bot.ranger.Sample()
		status := ""
		if r.TimedOut {
			status = "  (timeout)"
		}
		fmt.Fprintf(out, "%8.1f mm  pulse %6d µs%s\n", r.DistanceMM, r.PulseMicros, status)
	}

	ignored, timeouts := bot.ranger.Stats()
	if ignored > 0 || timeouts > 0 {
		fmt.Fprintf(out, "ignored edges: %d, timeouts: %d\n", ignored, timeouts)
	}
	return nil
}
