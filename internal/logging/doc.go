// Package logging provides structured logging for swarmbot agents.
//
// This package wraps Go's log/slog to provide JSON-formatted logs with
// context propagation. An agent runs unattended on the robot, so the logs
// are the primary record of what happened during an episode: every
// phase change, ranging timeout and dropped message ends up here.
//
// # Features
//
//   - JSON-formatted structured logging via slog
//   - Configurable log levels (DEBUG, INFO, WARN, ERROR), changeable at runtime
//   - Context propagation (agent index, coordination phase, component)
//   - Size-based rotation with gzip compression via lumberjack
//   - Log aggregation, filtering and export for `swarmbot logs`
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Child loggers
// created via With* methods share the underlying writer and level.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/var/log/swarmbot", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	log := logger.WithAgent(3).WithComponent("ranging")
//	log.Warn("echo timed out", "window_us", 23530)
//
// Output:
//
//	{"time":"...","level":"WARN","msg":"echo timed out","agent":"3","component":"ranging","window_us":23530}
//
// # Log Rotation
//
//	logger, err := logging.NewLoggerWithRotation(dir, "INFO", logging.RotationConfig{
//	    MaxSizeMB:  10,
//	    MaxBackups: 3,
//	    MaxAgeDays: 14,
//	    Compress:   true,
//	})
//
// Rotated files are named swarmbot-<timestamp>.log(.gz) next to the active file.
// [AggregateLogs] reads them back together with the active file.
//
// # Hot Reload
//
// [Logger.SetLevel] changes the level for the root logger and all of its
// children. The CLI calls it from viper's config change hook.
//
// # Testing
//
// For testing, use [NopLogger] to discard all log output, or
// [NewWriterLogger] with a bytes.Buffer to assert on emitted entries.
package logging
