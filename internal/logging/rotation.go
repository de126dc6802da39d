package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// RotationConfig holds configuration for log rotation.
type RotationConfig struct {
	// MaxSizeMB is the maximum size of a log file in megabytes before rotation.
	// A value of 0 uses lumberjack's default of 100MB.
	MaxSizeMB int
	// MaxBackups is the number of old log files to keep. 0 keeps all of them.
	MaxBackups int
	// MaxAgeDays removes backups older than this many days. 0 keeps them forever.
	MaxAgeDays int
	// Compress determines whether rotated log files are gzip compressed.
	Compress bool
}

// DefaultRotationConfig returns a RotationConfig sized for an SD card.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 14,
		Compress:   true,
	}
}

// RotatingWriter is a size-rotated log file. It is safe for concurrent use.
type RotatingWriter struct {
	*lumberjack.Logger
}

// NewRotatingWriter creates the parent directory and returns a writer that
// rotates filePath according to config. The file itself is opened lazily on
// first write.
func NewRotatingWriter(filePath string, config RotationConfig) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &RotatingWriter{Logger: &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    config.MaxSizeMB,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAgeDays,
		Compress:   config.Compress,
		LocalTime:  true,
	}}, nil
}

// FilePath returns the path of the active log file.
func (rw *RotatingWriter) FilePath() string {
	return rw.Filename
}
