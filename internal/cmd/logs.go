package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/swarmbot/internal/config"
	"github.com/Iron-Ham/swarmbot/internal/logging"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View agent logs",
	Long: `View and filter the agent's JSON logs, including rotated backups.

By default, shows the last 50 entries. Use flags to filter and format the
output.

Examples:
  # Show last 50 entries
  swarmbot logs

  # Follow logs in real-time
  swarmbot logs -f

  # Only warnings and errors from the last hour
  swarmbot logs --level warn --since 1h

  # Everything agent 3 did in the ready phase
  swarmbot logs --agent 3 --phase ready -n 0

  # Search for specific patterns
  swarmbot logs --grep "refused|timed out"

  # Export filtered entries as CSV
  swarmbot logs --component motion --export motion.csv --format csv`,
	RunE: runLogs,
}

var (
	logsTail      int
	logsFollow    bool
	logsLevel     string
	logsSince     string
	logsGrep      string
	logsAgent     string
	logsComponent string
	logsPhase     string
	logsExport    string
	logsFormat    string
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of entries to show (0 for all)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show logs since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Filter logs matching pattern (regex)")
	logsCmd.Flags().StringVar(&logsAgent, "agent", "", "Filter by agent index")
	logsCmd.Flags().StringVar(&logsComponent, "component", "", "Filter by component (ranging, motion, agent, transport, ...)")
	logsCmd.Flags().StringVar(&logsPhase, "phase", "", "Filter by coordination phase")
	logsCmd.Flags().StringVar(&logsExport, "export", "", "Write matching entries to this file instead of the terminal")
	logsCmd.Flags().StringVar(&logsFormat, "format", "text", "Export format (text/json/csv)")
}

// ANSI color codes for terminal output
const (
	colorReset  = "\033[0m"
	colorGray   = "\033[90m"
	colorBlue   = "\033[34m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorCyan   = "\033[36m"
)

// levelColor returns the ANSI color code for a log level
func levelColor(level string) string {
	switch strings.ToUpper(level) {
	case logging.LevelDebug:
		return colorGray
	case logging.LevelInfo:
		return colorBlue
	case logging.LevelWarn:
		return colorYellow
	case logging.LevelError:
		return colorRed
	default:
		return colorReset
	}
}

// formatLogEntry formats a log entry for terminal output
func formatLogEntry(entry logging.LogEntry) string {
	var sb strings.Builder

	sb.WriteString(colorGray)
	sb.WriteString("[")
	sb.WriteString(entry.Timestamp.Format("15:04:05.000"))
	sb.WriteString("]")
	sb.WriteString(colorReset)

	sb.WriteString(" ")
	sb.WriteString(levelColor(entry.Level))
	sb.WriteString("[")
	sb.WriteString(strings.ToUpper(entry.Level))
	sb.WriteString("]")
	sb.WriteString(colorReset)

	sb.WriteString(" ")
	sb.WriteString(entry.Message)

	for _, field := range []struct{ key, value string }{
		{"agent", entry.Agent},
		{"component", entry.Component},
		{"phase", entry.Phase},
	} {
		if field.value == "" {
			continue
		}
		sb.WriteString(" ")
		sb.WriteString(colorCyan)
		sb.WriteString(field.key)
		sb.WriteString("=")
		sb.WriteString(field.value)
		sb.WriteString(colorReset)
	}

	keys := make([]string, 0, len(entry.Attrs))
	for k := range entry.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		sb.WriteString(" ")
		sb.WriteString(colorCyan)
		sb.WriteString(key)
		sb.WriteString("=")
		sb.WriteString(colorReset)
		sb.WriteString(fmt.Sprintf("%v", entry.Attrs[key]))
	}

	return sb.String()
}

// logQuery is the parsed set of filters.
type logQuery struct {
	filter logging.LogFilter
	grep   *regexp.Regexp
}

func newLogQuery(now time.Time) (logQuery, error) {
	q := logQuery{filter: logging.LogFilter{
		Agent:     logsAgent,
		Component: logsComponent,
		Phase:     logsPhase,
	}}
	if logsLevel != "" {
		q.filter.Level = logging.ParseLevel(logsLevel)
	}
	if logsSince != "" {
		d, err := time.ParseDuration(logsSince)
		if err != nil {
			return q, fmt.Errorf("invalid duration format: %w", err)
		}
		q.filter.StartTime = now.Add(-d)
	}
	if logsGrep != "" {
		re, err := regexp.Compile(logsGrep)
		if err != nil {
			return q, fmt.Errorf("invalid grep pattern: %w", err)
		}
		q.grep = re
	}
	return q, nil
}

// apply filters entries, searching message and attribute values for grep.
func (q logQuery) apply(entries []logging.LogEntry) []logging.LogEntry {
	entries = logging.FilterLogs(entries, q.filter)
	if q.grep == nil {
		return entries
	}
	var out []logging.LogEntry
	for _, e := range entries {
		if q.matches(e) {
			out = append(out, e)
		}
	}
	return out
}

func (q logQuery) matches(e logging.LogEntry) bool {
	searchText := e.Message
	for _, v := range e.Attrs {
		searchText += " " + fmt.Sprintf("%v", v)
	}
	return q.grep.MatchString(searchText)
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	logDir := cfg.Logging.LogDir()

	query, err := newLogQuery(time.Now())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if logsFollow {
		return followLogs(cmd, filepath.Join(logDir, logging.LogFileName), query)
	}

	entries, err := logging.AggregateLogs(logDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(out, "No logs found in %s\n", logDir)
			return nil
		}
		return err
	}
	entries = query.apply(entries)

	if logsExport != "" {
		if err := logging.ExportLogEntries(entries, logsExport, logsFormat); err != nil {
			return err
		}
		fmt.Fprintf(out, "Exported %d entries to %s\n", len(entries), logsExport)
		return nil
	}

	if logsTail > 0 && len(entries) > logsTail {
		entries = entries[len(entries)-logsTail:]
	}
	for _, entry := range entries {
		fmt.Fprintln(out, formatLogEntry(entry))
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No matching log entries found.")
	}
	return nil
}

// followLogs implements tail -f behavior for the active log file. It
// reopens the file when rotation replaces it.
func followLogs(cmd *cobra.Command, logPath string, query logQuery) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	file, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Following logs... (Ctrl+C to stop)\n\n")

	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				return fmt.Errorf("error reading log file: %w", err)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(100 * time.Millisecond):
			}
			if rotated(file, logPath) {
				_ = file.Close()
				if file, err = os.Open(logPath); err != nil {
					return fmt.Errorf("failed to reopen log file: %w", err)
				}
				reader.Reset(file)
			}
			continue
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		entry, err := logging.ParseLogEntry(line)
		if err != nil {
			fmt.Fprintln(out, line)
			continue
		}
		if len(query.apply([]logging.LogEntry{entry})) == 0 {
			continue
		}
		fmt.Fprintln(out, formatLogEntry(entry))
	}
}

// rotated reports whether path now names a different file than f.
func rotated(f *os.File, path string) bool {
	cur, err := f.Stat()
	if err != nil {
		return false
	}
	next, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !os.SameFile(cur, next)
}
