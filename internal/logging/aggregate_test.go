package logging

import (
	"bytes"
	"compress/gzip"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeLog(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
}

func TestAggregateLogs(t *testing.T) {
	t.Run("parses entries written by the logger", func(t *testing.T) {
		dir := t.TempDir()

		logger, err := NewLogger(dir, LevelDebug)
		if err != nil {
			t.Fatalf("NewLogger failed: %v", err)
		}

		logger.WithAgent(1).WithComponent("ranging").WithPhase("ready").Info("measured", "mm", 99.96)
		logger.WithAgent(1).WithComponent("motion").Debug("drive")
		logger.WithAgent(2).Error("link down", "code", 5)

		_ = logger.Close()

		entries, err := AggregateLogs(dir)
		if err != nil {
			t.Fatalf("AggregateLogs failed: %v", err)
		}
		if len(entries) != 3 {
			t.Fatalf("expected 3 entries, got %d", len(entries))
		}

		e := entries[0]
		if e.Message != "measured" || e.Level != "INFO" {
			t.Errorf("entry 0 = %q/%q", e.Level, e.Message)
		}
		if e.Agent != "1" || e.Component != "ranging" || e.Phase != "ready" {
			t.Errorf("context = agent %q component %q phase %q", e.Agent, e.Component, e.Phase)
		}
		if e.Attrs["mm"] != 99.96 {
			t.Errorf("mm = %v, want 99.96", e.Attrs["mm"])
		}
	})

	t.Run("returns error for missing log file", func(t *testing.T) {
		_, err := AggregateLogs(t.TempDir())
		if err == nil || !strings.Contains(err.Error(), "no log file found") {
			t.Errorf("expected 'no log file found' error, got: %v", err)
		}
	})

	t.Run("handles empty log file", func(t *testing.T) {
		dir := t.TempDir()
		writeLog(t, dir, LogFileName, "")

		entries, err := AggregateLogs(dir)
		if err != nil {
			t.Fatalf("AggregateLogs failed: %v", err)
		}
		if len(entries) != 0 {
			t.Errorf("expected 0 entries, got %d", len(entries))
		}
	})

	t.Run("skips malformed JSON lines", func(t *testing.T) {
		dir := t.TempDir()
		writeLog(t, dir, LogFileName, `{"time":"2024-01-01T12:00:00Z","level":"INFO","msg":"valid"}
{"time":"2024-01-01T12:00:01Z","lev
{"time":"2024-01-01T12:00:02Z","level":"ERROR","msg":"also valid"}
`)

		entries, err := AggregateLogs(dir)
		if err != nil {
			t.Fatalf("AggregateLogs failed: %v", err)
		}
		if len(entries) != 2 {
			t.Fatalf("expected 2 valid entries, got %d", len(entries))
		}
	})

	t.Run("merges rotated backups in timestamp order", func(t *testing.T) {
		dir := t.TempDir()
		writeLog(t, dir, LogFileName, `{"time":"2024-01-01T12:00:03Z","level":"INFO","msg":"fourth"}
`)
		writeLog(t, dir, "swarmbot-2024-01-01T12-00-02.000.log", `{"time":"2024-01-01T12:00:02Z","level":"INFO","msg":"third"}
{"time":"2024-01-01T12:00:00Z","level":"INFO","msg":"first"}
`)

		var gz bytes.Buffer
		zw := gzip.NewWriter(&gz)
		_, _ = zw.Write([]byte(`{"time":"2024-01-01T12:00:01Z","level":"INFO","msg":"second"}` + "\n"))
		_ = zw.Close()
		writeLog(t, dir, "swarmbot-2024-01-01T12-00-01.000.log.gz", gz.String())

		entries, err := AggregateLogs(dir)
		if err != nil {
			t.Fatalf("AggregateLogs failed: %v", err)
		}
		var got []string
		for _, e := range entries {
			got = append(got, e.Message)
		}
		if strings.Join(got, ",") != "first,second,third,fourth" {
			t.Errorf("order = %v", got)
		}
	})
}

func TestFilterLogs(t *testing.T) {
	now := time.Now()
	entries := []LogEntry{
		{Timestamp: now.Add(-2 * time.Hour), Level: LevelDebug, Message: "echo edge", Agent: "1", Component: "ranging", Phase: "ready"},
		{Timestamp: now.Add(-1 * time.Hour), Level: LevelInfo, Message: "drive started", Agent: "1", Component: "motion", Phase: "ready"},
		{Timestamp: now, Level: LevelWarn, Message: "echo timed out", Agent: "2", Component: "ranging", Phase: "ready"},
		{Timestamp: now.Add(time.Hour), Level: LevelError, Message: "link down", Agent: "2", Component: "transport", Phase: "awaiting_index"},
	}

	tests := []struct {
		name   string
		filter LogFilter
		want   int
	}{
		{"empty filter", LogFilter{}, 4},
		{"level", LogFilter{Level: LevelWarn}, 2},
		{"level case insensitive", LogFilter{Level: "info"}, 3},
		{"time range", LogFilter{StartTime: now.Add(-90 * time.Minute), EndTime: now}, 2},
		{"agent", LogFilter{Agent: "2"}, 2},
		{"component", LogFilter{Component: "ranging"}, 2},
		{"phase", LogFilter{Phase: "awaiting_index"}, 1},
		{"message contains", LogFilter{MessageContains: "echo"}, 2},
		{"combined", LogFilter{Agent: "2", Component: "ranging", Level: LevelWarn}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FilterLogs(entries, tt.filter); len(got) != tt.want {
				t.Errorf("FilterLogs() returned %d entries, want %d", len(got), tt.want)
			}
		})
	}
}

func TestExportLogEntries(t *testing.T) {
	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	entries := []LogEntry{
		{Timestamp: ts, Level: LevelInfo, Message: "step completed", Agent: "3", Component: "agent", Phase: "ready", Attrs: map[string]any{"reward": -1.0}},
	}

	t.Run("json", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "out.json")
		if err := ExportLogEntries(entries, out, "json"); err != nil {
			t.Fatalf("ExportLogEntries failed: %v", err)
		}
		data, _ := os.ReadFile(out)
		var decoded []LogEntry
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("invalid JSON export: %v", err)
		}
		if len(decoded) != 1 || decoded[0].Agent != "3" {
			t.Errorf("decoded = %+v", decoded)
		}
	})

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteLogEntries(&buf, entries, "TEXT"); err != nil {
			t.Fatalf("WriteLogEntries failed: %v", err)
		}
		line := buf.String()
		for _, want := range []string{"[2024-01-01 12:00:00.000]", "INFO - step completed", "agent=3", "component=agent", "phase=ready", `"reward":-1`} {
			if !strings.Contains(line, want) {
				t.Errorf("text output %q missing %q", line, want)
			}
		}
	})

	t.Run("csv", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteLogEntries(&buf, entries, "csv"); err != nil {
			t.Fatalf("WriteLogEntries failed: %v", err)
		}
		records, err := csv.NewReader(&buf).ReadAll()
		if err != nil {
			t.Fatalf("invalid CSV: %v", err)
		}
		if len(records) != 2 {
			t.Fatalf("expected header + 1 record, got %d", len(records))
		}
		if records[0][3] != "agent" || records[1][3] != "3" {
			t.Errorf("agent column = %q / %q", records[0][3], records[1][3])
		}
	})

	t.Run("unsupported format", func(t *testing.T) {
		err := WriteLogEntries(&bytes.Buffer{}, entries, "xml")
		if err == nil || !strings.Contains(err.Error(), "unsupported export format") {
			t.Errorf("expected unsupported format error, got %v", err)
		}
	})
}

func TestParseLogEntry(t *testing.T) {
	entry, err := ParseLogEntry(`{"time":"2024-01-01T12:00:00Z","level":"WARN","msg":"m","agent":"4","component":"motion","phase":"ready","extra":1}`)
	if err != nil {
		t.Fatalf("ParseLogEntry failed: %v", err)
	}
	if entry.Agent != "4" || entry.Component != "motion" || entry.Phase != "ready" {
		t.Errorf("entry = %+v", entry)
	}
	if _, ok := entry.Attrs["agent"]; ok {
		t.Error("standard field leaked into attrs")
	}
	if entry.Attrs["extra"] != 1.0 {
		t.Errorf("extra = %v", entry.Attrs["extra"])
	}

	if _, err := ParseLogEntry("not json"); err == nil {
		t.Error("expected error for invalid JSON")
	}
}
