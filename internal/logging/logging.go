package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LogFilePath builds the path of a session log file, one per command run.
func LogFilePath(logsDir, command string, sessionStart time.Time) string {
	return filepath.Join(
		logsDir,
		fmt.Sprintf("vcd_%s.%s.log", command, sessionStart.UTC().Format("20060102_150405")),
	)
}

// OpenLogFile creates the logs directory and opens a new session log file.
func OpenLogFile(logsDir, command string, sessionStart time.Time) (*os.File, error) {
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}
	f, err := os.OpenFile(LogFilePath(logsDir, command, sessionStart), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}
