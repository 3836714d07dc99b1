// Package logging builds the process logger: a text log file, an optional
// Graylog sink and an optional OpenTelemetry bridge behind one slog.Logger.
package logging

import (
	"fmt"
	"path/filepath"
	"time"
)

// LogFilePath names the log file of one process run, stamped with its
// start time.
func LogFilePath(logsDir, name string, start time.Time) string {
	return filepath.Join(
		logsDir,
		fmt.Sprintf("%s.%s.log", name, start.Format("20060102_150405")),
	)
}
