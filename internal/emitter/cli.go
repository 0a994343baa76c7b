// Package emitter implements the trackevent command: one event from flags,
// or a replay of many from an NDJSON file or a synthetic generator.
package emitter

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/okian/trackbridge/pkg/logger"
)

// File permission constants.
const (
	logFilePermission = 0600
)

// SetupLogging initialises the global logger on stderr, teeing to logFile
// when one is given. The returned closer releases the file.
func SetupLogging(logFile string, verbose bool) (io.Closer, error) {
	var w io.Writer = os.Stderr
	var closer io.Closer = io.NopCloser(nil)

	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
		if err != nil {
			return nil, fmt.Errorf("failed to create log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, file)
		closer = file
	}

	if err := logger.Init(logger.WithWriter(w)); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if verbose {
		_ = logger.SetLevelString("debug")
	}
	if logFile != "" {
		logger.Get().Info(context.Background(), "logging to file", logger.String("logFile", logFile))
	}
	return closer, nil
}

// ShowHelp prints usage information for trackevent.
func ShowHelp(w io.Writer) {
	_, _ = io.WriteString(w, `trackevent
==========

Sends analytics events to the host through the track_event command.

Usage:
  trackevent -name <event> [-prop key=value ...] [options]
  trackevent -file events.ndjson [options]
  trackevent -generate 500 [options]

Options:
  -name string
        Event name to send once
  -prop key=value
        Event property, repeatable. Numeric values are sent as numbers
  -string-props
        Send every property value as text
  -file string
        NDJSON file, one {"name": ..., "props": {...}} per line
  -generate int
        Number of synthetic events to replay
  -log string
        Also write logs to this file
  -verbose
        Enable debug logging
  -help
        Show this help message

Configuration is read from TRACKBRIDGE_* environment variables and the YAML
file named by TRACKBRIDGE_CONFIG.

Examples:
  trackevent -name logo_click -prop logo=vite
  trackevent -name increment -prop count=1
  TRACKBRIDGE_HOST_URL=http://localhost:1430/ipc trackevent -file events.ndjson
`)
}
