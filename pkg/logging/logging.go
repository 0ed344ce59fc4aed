package logging

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/log"
)

var (
	mu      sync.Mutex
	logFile *os.File
)

/*
Init sets the level of the default charmbracelet logger and, when path is
not empty, also writes every line to that file. It can be called again to
reconfigure; the previous file is closed.
*/
func Init(level, path string) error {
	parsed, err := log.ParseLevel(level)

	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	mu.Lock()
	defer mu.Unlock()

	closeFile()

	var out io.Writer = os.Stderr

	if path != "" {
		if logFile, err = os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err != nil {
			return fmt.Errorf("failed to open log file %s: %w", path, err)
		}

		out = io.MultiWriter(os.Stderr, logFile)
	}

	log.SetOutput(out)
	log.SetLevel(parsed)
	log.SetReportTimestamp(true)

	log.Debug("logging initialized", "level", parsed, "file", path)

	return nil
}

// Close closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	log.SetOutput(os.Stderr)
	closeFile()
}

func closeFile() {
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}
