package main

import (
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"

	"github.com/dgnsrekt/speechkit/internal/config"
)

// logFile is set once debug logging has been redirected to a file.
var logFile *os.File

func getLogFilePath() (string, error) {
	dir, err := gap.NewScope(gap.User, config.AppName).CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, config.AppName+".log"), nil
}

// setupLog sends warnings to stderr. With SPEECHKIT_DEBUG set, everything
// down to debug level goes to a log file in the user cache dir instead.
func setupLog() (func() error, error) {
	log.SetOutput(os.Stderr)
	log.SetLevel(log.WarnLevel)

	closer := func() error {
		if logFile == nil {
			return nil
		}
		return logFile.Close()
	}
	if os.Getenv("SPEECHKIT_DEBUG") == "" {
		return closer, nil
	}
	if err := enableDebug(); err != nil {
		return nil, err
	}
	return closer, nil
}

// enableDebug switches to debug level and moves output to the log file.
func enableDebug() error {
	if logFile != nil {
		return nil
	}
	path, err := getLogFilePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec
	if err != nil {
		return err
	}
	logFile = f
	log.SetOutput(f)
	log.SetLevel(log.DebugLevel)
	log.SetReportTimestamp(true)
	return nil
}
