// Package util carries the process-wide logging setup and the short ID
// generation shared by the daemon and the client library.
package util

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

func callerPrettyfier(frame *runtime.Frame) (function string, file string) {
	return frame.Function, ""
}

// InitLogger configures the global logrus logger for console output.
func InitLogger() {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:    true,
		TimestampFormat:  time.DateTime,
		CallerPrettyfier: callerPrettyfier,
	})
	logrus.SetReportCaller(true)
	logrus.SetLevel(logrus.InfoLevel)
}

// SetDebug raises the log level to debug.
func SetDebug() {
	logrus.SetLevel(logrus.DebugLevel)
}

// FileHook is a logrus hook that mirrors every entry into a file, formatted
// like the console output but without colors.
type FileHook struct {
	mu        sync.Mutex
	file      *os.File
	formatter logrus.Formatter
}

// Levels implements logrus.Hook.
func (hook *FileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire implements logrus.Hook. A closed hook drops entries silently.
func (hook *FileHook) Fire(entry *logrus.Entry) error {
	hook.mu.Lock()
	defer hook.mu.Unlock()

	if hook.file == nil {
		return nil
	}
	line, err := hook.formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = hook.file.Write(line)
	return err
}

// Close flushes and closes the underlying log file.
func (hook *FileHook) Close() error {
	hook.mu.Lock()
	defer hook.mu.Unlock()

	if hook.file == nil {
		return nil
	}
	err := hook.file.Close()
	hook.file = nil
	return err
}

// InitLoggerWithFile additionally mirrors all log output into a dated file
// under logDir, creating the directory if needed. It returns the file path
// and the hook; the caller closes the hook on shutdown.
func InitLoggerWithFile(logDir string) (string, *FileHook, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return "", nil, fmt.Errorf("create log directory: %w", err)
	}

	name := fmt.Sprintf("skycast-%s.log", time.Now().Format("20060102"))
	path := filepath.Join(logDir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return "", nil, fmt.Errorf("open log file: %w", err)
	}

	hook := &FileHook{
		file: file,
		formatter: &logrus.TextFormatter{
			FullTimestamp:    true,
			TimestampFormat:  time.DateTime,
			DisableColors:    true,
			CallerPrettyfier: callerPrettyfier,
		},
	}
	logrus.AddHook(hook)
	return path, hook, nil
}
