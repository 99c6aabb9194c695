package log

import (
	"io"
	"sync"
)

type Logger interface {
	Print(args ...interface{})
	Printf(format string, args ...interface{})

	Trace(args ...interface{})
	Tracef(format string, args ...interface{})

	Debug(args ...interface{})
	Debugf(format string, args ...interface{})

	Info(args ...interface{})
	Infof(format string, args ...interface{})

	Warn(args ...interface{})
	Warnf(format string, args ...interface{})

	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})

	WithField(field string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger

	IsTraceEnabled() bool
	IsDebugEnabled() bool
	IsInfoEnabled() bool
}

var (
	once   sync.Once
	mu     sync.RWMutex
	logger Logger
)

func init() {
	l, err := New(DefaultConfig())
	if err != nil {
		panic(err)
	}
	logger = l
}

// GetLogger returns the process-wide logger.
func GetLogger() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Init replaces the default logger with one built from cfg. Only the
// first call has an effect.
func Init(cfg *LoggerConfig) error {
	var err error
	once.Do(func() {
		var l Logger
		l, err = New(cfg)
		if err != nil {
			return
		}
		SetLogger(l)
	})
	return err
}

// SetLogger swaps the process-wide logger and closes the outputs owned by
// the one it replaces.
func SetLogger(l Logger) {
	mu.Lock()
	old := logger
	logger = l
	mu.Unlock()

	if c, ok := old.(io.Closer); ok && old != l {
		if err := c.Close(); err != nil {
			l.WithError(err).Warn("failed to close previous log output")
		}
	}
}
