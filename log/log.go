package log

import (
	"io/ioutil"
	"net"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// LogrusLogger is the concrete logrus-backed logger that LogrusLoggerAdapter
// wraps to satisfy the generic Logger interface declared in interface.go.
type LogrusLogger struct {
	*logrus.Logger
	h LoggerHook
}

func (l *LogrusLogger) WithConn(conn net.Conn) *logrus.Entry {
	addr := "unknown"
	if conn != nil {
		addr = conn.RemoteAddr().String()
	}
	return l.WithField("addr", addr)
}

func (l *LogrusLogger) Reopen() error {
	if l.h == nil {
		return nil
	}
	return l.h.Reopen()
}

func (l *LogrusLogger) GetLogDest() string {
	if l.h == nil {
		return ""
	}
	if g, ok := l.h.(interface{ GetLogDest() string }); ok {
		return g.GetLogDest()
	}
	return ""
}

func (l *LogrusLogger) SetLevel(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return
	}
	l.Level = lvl
}

func (l *LogrusLogger) GetLevel() string {
	return l.Level.String()
}

func (l *LogrusLogger) IsDebug() bool {
	return l.GetLevel() == logrus.DebugLevel.String()
}

func (l *LogrusLogger) AddHook(h logrus.Hook) {
	l.Logger.Hooks.Add(h)
}

// genericHookShim adapts a GenericHook (this package's logrus-independent
// hook interface) to logrus.Hook so it can be registered on the underlying
// *logrus.Logger.
type genericHookShim struct {
	h GenericHook
}

func (s genericHookShim) Levels() []logrus.Level {
	lvls := make([]logrus.Level, len(s.h.Levels()))
	for i, l := range s.h.Levels() {
		lvls[i] = l
	}
	return lvls
}

func (s genericHookShim) Fire(e *logrus.Entry) error {
	return s.h.Fire(&LogrusEntryAdapter{e: e})
}

type loggerCache map[string]Logger

var loggers struct {
	cache loggerCache
	sync.Mutex
}

// GetLogger returns a Logger writing to dest, which may be a file path or one
// of "off"/"stdout"/"stderr". Loggers are cached by dest; repeat calls with
// the same dest return the same instance.
func GetLogger(dest string) (Logger, error) {
	loggers.Lock()
	defer loggers.Unlock()
	if loggers.cache == nil {
		loggers.cache = make(loggerCache, 1)
	} else if l, ok := loggers.cache[dest]; ok {
		return l, nil
	}

	ll := logrus.New()
	// the hook does the actual output
	ll.Out = ioutil.Discard
	inner := &LogrusLogger{Logger: ll}
	adapter := &LogrusLoggerAdapter{l: inner}
	loggers.cache[dest] = adapter

	hook, err := NewLogrusHook(dest)
	if err != nil {
		// revert back to stderr
		ll.Out = os.Stderr
		return adapter, err
	}
	inner.h = hook
	ll.Hooks.Add(hook)
	return adapter, nil
}
