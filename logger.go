package transport

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/gobwas/glob"
	"github.com/rs/zerolog"
)

var (
	// defaultLoggerImpl is a zerolog instance with console writer.
	defaultLoggerImpl = zerolog.New(zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
		color, _ := strconv.ParseBool(os.Getenv("DEBUG_COLORS"))
		w.NoColor = !color
		w.TimeFormat = "2006-01-02 15:04:05.999"
	})).With().Timestamp().Caller().Logger()

	defaultLoggerLevel = zerolog.InfoLevel

	// newScopedLogr builds a logr.Logger for the given scope, honoring the
	// DEBUG glob-list environment variable (comma separated, "-" prefix negates
	// a pattern) the same way the legacy worker's DEBUG env did.
	newScopedLogr = func(scope string) logr.Logger {
		shouldDebug := false
		if debug := os.Getenv("DEBUG"); len(debug) > 0 {
			for _, part := range strings.Split(debug, ",") {
				part := strings.TrimSpace(part)
				if len(part) == 0 {
					continue
				}
				shouldMatch := true
				if part[0] == '-' {
					shouldMatch = false
					part = part[1:]
				}
				if g, err := glob.Compile(part); err == nil && g.Match(scope) {
					shouldDebug = shouldMatch
				}
			}
		}

		level := defaultLoggerLevel
		if shouldDebug {
			level = zerolog.DebugLevel
		}

		logger := defaultLoggerImpl.Level(level)

		return zerologr.New(&logger).WithName(scope)
	}
)

func init() {
	zerolog.TimeFieldFormat = "2006-01-02T15:04:05.999Z07:00"
	zerologr.VerbosityFieldName = ""
}

// Logger is a printf-style facade over logr.Logger, matching the call shape
// used throughout this package (logger.Debug("produce() [id:%s]", id)).
type Logger struct {
	delegate logr.Logger
}

// NewLogger creates a scoped Logger, e.g. NewLogger("RtcpDispatcher").
func NewLogger(scope string) Logger {
	return Logger{delegate: newScopedLogr(scope)}
}

func (l Logger) Debug(format string, args ...interface{}) {
	l.delegate.V(1).Info(fmt.Sprintf(format, args...))
}

func (l Logger) Warn(format string, args ...interface{}) {
	l.delegate.Info(fmt.Sprintf("WARN "+format, args...))
}

func (l Logger) Error(format string, args ...interface{}) {
	l.delegate.Error(nil, fmt.Sprintf(format, args...))
}
