package ooc

import (
	"fmt"
	"strings"
	"time"
)

// ModeFlag is a logging severity.
type ModeFlag uint

const (
	DebugMode ModeFlag = iota
	InfoMode
	WarningMode
	ErrorMode
	CriticalMode
	SilentMode
)

var modeNames = [...]string{"DEBUG", "INFO", "WARNING", "ERROR", "CRITICAL", "SILENT"}

func (m ModeFlag) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("ModeFlag(%d)", uint(m))
}

// ParseLogMode returns the severity for a name like "debug" or "warning".
func ParseLogMode(s string) (ModeFlag, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if name == "WARN" {
		name = "WARNING"
	}
	for i, n := range modeNames {
		if n == name {
			return ModeFlag(i), nil
		}
	}
	return InfoMode, NewError("parse log mode", "", ErrInvalidArgument, fmt.Errorf("unknown log level %q", s))
}

var (
	// Verbose is set when we want to be exceptionally verbose.
	Verbose bool

	// mode is the minimum severity that will be logged.
	mode = InfoMode
)

// Logger is a sink for log messages that have already passed the severity threshold.
type Logger interface {
	Logf(m ModeFlag, format string, args ...interface{})

	// Shutdown flushes and closes any underlying file.
	Shutdown()
}

// SetLogMode sets the severity required for a log message to be printed.
// SetLogMode(ooc.WarningMode) logs only warnings and worse; SilentMode turns logging off.
func SetLogMode(newMode ModeFlag) {
	mode = newMode
}

// LogMode returns the current logging severity threshold.
func LogMode() ModeFlag {
	return mode
}

func logf(m ModeFlag, format string, args ...interface{}) {
	if m >= mode && mode != SilentMode {
		logger.Logf(m, format, args...)
	}
}

func Debugf(format string, args ...interface{})    { logf(DebugMode, format, args...) }
func Infof(format string, args ...interface{})     { logf(InfoMode, format, args...) }
func Warningf(format string, args ...interface{})  { logf(WarningMode, format, args...) }
func Errorf(format string, args ...interface{})    { logf(ErrorMode, format, args...) }
func Criticalf(format string, args ...interface{}) { logf(CriticalMode, format, args...) }

// TimeLog appends the time since its creation to each message.
//
//	tlog := ooc.NewTimeLog()
//	...
//	tlog.Debugf("read %d chunks", n) // "read 4 chunks: 3.2ms"
type TimeLog struct {
	start time.Time
}

func NewTimeLog() TimeLog {
	return TimeLog{time.Now()}
}

// Elapsed returns the time since the TimeLog was created.
func (t TimeLog) Elapsed() time.Duration {
	return time.Since(t.start)
}

func (t TimeLog) logf(m ModeFlag, format string, args ...interface{}) {
	if m >= mode && mode != SilentMode {
		logger.Logf(m, format+": %s", append(args, time.Since(t.start))...)
	}
}

func (t TimeLog) Debugf(format string, args ...interface{})   { t.logf(DebugMode, format, args...) }
func (t TimeLog) Infof(format string, args ...interface{})    { t.logf(InfoMode, format, args...) }
func (t TimeLog) Warningf(format string, args ...interface{}) { t.logf(WarningMode, format, args...) }
func (t TimeLog) Errorf(format string, args ...interface{})   { t.logf(ErrorMode, format, args...) }
