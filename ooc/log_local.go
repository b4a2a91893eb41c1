package ooc

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/natefinch/lumberjack"
)

// fileLogger writes prefixed lines to stderr or a rotating file.
type fileLogger struct {
	out  *log.Logger
	file *lumberjack.Logger
}

var logger Logger = newFileLogger(os.Stderr, nil)

func newFileLogger(w io.Writer, file *lumberjack.Logger) *fileLogger {
	return &fileLogger{out: log.New(w, "", log.LstdFlags|log.Lmicroseconds), file: file}
}

func (l *fileLogger) Logf(m ModeFlag, format string, args ...interface{}) {
	l.out.Printf(" "+m.String()+" "+format, args...)
}

func (l *fileLogger) Shutdown() {
	if l.file != nil {
		l.out.Printf(" INFO Closing log file %s", l.file.Filename)
		l.file.Close()
	}
}

// LogConfig is the [logging] section of the TOML configuration.
type LogConfig struct {
	Logfile string
	Level   string // debug, info, warning, error, critical or silent
	MaxSize int    `toml:"max_log_size"` // megabytes
	MaxAge  int    `toml:"max_log_age"`  // days
}

// SetLogger applies the configured level and, when a log file is given,
// sends log messages to it with size and age based rotation.
func (c *LogConfig) SetLogger() {
	if c == nil {
		return
	}
	if c.Level != "" {
		m, err := ParseLogMode(c.Level)
		if err != nil {
			Warningf("Ignoring logging level: %v", err)
		} else {
			SetLogMode(m)
		}
	}
	if c.Logfile == "" {
		Debugf("Sending log messages to stderr since no log file specified.")
		return
	}
	fmt.Printf("Sending log messages to: %s\n", c.Logfile)
	f := &lumberjack.Logger{
		Filename: c.Logfile,
		MaxSize:  c.MaxSize,
		MaxAge:   c.MaxAge,
	}
	logger = newFileLogger(f, f)
}

// Shutdown closes any rotating log file.
func Shutdown() {
	logger.Shutdown()
}
