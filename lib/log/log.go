package log

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/majestrate/swarmwatch/lib/sync"
)

var mtx sync.Mutex

type logLevel int

const (
	debug = logLevel(0)
	info  = logLevel(1)
	warn  = logLevel(2)
	err   = logLevel(3)
	fatal = logLevel(4)
)

// ErrBadLevel is returned when parsing an unknown level name
var ErrBadLevel = errors.New("invalid log level")

func (l logLevel) Int() int {
	return int(l)
}

func (l logLevel) Name() string {
	switch l {
	case debug:
		return "DBG"
	case info:
		return "NFO"
	case warn:
		return "WRN"
	case err:
		return "ERR"
	case fatal:
		return "FTL"
	default:
		return "???"
	}
}

var level = info

func parseLevel(l string) (lvl logLevel, e error) {
	switch strings.ToLower(strings.TrimSpace(l)) {
	case "debug":
		lvl = debug
	case "info":
		lvl = info
	case "warn":
		lvl = warn
	case "err", "error":
		lvl = err
	case "fatal":
		lvl = fatal
	default:
		e = ErrBadLevel
	}
	return
}

// ValidLevel returns nil if l names a log level
func ValidLevel(l string) error {
	_, e := parseLevel(l)
	return e
}

// SetLevel sets global logger level
func SetLevel(l string) {
	lvl, e := parseLevel(l)
	if e != nil {
		panic(fmt.Sprintf("invalid log level: '%s'", l))
	}
	mtx.Lock()
	level = lvl
	mtx.Unlock()
}

var out io.Writer = os.Stdout

// SetOutput sets logging to output to a writer
func SetOutput(w io.Writer) {
	mtx.Lock()
	out = w
	mtx.Unlock()
}

func accept(lvl logLevel) bool {
	return lvl.Int() >= level.Int()
}

func log(lvl logLevel, f string, args ...interface{}) {
	mtx.Lock()
	ok := accept(lvl)
	mtx.Unlock()
	if ok {
		m := fmt.Sprintf(f, args...)
		t := time.Now().Format(time.RFC3339)
		mtx.Lock()
		fmt.Fprintf(out, "%s[%s] %s\t%s%s", lvl.Color(), lvl.Name(), t, m, colorReset)
		fmt.Fprintln(out)
		mtx.Unlock()
		if lvl == fatal {
			panic(m)
		}
	}
}

// Debug prints debug message
func Debug(msg string) {
	log(debug, "%s", msg)
}

// Debugf prints formatted debug message
func Debugf(f string, args ...interface{}) {
	log(debug, f, args...)
}

// Info prints info log message
func Info(msg string) {
	log(info, "%s", msg)
}

// Infof prints formatted info log message
func Infof(f string, args ...interface{}) {
	log(info, f, args...)
}

// Warn prints warn log message
func Warn(msg string) {
	log(warn, "%s", msg)
}

// Warnf prints formatted warn log message
func Warnf(f string, args ...interface{}) {
	log(warn, f, args...)
}

// Error prints error log message
func Error(msg string) {
	log(err, "%s", msg)
}

// Errorf prints formatted error log message
func Errorf(f string, args ...interface{}) {
	log(err, f, args...)
}

// Fatal print fatal error and panic
func Fatal(msg string) {
	log(fatal, "%s", msg)
}

// Fatalf print formatted fatal error and panic
func Fatalf(f string, args ...interface{}) {
	log(fatal, f, args...)
}

// Logger prefixes every line with the name of a subsystem
type Logger struct {
	name string
}

// For returns a logger for a named subsystem
func For(name string) *Logger {
	return &Logger{name: name}
}

func (l *Logger) Debugf(f string, args ...interface{}) {
	log(debug, l.name+": "+f, args...)
}

func (l *Logger) Infof(f string, args ...interface{}) {
	log(info, l.name+": "+f, args...)
}

func (l *Logger) Warnf(f string, args ...interface{}) {
	log(warn, l.name+": "+f, args...)
}

func (l *Logger) Errorf(f string, args ...interface{}) {
	log(err, l.name+": "+f, args...)
}
