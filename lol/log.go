// Package lol (log of location) is a simple logging library that prints a high
// precision timestamp and the source location of a log print to make tracing
// errors simpler. Includes a set of logging levels and the ability to filter
// out higher log levels for a more quiet output.
package lol

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/fatih/color"
)

const (
	Off = iota
	Fatal
	Error
	Warn
	Info
	Debug
	Trace
)

var LevelNames = []string{
	"off",
	"fatal",
	"error",
	"warn",
	"info",
	"debug",
	"trace",
}

type (
	// Ln prints lists of interfaces with spaces in between
	Ln func(a ...any)
	// F prints like fmt.Printf surrounded by log details
	F func(format string, a ...any)
	// S prints a spew.Sdump for an enveloper slice
	S func(a ...any)
	// C accepts a function so that the extra computation can be avoided if it is
	// not being viewed
	C func(closure func() string)
	// Chk is a shortcut for printing if there is an error, or returning true
	Chk func(e error) bool
	// Err is a pass-through function that uses fmt.Errorf to construct an error
	// and returns the error after printing it to the log
	Err func(format string, a ...any) error

	// LevelPrinter is the set of log printers on each log level.
	LevelPrinter struct {
		Ln
		F
		S
		C
		Chk
		Err
	}

	// LevelSpec is the name, ID and Colorizer for a log level.
	LevelSpec struct {
		ID        int
		Name      string
		Colorizer func(a ...any) string
	}
)

var (
	// LevelSpecs specifies the id, string name and color-printing function
	LevelSpecs = []LevelSpec{
		{Off, "", NoSprint},
		{Fatal, "FTL", color.New(color.BgRed, color.FgHiWhite).Sprint},
		{Error, "ERR", color.New(color.FgHiRed).Sprint},
		{Warn, "WRN", color.New(color.FgHiYellow).Sprint},
		{Info, "INF", color.New(color.FgHiGreen).Sprint},
		{Debug, "DBG", color.New(color.FgHiBlue).Sprint},
		{Trace, "TRC", color.New(color.FgHiMagenta).Sprint},
	}
	// NoTimeStomp disables the timestamp prefix, handy for tests and for
	// output that is captured by something that stamps lines itself.
	NoTimeStomp atomic.Bool
)

// NoSprint is a noop for sprint (it returns nothing no matter what is given to it).
func NoSprint(a ...any) string { return "" }

// Log is a set of log printers for the various Level items.
type Log struct {
	F, E, W, I, D, T LevelPrinter
}

// Check is the set of log levels for a Check operation (prints an error if the
// error is not nil).
type Check struct {
	F, E, W, I, D, T Chk
}

// Errorf prints an error that is also returned as an error, so the error is
// logged at the site.
type Errorf struct {
	F, E, W, I, D, T Err
}

// Logger is a collection of things that creates a logger, including levels.
type Logger struct {
	*Log
	*Check
	*Errorf
}

// Level is the level that the logger is printing at.
var Level atomic.Int32

// Main is the main logger.
var Main = &Logger{}

// out is the destination of Main, swappable with SetWriter.
var out = &swapWriter{w: os.Stderr}

func init() {
	Main.Log, Main.Check, Main.Errorf = New(out)
	SetLoggers(Info)
}

type swapWriter struct {
	sync.Mutex
	w io.Writer
}

func (s *swapWriter) Write(p []byte) (n int, err error) {
	s.Lock()
	defer s.Unlock()
	return s.w.Write(p)
}

// SetWriter redirects the Main logger to w.
func SetWriter(w io.Writer) {
	out.Lock()
	out.w = w
	out.Unlock()
}

// SetLoggers configures a log level.
func SetLoggers(level int) {
	if level < Off || level > Trace {
		level = Info
	}
	Level.Store(int32(level))
	Main.Log.T.F("log level %s", LevelSpecs[level].Colorizer(LevelNames[level]))
}

// GetLogLevel returns the log level number of a string log level.
func GetLogLevel(level string) (i int) {
	level = strings.ToLower(strings.TrimSpace(level))
	for i = range LevelNames {
		if level == LevelNames[i] {
			return i
		}
	}
	return Info
}

// SetLogLevel sets the log level of the logger by name. Unknown names are
// ignored.
func SetLogLevel(level string) {
	level = strings.ToLower(strings.TrimSpace(level))
	for i := range LevelNames {
		if level == LevelNames[i] {
			SetLoggers(i)
			return
		}
	}
}

// JoinStrings joins together anything into a set of strings with space
// separating the items.
func JoinStrings(a ...any) string {
	var b strings.Builder
	for i := range a {
		b.WriteString(fmt.Sprint(a[i]))
		if i < len(a)-1 {
			b.WriteByte(' ')
		}
	}
	return b.String()
}

var msgCol = color.New(color.FgBlue).Sprint

func emit(w io.Writer, l int32, s string) {
	fmt.Fprintf(w,
		"%s%s %s %s\n",
		msgCol(TimeStamper()),
		LevelSpecs[l].Colorizer(LevelSpecs[l].Name),
		s,
		msgCol(GetLoc(3)),
	)
}

// GetPrinter returns a full logger that writes to the provided io.Writer.
func GetPrinter(l int32, w io.Writer) LevelPrinter {
	on := func() bool { return Level.Load() >= l }
	return LevelPrinter{
		Ln: func(a ...any) {
			if on() {
				emit(w, l, JoinStrings(a...))
			}
		},
		F: func(format string, a ...any) {
			if on() {
				emit(w, l, fmt.Sprintf(format, a...))
			}
		},
		S: func(a ...any) {
			if on() {
				emit(w, l, spew.Sdump(a...))
			}
		},
		C: func(closure func() string) {
			if on() {
				emit(w, l, closure())
			}
		},
		Chk: func(e error) bool {
			if e == nil {
				return false
			}
			if on() {
				emit(w, l, e.Error())
			}
			return true
		},
		Err: func(format string, a ...any) error {
			err := fmt.Errorf(format, a...)
			if on() {
				emit(w, l, err.Error())
			}
			return err
		},
	}
}

// GetNullPrinter is a logger that doesn't log.
func GetNullPrinter() LevelPrinter {
	return LevelPrinter{
		Ln:  func(a ...any) {},
		F:   func(format string, a ...any) {},
		S:   func(a ...any) {},
		C:   func(closure func() string) {},
		Chk: func(e error) bool { return e != nil },
		Err: func(format string, a ...any) error { return fmt.Errorf(format, a...) },
	}
}

// New creates a new logger with all the levels and things.
func New(w io.Writer) (l *Log, c *Check, errorf *Errorf) {
	l = &Log{
		T: GetPrinter(Trace, w),
		D: GetPrinter(Debug, w),
		I: GetPrinter(Info, w),
		W: GetPrinter(Warn, w),
		E: GetPrinter(Error, w),
		F: GetPrinter(Fatal, w),
	}
	c = &Check{
		F: l.F.Chk,
		E: l.E.Chk,
		W: l.W.Chk,
		I: l.I.Chk,
		D: l.D.Chk,
		T: l.T.Chk,
	}
	errorf = &Errorf{
		F: l.F.Err,
		E: l.E.Err,
		W: l.W.Err,
		I: l.I.Err,
		D: l.D.Err,
		T: l.T.Err,
	}
	return
}

// TimeStamper generates the timestamp for logs.
func TimeStamper() (s string) {
	if NoTimeStomp.Load() {
		return
	}
	return time.Now().Format("2006-01-02T15:04:05.000Z07:00 ")
}

// GetLoc returns the code location of the caller.
func GetLoc(skip int) (output string) {
	_, file, line, _ := runtime.Caller(skip)
	return fmt.Sprintf("%s:%d", file, line)
}
