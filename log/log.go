// Package log writes messages to stdout and to daily files.
// Call Init to enable files; without it only stdout is written.
package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kjk/chronsynth/journal"
	"github.com/toon-format/toon-go"
)

var (
	mainLog   *WriteDaily
	errorsLog *WriteDaily
	eventsLog *WriteDaily

	out io.Writer = os.Stdout
	mu  sync.Mutex

	// if true, Verbosef() will log messages
	Verbose bool
)

// WriteDaily appends to <Dir>/YYYY-MM-DD.txt, switching files at midnight UTC
type WriteDaily struct {
	Dir         string
	currentDate int // YYYYMMDD format
	file        *os.File
	mu          sync.Mutex
}

func NewWriteDaily(dir string) *WriteDaily {
	return &WriteDaily{
		Dir: dir,
	}
}

// dayFromTime converts a time.Time to YYYYMMDD integer format
func dayFromTime(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

// must be called with w.mu held
func (w *WriteDaily) fileFor(now time.Time) (*os.File, error) {
	today := dayFromTime(now)
	if w.file != nil && w.currentDate != today {
		if err := w.close(); err != nil {
			return nil, err
		}
	}
	if w.file != nil {
		return w.file, nil
	}
	if err := os.MkdirAll(w.Dir, 0755); err != nil {
		return nil, err
	}
	filename := filepath.Join(w.Dir, now.Format("2006-01-02")+".txt")
	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	w.file = f
	w.currentDate = today
	return f, nil
}

// Write writes data to today's log file
// it's safe to call on nil receiver
func (w *WriteDaily) Write(d []byte) error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	f, err := w.fileFor(time.Now().UTC())
	if err != nil {
		return err
	}
	_, err = f.Write(d)
	return err
}

// WriteString writes a string to the daily log file
// it's safe to call on nil receiver
func (w *WriteDaily) WriteString(s string) error {
	return w.Write([]byte(s))
}

func (w *WriteDaily) close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	w.currentDate = 0
	return err
}

// Close syncs and closes the daily log file
// it's safe to call on nil receiver
func (w *WriteDaily) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		_ = w.file.Sync()
	}
	return w.close()
}

type Config struct {
	// directory where log files are stored
	// each log type (regular, errors, events) has its own subdirectory
	Dir string
	// if set, Logf() writes here instead of stdout
	Out io.Writer
}

// Init initializes the logging system
// log files are created lazily in subdirectories of config.Dir
func Init(config *Config) {
	mu.Lock()
	defer mu.Unlock()
	if config.Out != nil {
		out = config.Out
	}
	if config.Dir == "" {
		return
	}
	dir := config.Dir
	mainLog = NewWriteDaily(filepath.Join(dir, "log"))
	errorsLog = NewWriteDaily(filepath.Join(dir, "errors"))
	eventsLog = NewWriteDaily(filepath.Join(dir, "events"))
}

// Close closes all log files. Logging to stdout still works afterwards.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	for _, wd := range []**WriteDaily{&mainLog, &errorsLog, &eventsLog} {
		(*wd).Close()
		*wd = nil
	}
	out = os.Stdout
}

func Logf(s string, args ...any) {
	if len(args) > 0 {
		s = fmt.Sprintf(s, args...)
	}
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprint(out, s)
	mainLog.WriteString(s)
}

func Verbosef(format string, args ...any) {
	if !Verbose {
		return
	}
	Logf(format, args...)
}

func GetCallstackFrames(skip int) []string {
	var callers [32]uintptr
	n := runtime.Callers(skip+1, callers[:])
	frames := runtime.CallersFrames(callers[:n])
	var cs []string
	for {
		frame, more := frames.Next()
		if !more {
			break
		}
		cs = append(cs, frame.File+":"+strconv.Itoa(frame.Line))
	}
	return cs
}

func GetCallstack(skip int) string {
	frames := GetCallstackFrames(skip + 1)
	return strings.Join(frames, "\n")
}

// Errorf logs an error message along with the callstack
func Errorf(s string, args ...any) {
	if len(args) > 0 {
		s = fmt.Sprintf(s, args...)
	}
	cs := GetCallstack(2)
	msg := fmt.Sprintf("%s\n%s\n", s, cs)
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprint(out, msg)
	mainLog.WriteString(msg)
	errorsLog.WriteString(msg)
}

// if err != nil, log and return true
// IfErrf(err) => logs err.Error()
// IfErrf(err, "error is: %v", err) => logs message formatted
func IfErrf(err error, a ...any) bool {
	if err == nil {
		return false
	}
	if len(a) == 0 {
		Errorf("%s", err.Error())
		return true
	}
	s, ok := a[0].(string)
	if !ok {
		s = fmt.Sprintf("%s", a[0])
	}
	if len(a) > 1 {
		s = fmt.Sprintf(s, a[1:]...)
	}
	Errorf("%s", s)
	return true
}

// MarshalEvent encodes key/value pairs in toon format and frames them
// as a journal record
func MarshalEvent(name string, t time.Time, vals ...any) ([]byte, error) {
	n := len(vals)
	if n%2 != 0 {
		return nil, fmt.Errorf("odd number of values (%d) for event '%s'", n, name)
	}
	var d []byte
	if n > 0 {
		m := map[string]any{}
		for i := 0; i < n; i += 2 {
			k, ok := vals[i].(string)
			if !ok {
				return nil, fmt.Errorf("key %v of event '%s' is not a string", vals[i], name)
			}
			m[k] = vals[i+1]
		}
		var err error
		if d, err = toon.Marshal(m); err != nil {
			return nil, err
		}
	}
	return journal.MarshalLine(name, t, d), nil
}

// Event logs a named event with key/value pairs to the events log
func Event(name string, vals ...any) {
	d, err := MarshalEvent(name, time.Now().UTC(), vals...)
	if IfErrf(err) {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	eventsLog.Write(d)
}

func EventWithDuration(name string, dur time.Duration, vals ...any) {
	vals = append(vals, "durmicro", dur.Microseconds())
	Event(name, vals...)
}
