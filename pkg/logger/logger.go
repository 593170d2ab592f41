package logger

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level controls which records are emitted. Records below the current
// level are dropped.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

var (
	mu    sync.Mutex
	level = INFO
	out   io.Writer = os.Stderr
)

func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

// SetOutput redirects log output. Used by tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

func logf(l Level, category, msg string, fields map[string]any) {
	mu.Lock()
	defer mu.Unlock()
	if l < level {
		return
	}

	var b strings.Builder
	b.WriteString(time.Now().Format("2006-01-02 15:04:05"))
	b.WriteString(" [")
	b.WriteString(levelNames[l])
	b.WriteString("] [")
	b.WriteString(category)
	b.WriteString("] ")
	b.WriteString(msg)

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
	}
	b.WriteByte('\n')

	_, _ = io.WriteString(out, b.String())
}

func DebugC(category, msg string) { logf(DEBUG, category, msg, nil) }

func DebugCF(category, msg string, fields map[string]any) { logf(DEBUG, category, msg, fields) }

func InfoC(category, msg string) { logf(INFO, category, msg, nil) }

func InfoCF(category, msg string, fields map[string]any) { logf(INFO, category, msg, fields) }

func WarnC(category, msg string) { logf(WARN, category, msg, nil) }

func WarnCF(category, msg string, fields map[string]any) { logf(WARN, category, msg, fields) }

func ErrorC(category, msg string) { logf(ERROR, category, msg, nil) }

func ErrorCF(category, msg string, fields map[string]any) { logf(ERROR, category, msg, fields) }
