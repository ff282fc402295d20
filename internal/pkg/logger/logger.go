package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log entry.
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

// ParseLevel maps a config string onto a Level. Unknown values yield INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// sink is shared by the root logger and every Named/With child so level,
// redaction and output changes apply everywhere.
type sink struct {
	mu        sync.Mutex
	level     Level
	redactPII bool
	out       io.Writer
}

// Logger emits structured JSON lines. Child loggers created with Named or
// With carry their component name and fields into every entry.
type Logger struct {
	sink      *sink
	component string
	fields    []interface{}
}

var defaultSink = &sink{level: INFO, redactPII: true, out: os.Stderr}

var defaultLogger = &Logger{sink: defaultSink}

// SetLevel sets the minimum log level for all loggers.
func SetLevel(l Level) {
	defaultSink.mu.Lock()
	defaultSink.level = l
	defaultSink.mu.Unlock()
}

// SetRedactPII enables or disables PII redaction for all loggers.
func SetRedactPII(r bool) {
	defaultSink.mu.Lock()
	defaultSink.redactPII = r
	defaultSink.mu.Unlock()
}

// SetOutput redirects all log output. Tests use it to capture entries.
func SetOutput(w io.Writer) {
	defaultSink.mu.Lock()
	defaultSink.out = w
	defaultSink.mu.Unlock()
}

// Named returns a logger tagged with a component name.
func Named(component string) *Logger {
	return &Logger{sink: defaultSink, component: component}
}

// With returns a child logger that adds the given key-value pairs to every entry.
func (l *Logger) With(fields ...interface{}) *Logger {
	merged := make([]interface{}, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	return &Logger{sink: l.sink, component: l.component, fields: merged}
}

// Debug emits a DEBUG-level structured log entry.
func Debug(msg string, fields ...interface{}) { defaultLogger.log(DEBUG, msg, fields...) }

// Info emits an INFO-level structured log entry.
func Info(msg string, fields ...interface{}) { defaultLogger.log(INFO, msg, fields...) }

// Warn emits a WARN-level structured log entry.
func Warn(msg string, fields ...interface{}) { defaultLogger.log(WARN, msg, fields...) }

// Error emits an ERROR-level structured log entry.
func Error(msg string, fields ...interface{}) { defaultLogger.log(ERROR, msg, fields...) }

func (l *Logger) Debug(msg string, fields ...interface{}) { l.log(DEBUG, msg, fields...) }
func (l *Logger) Info(msg string, fields ...interface{})  { l.log(INFO, msg, fields...) }
func (l *Logger) Warn(msg string, fields ...interface{})  { l.log(WARN, msg, fields...) }
func (l *Logger) Error(msg string, fields ...interface{}) { l.log(ERROR, msg, fields...) }

func (l *Logger) log(level Level, msg string, fields ...interface{}) {
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()
	if level < s.level {
		return
	}

	entry := map[string]interface{}{
		"time":  time.Now().UTC().Format(time.RFC3339),
		"level": levelNames[level],
		"msg":   msg,
	}
	if l.component != "" {
		entry["component"] = l.component
	}

	all := append(append([]interface{}{}, l.fields...), fields...)
	for i := 0; i < len(all)-1; i += 2 {
		key := fmt.Sprintf("%v", all[i])
		val := fmt.Sprintf("%v", all[i+1])
		if s.redactPII {
			val = redactPIIValue(key, val)
		}
		entry[key] = val
	}

	data, _ := json.Marshal(entry)
	fmt.Fprintln(s.out, string(data))
}

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

func redactPIIValue(key, val string) string {
	key = strings.ToLower(key)
	if strings.Contains(key, "email") || strings.Contains(key, "sender") || strings.Contains(key, "recipient") {
		if strings.Contains(val, "@") && !strings.Contains(val, ",") && !strings.Contains(val, " ") {
			return RedactEmail(val)
		}
	}
	// Redact any embedded emails in generic fields (lists, error strings)
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}

// RedactEmail masks an email address for safe logging.
// "john.doe@example.com" → "jo***@example.com"; local parts of two
// characters or fewer are fully masked.
func RedactEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return "***@***"
	}
	name, domain := email[:at], email[at+1:]
	if len(name) > 2 {
		return name[:2] + "***@" + domain
	}
	return "***@" + domain
}
