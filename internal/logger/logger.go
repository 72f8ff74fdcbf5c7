package logger

import (
	"encoding/json"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

var (
	mu           sync.RWMutex
	currentLevel = LevelInfo
	jsonFormat   bool
	logger       = stdlog.New(os.Stdout, "", 0)
	logFile      *os.File
)

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name to a Level. Unknown names map to LevelInfo.
func ParseLevel(level string) Level {
	switch strings.ToUpper(level) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func SetLevel(level string) {
	mu.Lock()
	currentLevel = ParseLevel(level)
	mu.Unlock()
}

// GetLevel returns the current minimum level.
func GetLevel() Level {
	mu.RLock()
	defer mu.RUnlock()
	return currentLevel
}

// Enabled reports whether messages at level would be written.
// Hot paths use it to skip formatting arguments.
func Enabled(level Level) bool {
	return level >= GetLevel()
}

// SetFormat selects "text" (default) or "json" output.
func SetFormat(format string) {
	mu.Lock()
	jsonFormat = strings.EqualFold(format, "json")
	mu.Unlock()
}

// SetOutput redirects log output. Accepts "stdout", "stderr" or a file path,
// which is opened in append mode.
func SetOutput(output string) error {
	var w io.Writer
	var f *os.File

	switch strings.ToLower(output) {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		var err error
		f, err = os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open log file %q: %w", output, err)
		}
		w = f
	}

	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = f
	logger.SetOutput(w)
	return nil
}

// SetWriter redirects log output to w. Mostly useful in tests.
func SetWriter(w io.Writer) {
	mu.Lock()
	logger.SetOutput(w)
	mu.Unlock()
}

type jsonLine struct {
	Time    string `json:"time"`
	Level   string `json:"level"`
	Message string `json:"msg"`
}

func log(level Level, format string, v ...any) {
	mu.RLock()
	defer mu.RUnlock()

	if level < currentLevel {
		return
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	message := fmt.Sprintf(format, v...)

	if jsonFormat {
		line, err := json.Marshal(jsonLine{Time: timestamp, Level: level.String(), Message: message})
		if err == nil {
			logger.Println(string(line))
			return
		}
	}

	prefix := fmt.Sprintf("[%s] [%s] ", timestamp, level.String())
	logger.Println(prefix + message)
}

func Trace(format string, v ...any) {
	log(LevelTrace, format, v...)
}

func Debug(format string, v ...any) {
	log(LevelDebug, format, v...)
}

func Info(format string, v ...any) {
	log(LevelInfo, format, v...)
}

func Warn(format string, v ...any) {
	log(LevelWarn, format, v...)
}

func Error(format string, v ...any) {
	log(LevelError, format, v...)
}
