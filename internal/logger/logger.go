// Package logger wires logrus to the console and to size-rotated log files:
// one general application log plus one file per external API.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Fields type alias for logrus.Fields to keep call sites free of logrus.
type Fields map[string]interface{}

// Log wraps logrus.Logger.
type Log struct {
	*logrus.Logger
}

// Entry wraps logrus.Entry.
type Entry struct {
	*logrus.Entry
}

// Options controls where and how logs are written.
type Options struct {
	Level   string
	Format  string
	Dir     string
	Console bool

	AppFile       string
	AppMaxSizeMB  int
	AppMaxBackups int
	APIMaxSizeMB  int
	APIMaxBackups int
}

// DefaultOptions mirrors the rotation settings the bot has always used:
// 10MB x 5 for the main log, 5MB x 3 per API.
func DefaultOptions() Options {
	return Options{
		Level:         "info",
		Format:        "text",
		Dir:           "logs",
		Console:       true,
		AppFile:       "market_pulse.log",
		AppMaxSizeMB:  10,
		AppMaxBackups: 5,
		APIMaxSizeMB:  5,
		APIMaxBackups: 3,
	}
}

// Logs is the process-wide logging facility. It is built once in main and
// handed to every component that needs it.
type Logs struct {
	App       *Log
	CoinGecko *Log
	LLM       *Log

	files []*lumberjack.Logger
}

// Setup creates the log directory, the rotating files and the loggers.
func Setup(opts Options) (*Logs, error) {
	level, err := parseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	formatter, err := newFormatter(opts.Format)
	if err != nil {
		return nil, err
	}

	if opts.Dir == "" {
		opts.Dir = "logs"
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", opts.Dir, err)
	}
	if opts.AppFile == "" {
		opts.AppFile = DefaultOptions().AppFile
	}

	logs := &Logs{}
	appFile := logs.rotating(filepath.Join(opts.Dir, opts.AppFile), opts.AppMaxSizeMB, opts.AppMaxBackups)

	var appOut io.Writer = appFile
	if opts.Console {
		appOut = io.MultiWriter(appFile, os.Stdout)
	}

	logs.App = newLog(appOut, level, formatter, "app")
	// API loggers write their own file and are mirrored into the app output.
	cgFile := logs.rotating(filepath.Join(opts.Dir, "coingecko_api.log"), opts.APIMaxSizeMB, opts.APIMaxBackups)
	logs.CoinGecko = newLog(io.MultiWriter(cgFile, appOut), level, formatter, "coingecko")
	llmFile := logs.rotating(filepath.Join(opts.Dir, "llm_api.log"), opts.APIMaxSizeMB, opts.APIMaxBackups)
	logs.LLM = newLog(io.MultiWriter(llmFile, appOut), level, formatter, "llm")

	return logs, nil
}

// Discard returns loggers that write nowhere. Used by tests.
func Discard() *Logs {
	f := &logrus.TextFormatter{DisableTimestamp: true}
	return &Logs{
		App:       newLog(io.Discard, logrus.DebugLevel, f, "app"),
		CoinGecko: newLog(io.Discard, logrus.DebugLevel, f, "coingecko"),
		LLM:       newLog(io.Discard, logrus.DebugLevel, f, "llm"),
	}
}

// Close flushes and closes the rotating files.
func (l *Logs) Close() error {
	var firstErr error
	for _, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// LogStartup writes the startup banner.
func (l *Logs) LogStartup(name string) {
	l.banner(fmt.Sprintf("%s Starting - %s", name, time.Now().Format("2006-01-02 15:04:05")))
}

// LogShutdown writes the shutdown banner.
func (l *Logs) LogShutdown(name string) {
	l.banner(fmt.Sprintf("%s Shutting Down - %s", name, time.Now().Format("2006-01-02 15:04:05")))
}

func (l *Logs) banner(line string) {
	rule := strings.Repeat("=", 50)
	l.App.Info(rule)
	l.App.Info(line)
	l.App.Info(rule)
}

func (l *Logs) rotating(path string, maxSizeMB, maxBackups int) *lumberjack.Logger {
	f := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
	}
	l.files = append(l.files, f)
	return f
}

func newLog(out io.Writer, level logrus.Level, formatter logrus.Formatter, name string) *Log {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(level)
	logger.SetFormatter(formatter)
	logger.AddHook(nameHook{name: name})
	return &Log{Logger: logger}
}

func parseLevel(level string) (logrus.Level, error) {
	if level == "" {
		return logrus.InfoLevel, nil
	}
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("invalid log level '%s'", level)
	}
	return lvl, nil
}

func newFormatter(format string) (logrus.Formatter, error) {
	callerPrettyfier := func(f *runtime.Frame) (string, string) {
		return "", fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
	}
	switch format {
	case "json":
		return &logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
			CallerPrettyfier: callerPrettyfier,
		}, nil
	case "text", "":
		return &logrus.TextFormatter{
			FullTimestamp:    true,
			TimestampFormat:  "2006-01-02 15:04:05",
			CallerPrettyfier: callerPrettyfier,
		}, nil
	default:
		return nil, fmt.Errorf("invalid log format '%s'", format)
	}
}

// nameHook stamps every entry with the logger it came from.
type nameHook struct {
	name string
}

func (h nameHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h nameHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Data["logger"]; !ok {
		entry.Data["logger"] = h.name
	}
	return nil
}

func (l *Log) WithComponent(component string) *Entry {
	return &Entry{Entry: l.Logger.WithField("component", component)}
}

func (l *Log) WithFields(fields Fields) *Entry {
	return &Entry{Entry: l.Logger.WithFields(logrus.Fields(fields))}
}

func (l *Log) WithError(err error) *Entry {
	return &Entry{Entry: l.Logger.WithError(err)}
}

func (e *Entry) WithComponent(component string) *Entry {
	return &Entry{Entry: e.Entry.WithField("component", component)}
}

func (e *Entry) WithField(key string, value interface{}) *Entry {
	return &Entry{Entry: e.Entry.WithField(key, value)}
}

func (e *Entry) WithFields(fields Fields) *Entry {
	return &Entry{Entry: e.Entry.WithFields(logrus.Fields(fields))}
}

func (e *Entry) WithError(err error) *Entry {
	return &Entry{Entry: e.Entry.WithError(err)}
}

// LogAPIRequest records one call to an external API on its dedicated log.
func LogAPIRequest(api *Log, name, endpoint string, success bool) {
	entry := api.WithFields(Fields{"endpoint": endpoint, "success": success})
	msg := fmt.Sprintf("%s API Request - Endpoint: %s", name, endpoint)
	if success {
		entry.Info(msg)
		return
	}
	entry.Error(msg)
}
