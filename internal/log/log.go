// Package log configures the structured logger shared by the CLI and the web server.
package log

import (
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"strings"
	"sync"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger *logrus.Logger
	once   sync.Once
)

type Fields = logrus.Fields

// Options controls logger construction.
type Options struct {
	Level   string // logrus level name, defaults to info
	File    string // optional rotating log file
	NoColor bool
	Caller  bool
}

// New creates a logger writing to stderr and, when File is set, to a rotating file.
func New(opts Options) *logrus.Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	l.SetFormatter(&formatter.Formatter{
		NoColors:        opts.NoColor,
		TimestampFormat: "02 Jan 06 - 15:04:05",
		HideKeys:        false,
		CallerFirst:     true,
		CustomCallerFormatter: func(f *runtime.Frame) string {
			s := strings.Split(f.Function, ".")
			funcName := s[len(s)-1]
			return fmt.Sprintf(" [%s:%d][%s()]", path.Base(f.File), f.Line, funcName)
		},
	})

	writers := []io.Writer{os.Stderr}
	if opts.File != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   opts.File,
			LocalTime:  true,
			Compress:   true,
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
		})
	}
	l.SetOutput(io.MultiWriter(writers...))
	l.SetReportCaller(opts.Caller)

	return l
}

// Init installs the package-level logger. Only the first call has an effect.
func Init(opts Options) *logrus.Logger {
	once.Do(func() {
		logger = New(opts)
	})
	return logger
}

// Default returns the package-level logger, creating it with default options if needed.
func Default() *logrus.Logger {
	return Init(Options{})
}

// Discard returns a logger that drops everything, for tests.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func Debug(fields Fields, msg string) {
	Default().WithFields(fields).Debug(msg)
}

func Info(fields Fields, msg string) {
	Default().WithFields(fields).Info(msg)
}

func Warn(fields Fields, msg string) {
	Default().WithFields(fields).Warn(msg)
}

func Error(fields Fields, msg string) {
	Default().WithFields(fields).Error(msg)
}
