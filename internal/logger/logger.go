package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	isDevelopment = false // if running in debug mode

	logFile *os.File = nil

	AdHocLogger zerolog.Logger

	once sync.Once

	globalLogger zerolog.Logger

	level = zerolog.InfoLevel

	serviceName = "pipes"
)

func init() {
	// Create a general logger that can be easily accessed for
	// when you do not want to create a new logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	AdHocLogger = zerolog.New(os.Stderr).With().Timestamp().Str("service", "ad-hoc-logger").Caller().Logger()
}

// GetLogger returns the process wide logger tagged with component. The
// writer and level are fixed by the first call.
func GetLogger(component string) zerolog.Logger {

	once.Do(func() {

		if !isDevelopment {
			var out io.Writer = os.Stderr
			if logFile != nil {
				out = zerolog.MultiLevelWriter(os.Stderr, logFile)
			}
			globalLogger = zerolog.New(out).Level(level).With().Timestamp().Str("service", serviceName).Logger()
			return
		}

		// Set up zerolog for development mode (human-readable logs)
		consoleWriter := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339,
			FormatLevel: func(i any) string {
				return strings.ToUpper(fmt.Sprintf("[%5s]", i))
			},
			FormatMessage: func(i any) string {
				return fmt.Sprintf("| %s |", i)
			},
			FormatCaller: func(i any) string {
				return filepath.Base(fmt.Sprintf("%s", i))
			},
			PartsExclude: []string{
				zerolog.TimestampFieldName,
			}}
		var out io.Writer = consoleWriter
		if logFile != nil {
			// Use multi-writer for file and readable console output
			out = zerolog.MultiLevelWriter(consoleWriter, logFile)
		}
		globalLogger = zerolog.New(out).Level(zerolog.TraceLevel).With().Timestamp().Str("service", serviceName).Caller().Logger()
	})

	return globalLogger.With().Str("component", component).Logger()
}

// SetServiceName names the process in every log line. Call it before the
// first GetLogger.
func SetServiceName(name string) {
	serviceName = name
}

func SetDevelopment(value bool) {
	isDevelopment = value
}

func SetLogFile(file *os.File) {
	logFile = file
}

// SetLevel parses a zerolog level name; unknown names leave the level as is.
func SetLevel(name string) error {
	l, err := zerolog.ParseLevel(name)
	if err != nil {
		return err
	}
	level = l
	return nil
}
