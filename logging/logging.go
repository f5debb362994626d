// Package logging configures the global zerolog logger for the wagonocr
// binaries
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var once sync.Once

// Init sets the global level and output once per process.  Console selects
// human readable output on stderr, otherwise JSON lines are written.
func Init(level string, console bool) error {

	lvl, err := ParseLevel(level)

	if err != nil {
		return err
	}

	once.Do(func() {
		zerolog.CallerMarshalFunc = shortCaller

		var out io.Writer = os.Stderr

		if console {
			out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
		}

		log.Logger = zerolog.New(out).With().Timestamp().Caller().Logger()
	})

	zerolog.SetGlobalLevel(lvl)

	return nil
}

// ParseLevel converts a level name such as debug or WARN
func ParseLevel(level string) (zerolog.Level, error) {

	if strings.TrimSpace(level) == "" {
		return zerolog.InfoLevel, nil
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))

	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("incorrect log level %q: %w", level, err)
	}

	return lvl, nil
}

// shortCaller trims the caller path to its file name
func shortCaller(pc uintptr, file string, line int) string {
	return filepath.Base(file) + ":" + strconv.Itoa(line)
}

// Component returns a child of the global logger tagged with a component
// name
func Component(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}
