package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel     = "NCCOMM_LOG_LEVEL"
	EnvLogTimestamp = "NCCOMM_LOG_TIMESTAMP"
	EnvLogNoColor   = "NCCOMM_LOG_NOCOLOR"
	EnvLogBypass    = "NCCOMM_LOG_BYPASS"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Options controls the process-wide zerolog logger.
type Options struct {
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
	// Bypass writes JSON lines instead of the console format.
	Bypass bool
	Out    io.Writer
}

var configureOnce sync.Once

func ConfigureRuntime() {
	Configure(ProfileRuntime)
}

func ConfigureTests() {
	Configure(ProfileTest)
}

// Configure applies the profile defaults plus env overrides once per process.
func Configure(profile Profile) {
	configureOnce.Do(func() {
		opts := DefaultOptions(profile)
		ApplyEnvOverrides(&opts)
		apply(opts)
	})
}

// ConfigureWith applies explicit options, still honoring env overrides.
// It wins over any earlier Configure call.
func ConfigureWith(opts Options) {
	configureOnce.Do(func() {})
	ApplyEnvOverrides(&opts)
	apply(opts)
}

func DefaultOptions(profile Profile) Options {
	switch profile {
	case ProfileTest:
		return Options{Level: zerolog.DebugLevel, Timestamp: false, Out: os.Stderr}
	default:
		return Options{Level: zerolog.InfoLevel, Timestamp: true, Out: os.Stdout}
	}
}

func ApplyEnvOverrides(opts *Options) {
	if lvl, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		opts.Level = lvl
	}
	if v, ok := parseBool(os.Getenv(EnvLogTimestamp)); ok {
		opts.Timestamp = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		opts.NoColor = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogBypass)); ok {
		opts.Bypass = v
	}
}

func apply(opts Options) {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	if !opts.Bypass {
		out = zerolog.ConsoleWriter{
			Out:        out,
			NoColor:    opts.NoColor,
			TimeFormat: time.RFC3339,
		}
	}
	zerolog.SetGlobalLevel(opts.Level)
	ctx := zerolog.New(out).With()
	if opts.Timestamp {
		ctx = ctx.Timestamp()
	}
	log.Logger = ctx.Str("app", "nccomm").Logger()
}

// ParseLevel maps a config or env string to a zerolog level.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace", "diagnostics":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none", "inactive":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
