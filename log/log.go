// Package log is the project-wide logger, based on zerolog.
//
// It is configured through a toml file read by viper, located next to the
// binary or pointed at by the ROLLUP_LOGCONFIG environment variable:
//
//	# one of debug/info/warn/error/fatal/panic
//	level = "info"
//
//	# one of console, console_no_color, json
//	formatter = "json"
//
//	# print source file and line
//	caller = false
//
//	# per-module overrides
//	[syncer]
//	level = "debug"
package log

import (
	"os"
	"strings"
	"sync"

	colorable "github.com/mattn/go-colorable"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

const (
	confEnvPrefix       = "ROLLUP"
	confFilePathKey     = "LOGCONFIG"
	defaultConfFileName = "rolluplog"
)

var (
	baseLogger  = zerolog.New(os.Stderr)
	baseLevel   = zerolog.InfoLevel
	logInitLock sync.Mutex
	isLogInit   bool
	viperConf   = viper.New()
)

// Logger is a named sub-logger with its own level.
type Logger struct {
	*zerolog.Logger
	name  string
	level zerolog.Level
}

func loadConfigFile() {
	viperConf.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viperConf.SetEnvPrefix(confEnvPrefix)
	viperConf.AutomaticEnv()

	viperConf.SetConfigType("toml")
	viperConf.SetConfigName(defaultConfFileName)
	viperConf.AddConfigPath(".")

	if path := viperConf.GetString(confFilePathKey); path != "" {
		viperConf.SetConfigFile(path)
	}

	if err := viperConf.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			baseLogger.Error().Err(err).Msg("failed to read logger config file")
		}
	}
}

func initLog() {
	if format := viperConf.GetString("timefieldformat"); format != "" {
		zerolog.TimeFieldFormat = format
	}

	out := os.Stderr
	switch strings.ToLower(viperConf.GetString("formatter")) {
	case "", "json":
		baseLogger = baseLogger.Output(out)
	case "console":
		baseLogger = baseLogger.Output(
			zerolog.ConsoleWriter{Out: colorable.NewColorable(out), NoColor: false, TimeFormat: zerolog.TimeFieldFormat})
	case "console_no_color":
		baseLogger = baseLogger.Output(
			zerolog.ConsoleWriter{Out: out, NoColor: true, TimeFormat: zerolog.TimeFieldFormat})
	default:
		baseLogger.Warn().Str("formatter", viperConf.GetString("formatter")).
			Msg("invalid formatter, only console/console_no_color/json are allowed")
	}

	if viperConf.GetBool("caller") {
		baseLogger = baseLogger.With().Caller().Logger()
	}

	level := zerolog.InfoLevel
	if name := viperConf.GetString("level"); name != "" {
		parsed, err := zerolog.ParseLevel(name)
		if err != nil {
			baseLogger.Warn().Err(err).Msg("failed to parse default log level, using info")
		} else {
			level = parsed
		}
	}

	baseLogger = baseLogger.With().Timestamp().Logger().Level(level)
	baseLevel = level
}

// NewLogger creates a logger tagged with the given module name. Modules can
// override the base level in their config section.
func NewLogger(moduleName string) *Logger {
	logInitLock.Lock()
	defer logInitLock.Unlock()

	if !isLogInit {
		loadConfigFile()
		initLog()
		isLogInit = true
	}

	zLogger := baseLogger.With().Str("module", moduleName).Logger()
	level := baseLevel

	if sub := viperConf.Sub(moduleName); sub != nil {
		if name := sub.GetString("level"); name != "" {
			parsed, err := zerolog.ParseLevel(name)
			if err != nil {
				parsed = zerolog.InfoLevel
			}
			level = parsed
			zLogger = zLogger.Level(level)
		}
	}

	return &Logger{
		Logger: &zLogger,
		name:   moduleName,
		level:  level,
	}
}

// Level returns the effective level name of this logger.
func (l *Logger) Level() string {
	return l.level.String()
}

// IsDebugEnabled is used to guard expensive debug-only computation.
func (l *Logger) IsDebugEnabled() bool {
	return l.level <= zerolog.DebugLevel
}
