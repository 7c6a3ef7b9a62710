package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

const (
	permission = 0o664
)

// LogBuild configures a zerolog backed Logger.
// Without FromPath or FromBuffer it writes to stdout.
type LogBuild struct {
	writer  io.Writer
	path    string
	level   zerolog.Level
	console bool
}

func NewBuild() *LogBuild {
	return &LogBuild{level: zerolog.InfoLevel}
}

func (build *LogBuild) FromPath(path string) *LogBuild {
	build.path = path
	return build
}

func (build *LogBuild) FromBuffer(w io.Writer) *LogBuild {
	build.writer = w
	return build
}

// Console switches to zerolog's human readable console writer.
func (build *LogBuild) Console(enabled bool) *LogBuild {
	build.console = enabled
	return build
}

// Level sets the minimum level from a name such as "debug" or "warn".
func (build *LogBuild) Level(name string) *LogBuild {
	if lvl, err := zerolog.ParseLevel(name); err == nil && name != "" {
		build.level = lvl
	}
	return build
}

// ZeroLogger implements Logger. LogFile is set when built FromPath and
// must be closed by the owner.
type ZeroLogger struct {
	Logger  zerolog.Logger
	LogFile *os.File
}

func (build *LogBuild) Make() (*ZeroLogger, error) {
	zl := new(ZeroLogger)

	var w io.Writer = os.Stdout
	if build.writer != nil {
		w = build.writer
	}
	if build.path != "" {
		f, err := os.OpenFile(build.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return nil, err
		}
		zl.LogFile = f
		w = zerolog.SyncWriter(f)
	}
	if build.console {
		w = zerolog.ConsoleWriter{Out: w, NoColor: true}
	}

	zl.Logger = zerolog.New(w).Level(build.level).With().Timestamp().Logger()
	return zl, nil
}

func (z *ZeroLogger) Error(msg string, args ...any) { z.emit(z.Logger.Error(), msg, args) }
func (z *ZeroLogger) Warn(msg string, args ...any)  { z.emit(z.Logger.Warn(), msg, args) }
func (z *ZeroLogger) Info(msg string, args ...any)  { z.emit(z.Logger.Info(), msg, args) }
func (z *ZeroLogger) Debug(msg string, args ...any) { z.emit(z.Logger.Debug(), msg, args) }

// Close releases the log file, if any.
func (z *ZeroLogger) Close() error {
	if z.LogFile == nil {
		return nil
	}
	return z.LogFile.Close()
}

func (z *ZeroLogger) emit(ev *zerolog.Event, msg string, args []any) {
	if ev == nil {
		return
	}
	for i := 0; i < len(args); i += 2 {
		key := fmt.Sprint(args[i])
		if i+1 >= len(args) {
			ev = ev.Interface("!BADKEY", args[i])
			break
		}
		switch v := args[i+1].(type) {
		case error:
			ev = ev.AnErr(key, v)
		case string:
			ev = ev.Str(key, v)
		case int:
			ev = ev.Int(key, v)
		case bool:
			ev = ev.Bool(key, v)
		default:
			ev = ev.Interface(key, v)
		}
	}
	ev.Msg(msg)
}
