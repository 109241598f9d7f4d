package gologger

import (
	"context"
	"fmt"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/rs/zerolog"
)

type zerologLogger struct {
	logger zerolog.Logger
}

// FromZerolog wraps a zerolog logger as a glog.Logger. Arguments are read as
// alternating key/value pairs.
func FromZerolog(logger zerolog.Logger) glog.Logger {
	return zerologLogger{logger: logger}
}

// ZerologProvider hands out zerolog child loggers tagged with the logger name.
func ZerologProvider(logger zerolog.Logger) glog.LoggerProvider {
	return zerologProvider{logger: logger}
}

type zerologProvider struct {
	logger zerolog.Logger
}

func (p zerologProvider) GetLogger(name string) glog.Logger {
	if name == "" {
		return FromZerolog(p.logger)
	}
	return FromZerolog(p.logger.With().Str("logger", name).Logger())
}

func (l zerologLogger) Trace(msg string, args ...any) { l.write(l.logger.Trace(), msg, args) }
func (l zerologLogger) Debug(msg string, args ...any) { l.write(l.logger.Debug(), msg, args) }
func (l zerologLogger) Info(msg string, args ...any)  { l.write(l.logger.Info(), msg, args) }
func (l zerologLogger) Warn(msg string, args ...any)  { l.write(l.logger.Warn(), msg, args) }
func (l zerologLogger) Error(msg string, args ...any) { l.write(l.logger.Error(), msg, args) }

// Fatal logs at error level and leaves process exit to the caller.
func (l zerologLogger) Fatal(msg string, args ...any) {
	l.write(l.logger.Error().Bool("fatal", true), msg, args)
}

func (l zerologLogger) WithContext(ctx context.Context) glog.Logger {
	if ctx == nil {
		return l
	}
	return zerologLogger{logger: l.logger.With().Ctx(ctx).Logger()}
}

func (l zerologLogger) write(event *zerolog.Event, msg string, args []any) {
	if event == nil {
		return
	}
	for i := 0; i < len(args); i += 2 {
		key := fmt.Sprint(args[i])
		if i+1 >= len(args) {
			event = event.Interface("extra", args[i])
			break
		}
		switch value := args[i+1].(type) {
		case error:
			event = event.AnErr(key, value)
		default:
			event = event.Interface(key, value)
		}
	}
	event.Msg(msg)
}

var _ glog.Logger = zerologLogger{}
