package logger

import "github.com/rs/zerolog"

// Zerolog forwards log calls to a zerolog.Logger.
type Zerolog struct {
	logger zerolog.Logger
}

var _ Logger = (*Zerolog)(nil)

// NewZerolog wraps a zerolog.Logger in the Logger contract.
func NewZerolog(l zerolog.Logger) *Zerolog {
	return &Zerolog{logger: l}
}

func (z *Zerolog) With(fields ...Field) Logger {
	ctx := z.logger.With()
	for _, f := range fields {
		ctx = ctx.Interface(f.Key, f.Value)
	}
	return &Zerolog{logger: ctx.Logger()}
}

func (z *Zerolog) Debug(msg string, fields ...Field) { emit(z.logger.Debug(), msg, fields) }
func (z *Zerolog) Info(msg string, fields ...Field)  { emit(z.logger.Info(), msg, fields) }
func (z *Zerolog) Warn(msg string, fields ...Field)  { emit(z.logger.Warn(), msg, fields) }
func (z *Zerolog) Error(msg string, fields ...Field) { emit(z.logger.Error(), msg, fields) }

func emit(event *zerolog.Event, msg string, fields []Field) {
	for _, f := range fields {
		event = event.Interface(f.Key, f.Value)
	}
	event.Msg(msg)
}
