package obs

import "github.com/rs/zerolog"

// Logger adapts a zerolog.Logger to the small structured-logging surface
// the rag pipeline depends on (service.Logger, hydrate.Logger, ...).
type Logger struct {
	base zerolog.Logger
}

// NewLogger wraps a zerolog.Logger (typically the global log.Logger
// configured by internal/observability.InitLogger) for use within the rag
// pipeline.
func NewLogger(base zerolog.Logger) *Logger {
	return &Logger{base: base}
}

func (l *Logger) Info(msg string, fields map[string]any) {
	l.base.Info().Fields(fields).Msg(msg)
}

func (l *Logger) Error(msg string, fields map[string]any) {
	l.base.Error().Fields(fields).Msg(msg)
}

func (l *Logger) Debug(msg string, fields map[string]any) {
	l.base.Debug().Fields(fields).Msg(msg)
}
