package mixbus

import "github.com/rs/zerolog"

// ErrorHandler is the boundary for faults raised on background
// goroutines (monitor loop, dispatcher, routing pushes) where no caller
// is waiting for an error return.
type ErrorHandler interface {
	HandleError(error)
}

// LogErrorHandler logs every error through a zerolog logger.
type LogErrorHandler struct {
	Logger zerolog.Logger
}

// HandleError implements ErrorHandler.
func (h *LogErrorHandler) HandleError(err error) {
	h.Logger.Error().Err(err).Msg("engine error")
}

// NewLogErrorHandler returns a handler writing to the given logger.
func NewLogErrorHandler(logger zerolog.Logger) *LogErrorHandler {
	return &LogErrorHandler{Logger: logger}
}

// PanicErrorHandler panics on any error (useful for development)
type PanicErrorHandler struct{}

// HandleError implements ErrorHandler interface by panicking
func (h *PanicErrorHandler) HandleError(err error) {
	panic("engine error: " + err.Error())
}
