package mixbus

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger creates the standard mixbus logger: console-formatted,
// timestamped, writing to out (os.Stderr when nil).
func NewLogger(out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}
	console := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	return zerolog.New(console).With().Timestamp().Logger()
}
