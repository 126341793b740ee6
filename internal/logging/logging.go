// Package logging sets up the structured logger shared by the CLI and the
// session package, mirroring the original tool's debug_hl/debug_ll
// two-tier verbosity with slog's leveled handler instead of two separate
// print-gated booleans.
package logging

import (
	"io"
	"log/slog"
)

// New builds a text-handler logger. verbose lowers the level to Debug,
// covering both the original's high-level command trace (debug_hl) and
// its raw byte trace (debug_ll). The session logs the raw byte trace as
// messages prefixed "tx:"/"rx:", which is how the two can be told apart.
func New(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h)
}
