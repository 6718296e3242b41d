package build

import (
	"io"

	"github.com/btcsuite/btclog/v2"
)

// NewSubLogger constructs a new subsystem logger using the passed generator
// function. If no generator is provided, logging for the subsystem is
// disabled. Packages call this from their init function so that all logging
// is off until the application explicitly installs loggers.
func NewSubLogger(subsystem string,
	genSubLogger func(string) btclog.Logger) btclog.Logger {

	if genSubLogger == nil {
		return btclog.Disabled
	}

	return genSubLogger(subsystem)
}

// NewDefaultLogger returns a subsystem logger that writes human readable log
// lines to the given writer. This is the generator most callers will hand to
// the per-package UseLogger functions.
func NewDefaultLogger(subsystem string, w io.Writer) btclog.Logger {
	handler := btclog.NewDefaultHandler(w)
	return btclog.NewSLogger(handler.SubSystem(subsystem))
}
