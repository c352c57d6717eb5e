// Package safego provides panic-recovering launchers for background work.
package safego

import (
	"fmt"
	"log/slog"
)

// Go launches fn in a new goroutine. If fn panics, the panic is recovered and
// logged with the job name rather than crashing the process.
func Go(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in background goroutine", "job", name, "panic", r)
			}
		}()
		fn()
	}()
}

// Run calls fn synchronously and converts a panic into an error, so a single
// bad tick of a background loop cannot take the loop down with it.
func Run(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("recovered panic", "job", name, "panic", r)
			err = fmt.Errorf("%s: panic: %v", name, r)
		}
	}()
	return fn()
}
