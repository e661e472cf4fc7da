// Package concurrency carries the small synchronization helpers the engine
// leans on: per-session serialization and panic-safe goroutines.
package concurrency

import (
	"log/slog"
	"runtime/debug"
)

// SafeGo runs fn in a goroutine and turns a panic into a logged error
// instead of a crashed process. A background turn blowing up must never take
// the server down with it. onPanic, when set, receives the recovered value.
func SafeGo(fn func(), onPanic func(any)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Recovered panic in background goroutine",
					"panic", r,
					"stack", string(debug.Stack()))
				if onPanic != nil {
					onPanic(r)
				}
			}
		}()
		fn()
	}()
}
