package safego

import (
	"time"

	"go.uber.org/zap"
)

// Go launches a goroutine with panic recovery.
// If the goroutine panics, the panic value is logged and the goroutine exits
// cleanly instead of crashing the process.
//
// Usage:
//
//	safego.Go(logger, "cleanup-loop", func() {
//	    // work that might panic
//	})
func Go(logger *zap.Logger, name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Goroutine panicked",
					zap.String("goroutine", name),
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
			}
		}()
		fn()
	}()
}

// Every launches a panic-isolated goroutine that calls fn once immediately
// and then on every tick of interval, until stop is closed.
//
// Usage:
//
//	stop := make(chan struct{})
//	safego.Every(logger, "pattern-miner", time.Hour, stop, func() { _ = miner.RunOnce(time.Now()) })
func Every(logger *zap.Logger, name string, interval time.Duration, stop <-chan struct{}, fn func()) {
	Go(logger, name, func() {
		fn()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				func() {
					defer func() {
						if r := recover(); r != nil {
							logger.Error("Tick panicked",
								zap.String("goroutine", name),
								zap.Any("panic", r),
								zap.Stack("stack"),
							)
						}
					}()
					fn()
				}()
			}
		}
	})
}
