package async

import (
	"context"
	"time"

	"github.com/platinummonkey/rolegate/pkg/observability"
)

// SafeGo runs fn in a goroutine with panic recovery and error logging. A
// positive timeout bounds fn's context. The returned channel is closed when fn
// returns.
//
// Use this instead of bare `go func()` for background work.
//
//	async.SafeGo(ctx, logger, 10*time.Second, "seed reload", func(ctx context.Context) error {
//		_, err := controller.ApplySeed(ctx, doc, 0)
//		return err
//	})
func SafeGo(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer observability.RecoverPanic(logger, taskName)

		ctx, cancel := withOptionalTimeout(parentCtx, timeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			logger.WithError(err).WithField("task", taskName).Error("Background task failed")
		}
	}()
	return done
}

// SafeGoNoError is like SafeGo for functions that don't return errors
func SafeGoNoError(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context)) <-chan struct{} {
	return SafeGo(parentCtx, logger, timeout, taskName, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

func withOptionalTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
