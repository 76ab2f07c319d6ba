// Package async runs background work without letting it crash the process.
//
// SafeGo starts a goroutine that recovers panics, logs returned errors and
// optionally bounds the work with a timeout:
//
//	done := async.SafeGo(ctx, logger, 30*time.Second, "seed reload", func(ctx context.Context) error {
//		return reload(ctx)
//	})
//	<-done
//
// The seed file watcher and the HTTP servers in cmd/rolegate are started this way.
package async
