// Package httputil provides the JSON response helpers, request parsing and
// middleware shared by the rolegate HTTP surface.
//
// Store errors map onto status codes in one place:
//
//	if err != nil {
//		httputil.WriteStoreError(w, err) // 400, 404 or 503
//		return
//	}
//
// Middleware:
//
//	handler := httputil.Chain(
//		httputil.RecoveryMiddleware(logger),
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//	)(router)
package httputil
