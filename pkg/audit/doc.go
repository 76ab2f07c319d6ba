// Package audit records access decisions.
//
// # Overview
//
// Every access check produces exactly one AccessLogEntry carrying the user,
// resource, action, result and the caller's request context. Entries are
// append-only and flow through a Sink.
//
// # Sinks
//
//   - DBLogger writes to the access_log table created by GetMigrations and
//     answers QueryStatistics and Search.
//   - FileLogger writes JSON lines to access.log with optional size based
//     rotation.
//   - MultiLogger fans out to several sinks synchronously.
//
// # Usage
//
//	sink := audit.NewMultiLogger(audit.NewDBLogger(db, nil), fileLogger)
//	entry := audit.NewEntry(userID, "reports", "read", audit.ResultGranted)
//	entry.IPAddress = r.RemoteAddr
//	if err := sink.Append(ctx, entry); err != nil {
//		log.WithError(err).Error("audit write failed")
//	}
//
// Statistics over the last week for one user:
//
//	stats, err := dbLogger.QueryStatistics(ctx, &userID, 7)
//
// # Export
//
// Search results can be exported as JSON, NDJSON or CSV with Export.
package audit
