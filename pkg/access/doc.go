// Package access decides access requests and administers the data behind them.
//
// A Controller ties together the role store, the policy engine, a decision
// cache and an audit sink:
//
//	controller, err := access.New(access.Options{DB: db, Logger: logger})
//	if err != nil {
//		return err
//	}
//	if err := controller.Init(ctx); err != nil {
//		return err
//	}
//	defer controller.Shutdown(ctx)
//
//	result, message := controller.CheckAccess(ctx, access.AccessRequest{
//		UserID:   userID,
//		Resource: "reports",
//		Action:   "export",
//	})
//
// # Decisions
//
// A user holds (resource, action) when one of their active, unexpired roles
// holds it directly or sits above a role that does. Active policies are
// evaluated alongside: a matching DENY overrides any grant, and a matching
// ALLOW grants access the roles do not. Every decision, including failures, is
// appended to the audit sink. Failures deny.
//
// # Administration
//
// Mutations go through the Controller so the decision cache stays consistent.
// Changes to one user's assignments drop that user's cached decisions; changes
// to roles, grants or the hierarchy drop everything. Policy changes reload the
// policy snapshot on the next decision.
//
// StartSweeper schedules CleanupExpiredAssignments on a cron schedule, and
// ApplySeed loads a YAML document of roles, permissions, grants and policies
// idempotently.
//
// # HTTP
//
// Handlers exposes the controller as a JSON API under /v1. RequirePermission
// and Guard protect other handlers and operations with a single check.
package access
