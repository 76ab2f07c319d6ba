package access

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/rolegate/pkg/audit"
	"github.com/platinummonkey/rolegate/pkg/contextkeys"
	"github.com/platinummonkey/rolegate/pkg/httputil"
)

// ResourceVar is the route variable RequirePermission reads when no fixed
// resource is given
const ResourceVar = "resource"

// Checker decides access requests. *Controller implements it.
type Checker interface {
	CheckAccess(ctx context.Context, req AccessRequest) (audit.Result, string)
}

// PermissionDeniedError is returned by a Guard when access is not granted
type PermissionDeniedError struct {
	UserID   int64
	Resource string
	Action   string
	Result   audit.Result
	Message  string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission denied: user %d may not %s %s: %s", e.UserID, e.Action, e.Resource, e.Message)
}

// Interceptor runs before a protected operation and returns an error to stop it
type Interceptor func(ctx context.Context, userID int64, data map[string]interface{}) error

// Guard returns an interceptor requiring (resource, action). Compose it once per
// protected operation:
//
//	guard := access.Guard(controller, "reports", "export")
//	if err := guard(ctx, userID, nil); err != nil {
//		return err
//	}
func Guard(checker Checker, resource, action string) Interceptor {
	return func(ctx context.Context, userID int64, data map[string]interface{}) error {
		result, message := checker.CheckAccess(ctx, AccessRequest{
			UserID:   userID,
			Resource: resource,
			Action:   action,
			Context:  data,
		})
		if result != audit.ResultGranted {
			return &PermissionDeniedError{
				UserID:   userID,
				Resource: resource,
				Action:   action,
				Result:   result,
				Message:  message,
			}
		}
		return nil
	}
}

// WithUserID stores the authenticated user id for RequirePermission
func WithUserID(ctx context.Context, userID int64) context.Context {
	return contextkeys.WithUserID(ctx, userID)
}

// UserIDFromContext returns the user id stored by WithUserID
func UserIDFromContext(ctx context.Context) (int64, bool) {
	return contextkeys.GetUserID(ctx)
}

// RequirePermission creates middleware that requires action on resource. An
// empty resource is taken from the {resource} route variable. Route variables
// are passed to the policy engine as request context.
func RequirePermission(checker Checker, resource, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := UserIDFromContext(r.Context())
			if !ok {
				httputil.WriteUnauthorized(w, "Authentication required")
				return
			}

			vars := mux.Vars(r)
			target := resource
			if target == "" {
				target = vars[ResourceVar]
			}
			if target == "" {
				httputil.WriteBadRequest(w, "Resource required")
				return
			}

			data := make(map[string]interface{}, len(vars))
			for k, v := range vars {
				data[k] = v
			}

			result, message := checker.CheckAccess(r.Context(), AccessRequest{
				UserID:    userID,
				Resource:  target,
				Action:    action,
				Context:   data,
				IPAddress: clientIP(r),
				UserAgent: r.UserAgent(),
			})
			if result != audit.ResultGranted {
				httputil.WriteForbidden(w, message)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// UserIDFromHeader creates middleware that trusts an upstream proxy's header
// for the caller's user id. Requests without a valid id pass through
// unauthenticated.
func UserIDFromHeader(header string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if raw := r.Header.Get(header); raw != "" {
				if userID, err := strconv.ParseInt(raw, 10, 64); err == nil && userID > 0 {
					r = r.WithContext(WithUserID(r.Context(), userID))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
