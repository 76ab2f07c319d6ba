package access

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/rolegate/pkg/audit"
	"github.com/platinummonkey/rolegate/pkg/cache"
	"github.com/platinummonkey/rolegate/pkg/observability"
	"github.com/platinummonkey/rolegate/pkg/policy"
	"github.com/platinummonkey/rolegate/pkg/rbac"
)

// DefaultStoreTimeout bounds every store call made by the controller
const DefaultStoreTimeout = 5 * time.Second

// MessageCheckFailed is returned by CheckAccess when the decision could not be computed
const MessageCheckFailed = "access check failed"

// Options configures a Controller. Only DB is required.
type Options struct {
	DB      *sql.DB
	Dialect rbac.Dialect

	// Cache memoizes permission lookups. Defaults to a MemoryCache.
	Cache cache.Cache

	// Audit receives one entry per CheckAccess call. Defaults to a DBLogger on DB.
	Audit audit.Sink

	Logger   *observability.Logger
	Recorder observability.Recorder
	Tracer   trace.Tracer
	Clock    rbac.Clock

	// StoreTimeout bounds each store call and each access decision
	StoreTimeout time.Duration
}

// AccessRequest is one access decision request
type AccessRequest struct {
	UserID    int64                  `json:"user_id"`
	Resource  string                 `json:"resource"`
	Action    string                 `json:"action"`
	Context   map[string]interface{} `json:"context,omitempty"`
	IPAddress string                 `json:"ip_address,omitempty"`
	UserAgent string                 `json:"user_agent,omitempty"`
}

// Controller decides access requests and runs administrative changes against
// the role, permission and policy stores, keeping the decision cache and the
// policy snapshot consistent with them.
type Controller struct {
	db      *sql.DB
	dialect rbac.Dialect

	roles    *rbac.Store
	policies *policy.Store
	engine   *policy.Engine
	cache    cache.Cache
	audit    audit.Sink
	auditDB  *audit.DBLogger

	logger   *observability.Logger
	recorder observability.Recorder
	tracer   trace.Tracer
	clock    rbac.Clock
	timeout  time.Duration

	mu      sync.Mutex
	sweeper *Sweeper
	closed  bool
}

// New builds a controller from opts. Call Init before serving requests.
func New(opts Options) (*Controller, error) {
	if opts.DB == nil {
		return nil, errors.New("access: database handle is required")
	}
	if opts.Dialect == "" {
		opts.Dialect = rbac.DialectPostgres
	}
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}
	if opts.Recorder == nil {
		opts.Recorder = observability.NopRecorder{}
	}
	if opts.Tracer == nil {
		opts.Tracer = observability.Tracer()
	}
	if opts.Clock == nil {
		opts.Clock = rbac.SystemClock{}
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	if opts.Cache == nil {
		opts.Cache = cache.NewMemoryCache(&cache.Config{Recorder: opts.Recorder})
	}

	auditDB := audit.NewDBLogger(opts.DB, opts.Clock)
	if opts.Audit == nil {
		opts.Audit = auditDB
	}

	policies := policy.NewStore(opts.DB, opts.Clock)
	return &Controller{
		db:       opts.DB,
		dialect:  opts.Dialect,
		roles:    rbac.NewStore(opts.DB, rbac.WithClock(opts.Clock)),
		policies: policies,
		engine:   policy.NewEngine(policies),
		cache:    opts.Cache,
		audit:    opts.Audit,
		auditDB:  auditDB,
		logger:   opts.Logger.WithField("component", "access"),
		recorder: opts.Recorder,
		tracer:   opts.Tracer,
		clock:    opts.Clock,
		timeout:  opts.StoreTimeout,
	}, nil
}

// Migrations returns every schema migration the controller depends on
func Migrations() []rbac.Migration {
	var all []rbac.Migration
	all = append(all, rbac.GetMigrations()...)
	all = append(all, policy.GetMigrations()...)
	all = append(all, audit.GetMigrations()...)
	return all
}

// Init applies migrations and loads the policy snapshot
func (c *Controller) Init(ctx context.Context) error {
	if err := rbac.RunMigrations(ctx, c.db, c.dialect, Migrations()...); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	ctx, cancel := c.storeContext(ctx)
	defer cancel()
	if err := c.engine.Load(ctx); err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	c.logger.WithField("policies", c.engine.Len()).Info("Access controller initialized")
	return nil
}

// Shutdown stops the sweeper and closes the cache and audit sink. The database
// handle belongs to the caller and is left open.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sweeper := c.sweeper
	c.sweeper = nil
	c.mu.Unlock()

	var errs []error
	if sweeper != nil {
		if err := sweeper.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop sweeper: %w", err))
		}
	}
	if err := c.cache.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close cache: %w", err))
	}
	if err := c.audit.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close audit sink: %w", err))
	}
	return errors.Join(errs...)
}

// Roles returns the role, permission and assignment store
func (c *Controller) Roles() *rbac.Store { return c.roles }

// Policies returns the policy store
func (c *Controller) Policies() *policy.Store { return c.policies }

// AuditLog returns the database audit log used for statistics and search
func (c *Controller) AuditLog() *audit.DBLogger { return c.auditDB }

// Cache returns the decision cache
func (c *Controller) Cache() cache.Cache { return c.cache }

func (c *Controller) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// CheckAccess decides whether userID may perform action on resource. It never
// returns an error: any failure is recorded in the access log and the request
// is denied.
func (c *Controller) CheckAccess(ctx context.Context, req AccessRequest) (audit.Result, string) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "access.CheckAccess", trace.WithAttributes(
		attribute.Int64("rolegate.user_id", req.UserID),
		attribute.String("rolegate.resource", req.Resource),
		attribute.String("rolegate.action", req.Action),
	))
	defer span.End()

	result, message, err := c.decide(ctx, req)

	entry := audit.NewEntry(req.UserID, req.Resource, req.Action, result)
	entry.IPAddress = req.IPAddress
	entry.UserAgent = req.UserAgent
	for k, v := range req.Context {
		entry.Context[k] = v
	}
	if rid, ok := audit.RequestIDFromContext(ctx); ok {
		if id, perr := uuid.Parse(rid); perr == nil {
			entry.RequestID = id
		}
	}

	if err != nil {
		errorType := "storage"
		if errors.Is(err, rbac.ErrValidation) {
			errorType = "validation"
		} else {
			var sErr *rbac.StorageError
			op := "check access"
			if errors.As(err, &sErr) {
				op = sErr.Op
			}
			c.recorder.RecordStorageError(op)
		}
		entry.Context["error"] = err.Error()
		entry.Context["error_type"] = errorType

		span.RecordError(err)
		span.SetStatus(codes.Error, message)
		observability.WithTraceContext(ctx, c.logger).
			WithError(err).
			WithFields(map[string]interface{}{
				"user_id":  req.UserID,
				"resource": req.Resource,
				"action":   req.Action,
			}).
			Error("Access check failed closed")
	}

	// The request deadline may already have passed; the audit write gets its own.
	auditCtx, cancel := c.storeContext(context.WithoutCancel(ctx))
	defer cancel()
	if aerr := c.audit.Append(auditCtx, entry); aerr != nil {
		c.recorder.RecordAuditWriteError()
		c.logger.WithError(aerr).WithField("request_id", entry.RequestID.String()).Warn("Failed to write access log entry")
	}

	c.recorder.RecordDecision(string(result))
	c.recorder.ObserveCheckDuration(time.Since(start))
	span.SetAttributes(attribute.String("rolegate.result", string(result)))
	return result, message
}

func (c *Controller) decide(ctx context.Context, req AccessRequest) (audit.Result, string, error) {
	if req.Resource == "" || req.Action == "" {
		return audit.ResultDenied, "invalid access request",
			&rbac.ValidationError{Message: "resource and action are required"}
	}

	ctx, cancel := c.storeContext(ctx)
	defer cancel()

	var granted bool
	var decision policy.Decision

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		granted, err = c.cache.GetOrCompute(gctx, req.UserID, req.Resource, req.Action, func(ctx context.Context) (bool, error) {
			return c.hasPermission(ctx, req.UserID, req.Resource, req.Action)
		})
		return err
	})
	g.Go(func() error {
		var err error
		decision, err = c.engine.Evaluate(gctx, req.Resource, req.Action, req.Context)
		return err
	})
	if err := g.Wait(); err != nil {
		if !errors.Is(err, rbac.ErrStorage) {
			err = &rbac.StorageError{Op: "check access", Err: err}
		}
		return audit.ResultDenied, MessageCheckFailed, err
	}

	switch {
	case decision.Verdict == policy.VerdictDeny:
		return audit.ResultDenied, fmt.Sprintf("denied by policy %q", decision.Policy.Name), nil
	case granted:
		return audit.ResultGranted, "access granted", nil
	case decision.Verdict == policy.VerdictAllow:
		return audit.ResultGranted, fmt.Sprintf("allowed by policy %q", decision.Policy.Name), nil
	default:
		return audit.ResultDenied, "no matching permission", nil
	}
}

// hasPermission reports whether one of the user's roles holds (resource, action)
// either directly or through a role below it. A role holding the grant passes it
// up to every role on its ResolveAncestors chain.
func (c *Controller) hasPermission(ctx context.Context, userID int64, resource, action string) (bool, error) {
	roles, err := c.roles.GetUserRoles(ctx, userID)
	if err != nil {
		return false, err
	}
	if len(roles) == 0 {
		return false, nil
	}

	held := make(map[int64]bool, len(roles))
	for _, r := range roles {
		held[r.ID] = true
	}

	granting, err := c.roles.RolesGranting(ctx, resource, action)
	if err != nil {
		return false, err
	}
	for _, roleID := range granting {
		if held[roleID] {
			return true, nil
		}
		chain, err := c.roles.ResolveAncestors(ctx, roleID)
		if err != nil {
			return false, err
		}
		for _, id := range chain {
			if held[id] {
				return true, nil
			}
		}
	}
	return false, nil
}

// EffectivePermissions lists every permission the user holds through their
// active roles and the roles below them, ordered by resource then action.
func (c *Controller) EffectivePermissions(ctx context.Context, userID int64) ([]rbac.Permission, error) {
	ctx, cancel := c.storeContext(ctx)
	defer cancel()

	roles, err := c.roles.GetUserRoles(ctx, userID)
	if err != nil {
		return nil, err
	}

	expanded := make(map[int64]bool)
	for _, r := range roles {
		below, err := c.roles.ResolveDescendants(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		for _, id := range below {
			expanded[id] = true
		}
	}

	seen := make(map[int64]bool)
	var perms []rbac.Permission
	for roleID := range expanded {
		direct, err := c.roles.GetRolePermissions(ctx, roleID)
		if err != nil {
			return nil, err
		}
		for _, p := range direct {
			if !seen[p.ID] {
				seen[p.ID] = true
				perms = append(perms, p)
			}
		}
	}

	sort.Slice(perms, func(i, j int) bool {
		if perms[i].Resource != perms[j].Resource {
			return perms[i].Resource < perms[j].Resource
		}
		return perms[i].Action < perms[j].Action
	})
	return perms, nil
}

// GetAccessStatistics summarizes the access log over the last days days,
// optionally for one user
func (c *Controller) GetAccessStatistics(ctx context.Context, userID *int64, days int) (*audit.Stats, error) {
	ctx, cancel := c.storeContext(ctx)
	defer cancel()
	return c.auditDB.QueryStatistics(ctx, userID, days)
}
