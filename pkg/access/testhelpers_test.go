package access

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/rolegate/pkg/audit"
	"github.com/platinummonkey/rolegate/pkg/cache"
	"github.com/platinummonkey/rolegate/pkg/observability"
	"github.com/platinummonkey/rolegate/pkg/rbac"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	controller *Controller
	clock      *rbac.ManualClock
	cache      *countingCache
	recorder   *countingRecorder
}

// newTestEnv builds a controller over a migrated in-memory database with a
// manual clock, an instrumented memory cache and the default database audit log.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := rbac.OpenTestSQLite(t, Migrations()...)
	clock := rbac.NewManualClock(testEpoch)
	rec := &countingRecorder{}
	c := &countingCache{Cache: cache.NewMemoryCache(&cache.Config{Recorder: rec})}

	controller, err := New(Options{
		DB:       db,
		Dialect:  rbac.DialectSQLite,
		Cache:    c,
		Recorder: rec,
		Clock:    clock,
	})
	require.NoError(t, err)
	require.NoError(t, controller.Init(context.Background()))
	t.Cleanup(func() { controller.Shutdown(context.Background()) })

	return &testEnv{controller: controller, clock: clock, cache: c, recorder: rec}
}

// org is the role tree used across tests:
//
//	ceo
//	├── manager
//	│   └── employee
//	└── auditor
type org struct {
	ceo, manager, employee, auditor int64
}

func buildOrg(t *testing.T, c *Controller) org {
	t.Helper()
	ctx := context.Background()

	var o org
	var err error
	o.ceo, err = c.CreateRole(ctx, "ceo", "Chief executive", nil)
	require.NoError(t, err)
	o.manager, err = c.CreateRole(ctx, "manager", "", &o.ceo)
	require.NoError(t, err)
	o.employee, err = c.CreateRole(ctx, "employee", "", &o.manager)
	require.NoError(t, err)
	o.auditor, err = c.CreateRole(ctx, "auditor", "", &o.ceo)
	require.NoError(t, err)

	grant(t, c, o.employee, "docs", "read")
	grant(t, c, o.manager, "reports", "write")
	grant(t, c, o.ceo, "system", "admin")
	grant(t, c, o.auditor, "finance.ledger", "read")
	return o
}

func grant(t *testing.T, c *Controller, roleID int64, resource, action string) int64 {
	t.Helper()
	ctx := context.Background()
	permID, err := c.CreatePermission(ctx, resource, action, "")
	require.NoError(t, err)
	_, err = c.AssignPermissionToRole(ctx, roleID, permID, 1)
	require.NoError(t, err)
	return permID
}

func assign(t *testing.T, c *Controller, userID, roleID int64) {
	t.Helper()
	_, err := c.AssignRoleToUser(context.Background(), userID, roleID, 1, nil)
	require.NoError(t, err)
}

func check(c *Controller, userID int64, resource, action string) audit.Result {
	result, _ := c.CheckAccess(context.Background(), AccessRequest{UserID: userID, Resource: resource, Action: action})
	return result
}

// countingCache counts invalidations on top of a real cache
type countingCache struct {
	cache.Cache
	userCalls atomic.Int64
	allCalls  atomic.Int64
}

func (c *countingCache) InvalidateUser(ctx context.Context, userID int64) error {
	c.userCalls.Add(1)
	return c.Cache.InvalidateUser(ctx, userID)
}

func (c *countingCache) InvalidateAll(ctx context.Context) error {
	c.allCalls.Add(1)
	return c.Cache.InvalidateAll(ctx)
}

func (c *countingCache) reset() {
	c.userCalls.Store(0)
	c.allCalls.Store(0)
}

type countingRecorder struct {
	observability.NopRecorder

	mu            sync.Mutex
	decisions     map[string]int
	swept         int64
	auditFailures int
	storageOps    []string
}

func (r *countingRecorder) RecordDecision(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.decisions == nil {
		r.decisions = make(map[string]int)
	}
	r.decisions[result]++
}

func (r *countingRecorder) AddSwept(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.swept += n
}

func (r *countingRecorder) RecordAuditWriteError() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.auditFailures++
}

func (r *countingRecorder) RecordStorageError(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.storageOps = append(r.storageOps, op)
}

// recordingSink keeps appended entries in memory
type recordingSink struct {
	mu      sync.Mutex
	entries []*audit.AccessLogEntry
	fail    bool
	closed  bool
}

func (s *recordingSink) Append(ctx context.Context, entry *audit.AccessLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink unavailable")
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) last() *audit.AccessLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return nil
	}
	return s.entries[len(s.entries)-1]
}
