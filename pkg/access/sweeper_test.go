package access

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSweeper_Schedule(t *testing.T) {
	env := newTestEnv(t)

	s, err := NewSweeper(env.controller, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultSweepSchedule, s.schedule)

	_, err = NewSweeper(env.controller, "every tuesday")
	assert.Error(t, err)
}

func TestSweeper_RunOnce(t *testing.T) {
	env := newTestEnv(t)
	c := env.controller
	ctx := context.Background()
	o := buildOrg(t, c)

	expires := testEpoch.Add(30 * time.Minute)
	for _, userID := range []int64{1, 2} {
		_, err := c.AssignRoleToUser(ctx, userID, o.employee, 1, &expires)
		require.NoError(t, err)
	}
	assign(t, c, 3, o.employee)

	s, err := NewSweeper(c, "@every 1h")
	require.NoError(t, err)

	n, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	env.clock.Advance(time.Hour)
	n, err = s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	roles, err := c.GetUserRoles(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, roles, 1)
}

func TestSweeper_StartStop(t *testing.T) {
	env := newTestEnv(t)

	s, err := NewSweeper(env.controller, "@every 1h")
	require.NoError(t, err)

	require.NoError(t, s.Start())
	assert.Error(t, s.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))
}

func TestController_StartSweeper(t *testing.T) {
	env := newTestEnv(t)
	c := env.controller

	_, err := c.StartSweeper("@every 1h")
	require.NoError(t, err)

	_, err = c.StartSweeper("@every 1h")
	assert.Error(t, err, "one sweeper per controller")

	require.NoError(t, c.Shutdown(context.Background()))

	_, err = c.StartSweeper("@every 1h")
	assert.Error(t, err, "shut down controller")
}

func TestCronLogger_Pairs(t *testing.T) {
	fields := pairs([]interface{}{"entry", 1, "next", "soon", "dangling"})
	assert.Equal(t, map[string]interface{}{"entry": 1, "next": "soon"}, fields)
}
