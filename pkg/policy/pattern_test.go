package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/rolegate/pkg/rbac"
)

func TestCompilePattern(t *testing.T) {
	tests := []struct {
		pattern  string
		resource string
		want     bool
	}{
		{"finance.*", "finance", true},
		{"finance.*", "finance.report", true},
		{"finance.*", "finance.q1.close", true},
		{"finance.*", "financial", false},
		{"finance.*", "hr.finance", false},
		{"docs", "docs", true},
		{"docs", "docs2", false},
		{"*", "anything/at:all", true},
		{"docs/*/read", "docs/a/read", true},
		{"docs/*/read", "docs/a/b/read", true},
		{"docs/*/read", "docs/read", false},
		{"a.b", "aXb", false},
		{"api:*", "api:users", true},
		{"*.admin", "system.admin", true},
		{"*.admin", "system.admins", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"~"+tt.resource, func(t *testing.T) {
			re, err := CompilePattern(tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, tt.want, re.MatchString(tt.resource))
		})
	}
}

func TestCompilePattern_Malformed(t *testing.T) {
	for _, pattern := range []string{"", "finance (all)", "a+b", "x?", "[abc]", "a$"} {
		t.Run(pattern, func(t *testing.T) {
			_, err := CompilePattern(pattern)
			assert.ErrorIs(t, err, rbac.ErrValidation)
		})
	}
}

func TestCompiledPolicy_Conditions(t *testing.T) {
	cp, err := compile(Policy{
		Name:            "weekday-finance",
		ResourcePattern: "finance.*",
		Effect:          EffectDeny,
		Conditions: Conditions{
			Actions: []string{"report", "export"},
			Context: map[string]interface{}{"department": "sales", "level": 2},
		},
	})
	require.NoError(t, err)

	matching := map[string]interface{}{"department": "sales", "level": 2.0, "extra": true}

	assert.True(t, cp.matches("finance", "report", matching))
	assert.True(t, cp.matches("finance.q1", "export", matching))
	assert.False(t, cp.matches("finance", "read", matching), "action not listed")
	assert.False(t, cp.matches("finance", "report", map[string]interface{}{"department": "sales"}), "missing key")
	assert.False(t, cp.matches("finance", "report", map[string]interface{}{"department": "ops", "level": 2}), "value differs")
	assert.False(t, cp.matches("finance", "report", nil))
}
