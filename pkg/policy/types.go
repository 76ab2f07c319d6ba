package policy

import (
	"time"
)

// Effect is the verdict a matching policy forces
type Effect string

const (
	EffectAllow Effect = "ALLOW"
	EffectDeny  Effect = "DENY"
)

// Valid reports whether e is ALLOW or DENY
func (e Effect) Valid() bool {
	return e == EffectAllow || e == EffectDeny
}

// Verdict is the outcome of evaluating the active policies
type Verdict string

const (
	VerdictAllow   Verdict = "ALLOW"
	VerdictDeny    Verdict = "DENY"
	VerdictAbstain Verdict = "ABSTAIN"
)

// Conditions narrow where a policy applies. Empty fields impose no constraint.
type Conditions struct {
	Actions []string               `json:"actions,omitempty" yaml:"actions,omitempty"`
	Context map[string]interface{} `json:"context,omitempty" yaml:"context,omitempty"`
}

// Policy is a resource-pattern rule that forces ALLOW or DENY
type Policy struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name" validate:"required,max=100"`
	ResourcePattern string     `json:"resource_pattern" validate:"required,max=255"`
	Conditions      Conditions `json:"conditions"`
	Effect          Effect     `json:"effect" validate:"required,oneof=ALLOW DENY"`
	Priority        int        `json:"priority"`
	IsActive        bool       `json:"is_active"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Decision is the engine's answer for one request. Policy is set to the
// matching policy unless the verdict is ABSTAIN.
type Decision struct {
	Verdict Verdict
	Policy  *Policy
}

// Abstain is the decision when no active policy matches
var Abstain = Decision{Verdict: VerdictAbstain}
