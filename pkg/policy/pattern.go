package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/platinummonkey/rolegate/pkg/rbac"
)

var patternChars = regexp.MustCompile(`^[A-Za-z0-9._:/*-]+$`)

// CompilePattern turns a resource pattern into an anchored matcher. Every
// character except '*' is literal and '*' matches any sequence. A pattern ending
// in ".*" also matches the bare parent, so "finance.*" matches "finance" and
// "finance.reports" but not "financial".
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	if !patternChars.MatchString(pattern) {
		return nil, &rbac.ValidationError{
			Field:   "resource_pattern",
			Message: fmt.Sprintf("malformed pattern %q", pattern),
		}
	}

	var expr string
	if head, ok := strings.CutSuffix(pattern, ".*"); ok && head != "" {
		expr = translate(head) + `(\..*)?`
	} else {
		expr = translate(pattern)
	}

	re, err := regexp.Compile("^" + expr + "$")
	if err != nil {
		return nil, &rbac.ValidationError{Field: "resource_pattern", Message: err.Error()}
	}
	return re, nil
}

func translate(pattern string) string {
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return strings.Join(parts, ".*")
}

// compiledPolicy pairs a policy with its matcher
type compiledPolicy struct {
	policy  Policy
	matcher *regexp.Regexp
	actions map[string]struct{}
	context map[string][]byte
}

func compile(p Policy) (*compiledPolicy, error) {
	re, err := CompilePattern(p.ResourcePattern)
	if err != nil {
		return nil, err
	}

	cp := &compiledPolicy{policy: p, matcher: re}
	if len(p.Conditions.Actions) > 0 {
		cp.actions = make(map[string]struct{}, len(p.Conditions.Actions))
		for _, a := range p.Conditions.Actions {
			cp.actions[a] = struct{}{}
		}
	}
	if len(p.Conditions.Context) > 0 {
		cp.context = make(map[string][]byte, len(p.Conditions.Context))
		for k, v := range p.Conditions.Context {
			b, err := json.Marshal(v)
			if err != nil {
				return nil, &rbac.ValidationError{Field: "conditions", Message: fmt.Sprintf("context %q: %v", k, err)}
			}
			cp.context[k] = b
		}
	}
	return cp, nil
}

// matches reports whether the policy applies to the request. Context values are
// compared by their JSON encoding so 1 and 1.0 are equal.
func (cp *compiledPolicy) matches(resource, action string, reqCtx map[string]interface{}) bool {
	if !cp.matcher.MatchString(resource) {
		return false
	}
	if cp.actions != nil {
		if _, ok := cp.actions[action]; !ok {
			return false
		}
	}
	for k, want := range cp.context {
		got, ok := reqCtx[k]
		if !ok {
			return false
		}
		b, err := json.Marshal(got)
		if err != nil || !bytes.Equal(b, want) {
			return false
		}
	}
	return true
}
