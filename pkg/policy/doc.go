// Package policy stores and evaluates resource-pattern override rules.
//
// A policy forces ALLOW or DENY for every request whose resource matches its
// pattern and whose action and context satisfy its conditions. Policies are
// evaluated by priority, highest first, with ties broken by creation order; the
// first match wins and no match yields ABSTAIN.
//
// Patterns use '*' as the only wildcard. All other characters are literal, and a
// trailing ".*" also covers the parent resource itself:
//
//	finance.*     matches finance, finance.report, finance.q1.close
//	docs/*/read   matches docs/a/read, docs/a/b/read
//
// The Engine caches compiled policies until Invalidate is called, which callers
// do after every policy mutation.
package policy
