// Package condition provides the stock operation.Condition implementations:
// the Negated, Silent and MutuallyExclusive combinators, the
// NoCancelledDependencies guard, closure-backed conditions and a filesystem
// condition that waits for a path to appear.
package condition
