// Package filter evaluates ordered predicate pipelines over in-memory
// entity sets. It backs cohort (account) and metric (question) resolution
// for matrix scoring.
//
// A pipeline starts from the full original set and threads a working set
// through each predicate in order. Selectors act on the result of the
// previous step; only Reinclude and IncludeAll consult the original set.
// Unknown operators and selectors are explicit no-op variants so a filter
// builder UI can hold invalid intermediate states without breaking
// evaluation.
package filter

import (
	"strings"
)

// Operator is the closed set of string comparisons a predicate can apply.
// Field values are coerced to text before comparison.
type Operator int

const (
	OperatorUnknown Operator = iota
	OperatorEquals
	OperatorStartsWith
	OperatorEndsWith
	OperatorContains
)

func ParseOperator(name string) Operator {
	switch name {
	case "equals":
		return OperatorEquals
	case "startsWith":
		return OperatorStartsWith
	case "endsWith":
		return OperatorEndsWith
	case "contains":
		return OperatorContains
	}
	return OperatorUnknown
}

func (op Operator) String() string {
	switch op {
	case OperatorEquals:
		return "equals"
	case OperatorStartsWith:
		return "startsWith"
	case OperatorEndsWith:
		return "endsWith"
	case OperatorContains:
		return "contains"
	}
	return "unknown"
}

// Match applies the comparison. The unknown variant matches nothing.
func (op Operator) Match(value, operand string) bool {
	switch op {
	case OperatorEquals:
		return value == operand
	case OperatorStartsWith:
		return strings.HasPrefix(value, operand)
	case OperatorEndsWith:
		return strings.HasSuffix(value, operand)
	case OperatorContains:
		return strings.Contains(value, operand)
	}
	return false
}

// Selector is the closed set of ways a predicate's matches combine with the
// working set.
type Selector int

const (
	SelectorUnknown Selector = iota
	SelectorRemoveMatching
	SelectorKeepMatching
	SelectorReinclude
	SelectorIncludeAll
	SelectorRemoveAll
)

func ParseSelector(name string) Selector {
	switch name {
	case "removematching":
		return SelectorRemoveMatching
	case "keepmatching":
		return SelectorKeepMatching
	case "reinclude":
		return SelectorReinclude
	case "includeall":
		return SelectorIncludeAll
	case "removeall":
		return SelectorRemoveAll
	}
	return SelectorUnknown
}

func (s Selector) String() string {
	switch s {
	case SelectorRemoveMatching:
		return "removematching"
	case SelectorKeepMatching:
		return "keepmatching"
	case SelectorReinclude:
		return "reinclude"
	case SelectorIncludeAll:
		return "includeall"
	case SelectorRemoveAll:
		return "removeall"
	}
	return "unknown"
}

// Predicate is one pipeline step.
type Predicate struct {
	Operator Operator
	Operand  string
	Field    string
	Selector Selector
}

// FieldFunc coerces a named attribute of an entity to text.
type FieldFunc[T comparable] func(entity T, field string) string

// Step applies a single predicate, returning the new working set. The
// original set is consulted only by Reinclude and IncludeAll. Inputs are
// never mutated and the returned set preserves original-set order.
func Step[T comparable](original, current []T, pred Predicate, field FieldFunc[T]) []T {
	matches := func(e T) bool {
		return pred.Operator.Match(field(e, pred.Field), pred.Operand)
	}

	switch pred.Selector {
	case SelectorRemoveMatching:
		next := make([]T, 0, len(current))
		for _, e := range current {
			if !matches(e) {
				next = append(next, e)
			}
		}
		return next

	case SelectorKeepMatching:
		next := make([]T, 0, len(current))
		for _, e := range current {
			if matches(e) {
				next = append(next, e)
			}
		}
		return next

	case SelectorReinclude:
		inCurrent := make(map[T]bool, len(current))
		for _, e := range current {
			inCurrent[e] = true
		}
		next := make([]T, 0, len(original))
		for _, e := range original {
			if inCurrent[e] || matches(e) {
				next = append(next, e)
			}
		}
		return next

	case SelectorIncludeAll:
		next := make([]T, len(original))
		copy(next, original)
		return next

	case SelectorRemoveAll:
		return []T{}
	}

	// Unknown selector: the step is a no-op, not an error.
	return current
}

// Evaluate folds a whole pipeline over the original set. An empty pipeline
// resolves to the full original set.
func Evaluate[T comparable](original []T, preds []Predicate, field FieldFunc[T]) []T {
	current := make([]T, len(original))
	copy(current, original)
	for _, pred := range preds {
		current = Step(original, current, pred, field)
	}
	return current
}
