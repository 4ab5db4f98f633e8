package port

import (
	"fmt"
	"regexp"
)

// FilterOp is a comparison operator of a source filter.
type FilterOp string

const (
	OpGreaterThan    FilterOp = ">"
	OpGreaterOrEqual FilterOp = ">="
	OpLessThan       FilterOp = "<"
	OpLessOrEqual    FilterOp = "<="
	OpEqual          FilterOp = "="
	OpNotEqual       FilterOp = "<>"
)

var validOps = map[FilterOp]bool{
	OpGreaterThan:    true,
	OpGreaterOrEqual: true,
	OpLessThan:       true,
	OpLessOrEqual:    true,
	OpEqual:          true,
	OpNotEqual:       true,
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Filter is a single comparison applied by a PagedSource to every page.
// The zero Filter matches every record.
type Filter struct {
	Field string
	Op    FilterOp
	Value interface{}
}

// IsZero reports whether f is the empty filter.
func (f Filter) IsZero() bool {
	return f.Field == ""
}

// Validate checks the operator and that Field is a plain column identifier.
func (f Filter) Validate() error {
	if f.IsZero() {
		return nil
	}
	if !identifierPattern.MatchString(f.Field) {
		return fmt.Errorf("invalid filter field %q", f.Field)
	}
	if !validOps[f.Op] {
		return fmt.Errorf("invalid filter operator %q", f.Op)
	}
	if f.Value == nil {
		return fmt.Errorf("filter on %q has no value", f.Field)
	}
	return nil
}

// Clause renders f as a parameterised SQL condition and its arguments.
// The empty filter renders as an empty condition.
func (f Filter) Clause() (string, []interface{}) {
	if f.IsZero() {
		return "", nil
	}
	return fmt.Sprintf("%s %s ?", f.Field, f.Op), []interface{}{f.Value}
}

// Compare applies the operator to the result of a three-way comparison (negative, zero, positive).
func (op FilterOp) Compare(cmp int) bool {
	switch op {
	case OpGreaterThan:
		return cmp > 0
	case OpGreaterOrEqual:
		return cmp >= 0
	case OpLessThan:
		return cmp < 0
	case OpLessOrEqual:
		return cmp <= 0
	case OpEqual:
		return cmp == 0
	case OpNotEqual:
		return cmp != 0
	}
	return false
}

// String returns a readable form of f, used in logs.
func (f Filter) String() string {
	if f.IsZero() {
		return "<none>"
	}
	return fmt.Sprintf("%s %s %v", f.Field, f.Op, f.Value)
}
