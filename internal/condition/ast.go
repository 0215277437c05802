// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package condition implements the declarative predicate tree used both
// in-process, to decide whether a counter applies to an incoming fact,
// and store-side, as a rendered query filter against candidate
// historical facts. The two renderings share a single AST (Node) so
// that, per spec.md §4.1, "the evaluator must guarantee behavioral
// equivalence on the supported subset".
package condition

// Node is one node of a predicate tree. The concrete types below form a
// closed sum; Eval and RenderMongo switch exhaustively over them.
type Node interface {
	node()
}

// CompareOp names a relational operator usable both standalone (as an
// operator-object key) and inside $expr.
type CompareOp string

const (
	OpEq  CompareOp = "$eq"
	OpNe  CompareOp = "$ne"
	OpGt  CompareOp = "$gt"
	OpGte CompareOp = "$gte"
	OpLt  CompareOp = "$lt"
	OpLte CompareOp = "$lte"
)

// Equal matches when the named field equals Value, with the type
// coercion rules of spec.md §4.1 (numeric strings as numbers, booleans
// as booleans, ISO timestamps against timestamp fields). A missing
// field matches only when Value is nil.
type Equal struct {
	Field string
	Value interface{}
}

// Compare matches when the named field satisfies Op against Value.
// Field-present-but-incomparable-type never matches.
type Compare struct {
	Field string
	Op    CompareOp
	Value interface{}
}

// In matches when the named field's value is a member of Values.
type In struct {
	Field  string
	Values []interface{}
}

// NotIn matches when the named field is present and not a member of
// Values (absent fields do not match, mirroring $ne's absent handling).
type NotIn struct {
	Field  string
	Values []interface{}
}

// Exists matches when the named field's presence matches Want.
type Exists struct {
	Field string
	Want  bool
}

// Regex matches when the named field is a string and matches Pattern.
// Non-string values fail silently (never match, never error).
type Regex struct {
	Field   string
	Pattern string
	Options string
}

// Not inverts Child.
type Not struct {
	Child Node
}

// And matches when every Children member matches. Used both for
// explicit top-level $and and for the implicit AND across sibling keys
// of a clause object.
type And struct {
	Children []Node
}

// Or matches when at least one Children member matches.
type Or struct {
	Children []Node
}

// Nor matches when no Children member matches.
type Nor struct {
	Children []Node
}

// DateUnit names the unit of a $dateAdd/$dateSubtract expression.
type DateUnit string

const (
	UnitDay    DateUnit = "day"
	UnitHour   DateUnit = "hour"
	UnitMinute DateUnit = "minute"
	UnitSecond DateUnit = "second"
)

// Operand is one side of an Expr comparison: either a literal, a field
// reference ("$d.x"), or date arithmetic applied to a nested Operand.
type Operand struct {
	// Field holds the dotted field path when this operand is a field
	// reference (the "$d.x" form). Empty when Literal or DateArith is
	// used instead.
	Field string

	// Literal holds a constant value when this operand is neither a
	// field reference nor date arithmetic.
	Literal interface{}
	IsLiteral bool

	// DateArith, when non-nil, makes this operand the result of
	// applying date arithmetic to its own nested operand.
	DateArith *DateArith
}

// DateArith represents a $dateAdd or $dateSubtract expression applied
// to Base, offsetting it by Amount Unit-s. Subtract is true for
// $dateSubtract.
type DateArith struct {
	Base     Operand
	Unit     DateUnit
	Amount   int64
	Subtract bool
}

// Expr implements field-to-field (or field-to-computed-value)
// comparison via the top-level $expr operator.
type Expr struct {
	Op    CompareOp
	Left  Operand
	Right Operand
}

func (Equal) node()   {}
func (Compare) node() {}
func (In) node()      {}
func (NotIn) node()   {}
func (Exists) node()  {}
func (Regex) node()   {}
func (Not) node()     {}
func (And) node()     {}
func (Or) node()      {}
func (Nor) node()     {}
func (Expr) node()    {}
