package filter

import (
	"strconv"
	"strings"

	"github.com/pathfinderd/pathfinder/internal/props"
)

// Equal matches a property value equal to Value. A Value that reads as an
// integer (an optional minus sign, then 0 or digits without a leading zero)
// compares only against integer-typed properties, by numeric value; any
// other Value compares only against string-typed properties, by exact text.
type Equal struct {
	Key   string
	Value string
}

func (f *Equal) Match(p props.Map) bool {
	n, err := strconv.ParseInt(f.Value, 10, 64)
	intLiteral := err == nil && (strconv.FormatInt(n, 10) == f.Value || f.Value == "-0")
	for _, v := range p.Get(f.Key) {
		m, isInt := v.Int()
		if isInt == intLiteral && ((isInt && m == n) || (!isInt && v.String() == f.Value)) {
			return true
		}
	}
	return false
}

func (f *Equal) String() string {
	return string(beginExpr) + Escape(f.Key) + string(opEqual) + Escape(f.Value) + string(endExpr)
}

// GreaterThan matches an integer-typed property strictly greater than Value.
type GreaterThan struct {
	Key   string
	Value int64
}

func (f *GreaterThan) Match(p props.Map) bool {
	for _, v := range p.Get(f.Key) {
		if n, ok := v.Int(); ok && n > f.Value {
			return true
		}
	}
	return false
}

func (f *GreaterThan) String() string {
	return string(beginExpr) + Escape(f.Key) + string(opGreater) + strconv.FormatInt(f.Value, 10) + string(endExpr)
}

// LessThan matches an integer-typed property strictly less than Value.
type LessThan struct {
	Key   string
	Value int64
}

func (f *LessThan) Match(p props.Map) bool {
	for _, v := range p.Get(f.Key) {
		if n, ok := v.Int(); ok && n < f.Value {
			return true
		}
	}
	return false
}

func (f *LessThan) String() string {
	return string(beginExpr) + Escape(f.Key) + string(opLess) + strconv.FormatInt(f.Value, 10) + string(endExpr)
}

// Present matches any service carrying Key, regardless of value.
type Present struct {
	Key string
}

func (f *Present) Match(p props.Map) bool { return p.Has(f.Key) }

func (f *Present) String() string {
	return string(beginExpr) + Escape(f.Key) + string(opEqual) + string(any) + string(endExpr)
}

// Substring matches a string-typed property value against an
// initial*intermediate*final chunk pattern, via a linear scan rather than a
// compiled regular expression (the chunk count is always small, so a
// compiled automaton buys nothing here).
type Substring struct {
	Key          string
	Initial      *string
	Intermediate []string
	Final        *string
}

func (f *Substring) Match(p props.Map) bool {
	for _, v := range p.Get(f.Key) {
		if v.IsInt() {
			continue
		}
		if f.matchesValue(v.String()) {
			return true
		}
	}
	return false
}

func (f *Substring) matchesValue(value string) bool {
	pos := 0
	if f.Initial != nil {
		if !strings.HasPrefix(value[pos:], *f.Initial) {
			return false
		}
		pos += len(*f.Initial)
	}
	for _, chunk := range f.Intermediate {
		idx := strings.Index(value[pos:], chunk)
		if idx < 0 {
			return false
		}
		pos += idx + len(chunk)
	}
	if f.Final != nil {
		return strings.HasSuffix(value[pos:], *f.Final)
	}
	return true
}

func (f *Substring) String() string {
	var b strings.Builder
	b.WriteByte(beginExpr)
	b.WriteString(Escape(f.Key))
	b.WriteByte(opEqual)
	if f.Initial != nil {
		b.WriteString(Escape(*f.Initial))
	}
	b.WriteByte(any)
	for _, im := range f.Intermediate {
		b.WriteString(Escape(im))
		b.WriteByte(any)
	}
	if f.Final != nil {
		b.WriteString(Escape(*f.Final))
	}
	b.WriteByte(endExpr)
	return b.String()
}

// Not negates Operand.
type Not struct {
	Operand Filter
}

func (f *Not) Match(p props.Map) bool { return !f.Operand.Match(p) }

func (f *Not) String() string {
	return string(beginExpr) + string(opNot) + f.Operand.String() + string(endExpr)
}

// And requires every operand to match (at least two operands by grammar).
type And struct {
	Operands []Filter
}

func (f *And) Match(p props.Map) bool {
	for _, op := range f.Operands {
		if !op.Match(p) {
			return false
		}
	}
	return true
}

func (f *And) String() string { return compositeString(opAnd, f.Operands) }

// Or requires at least one operand to match.
type Or struct {
	Operands []Filter
}

func (f *Or) Match(p props.Map) bool {
	for _, op := range f.Operands {
		if op.Match(p) {
			return true
		}
	}
	return false
}

func (f *Or) String() string { return compositeString(opOr, f.Operands) }

func compositeString(op byte, operands []Filter) string {
	var b strings.Builder
	b.WriteByte(beginExpr)
	b.WriteByte(op)
	for _, operand := range operands {
		b.WriteString(operand.String())
	}
	b.WriteByte(endExpr)
	return b.String()
}
