// Package filter implements the LDAP-prefix-notation filter grammar used
// by subscriptions and the "services" listing command to match against a
// service's property map.
//
// Grammar (ported from the reference implementation's filter.py):
//
//	expr       := '(' simple | composite | not ')'
//	composite  := ('&'|'|') expr expr+
//	not        := '!' expr
//	simple     := key ('=' value | '=' substring | '>' int | '<' int)
//	substring  := [chunk] '*' (chunk '*')* [chunk]
package filter

import (
	"strconv"
	"strings"

	"github.com/pathfinderd/pathfinder/internal/props"
)

const (
	beginExpr    = '('
	endExpr      = ')'
	any          = '*'
	escape       = '\\'
	opNot        = '!'
	opAnd        = '&'
	opOr         = '|'
	opEqual      = '='
	opGreater    = '>'
	opLess       = '<'
)

func isSpecial(r byte) bool {
	switch r {
	case beginExpr, endExpr, any, escape, opAnd, opOr, opEqual, opGreater, opLess:
		return true
	}
	return false
}

// Filter is a parsed filter expression. Every implementation is comparable
// by String(), mirroring the reference's __eq__.
type Filter interface {
	Match(p props.Map) bool
	String() string
}

// ParseError reports a syntax error together with the offset it occurred
// at, matching filter.py's ParseError message shape.
type ParseError struct {
	Data   string
	Offset int
	Reason string
}

func (e *ParseError) Error() string {
	return "'" + e.Data + "' (offset " + strconv.Itoa(e.Offset) + "): " + e.Reason
}

type state struct {
	data   string
	offset int
}

func (s *state) len() int { return len(s.data) - s.offset }

func (s *state) verify() error {
	if s.offset >= len(s.data) {
		return &ParseError{s.data, s.offset, "unexpected end of expression"}
	}
	return nil
}

func (s *state) current() (byte, error) {
	if err := s.verify(); err != nil {
		return 0, err
	}
	return s.data[s.offset], nil
}

func (s *state) skip() error {
	if err := s.verify(); err != nil {
		return err
	}
	s.offset++
	return nil
}

func (s *state) is(expected byte) bool {
	c, err := s.current()
	return err == nil && c == expected
}

func (s *state) expect(expected byte) error {
	c, err := s.current()
	if err != nil {
		return err
	}
	if c != expected {
		return &ParseError{s.data, s.offset, "expected to find '" + string(expected) + "', but found '" + string(c) + "'"}
	}
	s.offset++
	return nil
}

// Parse parses filterStr into a Filter tree.
func Parse(filterStr string) (Filter, error) {
	s := &state{data: filterStr}
	if err := s.expect(beginExpr); err != nil {
		return nil, err
	}
	f, err := parseExpr(s)
	if err != nil {
		return nil, err
	}
	if err := s.expect(endExpr); err != nil {
		return nil, err
	}
	if s.len() > 0 {
		return nil, &ParseError{s.data, s.offset, "data after end of expression"}
	}
	return f, nil
}

func parseExpr(s *state) (Filter, error) {
	c, err := s.current()
	if err != nil {
		return nil, err
	}
	switch c {
	case opAnd:
		return parseComposite(s, opAnd)
	case opOr:
		return parseComposite(s, opOr)
	case opNot:
		return parseNot(s)
	default:
		return parseSimple(s)
	}
}

func parseStr(s *state) (string, error) {
	var b strings.Builder
	escaped := false
	for {
		c, err := s.current()
		if err != nil {
			return "", err
		}
		special := isSpecial(c)
		if escaped {
			if !special {
				return "", &ParseError{s.data, s.offset, "escaped character '" + string(c) + "' is not a special character"}
			}
			b.WriteByte(c)
			if err := s.skip(); err != nil {
				return "", err
			}
			escaped = false
		} else if c == escape {
			escaped = true
			if err := s.skip(); err != nil {
				return "", err
			}
		} else if special {
			return b.String(), nil
		} else {
			b.WriteByte(c)
			if err := s.skip(); err != nil {
				return "", err
			}
		}
	}
}

func checkValue(s *state, v string) error {
	if v == "" {
		return &ParseError{s.data, s.offset, "zero-length (sub)string values not permitted"}
	}
	return nil
}

func checkKey(s *state, k string) error {
	if k == "" {
		return &ParseError{s.data, s.offset, "zero-length keys not permitted"}
	}
	return nil
}

func parseEqual(s *state, key string) (Filter, error) {
	if err := s.expect(opEqual); err != nil {
		return nil, err
	}
	value, err := parseStr(s)
	if err != nil {
		return nil, err
	}

	if !s.is(any) {
		if err := checkValue(s, value); err != nil {
			return nil, err
		}
		return &Equal{Key: key, Value: value}, nil
	}
	if err := s.skip(); err != nil {
		return nil, err
	}

	var initial *string
	if value != "" {
		initial = &value
	}

	var intermediate []string
	for {
		value, err = parseStr(s)
		if err != nil {
			return nil, err
		}
		if s.is(any) {
			if err := checkValue(s, value); err != nil {
				return nil, err
			}
			intermediate = append(intermediate, value)
			if err := s.skip(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}

	var final *string
	if value != "" {
		final = &value
	}

	if initial == nil && len(intermediate) == 0 && final == nil {
		return &Present{Key: key}, nil
	}
	return &Substring{Key: key, Initial: initial, Intermediate: intermediate, Final: final}, nil
}

func parseComparison(s *state, key string, op byte) (Filter, error) {
	if err := s.expect(op); err != nil {
		return nil, err
	}
	value, err := parseStr(s)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(value) != value {
		return nil, &ParseError{s.data, s.offset, "'" + value + "' is not an integer"}
	}
	n, convErr := strconv.ParseInt(value, 10, 64)
	if convErr != nil {
		return nil, &ParseError{s.data, s.offset, "'" + value + "' is not an integer"}
	}
	if op == opGreater {
		return &GreaterThan{Key: key, Value: n}, nil
	}
	return &LessThan{Key: key, Value: n}, nil
}

func parseSimple(s *state) (Filter, error) {
	key, err := parseStr(s)
	if err != nil {
		return nil, err
	}
	if err := checkKey(s, key); err != nil {
		return nil, err
	}
	switch {
	case s.is(opEqual):
		return parseEqual(s, key)
	case s.is(opGreater):
		return parseComparison(s, key, opGreater)
	case s.is(opLess):
		return parseComparison(s, key, opLess)
	default:
		return nil, &ParseError{s.data, s.offset, "expected to find '=', '>' or '<'"}
	}
}

func parseNot(s *state) (Filter, error) {
	if err := s.expect(opNot); err != nil {
		return nil, err
	}
	if err := s.expect(beginExpr); err != nil {
		return nil, err
	}
	operand, err := parseExpr(s)
	if err != nil {
		return nil, err
	}
	if err := s.expect(endExpr); err != nil {
		return nil, err
	}
	return &Not{Operand: operand}, nil
}

func parseComposite(s *state, op byte) (Filter, error) {
	if err := s.expect(op); err != nil {
		return nil, err
	}
	var operands []Filter
	for {
		if s.is(beginExpr) {
			if err := s.skip(); err != nil {
				return nil, err
			}
			operand, err := parseExpr(s)
			if err != nil {
				return nil, err
			}
			if err := s.expect(endExpr); err != nil {
				return nil, err
			}
			operands = append(operands, operand)
			continue
		}
		if s.is(endExpr) {
			if len(operands) < 2 {
				return nil, &ParseError{s.data, s.offset, "operator '" + string(op) + "' requires at least two operand expressions"}
			}
			if op == opAnd {
				return &And{Operands: operands}, nil
			}
			return &Or{Operands: operands}, nil
		}
		return nil, &ParseError{s.data, s.offset, "expected to find '(' or ')'"}
	}
}

// Escape backslash-escapes every special character in in, for use when
// stringifying a filter node's key or value.
func Escape(in string) string {
	var b strings.Builder
	for i := 0; i < len(in); i++ {
		c := in[i]
		if isSpecial(c) {
			b.WriteByte(escape)
		}
		b.WriteByte(c)
	}
	return b.String()
}
