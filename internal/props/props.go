// Package props implements the tagged string/int scalar property multimap
// that services and filters operate on.
package props

import (
	"math"
	"sort"
)

// Value is a single property value: either a string or a signed integer.
// The wire format and the filter grammar both treat the two kinds as
// distinct scalar types — "10" and 10 never compare equal.
type Value struct {
	str   string
	num   int64
	isNum bool
}

func String(s string) Value { return Value{str: s} }
func Int(n int64) Value     { return Value{num: n, isNum: true} }

func (v Value) IsInt() bool { return v.isNum }

func (v Value) Int() (int64, bool) {
	if !v.isNum {
		return 0, false
	}
	return v.num, true
}

func (v Value) String() string {
	if v.isNum {
		return formatInt(v.num)
	}
	return v.str
}

func (v Value) Equal(other Value) bool {
	if v.isNum != other.isNum {
		return false
	}
	if v.isNum {
		return v.num == other.num
	}
	return v.str == other.str
}

func formatInt(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Map is a property bag: each key maps to a set of values, mirroring the
// wire format's map[string][]Value shape. It is immutable once built —
// every mutating operation returns a new Map, matching the copy-on-write
// discipline the domain store's Generation uses for the rest of a service's
// state.
type Map map[string][]Value

// New returns an empty property map.
func New() Map { return Map{} }

// Clone returns a deep-enough copy: the per-key slices are copied so the
// original is never mutated through the clone.
func (m Map) Clone() Map {
	if m == nil {
		return nil
	}
	out := make(Map, len(m))
	for k, vs := range m {
		cp := make([]Value, len(vs))
		copy(cp, vs)
		out[k] = cp
	}
	return out
}

// Add returns a new Map with value appended under key, deduplicating exact
// repeats the way a set would.
func (m Map) Add(key string, value Value) Map {
	out := m.Clone()
	if out == nil {
		out = Map{}
	}
	for _, existing := range out[key] {
		if existing.Equal(value) {
			return out
		}
	}
	out[key] = append(out[key], value)
	return out
}

// Get returns the values stored under key, or nil if the key is absent.
func (m Map) Get(key string) []Value { return m[key] }

// Has reports whether key is present at all (used by presence filters).
func (m Map) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// Equal reports whether two maps hold the same keys and, per key, the same
// set of values (order-independent).
func (m Map) Equal(other Map) bool {
	if len(m) != len(other) {
		return false
	}
	for k, vs := range m {
		ovs, ok := other[k]
		if !ok || len(vs) != len(ovs) {
			return false
		}
		for _, v := range vs {
			found := false
			for _, ov := range ovs {
				if v.Equal(ov) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	return true
}

// Keys returns the map's keys in sorted order, for deterministic iteration
// (e.g. when serializing the "services" listing).
func (m Map) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FromWire builds a Map from the JSON wire representation, a
// map[string][]any where each element is a JSON string or number.
// Matches proto.py's PropsField.from_wire validation rules exactly.
func FromWire(wire map[string][]any) (Map, error) {
	out := make(Map, len(wire))
	for key, values := range wire {
		for _, v := range values {
			switch t := v.(type) {
			case string:
				out = out.Add(key, String(t))
			case float64:
				if t != math.Trunc(t) {
					return nil, &TypeError{Key: key}
				}
				out = out.Add(key, Int(int64(t)))
			default:
				return nil, &TypeError{Key: key}
			}
		}
	}
	return out, nil
}

// ToWire converts a Map back to its JSON wire representation.
func (m Map) ToWire() map[string][]any {
	wire := make(map[string][]any, len(m))
	for key, values := range m {
		list := make([]any, 0, len(values))
		for _, v := range values {
			if n, ok := v.Int(); ok {
				list = append(list, n)
			} else {
				list = append(list, v.String())
			}
		}
		wire[key] = list
	}
	return wire
}

// TypeError is returned by FromWire when a property value is neither a
// string nor a number.
type TypeError struct{ Key string }

func (e *TypeError) Error() string {
	return "service property value for key \"" + e.Key + "\" is neither string nor integer"
}
