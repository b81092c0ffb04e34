// Package value implements the typed value union shared by facts, tokens,
// and calculator inputs/outputs, and the fact record built on top of it.
package value

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	KindInt Kind = iota
	KindFloat
	KindString
	KindBool
	KindTime
	KindList
	KindMap
)

// String returns the name of the kind, used in type-mismatch error messages.
func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is a tagged union over int64, float64, string, bool, time.Time,
// []Value, and map[string]Value. The zero Value is not meaningful; always
// construct one via the New* functions.
type Value struct {
	kind   Kind
	i      int64
	f      float64
	s      string
	b      bool
	t      time.Time
	list   []Value
	object map[string]Value
}

func NewInt(v int64) Value       { return Value{kind: KindInt, i: v} }
func NewFloat(v float64) Value   { return Value{kind: KindFloat, f: v} }
func NewString(v string) Value   { return Value{kind: KindString, s: v} }
func NewBool(v bool) Value       { return Value{kind: KindBool, b: v} }
func NewTime(v time.Time) Value  { return Value{kind: KindTime, t: v.UTC()} }
func NewList(vs []Value) Value   { return Value{kind: KindList, list: append([]Value(nil), vs...)} }
func NewMap(m map[string]Value) Value {
	cp := make(map[string]Value, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Value{kind: KindMap, object: cp}
}

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNaN reports whether v is a float NaN. NaN values are rejected on fact
// insertion (spec §3) because they are never equal to themselves and can
// never be used as an indexed key.
func (v Value) IsNaN() bool {
	return v.kind == KindFloat && math.IsNaN(v.f)
}

func (v Value) Int() (int64, bool)             { return v.i, v.kind == KindInt }
func (v Value) Float() (float64, bool)         { return v.f, v.kind == KindFloat }
func (v Value) Str() (string, bool)            { return v.s, v.kind == KindString }
func (v Value) Bool() (bool, bool)             { return v.b, v.kind == KindBool }
func (v Value) Time() (time.Time, bool)        { return v.t, v.kind == KindTime }
func (v Value) List() ([]Value, bool)          { return v.list, v.kind == KindList }
func (v Value) Map() (map[string]Value, bool)  { return v.object, v.kind == KindMap }

// AsFloat64 coerces numeric kinds (int, float) to float64, for use by
// aggregate functions and the formula expression language. It returns false
// for non-numeric kinds.
func (v Value) AsFloat64() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	default:
		return 0, false
	}
}

// Equal implements the structural equality from spec §3: reflexive for all
// variants including float, except NaN which is never equal (and is
// rejected before it reaches here).
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindInt:
		return v.i == o.i
	case KindFloat:
		if math.IsNaN(v.f) || math.IsNaN(o.f) {
			return false
		}
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindBool:
		return v.b == o.b
	case KindTime:
		return v.t.Equal(o.t)
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.object) != len(o.object) {
			return false
		}
		for k, vv := range v.object {
			ov, ok := o.object[k]
			if !ok || !vv.Equal(ov) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Compare orders two values of the same kind, or an int against a float;
// ok is false for non-comparable kinds (list, map) or any other mix of
// kinds. Used by the order
// operators (<, <=, >, >=) in simple conditions.
func (v Value) Compare(o Value) (cmp int, ok bool) {
	if v.kind != o.kind {
		// allow cross int/float comparisons, the common numeric case
		vf, vok := v.AsFloat64()
		of, ook := o.AsFloat64()
		if vok && ook {
			return compareFloat(vf, of), true
		}
		return 0, false
	}
	switch v.kind {
	case KindInt:
		return compareInt(v.i, o.i), true
	case KindFloat:
		if math.IsNaN(v.f) || math.IsNaN(o.f) {
			return 0, false
		}
		return compareFloat(v.f, o.f), true
	case KindString:
		return strings.Compare(v.s, o.s), true
	case KindBool:
		if v.b == o.b {
			return 0, true
		}
		if !v.b && o.b {
			return -1, true
		}
		return 1, true
	case KindTime:
		if v.t.Before(o.t) {
			return -1, true
		}
		if v.t.After(o.t) {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// String renders a human-readable form, used in logging and error details.
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindString:
		return v.s
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindTime:
		return v.t.Format(time.RFC3339Nano)
	case KindList:
		parts := make([]string, len(v.list))
		for i, e := range v.list {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindMap:
		keys := make([]string, 0, len(v.object))
		for k := range v.object {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s:%s", k, v.object[k].String())
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return "<invalid>"
	}
}

// TypeName returns the calculator-facing type name used by the Formula
// expression language's `typeof` function.
func (v Value) TypeName() string { return v.kind.String() }
