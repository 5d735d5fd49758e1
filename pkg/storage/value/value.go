// Package value implements NervusDB's property-value tagged union and its
// Cypher-compatible ordering (spec.md §3). Unlike the teacher package,
// which stores properties as bare map[string]any and leans on Go's
// dynamic typing, the v2 kernel needs a closed, encodable value type: the
// WAL, MemTable, and Segment property blobs all serialize through the
// same Codec (see codec.go), and ORDER BY needs a total, typed comparison
// instead of whatever encoding/json happened to produce.
package value

import (
	"fmt"
	"time"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindText
	KindBlob
	KindDateTime
	KindDuration
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "Null"
	case KindBool:
		return "Bool"
	case KindInt:
		return "Int"
	case KindFloat:
		return "Float"
	case KindText:
		return "Text"
	case KindBlob:
		return "Blob"
	case KindDateTime:
		return "DateTime"
	case KindDuration:
		return "Duration"
	case KindList:
		return "List"
	case KindMap:
		return "Map"
	default:
		return "Unknown"
	}
}

// Value is a single property value. It is an owned, acyclic tree — List
// and Map variants hold Value by value in slices/maps, never behind a
// shared pointer, so a value tree can never contain a cycle (design
// notes, spec.md §9).
type Value struct {
	kind   Kind
	b      bool
	i      int64
	f      float64
	s      string
	blob   []byte
	t      time.Time
	offset *int // DateTime's optional UTC offset in seconds
	dur    time.Duration
	list   []Value
	m      map[string]Value
}

// Null is the zero Value and also the largest value under Cypher
// ordering (spec.md §3).
var Null = Value{kind: KindNull}

func Bool(b bool) Value                { return Value{kind: KindBool, b: b} }
func Int(i int64) Value                { return Value{kind: KindInt, i: i} }
func Float(f float64) Value            { return Value{kind: KindFloat, f: f} }
func Text(s string) Value              { return Value{kind: KindText, s: s} }
func Blob(b []byte) Value              { return Value{kind: KindBlob, blob: append([]byte(nil), b...)} }
func Duration(d time.Duration) Value   { return Value{kind: KindDuration, dur: d} }

// DateTime builds an instant optionally carrying a fixed UTC offset in
// seconds (spec.md §3: "instant + optional offset"). Pass nil for a
// naive/UTC instant.
func DateTime(t time.Time, offsetSeconds *int) Value {
	v := Value{kind: KindDateTime, t: t}
	if offsetSeconds != nil {
		off := *offsetSeconds
		v.offset = &off
	}
	return v
}

// List builds an owned copy of the given elements.
func List(items []Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindList, list: cp}
}

// Map builds an owned copy of the given map.
func Map(m map[string]Value) Value {
	cp := make(map[string]Value, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Value{kind: KindMap, m: cp}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool)             { return v.b, v.kind == KindBool }
func (v Value) AsInt() (int64, bool)             { return v.i, v.kind == KindInt }
func (v Value) AsFloat() (float64, bool)         { return v.f, v.kind == KindFloat }
func (v Value) AsText() (string, bool)           { return v.s, v.kind == KindText }
func (v Value) AsBlob() ([]byte, bool)           { return v.blob, v.kind == KindBlob }
func (v Value) AsDuration() (time.Duration, bool) { return v.dur, v.kind == KindDuration }

// AsDateTime returns the instant and its offset (nil if none).
func (v Value) AsDateTime() (time.Time, *int, bool) {
	return v.t, v.offset, v.kind == KindDateTime
}

func (v Value) AsList() ([]Value, bool) { return v.list, v.kind == KindList }
func (v Value) AsMap() (map[string]Value, bool) { return v.m, v.kind == KindMap }

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindText:
		return v.s
	case KindBlob:
		return fmt.Sprintf("blob(%d bytes)", len(v.blob))
	case KindDateTime:
		return v.t.Format(time.RFC3339Nano)
	case KindDuration:
		return v.dur.String()
	case KindList:
		return fmt.Sprintf("list(%d)", len(v.list))
	case KindMap:
		return fmt.Sprintf("map(%d)", len(v.m))
	default:
		return "?"
	}
}

func isNumeric(k Kind) bool { return k == KindInt || k == KindFloat }

func (v Value) numeric() float64 {
	if v.kind == KindInt {
		return float64(v.i)
	}
	return v.f
}

// ErrIncomparable is returned by Compare when two values have no defined
// order under Cypher semantics (spec.md §3, §9: "fail loudly rather than
// guess").
type ErrIncomparable struct {
	A, B Kind
}

func (e *ErrIncomparable) Error() string {
	return fmt.Sprintf("value: %s and %s are not comparable", e.A, e.B)
}

// Compare orders two values per spec.md §3: Null sorts largest, mixed
// numeric types compare by value, lists compare lexicographically
// element-by-element, and anything else mismatched fails loudly instead
// of guessing at ORDER BY time.
func Compare(a, b Value) (int, error) {
	if a.kind == KindNull && b.kind == KindNull {
		return 0, nil
	}
	if a.kind == KindNull {
		return 1, nil
	}
	if b.kind == KindNull {
		return -1, nil
	}

	if isNumeric(a.kind) && isNumeric(b.kind) {
		av, bv := a.numeric(), b.numeric()
		switch {
		case av < bv:
			return -1, nil
		case av > bv:
			return 1, nil
		default:
			return 0, nil
		}
	}

	if a.kind != b.kind {
		return 0, &ErrIncomparable{A: a.kind, B: b.kind}
	}

	switch a.kind {
	case KindBool:
		switch {
		case a.b == b.b:
			return 0, nil
		case !a.b:
			return -1, nil
		default:
			return 1, nil
		}
	case KindText:
		switch {
		case a.s < b.s:
			return -1, nil
		case a.s > b.s:
			return 1, nil
		default:
			return 0, nil
		}
	case KindDateTime:
		switch {
		case a.t.Before(b.t):
			return -1, nil
		case a.t.After(b.t):
			return 1, nil
		default:
			return 0, nil
		}
	case KindDuration:
		switch {
		case a.dur < b.dur:
			return -1, nil
		case a.dur > b.dur:
			return 1, nil
		default:
			return 0, nil
		}
	case KindList:
		n := len(a.list)
		if len(b.list) < n {
			n = len(b.list)
		}
		for i := 0; i < n; i++ {
			c, err := Compare(a.list[i], b.list[i])
			if err != nil {
				return 0, err
			}
			if c != 0 {
				return c, nil
			}
		}
		switch {
		case len(a.list) < len(b.list):
			return -1, nil
		case len(a.list) > len(b.list):
			return 1, nil
		default:
			return 0, nil
		}
	default:
		return 0, &ErrIncomparable{A: a.kind, B: b.kind}
	}
}

// Equal reports structural equality without the ORDER BY comparability
// rules (blobs and maps compare equal by content even though they have
// no total order).
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindInt:
		return a.i == b.i
	case KindFloat:
		return a.f == b.f
	case KindText:
		return a.s == b.s
	case KindBlob:
		if len(a.blob) != len(b.blob) {
			return false
		}
		for i := range a.blob {
			if a.blob[i] != b.blob[i] {
				return false
			}
		}
		return true
	case KindDateTime:
		return a.t.Equal(b.t) && offsetEqual(a.offset, b.offset)
	case KindDuration:
		return a.dur == b.dur
	case KindList:
		if len(a.list) != len(b.list) {
			return false
		}
		for i := range a.list {
			if !Equal(a.list[i], b.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.m) != len(b.m) {
			return false
		}
		for k, v := range a.m {
			bv, ok := b.m[k]
			if !ok || !Equal(v, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func offsetEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
