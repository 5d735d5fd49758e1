package value

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/ysankpia/nervusdb/pkg/nverr"
)

// Codec encodes and decodes Values to the flat binary form stored in WAL
// property-set records and segment property blobs (spec.md §4.2, §4.4).
// The wire form is self-describing (a Kind tag precedes every payload),
// so List/Map nesting decodes without external schema knowledge.
type Codec struct{}

// Encode appends the wire encoding of v to dst and returns the grown
// slice, in the style of the teacher's append-based buffer helpers.
func (Codec) Encode(dst []byte, v Value) []byte {
	dst = append(dst, byte(v.kind))
	switch v.kind {
	case KindNull:
	case KindBool:
		if v.b {
			dst = append(dst, 1)
		} else {
			dst = append(dst, 0)
		}
	case KindInt:
		dst = binary.LittleEndian.AppendUint64(dst, uint64(v.i))
	case KindFloat:
		dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(v.f))
	case KindText:
		dst = appendBytes(dst, []byte(v.s))
	case KindBlob:
		dst = appendBytes(dst, v.blob)
	case KindDateTime:
		dst = binary.LittleEndian.AppendUint64(dst, uint64(v.t.UnixNano()))
		if v.offset != nil {
			dst = append(dst, 1)
			dst = binary.LittleEndian.AppendUint32(dst, uint32(int32(*v.offset)))
		} else {
			dst = append(dst, 0)
		}
	case KindDuration:
		dst = binary.LittleEndian.AppendUint64(dst, uint64(v.dur))
	case KindList:
		dst = binary.LittleEndian.AppendUint32(dst, uint32(len(v.list)))
		for _, item := range v.list {
			dst = Codec{}.Encode(dst, item)
		}
	case KindMap:
		dst = binary.LittleEndian.AppendUint32(dst, uint32(len(v.m)))
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			dst = appendBytes(dst, []byte(k))
			dst = Codec{}.Encode(dst, v.m[k])
		}
	}
	return dst
}

// Decode reads one Value from the front of src and returns the value
// plus the remaining, unconsumed bytes.
func (Codec) Decode(src []byte) (Value, []byte, error) {
	if len(src) < 1 {
		return Value{}, nil, nverr.New(nverr.Storage, "value.decode", "empty input")
	}
	kind := Kind(src[0])
	src = src[1:]
	switch kind {
	case KindNull:
		return Null, src, nil
	case KindBool:
		if len(src) < 1 {
			return Value{}, nil, nverr.New(nverr.Storage, "value.decode", "truncated bool")
		}
		return Bool(src[0] != 0), src[1:], nil
	case KindInt:
		if len(src) < 8 {
			return Value{}, nil, nverr.New(nverr.Storage, "value.decode", "truncated int")
		}
		return Int(int64(binary.LittleEndian.Uint64(src))), src[8:], nil
	case KindFloat:
		if len(src) < 8 {
			return Value{}, nil, nverr.New(nverr.Storage, "value.decode", "truncated float")
		}
		return Float(math.Float64frombits(binary.LittleEndian.Uint64(src))), src[8:], nil
	case KindText:
		b, rest, err := readBytes(src)
		if err != nil {
			return Value{}, nil, err
		}
		return Text(string(b)), rest, nil
	case KindBlob:
		b, rest, err := readBytes(src)
		if err != nil {
			return Value{}, nil, err
		}
		return Blob(b), rest, nil
	case KindDateTime:
		if len(src) < 9 {
			return Value{}, nil, nverr.New(nverr.Storage, "value.decode", "truncated datetime")
		}
		nanos := int64(binary.LittleEndian.Uint64(src))
		src = src[8:]
		hasOffset := src[0] != 0
		src = src[1:]
		var offPtr *int
		if hasOffset {
			if len(src) < 4 {
				return Value{}, nil, nverr.New(nverr.Storage, "value.decode", "truncated datetime offset")
			}
			off := int(int32(binary.LittleEndian.Uint32(src)))
			offPtr = &off
			src = src[4:]
		}
		return DateTime(time.Unix(0, nanos).UTC(), offPtr), src, nil
	case KindDuration:
		if len(src) < 8 {
			return Value{}, nil, nverr.New(nverr.Storage, "value.decode", "truncated duration")
		}
		return Duration(time.Duration(binary.LittleEndian.Uint64(src))), src[8:], nil
	case KindList:
		if len(src) < 4 {
			return Value{}, nil, nverr.New(nverr.Storage, "value.decode", "truncated list length")
		}
		n := binary.LittleEndian.Uint32(src)
		src = src[4:]
		items := make([]Value, 0, n)
		for i := uint32(0); i < n; i++ {
			var item Value
			var err error
			item, src, err = Codec{}.Decode(src)
			if err != nil {
				return Value{}, nil, err
			}
			items = append(items, item)
		}
		return List(items), src, nil
	case KindMap:
		if len(src) < 4 {
			return Value{}, nil, nverr.New(nverr.Storage, "value.decode", "truncated map length")
		}
		n := binary.LittleEndian.Uint32(src)
		src = src[4:]
		m := make(map[string]Value, n)
		for i := uint32(0); i < n; i++ {
			keyBytes, rest, err := readBytes(src)
			if err != nil {
				return Value{}, nil, err
			}
			src = rest
			var item Value
			item, src, err = Codec{}.Decode(src)
			if err != nil {
				return Value{}, nil, err
			}
			m[string(keyBytes)] = item
		}
		return Map(m), src, nil
	default:
		return Value{}, nil, nverr.New(nverr.Storage, "value.decode", fmt.Sprintf("unknown kind tag %d", kind))
	}
}

func appendBytes(dst []byte, b []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(b)))
	return append(dst, b...)
}

func readBytes(src []byte) ([]byte, []byte, error) {
	if len(src) < 4 {
		return nil, nil, nverr.New(nverr.Storage, "value.decode", "truncated length prefix")
	}
	n := binary.LittleEndian.Uint32(src)
	src = src[4:]
	if uint64(len(src)) < uint64(n) {
		return nil, nil, nverr.New(nverr.Storage, "value.decode", fmt.Sprintf("truncated payload, want %d have %d", n, len(src)))
	}
	return src[:n], src[n:], nil
}
