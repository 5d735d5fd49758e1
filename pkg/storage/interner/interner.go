// Package interner implements the string-interning tables backing
// labels and relationship types (spec.md §3, §4.3). The same generic
// implementation is instantiated once for labels and once for
// relationship types by pkg/storage/engine, keyed by the generic ID
// type so the two tables cannot be mixed up at compile time.
package interner

import (
	"encoding/binary"
	"sync"

	"github.com/ysankpia/nervusdb/pkg/nverr"
)

// ID is the constraint satisfied by ids.LabelID and ids.RelTypeID.
type ID interface {
	~uint32
}

// Interner maps strings to densely assigned IDs of type T. IDs are
// never recycled (DESIGN.md's Open Question resolution): once a label
// or relationship type name has been interned, its ID is permanently
// reserved even if every node/edge using it is later deleted, so a
// segment footer referencing an old ID can never be reinterpreted as a
// different name after compaction.
type Interner[T ID] struct {
	mu         sync.RWMutex
	byName     map[string]T
	byID       map[T]string
	next       T
	maxNameLen int
}

// New creates an empty interner. maxNameLen enforces
// config.Options.MaxLabelBytes at the call site, for both label and
// relationship-type names.
func New[T ID](next T, maxNameLen int) *Interner[T] {
	return &Interner[T]{
		byName:     make(map[string]T),
		byID:       make(map[T]string),
		next:       next,
		maxNameLen: maxNameLen,
	}
}

// Intern returns the ID for name, assigning a fresh one if name has
// not been seen before. It rejects names exceeding maxNameLen with a
// Syntax-kind error (spec.md §6's enumerated length limits).
func (in *Interner[T]) Intern(name string) (T, error) {
	if len(name) == 0 {
		return 0, nverr.New(nverr.Syntax, "interner.empty_name", "label/relationship-type name must not be empty")
	}
	if len(name) > in.maxNameLen {
		return 0, nverr.New(nverr.Syntax, "interner.name_too_long", "label/relationship-type name exceeds configured byte limit")
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if id, ok := in.byName[name]; ok {
		return id, nil
	}
	id := in.next
	in.next++
	in.byName[name] = id
	in.byID[id] = name
	return id, nil
}

// Lookup resolves name to an existing ID without creating one.
func (in *Interner[T]) Lookup(name string) (T, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	id, ok := in.byName[name]
	return id, ok
}

// Name resolves an ID back to its interned string.
func (in *Interner[T]) Name(id T) (string, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	name, ok := in.byID[id]
	return name, ok
}

// Next reports the next ID that would be assigned, for persisting to
// the manifest at checkpoint.
func (in *Interner[T]) Next() T {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.next
}

// Len reports the number of interned names.
func (in *Interner[T]) Len() int {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return len(in.byName)
}

// Serialize flattens the table: next id, count, then (name-len-prefixed
// string, id u32) pairs.
func (in *Interner[T]) Serialize() []byte {
	in.mu.RLock()
	defer in.mu.RUnlock()
	out := make([]byte, 0, 8+len(in.byName)*16)
	out = binary.LittleEndian.AppendUint32(out, uint32(in.next))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(in.byName)))
	for name, id := range in.byName {
		out = binary.LittleEndian.AppendUint32(out, uint32(len(name)))
		out = append(out, name...)
		out = binary.LittleEndian.AppendUint32(out, uint32(id))
	}
	return out
}

// Deserialize rebuilds an interner from Serialize's output.
func Deserialize[T ID](data []byte, maxNameLen int) (*Interner[T], error) {
	if len(data) < 8 {
		return nil, nverr.New(nverr.Storage, "interner.decode", "truncated interner header")
	}
	next := T(binary.LittleEndian.Uint32(data))
	count := binary.LittleEndian.Uint32(data[4:])
	data = data[8:]
	in := New[T](next, maxNameLen)
	for i := uint32(0); i < count; i++ {
		if len(data) < 4 {
			return nil, nverr.New(nverr.Storage, "interner.decode", "truncated interner entry length")
		}
		nameLen := binary.LittleEndian.Uint32(data)
		data = data[4:]
		if uint64(len(data)) < uint64(nameLen)+4 {
			return nil, nverr.New(nverr.Storage, "interner.decode", "truncated interner entry payload")
		}
		name := string(data[:nameLen])
		data = data[nameLen:]
		id := T(binary.LittleEndian.Uint32(data))
		data = data[4:]
		in.byName[name] = id
		in.byID[id] = name
	}
	return in, nil
}
