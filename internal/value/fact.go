package value

import "time"

// FactId uniquely identifies a fact for the lifetime of the engine process.
// Ids are assigned monotonically by the store and are never reused (spec §3).
type FactId uint64

// Fact is an immutable record. "Mutation" is modeled as retract-then-assert
// (spec §3); the Data map is never mutated in place once stored (Clone and
// WithField copy it).
type Fact struct {
	Id         FactId
	ExternalId string
	CreatedAt  time.Time
	Data       map[string]Value
}

// Get returns the value bound to field, if present.
func (f Fact) Get(field string) (Value, bool) {
	v, ok := f.Data[field]
	return v, ok
}

// Clone returns a deep-enough copy of f for use as the basis of a SetField
// action (spec §4.7): the Data map is copied so the original fact's map is
// never mutated, preserving immutability of facts already in the store.
func (f Fact) Clone() Fact {
	cp := make(map[string]Value, len(f.Data))
	for k, v := range f.Data {
		cp[k] = v
	}
	return Fact{
		Id:         f.Id,
		ExternalId: f.ExternalId,
		CreatedAt:  f.CreatedAt,
		Data:       cp,
	}
}

// WithField returns a copy of f with field set to v, used by SetField to
// build the replacement fact without mutating the original (spec §4.7).
func (f Fact) WithField(field string, v Value) Fact {
	cp := f.Clone()
	cp.Data[field] = v
	return cp
}
