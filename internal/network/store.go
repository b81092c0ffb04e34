// Package network implements the RETE discrimination network: the fact
// store and secondary indices, alpha memories, beta memories and joins,
// aggregation/window nodes, and terminal nodes (spec §4.1-§4.5).
package network

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"rete/internal/config"
	"rete/internal/errs"
	"rete/internal/profiler"
	"rete/internal/value"
)

// FactStore assigns fact ids, stores facts addressably, and maintains
// secondary indices from (field, value) to the set of FactIds carrying
// that value (spec §4.1).
type FactStore struct {
	mu      sync.RWMutex
	facts   map[value.FactId]value.Fact
	nextId  uint64
	byField map[string]map[string][]value.FactId  // field -> encoded value -> ids
	exists  map[string]map[value.FactId]struct{}   // field -> ids that carry it
	cfg     config.EngineConfig
	prof    *profiler.Profiler
}

func NewFactStore(cfg config.EngineConfig, prof *profiler.Profiler) *FactStore {
	return &FactStore{
		facts:   make(map[value.FactId]value.Fact),
		byField: make(map[string]map[string][]value.FactId),
		exists:  make(map[string]map[value.FactId]struct{}),
		cfg:     cfg,
		prof:    prof,
	}
}

// encodeIndexKey returns a canonical string key for indexable kinds
// (everything but list/map), and ok=false otherwise.
func encodeIndexKey(v value.Value) (string, bool) {
	switch v.Kind() {
	case value.KindList, value.KindMap:
		return "", false
	default:
		return fmt.Sprintf("%d:%s", v.Kind(), v.String()), true
	}
}

func estimateSize(data map[string]value.Value) int {
	n := 0
	for k, v := range data {
		n += len(k) + len(v.String()) + 8
	}
	return n
}

// Assert allocates the next FactId, stores the fact, and updates indices.
// It fails with a Validation error if any value is NaN or the fact exceeds
// the configured size limit (spec §4.1). createdAt is the fact's creation
// timestamp; callers that don't care may pass time.Now().
func (s *FactStore) Assert(data map[string]value.Value, externalId string, createdAt time.Time) (value.Fact, error) {
	for field, v := range data {
		if v.IsNaN() {
			return value.Fact{}, errs.Validation("Assert", fmt.Sprintf("field %q is NaN", field), nil)
		}
	}
	if s.cfg.Memory.MaxFactBytes > 0 && estimateSize(data) > s.cfg.Memory.MaxFactBytes {
		return value.Fact{}, errs.Validation("Assert", "fact exceeds configured size limit", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.Memory.MaxFacts > 0 && len(s.facts) >= s.cfg.Memory.MaxFacts {
		return value.Fact{}, errs.New(errs.KindMemory, errs.SeverityHigh, "Assert", "fact store at configured capacity", nil)
	}

	s.nextId++
	id := value.FactId(s.nextId)

	cp := make(map[string]value.Value, len(data))
	for k, v := range data {
		cp[k] = v
	}

	f := value.Fact{Id: id, ExternalId: externalId, CreatedAt: createdAt.UTC(), Data: cp}
	s.facts[id] = f
	s.index(id, cp)
	return f, nil
}

func (s *FactStore) index(id value.FactId, data map[string]value.Value) {
	for field, v := range data {
		if s.cfg.FactIndexExclude[field] {
			continue
		}
		if key, ok := encodeIndexKey(v); ok {
			if s.byField[field] == nil {
				s.byField[field] = make(map[string][]value.FactId)
			}
			s.byField[field][key] = append(s.byField[field][key], id)
		}
		if s.exists[field] == nil {
			s.exists[field] = make(map[value.FactId]struct{})
		}
		s.exists[field][id] = struct{}{}
	}
}

func (s *FactStore) deindex(id value.FactId, data map[string]value.Value) {
	for field, v := range data {
		if key, ok := encodeIndexKey(v); ok {
			ids := s.byField[field][key]
			for i, fid := range ids {
				if fid == id {
					s.byField[field][key] = append(ids[:i], ids[i+1:]...)
					break
				}
			}
		}
		delete(s.exists[field], id)
	}
}

// Retract removes the fact from the store and all indices; returns false
// if id is unknown (spec §4.1, §8 idempotence of retract).
func (s *FactStore) Retract(id value.FactId) (value.Fact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.facts[id]
	if !ok {
		return value.Fact{}, false
	}
	s.deindex(id, f.Data)
	delete(s.facts, id)
	return f, true
}

// Get returns the fact for id.
func (s *FactStore) Get(id value.FactId) (value.Fact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.facts[id]
	return f, ok
}

// QueryEqual returns the ids whose field equals val, via the secondary
// index (O(1) average), or nil if val is not an indexable kind.
func (s *FactStore) QueryEqual(field string, val value.Value) []value.FactId {
	key, ok := encodeIndexKey(val)
	if !ok {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byField[field][key]
	return append([]value.FactId(nil), ids...)
}

// QueryExists returns every id carrying field, regardless of value.
func (s *FactStore) QueryExists(field string) []value.FactId {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]value.FactId, 0, len(s.exists[field]))
	for id := range s.exists[field] {
		out = append(out, id)
	}
	return out
}

// QueryDomain returns every distinct indexed value currently stored for
// field, with the ids carrying each (spec §4.3).
func (s *FactStore) QueryDomain(field string) map[string][]value.FactId {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]value.FactId, len(s.byField[field]))
	for k, ids := range s.byField[field] {
		out[k] = append([]value.FactId(nil), ids...)
	}
	return out
}

// Count returns the number of live facts.
func (s *FactStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.facts)
}

// Fields returns the sorted list of field names currently indexed.
func (s *FactStore) Fields() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.exists))
	for f := range s.exists {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
