package network

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"rete/internal/config"
	"rete/internal/profiler"
	"rete/internal/value"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestStore() *FactStore {
	return NewFactStore(config.Default(), profiler.New())
}

func TestAssertAndGet(t *testing.T) {
	s := newTestStore()
	f, err := s.Assert(map[string]value.Value{"name": value.NewString("alice")}, "", time.Now())
	require.NoError(t, err)

	got, ok := s.Get(f.Id)
	require.True(t, ok)
	assert.Equal(t, "alice", got.Data["name"].String())
}

func TestAssertRejectsNaN(t *testing.T) {
	s := newTestStore()
	_, err := s.Assert(map[string]value.Value{"x": value.NewFloat(math.NaN())}, "", time.Now())
	assert.Error(t, err)
}

func TestRetractIdempotent(t *testing.T) {
	s := newTestStore()
	f, err := s.Assert(map[string]value.Value{"x": value.NewInt(1)}, "", time.Now())
	require.NoError(t, err)

	_, ok := s.Retract(f.Id)
	assert.True(t, ok)
	_, ok = s.Retract(f.Id)
	assert.False(t, ok, "retracting an already-retracted fact must be a no-op, not an error")
}

func TestQueryEqual(t *testing.T) {
	s := newTestStore()
	a, _ := s.Assert(map[string]value.Value{"status": value.NewString("open")}, "", time.Now())
	_, _ = s.Assert(map[string]value.Value{"status": value.NewString("closed")}, "", time.Now())

	ids := s.QueryEqual("status", value.NewString("open"))
	require.Len(t, ids, 1)
	assert.Equal(t, a.Id, ids[0])
}

func TestQueryEqualDeindexesOnRetract(t *testing.T) {
	s := newTestStore()
	f, _ := s.Assert(map[string]value.Value{"status": value.NewString("open")}, "", time.Now())
	s.Retract(f.Id)
	assert.Empty(t, s.QueryEqual("status", value.NewString("open")))
}

func TestMaxFactsEnforced(t *testing.T) {
	cfg := config.Default()
	cfg.Memory.MaxFacts = 1
	s := NewFactStore(cfg, profiler.New())
	_, err := s.Assert(map[string]value.Value{"x": value.NewInt(1)}, "", time.Now())
	require.NoError(t, err)
	_, err = s.Assert(map[string]value.Value{"x": value.NewInt(2)}, "", time.Now())
	assert.Error(t, err)
}
