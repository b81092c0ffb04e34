package calculator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rete/internal/value"
)

func TestRegisterAndCall(t *testing.T) {
	r := New(time.Second, 16, nil)
	calls := 0
	require.NoError(t, r.Register(Func{FuncName: "double", Compute_: func(ctx context.Context, in map[string]value.Value) (value.Value, error) {
		calls++
		f, _ := in["x"].AsFloat64()
		return value.NewFloat(f * 2), nil
	}}))

	v, err := r.Call(context.Background(), "double", map[string]value.Value{"x": value.NewFloat(3)})
	require.NoError(t, err)
	f, _ := v.AsFloat64()
	assert.Equal(t, 6.0, f)
	assert.Equal(t, 1, calls)
}

func TestCallIsMemoized(t *testing.T) {
	r := New(time.Second, 16, nil)
	calls := 0
	r.Register(Func{FuncName: "id", Compute_: func(ctx context.Context, in map[string]value.Value) (value.Value, error) {
		calls++
		return in["x"], nil
	}})

	inputs := map[string]value.Value{"x": value.NewInt(5)}
	r.Call(context.Background(), "id", inputs)
	r.Call(context.Background(), "id", inputs)
	assert.Equal(t, 1, calls, "identical inputs should hit the memo cache on the second call")
}

func TestRegisterFailsAfterClose(t *testing.T) {
	r := New(time.Second, 16, nil)
	r.Close()
	err := r.Register(Func{FuncName: "noop", Compute_: func(ctx context.Context, in map[string]value.Value) (value.Value, error) {
		return value.NewInt(0), nil
	}})
	assert.Error(t, err)
}

func TestCallUnregisteredFails(t *testing.T) {
	r := New(time.Second, 16, nil)
	_, err := r.Call(context.Background(), "nope", nil)
	assert.Error(t, err)
}

func TestCallRespectsBudget(t *testing.T) {
	r := New(5*time.Millisecond, 16, nil)
	r.Register(Func{FuncName: "slow", Compute_: func(ctx context.Context, in map[string]value.Value) (value.Value, error) {
		select {
		case <-time.After(50 * time.Millisecond):
			return value.NewInt(1), nil
		case <-ctx.Done():
			return value.Value{}, ctx.Err()
		}
	}})
	_, err := r.Call(context.Background(), "slow", nil)
	assert.Error(t, err)
}
