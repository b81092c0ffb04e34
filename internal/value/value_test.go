package value

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEqualAcrossKinds(t *testing.T) {
	assert.True(t, NewInt(3).Equal(NewInt(3)))
	assert.False(t, NewInt(3).Equal(NewFloat(3)))
	assert.False(t, NewFloat(math.NaN()).Equal(NewFloat(math.NaN())))
	assert.True(t, NewString("a").Equal(NewString("a")))
}

func TestCompareCrossNumeric(t *testing.T) {
	c, ok := NewInt(3).Compare(NewFloat(3.5))
	assert.True(t, ok)
	assert.Equal(t, -1, c)
}

func TestCompareIncomparable(t *testing.T) {
	_, ok := NewList([]Value{NewInt(1)}).Compare(NewList([]Value{NewInt(1)}))
	assert.False(t, ok)
}

func TestIsNaN(t *testing.T) {
	assert.True(t, NewFloat(math.NaN()).IsNaN())
	assert.False(t, NewFloat(1).IsNaN())
	assert.False(t, NewInt(1).IsNaN())
}

func TestAsFloat64(t *testing.T) {
	f, ok := NewInt(7).AsFloat64()
	assert.True(t, ok)
	assert.Equal(t, 7.0, f)

	_, ok = NewString("x").AsFloat64()
	assert.False(t, ok)
}

func TestStringRendering(t *testing.T) {
	assert.Equal(t, "3", NewInt(3).String())
	assert.Equal(t, "true", NewBool(true).String())
	l := NewList([]Value{NewInt(1), NewInt(2)})
	assert.Equal(t, "[1, 2]", l.String())
}

func TestTimeCompare(t *testing.T) {
	t1 := NewTime(time.Unix(100, 0))
	t2 := NewTime(time.Unix(200, 0))
	c, ok := t1.Compare(t2)
	assert.True(t, ok)
	assert.Equal(t, -1, c)
}

func TestMapEqual(t *testing.T) {
	a := NewMap(map[string]Value{"x": NewInt(1)})
	b := NewMap(map[string]Value{"x": NewInt(1)})
	c := NewMap(map[string]Value{"x": NewInt(2)})
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}
