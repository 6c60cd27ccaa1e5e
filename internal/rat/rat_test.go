package rat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Normalizes(t *testing.T) {
	assert.Equal(t, New(1, 2), New(2, 4))
	assert.Equal(t, New(-1, 2), New(1, -2))
	assert.Equal(t, Zero, New(0, 7))
	assert.Equal(t, FromInt(3), New(6, 2))
}

func TestZeroValue_IsZero(t *testing.T) {
	var r Rational
	assert.True(t, r.Equal(Zero))
	assert.Equal(t, int64(0), r.Num())
	assert.Equal(t, int64(1), r.Den())
	assert.True(t, r.IsFinite())
}

func TestAdd(t *testing.T) {
	assert.Equal(t, New(5, 6), New(1, 2).Add(New(1, 3)))
	assert.Equal(t, FromInt(4), FromInt(3).Add(One))
	assert.Equal(t, PositiveInfinity, PositiveInfinity.Add(FromInt(10)))
	assert.Equal(t, NegativeInfinity, FromInt(10).Add(NegativeInfinity))
}

func TestAdd_OppositeInfinities_Panics(t *testing.T) {
	assert.Panics(t, func() { PositiveInfinity.Add(NegativeInfinity) })
}

func TestSub(t *testing.T) {
	assert.Equal(t, New(1, 6), New(1, 2).Sub(New(1, 3)))
	assert.Equal(t, NegativeInfinity, FromInt(1).Sub(PositiveInfinity))
}

func TestCmp_Ordering(t *testing.T) {
	cases := []struct {
		a, b Rational
		want int
	}{
		{Zero, One, -1},
		{One, Zero, 1},
		{New(1, 2), New(2, 4), 0},
		{New(7, 2), FromInt(3), 1},
		{NegativeInfinity, FromInt(-1000), -1},
		{PositiveInfinity, FromInt(1000), 1},
		{PositiveInfinity, PositiveInfinity, 0},
		{NegativeInfinity, PositiveInfinity, -1},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.a.Cmp(tc.b), "%s vs %s", tc.a, tc.b)
	}
}

func TestMax(t *testing.T) {
	assert.Equal(t, One, Max(Zero, One))
	assert.Equal(t, PositiveInfinity, Max(FromInt(99), PositiveInfinity))
}

func TestString(t *testing.T) {
	assert.Equal(t, "0", Zero.String())
	assert.Equal(t, "7/2", New(7, 2).String())
	assert.Equal(t, "-3", FromInt(-3).String())
	assert.Equal(t, "+inf", PositiveInfinity.String())
	assert.Equal(t, "-inf", NegativeInfinity.String())
}

func TestJSON_RoundTrip(t *testing.T) {
	for _, r := range []Rational{Zero, One, New(7, 2), New(-5, 3), PositiveInfinity, NegativeInfinity} {
		data, err := json.Marshal(r)
		require.NoError(t, err)

		var back Rational
		require.NoError(t, json.Unmarshal(data, &back))
		assert.Equal(t, r, back)
	}
}

func TestJSON_PairShape(t *testing.T) {
	data, err := json.Marshal(New(7, 2))
	require.NoError(t, err)
	assert.JSONEq(t, `{"num":7,"den":2}`, string(data))
}

func TestJSON_RejectsZeroOverZero(t *testing.T) {
	var r Rational
	err := json.Unmarshal([]byte(`{"num":0,"den":0}`), &r)
	require.Error(t, err)
}

func TestMapKey_NormalizedValuesCollide(t *testing.T) {
	m := map[Rational]int{}
	m[New(1, 2)] = 1
	m[New(2, 4)] = 2
	require.Len(t, m, 1)
	assert.Equal(t, 2, m[New(1, 2)])
}
