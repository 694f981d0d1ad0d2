package bitmap

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromSortedIterRoundTripsMembership(t *testing.T) {
	cases := []struct {
		universe uint32
		values   []uint32
	}{
		{1, nil},
		{1, []uint32{0}},
		{8, []uint32{0, 3, 7}},
		{9, []uint32{0, 8}},
		{64, []uint32{0, 1, 63}},
		{100, []uint32{5, 17, 42, 99}},
		{600, []uint32{0, 1, 100, 300, 599}},
	}
	for _, c := range cases {
		b, err := FromSortedIter(c.values, c.universe)
		require.NoError(t, err)
		require.Equal(t, c.values, b.Iter())
		require.Equal(t, uint32(len(c.values)), b.Len())
		for _, v := range c.values {
			require.True(t, b.Contains(v), "universe=%d v=%d", c.universe, v)
		}
	}
}

func TestEstimateDataSizeExact(t *testing.T) {
	values := []uint32{1, 2, 3, 500}
	universe := uint32(600)
	b, err := FromSortedIter(values, universe)
	require.NoError(t, err)
	require.Equal(t, len(b.Bytes())-11, EstimateDataSize(values, universe))
}

func TestOutOfUniverseRejected(t *testing.T) {
	_, err := FromSortedIter([]uint32{5}, 5)
	require.Error(t, err)
}

func TestInvertedFormIndistinguishable(t *testing.T) {
	universe := uint32(100)
	present := []uint32{1, 2, 3, 50, 99}
	direct, err := FromSortedIter(present, universe)
	require.NoError(t, err)

	var absent []uint32
	j := 0
	for v := uint32(0); v < universe; v++ {
		if j < len(present) && present[j] == v {
			j++
			continue
		}
		absent = append(absent, v)
	}
	inverted, err := FromSortedIterComplemented(absent, universe)
	require.NoError(t, err)
	require.True(t, inverted.IsInverted())

	require.Equal(t, direct.Len(), inverted.Len())
	require.Equal(t, direct.Iter(), inverted.Iter())
	for _, v := range present {
		require.Equal(t, direct.Contains(v), inverted.Contains(v))
	}
}

func TestSetOpsCardinalityIdentity(t *testing.T) {
	universe := uint32(64)
	a, _ := FromSortedIter([]uint32{0, 1, 2, 10, 20}, universe)
	b, _ := FromSortedIter([]uint32{1, 2, 3, 20, 30}, universe)

	or := Or(a, b)
	and := And(a, b)
	require.Equal(t, a.Len()+b.Len(), or.Len()+and.Len())

	xor := Xor(a, b)
	notAnd := Difference(or, and)
	require.Equal(t, notAnd.Iter(), xor.Iter())
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	universe := uint32(256)
	b, err := FromSortedIter([]uint32{0, 10, 20, 255}, universe)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, b.SerializeInto(&buf))
	require.Equal(t, len(b.Bytes()), buf.Len())

	got, err := DeserializeFrom(&buf)
	require.NoError(t, err)
	require.Equal(t, b.Iter(), got.Iter())
	require.Equal(t, b.UniverseSize(), got.UniverseSize())
}

func TestRangeCardinality(t *testing.T) {
	b, err := FromSortedIter([]uint32{0, 5, 10, 15, 20}, 100)
	require.NoError(t, err)
	require.Equal(t, uint32(2), b.RangeCardinality(5, 15))
	require.Equal(t, uint32(0), b.RangeCardinality(50, 60))
}

func TestEmptyBitmap(t *testing.T) {
	b := Empty(100)
	require.True(t, b.IsEmpty())
	require.Equal(t, uint32(0), b.Len())
	_, ok := b.Min()
	require.False(t, ok)
}

func TestFullBitmap(t *testing.T) {
	b := Full(10)
	require.Equal(t, uint32(10), b.Len())
	for v := uint32(0); v < 10; v++ {
		require.True(t, b.Contains(v))
	}
}
