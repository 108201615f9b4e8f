package tokens

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeuristicCounterCeilDiv(t *testing.T) {
	c := NewHeuristicCounter()
	require.True(t, c.Approximate())
	require.Equal(t, 0, c.Count(""))
	require.Equal(t, 1, c.Count("abc"))
	require.Equal(t, 1, c.Count("abcd"))
	require.Equal(t, 2, c.Count("abcde"))
	require.Equal(t, 25, c.Count(makeString(100)))
}

func TestHeuristicCounterMonotonic(t *testing.T) {
	c := NewHeuristicCounter()
	prev := 0
	for n := 1; n <= 64; n *= 2 {
		got := c.Count(makeString(n))
		require.GreaterOrEqual(t, got, prev)
		prev = got
	}
}

func makeString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}
