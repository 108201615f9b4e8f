package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aphchrisc/PolicyPulse-sub000/pkg/models"
)

func TestCacheHitWithinTTL(t *testing.T) {
	c := newCache(30 * time.Minute)
	rec := &models.Analysis{BillID: 1, Version: 1}

	c.put(1, rec)
	got, ok := c.get(1)
	require.True(t, ok)
	require.Same(t, rec, got)
}

func TestCacheExpiry(t *testing.T) {
	c := newCache(30 * time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.put(1, &models.Analysis{BillID: 1})

	now = now.Add(29 * time.Minute)
	_, ok := c.get(1)
	require.True(t, ok)

	now = now.Add(time.Minute)
	_, ok = c.get(1)
	require.False(t, ok, "entry at exactly TTL age is expired")
}

func TestCacheEvict(t *testing.T) {
	c := newCache(30 * time.Minute)
	c.put(1, &models.Analysis{BillID: 1})
	c.evict(1)
	_, ok := c.get(1)
	require.False(t, ok)
}

func TestCacheMiss(t *testing.T) {
	c := newCache(time.Minute)
	_, ok := c.get(99)
	require.False(t, ok)
}
