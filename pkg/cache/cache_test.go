package cache

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_InsertAndRetrieve(t *testing.T) {
	c := New[string, string](10, 0)

	c.Insert("A", "valueA", 1)
	c.Insert("B", "valueB", 2)
	assert.Equal(t, 3, c.Weight())

	value, ok := c.Retrieve("A")
	require.True(t, ok)
	assert.Equal(t, "valueA", value)

	_, ok = c.Retrieve("C")
	assert.False(t, ok)
}

func TestCache_Replace(t *testing.T) {
	c := New[string, int](10, 0)

	c.Insert("A", 1, 3)
	c.Insert("A", 2, 1)
	assert.Equal(t, 1, c.Weight())

	value, ok := c.Retrieve("A")
	require.True(t, ok)
	assert.Equal(t, 2, value)
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := New[string, string](2, 0)

	c.Insert("A", "valueA", 1)
	c.Insert("B", "valueB", 1)

	// A becomes the most recently used entry, leaving B to be evicted
	_, ok := c.Retrieve("A")
	require.True(t, ok)

	c.Insert("C", "valueC", 1)
	assert.Equal(t, 2, c.Weight())

	_, ok = c.Retrieve("B")
	assert.False(t, ok)
	_, ok = c.Retrieve("A")
	assert.True(t, ok)
	_, ok = c.Retrieve("C")
	assert.True(t, ok)
}

func TestCache_OverweightEntry(t *testing.T) {
	c := New[string, string](2, 0)

	c.Insert("A", "valueA", 1)
	c.Insert("B", "valueB", 5)

	assert.Equal(t, 0, c.Weight())
	_, ok := c.Retrieve("A")
	assert.False(t, ok)
	_, ok = c.Retrieve("B")
	assert.False(t, ok)
}

func TestCache_Expiry(t *testing.T) {
	now := time.Now()
	c := New[uint64, uint64](10, time.Minute)
	c.now = func() time.Time { return now }

	c.Insert(0, 890_880, 1)

	now = now.Add(59 * time.Second)
	value, ok := c.Retrieve(0)
	require.True(t, ok)
	assert.EqualValues(t, 890_880, value)

	now = now.Add(time.Second)
	_, ok = c.Retrieve(0)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Weight())
}

func TestCache_Clear(t *testing.T) {
	c := New[string, string](10, 0)
	c.Insert("A", "valueA", 1)
	c.Insert("B", "valueB", 1)

	c.Clear()
	assert.Equal(t, 0, c.Weight())
	_, ok := c.Retrieve("A")
	assert.False(t, ok)
}

func TestCache_Concurrency(t *testing.T) {
	c := New[string, int](50, 0)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			key := strconv.Itoa(i % 60)
			c.Insert(key, i, 1)
			c.Retrieve(key)
		}(i)
	}
	wg.Wait()

	assert.True(t, c.Weight() <= 50)
}
