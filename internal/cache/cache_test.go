package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIFOSetGet(t *testing.T) {
	c := New(2, 0)
	c.Set("a", 1)
	c.Set("b", 2)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestFIFOEvictsOldest(t *testing.T) {
	c := New(2, 0)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3) // evicts "a"

	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestFIFOExpiry(t *testing.T) {
	c := New(10, 10*time.Millisecond)
	c.Set("a", 1)
	_, ok := c.Get("a")
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestFIFOUpdateRefreshesPosition(t *testing.T) {
	c := New(2, 0)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 3) // refresh "a", "b" becomes oldest
	c.Set("c", 4) // evicts "b"

	_, ok := c.Get("b")
	assert.False(t, ok)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 3, v)
}
