package registry

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeenSetObserve(t *testing.T) {
	s := newSeenSet(10)

	assert.False(t, s.observe("u1"))
	assert.True(t, s.observe("u1"))
	assert.True(t, s.observe("u1"))
	assert.False(t, s.observe("u2"))
}

func TestSeenSetEvictsOldest(t *testing.T) {
	s := newSeenSet(3)

	s.observe("a")
	s.observe("b")
	s.observe("c")
	assert.Equal(t, 3, s.len())

	// "d" pushes "a" out.
	s.observe("d")
	assert.Equal(t, 3, s.len())
	assert.False(t, s.observe("a"))
	assert.True(t, s.observe("d"))
}

func TestSeenSetStaysBounded(t *testing.T) {
	s := newSeenSet(100)
	for i := 0; i < 1000; i++ {
		s.observe(fmt.Sprintf("u%d", i))
	}
	assert.Equal(t, 100, s.len())
}
