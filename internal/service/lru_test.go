package service

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLRUSet_AddAndContains(t *testing.T) {
	s := newLRUSet(3)

	assert.True(t, s.Add("a"))
	assert.False(t, s.Add("a"), "repeated add is not a new member")
	assert.True(t, s.Contains("a"))
	assert.False(t, s.Contains("b"))
}

func TestLRUSet_EvictsOldest(t *testing.T) {
	s := newLRUSet(3)
	s.Add("a")
	s.Add("b")
	s.Add("c")

	// 访问 a 使其成为最近使用，淘汰目标变为 b
	s.Contains("a")
	s.Add("d")

	assert.Equal(t, 3, s.Len())
	assert.True(t, s.Contains("a"))
	assert.False(t, s.Contains("b"))
	assert.True(t, s.Contains("c"))
	assert.True(t, s.Contains("d"))
}

func TestLRUSet_BoundedMemory(t *testing.T) {
	s := newLRUSet(100)
	for i := 0; i < 1000; i++ {
		s.Add(fmt.Sprintf("id-%d", i))
	}
	assert.Equal(t, 100, s.Len())
	assert.True(t, s.Contains("id-999"))
	assert.False(t, s.Contains("id-0"))
}
