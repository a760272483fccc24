package machine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// objectCount returns how many times o occurs in the all-objects list (or
// the total list length when o is nil).
func objectCount(m *Machine, o object) int {
	var n int
	for cur := m.objects; cur != nil; cur = cur.header().next {
		if o == nil || cur == o {
			n++
		}
	}
	return n
}

func TestInternIdentity(t *testing.T) {
	m := New(&Options{})

	// build the content dynamically so only the interner can canonicalize
	s1 := m.internString(strings.Repeat("ab", 2))
	s2 := m.internString("ab" + "ab")
	assert.Same(t, s1, s2)
	assert.NotSame(t, s1, m.internString("abab "))
}

func TestCollectPrunesUnreachableStrings(t *testing.T) {
	m := New(&Options{})

	s := m.internString("ephemeral")
	require.Equal(t, 1, objectCount(m, s))
	before := m.bytesAllocated

	// not reachable from any root: the intern table alone does not keep a
	// string alive
	m.collect()
	assert.Nil(t, m.strings.findString("ephemeral", hashString("ephemeral")))
	assert.Equal(t, 0, objectCount(m, s))
	assert.Less(t, m.bytesAllocated, before)
}

func TestCollectKeepsRootedStrings(t *testing.T) {
	m := New(&Options{})

	s := m.internString("rooted")
	m.push(objValue(s))
	m.collect()

	assert.Same(t, s, m.strings.findString("rooted", hashString("rooted")))
	// survivors have their mark cleared and appear exactly once
	assert.False(t, s.marked)
	assert.Equal(t, 1, objectCount(m, s))

	// once unrooted, the next collection frees it
	m.pop()
	m.collect()
	assert.Equal(t, 0, objectCount(m, s))
}

func TestCollectKeepsGlobals(t *testing.T) {
	m := New(&Options{})
	name := m.internString("g")
	m.protect(objValue(name))
	val := m.internString("value of g")
	m.globals.Set(name, objValue(val))
	m.unprotect(1)

	m.collect()
	v, ok := m.globals.Get(name)
	require.True(t, ok)
	assert.Same(t, val, v.o)
}

func TestCollectAdjustsThreshold(t *testing.T) {
	m := New(&Options{HeapGrowFactor: 3})
	m.collect()
	assert.Equal(t, m.bytesAllocated*3, m.nextGC)
}

func TestStressCollectAtInit(t *testing.T) {
	// stress mode collects at every allocation, including during machine
	// initialization; init and clock must survive it
	m := New(&Options{StressGC: true})
	assert.Same(t, m.initString, m.strings.findString("init", hashString("init")))
	clock := m.internString("clock")
	_, ok := m.globals.Get(clock)
	assert.True(t, ok)
}
