package machine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestString builds a String without a machine; table tests do not need
// interning, only stable pointers.
func newTestString(s string) *String {
	return &String{objHeader: objHeader{kind: kindString}, s: s, hash: hashString(s)}
}

func TestTableSetGetDelete(t *testing.T) {
	var tbl Table
	k1, k2 := newTestString("one"), newTestString("two")

	_, ok := tbl.Get(k1)
	assert.False(t, ok)

	assert.True(t, tbl.Set(k1, Number(1)))
	assert.False(t, tbl.Set(k1, Number(11)), "second set of same key is not new")
	assert.True(t, tbl.Set(k2, Number(2)))

	v, ok := tbl.Get(k1)
	require.True(t, ok)
	assert.Equal(t, float64(11), v.Num())

	assert.True(t, tbl.Delete(k1))
	assert.False(t, tbl.Delete(k1))
	_, ok = tbl.Get(k1)
	assert.False(t, ok)

	// k2 survives the deletion of k1
	v, ok = tbl.Get(k2)
	require.True(t, ok)
	assert.Equal(t, float64(2), v.Num())
}

func TestTableTombstoneReuse(t *testing.T) {
	var tbl Table
	k := newTestString("k")
	tbl.Set(k, True)
	require.True(t, tbl.Delete(k))

	// deleting leaves a tombstone: count is unchanged, and reinserting
	// reuses it without growing the count
	n := tbl.count
	assert.True(t, tbl.Set(k, False))
	assert.Equal(t, n, tbl.count)

	v, ok := tbl.Get(k)
	require.True(t, ok)
	assert.Equal(t, False, v)
}

func TestTableGrowth(t *testing.T) {
	var tbl Table
	keys := make([]*String, 100)
	for i := range keys {
		keys[i] = newTestString(fmt.Sprintf("key-%d", i))
		tbl.Set(keys[i], Number(float64(i)))
	}
	// power-of-two capacity, under the 3/4 load factor
	assert.Equal(t, 256, len(tbl.entries))
	for i, k := range keys {
		v, ok := tbl.Get(k)
		require.True(t, ok, k.s)
		assert.Equal(t, float64(i), v.Num())
	}
}

func TestTableRehashDropsTombstones(t *testing.T) {
	var tbl Table
	for i := 0; i < 6; i++ {
		k := newTestString(fmt.Sprintf("t-%d", i))
		tbl.Set(k, Nil)
		tbl.Delete(k)
	}
	// six tombstones count against the load; the next insert rehashes
	// and drops them
	k := newTestString("live")
	tbl.Set(k, True)
	assert.Equal(t, 1, tbl.count)
	_, ok := tbl.Get(k)
	assert.True(t, ok)
}

func TestTableFindString(t *testing.T) {
	var tbl Table
	k := newTestString("interned")
	tbl.Set(k, Nil)

	got := tbl.findString("interned", hashString("interned"))
	assert.Same(t, k, got)

	assert.Nil(t, tbl.findString("other", hashString("other")))
	// same length, different content
	assert.Nil(t, tbl.findString("internex", hashString("internex")))
}

func TestTableCopyAll(t *testing.T) {
	var src, dst Table
	k1, k2, k3 := newTestString("a"), newTestString("b"), newTestString("c")
	src.Set(k1, Number(1))
	src.Set(k2, Number(2))
	dst.Set(k3, Number(3))

	src.copyAll(&dst)
	for _, k := range []*String{k1, k2, k3} {
		_, ok := dst.Get(k)
		assert.True(t, ok, k.s)
	}
}

func TestTableResizedHook(t *testing.T) {
	var total int
	tbl := Table{resized: func(delta int) { total += delta }}
	for i := 0; i < 20; i++ {
		tbl.Set(newTestString(fmt.Sprintf("h-%d", i)), Nil)
	}
	// grew 8 -> 16 -> 32; old arrays released
	assert.Equal(t, 32*entryBytes, total)
}
