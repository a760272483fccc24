package machine

// A Table is an open-addressed, linearly probed hash table keyed by
// interned strings. It is the single associative container of the runtime:
// globals, the string intern table, class methods and instance fields all
// use it. Capacity is a power of two; count tracks live entries plus
// tombstones, which is what the load factor is checked against.
type Table struct {
	count   int
	entries []entry

	// resized, if set, is called with the byte delta when the entry array
	// grows or is released; the machine uses it to account table storage
	// and possibly trigger a collection (before any rehashing starts, so a
	// collection observes a consistent table).
	resized func(delta int)
}

// An entry is empty when key is nil and value is nil, and a tombstone when
// key is nil and value is true. Tombstones keep probe sequences intact
// across deletions.
type entry struct {
	key   *String
	value Value
}

const tableMinCap = 8

// growNeeded reports whether adding one entry requires growing, using the
// 3/4 maximum load factor.
func (t *Table) growNeeded() bool {
	return 4*(t.count+1) > 3*len(t.entries)
}

// findEntry returns the entry for key in entries: the matching entry if
// present, otherwise the first tombstone on the probe path if any,
// otherwise the empty entry that terminated the probe. Keys compare by
// pointer, which interning makes equivalent to content comparison.
func findEntry(entries []entry, key *String) *entry {
	mask := uint32(len(entries) - 1)
	i := key.hash & mask
	var tombstone *entry
	for {
		e := &entries[i]
		if e.key == nil {
			if e.value.IsNil() {
				// empty entry ends the probe
				if tombstone != nil {
					return tombstone
				}
				return e
			}
			// a tombstone; remember the first and keep probing
			if tombstone == nil {
				tombstone = e
			}
		} else if e.key == key {
			return e
		}
		i = (i + 1) & mask
	}
}

func (t *Table) adjustCapacity(n int) {
	if t.resized != nil {
		// account the new array before the rehash; this is a safepoint
		t.resized(n * entryBytes)
	}

	entries := make([]entry, n)
	t.count = 0
	for i := range t.entries {
		e := &t.entries[i]
		if e.key == nil {
			continue // drops tombstones
		}
		dst := findEntry(entries, e.key)
		*dst = *e
		t.count++
	}

	old := len(t.entries)
	t.entries = entries
	if t.resized != nil && old > 0 {
		t.resized(-old * entryBytes)
	}
}

// Get returns the value for key and whether it is present.
func (t *Table) Get(key *String) (Value, bool) {
	if t.count == 0 {
		return Nil, false
	}
	e := findEntry(t.entries, key)
	if e.key == nil {
		return Nil, false
	}
	return e.value, true
}

// Set associates value with key and reports whether the key was new.
func (t *Table) Set(key *String, value Value) bool {
	if t.growNeeded() {
		n := len(t.entries) * 2
		if n < tableMinCap {
			n = tableMinCap
		}
		t.adjustCapacity(n)
	}

	e := findEntry(t.entries, key)
	isNew := e.key == nil
	if isNew && e.value.IsNil() {
		// a reused tombstone already counts toward the load
		t.count++
	}
	e.key = key
	e.value = value
	return isNew
}

// Delete removes key, leaving a tombstone, and reports whether the key was
// present. The count is not decremented: tombstones count against load
// until the next rehash drops them.
func (t *Table) Delete(key *String) bool {
	if t.count == 0 {
		return false
	}
	e := findEntry(t.entries, key)
	if e.key == nil {
		return false
	}
	e.key = nil
	e.value = True
	return true
}

// findString looks up a string by content, used only by the intern table:
// the probe compares length, hash, then bytes, since the candidate string
// is by definition not interned yet.
func (t *Table) findString(s string, hash uint32) *String {
	if t.count == 0 {
		return nil
	}
	mask := uint32(len(t.entries) - 1)
	i := hash & mask
	for {
		e := &t.entries[i]
		if e.key == nil {
			if e.value.IsNil() {
				return nil
			}
			// tombstone, keep probing
		} else if len(e.key.s) == len(s) && e.key.hash == hash && e.key.s == s {
			return e.key
		}
		i = (i + 1) & mask
	}
}

// copyAll sets every live entry of t into dst; inheriting uses it to
// flatten the superclass methods into the subclass.
func (t *Table) copyAll(dst *Table) {
	for i := range t.entries {
		e := &t.entries[i]
		if e.key != nil {
			dst.Set(e.key, e.value)
		}
	}
}

// removeWhite deletes every entry whose key is unmarked; the collector
// calls it on the intern table between mark and sweep, which is what makes
// the table's references weak.
func (t *Table) removeWhite() {
	for i := range t.entries {
		e := &t.entries[i]
		if e.key != nil && !e.key.marked {
			t.Delete(e.key)
		}
	}
}
