package testplan

import "fmt"

// Entry is one TestPointMap row: the immutable item plus the mutable fields
// the session engine updates after the item terminates (spec.md §3.1
// TestPointMap, §4.F).
type Entry struct {
	Item     Item
	Executed bool
	Passed   bool
	Value    string
}

// PointMap is the session-scoped structure built from a plan's enabled
// items, in item_no order. It is both the engine's iteration order and the
// lookup table UseResult references resolve against. It belongs to exactly
// one running session (spec.md §3.2); the engine discards it on
// termination.
type PointMap struct {
	order   []string
	entries map[string]*Entry
}

// NewPointMap validates item_no uniqueness/contiguity and item_key
// uniqueness across items, then builds a PointMap over the enabled ones in
// item_no order.
func NewPointMap(items []Item) (*PointMap, error) {
	seenNo := make(map[int]struct{}, len(items))
	seenKey := make(map[string]struct{}, len(items))

	sorted := make([]Item, len(items))
	copy(sorted, items)

	for i := range sorted {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[j].ItemNo < sorted[i].ItemNo {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}

	for idx, item := range sorted {
		if _, dup := seenNo[item.ItemNo]; dup {
			return nil, fmt.Errorf("testplan: duplicate item_no %d", item.ItemNo)
		}

		seenNo[item.ItemNo] = struct{}{}

		if item.ItemNo != idx+1 {
			return nil, fmt.Errorf("testplan: item_no must be contiguous from 1, got %d at position %d", item.ItemNo, idx+1)
		}

		if _, dup := seenKey[item.ItemKey]; dup {
			return nil, fmt.Errorf("testplan: duplicate item_key %q", item.ItemKey)
		}

		seenKey[item.ItemKey] = struct{}{}

		if err := item.Validate(); err != nil {
			return nil, fmt.Errorf("testplan: item %d (%s): %w", item.ItemNo, item.ItemKey, err)
		}
	}

	m := &PointMap{entries: make(map[string]*Entry, len(sorted))}

	for _, item := range sorted {
		if !item.Enabled {
			continue
		}

		m.order = append(m.order, item.ItemKey)
		m.entries[item.ItemKey] = &Entry{Item: item}
	}

	return m, nil
}

// Entries returns the enabled entries in item_no order. The returned
// entries are the map's own *Entry pointers; mutating them through Update
// is how the engine records execution outcome.
func (m *PointMap) Entries() []*Entry {
	out := make([]*Entry, len(m.order))
	for i, key := range m.order {
		out[i] = m.entries[key]
	}

	return out
}

// Lookup resolves item_key to its entry, for UseResult substitution.
func (m *PointMap) Lookup(itemKey string) (*Entry, bool) {
	e, ok := m.entries[itemKey]
	return e, ok
}

// Update records an item's outcome after it terminates.
func (m *PointMap) Update(itemKey string, passed bool, value string) {
	if e, ok := m.entries[itemKey]; ok {
		e.Executed = true
		e.Passed = passed
		e.Value = value
	}
}

// Len returns the number of enabled items.
func (m *PointMap) Len() int {
	return len(m.order)
}
