/*
Package facet – index selection.

matchIndex walks facet slots in lockstep across every access pattern and
ranks the survivors. The walk order is the model's fixed Order (primary
first, then secondaries sorted by name), so the outcome never depends on
schema declaration order.
*/
package facet

type matchState struct {
	im    *indexMeta
	seq   []string // pk facets then sk facets, in slot order
	pkLen int
	alive bool
	count int
}

// matchIndex picks the best access pattern for the supplied facet values.
// ok is false when no pattern's partition key can be fully resolved and the
// caller must fall back to a scan.
func (m *entityModel) matchIndex(facets Item) (string, bool) {
	states := make([]*matchState, 0, len(m.Order))
	maxLen := 0
	for _, name := range m.Order {
		st := &matchState{im: m.Indexes[name], alive: true}
		for pos := 0; ; pos++ {
			slot, ok := m.slotAt(name, sidePK, pos)
			if !ok {
				break
			}
			st.seq = append(st.seq, slot.Attr)
		}
		st.pkLen = len(st.seq)
		for pos := 0; ; pos++ {
			slot, ok := m.slotAt(name, sideSK, pos)
			if !ok {
				break
			}
			st.seq = append(st.seq, slot.Attr)
		}
		if len(st.seq) > maxLen {
			maxLen = len(st.seq)
		}
		states = append(states, st)
	}

	// lockstep walk: an index leaves contention the first time the attribute
	// at its next slot is absent; count > pkLen means sort facets followed a
	// fully supplied partition key
	for pos := 0; pos < maxLen; pos++ {
		for _, st := range states {
			if !st.alive || pos >= len(st.seq) {
				continue
			}
			if v, ok := facets[st.seq[pos]]; !ok || v == nil {
				st.alive = false
				continue
			}
			st.count++
		}
	}

	var candidates []*matchState
	maxCount := 0
	for _, st := range states {
		if st.count == 0 || st.count < st.pkLen {
			continue
		}
		candidates = append(candidates, st)
		if st.count > maxCount {
			maxCount = st.count
		}
	}
	if len(candidates) == 0 {
		return "", false
	}

	primary := m.Primary.Name
	for _, st := range candidates {
		if st.im.Name == primary && st.count == len(st.seq) {
			return primary, true
		}
	}
	for _, st := range candidates {
		if st.im.Name == primary && st.count == maxCount {
			return primary, true
		}
	}
	for _, st := range candidates {
		if st.count == len(st.seq) {
			return st.im.Name, true
		}
	}
	for _, st := range candidates {
		if st.count == maxCount {
			return st.im.Name, true
		}
	}
	return "", false
}
