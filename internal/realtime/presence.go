package realtime

import (
	"encoding/json"
	"sort"
)

// Meta is one tracked presence (one device or tab) under a key.
type Meta map[string]any

// Ref returns the server-assigned presence reference.
func (m Meta) Ref() string {
	s, _ := m["phx_ref"].(string)
	return s
}

// PresenceState maps presence keys to their live metas.
type PresenceState map[string][]Meta

// Keys returns the presence keys in sorted order.
func (s PresenceState) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone copies the state and its meta slices. Metas are shared.
func (s PresenceState) Clone() PresenceState {
	out := make(PresenceState, len(s))
	for k, metas := range s {
		out[k] = append([]Meta(nil), metas...)
	}
	return out
}

// JoinFunc receives a key's metas before and after new presences joined.
type JoinFunc func(key string, current, joined []Meta)

// LeaveFunc receives a key's remaining metas and the ones that left.
type LeaveFunc func(key string, current, left []Meta)

type presenceDiff struct {
	Joins  PresenceState
	Leaves PresenceState
}

type wireEntry struct {
	Metas []Meta `json:"metas"`
}

func decodeState(raw json.RawMessage) (PresenceState, error) {
	var wire map[string]wireEntry
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, err
	}
	state := make(PresenceState, len(wire))
	for k, e := range wire {
		state[k] = e.Metas
	}
	return state, nil
}

func decodeDiff(raw json.RawMessage) (presenceDiff, error) {
	var wire struct {
		Joins  map[string]wireEntry `json:"joins"`
		Leaves map[string]wireEntry `json:"leaves"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return presenceDiff{}, err
	}
	d := presenceDiff{Joins: PresenceState{}, Leaves: PresenceState{}}
	for k, e := range wire.Joins {
		d.Joins[k] = e.Metas
	}
	for k, e := range wire.Leaves {
		d.Leaves[k] = e.Metas
	}
	return d, nil
}

// syncState reconciles state with a full snapshot, reporting the metas that
// appeared and disappeared through onJoin and onLeave.
func syncState(state, next PresenceState, onJoin JoinFunc, onLeave LeaveFunc) PresenceState {
	d := presenceDiff{Joins: PresenceState{}, Leaves: PresenceState{}}

	for key, metas := range state {
		if _, ok := next[key]; !ok {
			d.Leaves[key] = metas
		}
	}
	for key, nextMetas := range next {
		cur, ok := state[key]
		if !ok {
			d.Joins[key] = nextMetas
			continue
		}
		nextRefs := refSet(nextMetas)
		curRefs := refSet(cur)
		var joined, left []Meta
		for _, m := range nextMetas {
			if !curRefs[m.Ref()] {
				joined = append(joined, m)
			}
		}
		for _, m := range cur {
			if !nextRefs[m.Ref()] {
				left = append(left, m)
			}
		}
		if len(joined) > 0 {
			d.Joins[key] = joined
		}
		if len(left) > 0 {
			d.Leaves[key] = left
		}
	}
	return syncDiff(state, d, onJoin, onLeave)
}

// syncDiff applies joins then leaves. A key is removed only when its last
// meta leaves.
func syncDiff(state PresenceState, d presenceDiff, onJoin JoinFunc, onLeave LeaveFunc) PresenceState {
	if state == nil {
		state = PresenceState{}
	}
	for key, joined := range d.Joins {
		cur := state[key]
		merged := append([]Meta(nil), joined...)
		if len(cur) > 0 {
			joinedRefs := refSet(joined)
			var kept []Meta
			for _, m := range cur {
				if !joinedRefs[m.Ref()] {
					kept = append(kept, m)
				}
			}
			merged = append(kept, merged...)
		}
		state[key] = merged
		if onJoin != nil {
			onJoin(key, cur, joined)
		}
	}
	for key, left := range d.Leaves {
		cur, ok := state[key]
		if !ok {
			continue
		}
		leftRefs := refSet(left)
		var remaining []Meta
		for _, m := range cur {
			if !leftRefs[m.Ref()] {
				remaining = append(remaining, m)
			}
		}
		if len(remaining) == 0 {
			delete(state, key)
		} else {
			state[key] = remaining
		}
		if onLeave != nil {
			onLeave(key, remaining, left)
		}
	}
	return state
}

func refSet(metas []Meta) map[string]bool {
	refs := make(map[string]bool, len(metas))
	for _, m := range metas {
		refs[m.Ref()] = true
	}
	return refs
}
