package reliability

import (
	"sort"

	"firestige.xyz/strix/internal/core"
)

// WriterInfo is the per-writer reliability summary handed to reporting.
type WriterInfo struct {
	GUID           core.GUID `json:"guid" yaml:"guid"`
	State          string    `json:"state" yaml:"state"`
	Data           uint64    `json:"data" yaml:"data"`
	Fragments      uint64    `json:"fragments,omitempty" yaml:"fragments,omitempty"`
	Heartbeats     uint64    `json:"heartbeats" yaml:"heartbeats"`
	Repairs        uint64    `json:"repairs" yaml:"repairs"`
	DurableRepairs uint64    `json:"durableRepairs" yaml:"durableRepairs"`
	HighestSent    int64     `json:"highestSent" yaml:"highestSent"`
	FirstFrame     uint64    `json:"firstFrame" yaml:"firstFrame"`
}

// SessionInfo is one (writer, reader) exchange. Eligible marks sessions
// whose reader proved it listens (an acknack or gap passed between the
// two); eligibility latches on and is never revoked.
type SessionInfo struct {
	Writer         core.GUID `json:"writer" yaml:"writer"`
	Reader         core.GUID `json:"reader" yaml:"reader"`
	Heartbeats     uint64    `json:"heartbeats" yaml:"heartbeats"`
	AckNacks       uint64    `json:"acknacks" yaml:"acknacks"`
	Gaps           uint64    `json:"gaps" yaml:"gaps"`
	Repairs        uint64    `json:"repairs" yaml:"repairs"`
	DurableRepairs uint64    `json:"durableRepairs" yaml:"durableRepairs"`
	HighestSent    int64     `json:"highestSent" yaml:"highestSent"`
	AckBase        int64     `json:"ackBase" yaml:"ackBase"`
	CaughtUp       bool      `json:"caughtUp" yaml:"caughtUp"`
	Pending        bool      `json:"pending" yaml:"pending"`
	Eligible       bool      `json:"eligible" yaml:"eligible"`
	FirstFrame     uint64    `json:"firstFrame" yaml:"firstFrame"`
	LastFrame      uint64    `json:"lastFrame" yaml:"lastFrame"`
}

// Snapshot is the read-only correlator state at the end of a pass.
type Snapshot struct {
	Writers  []WriterInfo  `json:"writers" yaml:"writers"`
	Sessions []SessionInfo `json:"sessions" yaml:"sessions"`

	Repairs                  uint64 `json:"repairs" yaml:"repairs"`
	DurableRepairs           uint64 `json:"durableRepairs" yaml:"durableRepairs"`
	AckNacksWithoutHeartbeat uint64 `json:"acknacksWithoutHeartbeat" yaml:"acknacksWithoutHeartbeat"`
	FragmentSubmessages      uint64 `json:"fragmentSubmessages" yaml:"fragmentSubmessages"`
}

// State returns the protocol state reached by a writer.
func (c *Correlator) State(writer core.GUID) WriterState {
	if w, ok := c.writers[writer]; ok {
		return w.state
	}
	return Unseen
}

// Sessions returns every observed (writer, reader) session, sorted.
func (c *Correlator) Sessions() []SessionInfo {
	out := make([]SessionInfo, 0, len(c.sessions))
	for key, s := range c.sessions {
		out = append(out, SessionInfo{
			Writer:         key.writer,
			Reader:         key.reader,
			Heartbeats:     s.heartbeats,
			AckNacks:       s.ackNacks,
			Gaps:           s.gaps,
			Repairs:        s.repairs,
			DurableRepairs: s.durableRepairs,
			HighestSent:    s.highestSent,
			AckBase:        s.ackBase,
			CaughtUp:       s.ackNacks > 0 && s.ackBase > s.highestSent,
			Pending:        s.pending,
			Eligible:       s.eligible,
			FirstFrame:     s.firstFrame,
			LastFrame:      s.lastFrame,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Writer != out[j].Writer {
			return out[i].Writer.String() < out[j].Writer.String()
		}
		return out[i].Reader.String() < out[j].Reader.String()
	})
	return out
}

// Snapshot renders the correlator for reporting, with deterministic
// ordering.
func (c *Correlator) Snapshot() Snapshot {
	snap := Snapshot{
		Sessions:                 c.Sessions(),
		Repairs:                  c.repairs,
		DurableRepairs:           c.durableRepairs,
		AckNacksWithoutHeartbeat: c.ackWithoutHB,
		FragmentSubmessages:      c.fragSubmessages,
	}

	snap.Writers = make([]WriterInfo, 0, len(c.writers))
	for guid, w := range c.writers {
		snap.Writers = append(snap.Writers, WriterInfo{
			GUID:           guid,
			State:          w.state.String(),
			Data:           w.data,
			Fragments:      w.frags,
			Heartbeats:     w.heartbeats,
			Repairs:        w.repairs,
			DurableRepairs: w.durableRepairs,
			HighestSent:    w.highestSent,
			FirstFrame:     w.firstFrame,
		})
	}
	sort.Slice(snap.Writers, func(i, j int) bool {
		return snap.Writers[i].GUID.String() < snap.Writers[j].GUID.String()
	})
	return snap
}
