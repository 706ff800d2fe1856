// Package reliability correlates heartbeat, acknack and gap traffic
// into per-writer protocol state and repair classification.
package reliability

import (
	"log/slog"

	"firestige.xyz/strix/internal/core"
	"firestige.xyz/strix/internal/metrics"
)

// WriterState tracks how far a writer has progressed through the
// reliability protocol. States only ever move forward.
type WriterState uint8

const (
	// Unseen: no reliability traffic from this writer yet.
	Unseen WriterState = iota
	// Announced: the writer has sent data or heartbeats.
	Announced
	// Active: at least one reader has acknowledged the writer.
	Active
)

func (s WriterState) String() string {
	switch s {
	case Announced:
		return "announced"
	case Active:
		return "active"
	default:
		return "unseen"
	}
}

type pair struct {
	writer core.GUID
	reader core.GUID
}

// seqMark remembers where in the capture a sequence number was seen.
type seqMark struct {
	frame uint64
	sn    int64
}

type writerStats struct {
	state          WriterState
	firstFrame     uint64
	data           uint64
	frags          uint64
	heartbeats     uint64
	repairs        uint64
	durableRepairs uint64
	highestSent    int64
}

type session struct {
	heartbeats     uint64
	ackNacks       uint64
	gaps           uint64
	repairs        uint64
	durableRepairs uint64
	highestSent    int64
	ackBase        int64
	pending        bool
	eligible       bool
	firstFrame     uint64
	lastFrame      uint64
}

// Correlator consumes the record stream and classifies retransmissions.
// It keys heartbeat and acknack marks by (writer, reader); a multicast
// heartbeat uses the zero reader GUID as its key, standing in for
// "addressed to everyone". Not safe for concurrent use.
type Correlator struct {
	writers  map[core.GUID]*writerStats
	sessions map[pair]*session

	lastHB       map[pair]seqMark
	lastACK      map[pair]seqMark
	durabilitySN map[pair]seqMark
	durableSent  map[pair]int64

	repairs         uint64
	durableRepairs  uint64
	ackWithoutHB    uint64
	fragSubmessages uint64
}

func New() *Correlator {
	return &Correlator{
		writers:      make(map[core.GUID]*writerStats),
		sessions:     make(map[pair]*session),
		lastHB:       make(map[pair]seqMark),
		lastACK:      make(map[pair]seqMark),
		durabilitySN: make(map[pair]seqMark),
		durableSent:  make(map[pair]int64),
	}
}

// Observe feeds one record through the correlator and returns the
// record's kind, augmented with REPAIR and DURABLE flags when the
// submessage retransmits already-announced data. Kinds are otherwise
// returned unchanged.
func (c *Correlator) Observe(rec core.SubmessageRecord) core.Kind {
	if rec.Writer.IsZero() {
		return rec.Kind
	}

	switch {
	case rec.Kind.Has(core.KindHeartbeat):
		c.observeHeartbeat(rec)
	case rec.Kind.Has(core.KindAckNack):
		c.observeAckNack(rec)
	case rec.Kind.Has(core.KindGap):
		c.observeGap(rec)
	case rec.Kind.Has(core.KindNack):
		// Fragment nacks ride reader-to-writer packets, so the writer
		// guid carries the reader's prefix. Count, never track.
		c.fragSubmessages++
	case rec.Kind.Has(core.KindData) && rec.Kind.Has(core.KindFragment):
		c.observeFragment(rec)
	case rec.Kind.Has(core.KindData):
		return c.observeData(rec)
	}
	return rec.Kind
}

func (c *Correlator) observeHeartbeat(rec core.SubmessageRecord) {
	w := c.writer(rec)
	w.heartbeats++
	w.advance(Announced)

	sn, ok := rec.SeqNum()
	if !ok {
		return
	}
	if sn > w.highestSent {
		w.highestSent = sn
	}

	key := pair{writer: rec.Writer, reader: rec.Reader}
	c.lastHB[key] = seqMark{frame: rec.FrameNumber, sn: sn}

	s := c.session(rec)
	s.heartbeats++
	if sn > s.highestSent {
		s.highestSent = sn
	}
}

func (c *Correlator) observeAckNack(rec core.SubmessageRecord) {
	w := c.writer(rec)
	w.advance(Active)

	key := pair{writer: rec.Writer, reader: rec.Reader}
	ackSN, _ := rec.SeqNum()
	c.lastACK[key] = seqMark{frame: rec.FrameNumber, sn: ackSN}

	s := c.session(rec)
	s.ackNacks++
	s.ackBase = ackSN
	s.pending = ackSN <= s.highestSent
	s.eligible = true

	if _, set := c.durabilitySN[key]; set || ackSN == 0 {
		return
	}
	base, ok := c.heartbeatBaseline(rec.Writer, rec.Reader)
	if !ok {
		c.ackWithoutHB++
		slog.Warn("acknack without a previous heartbeat",
			"writer", rec.Writer,
			"reader", rec.Reader,
			"frame", rec.FrameNumber,
		)
		return
	}
	c.durabilitySN[key] = seqMark{frame: rec.FrameNumber, sn: base}
}

func (c *Correlator) observeGap(rec core.SubmessageRecord) {
	s := c.session(rec)
	s.gaps++
	s.eligible = true
}

func (c *Correlator) observeFragment(rec core.SubmessageRecord) {
	w := c.writer(rec)
	w.frags++
	w.advance(Announced)
	c.fragSubmessages++
	c.session(rec)
}

func (c *Correlator) observeData(rec core.SubmessageRecord) core.Kind {
	w := c.writer(rec)
	w.data++
	w.advance(Announced)

	sn, ok := rec.SeqNum()
	if !ok {
		return rec.Kind
	}

	s := c.session(rec)
	kind := rec.Kind
	if c.isRepair(rec.Writer, rec.Reader, sn) {
		kind |= core.KindRepair
		w.repairs++
		c.repairs++
		s.repairs++
		if c.isDurable(rec.Writer, rec.Reader, sn) {
			kind |= core.KindDurable
			w.durableRepairs++
			c.durableRepairs++
			s.durableRepairs++
			metrics.RepairsTotal.WithLabelValues(metrics.RepairKindDurable).Inc()
		} else {
			metrics.RepairsTotal.WithLabelValues(metrics.RepairKindStandard).Inc()
		}
	}

	if sn > w.highestSent {
		w.highestSent = sn
	}
	if sn > s.highestSent {
		s.highestSent = sn
	}
	return kind
}

// isRepair applies the retransmission rule: the sample is old news
// (at or below the last heartbeat's claim for this reader) and the
// reader asked again after that heartbeat.
func (c *Correlator) isRepair(writer, reader core.GUID, sn int64) bool {
	key := pair{writer: writer, reader: reader}
	hb, hasHB := c.lastHB[key]
	ack, hasACK := c.lastACK[key]
	if !hasHB || !hasACK {
		return false
	}
	base, ok := c.heartbeatBaseline(writer, reader)
	if !ok || sn > base {
		return false
	}
	return ack.frame > hb.frame
}

// isDurable reports whether a repair serves historical data to a
// late-joining reader rather than patching a live loss. Each sequence
// number counts as durable at most once per session.
func (c *Correlator) isDurable(writer, reader core.GUID, sn int64) bool {
	key := pair{writer: writer, reader: reader}
	durable, ok := c.durabilitySN[key]
	if !ok || sn > durable.sn {
		return false
	}
	if sent, ok := c.durableSent[key]; ok && sent >= sn {
		return false
	}
	c.durableSent[key] = sn
	return true
}

// heartbeatBaseline is the highest last-sequence-number heartbeat the
// writer addressed to this reader, its multicast heartbeats included.
func (c *Correlator) heartbeatBaseline(writer, reader core.GUID) (int64, bool) {
	var base int64
	found := false
	if hb, ok := c.lastHB[pair{writer: writer, reader: reader}]; ok {
		base = hb.sn
		found = true
	}
	if hb, ok := c.lastHB[pair{writer: writer}]; ok {
		if !found || hb.sn > base {
			base = hb.sn
		}
		found = true
	}
	return base, found
}

func (c *Correlator) writer(rec core.SubmessageRecord) *writerStats {
	w := c.writers[rec.Writer]
	if w == nil {
		w = &writerStats{firstFrame: rec.FrameNumber}
		c.writers[rec.Writer] = w
	}
	return w
}

func (c *Correlator) session(rec core.SubmessageRecord) *session {
	key := pair{writer: rec.Writer, reader: rec.Reader}
	s := c.sessions[key]
	if s == nil {
		s = &session{firstFrame: rec.FrameNumber}
		c.sessions[key] = s
	}
	if rec.FrameNumber > s.lastFrame {
		s.lastFrame = rec.FrameNumber
	}
	return s
}

func (w *writerStats) advance(to WriterState) {
	if to > w.state {
		w.state = to
	}
}
