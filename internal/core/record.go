// Package core defines the domain model shared by every analysis stage.
package core

import "net/netip"

// FrameClass is a bitmask classifying the frame a submessage travelled
// in, derived from the frame's writer entity id and service kind.
type FrameClass uint8

const (
	FrameDiscovery FrameClass = 1 << iota
	FrameMetaData
	FrameUserData
	FrameRoutingService
)

// Is reports whether any flag in f is set.
func (c FrameClass) Is(f FrameClass) bool { return c&f != 0 }

func (c FrameClass) String() string {
	switch c &^ FrameRoutingService {
	case FrameDiscovery:
		return "discovery"
	case FrameMetaData:
		return "meta_data"
	case FrameUserData:
		return "user_data"
	default:
		return "unset"
	}
}

// ReliabilityKind is the reliability QoS advertised by a discovery
// announcement.
type ReliabilityKind uint8

const (
	ReliabilityUnknown ReliabilityKind = iota
	BestEffort
	Reliable
)

func (r ReliabilityKind) String() string {
	switch r {
	case BestEffort:
		return "best_effort"
	case Reliable:
		return "reliable"
	default:
		return "unknown"
	}
}

func (r ReliabilityKind) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r ReliabilityKind) MarshalYAML() (any, error) { return r.String(), nil }

// DiscoveryPayload carries the endpoint announcement fields dissected
// from participant and publication/subscription discovery data. Endpoint
// is the advertised entity, not the builtin writer that announced it.
type DiscoveryPayload struct {
	Endpoint    GUID
	TopicName   string
	TypeName    string
	Reliability ReliabilityKind
}

// SubmessageRecord is one dissected submessage together with its frame
// context. Records are immutable once built; stages consume them in frame
// order and never hold references past the pass.
type SubmessageRecord struct {
	FrameNumber uint64
	FrameLen    uint64 // on-wire length of the whole frame
	Bytes       uint64 // share of FrameLen attributed to this submessage
	SrcAddr     netip.Addr
	DstAddr     netip.Addr
	DomainID    int
	Class       FrameClass
	Kind        Kind
	Writer      GUID // zero when the dissector resolved no writer
	Reader      GUID // zero for multicast or reader-less submessages
	Topic       string
	// SeqNums holds the raw sequence numbers consumed by this submessage:
	// one for plain kinds, (first available, last) for HEARTBEAT and GAP,
	// doubled again for batches.
	SeqNums []int64
	// Discovery is set only on announcement records that carried an
	// endpoint payload.
	Discovery *DiscoveryPayload
}

// SeqNum returns the submessage's effective sequence number: the claimed
// highest for HEARTBEAT kinds, the single sample number otherwise.
// GAP ranges are exposed through GapRange instead.
func (r *SubmessageRecord) SeqNum() (int64, bool) {
	switch {
	case r.Kind.Has(KindGap):
		return 0, false
	case r.Kind.Has(KindHeartbeat):
		if len(r.SeqNums) < 2 {
			return 0, false
		}
		return r.SeqNums[1], true
	default:
		if len(r.SeqNums) < 1 {
			return 0, false
		}
		return r.SeqNums[0], true
	}
}

// FirstAvailable returns a HEARTBEAT's first available sequence number.
func (r *SubmessageRecord) FirstAvailable() (int64, bool) {
	if !r.Kind.Has(KindHeartbeat) || len(r.SeqNums) < 1 {
		return 0, false
	}
	return r.SeqNums[0], true
}

// GapRange returns the sequence number range announced by a GAP.
func (r *SubmessageRecord) GapRange() (first, last int64, ok bool) {
	if !r.Kind.Has(KindGap) || len(r.SeqNums) < 2 {
		return 0, 0, false
	}
	return r.SeqNums[0], r.SeqNums[1], true
}
