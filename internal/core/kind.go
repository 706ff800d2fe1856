package core

import "strings"

// Kind is a bitmask classification of one dissected submessage. A mask
// usually combines several flags, e.g. DATA|REPAIR for a retransmitted
// sample or PIGGYBACK|HEARTBEAT for a heartbeat riding a data frame.
type Kind uint16

const (
	KindDiscovery Kind = 1 << iota
	KindDataP
	KindDataRW
	KindData
	KindPiggyback
	KindHeartbeat
	KindBatch
	KindAckNack
	KindNack
	KindFragment
	KindDurable
	KindRepair
	KindGap
	KindLiveliness
	KindState
)

// KindUnset marks a submessage whose type was not recognized.
const KindUnset Kind = 0

var kindNames = [...]struct {
	bit  Kind
	name string
}{
	{KindDiscovery, "DISCOVERY"},
	{KindDataP, "DATA_P"},
	{KindDataRW, "DATA_RW"},
	{KindData, "DATA"},
	{KindPiggyback, "PIGGYBACK"},
	{KindHeartbeat, "HEARTBEAT"},
	{KindBatch, "BATCH"},
	{KindAckNack, "ACKNACK"},
	{KindNack, "NACK"},
	{KindFragment, "FRAGMENT"},
	{KindDurable, "DURABLE"},
	{KindRepair, "REPAIR"},
	{KindGap, "GAP"},
	{KindLiveliness, "LIVELINESS"},
	{KindState, "STATE"},
}

// Has reports whether any flag in f is set.
func (k Kind) Has(f Kind) bool { return k&f != 0 }

// String joins the names of the set flags in declaration order, so
// KindPiggyback|KindHeartbeat renders as "PIGGYBACK_HEARTBEAT".
func (k Kind) String() string {
	if k == KindUnset {
		return "UNSET"
	}
	parts := make([]string, 0, 4)
	for _, n := range kindNames {
		if k&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "_")
}

// Combinations is the canonical display ordering of kind masks in
// statistics output. Masks not in the list still render, they just sort
// after the known ones.
var Combinations = []Kind{
	KindDiscovery | KindDataP,
	KindDiscovery | KindDataRW,
	KindDiscovery | KindRepair,
	KindDiscovery | KindHeartbeat,
	KindDiscovery | KindPiggyback | KindHeartbeat,
	KindDiscovery | KindAckNack,
	KindDiscovery | KindGap,
	KindDiscovery | KindState,
	KindData,
	KindData | KindFragment,
	KindData | KindBatch,
	KindData | KindRepair,
	KindData | KindDurable | KindRepair,
	KindData | KindFragment | KindRepair,
	KindData | KindFragment | KindDurable | KindRepair,
	KindHeartbeat,
	KindHeartbeat | KindBatch,
	KindPiggyback | KindHeartbeat,
	KindPiggyback | KindHeartbeat | KindBatch,
	KindAckNack,
	KindNack | KindFragment,
	KindGap,
	KindLiveliness,
	KindData | KindState,
}

// CombinationsWith filters Combinations down to masks containing flag,
// or to masks without it when negate is set.
func CombinationsWith(flag Kind, negate bool) []Kind {
	out := make([]Kind, 0, len(Combinations))
	for _, c := range Combinations {
		if c.Has(flag) != negate {
			out = append(out, c)
		}
	}
	return out
}

// CombinationRank returns the sort position of a mask within
// Combinations. Unknown masks rank after every known one.
func CombinationRank(k Kind) int {
	for i, c := range Combinations {
		if c == k {
			return i
		}
	}
	return len(Combinations)
}
