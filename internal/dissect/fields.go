// Package dissect adapts the external tshark dissector into the record
// stream consumed by the analysis engine. It owns the tshark invocation,
// the TSV row parsing, and the per-frame byte attribution; it never
// touches raw wire bytes itself.
package dissect

// Fields lists the tshark columns requested with -e, in emission order.
// tshark resolves fields hierarchically (frame -> udp -> rtps), so the
// order matters and the row parser indexes by position.
var Fields = []string{
	"frame.number",
	"frame.len",
	"ip.src",
	"ip.dst",
	"rtps.guidPrefix.src",
	"rtps.sm.wrEntityId",
	"rtps.guidPrefix.dst",
	"rtps.sm.rdEntityId",
	"rtps.sm.seqNumber",
	"rtps.sm.octetsToNextHeader",
	"rtps.domain_id",
	"rtps.param.service_kind",
	"rtps.param.guid",
	"rtps.param.topicName",
	"rtps.param.typeName",
	"rtps.param.reliabilityKind",
	"_ws.col.Info",
}

// Column indices into a TSV row, matching Fields order.
const (
	colFrameNumber = iota
	colFrameLen
	colIPSrc
	colIPDst
	colPrefixSrc
	colWrEntityID
	colPrefixDst
	colRdEntityID
	colSeqNumber
	colOctets
	colDomainID
	colServiceKind
	colParamGUID
	colParamTopic
	colParamType
	colParamReliability
	colInfo
)
