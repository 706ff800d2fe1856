package dissect

import (
	"fmt"
	"log/slog"
	"net/netip"
	"regexp"
	"strconv"
	"strings"

	"firestige.xyz/strix/internal/core"
)

var (
	topicPattern = regexp.MustCompile(`^(.*?)\s*->\s*(.*)`)
	statePattern = regexp.MustCompile(`DATA\([pwr]\[UD]\)`)
)

// BuildFrame converts one tshark TSV row into the flat submessage records
// of that frame. Errors wrap a core sentinel naming the skip reason and
// void the whole frame; the caller counts them and keeps consuming.
func BuildFrame(line string) ([]core.SubmessageRecord, error) {
	cols := splitRow(line)

	frameNumber, err := strconv.ParseUint(strings.TrimSpace(cols[colFrameNumber]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: frame number %q", core.ErrMalformedRecord, cols[colFrameNumber])
	}

	info := cols[colInfo]
	if cols[colPrefixSrc] == "" {
		return nil, fmt.Errorf("%w: frame %d has no source guid prefix", core.ErrMalformedRecord, frameNumber)
	}
	if strings.Contains(info, "Malformed Packet") {
		return nil, fmt.Errorf("%w: frame %d: %s", core.ErrMalformedRecord, frameNumber, info)
	}

	wrEntity, ok := core.ParseEntityID(cols[colWrEntityID])
	if !ok {
		return nil, fmt.Errorf("%w: frame %d has no writer entity id", core.ErrMalformedRecord, frameNumber)
	}
	if core.IsServiceRequest(wrEntity) {
		return nil, fmt.Errorf("%w: frame %d", core.ErrServiceRequestFrame, frameNumber)
	}

	class := core.ClassifyWriter(wrEntity)
	if kind, ok := core.ParseEntityID(cols[colServiceKind]); ok && kind == core.ServiceKindRoutingService {
		class |= core.FrameRoutingService
	}

	frameLen, err := strconv.ParseUint(strings.TrimSpace(cols[colFrameLen]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: frame %d length %q", core.ErrMalformedRecord, frameNumber, cols[colFrameLen])
	}

	subs, err := buildSubmessages(frameNumber, frameLen, class, info, cols[colOctets], cols[colSeqNumber])
	if err != nil {
		return nil, err
	}

	writer, reader, err := frameGUIDs(cols, subs[len(subs)-1].kind)
	if err != nil {
		return nil, fmt.Errorf("%w: frame %d guid: %v", core.ErrMalformedRecord, frameNumber, err)
	}

	var payload *core.DiscoveryPayload
	if class.Is(core.FrameDiscovery) {
		payload = buildDiscoveryPayload(frameNumber, cols)
	}

	records := make([]core.SubmessageRecord, len(subs))
	for i, sub := range subs {
		rec := core.SubmessageRecord{
			FrameNumber: frameNumber,
			FrameLen:    frameLen,
			Bytes:       sub.bytes,
			SrcAddr:     parseAddr(cols[colIPSrc]),
			DstAddr:     parseAddr(cols[colIPDst]),
			DomainID:    parseDomainID(cols[colDomainID]),
			Class:       class,
			Kind:        sub.kind,
			Writer:      writer,
			Reader:      reader,
			Topic:       sub.topic,
			SeqNums:     sub.seqNums,
		}
		if payload != nil && sub.kind.Has(core.KindDataP|core.KindDataRW) {
			rec.Discovery = payload
		}
		records[i] = rec
	}
	return records, nil
}

type submessage struct {
	topic   string
	kind    core.Kind
	bytes   uint64
	seqNums []int64
}

// buildSubmessages splits the dissector's info column into per-submessage
// entries and applies the byte attribution rule: the first submessage is
// charged the whole frame minus the submessage-level lengths of every
// later one, so per-frame sums always equal frame.len.
func buildSubmessages(frameNumber, frameLen uint64, class core.FrameClass, info, octets, seqNumbers string) ([]submessage, error) {
	names := strings.Split(info, ",")
	lengths, err := parseIntList(octets)
	if err != nil {
		return nil, fmt.Errorf("%w: frame %d octets %q", core.ErrMalformedRecord, frameNumber, octets)
	}
	seqNums, err := parseIntList(seqNumbers)
	if err != nil {
		return nil, fmt.Errorf("%w: frame %d sequence numbers %q", core.ErrMalformedRecord, frameNumber, seqNumbers)
	}
	seqIdx := 0

	n := len(names)
	if len(lengths) < n {
		n = len(lengths)
	}

	var subs []submessage
	for i := 0; i < n; i++ {
		name := strings.TrimSpace(names[i])
		switch name {
		case "INFO_DST", "INFO_SRC", "INFO_TS":
			// Carries no payload of its own; its bytes stay attributed
			// to the first real submessage.
			continue
		}

		topic, kind, err := classifySubmessage(name, class, len(subs) > 0)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", frameNumber, err)
		}

		count := 1
		if kind.Has(core.KindHeartbeat | core.KindGap) {
			count *= 2
		}
		if kind.Has(core.KindBatch) {
			count *= 2
		}
		if seqIdx+count > len(seqNums) {
			return nil, fmt.Errorf("%w: frame %d ran out of sequence numbers", core.ErrMalformedRecord, frameNumber)
		}
		sns := seqNums[seqIdx : seqIdx+count]
		seqIdx += count

		if len(subs) == 0 {
			subs = append(subs, submessage{topic: topic, kind: kind, bytes: frameLen, seqNums: sns})
			continue
		}
		length := uint64(lengths[i])
		if length > subs[0].bytes {
			// A corrupt length would underflow the first submessage;
			// clamp instead of aborting the frame.
			length = subs[0].bytes
		}
		subs[0].bytes -= length
		subs = append(subs, submessage{topic: topic, kind: kind, bytes: length, seqNums: sns})
	}

	if len(subs) == 0 {
		return nil, fmt.Errorf("%w: frame %d has no analyzable submessages", core.ErrMalformedRecord, frameNumber)
	}
	if seqIdx < len(seqNums) {
		slog.Warn("unconsumed sequence numbers in frame",
			"frame", frameNumber,
			"leftover", len(seqNums)-seqIdx,
		)
	}
	return subs, nil
}

// classifySubmessage derives the kind mask and optional inline topic from
// one info-column entry, e.g. "DATA -> Square" or "HEARTBEAT".
func classifySubmessage(name string, class core.FrameClass, multiple bool) (string, core.Kind, error) {
	topic, smType := splitTopic(name)

	lower := strings.ToLower(smType)
	if strings.Contains(lower, "port") || strings.Contains(lower, "ping") {
		return "", 0, fmt.Errorf("%w: %s", core.ErrRoutingFrame, name)
	}
	if !class.Is(core.FrameDiscovery|core.FrameMetaData) && topic == "" {
		return "", 0, core.ErrNoDiscoveryData
	}

	var kind core.Kind
	if class.Is(core.FrameDiscovery) {
		kind = core.KindDiscovery
	}

	if strings.Contains(smType, "BATCH") {
		kind |= core.KindBatch
	}
	if strings.Contains(smType, "FRAG") {
		kind |= core.KindFragment
	}
	switch {
	case strings.Contains(smType, "DATA"):
		kind |= dataFlags(smType)
	case strings.Contains(smType, "HEARTBEAT"):
		kind |= core.KindHeartbeat
		if multiple {
			kind |= core.KindPiggyback
		}
	case smType == "ACKNACK":
		kind |= core.KindAckNack
	case smType == "GAP":
		kind |= core.KindGap
	case smType == "NACK_FRAG":
		kind |= core.KindNack
	}

	if kind == core.KindUnset || kind == core.KindDiscovery {
		return "", 0, fmt.Errorf("%w: submessage type not detected: %s", core.ErrMalformedRecord, smType)
	}
	return topic, kind, nil
}

func dataFlags(smType string) core.Kind {
	switch {
	case smType == "DATA" || smType == "DATA_BATCH" || smType == "DATA_FRAG":
		return core.KindData
	case smType == "DATA(p)":
		return core.KindDataP
	case smType == "DATA(r)" || smType == "DATA(w)":
		return core.KindDataRW
	case statePattern.MatchString(smType):
		// Unregister/dispose of a discovered entity, e.g. DATA(w[UD]).
		return core.KindState
	case strings.Contains(smType, "(["):
		return core.KindData | core.KindState
	case smType == "DATA(m)":
		return core.KindLiveliness
	default:
		return core.KindUnset
	}
}

// splitTopic separates the dissector's "TYPE -> topic" suffix.
func splitTopic(name string) (topic, smType string) {
	if m := topicPattern.FindStringSubmatch(name); m != nil {
		return strings.TrimSpace(m[2]), strings.TrimSpace(m[1])
	}
	return "", strings.TrimSpace(name)
}

// frameGUIDs assembles writer and reader GUIDs for the frame. ACKNACK
// frames travel reader to writer, so their prefixes swap: the writer
// lives at the destination and the reader at the source.
func frameGUIDs(cols []string, lastKind core.Kind) (writer, reader core.GUID, err error) {
	srcPrefix, err := core.ParsePrefix(cols[colPrefixSrc])
	if err != nil {
		return writer, reader, err
	}
	dstPrefix, err := core.ParsePrefix(cols[colPrefixDst])
	if err != nil {
		return writer, reader, err
	}

	wrEntity, _ := core.ParseEntityID(cols[colWrEntityID])
	rdEntity, _ := core.ParseEntityID(cols[colRdEntityID])

	if lastKind.Has(core.KindAckNack) {
		writer = core.GUID{Prefix: dstPrefix, Entity: wrEntity}
		reader = core.GUID{Prefix: srcPrefix, Entity: rdEntity}
	} else {
		writer = core.GUID{Prefix: srcPrefix, Entity: wrEntity}
		reader = core.GUID{Prefix: dstPrefix, Entity: rdEntity}
	}
	// A missing prefix means the frame never addressed that side; drop
	// the entity id too so the GUID reads as absent downstream.
	if writer.Prefix == (core.Prefix{}) {
		writer = core.GUID{}
	}
	if reader.Prefix == (core.Prefix{}) {
		reader = core.GUID{}
	}
	return writer, reader, nil
}

// buildDiscoveryPayload extracts the advertised endpoint announcement
// from the frame's parameter columns. Announcements without a usable
// endpoint GUID yield nil and only cost us a registry binding.
func buildDiscoveryPayload(frameNumber uint64, cols []string) *core.DiscoveryPayload {
	raw, _, _ := strings.Cut(cols[colParamGUID], ",")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	endpoint, err := parseParamGUID(raw)
	if err != nil {
		slog.Debug("discovery announcement without usable endpoint guid",
			"frame", frameNumber,
			"value", raw,
		)
		return nil
	}

	topic, _, _ := strings.Cut(cols[colParamTopic], ",")
	typeName, _, _ := strings.Cut(cols[colParamType], ",")
	return &core.DiscoveryPayload{
		Endpoint:    endpoint,
		TopicName:   strings.TrimSpace(topic),
		TypeName:    strings.TrimSpace(typeName),
		Reliability: parseReliability(cols[colParamReliability]),
	}
}

// parseParamGUID decodes a 16-byte parameter GUID: 12-byte prefix
// followed by the 4-byte entity id.
func parseParamGUID(s string) (core.GUID, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	s = strings.ReplaceAll(s, ":", "")
	if len(s) != 32 {
		return core.GUID{}, fmt.Errorf("%w: parameter guid %q", core.ErrMalformedRecord, s)
	}
	prefix, err := core.ParsePrefix(s[:24])
	if err != nil {
		return core.GUID{}, err
	}
	entity, err := strconv.ParseUint(s[24:], 16, 32)
	if err != nil {
		return core.GUID{}, fmt.Errorf("%w: parameter guid entity %q", core.ErrMalformedRecord, s[24:])
	}
	return core.GUID{Prefix: prefix, Entity: core.EntityID(entity)}, nil
}

func parseReliability(s string) core.ReliabilityKind {
	s, _, _ = strings.Cut(s, ",")
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return core.ReliabilityUnknown
	case strings.Contains(s, "BEST_EFFORT"):
		return core.BestEffort
	case strings.Contains(s, "RELIABLE"):
		return core.Reliable
	}

	base := 10
	if rest, ok := strings.CutPrefix(s, "0x"); ok {
		s, base = rest, 16
	}
	v, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		return core.ReliabilityUnknown
	}
	switch v {
	case 1:
		return core.BestEffort
	case 2:
		return core.Reliable
	default:
		return core.ReliabilityUnknown
	}
}

func parseAddr(s string) netip.Addr {
	s, _, _ = strings.Cut(s, ",")
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}
	}
	return addr
}

func parseDomainID(s string) int {
	s, _, _ = strings.Cut(s, ",")
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

// parseIntList parses a comma-joined integer list, defaulting to a single
// zero when the column is empty (the dissector omits the field entirely
// for some submessages).
func parseIntList(s string) ([]int64, error) {
	if strings.TrimSpace(s) == "" {
		return []int64{0}, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int64, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func splitRow(line string) []string {
	cols := strings.Split(line, "\t")
	if len(cols) < len(Fields) {
		padded := make([]string, len(Fields))
		copy(padded, cols)
		return padded
	}
	return cols
}
