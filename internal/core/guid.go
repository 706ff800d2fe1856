// Package core defines the domain model shared by every analysis stage,
// with zero external dependencies.
package core

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Prefix is the 12-byte RTPS GUID prefix identifying one participant.
type Prefix [12]byte

// EntityID is the 4-byte RTPS entity identifier within a participant.
// The low octet encodes the entity kind.
type EntityID uint32

// GUID identifies one DDS entity: participant prefix plus entity id.
type GUID struct {
	Prefix Prefix
	Entity EntityID
}

// Builtin entity ids for the discovery writers and the vendor service
// request channel.
// See https://community.rti.com/static/documentation/wireshark/2020-07/doc/appendix.html
const (
	EntityParticipant                   EntityID = 0x000001c1
	EntitySPDPParticipantWriter         EntityID = 0x000100c2
	EntitySEDPPublicationsWriter        EntityID = 0x000003c2
	EntitySEDPSubscriptionsWriter       EntityID = 0x000004c2
	EntitySEDPPublicationsSecureWriter  EntityID = 0xff0003c2
	EntitySEDPSubscriptionsSecureWriter EntityID = 0xff0004c2
	EntityParticipantMessageWriter      EntityID = 0x000200c2
	EntityServiceRequestWriter          EntityID = 0x00020082
	EntityServiceRequestReader          EntityID = 0x00020087
)

// ServiceKindRoutingService is the PID_SERVICE_KIND value advertised by
// routing service participants.
const ServiceKindRoutingService = 0x3

// Role classifies an entity by the kind octet of its id.
type Role uint8

const (
	RoleUnknown Role = iota
	RoleParticipant
	RoleWriter
	RoleReader
)

func (r Role) String() string {
	switch r {
	case RoleParticipant:
		return "participant"
	case RoleWriter:
		return "writer"
	case RoleReader:
		return "reader"
	default:
		return "unknown"
	}
}

func (r Role) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r Role) MarshalYAML() (any, error) { return r.String(), nil }

// KindOctet returns the entity kind octet.
func (e EntityID) KindOctet() byte { return byte(e) }

// Builtin reports whether the entity id belongs to a builtin endpoint.
func (e EntityID) Builtin() bool { return byte(e)&0xc0 == 0xc0 }

// Role derives the entity role from the low nibble of the kind octet.
func (e EntityID) Role() Role {
	switch e & 0x0f {
	case 0x01:
		return RoleParticipant
	case 0x02, 0x03:
		return RoleWriter
	case 0x04, 0x07:
		return RoleReader
	default:
		return RoleUnknown
	}
}

// IsZero reports whether the GUID is entirely unset. The dissector emits
// all-zero prefixes and entity ids for submessages addressed to no
// particular entity.
func (g GUID) IsZero() bool { return g.Prefix == (Prefix{}) && g.Entity == 0 }

func (g GUID) String() string {
	return hex.EncodeToString(g.Prefix[:]) + "." + fmt.Sprintf("%08x", uint32(g.Entity))
}

// MarshalText renders the GUID in its canonical "prefix.entity" hex form.
func (g GUID) MarshalText() ([]byte, error) { return []byte(g.String()), nil }

// UnmarshalText parses the canonical form produced by MarshalText.
func (g *GUID) UnmarshalText(text []byte) error {
	parsed, err := ParseGUID(string(text))
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}

// MarshalYAML renders the GUID the same way MarshalText does.
func (g GUID) MarshalYAML() (any, error) { return g.String(), nil }

// ParseGUID parses the canonical "prefix.entity" form produced by String.
func ParseGUID(s string) (GUID, error) {
	var g GUID
	prefix, entity, ok := strings.Cut(s, ".")
	if !ok {
		return g, fmt.Errorf("%w: guid %q", ErrMalformedRecord, s)
	}
	p, err := ParsePrefix(prefix)
	if err != nil {
		return g, err
	}
	v, err := strconv.ParseUint(entity, 16, 32)
	if err != nil {
		return g, fmt.Errorf("%w: guid entity %q", ErrMalformedRecord, entity)
	}
	g.Prefix = p
	g.Entity = EntityID(v)
	return g, nil
}

// ParsePrefix decodes the first comma-separated value of a dissector
// guidPrefix field. An empty field yields the zero prefix.
func ParsePrefix(s string) (Prefix, error) {
	var p Prefix
	s, _, _ = strings.Cut(s, ",")
	s = strings.TrimSpace(strings.TrimPrefix(s, "0x"))
	s = strings.ReplaceAll(s, ":", "")
	if s == "" {
		return p, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(p) {
		return p, fmt.Errorf("%w: guid prefix %q", ErrMalformedRecord, s)
	}
	copy(p[:], b)
	return p, nil
}

// ParseEntityID decodes the first comma-separated value of a dissector
// entity id field ("0x000003c2"). Absent or unparseable values report
// ok=false, matching how the dissector omits entity ids on submessages
// that carry none.
func ParseEntityID(s string) (EntityID, bool) {
	s, _, _ = strings.Cut(s, ",")
	s = strings.TrimSpace(s)
	if len(s) < 3 || (s[:2] != "0x" && s[:2] != "0X") {
		return 0, false
	}
	v, err := strconv.ParseUint(s[2:], 16, 32)
	if err != nil {
		return 0, false
	}
	return EntityID(v), true
}

// ClassifyWriter maps a frame's writer entity id to the traffic class it
// implies: builtin discovery writers, the participant message channel, or
// user data.
func ClassifyWriter(e EntityID) FrameClass {
	switch e {
	case EntitySPDPParticipantWriter,
		EntitySEDPPublicationsWriter,
		EntitySEDPSubscriptionsWriter,
		EntitySEDPPublicationsSecureWriter,
		EntitySEDPSubscriptionsSecureWriter:
		return FrameDiscovery
	case EntityParticipantMessageWriter:
		return FrameMetaData
	default:
		return FrameUserData
	}
}

// IsServiceRequest reports whether the entity id belongs to the vendor
// service-request channel, which the analysis skips entirely.
func IsServiceRequest(e EntityID) bool {
	return e == EntityServiceRequestWriter || e == EntityServiceRequestReader
}
