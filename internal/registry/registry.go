// Package registry resolves entity GUIDs to the topic, type and QoS
// that discovery traffic announced for them.
package registry

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/patrickmn/go-cache"

	"firestige.xyz/strix/internal/core"
	"firestige.xyz/strix/internal/metrics"
)

// Bindings survive for the whole run; keep only this many conflict
// samples for diagnostics.
const maxConflictSamples = 16

// Binding is one resolved entity: the first announcement for a GUID
// wins and is never replaced.
type Binding struct {
	GUID        core.GUID            `json:"guid" yaml:"guid"`
	Topic       string               `json:"topic" yaml:"topic"`
	TypeName    string               `json:"type,omitempty" yaml:"type,omitempty"`
	Role        core.Role            `json:"role" yaml:"role"`
	Reliability core.ReliabilityKind `json:"reliability" yaml:"reliability"`
	Frame       uint64               `json:"frame" yaml:"frame"`
}

// Participant is one distinct GUID prefix seen announcing discovery
// traffic.
type Participant struct {
	Prefix         string `json:"prefix" yaml:"prefix"`
	Addr           string `json:"addr,omitempty" yaml:"addr,omitempty"`
	Frame          uint64 `json:"frame" yaml:"frame"`
	RoutingService bool   `json:"routingService,omitempty" yaml:"routingService,omitempty"`
}

// Conflict records a discovery announcement that disagreed with an
// established binding.
type Conflict struct {
	GUID     core.GUID `json:"guid" yaml:"guid"`
	Frame    uint64    `json:"frame" yaml:"frame"`
	Bound    string    `json:"bound" yaml:"bound"`
	Rejected string    `json:"rejected" yaml:"rejected"`
}

// Sighting is an entity observed in traffic that no discovery
// announcement ever bound. Role comes from the record slot the GUID
// appeared in, not the entity id.
type Sighting struct {
	GUID  core.GUID `json:"guid" yaml:"guid"`
	Role  core.Role `json:"role" yaml:"role"`
	Frame uint64    `json:"frame" yaml:"frame"`
}

// Snapshot is the read-only registry state handed to reporting.
type Snapshot struct {
	Bindings        []Binding     `json:"bindings" yaml:"bindings"`
	Unresolved      []Sighting    `json:"unresolved,omitempty" yaml:"unresolved,omitempty"`
	Participants    []Participant `json:"participants" yaml:"participants"`
	Topics          []string      `json:"topics" yaml:"topics"`
	Conflicts       uint64        `json:"conflicts" yaml:"conflicts"`
	ConflictSamples []Conflict    `json:"conflictSamples,omitempty" yaml:"conflictSamples,omitempty"`
	Disposals       uint64        `json:"disposals" yaml:"disposals"`
}

// Registry accumulates entity bindings from the discovery stream and
// first sightings from everything else. Bindings only ever grow;
// unregistrations are counted, never applied. Not safe for concurrent
// use.
type Registry struct {
	entities     *cache.Cache
	participants *cache.Cache
	writers      map[core.GUID]uint64 // first sighting frame
	readers      map[core.GUID]uint64
	conflicts    uint64
	samples      []Conflict
	disposals    uint64
}

func New() *Registry {
	return &Registry{
		entities:     cache.New(cache.NoExpiration, 0),
		participants: cache.New(cache.NoExpiration, 0),
		writers:      make(map[core.GUID]uint64),
		readers:      make(map[core.GUID]uint64),
	}
}

// Observe feeds one record through the registry. Discovery-class records
// carry announcements; any other record just marks its endpoints as
// sighted, so unbound entities still surface in the snapshot. A returned
// error always wraps core.ErrConflictingDiscovery and the caller is
// expected to count it and move on.
func (r *Registry) Observe(rec core.SubmessageRecord) error {
	if !rec.Class.Is(core.FrameDiscovery) {
		r.sight(rec)
		return nil
	}

	r.observeParticipant(rec)

	if rec.Kind.Has(core.KindState) {
		r.disposals++
		return nil
	}
	if rec.Discovery == nil {
		return nil
	}
	return r.bind(rec, *rec.Discovery)
}

func (r *Registry) sight(rec core.SubmessageRecord) {
	if !rec.Writer.IsZero() {
		if _, seen := r.writers[rec.Writer]; !seen {
			r.writers[rec.Writer] = rec.FrameNumber
		}
	}
	if !rec.Reader.IsZero() {
		if _, seen := r.readers[rec.Reader]; !seen {
			r.readers[rec.Reader] = rec.FrameNumber
		}
	}
}

func (r *Registry) observeParticipant(rec core.SubmessageRecord) {
	if rec.Writer.IsZero() {
		return
	}
	key := prefixKey(rec.Writer.Prefix)
	if existing, ok := r.participants.Get(key); ok {
		p := existing.(Participant)
		if rec.Class.Is(core.FrameRoutingService) && !p.RoutingService {
			p.RoutingService = true
			r.participants.Set(key, p, cache.NoExpiration)
		}
		return
	}

	p := Participant{
		Prefix:         key,
		Frame:          rec.FrameNumber,
		RoutingService: rec.Class.Is(core.FrameRoutingService),
	}
	if rec.SrcAddr.IsValid() {
		p.Addr = rec.SrcAddr.String()
	}
	r.participants.Set(key, p, cache.NoExpiration)
}

func (r *Registry) bind(rec core.SubmessageRecord, payload core.DiscoveryPayload) error {
	key := payload.Endpoint.String()
	existing, found := r.entities.Get(key)
	if !found {
		r.entities.Set(key, Binding{
			GUID:        payload.Endpoint,
			Topic:       payload.TopicName,
			TypeName:    payload.TypeName,
			Role:        payload.Endpoint.Entity.Role(),
			Reliability: payload.Reliability,
			Frame:       rec.FrameNumber,
		}, cache.NoExpiration)
		return nil
	}

	bound := existing.(Binding)
	if conflict := bindingConflict(bound, payload); conflict != "" {
		r.conflicts++
		metrics.DiscoveryConflictsTotal.Inc()
		if len(r.samples) < maxConflictSamples {
			r.samples = append(r.samples, Conflict{
				GUID:     payload.Endpoint,
				Frame:    rec.FrameNumber,
				Bound:    bound.Topic,
				Rejected: conflict,
			})
		}
		slog.Warn("conflicting discovery announcement ignored",
			"guid", payload.Endpoint,
			"bound", bound.Topic,
			"rejected", conflict,
			"frame", rec.FrameNumber,
		)
		return fmt.Errorf("%w: %s already bound to %q, announcement for %q at frame %d ignored",
			core.ErrConflictingDiscovery, payload.Endpoint, bound.Topic, conflict, rec.FrameNumber)
	}

	// Re-announcements may fill in fields the first one lacked.
	changed := false
	if bound.TypeName == "" && payload.TypeName != "" {
		bound.TypeName = payload.TypeName
		changed = true
	}
	if bound.Reliability == core.ReliabilityUnknown && payload.Reliability != core.ReliabilityUnknown {
		bound.Reliability = payload.Reliability
		changed = true
	}
	if changed {
		r.entities.Set(key, bound, cache.NoExpiration)
	}
	return nil
}

// bindingConflict returns the offending announced value when the new
// payload contradicts the established binding, or "" when they agree.
// Fields the established binding left empty never conflict.
func bindingConflict(bound Binding, payload core.DiscoveryPayload) string {
	if payload.TopicName != "" && bound.Topic != "" && payload.TopicName != bound.Topic {
		return payload.TopicName
	}
	if payload.TypeName != "" && bound.TypeName != "" && payload.TypeName != bound.TypeName {
		return payload.TypeName
	}
	if payload.Reliability != core.ReliabilityUnknown &&
		bound.Reliability != core.ReliabilityUnknown &&
		payload.Reliability != bound.Reliability {
		return payload.Reliability.String()
	}
	return ""
}

// Resolve returns the binding for a GUID, if discovery announced one.
func (r *Registry) Resolve(guid core.GUID) (Binding, bool) {
	if guid.IsZero() {
		return Binding{}, false
	}
	v, ok := r.entities.Get(guid.String())
	if !ok {
		return Binding{}, false
	}
	return v.(Binding), true
}

// ResolveTopic returns just the bound topic name for a GUID.
func (r *Registry) ResolveTopic(guid core.GUID) (string, bool) {
	b, ok := r.Resolve(guid)
	if !ok || b.Topic == "" {
		return "", false
	}
	return b.Topic, true
}

// Bindings returns the number of bound entities.
func (r *Registry) Bindings() int { return r.entities.ItemCount() }

// Participants returns the number of distinct announcing prefixes.
func (r *Registry) Participants() int { return r.participants.ItemCount() }

// WritersSeen returns the number of distinct writer GUIDs sighted in
// non-discovery traffic.
func (r *Registry) WritersSeen() int { return len(r.writers) }

// ReadersSeen returns the number of distinct reader GUIDs sighted in
// non-discovery traffic.
func (r *Registry) ReadersSeen() int { return len(r.readers) }

// Conflicts returns how many announcements contradicted a binding.
func (r *Registry) Conflicts() uint64 { return r.conflicts }

// Snapshot renders the registry for reporting, with deterministic
// ordering.
func (r *Registry) Snapshot() Snapshot {
	snap := Snapshot{
		Conflicts:       r.conflicts,
		ConflictSamples: r.samples,
		Disposals:       r.disposals,
	}

	topics := make(map[string]struct{})
	for _, item := range r.entities.Items() {
		b := item.Object.(Binding)
		snap.Bindings = append(snap.Bindings, b)
		if b.Topic != "" {
			topics[b.Topic] = struct{}{}
		}
	}
	sort.Slice(snap.Bindings, func(i, j int) bool {
		return snap.Bindings[i].GUID.String() < snap.Bindings[j].GUID.String()
	})

	// Sighted endpoints without a binding stay visible as unresolved.
	for guid, frame := range r.writers {
		if _, bound := r.entities.Get(guid.String()); bound {
			continue
		}
		snap.Unresolved = append(snap.Unresolved, Sighting{GUID: guid, Role: core.RoleWriter, Frame: frame})
	}
	for guid, frame := range r.readers {
		if _, bound := r.entities.Get(guid.String()); bound {
			continue
		}
		if _, dup := r.writers[guid]; dup {
			continue
		}
		snap.Unresolved = append(snap.Unresolved, Sighting{GUID: guid, Role: core.RoleReader, Frame: frame})
	}
	sort.Slice(snap.Unresolved, func(i, j int) bool {
		return snap.Unresolved[i].GUID.String() < snap.Unresolved[j].GUID.String()
	})

	for _, item := range r.participants.Items() {
		snap.Participants = append(snap.Participants, item.Object.(Participant))
	}
	sort.Slice(snap.Participants, func(i, j int) bool {
		return snap.Participants[i].Prefix < snap.Participants[j].Prefix
	})

	for t := range topics {
		snap.Topics = append(snap.Topics, t)
	}
	sort.Strings(snap.Topics)
	return snap
}

func prefixKey(p core.Prefix) string {
	return core.GUID{Prefix: p}.String()[:24]
}
