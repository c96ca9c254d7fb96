package stream

import "github.com/artpar/hyperchannels/domain/model"

// Match is a stream whose owned type matches a subject type.
type Match struct {
	Descriptor Descriptor
	Distance   int
	Exact      bool
}

// Distance returns how far owned is from subject.
//
// Exact matches are 0. Otherwise the distance is the position of owned in
// subject's immediate supertype list. When owned is a more distant ancestor,
// the position of the first immediate supertype that leads to it is used.
// This is a positional heuristic, not inheritance depth.
// The bool result is false when subject is not a subtype of owned.
// This is a PURE function.
func Distance(h *model.Hierarchy, subject, owned model.TypeID) (int, bool) {
	if subject == owned {
		return 0, true
	}
	if !h.IsSubtype(subject, owned) {
		return 0, false
	}

	bases := h.Bases(subject)
	for i, b := range bases {
		if b == owned {
			return i, true
		}
	}
	for i, b := range bases {
		if h.IsSubtype(b, owned) {
			return i, true
		}
	}
	return 0, false
}

// Candidates returns every stream whose owned type matches subject, in
// registry order, with its distance. Streams without an owned type are skipped.
func Candidates(reg *Registry, h *model.Hierarchy, subject model.TypeID) []Match {
	var matches []Match
	for _, d := range reg.Entries() {
		if d.OwnedType == "" {
			continue
		}
		if dist, ok := Distance(h, subject, d.OwnedType); ok {
			matches = append(matches, Match{Descriptor: d, Distance: dist, Exact: d.OwnedType == subject})
		}
	}
	return matches
}

// Resolve picks the stream that owns subject.
//
// A non-empty explicit name short-circuits type matching and returns that
// registry entry. Otherwise the candidate with the smallest distance wins.
// On equal distance an exact type match beats a supertype match, then the
// earliest registered stream wins. ok is false when nothing matches.
func Resolve(reg *Registry, h *model.Hierarchy, subject model.TypeID, explicit string) (name string, desc Descriptor, ok bool) {
	if explicit != "" {
		desc, ok = reg.Lookup(explicit)
		if !ok {
			return "", Descriptor{}, false
		}
		return explicit, desc, true
	}

	var best *Match
	for _, m := range Candidates(reg, h, subject) {
		m := m // per-iteration copy: best keeps its address
		// strict comparisons keep the first registered on ties
		if best == nil || m.Distance < best.Distance || (m.Distance == best.Distance && m.Exact && !best.Exact) {
			best = &m
		}
	}
	if best == nil {
		return "", Descriptor{}, false
	}
	return best.Descriptor.Name, best.Descriptor, true
}
