package model

// Sector is a named cognitive category a memory belongs to. The set is
// closed and statically typed per spec.md §3 invariant 7: "Sector name is in
// the closed set... (extensible via a sector configuration table but the set
// is finite and statically typed)".
type Sector string

const (
	SectorSemantic    Sector = "semantic"
	SectorEpisodic    Sector = "episodic"
	SectorProcedural  Sector = "procedural"
	SectorReflective  Sector = "reflective"
	SectorEmotional   Sector = "emotional"
	SectorSensory     Sector = "sensory"
	SectorTemporal    Sector = "temporal"
	SectorContextual  Sector = "contextual"
)

const sectorColdSuffix = "_cold"

// AllSectors enumerates the closed set, in a stable order used wherever the
// engine must iterate every sector (e.g. building the resonance matrix).
var AllSectors = []Sector{
	SectorSemantic, SectorEpisodic, SectorProcedural, SectorReflective,
	SectorEmotional, SectorSensory, SectorTemporal, SectorContextual,
}

// Valid reports whether s is one of the closed-set sector names in their
// live form; a "_cold" variant (see Cold) is not Valid.
func (s Sector) Valid() bool {
	for _, known := range AllSectors {
		if known == s {
			return true
		}
	}
	return false
}

// Cold returns the "_cold" variant of a live sector name.
func (s Sector) Cold() Sector {
	return s + sectorColdSuffix
}

// IsCold reports whether s already carries the "_cold" suffix.
func (s Sector) IsCold() bool {
	return len(s) > len(sectorColdSuffix) && s[len(s)-len(sectorColdSuffix):] == sectorColdSuffix
}

// Live strips a "_cold" suffix, returning s unchanged if it is already live.
func (s Sector) Live() Sector {
	if s.IsCold() {
		return s[:len(s)-len(sectorColdSuffix)]
	}
	return s
}

// Index returns s's position in AllSectors, or -1 if s is not a known live
// sector. Used to address the 8x8 resonance matrix.
func (s Sector) Index() int {
	for i, known := range AllSectors {
		if known == s {
			return i
		}
	}
	return -1
}
