// Package model holds the HSG entity types shared by every component:
// Memory, SectorVector, Waypoint, Fact, TemporalEdge, UserProfile,
// ClassifierModel, and MaintenanceStat, per spec.md §3.
package model

import "encoding/json"

// Memory is the unit of stored knowledge (spec.md §3).
type Memory struct {
	ID               string
	TenantID         *string // nil = system/global bucket
	Content           string // encrypted at rest; callers see ciphertext here
	PrimarySector     Sector
	Tags              []string
	Metadata          MemoryMetadata
	Segment           int
	SimHash           uint64
	CreatedAt         int64 // millisecond epoch
	UpdatedAt         int64
	LastSeenAt        int64
	Salience          float64
	DecayLambda       float64
	Version           int64
	MeanVec           []float32
	CompressedVec     []float32
	Coactivations     int64
	FeedbackScore     float64
	GeneratedSummary  string
}

// MemoryMetadata is the tagged-variant replacement for the source's
// duck-typed metadata map (spec.md §9): known fields get typed slots, and
// anything else rides in Extras as opaque JSON values.
type MemoryMetadata struct {
	Consolidated  bool            `json:"consolidated,omitempty"`
	Sources       []string        `json:"sources,omitempty"`
	Frequency     int             `json:"frequency,omitempty"`
	At            string          `json:"at,omitempty"`
	Type          string          `json:"type,omitempty"`
	IDEProjectName string         `json:"ideProjectName,omitempty"`
	IDEFilePath   string          `json:"ideFilePath,omitempty"`
	IDEEventType  string          `json:"ideEventType,omitempty"`
	Extras        map[string]json.RawMessage `json:"extras,omitempty"`
}

// SectorVector is a per-(memory, sector, tenant) vector store entry
// (spec.md §3). Sector may carry the "_cold" suffix.
type SectorVector struct {
	MemoryID  string
	Sector    Sector
	TenantID  *string
	Vector    []float32
	Dim       int
	UpdatedAt int64
}

// Waypoint is a directed associative edge between two memories, scoped to a
// single tenant (spec.md §3 invariant 5).
type Waypoint struct {
	SrcID          string
	DstID          string
	TenantID       *string
	Weight         float64
	CreatedAt      int64
	LastTraversedAt int64
}

// Fact is a temporal (subject, predicate, object) triple (spec.md §3).
type Fact struct {
	ID         string
	TenantID   *string
	Subject    string
	Predicate  string
	Object     string
	ValidFrom  int64
	ValidTo    *int64 // nil = current
	Confidence float64
	Metadata   map[string]string
}

// TemporalEdge is a typed, time-bounded relation between two memories or
// facts (spec.md §3).
type TemporalEdge struct {
	ID           string
	SourceID     string
	TargetID     string
	RelationType string
	ValidFrom    int64
	ValidTo      *int64
	Weight       float64
	TenantID     *string
	Metadata     map[string]string
}

// UserProfile is the per-tenant synthesized profile written by the User
// Summary Worker (spec.md §3/§4.9).
type UserProfile struct {
	TenantID        string
	Summary         string
	ReflectionCount int64
	CreatedAt       int64
	UpdatedAt       int64
}

// ClassifierModel is the per-tenant online linear classifier's persisted
// weights (spec.md §3/§4.10).
type ClassifierModel struct {
	TenantID  string
	Weights   map[Sector][]float64
	Biases    map[Sector]float64
	Version   int64
	UpdatedAt int64
}

// MaintenanceStat is an append-only background-job log row (spec.md §3).
type MaintenanceStat struct {
	ID        string
	Type      string
	Count     int64
	Timestamp int64
}
