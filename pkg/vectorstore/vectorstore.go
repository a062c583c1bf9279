// Package vectorstore implements the Vector Store (C2, spec.md §4.2): the
// (memory, sector, tenant) -> vector mapping used by HSG Query's per-sector
// kNN search. Grounded on the teacher's store.go Upsert/Search pair and its
// pkg/index/flat.go brute-force scan, generalized from a single
// id->embedding table to the sector_vectors schema and adapted to score by
// cosine similarity with an ascending-id tiebreak (spec.md §4.5).
package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"

	"github.com/hsgraph/hsg/internal/encoding"
	"github.com/hsgraph/hsg/pkg/errs"
	"github.com/hsgraph/hsg/pkg/model"
	"github.com/hsgraph/hsg/pkg/tablestore"
)

// Store scopes vector reads/writes to the sector_vectors table shared with
// the table store's SQLite connection.
type Store struct {
	db *sql.DB
}

// New wraps ts's underlying connection for vector operations.
func New(ts *tablestore.Store) *Store {
	return &Store{db: ts.DB()}
}

// Put writes or overwrites a memory's vector for one sector.
func (s *Store) Put(ctx context.Context, v *model.SectorVector) error {
	if err := encoding.ValidateVector(v.Vector); err != nil {
		return errs.Invalid("vectorstore.Put", err)
	}
	blob, err := encoding.EncodeVector(v.Vector)
	if err != nil {
		return errs.Invalid("vectorstore.Put", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sector_vectors (mem_id, sector, tenant_id, vector_blob, dim, updated_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(mem_id, sector) DO UPDATE SET
			tenant_id=excluded.tenant_id, vector_blob=excluded.vector_blob,
			dim=excluded.dim, updated_at=excluded.updated_at`,
		v.MemoryID, string(v.Sector), v.TenantID, blob, v.Dim, v.UpdatedAt,
	)
	if err != nil {
		return errs.Internal("vectorstore.Put", fmt.Errorf("upsert sector vector: %w", err))
	}
	return nil
}

// Get fetches a single memory's vector for one sector.
func (s *Store) Get(ctx context.Context, memID string, sector model.Sector) (*model.SectorVector, error) {
	var v model.SectorVector
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT mem_id, sector, tenant_id, vector_blob, dim, updated_at FROM sector_vectors WHERE mem_id=? AND sector=?`, memID, string(sector)).
		Scan(&v.MemoryID, &v.Sector, &v.TenantID, &blob, &v.Dim, &v.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("vectorstore.Get", fmt.Errorf("vector for memory %s sector %s not found", memID, sector))
	}
	if err != nil {
		return nil, errs.Internal("vectorstore.Get", err)
	}
	vec, err := encoding.DecodeVector(blob)
	if err != nil {
		return nil, errs.Internal("vectorstore.Get", err)
	}
	v.Vector = vec
	return &v, nil
}

// GetByMemID returns every sector vector stored for a memory, used when
// computing/refreshing the mean vector anchor.
func (s *Store) GetByMemID(ctx context.Context, memID string) ([]*model.SectorVector, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT mem_id, sector, tenant_id, vector_blob, dim, updated_at FROM sector_vectors WHERE mem_id=?`, memID)
	if err != nil {
		return nil, errs.Internal("vectorstore.GetByMemID", err)
	}
	defer rows.Close()
	return scanVectors(rows)
}

// Delete removes one sector's vector for a memory.
func (s *Store) Delete(ctx context.Context, memID string, sector model.Sector) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sector_vectors WHERE mem_id=? AND sector=?`, memID, string(sector))
	if err != nil {
		return errs.Internal("vectorstore.Delete", err)
	}
	return nil
}

// DeleteAll removes every sector vector for a memory, used on memory
// deletion.
func (s *Store) DeleteAll(ctx context.Context, memID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sector_vectors WHERE mem_id=?`, memID)
	if err != nil {
		return errs.Internal("vectorstore.DeleteAll", err)
	}
	return nil
}

// Match is a single scored nearest-neighbor result.
type Match struct {
	MemoryID string
	Sector   model.Sector
	Score    float64
}

// KNN performs a brute-force cosine-similarity scan over every vector
// stored for (tenantID, sector), returning the topK highest-scoring matches.
// Ties break on ascending memory id, matching the teacher's flat index's
// deterministic ordering. tenantID nil scopes to the global bucket.
func (s *Store) KNN(ctx context.Context, tenantID *string, sector model.Sector, query []float32, topK int) ([]Match, error) {
	if err := encoding.ValidateVector(query); err != nil {
		return nil, errs.Invalid("vectorstore.KNN", err)
	}
	var rows *sql.Rows
	var err error
	if tenantID == nil {
		rows, err = s.db.QueryContext(ctx, `SELECT mem_id, vector_blob FROM sector_vectors WHERE tenant_id IS NULL AND sector=?`, string(sector))
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT mem_id, vector_blob FROM sector_vectors WHERE tenant_id=? AND sector=?`, *tenantID, string(sector))
	}
	if err != nil {
		return nil, errs.Internal("vectorstore.KNN", err)
	}
	defer rows.Close()

	var candidates []Match
	for rows.Next() {
		var memID string
		var blob []byte
		if err := rows.Scan(&memID, &blob); err != nil {
			return nil, errs.Internal("vectorstore.KNN", err)
		}
		vec, err := encoding.DecodeVector(blob)
		if err != nil {
			continue
		}
		candidates = append(candidates, Match{MemoryID: memID, Sector: sector, Score: cosineSimilarity(query, vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Internal("vectorstore.KNN", err)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].MemoryID < candidates[j].MemoryID
	})
	if topK > 0 && len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates, nil
}

func scanVectors(rows *sql.Rows) ([]*model.SectorVector, error) {
	var out []*model.SectorVector
	for rows.Next() {
		var v model.SectorVector
		var blob []byte
		if err := rows.Scan(&v.MemoryID, &v.Sector, &v.TenantID, &blob, &v.Dim, &v.UpdatedAt); err != nil {
			return nil, errs.Internal("vectorstore.scanVectors", err)
		}
		vec, err := encoding.DecodeVector(blob)
		if err != nil {
			return nil, errs.Internal("vectorstore.scanVectors", err)
		}
		v.Vector = vec
		out = append(out, &v)
	}
	return out, rows.Err()
}

// cosineSimilarity returns the cosine similarity of a and b, or 0 if either
// is the zero vector. Grounded on the teacher's CosineSimilarity in
// similarity.go.
func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
