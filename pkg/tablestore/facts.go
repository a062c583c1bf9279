package tablestore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hsgraph/hsg/internal/encoding"
	"github.com/hsgraph/hsg/pkg/errs"
	"github.com/hsgraph/hsg/pkg/model"
)

// PutFact inserts or overwrites a temporal (subject, predicate, object)
// triple (spec.md §3).
func (s *Store) PutFact(ctx context.Context, f *model.Fact) error {
	meta, err := encoding.EncodeJSON(f.Metadata)
	if err != nil {
		return errs.Invalid("tablestore.PutFact", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO facts (id, tenant_id, subject, predicate, object, valid_from, valid_to, confidence, metadata_json)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			subject=excluded.subject, predicate=excluded.predicate, object=excluded.object,
			valid_from=excluded.valid_from, valid_to=excluded.valid_to,
			confidence=excluded.confidence, metadata_json=excluded.metadata_json`,
		f.ID, f.TenantID, f.Subject, f.Predicate, f.Object, f.ValidFrom, f.ValidTo, f.Confidence, meta,
	)
	if err != nil {
		return errs.Internal("tablestore.PutFact", fmt.Errorf("upsert fact: %w", err))
	}
	return nil
}

// DeleteFact removes a fact by id.
func (s *Store) DeleteFact(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM facts WHERE id=?`, id)
	if err != nil {
		return errs.Internal("tablestore.DeleteFact", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errs.NotFound("tablestore.DeleteFact", fmt.Errorf("fact %s not found", id))
	}
	return nil
}

// FactsBySubject returns every fact for tenantID with the given subject; it
// does not filter on valid_from/valid_to.
func (s *Store) FactsBySubject(ctx context.Context, tenantID *string, subject string) ([]*model.Fact, error) {
	var rows *sql.Rows
	var err error
	if tenantID == nil {
		rows, err = s.db.QueryContext(ctx, `SELECT id, tenant_id, subject, predicate, object, valid_from, valid_to, confidence, metadata_json FROM facts WHERE tenant_id IS NULL AND subject=?`, subject)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT id, tenant_id, subject, predicate, object, valid_from, valid_to, confidence, metadata_json FROM facts WHERE tenant_id=? AND subject=?`, *tenantID, subject)
	}
	if err != nil {
		return nil, errs.Internal("tablestore.FactsBySubject", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

func scanFacts(rows *sql.Rows) ([]*model.Fact, error) {
	var out []*model.Fact
	for rows.Next() {
		var f model.Fact
		var metaJSON string
		if err := rows.Scan(&f.ID, &f.TenantID, &f.Subject, &f.Predicate, &f.Object, &f.ValidFrom, &f.ValidTo, &f.Confidence, &metaJSON); err != nil {
			return nil, errs.Internal("tablestore.scanFacts", err)
		}
		if err := encoding.DecodeJSON(metaJSON, &f.Metadata); err != nil {
			return nil, errs.Internal("tablestore.scanFacts", err)
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

// PutTemporalEdge inserts or overwrites a typed, time-bounded relation
// between two memories or facts (spec.md §3).
func (s *Store) PutTemporalEdge(ctx context.Context, e *model.TemporalEdge) error {
	meta, err := encoding.EncodeJSON(e.Metadata)
	if err != nil {
		return errs.Invalid("tablestore.PutTemporalEdge", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO temporal_edges (id, source_id, target_id, relation_type, valid_from, valid_to, weight, tenant_id, metadata_json)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			source_id=excluded.source_id, target_id=excluded.target_id, relation_type=excluded.relation_type,
			valid_from=excluded.valid_from, valid_to=excluded.valid_to, weight=excluded.weight,
			metadata_json=excluded.metadata_json`,
		e.ID, e.SourceID, e.TargetID, e.RelationType, e.ValidFrom, e.ValidTo, e.Weight, e.TenantID, meta,
	)
	if err != nil {
		return errs.Internal("tablestore.PutTemporalEdge", fmt.Errorf("upsert temporal edge: %w", err))
	}
	return nil
}

// DeleteTemporalEdge removes a temporal edge by id.
func (s *Store) DeleteTemporalEdge(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM temporal_edges WHERE id=?`, id)
	if err != nil {
		return errs.Internal("tablestore.DeleteTemporalEdge", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errs.NotFound("tablestore.DeleteTemporalEdge", fmt.Errorf("temporal edge %s not found", id))
	}
	return nil
}

// DeleteTemporalEdgesFor removes every edge touching memID as either
// endpoint, used when a memory is deleted (spec.md §3's cascade invariant).
func (s *Store) DeleteTemporalEdgesFor(ctx context.Context, memID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM temporal_edges WHERE source_id=? OR target_id=?`, memID, memID)
	if err != nil {
		return errs.Internal("tablestore.DeleteTemporalEdgesFor", err)
	}
	return nil
}

// TemporalEdgesFrom returns edges originating at sourceID for tenantID.
func (s *Store) TemporalEdgesFrom(ctx context.Context, tenantID *string, sourceID string) ([]*model.TemporalEdge, error) {
	var rows *sql.Rows
	var err error
	if tenantID == nil {
		rows, err = s.db.QueryContext(ctx, `SELECT id, source_id, target_id, relation_type, valid_from, valid_to, weight, tenant_id, metadata_json FROM temporal_edges WHERE tenant_id IS NULL AND source_id=?`, sourceID)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT id, source_id, target_id, relation_type, valid_from, valid_to, weight, tenant_id, metadata_json FROM temporal_edges WHERE tenant_id=? AND source_id=?`, *tenantID, sourceID)
	}
	if err != nil {
		return nil, errs.Internal("tablestore.TemporalEdgesFrom", err)
	}
	defer rows.Close()

	var out []*model.TemporalEdge
	for rows.Next() {
		var e model.TemporalEdge
		var metaJSON string
		if err := rows.Scan(&e.ID, &e.SourceID, &e.TargetID, &e.RelationType, &e.ValidFrom, &e.ValidTo, &e.Weight, &e.TenantID, &metaJSON); err != nil {
			return nil, errs.Internal("tablestore.TemporalEdgesFrom", err)
		}
		if err := encoding.DecodeJSON(metaJSON, &e.Metadata); err != nil {
			return nil, errs.Internal("tablestore.TemporalEdgesFrom", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
