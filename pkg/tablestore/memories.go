package tablestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hsgraph/hsg/internal/encoding"
	"github.com/hsgraph/hsg/pkg/errs"
	"github.com/hsgraph/hsg/pkg/model"
)

// PutMemory inserts a new memory row or, if id already exists, overwrites it
// unconditionally (used by Reflection/UserSummary workers that own the row
// they write). Callers doing an optimistic update should use UpdateMemory.
func (s *Store) PutMemory(ctx context.Context, m *model.Memory) error {
	tags, err := encoding.EncodeJSON(m.Tags)
	if err != nil {
		return errs.Invalid("tablestore.PutMemory", err)
	}
	meta, err := encoding.EncodeJSON(m.Metadata)
	if err != nil {
		return errs.Invalid("tablestore.PutMemory", err)
	}
	meanVec, err := encoding.EncodeVector(m.MeanVec)
	if err != nil {
		return errs.Invalid("tablestore.PutMemory", err)
	}
	var compressedVec []byte
	if len(m.CompressedVec) > 0 {
		compressedVec, err = encoding.EncodeVector(m.CompressedVec)
		if err != nil {
			return errs.Invalid("tablestore.PutMemory", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (
			id, tenant_id, content_encrypted, primary_sector, tags_json, metadata_json,
			segment, simhash, created_at, updated_at, last_seen_at, salience, decay_lambda,
			version, mean_dim, mean_vec, compressed_vec, coactivations, feedback_score, generated_summary
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_id=excluded.tenant_id, content_encrypted=excluded.content_encrypted,
			primary_sector=excluded.primary_sector, tags_json=excluded.tags_json,
			metadata_json=excluded.metadata_json, segment=excluded.segment, simhash=excluded.simhash,
			updated_at=excluded.updated_at, last_seen_at=excluded.last_seen_at, salience=excluded.salience,
			decay_lambda=excluded.decay_lambda, version=excluded.version, mean_dim=excluded.mean_dim,
			mean_vec=excluded.mean_vec, compressed_vec=excluded.compressed_vec,
			coactivations=excluded.coactivations, feedback_score=excluded.feedback_score,
			generated_summary=excluded.generated_summary`,
		m.ID, m.TenantID, m.Content, string(m.PrimarySector), tags, meta,
		m.Segment, m.SimHash, m.CreatedAt, m.UpdatedAt, m.LastSeenAt, m.Salience, m.DecayLambda,
		m.Version, len(m.MeanVec), meanVec, compressedVec, m.Coactivations, m.FeedbackScore, m.GeneratedSummary,
	)
	if err != nil {
		return errs.Internal("tablestore.PutMemory", fmt.Errorf("insert memory: %w", err))
	}
	return nil
}

// UpdateMemory performs an optimistic-concurrency update: the row is only
// written if its current version equals expectedVersion, matching spec.md
// §7's Conflict error kind for version mismatch.
func (s *Store) UpdateMemory(ctx context.Context, m *model.Memory, expectedVersion int64) error {
	tags, err := encoding.EncodeJSON(m.Tags)
	if err != nil {
		return errs.Invalid("tablestore.UpdateMemory", err)
	}
	meta, err := encoding.EncodeJSON(m.Metadata)
	if err != nil {
		return errs.Invalid("tablestore.UpdateMemory", err)
	}
	meanVec, err := encoding.EncodeVector(m.MeanVec)
	if err != nil {
		return errs.Invalid("tablestore.UpdateMemory", err)
	}
	var compressedVec []byte
	if len(m.CompressedVec) > 0 {
		compressedVec, err = encoding.EncodeVector(m.CompressedVec)
		if err != nil {
			return errs.Invalid("tablestore.UpdateMemory", err)
		}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE memories SET
			content_encrypted=?, primary_sector=?, tags_json=?, metadata_json=?, segment=?,
			simhash=?, updated_at=?, last_seen_at=?, salience=?, decay_lambda=?, version=?,
			mean_dim=?, mean_vec=?, compressed_vec=?, coactivations=?, feedback_score=?, generated_summary=?
		WHERE id=? AND version=?`,
		m.Content, string(m.PrimarySector), tags, meta, m.Segment,
		m.SimHash, m.UpdatedAt, m.LastSeenAt, m.Salience, m.DecayLambda, m.Version,
		len(m.MeanVec), meanVec, compressedVec, m.Coactivations, m.FeedbackScore, m.GeneratedSummary,
		m.ID, expectedVersion,
	)
	if err != nil {
		return errs.Internal("tablestore.UpdateMemory", fmt.Errorf("update memory: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errs.Internal("tablestore.UpdateMemory", err)
	}
	if n == 0 {
		return errs.Conflict("tablestore.UpdateMemory", fmt.Errorf("memory %s version mismatch (expected %d)", m.ID, expectedVersion))
	}
	return nil
}

// GetMemory fetches a memory by id, regardless of tenant (callers must apply
// tenancy.Allow before trusting the result).
func (s *Store) GetMemory(ctx context.Context, id string) (*model.Memory, error) {
	row := s.db.QueryRowContext(ctx, memorySelectColumns+` FROM memories WHERE id=?`, id)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("tablestore.GetMemory", fmt.Errorf("memory %s not found", id))
	}
	if err != nil {
		return nil, errs.Internal("tablestore.GetMemory", err)
	}
	return m, nil
}

// DeleteMemory removes a memory row. It does not cascade to sector_vectors
// or waypoints; callers (HSG Writer) are responsible for the compensating
// deletes across stores (spec.md §4.4's atomicity note).
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id=?`, id)
	if err != nil {
		return errs.Internal("tablestore.DeleteMemory", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errs.NotFound("tablestore.DeleteMemory", fmt.Errorf("memory %s not found", id))
	}
	return nil
}

// ListBySegment returns memories for tenantID (nil = global) whose segment
// is in segments, used by the Decay Worker's segment-sampled sweep
// (spec.md §4.7 step 1). tenantID is nil-safe: pass nil to scan the global
// bucket only.
func (s *Store) ListBySegment(ctx context.Context, tenantID *string, segments []int) ([]*model.Memory, error) {
	if len(segments) == 0 {
		return nil, nil
	}
	placeholders := make([]any, 0, len(segments)+1)
	q := memorySelectColumns + ` FROM memories WHERE `
	if tenantID == nil {
		q += `tenant_id IS NULL AND segment IN (`
	} else {
		q += `tenant_id=? AND segment IN (`
		placeholders = append(placeholders, *tenantID)
	}
	for i, seg := range segments {
		if i > 0 {
			q += ","
		}
		q += "?"
		placeholders = append(placeholders, seg)
	}
	q += ")"

	rows, err := s.db.QueryContext(ctx, q, placeholders...)
	if err != nil {
		return nil, errs.Internal("tablestore.ListBySegment", err)
	}
	defer rows.Close()
	return scanMemoryRows(rows)
}

// ListByTenant returns up to limit memories for tenantID, most recently
// updated first, for the Reflection and User Summary workers' fetch step.
func (s *Store) ListByTenant(ctx context.Context, tenantID *string, limit int) ([]*model.Memory, error) {
	var rows *sql.Rows
	var err error
	if tenantID == nil {
		rows, err = s.db.QueryContext(ctx, memorySelectColumns+` FROM memories WHERE tenant_id IS NULL ORDER BY updated_at DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, memorySelectColumns+` FROM memories WHERE tenant_id=? ORDER BY updated_at DESC LIMIT ?`, *tenantID, limit)
	}
	if err != nil {
		return nil, errs.Internal("tablestore.ListByTenant", err)
	}
	defer rows.Close()
	return scanMemoryRows(rows)
}

// CountByTenant reports how many memories exist for tenantID, used by the
// Reflection Worker's reflectMin gate (spec.md §4.8).
func (s *Store) CountByTenant(ctx context.Context, tenantID *string) (int, error) {
	var n int
	var err error
	if tenantID == nil {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE tenant_id IS NULL`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE tenant_id=?`, *tenantID).Scan(&n)
	}
	if err != nil {
		return 0, errs.Internal("tablestore.CountByTenant", err)
	}
	return n, nil
}

// CountSince reports how many memories for tenantID were created strictly
// after sinceMillis, used by the classifier retrain job to skip tenants with
// too little new training data since their model's last update.
func (s *Store) CountSince(ctx context.Context, tenantID string, sinceMillis int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE tenant_id=? AND created_at>?`, tenantID, sinceMillis).Scan(&n)
	if err != nil {
		return 0, errs.Internal("tablestore.CountSince", err)
	}
	return n, nil
}

// ListTenants returns every distinct non-null tenant id known to the table
// store, used by maintenance jobs that iterate "all tenants".
func (s *Store) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT tenant_id FROM memories WHERE tenant_id IS NOT NULL`)
	if err != nil {
		return nil, errs.Internal("tablestore.ListTenants", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, errs.Internal("tablestore.ListTenants", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// MarkConsolidated sets metadata.consolidated=true on the given memories,
// used by the Reflection Worker after synthesizing a cluster (spec.md §4.8).
func (s *Store) MarkConsolidated(ctx context.Context, ids []string) error {
	for _, id := range ids {
		m, err := s.GetMemory(ctx, id)
		if err != nil {
			continue
		}
		m.Metadata.Consolidated = true
		if err := s.PutMemory(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

const memorySelectColumns = `SELECT
	id, tenant_id, content_encrypted, primary_sector, tags_json, metadata_json,
	segment, simhash, created_at, updated_at, last_seen_at, salience, decay_lambda,
	version, mean_dim, mean_vec, compressed_vec, coactivations, feedback_score, generated_summary`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*model.Memory, error) {
	var m model.Memory
	var tagsJSON, metaJSON string
	var meanVec, compressedVec []byte
	var meanDim int
	var content []byte
	var generatedSummary sql.NullString

	err := row.Scan(
		&m.ID, &m.TenantID, &content, &m.PrimarySector, &tagsJSON, &metaJSON,
		&m.Segment, &m.SimHash, &m.CreatedAt, &m.UpdatedAt, &m.LastSeenAt, &m.Salience, &m.DecayLambda,
		&m.Version, &meanDim, &meanVec, &compressedVec, &m.Coactivations, &m.FeedbackScore, &generatedSummary,
	)
	if err != nil {
		return nil, err
	}
	m.Content = string(content)
	m.GeneratedSummary = generatedSummary.String

	if err := json.Unmarshal([]byte(tagsJSON), &m.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &m.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if len(meanVec) > 0 {
		v, err := encoding.DecodeVector(meanVec)
		if err != nil {
			return nil, fmt.Errorf("decode mean_vec: %w", err)
		}
		m.MeanVec = v
	}
	if len(compressedVec) > 0 {
		v, err := encoding.DecodeVector(compressedVec)
		if err != nil {
			return nil, fmt.Errorf("decode compressed_vec: %w", err)
		}
		m.CompressedVec = v
	}
	return &m, nil
}

func scanMemoryRows(rows *sql.Rows) ([]*model.Memory, error) {
	var out []*model.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, errs.Internal("tablestore.scanMemoryRows", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
