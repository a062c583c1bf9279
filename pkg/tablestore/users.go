package tablestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hsgraph/hsg/internal/encoding"
	"github.com/hsgraph/hsg/pkg/errs"
	"github.com/hsgraph/hsg/pkg/model"
)

// PutUserProfile writes the User Summary Worker's synthesized profile for a
// tenant (spec.md §4.9).
func (s *Store) PutUserProfile(ctx context.Context, p *model.UserProfile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (tenant_id, summary, reflection_count, created_at, updated_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			summary=excluded.summary, reflection_count=excluded.reflection_count, updated_at=excluded.updated_at`,
		p.TenantID, p.Summary, p.ReflectionCount, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return errs.Internal("tablestore.PutUserProfile", fmt.Errorf("upsert user profile: %w", err))
	}
	return nil
}

// GetUserProfile fetches a tenant's synthesized profile.
func (s *Store) GetUserProfile(ctx context.Context, tenantID string) (*model.UserProfile, error) {
	var p model.UserProfile
	err := s.db.QueryRowContext(ctx, `SELECT tenant_id, summary, reflection_count, created_at, updated_at FROM users WHERE tenant_id=?`, tenantID).
		Scan(&p.TenantID, &p.Summary, &p.ReflectionCount, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("tablestore.GetUserProfile", fmt.Errorf("user profile %s not found", tenantID))
	}
	if err != nil {
		return nil, errs.Internal("tablestore.GetUserProfile", err)
	}
	return &p, nil
}

// PutClassifierModel persists a tenant's online linear classifier weights
// (spec.md §4.10).
func (s *Store) PutClassifierModel(ctx context.Context, m *model.ClassifierModel) error {
	weightsJSON, err := encoding.EncodeJSON(m.Weights)
	if err != nil {
		return errs.Invalid("tablestore.PutClassifierModel", err)
	}
	biasesJSON, err := encoding.EncodeJSON(m.Biases)
	if err != nil {
		return errs.Invalid("tablestore.PutClassifierModel", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO classifier_models (tenant_id, weights_json, biases_json, version, updated_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			weights_json=excluded.weights_json, biases_json=excluded.biases_json,
			version=excluded.version, updated_at=excluded.updated_at`,
		m.TenantID, weightsJSON, biasesJSON, m.Version, m.UpdatedAt,
	)
	if err != nil {
		return errs.Internal("tablestore.PutClassifierModel", fmt.Errorf("upsert classifier model: %w", err))
	}
	return nil
}

// GetClassifierModel fetches a tenant's classifier weights.
func (s *Store) GetClassifierModel(ctx context.Context, tenantID string) (*model.ClassifierModel, error) {
	var m model.ClassifierModel
	var weightsJSON, biasesJSON string
	err := s.db.QueryRowContext(ctx, `SELECT tenant_id, weights_json, biases_json, version, updated_at FROM classifier_models WHERE tenant_id=?`, tenantID).
		Scan(&m.TenantID, &weightsJSON, &biasesJSON, &m.Version, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("tablestore.GetClassifierModel", fmt.Errorf("classifier model %s not found", tenantID))
	}
	if err != nil {
		return nil, errs.Internal("tablestore.GetClassifierModel", err)
	}
	if err := encoding.DecodeJSON(weightsJSON, &m.Weights); err != nil {
		return nil, errs.Internal("tablestore.GetClassifierModel", err)
	}
	if err := encoding.DecodeJSON(biasesJSON, &m.Biases); err != nil {
		return nil, errs.Internal("tablestore.GetClassifierModel", err)
	}
	return &m, nil
}

// PutStat appends a maintenance stat row (spec.md §3 MaintenanceStat).
func (s *Store) PutStat(ctx context.Context, st *model.MaintenanceStat) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO stats (id, type, count, ts) VALUES (?,?,?,?)`,
		st.ID, st.Type, st.Count, st.Timestamp)
	if err != nil {
		return errs.Internal("tablestore.PutStat", fmt.Errorf("insert stat: %w", err))
	}
	return nil
}

// RecentStats returns the most recent limit stats of the given type, newest
// first, used by the health Snapshot().
func (s *Store) RecentStats(ctx context.Context, statType string, limit int) ([]*model.MaintenanceStat, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, type, count, ts FROM stats WHERE type=? ORDER BY ts DESC LIMIT ?`, statType, limit)
	if err != nil {
		return nil, errs.Internal("tablestore.RecentStats", err)
	}
	defer rows.Close()

	var out []*model.MaintenanceStat
	for rows.Next() {
		var st model.MaintenanceStat
		if err := rows.Scan(&st.ID, &st.Type, &st.Count, &st.Timestamp); err != nil {
			return nil, errs.Internal("tablestore.RecentStats", err)
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}
