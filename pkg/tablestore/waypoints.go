package tablestore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hsgraph/hsg/pkg/errs"
	"github.com/hsgraph/hsg/pkg/model"
)

// UpsertWaypoint writes or reinforces a directed associative edge between
// two memories, scoped to a single tenant (spec.md §3 invariant 5).
func (s *Store) UpsertWaypoint(ctx context.Context, w *model.Waypoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO waypoints (src_id, dst_id, tenant_id, weight, created_at, last_traversed_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(src_id, dst_id) DO UPDATE SET
			weight=excluded.weight, last_traversed_at=excluded.last_traversed_at`,
		w.SrcID, w.DstID, w.TenantID, w.Weight, w.CreatedAt, w.LastTraversedAt,
	)
	if err != nil {
		return errs.Internal("tablestore.UpsertWaypoint", fmt.Errorf("upsert waypoint: %w", err))
	}
	return nil
}

// DeleteWaypoint removes a single directed edge below the prune floor
// (spec.md §4.6's waypoint weighting).
func (s *Store) DeleteWaypoint(ctx context.Context, srcID, dstID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM waypoints WHERE src_id=? AND dst_id=?`, srcID, dstID)
	if err != nil {
		return errs.Internal("tablestore.DeleteWaypoint", err)
	}
	return nil
}

// DeleteWaypointsFor removes every waypoint touching memID, used when a
// memory is deleted.
func (s *Store) DeleteWaypointsFor(ctx context.Context, memID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM waypoints WHERE src_id=? OR dst_id=?`, memID, memID)
	if err != nil {
		return errs.Internal("tablestore.DeleteWaypointsFor", err)
	}
	return nil
}

// WaypointsFrom returns the outgoing edges of srcID for spreading activation
// (spec.md §4.6's BFS over waypoints).
func (s *Store) WaypointsFrom(ctx context.Context, tenantID *string, srcID string) ([]*model.Waypoint, error) {
	var rows *sql.Rows
	var err error
	if tenantID == nil {
		rows, err = s.db.QueryContext(ctx, `SELECT src_id, dst_id, tenant_id, weight, created_at, last_traversed_at FROM waypoints WHERE tenant_id IS NULL AND src_id=?`, srcID)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT src_id, dst_id, tenant_id, weight, created_at, last_traversed_at FROM waypoints WHERE tenant_id=? AND src_id=?`, *tenantID, srcID)
	}
	if err != nil {
		return nil, errs.Internal("tablestore.WaypointsFrom", err)
	}
	defer rows.Close()

	var out []*model.Waypoint
	for rows.Next() {
		var w model.Waypoint
		if err := rows.Scan(&w.SrcID, &w.DstID, &w.TenantID, &w.Weight, &w.CreatedAt, &w.LastTraversedAt); err != nil {
			return nil, errs.Internal("tablestore.WaypointsFrom", err)
		}
		out = append(out, &w)
	}
	return out, rows.Err()
}

// PruneWaypointsBelow deletes every waypoint, across all tenants, whose
// weight has fallen under floor, used by the waypoint-pruning maintenance job.
func (s *Store) PruneWaypointsBelow(ctx context.Context, floor float64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM waypoints WHERE weight < ?`, floor)
	if err != nil {
		return 0, errs.Internal("tablestore.PruneWaypointsBelow", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
