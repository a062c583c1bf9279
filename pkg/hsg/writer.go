package hsg

import (
	"context"
	"fmt"

	"github.com/hsgraph/hsg/pkg/dynamics"
	"github.com/hsgraph/hsg/pkg/errs"
	"github.com/hsgraph/hsg/pkg/eventbus"
	"github.com/hsgraph/hsg/pkg/model"
	"github.com/hsgraph/hsg/pkg/tenancy"
)

// tenantKey converts a *string tenant id into the string the Router/
// Classifier key their per-tenant state by: "" means the global bucket.
func tenantKey(tenantID *string) string {
	if tenantID == nil {
		return ""
	}
	return *tenantID
}

// Add implements HSG Writer's add(content, tags, metadata, tenantId) ->
// Memory (spec.md §4.4).
func (e *Engine) Add(ctx context.Context, secCtx tenancy.Context, content string, tags []string, metadata model.MemoryMetadata, tenantID *string) (*model.Memory, error) {
	if err := allowWrite(secCtx, tenantID); err != nil {
		return nil, err
	}
	if content == "" {
		return nil, errs.Invalid("hsg.Add", fmt.Errorf("content must not be empty"))
	}
	if e.writeLimiter != nil && !e.writeLimiter.allow(tenantID) {
		return nil, errs.Unavailable("hsg.Add", fmt.Errorf("write rate limit exceeded for tenant"))
	}

	// Step 1: canonicalize (handled by tokenize at read/route time) and
	// encrypt content; compute simhash over the plaintext.
	sh := simhash64(content)
	encrypted, err := e.box.SealString(content)
	if err != nil {
		return nil, errs.Internal("hsg.Add", fmt.Errorf("seal content: %w", err))
	}

	// Decision #5: embed once into the semantic sector to obtain a
	// provisional feature vector, route on that, then embed into whatever
	// sectors the router actually decided, reusing the provisional vector
	// if semantic is itself the chosen primary sector.
	provisionalVec, err := e.enc.Embed(ctx, content, model.SectorSemantic)
	if err != nil {
		return nil, errs.Unavailable("hsg.Add", fmt.Errorf("provisional embed: %w", err))
	}
	route, err := e.router.Route(ctx, tenantKey(tenantID), content, provisionalVec)
	if err != nil {
		return nil, err
	}

	targetSectors := append([]model.Sector{route.PrimarySector}, route.SecondarySectors...)
	vecs, err := e.embedSectors(ctx, content, model.SectorSemantic, provisionalVec, targetSectors)
	if err != nil {
		return nil, err
	}

	// Step 3: sample a segment id in [0, S).
	segment := e.randSegment(e.cfg.SegmentCount)

	now := e.now()
	mem := &model.Memory{
		ID:            e.newID(),
		TenantID:      tenantID,
		Content:       string(encrypted),
		PrimarySector: route.PrimarySector,
		Tags:          tags,
		Metadata:      metadata,
		Segment:       segment,
		SimHash:       sh,
		CreatedAt:     now,
		UpdatedAt:     now,
		LastSeenAt:    now,
		Salience:      0.5,
		DecayLambda:   dynamics.LambdaWarm,
		Version:       1,
		MeanVec:       meanVector(vecs),
	}

	// Step 4: insert row; then per-sector vectors; then open waypoints.
	// Atomicity: the row must never be left without its primary vector, so
	// the primary sector vector is written first and a failure writing it
	// triggers a compensating delete of the row. Secondary-vector and
	// waypoint failures are logged and do not undo the write.
	if err := e.tables.PutMemory(ctx, mem); err != nil {
		return nil, err
	}
	if err := e.writeSectorVector(ctx, mem, route.PrimarySector, vecs[route.PrimarySector]); err != nil {
		_ = e.tables.DeleteMemory(ctx, mem.ID)
		return nil, err
	}
	for _, sector := range route.SecondarySectors {
		if err := e.writeSectorVector(ctx, mem, sector, vecs[sector]); err != nil {
			e.log.Warnw("hsg.Add: failed to write secondary sector vector, continuing", "memId", mem.ID, "sector", sector, "error", err)
			continue
		}
	}

	if err := e.openWaypoints(ctx, mem, route.PrimarySector, vecs[route.PrimarySector]); err != nil {
		e.log.Warnw("hsg.Add: failed to open waypoints", "memId", mem.ID, "error", err)
	}

	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Kind: eventbus.MemoryAdded, TenantID: tenantID, Payload: map[string]any{"memId": mem.ID}})
	}
	return mem, nil
}

// AddToSector bypasses Sector Router classification to write a memory
// directly into a known sector, for system-generated memories the Reflection
// Worker (spec.md §4.8 step 7: "primarySector=reflective") and User Summary
// Worker create outside the normal routed write path. It otherwise follows
// the same atomicity and waypoint-wiring steps as Add.
func (e *Engine) AddToSector(ctx context.Context, secCtx tenancy.Context, content string, sector model.Sector, tags []string, metadata model.MemoryMetadata, tenantID *string) (*model.Memory, error) {
	if err := allowWrite(secCtx, tenantID); err != nil {
		return nil, err
	}
	if content == "" {
		return nil, errs.Invalid("hsg.AddToSector", fmt.Errorf("content must not be empty"))
	}

	sh := simhash64(content)
	encrypted, err := e.box.SealString(content)
	if err != nil {
		return nil, errs.Internal("hsg.AddToSector", fmt.Errorf("seal content: %w", err))
	}
	vec, err := e.enc.Embed(ctx, content, sector)
	if err != nil {
		return nil, errs.Unavailable("hsg.AddToSector", fmt.Errorf("embed: %w", err))
	}

	segment := e.randSegment(e.cfg.SegmentCount)
	now := e.now()
	mem := &model.Memory{
		ID:            e.newID(),
		TenantID:      tenantID,
		Content:       string(encrypted),
		PrimarySector: sector,
		Tags:          tags,
		Metadata:      metadata,
		Segment:       segment,
		SimHash:       sh,
		CreatedAt:     now,
		UpdatedAt:     now,
		LastSeenAt:    now,
		Salience:      0.5,
		DecayLambda:   dynamics.LambdaWarm,
		Version:       1,
		MeanVec:       vec,
	}

	if err := e.tables.PutMemory(ctx, mem); err != nil {
		return nil, err
	}
	if err := e.writeSectorVector(ctx, mem, sector, vec); err != nil {
		_ = e.tables.DeleteMemory(ctx, mem.ID)
		return nil, err
	}
	if err := e.openWaypoints(ctx, mem, sector, vec); err != nil {
		e.log.Warnw("hsg.AddToSector: failed to open waypoints", "memId", mem.ID, "error", err)
	}
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Kind: eventbus.MemoryAdded, TenantID: tenantID, Payload: map[string]any{"memId": mem.ID}})
	}
	return mem, nil
}

func (e *Engine) writeSectorVector(ctx context.Context, mem *model.Memory, sector model.Sector, vec []float32) error {
	return e.vectors.Put(ctx, &model.SectorVector{
		MemoryID:  mem.ID,
		Sector:    sector,
		TenantID:  mem.TenantID,
		Vector:    vec,
		Dim:       len(vec),
		UpdatedAt: mem.UpdatedAt,
	})
}

// openWaypoints wires directed edges to the top-K most similar memories
// within the same primary sector and tenant (spec.md §4.4 step 4).
func (e *Engine) openWaypoints(ctx context.Context, mem *model.Memory, sector model.Sector, vec []float32) error {
	if len(vec) == 0 || e.cfg.WaypointK <= 0 {
		return nil
	}
	matches, err := e.vectors.KNN(ctx, mem.TenantID, sector, vec, e.cfg.WaypointK+1)
	if err != nil {
		return err
	}
	for _, m := range matches {
		if m.MemoryID == mem.ID {
			continue
		}
		weight := dynamics.WaypointWeight(m.Score, 0)
		if !dynamics.ShouldWriteWaypoint(weight) {
			continue
		}
		if err := e.tables.UpsertWaypoint(ctx, &model.Waypoint{
			SrcID:           mem.ID,
			DstID:           m.MemoryID,
			TenantID:        mem.TenantID,
			Weight:          weight,
			CreatedAt:       mem.CreatedAt,
			LastTraversedAt: mem.CreatedAt,
		}); err != nil {
			return err
		}
	}
	return nil
}

// Update implements HSG Writer's update: changing content, tags, or
// metadata; re-embeds only if content changed (spec.md §4.4).
func (e *Engine) Update(ctx context.Context, secCtx tenancy.Context, memID string, newContent *string, tags []string, metadata *model.MemoryMetadata, expectedVersion int64) (*model.Memory, error) {
	mem, err := e.tables.GetMemory(ctx, memID)
	if err != nil {
		return nil, err
	}
	if err := allowWrite(secCtx, mem.TenantID); err != nil {
		return nil, err
	}

	contentChanged := false
	if newContent != nil {
		decrypted, derr := e.box.OpenString([]byte(mem.Content))
		if derr != nil {
			decrypted = ""
		}
		if decrypted != *newContent {
			contentChanged = true
			encrypted, serr := e.box.SealString(*newContent)
			if serr != nil {
				return nil, errs.Internal("hsg.Update", serr)
			}
			mem.Content = string(encrypted)
			mem.SimHash = simhash64(*newContent)
		}
	}
	if tags != nil {
		mem.Tags = tags
	}
	if metadata != nil {
		mem.Metadata = *metadata
	}

	if contentChanged {
		provisionalVec, err := e.enc.Embed(ctx, *newContent, model.SectorSemantic)
		if err != nil {
			return nil, errs.Unavailable("hsg.Update", err)
		}
		route, err := e.router.Route(ctx, tenantKey(mem.TenantID), *newContent, provisionalVec)
		if err != nil {
			return nil, err
		}
		targetSectors := append([]model.Sector{route.PrimarySector}, route.SecondarySectors...)
		vecs, err := e.embedSectors(ctx, *newContent, model.SectorSemantic, provisionalVec, targetSectors)
		if err != nil {
			return nil, err
		}
		mem.PrimarySector = route.PrimarySector
		mem.MeanVec = meanVector(vecs)
		if err := e.vectors.DeleteAll(ctx, mem.ID); err != nil {
			return nil, err
		}
		for sector, vec := range vecs {
			if err := e.writeSectorVector(ctx, mem, sector, vec); err != nil {
				return nil, err
			}
		}
	}

	mem.UpdatedAt = e.now()
	mem.Version = expectedVersion + 1
	if err := e.tables.UpdateMemory(ctx, mem, expectedVersion); err != nil {
		return nil, err
	}
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Kind: eventbus.MemoryUpdated, TenantID: mem.TenantID, Payload: map[string]any{"memId": mem.ID}})
	}
	return mem, nil
}

// Reinforce boosts a memory's salience and refreshes lastSeenAt (spec.md
// §4.4: reinforce(memId, boost), default boost 0.1).
func (e *Engine) Reinforce(ctx context.Context, secCtx tenancy.Context, memID string, boost float64) (*model.Memory, error) {
	mem, err := e.tables.GetMemory(ctx, memID)
	if err != nil {
		return nil, err
	}
	if err := allowWrite(secCtx, mem.TenantID); err != nil {
		return nil, err
	}
	if boost == 0 {
		boost = e.cfg.DefaultReinforceBoost
	}
	expected := mem.Version
	mem.Salience = dynamics.Reinforce(mem.Salience, boost)
	mem.LastSeenAt = e.now()
	mem.Coactivations++
	mem.UpdatedAt = mem.LastSeenAt
	mem.Version = expected + 1
	if err := e.tables.UpdateMemory(ctx, mem, expected); err != nil {
		return nil, err
	}
	return mem, nil
}

// Delete removes a memory and cascades to its sector vectors, waypoints,
// and temporal edges. Facts are not removed: a model.Fact row carries no
// memory id to cascade from.
func (e *Engine) Delete(ctx context.Context, secCtx tenancy.Context, memID string) error {
	mem, err := e.tables.GetMemory(ctx, memID)
	if err != nil {
		return err
	}
	if err := allowWrite(secCtx, mem.TenantID); err != nil {
		return err
	}
	if err := e.vectors.DeleteAll(ctx, memID); err != nil {
		return err
	}
	if err := e.tables.DeleteWaypointsFor(ctx, memID); err != nil {
		return err
	}
	if err := e.tables.DeleteTemporalEdgesFor(ctx, memID); err != nil {
		return err
	}
	if err := e.tables.DeleteMemory(ctx, memID); err != nil {
		return err
	}
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Kind: eventbus.MemoryDeleted, TenantID: mem.TenantID, Payload: map[string]any{"memId": memID}})
	}
	return nil
}

// DeleteAllForTenant wipes every memory scoped to tenantID (nil means the
// global bucket, and requires secCtx.IsAdmin per spec.md §9 open question 2),
// cascading each one through Delete. When secCtx.AnyTenant is set (an admin
// passed tenantId=undefined meaning "every tenant", per SPEC_FULL.md's open
// question decision #2), tenantID is ignored and every known tenant plus the
// global bucket is wiped instead. Returns the total number of memories
// actually deleted across whatever scope was wiped.
func (e *Engine) DeleteAllForTenant(ctx context.Context, secCtx tenancy.Context, tenantID *string) (int, error) {
	if secCtx.AnyTenant {
		if !secCtx.IsAdmin {
			return 0, errs.Forbidden("hsg.DeleteAllForTenant", fmt.Errorf("any-tenant wipe requires admin"))
		}
		tenants, err := e.tables.ListTenants(ctx)
		if err != nil {
			return 0, err
		}
		total := 0
		scopes := make([]*string, 0, len(tenants)+1)
		for i := range tenants {
			scopes = append(scopes, &tenants[i])
		}
		scopes = append(scopes, nil)
		for _, scope := range scopes {
			n, err := e.deleteAllForSingleTenant(ctx, secCtx, scope)
			if err != nil {
				return total, err
			}
			total += n
		}
		return total, nil
	}
	return e.deleteAllForSingleTenant(ctx, secCtx, tenantID)
}

// deleteAllForSingleTenant is DeleteAllForTenant's per-tenant worker: it
// wipes exactly the bucket named by tenantID (nil for the global bucket),
// never consulting secCtx.AnyTenant.
func (e *Engine) deleteAllForSingleTenant(ctx context.Context, secCtx tenancy.Context, tenantID *string) (int, error) {
	if tenantID == nil && !secCtx.IsAdmin {
		return 0, errs.Forbidden("hsg.DeleteAllForTenant", fmt.Errorf("global wipe requires admin"))
	}
	if err := allowWrite(secCtx, tenantID); err != nil {
		return 0, err
	}
	total, err := e.tables.CountByTenant(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	mems, err := e.tables.ListByTenant(ctx, tenantID, total)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, mem := range mems {
		if err := e.Delete(ctx, secCtx, mem.ID); err != nil {
			e.log.Warnw("hsg.DeleteAllForTenant: failed to delete memory, continuing", "memId", mem.ID, "error", err)
			continue
		}
		deleted++
	}
	return deleted, nil
}
