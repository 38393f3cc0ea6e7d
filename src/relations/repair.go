package relations

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tourcraft/src/models"
	"tourcraft/src/store"
)

// Change records one relation edit on an entity: the related id before
// the edit and the related id after it. Empty means "not set".
type Change struct {
	Relation   string
	PreviousID string
	NewID      string
}

// SyncRequest asks the repairer to bring both sides of the listed
// relations back into agreement after an entity save.
type SyncRequest struct {
	Collection string
	EntityID   string

	// EntityData carries the entity's current field values, including
	// denormalized display fields. The repairer does not write it; it
	// is context for callers composing the owner-side update.
	EntityData bson.M

	Changes []Change
}

// Repairer makes both sides of one-to-one relations consistent. Its
// only primitive operations are idempotent array add and array remove
// against the related entities' back-reference fields.
type Repairer struct {
	store  store.DocumentStore
	set    *Set
	logger *zap.SugaredLogger
}

// NewRepairer creates a repairer over the given store and relation table.
func NewRepairer(docStore store.DocumentStore, set *Set, logger *zap.SugaredLogger) *Repairer {
	return &Repairer{
		store:  docStore,
		set:    set,
		logger: logger,
	}
}

// pendingUpdate is one back-reference write the sync decided to issue.
type pendingUpdate struct {
	decl     Declaration
	side     models.UpdateSide
	targetID string
}

// Sync applies the requested relation changes. Per change: unchanged
// relations are a no-op, the entity id is pulled from the previous
// related entity's array, and added to the new related entity's array.
// Every update is attempted even when a sibling fails; the result
// reports each attempt and combines the failures into Err.
func (r *Repairer) Sync(ctx context.Context, req SyncRequest) (*models.RepairResult, error) {
	if req.EntityID == "" {
		return nil, fmt.Errorf("cannot sync relations for an empty entity id")
	}

	var updates []pendingUpdate
	for _, change := range req.Changes {
		decl, ok := r.set.Find(req.Collection, change.Relation)
		if !ok {
			return nil, fmt.Errorf("unknown relation '%s' on collection '%s'", change.Relation, req.Collection)
		}

		if change.NewID == change.PreviousID {
			continue
		}
		if change.PreviousID != "" {
			updates = append(updates, pendingUpdate{decl: decl, side: models.SidePrevious, targetID: change.PreviousID})
		}
		if change.NewID != "" {
			updates = append(updates, pendingUpdate{decl: decl, side: models.SideNew, targetID: change.NewID})
		}
	}

	result := &models.RepairResult{
		Updates: make([]models.UpdateOutcome, len(updates)),
	}
	if len(updates) == 0 {
		return result, nil
	}

	// The per-relation updates are independent documents, so they are
	// issued concurrently. A plain group (no shared cancellation) makes
	// sure a failure on one side never aborts the others.
	var group errgroup.Group
	for i, update := range updates {
		i, update := i, update
		group.Go(func() error {
			err := r.apply(ctx, req.EntityID, update)

			outcome := models.UpdateOutcome{
				Relation:   update.decl.Name,
				Side:       update.side,
				Collection: update.decl.RelatedCollection,
				EntityID:   update.targetID,
				Field:      update.decl.InverseField,
				OK:         err == nil,
			}
			if err != nil {
				outcome.Error = err.Error()
				r.logger.Warnf("Relation '%s' update on %s/%s failed: %v",
					update.decl.Name, update.decl.RelatedCollection, update.targetID, err)
			}
			result.Updates[i] = outcome
			return err
		})
	}

	if err := group.Wait(); err != nil {
		var errs []error
		for _, outcome := range result.Updates {
			if !outcome.OK {
				errs = append(errs, fmt.Errorf("relation '%s' (%s side): %s", outcome.Relation, outcome.Side, outcome.Error))
			}
		}
		result.Err = multierr.Combine(errs...)
	}

	return result, nil
}

func (r *Repairer) apply(ctx context.Context, entityID string, update pendingUpdate) error {
	var op store.Update
	switch update.side {
	case models.SidePrevious:
		op = store.Update{Pull: map[string]string{update.decl.InverseField: entityID}}
	case models.SideNew:
		op = store.Update{AddToSet: map[string]string{update.decl.InverseField: entityID}}
	}
	return r.store.UpdateDocument(ctx, update.decl.RelatedCollection, update.targetID, op)
}

// Heal re-asserts the forward side of every declared relation the
// entity currently holds: for each set foreign key, the entity id is
// added (idempotently) to the related entity's back-reference array.
// This is the defensive self-repair a detail session runs on load.
func (r *Repairer) Heal(ctx context.Context, collection, id string) (*models.RepairResult, error) {
	if id == "" {
		return nil, fmt.Errorf("cannot heal relations for an empty entity id")
	}

	entity, err := r.store.GetDocument(ctx, collection, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load entity %s/%s: %w", collection, id, err)
	}

	var updates []pendingUpdate
	for _, decl := range r.set.ForOwner(collection) {
		if fk := store.StringField(entity, decl.FKField); fk != "" {
			updates = append(updates, pendingUpdate{decl: decl, side: models.SideNew, targetID: fk})
		}
	}

	result := &models.RepairResult{
		Updates: make([]models.UpdateOutcome, len(updates)),
	}
	if len(updates) == 0 {
		return result, nil
	}

	var group errgroup.Group
	for i, update := range updates {
		i, update := i, update
		group.Go(func() error {
			err := r.apply(ctx, id, update)

			outcome := models.UpdateOutcome{
				Relation:   update.decl.Name,
				Side:       update.side,
				Collection: update.decl.RelatedCollection,
				EntityID:   update.targetID,
				Field:      update.decl.InverseField,
				OK:         err == nil,
			}
			if err != nil {
				outcome.Error = err.Error()
			}
			result.Updates[i] = outcome
			return err
		})
	}

	if err := group.Wait(); err != nil {
		var errs []error
		for _, outcome := range result.Updates {
			if !outcome.OK {
				errs = append(errs, fmt.Errorf("relation '%s': %s", outcome.Relation, outcome.Error))
			}
		}
		result.Err = multierr.Combine(errs...)
	}

	return result, nil
}

// ApplyFix executes one mechanical fix descriptor from an audit report.
func (r *Repairer) ApplyFix(ctx context.Context, fix models.Fix) error {
	switch fix.Action {
	case models.FixAddToArray:
		return r.store.UpdateDocument(ctx, fix.Collection, fix.EntityID,
			store.Update{AddToSet: map[string]string{fix.Field: fix.Value}})
	case models.FixRemoveFromArray:
		return r.store.UpdateDocument(ctx, fix.Collection, fix.EntityID,
			store.Update{Pull: map[string]string{fix.Field: fix.Value}})
	default:
		return fmt.Errorf("unknown fix action '%s'", fix.Action)
	}
}
