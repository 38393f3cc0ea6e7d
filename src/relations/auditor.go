package relations

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"tourcraft/src/helpers"
	"tourcraft/src/models"
	"tourcraft/src/store"
)

// Auditor runs read-only relation-consistency scans. It never mutates
// anything: every finding is reported, and fetch failures are recorded
// as skipped relations instead of aborting the scan.
type Auditor struct {
	store  store.DocumentStore
	set    *Set
	logger *zap.SugaredLogger
}

// NewAuditor creates an auditor over the given store and relation table.
func NewAuditor(docStore store.DocumentStore, set *Set, logger *zap.SugaredLogger) *Auditor {
	return &Auditor{
		store:  docStore,
		set:    set,
		logger: logger,
	}
}

// Audit checks every declared relation of the entity in both
// directions and returns a diagnostic report. The returned error is
// reserved for unusable input or a store failure on the entity itself;
// all relation-level findings land in the report.
func (a *Auditor) Audit(ctx context.Context, collection, id string) (*models.AuditReport, error) {
	if id == "" {
		return nil, fmt.Errorf("cannot audit an empty entity id")
	}

	report := &models.AuditReport{
		Entity:          models.EntityRef{Collection: collection, ID: id},
		RelatedEntities: make(map[string]bson.M),
	}

	entity, err := a.store.GetDocument(ctx, collection, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			report.Issues = append(report.Issues, models.Issue{
				Kind:    models.IssueEntityNotFound,
				Message: fmt.Sprintf("entity %s/%s does not exist", collection, id),
			})
			return report, nil
		}
		return nil, fmt.Errorf("failed to load entity %s/%s: %w", collection, id, err)
	}

	a.checkForwardKeys(ctx, entity, collection, id, report)
	a.checkInverseArrays(ctx, entity, collection, id, report)
	a.reverseScan(ctx, entity, collection, id, report)

	return report, nil
}

// checkForwardKeys walks the relations where this entity holds the
// scalar foreign key and verifies the related entity files it back.
func (a *Auditor) checkForwardKeys(ctx context.Context, entity bson.M, collection, id string, report *models.AuditReport) {
	for _, decl := range a.set.ForOwner(collection) {
		fk := store.StringField(entity, decl.FKField)
		if fk == "" {
			continue
		}

		related, err := a.store.GetDocument(ctx, decl.RelatedCollection, fk)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				report.Issues = append(report.Issues, models.Issue{
					Kind:     models.IssueOrphanedRelation,
					Relation: decl.Name,
					Message: fmt.Sprintf("%s '%s' of %s/%s points at %s/%s which does not exist",
						decl.FKField, fk, collection, id, decl.RelatedCollection, fk),
				})
				continue
			}
			a.logger.Warnf("Skipping relation '%s' of %s/%s: %v", decl.Name, collection, id, err)
			report.Skipped = append(report.Skipped, models.SkippedRelation{Relation: decl.Name, Reason: err.Error()})
			continue
		}

		report.RelatedEntities[decl.Name] = related

		if !helpers.ContainsID(store.StringArrayField(related, decl.InverseField), id) {
			report.Issues = append(report.Issues, models.Issue{
				Kind:     models.IssueMissingBidirectional,
				Relation: decl.Name,
				Message: fmt.Sprintf("%s/%s is missing '%s' in its %s array",
					decl.RelatedCollection, fk, id, decl.InverseField),
				Fix: &models.Fix{
					Action:     models.FixAddToArray,
					Collection: decl.RelatedCollection,
					EntityID:   fk,
					Field:      decl.InverseField,
					Value:      id,
				},
			})
		}
	}
}

// checkInverseArrays walks the relations where this entity holds the
// back-reference array and verifies every listed owner points back.
func (a *Auditor) checkInverseArrays(ctx context.Context, entity bson.M, collection, id string, report *models.AuditReport) {
	for _, decl := range a.set.ForRelated(collection) {
		for _, ownerID := range store.StringArrayField(entity, decl.InverseField) {
			owner, err := a.store.GetDocument(ctx, decl.OwnerCollection, ownerID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					report.Issues = append(report.Issues, models.Issue{
						Kind:     models.IssueOrphanedRelation,
						Relation: decl.Name,
						Message: fmt.Sprintf("%s array of %s/%s references %s/%s which does not exist",
							decl.InverseField, collection, id, decl.OwnerCollection, ownerID),
					})
					continue
				}
				a.logger.Warnf("Skipping %s entry '%s' of %s/%s: %v", decl.InverseField, ownerID, collection, id, err)
				report.Skipped = append(report.Skipped, models.SkippedRelation{Relation: decl.Name, Reason: err.Error()})
				continue
			}

			if fk := store.StringField(owner, decl.FKField); fk != id {
				report.Issues = append(report.Issues, models.Issue{
					Kind:     models.IssueMissingBidirectional,
					Relation: decl.Name,
					Message: fmt.Sprintf("%s/%s is listed in %s of %s/%s but its %s is '%s'",
						decl.OwnerCollection, ownerID, decl.InverseField, collection, id, decl.FKField, fk),
					Fix: &models.Fix{
						Action:     models.FixRemoveFromArray,
						Collection: collection,
						EntityID:   id,
						Field:      decl.InverseField,
						Value:      ownerID,
					},
				})
			}
		}
	}
}

// reverseScan queries the owners whose foreign key targets this entity
// and reports any that the back-reference array does not list. This
// catches arrays that are simply missing an entry even though no
// forward key was checked from this side.
func (a *Auditor) reverseScan(ctx context.Context, entity bson.M, collection, id string, report *models.AuditReport) {
	for _, decl := range a.set.ForRelated(collection) {
		owners, err := a.store.QueryWhere(ctx, decl.OwnerCollection, decl.FKField, id)
		if err != nil {
			a.logger.Warnf("Skipping reverse scan for relation '%s' of %s/%s: %v", decl.Name, collection, id, err)
			report.Skipped = append(report.Skipped, models.SkippedRelation{Relation: decl.Name, Reason: err.Error()})
			continue
		}

		listed := store.StringArrayField(entity, decl.InverseField)
		for _, owner := range owners {
			ownerID := store.DocumentID(owner)
			if ownerID == "" || helpers.ContainsID(listed, ownerID) {
				continue
			}
			report.Issues = append(report.Issues, models.Issue{
				Kind:     models.IssueMissingBidirectional,
				Relation: decl.Name,
				Message: fmt.Sprintf("%s/%s points at %s/%s through %s but is missing from its %s array",
					decl.OwnerCollection, ownerID, collection, id, decl.FKField, decl.InverseField),
				Fix: &models.Fix{
					Action:     models.FixAddToArray,
					Collection: collection,
					EntityID:   id,
					Field:      decl.InverseField,
					Value:      ownerID,
				},
			})
		}
	}
}
