package directors

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"tourcraft/src/events"
	"tourcraft/src/helpers"
	"tourcraft/src/models"
	"tourcraft/src/relations"
	"tourcraft/src/settings"
	"tourcraft/src/store"
)

// EntityService manages CRUD operations on the TourCraft collections.
// Every mutation keeps the declared relations in sync through the
// repairer and announces itself on the event bus.
type EntityService struct {
	store    store.DocumentStore
	set      *relations.Set
	repairer *relations.Repairer
	bus      *events.Bus
	settings *settings.Arguments
	logger   *zap.SugaredLogger
}

// NewEntityService creates a new EntityService
func NewEntityService(docStore store.DocumentStore, set *relations.Set, repairer *relations.Repairer,
	bus *events.Bus,
	settings *settings.Arguments,
	logger *zap.SugaredLogger) *EntityService {
	return &EntityService{
		store:    docStore,
		set:      set,
		repairer: repairer,
		bus:      bus,
		settings: settings,
		logger:   logger,
	}
}

// Store exposes the underlying document store for read paths that work
// on raw documents (auditor, command handling).
func (s *EntityService) Store() store.DocumentStore {
	return s.store
}

// GetEntity loads one raw document from a managed collection.
func (s *EntityService) GetEntity(ctx context.Context, collection, id string) (bson.M, error) {
	if !models.IsKnownCollection(collection) {
		return nil, fmt.Errorf("unknown collection '%s'", collection)
	}
	return s.store.GetDocument(ctx, collection, id)
}

// GetConcert loads one concert as a typed model.
func (s *EntityService) GetConcert(ctx context.Context, id string) (*models.Concert, error) {
	doc, err := s.store.GetDocument(ctx, models.CollectionConcerts, id)
	if err != nil {
		return nil, err
	}
	var concert models.Concert
	if err := decodeDocument(doc, &concert); err != nil {
		return nil, fmt.Errorf("failed to decode concert %s: %w", id, err)
	}
	return &concert, nil
}

// CreateEntity inserts a new document, assigns an id when missing,
// files its declared relations on the related entities and emits an
// update event. Returns the entity id.
func (s *EntityService) CreateEntity(ctx context.Context, collection string, doc bson.M) (string, error) {
	if !models.IsKnownCollection(collection) {
		return "", fmt.Errorf("unknown collection '%s'", collection)
	}

	id := store.DocumentID(doc)
	if id == "" {
		id = helpers.GenerateUUID()
		doc["_id"] = id
	}

	// Every related-side collection carries the back-reference array,
	// so initialize it on insert
	for _, decl := range s.set.ForRelated(collection) {
		if _, ok := doc[decl.InverseField]; !ok {
			doc[decl.InverseField] = []string{}
		}
	}

	s.denormalize(ctx, collection, doc)

	if err := s.store.InsertDocument(ctx, collection, doc); err != nil {
		return "", err
	}

	if s.settings.Debug {
		s.logger.Infof("Created %s/%s", collection, id)
	}

	// File the new entity under everything its foreign keys point at
	var changes []relations.Change
	for _, decl := range s.set.ForOwner(collection) {
		if fk := store.StringField(doc, decl.FKField); fk != "" {
			changes = append(changes, relations.Change{Relation: decl.Name, NewID: fk})
		}
	}
	if len(changes) > 0 {
		result, err := s.repairer.Sync(ctx, relations.SyncRequest{
			Collection: collection,
			EntityID:   id,
			EntityData: doc,
			Changes:    changes,
		})
		if err != nil {
			return id, err
		}
		if !result.OK() {
			return id, fmt.Errorf("entity %s/%s created but relations failed: %w", collection, id, result.Err)
		}
	}

	s.bus.Publish(events.Event{Name: events.EntityUpdated, Collection: collection, ID: id, Data: doc})
	return id, nil
}

// QueryEntities returns every document in the collection whose field
// equals value.
func (s *EntityService) QueryEntities(ctx context.Context, collection, field string, value interface{}) ([]bson.M, error) {
	if !models.IsKnownCollection(collection) {
		return nil, fmt.Errorf("unknown collection '%s'", collection)
	}
	return s.store.QueryWhere(ctx, collection, field, value)
}

// SetField writes one field on one document. When the field is a
// declared foreign key the back-references move with it.
func (s *EntityService) SetField(ctx context.Context, collection, id, field string, value string) (*models.RepairResult, error) {
	doc, err := s.GetEntity(ctx, collection, id)
	if err != nil {
		return nil, err
	}

	var fkDecl *relations.Declaration
	for _, decl := range s.set.ForOwner(collection) {
		if decl.FKField == field {
			d := decl
			fkDecl = &d
			break
		}
	}

	update := store.Update{Set: map[string]interface{}{field: value}}
	if fkDecl != nil {
		// Refresh the denormalized label together with the key
		if label, ok := s.relatedLabel(ctx, *fkDecl, value); ok {
			update.Set[fkDecl.Name+"Nom"] = label
		}
	}
	if err := s.store.UpdateDocument(ctx, collection, id, update); err != nil {
		return nil, err
	}

	if fkDecl == nil {
		s.bus.Publish(events.Event{Name: events.EntityUpdated, Collection: collection, ID: id})
		return &models.RepairResult{}, nil
	}

	result, err := s.repairer.Sync(ctx, relations.SyncRequest{
		Collection: collection,
		EntityID:   id,
		EntityData: doc,
		Changes: []relations.Change{{
			Relation:   fkDecl.Name,
			PreviousID: store.StringField(doc, field),
			NewID:      value,
		}},
	})
	if err != nil {
		return nil, err
	}
	if result.OK() {
		s.bus.Publish(events.Event{Name: events.EntityUpdated, Collection: collection, ID: id})
	}
	return result, result.Err
}

// DeleteEntity removes a document after pruning its id from every
// related entity's back-reference array. Entities that point AT the
// deleted document keep their dangling key; that policy decision is
// left to the auditor and a human.
func (s *EntityService) DeleteEntity(ctx context.Context, collection, id string) (*models.RepairResult, error) {
	doc, err := s.GetEntity(ctx, collection, id)
	if err != nil {
		return nil, err
	}

	var changes []relations.Change
	for _, decl := range s.set.ForOwner(collection) {
		if fk := store.StringField(doc, decl.FKField); fk != "" {
			changes = append(changes, relations.Change{Relation: decl.Name, PreviousID: fk, NewID: ""})
		}
	}

	result := &models.RepairResult{}
	if len(changes) > 0 {
		result, err = s.repairer.Sync(ctx, relations.SyncRequest{
			Collection: collection,
			EntityID:   id,
			EntityData: doc,
			Changes:    changes,
		})
		if err != nil {
			return nil, err
		}
		if !result.OK() {
			// Do not delete while back-references still hold the id
			return result, fmt.Errorf("cannot delete %s/%s, relation cleanup failed: %w", collection, id, result.Err)
		}
	}

	if err := s.store.DeleteDocument(ctx, collection, id); err != nil {
		return result, err
	}

	s.bus.Publish(events.Event{Name: events.EntityDeleted, Collection: collection, ID: id})
	return result, nil
}

// denormalize copies display labels from the related entities onto the
// owner document (artisteNom, lieuNom, lieuVille, ...), matching what
// the edit forms store so list views render without extra reads.
func (s *EntityService) denormalize(ctx context.Context, collection string, doc bson.M) {
	for _, decl := range s.set.ForOwner(collection) {
		fk := store.StringField(doc, decl.FKField)
		if fk == "" {
			continue
		}
		related, err := s.store.GetDocument(ctx, decl.RelatedCollection, fk)
		if err != nil {
			s.logger.Warnf("Could not denormalize relation '%s' of %s: %v", decl.Name, collection, err)
			continue
		}
		if label := store.StringField(related, decl.NameField); label != "" {
			doc[decl.Name+"Nom"] = label
		}
		if decl.RelatedCollection == models.CollectionLieux {
			if ville := store.StringField(related, "ville"); ville != "" {
				doc["lieuVille"] = ville
			}
		}
	}
}

func (s *EntityService) relatedLabel(ctx context.Context, decl relations.Declaration, id string) (string, bool) {
	if id == "" {
		return "", true
	}
	related, err := s.store.GetDocument(ctx, decl.RelatedCollection, id)
	if err != nil {
		return "", false
	}
	return store.StringField(related, decl.NameField), true
}

// decodeDocument converts a raw document into a typed model through a
// bson round trip.
func decodeDocument(doc bson.M, out interface{}) error {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return err
	}
	return bson.Unmarshal(raw, out)
}
