package directors

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tourcraft/src/events"
	"tourcraft/src/models"
	"tourcraft/src/relations"
	"tourcraft/src/settings"
	"tourcraft/src/store"
)

// SessionState is the lifecycle state of a detail session.
type SessionState string

const (
	StateIdle    SessionState = "idle"
	StateLoading SessionState = "loading"
	StateLoaded  SessionState = "loaded"
	StateError   SessionState = "error"
	StateEditing SessionState = "editing"
	StateSaving  SessionState = "saving"
)

// DetailService creates detail sessions: the server-side counterpart
// of an entity detail screen, driving load, edit, save and the
// relation reconciliation around each of those steps.
type DetailService struct {
	store    store.DocumentStore
	set      *relations.Set
	repairer *relations.Repairer
	entities *EntityService
	bus      *events.Bus
	settings *settings.Arguments
	logger   *zap.SugaredLogger
}

// NewDetailService creates a new DetailService
func NewDetailService(docStore store.DocumentStore, set *relations.Set, repairer *relations.Repairer,
	entities *EntityService,
	bus *events.Bus,
	settings *settings.Arguments,
	logger *zap.SugaredLogger) *DetailService {
	return &DetailService{
		store:    docStore,
		set:      set,
		repairer: repairer,
		entities: entities,
		bus:      bus,
		settings: settings,
		logger:   logger,
	}
}

// NewSession creates an idle session for one entity.
func (s *DetailService) NewSession(collection, id string) *DetailSession {
	return &DetailSession{
		svc:        s,
		collection: collection,
		id:         id,
		state:      StateIdle,
		related:    make(map[string]bson.M),
	}
}

// DetailSession drives one entity detail screen through its lifecycle:
// idle -> loading -> {loaded, error}; loaded: viewing <-> editing;
// editing -> saving -> loaded on success or back to editing on failure.
type DetailSession struct {
	svc        *DetailService
	collection string
	id         string

	mu         sync.Mutex
	state      SessionState
	generation int
	entity     bson.M
	related    map[string]bson.M
	lastErr    error
}

// State returns the current lifecycle state.
func (d *DetailSession) State() SessionState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Err returns the error of the last failed step, if any.
func (d *DetailSession) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

// Entity returns a copy of the loaded document. A copy, because the
// session keeps mutating its own map on later submits.
func (d *DetailSession) Entity() bson.M {
	d.mu.Lock()
	defer d.mu.Unlock()
	return store.CopyDocument(d.entity)
}

// Related returns a related entity loaded by the last Load, by
// relation name.
func (d *DetailSession) Related(name string) bson.M {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.related[name]
}

// Load fetches the entity and, by its scalar foreign keys, the related
// entities, then runs a defensive relation heal. A heal failure is
// logged and swallowed: it must never block viewing the entity. When
// several loads race, the latest one wins; a superseded load never
// overwrites fresher state.
func (d *DetailSession) Load(ctx context.Context) error {
	d.mu.Lock()
	d.generation++
	gen := d.generation
	d.state = StateLoading
	d.mu.Unlock()

	entity, err := d.svc.store.GetDocument(ctx, d.collection, d.id)
	if err != nil {
		d.commitError(gen, fmt.Errorf("failed to load %s/%s: %w", d.collection, d.id, err))
		return err
	}

	related, err := d.loadRelated(ctx, entity)
	if err != nil {
		d.commitError(gen, err)
		return err
	}

	if d.svc.settings.RepairOnLoad {
		// Self-heal drift even without a user edit. Kept from the
		// observed screen behavior; failures only reach the log.
		if result, healErr := d.svc.repairer.Heal(ctx, d.collection, d.id); healErr != nil {
			d.svc.logger.Warnf("Relation heal on load of %s/%s failed: %v", d.collection, d.id, healErr)
		} else if !result.OK() {
			d.svc.logger.Warnf("Relation heal on load of %s/%s left relations %v unrepaired: %v",
				d.collection, d.id, result.FailedRelations(), result.Err)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if gen != d.generation {
		// A newer load is in flight or already landed
		return nil
	}
	d.state = StateLoaded
	d.entity = entity
	d.related = related
	d.lastErr = nil
	return nil
}

// loadRelated fans out one read per declared foreign key the entity
// currently holds. A missing related document is tolerated here; the
// auditor is the place that reports it.
func (d *DetailSession) loadRelated(ctx context.Context, entity bson.M) (map[string]bson.M, error) {
	related := make(map[string]bson.M)
	var mu sync.Mutex
	var group errgroup.Group

	for _, decl := range d.svc.set.ForOwner(d.collection) {
		fk := store.StringField(entity, decl.FKField)
		if fk == "" {
			continue
		}
		decl := decl
		group.Go(func() error {
			doc, err := d.svc.store.GetDocument(ctx, decl.RelatedCollection, fk)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					d.svc.logger.Warnf("Relation '%s' of %s/%s points at missing %s/%s",
						decl.Name, d.collection, d.id, decl.RelatedCollection, fk)
					return nil
				}
				return fmt.Errorf("failed to load relation '%s': %w", decl.Name, err)
			}
			mu.Lock()
			related[decl.Name] = doc
			mu.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return related, nil
}

func (d *DetailSession) commitError(gen int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if gen != d.generation {
		return
	}
	d.state = StateError
	d.lastErr = err
}

// BeginEdit moves a loaded session into editing.
func (d *DetailSession) BeginEdit() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateLoaded {
		return fmt.Errorf("cannot edit in state '%s'", d.state)
	}
	d.state = StateEditing
	return nil
}

// CancelEdit returns to viewing without committing any form field.
func (d *DetailSession) CancelEdit() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateEditing {
		return fmt.Errorf("cannot cancel in state '%s'", d.state)
	}
	d.state = StateLoaded
	return nil
}

// Submit commits the edited fields: write the entity, then bring every
// changed relation back into agreement. A write or repair failure
// keeps the session in editing so the user can retry; a repair failure
// after a successful entity write is still surfaced as a save error
// because the data is now only partially consistent.
func (d *DetailSession) Submit(ctx context.Context, fields bson.M) (*models.RepairResult, error) {
	d.mu.Lock()
	if d.state != StateEditing {
		state := d.state
		d.mu.Unlock()
		return nil, fmt.Errorf("cannot submit in state '%s'", state)
	}
	d.state = StateSaving
	previous := d.entity
	d.mu.Unlock()

	fail := func(err error) (*models.RepairResult, error) {
		d.mu.Lock()
		d.state = StateEditing
		d.lastErr = err
		d.mu.Unlock()
		return nil, err
	}

	// Diff the declared foreign keys before touching anything
	var changes []relations.Change
	for _, decl := range d.svc.set.ForOwner(d.collection) {
		if _, touched := fields[decl.FKField]; !touched {
			continue
		}
		prevID := store.StringField(previous, decl.FKField)
		newID := store.StringField(fields, decl.FKField)
		if prevID == newID {
			continue
		}
		changes = append(changes, relations.Change{Relation: decl.Name, PreviousID: prevID, NewID: newID})

		// Keep the denormalized label in step with the key
		if label, ok := d.svc.entities.relatedLabel(ctx, decl, newID); ok {
			fields[decl.Name+"Nom"] = label
		}
	}

	if err := d.svc.store.UpdateDocument(ctx, d.collection, d.id, store.Update{Set: fields}); err != nil {
		return fail(fmt.Errorf("failed to save %s/%s: %w", d.collection, d.id, err))
	}

	syncResult := &models.RepairResult{}
	if len(changes) > 0 {
		result, err := d.svc.repairer.Sync(ctx, relations.SyncRequest{
			Collection: d.collection,
			EntityID:   d.id,
			EntityData: fields,
			Changes:    changes,
		})
		if err != nil {
			return fail(err)
		}
		if !result.OK() {
			_, err := fail(fmt.Errorf("entity saved but relations failed: %w", result.Err))
			return result, err
		}
		syncResult = result
	}

	d.mu.Lock()
	for field, value := range fields {
		d.entity[field] = value
	}
	d.state = StateLoaded
	d.lastErr = nil
	entity := store.CopyDocument(d.entity)
	d.mu.Unlock()

	d.svc.bus.Publish(events.Event{
		Name:       events.EntityUpdated,
		Collection: d.collection,
		ID:         d.id,
		Data:       entity,
	})
	return syncResult, nil
}

// Refresh re-reads the entity and its relations and tells other open
// views that fresh data is available.
func (d *DetailSession) Refresh(ctx context.Context) error {
	if err := d.Load(ctx); err != nil {
		return err
	}
	d.svc.bus.Publish(events.Event{
		Name:       events.EntityDataRefreshed,
		Collection: d.collection,
		ID:         d.id,
	})
	return nil
}

// Delete removes the entity through the entity service (which prunes
// its back-references first) and retires the session.
func (d *DetailSession) Delete(ctx context.Context) error {
	d.mu.Lock()
	if d.state != StateLoaded && d.state != StateEditing {
		state := d.state
		d.mu.Unlock()
		return fmt.Errorf("cannot delete in state '%s'", state)
	}
	d.mu.Unlock()

	if _, err := d.svc.entities.DeleteEntity(ctx, d.collection, d.id); err != nil {
		d.mu.Lock()
		d.lastErr = err
		d.mu.Unlock()
		return err
	}

	d.mu.Lock()
	d.state = StateIdle
	d.entity = nil
	d.related = make(map[string]bson.M)
	d.mu.Unlock()
	return nil
}
