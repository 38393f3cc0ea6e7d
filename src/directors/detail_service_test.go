package directors

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"tourcraft/src/events"
	"tourcraft/src/relations"
	"tourcraft/src/settings"
	"tourcraft/src/store"
)

// flakyStore fails operations against selected collections.
type flakyStore struct {
	store.DocumentStore
	failCollections map[string]bool
}

var errBackendDown = errors.New("backend unavailable")

func (s *flakyStore) GetDocument(ctx context.Context, collection, id string) (bson.M, error) {
	if s.failCollections[collection] {
		return nil, errBackendDown
	}
	return s.DocumentStore.GetDocument(ctx, collection, id)
}

func (s *flakyStore) UpdateDocument(ctx context.Context, collection, id string, update store.Update) error {
	if s.failCollections[collection] {
		return errBackendDown
	}
	return s.DocumentStore.UpdateDocument(ctx, collection, id, update)
}

type fixture struct {
	store    *store.MemoryStore
	bus      *events.Bus
	entities *EntityService
	details  *DetailService
	args     *settings.Arguments
}

func newFixture(t *testing.T, docStore store.DocumentStore) *fixture {
	t.Helper()

	logger := zap.NewNop().Sugar()
	args := &settings.Arguments{Storage: "memory", RepairOnLoad: true}
	set := relations.DefaultSet()
	repairer := relations.NewRepairer(docStore, set, logger)
	bus := events.NewBus(logger)
	t.Cleanup(bus.Shutdown)

	entities := NewEntityService(docStore, set, repairer, bus, args, logger)
	details := NewDetailService(docStore, set, repairer, entities, bus, args, logger)

	mem, _ := docStore.(*store.MemoryStore)
	return &fixture{store: mem, bus: bus, entities: entities, details: details, args: args}
}

func seedConcertWorld(t *testing.T, s store.DocumentStore) {
	t.Helper()
	ctx := context.Background()
	docs := map[string]bson.M{
		"concerts":       {"_id": "C1", "titre": "Tournee d'ete", "artisteId": "A1", "lieuId": "L1"},
		"artistes":       {"_id": "A1", "nom": "Zebda", "concertsIds": []string{"C1"}},
		"lieux":          {"_id": "L1", "nom": "Le Bikini", "ville": "Toulouse", "concertsIds": []string{"C1"}},
		"programmateurs": {"_id": "P1", "nom": "Marie Dupont", "concertsIds": []string{}},
	}
	for collection, doc := range docs {
		require.NoError(t, s.InsertDocument(ctx, collection, doc))
	}
	require.NoError(t, s.InsertDocument(ctx, "lieux", bson.M{"_id": "L2", "nom": "Zenith", "ville": "Paris", "concertsIds": []string{}}))
}

func TestSessionLoad(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, store.NewMemoryStore())
	seedConcertWorld(t, f.store)

	session := f.details.NewSession("concerts", "C1")
	assert.Equal(t, StateIdle, session.State())

	require.NoError(t, session.Load(ctx))
	assert.Equal(t, StateLoaded, session.State())
	assert.Equal(t, "Tournee d'ete", session.Entity()["titre"])
	assert.Equal(t, "Zebda", session.Related("artiste")["nom"])
	assert.Equal(t, "Le Bikini", session.Related("lieu")["nom"])
	assert.Nil(t, session.Related("programmateur"))
}

// Entity hands out copies and Submit publishes a copy, so neither a
// caller nor an event subscriber shares a map with the session's own
// state.
func TestSessionEntityAndEventsAreIsolated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, store.NewMemoryStore())
	seedConcertWorld(t, f.store)

	session := f.details.NewSession("concerts", "C1")
	require.NoError(t, session.Load(ctx))

	snapshot := session.Entity()
	snapshot["titre"] = "scribbled over"
	assert.Equal(t, "Tournee d'ete", session.Entity()["titre"])

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ch := f.bus.Subscribe(subCtx, events.ForEntity("concerts", "C1"))

	require.NoError(t, session.BeginEdit())
	_, err := session.Submit(ctx, bson.M{"titre": "premiere date"})
	require.NoError(t, err)
	first := <-ch

	require.NoError(t, session.BeginEdit())
	_, err = session.Submit(ctx, bson.M{"titre": "deuxieme date"})
	require.NoError(t, err)

	assert.Equal(t, "premiere date", first.Data["titre"],
		"a later submit must not rewrite an already published event")
}

func TestSessionLoadMissingEntity(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore())

	session := f.details.NewSession("concerts", "nope")
	err := session.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateError, session.State())
	assert.ErrorIs(t, session.Err(), store.ErrNotFound)
}

// The defensive heal on load repairs drift the user never touched.
func TestSessionLoadHealsDrift(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, store.NewMemoryStore())
	seedConcertWorld(t, f.store)

	// Introduce drift: the artist no longer lists the concert
	require.NoError(t, f.store.UpdateDocument(ctx, "artistes", "A1",
		store.Update{Pull: map[string]string{"concertsIds": "C1"}}))

	session := f.details.NewSession("concerts", "C1")
	require.NoError(t, session.Load(ctx))

	artiste, err := f.store.GetDocument(ctx, "artistes", "A1")
	require.NoError(t, err)
	assert.Equal(t, []string{"C1"}, store.StringArrayField(artiste, "concertsIds"))
}

func TestSessionLoadRepairOnLoadDisabled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, store.NewMemoryStore())
	seedConcertWorld(t, f.store)
	f.args.RepairOnLoad = false

	require.NoError(t, f.store.UpdateDocument(ctx, "artistes", "A1",
		store.Update{Pull: map[string]string{"concertsIds": "C1"}}))

	session := f.details.NewSession("concerts", "C1")
	require.NoError(t, session.Load(ctx))

	artiste, err := f.store.GetDocument(ctx, "artistes", "A1")
	require.NoError(t, err)
	assert.Empty(t, store.StringArrayField(artiste, "concertsIds"))
}

// A heal failure is logged and swallowed, never blocking the view.
func TestSessionLoadSwallowsHealFailure(t *testing.T) {
	ctx := context.Background()
	inner := store.NewMemoryStore()
	seedConcertWorld(t, inner)
	require.NoError(t, inner.UpdateDocument(ctx, "concerts", "C1",
		store.Update{Set: map[string]interface{}{"artisteId": "A-gone"}}))

	f := newFixture(t, inner)
	session := f.details.NewSession("concerts", "C1")

	require.NoError(t, session.Load(ctx))
	assert.Equal(t, StateLoaded, session.State())
}

func TestSessionEditLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, store.NewMemoryStore())
	seedConcertWorld(t, f.store)

	session := f.details.NewSession("concerts", "C1")

	assert.Error(t, session.BeginEdit(), "cannot edit before load")
	require.NoError(t, session.Load(ctx))
	require.NoError(t, session.BeginEdit())
	assert.Equal(t, StateEditing, session.State())

	_, err := session.Submit(ctx, bson.M{"titre": "x"})
	require.NoError(t, err)
	assert.Equal(t, StateLoaded, session.State())

	require.NoError(t, session.BeginEdit())
	require.NoError(t, session.CancelEdit())
	assert.Equal(t, StateLoaded, session.State())
}

// Scenario: editing lieuId from L1 to L2 moves the back-reference and
// refreshes the denormalized label.
func TestSessionSubmitMovesRelation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, store.NewMemoryStore())
	seedConcertWorld(t, f.store)

	session := f.details.NewSession("concerts", "C1")
	require.NoError(t, session.Load(ctx))
	require.NoError(t, session.BeginEdit())

	_, err := session.Submit(ctx, bson.M{"lieuId": "L2"})
	require.NoError(t, err)

	l1, err := f.store.GetDocument(ctx, "lieux", "L1")
	require.NoError(t, err)
	assert.Empty(t, store.StringArrayField(l1, "concertsIds"))

	l2, err := f.store.GetDocument(ctx, "lieux", "L2")
	require.NoError(t, err)
	assert.Equal(t, []string{"C1"}, store.StringArrayField(l2, "concertsIds"))

	concert, err := f.store.GetDocument(ctx, "concerts", "C1")
	require.NoError(t, err)
	assert.Equal(t, "L2", concert["lieuId"])
	assert.Equal(t, "Zenith", concert["lieuNom"])
}

// A repair failure after a successful entity write is surfaced as a
// save error and the session stays editable.
func TestSessionSubmitSurfacesRepairFailure(t *testing.T) {
	ctx := context.Background()
	inner := store.NewMemoryStore()
	seedConcertWorld(t, inner)
	flaky := &flakyStore{DocumentStore: inner, failCollections: map[string]bool{"programmateurs": true}}

	f := newFixture(t, store.DocumentStore(flaky))
	f.args.RepairOnLoad = false

	session := f.details.NewSession("concerts", "C1")
	require.NoError(t, session.Load(ctx))
	require.NoError(t, session.BeginEdit())

	result, err := session.Submit(ctx, bson.M{"programmateurId": "P1"})
	require.Error(t, err)
	assert.Equal(t, StateEditing, session.State())
	require.NotNil(t, result)
	assert.Equal(t, []string{"programmateur"}, result.FailedRelations())

	// The entity write itself landed; the drift is real and visible
	concert, getErr := inner.GetDocument(ctx, "concerts", "C1")
	require.NoError(t, getErr)
	assert.Equal(t, "P1", concert["programmateurId"])
}

func TestSessionSubmitUnchangedRelationWritesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, store.NewMemoryStore())
	seedConcertWorld(t, f.store)
	f.args.RepairOnLoad = false

	session := f.details.NewSession("concerts", "C1")
	require.NoError(t, session.Load(ctx))
	require.NoError(t, session.BeginEdit())

	_, err := session.Submit(ctx, bson.M{"lieuId": "L1", "titre": "same venue"})
	require.NoError(t, err)

	l1, err := f.store.GetDocument(ctx, "lieux", "L1")
	require.NoError(t, err)
	assert.Equal(t, []string{"C1"}, store.StringArrayField(l1, "concertsIds"))
}

func TestSessionPublishesEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, store.NewMemoryStore())
	seedConcertWorld(t, f.store)

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	interesting := func(e events.Event) bool { return e.Collection == "concerts" }
	ch := f.bus.Subscribe(subCtx, interesting)

	session := f.details.NewSession("concerts", "C1")
	require.NoError(t, session.Load(ctx))
	require.NoError(t, session.BeginEdit())
	_, err := session.Submit(ctx, bson.M{"titre": "renamed"})
	require.NoError(t, err)

	e := <-ch
	assert.Equal(t, events.EntityUpdated, e.Name)
	assert.Equal(t, "C1", e.ID)

	require.NoError(t, session.Refresh(ctx))
	e = <-ch
	assert.Equal(t, events.EntityDataRefreshed, e.Name)

	require.NoError(t, session.Delete(ctx))
	e = <-ch
	assert.Equal(t, events.EntityDeleted, e.Name)
	assert.Equal(t, StateIdle, session.State())
}

func TestSessionDeleteClearsBackReferences(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, store.NewMemoryStore())
	seedConcertWorld(t, f.store)

	session := f.details.NewSession("concerts", "C1")
	require.NoError(t, session.Load(ctx))
	require.NoError(t, session.Delete(ctx))

	_, err := f.store.GetDocument(ctx, "concerts", "C1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	artiste, err := f.store.GetDocument(ctx, "artistes", "A1")
	require.NoError(t, err)
	assert.Empty(t, store.StringArrayField(artiste, "concertsIds"))

	lieu, err := f.store.GetDocument(ctx, "lieux", "L1")
	require.NoError(t, err)
	assert.Empty(t, store.StringArrayField(lieu, "concertsIds"))
}

// Latest request wins: a stale load must not overwrite fresher state.
func TestSessionSupersededLoadLoses(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, store.NewMemoryStore())
	seedConcertWorld(t, f.store)
	f.args.RepairOnLoad = false

	session := f.details.NewSession("concerts", "C1")
	require.NoError(t, session.Load(ctx))

	// Simulate a stale in-flight load committing after a newer one
	session.mu.Lock()
	staleGen := session.generation
	session.generation++
	session.entity = bson.M{"_id": "C1", "titre": "fresher"}
	session.state = StateLoaded
	session.mu.Unlock()

	session.commitError(staleGen, errBackendDown)
	assert.Equal(t, StateLoaded, session.State())
	assert.Equal(t, "fresher", session.Entity()["titre"])
}
