package relations

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"tourcraft/src/models"
	"tourcraft/src/store"
)

// flakyStore fails writes (and reads, for the auditor tests) against
// selected collections while passing everything else through.
type flakyStore struct {
	store.DocumentStore
	failCollections map[string]bool
	writes          int
}

var errBackendDown = errors.New("backend unavailable")

func (s *flakyStore) GetDocument(ctx context.Context, collection, id string) (bson.M, error) {
	if s.failCollections[collection] {
		return nil, errBackendDown
	}
	return s.DocumentStore.GetDocument(ctx, collection, id)
}

func (s *flakyStore) UpdateDocument(ctx context.Context, collection, id string, update store.Update) error {
	s.writes++
	if s.failCollections[collection] {
		return errBackendDown
	}
	return s.DocumentStore.UpdateDocument(ctx, collection, id, update)
}

func newTestRepairer(s store.DocumentStore) *Repairer {
	return NewRepairer(s, DefaultSet(), zap.NewNop().Sugar())
}

func arrayOf(t *testing.T, s store.DocumentStore, collection, id, field string) []string {
	t.Helper()
	doc, err := s.GetDocument(context.Background(), collection, id)
	require.NoError(t, err)
	return store.StringArrayField(doc, field)
}

func TestSyncRejectsBadInput(t *testing.T) {
	repairer := newTestRepairer(store.NewMemoryStore())

	t.Run("empty entity id", func(t *testing.T) {
		_, err := repairer.Sync(context.Background(), SyncRequest{Collection: "concerts"})
		assert.Error(t, err)
	})

	t.Run("unknown relation", func(t *testing.T) {
		_, err := repairer.Sync(context.Background(), SyncRequest{
			Collection: "concerts",
			EntityID:   "C1",
			Changes:    []Change{{Relation: "catering", NewID: "X1"}},
		})
		assert.Error(t, err)
	})
}

// Property: newRelatedId == previousRelatedId results in zero writes.
func TestSyncNoOpOnUnchangedRelation(t *testing.T) {
	inner := seededStore(t, map[string][]bson.M{
		"lieux": {{"_id": "L1", "concertsIds": []string{"C1"}}},
	})
	s := &flakyStore{DocumentStore: inner}
	repairer := newTestRepairer(s)

	result, err := repairer.Sync(context.Background(), SyncRequest{
		Collection: "concerts",
		EntityID:   "C1",
		Changes:    []Change{{Relation: "lieu", PreviousID: "L1", NewID: "L1"}},
	})
	require.NoError(t, err)

	assert.True(t, result.OK())
	assert.Empty(t, result.Updates)
	assert.Zero(t, s.writes)
}

// Scenario: lieuId changes from L1 to L2. Afterwards L1 no longer
// lists C and L2 lists it exactly once.
func TestSyncMovesBackReference(t *testing.T) {
	s := seededStore(t, map[string][]bson.M{
		"lieux": {
			{"_id": "L1", "concertsIds": []string{"C"}},
			{"_id": "L2", "concertsIds": []string{}},
		},
	})
	repairer := newTestRepairer(s)

	result, err := repairer.Sync(context.Background(), SyncRequest{
		Collection: "concerts",
		EntityID:   "C",
		Changes:    []Change{{Relation: "lieu", PreviousID: "L1", NewID: "L2"}},
	})
	require.NoError(t, err)
	require.True(t, result.OK())
	assert.Len(t, result.Updates, 2)

	assert.Empty(t, arrayOf(t, s, "lieux", "L1", "concertsIds"))
	assert.Equal(t, []string{"C"}, arrayOf(t, s, "lieux", "L2", "concertsIds"))
}

// Scenario: lieuId cleared to null. L1 is pruned, no "new" side write.
func TestSyncClearsRelation(t *testing.T) {
	s := seededStore(t, map[string][]bson.M{
		"lieux": {{"_id": "L1", "concertsIds": []string{"C"}}},
	})
	repairer := newTestRepairer(s)

	result, err := repairer.Sync(context.Background(), SyncRequest{
		Collection: "concerts",
		EntityID:   "C",
		Changes:    []Change{{Relation: "lieu", PreviousID: "L1", NewID: ""}},
	})
	require.NoError(t, err)
	require.True(t, result.OK())
	require.Len(t, result.Updates, 1)
	assert.Equal(t, models.SidePrevious, result.Updates[0].Side)

	assert.Empty(t, arrayOf(t, s, "lieux", "L1", "concertsIds"))
}

// Property: running the same repair twice leaves exactly one
// occurrence of the id, not two, and no double-removal error.
func TestSyncIsIdempotent(t *testing.T) {
	s := seededStore(t, map[string][]bson.M{
		"lieux": {
			{"_id": "L1", "concertsIds": []string{"C"}},
			{"_id": "L2", "concertsIds": []string{}},
		},
	})
	repairer := newTestRepairer(s)

	req := SyncRequest{
		Collection: "concerts",
		EntityID:   "C",
		Changes:    []Change{{Relation: "lieu", PreviousID: "L1", NewID: "L2"}},
	}

	for i := 0; i < 2; i++ {
		result, err := repairer.Sync(context.Background(), req)
		require.NoError(t, err)
		require.True(t, result.OK())
	}

	assert.Empty(t, arrayOf(t, s, "lieux", "L1", "concertsIds"))
	assert.Equal(t, []string{"C"}, arrayOf(t, s, "lieux", "L2", "concertsIds"))
}

// Property: a failure on the artiste side does not stop the lieu side;
// the result reports both outcomes and the lieu write actually landed.
func TestSyncPartialFailureIsolation(t *testing.T) {
	inner := seededStore(t, map[string][]bson.M{
		"artistes": {{"_id": "A1", "concertsIds": []string{}}},
		"lieux":    {{"_id": "L1", "concertsIds": []string{}}},
	})
	s := &flakyStore{DocumentStore: inner, failCollections: map[string]bool{"artistes": true}}
	repairer := newTestRepairer(s)

	result, err := repairer.Sync(context.Background(), SyncRequest{
		Collection: "concerts",
		EntityID:   "C1",
		Changes: []Change{
			{Relation: "artiste", NewID: "A1"},
			{Relation: "lieu", NewID: "L1"},
		},
	})
	require.NoError(t, err)

	assert.False(t, result.OK())
	assert.Equal(t, []string{"artiste"}, result.FailedRelations())
	require.Len(t, result.Updates, 2)

	for _, update := range result.Updates {
		switch update.Relation {
		case "artiste":
			assert.False(t, update.OK)
			assert.Contains(t, update.Error, "backend unavailable")
		case "lieu":
			assert.True(t, update.OK)
		}
	}

	assert.Empty(t, arrayOf(t, inner, "artistes", "A1", "concertsIds"))
	assert.Equal(t, []string{"C1"}, arrayOf(t, inner, "lieux", "L1", "concertsIds"))
}

// Symmetry: after a successful sync following a save that set
// concert.artisteId, the artist lists the concert and vice versa.
func TestSyncSymmetryInvariant(t *testing.T) {
	s := seededStore(t, map[string][]bson.M{
		"concerts": {{"_id": "C1", "artisteId": "A1"}},
		"artistes": {{"_id": "A1", "concertsIds": []string{}}},
	})
	repairer := newTestRepairer(s)

	result, err := repairer.Sync(context.Background(), SyncRequest{
		Collection: "concerts",
		EntityID:   "C1",
		Changes:    []Change{{Relation: "artiste", PreviousID: "", NewID: "A1"}},
	})
	require.NoError(t, err)
	require.True(t, result.OK())

	report, err := newTestAuditor(s).Audit(context.Background(), "concerts", "C1")
	require.NoError(t, err)
	assert.False(t, report.HasIssues())
}

func TestHealReassertForwardKeys(t *testing.T) {
	s := seededStore(t, map[string][]bson.M{
		"concerts": {{"_id": "C1", "artisteId": "A1", "lieuId": "L1"}},
		"artistes": {{"_id": "A1", "concertsIds": []string{}}},
		"lieux":    {{"_id": "L1", "concertsIds": []string{"C1"}}},
	})
	repairer := newTestRepairer(s)

	result, err := repairer.Heal(context.Background(), "concerts", "C1")
	require.NoError(t, err)
	require.True(t, result.OK())
	assert.Len(t, result.Updates, 2)

	assert.Equal(t, []string{"C1"}, arrayOf(t, s, "artistes", "A1", "concertsIds"))
	assert.Equal(t, []string{"C1"}, arrayOf(t, s, "lieux", "L1", "concertsIds"))
}

func TestHealWithDanglingKeyReportsFailure(t *testing.T) {
	s := seededStore(t, map[string][]bson.M{
		"concerts": {{"_id": "C1", "artisteId": "A-gone"}},
	})
	repairer := newTestRepairer(s)

	result, err := repairer.Heal(context.Background(), "concerts", "C1")
	require.NoError(t, err)

	assert.False(t, result.OK())
	require.Len(t, result.Updates, 1)
	assert.False(t, result.Updates[0].OK)
}

func TestApplyFix(t *testing.T) {
	s := seededStore(t, map[string][]bson.M{
		"artistes": {{"_id": "A1", "concertsIds": []string{"C-stale"}}},
	})
	repairer := newTestRepairer(s)

	require.NoError(t, repairer.ApplyFix(context.Background(), models.Fix{
		Action:     models.FixAddToArray,
		Collection: "artistes",
		EntityID:   "A1",
		Field:      "concertsIds",
		Value:      "C1",
	}))
	require.NoError(t, repairer.ApplyFix(context.Background(), models.Fix{
		Action:     models.FixRemoveFromArray,
		Collection: "artistes",
		EntityID:   "A1",
		Field:      "concertsIds",
		Value:      "C-stale",
	}))

	assert.Equal(t, []string{"C1"}, arrayOf(t, s, "artistes", "A1", "concertsIds"))

	assert.Error(t, repairer.ApplyFix(context.Background(), models.Fix{Action: "recreate_entity"}))
}
