package directors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"tourcraft/src/store"
)

func TestCreateEntityFilesRelations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, store.NewMemoryStore())
	seedConcertWorld(t, f.store)

	id, err := f.entities.CreateEntity(ctx, "concerts", bson.M{
		"titre":     "Soiree de cloture",
		"artisteId": "A1",
		"lieuId":    "L2",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	concert, err := f.store.GetDocument(ctx, "concerts", id)
	require.NoError(t, err)
	assert.Equal(t, "Zebda", concert["artisteNom"])
	assert.Equal(t, "Zenith", concert["lieuNom"])
	assert.Equal(t, "Paris", concert["lieuVille"])

	artiste, err := f.store.GetDocument(ctx, "artistes", "A1")
	require.NoError(t, err)
	assert.Contains(t, store.StringArrayField(artiste, "concertsIds"), id)

	l2, err := f.store.GetDocument(ctx, "lieux", "L2")
	require.NoError(t, err)
	assert.Equal(t, []string{id}, store.StringArrayField(l2, "concertsIds"))
}

func TestCreateEntityInitializesInverseArray(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, store.NewMemoryStore())

	id, err := f.entities.CreateEntity(ctx, "artistes", bson.M{"nom": "La Rue Ketanou"})
	require.NoError(t, err)

	artiste, err := f.store.GetDocument(ctx, "artistes", id)
	require.NoError(t, err)
	_, ok := artiste["concertsIds"]
	assert.True(t, ok, "back-reference array must exist from creation")
}

func TestCreateEntityUnknownCollection(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore())
	_, err := f.entities.CreateEntity(context.Background(), "venues", bson.M{})
	assert.Error(t, err)
}

func TestGetConcertTyped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, store.NewMemoryStore())
	seedConcertWorld(t, f.store)

	concert, err := f.entities.GetConcert(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, "C1", concert.ID)
	assert.Equal(t, "Tournee d'ete", concert.Titre)
	assert.Equal(t, "A1", concert.ArtisteID)
	assert.Equal(t, "L1", concert.LieuID)
}

func TestSetFieldMovesForeignKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, store.NewMemoryStore())
	seedConcertWorld(t, f.store)

	result, err := f.entities.SetField(ctx, "concerts", "C1", "lieuId", "L2")
	require.NoError(t, err)
	assert.True(t, result.OK())

	concert, err := f.store.GetDocument(ctx, "concerts", "C1")
	require.NoError(t, err)
	assert.Equal(t, "L2", concert["lieuId"])
	assert.Equal(t, "Zenith", concert["lieuNom"])

	l1, err := f.store.GetDocument(ctx, "lieux", "L1")
	require.NoError(t, err)
	assert.Empty(t, store.StringArrayField(l1, "concertsIds"))
}

func TestSetFieldPlainField(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, store.NewMemoryStore())
	seedConcertWorld(t, f.store)

	result, err := f.entities.SetField(ctx, "concerts", "C1", "statut", "confirme")
	require.NoError(t, err)
	assert.Empty(t, result.Updates, "plain fields touch no back-references")

	concert, err := f.store.GetDocument(ctx, "concerts", "C1")
	require.NoError(t, err)
	assert.Equal(t, "confirme", concert["statut"])
}

func TestDeleteEntityKeepsDanglingForwardKeys(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, store.NewMemoryStore())
	seedConcertWorld(t, f.store)

	// Deleting the artist leaves the concert's artisteId dangling on
	// purpose; that cleanup is a human decision surfaced by the auditor
	_, err := f.entities.DeleteEntity(ctx, "artistes", "A1")
	require.NoError(t, err)

	concert, err := f.store.GetDocument(ctx, "concerts", "C1")
	require.NoError(t, err)
	assert.Equal(t, "A1", concert["artisteId"])
}
