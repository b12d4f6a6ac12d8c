/*
sqlite_test.go - Tests for the SQLite document store

Tests for:
- Commune upsert, patch merge and workflow columns
- Force certification bulk flips
- Wholesale voie/numero replacement and unordered inserts
- Tile membership queries and provenance projection
*/
package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ban-registry/registry"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func ptr[T any](v T) *T { return &v }

// =============================================================================
// COMMUNES
// =============================================================================

func TestGetCommune_Absent(t *testing.T) {
	store := newTestStore(t)

	c, err := store.GetCommune(context.Background(), "01001")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestUpdateCommune_MergesFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpdateCommune(ctx, "01001", registry.CommunePatch{
		NomCommune:  ptr("L'Abergement-Clémenciat"),
		NbVoies:     ptr(12),
		Departement: &registry.Area{Code: "01", Nom: "Ain"},
	}))
	require.NoError(t, store.UpdateCommune(ctx, "01001", registry.CommunePatch{
		NbNumeros: ptr(340),
	}))

	c, err := store.GetCommune(ctx, "01001")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "L'Abergement-Clémenciat", c.NomCommune)
	assert.Equal(t, 12, c.NbVoies)
	assert.Equal(t, 340, c.NbNumeros)
	assert.Equal(t, "Ain", c.Departement.Nom)
}

func TestCompositionAskedAt_Lifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 5, 4, 8, 30, 0, 123, time.UTC)

	// Upsert on a commune that does not exist yet
	require.NoError(t, store.SetCompositionAskedAt(ctx, "01001", at))

	c, err := store.GetCommune(ctx, "01001")
	require.NoError(t, err)
	require.NotNil(t, c.CompositionAskedAt)
	assert.True(t, at.Equal(*c.CompositionAskedAt))

	codes, err := store.ListCompositionAsked(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"01001"}, codes)

	// A second ask while pending overwrites the timestamp
	later := at.Add(time.Hour)
	require.NoError(t, store.SetCompositionAskedAt(ctx, "01001", later))
	c, err = store.GetCommune(ctx, "01001")
	require.NoError(t, err)
	require.NotNil(t, c.CompositionAskedAt)
	assert.True(t, later.Equal(*c.CompositionAskedAt))
	codes, err = store.ListCompositionAsked(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"01001"}, codes)

	// A patch must not touch the workflow column
	require.NoError(t, store.UpdateCommune(ctx, "01001", registry.CommunePatch{NbVoies: ptr(3)}))
	c, err = store.GetCommune(ctx, "01001")
	require.NoError(t, err)
	assert.NotNil(t, c.CompositionAskedAt)

	require.NoError(t, store.UnsetCompositionAskedAt(ctx, "01001"))
	require.NoError(t, store.UnsetCompositionAskedAt(ctx, "01001"), "second unset is a no-op")
	require.NoError(t, store.UnsetCompositionAskedAt(ctx, "99999"), "unknown commune is a no-op")

	codes, err = store.ListCompositionAsked(ctx)
	require.NoError(t, err)
	assert.Empty(t, codes)
}

func TestSetForceCertification(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.UpdateCommune(ctx, "01001", registry.CommunePatch{NbVoies: ptr(1)}))

	// Setting upserts missing communes
	require.NoError(t, store.SetForceCertification(ctx, []string{"01001", "01002"}, true))
	codes, err := store.ListForceCertified(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"01001", "01002"}, codes)

	// Clearing never creates communes
	require.NoError(t, store.SetForceCertification(ctx, []string{"01002", "01003"}, false))
	codes, err = store.ListForceCertified(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"01001"}, codes)

	c, err := store.GetCommune(ctx, "01003")
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = store.GetCommune(ctx, "01001")
	require.NoError(t, err)
	assert.True(t, c.ForceCertification)
	assert.Equal(t, 1, c.NbVoies)
}

func TestListCommunes_SortedByCode(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for _, code := range []string{"75101", "01001", "2A004"} {
		require.NoError(t, store.UpdateCommune(ctx, code, registry.CommunePatch{}))
	}

	communes, err := store.ListCommunes(ctx)
	require.NoError(t, err)
	require.Len(t, communes, 3)
	assert.Equal(t, "01001", communes[0].CodeCommune)
	assert.Equal(t, "2A004", communes[1].CodeCommune)
	assert.Equal(t, "75101", communes[2].CodeCommune)
}

// =============================================================================
// VOIES / NUMEROS
// =============================================================================

func TestInsertAndDelete_PerCommune(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertVoies(ctx, []registry.Voie{
		{IDVoie: "01001_a", CodeCommune: "01001", NomVoie: "Rue A", Tiles: []string{"14/1/1"}},
		{IDVoie: "01002_a", CodeCommune: "01002", NomVoie: "Rue B", Tiles: []string{"14/1/1"}},
	}))
	require.NoError(t, store.InsertNumeros(ctx, []registry.Numero{
		{ID: "n1", CodeCommune: "01001", IDVoie: "01001_a", CleInterop: "01001_a_00001", Tiles: []string{"14/1/1"}},
		{ID: "n2", CodeCommune: "01002", IDVoie: "01002_a", CleInterop: "01002_a_00001", Tiles: []string{"14/1/1"}},
	}))

	require.NoError(t, store.DeleteVoies(ctx, "01001"))
	require.NoError(t, store.DeleteNumeros(ctx, "01001"))

	voies, err := store.ListVoiesByTile(ctx, "14/1/1")
	require.NoError(t, err)
	require.Len(t, voies, 1)
	assert.Equal(t, "01002_a", voies[0].IDVoie)

	numeros, err := store.ListNumerosByTile(ctx, "14/1/1")
	require.NoError(t, err)
	require.Len(t, numeros, 1)
	assert.Equal(t, "n2", numeros[0].ID)

	// Ids are free again after deletion
	require.NoError(t, store.InsertVoies(ctx, []registry.Voie{{IDVoie: "01001_a", CodeCommune: "01001"}}))
}

func TestInsertNumeros_Unordered(t *testing.T) {
	// GIVEN: a batch with a duplicate key in the middle
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertNumeros(ctx, []registry.Numero{{ID: "n2", CodeCommune: "01001", CleInterop: "b"}}))

	// WHEN: inserting n1, n2 (dup), n3
	err := store.InsertNumeros(ctx, []registry.Numero{
		{ID: "n1", CodeCommune: "01001", CleInterop: "a"},
		{ID: "n2", CodeCommune: "01001", CleInterop: "b"},
		{ID: "n3", CodeCommune: "01001", CleInterop: "c"},
	})

	// THEN: n1 and n3 are written, n2 reported
	var bulk *registry.BulkInsertError
	require.True(t, errors.As(err, &bulk))
	assert.ErrorIs(t, err, registry.ErrBulkInsert)
	assert.Equal(t, "numeros", bulk.Collection)
	assert.Contains(t, bulk.Failed, "n2")
	assert.Len(t, bulk.Failed, 1)

	numeros, err := store.ListNumeros(ctx, "01001")
	require.NoError(t, err)
	assert.Len(t, numeros, 3)
}

func TestNumeros_ProvenanceProjection(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	raw := json.RawMessage(`{"source":"bal","numero":"3"}`)

	require.NoError(t, store.InsertNumeros(ctx, []registry.Numero{{
		ID:                 "n1",
		CodeCommune:        "01001",
		IDVoie:             "v1",
		CleInterop:         "k1",
		Tiles:              []string{"14/8300/5900"},
		AdressesOriginales: []json.RawMessage{raw},
	}}))

	full, err := store.GetNumero(ctx, "n1")
	require.NoError(t, err)
	require.Len(t, full.AdressesOriginales, 1)
	assert.JSONEq(t, string(raw), string(full.AdressesOriginales[0]))

	byTile, err := store.ListNumerosByTile(ctx, "14/8300/5900")
	require.NoError(t, err)
	require.Len(t, byTile, 1)
	assert.Nil(t, byTile[0].AdressesOriginales)
	assert.Equal(t, []string{"14/8300/5900"}, byTile[0].Tiles)
}

func TestListNumerosByVoie_SortedByCleInterop(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertNumeros(ctx, []registry.Numero{
		{ID: "c", CodeCommune: "01001", IDVoie: "v1", CleInterop: "01001_v1_00010"},
		{ID: "a", CodeCommune: "01001", IDVoie: "v1", CleInterop: "01001_v1_00002"},
		{ID: "b", CodeCommune: "01001", IDVoie: "v1", CleInterop: "01001_v1_00005"},
		{ID: "z", CodeCommune: "01001", IDVoie: "v2", CleInterop: "01001_v2_00001"},
	}))

	numeros, err := store.ListNumerosByVoie(ctx, "v1")
	require.NoError(t, err)
	require.Len(t, numeros, 3)
	assert.Equal(t, "a", numeros[0].ID)
	assert.Equal(t, "b", numeros[1].ID)
	assert.Equal(t, "c", numeros[2].ID)
}

func TestListVoiesByID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertVoies(ctx, []registry.Voie{
		{IDVoie: "v1", CodeCommune: "01001"},
		{IDVoie: "v2", CodeCommune: "01001"},
		{IDVoie: "v3", CodeCommune: "01001"},
	}))

	voies, err := store.ListVoiesByID(ctx, []string{"v1", "v3", "unknown"})
	require.NoError(t, err)
	assert.Len(t, voies, 2)

	voies, err = store.ListVoiesByID(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, voies)
}

func TestGetVoie_Absent(t *testing.T) {
	store := newTestStore(t)

	v, err := store.GetVoie(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, v)

	n, err := store.GetNumero(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, n)
}

func TestChunks(t *testing.T) {
	assert.Nil(t, chunks(nil, 2))
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, chunks([]string{"a", "b", "c"}, 2))
	assert.Equal(t, "?,?,?", placeholders(3))
}
