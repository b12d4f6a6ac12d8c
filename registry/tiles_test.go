package registry_test

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ban-registry/geojson"
	"github.com/warp/ban-registry/registry"
)

func TestTileFeatures_OnlyTaggedRows(t *testing.T) {
	// GIVEN: rows on 14/8300/5900 and on a neighbour tile
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.store.InsertVoies(ctx, []registry.Voie{
		voie("01001_a", "01001", "14/8300/5900"),
		voie("01001_b", "01001", "14/8300/5901"),
		voie("01001_c", "01001"),
	}))
	require.NoError(t, f.store.InsertNumeros(ctx, []registry.Numero{
		numero("n1", "01001", "01001_a", "k1", "14/8300/5900"),
		numero("n2", "01001", "01001_b", "k2", "14/8300/5900", "14/8300/5901"),
		numero("n3", "01001", "01001_b", "k3", "14/8300/5901"),
	}))
	extractor := registry.NewTileExtractor(f.store, geojson.Formatter{}, logr.Discard())

	// WHEN
	tile, err := extractor.Features(ctx, 14, 8300, 5900)

	// THEN: n1 and n2 as addresses, only 01001_a as a toponym
	require.NoError(t, err)
	assert.Equal(t, "14/8300/5900", tile.Tile)
	require.Len(t, tile.Numeros, 2)
	ids := []any{tile.Numeros[0].Properties["id"], tile.Numeros[1].Properties["id"]}
	assert.ElementsMatch(t, []any{"n1", "n2"}, ids)
	for _, feat := range tile.Numeros {
		if feat.Properties["id"] == "n2" {
			assert.Equal(t, "Voie 01001_b", feat.Properties["nomVoie"], "voie joined even if not on this tile")
		}
	}
	require.Len(t, tile.Voies, 1)
	assert.Equal(t, "01001_a", tile.Voies[0].Properties["id"])
	assert.Empty(t, tile.Orphans)
}

func TestTileFeatures_DropsOrphans(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.store.InsertVoies(ctx, []registry.Voie{voie("01001_a", "01001")}))
	require.NoError(t, f.store.InsertNumeros(ctx, []registry.Numero{
		numero("n1", "01001", "01001_a", "k1", "14/8300/5900"),
		numero("n2", "01001", "01001_gone", "k2", "14/8300/5900"),
	}))
	extractor := registry.NewTileExtractor(f.store, geojson.Formatter{}, logr.Discard())

	tile, err := extractor.Features(ctx, 14, 8300, 5900)

	require.NoError(t, err)
	require.Len(t, tile.Numeros, 1)
	assert.Equal(t, "n1", tile.Numeros[0].Properties["id"])
	assert.Equal(t, []string{"n2"}, tile.Orphans)
}

func TestTileFeatures_EmptyTile(t *testing.T) {
	f := newFixture()
	extractor := registry.NewTileExtractor(f.store, geojson.Formatter{}, logr.Discard())

	tile, err := extractor.Features(context.Background(), 0, 0, 0)

	require.NoError(t, err)
	assert.NotNil(t, tile.Numeros)
	assert.NotNil(t, tile.Voies)
	assert.Empty(t, tile.Numeros)
	assert.Empty(t, tile.Voies)
}

func TestValidateTile(t *testing.T) {
	cases := []struct {
		name    string
		z, x, y int
		valid   bool
	}{
		{"root", 0, 0, 0, true},
		{"zoom 14", 14, 8300, 5900, true},
		{"last column", 2, 3, 3, true},
		{"x out of grid", 2, 4, 0, false},
		{"negative y", 10, 1, -1, false},
		{"zoom too deep", registry.MaxZoom + 1, 0, 0, false},
		{"negative zoom", -1, 0, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := registry.ValidateTile(tc.z, tc.x, tc.y)
			if tc.valid {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, registry.ErrInvalidTile)
			assert.True(t, registry.IsClientError(err))
		})
	}
}

func TestTileKey(t *testing.T) {
	assert.Equal(t, "14/8300/5900", registry.TileKey(14, 8300, 5900))
}
