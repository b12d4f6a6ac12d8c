/*
tiles.go - Map tile feature extraction

PURPOSE:
  Given a tile (z, x, y), returns the map features of every numero and
  voie whose tile set contains "z/x/y".

JOIN:
  1. numeros tagged with the tile (provenance excluded)
  2. distinct idVoie of those numeros, fetched in one query
  3. lookup by idVoie, one address feature per numero
  4. independently, voies tagged with the tile, one toponym feature each

  A voie can therefore contribute address features (through its
  numeros) and its own toponym feature.

ORPHANS:
  A numero whose voie is missing from the lookup produces no feature.
  It is logged at V(1), counted, and its id is listed in
  TileFeatures.Orphans so callers can surface it.
*/
package registry

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-logr/logr"

	"github.com/warp/ban-registry/metrics"
)

// MaxZoom is the deepest zoom level accepted.
const MaxZoom = 24

// Feature is a GeoJSON feature.
type Feature struct {
	Type       string         `json:"type"`
	Geometry   *Position      `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

// FeatureFormatter shapes stored rows into map features.
type FeatureFormatter interface {
	AddressFeature(numero Numero, voie Voie) Feature
	ToponymFeature(voie Voie) Feature
}

// TileFeatures is the result of a tile extraction.
type TileFeatures struct {
	Tile    string    `json:"tile"`
	Numeros []Feature `json:"numeros"`
	Voies   []Feature `json:"voies"`
	Orphans []string  `json:"orphans,omitempty"`
}

// TileKey formats tile coordinates as "z/x/y".
func TileKey(z, x, y int) string {
	return fmt.Sprintf("%d/%d/%d", z, x, y)
}

// ValidateTile checks that (z, x, y) names an existing tile.
func ValidateTile(z, x, y int) error {
	if z < 0 || z > MaxZoom {
		return fmt.Errorf("%w: zoom %d outside [0, %d]", ErrInvalidTile, z, MaxZoom)
	}
	n := 1 << uint(z)
	if x < 0 || x >= n || y < 0 || y >= n {
		return fmt.Errorf("%w: (%d, %d) outside zoom %d grid", ErrInvalidTile, x, y, z)
	}
	return nil
}

// TileExtractor joins numeros and voies per tile.
type TileExtractor struct {
	store     AddressStore
	formatter FeatureFormatter
	log       logr.Logger
}

// NewTileExtractor creates a tile extractor.
func NewTileExtractor(store AddressStore, formatter FeatureFormatter, log logr.Logger) *TileExtractor {
	return &TileExtractor{store: store, formatter: formatter, log: log}
}

// Features extracts the features of tile (z, x, y).
func (e *TileExtractor) Features(ctx context.Context, z, x, y int) (*TileFeatures, error) {
	if err := ValidateTile(z, x, y); err != nil {
		return nil, err
	}
	tile := TileKey(z, x, y)

	numeros, err := e.store.ListNumerosByTile(ctx, tile)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	ids := make([]string, 0)
	for _, n := range numeros {
		if !seen[n.IDVoie] {
			seen[n.IDVoie] = true
			ids = append(ids, n.IDVoie)
		}
	}

	lookup := make(map[string]Voie, len(ids))
	if len(ids) > 0 {
		voies, err := e.store.ListVoiesByID(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, v := range voies {
			lookup[v.IDVoie] = v
		}
	}

	result := &TileFeatures{
		Tile:    tile,
		Numeros: make([]Feature, 0, len(numeros)),
		Voies:   []Feature{},
	}
	for _, n := range numeros {
		v, ok := lookup[n.IDVoie]
		if !ok {
			result.Orphans = append(result.Orphans, n.ID)
			continue
		}
		result.Numeros = append(result.Numeros, e.formatter.AddressFeature(n, v))
	}
	if len(result.Orphans) > 0 {
		sort.Strings(result.Orphans)
		metrics.RecordOrphanNumeros(len(result.Orphans))
		e.log.V(1).Info("Numeros without voie dropped from tile", "tile", tile, "count", len(result.Orphans))
	}

	voies, err := e.store.ListVoiesByTile(ctx, tile)
	if err != nil {
		return nil, err
	}
	for _, v := range voies {
		result.Voies = append(result.Voies, e.formatter.ToponymFeature(v))
	}
	return result, nil
}
