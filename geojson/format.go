/*
Package geojson shapes numeros and voies into map features.

FEATURES:
  address:  one per numero, at the numero position, with the voie name
  toponym:  one per voie, at the center of its display bbox

PRECISION:
  Coordinates are rounded to 6 decimals (about 10 cm), which keeps tile
  payloads small and their JSON stable across float noise.
*/
package geojson

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/ban-registry/registry"
)

// CoordinatePrecision is the number of decimals kept in coordinates.
const CoordinatePrecision = 6

// Formatter implements registry.FeatureFormatter.
type Formatter struct{}

var _ registry.FeatureFormatter = Formatter{}

// AddressFeature formats a numero paired with its voie.
func (Formatter) AddressFeature(n registry.Numero, v registry.Voie) registry.Feature {
	props := map[string]any{
		"id":          n.ID,
		"numero":      n.Numero,
		"suffixe":     n.Suffixe,
		"nomVoie":     v.NomVoie,
		"idVoie":      v.IDVoie,
		"codeCommune": n.CodeCommune,
		"certifie":    n.Certifie,
		"sources":     strings.Join(n.Sources, ","),
		"parcelles":   strings.Join(n.Parcelles, "|"),
	}
	if n.LieuDitComplementNom != "" {
		props["lieuDitComplementNom"] = n.LieuDitComplementNom
	}
	if n.PositionType != "" {
		props["positionType"] = n.PositionType
	}
	if n.SourcePosition != "" {
		props["sourcePosition"] = n.SourcePosition
	}

	var geom *registry.Position
	if n.Position != nil && len(n.Position.Coordinates) >= 2 {
		geom = point(n.Position.Coordinates[0], n.Position.Coordinates[1])
	}
	return registry.Feature{Type: "Feature", Geometry: geom, Properties: props}
}

// ToponymFeature formats a voie on its own.
func (Formatter) ToponymFeature(v registry.Voie) registry.Feature {
	props := map[string]any{
		"id":                 v.IDVoie,
		"type":               v.Type,
		"nomVoie":            v.NomVoie,
		"codeCommune":        v.CodeCommune,
		"nbNumeros":          v.NbNumeros,
		"nbNumerosCertifies": v.NbNumerosCertifies,
		"sources":            strings.Join(v.Sources, ","),
	}

	var geom *registry.Position
	if lon, lat, ok := v.DisplayBBox.Center(); ok {
		geom = point(lon, lat)
	}
	return registry.Feature{Type: "Feature", Geometry: geom, Properties: props}
}

func point(lon, lat float64) *registry.Position {
	return &registry.Position{
		Type:        "Point",
		Coordinates: []float64{Round(lon), Round(lat)},
	}
}

// Round rounds a coordinate to CoordinatePrecision decimals.
func Round(v float64) float64 {
	return decimal.NewFromFloat(v).Round(CoordinatePrecision).InexactFloat64()
}

// FeatureCollection wraps features for serving.
type FeatureCollection struct {
	Type     string             `json:"type"`
	Features []registry.Feature `json:"features"`
}

// Collection builds a FeatureCollection. A nil slice becomes empty.
func Collection(features []registry.Feature) FeatureCollection {
	if features == nil {
		features = []registry.Feature{}
	}
	return FeatureCollection{Type: "FeatureCollection", Features: features}
}
