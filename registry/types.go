/*
types.go - Core data model of the address registry

PURPOSE:
  Defines the three independently stored collections (communes, voies,
  numeros) and the small value types they share. These are storage
  records: read-side views live in views.go and never expose them raw.

COLLECTIONS:
  Commune: one document per canonical commune code. Carries the summary
           counters written by the composition pipeline plus the
           composition/certification workflow fields.
  Voie:    a street or lieu-dit. Replaced wholesale per commune.
  Numero:  a house-number point. Replaced wholesale per commune.

TILES:
  Voies and numeros carry the set of "z/x/y" tile keys their geometry
  intersects. The tile extractor queries on membership in that set.

SEE ALSO:
  - store.go: persistence interfaces
  - composition.go: workflow fields lifecycle
*/
package registry

import (
	"encoding/json"
	"time"
)

// =============================================================================
// SHARED VALUE TYPES
// =============================================================================

// Area is a cached {code, nom} reference to a departement or region.
type Area struct {
	Code string `json:"code"`
	Nom  string `json:"nom"`
}

// BBox is [minLon, minLat, maxLon, maxLat].
type BBox []float64

// Center returns the middle point of the box, or false when the box is malformed.
func (b BBox) Center() (lon, lat float64, ok bool) {
	if len(b) != 4 {
		return 0, 0, false
	}
	return (b[0] + b[2]) / 2, (b[1] + b[3]) / 2, true
}

// Position is a GeoJSON point geometry.
type Position struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// AnalyseAdressage compares the number of addresses against the
// expected count for the commune population.
type AnalyseAdressage struct {
	NbAdressesAttendues int     `json:"nbAdressesAttendues"`
	Ratio               float64 `json:"ratio"`
	DeficitAdresses     bool    `json:"deficitAdresses"`
}

// Voie types.
const (
	TypeVoie    = "voie"
	TypeLieuDit = "lieu-dit"
)

// =============================================================================
// COMMUNE
// =============================================================================

// Commune is the commune collection record. CodeCommune is always the
// canonical current code.
type Commune struct {
	CodeCommune        string            `json:"codeCommune"`
	NomCommune         string            `json:"nomCommune,omitempty"`
	Departement        *Area             `json:"departement,omitempty"`
	Region             *Area             `json:"region,omitempty"`
	NbVoies            int               `json:"nbVoies"`
	NbNumeros          int               `json:"nbNumeros"`
	NbNumerosCertifies int               `json:"nbNumerosCertifies"`
	NbLieuxDits        int               `json:"nbLieuxDits"`
	Population         int               `json:"population"`
	TypeComposition    string            `json:"typeComposition,omitempty"`
	AnalyseAdressage   *AnalyseAdressage `json:"analyseAdressage,omitempty"`
	DisplayBBox        BBox              `json:"displayBBox,omitempty"`
	IDRevision         string            `json:"idRevision,omitempty"`
	DateRevision       *time.Time        `json:"dateRevision,omitempty"`

	// Workflow fields. Presence of CompositionAskedAt means "pending".
	CompositionAskedAt *time.Time `json:"compositionAskedAt,omitempty"`
	ForceCertification bool       `json:"forceCertification,omitempty"`
}

// CompositionPending reports whether a composition has been asked and not finished.
func (c *Commune) CompositionPending() bool {
	return c != nil && c.CompositionAskedAt != nil
}

// CommunePatch is a partial update of the summary fields. Nil fields
// are left untouched. Workflow fields are deliberately absent: they
// have dedicated writers.
type CommunePatch struct {
	NomCommune         *string
	Departement        *Area
	Region             *Area
	NbVoies            *int
	NbNumeros          *int
	NbNumerosCertifies *int
	NbLieuxDits        *int
	Population         *int
	TypeComposition    *string
	AnalyseAdressage   *AnalyseAdressage
	DisplayBBox        BBox
	IDRevision         *string
	DateRevision       *time.Time
}

// Apply merges the patch into c.
func (p CommunePatch) Apply(c *Commune) {
	if p.NomCommune != nil {
		c.NomCommune = *p.NomCommune
	}
	if p.Departement != nil {
		d := *p.Departement
		c.Departement = &d
	}
	if p.Region != nil {
		r := *p.Region
		c.Region = &r
	}
	if p.NbVoies != nil {
		c.NbVoies = *p.NbVoies
	}
	if p.NbNumeros != nil {
		c.NbNumeros = *p.NbNumeros
	}
	if p.NbNumerosCertifies != nil {
		c.NbNumerosCertifies = *p.NbNumerosCertifies
	}
	if p.NbLieuxDits != nil {
		c.NbLieuxDits = *p.NbLieuxDits
	}
	if p.Population != nil {
		c.Population = *p.Population
	}
	if p.TypeComposition != nil {
		c.TypeComposition = *p.TypeComposition
	}
	if p.AnalyseAdressage != nil {
		a := *p.AnalyseAdressage
		c.AnalyseAdressage = &a
	}
	if p.DisplayBBox != nil {
		c.DisplayBBox = append(BBox(nil), p.DisplayBBox...)
	}
	if p.IDRevision != nil {
		c.IDRevision = *p.IDRevision
	}
	if p.DateRevision != nil {
		t := *p.DateRevision
		c.DateRevision = &t
	}
}

// PatchFromCommune builds a patch overwriting every summary field of
// the target with the values of c. Used by the bulk data replacement,
// where the pipeline hands over the full summary.
func PatchFromCommune(c Commune) CommunePatch {
	p := CommunePatch{
		NomCommune:         &c.NomCommune,
		Departement:        c.Departement,
		Region:             c.Region,
		NbVoies:            &c.NbVoies,
		NbNumeros:          &c.NbNumeros,
		NbNumerosCertifies: &c.NbNumerosCertifies,
		NbLieuxDits:        &c.NbLieuxDits,
		Population:         &c.Population,
		TypeComposition:    &c.TypeComposition,
		AnalyseAdressage:   c.AnalyseAdressage,
		DisplayBBox:        c.DisplayBBox,
		DateRevision:       c.DateRevision,
	}
	if c.IDRevision != "" {
		p.IDRevision = &c.IDRevision
	}
	return p
}

// =============================================================================
// VOIE / NUMERO
// =============================================================================

// Voie is the voies collection record.
type Voie struct {
	IDVoie             string   `json:"idVoie"`
	CodeCommune        string   `json:"codeCommune"`
	NomVoie            string   `json:"nomVoie"`
	SourceNomVoie      string   `json:"sourceNomVoie,omitempty"`
	Type               string   `json:"type"`
	Sources            []string `json:"sources,omitempty"`
	NbNumeros          int      `json:"nbNumeros"`
	NbNumerosCertifies int      `json:"nbNumerosCertifies"`
	DisplayBBox        BBox     `json:"displayBBox,omitempty"`
	Tiles              []string `json:"tiles,omitempty"`
}

// Numero is the numeros collection record.
type Numero struct {
	ID                   string    `json:"id"`
	CodeCommune          string    `json:"codeCommune"`
	IDVoie               string    `json:"idVoie"`
	Numero               int       `json:"numero"`
	Suffixe              string    `json:"suffixe,omitempty"`
	Position             *Position `json:"position,omitempty"`
	PositionType         string    `json:"positionType,omitempty"`
	SourcePosition       string    `json:"sourcePosition,omitempty"`
	Parcelles            []string  `json:"parcelles,omitempty"`
	Sources              []string  `json:"sources,omitempty"`
	Certifie             bool      `json:"certifie"`
	CodePostal           string    `json:"codePostal,omitempty"`
	LibelleAcheminement  string    `json:"libelleAcheminement,omitempty"`
	LieuDitComplementNom string    `json:"lieuDitComplementNom,omitempty"`
	CleInterop           string    `json:"cleInterop"`
	Tiles                []string  `json:"tiles,omitempty"`

	// Raw provenance. Bulky, never part of tile features or views.
	AdressesOriginales []json.RawMessage `json:"adressesOriginales,omitempty"`
}

// CommuneData is the full dataset of one commune, as produced by a
// composition run.
type CommuneData struct {
	Commune Commune  `json:"commune"`
	Voies   []Voie   `json:"voies"`
	Numeros []Numero `json:"numeros"`
}

// CompositionJob is the work-queue payload emitted by AskComposition.
type CompositionJob struct {
	CodeCommune        string    `json:"codeCommune"`
	CompositionAskedAt time.Time `json:"compositionAskedAt"`
}
