/*
views.go - Denormalized read views

PURPOSE:
  Assembles the nested payloads served to downstream consumers from the
  three collections plus the COG catalog. Read-only.

PROJECTIONS:
  Every view is a typed struct filled field by field from an explicit
  allow-list. Storage records are never returned as-is: fields such as
  tiles, adressesOriginales or the workflow flags stay internal, and
  raw foreign keys (codeCommune, idVoie) are replaced by nested objects.

VIEWS:
  CommuneView:     commune + its voies, with id/type synthetic fields
  VoieView:        voie + resolved commune + numeros by cleInterop
  NumeroView:      numero + owning voie + resolved commune
  CommunesSummary: every commune, departement/region flattened to codes

COMMUNE RESOLUTION:
  Voie and numero views resolve their commune through the COG catalog,
  not the commune collection, so a view never depends on the commune
  summary being written yet.

NOT FOUND:
  Each single-entity view returns nil, nil when the key is unknown.
*/
package registry

import (
	"context"
	"sort"
	"time"

	"github.com/warp/ban-registry/cog"
)

// =============================================================================
// VIEW TYPES
// =============================================================================

// CommuneView is the nested view of a commune.
type CommuneView struct {
	ID                 string            `json:"id"`
	Type               string            `json:"type"`
	CodeCommune        string            `json:"codeCommune"`
	NomCommune         string            `json:"nomCommune"`
	Departement        *Area             `json:"departement,omitempty"`
	Region             *Area             `json:"region,omitempty"`
	NbNumeros          int               `json:"nbNumeros"`
	NbNumerosCertifies int               `json:"nbNumerosCertifies"`
	NbVoies            int               `json:"nbVoies"`
	NbLieuxDits        int               `json:"nbLieuxDits"`
	Population         int               `json:"population"`
	TypeComposition    string            `json:"typeComposition,omitempty"`
	AnalyseAdressage   *AnalyseAdressage `json:"analyseAdressage,omitempty"`
	DisplayBBox        BBox              `json:"displayBBox,omitempty"`
	IDRevision         string            `json:"idRevision,omitempty"`
	DateRevision       *time.Time        `json:"dateRevision,omitempty"`
	Voies              []CommuneVoie     `json:"voies"`
}

// CommuneVoie is a voie nested in a CommuneView.
type CommuneVoie struct {
	Type               string   `json:"type"`
	IDVoie             string   `json:"idVoie"`
	NomVoie            string   `json:"nomVoie"`
	SourceNomVoie      string   `json:"sourceNomVoie,omitempty"`
	Sources            []string `json:"sources,omitempty"`
	NbNumeros          int      `json:"nbNumeros"`
	NbNumerosCertifies int      `json:"nbNumerosCertifies"`
}

// CommuneRef is the catalog-resolved commune embedded in voie and numero views.
type CommuneRef struct {
	ID          string `json:"id"`
	Nom         string `json:"nom"`
	Code        string `json:"code"`
	Departement *Area  `json:"departement,omitempty"`
	Region      *Area  `json:"region,omitempty"`
}

// VoieView is the nested view of a voie.
type VoieView struct {
	Type               string       `json:"type"`
	IDVoie             string       `json:"idVoie"`
	NomVoie            string       `json:"nomVoie"`
	SourceNomVoie      string       `json:"sourceNomVoie,omitempty"`
	Sources            []string     `json:"sources,omitempty"`
	NbNumeros          int          `json:"nbNumeros"`
	NbNumerosCertifies int          `json:"nbNumerosCertifies"`
	DisplayBBox        BBox         `json:"displayBBox,omitempty"`
	Commune            CommuneRef   `json:"commune"`
	Numeros            []VoieNumero `json:"numeros"`
}

// VoieNumero is a numero nested in a VoieView.
type VoieNumero struct {
	ID                   string    `json:"id"`
	Numero               int       `json:"numero"`
	Suffixe              string    `json:"suffixe,omitempty"`
	LieuDitComplementNom string    `json:"lieuDitComplementNom,omitempty"`
	Parcelles            []string  `json:"parcelles,omitempty"`
	Sources              []string  `json:"sources,omitempty"`
	Position             *Position `json:"position,omitempty"`
	PositionType         string    `json:"positionType,omitempty"`
	SourcePosition       string    `json:"sourcePosition,omitempty"`
	Certifie             bool      `json:"certifie"`
	CodePostal           string    `json:"codePostal,omitempty"`
	LibelleAcheminement  string    `json:"libelleAcheminement,omitempty"`
	CleInterop           string    `json:"cleInterop"`
}

// NumeroVoie is the minimal voie embedded in a NumeroView.
type NumeroVoie struct {
	IDVoie  string `json:"idVoie"`
	NomVoie string `json:"nomVoie"`
	Type    string `json:"type"`
}

// NumeroView is the nested view of a numero.
type NumeroView struct {
	VoieNumero
	Voie    *NumeroVoie `json:"voie,omitempty"`
	Commune CommuneRef  `json:"commune"`
}

// CommuneSummary is one row of the communes summary.
type CommuneSummary struct {
	CodeCommune        string            `json:"codeCommune"`
	NomCommune         string            `json:"nomCommune"`
	Departement        string            `json:"departement,omitempty"`
	Region             string            `json:"region,omitempty"`
	NbLieuxDits        int               `json:"nbLieuxDits"`
	NbNumeros          int               `json:"nbNumeros"`
	NbNumerosCertifies int               `json:"nbNumerosCertifies"`
	NbVoies            int               `json:"nbVoies"`
	Population         int               `json:"population"`
	TypeComposition    string            `json:"typeComposition,omitempty"`
	AnalyseAdressage   *AnalyseAdressage `json:"analyseAdressage,omitempty"`
	CompositionAskedAt *time.Time        `json:"compositionAskedAt,omitempty"`
}

// =============================================================================
// VIEW BUILDER
// =============================================================================

// Views builds the read views.
type Views struct {
	store    Store
	resolver cog.Resolver
}

// NewViews creates a view builder.
func NewViews(store Store, resolver cog.Resolver) *Views {
	return &Views{store: store, resolver: resolver}
}

// CommuneView returns the commune with its voies, or nil when unknown.
func (v *Views) CommuneView(ctx context.Context, codeCommune string) (*CommuneView, error) {
	c, err := v.store.GetCommune(ctx, codeCommune)
	if err != nil || c == nil {
		return nil, err
	}
	voies, err := v.store.ListVoies(ctx, codeCommune)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(voies, func(i, j int) bool { return voies[i].IDVoie < voies[j].IDVoie })

	view := &CommuneView{
		ID:                 c.CodeCommune,
		Type:               "commune",
		CodeCommune:        c.CodeCommune,
		NomCommune:         c.NomCommune,
		Departement:        c.Departement,
		Region:             c.Region,
		NbNumeros:          c.NbNumeros,
		NbNumerosCertifies: c.NbNumerosCertifies,
		NbVoies:            c.NbVoies,
		NbLieuxDits:        c.NbLieuxDits,
		Population:         c.Population,
		TypeComposition:    c.TypeComposition,
		AnalyseAdressage:   c.AnalyseAdressage,
		DisplayBBox:        c.DisplayBBox,
		IDRevision:         c.IDRevision,
		DateRevision:       c.DateRevision,
		Voies:              make([]CommuneVoie, 0, len(voies)),
	}
	for _, vo := range voies {
		view.Voies = append(view.Voies, CommuneVoie{
			Type:               vo.Type,
			IDVoie:             vo.IDVoie,
			NomVoie:            vo.NomVoie,
			SourceNomVoie:      vo.SourceNomVoie,
			Sources:            vo.Sources,
			NbNumeros:          vo.NbNumeros,
			NbNumerosCertifies: vo.NbNumerosCertifies,
		})
	}
	return view, nil
}

// VoieView returns the voie with its commune and numeros, or nil when unknown.
func (v *Views) VoieView(ctx context.Context, idVoie string) (*VoieView, error) {
	vo, err := v.store.GetVoie(ctx, idVoie)
	if err != nil || vo == nil {
		return nil, err
	}
	numeros, err := v.store.ListNumerosByVoie(ctx, idVoie)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(numeros, func(i, j int) bool { return numeros[i].CleInterop < numeros[j].CleInterop })

	view := &VoieView{
		Type:               vo.Type,
		IDVoie:             vo.IDVoie,
		NomVoie:            vo.NomVoie,
		SourceNomVoie:      vo.SourceNomVoie,
		Sources:            vo.Sources,
		NbNumeros:          vo.NbNumeros,
		NbNumerosCertifies: vo.NbNumerosCertifies,
		DisplayBBox:        vo.DisplayBBox,
		Commune:            v.communeRef(vo.CodeCommune),
		Numeros:            make([]VoieNumero, 0, len(numeros)),
	}
	for _, n := range numeros {
		view.Numeros = append(view.Numeros, voieNumero(n))
	}
	return view, nil
}

// NumeroView returns the numero with its voie and commune, or nil when unknown.
func (v *Views) NumeroView(ctx context.Context, id string) (*NumeroView, error) {
	n, err := v.store.GetNumero(ctx, id)
	if err != nil || n == nil {
		return nil, err
	}
	view := &NumeroView{
		VoieNumero: voieNumero(*n),
		Commune:    v.communeRef(n.CodeCommune),
	}

	vo, err := v.store.GetVoie(ctx, n.IDVoie)
	if err != nil {
		return nil, err
	}
	if vo != nil {
		view.Voie = &NumeroVoie{IDVoie: vo.IDVoie, NomVoie: vo.NomVoie, Type: vo.Type}
	}
	return view, nil
}

// CommunesSummary lists every commune sorted by code.
func (v *Views) CommunesSummary(ctx context.Context) ([]CommuneSummary, error) {
	communes, err := v.store.ListCommunes(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(communes, func(i, j int) bool { return communes[i].CodeCommune < communes[j].CodeCommune })

	summary := make([]CommuneSummary, 0, len(communes))
	for _, c := range communes {
		s := CommuneSummary{
			CodeCommune:        c.CodeCommune,
			NomCommune:         c.NomCommune,
			NbLieuxDits:        c.NbLieuxDits,
			NbNumeros:          c.NbNumeros,
			NbNumerosCertifies: c.NbNumerosCertifies,
			NbVoies:            c.NbVoies,
			Population:         c.Population,
			TypeComposition:    c.TypeComposition,
			AnalyseAdressage:   c.AnalyseAdressage,
			CompositionAskedAt: c.CompositionAskedAt,
		}
		if c.Departement != nil {
			s.Departement = c.Departement.Code
		}
		if c.Region != nil {
			s.Region = c.Region.Code
		}
		summary = append(summary, s)
	}
	return summary, nil
}

// communeRef resolves a commune code through the catalog. Unknown codes
// keep their code and an empty name.
func (v *Views) communeRef(code string) CommuneRef {
	ref := CommuneRef{ID: code, Code: code}
	cm, ok := v.resolver.Commune(code)
	if !ok {
		return ref
	}
	ref.Nom = cm.Nom
	if d, ok := v.resolver.Departement(cm.Departement); ok {
		ref.Departement = &Area{Code: d.Code, Nom: d.Nom}
	}
	if r, ok := v.resolver.Region(cm.Region); ok {
		ref.Region = &Area{Code: r.Code, Nom: r.Nom}
	}
	return ref
}

func voieNumero(n Numero) VoieNumero {
	return VoieNumero{
		ID:                   n.ID,
		Numero:               n.Numero,
		Suffixe:              n.Suffixe,
		LieuDitComplementNom: n.LieuDitComplementNom,
		Parcelles:            n.Parcelles,
		Sources:              n.Sources,
		Position:             n.Position,
		PositionType:         n.PositionType,
		SourcePosition:       n.SourcePosition,
		Certifie:             n.Certifie,
		CodePostal:           n.CodePostal,
		LibelleAcheminement:  n.LibelleAcheminement,
		CleInterop:           n.CleInterop,
	}
}
