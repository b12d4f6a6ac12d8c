/*
Package cog resolves commune, departement and region codes against the
official geographic code (COG) catalog.

PURPOSE:
  Read-only lookups. The catalog is loaded once at startup from a JSON
  export and never mutated afterwards, so lookups need no locking.

CURRENT COMMUNE:
  Communes merge and split. A code may name:
  - a current commune ("commune-actuelle", "arrondissement-municipal")
  - a delegated/associated commune, attached to its chef-lieu
  - a defunct commune, replaced by a successor code
  CurrentCommune follows chefLieu/successeur links until it reaches a
  current commune. A code can be both a current commune and a delegated
  commune (the chef-lieu keeps its code); the current one wins.

FILE FORMAT:
  {
    "regions":      [{"code": "84", "nom": "Auvergne-Rhône-Alpes"}],
    "departements": [{"code": "01", "nom": "Ain", "region": "84"}],
    "communes":     [{"code": "01001", "nom": "...", "type": "commune-actuelle",
                      "departement": "01", "region": "84"}]
  }
*/
package cog

import (
	"encoding/json"
	"fmt"
	"os"
)

// Commune types.
const (
	TypeCommuneActuelle         = "commune-actuelle"
	TypeCommuneDeleguee         = "commune-deleguee"
	TypeCommuneAssociee         = "commune-associee"
	TypeArrondissementMunicipal = "arrondissement-municipal"
	TypeCommuneAncienne         = "commune-ancienne"
)

// maxHops bounds successor chains so a malformed catalog cannot loop.
const maxHops = 16

// Commune is a catalog entry.
type Commune struct {
	Code        string `json:"code"`
	Nom         string `json:"nom"`
	Type        string `json:"type"`
	Departement string `json:"departement,omitempty"`
	Region      string `json:"region,omitempty"`
	ChefLieu    string `json:"chefLieu,omitempty"`
	Successeur  string `json:"successeur,omitempty"`
}

// IsCurrent reports whether the entry is a live commune.
func (c Commune) IsCurrent() bool {
	return c.Type == TypeCommuneActuelle || c.Type == TypeArrondissementMunicipal
}

func (c Commune) next() string {
	if c.ChefLieu != "" {
		return c.ChefLieu
	}
	return c.Successeur
}

// Area is a departement or region.
type Area struct {
	Code   string `json:"code"`
	Nom    string `json:"nom"`
	Region string `json:"region,omitempty"`
}

// Resolver is the lookup surface the registry depends on.
type Resolver interface {
	// CurrentCommune returns the live commune the code maps to.
	CurrentCommune(code string) (*Commune, bool)
	// Commune returns the entry for code, preferring the current one.
	Commune(code string) (*Commune, bool)
	Departement(code string) (*Area, bool)
	Region(code string) (*Area, bool)
}

// Catalog is an in-memory Resolver.
type Catalog struct {
	current      map[string]Commune
	historical   map[string]Commune
	departements map[string]Area
	regions      map[string]Area
}

type catalogFile struct {
	Regions      []Area    `json:"regions"`
	Departements []Area    `json:"departements"`
	Communes     []Commune `json:"communes"`
}

// Load reads a catalog from a JSON file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	var f catalogFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}
	return New(f.Communes, f.Departements, f.Regions), nil
}

// New builds a catalog from entries.
func New(communes []Commune, departements, regions []Area) *Catalog {
	c := &Catalog{
		current:      make(map[string]Commune, len(communes)),
		historical:   make(map[string]Commune),
		departements: make(map[string]Area, len(departements)),
		regions:      make(map[string]Area, len(regions)),
	}
	for _, cm := range communes {
		if cm.IsCurrent() {
			c.current[cm.Code] = cm
		} else {
			c.historical[cm.Code] = cm
		}
	}
	for _, d := range departements {
		c.departements[d.Code] = d
	}
	for _, r := range regions {
		c.regions[r.Code] = r
	}
	return c
}

// CurrentCommune implements Resolver.
func (c *Catalog) CurrentCommune(code string) (*Commune, bool) {
	for hop := 0; hop < maxHops; hop++ {
		if cm, ok := c.current[code]; ok {
			return &cm, true
		}
		cm, ok := c.historical[code]
		if !ok || cm.next() == "" || cm.next() == code {
			return nil, false
		}
		code = cm.next()
	}
	return nil, false
}

// Commune implements Resolver.
func (c *Catalog) Commune(code string) (*Commune, bool) {
	if cm, ok := c.current[code]; ok {
		return &cm, true
	}
	if cm, ok := c.historical[code]; ok {
		return &cm, true
	}
	return nil, false
}

// Departement implements Resolver.
func (c *Catalog) Departement(code string) (*Area, bool) {
	d, ok := c.departements[code]
	if !ok {
		return nil, false
	}
	return &d, true
}

// Region implements Resolver.
func (c *Catalog) Region(code string) (*Area, bool) {
	r, ok := c.regions[code]
	if !ok {
		return nil, false
	}
	return &r, true
}

// Len returns the number of current communes.
func (c *Catalog) Len() int {
	return len(c.current)
}
