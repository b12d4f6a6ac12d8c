// Package store provides registry.Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/ban-registry/registry"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is an in-memory document store. Records are deep-copied on the
// way in and out so callers cannot alias stored state.
type Memory struct {
	mu       sync.RWMutex
	communes map[string]registry.Commune
	voies    map[string]registry.Voie
	numeros  map[string]registry.Numero

	// failInsert rejects rows by key, to exercise partial failures.
	failInsert map[string]error
}

func NewMemory() *Memory {
	return &Memory{
		communes:   make(map[string]registry.Commune),
		voies:      make(map[string]registry.Voie),
		numeros:    make(map[string]registry.Numero),
		failInsert: make(map[string]error),
	}
}

// FailInsert makes the next insert of the given row key fail with err.
// Later inserts of that key go through.
func (m *Memory) FailInsert(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failInsert[key] = err
}

// =============================================================================
// COMMUNES
// =============================================================================

func (m *Memory) GetCommune(_ context.Context, code string) (*registry.Commune, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.communes[code]
	if !ok {
		return nil, nil
	}
	c = copyCommune(c)
	return &c, nil
}

func (m *Memory) ListCommunes(_ context.Context) ([]registry.Commune, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]registry.Commune, 0, len(m.communes))
	for _, c := range m.communes {
		out = append(out, copyCommune(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CodeCommune < out[j].CodeCommune })
	return out, nil
}

func (m *Memory) UpdateCommune(_ context.Context, code string, patch registry.CommunePatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.communeLocked(code)
	patch.Apply(&c)
	m.communes[code] = c
	return nil
}

func (m *Memory) SetCompositionAskedAt(_ context.Context, code string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.communeLocked(code)
	c.CompositionAskedAt = &at
	m.communes[code] = c
	return nil
}

func (m *Memory) UnsetCompositionAskedAt(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.communes[code]
	if !ok {
		return nil
	}
	c.CompositionAskedAt = nil
	m.communes[code] = c
	return nil
}

func (m *Memory) ListCompositionAsked(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	codes := []string{}
	for code, c := range m.communes {
		if c.CompositionAskedAt != nil {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	return codes, nil
}

func (m *Memory) ListForceCertified(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	codes := []string{}
	for code, c := range m.communes {
		if c.ForceCertification {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	return codes, nil
}

func (m *Memory) SetForceCertification(_ context.Context, codes []string, value bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, code := range codes {
		c, ok := m.communes[code]
		if !ok {
			if !value {
				continue
			}
			c = registry.Commune{CodeCommune: code}
		}
		c.ForceCertification = value
		m.communes[code] = c
	}
	return nil
}

func (m *Memory) communeLocked(code string) registry.Commune {
	c, ok := m.communes[code]
	if !ok {
		return registry.Commune{CodeCommune: code}
	}
	return c
}

// =============================================================================
// VOIES / NUMEROS
// =============================================================================

func (m *Memory) DeleteVoies(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, v := range m.voies {
		if v.CodeCommune == code {
			delete(m.voies, id)
		}
	}
	return nil
}

func (m *Memory) DeleteNumeros(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, n := range m.numeros {
		if n.CodeCommune == code {
			delete(m.numeros, id)
		}
	}
	return nil
}

func (m *Memory) InsertVoies(_ context.Context, voies []registry.Voie) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	failed := map[string]error{}
	for _, v := range voies {
		if err := m.checkInsertLocked(v.IDVoie, m.hasVoie(v.IDVoie)); err != nil {
			failed[v.IDVoie] = err
			continue
		}
		m.voies[v.IDVoie] = copyVoie(v)
	}
	return bulkError("voies", failed)
}

func (m *Memory) InsertNumeros(_ context.Context, numeros []registry.Numero) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	failed := map[string]error{}
	for _, n := range numeros {
		_, exists := m.numeros[n.ID]
		if err := m.checkInsertLocked(n.ID, exists); err != nil {
			failed[n.ID] = err
			continue
		}
		m.numeros[n.ID] = copyNumero(n)
	}
	return bulkError("numeros", failed)
}

func (m *Memory) hasVoie(id string) bool {
	_, ok := m.voies[id]
	return ok
}

func (m *Memory) checkInsertLocked(key string, exists bool) error {
	if err, ok := m.failInsert[key]; ok {
		delete(m.failInsert, key)
		return err
	}
	if exists {
		return fmt.Errorf("duplicate key %q", key)
	}
	return nil
}

func (m *Memory) GetVoie(_ context.Context, id string) (*registry.Voie, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.voies[id]
	if !ok {
		return nil, nil
	}
	v = copyVoie(v)
	return &v, nil
}

func (m *Memory) GetNumero(_ context.Context, id string) (*registry.Numero, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.numeros[id]
	if !ok {
		return nil, nil
	}
	n = copyNumero(n)
	return &n, nil
}

func (m *Memory) ListVoies(_ context.Context, code string) ([]registry.Voie, error) {
	return m.filterVoies(func(v registry.Voie) bool { return v.CodeCommune == code }), nil
}

func (m *Memory) ListNumeros(_ context.Context, code string) ([]registry.Numero, error) {
	return m.filterNumeros(func(n registry.Numero) bool { return n.CodeCommune == code }, true), nil
}

func (m *Memory) ListNumerosByVoie(_ context.Context, idVoie string) ([]registry.Numero, error) {
	return m.filterNumeros(func(n registry.Numero) bool { return n.IDVoie == idVoie }, true), nil
}

func (m *Memory) ListVoiesByID(_ context.Context, ids []string) ([]registry.Voie, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	return m.filterVoies(func(v registry.Voie) bool { return want[v.IDVoie] }), nil
}

func (m *Memory) ListVoiesByTile(_ context.Context, tile string) ([]registry.Voie, error) {
	return m.filterVoies(func(v registry.Voie) bool { return contains(v.Tiles, tile) }), nil
}

func (m *Memory) ListNumerosByTile(_ context.Context, tile string) ([]registry.Numero, error) {
	return m.filterNumeros(func(n registry.Numero) bool { return contains(n.Tiles, tile) }, false), nil
}

func (m *Memory) filterVoies(keep func(registry.Voie) bool) []registry.Voie {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []registry.Voie{}
	for _, v := range m.voies {
		if keep(v) {
			out = append(out, copyVoie(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IDVoie < out[j].IDVoie })
	return out
}

func (m *Memory) filterNumeros(keep func(registry.Numero) bool, withProvenance bool) []registry.Numero {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []registry.Numero{}
	for _, n := range m.numeros {
		if keep(n) {
			c := copyNumero(n)
			if !withProvenance {
				c.AdressesOriginales = nil
			}
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CleInterop < out[j].CleInterop })
	return out
}

// =============================================================================
// HELPERS
// =============================================================================

func bulkError(collection string, failed map[string]error) error {
	if len(failed) == 0 {
		return nil
	}
	return &registry.BulkInsertError{Collection: collection, Failed: failed}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func copyCommune(c registry.Commune) registry.Commune {
	if c.Departement != nil {
		d := *c.Departement
		c.Departement = &d
	}
	if c.Region != nil {
		r := *c.Region
		c.Region = &r
	}
	if c.AnalyseAdressage != nil {
		a := *c.AnalyseAdressage
		c.AnalyseAdressage = &a
	}
	if c.CompositionAskedAt != nil {
		t := *c.CompositionAskedAt
		c.CompositionAskedAt = &t
	}
	if c.DateRevision != nil {
		t := *c.DateRevision
		c.DateRevision = &t
	}
	c.DisplayBBox = cloneFloats(c.DisplayBBox)
	return c
}

func copyVoie(v registry.Voie) registry.Voie {
	v.Sources = cloneStrings(v.Sources)
	v.Tiles = cloneStrings(v.Tiles)
	v.DisplayBBox = cloneFloats(v.DisplayBBox)
	return v
}

func copyNumero(n registry.Numero) registry.Numero {
	if n.Position != nil {
		p := *n.Position
		p.Coordinates = append([]float64(nil), p.Coordinates...)
		n.Position = &p
	}
	n.Parcelles = cloneStrings(n.Parcelles)
	n.Sources = cloneStrings(n.Sources)
	n.Tiles = cloneStrings(n.Tiles)
	if n.AdressesOriginales != nil {
		n.AdressesOriginales = append(n.AdressesOriginales[:0:0], n.AdressesOriginales...)
	}
	return n
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

func cloneFloats(b registry.BBox) registry.BBox {
	if b == nil {
		return nil
	}
	return append(registry.BBox(nil), b...)
}
