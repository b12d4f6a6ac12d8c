package registry_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/warp/ban-registry/cog"
	"github.com/warp/ban-registry/registry"
	"github.com/warp/ban-registry/registry/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var errQueueDown = errors.New("queue down")

// recordingQueue records jobs and can be made to fail.
type recordingQueue struct {
	mu   sync.Mutex
	jobs []registry.CompositionJob
	fail bool
}

func (q *recordingQueue) Enqueue(_ context.Context, job registry.CompositionJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail {
		return errQueueDown
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) codes() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.jobs))
	for i, j := range q.jobs {
		out[i] = j.CodeCommune
	}
	return out
}

func testCatalog() *cog.Catalog {
	return cog.New(
		[]cog.Commune{
			{Code: "01001", Nom: "L'Abergement-Clémenciat", Type: cog.TypeCommuneActuelle, Departement: "01", Region: "84"},
			{Code: "01002", Nom: "L'Abergement-de-Varey", Type: cog.TypeCommuneActuelle, Departement: "01", Region: "84"},
			{Code: "01004", Nom: "Ambérieu-en-Bugey", Type: cog.TypeCommuneActuelle, Departement: "01", Region: "84"},
			{Code: "01015", Nom: "Arboys en Bugey", Type: cog.TypeCommuneActuelle, Departement: "01", Region: "84"},
			{Code: "01340", Nom: "Saint-Bois", Type: cog.TypeCommuneDeleguee, ChefLieu: "01015"},
		},
		[]cog.Area{{Code: "01", Nom: "Ain", Region: "84"}},
		[]cog.Area{{Code: "84", Nom: "Auvergne-Rhône-Alpes"}},
	)
}

var fixedNow = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store   *store.Memory
	queue   *recordingQueue
	tracker *registry.Tracker
}

func newFixture() *fixture {
	mem := store.NewMemory()
	q := &recordingQueue{}
	return &fixture{
		store:   mem,
		queue:   q,
		tracker: registry.NewTracker(mem, testCatalog(), q, registry.WithClock(func() time.Time { return fixedNow })),
	}
}

func voie(id, code string, tiles ...string) registry.Voie {
	return registry.Voie{
		IDVoie:      id,
		CodeCommune: code,
		NomVoie:     "Voie " + id,
		Type:        registry.TypeVoie,
		DisplayBBox: registry.BBox{4.9, 46.1, 4.95, 46.15},
		Tiles:       tiles,
	}
}

func numero(id, code, idVoie, cle string, tiles ...string) registry.Numero {
	return registry.Numero{
		ID:          id,
		CodeCommune: code,
		IDVoie:      idVoie,
		Numero:      1,
		CleInterop:  cle,
		Position:    &registry.Position{Type: "Point", Coordinates: []float64{4.92, 46.12}},
		Tiles:       tiles,
	}
}
