/*
store.go - Persistence interfaces for the three collections

PURPOSE:
  Defines the contract between the registry logic and the document
  store. Each collection is written independently; the store provides
  single-document atomicity only. There is NO cross-collection
  transaction.

KEY INTERFACES:
  CommuneStore:  one document per commune (upsert, field set/unset,
                 bulk flag updates, pending/flagged queries)
  AddressStore:  voies and numeros (delete-by-commune, unordered bulk
                 insert, lookups by key, by foreign key and by tile)
  Store:         both, as handed to the registry components

UNORDERED INSERTS:
  InsertVoies/InsertNumeros keep going after a failing row and report
  the failures as a *BulkInsertError. Insertion order is not preserved.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite document store
  - registry/store/memory.go: in-memory, for tests and dev

SEE ALSO:
  - commune_data.go: the only writer of voies/numeros
*/
package registry

import (
	"context"
	"time"
)

// =============================================================================
// COMMUNE STORE
// =============================================================================

// CommuneStore persists commune records.
type CommuneStore interface {
	// GetCommune returns nil, nil when the commune does not exist.
	GetCommune(ctx context.Context, codeCommune string) (*Commune, error)

	// ListCommunes returns every commune sorted by code ascending.
	ListCommunes(ctx context.Context) ([]Commune, error)

	// UpdateCommune merges patch into the record, creating it if needed.
	UpdateCommune(ctx context.Context, codeCommune string, patch CommunePatch) error

	// SetCompositionAskedAt upserts the commune with the given timestamp.
	SetCompositionAskedAt(ctx context.Context, codeCommune string, at time.Time) error

	// UnsetCompositionAskedAt clears the timestamp. No-op when absent.
	UnsetCompositionAskedAt(ctx context.Context, codeCommune string) error

	// ListCompositionAsked returns the codes with a pending composition.
	ListCompositionAsked(ctx context.Context) ([]string, error)

	// ListForceCertified returns the codes flagged forceCertification.
	ListForceCertified(ctx context.Context) ([]string, error)

	// SetForceCertification sets the flag to value on every given code
	// in one bulk update. Setting true upserts missing communes.
	SetForceCertification(ctx context.Context, codes []string, value bool) error
}

// =============================================================================
// ADDRESS STORE
// =============================================================================

// AddressStore persists voies and numeros.
type AddressStore interface {
	DeleteVoies(ctx context.Context, codeCommune string) error
	DeleteNumeros(ctx context.Context, codeCommune string) error

	InsertVoies(ctx context.Context, voies []Voie) error
	InsertNumeros(ctx context.Context, numeros []Numero) error

	// GetVoie and GetNumero return nil, nil when absent.
	GetVoie(ctx context.Context, idVoie string) (*Voie, error)
	GetNumero(ctx context.Context, id string) (*Numero, error)

	// ListVoies returns the voies of a commune sorted by idVoie.
	ListVoies(ctx context.Context, codeCommune string) ([]Voie, error)

	// ListNumeros returns the numeros of a commune sorted by cleInterop.
	ListNumeros(ctx context.Context, codeCommune string) ([]Numero, error)

	// ListNumerosByVoie returns the numeros of a voie sorted by cleInterop.
	ListNumerosByVoie(ctx context.Context, idVoie string) ([]Numero, error)

	// ListVoiesByID returns the voies whose id is in ids, in no
	// particular order. Unknown ids are skipped.
	ListVoiesByID(ctx context.Context, ids []string) ([]Voie, error)

	// ListVoiesByTile returns the voies tagged with tile.
	ListVoiesByTile(ctx context.Context, tile string) ([]Voie, error)

	// ListNumerosByTile returns the numeros tagged with tile, without
	// their AdressesOriginales.
	ListNumerosByTile(ctx context.Context, tile string) ([]Numero, error)
}

// Store is the full document store handed to the registry components.
type Store interface {
	CommuneStore
	AddressStore
}

// =============================================================================
// WORK QUEUE
// =============================================================================

// Enqueuer is the boundary to the composition work queue. The queue is
// expected to dedupe per commune.
type Enqueuer interface {
	Enqueue(ctx context.Context, job CompositionJob) error
}
