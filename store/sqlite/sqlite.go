/*
Package sqlite provides a SQLite-backed document store for the registry.

PURPOSE:
  Implements registry.Store (communes, voies, numeros) on SQLite. Each
  collection keeps its records as JSON documents; the fields the
  registry queries on are lifted into indexed columns.

KEY TABLES:
  communes:      one document per commune + workflow columns
                 (composition_asked_at, force_certification)
  voies:         voie documents, keyed by id_voie
  numeros:       numero documents, keyed by id; adresses_originales
                 kept in its own column so tile queries never load it
  voie_tiles:    (tile, id_voie) membership index
  numero_tiles:  (tile, id) membership index

INDEXES:
  - idx_voies_commune / idx_numeros_commune: wholesale replacement
  - idx_numeros_voie: voie view, ordered by cle_interop
  - idx_communes_composition_asked: pending compositions scan
  - voie_tiles / numero_tiles primary keys: tile extraction (hot path)

ATOMICITY:
  Single-document writes are atomic (a voie or numero and its tile rows
  go in one SQL transaction). Bulk inserts are unordered and
  best-effort: each row has its own transaction and a failing row is
  reported in a *registry.BulkInsertError. There is no transaction
  spanning collections.

CONCURRENCY:
  Uses sync.RWMutex plus a single connection. ":memory:" databases are
  per-connection, so the pool is pinned to one.

USAGE:
  store, err := sqlite.New("./data/registry.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - registry/store.go: Interface definitions
  - registry/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/ban-registry/registry"
)

// maxInArgs keeps IN (...) lists under SQLite's variable limit.
const maxInArgs = 500

// Store implements registry.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ registry.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Communes (one document per canonical code)
	CREATE TABLE IF NOT EXISTS communes (
		code_commune TEXT PRIMARY KEY,
		doc TEXT NOT NULL,
		composition_asked_at TEXT,
		force_certification INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_communes_composition_asked
		ON communes(composition_asked_at) WHERE composition_asked_at IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_communes_force_certification
		ON communes(force_certification) WHERE force_certification = 1;

	-- Voies (replaced wholesale per commune)
	CREATE TABLE IF NOT EXISTS voies (
		id_voie TEXT PRIMARY KEY,
		code_commune TEXT NOT NULL,
		doc TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_voies_commune
		ON voies(code_commune);

	CREATE TABLE IF NOT EXISTS voie_tiles (
		tile TEXT NOT NULL,
		id_voie TEXT NOT NULL,
		PRIMARY KEY (tile, id_voie)
	);

	CREATE INDEX IF NOT EXISTS idx_voie_tiles_voie
		ON voie_tiles(id_voie);

	-- Numeros (replaced wholesale per commune)
	CREATE TABLE IF NOT EXISTS numeros (
		id TEXT PRIMARY KEY,
		code_commune TEXT NOT NULL,
		id_voie TEXT NOT NULL,
		cle_interop TEXT NOT NULL,
		doc TEXT NOT NULL,
		adresses_originales TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_numeros_commune
		ON numeros(code_commune, cle_interop);
	CREATE INDEX IF NOT EXISTS idx_numeros_voie
		ON numeros(id_voie, cle_interop);

	CREATE TABLE IF NOT EXISTS numero_tiles (
		tile TEXT NOT NULL,
		id TEXT NOT NULL,
		PRIMARY KEY (tile, id)
	);

	CREATE INDEX IF NOT EXISTS idx_numero_tiles_numero
		ON numero_tiles(id);
	`

	_, err := s.db.Exec(schema)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// COMMUNE STORE (registry.CommuneStore interface)
// =============================================================================

const communeColumns = "code_commune, doc, composition_asked_at, force_certification"

// GetCommune retrieves a commune by code.
func (s *Store) GetCommune(ctx context.Context, code string) (*registry.Commune, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+communeColumns+" FROM communes WHERE code_commune = ?", code)
	c, err := scanCommune(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCommunes returns all communes ordered by code.
func (s *Store) ListCommunes(ctx context.Context) ([]registry.Commune, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+communeColumns+" FROM communes ORDER BY code_commune")
	if err != nil {
		return nil, fmt.Errorf("failed to query communes: %w", err)
	}
	defer rows.Close()

	communes := []registry.Commune{}
	for rows.Next() {
		c, err := scanCommune(rows)
		if err != nil {
			return nil, err
		}
		communes = append(communes, c)
	}
	return communes, rows.Err()
}

// UpdateCommune merges a patch into the commune document, creating it if needed.
func (s *Store) UpdateCommune(ctx context.Context, code string, patch registry.CommunePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	c := registry.Commune{CodeCommune: code}
	var doc string
	err = tx.QueryRowContext(ctx, "SELECT doc FROM communes WHERE code_commune = ?", code).Scan(&doc)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return fmt.Errorf("failed to load commune %s: %w", code, err)
	default:
		if err := json.Unmarshal([]byte(doc), &c); err != nil {
			return fmt.Errorf("failed to decode commune %s: %w", code, err)
		}
	}
	patch.Apply(&c)

	newDoc, err := communeDoc(c)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO communes (code_commune, doc, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(code_commune) DO UPDATE SET
			doc = excluded.doc,
			updated_at = excluded.updated_at
	`, code, newDoc, now())
	if err != nil {
		return fmt.Errorf("failed to update commune %s: %w", code, err)
	}
	return tx.Commit()
}

// SetCompositionAskedAt upserts the commune with a pending composition.
func (s *Store) SetCompositionAskedAt(ctx context.Context, code string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := communeDoc(registry.Commune{CodeCommune: code})
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO communes (code_commune, doc, composition_asked_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(code_commune) DO UPDATE SET
			composition_asked_at = excluded.composition_asked_at,
			updated_at = excluded.updated_at
	`, code, doc, at.UTC().Format(time.RFC3339Nano), now())
	if err != nil {
		return fmt.Errorf("failed to set compositionAskedAt on %s: %w", code, err)
	}
	return nil
}

// UnsetCompositionAskedAt clears a pending composition.
func (s *Store) UnsetCompositionAskedAt(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE communes SET composition_asked_at = NULL, updated_at = ?
		WHERE code_commune = ? AND composition_asked_at IS NOT NULL
	`, now(), code)
	if err != nil {
		return fmt.Errorf("failed to unset compositionAskedAt on %s: %w", code, err)
	}
	return nil
}

// ListCompositionAsked returns the codes of communes with a pending composition.
func (s *Store) ListCompositionAsked(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryCodes(ctx,
		"SELECT code_commune FROM communes WHERE composition_asked_at IS NOT NULL ORDER BY code_commune")
}

// ListForceCertified returns the codes of force-certified communes.
func (s *Store) ListForceCertified(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryCodes(ctx,
		"SELECT code_commune FROM communes WHERE force_certification = 1 ORDER BY code_commune")
}

// SetForceCertification flips the flag on every code in one transaction.
func (s *Store) SetForceCertification(ctx context.Context, codes []string, value bool) error {
	if len(codes) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ts := now()
	if !value {
		for _, chunk := range chunks(codes, maxInArgs) {
			args := append([]any{ts}, toArgs(chunk)...)
			_, err := tx.ExecContext(ctx,
				"UPDATE communes SET force_certification = 0, updated_at = ? WHERE code_commune IN ("+placeholders(len(chunk))+")",
				args...)
			if err != nil {
				return fmt.Errorf("failed to clear force certification: %w", err)
			}
		}
		return tx.Commit()
	}

	for _, code := range codes {
		doc, err := communeDoc(registry.Commune{CodeCommune: code})
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO communes (code_commune, doc, force_certification, updated_at)
			VALUES (?, ?, 1, ?)
			ON CONFLICT(code_commune) DO UPDATE SET
				force_certification = 1,
				updated_at = excluded.updated_at
		`, code, doc, ts)
		if err != nil {
			return fmt.Errorf("failed to set force certification on %s: %w", code, err)
		}
	}
	return tx.Commit()
}

func (s *Store) queryCodes(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query communes: %w", err)
	}
	defer rows.Close()

	codes := []string{}
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCommune(row scanner) (registry.Commune, error) {
	var (
		c        registry.Commune
		code     string
		doc      string
		askedAt  sql.NullString
		forceCrt int
	)
	if err := row.Scan(&code, &doc, &askedAt, &forceCrt); err != nil {
		return c, err
	}
	if err := json.Unmarshal([]byte(doc), &c); err != nil {
		return c, fmt.Errorf("failed to decode commune %s: %w", code, err)
	}
	c.CodeCommune = code
	c.ForceCertification = forceCrt == 1
	c.CompositionAskedAt = nil
	if askedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, askedAt.String)
		if err != nil {
			return c, fmt.Errorf("failed to parse compositionAskedAt of %s: %w", code, err)
		}
		c.CompositionAskedAt = &t
	}
	return c, nil
}

// communeDoc serializes the summary part of a commune. Workflow fields
// live in their own columns.
func communeDoc(c registry.Commune) (string, error) {
	c.CompositionAskedAt = nil
	c.ForceCertification = false
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to encode commune %s: %w", c.CodeCommune, err)
	}
	return string(data), nil
}

// =============================================================================
// ADDRESS STORE (registry.AddressStore interface)
// =============================================================================

// DeleteVoies removes every voie of a commune.
func (s *Store) DeleteVoies(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM voie_tiles WHERE id_voie IN (SELECT id_voie FROM voies WHERE code_commune = ?)", code); err != nil {
		return fmt.Errorf("failed to delete voie tiles of %s: %w", code, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM voies WHERE code_commune = ?", code); err != nil {
		return fmt.Errorf("failed to delete voies of %s: %w", code, err)
	}
	return tx.Commit()
}

// DeleteNumeros removes every numero of a commune.
func (s *Store) DeleteNumeros(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM numero_tiles WHERE id IN (SELECT id FROM numeros WHERE code_commune = ?)", code); err != nil {
		return fmt.Errorf("failed to delete numero tiles of %s: %w", code, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM numeros WHERE code_commune = ?", code); err != nil {
		return fmt.Errorf("failed to delete numeros of %s: %w", code, err)
	}
	return tx.Commit()
}

// InsertVoies inserts voies, unordered. Failing rows are skipped and reported.
func (s *Store) InsertVoies(ctx context.Context, voies []registry.Voie) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	failed := map[string]error{}
	for _, v := range voies {
		if err := s.insertRow(ctx, func(tx execer) error { return insertVoie(ctx, tx, v) }); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed[v.IDVoie] = err
		}
	}
	return bulkError("voies", failed)
}

// InsertNumeros inserts numeros, unordered. Failing rows are skipped and reported.
func (s *Store) InsertNumeros(ctx context.Context, numeros []registry.Numero) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	failed := map[string]error{}
	for _, n := range numeros {
		if err := s.insertRow(ctx, func(tx execer) error { return insertNumero(ctx, tx, n) }); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed[n.ID] = err
		}
	}
	return bulkError("numeros", failed)
}

// insertRow writes one document and its tile rows atomically.
func (s *Store) insertRow(ctx context.Context, fn func(tx execer) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func insertVoie(ctx context.Context, tx execer, v registry.Voie) error {
	doc, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO voies (id_voie, code_commune, doc) VALUES (?, ?, ?)",
		v.IDVoie, v.CodeCommune, string(doc))
	if err != nil {
		return insertError(v.IDVoie, err)
	}
	for _, tile := range v.Tiles {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO voie_tiles (tile, id_voie) VALUES (?, ?)", tile, v.IDVoie); err != nil {
			return err
		}
	}
	return nil
}

func insertNumero(ctx context.Context, tx execer, n registry.Numero) error {
	var originales sql.NullString
	if len(n.AdressesOriginales) > 0 {
		data, err := json.Marshal(n.AdressesOriginales)
		if err != nil {
			return err
		}
		originales = sql.NullString{String: string(data), Valid: true}
	}
	n.AdressesOriginales = nil
	doc, err := json.Marshal(n)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO numeros (id, code_commune, id_voie, cle_interop, doc, adresses_originales)
		VALUES (?, ?, ?, ?, ?, ?)
	`, n.ID, n.CodeCommune, n.IDVoie, n.CleInterop, string(doc), originales)
	if err != nil {
		return insertError(n.ID, err)
	}
	for _, tile := range n.Tiles {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO numero_tiles (tile, id) VALUES (?, ?)", tile, n.ID); err != nil {
			return err
		}
	}
	return nil
}

// GetVoie retrieves a voie by id.
func (s *Store) GetVoie(ctx context.Context, id string) (*registry.Voie, error) {
	voies, err := s.queryVoies(ctx, "SELECT doc FROM voies WHERE id_voie = ?", id)
	if err != nil || len(voies) == 0 {
		return nil, err
	}
	return &voies[0], nil
}

// GetNumero retrieves a numero by id, provenance included.
func (s *Store) GetNumero(ctx context.Context, id string) (*registry.Numero, error) {
	numeros, err := s.queryNumeros(ctx, true,
		"SELECT doc, adresses_originales FROM numeros WHERE id = ?", id)
	if err != nil || len(numeros) == 0 {
		return nil, err
	}
	return &numeros[0], nil
}

// ListVoies returns the voies of a commune ordered by id.
func (s *Store) ListVoies(ctx context.Context, code string) ([]registry.Voie, error) {
	return s.queryVoies(ctx,
		"SELECT doc FROM voies WHERE code_commune = ? ORDER BY id_voie", code)
}

// ListNumeros returns the numeros of a commune ordered by cle_interop.
func (s *Store) ListNumeros(ctx context.Context, code string) ([]registry.Numero, error) {
	return s.queryNumeros(ctx, true,
		"SELECT doc, adresses_originales FROM numeros WHERE code_commune = ? ORDER BY cle_interop, id", code)
}

// ListNumerosByVoie returns the numeros of a voie ordered by cle_interop.
func (s *Store) ListNumerosByVoie(ctx context.Context, idVoie string) ([]registry.Numero, error) {
	return s.queryNumeros(ctx, true,
		"SELECT doc, adresses_originales FROM numeros WHERE id_voie = ? ORDER BY cle_interop, id", idVoie)
}

// ListVoiesByID returns the voies matching ids.
func (s *Store) ListVoiesByID(ctx context.Context, ids []string) ([]registry.Voie, error) {
	voies := []registry.Voie{}
	for _, chunk := range chunks(ids, maxInArgs) {
		part, err := s.queryVoies(ctx,
			"SELECT doc FROM voies WHERE id_voie IN ("+placeholders(len(chunk))+")", toArgs(chunk)...)
		if err != nil {
			return nil, err
		}
		voies = append(voies, part...)
	}
	return voies, nil
}

// ListVoiesByTile returns the voies tagged with tile.
func (s *Store) ListVoiesByTile(ctx context.Context, tile string) ([]registry.Voie, error) {
	return s.queryVoies(ctx, `
		SELECT v.doc FROM voies v
		JOIN voie_tiles t ON t.id_voie = v.id_voie
		WHERE t.tile = ?
		ORDER BY v.id_voie
	`, tile)
}

// ListNumerosByTile returns the numeros tagged with tile, without provenance.
func (s *Store) ListNumerosByTile(ctx context.Context, tile string) ([]registry.Numero, error) {
	return s.queryNumeros(ctx, false, `
		SELECT n.doc FROM numeros n
		JOIN numero_tiles t ON t.id = n.id
		WHERE t.tile = ?
		ORDER BY n.id
	`, tile)
}

func (s *Store) queryVoies(ctx context.Context, query string, args ...any) ([]registry.Voie, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query voies: %w", err)
	}
	defer rows.Close()

	voies := []registry.Voie{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan voie: %w", err)
		}
		var v registry.Voie
		if err := json.Unmarshal([]byte(doc), &v); err != nil {
			return nil, fmt.Errorf("failed to decode voie: %w", err)
		}
		voies = append(voies, v)
	}
	return voies, rows.Err()
}

// queryNumeros scans numeros. With provenance, the query must select
// adresses_originales as its second column.
func (s *Store) queryNumeros(ctx context.Context, withProvenance bool, query string, args ...any) ([]registry.Numero, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query numeros: %w", err)
	}
	defer rows.Close()

	numeros := []registry.Numero{}
	for rows.Next() {
		var (
			doc        string
			originales sql.NullString
		)
		dest := []any{&doc}
		if withProvenance {
			dest = append(dest, &originales)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan numero: %w", err)
		}
		var n registry.Numero
		if err := json.Unmarshal([]byte(doc), &n); err != nil {
			return nil, fmt.Errorf("failed to decode numero: %w", err)
		}
		if originales.Valid && originales.String != "" {
			if err := json.Unmarshal([]byte(originales.String), &n.AdressesOriginales); err != nil {
				return nil, fmt.Errorf("failed to decode adressesOriginales of %s: %w", n.ID, err)
			}
		}
		numeros = append(numeros, n)
	}
	return numeros, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func bulkError(collection string, failed map[string]error) error {
	if len(failed) == 0 {
		return nil
	}
	return &registry.BulkInsertError{Collection: collection, Failed: failed}
}

func insertError(key string, err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("duplicate key %q: %w", key, err)
	}
	return err
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func chunks(values []string, size int) [][]string {
	var out [][]string
	for len(values) > size {
		out = append(out, values[:size])
		values = values[size:]
	}
	if len(values) > 0 {
		out = append(out, values)
	}
	return out
}
