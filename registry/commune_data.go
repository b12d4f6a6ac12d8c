/*
commune_data.go - Wholesale replacement of a commune's address data

PURPOSE:
  SaveCommuneData is the ONLY write path for voies and numeros. The
  composition pipeline calls it once per finished job with the full
  dataset of the commune.

SEQUENCE:
  1. delete voies and numeros of the commune (concurrently)
  2. merge the commune summary fields into the commune record
  3. unordered bulk insert of the voies, then of the numeros

CONSISTENCY WINDOW:
  There is no cross-collection transaction. Between step 1 and step 3
  a reader may see the commune empty or half repopulated: voies without
  numeros, or a tile missing features. This is accepted; readers
  converge once step 3 completes.

PARTIAL FAILURE:
  A row rejected by the store does not stop the others. The rejected
  rows come back as a *BulkInsertError (errors.Is ErrBulkInsert).
*/
package registry

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/warp/ban-registry/metrics"
)

// SaveCommuneData replaces the address data of codeCommune.
func (t *Tracker) SaveCommuneData(ctx context.Context, codeCommune string, data CommuneData) error {
	if err := checkOwnership(codeCommune, data); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return t.store.DeleteVoies(gctx, codeCommune) })
	g.Go(func() error { return t.store.DeleteNumeros(gctx, codeCommune) })
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to clear address data of %s: %w", codeCommune, err)
	}

	if err := t.store.UpdateCommune(ctx, codeCommune, PatchFromCommune(data.Commune)); err != nil {
		return fmt.Errorf("failed to update commune %s: %w", codeCommune, err)
	}

	var insertErrs []error
	if len(data.Voies) > 0 {
		if err := t.store.InsertVoies(ctx, data.Voies); err != nil {
			if !recordBulkFailure(err) {
				return fmt.Errorf("failed to insert voies of %s: %w", codeCommune, err)
			}
			insertErrs = append(insertErrs, err)
		}
	}
	if len(data.Numeros) > 0 {
		if err := t.store.InsertNumeros(ctx, data.Numeros); err != nil {
			if !recordBulkFailure(err) {
				return fmt.Errorf("failed to insert numeros of %s: %w", codeCommune, err)
			}
			insertErrs = append(insertErrs, err)
		}
	}

	metrics.RecordCommuneDataSaved()
	t.log.Info("Commune data saved", "codeCommune", codeCommune,
		"voies", len(data.Voies), "numeros", len(data.Numeros), "bulkErrors", len(insertErrs))
	return errors.Join(insertErrs...)
}

// GetCommuneData returns the raw dataset of a commune, or nil when the
// commune does not exist.
func (t *Tracker) GetCommuneData(ctx context.Context, codeCommune string) (*CommuneData, error) {
	commune, err := t.store.GetCommune(ctx, codeCommune)
	if err != nil || commune == nil {
		return nil, err
	}

	data := &CommuneData{Commune: *commune}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		voies, err := t.store.ListVoies(gctx, codeCommune)
		data.Voies = voies
		return err
	})
	g.Go(func() error {
		numeros, err := t.store.ListNumeros(gctx, codeCommune)
		data.Numeros = numeros
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return data, nil
}

func checkOwnership(codeCommune string, data CommuneData) error {
	if data.Commune.CodeCommune != "" && data.Commune.CodeCommune != codeCommune {
		return fmt.Errorf("%w: commune %s saved under %s", ErrCommuneMismatch, data.Commune.CodeCommune, codeCommune)
	}
	for _, v := range data.Voies {
		if v.CodeCommune != codeCommune {
			return fmt.Errorf("%w: voie %s has codeCommune %q", ErrCommuneMismatch, v.IDVoie, v.CodeCommune)
		}
	}
	for _, n := range data.Numeros {
		if n.CodeCommune != codeCommune {
			return fmt.Errorf("%w: numero %s has codeCommune %q", ErrCommuneMismatch, n.ID, n.CodeCommune)
		}
	}
	return nil
}

func recordBulkFailure(err error) bool {
	var bulk *BulkInsertError
	if !errors.As(err, &bulk) {
		return false
	}
	metrics.RecordBulkInsertFailures(bulk.Collection, len(bulk.Failed))
	return true
}
