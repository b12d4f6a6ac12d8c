package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ban-registry/registry"
)

func TestFailInsert_FiresOnce(t *testing.T) {
	// GIVEN: one numero key set to fail
	m := NewMemory()
	ctx := context.Background()
	cause := errors.New("constraint violation")
	m.FailInsert("n2", cause)
	numeros := []registry.Numero{
		{ID: "n1", CodeCommune: "01001", IDVoie: "v1"},
		{ID: "n2", CodeCommune: "01001", IDVoie: "v1"},
	}

	// WHEN: the first insert
	err := m.InsertNumeros(ctx, numeros)

	// THEN: only n2 rejected
	var bulk *registry.BulkInsertError
	require.True(t, errors.As(err, &bulk))
	assert.Equal(t, map[string]error{"n2": cause}, bulk.Failed)

	// WHEN: the same rows after a delete
	require.NoError(t, m.DeleteNumeros(ctx, "01001"))
	err = m.InsertNumeros(ctx, numeros)

	// THEN: both written
	require.NoError(t, err)
	stored, err := m.ListNumeros(ctx, "01001")
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}
