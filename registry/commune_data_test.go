package registry_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ban-registry/registry"
)

func communeData(code string, nbVoies, nbNumeros int, prefix string) registry.CommuneData {
	data := registry.CommuneData{
		Commune: registry.Commune{
			CodeCommune: code,
			NomCommune:  "Commune " + code,
			NbVoies:     nbVoies,
			NbNumeros:   nbNumeros,
			Departement: &registry.Area{Code: "01", Nom: "Ain"},
			Region:      &registry.Area{Code: "84", Nom: "Auvergne-Rhône-Alpes"},
		},
	}
	for i := 0; i < nbVoies; i++ {
		data.Voies = append(data.Voies, voie(fmt.Sprintf("%s_%s%d", code, prefix, i), code))
	}
	for i := 0; i < nbNumeros; i++ {
		idVoie := data.Voies[i%nbVoies].IDVoie
		data.Numeros = append(data.Numeros,
			numero(fmt.Sprintf("%s_n%d", idVoie, i), code, idVoie, fmt.Sprintf("%s_%05d", idVoie, i)))
	}
	return data
}

func TestSaveCommuneData_ReplacesWholesale(t *testing.T) {
	// GIVEN: a previous composition with 5 voies / 20 numeros
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.tracker.SaveCommuneData(ctx, "01001", communeData("01001", 5, 20, "old")))

	// WHEN: saving 3 voies / 10 numeros
	next := communeData("01001", 3, 10, "new")
	require.NoError(t, f.tracker.SaveCommuneData(ctx, "01001", next))

	// THEN: exactly the new rows, no residue
	data, err := f.tracker.GetCommuneData(ctx, "01001")
	require.NoError(t, err)
	require.NotNil(t, data)
	assert.Len(t, data.Voies, 3)
	assert.Len(t, data.Numeros, 10)
	assert.ElementsMatch(t, idsOfVoies(next.Voies), idsOfVoies(data.Voies))
	assert.Equal(t, 3, data.Commune.NbVoies)
	assert.Equal(t, "Commune 01001", data.Commune.NomCommune)
}

func TestSaveCommuneData_LeavesOtherCommunes(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.tracker.SaveCommuneData(ctx, "01002", communeData("01002", 2, 4, "v")))

	require.NoError(t, f.tracker.SaveCommuneData(ctx, "01001", communeData("01001", 1, 1, "v")))

	data, err := f.tracker.GetCommuneData(ctx, "01002")
	require.NoError(t, err)
	assert.Len(t, data.Voies, 2)
	assert.Len(t, data.Numeros, 4)
}

func TestSaveCommuneData_KeepsWorkflowFields(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, err := f.tracker.AskComposition(ctx, "01001")
	require.NoError(t, err)

	require.NoError(t, f.tracker.SaveCommuneData(ctx, "01001", communeData("01001", 1, 1, "v")))

	c, err := f.tracker.GetCommune(ctx, "01001")
	require.NoError(t, err)
	assert.True(t, c.CompositionPending(), "only FinishComposition clears the flag")
}

func TestSaveCommuneData_PartialInsertFailure(t *testing.T) {
	// GIVEN: the store rejects one numero
	f := newFixture()
	ctx := context.Background()
	data := communeData("01001", 2, 4, "v")
	f.store.FailInsert(data.Numeros[1].ID, errors.New("constraint violation"))

	// WHEN
	err := f.tracker.SaveCommuneData(ctx, "01001", data)

	// THEN: the other rows are stored and the failed one is reported
	var bulk *registry.BulkInsertError
	require.True(t, errors.As(err, &bulk))
	assert.Equal(t, "numeros", bulk.Collection)
	assert.Contains(t, bulk.Failed, data.Numeros[1].ID)

	saved, err := f.tracker.GetCommuneData(ctx, "01001")
	require.NoError(t, err)
	assert.Len(t, saved.Voies, 2)
	assert.Len(t, saved.Numeros, 3)
}

func TestSaveCommuneData_RejectsForeignRows(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	data := communeData("01001", 1, 1, "v")
	data.Numeros[0].CodeCommune = "01002"

	err := f.tracker.SaveCommuneData(ctx, "01001", data)

	assert.ErrorIs(t, err, registry.ErrCommuneMismatch)
	c, err := f.tracker.GetCommune(ctx, "01001")
	require.NoError(t, err)
	assert.Nil(t, c, "nothing written")
}

func TestSaveCommuneData_Empty(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.tracker.SaveCommuneData(ctx, "01001", communeData("01001", 2, 2, "v")))

	require.NoError(t, f.tracker.SaveCommuneData(ctx, "01001", registry.CommuneData{
		Commune: registry.Commune{CodeCommune: "01001"},
	}))

	data, err := f.tracker.GetCommuneData(ctx, "01001")
	require.NoError(t, err)
	assert.Empty(t, data.Voies)
	assert.Empty(t, data.Numeros)
	assert.Equal(t, 0, data.Commune.NbVoies)
}

func TestGetCommuneData_Absent(t *testing.T) {
	f := newFixture()

	data, err := f.tracker.GetCommuneData(context.Background(), "01001")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func idsOfVoies(voies []registry.Voie) []string {
	ids := make([]string, len(voies))
	for i, v := range voies {
		ids[i] = v.IDVoie
	}
	return ids
}
