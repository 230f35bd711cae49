package enrich

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNutrientCatalogLoadsOnce(t *testing.T) {
	lister := &stubLister{}
	catalog := NewNutrientCatalog(lister)
	require.Zero(t, lister.calls)

	n, ok, err := catalog.Lookup(context.Background(), "vitamin_c_mg")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 7, n.ID)

	_, ok, err = catalog.Lookup(context.Background(), "nope")
	require.NoError(t, err)
	require.False(t, ok)

	all, err := catalog.All(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "protein_g", all[0].Code)
	require.Equal(t, 1, lister.calls)
}

func TestNutrientCatalogRetriesFailedLoad(t *testing.T) {
	lister := &stubLister{err: errors.New("connection refused")}
	catalog := NewNutrientCatalog(lister)

	_, _, err := catalog.Lookup(context.Background(), "protein_g")
	require.Error(t, err)

	lister.err = nil
	_, ok, err := catalog.Lookup(context.Background(), "protein_g")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, lister.calls)
}
