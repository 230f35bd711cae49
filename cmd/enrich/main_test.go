package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/personaldata/internal/enrich"
)

func TestParseOptions(t *testing.T) {
	o, err := parseOptions(enrich.ModeGoals, "2025-05-01", "2025-05-02", "5")
	require.NoError(t, err)
	require.Equal(t, enrich.ModeGoals, o.mode)
	require.Equal(t, []int64{5}, o.userIDs)

	_, err = parseOptions("vitamins", "2025-05-01", "2025-05-02", "")
	require.ErrorContains(t, err, "unknown mode")
	_, err = parseOptions(enrich.ModeNutrients, "2025-05-03", "2025-05-02", "")
	require.Error(t, err)
}
