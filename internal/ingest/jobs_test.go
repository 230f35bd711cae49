package ingest

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/personaldata/internal/domain"
)

var may21 = time.Date(2025, time.May, 21, 0, 0, 0, 0, time.UTC)

func column(t *testing.T, spec domain.TableSpec, rec domain.Record, name string) any {
	t.Helper()
	for i, c := range spec.Columns {
		if c == name {
			return rec.Values[i]
		}
	}
	t.Fatalf("column %s not in %s", name, spec.Name())
	return nil
}

func TestNormalizeFoodEntriesSingleObject(t *testing.T) {
	unit := domain.NewFetchUnit(domain.GranularityDay, may21, 1)
	payload := json.RawMessage(`{"food_entry":{"food_entry_id":"9001","date_int":"20229","meal":"Breakfast","food_entry_name":"Oatmeal","calories":"150","protein":"5.50","food_id":"33","number_of_units":"1.000"}}`)

	records, errs := normalizeFoodEntries(unit, payload)
	require.Empty(t, errs)
	require.Len(t, records, 1)

	rec := records[0]
	require.Len(t, rec.Values, len(domain.FoodEntriesTable.Columns))
	require.Equal(t, may21, rec.Date)
	require.Equal(t, int64(9001), column(t, domain.FoodEntriesTable, rec, "fatsecret_food_entry_id"))
	require.Equal(t, "Oatmeal", column(t, domain.FoodEntriesTable, rec, "food_name"))
	require.Equal(t, 150.0, column(t, domain.FoodEntriesTable, rec, "calories"))
	require.Equal(t, 5.5, column(t, domain.FoodEntriesTable, rec, "protein"))
	require.Equal(t, int64(33), column(t, domain.FoodEntriesTable, rec, "fatsecret_food_id"))
	require.Nil(t, column(t, domain.FoodEntriesTable, rec, "vitamin_c"))
}

func TestNormalizeFoodEntriesKeepsGoodEntriesWhenOneIsMalformed(t *testing.T) {
	unit := domain.NewFetchUnit(domain.GranularityDay, may21, 1)
	payload := json.RawMessage(`{"food_entry":[
		{"food_entry_id":"1","calories":"10"},
		{"food_entry_id":"2","calories":"ten"},
		{"calories":"30"}
	]}`)

	records, errs := normalizeFoodEntries(unit, payload)
	require.Len(t, records, 1)
	require.Len(t, errs, 2)
	for _, err := range errs {
		require.True(t, errors.Is(err, domain.ErrMalformedRecord))
	}
	require.Equal(t, may21, records[0].Date, "entries without date_int take the unit day")
}

func TestNormalizeLegacyDefaultsQuantity(t *testing.T) {
	unit := domain.NewFetchUnit(domain.GranularityDay, may21, 4)
	payload := json.RawMessage(`{"food_entry":{"food_entry_id":"77","food_name":"Tea","calories":"2","metric_serving_unit":"ml"}}`)

	records, errs := normalizeLegacyFoodEntries(unit, payload)
	require.Empty(t, errs)
	require.Len(t, records, 1)
	rec := records[0]
	require.Equal(t, 1.0, column(t, domain.LegacyFoodEntriesTable, rec, "quantity"))
	require.Equal(t, "ml", column(t, domain.LegacyFoodEntriesTable, rec, "unit"))
	require.Equal(t, "Tea", column(t, domain.LegacyFoodEntriesTable, rec, "food_name"))
	require.Equal(t, int64(4), column(t, domain.LegacyFoodEntriesTable, rec, "user_id"))
}

func TestNormalizeExerciseUsesUnitDate(t *testing.T) {
	unit := domain.NewFetchUnit(domain.GranularityDay, may21, 2)
	payload := json.RawMessage(`{"exercise_entry":[{"exercise_id":"1","exercise_name":"Sleeping","minutes":"480","calories":"400.00"},{"exercise_id":"2","exercise_name":"Running","minutes":"30","calories":"300"}]}`)

	records, errs := normalizeExerciseEntries(unit, payload)
	require.Empty(t, errs)
	require.Len(t, records, 2)
	require.Equal(t, may21, records[1].Date)
	require.Equal(t, []any{int64(2), may21, "Running", 30.0, 300.0, int64(2)}, records[1].Values)
}

func TestNormalizeWeightMonthUnpacksDays(t *testing.T) {
	unit := domain.NewFetchUnit(domain.GranularityMonth, may21, 1)
	payload := json.RawMessage(`{"from_date_int":"20209","to_date_int":"20239","day":[
		{"date_int":"20228","weight_kg":"81.4"},
		{"date_int":"20229","weight_kg":"81.1"},
		{"date_int":"20230"}
	]}`)

	records, errs := normalizeWeightMonth(unit, payload)
	require.Empty(t, errs)
	require.Len(t, records, 2)
	require.Equal(t, may21.AddDate(0, 0, -1), records[0].Date)
	require.Equal(t, []any{int64(1), may21, 81.1}, records[1].Values)
}

func TestNormalizeWeightMonthSingleDayObject(t *testing.T) {
	unit := domain.NewFetchUnit(domain.GranularityMonth, may21, 1)
	records, errs := normalizeWeightMonth(unit, json.RawMessage(`{"day":{"date_int":20229,"weight_kg":80}}`))
	require.Empty(t, errs)
	require.Len(t, records, 1)
	require.Equal(t, 80.0, records[0].Values[2])
}

func TestLookupUnknownJob(t *testing.T) {
	_, err := Lookup("sleep")
	require.Error(t, err)
	require.Contains(t, Jobs(), JobWeightDaily)
}
