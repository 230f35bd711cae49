// Package ingest sweeps FatSecret date ranges into normalized record batches and
// persists them through the idempotent upsert writer.
package ingest

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"example.com/personaldata/internal/domain"
)

// NormalizeFunc turns one unit payload into records. Entries that cannot be converted are
// reported individually and do not stop the rest of the payload.
type NormalizeFunc func(unit domain.FetchUnit, payload json.RawMessage) ([]domain.Record, []error)

// RecordSpec binds a provider method to its unit size, payload member and destination table.
type RecordSpec struct {
	Name        string
	Method      string
	PayloadKey  string
	Granularity domain.Granularity
	Table       domain.TableSpec
	// ClipToRange drops records dated outside the requested range. Month methods return
	// whole months even when only a single day was asked for.
	ClipToRange bool
	Normalize   NormalizeFunc
}

const (
	JobFood        = "food"
	JobFoodLegacy  = "food-legacy"
	JobExercise    = "exercise"
	JobWeight      = "weight"
	JobWeightDaily = "weight-daily"
)

var catalog = map[string]RecordSpec{
	JobFood: {
		Name:        JobFood,
		Method:      "food_entries.get",
		PayloadKey:  "food_entries",
		Granularity: domain.GranularityDay,
		Table:       domain.FoodEntriesTable,
		Normalize:   normalizeFoodEntries,
	},
	JobFoodLegacy: {
		Name:        JobFoodLegacy,
		Method:      "food_entries.get",
		PayloadKey:  "food_entries",
		Granularity: domain.GranularityDay,
		Table:       domain.LegacyFoodEntriesTable,
		Normalize:   normalizeLegacyFoodEntries,
	},
	JobExercise: {
		Name:        JobExercise,
		Method:      "exercise_entries.get",
		PayloadKey:  "exercise_entries",
		Granularity: domain.GranularityDay,
		Table:       domain.ExerciseEntriesTable,
		Normalize:   normalizeExerciseEntries,
	},
	JobWeight: {
		Name:        JobWeight,
		Method:      "weights.get_month.v2",
		PayloadKey:  "month",
		Granularity: domain.GranularityMonth,
		Table:       domain.WeightsTable,
		Normalize:   normalizeWeightMonth,
	},
	JobWeightDaily: {
		Name:        JobWeightDaily,
		Method:      "weights.get_month.v2",
		PayloadKey:  "month",
		Granularity: domain.GranularityMonth,
		Table:       domain.WeightsTable,
		ClipToRange: true,
		Normalize:   normalizeWeightMonth,
	},
}

// Lookup returns the record spec registered for job.
func Lookup(job string) (RecordSpec, error) {
	spec, ok := catalog[job]
	if !ok {
		return RecordSpec{}, fmt.Errorf("unknown job %q", job)
	}
	return spec, nil
}

// Jobs lists the registered job names.
func Jobs() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeFoodEntries(unit domain.FetchUnit, payload json.RawMessage) ([]domain.Record, []error) {
	list, err := entries(payload, "food_entry")
	if err != nil {
		return nil, []error{domain.Malformed("food_entry", err)}
	}
	var (
		records []domain.Record
		errs    []error
	)
	for _, e := range list {
		rec, err := foodRecord(unit, e)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		records = append(records, rec)
	}
	return records, errs
}

func foodRecord(unit domain.FetchUnit, e entry) (domain.Record, error) {
	entryID, err := e.requiredInt("food_entry_id")
	if err != nil {
		return domain.Record{}, err
	}
	date, err := entryDate(unit, e)
	if err != nil {
		return domain.Record{}, err
	}
	r := fieldReader{e: e}
	unitName := r.text("unit")
	if unitName == nil {
		unitName = r.text("metric_serving_unit")
	}
	name := r.text("food_entry_name")
	if name == nil {
		name = r.text("food_name")
	}
	values := []any{
		unit.UserID, date, r.text("meal"), name, r.decimal("calories"),
		r.decimal("carbohydrate"), r.decimal("protein"), r.decimal("fat"), r.decimal("saturated_fat"), r.decimal("sugar"), r.decimal("fiber"),
		r.decimal("calcium"), r.decimal("iron"), r.decimal("cholesterol"), r.decimal("sodium"), r.decimal("vitamin_a"), r.decimal("vitamin_c"),
		r.decimal("monounsaturated_fat"), r.decimal("polyunsaturated_fat"),
		r.decimal("number_of_units"), unitName, r.integer("food_id"), entryID,
	}
	if r.err != nil {
		return domain.Record{}, fmt.Errorf("food entry %d: %w", entryID, r.err)
	}
	return domain.Record{UserID: unit.UserID, Date: date, Values: values}, nil
}

func normalizeLegacyFoodEntries(unit domain.FetchUnit, payload json.RawMessage) ([]domain.Record, []error) {
	list, err := entries(payload, "food_entry")
	if err != nil {
		return nil, []error{domain.Malformed("food_entry", err)}
	}
	var (
		records []domain.Record
		errs    []error
	)
	for _, e := range list {
		entryID, err := e.requiredInt("food_entry_id")
		if err != nil {
			errs = append(errs, err)
			continue
		}
		date, err := entryDate(unit, e)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		r := fieldReader{e: e}
		name := r.text("food_entry_name")
		if name == nil {
			name = r.text("food_name")
		}
		quantity := r.decimal("number_of_units")
		if quantity == nil {
			quantity = 1.0
		}
		values := []any{
			unit.UserID, date, r.text("meal"), name, r.decimal("calories"),
			quantity, r.text("metric_serving_unit"), r.integer("food_id"), entryID,
		}
		if r.err != nil {
			errs = append(errs, fmt.Errorf("food entry %d: %w", entryID, r.err))
			continue
		}
		records = append(records, domain.Record{UserID: unit.UserID, Date: date, Values: values})
	}
	return records, errs
}

func normalizeExerciseEntries(unit domain.FetchUnit, payload json.RawMessage) ([]domain.Record, []error) {
	list, err := entries(payload, "exercise_entry")
	if err != nil {
		return nil, []error{domain.Malformed("exercise_entry", err)}
	}
	var (
		records []domain.Record
		errs    []error
	)
	for _, e := range list {
		exerciseID, err := e.requiredInt("exercise_id")
		if err != nil {
			errs = append(errs, err)
			continue
		}
		r := fieldReader{e: e}
		values := []any{
			unit.UserID, unit.Start, r.text("exercise_name"), r.decimal("minutes"), r.decimal("calories"), exerciseID,
		}
		if r.err != nil {
			errs = append(errs, fmt.Errorf("exercise %d: %w", exerciseID, r.err))
			continue
		}
		records = append(records, domain.Record{UserID: unit.UserID, Date: unit.Start, Values: values})
	}
	return records, errs
}

// normalizeWeightMonth unpacks month.day[] into one record per weighed day. Days without a
// weight are not errors; the provider lists every day of the month it has any data for.
func normalizeWeightMonth(unit domain.FetchUnit, payload json.RawMessage) ([]domain.Record, []error) {
	days, err := entries(payload, "day")
	if err != nil {
		return nil, []error{domain.Malformed("day", err)}
	}
	var (
		records []domain.Record
		errs    []error
	)
	for _, e := range days {
		date, err := e.date("date_int")
		if err != nil {
			errs = append(errs, err)
			continue
		}
		weight, err := e.decimal("weight_kg")
		if err != nil {
			errs = append(errs, fmt.Errorf("weight %s: %w", date.Format(time.DateOnly), err))
			continue
		}
		if weight == nil {
			continue
		}
		records = append(records, domain.Record{
			UserID: unit.UserID,
			Date:   date,
			Values: []any{unit.UserID, date, weight},
		})
	}
	return records, errs
}

// entryDate prefers the entry's own date_int and falls back to the unit day.
func entryDate(unit domain.FetchUnit, e entry) (time.Time, error) {
	if _, ok := e["date_int"]; !ok {
		return unit.Start, nil
	}
	return e.date("date_int")
}
