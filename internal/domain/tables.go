package domain

const schemaPersonalData = "personal_data"

// WeightsTable holds one weigh-in per user and day.
var WeightsTable = TableSpec{
	Schema:     schemaPersonalData,
	Table:      "weights",
	Columns:    []string{"user_id", "date", "weight_kg"},
	NaturalKey: []string{"user_id", "date"},
	Policy:     ConflictUpdate,
}

// FoodEntriesTable holds diary food entries keyed by the provider's entry id.
var FoodEntriesTable = TableSpec{
	Schema: schemaPersonalData,
	Table:  "food_entries",
	Columns: []string{
		"user_id", "date", "meal_type", "food_name", "calories",
		"carbohydrate", "protein", "fat", "saturated_fat", "sugar", "fiber",
		"calcium", "iron", "cholesterol", "sodium", "vitamin_a", "vitamin_c",
		"monounsaturated_fat", "polyunsaturated_fat",
		"quantity", "unit", "fatsecret_food_id", "fatsecret_food_entry_id",
	},
	NaturalKey: []string{"fatsecret_food_entry_id"},
	Policy:     ConflictUpdate,
}

// LegacyFoodEntriesTable backfills the reduced historic column set without touching rows
// already written by the full import.
var LegacyFoodEntriesTable = TableSpec{
	Schema: schemaPersonalData,
	Table:  "food_entries",
	Columns: []string{
		"user_id", "date", "meal_type", "food_name", "calories",
		"quantity", "unit", "fatsecret_food_id", "fatsecret_food_entry_id",
	},
	NaturalKey: []string{"fatsecret_food_entry_id"},
	Policy:     ConflictIgnore,
}

// ExerciseEntriesTable holds exercise diary rows.
var ExerciseEntriesTable = TableSpec{
	Schema:     schemaPersonalData,
	Table:      "exercise_entries",
	Columns:    []string{"user_id", "date", "exercise_name", "duration_minutes", "calories", "fatsecret_exercise_id"},
	NaturalKey: []string{"user_id", "date", "fatsecret_exercise_id"},
	Policy:     ConflictUpdate,
}

// FoodEntryNutrientsTable holds estimated micronutrient amounts per food entry.
var FoodEntryNutrientsTable = TableSpec{
	Schema:     schemaPersonalData,
	Table:      "food_entry_nutrients",
	Columns:    []string{"food_entry_id", "nutrient_id", "amount"},
	NaturalKey: []string{"food_entry_id", "nutrient_id"},
	Policy:     ConflictUpdate,
}

// DailyNutrientGoalsTable holds per-day nutrient targets.
var DailyNutrientGoalsTable = TableSpec{
	Schema:     schemaPersonalData,
	Table:      "daily_nutrient_goals",
	Columns:    []string{"user_id", "date", "nutrient_id", "goal_amount"},
	NaturalKey: []string{"user_id", "date", "nutrient_id"},
	Policy:     ConflictUpdate,
}
