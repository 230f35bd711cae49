package domain

import "time"

// Nutrient is one row of the nutrient catalog. Code is the key AI estimates are reported under.
type Nutrient struct {
	ID   int
	Code string
	Name string
	Unit string
}

// FoodLogEntry is the stored slice of a food entry that estimation works from.
type FoodLogEntry struct {
	FoodEntryID int64
	FoodID      *int64
	FoodName    string
	Date        time.Time
	Calories    *float64
	Quantity    *float64
}

// UserProfile carries the demographic details used to estimate daily goals. Every field is optional.
type UserProfile struct {
	UserID          int64
	Gender          string
	Age             *int
	WeightKg        *float64
	HeightCm        *float64
	ActivityLevel   string
	PregnancyStatus string
}
