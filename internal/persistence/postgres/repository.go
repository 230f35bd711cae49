package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/personaldata/internal/domain"
)

// Repository provides the read side of the personal_data schema.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// UserIDs lists every user that has signing tokens, optionally restricted to filter.
func (r *Repository) UserIDs(ctx context.Context, filter []int64) ([]int64, error) {
	const query = `SELECT u.id
        FROM personal_data.users u
        JOIN personal_data.access_tokens t ON u.id = t.user_id
        WHERE ($1::bigint[] IS NULL OR u.id = ANY($1))
        ORDER BY u.id`

	rows, err := r.pool.Query(ctx, query, idFilter(filter))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// Nutrients returns the nutrient catalog ordered by id.
func (r *Repository) Nutrients(ctx context.Context) ([]domain.Nutrient, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, unit FROM personal_data.nutrients ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Nutrient
	for rows.Next() {
		var n domain.Nutrient
		if err := rows.Scan(&n.ID, &n.Code, &n.Name, &n.Unit); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// FoodLog returns the user's stored food entries dated between start and end inclusive.
func (r *Repository) FoodLog(ctx context.Context, userID int64, start, end time.Time) ([]domain.FoodLogEntry, error) {
	const query = `SELECT fatsecret_food_entry_id, fatsecret_food_id, COALESCE(food_name, ''), date, calories::float8, quantity::float8
        FROM personal_data.food_entries
        WHERE user_id = $1 AND date BETWEEN $2 AND $3
        ORDER BY date, fatsecret_food_entry_id`

	rows, err := r.pool.Query(ctx, query, userID, domain.TruncateDay(start), domain.TruncateDay(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.FoodLogEntry
	for rows.Next() {
		var e domain.FoodLogEntry
		if err := rows.Scan(&e.FoodEntryID, &e.FoodID, &e.FoodName, &e.Date, &e.Calories, &e.Quantity); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UserProfile loads demographic details. A user without a details row yields ok=false.
func (r *Repository) UserProfile(ctx context.Context, userID int64) (domain.UserProfile, bool, error) {
	const query = `SELECT user_id, COALESCE(gender, ''), age, weight_kg::float8, height_cm::float8,
            COALESCE(activity_level, ''), COALESCE(pregnancy_status, '')
        FROM personal_data.user_details
        WHERE user_id = $1`

	var p domain.UserProfile
	err := r.pool.QueryRow(ctx, query, userID).Scan(&p.UserID, &p.Gender, &p.Age, &p.WeightKg, &p.HeightCm, &p.ActivityLevel, &p.PregnancyStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.UserProfile{UserID: userID}, false, nil
		}
		return domain.UserProfile{}, false, fmt.Errorf("load profile for user %d: %w", userID, err)
	}
	return p, true, nil
}

// idFilter maps an empty filter to SQL NULL so the query matches every user.
func idFilter(ids []int64) any {
	if len(ids) == 0 {
		return nil
	}
	return ids
}
