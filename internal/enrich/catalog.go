package enrich

import (
	"context"
	"sort"
	"sync"

	"example.com/personaldata/internal/domain"
)

// NutrientLister loads the nutrient catalog.
type NutrientLister interface {
	Nutrients(ctx context.Context) ([]domain.Nutrient, error)
}

// NutrientCatalog caches the code to nutrient mapping. It loads on first use and is read-only
// afterwards; a failed load is retried on the next call.
type NutrientCatalog struct {
	source NutrientLister

	mu     sync.Mutex
	loaded bool
	byCode map[string]domain.Nutrient
	codes  []string
}

// NewNutrientCatalog wraps source.
func NewNutrientCatalog(source NutrientLister) *NutrientCatalog {
	return &NutrientCatalog{source: source}
}

func (c *NutrientCatalog) load(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return nil
	}
	list, err := c.source.Nutrients(ctx)
	if err != nil {
		return err
	}
	byCode := make(map[string]domain.Nutrient, len(list))
	codes := make([]string, 0, len(list))
	for _, n := range list {
		byCode[n.Code] = n
		codes = append(codes, n.Code)
	}
	sort.Strings(codes)
	c.byCode, c.codes, c.loaded = byCode, codes, true
	return nil
}

// Lookup resolves code to a nutrient.
func (c *NutrientCatalog) Lookup(ctx context.Context, code string) (domain.Nutrient, bool, error) {
	if err := c.load(ctx); err != nil {
		return domain.Nutrient{}, false, err
	}
	n, ok := c.byCode[code]
	return n, ok, nil
}

// All returns every nutrient ordered by code.
func (c *NutrientCatalog) All(ctx context.Context) ([]domain.Nutrient, error) {
	if err := c.load(ctx); err != nil {
		return nil, err
	}
	out := make([]domain.Nutrient, 0, len(c.codes))
	for _, code := range c.codes {
		out = append(out, c.byCode[code])
	}
	return out, nil
}
