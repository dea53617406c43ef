package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/VghostS/backNotifications/internal/domain/model"
)

var (
	ErrUnknownItem  = errors.New("unknown catalog item")
	ErrInvalidItem  = errors.New("invalid catalog item")
	ErrDuplicateKey = errors.New("duplicate catalog item id")
)

// Catalog is the fixed item table. It is never mutated after New returns,
// so reads need no locking.
type Catalog struct {
	items map[string]model.CatalogItem
	order []string
}

func New(items []model.CatalogItem) (*Catalog, error) {
	c := &Catalog{
		items: make(map[string]model.CatalogItem, len(items)),
		order: make([]string, 0, len(items)),
	}

	for _, item := range items {
		item.ID = normalizeID(item.ID)
		item.DisplayName = strings.TrimSpace(item.DisplayName)
		item.FulfillmentPayload = strings.TrimSpace(item.FulfillmentPayload)

		if item.ID == "" {
			return nil, fmt.Errorf("%w: empty id", ErrInvalidItem)
		}
		if item.UnitPrice <= 0 {
			return nil, fmt.Errorf("%w: %s has non-positive price %d", ErrInvalidItem, item.ID, item.UnitPrice)
		}
		if item.FulfillmentPayload == "" {
			return nil, fmt.Errorf("%w: %s has empty fulfillment payload", ErrInvalidItem, item.ID)
		}
		if item.DisplayName == "" {
			item.DisplayName = item.ID
		}
		if _, exists := c.items[item.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, item.ID)
		}

		c.items[item.ID] = item
		c.order = append(c.order, item.ID)
	}

	sort.Strings(c.order)
	return c, nil
}

func (c *Catalog) Get(itemID string) (model.CatalogItem, error) {
	if c == nil {
		return model.CatalogItem{}, ErrUnknownItem
	}
	item, ok := c.items[normalizeID(itemID)]
	if !ok {
		return model.CatalogItem{}, ErrUnknownItem
	}
	return item, nil
}

func (c *Catalog) List() []model.CatalogItem {
	if c == nil {
		return nil
	}
	out := make([]model.CatalogItem, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.items[id])
	}
	return out
}

func normalizeID(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
