package order

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/appetiteclub/apt"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MenuItem is what the order service needs from the menu collaborator.
type MenuItem struct {
	ID              uuid.UUID
	Name            string
	Price           Money
	PreparationTime string
}

type MenuCatalog interface {
	Resolve(ctx context.Context, id uuid.UUID) (*MenuItem, error)
}

// MenuCache resolves menu items through the menu service and keeps the result.
// Prices are copied onto line items, so a stale cached entry only affects
// orders placed after a menu change.
type MenuCache struct {
	mu     sync.RWMutex
	items  map[uuid.UUID]*MenuItem
	client *apt.ServiceClient
	logger apt.Logger
}

func NewMenuCache(client *apt.ServiceClient, logger apt.Logger) *MenuCache {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &MenuCache{
		items:  make(map[uuid.UUID]*MenuItem),
		client: client,
		logger: logger.With("component", "menu-cache"),
	}
}

// Warm loads the whole menu in one call.
func (c *MenuCache) Warm(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	resp, err := c.client.List(ctx, "menu/items")
	if err != nil {
		return fmt.Errorf("failed to list menu items: %w", err)
	}
	return c.ingestCollection(resp.Data)
}

func (c *MenuCache) Resolve(ctx context.Context, id uuid.UUID) (*MenuItem, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("invalid menu item id")
	}
	if item, ok := c.Get(id); ok {
		return item, nil
	}
	return c.Refresh(ctx, id)
}

// ResolvePreparationTime returns the per-unit preparation time of a menu item.
func (c *MenuCache) ResolvePreparationTime(ctx context.Context, id uuid.UUID) (string, error) {
	item, err := c.Resolve(ctx, id)
	if err != nil {
		return "", err
	}
	return item.PreparationTime, nil
}

func (c *MenuCache) Refresh(ctx context.Context, id uuid.UUID) (*MenuItem, error) {
	if c.client == nil {
		return nil, fmt.Errorf("menu cache uninitialized")
	}
	resp, err := c.client.Get(ctx, "menu/items", id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch menu item %s: %w", id, err)
	}
	var dto menuItemDTO
	if err := rehydrate(resp.Data, &dto); err != nil {
		return nil, fmt.Errorf("failed to decode menu item %s: %w", id, err)
	}
	item, err := dto.toMenuItem()
	if err != nil {
		return nil, err
	}
	c.Set(item)
	return item, nil
}

func (c *MenuCache) Get(id uuid.UUID) (*MenuItem, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.items[id]
	return item, ok
}

func (c *MenuCache) Set(item *MenuItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[item.ID] = item
}

func (c *MenuCache) ingestCollection(data interface{}) error {
	var records []menuItemDTO
	if err := rehydrate(data, &records); err != nil {
		return err
	}
	for _, record := range records {
		item, err := record.toMenuItem()
		if err != nil {
			c.logger.Debug("skipping invalid menu item", "menu_item_id", record.ID, "error", err)
			continue
		}
		c.Set(item)
	}
	return nil
}

type menuItemDTO struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	Price           json.Number `json:"price"`
	PreparationTime interface{} `json:"preparation_time"`
}

func (d menuItemDTO) toMenuItem() (*MenuItem, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid menu item id %s", d.ID)
	}
	price := decimal.Zero
	if d.Price != "" {
		price, err = decimal.NewFromString(d.Price.String())
		if err != nil {
			return nil, fmt.Errorf("invalid price for menu item %s: %w", d.ID, err)
		}
	}
	return &MenuItem{
		ID:              id,
		Name:            d.Name,
		Price:           NewMoney(price),
		PreparationTime: FormatPreparationValue(d.PreparationTime),
	}, nil
}

func rehydrate(data interface{}, out interface{}) error {
	bytes, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, out)
}
