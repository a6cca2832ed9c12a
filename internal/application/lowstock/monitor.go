// Package lowstock evaluates available quantity against reorder thresholds.
// Nothing is persisted: every answer is computed from the current records.
package lowstock

import (
	"context"
	"sort"

	"github.com/xiebiao/stockledger/internal/domain/stock"
)

// Item is one SKU at or below its threshold.
type Item struct {
	SKU       string `json:"sku"`
	OnHand    int    `json:"on_hand"`
	Reserved  int    `json:"reserved"`
	Available int    `json:"available"`
	Threshold int    `json:"threshold"`
}

// Monitor answers low-stock queries against the current records.
type Monitor struct {
	stocks stock.Repository
	policy *Policy
}

func NewMonitor(stocks stock.Repository, policy *Policy) *Monitor {
	return &Monitor{stocks: stocks, policy: policy}
}

// CheckLowStock reports whether sku's available quantity is at or below the
// threshold. A nil threshold uses the SKU's configured one.
func (m *Monitor) CheckLowStock(ctx context.Context, sku string, threshold *int) (bool, Item, error) {
	rec, err := m.stocks.Get(ctx, sku)
	if err != nil {
		return false, Item{}, err
	}
	item := m.item(rec, threshold)
	return rec.IsLowStock(item.Threshold), item, nil
}

// ListLowStock returns every SKU at or below its threshold, sorted by SKU.
// A non-nil threshold overrides the per-SKU policy for all SKUs.
func (m *Monitor) ListLowStock(ctx context.Context, threshold *int) ([]Item, error) {
	records, err := m.stocks.List(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0)
	for _, rec := range records {
		item := m.item(rec, threshold)
		if rec.IsLowStock(item.Threshold) {
			items = append(items, item)
		}
	}

	sort.Slice(items, func(i, j int) bool { return items[i].SKU < items[j].SKU })
	return items, nil
}

func (m *Monitor) item(rec *stock.Record, threshold *int) Item {
	t := m.policy.Threshold(rec.SKU)
	if threshold != nil {
		t = *threshold
	}
	return Item{
		SKU:       rec.SKU,
		OnHand:    rec.OnHand,
		Reserved:  rec.Reserved,
		Available: rec.Available(),
		Threshold: t,
	}
}
