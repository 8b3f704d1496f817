// Package memdb is an in-memory order store used by tests and by --storage=memory.
package memdb

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"restaurant-ops/internal/domain/models"
	"restaurant-ops/internal/lifecycle"
	"restaurant-ops/internal/order/app/core"
)

type Store struct {
	mu       sync.Mutex
	orders   map[string]models.Order
	tables   map[string]models.Table
	audit    map[string][]models.AuditRecord
	dayCount map[string]int
}

func New() *Store {
	return &Store{
		orders:   make(map[string]models.Order),
		tables:   make(map[string]models.Table),
		audit:    make(map[string][]models.AuditRecord),
		dayCount: make(map[string]int),
	}
}

func (s *Store) CreateOrder(_ context.Context, order models.Order) (models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[order.ID]; ok {
		return models.Order{}, fmt.Errorf("order %s already exists", order.ID)
	}
	if order.TableID != nil {
		table, ok := s.tables[*order.TableID]
		if !ok {
			return models.Order{}, fmt.Errorf("%w: table %s", lifecycle.ErrNotFound, *order.TableID)
		}
		if table.StoreID != order.StoreID {
			return models.Order{}, fmt.Errorf("%w: table %s is in store %s", core.ErrStoreMismatch, table.ID, table.StoreID)
		}
	}

	day := order.CreatedAt.UTC().Format("20060102")
	s.dayCount[order.StoreID+"/"+day]++
	order.Code = fmt.Sprintf("ORD_%s_%03d", day, s.dayCount[order.StoreID+"/"+day])

	s.orders[order.ID] = order.Clone()
	s.audit[order.ID] = append(s.audit[order.ID], models.AuditRecord{
		OrderID:    order.ID,
		EntityType: models.EntityOrder,
		EntityID:   order.ID,
		ToStatus:   string(order.Status),
		Actor:      "system",
		CreatedAt:  order.CreatedAt,
	})
	return order.Clone(), nil
}

func (s *Store) GetOrder(_ context.Context, orderID string) (models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return models.Order{}, fmt.Errorf("%w: order %s", lifecycle.ErrNotFound, orderID)
	}
	return o.Clone(), nil
}

func (s *Store) LoadAggregate(_ context.Context, orderID string) (models.Aggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return models.Aggregate{}, fmt.Errorf("%w: order %s", lifecycle.ErrNotFound, orderID)
	}
	agg := models.Aggregate{Order: o.Clone()}
	if o.Delivery != nil {
		d := o.Delivery.Clone()
		agg.Delivery = &d
	}
	if o.TableID != nil {
		if t, ok := s.tables[*o.TableID]; ok {
			tc := t.Clone()
			agg.Table = &tc
		}
		agg.OtherActiveOnTable = s.activeOnTable(*o.TableID, o.ID)
	}
	return agg, nil
}

func (s *Store) activeOnTable(tableID, except string) []string {
	var ids []string
	for id, o := range s.orders {
		if id == except || o.TableID == nil || *o.TableID != tableID || o.Status.Terminal() {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// checkLocked verifies nothing moved since agg was loaded.
func (s *Store) checkLocked(agg models.Aggregate) error {
	cur, ok := s.orders[agg.Order.ID]
	if !ok {
		return fmt.Errorf("%w: order %s", lifecycle.ErrNotFound, agg.Order.ID)
	}
	if cur.Version != agg.Order.Version || cur.Status != agg.Order.Status {
		return fmt.Errorf("%w: order %s at version %d, expected %d", lifecycle.ErrConflict, cur.ID, cur.Version, agg.Order.Version)
	}
	if agg.Table != nil {
		t := s.tables[agg.Table.ID]
		if t.Status != agg.Table.Status || !sameRef(t.ActiveOrderID, agg.Table.ActiveOrderID) {
			return fmt.Errorf("%w: table %s changed", lifecycle.ErrConflict, t.ID)
		}
	}
	return nil
}

func sameRef(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (s *Store) CommitTransition(_ context.Context, agg models.Aggregate, commit models.Commit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLocked(agg); err != nil {
		return err
	}

	order := commit.Order.Clone()
	if commit.Delivery != nil {
		d := commit.Delivery.Clone()
		order.Delivery = &d
	}
	s.orders[order.ID] = order
	if commit.Table != nil {
		s.tables[commit.Table.ID] = commit.Table.Clone()
	}
	s.audit[order.ID] = append(s.audit[order.ID], commit.Audit()...)
	return nil
}

func (s *Store) SaveDeliveryChange(_ context.Context, agg models.Aggregate, change lifecycle.DeliveryChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLocked(agg); err != nil {
		return err
	}

	order := s.orders[agg.Order.ID].Clone()
	d := change.Delivery.Clone()
	order.Delivery = &d
	order.Version++
	order.UpdatedAt = change.At
	s.orders[order.ID] = order
	s.audit[order.ID] = append(s.audit[order.ID], change.Audit())
	return nil
}

func (s *Store) SaveItemStatus(_ context.Context, agg models.Aggregate, item models.OrderItem, prev models.PrepStatus, actor models.Actor, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLocked(agg); err != nil {
		return err
	}

	order := s.orders[agg.Order.ID].Clone()
	found := false
	for i := range order.Items {
		if order.Items[i].ID == item.ID {
			order.Items[i].PrepStatus = item.PrepStatus
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: item %s", lifecycle.ErrNotFound, item.ID)
	}
	order.Version++
	order.UpdatedAt = at
	s.orders[order.ID] = order
	s.audit[order.ID] = append(s.audit[order.ID], models.AuditRecord{
		OrderID:    order.ID,
		EntityType: models.EntityOrderItem,
		EntityID:   item.ID,
		FromStatus: string(prev),
		ToStatus:   string(item.PrepStatus),
		Actor:      actor.String(),
		CreatedAt:  at,
	})
	return nil
}

func (s *Store) History(_ context.Context, orderID string) ([]models.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[orderID]; !ok {
		return nil, fmt.Errorf("%w: order %s", lifecycle.ErrNotFound, orderID)
	}
	return append([]models.AuditRecord(nil), s.audit[orderID]...), nil
}

func (s *Store) ListActive(_ context.Context, storeID string) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Order
	for _, o := range s.orders {
		if (storeID == "" || o.StoreID == storeID) && !o.Status.Terminal() {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetTable(_ context.Context, tableID string) (models.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[tableID]
	if !ok {
		return models.Table{}, fmt.Errorf("%w: table %s", lifecycle.ErrNotFound, tableID)
	}
	return t.Clone(), nil
}

func (s *Store) ListTables(_ context.Context, storeID string) ([]models.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Table
	for _, t := range s.tables {
		if t.StoreID == storeID {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

// UpsertTable keeps the occupancy of an existing table; only back-office fields change.
func (s *Store) UpsertTable(_ context.Context, table models.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.tables[table.ID]; ok {
		cur.Label = table.Label
		cur.Capacity = table.Capacity
		cur.MergedWith = append([]string(nil), table.MergedWith...)
		s.tables[table.ID] = cur
		return nil
	}
	// occupancy is only ever set by transitions
	if table.Status == "" || table.Status == models.TableOccupied {
		table.Status = models.TableAvailable
	}
	table.ActiveOrderID = nil
	table.OccupiedSince = nil
	s.tables[table.ID] = table.Clone()
	return nil
}

func (s *Store) Close() error {
	return nil
}
