// Package memdb holds in-memory collaborators for tests and --storage=memory.
package memdb

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"restaurant-ops/internal/domain/models"
	"restaurant-ops/internal/effects/app/core"
)

type deduction struct {
	models.StockDeduction
	reversed bool
}

type Inventory struct {
	mu         sync.Mutex
	stock      map[string]int
	deductions map[string][]*deduction
	restored   map[string]bool
}

func NewInventory() *Inventory {
	return &Inventory{
		stock:      make(map[string]int),
		deductions: make(map[string][]*deduction),
		restored:   make(map[string]bool),
	}
}

func stockKey(storeID, productID string) string {
	return storeID + "/" + productID
}

func (inv *Inventory) SetStock(storeID, productID string, qty int) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.stock[stockKey(storeID, productID)] = qty
}

// Stock returns the quantity and whether the product is tracked.
func (inv *Inventory) Stock(storeID, productID string) (int, bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	q, ok := inv.stock[stockKey(storeID, productID)]
	return q, ok
}

func (inv *Inventory) DeductStock(_ context.Context, storeID, orderID string, lines []models.StockLine) ([]models.StockDeduction, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if inv.restored[orderID] {
		return nil, fmt.Errorf("%w: order %s", core.ErrStockRestored, orderID)
	}

	done := make(map[string]bool)
	for _, d := range inv.deductions[orderID] {
		done[d.ProductID] = true
	}

	var out []models.StockDeduction
	short := false
	for _, line := range mergeLines(lines) {
		if done[line.ProductID] {
			continue
		}
		key := stockKey(storeID, line.ProductID)
		have, tracked := inv.stock[key]
		if !tracked {
			continue
		}
		applied := min(have, line.Quantity)
		inv.stock[key] = have - applied

		d := models.StockDeduction{OrderID: orderID, ProductID: line.ProductID, StoreID: storeID, Requested: line.Quantity, Applied: applied}
		inv.deductions[orderID] = append(inv.deductions[orderID], &deduction{StockDeduction: d})
		out = append(out, d)
		if applied < line.Quantity {
			short = true
		}
	}
	if short {
		return out, fmt.Errorf("%w for order %s", core.ErrInsufficientStock, orderID)
	}
	return out, nil
}

func (inv *Inventory) RestoreStock(_ context.Context, orderID string) ([]models.StockDeduction, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	inv.restored[orderID] = true

	var out []models.StockDeduction
	for _, d := range inv.deductions[orderID] {
		if d.reversed {
			continue
		}
		inv.stock[stockKey(d.StoreID, d.ProductID)] += d.Applied
		d.reversed = true
		out = append(out, d.StockDeduction)
	}
	return out, nil
}

// mergeLines sums quantities per product, in first-seen order.
func mergeLines(lines []models.StockLine) []models.StockLine {
	idx := make(map[string]int)
	var out []models.StockLine
	for _, l := range lines {
		if i, ok := idx[l.ProductID]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		idx[l.ProductID] = len(out)
		out = append(out, l)
	}
	return out
}

type Commissions struct {
	mu       sync.Mutex
	earnings map[string]models.Earning
}

func NewCommissions() *Commissions {
	return &Commissions{earnings: make(map[string]models.Earning)}
}

func (c *Commissions) AccrueCommission(_ context.Context, e models.Earning) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.earnings[e.OrderID]; ok {
		return false, nil
	}
	c.earnings[e.OrderID] = e
	return true, nil
}

func (c *Commissions) Earnings(driverID string) []models.Earning {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.Earning
	for _, e := range c.earnings {
		if e.DriverID == driverID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}

type Sessions struct {
	mu       sync.Mutex
	sessions []*models.TableSession
}

func NewSessions() *Sessions {
	return &Sessions{}
}

func (s *Sessions) openFor(tableID string) *models.TableSession {
	for _, sess := range s.sessions {
		if sess.TableID == tableID && sess.EndedAt == nil {
			return sess
		}
	}
	return nil
}

// OpenSession is a no-op when the order already opened one or the table has an open session.
func (s *Sessions) OpenSession(_ context.Context, session models.TableSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.OpenedByOrder == session.OpenedByOrder {
			return nil
		}
	}
	if s.openFor(session.TableID) != nil {
		return nil
	}
	session.ChargedOrders = []string{}
	s.sessions = append(s.sessions, &session)
	return nil
}

func (s *Sessions) CloseSession(_ context.Context, c models.SessionCharge) (models.TableSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.openFor(c.TableID)
	if sess == nil {
		for _, existing := range s.sessions {
			if existing.OpenedByOrder == c.OrderID {
				// already closed by an earlier run
				return *existing, nil
			}
		}
		if !c.Release {
			return models.TableSession{}, nil
		}
		sess = &models.TableSession{
			ID:            "session-" + c.OrderID,
			TableID:       c.TableID,
			StoreID:       c.StoreID,
			OpenedByOrder: c.OrderID,
			StartedAt:     c.StartedAt,
			ChargedOrders: []string{},
		}
		s.sessions = append(s.sessions, sess)
	}

	charged := false
	for _, id := range sess.ChargedOrders {
		if id == c.OrderID {
			charged = true
		}
	}
	if !charged {
		sess.Amount = sess.Amount.Add(c.Amount)
		sess.ChargedOrders = append(sess.ChargedOrders, c.OrderID)
	}
	if c.Release {
		at := c.At
		sess.EndedAt = &at
	}
	return *sess, nil
}

func (s *Sessions) List(tableID string) []models.TableSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.TableSession
	for _, sess := range s.sessions {
		if sess.TableID == tableID {
			out = append(out, *sess)
		}
	}
	return out
}
