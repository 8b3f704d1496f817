// Package lifecycle is the single shared definition of the order state machine:
// the legal transition table, the table and delivery coupling rules and the
// lateness rule. It is pure; persistence and locking live with the callers.
package lifecycle

import (
	"fmt"
	"slices"
	"time"

	"restaurant-ops/internal/domain/models"
)

var successors = map[models.OrderStatus][]models.OrderStatus{
	models.StatusPending:        {models.StatusConfirmed, models.StatusCancelled},
	models.StatusConfirmed:      {models.StatusPreparing, models.StatusCancelled},
	models.StatusPreparing:      {models.StatusReady, models.StatusCancelled},
	models.StatusReady:          {models.StatusOutForDelivery, models.StatusDelivered, models.StatusCancelled},
	models.StatusOutForDelivery: {models.StatusDelivered, models.StatusCancelled},
}

var knownChannels = map[models.Channel]bool{
	models.ChannelDineIn:   true,
	models.ChannelDelivery: true,
	models.ChannelPickup:   true,
	models.ChannelCounter:  true,
}

// ValidChannel reports whether c is one of the known order channels.
func ValidChannel(c models.Channel) bool {
	return knownChannels[c]
}

// ValidStatus reports whether s is a status of the order graph.
func ValidStatus(s models.OrderStatus) bool {
	_, ok := successors[s]
	return ok || s.Terminal()
}

// Successors returns the statuses an order of the given channel may move to next.
// Delivery orders always pass through out_for_delivery; the other channels never do.
func Successors(status models.OrderStatus, channel models.Channel) []models.OrderStatus {
	var out []models.OrderStatus
	for _, next := range successors[status] {
		if next == models.StatusOutForDelivery && channel != models.ChannelDelivery {
			continue
		}
		if status == models.StatusReady && next == models.StatusDelivered && channel == models.ChannelDelivery {
			continue
		}
		out = append(out, next)
	}
	return out
}

// CanTransition reports whether to is a legal next status for a channel's order in from.
func CanTransition(from, to models.OrderStatus, channel models.Channel) bool {
	return slices.Contains(Successors(from, channel), to)
}

// Apply validates target against the aggregate and returns the resulting commit.
// The aggregate is not modified.
func Apply(agg models.Aggregate, target models.OrderStatus, actor models.Actor, now time.Time) (models.Commit, error) {
	order := agg.Order
	if order.Status.Terminal() {
		return models.Commit{}, fmt.Errorf("%w: order %s is %s", ErrAlreadyTerminal, order.ID, order.Status)
	}
	if !CanTransition(order.Status, target, order.Channel) {
		return models.Commit{}, fmt.Errorf("%w: %s -> %s for %s order", ErrInvalidTransition, order.Status, target, order.Channel)
	}
	if target == models.StatusOutForDelivery {
		if agg.Delivery == nil {
			return models.Commit{}, fmt.Errorf("%w: order %s has no delivery", ErrInvalidTransition, order.ID)
		}
		if s := agg.Delivery.Status; s != models.DeliveryAssigned && s != models.DeliveryPickedUp {
			return models.Commit{}, fmt.Errorf("%w: delivery is %s, a driver must be assigned first", ErrInvalidTransition, s)
		}
	}

	next := order.Clone()
	next.Status = target
	next.StatusEnteredAt = now
	next.UpdatedAt = now
	next.Version++

	commit := models.Commit{
		Order:          next,
		PreviousStatus: order.Status,
		Actor:          actor,
		CommittedAt:    now,
	}

	if order.Channel == models.ChannelDineIn && agg.Table != nil {
		applyTable(&commit, agg, now)
	}
	if agg.Delivery != nil {
		applyDelivery(&commit, *agg.Delivery, target, now)
	}
	if commit.Delivery != nil {
		next.Delivery = commit.Delivery
		commit.Order = next
	}
	return commit, nil
}

func applyTable(commit *models.Commit, agg models.Aggregate, now time.Time) {
	table := agg.Table.Clone()
	commit.PreviousTableStatus = table.Status
	orderID := agg.Order.ID

	switch commit.Order.Status {
	case models.StatusConfirmed, models.StatusPreparing:
		if table.Status == models.TableOccupied {
			return
		}
		table.Status = models.TableOccupied
		table.OccupiedSince = &now
		table.ActiveOrderID = &orderID
		commit.TableOccupied = true

	case models.StatusDelivered, models.StatusCancelled:
		if table.Status != models.TableOccupied {
			return
		}
		if len(agg.OtherActiveOnTable) > 0 {
			// another order still holds the table; hand the reference over
			if table.ActiveOrderID == nil || *table.ActiveOrderID != orderID {
				return
			}
			other := agg.OtherActiveOnTable[0]
			table.ActiveOrderID = &other
			commit.Table = &table
			return
		}
		commit.SessionStartedAt = table.OccupiedSince
		table.Status = models.TableAvailable
		table.OccupiedSince = nil
		table.ActiveOrderID = nil
		commit.TableReleased = true

	default:
		return
	}
	commit.Table = &table
}

func applyDelivery(commit *models.Commit, d models.Delivery, target models.OrderStatus, now time.Time) {
	prev := d.Status
	switch target {
	case models.StatusOutForDelivery:
		if d.PickedUpAt == nil {
			d.PickedUpAt = &now
		}
		d.Status = models.DeliveryInTransit
	case models.StatusDelivered:
		d.Status = models.DeliveryDelivered
		d.DeliveredAt = &now
	case models.StatusCancelled:
		if d.Status.Terminal() {
			return
		}
		d.Status = models.DeliveryCancelled
	default:
		return
	}
	d.UpdatedAt = now
	commit.Delivery = &d
	commit.PreviousDeliveryStatus = prev
}

// DeliveryConsistent reports whether a delivery status matches its order status.
func DeliveryConsistent(order models.OrderStatus, delivery models.DeliveryStatus) bool {
	switch order {
	case models.StatusPending, models.StatusConfirmed, models.StatusPreparing:
		return delivery == models.DeliveryPending || delivery == models.DeliveryAssigned
	case models.StatusReady:
		return delivery == models.DeliveryPending || delivery == models.DeliveryAssigned || delivery == models.DeliveryPickedUp
	case models.StatusOutForDelivery:
		return delivery == models.DeliveryInTransit
	case models.StatusDelivered:
		return delivery == models.DeliveryDelivered
	case models.StatusCancelled:
		return delivery == models.DeliveryCancelled
	}
	return false
}

// TableConsistent reports whether a table's occupancy matches the order it references.
func TableConsistent(table models.Table, active *models.Order) bool {
	occupied := table.Status == models.TableOccupied
	if table.ActiveOrderID == nil {
		return !occupied
	}
	if active == nil || active.ID != *table.ActiveOrderID {
		return false
	}
	return occupied && !active.Status.Terminal()
}
