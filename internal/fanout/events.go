package fanout

import (
	"encoding/json"
	"time"

	"restaurant-ops/internal/domain/models"

	"github.com/google/uuid"
)

func newEvent(kind models.EventKind, storeID, orderID string, at time.Time) models.Event {
	return models.Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		StoreID:   storeID,
		OrderID:   orderID,
		Timestamp: at,
	}
}

// CommitEvents returns one event per entity a commit changed, order first.
func CommitEvents(c models.Commit) []models.Event {
	o := c.Order
	ev := newEvent(models.EventStatusChanged, o.StoreID, o.ID, c.CommittedAt)
	ev.EntityType = models.EntityOrder
	ev.EntityID = o.ID
	ev.PreviousStatus = string(c.PreviousStatus)
	ev.NewStatus = string(o.Status)
	ev.Version = o.Version
	events := []models.Event{ev}

	if c.Table != nil && c.Table.Status != c.PreviousTableStatus {
		tev := newEvent(models.EventStatusChanged, o.StoreID, o.ID, c.CommittedAt)
		tev.EntityType = models.EntityTable
		tev.EntityID = c.Table.ID
		tev.PreviousStatus = string(c.PreviousTableStatus)
		tev.NewStatus = string(c.Table.Status)
		tev.Version = o.Version
		events = append(events, tev)
	}
	if c.Delivery != nil && c.Delivery.Status != c.PreviousDeliveryStatus {
		events = append(events, DeliveryEvent(*c.Delivery, c.PreviousDeliveryStatus, o.Version, c.CommittedAt))
	}
	return events
}

func DeliveryEvent(d models.Delivery, prev models.DeliveryStatus, version int, at time.Time) models.Event {
	ev := newEvent(models.EventStatusChanged, d.StoreID, d.OrderID, at)
	ev.EntityType = models.EntityDelivery
	ev.EntityID = d.ID
	ev.PreviousStatus = string(prev)
	ev.NewStatus = string(d.Status)
	ev.Version = version
	if d.DriverID != "" {
		ev.Payload, _ = json.Marshal(map[string]string{"driver_id": d.DriverID, "driver_name": d.DriverName})
	}
	return ev
}

func CreatedEvent(o models.Order) models.Event {
	ev := newEvent(models.EventOrderCreated, o.StoreID, o.ID, o.CreatedAt)
	ev.EntityType = models.EntityOrder
	ev.EntityID = o.ID
	ev.NewStatus = string(o.Status)
	ev.Version = o.Version
	ev.Payload, _ = json.Marshal(map[string]any{"code": o.Code, "channel": o.Channel, "table_id": o.TableID})
	return ev
}

func ItemEvent(o models.Order, item models.OrderItem, prev models.PrepStatus, at time.Time) models.Event {
	ev := newEvent(models.EventItemStatus, o.StoreID, o.ID, at)
	ev.EntityType = models.EntityOrderItem
	ev.EntityID = item.ID
	ev.PreviousStatus = string(prev)
	ev.NewStatus = string(item.PrepStatus)
	ev.Version = o.Version
	return ev
}

// LateEvent is ephemeral: it is broadcast and never stored.
func LateEvent(kind models.EventKind, o models.Order, now time.Time) models.Event {
	ev := newEvent(kind, o.StoreID, o.ID, now)
	ev.EntityType = models.EntityOrder
	ev.EntityID = o.ID
	ev.NewStatus = string(o.Status)
	ev.Version = o.Version
	ev.Payload, _ = json.Marshal(map[string]any{
		"status_entered_at": o.StatusEnteredAt,
		"minutes_in_status": int(now.Sub(o.StatusEnteredAt).Minutes()),
	})
	return ev
}

func StockWarningEvent(storeID, orderID, productID string, requested, applied int, at time.Time) models.Event {
	ev := newEvent(models.EventStockWarning, storeID, orderID, at)
	ev.EntityType = models.EntityInventory
	ev.EntityID = productID
	ev.Payload, _ = json.Marshal(map[string]int{"requested": requested, "applied": applied})
	return ev
}
