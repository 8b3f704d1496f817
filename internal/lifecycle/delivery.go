package lifecycle

import (
	"fmt"
	"time"

	"restaurant-ops/internal/domain/models"

	"github.com/shopspring/decimal"
)

// DeliveryChange is a delivery-only status move, such as driver assignment or pickup.
type DeliveryChange struct {
	Delivery models.Delivery
	Previous models.DeliveryStatus
	Actor    models.Actor
	At       time.Time
}

func (c DeliveryChange) Audit() models.AuditRecord {
	return models.AuditRecord{
		OrderID:    c.Delivery.OrderID,
		EntityType: models.EntityDelivery,
		EntityID:   c.Delivery.ID,
		FromStatus: string(c.Previous),
		ToStatus:   string(c.Delivery.Status),
		Actor:      c.Actor.String(),
		CreatedAt:  c.At,
	}
}

type DriverAssignment struct {
	DriverID          string
	DriverName        string
	CommissionPercent *decimal.Decimal
}

// AssignDriver puts a driver on the order's delivery. Reassignment is allowed
// until the driver has picked the order up.
func AssignDriver(agg models.Aggregate, a DriverAssignment, actor models.Actor, now time.Time) (DeliveryChange, error) {
	d, err := deliveryFor(agg)
	if err != nil {
		return DeliveryChange{}, err
	}
	if d.Status != models.DeliveryPending && d.Status != models.DeliveryAssigned {
		return DeliveryChange{}, fmt.Errorf("%w: cannot assign a driver to a %s delivery", ErrInvalidTransition, d.Status)
	}

	prev := d.Status
	d.Status = models.DeliveryAssigned
	d.DriverID = a.DriverID
	d.DriverName = a.DriverName
	if a.CommissionPercent != nil {
		d.CommissionPercent = *a.CommissionPercent
	}
	d.AssignedAt = &now
	d.UpdatedAt = now

	return DeliveryChange{Delivery: d, Previous: prev, Actor: actor, At: now}, nil
}

// MarkPickedUp records that the assigned driver collected a ready order.
func MarkPickedUp(agg models.Aggregate, actor models.Actor, now time.Time) (DeliveryChange, error) {
	d, err := deliveryFor(agg)
	if err != nil {
		return DeliveryChange{}, err
	}
	if d.Status != models.DeliveryAssigned {
		return DeliveryChange{}, fmt.Errorf("%w: delivery is %s, expected %s", ErrInvalidTransition, d.Status, models.DeliveryAssigned)
	}
	if agg.Order.Status != models.StatusReady {
		return DeliveryChange{}, fmt.Errorf("%w: order is %s, expected %s", ErrInvalidTransition, agg.Order.Status, models.StatusReady)
	}

	prev := d.Status
	d.Status = models.DeliveryPickedUp
	d.PickedUpAt = &now
	d.UpdatedAt = now

	return DeliveryChange{Delivery: d, Previous: prev, Actor: actor, At: now}, nil
}

func deliveryFor(agg models.Aggregate) (models.Delivery, error) {
	if agg.Order.Status.Terminal() {
		return models.Delivery{}, fmt.Errorf("%w: order %s is %s", ErrAlreadyTerminal, agg.Order.ID, agg.Order.Status)
	}
	if agg.Order.Channel != models.ChannelDelivery || agg.Delivery == nil {
		return models.Delivery{}, fmt.Errorf("%w: order %s has no delivery", ErrNotFound, agg.Order.ID)
	}
	return agg.Delivery.Clone(), nil
}

var prepRank = map[models.PrepStatus]int{
	models.PrepPending:   0,
	models.PrepPreparing: 1,
	models.PrepReady:     2,
}

func ValidPrepStatus(s models.PrepStatus) bool {
	_, ok := prepRank[s]
	return ok
}

// CanAdvanceItem allows per-item preparation status to move forward only.
func CanAdvanceItem(from, to models.PrepStatus) bool {
	f, ok1 := prepRank[from]
	t, ok2 := prepRank[to]
	return ok1 && ok2 && t > f
}
