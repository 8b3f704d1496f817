package services

import (
	"restaurant-ops/internal/domain/models"

	"github.com/google/uuid"
)

// Plan lists the side effects a commit triggers.
func Plan(c models.Commit) []models.EffectJob {
	o := c.Order
	var kinds []models.EffectKind

	if c.PreviousStatus == models.StatusPending && o.Status == models.StatusConfirmed {
		kinds = append(kinds, models.EffectDeductStock)
	}
	if c.TableOccupied {
		kinds = append(kinds, models.EffectOpenSession)
	}
	if o.Channel == models.ChannelDineIn && o.TableID != nil {
		if o.Status == models.StatusDelivered || (o.Status == models.StatusCancelled && c.TableReleased) {
			kinds = append(kinds, models.EffectCloseSession)
		}
	}
	if o.Channel == models.ChannelDelivery && o.Status == models.StatusDelivered && c.Delivery != nil && c.Delivery.DriverID != "" {
		kinds = append(kinds, models.EffectAccrueCommission)
	}
	// nothing was deducted before confirmation
	if o.Status == models.StatusCancelled && c.PreviousStatus != models.StatusPending {
		kinds = append(kinds, models.EffectRestoreStock)
	}
	kinds = append(kinds, models.EffectNotify)

	jobs := make([]models.EffectJob, 0, len(kinds))
	for _, k := range kinds {
		jobs = append(jobs, models.EffectJob{
			ID:        uuid.NewString(),
			Kind:      k,
			OrderID:   o.ID,
			StoreID:   o.StoreID,
			Commit:    c,
			CreatedAt: c.CommittedAt,
		})
	}
	return jobs
}
