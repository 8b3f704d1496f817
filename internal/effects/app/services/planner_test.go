package services

import (
	"testing"
	"time"

	"restaurant-ops/internal/domain/models"

	"github.com/stretchr/testify/assert"
)

func kinds(jobs []models.EffectJob) []models.EffectKind {
	out := make([]models.EffectKind, len(jobs))
	for i, j := range jobs {
		out[i] = j.Kind
	}
	return out
}

func TestPlan(t *testing.T) {
	table := "t5"
	now := time.Now()

	tests := []struct {
		name   string
		commit models.Commit
		want   []models.EffectKind
	}{
		{
			name: "confirm dine in",
			commit: models.Commit{
				Order:          models.Order{ID: "o1", Channel: models.ChannelDineIn, Status: models.StatusConfirmed, TableID: &table},
				PreviousStatus: models.StatusPending,
				TableOccupied:  true,
			},
			want: []models.EffectKind{models.EffectDeductStock, models.EffectOpenSession, models.EffectNotify},
		},
		{
			name: "deliver dine in",
			commit: models.Commit{
				Order:          models.Order{ID: "o1", Channel: models.ChannelDineIn, Status: models.StatusDelivered, TableID: &table},
				PreviousStatus: models.StatusReady,
				TableReleased:  true,
			},
			want: []models.EffectKind{models.EffectCloseSession, models.EffectNotify},
		},
		{
			name: "deliver delivery order",
			commit: models.Commit{
				Order:          models.Order{ID: "o2", Channel: models.ChannelDelivery, Status: models.StatusDelivered},
				PreviousStatus: models.StatusOutForDelivery,
				Delivery:       &models.Delivery{DriverID: "drv"},
			},
			want: []models.EffectKind{models.EffectAccrueCommission, models.EffectNotify},
		},
		{
			name: "cancel from preparing",
			commit: models.Commit{
				Order:          models.Order{ID: "o3", Channel: models.ChannelDineIn, Status: models.StatusCancelled, TableID: &table},
				PreviousStatus: models.StatusPreparing,
				TableReleased:  true,
			},
			want: []models.EffectKind{models.EffectCloseSession, models.EffectRestoreStock, models.EffectNotify},
		},
		{
			name: "cancel pending counter",
			commit: models.Commit{
				Order:          models.Order{ID: "o4", Channel: models.ChannelCounter, Status: models.StatusCancelled},
				PreviousStatus: models.StatusPending,
			},
			want: []models.EffectKind{models.EffectNotify},
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			testCase.commit.CommittedAt = now
			jobs := Plan(testCase.commit)
			assert.Equal(t, testCase.want, kinds(jobs))
			for _, j := range jobs {
				assert.Equal(t, testCase.commit.Order.ID, j.OrderID)
				assert.NotEmpty(t, j.ID)
			}
		})
	}
}

func TestIdempotencyKey(t *testing.T) {
	confirmed := models.EffectJob{OrderID: "o1", Kind: models.EffectNotify, Commit: models.Commit{Order: models.Order{Status: models.StatusConfirmed}}}
	ready := models.EffectJob{OrderID: "o1", Kind: models.EffectNotify, Commit: models.Commit{Order: models.Order{Status: models.StatusReady}}}
	assert.NotEqual(t, confirmed.IdempotencyKey(), ready.IdempotencyKey())

	deduct := models.EffectJob{OrderID: "o1", Kind: models.EffectDeductStock}
	assert.Equal(t, "o1:deduct_stock", deduct.IdempotencyKey())
}
