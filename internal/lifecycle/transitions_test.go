package lifecycle

import (
	"testing"
	"time"

	"restaurant-ops/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0    = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	waitr = models.Actor{Role: "waiter", Name: "ann"}
)

func ptr[T any](v T) *T { return &v }

func dineInAgg(status models.OrderStatus, table models.Table) models.Aggregate {
	return models.Aggregate{
		Order: models.Order{ID: "o1", StoreID: "s1", Channel: models.ChannelDineIn, Status: status, TableID: ptr(table.ID), Version: 1},
		Table: &table,
	}
}

func deliveryAgg(status models.OrderStatus, ds models.DeliveryStatus) models.Aggregate {
	d := models.Delivery{ID: "d1", OrderID: "o1", StoreID: "s1", Status: ds}
	return models.Aggregate{
		Order:    models.Order{ID: "o1", StoreID: "s1", Channel: models.ChannelDelivery, Status: status, Version: 1},
		Delivery: &d,
	}
}

func TestSuccessors(t *testing.T) {
	tests := []struct {
		name    string
		status  models.OrderStatus
		channel models.Channel
		want    []models.OrderStatus
	}{
		{"pending", models.StatusPending, models.ChannelCounter, []models.OrderStatus{models.StatusConfirmed, models.StatusCancelled}},
		{"ready dine in skips out_for_delivery", models.StatusReady, models.ChannelDineIn, []models.OrderStatus{models.StatusDelivered, models.StatusCancelled}},
		{"ready delivery must go out", models.StatusReady, models.ChannelDelivery, []models.OrderStatus{models.StatusOutForDelivery, models.StatusCancelled}},
		{"out for delivery", models.StatusOutForDelivery, models.ChannelDelivery, []models.OrderStatus{models.StatusDelivered, models.StatusCancelled}},
		{"delivered is terminal", models.StatusDelivered, models.ChannelPickup, nil},
		{"cancelled is terminal", models.StatusCancelled, models.ChannelDelivery, nil},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			assert.Equal(t, testCase.want, Successors(testCase.status, testCase.channel))
		})
	}
}

func TestValidStatusAndChannel(t *testing.T) {
	for _, s := range []models.OrderStatus{
		models.StatusPending, models.StatusConfirmed, models.StatusPreparing, models.StatusReady,
		models.StatusOutForDelivery, models.StatusDelivered, models.StatusCancelled,
	} {
		assert.True(t, ValidStatus(s), s)
	}
	assert.False(t, ValidStatus("eaten"))
	assert.False(t, ValidStatus(""))

	assert.True(t, ValidChannel(models.ChannelDineIn))
	assert.True(t, ValidChannel(models.ChannelCounter))
	assert.False(t, ValidChannel("drone"))
}

func TestApply_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		agg     models.Aggregate
		target  models.OrderStatus
		wantErr error
	}{
		{
			name:    "skip a step",
			agg:     dineInAgg(models.StatusPending, models.Table{ID: "t5", Status: models.TableAvailable}),
			target:  models.StatusReady,
			wantErr: ErrInvalidTransition,
		},
		{
			name:    "terminal order",
			agg:     dineInAgg(models.StatusDelivered, models.Table{ID: "t5", Status: models.TableAvailable}),
			target:  models.StatusCancelled,
			wantErr: ErrAlreadyTerminal,
		},
		{
			name:    "out for delivery on pickup",
			agg:     models.Aggregate{Order: models.Order{ID: "o1", Channel: models.ChannelPickup, Status: models.StatusReady}},
			target:  models.StatusOutForDelivery,
			wantErr: ErrInvalidTransition,
		},
		{
			name:    "out for delivery without driver",
			agg:     deliveryAgg(models.StatusReady, models.DeliveryPending),
			target:  models.StatusOutForDelivery,
			wantErr: ErrInvalidTransition,
		},
		{
			name:    "out for delivery without delivery row",
			agg:     models.Aggregate{Order: models.Order{ID: "o1", Channel: models.ChannelDelivery, Status: models.StatusReady}},
			target:  models.StatusOutForDelivery,
			wantErr: ErrInvalidTransition,
		},
		{
			name:    "delivery order cannot skip transit",
			agg:     deliveryAgg(models.StatusReady, models.DeliveryAssigned),
			target:  models.StatusDelivered,
			wantErr: ErrInvalidTransition,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := Apply(testCase.agg, testCase.target, waitr, t0)
			require.Error(t, err)
			assert.ErrorIs(t, err, testCase.wantErr)
		})
	}
}

func TestApply_DoesNotMutateAggregate(t *testing.T) {
	agg := dineInAgg(models.StatusPending, models.Table{ID: "t5", Status: models.TableAvailable})

	commit, err := Apply(agg, models.StatusConfirmed, waitr, t0)
	require.NoError(t, err)

	assert.Equal(t, models.StatusPending, agg.Order.Status)
	assert.Equal(t, models.TableAvailable, agg.Table.Status)
	assert.Equal(t, 2, commit.Order.Version)
	assert.Equal(t, t0, commit.Order.StatusEnteredAt)
}

func TestApply_DineInTableCoupling(t *testing.T) {
	agg := dineInAgg(models.StatusPending, models.Table{ID: "t5", Status: models.TableAvailable})

	commit, err := Apply(agg, models.StatusConfirmed, waitr, t0)
	require.NoError(t, err)
	require.NotNil(t, commit.Table)
	assert.True(t, commit.TableOccupied)
	assert.Equal(t, models.TableOccupied, commit.Table.Status)
	assert.Equal(t, "o1", *commit.Table.ActiveOrderID)
	assert.Equal(t, t0, *commit.Table.OccupiedSince)
	assert.True(t, TableConsistent(*commit.Table, &commit.Order))

	// preparing keeps the table as it is
	agg = models.Aggregate{Order: commit.Order, Table: commit.Table}
	commit, err = Apply(agg, models.StatusPreparing, waitr, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Nil(t, commit.Table)

	agg.Order = commit.Order
	commit, err = Apply(agg, models.StatusReady, waitr, t0.Add(20*time.Minute))
	require.NoError(t, err)

	agg.Order = commit.Order
	commit, err = Apply(agg, models.StatusDelivered, waitr, t0.Add(45*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, commit.Table)
	assert.True(t, commit.TableReleased)
	assert.Equal(t, models.TableAvailable, commit.Table.Status)
	assert.Nil(t, commit.Table.ActiveOrderID)
	assert.Nil(t, commit.Table.OccupiedSince)
	assert.Equal(t, t0, *commit.SessionStartedAt)
	assert.True(t, TableConsistent(*commit.Table, nil))
}

func TestApply_MergedTableHandsOver(t *testing.T) {
	table := models.Table{
		ID: "t5", Status: models.TableOccupied, OccupiedSince: ptr(t0),
		ActiveOrderID: ptr("o1"), MergedWith: []string{"t6"},
	}
	agg := dineInAgg(models.StatusReady, table)
	agg.OtherActiveOnTable = []string{"o2"}

	commit, err := Apply(agg, models.StatusDelivered, waitr, t0.Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, commit.Table)
	assert.False(t, commit.TableReleased)
	assert.Equal(t, models.TableOccupied, commit.Table.Status)
	assert.Equal(t, "o2", *commit.Table.ActiveOrderID)

	// o2 is not the table's active order: nothing changes
	table.ActiveOrderID = ptr("o2")
	agg = dineInAgg(models.StatusPreparing, table)
	agg.Order.ID = "o3"
	agg.OtherActiveOnTable = []string{"o2"}
	commit, err = Apply(agg, models.StatusCancelled, waitr, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Nil(t, commit.Table)
}

func TestApply_CancelPendingDineInLeavesTable(t *testing.T) {
	agg := dineInAgg(models.StatusPending, models.Table{ID: "t5", Status: models.TableAvailable})

	commit, err := Apply(agg, models.StatusCancelled, waitr, t0)
	require.NoError(t, err)
	assert.Nil(t, commit.Table)
	assert.False(t, commit.TableReleased)
}

func TestApply_DeliveryCoupling(t *testing.T) {
	tests := []struct {
		name       string
		agg        models.Aggregate
		target     models.OrderStatus
		wantStatus models.DeliveryStatus
		changed    bool
	}{
		{"out from assigned", deliveryAgg(models.StatusReady, models.DeliveryAssigned), models.StatusOutForDelivery, models.DeliveryInTransit, true},
		{"out from picked up", deliveryAgg(models.StatusReady, models.DeliveryPickedUp), models.StatusOutForDelivery, models.DeliveryInTransit, true},
		{"delivered", deliveryAgg(models.StatusOutForDelivery, models.DeliveryInTransit), models.StatusDelivered, models.DeliveryDelivered, true},
		{"cancel pending delivery", deliveryAgg(models.StatusConfirmed, models.DeliveryPending), models.StatusCancelled, models.DeliveryCancelled, true},
		{"confirm leaves delivery", deliveryAgg(models.StatusPending, models.DeliveryPending), models.StatusConfirmed, models.DeliveryPending, false},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			commit, err := Apply(testCase.agg, testCase.target, waitr, t0)
			require.NoError(t, err)

			if !testCase.changed {
				assert.Nil(t, commit.Delivery)
				return
			}
			require.NotNil(t, commit.Delivery)
			assert.Equal(t, testCase.wantStatus, commit.Delivery.Status)
			assert.Equal(t, testCase.agg.Delivery.Status, commit.PreviousDeliveryStatus)
			assert.True(t, DeliveryConsistent(commit.Order.Status, commit.Delivery.Status))
			assert.Equal(t, commit.Delivery, commit.Order.Delivery)
		})
	}
}

func TestCommit_Audit(t *testing.T) {
	agg := deliveryAgg(models.StatusOutForDelivery, models.DeliveryInTransit)

	commit, err := Apply(agg, models.StatusDelivered, waitr, t0)
	require.NoError(t, err)

	records := commit.Audit()
	require.Len(t, records, 2)
	assert.Equal(t, models.EntityOrder, records[0].EntityType)
	assert.Equal(t, "out_for_delivery", records[0].FromStatus)
	assert.Equal(t, "delivered", records[0].ToStatus)
	assert.Equal(t, "waiter:ann", records[0].Actor)
	assert.Equal(t, models.EntityDelivery, records[1].EntityType)
	assert.Equal(t, "d1", records[1].EntityID)
}

// Walks every channel through every reachable path and checks the
// delivery correspondence after each step.
func TestApply_StatusOnlyMovesAlongGraph(t *testing.T) {
	all := []models.OrderStatus{
		models.StatusPending, models.StatusConfirmed, models.StatusPreparing, models.StatusReady,
		models.StatusOutForDelivery, models.StatusDelivered, models.StatusCancelled,
	}
	for channel := range knownChannels {
		for _, from := range all {
			for _, to := range all {
				agg := models.Aggregate{Order: models.Order{ID: "o", Channel: channel, Status: from}}
				if channel == models.ChannelDelivery {
					agg.Delivery = &models.Delivery{ID: "d", Status: models.DeliveryAssigned}
				}
				commit, err := Apply(agg, to, waitr, t0)
				if err != nil {
					continue
				}
				assert.True(t, CanTransition(from, to, channel), "%s: %s -> %s", channel, from, to)
				assert.Equal(t, to, commit.Order.Status)
			}
		}
	}
}
