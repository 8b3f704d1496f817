package services

import (
	"context"
	"fmt"
	"time"

	"restaurant-ops/internal/domain/models"
	"restaurant-ops/internal/fanout"
	"restaurant-ops/internal/lifecycle"
	"restaurant-ops/internal/order/app/core"
	"restaurant-ops/internal/order/domain/dto"
	"restaurant-ops/internal/xpkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderService struct {
	store             core.IOrderStore
	bus               core.IEventBus
	thresholds        lifecycle.Thresholds
	commissionPercent decimal.Decimal
	now               func() time.Time
	mylog             logger.Logger
}

func NewOrderService(
	store core.IOrderStore,
	bus core.IEventBus,
	thresholds lifecycle.Thresholds,
	commissionPercent float64,
	mylog logger.Logger,
) *OrderService {
	return &OrderService{
		store:             store,
		bus:               bus,
		thresholds:        thresholds,
		commissionPercent: decimal.NewFromFloat(commissionPercent),
		now:               func() time.Time { return time.Now().UTC() },
		mylog:             mylog,
	}
}

func (os *OrderService) WithClock(now func() time.Time) *OrderService {
	os.now = now
	return os
}

// Create stores a new pending order. Delivery orders get a pending delivery row
// right away so the driver app can see them before a driver is assigned.
func (os *OrderService) Create(ctx context.Context, req dto.CreateOrderRequest) (models.Order, error) {
	mylog := os.mylog.Action("order_create").With("store_id", req.StoreID, "channel", req.Channel)

	if err := ValidateOrder(req); err != nil {
		mylog.Info("Order rejected", "error", err.Error())
		return models.Order{}, err
	}

	now := os.now()
	order := models.Order{
		ID:              uuid.NewString(),
		StoreID:         req.StoreID,
		Channel:         req.Channel,
		Status:          models.StatusPending,
		Discount:        req.Discount.Round(2),
		Fees:            req.Fees.Round(2),
		CustomerName:    req.CustomerName,
		CustomerPhone:   req.CustomerPhone,
		Notes:           req.Notes,
		Version:         1,
		StatusEnteredAt: now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	subtotal := decimal.Zero
	for _, it := range req.Items {
		line := it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
		subtotal = subtotal.Add(line)
		order.Items = append(order.Items, models.OrderItem{
			ID:         uuid.NewString(),
			ProductID:  it.ProductID,
			Name:       it.Name,
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice.Round(2),
			Notes:      it.Notes,
			PrepStatus: models.PrepPending,
		})
	}
	order.Subtotal = subtotal.Round(2)

	total := order.Subtotal.Sub(order.Discount).Add(order.Fees)

	switch req.Channel {
	case models.ChannelDineIn:
		tableID := req.TableID
		order.TableID = &tableID
	case models.ChannelDelivery:
		fee := req.Delivery.Fee.Round(2)
		order.Delivery = &models.Delivery{
			ID:                uuid.NewString(),
			OrderID:           order.ID,
			StoreID:           order.StoreID,
			Status:            models.DeliveryPending,
			CommissionPercent: os.commissionPercent,
			Address:           req.Delivery.Address,
			Fee:               fee,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		total = total.Add(fee)
	}
	if total.IsNegative() {
		return models.Order{}, fmt.Errorf("%w: discount exceeds order amount", core.ErrInvalidRequest)
	}
	order.Total = total.Round(2)

	created, err := os.store.CreateOrder(ctx, order)
	if err != nil {
		mylog.Error("Failed to save order", err)
		return models.Order{}, err
	}

	if err := os.bus.Publish(ctx, fanout.CreatedEvent(created)); err != nil {
		mylog.Error("Failed to publish order created event", err, "order_id", created.ID)
	}
	mylog.Info("Order created", "order_id", created.ID, "code", created.Code, "total", created.Total.String())
	return created, nil
}

func (os *OrderService) Get(ctx context.Context, orderID string) (models.Order, error) {
	return os.store.GetOrder(ctx, orderID)
}

func (os *OrderService) History(ctx context.Context, orderID string) ([]models.AuditRecord, error) {
	return os.store.History(ctx, orderID)
}

// ListActive returns the store's non-terminal orders, optionally filtered by status.
func (os *OrderService) ListActive(ctx context.Context, storeID string, status models.OrderStatus) ([]models.Order, error) {
	orders, err := os.store.ListActive(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if status == "" {
		return orders, nil
	}
	filtered := orders[:0]
	for _, o := range orders {
		if o.Status == status {
			filtered = append(filtered, o)
		}
	}
	return filtered, nil
}

// LateOrders computes lateness on demand from current timestamps.
func (os *OrderService) LateOrders(ctx context.Context, storeID string) (dto.LateOrdersResponse, error) {
	orders, err := os.store.ListActive(ctx, storeID)
	if err != nil {
		return dto.LateOrdersResponse{}, err
	}

	now := os.now()
	resp := dto.LateOrdersResponse{StoreID: storeID, OrderIDs: []string{}, Orders: []dto.LateOrder{}, CheckedAt: now}
	for _, o := range lifecycle.LateOrders(orders, now, os.thresholds) {
		resp.OrderIDs = append(resp.OrderIDs, o.ID)
		resp.Orders = append(resp.Orders, dto.LateOrder{
			OrderID:         o.ID,
			Code:            o.Code,
			Status:          o.Status,
			Channel:         o.Channel,
			StatusEnteredAt: o.StatusEnteredAt,
			MinutesInStatus: int(now.Sub(o.StatusEnteredAt).Minutes()),
		})
	}
	return resp, nil
}

func (os *OrderService) ListTables(ctx context.Context, storeID string) ([]models.Table, error) {
	return os.store.ListTables(ctx, storeID)
}

// SeedTables registers back-office tables. Existing occupancy is kept.
func (os *OrderService) SeedTables(ctx context.Context, tables []models.Table) error {
	for _, t := range tables {
		if err := os.store.UpsertTable(ctx, t); err != nil {
			return fmt.Errorf("seed table %s: %w", t.ID, err)
		}
	}
	os.mylog.Action("tables_seeded").Info("Tables registered", "count", len(tables))
	return nil
}
