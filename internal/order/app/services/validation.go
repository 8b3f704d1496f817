package services

import (
	"fmt"

	"restaurant-ops/internal/domain/models"
	"restaurant-ops/internal/lifecycle"
	"restaurant-ops/internal/order/app/core"
	"restaurant-ops/internal/order/domain/dto"

	"github.com/shopspring/decimal"
)

// ValidateOrder enforces the channel invariant: dine_in has a table, delivery
// has an address, and nothing else carries either.
func ValidateOrder(req dto.CreateOrderRequest) error {
	if req.StoreID == "" {
		return fmt.Errorf("%w: store_id: %v", core.ErrInvalidRequest, core.ErrFieldIsEmpty)
	}
	if !lifecycle.ValidChannel(req.Channel) {
		return fmt.Errorf("%w: unknown channel %q", core.ErrInvalidRequest, req.Channel)
	}
	if len(req.CustomerName) > core.MaxCustomerNameLen {
		return fmt.Errorf("%w: customer_name longer than %d", core.ErrInvalidRequest, core.MaxCustomerNameLen)
	}
	if len(req.Notes) > core.MaxNotesLen {
		return fmt.Errorf("%w: notes longer than %d", core.ErrInvalidRequest, core.MaxNotesLen)
	}
	if req.Discount.IsNegative() || req.Fees.IsNegative() {
		return fmt.Errorf("%w: discount and fees must not be negative", core.ErrInvalidRequest)
	}

	if err := validateChannel(req); err != nil {
		return fmt.Errorf("%w: %s order: %v", core.ErrInvalidRequest, req.Channel, err)
	}
	if err := validateItems(req.Items); err != nil {
		return fmt.Errorf("%w: items: %v", core.ErrInvalidRequest, err)
	}
	return nil
}

func validateChannel(req dto.CreateOrderRequest) error {
	switch req.Channel {
	case models.ChannelDineIn:
		if req.TableID == "" {
			return fmt.Errorf("table_id: %w", core.ErrFieldIsEmpty)
		}
		if req.Delivery != nil {
			return fmt.Errorf("must not carry a delivery")
		}
	case models.ChannelDelivery:
		if req.TableID != "" {
			return fmt.Errorf("must not carry a table")
		}
		if req.Delivery == nil {
			return fmt.Errorf("delivery: %w", core.ErrFieldIsEmpty)
		}
		n := len(req.Delivery.Address)
		if n < core.MinAddressLen || n > core.MaxAddressLen {
			return fmt.Errorf("address length %d must be in range [%d, %d]", n, core.MinAddressLen, core.MaxAddressLen)
		}
		if req.Delivery.Fee.IsNegative() {
			return fmt.Errorf("delivery fee must not be negative")
		}
	default:
		if req.TableID != "" || req.Delivery != nil {
			return fmt.Errorf("must carry neither a table nor a delivery")
		}
	}
	return nil
}

func validateItems(items []dto.Item) error {
	n := len(items)
	if n < core.MinItems || n > core.MaxItems {
		return fmt.Errorf("amount of items %d must be in range [%d, %d]", n, core.MinItems, core.MaxItems)
	}
	for i, it := range items {
		if it.ProductID == "" {
			return fmt.Errorf("item %d: product_id: %w", i+1, core.ErrFieldIsEmpty)
		}
		if it.Name == "" || len(it.Name) > core.MaxItemNameLen {
			return fmt.Errorf("item %d: name length must be in range [1, %d]", i+1, core.MaxItemNameLen)
		}
		if it.Quantity < core.MinItemQuantity || it.Quantity > core.MaxItemQuantity {
			return fmt.Errorf("item %d: quantity %d must be in range [%d, %d]", i+1, it.Quantity, core.MinItemQuantity, core.MaxItemQuantity)
		}
		if it.UnitPrice.IsNegative() {
			return fmt.Errorf("item %d: unit price must not be negative", i+1)
		}
	}
	return nil
}

// ValidatePercent checks an optional commission override.
func ValidatePercent(p decimal.Decimal) error {
	if p.IsNegative() || p.GreaterThan(decimal.NewFromInt(core.MaxCommissionPercent)) {
		return fmt.Errorf("%w: commission_percent must be in [0, %d]", core.ErrInvalidRequest, core.MaxCommissionPercent)
	}
	return nil
}
