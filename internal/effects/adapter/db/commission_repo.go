package db

import (
	"context"
	"fmt"

	"restaurant-ops/internal/domain/models"
	database "restaurant-ops/internal/xpkg/db"
)

type CommissionRepo struct {
	db *database.DB
}

func NewCommissionRepo(db *database.DB) *CommissionRepo {
	return &CommissionRepo{db: db}
}

func (r *CommissionRepo) AccrueCommission(ctx context.Context, e models.Earning) (bool, error) {
	tag, err := r.db.Pool().Exec(ctx, `
		INSERT INTO driver_earnings (driver_id, order_id, store_id, fee, commission_percent, amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (order_id) DO NOTHING`,
		e.DriverID, e.OrderID, e.StoreID, e.Fee, e.CommissionPercent, e.Amount, e.Status, e.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert earning: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
