package db

import (
	"context"
	"errors"
	"fmt"

	"restaurant-ops/internal/domain/models"
	"restaurant-ops/internal/effects/app/core"
	database "restaurant-ops/internal/xpkg/db"

	"github.com/jackc/pgx/v5"
)

type InventoryRepo struct {
	db *database.DB
}

func NewInventoryRepo(db *database.DB) *InventoryRepo {
	return &InventoryRepo{db: db}
}

// lockOrderStock serializes deduct and restore of one order until the transaction ends.
func lockOrderStock(ctx context.Context, tx pgx.Tx, orderID string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('stock:' || $1))`, orderID); err != nil {
		return fmt.Errorf("failed to lock order stock: %w", err)
	}
	return nil
}

// DeductStock runs in one transaction. Each product row is decremented with a
// floor at zero and the applied amount is written to the ledger in the same step.
func (r *InventoryRepo) DeductStock(ctx context.Context, storeID, orderID string, lines []models.StockLine) ([]models.StockDeduction, error) {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockOrderStock(ctx, tx, orderID); err != nil {
		return nil, err
	}
	var restored bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM stock_restores WHERE order_id = $1)`, orderID,
	).Scan(&restored); err != nil {
		return nil, fmt.Errorf("failed to check restore: %w", err)
	}
	if restored {
		return nil, fmt.Errorf("%w: order %s", core.ErrStockRestored, orderID)
	}

	var out []models.StockDeduction
	short := false
	for _, line := range mergeLines(lines) {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM stock_deductions WHERE order_id = $1 AND product_id = $2)`,
			orderID, line.ProductID,
		).Scan(&exists); err != nil {
			return nil, fmt.Errorf("failed to check deduction: %w", err)
		}
		if exists {
			continue
		}

		var applied int
		err := tx.QueryRow(ctx, `
			WITH cur AS (
				SELECT quantity FROM inventory WHERE store_id = $1 AND product_id = $2 FOR UPDATE
			)
			UPDATE inventory i SET quantity = GREATEST(cur.quantity - $3, 0), updated_at = now()
			FROM cur
			WHERE i.store_id = $1 AND i.product_id = $2
			RETURNING cur.quantity - i.quantity`,
			storeID, line.ProductID, line.Quantity,
		).Scan(&applied)
		if errors.Is(err, pgx.ErrNoRows) {
			// product stock is not tracked
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to deduct %s: %w", line.ProductID, err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO stock_deductions (order_id, product_id, store_id, requested, applied)
			VALUES ($1, $2, $3, $4, $5)`,
			orderID, line.ProductID, storeID, line.Quantity, applied,
		); err != nil {
			return nil, fmt.Errorf("failed to record deduction: %w", err)
		}

		out = append(out, models.StockDeduction{OrderID: orderID, ProductID: line.ProductID, StoreID: storeID, Requested: line.Quantity, Applied: applied})
		if applied < line.Quantity {
			short = true
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit deduction: %w", err)
	}
	if short {
		return out, fmt.Errorf("%w for order %s", core.ErrInsufficientStock, orderID)
	}
	return out, nil
}

func (r *InventoryRepo) RestoreStock(ctx context.Context, orderID string) ([]models.StockDeduction, error) {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockOrderStock(ctx, tx, orderID); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO stock_restores (order_id) VALUES ($1) ON CONFLICT (order_id) DO NOTHING`, orderID,
	); err != nil {
		return nil, fmt.Errorf("failed to mark restore: %w", err)
	}

	rows, err := tx.Query(ctx, `
		UPDATE stock_deductions SET reversed_at = now()
		WHERE order_id = $1 AND reversed_at IS NULL
		RETURNING order_id, product_id, store_id, requested, applied`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to reverse deductions: %w", err)
	}
	reversed, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.StockDeduction, error) {
		var d models.StockDeduction
		err := row.Scan(&d.OrderID, &d.ProductID, &d.StoreID, &d.Requested, &d.Applied)
		return d, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan deductions: %w", err)
	}

	for _, d := range reversed {
		if d.Applied == 0 {
			continue
		}
		if _, err := tx.Exec(ctx,
			`UPDATE inventory SET quantity = quantity + $3, updated_at = now() WHERE store_id = $1 AND product_id = $2`,
			d.StoreID, d.ProductID, d.Applied,
		); err != nil {
			return nil, fmt.Errorf("failed to restore %s: %w", d.ProductID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit restore: %w", err)
	}
	return reversed, nil
}

// SetStock is used for seeding tracked products.
func (r *InventoryRepo) SetStock(ctx context.Context, storeID, productID string, qty int) error {
	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO inventory (store_id, product_id, quantity) VALUES ($1, $2, $3)
		ON CONFLICT (store_id, product_id) DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = now()`,
		storeID, productID, qty)
	if err != nil {
		return fmt.Errorf("failed to set stock: %w", err)
	}
	return nil
}

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
