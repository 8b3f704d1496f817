package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"restaurant-ops/internal/domain/models"
	"restaurant-ops/internal/lifecycle"
	"restaurant-ops/internal/order/app/core"
	database "restaurant-ops/internal/xpkg/db"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// OrderRepo keeps orders, tables, deliveries and the audit trail in Postgres.
// A transition is one transaction: order row locked, table row locked, both
// checked against the aggregate the engine computed from.
type OrderRepo struct {
	db *database.DB
}

func NewOrderRepo(db *database.DB) *OrderRepo {
	return &OrderRepo{db: db}
}

const orderColumns = `order_id, order_code, store_id, channel, status, subtotal, discount, fees, total,
	customer_name, customer_phone, notes, table_id, version, status_entered_at, created_at, updated_at`

func scanOrder(row pgx.Row) (models.Order, error) {
	var o models.Order
	err := row.Scan(
		&o.ID, &o.Code, &o.StoreID, &o.Channel, &o.Status,
		&o.Subtotal, &o.Discount, &o.Fees, &o.Total,
		&o.CustomerName, &o.CustomerPhone, &o.Notes, &o.TableID,
		&o.Version, &o.StatusEnteredAt, &o.CreatedAt, &o.UpdatedAt,
	)
	return o, err
}

func (r *OrderRepo) CreateOrder(ctx context.Context, order models.Order) (models.Order, error) {
	if err := r.db.IsAlive(ctx); err != nil {
		return models.Order{}, err
	}

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return models.Order{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if order.TableID != nil {
		var storeID string
		err := tx.QueryRow(ctx, `SELECT store_id FROM restaurant_tables WHERE table_id = $1`, *order.TableID).Scan(&storeID)
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Order{}, fmt.Errorf("%w: table %s", lifecycle.ErrNotFound, *order.TableID)
		}
		if err != nil {
			return models.Order{}, fmt.Errorf("failed to check table: %w", err)
		}
		if storeID != order.StoreID {
			return models.Order{}, fmt.Errorf("%w: table %s is in store %s", core.ErrStoreMismatch, *order.TableID, storeID)
		}
	}

	// Generate ORD_YYYYMMDD_NNN; the advisory lock serializes numbering per store and day
	day := order.CreatedAt.UTC().Format("20060102")
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, order.StoreID+"/"+day); err != nil {
		return models.Order{}, fmt.Errorf("failed to lock order numbering: %w", err)
	}
	var count int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM orders WHERE store_id = $1 AND order_code LIKE $2`,
		order.StoreID, "ORD_"+day+"_%",
	).Scan(&count); err != nil {
		return models.Order{}, fmt.Errorf("failed to count today's orders: %w", err)
	}
	order.Code = fmt.Sprintf("ORD_%s_%03d", day, count+1)

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		order.ID, order.Code, order.StoreID, order.Channel, order.Status,
		order.Subtotal, order.Discount, order.Fees, order.Total,
		order.CustomerName, order.CustomerPhone, order.Notes, order.TableID,
		order.Version, order.StatusEnteredAt, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return models.Order{}, fmt.Errorf("failed to insert order: %w", err)
	}

	for i, item := range order.Items {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items (item_id, order_id, product_id, name, quantity, unit_price, notes, prep_status, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			item.ID, order.ID, item.ProductID, item.Name, item.Quantity, item.UnitPrice, item.Notes, item.PrepStatus, i,
		)
		if err != nil {
			return models.Order{}, fmt.Errorf("failed to insert item: %w", err)
		}
	}

	if d := order.Delivery; d != nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO deliveries (delivery_id, order_id, store_id, status, commission_percent, address, fee, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
			d.ID, order.ID, d.StoreID, d.Status, d.CommissionPercent, d.Address, d.Fee, d.CreatedAt,
		)
		if err != nil {
			return models.Order{}, fmt.Errorf("failed to insert delivery: %w", err)
		}
	}

	if err := insertAudit(ctx, tx, models.AuditRecord{
		OrderID:    order.ID,
		EntityType: models.EntityOrder,
		EntityID:   order.ID,
		ToStatus:   string(order.Status),
		Actor:      "system",
		CreatedAt:  order.CreatedAt,
	}); err != nil {
		return models.Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Order{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return order, nil
}

func (r *OrderRepo) GetOrder(ctx context.Context, orderID string) (models.Order, error) {
	return getOrder(ctx, r.db.Pool(), orderID, false)
}

func getOrder(ctx context.Context, q querier, orderID string, forUpdate bool) (models.Order, error) {
	sql := `SELECT ` + orderColumns + ` FROM orders WHERE order_id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	o, err := scanOrder(q.QueryRow(ctx, sql, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Order{}, fmt.Errorf("%w: order %s", lifecycle.ErrNotFound, orderID)
	}
	if err != nil {
		return models.Order{}, fmt.Errorf("failed to load order: %w", err)
	}

	if err := attach(ctx, q, []*models.Order{&o}); err != nil {
		return models.Order{}, err
	}
	return o, nil
}

// attach loads items and deliveries for the given orders in two queries.
func attach(ctx context.Context, q querier, orders []*models.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	byID := make(map[string]*models.Order, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		byID[o.ID] = o
		o.Items = []models.OrderItem{}
	}

	rows, err := q.Query(ctx, `
		SELECT order_id, item_id, product_id, name, quantity, unit_price, notes, prep_status
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, position`, ids)
	if err != nil {
		return fmt.Errorf("failed to load items: %w", err)
	}
	for rows.Next() {
		var orderID string
		var it models.OrderItem
		if err := rows.Scan(&orderID, &it.ID, &it.ProductID, &it.Name, &it.Quantity, &it.UnitPrice, &it.Notes, &it.PrepStatus); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan item: %w", err)
		}
		byID[orderID].Items = append(byID[orderID].Items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = q.Query(ctx, `
		SELECT delivery_id, order_id, store_id, status, driver_id, driver_name, commission_percent, address, fee,
			assigned_at, picked_up_at, delivered_at, created_at, updated_at
		FROM deliveries WHERE order_id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("failed to load deliveries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var d models.Delivery
		if err := rows.Scan(&d.ID, &d.OrderID, &d.StoreID, &d.Status, &d.DriverID, &d.DriverName, &d.CommissionPercent,
			&d.Address, &d.Fee, &d.AssignedAt, &d.PickedUpAt, &d.DeliveredAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return fmt.Errorf("failed to scan delivery: %w", err)
		}
		byID[d.OrderID].Delivery = &d
	}
	return rows.Err()
}

func (r *OrderRepo) LoadAggregate(ctx context.Context, orderID string) (models.Aggregate, error) {
	q := r.db.Pool()
	o, err := getOrder(ctx, q, orderID, false)
	if err != nil {
		return models.Aggregate{}, err
	}

	agg := models.Aggregate{Order: o}
	if o.Delivery != nil {
		d := o.Delivery.Clone()
		agg.Delivery = &d
	}
	if o.TableID == nil {
		return agg, nil
	}

	t, err := getTable(ctx, q, *o.TableID, false)
	if err != nil {
		return models.Aggregate{}, err
	}
	agg.Table = &t

	rows, err := q.Query(ctx, `
		SELECT order_id FROM orders
		WHERE table_id = $1 AND order_id <> $2 AND status NOT IN ('delivered', 'cancelled')
		ORDER BY order_id`, *o.TableID, o.ID)
	if err != nil {
		return models.Aggregate{}, fmt.Errorf("failed to load table orders: %w", err)
	}
	agg.OtherActiveOnTable, err = pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return models.Aggregate{}, fmt.Errorf("failed to scan table orders: %w", err)
	}
	return agg, nil
}

// checkUnchanged locks the order (and table) rows and compares them with agg.
func checkUnchanged(ctx context.Context, tx pgx.Tx, agg models.Aggregate) error {
	var status models.OrderStatus
	var version int
	err := tx.QueryRow(ctx, `SELECT status, version FROM orders WHERE order_id = $1 FOR UPDATE`, agg.Order.ID).Scan(&status, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: order %s", lifecycle.ErrNotFound, agg.Order.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to lock order: %w", err)
	}
	if status != agg.Order.Status || version != agg.Order.Version {
		return fmt.Errorf("%w: order %s at version %d, expected %d", lifecycle.ErrConflict, agg.Order.ID, version, agg.Order.Version)
	}

	if agg.Table == nil {
		return nil
	}
	var tStatus models.TableStatus
	var active *string
	err = tx.QueryRow(ctx, `SELECT status, active_order_id FROM restaurant_tables WHERE table_id = $1 FOR UPDATE`, agg.Table.ID).Scan(&tStatus, &active)
	if err != nil {
		return fmt.Errorf("failed to lock table: %w", err)
	}
	if tStatus != agg.Table.Status || !sameRef(active, agg.Table.ActiveOrderID) {
		return fmt.Errorf("%w: table %s changed", lifecycle.ErrConflict, agg.Table.ID)
	}
	return nil
}

func sameRef(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (r *OrderRepo) CommitTransition(ctx context.Context, agg models.Aggregate, commit models.Commit) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := checkUnchanged(ctx, tx, agg); err != nil {
		return err
	}

	o := commit.Order
	if _, err := tx.Exec(ctx, `
		UPDATE orders SET status = $2, version = $3, status_entered_at = $4, updated_at = $4
		WHERE order_id = $1`,
		o.ID, o.Status, o.Version, o.StatusEnteredAt,
	); err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}

	if t := commit.Table; t != nil {
		if _, err := tx.Exec(ctx, `
			UPDATE restaurant_tables SET status = $2, occupied_since = $3, active_order_id = $4, updated_at = $5
			WHERE table_id = $1`,
			t.ID, t.Status, t.OccupiedSince, t.ActiveOrderID, commit.CommittedAt,
		); err != nil {
			return fmt.Errorf("failed to update table: %w", err)
		}
	}

	if d := commit.Delivery; d != nil {
		if _, err := tx.Exec(ctx, `
			UPDATE deliveries SET status = $2, picked_up_at = $3, delivered_at = $4, updated_at = $5
			WHERE delivery_id = $1`,
			d.ID, d.Status, d.PickedUpAt, d.DeliveredAt, d.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to update delivery: %w", err)
		}
	}

	if err := insertAudit(ctx, tx, commit.Audit()...); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}
	return nil
}

func (r *OrderRepo) SaveDeliveryChange(ctx context.Context, agg models.Aggregate, change lifecycle.DeliveryChange) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := checkUnchanged(ctx, tx, agg); err != nil {
		return err
	}

	d := change.Delivery
	if _, err := tx.Exec(ctx, `
		UPDATE deliveries SET status = $2, driver_id = $3, driver_name = $4, commission_percent = $5,
			assigned_at = $6, picked_up_at = $7, updated_at = $8
		WHERE delivery_id = $1`,
		d.ID, d.Status, d.DriverID, d.DriverName, d.CommissionPercent, d.AssignedAt, d.PickedUpAt, change.At,
	); err != nil {
		return fmt.Errorf("failed to update delivery: %w", err)
	}
	if err := bumpVersion(ctx, tx, agg.Order.ID, change.At); err != nil {
		return err
	}
	if err := insertAudit(ctx, tx, change.Audit()); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit delivery change: %w", err)
	}
	return nil
}

func (r *OrderRepo) SaveItemStatus(ctx context.Context, agg models.Aggregate, item models.OrderItem, prev models.PrepStatus, actor models.Actor, at time.Time) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := checkUnchanged(ctx, tx, agg); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `UPDATE order_items SET prep_status = $3 WHERE item_id = $1 AND order_id = $2`, item.ID, agg.Order.ID, item.PrepStatus)
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: item %s", lifecycle.ErrNotFound, item.ID)
	}
	if err := bumpVersion(ctx, tx, agg.Order.ID, at); err != nil {
		return err
	}
	if err := insertAudit(ctx, tx, models.AuditRecord{
		OrderID:    agg.Order.ID,
		EntityType: models.EntityOrderItem,
		EntityID:   item.ID,
		FromStatus: string(prev),
		ToStatus:   string(item.PrepStatus),
		Actor:      actor.String(),
		CreatedAt:  at,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit item status: %w", err)
	}
	return nil
}

func bumpVersion(ctx context.Context, tx pgx.Tx, orderID string, at time.Time) error {
	if _, err := tx.Exec(ctx, `UPDATE orders SET version = version + 1, updated_at = $2 WHERE order_id = $1`, orderID, at); err != nil {
		return fmt.Errorf("failed to bump order version: %w", err)
	}
	return nil
}

func insertAudit(ctx context.Context, tx pgx.Tx, records ...models.AuditRecord) error {
	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(`
			INSERT INTO status_audit (order_id, entity_type, entity_id, from_status, to_status, actor, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			rec.OrderID, rec.EntityType, rec.EntityID, rec.FromStatus, rec.ToStatus, rec.Actor, rec.CreatedAt,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert audit records: %w", err)
	}
	return nil
}

func (r *OrderRepo) History(ctx context.Context, orderID string) ([]models.AuditRecord, error) {
	q := r.db.Pool()
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE order_id = $1)`, orderID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check order: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: order %s", lifecycle.ErrNotFound, orderID)
	}

	rows, err := q.Query(ctx, `
		SELECT order_id, entity_type, entity_id, from_status, to_status, actor, created_at
		FROM status_audit WHERE order_id = $1 ORDER BY audit_id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.AuditRecord, error) {
		var rec models.AuditRecord
		err := row.Scan(&rec.OrderID, &rec.EntityType, &rec.EntityID, &rec.FromStatus, &rec.ToStatus, &rec.Actor, &rec.CreatedAt)
		return rec, err
	})
}

func (r *OrderRepo) ListActive(ctx context.Context, storeID string) ([]models.Order, error) {
	q := r.db.Pool()
	rows, err := q.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status NOT IN ('delivered', 'cancelled') AND ($1 = '' OR store_id = $1)
		ORDER BY created_at`, storeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Order, error) {
		return scanOrder(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan orders: %w", err)
	}

	ptrs := make([]*models.Order, len(orders))
	for i := range orders {
		ptrs[i] = &orders[i]
	}
	if err := attach(ctx, q, ptrs); err != nil {
		return nil, err
	}
	return orders, nil
}

const tableColumns = `table_id, store_id, label, capacity, status, occupied_since, merged_with, active_order_id`

func scanTable(row pgx.Row) (models.Table, error) {
	var t models.Table
	err := row.Scan(&t.ID, &t.StoreID, &t.Label, &t.Capacity, &t.Status, &t.OccupiedSince, &t.MergedWith, &t.ActiveOrderID)
	return t, err
}

func getTable(ctx context.Context, q querier, tableID string, forUpdate bool) (models.Table, error) {
	sql := `SELECT ` + tableColumns + ` FROM restaurant_tables WHERE table_id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	t, err := scanTable(q.QueryRow(ctx, sql, tableID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Table{}, fmt.Errorf("%w: table %s", lifecycle.ErrNotFound, tableID)
	}
	if err != nil {
		return models.Table{}, fmt.Errorf("failed to load table: %w", err)
	}
	return t, nil
}

func (r *OrderRepo) GetTable(ctx context.Context, tableID string) (models.Table, error) {
	return getTable(ctx, r.db.Pool(), tableID, false)
}

func (r *OrderRepo) ListTables(ctx context.Context, storeID string) ([]models.Table, error) {
	rows, err := r.db.Pool().Query(ctx, `SELECT `+tableColumns+` FROM restaurant_tables WHERE store_id = $1 ORDER BY label`, storeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Table, error) {
		return scanTable(row)
	})
}

// UpsertTable writes back-office fields only; occupancy belongs to transitions.
func (r *OrderRepo) UpsertTable(ctx context.Context, t models.Table) error {
	status := t.Status
	if status == "" || status == models.TableOccupied {
		status = models.TableAvailable
	}
	merged := t.MergedWith
	if merged == nil {
		merged = []string{}
	}
	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO restaurant_tables (table_id, store_id, label, capacity, status, merged_with)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (table_id) DO UPDATE
		SET label = EXCLUDED.label, capacity = EXCLUDED.capacity, merged_with = EXCLUDED.merged_with, updated_at = now()`,
		t.ID, t.StoreID, t.Label, t.Capacity, status, merged,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert table: %w", err)
	}
	return nil
}

func (r *OrderRepo) Close() error {
	return r.db.Close()
}
