package db

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"restaurant-ops/internal/domain/models"
	database "restaurant-ops/internal/xpkg/db"

	"github.com/jackc/pgx/v5"
)

type SessionRepo struct {
	db *database.DB
}

func NewSessionRepo(db *database.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

// OpenSession ignores the insert when the order already opened a session or the
// table still has one open.
func (r *SessionRepo) OpenSession(ctx context.Context, s models.TableSession) error {
	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO table_sessions (session_id, table_id, store_id, opened_by_order, started_at, amount)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING`,
		s.ID, s.TableID, s.StoreID, s.OpenedByOrder, s.StartedAt, s.Amount,
	)
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	return nil
}

const sessionColumns = `session_id, table_id, store_id, opened_by_order, started_at, ended_at, amount, charged_orders`

func scanSession(row pgx.Row) (models.TableSession, error) {
	var s models.TableSession
	err := row.Scan(&s.ID, &s.TableID, &s.StoreID, &s.OpenedByOrder, &s.StartedAt, &s.EndedAt, &s.Amount, &s.ChargedOrders)
	return s, err
}

func (r *SessionRepo) CloseSession(ctx context.Context, c models.SessionCharge) (models.TableSession, error) {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return models.TableSession{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	s, err := scanSession(tx.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM table_sessions WHERE table_id = $1 AND ended_at IS NULL FOR UPDATE`, c.TableID))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		prev, perr := scanSession(tx.QueryRow(ctx,
			`SELECT `+sessionColumns+` FROM table_sessions WHERE opened_by_order = $1`, c.OrderID))
		if perr == nil {
			return prev, nil
		}
		if !errors.Is(perr, pgx.ErrNoRows) {
			return models.TableSession{}, fmt.Errorf("failed to load session: %w", perr)
		}
		if !c.Release {
			return models.TableSession{}, nil
		}
		// the open effect has not run yet; record the whole session now
		s = models.TableSession{
			ID:            "session-" + c.OrderID,
			TableID:       c.TableID,
			StoreID:       c.StoreID,
			OpenedByOrder: c.OrderID,
			StartedAt:     c.StartedAt,
			ChargedOrders: []string{},
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO table_sessions (session_id, table_id, store_id, opened_by_order, started_at)
			VALUES ($1, $2, $3, $4, $5)`,
			s.ID, s.TableID, s.StoreID, s.OpenedByOrder, s.StartedAt,
		); err != nil {
			return models.TableSession{}, fmt.Errorf("failed to insert session: %w", err)
		}
	case err != nil:
		return models.TableSession{}, fmt.Errorf("failed to load open session: %w", err)
	}

	if !slices.Contains(s.ChargedOrders, c.OrderID) {
		s.Amount = s.Amount.Add(c.Amount)
		s.ChargedOrders = append(s.ChargedOrders, c.OrderID)
	}
	if c.Release {
		at := c.At
		s.EndedAt = &at
	}

	if _, err := tx.Exec(ctx, `
		UPDATE table_sessions SET amount = $2, charged_orders = $3, ended_at = $4 WHERE session_id = $1`,
		s.ID, s.Amount, s.ChargedOrders, s.EndedAt,
	); err != nil {
		return models.TableSession{}, fmt.Errorf("failed to update session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.TableSession{}, fmt.Errorf("failed to commit session: %w", err)
	}
	return s, nil
}
