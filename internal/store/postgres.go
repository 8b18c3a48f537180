package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"predix/pkg/types"
)

//go:embed schema.sql
var schemaDDL string

// Postgres implements Store over a postgres database via sqlx.
type Postgres struct {
	db *sqlx.DB
}

// OpenPostgres connects and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

// EnsureSchema applies the embedded DDL. All statements are idempotent.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error { return p.db.Close() }

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

func (p *Postgres) CreateOrder(ctx context.Context, o types.Order) (types.Order, error) {
	row := p.db.QueryRowxContext(ctx, `
		INSERT INTO orders (user_id, event_id, side, type_of_share, price,
		                    total_quantity, filled_quantity, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`,
		o.UserID, o.EventID, o.Side, o.ShareType, o.Price,
		o.TotalQuantity, o.FilledQuantity, o.Status)
	if err := row.Scan(&o.ID, &o.CreatedAt); err != nil {
		return o, fmt.Errorf("insert order: %w", err)
	}
	return o, nil
}

func (p *Postgres) UpdateOrderTerminal(ctx context.Context, o types.Order) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE orders SET filled_quantity = $2, status = $3 WHERE id = $1`,
		o.ID, o.FilledQuantity, o.Status)
	if err != nil {
		return fmt.Errorf("update order %d: %w", o.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update order %d: %w", o.ID, ErrNotFound)
	}
	return nil
}

func (p *Postgres) GetOrder(ctx context.Context, id int64) (types.Order, error) {
	var o types.Order
	err := p.db.GetContext(ctx, &o, `SELECT * FROM orders WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return o, ErrNotFound
	}
	if err != nil {
		return o, fmt.Errorf("get order %d: %w", id, err)
	}
	return o, nil
}

func (p *Postgres) ActiveOrders(ctx context.Context) ([]types.Order, error) {
	var out []types.Order
	err := p.db.SelectContext(ctx, &out, `
		SELECT * FROM orders
		WHERE status IN ('INCOMPLETE', 'PARTIAL_FILLED')
		ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("active orders: %w", err)
	}
	return out, nil
}

func (p *Postgres) ActiveOrdersByEvent(ctx context.Context, eventID int64) ([]types.Order, error) {
	var out []types.Order
	err := p.db.SelectContext(ctx, &out, `
		SELECT * FROM orders
		WHERE event_id = $1 AND status IN ('INCOMPLETE', 'PARTIAL_FILLED')
		ORDER BY id ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("active orders for event %d: %w", eventID, err)
	}
	return out, nil
}

func (p *Postgres) OrdersByUser(ctx context.Context, userID int64) ([]types.Order, error) {
	var out []types.Order
	err := p.db.SelectContext(ctx, &out, `
		SELECT * FROM orders WHERE user_id = $1 ORDER BY id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("orders for user %d: %w", userID, err)
	}
	return out, nil
}

// ————————————————————————————————————————————————————————————————————————
// Settlement
// ————————————————————————————————————————————————————————————————————————

// SettleFill writes one fill in a single transaction: the trade row, the
// buyer debit, the seller credit, and both portfolio mutations. Any failure
// rolls the whole fill back so trades, balances and portfolios can never
// diverge.
func (p *Postgres) SettleFill(ctx context.Context, f Fill) (types.Trade, error) {
	var trade types.Trade
	err := p.inTx(ctx, func(tx *sqlx.Tx) error {
		row := tx.QueryRowxContext(ctx, `
			INSERT INTO trades (event_id, price, quantity, type_of_share,
			                    buyer_user_id, seller_user_id,
			                    buyer_order_id, seller_order_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id, executed_at`,
			f.EventID, f.Price, f.Quantity, f.ShareType,
			f.BuyerUserID, f.SellerUserID, f.BuyerOrderID, f.SellerOrderID)
		trade = types.Trade{
			EventID:       f.EventID,
			Price:         f.Price,
			Quantity:      f.Quantity,
			ShareType:     f.ShareType,
			BuyerUserID:   f.BuyerUserID,
			SellerUserID:  f.SellerUserID,
			BuyerOrderID:  &f.BuyerOrderID,
			SellerOrderID: &f.SellerOrderID,
		}
		if err := row.Scan(&trade.ID, &trade.ExecutedAt); err != nil {
			return fmt.Errorf("insert trade: %w", err)
		}

		value := f.Quantity * f.Price
		if err := adjustBalanceTx(ctx, tx, f.BuyerUserID, -value); err != nil {
			return err
		}
		if err := adjustBalanceTx(ctx, tx, f.SellerUserID, value); err != nil {
			return err
		}
		if err := adjustPortfolioTx(ctx, tx, f.BuyerUserID, f.EventID, f.ShareType, f.Quantity); err != nil {
			return err
		}
		if err := adjustPortfolioTx(ctx, tx, f.SellerUserID, f.EventID, f.ShareType, -f.Quantity); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return types.Trade{}, err
	}
	return trade, nil
}

// SettlePayout writes one resolution settlement in a single transaction:
// a synthetic trade with null order ids, the holder credit, the operator
// debit, and the portfolio zeroed. A zero price (losing side) moves no cash
// but still records the trade.
func (p *Postgres) SettlePayout(ctx context.Context, pay Payout) (types.Trade, error) {
	var trade types.Trade
	err := p.inTx(ctx, func(tx *sqlx.Tx) error {
		row := tx.QueryRowxContext(ctx, `
			INSERT INTO trades (event_id, price, quantity, type_of_share,
			                    buyer_user_id, seller_user_id,
			                    buyer_order_id, seller_order_id)
			VALUES ($1, $2, $3, $4, $5, $6, NULL, NULL)
			RETURNING id, executed_at`,
			pay.EventID, pay.Price, pay.Quantity, pay.ShareType,
			pay.OperatorID, pay.HolderID)
		trade = types.Trade{
			EventID:      pay.EventID,
			Price:        pay.Price,
			Quantity:     pay.Quantity,
			ShareType:    pay.ShareType,
			BuyerUserID:  pay.OperatorID,
			SellerUserID: pay.HolderID,
		}
		if err := row.Scan(&trade.ID, &trade.ExecutedAt); err != nil {
			return fmt.Errorf("insert resolution trade: %w", err)
		}

		if value := pay.Quantity * pay.Price; value > 0 {
			if err := adjustBalanceTx(ctx, tx, pay.OperatorID, -value); err != nil {
				return err
			}
			if err := adjustBalanceTx(ctx, tx, pay.HolderID, value); err != nil {
				return err
			}
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE portfolios SET quantity = 0 WHERE id = $1`, pay.PortfolioID)
		if err != nil {
			return fmt.Errorf("zero portfolio %d: %w", pay.PortfolioID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("zero portfolio %d: %w", pay.PortfolioID, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return types.Trade{}, err
	}
	return trade, nil
}

func (p *Postgres) TradesByEvent(ctx context.Context, eventID int64) ([]types.Trade, error) {
	var out []types.Trade
	err := p.db.SelectContext(ctx, &out, `
		SELECT * FROM trades WHERE event_id = $1 ORDER BY id ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("trades for event %d: %w", eventID, err)
	}
	return out, nil
}

// ————————————————————————————————————————————————————————————————————————
// Events
// ————————————————————————————————————————————————————————————————————————

func (p *Postgres) CreateEvent(ctx context.Context, ev types.Event) (types.Event, error) {
	row := p.db.QueryRowxContext(ctx, `
		INSERT INTO events (title, created_by, status)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		ev.Title, ev.CreatedBy, types.EventOngoing)
	ev.Status = types.EventOngoing
	if err := row.Scan(&ev.ID, &ev.CreatedAt); err != nil {
		return ev, fmt.Errorf("insert event: %w", err)
	}
	return ev, nil
}

func (p *Postgres) GetEvent(ctx context.Context, id int64) (types.Event, error) {
	var ev types.Event
	err := p.db.GetContext(ctx, &ev, `SELECT * FROM events WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ev, ErrNotFound
	}
	if err != nil {
		return ev, fmt.Errorf("get event %d: %w", id, err)
	}
	return ev, nil
}

func (p *Postgres) ListEvents(ctx context.Context) ([]types.Event, error) {
	var out []types.Event
	if err := p.db.SelectContext(ctx, &out, `SELECT * FROM events ORDER BY id ASC`); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return out, nil
}

func (p *Postgres) SetEventResolved(ctx context.Context, id int64, result types.EventResult) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE events SET status = $2, result = $3 WHERE id = $1`,
		id, types.EventCompleted, result)
	if err != nil {
		return fmt.Errorf("resolve event %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("resolve event %d: %w", id, ErrNotFound)
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Users
// ————————————————————————————————————————————————————————————————————————

func (p *Postgres) CreateUser(ctx context.Context, u types.User) (types.User, error) {
	row := p.db.QueryRowxContext(ctx, `
		INSERT INTO users (username, current_balance)
		VALUES ($1, $2)
		RETURNING id`,
		u.Username, u.CurrentBalance)
	if err := row.Scan(&u.ID); err != nil {
		return u, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (p *Postgres) GetUser(ctx context.Context, id int64) (types.User, error) {
	var u types.User
	err := p.db.GetContext(ctx, &u, `SELECT * FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrNotFound
	}
	if err != nil {
		return u, fmt.Errorf("get user %d: %w", id, err)
	}
	return u, nil
}

func (p *Postgres) AdjustBalance(ctx context.Context, userID, delta int64) error {
	return p.inTx(ctx, func(tx *sqlx.Tx) error {
		return adjustBalanceTx(ctx, tx, userID, delta)
	})
}

// ————————————————————————————————————————————————————————————————————————
// Portfolios
// ————————————————————————————————————————————————————————————————————————

func (p *Postgres) PortfolioFor(ctx context.Context, userID, eventID int64, share types.ShareType) (types.Portfolio, error) {
	var pf types.Portfolio
	err := p.db.GetContext(ctx, &pf, `
		SELECT * FROM portfolios
		WHERE user_id = $1 AND event_id = $2 AND type_of_share = $3`,
		userID, eventID, share)
	if errors.Is(err, sql.ErrNoRows) {
		return pf, ErrNotFound
	}
	if err != nil {
		return pf, fmt.Errorf("get portfolio: %w", err)
	}
	return pf, nil
}

func (p *Postgres) PortfoliosByEvent(ctx context.Context, eventID int64) ([]types.Portfolio, error) {
	var out []types.Portfolio
	err := p.db.SelectContext(ctx, &out, `
		SELECT * FROM portfolios WHERE event_id = $1 ORDER BY id ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("portfolios for event %d: %w", eventID, err)
	}
	return out, nil
}

func (p *Postgres) PortfoliosByUser(ctx context.Context, userID int64) ([]types.Portfolio, error) {
	var out []types.Portfolio
	err := p.db.SelectContext(ctx, &out, `
		SELECT * FROM portfolios WHERE user_id = $1 ORDER BY id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("portfolios for user %d: %w", userID, err)
	}
	return out, nil
}

func (p *Postgres) AdjustPortfolio(ctx context.Context, userID, eventID int64, share types.ShareType, delta int64) error {
	return p.inTx(ctx, func(tx *sqlx.Tx) error {
		return adjustPortfolioTx(ctx, tx, userID, eventID, share, delta)
	})
}

// ————————————————————————————————————————————————————————————————————————
// Helpers
// ————————————————————————————————————————————————————————————————————————

func (p *Postgres) inTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// adjustBalanceTx applies a signed delta, relying on the guarded UPDATE for
// the non-negative balance constraint. Zero rows affected on a debit means
// the balance was short.
func adjustBalanceTx(ctx context.Context, tx *sqlx.Tx, userID, delta int64) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE users SET current_balance = current_balance + $2
		WHERE id = $1 AND current_balance + $2 >= 0`,
		userID, delta)
	if err != nil {
		return fmt.Errorf("adjust balance user %d: %w", userID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if delta < 0 {
			return fmt.Errorf("user %d: %w", userID, ErrInsufficientBalance)
		}
		return fmt.Errorf("adjust balance user %d: %w", userID, ErrNotFound)
	}
	return nil
}

// adjustPortfolioTx upserts the (user, event, share) row by delta. Negative
// deltas require an existing row with enough quantity.
func adjustPortfolioTx(ctx context.Context, tx *sqlx.Tx, userID, eventID int64, share types.ShareType, delta int64) error {
	if delta >= 0 {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO portfolios (user_id, event_id, type_of_share, quantity)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id, event_id, type_of_share)
			DO UPDATE SET quantity = portfolios.quantity + EXCLUDED.quantity`,
			userID, eventID, share, delta)
		if err != nil {
			return fmt.Errorf("credit portfolio user %d: %w", userID, err)
		}
		return nil
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE portfolios SET quantity = quantity + $4
		WHERE user_id = $1 AND event_id = $2 AND type_of_share = $3
		  AND quantity + $4 >= 0`,
		userID, eventID, share, delta)
	if err != nil {
		return fmt.Errorf("debit portfolio user %d: %w", userID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %d %s: %w", userID, share, ErrInsufficientShares)
	}
	return nil
}
