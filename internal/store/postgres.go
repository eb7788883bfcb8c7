package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/candlz/market-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func notFound(err error, what, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", what, id, err)
}

// --- Assets ---

const assetColumns = `id, symbol, name, asset_type,
	current_price::TEXT, volatility::TEXT, beta::TEXT,
	unlock_tier, is_active, created_at, updated_at`

func scanAsset(row pgx.Row) (*model.Asset, error) {
	var a model.Asset
	var price, vol, beta string
	if err := row.Scan(&a.ID, &a.Symbol, &a.Name, &a.Type,
		&price, &vol, &beta,
		&a.UnlockTier, &a.IsActive, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.CurrentPrice, _ = decimal.NewFromString(price)
	a.Volatility, _ = decimal.NewFromString(vol)
	a.Beta, _ = decimal.NewFromString(beta)
	return &a, nil
}

func (s *PostgresStore) CreateAsset(ctx context.Context, a *model.Asset) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO assets (id, symbol, name, asset_type, current_price, volatility, beta, unlock_tier, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9, $10, $11)`,
		a.ID, a.Symbol, a.Name, a.Type,
		a.CurrentPrice.String(), a.Volatility.String(), a.Beta.String(),
		a.UnlockTier, a.IsActive, a.CreatedAt, a.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	a, err := scanAsset(s.pool.QueryRow(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "asset", id)
	}
	return a, nil
}

func (s *PostgresStore) GetAssetBySymbol(ctx context.Context, symbol string) (*model.Asset, error) {
	a, err := scanAsset(s.pool.QueryRow(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE symbol = $1`, symbol))
	if err != nil {
		return nil, notFound(err, "asset symbol", symbol)
	}
	return a, nil
}

func (s *PostgresStore) listAssets(ctx context.Context, query string, args ...any) ([]model.Asset, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []model.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, *a)
	}
	return assets, rows.Err()
}

func (s *PostgresStore) ListActiveAssets(ctx context.Context) ([]model.Asset, error) {
	return s.listAssets(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE is_active ORDER BY symbol`)
}

func (s *PostgresStore) ListAssetsByType(ctx context.Context, t model.AssetType) ([]model.Asset, error) {
	return s.listAssets(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE is_active AND asset_type = $1 ORDER BY symbol`, t)
}

func (s *PostgresStore) ListAvailableAssets(ctx context.Context, tiers []string) ([]model.Asset, error) {
	return s.listAssets(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE is_active AND unlock_tier = ANY($1) ORDER BY symbol`, tiers)
}

func (s *PostgresStore) UpdateAssetMarket(ctx context.Context, id string, price decimal.Decimal, volatility *decimal.Decimal, at time.Time) error {
	var err error
	if volatility != nil {
		_, err = s.pool.Exec(ctx,
			`UPDATE assets SET current_price = $2::NUMERIC, volatility = $3::NUMERIC, updated_at = $4 WHERE id = $1`,
			id, price.String(), volatility.String(), at)
	} else {
		_, err = s.pool.Exec(ctx,
			`UPDATE assets SET current_price = $2::NUMERIC, updated_at = $3 WHERE id = $1`,
			id, price.String(), at)
	}
	return err
}

// --- Price ticks ---

func (s *PostgresStore) InsertPriceTick(ctx context.Context, t *model.PriceTick) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_ticks (id, asset_id, timestamp, open_price, high_price, low_price, close_price, volume)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC)`,
		t.ID, t.AssetID, t.Timestamp,
		t.Open.String(), t.High.String(), t.Low.String(), t.Close.String(), t.Volume.String(),
	)
	return err
}

func (s *PostgresStore) ListPriceTicks(ctx context.Context, assetID string, limit int) ([]model.PriceTick, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, asset_id, timestamp,
		        open_price::TEXT, high_price::TEXT, low_price::TEXT, close_price::TEXT, volume::TEXT
		 FROM price_ticks WHERE asset_id = $1 ORDER BY timestamp DESC LIMIT $2`,
		assetID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ticks []model.PriceTick
	for rows.Next() {
		var t model.PriceTick
		var o, h, l, c, v string
		if err := rows.Scan(&t.ID, &t.AssetID, &t.Timestamp, &o, &h, &l, &c, &v); err != nil {
			return nil, err
		}
		t.Open, _ = decimal.NewFromString(o)
		t.High, _ = decimal.NewFromString(h)
		t.Low, _ = decimal.NewFromString(l)
		t.Close, _ = decimal.NewFromString(c)
		t.Volume, _ = decimal.NewFromString(v)
		ticks = append(ticks, t)
	}
	return ticks, rows.Err()
}

func (s *PostgresStore) LatestTickTime(ctx context.Context) (time.Time, int64, error) {
	var latest *time.Time
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT MAX(timestamp), COUNT(*) FROM price_ticks`).Scan(&latest, &count)
	if err != nil {
		return time.Time{}, 0, err
	}
	if latest == nil {
		return time.Time{}, count, nil
	}
	return *latest, count, nil
}

// --- Orders ---

const orderColumns = `id, player_id, asset_id, order_type, side,
	quantity::TEXT, price::TEXT, stop_price::TEXT,
	status, filled_quantity::TEXT, avg_fill_price::TEXT, commission::TEXT,
	created_at, executed_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	var qty, price, stop, filled, avgFill, comm string
	var executed *time.Time
	if err := row.Scan(&o.ID, &o.PlayerID, &o.AssetID, &o.Type, &o.Side,
		&qty, &price, &stop,
		&o.Status, &filled, &avgFill, &comm,
		&o.CreatedAt, &executed); err != nil {
		return nil, err
	}
	o.Quantity, _ = decimal.NewFromString(qty)
	o.Price, _ = decimal.NewFromString(price)
	o.StopPrice, _ = decimal.NewFromString(stop)
	o.FilledQuantity, _ = decimal.NewFromString(filled)
	o.AvgFillPrice, _ = decimal.NewFromString(avgFill)
	o.Commission, _ = decimal.NewFromString(comm)
	if executed != nil {
		o.ExecutedAt = *executed
	}
	return &o, nil
}

func (s *PostgresStore) CreateOrder(ctx context.Context, o *model.Order) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO orders (id, player_id, asset_id, order_type, side, quantity, price, stop_price, status, filled_quantity, avg_fill_price, commission, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10::NUMERIC, $11::NUMERIC, $12::NUMERIC, $13)`,
		o.ID, o.PlayerID, o.AssetID, o.Type, o.Side,
		o.Quantity.String(), o.Price.String(), o.StopPrice.String(),
		o.Status, o.FilledQuantity.String(), o.AvgFillPrice.String(), o.Commission.String(),
		o.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "order", id)
	}
	return o, nil
}

func (s *PostgresStore) listOrders(ctx context.Context, query string, args ...any) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func (s *PostgresStore) ListOpenOrders(ctx context.Context) ([]model.Order, error) {
	return s.listOrders(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE status IN ($1, $2) ORDER BY created_at`,
		model.OrderStatusPending, model.OrderStatusPartiallyFilled)
}

func (s *PostgresStore) ListOrdersByPlayer(ctx context.Context, playerID string) ([]model.Order, error) {
	return s.listOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE player_id = $1 ORDER BY created_at`, playerID)
}

func (s *PostgresStore) UpdateOrderStatus(ctx context.Context, id, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- Positions ---

const positionColumns = `player_id, asset_id,
	quantity::TEXT, avg_purchase_price::TEXT, total_invested::TEXT,
	current_value::TEXT, unrealized_pnl::TEXT, realized_pnl::TEXT,
	first_purchase, last_updated`

func scanPosition(row pgx.Row) (*model.Position, error) {
	var p model.Position
	var qty, avg, invested, value, upnl, rpnl string
	if err := row.Scan(&p.PlayerID, &p.AssetID,
		&qty, &avg, &invested, &value, &upnl, &rpnl,
		&p.FirstPurchase, &p.LastUpdated); err != nil {
		return nil, err
	}
	p.Quantity, _ = decimal.NewFromString(qty)
	p.AvgPurchasePrice, _ = decimal.NewFromString(avg)
	p.TotalInvested, _ = decimal.NewFromString(invested)
	p.CurrentValue, _ = decimal.NewFromString(value)
	p.UnrealizedPnL, _ = decimal.NewFromString(upnl)
	p.RealizedPnL, _ = decimal.NewFromString(rpnl)
	return &p, nil
}

func (s *PostgresStore) GetPosition(ctx context.Context, playerID, assetID string) (*model.Position, error) {
	p, err := scanPosition(s.pool.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE player_id = $1 AND asset_id = $2`,
		playerID, assetID))
	if err != nil {
		return nil, notFound(err, "position", playerID+"/"+assetID)
	}
	return p, nil
}

func (s *PostgresStore) listPositions(ctx context.Context, query string, args ...any) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) ListPositionsByPlayer(ctx context.Context, playerID string) ([]model.Position, error) {
	return s.listPositions(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE player_id = $1 ORDER BY asset_id`, playerID)
}

func (s *PostgresStore) ListPositionsByAsset(ctx context.Context, assetID string) ([]model.Position, error) {
	return s.listPositions(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE asset_id = $1 ORDER BY player_id`, assetID)
}

func (s *PostgresStore) UpdatePositionValuation(ctx context.Context, key PositionKey, currentValue, unrealizedPnL decimal.Decimal, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions SET current_value = $3::NUMERIC, unrealized_pnl = $4::NUMERIC, last_updated = $5
		 WHERE player_id = $1 AND asset_id = $2`,
		key.PlayerID, key.AssetID, currentValue.String(), unrealizedPnL.String(), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("position %s/%s: %w", key.PlayerID, key.AssetID, ErrNotFound)
	}
	return nil
}

// --- Players ---

const playerColumns = `id, username,
	cash_balance::TEXT, portfolio_value::TEXT, starting_capital::TEXT,
	wealth_tier, created_at`

func scanPlayer(row pgx.Row) (*model.Player, error) {
	var p model.Player
	var cash, value, capital string
	if err := row.Scan(&p.ID, &p.Username, &cash, &value, &capital,
		&p.WealthTier, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.CashBalance, _ = decimal.NewFromString(cash)
	p.PortfolioValue, _ = decimal.NewFromString(value)
	p.StartingCapital, _ = decimal.NewFromString(capital)
	return &p, nil
}

func (s *PostgresStore) CreatePlayer(ctx context.Context, p *model.Player) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO players (id, username, cash_balance, portfolio_value, starting_capital, wealth_tier, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6, $7)`,
		p.ID, p.Username,
		p.CashBalance.String(), p.PortfolioValue.String(), p.StartingCapital.String(),
		p.WealthTier, p.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetPlayer(ctx context.Context, id string) (*model.Player, error) {
	p, err := scanPlayer(s.pool.QueryRow(ctx,
		`SELECT `+playerColumns+` FROM players WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "player", id)
	}
	return p, nil
}

func (s *PostgresStore) ListPlayers(ctx context.Context) ([]model.Player, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+playerColumns+` FROM players ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var players []model.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, *p)
	}
	return players, rows.Err()
}

func (s *PostgresStore) UpdatePlayerValuation(ctx context.Context, id string, portfolioValue decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE players SET portfolio_value = $2::NUMERIC WHERE id = $1`,
		id, portfolioValue.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("player %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) UpdatePlayerTier(ctx context.Context, id, tier string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE players SET wealth_tier = $2 WHERE id = $1`, id, tier)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("player %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- Market events ---

func (s *PostgresStore) CreateEvent(ctx context.Context, e *model.MarketEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO market_events (id, event_type, title, description, scheduled_time, duration_hours, volatility_multiplier, affected_assets, price_impact, processed, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8, $9::NUMERIC, $10, $11)`,
		e.ID, e.Type, e.Title, e.Description, e.ScheduledTime, e.DurationHours,
		e.VolatilityMultiplier.String(), e.AffectedAssets, e.PriceImpact.String(),
		e.Processed, e.CreatedAt,
	)
	return err
}

func (s *PostgresStore) ListActiveEvents(ctx context.Context, now time.Time) ([]model.MarketEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, event_type, title, description, scheduled_time, duration_hours,
		        volatility_multiplier::TEXT, affected_assets, price_impact::TEXT, processed, created_at
		 FROM market_events
		 WHERE scheduled_time <= $1
		   AND scheduled_time + make_interval(hours => duration_hours) >= $1
		 ORDER BY scheduled_time`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.MarketEvent
	for rows.Next() {
		var e model.MarketEvent
		var volMult, impact string
		if err := rows.Scan(&e.ID, &e.Type, &e.Title, &e.Description,
			&e.ScheduledTime, &e.DurationHours,
			&volMult, &e.AffectedAssets, &impact, &e.Processed, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.VolatilityMultiplier, _ = decimal.NewFromString(volMult)
		e.PriceImpact, _ = decimal.NewFromString(impact)
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *PostgresStore) MarkEventProcessed(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE market_events SET processed = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- Atomic fill ---

// ApplyFill writes order, player and position mutations in a single
// transaction so a failed step rolls everything back. The stored order
// must still be open; a fill that lost a race returns ErrOrderClosed.
func (s *PostgresStore) ApplyFill(ctx context.Context, app FillApplication) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	o := app.Order
	var executed *time.Time
	if !o.ExecutedAt.IsZero() {
		executed = &o.ExecutedAt
	}
	// Guarded update: only an order that is still open takes the fill,
	// so two racing fills cannot both land.
	tag, err := tx.Exec(ctx,
		`UPDATE orders SET status = $2, filled_quantity = $3::NUMERIC, avg_fill_price = $4::NUMERIC,
		        commission = $5::NUMERIC, executed_at = $6
		 WHERE id = $1 AND status IN ('pending', 'partially_filled')`,
		o.ID, o.Status, o.FilledQuantity.String(), o.AvgFillPrice.String(),
		o.Commission.String(), executed)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var status string
		if err := tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, o.ID).Scan(&status); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("order %s: %w", o.ID, ErrNotFound)
			}
			return fmt.Errorf("check order: %w", err)
		}
		return fmt.Errorf("order %s is %s: %w", o.ID, status, ErrOrderClosed)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE players SET cash_balance = $2::NUMERIC WHERE id = $1`,
		app.Player.ID, app.Player.CashBalance.String()); err != nil {
		return fmt.Errorf("update player cash: %w", err)
	}

	if app.RemovePosition {
		if _, err := tx.Exec(ctx,
			`DELETE FROM positions WHERE player_id = $1 AND asset_id = $2`,
			app.PositionKey.PlayerID, app.PositionKey.AssetID); err != nil {
			return fmt.Errorf("delete position: %w", err)
		}
	} else if p := app.Position; p != nil {
		if _, err := tx.Exec(ctx,
			`INSERT INTO positions (player_id, asset_id, quantity, avg_purchase_price, total_invested,
			                        current_value, unrealized_pnl, realized_pnl, first_purchase, last_updated)
			 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10)
			 ON CONFLICT (player_id, asset_id) DO UPDATE SET
			   quantity = EXCLUDED.quantity,
			   avg_purchase_price = EXCLUDED.avg_purchase_price,
			   total_invested = EXCLUDED.total_invested,
			   current_value = EXCLUDED.current_value,
			   unrealized_pnl = EXCLUDED.unrealized_pnl,
			   realized_pnl = EXCLUDED.realized_pnl,
			   last_updated = EXCLUDED.last_updated`,
			p.PlayerID, p.AssetID,
			p.Quantity.String(), p.AvgPurchasePrice.String(), p.TotalInvested.String(),
			p.CurrentValue.String(), p.UnrealizedPnL.String(), p.RealizedPnL.String(),
			p.FirstPurchase, p.LastUpdated); err != nil {
			return fmt.Errorf("upsert position: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// --- Analytics / health ---

func (s *PostgresStore) CountAssets(ctx context.Context) (int64, int64, error) {
	var total, active int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE is_active) FROM assets`).Scan(&total, &active)
	return total, active, err
}

func (s *PostgresStore) CountPlayers(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM players`).Scan(&n)
	return n, err
}

func (s *PostgresStore) CountOrdersByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM orders GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (s *PostgresStore) GetPortfolioStats(ctx context.Context) (PortfolioStats, error) {
	var total, avg, max, min string
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(portfolio_value), 0)::TEXT,
		        COALESCE(AVG(portfolio_value), 0)::TEXT,
		        COALESCE(MAX(portfolio_value), 0)::TEXT,
		        COALESCE(MIN(portfolio_value), 0)::TEXT
		 FROM players`).Scan(&total, &avg, &max, &min)
	if err != nil {
		return PortfolioStats{}, err
	}

	var stats PortfolioStats
	stats.Total, _ = decimal.NewFromString(total)
	stats.Average, _ = decimal.NewFromString(avg)
	stats.Max, _ = decimal.NewFromString(max)
	stats.Min, _ = decimal.NewFromString(min)
	return stats, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
