package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"voldash/config"
	"voldash/logger"
)

// PostgresStore is the pooled Postgres/Timescale Store backend. Same
// append-only contract as SQLiteStore; pick it via config when snapshot
// history should outlive a single host.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

var pgSchema = []string{
	`CREATE TABLE IF NOT EXISTS vol_smile (
		id BIGSERIAL PRIMARY KEY,
		timestamp BIGINT NOT NULL,
		symbol TEXT NOT NULL,
		expiry TEXT NOT NULL,
		strikes TEXT NOT NULL,
		call_ivs TEXT NOT NULL,
		put_ivs TEXT NOT NULL,
		atm_strike DOUBLE PRECISION NOT NULL,
		underlying_value DOUBLE PRECISION NOT NULL,
		expiry_dates TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_vol_smile_key ON vol_smile(symbol, expiry, timestamp)`,
	`CREATE TABLE IF NOT EXISTS vol_surface (
		id BIGSERIAL PRIMARY KEY,
		timestamp BIGINT NOT NULL,
		symbol TEXT NOT NULL,
		strikes TEXT NOT NULL,
		days_to_expiry TEXT NOT NULL,
		implied_vols TEXT NOT NULL,
		expiry_dates TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_vol_surface_key ON vol_surface(symbol, timestamp)`,
	`CREATE TABLE IF NOT EXISTS premiums (
		id BIGSERIAL PRIMARY KEY,
		timestamp BIGINT NOT NULL,
		symbol TEXT NOT NULL,
		expiry TEXT NOT NULL,
		strike DOUBLE PRECISION NOT NULL,
		straddle_premium DOUBLE PRECISION NOT NULL,
		straddle_iv DOUBLE PRECISION NOT NULL,
		ironfly_premium DOUBLE PRECISION,
		ironfly_iv DOUBLE PRECISION,
		atm_strike DOUBLE PRECISION NOT NULL,
		call_wing DOUBLE PRECISION,
		put_wing DOUBLE PRECISION
	)`,
	`CREATE INDEX IF NOT EXISTS idx_premiums_key ON premiums(symbol, expiry, strike, timestamp)`,
	`CREATE TABLE IF NOT EXISTS bid_ask (
		id BIGSERIAL PRIMARY KEY,
		timestamp BIGINT NOT NULL,
		symbol TEXT NOT NULL,
		expiry TEXT NOT NULL,
		strike DOUBLE PRECISION NOT NULL,
		ce_spread DOUBLE PRECISION NOT NULL,
		pe_spread DOUBLE PRECISION NOT NULL,
		ce_spike BOOLEAN NOT NULL,
		pe_spike BOOLEAN NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bid_ask_key ON bid_ask(symbol, expiry, strike, timestamp)`,
	`CREATE TABLE IF NOT EXISTS option_price (
		id BIGSERIAL PRIMARY KEY,
		timestamp BIGINT NOT NULL,
		symbol TEXT NOT NULL,
		expiry TEXT NOT NULL,
		strike DOUBLE PRECISION NOT NULL,
		time_to_expiry DOUBLE PRECISION NOT NULL,
		risk_free_rate DOUBLE PRECISION NOT NULL,
		ce_iv DOUBLE PRECISION NOT NULL,
		pe_iv DOUBLE PRECISION NOT NULL,
		ce_market_price DOUBLE PRECISION NOT NULL,
		pe_market_price DOUBLE PRECISION NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_option_price_key ON option_price(symbol, expiry, strike, timestamp)`,
	`CREATE TABLE IF NOT EXISTS underlying_price (
		id BIGSERIAL PRIMARY KEY,
		timestamp BIGINT NOT NULL,
		symbol TEXT NOT NULL,
		underlying_value DOUBLE PRECISION NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_underlying_price_key ON underlying_price(symbol, timestamp)`,
}

func NewPostgresStore(ctx context.Context, cfg *config.PostgresConfig) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConnections)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	for _, stmt := range pgSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}

	return &PostgresStore{pool: pool, log: logger.L()}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) AppendSmile(ctx context.Context, row *SmileRow) error {
	strikes, err := encodeJSON(row.Strikes)
	if err != nil {
		return err
	}
	callIVs, err := encodeJSON(row.CallIVs)
	if err != nil {
		return err
	}
	putIVs, err := encodeJSON(row.PutIVs)
	if err != nil {
		return err
	}
	expiryDates, err := encodeJSON(row.ExpiryDates)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO vol_smile (timestamp, symbol, expiry, strikes, call_ivs, put_ivs, atm_strike, underlying_value, expiry_dates)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		row.Timestamp, row.Symbol, row.Expiry, strikes, callIVs, putIVs,
		row.ATMStrike, row.UnderlyingValue, expiryDates,
	)
	if err != nil {
		return fmt.Errorf("append smile: %w", err)
	}
	return nil
}

func (s *PostgresStore) LatestSmile(ctx context.Context, symbol, expiry string) (*SmileRow, error) {
	query := `SELECT timestamp, symbol, expiry, strikes, call_ivs, put_ivs, atm_strike, underlying_value, expiry_dates
		FROM vol_smile WHERE symbol = $1`
	args := []interface{}{symbol}
	if expiry != "" {
		query += ` AND expiry = $2`
		args = append(args, expiry)
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT 1`

	var row SmileRow
	var strikes, callIVs, putIVs, expiryDates string
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&row.Timestamp, &row.Symbol, &row.Expiry, &strikes, &callIVs, &putIVs,
		&row.ATMStrike, &row.UnderlyingValue, &expiryDates,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest smile: %w", err)
	}

	if err := decodeJSON(strikes, &row.Strikes); err != nil {
		return nil, err
	}
	if err := decodeJSON(callIVs, &row.CallIVs); err != nil {
		return nil, err
	}
	if err := decodeJSON(putIVs, &row.PutIVs); err != nil {
		return nil, err
	}
	if err := decodeJSON(expiryDates, &row.ExpiryDates); err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *PostgresStore) AppendSurface(ctx context.Context, row *SurfaceRow) error {
	strikes, err := encodeJSON(row.Strikes)
	if err != nil {
		return err
	}
	days, err := encodeJSON(row.DaysToExpiry)
	if err != nil {
		return err
	}
	vols, err := encodeJSON(row.ImpliedVols)
	if err != nil {
		return err
	}
	expiryDates, err := encodeJSON(row.ExpiryDates)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO vol_surface (timestamp, symbol, strikes, days_to_expiry, implied_vols, expiry_dates)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		row.Timestamp, row.Symbol, strikes, days, vols, expiryDates,
	)
	if err != nil {
		return fmt.Errorf("append surface: %w", err)
	}
	return nil
}

func (s *PostgresStore) LatestSurface(ctx context.Context, symbol string) (*SurfaceRow, error) {
	var row SurfaceRow
	var strikes, days, vols, expiryDates string
	err := s.pool.QueryRow(ctx,
		`SELECT timestamp, symbol, strikes, days_to_expiry, implied_vols, expiry_dates
		 FROM vol_surface WHERE symbol = $1 ORDER BY timestamp DESC, id DESC LIMIT 1`,
		symbol,
	).Scan(&row.Timestamp, &row.Symbol, &strikes, &days, &vols, &expiryDates)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest surface: %w", err)
	}

	if err := decodeJSON(strikes, &row.Strikes); err != nil {
		return nil, err
	}
	if err := decodeJSON(days, &row.DaysToExpiry); err != nil {
		return nil, err
	}
	if err := decodeJSON(vols, &row.ImpliedVols); err != nil {
		return nil, err
	}
	if err := decodeJSON(expiryDates, &row.ExpiryDates); err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *PostgresStore) AppendPremium(ctx context.Context, row *PremiumRow) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO premiums (timestamp, symbol, expiry, strike, straddle_premium, straddle_iv, ironfly_premium, ironfly_iv, atm_strike, call_wing, put_wing)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		row.Timestamp, row.Symbol, row.Expiry, row.Strike,
		row.StraddlePremium, row.StraddleIV, row.IronflyPremium, row.IronflyIV,
		row.ATMStrike, row.CallWing, row.PutWing,
	)
	if err != nil {
		return fmt.Errorf("append premium: %w", err)
	}
	return nil
}

func (s *PostgresStore) LatestPremium(ctx context.Context, symbol, expiry string, strike, callWing, putWing float64) (*PremiumRow, error) {
	query := `SELECT timestamp, symbol, expiry, strike, straddle_premium, straddle_iv, ironfly_premium, ironfly_iv, atm_strike, call_wing, put_wing
		FROM premiums WHERE symbol = $1 AND expiry = $2 AND strike = $3`
	args := []interface{}{symbol, expiry, strike}
	if callWing != 0 && putWing != 0 {
		query += ` AND call_wing = $4 AND put_wing = $5`
		args = append(args, callWing, putWing)
	} else {
		query += ` AND call_wing IS NULL AND put_wing IS NULL`
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT 1`

	var row PremiumRow
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&row.Timestamp, &row.Symbol, &row.Expiry, &row.Strike,
		&row.StraddlePremium, &row.StraddleIV, &row.IronflyPremium, &row.IronflyIV,
		&row.ATMStrike, &row.CallWing, &row.PutWing,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest premium: %w", err)
	}
	return &row, nil
}

func (s *PostgresStore) PremiumSeries(ctx context.Context, symbol, expiry string) ([]*PremiumRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT timestamp, symbol, expiry, strike, straddle_premium, straddle_iv, ironfly_premium, ironfly_iv, atm_strike, call_wing, put_wing
		 FROM premiums WHERE symbol = $1 AND expiry = $2 ORDER BY timestamp ASC, id ASC`,
		symbol, expiry,
	)
	if err != nil {
		return nil, fmt.Errorf("premium series: %w", err)
	}
	defer rows.Close()

	var series []*PremiumRow
	for rows.Next() {
		var row PremiumRow
		err := rows.Scan(
			&row.Timestamp, &row.Symbol, &row.Expiry, &row.Strike,
			&row.StraddlePremium, &row.StraddleIV, &row.IronflyPremium, &row.IronflyIV,
			&row.ATMStrike, &row.CallWing, &row.PutWing,
		)
		if err != nil {
			return nil, fmt.Errorf("premium series: %w", err)
		}
		series = append(series, &row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("premium series: %w", err)
	}
	return series, nil
}

func (s *PostgresStore) AppendBidAsk(ctx context.Context, row *BidAskRow) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO bid_ask (timestamp, symbol, expiry, strike, ce_spread, pe_spread, ce_spike, pe_spike)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		row.Timestamp, row.Symbol, row.Expiry, row.Strike,
		row.CESpread, row.PESpread, row.CESpike, row.PESpike,
	)
	if err != nil {
		return fmt.Errorf("append bid-ask: %w", err)
	}
	return nil
}

func (s *PostgresStore) LatestBidAsk(ctx context.Context, symbol, expiry string, strike float64) (*BidAskRow, error) {
	var row BidAskRow
	err := s.pool.QueryRow(ctx,
		`SELECT timestamp, symbol, expiry, strike, ce_spread, pe_spread, ce_spike, pe_spike
		 FROM bid_ask WHERE symbol = $1 AND expiry = $2 AND strike = $3
		 ORDER BY timestamp DESC, id DESC LIMIT 1`,
		symbol, expiry, strike,
	).Scan(&row.Timestamp, &row.Symbol, &row.Expiry, &row.Strike,
		&row.CESpread, &row.PESpread, &row.CESpike, &row.PESpike)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest bid-ask: %w", err)
	}
	return &row, nil
}

func (s *PostgresStore) AppendOptionPrice(ctx context.Context, row *OptionPriceRow) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO option_price (timestamp, symbol, expiry, strike, time_to_expiry, risk_free_rate, ce_iv, pe_iv, ce_market_price, pe_market_price)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		row.Timestamp, row.Symbol, row.Expiry, row.Strike,
		row.TimeToExpiry, row.RiskFreeRate, row.CEIV, row.PEIV,
		row.CEMarketPrice, row.PEMarketPrice,
	)
	if err != nil {
		return fmt.Errorf("append option price: %w", err)
	}
	return nil
}

func (s *PostgresStore) LatestOptionPrice(ctx context.Context, symbol, expiry string, strike float64) (*OptionPriceRow, error) {
	var row OptionPriceRow
	err := s.pool.QueryRow(ctx,
		`SELECT timestamp, symbol, expiry, strike, time_to_expiry, risk_free_rate, ce_iv, pe_iv, ce_market_price, pe_market_price
		 FROM option_price WHERE symbol = $1 AND expiry = $2 AND strike = $3
		 ORDER BY timestamp DESC, id DESC LIMIT 1`,
		symbol, expiry, strike,
	).Scan(&row.Timestamp, &row.Symbol, &row.Expiry, &row.Strike,
		&row.TimeToExpiry, &row.RiskFreeRate, &row.CEIV, &row.PEIV,
		&row.CEMarketPrice, &row.PEMarketPrice)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest option price: %w", err)
	}
	return &row, nil
}

func (s *PostgresStore) AppendUnderlying(ctx context.Context, row *UnderlyingRow) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO underlying_price (timestamp, symbol, underlying_value) VALUES ($1, $2, $3)`,
		row.Timestamp, row.Symbol, row.UnderlyingValue,
	)
	if err != nil {
		return fmt.Errorf("append underlying: %w", err)
	}
	return nil
}

func (s *PostgresStore) LatestUnderlying(ctx context.Context, symbol string) (*UnderlyingRow, error) {
	var row UnderlyingRow
	err := s.pool.QueryRow(ctx,
		`SELECT timestamp, symbol, underlying_value FROM underlying_price
		 WHERE symbol = $1 ORDER BY timestamp DESC, id DESC LIMIT 1`,
		symbol,
	).Scan(&row.Timestamp, &row.Symbol, &row.UnderlyingValue)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest underlying: %w", err)
	}
	return &row, nil
}
