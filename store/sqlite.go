package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"voldash/logger"
)

// SQLiteStore is the default Store backend: one append-only table per metric
// kind, shared by all requests through a single pooled handle.
type SQLiteStore struct {
	db  *sql.DB
	log *logger.Logger
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS vol_smile (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		expiry TEXT NOT NULL,
		strikes TEXT NOT NULL,
		call_ivs TEXT NOT NULL,
		put_ivs TEXT NOT NULL,
		atm_strike REAL NOT NULL,
		underlying_value REAL NOT NULL,
		expiry_dates TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_vol_smile_key ON vol_smile(symbol, expiry, timestamp)`,
	`CREATE TABLE IF NOT EXISTS vol_surface (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		strikes TEXT NOT NULL,
		days_to_expiry TEXT NOT NULL,
		implied_vols TEXT NOT NULL,
		expiry_dates TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_vol_surface_key ON vol_surface(symbol, timestamp)`,
	`CREATE TABLE IF NOT EXISTS premiums (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		expiry TEXT NOT NULL,
		strike REAL NOT NULL,
		straddle_premium REAL NOT NULL,
		straddle_iv REAL NOT NULL,
		ironfly_premium REAL,
		ironfly_iv REAL,
		atm_strike REAL NOT NULL,
		call_wing REAL,
		put_wing REAL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_premiums_key ON premiums(symbol, expiry, strike, timestamp)`,
	`CREATE TABLE IF NOT EXISTS bid_ask (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		expiry TEXT NOT NULL,
		strike REAL NOT NULL,
		ce_spread REAL NOT NULL,
		pe_spread REAL NOT NULL,
		ce_spike INTEGER NOT NULL,
		pe_spike INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bid_ask_key ON bid_ask(symbol, expiry, strike, timestamp)`,
	`CREATE TABLE IF NOT EXISTS option_price (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		expiry TEXT NOT NULL,
		strike REAL NOT NULL,
		time_to_expiry REAL NOT NULL,
		risk_free_rate REAL NOT NULL,
		ce_iv REAL NOT NULL,
		pe_iv REAL NOT NULL,
		ce_market_price REAL NOT NULL,
		pe_market_price REAL NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_option_price_key ON option_price(symbol, expiry, strike, timestamp)`,
	`CREATE TABLE IF NOT EXISTS underlying_price (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		underlying_value REAL NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_underlying_price_key ON underlying_price(symbol, timestamp)`,
}

// NewSQLiteStore opens (creating if needed) the snapshot database at path.
// Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Serialized writes keep each append atomic per key under concurrency.
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &SQLiteStore{db: db, log: logger.L()}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) AppendSmile(ctx context.Context, row *SmileRow) error {
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

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO vol_smile (timestamp, symbol, expiry, strikes, call_ivs, put_ivs, atm_strike, underlying_value, expiry_dates)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.Timestamp, row.Symbol, row.Expiry, strikes, callIVs, putIVs,
		row.ATMStrike, row.UnderlyingValue, expiryDates,
	)
	if err != nil {
		return fmt.Errorf("append smile: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LatestSmile(ctx context.Context, symbol, expiry string) (*SmileRow, error) {
	query := `SELECT timestamp, symbol, expiry, strikes, call_ivs, put_ivs, atm_strike, underlying_value, expiry_dates
		FROM vol_smile WHERE symbol = ?`
	args := []interface{}{symbol}
	if expiry != "" {
		query += ` AND expiry = ?`
		args = append(args, expiry)
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT 1`

	var row SmileRow
	var strikes, callIVs, putIVs, expiryDates string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&row.Timestamp, &row.Symbol, &row.Expiry, &strikes, &callIVs, &putIVs,
		&row.ATMStrike, &row.UnderlyingValue, &expiryDates,
	)
	if errors.Is(err, sql.ErrNoRows) {
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

func (s *SQLiteStore) AppendSurface(ctx context.Context, row *SurfaceRow) error {
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

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO vol_surface (timestamp, symbol, strikes, days_to_expiry, implied_vols, expiry_dates)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		row.Timestamp, row.Symbol, strikes, days, vols, expiryDates,
	)
	if err != nil {
		return fmt.Errorf("append surface: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LatestSurface(ctx context.Context, symbol string) (*SurfaceRow, error) {
	var row SurfaceRow
	var strikes, days, vols, expiryDates string
	err := s.db.QueryRowContext(ctx,
		`SELECT timestamp, symbol, strikes, days_to_expiry, implied_vols, expiry_dates
		 FROM vol_surface WHERE symbol = ? ORDER BY timestamp DESC, id DESC LIMIT 1`,
		symbol,
	).Scan(&row.Timestamp, &row.Symbol, &strikes, &days, &vols, &expiryDates)
	if errors.Is(err, sql.ErrNoRows) {
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

func (s *SQLiteStore) AppendPremium(ctx context.Context, row *PremiumRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO premiums (timestamp, symbol, expiry, strike, straddle_premium, straddle_iv, ironfly_premium, ironfly_iv, atm_strike, call_wing, put_wing)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.Timestamp, row.Symbol, row.Expiry, row.Strike,
		row.StraddlePremium, row.StraddleIV, row.IronflyPremium, row.IronflyIV,
		row.ATMStrike, row.CallWing, row.PutWing,
	)
	if err != nil {
		return fmt.Errorf("append premium: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LatestPremium(ctx context.Context, symbol, expiry string, strike, callWing, putWing float64) (*PremiumRow, error) {
	query := `SELECT timestamp, symbol, expiry, strike, straddle_premium, straddle_iv, ironfly_premium, ironfly_iv, atm_strike, call_wing, put_wing
		FROM premiums WHERE symbol = ? AND expiry = ? AND strike = ?`
	args := []interface{}{symbol, expiry, strike}
	if callWing != 0 && putWing != 0 {
		query += ` AND call_wing = ? AND put_wing = ?`
		args = append(args, callWing, putWing)
	} else {
		query += ` AND call_wing IS NULL AND put_wing IS NULL`
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT 1`

	row, err := scanPremium(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest premium: %w", err)
	}
	return row, nil
}

func (s *SQLiteStore) PremiumSeries(ctx context.Context, symbol, expiry string) ([]*PremiumRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT timestamp, symbol, expiry, strike, straddle_premium, straddle_iv, ironfly_premium, ironfly_iv, atm_strike, call_wing, put_wing
		 FROM premiums WHERE symbol = ? AND expiry = ? ORDER BY timestamp ASC, id ASC`,
		symbol, expiry,
	)
	if err != nil {
		return nil, fmt.Errorf("premium series: %w", err)
	}
	defer rows.Close()

	var series []*PremiumRow
	for rows.Next() {
		row, err := scanPremium(rows)
		if err != nil {
			return nil, fmt.Errorf("premium series: %w", err)
		}
		series = append(series, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("premium series: %w", err)
	}
	return series, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPremium(sc rowScanner) (*PremiumRow, error) {
	var row PremiumRow
	var ironflyPremium, ironflyIV, callWing, putWing sql.NullFloat64
	err := sc.Scan(
		&row.Timestamp, &row.Symbol, &row.Expiry, &row.Strike,
		&row.StraddlePremium, &row.StraddleIV, &ironflyPremium, &ironflyIV,
		&row.ATMStrike, &callWing, &putWing,
	)
	if err != nil {
		return nil, err
	}
	row.IronflyPremium = nullableFloat(ironflyPremium)
	row.IronflyIV = nullableFloat(ironflyIV)
	row.CallWing = nullableFloat(callWing)
	row.PutWing = nullableFloat(putWing)
	return &row, nil
}

func nullableFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func (s *SQLiteStore) AppendBidAsk(ctx context.Context, row *BidAskRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bid_ask (timestamp, symbol, expiry, strike, ce_spread, pe_spread, ce_spike, pe_spike)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		row.Timestamp, row.Symbol, row.Expiry, row.Strike,
		row.CESpread, row.PESpread, boolToInt(row.CESpike), boolToInt(row.PESpike),
	)
	if err != nil {
		return fmt.Errorf("append bid-ask: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LatestBidAsk(ctx context.Context, symbol, expiry string, strike float64) (*BidAskRow, error) {
	var row BidAskRow
	var ceSpike, peSpike int
	err := s.db.QueryRowContext(ctx,
		`SELECT timestamp, symbol, expiry, strike, ce_spread, pe_spread, ce_spike, pe_spike
		 FROM bid_ask WHERE symbol = ? AND expiry = ? AND strike = ?
		 ORDER BY timestamp DESC, id DESC LIMIT 1`,
		symbol, expiry, strike,
	).Scan(&row.Timestamp, &row.Symbol, &row.Expiry, &row.Strike,
		&row.CESpread, &row.PESpread, &ceSpike, &peSpike)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest bid-ask: %w", err)
	}
	row.CESpike = ceSpike != 0
	row.PESpike = peSpike != 0
	return &row, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLiteStore) AppendOptionPrice(ctx context.Context, row *OptionPriceRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO option_price (timestamp, symbol, expiry, strike, time_to_expiry, risk_free_rate, ce_iv, pe_iv, ce_market_price, pe_market_price)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.Timestamp, row.Symbol, row.Expiry, row.Strike,
		row.TimeToExpiry, row.RiskFreeRate, row.CEIV, row.PEIV,
		row.CEMarketPrice, row.PEMarketPrice,
	)
	if err != nil {
		return fmt.Errorf("append option price: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LatestOptionPrice(ctx context.Context, symbol, expiry string, strike float64) (*OptionPriceRow, error) {
	var row OptionPriceRow
	err := s.db.QueryRowContext(ctx,
		`SELECT timestamp, symbol, expiry, strike, time_to_expiry, risk_free_rate, ce_iv, pe_iv, ce_market_price, pe_market_price
		 FROM option_price WHERE symbol = ? AND expiry = ? AND strike = ?
		 ORDER BY timestamp DESC, id DESC LIMIT 1`,
		symbol, expiry, strike,
	).Scan(&row.Timestamp, &row.Symbol, &row.Expiry, &row.Strike,
		&row.TimeToExpiry, &row.RiskFreeRate, &row.CEIV, &row.PEIV,
		&row.CEMarketPrice, &row.PEMarketPrice)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest option price: %w", err)
	}
	return &row, nil
}

func (s *SQLiteStore) AppendUnderlying(ctx context.Context, row *UnderlyingRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO underlying_price (timestamp, symbol, underlying_value) VALUES (?, ?, ?)`,
		row.Timestamp, row.Symbol, row.UnderlyingValue,
	)
	if err != nil {
		return fmt.Errorf("append underlying: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LatestUnderlying(ctx context.Context, symbol string) (*UnderlyingRow, error) {
	var row UnderlyingRow
	err := s.db.QueryRowContext(ctx,
		`SELECT timestamp, symbol, underlying_value FROM underlying_price
		 WHERE symbol = ? ORDER BY timestamp DESC, id DESC LIMIT 1`,
		symbol,
	).Scan(&row.Timestamp, &row.Symbol, &row.UnderlyingValue)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest underlying: %w", err)
	}
	return &row, nil
}
