package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/avdev/alert_relay/internal/domain"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the storage collaborator owning the trade ledger.
// The ledger is append/transition-only: inserts and guarded status updates,
// never deletes.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			signal TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL DEFAULT '',
			entry_price REAL NOT NULL DEFAULT 0,
			size REAL NOT NULL DEFAULT 0,
			size_usd REAL NOT NULL DEFAULT 0,
			leverage INTEGER NOT NULL DEFAULT 0,
			margin REAL NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			response TEXT NOT NULL DEFAULT '',
			exit_price REAL,
			realized_pnl REAL,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const tradeColumns = `id, signal, symbol, side, entry_price, size, size_usd, leverage, margin, status, response, exit_price, realized_pnl, created_at`

func (s *SQLiteStore) AppendTrade(ctx context.Context, t *domain.TradeRecord) error {
	query := `INSERT INTO trades (` + tradeColumns + `)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		t.ID, t.Signal, t.Symbol, t.Side, t.EntryPrice, t.Size, t.SizeUSD,
		t.Leverage, t.Margin, t.Status, t.Response,
		nullableFloat(t.ExitPrice), nullableFloat(t.RealizedPnL), t.CreatedAt)
	return err
}

// TransitionTrade moves a trade out of an open status. The WHERE clause is
// the idempotency guard: a record already in a terminal status matches no
// row and the caller gets ErrTradeFinal, so concurrent close paths converge.
func (s *SQLiteStore) TransitionTrade(ctx context.Context, id string, status domain.TradeStatus, fields domain.TransitionFields) error {
	query := `UPDATE trades SET
				status = ?,
				response = CASE WHEN ? != '' THEN ? ELSE response END,
				exit_price = COALESCE(?, exit_price),
				realized_pnl = COALESCE(?, realized_pnl)
			  WHERE id = ? AND status IN (?, ?)`
	res, err := s.db.ExecContext(ctx, query,
		status, fields.Response, fields.Response,
		nullableFloat(fields.ExitPrice), nullableFloat(fields.RealizedPnL),
		id, domain.StatusReceived, domain.StatusPlaced)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	// No open row matched: either the trade is unknown or already final.
	if _, err := s.GetTrade(ctx, id); err != nil {
		return err
	}
	return domain.ErrTradeFinal
}

func (s *SQLiteStore) GetTrade(ctx context.Context, id string) (*domain.TradeRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE id = ?`, id)

	t, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTradeNotFound
	}
	return t, err
}

func (s *SQLiteStore) ListTrades(ctx context.Context) ([]*domain.TradeRecord, error) {
	return s.queryTrades(ctx,
		`SELECT `+tradeColumns+` FROM trades ORDER BY created_at DESC, id DESC`)
}

func (s *SQLiteStore) ListOpenTrades(ctx context.Context) ([]*domain.TradeRecord, error) {
	return s.queryTrades(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE status IN (?, ?) ORDER BY created_at ASC, id ASC`,
		domain.StatusReceived, domain.StatusPlaced)
}

func (s *SQLiteStore) queryTrades(ctx context.Context, query string, args ...any) ([]*domain.TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*domain.TradeRecord
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTrade(row scannable) (*domain.TradeRecord, error) {
	var (
		t           domain.TradeRecord
		exitPrice   sql.NullFloat64
		realizedPnL sql.NullFloat64
	)
	err := row.Scan(&t.ID, &t.Signal, &t.Symbol, &t.Side, &t.EntryPrice,
		&t.Size, &t.SizeUSD, &t.Leverage, &t.Margin, &t.Status, &t.Response,
		&exitPrice, &realizedPnL, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	if exitPrice.Valid {
		t.ExitPrice = &exitPrice.Float64
	}
	if realizedPnL.Valid {
		t.RealizedPnL = &realizedPnL.Float64
	}
	return &t, nil
}

func nullableFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
