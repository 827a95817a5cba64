package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/valentinrey/fundingbot/internal/domain"
)

// ArbPositionStore implements domain.ArbPositionStore using PostgreSQL.
type ArbPositionStore struct {
	pool *pgxpool.Pool
}

// NewArbPositionStore creates a new ArbPositionStore backed by the given
// connection pool.
func NewArbPositionStore(pool *pgxpool.Pool) *ArbPositionStore {
	return &ArbPositionStore{pool: pool}
}

const positionSelectCols = `id, symbol, long_exchange, short_exchange,
	collateral_usd, notional_usd, leverage, entry_apr, current_apr,
	funding_received_usd, pnl_usd, status, close_reason, opened_at, closed_at`

func scanPositionRow(row pgx.Row) (domain.ArbPosition, error) {
	var p domain.ArbPosition
	var status string
	var closeReason *string

	err := row.Scan(
		&p.ID, &p.Symbol, &p.LongExchange, &p.ShortExchange,
		&p.CollateralUSD, &p.NotionalUSD, &p.Leverage,
		&p.EntryAPR, &p.CurrentAPR,
		&p.FundingReceivedUSD, &p.PnLUSD,
		&status, &closeReason, &p.OpenedAt, &p.ClosedAt,
	)
	if err != nil {
		return domain.ArbPosition{}, err
	}
	p.Status = domain.PositionStatus(status)
	if closeReason != nil {
		p.CloseReason = domain.CloseReason(*closeReason)
	}
	return p, nil
}

func scanPositionRows(rows pgx.Rows) ([]domain.ArbPosition, error) {
	var positions []domain.ArbPosition
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func closeReasonArg(r domain.CloseReason) *string {
	if r == "" {
		return nil
	}
	s := string(r)
	return &s
}

// Create inserts a new position. The partial unique index on open symbols
// rejects a second open position for the same symbol.
func (s *ArbPositionStore) Create(ctx context.Context, p domain.ArbPosition) error {
	const query = `
		INSERT INTO arb_positions (
			id, symbol, long_exchange, short_exchange,
			collateral_usd, notional_usd, leverage, entry_apr, current_apr,
			funding_received_usd, pnl_usd, status, close_reason,
			opened_at, closed_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9,
			$10, $11, $12, $13,
			$14, $15, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Symbol, p.LongExchange, p.ShortExchange,
		p.CollateralUSD, p.NotionalUSD, p.Leverage, p.EntryAPR, p.CurrentAPR,
		p.FundingReceivedUSD, p.PnLUSD, string(p.Status), closeReasonArg(p.CloseReason),
		p.OpenedAt, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// Update replaces all mutable fields of a position.
func (s *ArbPositionStore) Update(ctx context.Context, p domain.ArbPosition) error {
	const query = `
		UPDATE arb_positions SET
			collateral_usd       = $2,
			notional_usd         = $3,
			leverage             = $4,
			entry_apr            = $5,
			current_apr          = $6,
			funding_received_usd = $7,
			pnl_usd              = $8,
			status               = $9,
			close_reason         = $10,
			closed_at            = $11,
			updated_at           = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		p.ID, p.CollateralUSD, p.NotionalUSD, p.Leverage,
		p.EntryAPR, p.CurrentAPR, p.FundingReceivedUSD, p.PnLUSD,
		string(p.Status), closeReasonArg(p.CloseReason), p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Close marks a position as closed with the given reason and final PnL.
// pnlUSD is a decimal string to keep the interface free of driver types.
func (s *ArbPositionStore) Close(ctx context.Context, id string, reason domain.CloseReason, pnlUSD string) error {
	pnl, err := decimal.NewFromString(pnlUSD)
	if err != nil {
		return fmt.Errorf("postgres: close position %s: parse pnl %q: %w", id, pnlUSD, err)
	}

	const query = `
		UPDATE arb_positions SET
			status       = 'closed',
			close_reason = $2,
			pnl_usd      = $3,
			closed_at    = NOW(),
			updated_at   = NOW()
		WHERE id = $1 AND status = 'open'`

	tag, err := s.pool.Exec(ctx, query, id, string(reason), pnl)
	if err != nil {
		return fmt.Errorf("postgres: close position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a single position by its ID.
func (s *ArbPositionStore) GetByID(ctx context.Context, id string) (domain.ArbPosition, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM arb_positions WHERE id = $1`, id)

	p, err := scanPositionRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.ArbPosition{}, domain.ErrNotFound
		}
		return domain.ArbPosition{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// GetOpen returns all open positions, newest first.
func (s *ArbPositionStore) GetOpen(ctx context.Context) ([]domain.ArbPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM arb_positions
		 WHERE status = 'open'
		 ORDER BY opened_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: get open positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

// GetOpenBySymbol returns the open position for a symbol, or ErrNotFound.
func (s *ArbPositionStore) GetOpenBySymbol(ctx context.Context, symbol string) (domain.ArbPosition, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM arb_positions
		 WHERE symbol = $1 AND status = 'open'`, symbol)

	p, err := scanPositionRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.ArbPosition{}, domain.ErrNotFound
		}
		return domain.ArbPosition{}, fmt.Errorf("postgres: get open position %s: %w", symbol, err)
	}
	return p, nil
}

// ListHistory returns positions with pagination and optional time filtering.
func (s *ArbPositionStore) ListHistory(ctx context.Context, opts domain.ListOpts) ([]domain.ArbPosition, error) {
	query := `SELECT ` + positionSelectCols + ` FROM arb_positions WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND opened_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND opened_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY opened_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list position history: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan position history: %w", err)
	}
	return positions, nil
}

// SummarizeDay aggregates a UTC day of activity for the daily summary alert.
func (s *ArbPositionStore) SummarizeDay(ctx context.Context, day time.Time) (domain.DailySummary, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	summary := domain.DailySummary{Date: dayStart.Format("2006-01-02")}

	const aggQuery = `
		SELECT
			COUNT(*) FILTER (WHERE opened_at >= $1 AND opened_at < $2),
			COUNT(*) FILTER (WHERE closed_at >= $1 AND closed_at < $2),
			COALESCE(SUM(funding_received_usd) FILTER (WHERE closed_at >= $1 AND closed_at < $2), 0),
			COALESCE(SUM(pnl_usd) FILTER (WHERE closed_at >= $1 AND closed_at < $2), 0)
		FROM arb_positions`

	var funding, pnl decimal.Decimal
	err := s.pool.QueryRow(ctx, aggQuery, dayStart, dayEnd).Scan(
		&summary.PositionsOpened, &summary.PositionsClosed, &funding, &pnl,
	)
	if err != nil {
		return domain.DailySummary{}, fmt.Errorf("postgres: summarize day %s: %w", summary.Date, err)
	}
	summary.FundingReceivedUSD, _ = funding.Float64()
	summary.RealizedPnLUSD, _ = pnl.Float64()

	const bestQuery = `
		SELECT symbol, entry_apr FROM arb_positions
		WHERE opened_at >= $1 AND opened_at < $2
		ORDER BY entry_apr DESC LIMIT 1`

	err = s.pool.QueryRow(ctx, bestQuery, dayStart, dayEnd).Scan(
		&summary.BestSymbol, &summary.BestSymbolAPR,
	)
	if err != nil && err != pgx.ErrNoRows {
		return domain.DailySummary{}, fmt.Errorf("postgres: summarize day best %s: %w", summary.Date, err)
	}

	return summary, nil
}

// Compile-time interface check.
var _ domain.ArbPositionStore = (*ArbPositionStore)(nil)
