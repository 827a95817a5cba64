package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/valentinrey/fundingbot/internal/domain"
)

// FundingStore implements domain.FundingStore using PostgreSQL.
type FundingStore struct {
	pool *pgxpool.Pool
}

// NewFundingStore creates a new FundingStore backed by the given connection pool.
func NewFundingStore(pool *pgxpool.Pool) *FundingStore {
	return &FundingStore{pool: pool}
}

const fundingSelectCols = `exchange, symbol, rate, apr, mark_price,
	open_interest, volume_24h, next_funding_at, fetched_at`

func scanFundingRow(row pgx.Row) (domain.FundingRate, error) {
	var r domain.FundingRate
	var nextFunding *time.Time

	err := row.Scan(
		&r.Exchange, &r.Symbol, &r.Rate, &r.APR, &r.MarkPrice,
		&r.OpenInterest, &r.Volume24h, &nextFunding, &r.FetchedAt,
	)
	if err != nil {
		return domain.FundingRate{}, err
	}
	if nextFunding != nil {
		r.NextFundingAt = *nextFunding
	}
	return r, nil
}

func scanFundingRows(rows pgx.Rows) ([]domain.FundingRate, error) {
	var rates []domain.FundingRate
	for rows.Next() {
		r, err := scanFundingRow(rows)
		if err != nil {
			return nil, err
		}
		rates = append(rates, r)
	}
	return rates, rows.Err()
}

// InsertBatch appends a batch of funding samples using a single pgx batch.
func (s *FundingStore) InsertBatch(ctx context.Context, rates []domain.FundingRate) error {
	if len(rates) == 0 {
		return nil
	}

	const query = `
		INSERT INTO funding_rates (
			exchange, symbol, rate, apr, mark_price,
			open_interest, volume_24h, next_funding_at, fetched_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	batch := &pgx.Batch{}
	for _, r := range rates {
		var nextFunding *time.Time
		if !r.NextFundingAt.IsZero() {
			nextFunding = &r.NextFundingAt
		}
		batch.Queue(query,
			r.Exchange, r.Symbol, r.Rate, r.APR, r.MarkPrice,
			r.OpenInterest, r.Volume24h, nextFunding, r.FetchedAt,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range rates {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("postgres: insert funding batch: %w", err)
		}
	}
	return nil
}

// ListBySymbol returns funding samples for a symbol with pagination and
// optional time filtering, newest first.
func (s *FundingStore) ListBySymbol(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.FundingRate, error) {
	query := `SELECT ` + fundingSelectCols + ` FROM funding_rates WHERE symbol = $1`
	args := []any{symbol}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND fetched_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND fetched_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY fetched_at DESC"

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
		return nil, fmt.Errorf("postgres: list funding %s: %w", symbol, err)
	}
	defer rows.Close()

	rates, err := scanFundingRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan funding %s: %w", symbol, err)
	}
	return rates, nil
}

// Latest returns the most recent sample for an exchange/symbol pair.
func (s *FundingStore) Latest(ctx context.Context, exchange, symbol string) (domain.FundingRate, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+fundingSelectCols+` FROM funding_rates
		 WHERE exchange = $1 AND symbol = $2
		 ORDER BY fetched_at DESC LIMIT 1`, exchange, symbol)

	r, err := scanFundingRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.FundingRate{}, domain.ErrNotFound
		}
		return domain.FundingRate{}, fmt.Errorf("postgres: latest funding %s/%s: %w", exchange, symbol, err)
	}
	return r, nil
}

// ListBefore returns samples older than the cutoff, oldest first, for
// archiving. A limit of 0 defaults to 10000 rows per batch.
func (s *FundingStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.FundingRate, error) {
	if limit <= 0 {
		limit = 10000
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+fundingSelectCols+` FROM funding_rates
		 WHERE fetched_at < $1
		 ORDER BY fetched_at ASC LIMIT $2`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list funding before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	rates, err := scanFundingRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan funding before %s: %w", before.Format(time.RFC3339), err)
	}
	return rates, nil
}

// DeleteBefore removes samples older than the cutoff and returns the count.
func (s *FundingStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM funding_rates WHERE fetched_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete funding before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.FundingStore = (*FundingStore)(nil)
