package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Veraticus/pinflow/internal/common"
	"github.com/Veraticus/pinflow/internal/model"
	"github.com/Veraticus/pinflow/internal/service"
)

var _ service.Storage = (*PostgresStorage)(nil)

// postgresMigrations mirrors the SQLite schema. Index i holds version i+1.
var postgresMigrations = [][]string{
	{`CREATE TABLE IF NOT EXISTS funnel_sessions (
		suid TEXT PRIMARY KEY,
		cid TEXT NOT NULL DEFAULT '',
		country TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT '',
		step INTEGER NOT NULL DEFAULT 1,
		msisdn TEXT NOT NULL DEFAULT '',
		trx_id TEXT NOT NULL DEFAULT '',
		trx_expires_at TIMESTAMPTZ,
		landing_url TEXT NOT NULL DEFAULT '',
		campaign TEXT,
		attribution TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
		`CREATE INDEX IF NOT EXISTS idx_funnel_sessions_updated ON funnel_sessions(updated_at)`},
	{`CREATE TABLE IF NOT EXISTS sales (
		id BIGSERIAL PRIMARY KEY,
		suid TEXT NOT NULL UNIQUE,
		msisdn TEXT NOT NULL,
		gclid TEXT NOT NULL DEFAULT '',
		wbraid TEXT NOT NULL DEFAULT '',
		gbraid TEXT NOT NULL DEFAULT '',
		service_id TEXT NOT NULL DEFAULT '',
		country_code TEXT NOT NULL DEFAULT '',
		affiliate_name TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		exported_at TIMESTAMPTZ
	)`},
	{`CREATE INDEX IF NOT EXISTS idx_sales_exported ON sales(exported_at, created_at)`},
}

// PostgresStorage implements the Storage interface on a pgx connection pool.
// It lets several pinflow instances share funnel state.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage connects to Postgres using a libpq-style connection string or URL.
func NewPostgresStorage(ctx context.Context, connString string) (*PostgresStorage, error) {
	if err := validateString(connString, "connString"); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &PostgresStorage{pool: pool}, nil
}

// Close releases the pool.
func (p *PostgresStorage) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}

// Migrate applies pending schema versions tracked in pinflow_schema.
func (p *PostgresStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	if _, err := p.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS pinflow_schema (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("failed to create schema table: %w", err)
	}

	var current int
	err := p.pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM pinflow_schema`).Scan(&current)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for i, statements := range postgresMigrations {
		version := i + 1
		if version <= current {
			continue
		}

		tx, err := p.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		for _, stmt := range statements {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				_ = tx.Rollback(ctx)
				return fmt.Errorf("migration %d failed: %w", version, err)
			}
		}
		if _, err := tx.Exec(ctx, `INSERT INTO pinflow_schema (version) VALUES ($1)`, version); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("failed to update schema version: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", version, err)
		}

		slog.Info("Applied migration", "version", version, "driver", "postgres")
	}

	if len(postgresMigrations) != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, len(postgresMigrations))
	}
	return nil
}

// SaveFunnelSession inserts or replaces the persisted state of a funnel session.
func (p *PostgresStorage) SaveFunnelSession(ctx context.Context, session *model.FunnelSession) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateSession(session); err != nil {
		return err
	}

	campaign, attribution, err := encodeSessionBlobs(session)
	if err != nil {
		return err
	}
	stampSession(session, time.Now())

	_, err = p.pool.Exec(ctx, `
		INSERT INTO funnel_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (suid) DO UPDATE SET
			cid = EXCLUDED.cid,
			country = EXCLUDED.country,
			language = EXCLUDED.language,
			step = EXCLUDED.step,
			msisdn = EXCLUDED.msisdn,
			trx_id = EXCLUDED.trx_id,
			trx_expires_at = EXCLUDED.trx_expires_at,
			landing_url = EXCLUDED.landing_url,
			campaign = EXCLUDED.campaign,
			attribution = EXCLUDED.attribution,
			updated_at = EXCLUDED.updated_at
	`,
		session.SUID,
		session.CampaignID(),
		session.Country,
		session.Language,
		int(session.Step),
		session.MSISDN,
		session.TrxID,
		nullTime(session.TrxExpiresAt),
		session.LandingURL,
		campaign,
		attribution,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save funnel session: %w", err)
	}
	return nil
}

// GetFunnelSession loads a funnel session by SUID.
func (p *PostgresStorage) GetFunnelSession(ctx context.Context, suid string) (*model.FunnelSession, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(suid, "suid"); err != nil {
		return nil, err
	}

	var (
		session     model.FunnelSession
		cid         string
		step        int
		trxExpires  *time.Time
		campaign    *string
		attribution *string
	)
	err := p.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM funnel_sessions WHERE suid = $1`, suid).Scan(
		&session.SUID,
		&cid,
		&session.Country,
		&session.Language,
		&step,
		&session.MSISDN,
		&session.TrxID,
		&trxExpires,
		&session.LandingURL,
		&campaign,
		&attribution,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("funnel session %s: %w", suid, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get funnel session: %w", err)
	}

	session.Step = model.Step(step)
	if trxExpires != nil {
		session.TrxExpiresAt = *trxExpires
	}
	if err := decodeSessionBlobs(&session, optionalString(campaign), optionalString(attribution)); err != nil {
		return nil, err
	}
	if session.Attribution.CID == "" {
		session.Attribution.CID = cid
	}
	return &session, nil
}

// DeleteFunnelSessionsBefore removes sessions idle since before cutoff.
func (p *PostgresStorage) DeleteFunnelSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	tag, err := p.pool.Exec(ctx, `DELETE FROM funnel_sessions WHERE updated_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete funnel sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SaveSale appends a confirmed sale to the ledger.
func (p *PostgresStorage) SaveSale(ctx context.Context, sale *model.Sale) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateSale(sale); err != nil {
		return err
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	err := p.pool.QueryRow(ctx, `
		INSERT INTO sales (suid, msisdn, gclid, wbraid, gbraid, service_id, country_code, affiliate_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (suid) DO NOTHING
		RETURNING id
	`,
		sale.SUID,
		sale.MSISDN,
		sale.GCLID,
		sale.WBRAID,
		sale.GBRAID,
		sale.ServiceID,
		sale.CountryCode,
		sale.AffiliateName,
		sale.CreatedAt,
	).Scan(&sale.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("sale for %s: %w", sale.SUID, common.ErrDuplicateEntry)
	}
	if err != nil {
		return fmt.Errorf("failed to save sale: %w", err)
	}
	return nil
}

// GetUnexportedSales returns unexported sales carrying a Google click id, oldest first.
func (p *PostgresStorage) GetUnexportedSales(ctx context.Context, limit int) ([]model.Sale, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT id, suid, msisdn, gclid, wbraid, gbraid, service_id, country_code, affiliate_name, created_at
		FROM sales
		WHERE exported_at IS NULL
		  AND (gclid <> '' OR wbraid <> '' OR gbraid <> '')
		ORDER BY created_at, id
	`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query unexported sales: %w", err)
	}
	defer rows.Close()

	var sales []model.Sale
	for rows.Next() {
		var sale model.Sale
		if err := rows.Scan(
			&sale.ID,
			&sale.SUID,
			&sale.MSISDN,
			&sale.GCLID,
			&sale.WBRAID,
			&sale.GBRAID,
			&sale.ServiceID,
			&sale.CountryCode,
			&sale.AffiliateName,
			&sale.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sale: %w", err)
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sales: %w", err)
	}
	return sales, nil
}

// MarkSalesExported stamps the given sales as exported.
func (p *PostgresStorage) MarkSalesExported(ctx context.Context, ids []int64, exportedAt time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if len(ids) == 0 {
		return fmt.Errorf("%w: ids", ErrEmptySlice)
	}

	_, err := p.pool.Exec(ctx, `UPDATE sales SET exported_at = $1 WHERE id = ANY($2)`, exportedAt.UTC(), ids)
	if err != nil {
		return fmt.Errorf("failed to mark sales exported: %w", err)
	}
	return nil
}

func optionalString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
