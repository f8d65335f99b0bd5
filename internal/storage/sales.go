package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Veraticus/pinflow/internal/common"
	"github.com/Veraticus/pinflow/internal/model"
)

// SaveSale appends a confirmed sale to the ledger.
// A second sale for the same SUID is rejected with common.ErrDuplicateEntry.
func (s *SQLiteStorage) SaveSale(ctx context.Context, sale *model.Sale) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateSale(sale); err != nil {
		return err
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO sales (suid, msisdn, gclid, wbraid, gbraid, service_id, country_code, affiliate_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(suid) DO NOTHING
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
	)
	if err != nil {
		return fmt.Errorf("failed to save sale: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check sale insert: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("sale for %s: %w", sale.SUID, common.ErrDuplicateEntry)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get sale id: %w", err)
	}
	sale.ID = id
	return nil
}

// GetUnexportedSales returns sales carrying a Google click id that have not been exported yet,
// oldest first. A limit of zero or less returns all of them.
func (s *SQLiteStorage) GetUnexportedSales(ctx context.Context, limit int) ([]model.Sale, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT id, suid, msisdn, gclid, wbraid, gbraid, service_id, country_code, affiliate_name, created_at
		FROM sales
		WHERE exported_at IS NULL
		  AND (gclid != '' OR wbraid != '' OR gbraid != '')
		ORDER BY created_at, id
	`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query unexported sales: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanSales(rows)
}

func scanSales(rows *sql.Rows) ([]model.Sale, error) {
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

// MarkSalesExported stamps the given sales as exported in a single transaction.
func (s *SQLiteStorage) MarkSalesExported(ctx context.Context, ids []int64, exportedAt time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if len(ids) == 0 {
		return fmt.Errorf("%w: ids", ErrEmptySlice)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `UPDATE sales SET exported_at = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare export update: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, exportedAt.UTC(), id); err != nil {
			return fmt.Errorf("failed to mark sale %d exported: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit export update: %w", err)
	}
	return nil
}
