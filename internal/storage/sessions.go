package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/pinflow/internal/common"
	"github.com/Veraticus/pinflow/internal/model"
)

// SaveFunnelSession inserts or replaces the persisted state of a funnel session.
func (s *SQLiteStorage) SaveFunnelSession(ctx context.Context, session *model.FunnelSession) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateSession(session); err != nil {
		return err
	}
	return s.saveFunnelSessionTx(ctx, s.db, session)
}

func (s *SQLiteStorage) saveFunnelSessionTx(ctx context.Context, q queryable, session *model.FunnelSession) error {
	campaign, attribution, err := encodeSessionBlobs(session)
	if err != nil {
		return err
	}
	stampSession(session, time.Now())

	_, err = q.ExecContext(ctx, `
		INSERT INTO funnel_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(suid) DO UPDATE SET
			cid = excluded.cid,
			country = excluded.country,
			language = excluded.language,
			step = excluded.step,
			msisdn = excluded.msisdn,
			trx_id = excluded.trx_id,
			trx_expires_at = excluded.trx_expires_at,
			landing_url = excluded.landing_url,
			campaign = excluded.campaign,
			attribution = excluded.attribution,
			updated_at = excluded.updated_at
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
// It returns common.ErrNotFound when no session exists.
func (s *SQLiteStorage) GetFunnelSession(ctx context.Context, suid string) (*model.FunnelSession, error) {
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
		trxExpires  sql.NullTime
		campaign    sql.NullString
		attribution sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM funnel_sessions
		WHERE suid = ?
	`, suid).Scan(
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
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("funnel session %s: %w", suid, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get funnel session: %w", err)
	}

	session.Step = model.Step(step)
	if trxExpires.Valid {
		session.TrxExpiresAt = trxExpires.Time
	}
	if err := decodeSessionBlobs(&session, campaign, attribution); err != nil {
		return nil, err
	}
	if session.Attribution.CID == "" {
		session.Attribution.CID = cid
	}

	return &session, nil
}

// DeleteFunnelSessionsBefore removes sessions idle since before cutoff.
func (s *SQLiteStorage) DeleteFunnelSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM funnel_sessions WHERE updated_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete funnel sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted sessions: %w", err)
	}
	return n, nil
}
