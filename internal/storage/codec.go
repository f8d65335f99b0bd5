package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Veraticus/pinflow/internal/model"
)

// sessionColumns is shared by the SQLite and Postgres session queries.
const sessionColumns = `suid, cid, country, language, step, msisdn, trx_id, trx_expires_at,
	landing_url, campaign, attribution, created_at, updated_at`

// encodeSessionBlobs serializes the nested session documents stored as text columns.
func encodeSessionBlobs(session *model.FunnelSession) (campaign sql.NullString, attribution string, err error) {
	if session.Campaign != nil {
		data, marshalErr := json.Marshal(session.Campaign)
		if marshalErr != nil {
			return campaign, "", fmt.Errorf("failed to encode campaign: %w", marshalErr)
		}
		campaign = sql.NullString{String: string(data), Valid: true}
	}

	data, err := json.Marshal(session.Attribution)
	if err != nil {
		return campaign, "", fmt.Errorf("failed to encode attribution: %w", err)
	}
	return campaign, string(data), nil
}

func decodeSessionBlobs(session *model.FunnelSession, campaign, attribution sql.NullString) error {
	if campaign.Valid && campaign.String != "" {
		var c model.Campaign
		if err := json.Unmarshal([]byte(campaign.String), &c); err != nil {
			return fmt.Errorf("failed to decode campaign: %w", err)
		}
		session.Campaign = &c
	}
	if attribution.Valid && attribution.String != "" {
		if err := json.Unmarshal([]byte(attribution.String), &session.Attribution); err != nil {
			return fmt.Errorf("failed to decode attribution: %w", err)
		}
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// stampSession sets the bookkeeping timestamps before a write.
func stampSession(session *model.FunnelSession, now time.Time) {
	now = now.UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
}
