package testutil

import (
	"time"

	"github.com/Veraticus/pinflow/internal/model"
)

// SessionBuilder builds funnel sessions for tests.
type SessionBuilder struct {
	session model.FunnelSession
}

// NewSession starts a step-1 Saudi session in English.
func NewSession(suid string) *SessionBuilder {
	return &SessionBuilder{session: model.FunnelSession{
		SUID:     suid,
		Country:  "966",
		Language: "en",
		Step:     model.StepCollectNumber,
	}}
}

// WithCampaign sets the cached campaign.
func (b *SessionBuilder) WithCampaign(c *model.Campaign) *SessionBuilder {
	b.session.Campaign = c
	return b
}

// WithAttribution sets the landing attribution.
func (b *SessionBuilder) WithAttribution(a model.Attribution) *SessionBuilder {
	b.session.Attribution = a
	return b
}

// WithLanguage sets the display language.
func (b *SessionBuilder) WithLanguage(lang string) *SessionBuilder {
	b.session.Language = lang
	return b
}

// AwaitingPin puts the session at step 2 with a transaction valid for ten minutes.
func (b *SessionBuilder) AwaitingPin(msisdn, trxID string) *SessionBuilder {
	b.session.Step = model.StepAwaitPin
	b.session.MSISDN = msisdn
	b.session.TrxID = trxID
	b.session.TrxExpiresAt = time.Now().Add(10 * time.Minute)
	return b
}

// ExpiresAt overrides the transaction expiry.
func (b *SessionBuilder) ExpiresAt(at time.Time) *SessionBuilder {
	b.session.TrxExpiresAt = at
	return b
}

// Build returns a copy of the session.
func (b *SessionBuilder) Build() *model.FunnelSession {
	s := b.session
	return &s
}

// NewSale returns a sale with a Google click id.
func NewSale(suid, gclid string) *model.Sale {
	return &model.Sale{
		SUID:        suid,
		MSISDN:      "966549176434",
		GCLID:       gclid,
		ServiceID:   "42",
		CountryCode: "SA",
		CreatedAt:   time.Now().UTC(),
	}
}
