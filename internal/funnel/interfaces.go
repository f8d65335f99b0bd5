package funnel

import (
	"context"

	"github.com/Veraticus/pinflow/internal/messages"
	"github.com/Veraticus/pinflow/internal/model"
)

// Gateway is the carrier-billing subscription API.
type Gateway interface {
	SendOTP(ctx context.Context, msisdn string) (string, error)
	Subscribe(ctx context.Context, msisdn, pin, trxID string) error
}

// Tracker receives funnel milestones. Implementations must not block the
// funnel on failure; none of these methods report errors.
type Tracker interface {
	InvalidNumber(ctx context.Context, msisdn, reason string)
	ValidNumber(ctx context.Context, msisdn string)
	PinSent(ctx context.Context, msisdn string)
	PinSubmitted(ctx context.Context, msisdn, pin string)
	ValidPin(ctx context.Context, msisdn, pin string)
	InvalidPin(ctx context.Context, msisdn, pin, code string)
	Sale(ctx context.Context, msisdn string)
	FailedSale(ctx context.Context, msisdn, code string)
	LinkTransaction(ctx context.Context, trxID string)
	RecordSale(ctx context.Context, msisdn string)
}

// SessionTracker is a Tracker bound to one funnel session.
type SessionTracker interface {
	Tracker
	Initialize(ctx context.Context)
	Campaign() *model.Campaign
}

// TrackerFactory builds the tracker for a session. campaign is nil for new sessions.
type TrackerFactory func(suid string, landing model.Landing, attribution model.Attribution, campaign *model.Campaign) SessionTracker

// SessionStore persists funnel state and the sale ledger.
type SessionStore interface {
	SaveFunnelSession(ctx context.Context, session *model.FunnelSession) error
	GetFunnelSession(ctx context.Context, suid string) (*model.FunnelSession, error)
	SaveSale(ctx context.Context, sale *model.Sale) error
}

// Translator produces user-facing messages.
type Translator interface {
	Translate(code string, ctx messages.Context, lang string) string
	Message(code string, lang string, vars map[string]string) string
	Match(preferred string) string
}
