package tracking

import (
	"context"
	"sync"

	"github.com/Veraticus/pinflow/internal/common"
	"github.com/Veraticus/pinflow/internal/model"
)

// Tracker reports the milestones of one funnel session.
type Tracker struct {
	svc         *Service
	campaign    *model.Campaign
	landing     model.Landing
	attribution model.Attribution
	suid        string
	mu          sync.RWMutex
}

// SUID returns the session id.
func (t *Tracker) SUID() string {
	return t.suid
}

// Campaign returns the campaign attached to the session, if any.
func (t *Tracker) Campaign() *model.Campaign {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.campaign
}

// Initialize looks up the campaign when not already known, creates the
// analytics session and records the impression.
func (t *Tracker) Initialize(ctx context.Context) {
	if t.Campaign() == nil && t.attribution.CID != "" {
		t.loadCampaign(ctx)
	}
	t.createSession(ctx)
	t.Emit(ctx, Impression{})
}

func (t *Tracker) loadCampaign(ctx context.Context) {
	cid := t.attribution.CID
	if campaign, ok := t.svc.cache.get(cid); ok {
		t.setCampaign(campaign)
		return
	}

	ctx, cancel := t.callContext(ctx)
	defer cancel()

	campaign, err := t.svc.backend.GetCampaign(ctx, cid)
	if err != nil {
		t.svc.logger.Warn("Campaign lookup failed", "suid", t.suid, "cid", cid, "error", err)
		return
	}
	t.svc.cache.set(cid, campaign)
	t.setCampaign(campaign)
}

func (t *Tracker) setCampaign(c *model.Campaign) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.campaign = c
}

func (t *Tracker) cid() string {
	if c := t.Campaign(); c != nil && c.CID != "" {
		return c.CID
	}
	return t.attribution.CID
}

func (t *Tracker) sessionPayload() *SessionPayload {
	a := t.attribution
	p := &SessionPayload{
		SUID:           t.suid,
		IP:             t.landing.IP,
		UserAgent:      t.landing.UserAgent,
		CID:            t.cid(),
		LandingPageURL: t.landing.URL,
		Referer:        t.landing.Referer,
		AffiliateID:    a.AffiliateID,
		ClickID:        a.ClickID,
		BinomCID:       a.BinomCID,
		GCLID:          a.GCLID,
		WBRAID:         a.WBRAID,
		GBRAID:         a.GBRAID,
		CampaignID:     a.CampaignID,
		AdGroupID:      a.AdGroupID,
		Creative:       a.Creative,
		Device:         a.Device,
		Keyword:        a.Keyword,
		UTMSource:      a.UTMSource,
		UTMMedium:      a.UTMMedium,
		UTMCampaign:    a.UTMCampaign,
		UTMContent:     a.UTMContent,
		UTMTerm:        a.UTMTerm,
		Platform:       a.Platform,
		TrafficType:    a.TrafficType,
		AdName:         a.AdName,
		PubID:          a.PubID,
		SubID:          a.SubID,
		OfferID:        a.OfferID,
	}
	if p.IP == "" {
		p.IP = "unknown"
	}
	if p.Platform == "" {
		p.Platform = "web"
	}
	if c := t.Campaign(); c != nil {
		p.ServiceID = c.ServiceID.String()
		p.ServiceName = c.ServiceName
		p.CountryCode = c.CountryCode
		p.Gateway = c.GatewayName
		// The landing URL's affiliate wins over the campaign default.
		if p.AffiliateID == "" {
			p.AffiliateID = c.AffiliateID.String()
		}
	}
	return p
}

func (t *Tracker) createSession(ctx context.Context) {
	ctx, cancel := t.callContext(ctx)
	defer cancel()

	if err := t.svc.backend.CreateSession(ctx, t.sessionPayload()); err != nil {
		t.svc.logger.Warn("Session create failed", "suid", t.suid, "error", err)
	}
}

// Emit sends one event to the backend and every sink.
func (t *Tracker) Emit(ctx context.Context, ev Event) {
	payload, err := encodeEvent(t.suid, t.Campaign(), t.cid(), ev, t.svc.now())
	if err != nil {
		t.svc.logger.Error("Dropping event", "suid", t.suid, "error", err)
		return
	}

	ctx, cancel := t.callContext(ctx)
	defer cancel()

	if err := t.svc.backend.SendEvent(ctx, payload); err != nil {
		t.svc.logger.Warn("Event delivery failed",
			"suid", t.suid,
			"event_type", payload.EventType,
			"error", err)
	}
	for _, sink := range t.svc.sinks {
		if err := sink.Publish(ctx, payload); err != nil {
			t.svc.logger.Warn("Event mirror failed",
				"suid", t.suid,
				"event_type", payload.EventType,
				"error", err)
		}
	}
}

func (t *Tracker) updateSession(ctx context.Context, update *SessionUpdate) {
	update.SUID = t.suid

	ctx, cancel := t.callContext(ctx)
	defer cancel()

	if err := t.svc.backend.UpdateSession(ctx, update); err != nil {
		t.svc.logger.Warn("Session update failed", "suid", t.suid, "error", err)
	}
}

// InvalidNumber records a rejected number with its validation reason or gateway code.
func (t *Tracker) InvalidNumber(ctx context.Context, msisdn, reason string) {
	t.Emit(ctx, InvalidNumber{MSISDN: msisdn, Reason: reason})
}

// ValidNumber records a number the gateway accepted.
func (t *Tracker) ValidNumber(ctx context.Context, msisdn string) {
	t.Emit(ctx, ValidNumber{MSISDN: msisdn})
}

// PinSent records an OTP send.
func (t *Tracker) PinSent(ctx context.Context, msisdn string) {
	t.Emit(ctx, PinSent{MSISDN: msisdn})
}

// PinSubmitted records a PIN entry before verification.
func (t *Tracker) PinSubmitted(ctx context.Context, msisdn, pin string) {
	t.Emit(ctx, PinSubmitted{MSISDN: msisdn, PIN: pin})
}

// ValidPin records a confirmed PIN.
func (t *Tracker) ValidPin(ctx context.Context, msisdn, pin string) {
	t.Emit(ctx, ValidPin{MSISDN: msisdn, PIN: pin})
}

// InvalidPin records a rejected PIN with the gateway code.
func (t *Tracker) InvalidPin(ctx context.Context, msisdn, pin, code string) {
	t.Emit(ctx, InvalidPin{MSISDN: msisdn, PIN: pin, Reason: code})
}

// Sale records the sale event and flags the session as sold.
func (t *Tracker) Sale(ctx context.Context, msisdn string) {
	t.Emit(ctx, Sale{MSISDN: msisdn})
	sold := true
	t.updateSession(ctx, &SessionUpdate{Sale: &sold})
}

// FailedSale records a refused subscription and flags the session.
func (t *Tracker) FailedSale(ctx context.Context, msisdn, code string) {
	t.Emit(ctx, FailedSale{MSISDN: msisdn, Reason: code})
	failed := true
	t.updateSession(ctx, &SessionUpdate{FailedSale: &failed})
}

// LinkTransaction stores the gateway transaction id on the analytics session.
func (t *Tracker) LinkTransaction(ctx context.Context, trxID string) {
	if trxID == "" {
		return
	}
	t.updateSession(ctx, &SessionUpdate{PubID: trxID})
}

// RecordSale reports the sale with its Google click ids for conversion attribution.
func (t *Tracker) RecordSale(ctx context.Context, msisdn string) {
	payload := &SalePayload{
		SUID:   t.suid,
		MSISDN: msisdn,
		GCLID:  t.attribution.GCLID,
		WBRAID: t.attribution.WBRAID,
		GBRAID: t.attribution.GBRAID,
	}
	if c := t.Campaign(); c != nil {
		payload.ServiceID = c.ServiceID.String()
		payload.CountryCode = c.CountryCode
		payload.AffiliateName = c.AffiliateName
	}

	ctx, cancel := t.callContext(ctx)
	defer cancel()

	if err := t.svc.backend.RecordSale(ctx, payload); err != nil {
		t.svc.logger.Warn("Sale record failed",
			"suid", t.suid,
			"msisdn", common.MaskMSISDN(msisdn),
			"error", err)
	}
}

// callContext detaches from the caller's cancellation and bounds the call.
func (t *Tracker) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), t.svc.callTimeout)
}
