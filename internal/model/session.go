package model

import "time"

// Step is the visible funnel step.
type Step int

// Funnel steps. They only ever advance, except for the restart that follows an
// expired transaction.
const (
	StepCollectNumber Step = 1
	StepAwaitPin      Step = 2
	StepConfirmed     Step = 3
)

// String returns the step name used in logs and API responses.
func (s Step) String() string {
	switch s {
	case StepCollectNumber:
		return "collect_number"
	case StepAwaitPin:
		return "await_pin"
	case StepConfirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

// Valid reports whether s is one of the known steps.
func (s Step) Valid() bool {
	return s >= StepCollectNumber && s <= StepConfirmed
}

// Landing describes the page visit that opened a funnel session.
type Landing struct {
	URL       string
	Referer   string
	UserAgent string
	IP        string
	Language  string
}

// FunnelSession is the persisted state of one funnel visit, keyed by SUID.
type FunnelSession struct {
	CreatedAt    time.Time
	UpdatedAt    time.Time
	TrxExpiresAt time.Time
	Campaign     *Campaign
	SUID         string
	Country      string
	Language     string
	MSISDN       string
	TrxID        string
	LandingURL   string
	Attribution  Attribution
	Step         Step
}

// LiveTransaction returns the stored gateway transaction id if it has not expired.
func (s *FunnelSession) LiveTransaction(now time.Time) (string, bool) {
	if s.TrxID == "" {
		return "", false
	}
	if !s.TrxExpiresAt.IsZero() && now.After(s.TrxExpiresAt) {
		return "", false
	}
	return s.TrxID, true
}

// ClearTransaction discards the transaction slot.
func (s *FunnelSession) ClearTransaction() {
	s.TrxID = ""
	s.TrxExpiresAt = time.Time{}
}

// CampaignID returns the campaign id from the fetched campaign or the landing URL.
func (s *FunnelSession) CampaignID() string {
	if s.Campaign != nil && s.Campaign.CID != "" {
		return s.Campaign.CID
	}
	return s.Attribution.CID
}
