package model

import "time"

// Sale is a confirmed subscription recorded for conversion attribution.
type Sale struct {
	CreatedAt     time.Time
	ExportedAt    *time.Time
	SUID          string
	MSISDN        string
	GCLID         string
	WBRAID        string
	GBRAID        string
	ServiceID     string
	CountryCode   string
	AffiliateName string
	ID            int64
}

// HasClickID reports whether the sale can be attributed to a Google Ads click.
func (s Sale) HasClickID() bool {
	return s.GCLID != "" || s.WBRAID != "" || s.GBRAID != ""
}

// NewSale builds the ledger row for a session that reached confirmation.
func NewSale(s *FunnelSession) Sale {
	sale := Sale{
		SUID:   s.SUID,
		MSISDN: s.MSISDN,
		GCLID:  s.Attribution.GCLID,
		WBRAID: s.Attribution.WBRAID,
		GBRAID: s.Attribution.GBRAID,
	}
	if s.Campaign != nil {
		sale.ServiceID = s.Campaign.ServiceID.String()
		sale.CountryCode = s.Campaign.CountryCode
		sale.AffiliateName = s.Campaign.AffiliateName
	}
	return sale
}
