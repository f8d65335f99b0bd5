package model

// Attribution holds the marketing parameters captured from the landing URL.
// Every field is optional; empty strings are omitted on the wire.
type Attribution struct {
	CID string `json:"cid,omitempty"`
	PID string `json:"pid,omitempty"`

	// Google click identifiers. iOS traffic carries wbraid/gbraid instead of gclid.
	GCLID     string `json:"gclid,omitempty"`
	WBRAID    string `json:"wbraid,omitempty"`
	GBRAID    string `json:"gbraid,omitempty"`
	GadSource string `json:"gad_source,omitempty"`

	GadCampaignID string `json:"gad_campaignid,omitempty"`
	CampaignID    string `json:"campaignid,omitempty"`
	AdGroupID     string `json:"adgroupid,omitempty"`
	Creative      string `json:"creative,omitempty"`
	Device        string `json:"device,omitempty"`
	Keyword       string `json:"keyword,omitempty"`

	UTMSource   string `json:"utm_source,omitempty"`
	UTMMedium   string `json:"utm_medium,omitempty"`
	UTMCampaign string `json:"utm_campaign,omitempty"`
	UTMContent  string `json:"utm_content,omitempty"`
	UTMTerm     string `json:"utm_term,omitempty"`

	ClickID     string `json:"click_id,omitempty"`
	BinomCID    string `json:"binom_cid,omitempty"`
	AffiliateID string `json:"affiliate_id,omitempty"`
	AdName      string `json:"ad_name,omitempty"`
	FlowName    string `json:"flow_name,omitempty"`
	SubID       string `json:"sub_id,omitempty"`
	PubID       string `json:"pubid,omitempty"`
	OfferID     string `json:"offer_id,omitempty"`
	Platform    string `json:"platform,omitempty"`
	TrafficType string `json:"traffic_type,omitempty"`
}

// HasClickID reports whether any Google Ads click identifier was captured.
func (a Attribution) HasClickID() bool {
	return a.GCLID != "" || a.WBRAID != "" || a.GBRAID != ""
}
