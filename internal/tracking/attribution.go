package tracking

import (
	"fmt"
	"net/url"

	"github.com/Veraticus/pinflow/internal/model"
)

// first returns the first non-empty value among the given query keys.
func first(q url.Values, keys ...string) string {
	for _, k := range keys {
		if v := q.Get(k); v != "" {
			return v
		}
	}
	return ""
}

// ParseAttribution reads the campaign id and marketing parameters from a landing query.
// Several parameters accept a legacy alias (click_id or clickid, aff_id for affiliate_id, ...).
func ParseAttribution(q url.Values) model.Attribution {
	return model.Attribution{
		CID: q.Get("cid"),
		PID: q.Get("pid"),

		GCLID:     q.Get("gclid"),
		WBRAID:    q.Get("wbraid"),
		GBRAID:    q.Get("gbraid"),
		GadSource: q.Get("gad_source"),

		GadCampaignID: q.Get("gad_campaignid"),
		CampaignID:    q.Get("campaignid"),
		AdGroupID:     q.Get("adgroupid"),
		Creative:      q.Get("creative"),
		Device:        q.Get("device"),
		Keyword:       q.Get("keyword"),

		UTMSource:   q.Get("utm_source"),
		UTMMedium:   q.Get("utm_medium"),
		UTMCampaign: q.Get("utm_campaign"),
		UTMContent:  q.Get("utm_content"),
		UTMTerm:     q.Get("utm_term"),

		ClickID:     first(q, "click_id", "clickid"),
		BinomCID:    first(q, "binom_cid", "binomcid"),
		AffiliateID: first(q, "affiliate_id", "aff_id"),
		AdName:      first(q, "ad_name", "ad"),
		FlowName:    first(q, "flow_name", "flow"),
		SubID:       first(q, "sub_id", "subid"),
		PubID:       first(q, "pubid", "pub_id"),
		OfferID:     first(q, "offer_id", "offerid"),
		Platform:    q.Get("platform"),
		TrafficType: first(q, "traffic_type", "traffictype"),
	}
}

// ParseLandingURL parses a full landing page URL and returns its attribution.
func ParseLandingURL(raw string) (model.Attribution, error) {
	if raw == "" {
		return model.Attribution{}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return model.Attribution{}, fmt.Errorf("invalid landing url: %w", err)
	}
	return ParseAttribution(u.Query()), nil
}
