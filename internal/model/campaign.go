// Package model defines the core domain models used throughout the application.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FlexID is an identifier the backend may send either as a JSON string or a number.
type FlexID string

// UnmarshalJSON accepts "123", 123 and null.
func (id *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("invalid id: %w", err)
		}
		*id = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid id: %w", err)
	}
	*id = FlexID(n.String())
	return nil
}

// String returns the identifier as plain text.
func (id FlexID) String() string {
	return string(id)
}

// Campaign is the attribution record the analytics backend returns for a campaign id.
// It is fetched once per funnel session and merged into every tracking payload.
type Campaign struct {
	ID            FlexID  `json:"id"`
	CID           string  `json:"cid"`
	Name          string  `json:"name"`
	CountryCode   string  `json:"country_code"`
	Status        string  `json:"status,omitempty"`
	ServiceID     FlexID  `json:"service_id"`
	ServiceName   string  `json:"service_name,omitempty"`
	GatewayID     FlexID  `json:"gateway_id"`
	GatewayName   string  `json:"gateway_name,omitempty"`
	AffiliateID   FlexID  `json:"affiliate_id"`
	AffiliateName string  `json:"affiliate_name,omitempty"`
	TrafficTypeID FlexID  `json:"traffic_type_id,omitempty"`
	ScenarioName  string  `json:"scenario_name,omitempty"`
	TargetCPA     float64 `json:"target_cpa,omitempty"`
}
