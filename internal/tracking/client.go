package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Veraticus/pinflow/internal/common"
	"github.com/Veraticus/pinflow/internal/model"
)

// ErrNoCampaignID is returned when a campaign lookup is attempted without an id.
var ErrNoCampaignID = errors.New("no campaign id")

// Endpoints are the backend paths relative to the base URL.
type Endpoints struct {
	Campaign      string `mapstructure:"campaign"`
	Session       string `mapstructure:"session"`
	SessionUpdate string `mapstructure:"session_update"`
	Event         string `mapstructure:"event"`
	Sale          string `mapstructure:"sale"`
}

// DefaultEndpoints are the short paths the backend serves.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Campaign:      "/campaign/{cid}",
		Session:       "/s",
		SessionUpdate: "/u",
		Event:         "/e",
		Sale:          "/c",
	}
}

func (e Endpoints) withDefaults() Endpoints {
	d := DefaultEndpoints()
	if e.Campaign == "" {
		e.Campaign = d.Campaign
	}
	if e.Session == "" {
		e.Session = d.Session
	}
	if e.SessionUpdate == "" {
		e.SessionUpdate = d.SessionUpdate
	}
	if e.Event == "" {
		e.Event = d.Event
	}
	if e.Sale == "" {
		e.Sale = d.Sale
	}
	return e
}

// Config holds analytics backend settings.
type Config struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	Endpoints Endpoints     `mapstructure:"endpoints"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// SessionPayload is the body of a session create request.
type SessionPayload struct {
	SUID        string `json:"suid"`
	IP          string `json:"ip"`
	UserAgent   string `json:"userAgent"`
	CID         string `json:"cid,omitempty"`
	ServiceID   string `json:"service_id,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
	Gateway     string `json:"gateway,omitempty"`

	LandingPageURL string `json:"landing_page_url,omitempty"`
	Referer        string `json:"referer,omitempty"`

	AffiliateID string `json:"affiliate_id,omitempty"`
	ClickID     string `json:"click_id,omitempty"`
	BinomCID    string `json:"binom_cid,omitempty"`

	GCLID  string `json:"gclid,omitempty"`
	WBRAID string `json:"wbraid,omitempty"`
	GBRAID string `json:"gbraid,omitempty"`

	CampaignID string `json:"campaignid,omitempty"`
	AdGroupID  string `json:"adgroupid,omitempty"`
	Creative   string `json:"creative,omitempty"`
	Device     string `json:"device,omitempty"`
	Keyword    string `json:"keyword,omitempty"`

	UTMSource   string `json:"utm_source,omitempty"`
	UTMMedium   string `json:"utm_medium,omitempty"`
	UTMCampaign string `json:"utm_campaign,omitempty"`
	UTMContent  string `json:"utm_content,omitempty"`
	UTMTerm     string `json:"utm_term,omitempty"`

	Platform    string `json:"platform,omitempty"`
	TrafficType string `json:"traffic_type,omitempty"`
	AdName      string `json:"ad_name,omitempty"`
	PubID       string `json:"pubid,omitempty"`
	SubID       string `json:"sub_id,omitempty"`
	OfferID     string `json:"offer_id,omitempty"`
}

// SessionUpdate is the body of a session update request. Unset fields are left alone.
type SessionUpdate struct {
	Sale       *bool  `json:"sale,omitempty"`
	FailedSale *bool  `json:"failedsale,omitempty"`
	SUID       string `json:"suid"`
	PubID      string `json:"pubid,omitempty"`
}

// SalePayload is the body of a sale record request.
type SalePayload struct {
	SUID          string `json:"suid"`
	MSISDN        string `json:"msisdn"`
	GCLID         string `json:"gclid,omitempty"`
	WBRAID        string `json:"wbraid,omitempty"`
	GBRAID        string `json:"gbraid,omitempty"`
	ServiceID     string `json:"service_id,omitempty"`
	CountryCode   string `json:"country_code,omitempty"`
	AffiliateName string `json:"affiliate_name,omitempty"`
}

// Backend is the analytics API as seen by the Tracker.
type Backend interface {
	GetCampaign(ctx context.Context, cid string) (*model.Campaign, error)
	CreateSession(ctx context.Context, payload *SessionPayload) error
	UpdateSession(ctx context.Context, update *SessionUpdate) error
	SendEvent(ctx context.Context, payload *EventPayload) error
	RecordSale(ctx context.Context, payload *SalePayload) error
}

// Client is the HTTP implementation of Backend.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	endpoints  Endpoints
}

var _ Backend = (*Client)(nil)

// NewClient creates an analytics backend client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: tracking.base_url", common.ErrMissingConfig)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		endpoints: cfg.Endpoints.withDefaults(),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}, nil
}

// GetCampaign fetches the campaign record. The backend answers either
// {"success":true,"campaign":{...}} or the bare campaign object.
func (c *Client) GetCampaign(ctx context.Context, cid string) (*model.Campaign, error) {
	if cid == "" {
		return nil, ErrNoCampaignID
	}
	path := strings.ReplaceAll(c.endpoints.Campaign, "{cid}", url.PathEscape(cid))

	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Campaign *model.Campaign `json:"campaign"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse campaign: %w", err)
	}
	if envelope.Campaign != nil {
		return envelope.Campaign, nil
	}

	var campaign model.Campaign
	if err := json.Unmarshal(body, &campaign); err != nil {
		return nil, fmt.Errorf("failed to parse campaign: %w", err)
	}
	return &campaign, nil
}

// CreateSession creates or refreshes the analytics session.
func (c *Client) CreateSession(ctx context.Context, payload *SessionPayload) error {
	_, err := c.do(ctx, http.MethodPost, c.endpoints.Session, payload)
	return err
}

// UpdateSession patches session flags.
func (c *Client) UpdateSession(ctx context.Context, update *SessionUpdate) error {
	_, err := c.do(ctx, http.MethodPatch, c.endpoints.SessionUpdate, update)
	return err
}

// SendEvent records one funnel event.
func (c *Client) SendEvent(ctx context.Context, payload *EventPayload) error {
	_, err := c.do(ctx, http.MethodPost, c.endpoints.Event, payload)
	return err
}

// RecordSale stores a sale for ad-platform conversion attribution.
func (c *Client) RecordSale(ctx context.Context, payload *SalePayload) error {
	_, err := c.do(ctx, http.MethodPost, c.endpoints.Sale, payload)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("analytics API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
