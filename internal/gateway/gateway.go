// Package gateway is the client for the carrier-billing (IDEX) subscription gateway.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Veraticus/pinflow/internal/common"
	"github.com/Veraticus/pinflow/internal/model"
)

const (
	otpPath       = "/rest/s1/gateway/subscribe/otp"
	subscribePath = "/rest/s1/gateway/subscribe"
)

var (
	// ErrTransport wraps failures where no gateway answer was received.
	ErrTransport = errors.New("gateway unreachable")
	// ErrMissingInput is returned before any request when a required argument is empty.
	ErrMissingInput = errors.New("missing gateway input")
)

// Codes the gateway uses to refuse a subscription outright rather than reject a PIN.
var saleRefusals = map[string]bool{
	"5201004":                true,
	"5201008":                true,
	"5202037":                true,
	"OPERATOR_NOT_SUPPORTED": true,
}

// IsSaleFailure reports whether code is a subscription-level refusal.
func IsSaleFailure(code string) bool {
	return saleRefusals[code]
}

// Error is a response from the gateway that was not a success.
type Error struct {
	Op      string
	Code    string
	Message string
	Status  int
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gateway %s failed (status %d, code %s): %s", e.Op, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("gateway %s failed (status %d, code %s)", e.Op, e.Status, e.Code)
}

// Config holds gateway credentials and endpoint settings.
type Config struct {
	BaseURL   string        `mapstructure:"base_url"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
	ChannelID string        `mapstructure:"channel_id"`
	ConsentID string        `mapstructure:"consent_id"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// Validate reports missing credentials.
func (c Config) Validate() error {
	var missing []string
	if c.BaseURL == "" {
		missing = append(missing, "gateway.base_url")
	}
	if c.Username == "" {
		missing = append(missing, "gateway.username")
	}
	if c.Password == "" {
		missing = append(missing, "gateway.password")
	}
	if c.ChannelID == "" {
		missing = append(missing, "gateway.channel_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", common.ErrMissingConfig, strings.Join(missing, ", "))
	}
	return nil
}

// Client calls the gateway with HTTP Basic auth and the configured channel.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	cfg        Config
}

// NewClient creates a gateway client.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		cfg:    cfg,
		logger: logger.With("component", "gateway"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

type otpRequest struct {
	ChannelID    string `json:"channelId"`
	MobileNumber string `json:"mobileNumber"`
	ConsentID    string `json:"consentId,omitempty"`
}

type subscribeRequest struct {
	ChannelID    string `json:"channelId"`
	MobileNumber string `json:"mobileNumber"`
	AuthCode     string `json:"authCode"`
	TrxID        string `json:"trxId"`
}

type gatewayResponse struct {
	TrxID     model.FlexID    `json:"trxId"`
	ErrorCode model.FlexID    `json:"errorCode"`
	Code      model.FlexID    `json:"code"`
	Errors    json.RawMessage `json:"errors"`
	Message   string          `json:"message"`
}

// SendOTP asks the gateway to text a PIN to msisdn and returns the transaction id.
func (c *Client) SendOTP(ctx context.Context, msisdn string) (string, error) {
	if msisdn == "" {
		return "", fmt.Errorf("%w: msisdn", ErrMissingInput)
	}

	resp, err := c.post(ctx, "send_otp", otpPath, true, otpRequest{
		ChannelID:    c.cfg.ChannelID,
		MobileNumber: msisdn,
		ConsentID:    c.cfg.ConsentID,
	})
	if err != nil {
		return "", err
	}

	if resp.TrxID == "" {
		return "", &Error{
			Op:      "send_otp",
			Status:  http.StatusOK,
			Code:    "REQUEST_FAILED",
			Message: "success response without trxId",
		}
	}

	c.logger.Debug("OTP sent", "msisdn", common.MaskMSISDN(msisdn), "trx_id", resp.TrxID.String())
	return resp.TrxID.String(), nil
}

// Subscribe verifies the PIN for an open transaction and completes the subscription.
func (c *Client) Subscribe(ctx context.Context, msisdn, pin, trxID string) error {
	switch {
	case msisdn == "":
		return fmt.Errorf("%w: msisdn", ErrMissingInput)
	case pin == "":
		return fmt.Errorf("%w: pin", ErrMissingInput)
	case trxID == "":
		return fmt.Errorf("%w: trxId", ErrMissingInput)
	}

	_, err := c.post(ctx, "subscribe", subscribePath, false, subscribeRequest{
		ChannelID:    c.cfg.ChannelID,
		MobileNumber: msisdn,
		AuthCode:     pin,
		TrxID:        trxID,
	})
	if err != nil {
		return err
	}

	c.logger.Debug("Subscription confirmed", "msisdn", common.MaskMSISDN(msisdn), "trx_id", trxID)
	return nil
}

// post sends payload and returns the decoded body. Without needBody, an empty
// or unreadable 2xx body is accepted as success.
func (c *Client) post(ctx context.Context, op, path string, needBody bool, payload any) (*gatewayResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTransport, op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: failed to read response: %v", ErrTransport, op, err)
	}

	var parsed gatewayResponse
	parseErr := json.Unmarshal(raw, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		gwErr := &Error{
			Op:      op,
			Status:  resp.StatusCode,
			Code:    strconv.Itoa(resp.StatusCode),
			Message: strings.TrimSpace(string(raw)),
		}
		if parseErr == nil {
			gwErr.Code = extractCode(&parsed, resp.StatusCode)
			gwErr.Message = extractMessage(&parsed)
		}
		c.logger.Info("Gateway rejected request",
			"op", op,
			"status", resp.StatusCode,
			"code", gwErr.Code)
		return nil, gwErr
	}

	if parseErr != nil {
		if !needBody {
			c.logger.Debug("Ignoring unreadable success body", "op", op, "status", resp.StatusCode)
			return &gatewayResponse{}, nil
		}
		return nil, &Error{
			Op:      op,
			Status:  resp.StatusCode,
			Code:    "REQUEST_FAILED",
			Message: fmt.Sprintf("unreadable response: %v", parseErr),
		}
	}
	return &parsed, nil
}

// extractCode prefers errorCode, then code, then the HTTP status.
func extractCode(r *gatewayResponse, status int) string {
	if r.ErrorCode != "" {
		return r.ErrorCode.String()
	}
	if r.Code != "" {
		return r.Code.String()
	}
	return strconv.Itoa(status)
}

// extractMessage reads "errors" (a string, list or object) or falls back to "message".
func extractMessage(r *gatewayResponse) string {
	if len(r.Errors) > 0 && string(r.Errors) != "null" {
		var s string
		if err := json.Unmarshal(r.Errors, &s); err == nil {
			return s
		}
		return string(r.Errors)
	}
	return r.Message
}
