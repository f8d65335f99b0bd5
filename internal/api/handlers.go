package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/Veraticus/pinflow/internal/common"
	"github.com/Veraticus/pinflow/internal/funnel"
	"github.com/Veraticus/pinflow/internal/model"
)

const maxBodyBytes = 64 << 10

// Funnels is the part of funnel.Manager the handlers use.
type Funnels interface {
	Start(ctx context.Context, req funnel.StartRequest) (*funnel.Funnel, error)
	Get(ctx context.Context, suid string) (*funnel.Funnel, error)
}

// Handler serves the funnel API.
type Handler struct {
	Funnels Funnels
	Logger  *slog.Logger
	// TrustProxy takes the client IP from X-Forwarded-For.
	TrustProxy bool
}

type startRequest struct {
	SUID       string `json:"suid"`
	LandingURL string `json:"landing_url"`
	Referer    string `json:"referer"`
	Language   string `json:"language"`
}

type msisdnRequest struct {
	MSISDN string `json:"msisdn"`
}

type pinRequest struct {
	PIN string `json:"pin"`
}

type campaignView struct {
	CID         string `json:"cid"`
	Name        string `json:"name,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
}

type stateResponse struct {
	Campaign *campaignView `json:"campaign,omitempty"`
	SUID     string        `json:"suid"`
	StepName string        `json:"step_name"`
	Language string        `json:"language"`
	Step     int           `json:"step"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Kind  string `json:"kind,omitempty"`
	Step  int    `json:"step,omitempty"`
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Start opens or resumes a funnel for a landing visit.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var body startRequest
	if !decodeBody(w, r, &body) {
		return
	}

	req := funnel.StartRequest{
		SUID:       strings.TrimSpace(body.SUID),
		LandingURL: body.LandingURL,
		Referer:    body.Referer,
		UserAgent:  r.UserAgent(),
		IP:         h.clientIP(r),
		Language:   body.Language,
	}
	if req.Referer == "" {
		req.Referer = r.Referer()
	}
	if req.Language == "" {
		req.Language = r.Header.Get("Accept-Language")
	}

	f, err := h.Funnels.Start(r.Context(), req)
	if err != nil {
		h.writeError(w, nil, err)
		return
	}
	writeJSON(w, http.StatusOK, stateOf(f))
}

// State returns the current step.
func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	f, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, stateOf(f))
}

// SubmitNumber runs step 1.
func (h *Handler) SubmitNumber(w http.ResponseWriter, r *http.Request) {
	f, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var body msisdnRequest
	if !decodeBody(w, r, &body) {
		return
	}
	h.respond(w, f, f.SubmitNumber(r.Context(), body.MSISDN))
}

// SubmitPIN runs step 2.
func (h *Handler) SubmitPIN(w http.ResponseWriter, r *http.Request) {
	f, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var body pinRequest
	if !decodeBody(w, r, &body) {
		return
	}
	h.respond(w, f, f.SubmitPIN(r.Context(), body.PIN))
}

// ResendPIN requests a new OTP.
func (h *Handler) ResendPIN(w http.ResponseWriter, r *http.Request) {
	f, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.respond(w, f, f.ResendPIN(r.Context()))
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*funnel.Funnel, bool) {
	f, err := h.Funnels.Get(r.Context(), r.PathValue("suid"))
	if err != nil {
		h.writeError(w, nil, err)
		return nil, false
	}
	return f, true
}

func (h *Handler) respond(w http.ResponseWriter, f *funnel.Funnel, err error) {
	if err != nil {
		h.writeError(w, f, err)
		return
	}
	writeJSON(w, http.StatusOK, stateOf(f))
}

func (h *Handler) writeError(w http.ResponseWriter, f *funnel.Funnel, err error) {
	status, body := errorBody(err)
	if f != nil {
		body.Step = int(f.State().Step)
	}
	if status >= http.StatusInternalServerError {
		h.logger().Error("Funnel request failed", "status", status, "error", err)
	}
	writeJSON(w, status, body)
}

// errorBody maps funnel errors to HTTP statuses.
func errorBody(err error) (int, errorResponse) {
	if failure, ok := funnel.AsFailure(err); ok {
		body := errorResponse{Error: failure.Message, Code: failure.Code, Kind: string(failure.Kind)}
		switch failure.Kind {
		case funnel.KindValidation, funnel.KindGateway:
			return http.StatusUnprocessableEntity, body
		case funnel.KindSessionExpired:
			return http.StatusGone, body
		case funnel.KindNetwork:
			return http.StatusBadGateway, body
		default:
			return http.StatusInternalServerError, body
		}
	}

	switch {
	case errors.Is(err, funnel.ErrBusy):
		return http.StatusConflict, errorResponse{Error: err.Error(), Code: "BUSY"}
	case errors.Is(err, funnel.ErrWrongStep):
		return http.StatusConflict, errorResponse{Error: err.Error(), Code: "WRONG_STEP"}
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound, errorResponse{Error: "unknown session", Code: "NOT_FOUND"}
	case errors.Is(err, funnel.ErrClosed):
		return http.StatusServiceUnavailable, errorResponse{Error: err.Error(), Code: "UNAVAILABLE"}
	default:
		return http.StatusInternalServerError, errorResponse{Error: "internal error", Code: "INTERNAL"}
	}
}

func stateOf(f *funnel.Funnel) stateResponse {
	s := f.State()
	resp := stateResponse{
		SUID:     s.SUID,
		Step:     int(s.Step),
		StepName: s.Step.String(),
		Language: s.Language,
	}
	if s.Campaign != nil {
		resp.Campaign = viewCampaign(s.Campaign)
	}
	return resp
}

func viewCampaign(c *model.Campaign) *campaignView {
	return &campaignView{
		CID:         c.CID,
		Name:        c.Name,
		ServiceName: c.ServiceName,
		CountryCode: c.CountryCode,
	}
}

func (h *Handler) clientIP(r *http.Request) string {
	if h.TrustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid request body: %v", err), Code: "BAD_REQUEST"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
