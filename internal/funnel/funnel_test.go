package funnel

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/pinflow/internal/gateway"
	"github.com/Veraticus/pinflow/internal/messages"
	"github.com/Veraticus/pinflow/internal/model"
	"github.com/Veraticus/pinflow/internal/phone"
	"github.com/Veraticus/pinflow/internal/testutil"
)

const msisdn = "966549176434"

func requireFailure(t *testing.T, err error, kind Kind, code string) *Failure {
	t.Helper()
	failure, ok := AsFailure(err)
	require.True(t, ok, "expected *Failure, got %v", err)
	assert.Equal(t, kind, failure.Kind)
	assert.Equal(t, code, failure.Code)
	return failure
}

func TestSubmitNumber_Success(t *testing.T) {
	h := newHarness(t)
	h.gateway.trxIDs = []string{"trx-abc"}
	f := h.start(t, "https://lp.example.com/?cid=C1&gclid=G1")

	require.NoError(t, f.SubmitNumber(context.Background(), "0549176434"))

	assert.Equal(t, model.StepAwaitPin, f.State().Step)
	assert.Equal(t, msisdn, f.State().MSISDN)
	assert.Equal(t, []string{
		"valid_number:" + msisdn,
		"pin_sent:" + msisdn,
		"link:trx-abc",
	}, h.trackers.get(f.SUID()).Events())

	stored := h.db.MustGetSession(f.SUID())
	assert.Equal(t, model.StepAwaitPin, stored.Step)
	assert.Equal(t, "trx-abc", stored.TrxID)
	assert.Equal(t, msisdn, stored.MSISDN)
	assert.Equal(t, "G1", stored.Attribution.GCLID)
	assert.WithinDuration(t, h.clock.Now().Add(5*time.Minute), stored.TrxExpiresAt, time.Second)
}

func TestSubmitNumber_InvalidNumber(t *testing.T) {
	h := newHarness(t)
	f := h.start(t, "")

	err := f.SubmitNumber(context.Background(), "12-3")
	failure := requireFailure(t, err, KindValidation, messages.CodeInvalidMSISDN)
	assert.Contains(t, failure.Message, "5xxxxxxxx")
	assert.True(t, phone.IsValidationError(err))

	assert.Equal(t, []string{"invalid_number:123:" + phone.ReasonTooShort}, h.trackers.get(f.SUID()).Events())
	assert.Zero(t, h.gateway.otpCount(), "invalid numbers never reach the gateway")
	assert.Equal(t, model.StepCollectNumber, f.State().Step)
}

func TestSubmitNumber_GatewayRejects(t *testing.T) {
	h := newHarness(t)
	h.gateway.otpErr = &gateway.Error{Op: "send_otp", Code: messages.CodeInvalidNumberOrPIN, Status: 400}
	f := h.start(t, "")

	err := f.SubmitNumber(context.Background(), "549176434")
	failure := requireFailure(t, err, KindGateway, messages.CodeInvalidNumberOrPIN)
	assert.Equal(t, "Invalid phone number. Please check your number and try again", failure.Message)

	events := h.trackers.get(f.SUID()).Events()
	assert.Equal(t, []string{"invalid_number:" + msisdn + ":8001022"}, events)
	assert.NotContains(t, events, "pin_sent:"+msisdn)
	assert.Equal(t, model.StepCollectNumber, f.State().Step)
	assert.Empty(t, h.db.MustGetSession(f.SUID()).TrxID)
}

func TestSubmitNumber_TransportFailure(t *testing.T) {
	h := newHarness(t)
	h.gateway.otpErr = fmt.Errorf("%w: dial tcp: connection refused", gateway.ErrTransport)
	f := h.start(t, "")

	err := f.SubmitNumber(context.Background(), "549176434")
	failure := requireFailure(t, err, KindNetwork, messages.CodeNetwork)
	assert.Equal(t, "Network error. Please check your connection and try again", failure.Message)
	assert.ErrorIs(t, err, gateway.ErrTransport)
	assert.Empty(t, h.trackers.get(f.SUID()).Events())
	assert.Equal(t, model.StepCollectNumber, f.State().Step)
}

func TestSubmitNumber_UnexpectedError(t *testing.T) {
	h := newHarness(t)
	h.gateway.otpErr = errors.New("boom")
	f := h.start(t, "")

	err := f.SubmitNumber(context.Background(), "549176434")
	requireFailure(t, err, KindGateway, messages.CodeUnknown)
}

func TestSubmitPIN_Success(t *testing.T) {
	session := testutil.NewSession("s-pin").
		WithAttribution(model.Attribution{CID: "C1", GCLID: "G1"}).
		WithCampaign(&model.Campaign{CID: "C1", ServiceID: "42", CountryCode: "SA", AffiliateName: "acme"}).
		AwaitingPin(msisdn, "trx-1").
		Build()
	h := newHarness(t, session)
	f := h.resume(t, "s-pin")

	require.NoError(t, f.SubmitPIN(context.Background(), "١٢٣٤"))

	assert.Equal(t, []subscribeCall{{msisdn: msisdn, pin: "1234", trxID: "trx-1"}}, h.gateway.subscribeCalls())
	assert.Equal(t, []string{
		"pin_submitted:" + msisdn + ":1234",
		"valid_pin:" + msisdn + ":1234",
		"sale:" + msisdn,
		"record_sale:" + msisdn,
	}, h.trackers.get("s-pin").Events())

	assert.Equal(t, model.StepConfirmed, f.State().Step)
	stored := h.db.MustGetSession("s-pin")
	assert.Equal(t, model.StepConfirmed, stored.Step)
	assert.Empty(t, stored.TrxID, "transaction is discarded after a sale")

	sales := h.db.UnexportedSales()
	require.Len(t, sales, 1)
	assert.Equal(t, "s-pin", sales[0].SUID)
	assert.Equal(t, "G1", sales[0].GCLID)
	assert.Equal(t, "42", sales[0].ServiceID)
	assert.Equal(t, "acme", sales[0].AffiliateName)
}

func TestSubmitPIN_InvalidFormat(t *testing.T) {
	tests := []struct {
		name string
		pin  string
	}{
		{name: "too short", pin: "12"},
		{name: "too long", pin: "1234567"},
		{name: "no digits", pin: "abcd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testutil.NewSession("s").AwaitingPin(msisdn, "trx-1").Build())
			f := h.resume(t, "s")

			err := f.SubmitPIN(context.Background(), tt.pin)
			failure := requireFailure(t, err, KindValidation, messages.CodeInvalidPINFormat)
			assert.Equal(t, "Please enter a 4-6 digit PIN code", failure.Message)
			assert.Empty(t, h.gateway.subscribeCalls())
			assert.Empty(t, h.trackers.get("s").Events())
			assert.Equal(t, model.StepAwaitPin, f.State().Step)
		})
	}
}

func TestSubmitPIN_ExpiredTransaction(t *testing.T) {
	tests := []struct {
		name    string
		session *model.FunnelSession
	}{
		{
			name:    "expired",
			session: testutil.NewSession("s").AwaitingPin(msisdn, "trx-1").ExpiresAt(time.Now().Add(-time.Minute)).Build(),
		},
		{
			name:    "missing",
			session: testutil.NewSession("s").AwaitingPin(msisdn, "").Build(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.session)
			f := h.resume(t, "s")

			err := f.SubmitPIN(context.Background(), "1234")
			failure := requireFailure(t, err, KindSessionExpired, messages.CodeSessionExpired)
			assert.Equal(t, "Session expired. Please request a new PIN code.", failure.Message)

			assert.Empty(t, h.gateway.subscribeCalls(), "no gateway call without a live transaction")
			assert.Equal(t, []string{"pin_submitted:" + msisdn + ":1234"}, h.trackers.get("s").Events())
			assert.Equal(t, model.StepCollectNumber, f.State().Step)

			stored := h.db.MustGetSession("s")
			assert.Equal(t, model.StepCollectNumber, stored.Step)
			assert.Empty(t, stored.TrxID)
		})
	}
}

func TestSubmitPIN_GatewayRejects(t *testing.T) {
	tests := []struct {
		name       string
		code       string
		message    string
		wantEvents []string
	}{
		{
			name:    "wrong pin",
			code:    messages.CodeInvalidNumberOrPIN,
			message: "Invalid PIN. Please try again",
			wantEvents: []string{
				"pin_submitted:" + msisdn + ":1234",
				"invalid_pin:" + msisdn + ":1234:8001022",
			},
		},
		{
			name:    "already subscribed",
			code:    "5201004",
			message: "You're already subscribed to this service",
			wantEvents: []string{
				"pin_submitted:" + msisdn + ":1234",
				"invalid_pin:" + msisdn + ":1234:5201004",
				"failed_sale:" + msisdn + ":5201004",
			},
		},
		{
			name:    "operator not supported",
			code:    messages.CodeOperatorNotSupported,
			wantEvents: []string{
				"pin_submitted:" + msisdn + ":1234",
				"invalid_pin:" + msisdn + ":1234:OPERATOR_NOT_SUPPORTED",
				"failed_sale:" + msisdn + ":OPERATOR_NOT_SUPPORTED",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testutil.NewSession("s").AwaitingPin(msisdn, "trx-1").Build())
			h.gateway.subscribeErr = &gateway.Error{Op: "subscribe", Code: tt.code, Status: 400}
			f := h.resume(t, "s")

			err := f.SubmitPIN(context.Background(), "1234")
			failure := requireFailure(t, err, KindGateway, tt.code)
			if tt.message != "" {
				assert.Equal(t, tt.message, failure.Message)
			}
			assert.NotEmpty(t, failure.Message)
			assert.Equal(t, tt.wantEvents, h.trackers.get("s").Events())

			assert.Equal(t, model.StepAwaitPin, f.State().Step)
			assert.Equal(t, "trx-1", h.db.MustGetSession("s").TrxID, "transaction survives a rejected PIN")
			assert.Empty(t, h.db.UnexportedSales())
		})
	}
}

func TestSubmitPIN_TransportFailure(t *testing.T) {
	h := newHarness(t, testutil.NewSession("s").AwaitingPin(msisdn, "trx-1").Build())
	h.gateway.subscribeErr = fmt.Errorf("%w: timeout", gateway.ErrTransport)
	f := h.resume(t, "s")

	err := f.SubmitPIN(context.Background(), "1234")
	requireFailure(t, err, KindNetwork, messages.CodeNetwork)
	assert.Equal(t, []string{"pin_submitted:" + msisdn + ":1234"}, h.trackers.get("s").Events())
	assert.Equal(t, model.StepAwaitPin, f.State().Step)
}

func TestResendPIN(t *testing.T) {
	h := newHarness(t, testutil.NewSession("s").AwaitingPin(msisdn, "trx-old").Build())
	h.gateway.trxIDs = []string{"trx-new"}
	f := h.resume(t, "s")

	require.NoError(t, f.ResendPIN(context.Background()))

	assert.Equal(t, []string{"pin_sent:" + msisdn, "link:trx-new"}, h.trackers.get("s").Events())
	assert.Equal(t, model.StepAwaitPin, f.State().Step)
	assert.Equal(t, "trx-new", h.db.MustGetSession("s").TrxID)

	require.NoError(t, f.SubmitPIN(context.Background(), "9876"))
	calls := h.gateway.subscribeCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "trx-new", calls[0].trxID)
}

func TestResendPIN_GatewayRejects(t *testing.T) {
	h := newHarness(t, testutil.NewSession("s").AwaitingPin(msisdn, "trx-old").Build())
	h.gateway.otpErr = &gateway.Error{Op: "send_otp", Code: "CURRENT_OTP_NOT_EXPIRED", Status: 400}
	f := h.resume(t, "s")

	err := f.ResendPIN(context.Background())
	requireFailure(t, err, KindGateway, "CURRENT_OTP_NOT_EXPIRED")
	assert.Equal(t, []string{"invalid_number:" + msisdn + ":CURRENT_OTP_NOT_EXPIRED"}, h.trackers.get("s").Events())
	assert.Equal(t, "trx-old", h.db.MustGetSession("s").TrxID)
}

func TestWrongStep(t *testing.T) {
	h := newHarness(t,
		testutil.NewSession("collect").Build(),
		testutil.NewSession("await").AwaitingPin(msisdn, "trx-1").Build(),
	)
	ctx := context.Background()

	collect := h.resume(t, "collect")
	assert.ErrorIs(t, collect.SubmitPIN(ctx, "1234"), ErrWrongStep)
	assert.ErrorIs(t, collect.ResendPIN(ctx), ErrWrongStep)

	await := h.resume(t, "await")
	assert.ErrorIs(t, await.SubmitNumber(ctx, "549176434"), ErrWrongStep)

	require.NoError(t, await.SubmitPIN(ctx, "1234"))
	assert.ErrorIs(t, await.SubmitPIN(ctx, "1234"), ErrWrongStep)
	assert.ErrorIs(t, await.ResendPIN(ctx), ErrWrongStep)
	assert.Zero(t, h.gateway.otpCount())
}

func TestConcurrentTransitionsAreRejected(t *testing.T) {
	h := newHarness(t)
	h.gateway.entered = make(chan struct{})
	h.gateway.release = make(chan struct{})
	f := h.start(t, "")

	done := make(chan error, 1)
	go func() {
		done <- f.SubmitNumber(context.Background(), "549176434")
	}()
	<-h.gateway.entered

	assert.ErrorIs(t, f.SubmitNumber(context.Background(), "549176434"), ErrBusy)
	assert.ErrorIs(t, f.SubmitPIN(context.Background(), "1234"), ErrBusy)

	close(h.gateway.release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, h.gateway.otpCount())
	assert.Equal(t, model.StepAwaitPin, f.State().Step)
}

func TestSubmitNumber_SaveFailureKeepsState(t *testing.T) {
	h := newHarness(t)
	f := h.start(t, "https://lp.example.com/?cid=C1")
	f.store = &failingStore{SessionStore: h.db.Storage, err: errors.New("disk full")}

	err := f.SubmitNumber(context.Background(), "0549176434")
	requireFailure(t, err, KindInternal, messages.CodeUnknown)

	state := f.State()
	assert.Equal(t, model.StepCollectNumber, state.Step)
	assert.Empty(t, state.MSISDN)
	_, live := f.session.LiveTransaction(h.clock.Now())
	assert.False(t, live)
}

func TestSubmitPIN_SaveFailureKeepsState(t *testing.T) {
	session := testutil.NewSession("s-save").
		WithCampaign(&model.Campaign{CID: "C1", ServiceID: "42"}).
		AwaitingPin(msisdn, "trx-1").
		Build()
	h := newHarness(t, session)
	f := h.resume(t, "s-save")
	f.store = &failingStore{SessionStore: h.db.Storage, err: errors.New("disk full")}

	err := f.SubmitPIN(context.Background(), "1234")
	requireFailure(t, err, KindInternal, messages.CodeUnknown)

	assert.Equal(t, model.StepAwaitPin, f.State().Step)
	trx, live := f.session.LiveTransaction(h.clock.Now())
	assert.True(t, live)
	assert.Equal(t, "trx-1", trx)
	assert.Equal(t, model.StepAwaitPin, h.db.MustGetSession("s-save").Step)
}
