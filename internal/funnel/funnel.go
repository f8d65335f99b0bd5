// Package funnel drives the three-step carrier-billing subscription flow:
// collect a number and send an OTP, verify the PIN, confirm the sale.
package funnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Veraticus/pinflow/internal/common"
	"github.com/Veraticus/pinflow/internal/gateway"
	"github.com/Veraticus/pinflow/internal/messages"
	"github.com/Veraticus/pinflow/internal/model"
	"github.com/Veraticus/pinflow/internal/phone"
)

const (
	minPINLength = 4
	maxPINLength = 6
)

// Funnel is the state machine for one funnel session.
// At most one transition runs at a time; concurrent calls get ErrBusy.
type Funnel struct {
	normalizer phone.Normalizer
	gateway    Gateway
	tracker    SessionTracker
	store      SessionStore
	translator Translator
	logger     *slog.Logger
	now        func() time.Time
	session    *model.FunnelSession
	trxTTL     time.Duration
	lastUsed   atomic.Int64
	inflight   sync.Mutex
	mu         sync.RWMutex
}

// State is a read-only view of a funnel.
type State struct {
	Campaign *model.Campaign
	SUID     string
	MSISDN   string
	Language string
	Step     model.Step
}

// SUID returns the session id.
func (f *Funnel) SUID() string {
	return f.session.SUID
}

// State returns the current step and identifiers.
func (f *Funnel) State() State {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return State{
		SUID:     f.session.SUID,
		Step:     f.session.Step,
		MSISDN:   f.session.MSISDN,
		Language: f.session.Language,
		Campaign: f.session.Campaign,
	}
}

func (f *Funnel) touch() {
	f.lastUsed.Store(f.now().UnixNano())
}

func (f *Funnel) idleSince() time.Time {
	return time.Unix(0, f.lastUsed.Load())
}

// begin takes the in-flight guard and checks the current step.
func (f *Funnel) begin(op string, allowed model.Step) (func(), error) {
	if !f.inflight.TryLock() {
		return nil, ErrBusy
	}
	f.touch()

	f.mu.RLock()
	step := f.session.Step
	f.mu.RUnlock()
	if step != allowed {
		f.inflight.Unlock()
		return nil, fmt.Errorf("%w: %s in step %s", ErrWrongStep, op, step)
	}
	return f.inflight.Unlock, nil
}

// commit applies fn to a copy of the session and makes the copy current only
// after the store accepted it, so a failed write leaves State unchanged.
func (f *Funnel) commit(ctx context.Context, fn func(s *model.FunnelSession)) error {
	f.mu.RLock()
	next := *f.session
	f.mu.RUnlock()

	fn(&next)
	if err := f.store.SaveFunnelSession(ctx, &next); err != nil {
		return err
	}

	f.mu.Lock()
	f.session = &next
	f.mu.Unlock()
	return nil
}

// persist saves the session as it is.
func (f *Funnel) persist(ctx context.Context) error {
	return f.commit(ctx, func(*model.FunnelSession) {})
}

func (f *Funnel) language() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.session.Language
}

// SubmitNumber normalizes the number, requests an OTP and advances to AwaitPin.
func (f *Funnel) SubmitNumber(ctx context.Context, raw string) error {
	done, err := f.begin("submit_number", model.StepCollectNumber)
	if err != nil {
		return err
	}
	defer done()

	tr := &transition{rawInput: raw}
	stages := []stage{
		required("normalize", f.normalize, f.invalidNumber),
		required("send_otp", f.sendOTP, f.otpFailed),
		required("store_transaction", f.storeTransaction, f.internalFailure),
		bestEffort("valid_number", func(ctx context.Context, tr *transition) {
			f.tracker.ValidNumber(ctx, tr.msisdn)
		}),
		bestEffort("pin_sent", func(ctx context.Context, tr *transition) {
			f.tracker.PinSent(ctx, tr.msisdn)
		}),
		bestEffort("link_transaction", func(ctx context.Context, tr *transition) {
			f.tracker.LinkTransaction(ctx, tr.trxID)
		}),
		required("advance", f.advanceTo(model.StepAwaitPin), f.internalFailure),
	}

	if err := runPipeline(ctx, f.logger, "submit_number", stages, tr); err != nil {
		return err
	}
	f.logger.Info("OTP sent", "suid", f.SUID(), "msisdn", common.MaskMSISDN(tr.msisdn))
	return nil
}

// SubmitPIN verifies the PIN against the live transaction and confirms the sale.
func (f *Funnel) SubmitPIN(ctx context.Context, raw string) error {
	done, err := f.begin("submit_pin", model.StepAwaitPin)
	if err != nil {
		return err
	}
	defer done()

	f.mu.RLock()
	msisdn := f.session.MSISDN
	f.mu.RUnlock()

	tr := &transition{rawInput: raw, msisdn: msisdn}
	stages := []stage{
		required("check_pin", f.checkPIN, f.invalidPINFormat),
		bestEffort("pin_submitted", func(ctx context.Context, tr *transition) {
			f.tracker.PinSubmitted(ctx, tr.msisdn, tr.pin)
		}),
		required("require_transaction", f.requireTransaction, f.sessionExpired),
		required("verify_pin", f.verifyPIN, f.pinFailed),
		bestEffort("valid_pin", func(ctx context.Context, tr *transition) {
			f.tracker.ValidPin(ctx, tr.msisdn, tr.pin)
		}),
		bestEffort("sale", func(ctx context.Context, tr *transition) {
			f.tracker.Sale(ctx, tr.msisdn)
		}),
		bestEffort("record_sale", func(ctx context.Context, tr *transition) {
			f.tracker.RecordSale(ctx, tr.msisdn)
		}),
		{name: "save_sale", run: f.saveSale},
		required("confirm", f.confirm, f.internalFailure),
	}

	if err := runPipeline(ctx, f.logger, "submit_pin", stages, tr); err != nil {
		return err
	}
	f.logger.Info("Subscription confirmed", "suid", f.SUID(), "msisdn", common.MaskMSISDN(msisdn))
	return nil
}

// ResendPIN requests a fresh OTP for the stored number and replaces the transaction.
func (f *Funnel) ResendPIN(ctx context.Context) error {
	done, err := f.begin("resend_pin", model.StepAwaitPin)
	if err != nil {
		return err
	}
	defer done()

	f.mu.RLock()
	msisdn := f.session.MSISDN
	f.mu.RUnlock()

	tr := &transition{msisdn: msisdn}
	stages := []stage{
		required("send_otp", f.sendOTP, f.otpFailed),
		required("store_transaction", f.storeTransaction, f.internalFailure),
		bestEffort("pin_sent", func(ctx context.Context, tr *transition) {
			f.tracker.PinSent(ctx, tr.msisdn)
		}),
		bestEffort("link_transaction", func(ctx context.Context, tr *transition) {
			f.tracker.LinkTransaction(ctx, tr.trxID)
		}),
	}

	if err := runPipeline(ctx, f.logger, "resend_pin", stages, tr); err != nil {
		return err
	}
	f.logger.Info("OTP resent", "suid", f.SUID(), "msisdn", common.MaskMSISDN(msisdn))
	return nil
}

func (f *Funnel) normalize(_ context.Context, tr *transition) error {
	msisdn, err := f.normalizer.Normalize(tr.rawInput)
	if err != nil {
		return err
	}
	tr.msisdn = msisdn
	return nil
}

func (f *Funnel) invalidNumber(ctx context.Context, tr *transition, err error) error {
	reason := phone.ReasonEmpty
	var ve *phone.ValidationError
	if errors.As(err, &ve) {
		reason = ve.Reason
	}
	f.tracker.InvalidNumber(ctx, phone.NormalizeDigits(tr.rawInput), reason)

	return &Failure{
		Kind:    KindValidation,
		Code:    messages.CodeInvalidMSISDN,
		Message: f.translator.Message(messages.CodeInvalidMSISDN, f.language(), map[string]string{"example": f.normalizer.Example()}),
		Err:     err,
	}
}

func (f *Funnel) sendOTP(ctx context.Context, tr *transition) error {
	trxID, err := f.gateway.SendOTP(ctx, tr.msisdn)
	if err != nil {
		return err
	}
	tr.trxID = trxID
	return nil
}

func (f *Funnel) otpFailed(ctx context.Context, tr *transition, err error) error {
	if failure := f.networkFailure(err); failure != nil {
		return failure
	}
	code := gatewayCode(err)
	f.logger.Info("OTP send rejected", "suid", f.SUID(), "code", code, "msisdn", common.MaskMSISDN(tr.msisdn))
	f.tracker.InvalidNumber(ctx, tr.msisdn, code)

	return &Failure{
		Kind:    KindGateway,
		Code:    code,
		Message: f.translator.Translate(code, messages.ContextSendOTP, f.language()),
		Err:     err,
	}
}

func (f *Funnel) storeTransaction(ctx context.Context, tr *transition) error {
	return f.commit(ctx, func(s *model.FunnelSession) {
		s.MSISDN = tr.msisdn
		s.TrxID = tr.trxID
		s.TrxExpiresAt = f.now().Add(f.trxTTL)
	})
}

func (f *Funnel) advanceTo(step model.Step) func(context.Context, *transition) error {
	return func(ctx context.Context, _ *transition) error {
		return f.commit(ctx, func(s *model.FunnelSession) { s.Step = step })
	}
}

func (f *Funnel) checkPIN(_ context.Context, tr *transition) error {
	pin := phone.NormalizeDigits(tr.rawInput)
	if len(pin) < minPINLength || len(pin) > maxPINLength {
		return fmt.Errorf("pin must have %d-%d digits, got %d", minPINLength, maxPINLength, len(pin))
	}
	tr.pin = pin
	return nil
}

func (f *Funnel) invalidPINFormat(_ context.Context, _ *transition, err error) error {
	return &Failure{
		Kind:    KindValidation,
		Code:    messages.CodeInvalidPINFormat,
		Message: f.translator.Message(messages.CodeInvalidPINFormat, f.language(), nil),
		Err:     err,
	}
}

var errNoTransaction = errors.New("no live transaction")

func (f *Funnel) requireTransaction(_ context.Context, tr *transition) error {
	f.mu.RLock()
	trxID, ok := f.session.LiveTransaction(f.now())
	f.mu.RUnlock()
	if !ok {
		return errNoTransaction
	}
	tr.trxID = trxID
	return nil
}

// sessionExpired restarts the funnel at number entry without calling the gateway.
func (f *Funnel) sessionExpired(ctx context.Context, _ *transition, err error) error {
	reset := func(s *model.FunnelSession) {
		s.ClearTransaction()
		s.Step = model.StepCollectNumber
	}
	if saveErr := f.commit(ctx, reset); saveErr != nil {
		common.LogError(f.logger, saveErr, "Failed to persist funnel reset", common.Fields{"suid": f.SUID()})
	}

	return &Failure{
		Kind:    KindSessionExpired,
		Code:    messages.CodeSessionExpired,
		Message: f.translator.Message(messages.CodeSessionExpired, f.language(), nil),
		Err:     err,
	}
}

func (f *Funnel) verifyPIN(ctx context.Context, tr *transition) error {
	return f.gateway.Subscribe(ctx, tr.msisdn, tr.pin, tr.trxID)
}

func (f *Funnel) pinFailed(ctx context.Context, tr *transition, err error) error {
	if failure := f.networkFailure(err); failure != nil {
		return failure
	}
	code := gatewayCode(err)
	f.logger.Info("PIN verification rejected", "suid", f.SUID(), "code", code, "msisdn", common.MaskMSISDN(tr.msisdn))

	f.tracker.InvalidPin(ctx, tr.msisdn, tr.pin, code)
	if gateway.IsSaleFailure(code) {
		f.tracker.FailedSale(ctx, tr.msisdn, code)
	}

	return &Failure{
		Kind:    KindGateway,
		Code:    code,
		Message: f.translator.Translate(code, messages.ContextVerifyPIN, f.language()),
		Err:     err,
	}
}

func (f *Funnel) saveSale(ctx context.Context, _ *transition) error {
	f.mu.RLock()
	sale := model.NewSale(f.session)
	f.mu.RUnlock()
	return f.store.SaveSale(ctx, &sale)
}

func (f *Funnel) confirm(ctx context.Context, _ *transition) error {
	return f.commit(ctx, func(s *model.FunnelSession) {
		s.ClearTransaction()
		s.Step = model.StepConfirmed
	})
}

func (f *Funnel) internalFailure(_ context.Context, _ *transition, err error) error {
	common.LogError(f.logger, err, "Funnel state write failed", common.Fields{"suid": f.SUID()})
	return &Failure{
		Kind:    KindInternal,
		Code:    messages.CodeUnknown,
		Message: f.translator.Translate(messages.CodeUnknown, messages.ContextNone, f.language()),
		Err:     err,
	}
}

// networkFailure maps transport errors to a localized network failure, or returns nil.
func (f *Funnel) networkFailure(err error) *Failure {
	if !errors.Is(err, gateway.ErrTransport) && !errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	f.logger.Error("Gateway unreachable", "suid", f.SUID(), "error", err)
	return &Failure{
		Kind:    KindNetwork,
		Code:    messages.CodeNetwork,
		Message: f.translator.Translate(messages.CodeNetwork, messages.ContextNone, f.language()),
		Err:     err,
	}
}

// gatewayCode returns the gateway's error code, or the generic code for anything else.
func gatewayCode(err error) string {
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) && gwErr.Code != "" {
		return gwErr.Code
	}
	return messages.CodeUnknown
}
