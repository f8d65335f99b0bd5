package funnel

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Veraticus/pinflow/internal/messages"
	"github.com/Veraticus/pinflow/internal/model"
	"github.com/Veraticus/pinflow/internal/phone"
	"github.com/Veraticus/pinflow/internal/testutil"
)

type subscribeCall struct {
	msisdn string
	pin    string
	trxID  string
}

type fakeGateway struct {
	otpErr       error
	subscribeErr error
	entered      chan struct{}
	release      chan struct{}
	trxIDs       []string
	otpCalls     []string
	subCalls     []subscribeCall
	mu           sync.Mutex
}

func (g *fakeGateway) SendOTP(_ context.Context, msisdn string) (string, error) {
	if g.entered != nil {
		g.entered <- struct{}{}
		<-g.release
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.otpCalls = append(g.otpCalls, msisdn)
	if g.otpErr != nil {
		return "", g.otpErr
	}
	n := len(g.otpCalls)
	if n <= len(g.trxIDs) {
		return g.trxIDs[n-1], nil
	}
	return fmt.Sprintf("trx-%d", n), nil
}

func (g *fakeGateway) Subscribe(_ context.Context, msisdn, pin, trxID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subCalls = append(g.subCalls, subscribeCall{msisdn: msisdn, pin: pin, trxID: trxID})
	return g.subscribeErr
}

func (g *fakeGateway) otpCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.otpCalls)
}

func (g *fakeGateway) subscribeCalls() []subscribeCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]subscribeCall(nil), g.subCalls...)
}

// fakeTracker records milestones as "name" or "name:arg:arg".
type fakeTracker struct {
	campaign    *model.Campaign
	events      []string
	initDelay   time.Duration
	initialized bool
	mu          sync.Mutex
}

func (t *fakeTracker) record(parts ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ev := parts[0]
	for _, p := range parts[1:] {
		ev += ":" + p
	}
	t.events = append(t.events, ev)
}

func (t *fakeTracker) Events() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.events...)
}

func (t *fakeTracker) Initialize(context.Context) {
	time.Sleep(t.initDelay)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.initialized = true
}

func (t *fakeTracker) Campaign() *model.Campaign { return t.campaign }

func (t *fakeTracker) InvalidNumber(_ context.Context, msisdn, reason string) {
	t.record("invalid_number", msisdn, reason)
}
func (t *fakeTracker) ValidNumber(_ context.Context, msisdn string) {
	t.record("valid_number", msisdn)
}
func (t *fakeTracker) PinSent(_ context.Context, msisdn string) { t.record("pin_sent", msisdn) }
func (t *fakeTracker) PinSubmitted(_ context.Context, msisdn, pin string) {
	t.record("pin_submitted", msisdn, pin)
}
func (t *fakeTracker) ValidPin(_ context.Context, msisdn, pin string) {
	t.record("valid_pin", msisdn, pin)
}
func (t *fakeTracker) InvalidPin(_ context.Context, msisdn, pin, code string) {
	t.record("invalid_pin", msisdn, pin, code)
}
func (t *fakeTracker) Sale(_ context.Context, msisdn string) { t.record("sale", msisdn) }
func (t *fakeTracker) FailedSale(_ context.Context, msisdn, code string) {
	t.record("failed_sale", msisdn, code)
}
func (t *fakeTracker) LinkTransaction(_ context.Context, trxID string) {
	if trxID == "" {
		return
	}
	t.record("link", trxID)
}
func (t *fakeTracker) RecordSale(_ context.Context, msisdn string) { t.record("record_sale", msisdn) }

type trackerSet struct {
	campaign  *model.Campaign
	bySUID    map[string]*fakeTracker
	initDelay time.Duration
	created   int
	mu        sync.Mutex
}

func (s *trackerSet) factory(suid string, _ model.Landing, _ model.Attribution, campaign *model.Campaign) SessionTracker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if campaign == nil {
		campaign = s.campaign
	}
	tr := &fakeTracker{campaign: campaign, initDelay: s.initDelay}
	s.bySUID[suid] = tr
	s.created++
	return tr
}

func (s *trackerSet) get(suid string) *fakeTracker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bySUID[suid]
}

type fakeClock struct {
	now time.Time
	mu  sync.Mutex
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	manager  *Manager
	gateway  *fakeGateway
	trackers *trackerSet
	db       *testutil.TestDB
	clock    *fakeClock
}

func newHarness(t *testing.T, sessions ...*model.FunnelSession) *harness {
	t.Helper()

	reg, err := phone.NewRegistry()
	require.NoError(t, err)
	normalizer, err := reg.Lookup("966")
	require.NoError(t, err)
	translator, err := messages.NewTranslator("en")
	require.NoError(t, err)

	h := &harness{
		gateway: &fakeGateway{},
		trackers: &trackerSet{
			bySUID:   map[string]*fakeTracker{},
			campaign: &model.Campaign{CID: "C1", ServiceID: "42", CountryCode: "SA", AffiliateName: "acme"},
		},
		db:    testutil.SetupTestDBWithOptions(t, testutil.TestDBOptions{Sessions: sessions}),
		clock: &fakeClock{now: time.Now()},
	}

	h.manager, err = NewManager(Config{TrxTTL: 5 * time.Minute, SessionTTL: time.Minute, SweepInterval: time.Hour}, Deps{
		Normalizer: normalizer,
		Gateway:    h.gateway,
		Trackers:   h.trackers.factory,
		Store:      h.db.Storage,
		Translator: translator,
		Clock:      h.clock.Now,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.manager.Close() })
	return h
}

func (h *harness) start(t *testing.T, landingURL string) *Funnel {
	t.Helper()
	f, err := h.manager.Start(context.Background(), StartRequest{LandingURL: landingURL, Language: "en-US"})
	require.NoError(t, err)
	return f
}

func (h *harness) resume(t *testing.T, suid string) *Funnel {
	t.Helper()
	f, err := h.manager.Get(context.Background(), suid)
	require.NoError(t, err)
	return f
}

// failingStore rejects session writes while letting sales through.
type failingStore struct {
	SessionStore
	err error
}

func (s *failingStore) SaveFunnelSession(context.Context, *model.FunnelSession) error {
	return s.err
}
