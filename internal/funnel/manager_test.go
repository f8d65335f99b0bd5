package funnel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/pinflow/internal/common"
	"github.com/Veraticus/pinflow/internal/messages"
	"github.com/Veraticus/pinflow/internal/model"
	"github.com/Veraticus/pinflow/internal/phone"
	"github.com/Veraticus/pinflow/internal/testutil"
	"github.com/Veraticus/pinflow/internal/tracking"
)

func TestManager_Start(t *testing.T) {
	h := newHarness(t)

	f, err := h.manager.Start(context.Background(), StartRequest{
		LandingURL: "https://lp.example.com/?cid=C1&gclid=G1&aff_id=9",
		Language:   "ar-SA,ar;q=0.9",
		UserAgent:  "ua/1",
	})
	require.NoError(t, err)

	assert.Len(t, f.SUID(), 32)
	assert.NotContains(t, f.SUID(), "-")
	state := f.State()
	assert.Equal(t, model.StepCollectNumber, state.Step)
	assert.Equal(t, "ar", state.Language)
	require.NotNil(t, state.Campaign)
	assert.Equal(t, "C1", state.Campaign.CID)
	assert.True(t, h.trackers.get(f.SUID()).initialized)

	stored := h.db.MustGetSession(f.SUID())
	assert.Equal(t, "966", stored.Country)
	assert.Equal(t, "G1", stored.Attribution.GCLID)
	assert.Equal(t, "9", stored.Attribution.AffiliateID)
	assert.Equal(t, "acme", stored.Campaign.AffiliateName)
	assert.Equal(t, 1, h.manager.Len())
}

func TestManager_StartResumesKnownSUID(t *testing.T) {
	h := newHarness(t, testutil.NewSession("known").AwaitingPin(msisdn, "trx-1").Build())

	f, err := h.manager.Start(context.Background(), StartRequest{SUID: "known"})
	require.NoError(t, err)
	assert.Equal(t, "known", f.SUID())
	assert.Equal(t, model.StepAwaitPin, f.State().Step)
	assert.False(t, h.trackers.get("known").initialized, "resumed sessions are not re-initialized")

	again, err := h.manager.Start(context.Background(), StartRequest{SUID: "known"})
	require.NoError(t, err)
	assert.Same(t, f, again)
}

func TestManager_StartWithUnknownSUIDCreatesIt(t *testing.T) {
	h := newHarness(t)

	f, err := h.manager.Start(context.Background(), StartRequest{SUID: "client-minted"})
	require.NoError(t, err)
	assert.Equal(t, "client-minted", f.SUID())
	assert.True(t, h.trackers.get("client-minted").initialized)
}

func TestManager_ConcurrentStartsShareFunnel(t *testing.T) {
	h := newHarness(t)
	h.trackers.initDelay = 50 * time.Millisecond

	const callers = 8
	funnels := make([]*Funnel, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, err := h.manager.Start(context.Background(), StartRequest{SUID: "client-race"})
			assert.NoError(t, err)
			funnels[i] = f
		}()
	}
	wg.Wait()

	for _, f := range funnels {
		assert.Same(t, funnels[0], f)
	}
	h.trackers.mu.Lock()
	assert.Equal(t, 1, h.trackers.created, "one impression per session")
	h.trackers.mu.Unlock()
	assert.Equal(t, 1, h.manager.Len())
}

func TestManager_RegisterKeepsLiveFunnel(t *testing.T) {
	h := newHarness(t)
	live := h.start(t, "")

	dup := h.manager.newFunnel(testutil.NewSession(live.SUID()).Build(), &fakeTracker{})
	got, err := h.manager.register(dup)
	require.NoError(t, err)
	assert.Same(t, live, got)
}

func TestManager_GetUnknown(t *testing.T) {
	h := newHarness(t)

	_, err := h.manager.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestManager_EvictsIdleFunnels(t *testing.T) {
	h := newHarness(t)
	idle := h.start(t, "")

	h.clock.Advance(30 * time.Second)
	fresh := h.start(t, "")

	h.clock.Advance(45 * time.Second)
	assert.Equal(t, 1, h.manager.evictIdle())
	assert.Equal(t, 1, h.manager.Len())

	// Evicted funnels come back from the store.
	resumed, err := h.manager.Get(context.Background(), idle.SUID())
	require.NoError(t, err)
	assert.NotSame(t, idle, resumed)
	assert.Equal(t, idle.SUID(), resumed.SUID())

	same, err := h.manager.Get(context.Background(), fresh.SUID())
	require.NoError(t, err)
	assert.Same(t, fresh, same)
}

func TestManager_Close(t *testing.T) {
	h := newHarness(t)
	f := h.start(t, "")

	require.NoError(t, h.manager.Close())
	require.NoError(t, h.manager.Close())

	_, err := h.manager.Get(context.Background(), f.SUID())
	assert.ErrorIs(t, err, ErrClosed)
	_, err = h.manager.Start(context.Background(), StartRequest{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNewManager_RequiresDeps(t *testing.T) {
	_, err := NewManager(Config{}, Deps{})
	assert.Error(t, err)
}

// analyticsDown answers every analytics call with 500 and counts event types.
type analyticsDown struct {
	events []string
	mu     sync.Mutex
}

func (a *analyticsDown) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/e" {
		var body struct {
			EventType string `json:"event_type"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		a.mu.Lock()
		a.events = append(a.events, body.EventType)
		a.mu.Unlock()
	}
	w.WriteHeader(http.StatusInternalServerError)
}

func (a *analyticsDown) types() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.events...)
}

func TestFunnel_AnalyticsOutageDoesNotBlockSale(t *testing.T) {
	backend := &analyticsDown{}
	server := httptest.NewServer(backend)
	defer server.Close()

	client, err := tracking.NewClient(tracking.Config{BaseURL: server.URL, APIKey: "k", Timeout: time.Second})
	require.NoError(t, err)
	svc := tracking.NewService(client)
	defer func() { _ = svc.Close() }()

	reg, err := phone.NewRegistry()
	require.NoError(t, err)
	normalizer, err := reg.Lookup("966")
	require.NoError(t, err)
	translator, err := messages.NewTranslator("en")
	require.NoError(t, err)
	db := testutil.SetupTestDB(t)
	gw := &fakeGateway{}

	manager, err := NewManager(Config{SweepInterval: time.Hour}, Deps{
		Normalizer: normalizer,
		Gateway:    gw,
		Trackers: func(suid string, landing model.Landing, attribution model.Attribution, campaign *model.Campaign) SessionTracker {
			return svc.NewTracker(suid, landing, attribution, campaign)
		},
		Store:      db.Storage,
		Translator: translator,
	})
	require.NoError(t, err)
	defer func() { _ = manager.Close() }()

	ctx := context.Background()
	f, err := manager.Start(ctx, StartRequest{LandingURL: "https://lp.example.com/?cid=C1&gclid=G1"})
	require.NoError(t, err)
	assert.Nil(t, f.State().Campaign)

	require.NoError(t, f.SubmitNumber(ctx, "0549176434"))
	require.NoError(t, f.SubmitPIN(ctx, "1234"))
	assert.Equal(t, model.StepConfirmed, f.State().Step)

	assert.Equal(t, []string{
		"impression",
		"valid_msisdn",
		"pin_sent",
		"pin_submitted",
		"valid_pin",
		"sale",
	}, backend.types())
	require.Len(t, db.UnexportedSales(), 1)
}
