package tracking

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/pinflow/internal/model"
)

type recordedCall struct {
	Body   map[string]any
	Method string
	Path   string
	APIKey string
}

// fakeBackend is an httptest analytics server that records every call.
type fakeBackend struct {
	server   *httptest.Server
	failPath map[string]int
	calls    []recordedCall
	mu       sync.Mutex
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{failPath: map[string]int{}}
	fb.server = httptest.NewServer(http.HandlerFunc(fb.handle))
	t.Cleanup(fb.server.Close)
	return fb
}

func (fb *fakeBackend) handle(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)

	fb.mu.Lock()
	fb.calls = append(fb.calls, recordedCall{Method: r.Method, Path: r.URL.Path, Body: body, APIKey: r.Header.Get("X-API-Key")})
	status := fb.failPath[r.URL.Path]
	fb.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
		return
	}
	if r.URL.Path == "/campaign/C1" {
		_, _ = w.Write([]byte(`{"success":true,"campaign":{"id":7,"cid":"C1","name":"Summer","country_code":"SA","service_id":42,"service_name":"Games","gateway_name":"idex","affiliate_id":3,"affiliate_name":"acme"}}`))
		return
	}
	_, _ = w.Write([]byte(`{"success":true}`))
}

func (fb *fakeBackend) snapshot() []recordedCall {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]recordedCall(nil), fb.calls...)
}

func (fb *fakeBackend) eventTypes() []string {
	var types []string
	for _, c := range fb.snapshot() {
		if c.Path == "/e" {
			types = append(types, c.Body["event_type"].(string))
		}
	}
	return types
}

func newTestService(t *testing.T, fb *fakeBackend, opts ...Option) *Service {
	t.Helper()
	client, err := NewClient(Config{BaseURL: fb.server.URL, APIKey: "k-1", Timeout: time.Second})
	require.NoError(t, err)
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	svc := NewService(client, append([]Option{WithClock(func() time.Time { return fixed })}, opts...)...)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestParseAttribution_Aliases(t *testing.T) {
	q, err := url.ParseQuery("cid=C1&clickid=ck&binomcid=b&aff_id=9&ad=banner&flow=f1&subid=s&pub_id=p&offerid=o&traffictype=push&gclid=g&wbraid=w&utm_source=google")
	require.NoError(t, err)

	got := ParseAttribution(q)
	want := model.Attribution{
		CID:         "C1",
		ClickID:     "ck",
		BinomCID:    "b",
		AffiliateID: "9",
		AdName:      "banner",
		FlowName:    "f1",
		SubID:       "s",
		PubID:       "p",
		OfferID:     "o",
		TrafficType: "push",
		GCLID:       "g",
		WBRAID:      "w",
		UTMSource:   "google",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseAttribution() mismatch (-want +got):\n%s", diff)
	}

	// Canonical keys win over aliases.
	q.Set("click_id", "primary")
	assert.Equal(t, "primary", ParseAttribution(q).ClickID)
}

func TestParseLandingURL(t *testing.T) {
	a, err := ParseLandingURL("https://lp.example.com/sa?cid=C1&gclid=G")
	require.NoError(t, err)
	assert.Equal(t, "C1", a.CID)
	assert.Equal(t, "G", a.GCLID)

	_, err = ParseLandingURL("://bad")
	assert.Error(t, err)

	a, err = ParseLandingURL("")
	require.NoError(t, err)
	assert.Equal(t, model.Attribution{}, a)
}

func TestTracker_Initialize(t *testing.T) {
	fb := newFakeBackend(t)
	svc := newTestService(t, fb)

	landing := model.Landing{URL: "https://lp.example.com/?cid=C1", UserAgent: "ua/1", Referer: "https://google.com"}
	attribution := model.Attribution{CID: "C1", GCLID: "G1"}
	tr := svc.NewTracker("suid-1", landing, attribution, nil)

	tr.Initialize(context.Background())

	calls := fb.snapshot()
	require.Len(t, calls, 3)
	assert.Equal(t, "/campaign/C1", calls[0].Path)
	assert.Equal(t, http.MethodGet, calls[0].Method)
	assert.Equal(t, "k-1", calls[0].APIKey)
	assert.Equal(t, "/s", calls[1].Path)
	assert.Equal(t, "/e", calls[2].Path)

	session := calls[1].Body
	assert.Equal(t, "suid-1", session["suid"])
	assert.Equal(t, "unknown", session["ip"])
	assert.Equal(t, "ua/1", session["userAgent"])
	assert.Equal(t, "C1", session["cid"])
	assert.Equal(t, "42", session["service_id"])
	assert.Equal(t, "idex", session["gateway"])
	assert.Equal(t, "3", session["affiliate_id"], "campaign affiliate is used when the URL has none")
	assert.Equal(t, "web", session["platform"])
	assert.Equal(t, "G1", session["gclid"])

	wantEvent := map[string]any{
		"suid":         "suid-1",
		"event_type":   "impression",
		"cid":          "C1",
		"service_id":   "42",
		"service_name": "Games",
		"timestamp":    "2025-01-02T03:04:05Z",
	}
	if diff := cmp.Diff(wantEvent, calls[2].Body); diff != "" {
		t.Errorf("impression payload mismatch (-want +got):\n%s", diff)
	}

	require.NotNil(t, tr.Campaign())
	assert.Equal(t, "acme", tr.Campaign().AffiliateName)
}

func TestTracker_CampaignCachedAcrossSessions(t *testing.T) {
	fb := newFakeBackend(t)
	svc := newTestService(t, fb)
	attribution := model.Attribution{CID: "C1", AffiliateID: "url-aff"}

	svc.NewTracker("a", model.Landing{}, attribution, nil).Initialize(context.Background())
	second := svc.NewTracker("b", model.Landing{}, attribution, nil)
	second.Initialize(context.Background())

	lookups := 0
	var lastSession map[string]any
	for _, c := range fb.snapshot() {
		if c.Path == "/campaign/C1" {
			lookups++
		}
		if c.Path == "/s" {
			lastSession = c.Body
		}
	}
	assert.Equal(t, 1, lookups)
	assert.Equal(t, "Games", second.Campaign().ServiceName)
	assert.Equal(t, "url-aff", lastSession["affiliate_id"], "URL affiliate overrides campaign")
}

func TestTracker_FailuresAreSwallowed(t *testing.T) {
	fb := newFakeBackend(t)
	fb.failPath["/campaign/C1"] = http.StatusInternalServerError
	fb.failPath["/e"] = http.StatusInternalServerError
	svc := newTestService(t, fb)

	tr := svc.NewTracker("suid-2", model.Landing{}, model.Attribution{CID: "C1"}, nil)
	tr.Initialize(context.Background())
	tr.PinSent(context.Background(), "966549176434")

	assert.Nil(t, tr.Campaign())
	assert.Equal(t, []string{"impression", "pin_sent"}, fb.eventTypes())
}

func TestTracker_SaleSequence(t *testing.T) {
	fb := newFakeBackend(t)
	svc := newTestService(t, fb)
	campaign := &model.Campaign{CID: "C1", ServiceID: "42", CountryCode: "SA", AffiliateName: "acme"}
	tr := svc.NewTracker("suid-3", model.Landing{}, model.Attribution{CID: "C1", GCLID: "G1", GBRAID: "GB"}, campaign)
	ctx := context.Background()

	tr.ValidPin(ctx, "966549176434", "1234")
	tr.Sale(ctx, "966549176434")
	tr.RecordSale(ctx, "966549176434")

	calls := fb.snapshot()
	require.Len(t, calls, 4)
	assert.Equal(t, "valid_pin", calls[0].Body["event_type"])
	assert.Equal(t, "1234", calls[0].Body["pin"])
	assert.Equal(t, "sale", calls[1].Body["event_type"])
	assert.Equal(t, http.MethodPatch, calls[2].Method)
	assert.Equal(t, map[string]any{"suid": "suid-3", "sale": true}, calls[2].Body)

	wantSale := map[string]any{
		"suid":           "suid-3",
		"msisdn":         "966549176434",
		"gclid":          "G1",
		"gbraid":         "GB",
		"service_id":     "42",
		"country_code":   "SA",
		"affiliate_name": "acme",
	}
	assert.Equal(t, "/c", calls[3].Path)
	if diff := cmp.Diff(wantSale, calls[3].Body); diff != "" {
		t.Errorf("sale payload mismatch (-want +got):\n%s", diff)
	}
}

func TestTracker_FailedSaleAndLink(t *testing.T) {
	fb := newFakeBackend(t)
	svc := newTestService(t, fb)
	tr := svc.NewTracker("suid-4", model.Landing{}, model.Attribution{}, nil)
	ctx := context.Background()

	tr.LinkTransaction(ctx, "")
	tr.LinkTransaction(ctx, "trx-9")
	tr.FailedSale(ctx, "966549176434", "5202037")

	calls := fb.snapshot()
	require.Len(t, calls, 3)
	assert.Equal(t, map[string]any{"suid": "suid-4", "pubid": "trx-9"}, calls[0].Body)
	assert.Equal(t, "failed_sale", calls[1].Body["event_type"])
	assert.Equal(t, "5202037", calls[1].Body["reason"])
	assert.Equal(t, map[string]any{"suid": "suid-4", "failedsale": true}, calls[2].Body)
}

type memorySink struct {
	payloads []*EventPayload
	closed   bool
}

func (m *memorySink) Publish(_ context.Context, p *EventPayload) error {
	m.payloads = append(m.payloads, p)
	return nil
}

func (m *memorySink) Close() error {
	m.closed = true
	return nil
}

func TestService_MirrorsToSinks(t *testing.T) {
	fb := newFakeBackend(t)
	sink := &memorySink{}
	client, err := NewClient(Config{BaseURL: fb.server.URL})
	require.NoError(t, err)
	svc := NewService(client, WithSinks(sink))

	tr := svc.NewTracker("suid-5", model.Landing{}, model.Attribution{CID: "X"}, nil)
	tr.InvalidNumber(context.Background(), "123", "too_short")

	require.Len(t, sink.payloads, 1)
	assert.Equal(t, "invalid_msisdn", sink.payloads[0].EventType)
	assert.Equal(t, "too_short", sink.payloads[0].Reason)
	assert.Equal(t, "X", sink.payloads[0].CID)

	require.NoError(t, svc.Close())
	assert.True(t, sink.closed)
}

func TestEncodeEvent_AllTypes(t *testing.T) {
	events := map[Event]string{
		Impression{}:    TypeImpression,
		InvalidNumber{}: TypeInvalidNumber,
		ValidNumber{}:   TypeValidNumber,
		PinSent{}:       TypePinSent,
		PinSubmitted{}:  TypePinSubmitted,
		ValidPin{}:      TypeValidPin,
		InvalidPin{}:    TypeInvalidPin,
		Sale{}:          TypeSale,
		FailedSale{}:    TypeFailedSale,
	}
	for ev, want := range events {
		p, err := encodeEvent("s", nil, "", ev, time.Now())
		require.NoError(t, err)
		assert.Equal(t, want, p.EventType)
	}

	_, err := encodeEvent("s", nil, "", nil, time.Now())
	assert.Error(t, err)
}

func TestClient_GetCampaignBareObject(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/campaign/C 2", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"7","cid":"C 2","service_id":"42"}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL + "/api/"})
	require.NoError(t, err)

	c, err := client.GetCampaign(context.Background(), "C 2")
	require.NoError(t, err)
	assert.Equal(t, "C 2", c.CID)
	assert.Equal(t, model.FlexID("42"), c.ServiceID)

	_, err = client.GetCampaign(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoCampaignID)
}

func TestCampaignCache(t *testing.T) {
	cache := newCampaignCache(50 * time.Millisecond)
	defer cache.Close()

	_, found := cache.get("C1")
	assert.False(t, found)

	cache.set("C1", &model.Campaign{CID: "C1"})
	got, found := cache.get("C1")
	require.True(t, found)
	got.CID = "mutated"

	again, _ := cache.get("C1")
	assert.Equal(t, "C1", again.CID, "cache returns copies")
	assert.Equal(t, 1, cache.size())

	time.Sleep(100 * time.Millisecond)
	_, found = cache.get("C1")
	assert.False(t, found)
}
