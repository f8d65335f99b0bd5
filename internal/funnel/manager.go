package funnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/Veraticus/pinflow/internal/common"
	"github.com/Veraticus/pinflow/internal/model"
	"github.com/Veraticus/pinflow/internal/phone"
	"github.com/Veraticus/pinflow/internal/tracking"
)

const (
	defaultTrxTTL        = 10 * time.Minute
	defaultSessionTTL    = 30 * time.Minute
	defaultSweepInterval = time.Minute
)

// Config controls funnel lifetimes.
type Config struct {
	Country       string        `mapstructure:"country"`
	Language      string        `mapstructure:"language"`
	TrxTTL        time.Duration `mapstructure:"trx_ttl"`
	SessionTTL    time.Duration `mapstructure:"session_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// Retention removes stored sessions not updated for this long. Zero keeps them.
	Retention time.Duration `mapstructure:"retention"`
}

func (c Config) withDefaults() Config {
	if c.TrxTTL <= 0 {
		c.TrxTTL = defaultTrxTTL
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = defaultSessionTTL
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaultSweepInterval
	}
	return c
}

// Deps are the collaborators shared by every funnel.
type Deps struct {
	Normalizer phone.Normalizer
	Gateway    Gateway
	Trackers   TrackerFactory
	Store      SessionStore
	Translator Translator
	Logger     *slog.Logger
	Clock      func() time.Time
}

type sessionPurger interface {
	DeleteFunnelSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// StartRequest describes a landing-page visit.
type StartRequest struct {
	SUID       string
	LandingURL string
	Referer    string
	UserAgent  string
	IP         string
	Language   string
}

// Manager keeps live funnels by SUID and evicts idle ones.
type Manager struct {
	deps    Deps
	funnels map[string]*Funnel
	stopCh  chan struct{}
	starts  singleflight.Group
	cfg     Config
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
}

// NewManager creates a Manager and starts its sweeper.
func NewManager(cfg Config, deps Deps) (*Manager, error) {
	if deps.Normalizer == nil || deps.Gateway == nil || deps.Trackers == nil || deps.Store == nil || deps.Translator == nil {
		return nil, errors.New("funnel manager requires normalizer, gateway, trackers, store and translator")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	cfg = cfg.withDefaults()
	if cfg.Country == "" {
		cfg.Country = deps.Normalizer.CountryCode()
	}

	m := &Manager{
		cfg:     cfg,
		deps:    deps,
		funnels: make(map[string]*Funnel),
		stopCh:  make(chan struct{}),
	}
	m.wg.Add(1)
	go m.sweep()
	return m, nil
}

// NewSUID returns a 32-character hex session id.
func NewSUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Start opens a funnel for a landing visit. A known SUID resumes that funnel.
// Concurrent starts for the same client-supplied SUID share one funnel.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*Funnel, error) {
	if req.SUID == "" {
		return m.open(ctx, NewSUID(), req)
	}

	v, err, _ := m.starts.Do(req.SUID, func() (any, error) {
		f, err := m.Get(ctx, req.SUID)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, common.ErrNotFound) {
			return nil, err
		}
		return m.open(ctx, req.SUID, req)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Funnel), nil
}

// open creates, initializes and registers a new funnel under suid.
func (m *Manager) open(ctx context.Context, suid string, req StartRequest) (*Funnel, error) {
	attribution, err := tracking.ParseLandingURL(req.LandingURL)
	if err != nil {
		m.deps.Logger.Warn("Unparseable landing URL", "url", req.LandingURL, "error", err)
	}

	now := m.deps.Clock()
	session := &model.FunnelSession{
		SUID:        suid,
		Country:     m.cfg.Country,
		Language:    m.deps.Translator.Match(req.Language),
		LandingURL:  req.LandingURL,
		Attribution: attribution,
		Step:        model.StepCollectNumber,
		CreatedAt:   now,
	}
	landing := model.Landing{
		URL:       req.LandingURL,
		Referer:   req.Referer,
		UserAgent: req.UserAgent,
		IP:        req.IP,
		Language:  session.Language,
	}

	tracker := m.deps.Trackers(suid, landing, attribution, nil)
	tracker.Initialize(ctx)
	session.Campaign = tracker.Campaign()

	f := m.newFunnel(session, tracker)
	if err := f.persist(ctx); err != nil {
		return nil, fmt.Errorf("failed to save funnel session: %w", err)
	}
	live, err := m.register(f)
	if err != nil {
		return nil, err
	}
	if live != f {
		return live, nil
	}

	m.deps.Logger.Info("Funnel started",
		"suid", suid,
		"cid", session.CampaignID(),
		"language", session.Language)
	return f, nil
}

// Get returns a live funnel, loading it from the store when it was evicted.
func (m *Manager) Get(ctx context.Context, suid string) (*Funnel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if f, ok := m.funnels[suid]; ok {
		f.touch()
		return f, nil
	}

	session, err := m.deps.Store.GetFunnelSession(ctx, suid)
	if err != nil {
		return nil, err
	}
	if !session.Step.Valid() {
		session.Step = model.StepCollectNumber
	}
	landing := model.Landing{URL: session.LandingURL, Language: session.Language}
	tracker := m.deps.Trackers(suid, landing, session.Attribution, session.Campaign)

	f := m.newFunnel(session, tracker)
	m.funnels[suid] = f
	m.deps.Logger.Debug("Funnel resumed", "suid", suid, "step", session.Step)
	return f, nil
}

// Len returns the number of live funnels.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.funnels)
}

// Close stops the sweeper and drops live funnels. Stored sessions remain.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.funnels = make(map[string]*Funnel)
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()
	return nil
}

func (m *Manager) newFunnel(session *model.FunnelSession, tracker SessionTracker) *Funnel {
	f := &Funnel{
		normalizer: m.deps.Normalizer,
		gateway:    m.deps.Gateway,
		tracker:    tracker,
		store:      m.deps.Store,
		translator: m.deps.Translator,
		logger:     m.deps.Logger,
		now:        m.deps.Clock,
		trxTTL:     m.cfg.TrxTTL,
		session:    session,
	}
	f.touch()
	return f
}

// register adds f unless a funnel with the same SUID is already live, in
// which case the live one is returned.
func (m *Manager) register(f *Funnel) (*Funnel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if live, ok := m.funnels[f.SUID()]; ok {
		return live, nil
	}
	m.funnels[f.SUID()] = f
	return f, nil
}

func (m *Manager) sweep() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.evictIdle()
			m.purgeStored()
		}
	}
}

// evictIdle drops funnels idle longer than SessionTTL. Funnels mid-transition stay.
func (m *Manager) evictIdle() int {
	cutoff := m.deps.Clock().Add(-m.cfg.SessionTTL)

	m.mu.Lock()
	defer m.mu.Unlock()
	evicted := 0
	for suid, f := range m.funnels {
		if !f.idleSince().Before(cutoff) {
			continue
		}
		if !f.inflight.TryLock() {
			continue
		}
		delete(m.funnels, suid)
		f.inflight.Unlock()
		evicted++
	}
	if evicted > 0 {
		m.deps.Logger.Debug("Evicted idle funnels", "count", evicted)
	}
	return evicted
}

func (m *Manager) purgeStored() {
	if m.cfg.Retention <= 0 {
		return
	}
	purger, ok := m.deps.Store.(sessionPurger)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.SweepInterval)
	defer cancel()

	deleted, err := purger.DeleteFunnelSessionsBefore(ctx, m.deps.Clock().Add(-m.cfg.Retention))
	if err != nil {
		m.deps.Logger.Warn("Failed to purge stored funnel sessions", "error", err)
		return
	}
	if deleted > 0 {
		m.deps.Logger.Info("Purged stored funnel sessions", "count", deleted)
	}
}
