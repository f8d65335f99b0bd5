package tracking

import (
	"errors"
	"log/slog"
	"time"

	"github.com/Veraticus/pinflow/internal/model"
)

// Service holds the dependencies shared by every Tracker.
type Service struct {
	backend     Backend
	cache       *campaignCache
	logger      *slog.Logger
	now         func() time.Time
	sinks       []Sink
	campaignTTL time.Duration
	callTimeout time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used for dropped calls.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithSinks mirrors every event to the given sinks.
func WithSinks(sinks ...Sink) Option {
	return func(s *Service) { s.sinks = append(s.sinks, sinks...) }
}

// WithCampaignTTL sets how long campaign lookups are cached.
func WithCampaignTTL(ttl time.Duration) Option {
	return func(s *Service) { s.campaignTTL = ttl }
}

// WithCallTimeout bounds each backend call.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Service) { s.callTimeout = d }
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a tracking service over the given backend.
func NewService(backend Backend, opts ...Option) *Service {
	s := &Service{
		backend:     backend,
		logger:      slog.Default(),
		now:         time.Now,
		callTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "tracking")
	s.cache = newCampaignCache(s.campaignTTL)
	return s
}

// NewTracker returns the tracker for one funnel session. A non-nil campaign
// (from a resumed session) skips the lookup during Initialize.
func (s *Service) NewTracker(suid string, landing model.Landing, attribution model.Attribution, campaign *model.Campaign) *Tracker {
	return &Tracker{
		svc:         s,
		suid:        suid,
		landing:     landing,
		attribution: attribution,
		campaign:    campaign,
	}
}

// Close stops the campaign cache and closes the sinks.
func (s *Service) Close() error {
	s.cache.Close()
	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
