package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"shortlink/internal/metrics"
	"shortlink/internal/model"
	"shortlink/internal/util"
)

const (
	maxCreateAttempts = 5
	recentClicksLimit = 10
)

const (
	HealthUp       = "up"
	HealthDown     = "down"
	HealthDisabled = "disabled"
)

// Store is the durable side of the service. Implemented by *repository.Repo.
type Store interface {
	FindByCode(ctx context.Context, code string) (*model.URLMapping, error)
	FindByURL(ctx context.Context, original string) (*model.URLMapping, error)
	Insert(ctx context.Context, code, original string) (*model.URLMapping, error)
	Delete(ctx context.Context, code string) (int64, error)
	RecentClicks(ctx context.Context, code string, limit int) ([]model.ClickEvent, error)
	Ping(ctx context.Context) error
}

// Cache is the best-effort side. Implemented by *cache.Cache.
type Cache interface {
	GetMapping(ctx context.Context, code string) (*model.CachedMapping, bool)
	SetMapping(ctx context.Context, m model.CachedMapping) bool
	DeleteMapping(ctx context.Context, code string)
	Enabled() bool
	Ping(ctx context.Context) error
}

// CodeSource yields candidate short codes. Implemented by *util.CodeGenerator.
type CodeSource interface {
	Code(ctx context.Context, url string, attempt int) (string, error)
	Strategy() string
}

// Dispatcher hands click accounting off the request path. Implemented by *ClickAccountant.
type Dispatcher interface {
	Enqueue(ctx context.Context, code string, meta model.ClickMetadata) bool
}

type Health struct {
	Store string `json:"store"`
	Cache string `json:"cache"`
}

func (h Health) Healthy() bool {
	return h.Store == HealthUp
}

type Service struct {
	store   Store
	cache   Cache
	codes   CodeSource
	clicks  Dispatcher
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewService(store Store, cache Cache, codes CodeSource, clicks Dispatcher, logger *zap.Logger, m *metrics.Metrics) *Service {
	return &Service{
		store:   store,
		cache:   cache,
		codes:   codes,
		clicks:  clicks,
		logger:  logger.Named("service"),
		metrics: m,
	}
}

// CreateShortURL returns the existing mapping for rawURL when one is found,
// otherwise mints a new code. Dedup is a plain read before the insert; two
// concurrent calls for the same URL may both create a mapping.
func (s *Service) CreateShortURL(ctx context.Context, rawURL string) (*model.CreateResult, error) {
	const op = "service.Service.CreateShortURL"

	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" || !util.ValidateURL(rawURL) {
		return nil, fmt.Errorf("%s: %w", op, model.ErrInvalidURL)
	}
	normalized := util.NormalizeURL(rawURL)

	existing, err := s.store.FindByURL(ctx, normalized)
	switch {
	case err == nil:
		s.prime(ctx, existing.ShortCode, existing.OriginalURL)
		return &model.CreateResult{
			ShortCode:   existing.ShortCode,
			OriginalURL: existing.OriginalURL,
			CreatedAt:   existing.CreatedAt,
			IsNew:       false,
		}, nil
	case !errors.Is(err, model.ErrNotFound):
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		code, err := s.codes.Code(ctx, normalized, attempt)
		if err != nil {
			return nil, fmt.Errorf("%s: generate code: %w", op, err)
		}

		m, err := s.store.Insert(ctx, code, normalized)
		if errors.Is(err, model.ErrDuplicateCode) {
			s.metrics.CodeCollisions.Inc()
			s.logger.Debug("short code collision", zap.String("code", code), zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		s.metrics.CodesCreated.WithLabelValues(s.codes.Strategy()).Inc()
		s.prime(ctx, m.ShortCode, m.OriginalURL)
		return &model.CreateResult{
			ShortCode:   m.ShortCode,
			OriginalURL: m.OriginalURL,
			CreatedAt:   m.CreatedAt,
			IsNew:       true,
		}, nil
	}

	s.logger.Error("short code space exhausted",
		zap.String("url", normalized),
		zap.Int("attempts", maxCreateAttempts),
		zap.String("strategy", s.codes.Strategy()))
	return nil, fmt.Errorf("%s: %d attempts: %w", op, maxCreateAttempts, model.ErrCodeSpaceExhausted)
}

// Resolve is a cache-aside read. It never records a click.
func (s *Service) Resolve(ctx context.Context, code string) (*model.Resolution, error) {
	const op = "service.Service.Resolve"

	if !util.IsCode(code) {
		return nil, fmt.Errorf("%s: %w", op, model.ErrNotFound)
	}

	if cached, ok := s.cache.GetMapping(ctx, code); ok {
		return &model.Resolution{OriginalURL: cached.OriginalURL, ShortCode: code, Source: model.SourceCache}, nil
	}

	m, err := s.store.FindByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.prime(ctx, m.ShortCode, m.OriginalURL)
	return &model.Resolution{OriginalURL: m.OriginalURL, ShortCode: m.ShortCode, Source: model.SourceDatabase}, nil
}

// Redirect resolves code and hands click accounting to the dispatcher. The
// result does not depend on whether the click was accepted.
func (s *Service) Redirect(ctx context.Context, code string, meta model.ClickMetadata) (*model.Resolution, error) {
	res, err := s.Resolve(ctx, code)
	if err != nil {
		return nil, err
	}
	s.clicks.Enqueue(ctx, res.ShortCode, meta)
	return res, nil
}

// Stats reads the authoritative counters from the store. The cache counter is not consulted.
func (s *Service) Stats(ctx context.Context, code string) (*model.Stats, error) {
	const op = "service.Service.Stats"

	if !util.IsCode(code) {
		return nil, fmt.Errorf("%s: %w", op, model.ErrNotFound)
	}

	m, err := s.store.FindByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	recent, err := s.store.RecentClicks(ctx, code, recentClicksLimit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &model.Stats{
		ShortCode:    m.ShortCode,
		OriginalURL:  m.OriginalURL,
		ClickCount:   m.ClickCount,
		CreatedAt:    m.CreatedAt,
		LastAccessed: m.LastAccessed,
		RecentClicks: recent,
	}, nil
}

// DeleteURL drops the cache entries first, then the row. deleted reports
// whether the store actually removed a mapping.
func (s *Service) DeleteURL(ctx context.Context, code string) (bool, error) {
	const op = "service.Service.DeleteURL"

	if !util.IsCode(code) {
		return false, nil
	}

	s.cache.DeleteMapping(ctx, code)

	n, err := s.store.Delete(ctx, code)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if n > 0 {
		s.logger.Info("short url deleted", zap.String("code", code))
	}
	return n > 0, nil
}

func (s *Service) Health(ctx context.Context) Health {
	h := Health{Store: HealthUp, Cache: HealthDisabled}

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("store health check failed", zap.Error(err))
		h.Store = HealthDown
	}
	if s.cache.Enabled() {
		h.Cache = HealthUp
		if err := s.cache.Ping(ctx); err != nil {
			s.logger.Warn("cache health check failed", zap.Error(err))
			h.Cache = HealthDown
		}
	}
	return h
}

func (s *Service) prime(ctx context.Context, code, original string) {
	s.cache.SetMapping(ctx, model.CachedMapping{OriginalURL: original, ShortCode: code})
}
