package clientid

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/patrickwarner/rtcadserve/internal/observability"
)

// Store persists client ids.
type Store interface {
	GetClientID(ctx context.Context, scope, cookie, key string) (string, error)
	SetClientIDIfAbsent(ctx context.Context, scope, cookie, key, id string, ttl time.Duration) (string, error)
}

// Service looks up or creates stable client ids per user, scope and cookie.
// Recently used ids are cached in process in front of the store.
type Service struct {
	store   Store
	cache   *expirable.LRU[string, string]
	ttl     time.Duration
	logger  *zap.Logger
	metrics observability.MetricsRegistry
}

// NewService creates a Service. ttl bounds how long ids live in the store;
// cacheSize and cacheTTL size the local cache.
func NewService(store Store, ttl time.Duration, cacheSize int, cacheTTL time.Duration, logger *zap.Logger, metrics observability.MetricsRegistry) *Service {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	return &Service{
		store:   store,
		cache:   expirable.NewLRU[string, string](cacheSize, nil, cacheTTL),
		ttl:     ttl,
		logger:  logger.Named("client_id"),
		metrics: metrics,
	}
}

func newID() string {
	return "amp-" + uuid.NewString()
}

// GetOrCreate returns the client id of userKey in (scope, cookie), creating
// one when none exists. An empty userKey yields a fresh id that is not stored.
func (s *Service) GetOrCreate(ctx context.Context, userKey, scope, cookie string) (string, error) {
	if userKey == "" {
		s.metrics.IncrementClientIDLookups("ephemeral")
		return newID(), nil
	}

	cacheKey := scope + "|" + cookie + "|" + userKey
	if id, ok := s.cache.Get(cacheKey); ok {
		s.metrics.IncrementClientIDLookups("cache")
		return id, nil
	}

	id, err := s.store.GetClientID(ctx, scope, cookie, userKey)
	if err != nil {
		s.metrics.IncrementClientIDLookups("error")
		return "", fmt.Errorf("get client id: %w", err)
	}
	source := "store"
	if id == "" {
		id, err = s.store.SetClientIDIfAbsent(ctx, scope, cookie, userKey, newID(), s.ttl)
		if err != nil {
			s.metrics.IncrementClientIDLookups("error")
			return "", fmt.Errorf("create client id: %w", err)
		}
		source = "created"
		s.logger.Debug("Created client id",
			zap.String("scope", scope),
			zap.String("cookie", cookie))
	}

	s.metrics.IncrementClientIDLookups(source)
	s.cache.Add(cacheKey, id)
	return id, nil
}

// For binds the service to one user so it can serve as a macro client id
// source.
func (s *Service) For(userKey string) *UserSource {
	return &UserSource{svc: s, userKey: userKey}
}

// UserSource is a Service bound to one user key.
type UserSource struct {
	svc     *Service
	userKey string
}

// GetOrCreate returns the bound user's client id.
func (u *UserSource) GetOrCreate(ctx context.Context, scope, cookieName string) (string, error) {
	return u.svc.GetOrCreate(ctx, u.userKey, scope, cookieName)
}
