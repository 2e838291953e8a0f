package api

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/patrickwarner/rtcadserve/internal/adrequest"
	"github.com/patrickwarner/rtcadserve/internal/analytics"
	"github.com/patrickwarner/rtcadserve/internal/clientid"
	"github.com/patrickwarner/rtcadserve/internal/config"
	"github.com/patrickwarner/rtcadserve/internal/db"
	"github.com/patrickwarner/rtcadserve/internal/macros"
	"github.com/patrickwarner/rtcadserve/internal/observability"
	"github.com/patrickwarner/rtcadserve/internal/resize"
	"github.com/patrickwarner/rtcadserve/internal/targeting"
)

// ErrPostgresUnavailable is returned by Reload when no Postgres is wired.
var ErrPostgresUnavailable = errors.New("postgres unavailable")

// Server groups dependencies for HTTP handlers.
type Server struct {
	Logger     *zap.Logger
	Store      *db.RedisStore
	PG         *db.Postgres
	Slots      *db.SlotRegistry
	Analytics  analytics.AnalyticsService
	Resolver   *targeting.Resolver
	Macros     *macros.Service
	ClientIDs  *clientid.Service
	Reconciler *resize.Reconciler
	Network    *adrequest.Network
	Metrics    observability.MetricsRegistry
	Config     config.Config
	reloadMu   sync.Mutex
}

type serverOptions struct {
	fetcher adrequest.Fetcher
	macros  *macros.Service
	changer resize.SizeChanger
}

// ServerOption overrides a collaborator built by NewServer.
type ServerOption func(*serverOptions)

// WithFetcher replaces the HTTP ad fetcher.
func WithFetcher(f adrequest.Fetcher) ServerOption {
	return func(o *serverOptions) { o.fetcher = f }
}

// WithMacroService replaces the macro service, typically with one built by
// macros.NewServiceForTesting.
func WithMacroService(m *macros.Service) ServerOption {
	return func(o *serverOptions) { o.macros = m }
}

// WithSizeChanger replaces the policy based size changer.
func WithSizeChanger(c resize.SizeChanger) ServerOption {
	return func(o *serverOptions) { o.changer = c }
}

// NewServer constructs a Server. store, pg and analyticsSvc may be nil;
// ADCID then resolves to absent, Reload fails and events are not recorded.
func NewServer(logger *zap.Logger, store *db.RedisStore, pg *db.Postgres, slots *db.SlotRegistry, analyticsSvc analytics.AnalyticsService, metrics observability.MetricsRegistry, cfg config.Config, opts ...ServerOption) *Server {
	o := serverOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.fetcher == nil {
		o.fetcher = adrequest.NewHTTPFetcher(cfg.FetchTimeout)
	}
	if o.macros == nil {
		o.macros = macros.NewService(logger, cfg.MacroTimeout)
	}
	if o.changer == nil {
		o.changer = resize.PolicySizeChanger{MaxWidth: cfg.ResizeMaxWidth, MaxHeight: cfg.ResizeMaxHeight}
	}
	if slots == nil {
		slots = db.NewSlotRegistry()
	}

	reconcilerOpts := []resize.Option{resize.WithMetrics(metrics)}
	if analyticsSvc != nil {
		reconcilerOpts = append(reconcilerOpts, resize.WithRecorder(analyticsSvc))
	}
	reconciler := resize.NewReconciler(o.changer, logger, reconcilerOpts...)
	resolver := targeting.NewResolver(cfg.AdBaseURL, cfg.AdURLMaxLength, logger, metrics)

	var cids *clientid.Service
	if store != nil {
		cids = clientid.NewService(store, cfg.CIDTTL, cfg.CIDCacheSize, cfg.CIDCacheTTL, logger, metrics)
	}

	return &Server{
		Logger:     logger,
		Store:      store,
		PG:         pg,
		Slots:      slots,
		Analytics:  analyticsSvc,
		Resolver:   resolver,
		Macros:     o.macros,
		ClientIDs:  cids,
		Reconciler: reconciler,
		Network:    adrequest.NewNetwork(resolver, reconciler, o.fetcher, logger),
		Metrics:    metrics,
		Config:     cfg,
	}
}

// SlotUpdateChannel is the Redis channel slot changes are announced on.
const SlotUpdateChannel = "slot-updates"

// UpdateMessage announces a slot change to other instances.
type UpdateMessage struct {
	Entity string `json:"entity"`
	Action string `json:"action"`
	ID     string `json:"id"`
}

func (s *Server) notifyUpdate(ctx context.Context, action, id string) {
	if s.Store == nil || s.Store.Client == nil {
		s.Logger.Warn("redis store not available, skipping update notification")
		return
	}
	payload, err := json.Marshal(UpdateMessage{Entity: "slot", Action: action, ID: id})
	if err != nil {
		s.Logger.Error("failed to marshal update message", zap.Error(err))
		return
	}
	if err := s.Store.Client.Publish(ctx, SlotUpdateChannel, payload).Err(); err != nil {
		s.Logger.Error("failed to publish update message", zap.Error(err))
	}
}

// SubscribeUpdates refreshes the slot registry whenever another instance
// announces a slot change. It returns when ctx is done.
func (s *Server) SubscribeUpdates(ctx context.Context) error {
	if s.Store == nil || s.Store.Client == nil {
		return db.ErrNilRedisStore
	}
	sub := s.Store.Client.Subscribe(ctx, SlotUpdateChannel)
	defer func() {
		_ = sub.Close()
	}()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var upd UpdateMessage
			if err := json.Unmarshal([]byte(msg.Payload), &upd); err != nil {
				s.Logger.Warn("invalid update message", zap.Error(err))
				continue
			}
			if err := s.refreshSlot(ctx, upd.ID); err != nil {
				s.Logger.Error("refresh after update", zap.Error(err), zap.String("slot_id", upd.ID))
			}
		}
	}
}

// Reload refreshes the slot registry from Postgres.
func (s *Server) Reload(ctx context.Context) error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	if s.PG == nil {
		return ErrPostgresUnavailable
	}
	return s.Slots.Reload(ctx, s.PG)
}

// refreshSlot loads one announced slot from Postgres into the registry. An
// id Postgres no longer holds triggers a full reload.
func (s *Server) refreshSlot(ctx context.Context, id string) error {
	if s.PG == nil {
		return ErrPostgresUnavailable
	}
	if id == "" {
		return s.Reload(ctx)
	}
	slots, err := s.PG.LoadSlotsByID(ctx, []string{id})
	if err != nil {
		return err
	}
	if len(slots) == 0 {
		return s.Reload(ctx)
	}
	for _, slot := range slots {
		s.Slots.Put(slot)
	}
	return nil
}
