package macros

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/patrickwarner/rtcadserve/internal/models"
)

// Service expands RTC request templates for slots on a page.
type Service struct {
	expander *Expander
	logger   *zap.Logger
}

// NewService creates a macro service registering its metrics globally.
func NewService(logger *zap.Logger, timeout time.Duration) *Service {
	return newService(logger, prometheus.DefaultRegisterer, timeout)
}

// NewServiceForTesting creates a macro service with an isolated metrics
// registry.
func NewServiceForTesting(logger *zap.Logger, timeout time.Duration) *Service {
	return newService(logger, prometheus.NewRegistry(), timeout)
}

func newService(logger *zap.Logger, reg prometheus.Registerer, timeout time.Duration) *Service {
	d := NewDispatcher(logger, reg, timeout)
	return &Service{
		expander: NewExpander(d, logger),
		logger:   logger.Named("macro_service"),
	}
}

// NewPageProvider returns a Provider for one page view of the user behind
// clientIDs.
func (s *Service) NewPageProvider(page models.Page, clientIDs ClientIDSource) *Provider {
	return NewProvider(page, page, clientIDs, s.logger)
}

// ExpandForSlot expands template with the macro table of slot on page.
func (s *Service) ExpandForSlot(ctx context.Context, p *Provider, slot models.Slot, template string) string {
	t := p.Table(slot)
	if unknown := Unsupported(template, t); len(unknown) > 0 {
		s.logger.Debug("Template contains unsupported macros",
			zap.String("slot", slot.ID),
			zap.Strings("macros", unknown))
	}
	return s.expander.Expand(ctx, template, t)
}
