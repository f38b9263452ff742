// Package inventory fronts the inventory provider. Every operation degrades to a
// bounded local catalog when the provider cannot answer, and every result
// reports which of the two produced it.
package inventory

import (
	"context"
	"errors"

	"github.com/himpar21/medisync/internal/apperr"
	"github.com/himpar21/medisync/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var ErrMedicineNotFound = apperr.New(apperr.ErrNotFound, "Medicine not found")

// Upstream is the remote provider. *Client implements it.
type Upstream interface {
	ListMedicines(ctx context.Context, filter domain.MedicineFilter) ([]domain.Medicine, error)
	GetMedicine(ctx context.Context, id string) (*domain.Medicine, error)
	Verify(ctx context.Context, lines []domain.StockLine) (bool, []domain.Unavailable, error)
	Reserve(ctx context.Context, lines []domain.StockLine, reference string) error
	Deduct(ctx context.Context, lines []domain.StockLine, reference string) error
	Release(ctx context.Context, lines []domain.StockLine, reference string) error
}

type VerifyResult struct {
	OK          bool
	Unavailable []domain.Unavailable
	Source      domain.Source
}

type ReserveResult struct {
	OK       bool
	Message  string
	Source   domain.Source
	Strategy string
}

type ReleaseResult struct {
	Source domain.Source
}

// reserveStrategy is one way of holding stock. An error hands over to the
// next strategy; a result, successful or not, is final.
type reserveStrategy struct {
	name    string
	reserve func(ctx context.Context, lines []domain.StockLine, reference string) (ReserveResult, error)
}

type Gateway struct {
	upstream   Upstream
	local      *LocalCatalog
	logger     *zap.Logger
	fallbacks  *prometheus.CounterVec
	strategies []reserveStrategy
}

type Option func(*Gateway)

func WithLogger(logger *zap.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

// WithFallbackCounter counts fallbacks by operation label.
func WithFallbackCounter(c *prometheus.CounterVec) Option {
	return func(g *Gateway) { g.fallbacks = c }
}

func NewGateway(upstream Upstream, local *LocalCatalog, opts ...Option) *Gateway {
	g := &Gateway{
		upstream: upstream,
		local:    local,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}

	g.strategies = []reserveStrategy{
		{name: "upstream-reserve", reserve: g.upstreamHold(upstream.Reserve)},
		{name: "upstream-deduct", reserve: g.upstreamHold(upstream.Deduct)},
		{name: "local-reserve", reserve: g.localReserve},
	}
	return g
}

// ListMedicines never fails: an unreachable provider or an empty upstream
// list both fall back to the local catalog.
func (g *Gateway) ListMedicines(ctx context.Context, filter domain.MedicineFilter) ([]domain.Medicine, domain.Source) {
	items, err := g.upstream.ListMedicines(ctx, filter)
	if err == nil && len(items) > 0 {
		return items, domain.SourceUpstream
	}
	g.fellBack("list", err)
	return g.local.List(filter), domain.SourceFallback
}

// GetMedicine reports which catalog answered alongside the medicine.
func (g *Gateway) GetMedicine(ctx context.Context, id string) (*domain.Medicine, domain.Source, error) {
	m, err := g.upstream.GetMedicine(ctx, id)
	if err == nil {
		return m, domain.SourceUpstream, nil
	}
	g.fellBack("get", err)

	local, ok := g.local.Get(id)
	if !ok {
		return nil, domain.SourceFallback, ErrMedicineNotFound
	}
	return local, domain.SourceFallback, nil
}

func (g *Gateway) VerifyStock(ctx context.Context, lines []domain.StockLine) VerifyResult {
	ok, unavailable, err := g.upstream.Verify(ctx, lines)
	if err == nil {
		return VerifyResult{OK: ok, Unavailable: unavailable, Source: domain.SourceUpstream}
	}
	g.fellBack("verify", err)

	unavailable = g.local.Verify(lines)
	return VerifyResult{
		OK:          len(unavailable) == 0,
		Unavailable: unavailable,
		Source:      domain.SourceFallback,
	}
}

// ReserveStock walks the strategy list and returns the first final answer.
func (g *Gateway) ReserveStock(ctx context.Context, lines []domain.StockLine, reference string) ReserveResult {
	for _, strategy := range g.strategies {
		result, err := strategy.reserve(ctx, lines, reference)
		if err != nil {
			g.logger.Warn("reserve strategy failed",
				zap.String("strategy", strategy.name),
				zap.String("reference", reference),
				zap.Error(err),
			)
			continue
		}
		result.Strategy = strategy.name
		if result.Source == domain.SourceFallback {
			g.fellBack("reserve", nil)
		}
		return result
	}
	return ReserveResult{OK: false, Message: "Unable to reserve stock", Source: domain.SourceFallback}
}

// ReleaseStock always succeeds; the local table absorbs what the provider refuses.
func (g *Gateway) ReleaseStock(ctx context.Context, lines []domain.StockLine, reference string) ReleaseResult {
	err := g.upstream.Release(ctx, lines, reference)
	if err == nil {
		return ReleaseResult{Source: domain.SourceUpstream}
	}
	g.fellBack("release", err)

	g.local.Release(lines)
	return ReleaseResult{Source: domain.SourceFallback}
}

func (g *Gateway) upstreamHold(call func(context.Context, []domain.StockLine, string) error) func(context.Context, []domain.StockLine, string) (ReserveResult, error) {
	return func(ctx context.Context, lines []domain.StockLine, reference string) (ReserveResult, error) {
		if err := call(ctx, lines, reference); err != nil {
			return ReserveResult{}, err
		}
		return ReserveResult{OK: true, Source: domain.SourceUpstream}, nil
	}
}

func (g *Gateway) localReserve(_ context.Context, lines []domain.StockLine, _ string) (ReserveResult, error) {
	err := g.local.Reserve(lines)
	var insufficient *InsufficientStockError
	if errors.As(err, &insufficient) {
		return ReserveResult{OK: false, Message: insufficient.Error(), Source: domain.SourceFallback}, nil
	}
	if err != nil {
		return ReserveResult{}, err
	}
	return ReserveResult{OK: true, Source: domain.SourceFallback}, nil
}

func (g *Gateway) fellBack(operation string, cause error) {
	if g.fallbacks != nil {
		g.fallbacks.WithLabelValues(operation).Inc()
	}
	if cause != nil {
		g.logger.Info("inventory fallback",
			zap.String("operation", operation),
			zap.String("source", string(domain.SourceFallback)),
			zap.Error(cause),
		)
	}
}
