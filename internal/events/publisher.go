// Package events fans order lifecycle notifications out to every configured
// sink. Delivery is best effort: failures are logged and never reach the caller.
package events

import (
	"context"
	"time"

	"github.com/himpar21/medisync/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const DefaultTimeout = 4 * time.Second

type Publisher struct {
	sinks   []Sink
	timeout time.Duration
	logger  *zap.Logger
}

func NewPublisher(logger *zap.Logger, timeout time.Duration, sinks ...Sink) *Publisher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Publisher{sinks: sinks, timeout: timeout, logger: logger}
}

func (p *Publisher) OrderCreated(ctx context.Context, order *domain.Order) {
	p.Publish(ctx, NewOrderCreated(order))
}

func (p *Publisher) OrderStatusUpdated(ctx context.Context, order *domain.Order, previous domain.OrderStatus) {
	p.Publish(ctx, NewOrderStatusUpdated(order, previous))
}

// Publish sends event to all sinks in parallel and waits for them, each bounded by
// its own timeout. The caller's cancellation does not cut delivery short.
func (p *Publisher) Publish(ctx context.Context, event Envelope) {
	p.logger.Info("order event",
		zap.String("event_type", event.EventType),
		zap.String("event_id", event.EventID),
		zap.String("key", event.key()),
	)
	if len(p.sinks) == 0 {
		return
	}

	base := context.WithoutCancel(ctx)
	var g errgroup.Group
	for _, sink := range p.sinks {
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(base, p.timeout)
			defer cancel()

			if err := sink.Send(sendCtx, event); err != nil {
				p.logger.Warn("event dispatch failed",
					zap.String("sink", sink.Name()),
					zap.String("event_type", event.EventType),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}
