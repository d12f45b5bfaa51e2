package ports

import (
	"context"

	"github.com/betbot/unitgrid/internal/domain"
	"github.com/betbot/unitgrid/internal/events"
)

// PriceHandler receives price ticks (feed -> tracker).
type PriceHandler interface {
	OnPrice(ctx context.Context, tick domain.PriceTick) error
}

// FillHandler receives fill notifications (feed/exchange -> tracker).
type FillHandler interface {
	OnFill(ctx context.Context, fill domain.Fill) error
}

// EventSink receives tracker output events.
//
// NOTE: Publish is called from the tracker goroutine; implementations must not block
// (buffer internally and drop/log when full).
type EventSink interface {
	Publish(ev events.Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ev events.Event)

func (f EventSinkFunc) Publish(ev events.Event) { f(ev) }

// MultiSink fans out to several sinks in order.
type MultiSink []EventSink

func (m MultiSink) Publish(ev events.Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(ev)
		}
	}
}
