// Package events publishes domain events. Every mutating operation emits its
// topic (marketplace.<entity>.<verb>) with the affected entity.
package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/tringuyen-psa/shopify-shop-sub002/internal/logbus"
)

type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

type Nop struct{}

func (Nop) Publish(context.Context, string, any) error { return nil }

// BusPublisher mirrors events onto the in-process log bus.
type BusPublisher struct {
	Bus *logbus.Bus
}

func (p BusPublisher) Publish(_ context.Context, topic string, payload any) error {
	if p.Bus != nil {
		p.Bus.Event(topic, payload)
	}
	return nil
}

// Multi publishes to each publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, topic string, payload any) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, topic, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Emit publishes and logs failures; callers never fail a request because an
// event could not be delivered.
func Emit(ctx context.Context, p Publisher, topic string, payload any) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, topic, payload); err != nil {
		slog.WarnContext(ctx, "event publish failed", "topic", topic, "error", err.Error())
	}
}

// Recorder keeps published events in memory. Used by tests across packages.
type Recorder struct {
	mu     sync.Mutex
	Topics []string
	Items  []any
}

func (r *Recorder) Publish(_ context.Context, topic string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Topics = append(r.Topics, topic)
	r.Items = append(r.Items, payload)
	return nil
}

func (r *Recorder) Has(topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.Topics {
		if t == topic {
			return true
		}
	}
	return false
}
