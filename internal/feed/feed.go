// Package feed fans price snapshots out to subscribers.
//
// A Broadcaster runs at most one poller. The first Subscribe starts it and
// the last Unsubscribe cancels it; each tick refreshes the price cache and
// publishes the new snapshot to every subscriber. Slow subscribers miss a
// tick rather than stalling the others.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ankgale/TFG/internal/metrics"
	"github.com/ankgale/TFG/internal/model"
)

// Prices is the part of the price cache the feed polls.
type Prices interface {
	RefreshAll(ctx context.Context) int
	List() []model.Stock
}

// Subscription receives snapshots on C until Unsubscribe closes it.
type Subscription struct {
	C <-chan []model.Stock
	c chan []model.Stock
}

// Broadcaster is the shared price topic. Safe for concurrent use.
type Broadcaster struct {
	prices   Prices
	interval time.Duration

	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	cancel  context.CancelFunc
	pollers int
}

// NewBroadcaster creates a topic polling prices every interval.
func NewBroadcaster(prices Prices, interval time.Duration) *Broadcaster {
	return &Broadcaster{
		prices:   prices,
		interval: interval,
		subs:     make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a subscriber, starting the poller if it is the first.
func (b *Broadcaster) Subscribe() *Subscription {
	c := make(chan []model.Stock, 1)
	sub := &Subscription{C: c, c: c}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[sub] = struct{}{}
	if b.cancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		b.cancel = cancel
		b.pollers++
		metrics.FeedPollers.Inc()
		go b.poll(ctx)
		slog.Debug("price feed started", "interval", b.interval)
	}
	return sub
}

// Unsubscribe removes sub and closes its channel. The poller stops with
// the last subscriber. Unsubscribing twice is a no-op.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.c)
	if len(b.subs) == 0 && b.cancel != nil {
		b.cancel()
		b.cancel = nil
		slog.Debug("price feed stopped")
	}
}

// Subscribers reports the current subscriber count.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broadcaster) poll(ctx context.Context) {
	defer func() {
		b.mu.Lock()
		b.pollers--
		b.mu.Unlock()
		metrics.FeedPollers.Dec()
	}()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.prices.RefreshAll(ctx)
			if ctx.Err() != nil {
				return
			}
			b.publish(b.prices.List())
		}
	}
}

func (b *Broadcaster) publish(snapshot []model.Stock) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		select {
		case sub.c <- snapshot:
		default:
		}
	}
}

// running reports how many poll loops are alive.
func (b *Broadcaster) running() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pollers
}
