// interval.go implements the shared mutable heartbeat interval: an
// atomic integer the heartbeat loop reads and marker processing writes,
// plus a notify primitive so a HEARTBEAT_INTERVAL change wakes a
// sleeping loop immediately instead of waiting for the next
// clock-aligned tick.
package heartbeat

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// intervalChannel is the Redis pub/sub channel name used when the signal
// is built with a Redis client, so that a future multi-process deployment (not
// otherwise supported for correctness) at least doesn't silently diverge
// on this one signal.
const intervalChannel = "omega:heartbeat:interval"

// IntervalSignal holds the live interval in minutes and wakes waiters
// when it changes. The in-process chan is always active; when rdb is
// non-nil, SetMinutes also publishes so any other process sharing the same
// Redis sees the change. cmd/omega builds it with a nil rdb, so the Redis
// path is not used there even when a Redis cache is configured.
type IntervalSignal struct {
	minutes atomic.Int64
	wake    chan struct{}
	rdb     *redis.Client
}

// NewIntervalSignal seeds the signal with an initial interval; rdb may be
// nil.
func NewIntervalSignal(initialMinutes int, rdb *redis.Client) *IntervalSignal {
	s := &IntervalSignal{wake: make(chan struct{}, 1), rdb: rdb}
	s.minutes.Store(int64(initialMinutes))
	return s
}

// Minutes returns the current interval.
func (s *IntervalSignal) Minutes() int {
	return int(s.minutes.Load())
}

// SetMinutes stores a new interval (validated 1..=1440 by the marker
// codec before this is called) and wakes any loop blocked on Wake().
func (s *IntervalSignal) SetMinutes(ctx context.Context, n int) {
	s.minutes.Store(int64(n))
	select {
	case s.wake <- struct{}{}:
	default:
	}
	if s.rdb != nil {
		s.rdb.Publish(ctx, intervalChannel, n)
	}
}

// Wake returns the channel the heartbeat loop selects on alongside its
// sleep timer.
func (s *IntervalSignal) Wake() <-chan struct{} {
	return s.wake
}

// Subscribe starts a goroutine applying remote interval changes published
// over Redis to this process's atomic value (without re-publishing, to
// avoid an echo loop); it returns immediately and runs until ctx is
// cancelled. A no-op when no Redis client is configured.
func (s *IntervalSignal) Subscribe(ctx context.Context) {
	if s.rdb == nil {
		return
	}
	sub := s.rdb.Subscribe(ctx, intervalChannel)
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				n, err := strconv.Atoi(msg.Payload)
				if err == nil && n >= 1 && n <= 1440 {
					s.minutes.Store(int64(n))
					select {
					case s.wake <- struct{}{}:
					default:
					}
				}
			}
		}
	}()
}
