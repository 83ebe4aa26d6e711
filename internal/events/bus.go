package events

import (
	"sync"
	"time"

	"maestro/internal/logging"
)

const (
	// DefaultBufferSize is the ring capacity used when the config does not
	// override it.
	DefaultBufferSize = 200

	// subscriberBufSize is the extra headroom a subscriber channel gets on
	// top of the replayed buffer.
	subscriberBufSize = 64
)

// Bus is the single pathway between the runtime and external subscribers.
// It owns the process-wide sequence counter and a bounded ring of the most
// recent envelopes which is replayed to late joiners.
//
// Publish never blocks on subscribers: a subscriber that cannot keep up is
// closed and removed, and must re-subscribe to resume (it then receives the
// current ring contents again).
type Bus struct {
	mu      sync.Mutex
	seq     uint64
	ring    []Envelope
	start   int // index of the oldest envelope
	count   int
	wraps   uint64
	nextSub int
	subs    map[int]chan Envelope
	closed  bool
	logger  logging.Logger
}

// NewBus creates a bus with the given ring capacity. Size <= 0 falls back to
// DefaultBufferSize.
func NewBus(size int, logger logging.Logger) *Bus {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Bus{
		ring:   make([]Envelope, size),
		subs:   make(map[int]chan Envelope),
		logger: logging.OrNop(logger),
	}
}

// Publish allocates the next sequence number, stores the envelope in the
// ring, and fans it out to all live subscribers. It returns the allocated
// sequence.
func (b *Bus) Publish(eventType, taskID string, payload any) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0
	}

	b.seq++
	env := Envelope{
		Sequence: b.seq,
		Type:     eventType,
		TaskID:   taskID,
		At:       time.Now().UTC(),
		Payload:  payload,
	}

	pos := (b.start + b.count) % len(b.ring)
	if b.count == len(b.ring) {
		// Ring full: the oldest envelope falls off.
		b.start = (b.start + 1) % len(b.ring)
		if b.wraps == 0 {
			b.logger.Warn("event ring wrapped at sequence %d; late subscribers will see a gap", b.seq)
		}
		b.wraps++
	} else {
		b.count++
	}
	b.ring[pos] = env

	for id, ch := range b.subs {
		select {
		case ch <- env:
		default:
			// Subscriber fell behind. Drop it; it must re-subscribe.
			b.logger.Warn("dropping slow event subscriber %d at sequence %d", id, env.Sequence)
			delete(b.subs, id)
			close(ch)
		}
	}

	return env.Sequence
}

// Subscribe registers a new subscriber. The returned channel first delivers
// every envelope currently buffered, in sequence order, then live envelopes
// as they are published. The cancel function removes the subscription.
func (b *Bus) Subscribe() (<-chan Envelope, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Envelope, len(b.ring)+subscriberBufSize)
	for i := 0; i < b.count; i++ {
		ch <- b.ring[(b.start+i)%len(b.ring)]
	}

	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
	}
	return ch, cancel
}

// Recent returns up to limit of the most recent envelopes, oldest first.
// Limit is clamped to the ring capacity.
func (b *Bus) Recent(limit int) []Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()

	if limit <= 0 || limit > b.count {
		limit = b.count
	}
	out := make([]Envelope, 0, limit)
	for i := b.count - limit; i < b.count; i++ {
		out = append(out, b.ring[(b.start+i)%len(b.ring)])
	}
	return out
}

// Sequence returns the last allocated sequence number.
func (b *Bus) Sequence() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Wraps reports how many envelopes have fallen off the ring.
func (b *Bus) Wraps() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.wraps
}

// Close terminates all subscriptions. Publish becomes a no-op afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
