// Package notify fans events out to any number of subscribers.
package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

const multiplexerTimeout = 200 * time.Millisecond

type subscriber[E any] struct {
	ch      chan E
	comment string
}

// MultiplexerSender is the sending half of a Multiplexer.
type MultiplexerSender[E any] struct {
	m *Multiplexer[E]
}

// Send delivers e to every subscriber without blocking the caller. Events sent this way may
// arrive out of order.
func (ms *MultiplexerSender[E]) Send(e E) {
	go ms.m.send(e)
}

// SendSync delivers e to every subscriber before returning.
func (ms *MultiplexerSender[E]) SendSync(e E) {
	ms.m.send(e)
}

func NewMultiplexerSender[E any](comment string) (*MultiplexerSender[E], *Multiplexer[E]) {
	m := &Multiplexer[E]{
		comment: comment,
		timeout: multiplexerTimeout,
		log:     zap.S().Named("notify"),
	}
	return &MultiplexerSender[E]{m: m}, m
}

// Multiplexer delivers each event to all subscribers in turn. A subscriber that does not receive
// within the timeout misses that event.
type Multiplexer[E any] struct {
	comment         string
	timeout         time.Duration
	log             *zap.SugaredLogger
	subscribersLock sync.Mutex
	subscribers     []subscriber[E]
	latest          E
	hasLatest       bool
	dropped         int
}

func (m *Multiplexer[E]) Subscribe(comment string, c chan E) {
	m.subscribersLock.Lock()
	defer m.subscribersLock.Unlock()
	m.subscribers = append(m.subscribers, subscriber[E]{
		ch:      c,
		comment: comment,
	})
}

// Unsubscribe stops delivery to c. c is not closed.
func (m *Multiplexer[E]) Unsubscribe(c chan E) {
	m.subscribersLock.Lock()
	defer m.subscribersLock.Unlock()
	i := slices.IndexFunc(m.subscribers, func(sub subscriber[E]) bool { return sub.ch == c })
	if i == -1 {
		panic("already unsubscribed")
	}
	m.subscribers = slices.Delete(m.subscribers, i, i+1)
}

func (m *Multiplexer[E]) Len() int {
	m.subscribersLock.Lock()
	defer m.subscribersLock.Unlock()
	return len(m.subscribers)
}

// Latest returns the last event sent, for subscribers that join late.
func (m *Multiplexer[E]) Latest() (E, bool) {
	m.subscribersLock.Lock()
	defer m.subscribersLock.Unlock()
	return m.latest, m.hasLatest
}

// Dropped is the number of deliveries that timed out.
func (m *Multiplexer[E]) Dropped() int {
	m.subscribersLock.Lock()
	defer m.subscribersLock.Unlock()
	return m.dropped
}

func (m *Multiplexer[E]) send(e E) {
	m.subscribersLock.Lock()
	defer m.subscribersLock.Unlock()
	m.latest, m.hasLatest = e, true
	for _, sub := range m.subscribers {
		select {
		case sub.ch <- e:
		case <-time.After(m.timeout):
			m.dropped++
			m.log.Warnw("subscriber timed out, event dropped", "multiplexer", m.comment, "subscriber", sub.comment, "dropped", m.dropped)
		}
	}
}
