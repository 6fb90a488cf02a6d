// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"errors"
	"sync"

	"github.com/coinkit/walletsync/wallet/internal/db"
	"github.com/lightningnetwork/lnd/queue"
)

// ErrNotifierStopped is returned when subscribing to a stopped notifier.
var ErrNotifierStopped = errors.New("notifier stopped")

// subscriberBacklog is the initial buffer of each subscription queue.
const subscriberBacklog = 20

// SyncStarted is emitted when a sync pass begins.
type SyncStarted struct {
	Type SyncType
}

// SyncFinished is emitted when a sync pass ends. Err is nil on success.
type SyncFinished struct {
	Type SyncType
	Err  error
}

// BalanceChanged is emitted when a pass or a payment moved the balance.
type BalanceChanged struct {
	Balance Balance
}

// InvitationStatusChanged is emitted on every local invitation transition.
type InvitationStatusChanged struct {
	ID     string
	Side   db.Side
	Status db.InvitationStatus
}

// Subscription delivers engine signals to one consumer.
type Subscription struct {
	id      uint64
	updates *queue.ConcurrentQueue
	quit    chan struct{}
	cancel  func()
}

// Updates returns the channel signals are delivered on. Values are one of
// SyncStarted, SyncFinished, BalanceChanged or InvitationStatusChanged.
func (s *Subscription) Updates() <-chan interface{} {
	return s.updates.ChanOut()
}

// Quit is closed once the subscription no longer receives signals.
func (s *Subscription) Quit() <-chan struct{} {
	return s.quit
}

// Cancel ends the subscription.
func (s *Subscription) Cancel() {
	s.cancel()
}

// notifier fans signals out to every subscription. Each subscription has an
// unbounded queue so a slow consumer never blocks the engine.
type notifier struct {
	mu      sync.Mutex
	nextID  uint64
	subs    map[uint64]*Subscription
	stopped bool
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[uint64]*Subscription)}
}

// subscribe registers a new subscription.
func (n *notifier) subscribe() (*Subscription, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.stopped {
		return nil, ErrNotifierStopped
	}

	n.nextID++
	sub := &Subscription{
		id:      n.nextID,
		updates: queue.NewConcurrentQueue(subscriberBacklog),
		quit:    make(chan struct{}),
	}
	sub.cancel = func() { n.remove(sub.id) }
	sub.updates.Start()

	n.subs[sub.id] = sub

	return sub, nil
}

// remove stops and forgets a subscription.
func (n *notifier) remove(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	sub, ok := n.subs[id]
	if !ok {
		return
	}

	delete(n.subs, id)
	close(sub.quit)
	sub.updates.Stop()
}

// send delivers update to every subscription.
func (n *notifier) send(update interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, sub := range n.subs {
		select {
		case sub.updates.ChanIn() <- update:
		case <-sub.quit:
		}
	}
}

// stop ends every subscription and refuses new ones.
func (n *notifier) stop() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.stopped = true
	for id, sub := range n.subs {
		delete(n.subs, id)
		close(sub.quit)
		sub.updates.Stop()
	}
}
