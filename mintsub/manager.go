// Package mintsub multiplexes real-time quote updates from mints. Each mint
// allows only a small number of persistent connections, so the manager keeps
// at most one subscription per mint and fans its updates out to every
// watcher. The transport cannot grow a live subscription's watch set, so a
// watcher asking for unwatched quote ids replaces the mint's subscription
// with one covering the union.
package mintsub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/lightningnetwork/lnd/queue"
)

// ErrManagerStopped is returned when subscribing through a stopped manager.
var ErrManagerStopped = errors.New("subscription manager stopped")

// Update is one real-time quote state change reported by a mint.
type Update struct {
	// MintURL is the mint that sent the update.
	MintURL string

	// QuoteID is the mint-assigned quote id the update concerns.
	QuoteID string

	// State is the quote's new state as the mint reports it.
	State string

	// Payload is the raw notification body for callers that need more
	// than the state.
	Payload json.RawMessage
}

// Subscription is a live watch on a set of quote ids at one mint.
type Subscription interface {
	// Updates delivers the mint's notifications.
	Updates() <-chan Update

	// Done is closed when the subscription dies, expectedly or not.
	Done() <-chan struct{}

	// Close tears the subscription down. Idempotent.
	Close() error
}

// Transport opens subscriptions against mints. The production implementation
// is WebsocketTransport; tests substitute fakes.
type Transport interface {
	Subscribe(ctx context.Context, mintURL string,
		quoteIDs []string) (Subscription, error)
}

// watcher is one registered callback with its own delivery queue, so a slow
// callback never blocks the socket reader or its sibling watchers.
type watcher struct {
	id        uint64
	quoteIDs  map[string]struct{}
	onUpdate  func(Update)
	ntfnQueue *queue.ConcurrentQueue
	quit      chan struct{}
}

// mintEntry is the manager's bookkeeping for one mint: the live
// subscription, the union of watched quote ids, and the watchers sharing it.
type mintEntry struct {
	sub      Subscription
	watched  map[string]struct{}
	watchers map[uint64]*watcher
}

// Manager owns every per-mint subscription. It is an explicit instance
// created by the composition root and handed to the services that need it;
// its lifecycle is tied to the session, not to the package.
type Manager struct {
	transport Transport

	mu            sync.Mutex
	mints         map[string]*mintEntry
	nextWatcherID uint64
	stopped       bool

	wg sync.WaitGroup
}

// NewManager creates a Manager that opens subscriptions through the given
// transport.
func NewManager(transport Transport) *Manager {
	return &Manager{
		transport: transport,
		mints:     make(map[string]*mintEntry),
	}
}

// Subscribe registers onUpdate for updates to the given quote ids at a mint,
// returning an idempotent cancel function. If the mint's existing
// subscription already watches a superset of the ids the socket is reused;
// otherwise the old subscription is replaced by one watching the union,
// carrying every existing watcher over. The subscription closes once the
// last watcher cancels.
func (m *Manager) Subscribe(ctx context.Context, mintURL string,
	quoteIDs []string, onUpdate func(Update)) (func(), error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil, ErrManagerStopped
	}

	w := &watcher{
		id:        m.nextWatcherID,
		quoteIDs:  idSet(quoteIDs),
		onUpdate:  onUpdate,
		ntfnQueue: queue.NewConcurrentQueue(20),
		quit:      make(chan struct{}),
	}
	m.nextWatcherID++

	entry, ok := m.mints[mintURL]
	if ok && subset(w.quoteIDs, entry.watched) {
		// The live subscription already covers the requested ids, so
		// the socket is reused as is.
		m.startWatcher(w)
		entry.watchers[w.id] = w

		log.Debugf("Mint %v: reusing subscription for %d quote ids",
			mintURL, len(quoteIDs))

		return m.cancelFunc(mintURL, w), nil
	}

	// The watch set must grow. The transport cannot add targets to a
	// live subscription, so the old one is closed and replaced by a
	// fresh one covering the union.
	union := idSet(quoteIDs)
	carried := make(map[uint64]*watcher)
	if ok {
		for id := range entry.watched {
			union[id] = struct{}{}
		}
		carried = entry.watchers

		entry.sub.Close()
		delete(m.mints, mintURL)
	}

	sub, err := m.transport.Subscribe(ctx, mintURL, setToSlice(union))
	if err != nil {
		// The old subscription is gone and no replacement could be
		// opened. The carried watchers keep their queues; they stop
		// receiving updates until they cancel or resubscribe, exactly
		// as if the socket had died.
		return nil, err
	}

	newEntry := &mintEntry{
		sub:      sub,
		watched:  union,
		watchers: carried,
	}
	m.startWatcher(w)
	newEntry.watchers[w.id] = w
	m.mints[mintURL] = newEntry

	m.wg.Add(1)
	go m.dispatch(mintURL, newEntry)

	log.Infof("Mint %v: opened subscription watching %d quote ids",
		mintURL, len(union))

	return m.cancelFunc(mintURL, w), nil
}

// startWatcher starts the watcher's delivery queue and its draining
// goroutine. Calls onUpdate serially per watcher.
func (m *Manager) startWatcher(w *watcher) {
	w.ntfnQueue.Start()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		for {
			select {
			case item, ok := <-w.ntfnQueue.ChanOut():
				if !ok {
					return
				}
				update, ok := item.(Update)
				if !ok {
					continue
				}
				if _, watched := w.quoteIDs[update.QuoteID]; watched {
					w.onUpdate(update)
				}

			case <-w.quit:
				return
			}
		}
	}()
}

// dispatch reads the subscription's updates and feeds every watcher's queue.
// When the subscription dies the mint's entry is evicted so the next
// Subscribe call establishes a fresh connection instead of being handed a
// dead one.
func (m *Manager) dispatch(mintURL string, entry *mintEntry) {
	defer m.wg.Done()

	for {
		select {
		case update := <-entry.sub.Updates():
			update.MintURL = mintURL

			m.mu.Lock()
			for _, w := range entry.watchers {
				select {
				case w.ntfnQueue.ChanIn() <- update:
				case <-w.quit:
				}
			}
			m.mu.Unlock()

		case <-entry.sub.Done():
			m.mu.Lock()
			// Only evict if this entry is still current; a grow
			// may already have replaced it.
			if m.mints[mintURL] == entry {
				delete(m.mints, mintURL)
				log.Warnf("Mint %v: subscription closed, "+
					"evicting", mintURL)
			}
			m.mu.Unlock()

			return
		}
	}
}

// cancelFunc builds the watcher's idempotent unsubscribe closure. The last
// watcher to cancel tears down the mint's transport and bookkeeping.
func (m *Manager) cancelFunc(mintURL string, w *watcher) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()

			close(w.quit)
			w.ntfnQueue.Stop()

			entry, ok := m.mints[mintURL]
			if !ok {
				return
			}
			delete(entry.watchers, w.id)

			if len(entry.watchers) == 0 {
				entry.sub.Close()
				delete(m.mints, mintURL)

				log.Debugf("Mint %v: last watcher gone, "+
					"closing subscription", mintURL)
			}
		})
	}
}

// Stop closes every subscription and waits for the delivery goroutines to
// drain. The manager cannot be reused afterwards.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true

	for mintURL, entry := range m.mints {
		entry.sub.Close()
		for _, w := range entry.watchers {
			close(w.quit)
			w.ntfnQueue.Stop()
		}
		delete(m.mints, mintURL)
	}
	m.mu.Unlock()

	m.wg.Wait()
}

func idSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func subset(sub, super map[string]struct{}) bool {
	for id := range sub {
		if _, ok := super[id]; !ok {
			return false
		}
	}
	return true
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}
