package exec

import (
	"sort"
	"sync"

	"querygate/internal/domain"
)

// subscriberBuffer is the channel depth per subscriber. A subscriber that
// falls this far behind is dropped rather than allowed to block the
// publisher.
const subscriberBuffer = 64

type subscriber struct {
	actor string
	admin bool
	ch    chan domain.StatusEvent
}

// broadcaster fans execution status transitions out to live subscribers.
// Subscriptions are scoped to one actor; admin subscriptions see every
// actor's events. Event ids are allocated under mu so each subscriber
// observes strictly increasing ids.
type broadcaster struct {
	mu          sync.Mutex
	nextEventID int64
	subs        map[*subscriber]struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[*subscriber]struct{})}
}

// publish delivers the event to every subscriber entitled to the actor's
// stream. A subscriber whose channel is full is silently dropped (its
// channel closed) without affecting the others.
func (b *broadcaster) publish(actor string, event domain.StatusEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextEventID++
	event.EventID = b.nextEventID
	for sub := range b.subs {
		if !sub.admin && sub.actor != actor {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			close(sub.ch)
			delete(b.subs, sub)
		}
	}
}

// subscribe registers a new subscriber. The replay events are built by
// buildReplay and queued inside the same critical section that registers the
// channel, so no transition published concurrently can slip between the
// snapshot and the registration: it is either reflected in the snapshot or
// delivered on the channel.
func (b *broadcaster) subscribe(actor string, admin bool, buildReplay func() []domain.StatusEvent) (*subscriber, func()) {
	b.mu.Lock()
	var replay []domain.StatusEvent
	if buildReplay != nil {
		replay = buildReplay()
	}
	depth := subscriberBuffer
	if len(replay)+16 > depth {
		depth = len(replay) + 16
	}
	sub := &subscriber{actor: actor, admin: admin, ch: make(chan domain.StatusEvent, depth)}
	for _, ev := range replay {
		b.nextEventID++
		ev.EventID = b.nextEventID
		sub.ch <- ev
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub, func() { b.unsubscribe(sub) }
}

func (b *broadcaster) unsubscribe(sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		close(sub.ch)
		delete(b.subs, sub)
	}
}

// Subscribe opens a live status stream for the principal. Before any new
// events, one synthetic reconnect-sync event is replayed per currently live
// execution visible to the principal, ordered by submission time. The
// returned cancel function must be called when the client disconnects.
func (m *Manager) Subscribe(principal domain.ContextPrincipal) (<-chan domain.StatusEvent, func()) {
	sub, unsubscribe := m.events.subscribe(principal.Name, principal.IsAdmin, func() []domain.StatusEvent {
		return m.replayEvents(principal)
	})
	return sub.ch, unsubscribe
}

// replayEvents snapshots the live executions visible to the principal as
// reconnect-sync events. Runs under the broadcaster lock, so the registry
// lock nests inside it; publishers take the broadcaster lock without holding
// the registry lock, which keeps the ordering acyclic.
func (m *Manager) replayEvents(principal domain.ContextPrincipal) []domain.StatusEvent {
	m.mu.Lock()
	var live []*execution
	for _, e := range m.executions {
		if !principal.IsAdmin && e.actor != principal.Name {
			continue
		}
		if !e.currentStatus().Terminal() {
			live = append(live, e)
		}
	}
	m.mu.Unlock()

	sort.Slice(live, func(i, j int) bool {
		if !live[i].submittedAt.Equal(live[j].submittedAt) {
			return live[i].submittedAt.Before(live[j].submittedAt)
		}
		return live[i].id < live[j].id
	})

	replay := make([]domain.StatusEvent, 0, len(live))
	for _, e := range live {
		v := e.view()
		replay = append(replay, domain.StatusEvent{
			ExecutionID:  v.ExecutionID,
			DatasourceID: v.DatasourceID,
			Status:       v.Status,
			Message:      v.Message,
			Sync:         true,
			Timestamp:    m.now(),
		})
	}
	return replay
}
