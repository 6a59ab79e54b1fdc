package chat

import (
	"context"
	"log/slog"

	"relaycore/internal/observability"
)

// ensureSubscription starts a subscriber task for convKey if none is
// currently running in this process (§4.1.1: at most one subscribing task
// per channel per process).
func (r *Router) ensureSubscription(convKey string) {
	r.subMu.Lock()
	if _, exists := r.subs[convKey]; exists {
		r.subMu.Unlock()
		return
	}
	sub := &roomSub{unsub: make(chan struct{})}
	r.subs[convKey] = sub
	r.subMu.Unlock()

	observability.PresenceSubscriptionsActive.Inc()
	r.wg.Add(1)
	go r.runSubscription(convKey, sub)
}

// unsubscribe signals the subscriber task for convKey to tear down, if one
// is running. Safe to call when none exists.
func (r *Router) unsubscribe(convKey string) {
	r.subMu.Lock()
	sub, exists := r.subs[convKey]
	if exists {
		delete(r.subs, convKey)
	}
	r.subMu.Unlock()
	if exists {
		close(sub.unsub)
	}
}

// runSubscription owns one pub/sub handle for convKey and loops over
// select(unsub_signal, next_message) until either fires (§4.1.1).
func (r *Router) runSubscription(convKey string, sub *roomSub) {
	defer r.wg.Done()
	defer observability.PresenceSubscriptionsActive.Dec()

	pubsub, err := r.presence.Subscribe(r.ctx, convKey)
	if err != nil {
		slog.Default().Error("chat: subscribe failed", "conversation_id", convKey, "error", err)
		r.subMu.Lock()
		if r.subs[convKey] == sub {
			delete(r.subs, convKey)
		}
		r.subMu.Unlock()
		return
	}
	defer func() { _ = pubsub.Close() }()

	ch := pubsub.Channel()
	for {
		select {
		case <-sub.unsub:
			return
		case <-r.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				// Fatal pub/sub stream end: log and exit; a future Join
				// re-creates the subscription (§7 propagation rules).
				r.subMu.Lock()
				if r.subs[convKey] == sub {
					delete(r.subs, convKey)
				}
				r.subMu.Unlock()
				return
			}
			r.deliverLocal(convKey, []byte(msg.Payload))
		}
	}
}

// deliverLocal fans a room broadcast out to every local session whose
// active_room matches convKey (§4.1.1 inbound pub/sub handling).
func (r *Router) deliverLocal(convKey string, payload []byte) {
	ctx := context.Background()
	activeUsers, err := r.presence.ActiveUsers(ctx, convKey)
	if err != nil {
		slog.Default().Error("chat: active users lookup failed", "conversation_id", convKey, "error", err)
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, userID := range activeUsers {
		for connID := range r.byUser[userID] {
			sess, ok := r.sessions[connID]
			if !ok || sess.activeRoom != convKey {
				continue
			}
			select {
			case sess.sink <- payload:
			default:
				observability.WebSocketBackpressureDrops.WithLabelValues("chat_router", "full").Inc()
			}
		}
	}
}
