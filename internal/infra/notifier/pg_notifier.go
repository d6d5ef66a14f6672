// internal/infra/notifier/pg_notifier.go
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"khatam_bot/internal/domain/khatam"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const (
	minReconnectInterval = 10 * time.Second
	maxReconnectInterval = time.Minute
	pingInterval         = 90 * time.Second
)

// PGNotifier turns Postgres NOTIFY messages into khatam.ChangeEvent values and
// fans them out to subscribers.
type PGNotifier struct {
	listener *pq.Listener
	channel  string
	logger   *logrus.Entry

	mu      sync.RWMutex
	subs    map[khatam.SubscriptionID]func(khatam.ChangeEvent)
	nextSub khatam.SubscriptionID
}

// NewPGNotifier opens a dedicated listener connection and LISTENs on channel.
func NewPGNotifier(dataSourceName, channel string, logger *logrus.Entry) (*PGNotifier, error) {
	n := &PGNotifier{
		channel: channel,
		logger:  logger.WithFields(logrus.Fields{"component": "notifier", "channel": channel}),
		subs:    make(map[khatam.SubscriptionID]func(khatam.ChangeEvent)),
	}
	n.listener = pq.NewListener(dataSourceName, minReconnectInterval, maxReconnectInterval, n.onListenerEvent)
	if err := n.listener.Listen(channel); err != nil {
		n.listener.Close()
		return nil, fmt.Errorf("failed to listen on channel %s: %w", channel, err)
	}
	return n, nil
}

func (n *PGNotifier) onListenerEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnected:
		n.logger.Info("Listener connected")
	case pq.ListenerEventDisconnected:
		n.logger.WithError(err).Warn("Listener disconnected")
	case pq.ListenerEventReconnected:
		n.logger.Info("Listener reconnected")
	case pq.ListenerEventConnectionAttemptFailed:
		n.logger.WithError(err).Warn("Listener connection attempt failed")
	}
}

func (n *PGNotifier) Subscribe(onChange func(khatam.ChangeEvent)) khatam.SubscriptionID {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextSub++
	n.subs[n.nextSub] = onChange
	return n.nextSub
}

func (n *PGNotifier) Unsubscribe(id khatam.SubscriptionID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.subs, id)
}

// Run delivers notifications until ctx is cancelled.
func (n *PGNotifier) Run(ctx context.Context) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	n.logger.Info("Change notifier started")
	for {
		select {
		case <-ctx.Done():
			n.logger.Info("Change notifier stopped")
			return nil
		case notif := <-n.listener.Notify:
			ev, err := DecodeEvent(notif)
			if err != nil {
				n.logger.WithError(err).Warn("Undecodable change payload, treating as unknown change")
			}
			n.dispatch(ev)
		case <-ticker.C:
			go func() {
				if err := n.listener.Ping(); err != nil {
					n.logger.WithError(err).Debug("Listener ping failed")
				}
			}()
		}
	}
}

func (n *PGNotifier) dispatch(ev khatam.ChangeEvent) {
	n.mu.RLock()
	handlers := make([]func(khatam.ChangeEvent), 0, len(n.subs))
	for _, h := range n.subs {
		handlers = append(handlers, h)
	}
	n.mu.RUnlock()

	n.logger.WithFields(logrus.Fields{"relation": ev.Relation, "op": ev.Operation}).Debug("Change received")
	for _, h := range handlers {
		h(ev)
	}
}

func (n *PGNotifier) Close() error {
	return n.listener.Close()
}

// DecodeEvent parses a trigger payload. A nil notification (sent by the listener
// after a reconnect, when notifications may have been missed) and a malformed
// payload both decode to an unknown-relation event.
func DecodeEvent(notif *pq.Notification) (khatam.ChangeEvent, error) {
	if notif == nil {
		return khatam.ChangeEvent{Relation: khatam.RelationUnknown, Operation: "RECONNECT"}, nil
	}
	var ev khatam.ChangeEvent
	if err := json.Unmarshal([]byte(notif.Extra), &ev); err != nil {
		return khatam.ChangeEvent{Relation: khatam.RelationUnknown}, fmt.Errorf("decode payload %q: %w", notif.Extra, err)
	}
	switch ev.Relation {
	case khatam.RelationUnits, khatam.RelationMetadata, khatam.RelationHistory:
	default:
		ev.Relation = khatam.RelationUnknown
	}
	return ev, nil
}
