// Copyright 2025 UltraRentz Ltd
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package notify

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ultrarentz/escrowd/escrow"
	"github.com/ultrarentz/escrowd/event"
)

const (
	// SubscriptionQueueSize bounds each subscription channel. Delivery to a
	// full channel drops the notification rather than blocking the bus
	// worker, so slow consumers only lose their own updates.
	SubscriptionQueueSize = 64
)

// Notification is a confirmed deposit state change pushed to subscribers.
// Notifications are hints to refresh, not authoritative state; consumers
// that need exact values query the projection.
type Notification struct {
	Payload      any
	EventType    escrow.DomainEventType
	Participants []string
	DepositID    uint64
	OccurredAt   time.Time
}

type subscription struct {
	ch        chan Notification
	depositID uint64
	address   string
	all       bool
}

// Notifier fans confirmed deposit events out to realtime subscribers. It
// consumes the event bus and routes each notification to subscriptions
// scoped per deposit, per participant address, or firehose.
type Notifier struct {
	logger        *slog.Logger
	eventBus      *event.EventBus
	metrics       *notifyMetrics
	subscriptions map[int]*subscription
	subIds        []event.EventSubscriberId
	lastSubId     int
	mu            sync.Mutex
}

// Config contains the configuration for the notifier.
type Config struct {
	Logger       *slog.Logger
	EventBus     *event.EventBus
	PromRegistry prometheus.Registerer
}

// New creates a notifier and registers it with the event bus for every
// deposit event type.
func New(cfg *Config) *Notifier {
	n := &Notifier{
		logger:        cfg.Logger,
		eventBus:      cfg.EventBus,
		subscriptions: make(map[int]*subscription),
	}
	if n.logger == nil {
		n.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.PromRegistry != nil {
		n.initMetrics(cfg.PromRegistry)
	}
	for _, eventType := range []escrow.DomainEventType{
		escrow.DepositCreatedEventType,
		escrow.VoteRecordedEventType,
		escrow.DepositReleasedEventType,
		escrow.DisputeOpenedEventType,
		escrow.DisputeResolvedEventType,
	} {
		subId := n.eventBus.SubscribeFunc(
			event.EventType(eventType),
			n.handleEvent,
		)
		n.subIds = append(n.subIds, subId)
	}
	return n
}

func (n *Notifier) handleEvent(evt event.Event) {
	notification, ok := evt.Data.(Notification)
	if !ok {
		n.logger.Warn(
			"unexpected event payload type",
			"component", "notify",
			"type", evt.Type,
		)
		return
	}
	n.dispatch(notification)
}

func (n *Notifier) dispatch(notification Notification) {
	n.mu.Lock()
	subs := make([]*subscription, 0, len(n.subscriptions))
	for _, sub := range n.subscriptions {
		if sub.matches(notification) {
			subs = append(subs, sub)
		}
	}
	n.mu.Unlock()
	for _, sub := range subs {
		select {
		case sub.ch <- notification:
			if n.metrics != nil {
				n.metrics.delivered.Inc()
			}
		default:
			// Subscriber is not keeping up. Drop rather than stall the
			// bus worker.
			if n.metrics != nil {
				n.metrics.dropped.Inc()
			}
			n.logger.Debug(
				"subscription queue full, dropping notification",
				"component", "notify",
				"deposit_id", notification.DepositID,
				"type", notification.EventType,
			)
		}
	}
}

func (s *subscription) matches(notification Notification) bool {
	if s.all {
		return true
	}
	if s.depositID != 0 {
		return s.depositID == notification.DepositID
	}
	if s.address != "" {
		for _, addr := range notification.Participants {
			if addr == s.address {
				return true
			}
		}
	}
	return false
}

// SubscribeDeposit delivers notifications for a single deposit. The returned
// cancel func releases the subscription and closes the channel.
func (n *Notifier) SubscribeDeposit(
	depositID uint64,
) (<-chan Notification, func()) {
	return n.add(&subscription{
		ch:        make(chan Notification, SubscriptionQueueSize),
		depositID: depositID,
	})
}

// SubscribeAddress delivers notifications for every deposit in which the
// address participates as tenant, landlord, or signatory.
func (n *Notifier) SubscribeAddress(
	address string,
) (<-chan Notification, func()) {
	return n.add(&subscription{
		ch:      make(chan Notification, SubscriptionQueueSize),
		address: address,
	})
}

// SubscribeAll delivers every notification.
func (n *Notifier) SubscribeAll() (<-chan Notification, func()) {
	return n.add(&subscription{
		ch:  make(chan Notification, SubscriptionQueueSize),
		all: true,
	})
}

func (n *Notifier) add(sub *subscription) (<-chan Notification, func()) {
	n.mu.Lock()
	n.lastSubId++
	id := n.lastSubId
	n.subscriptions[id] = sub
	if n.metrics != nil {
		n.metrics.subscriptions.Inc()
	}
	n.mu.Unlock()

	cancel := func() {
		n.mu.Lock()
		if _, ok := n.subscriptions[id]; ok {
			delete(n.subscriptions, id)
			close(sub.ch)
			if n.metrics != nil {
				n.metrics.subscriptions.Dec()
			}
		}
		n.mu.Unlock()
	}
	return sub.ch, cancel
}

// Stop unsubscribes from the event bus and closes every subscription channel.
func (n *Notifier) Stop() {
	for i, eventType := range []escrow.DomainEventType{
		escrow.DepositCreatedEventType,
		escrow.VoteRecordedEventType,
		escrow.DepositReleasedEventType,
		escrow.DisputeOpenedEventType,
		escrow.DisputeResolvedEventType,
	} {
		if i < len(n.subIds) {
			n.eventBus.Unsubscribe(event.EventType(eventType), n.subIds[i])
		}
	}
	n.mu.Lock()
	for id, sub := range n.subscriptions {
		delete(n.subscriptions, id)
		close(sub.ch)
	}
	if n.metrics != nil {
		n.metrics.subscriptions.Set(0)
	}
	n.mu.Unlock()
}
