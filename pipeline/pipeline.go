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

package pipeline

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ultrarentz/escrowd/database"
	"github.com/ultrarentz/escrowd/escrow"
	"github.com/ultrarentz/escrowd/event"
	"github.com/ultrarentz/escrowd/ledgerlog"
	"github.com/ultrarentz/escrowd/notify"
)

const (
	DefaultWorkerCount = 4
	workerQueueSize    = 256
)

// BackfillRequestEventType is published on the event bus when a stream gap
// pauses a deposit. An operator or upstream ingester responds by appending
// the missing events to the ledger log and calling Resume.
const BackfillRequestEventType event.EventType = "pipeline.backfill_request"

// BackfillRequest identifies the span of missing events for a paused deposit.
type BackfillRequest struct {
	DepositID uint64
	// After is the last position applied for the deposit
	After ledgerlog.Position
	// Before is the position of the event that exposed the gap
	Before ledgerlog.Position
}

var ErrNotPaused = errors.New("deposit is not paused")

// Config contains the configuration for the ingestion pipeline.
type Config struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	Store        *database.Store
	Machine      *escrow.Machine
	EventBus     *event.EventBus
	Workers      int
}

// Pipeline applies ledger events to the projection exactly once and in
// per-deposit order. Events are partitioned across workers by deposit ID so
// different deposits apply concurrently while a single deposit's events stay
// serialized.
type Pipeline struct {
	logger   *slog.Logger
	store    *database.Store
	machine  *escrow.Machine
	eventBus *event.EventBus
	metrics  *pipelineMetrics
	workers  []*worker
	workerWg sync.WaitGroup
	stopOnce sync.Once
	stopped  bool
	stopMu   sync.RWMutex
}

// worker owns one partition of the deposit ID space. The worker lock guards
// the state cache against Resume, which replays a paused deposit from a
// different goroutine.
type worker struct {
	queue chan ledgerlog.EventEnvelope
	cache map[uint64]escrow.DepositState
	mu    sync.Mutex
}

// New creates an ingestion pipeline and starts its worker pool.
func New(cfg *Config) *Pipeline {
	p := &Pipeline{
		logger:   cfg.Logger,
		store:    cfg.Store,
		machine:  cfg.Machine,
		eventBus: cfg.EventBus,
	}
	if p.logger == nil {
		p.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.PromRegistry != nil {
		p.initMetrics(cfg.PromRegistry)
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkerCount
	}
	p.workers = make([]*worker, workers)
	for i := range p.workers {
		w := &worker{
			queue: make(chan ledgerlog.EventEnvelope, workerQueueSize),
			cache: make(map[uint64]escrow.DepositState),
		}
		p.workers[i] = w
		p.workerWg.Add(1)
		go p.runWorker(w)
	}
	return p
}

func (p *Pipeline) workerFor(depositID uint64) *worker {
	return p.workers[depositID%uint64(len(p.workers))]
}

// Submit queues a ledger event for application. Events for the same deposit
// are applied in submission order. Submit blocks when the deposit's partition
// queue is full, which backpressures the log append hook.
func (p *Pipeline) Submit(env ledgerlog.EventEnvelope) {
	p.stopMu.RLock()
	defer p.stopMu.RUnlock()
	if p.stopped {
		return
	}
	p.workerFor(env.Event.DepositID()).queue <- env
}

func (p *Pipeline) runWorker(w *worker) {
	defer p.workerWg.Done()
	for env := range w.queue {
		w.mu.Lock()
		if err := p.processEnvelope(w, env); err != nil {
			p.logger.Error(
				"failed to apply ledger event",
				"component", "pipeline",
				"deposit_id", env.Event.DepositID(),
				"position", env.Position.String(),
				"error", err,
			)
		}
		w.mu.Unlock()
	}
}

// Stop drains the worker queues and waits for in-flight events to finish.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.stopMu.Lock()
		p.stopped = true
		p.stopMu.Unlock()
		for _, w := range p.workers {
			close(w.queue)
		}
		p.workerWg.Wait()
	})
}

// processEnvelope applies a single event. The caller must hold the worker
// lock.
func (p *Pipeline) processEnvelope(
	w *worker,
	env ledgerlog.EventEnvelope,
) error {
	depositID := env.Event.DepositID()
	eventType := string(env.Event.Type())

	// Exactly-once: skip events already applied under this dedup key
	applied, err := p.store.EventApplied(
		eventType,
		env.TxHash,
		env.Position.LogIndex,
		nil,
	)
	if err != nil {
		return err
	}
	if applied {
		if p.metrics != nil {
			p.metrics.eventsDeduped.Inc()
		}
		p.logger.Debug(
			"skipping duplicate ledger event",
			"component", "pipeline",
			"deposit_id", depositID,
			"position", env.Position.String(),
		)
		return nil
	}

	cursor, err := p.store.GetCursor(depositID, nil)
	if err != nil {
		return err
	}
	if cursor != nil {
		cursorPos := cursor.Position()
		if cursor.Paused {
			// The deposit stream is held on a gap. The log retains the
			// event; Resume replays it after backfill.
			p.logger.Warn(
				"skipping event for paused deposit",
				"component", "pipeline",
				"deposit_id", depositID,
				"position", env.Position.String(),
			)
			return nil
		}
		if env.Position.Compare(cursorPos) <= 0 {
			// Stale event behind the cursor, already superseded
			if p.metrics != nil {
				p.metrics.eventsDeduped.Inc()
			}
			return nil
		}
		if env.Prev.Compare(cursorPos) != 0 {
			return p.pauseOnGap(depositID, cursorPos, env)
		}
	} else if !env.Prev.IsZero() {
		// First sighting of this deposit but the event chains to an
		// earlier one we never saw
		return p.pauseOnGap(depositID, ledgerlog.Position{}, env)
	}

	state, ok := w.cache[depositID]
	if !ok {
		state, err = p.store.LoadDepositState(
			depositID,
			p.machine.Threshold(),
			nil,
		)
		if err != nil {
			return err
		}
	}

	newState, domainEvents, applyErr := p.machine.Apply(state, env.Event)
	if applyErr != nil {
		return p.recordRejection(depositID, env, applyErr)
	}

	txn := p.store.Transaction()
	if err := p.persistApplied(txn, env, newState, domainEvents); err != nil {
		txn.Rollback()
		return err
	}
	if err := txn.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit event application: %w", err)
	}
	w.cache[depositID] = newState

	if p.metrics != nil {
		p.metrics.eventsApplied.Inc()
	}
	p.publishNotifications(newState, domainEvents)
	return nil
}

// persistApplied writes the full effect of one event inside a transaction:
// the new aggregate state, vote rows, yield history for disbursements, the
// dedup record, and the advanced cursor. Either all of it lands or none of it
// does.
func (p *Pipeline) persistApplied(
	txn *gorm.DB,
	env ledgerlog.EventEnvelope,
	state escrow.DepositState,
	domainEvents []escrow.DomainEvent,
) error {
	if err := p.store.SetDepositState(state, txn); err != nil {
		return err
	}
	for _, de := range domainEvents {
		switch payload := de.Payload.(type) {
		case escrow.VoteRecordedEvent:
			err := p.store.SetVote(
				state.ID,
				payload.Voter,
				payload.Lane,
				payload.Choice,
				env.Position.BlockHeight,
				txn,
			)
			if err != nil {
				return err
			}
		case escrow.DepositReleasedEvent:
			err := p.persistYield(
				txn,
				state,
				payload.TenantAmount,
				payload.LandlordAmount,
			)
			if err != nil {
				return err
			}
		case escrow.DisputeResolvedEvent:
			err := p.persistYield(
				txn,
				state,
				payload.TenantAmount,
				payload.LandlordAmount,
			)
			if err != nil {
				return err
			}
		}
	}
	err := p.store.MarkEventApplied(
		string(env.Event.Type()),
		env.TxHash,
		env.Position.LogIndex,
		state.ID,
		txn,
	)
	if err != nil {
		return err
	}
	return p.store.SetCursor(state.ID, env.Position, false, txn)
}

// persistYield records each party's share of a disbursement. A zero share
// writes no row.
func (p *Pipeline) persistYield(
	txn *gorm.DB,
	state escrow.DepositState,
	tenantAmount decimal.Decimal,
	landlordAmount decimal.Decimal,
) error {
	if tenantAmount.IsPositive() {
		err := p.store.AddYieldHistory(state.ID, state.Tenant, tenantAmount, txn)
		if err != nil {
			return err
		}
	}
	if landlordAmount.IsPositive() {
		return p.store.AddYieldHistory(
			state.ID,
			state.Landlord,
			landlordAmount,
			txn,
		)
	}
	return nil
}

// recordRejection audits a state machine rejection. The cursor still advances
// and the event is marked applied so a replay converges on the same
// projection instead of retrying a permanently invalid event.
func (p *Pipeline) recordRejection(
	depositID uint64,
	env ledgerlog.EventEnvelope,
	applyErr error,
) error {
	if p.metrics != nil {
		p.metrics.eventsRejected.Inc()
	}
	p.logger.Warn(
		"ledger event rejected",
		"component", "pipeline",
		"deposit_id", depositID,
		"position", env.Position.String(),
		"error", applyErr,
	)
	txn := p.store.Transaction()
	err := p.store.RecordReconciliationError(
		depositID,
		string(env.Event.Type()),
		env.TxHash,
		env.Position.LogIndex,
		applyErr.Error(),
		txn,
	)
	if err != nil {
		txn.Rollback()
		return err
	}
	err = p.store.MarkEventApplied(
		string(env.Event.Type()),
		env.TxHash,
		env.Position.LogIndex,
		depositID,
		txn,
	)
	if err != nil {
		txn.Rollback()
		return err
	}
	if err := p.store.SetCursor(depositID, env.Position, false, txn); err != nil {
		txn.Rollback()
		return err
	}
	if err := txn.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit rejection audit: %w", err)
	}
	return nil
}

// pauseOnGap holds a deposit's stream when an event does not chain to the
// last applied position, audits the gap, and requests a backfill.
func (p *Pipeline) pauseOnGap(
	depositID uint64,
	cursorPos ledgerlog.Position,
	env ledgerlog.EventEnvelope,
) error {
	if p.metrics != nil {
		p.metrics.gapsDetected.Inc()
		p.metrics.pausedDeposits.Inc()
	}
	p.logger.Warn(
		"gap detected in deposit event stream, pausing deposit",
		"component", "pipeline",
		"deposit_id", depositID,
		"cursor", cursorPos.String(),
		"event_prev", env.Prev.String(),
		"position", env.Position.String(),
	)
	txn := p.store.Transaction()
	reason := fmt.Sprintf(
		"stream gap: event at %s chains to %s but cursor is at %s",
		env.Position,
		env.Prev,
		cursorPos,
	)
	err := p.store.RecordReconciliationError(
		depositID,
		string(env.Event.Type()),
		env.TxHash,
		env.Position.LogIndex,
		reason,
		txn,
	)
	if err != nil {
		txn.Rollback()
		return err
	}
	if err := p.store.SetCursor(depositID, cursorPos, true, txn); err != nil {
		txn.Rollback()
		return err
	}
	if err := txn.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit gap audit: %w", err)
	}
	if p.eventBus != nil {
		p.eventBus.PublishAsync(
			BackfillRequestEventType,
			event.NewEvent(
				BackfillRequestEventType,
				BackfillRequest{
					DepositID: depositID,
					After:     cursorPos,
					Before:    env.Position,
				},
			),
		)
	}
	return nil
}

// Resume replays a paused deposit from the ledger log after its gap has been
// backfilled, then unpauses it. Events already applied are skipped by the
// dedup check, so replaying from the beginning of the deposit is safe.
func (p *Pipeline) Resume(log *ledgerlog.Log, depositID uint64) error {
	w := p.workerFor(depositID)
	w.mu.Lock()
	defer w.mu.Unlock()

	cursor, err := p.store.GetCursor(depositID, nil)
	if err != nil {
		return err
	}
	if cursor == nil || !cursor.Paused {
		return fmt.Errorf("deposit %d: %w", depositID, ErrNotPaused)
	}
	if err := p.store.SetCursorPaused(depositID, false, nil); err != nil {
		return err
	}
	// Replay from the last applied position. The gap check runs again for
	// each event, so an incomplete backfill re-pauses instead of applying
	// out of order.
	after := cursor.Position()
	err = log.IterateDeposit(depositID, after, func(env ledgerlog.EventEnvelope) error {
		return p.processEnvelope(w, env)
	})
	if err != nil {
		return err
	}
	if p.metrics != nil {
		p.metrics.pausedDeposits.Dec()
	}
	p.logger.Info(
		"resumed deposit event stream",
		"component", "pipeline",
		"deposit_id", depositID,
	)
	return nil
}

// publishNotifications fans domain events out through the event bus for the
// realtime notifier. Delivery is asynchronous and best-effort; the projection
// is already committed.
func (p *Pipeline) publishNotifications(
	state escrow.DepositState,
	domainEvents []escrow.DomainEvent,
) {
	if p.eventBus == nil {
		return
	}
	participants := state.Participants()
	for _, de := range domainEvents {
		p.eventBus.PublishAsync(
			event.EventType(de.Type),
			event.NewEvent(
				event.EventType(de.Type),
				notify.Notification{
					EventType:    de.Type,
					DepositID:    de.DepositID,
					Payload:      de.Payload,
					Participants: participants,
					OccurredAt:   time.Now(),
				},
			),
		)
	}
}
