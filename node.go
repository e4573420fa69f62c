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

package escrowd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ultrarentz/escrowd/database"
	"github.com/ultrarentz/escrowd/escrow"
	"github.com/ultrarentz/escrowd/event"
	"github.com/ultrarentz/escrowd/ledgerlog"
	"github.com/ultrarentz/escrowd/notify"
	"github.com/ultrarentz/escrowd/pipeline"
)

// Node wires the escrow components together: the ledger event log feeds the
// ingestion pipeline, which maintains the projection store and publishes
// notifications through the event bus to the realtime notifier.
type Node struct {
	eventBus      *event.EventBus
	ledgerLog     *ledgerlog.Log
	store         *database.Store
	machine       *escrow.Machine
	pipeline      *pipeline.Pipeline
	notifier      *notify.Notifier
	shutdownFuncs []func(context.Context) error
	config        Config
	done          chan struct{}
	shutdownOnce  sync.Once
}

func New(cfg Config) (*Node, error) {
	eventBus := event.NewEventBus(cfg.promRegistry, cfg.logger)
	n := &Node{
		config:   cfg,
		eventBus: eventBus,
		done:     make(chan struct{}),
	}
	if err := n.configValidate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return n, nil
}

func (n *Node) Run() error {
	// Configure tracing
	if n.config.tracing {
		if err := n.setupTracing(); err != nil {
			return err
		}
	}
	// Load projection store
	store, err := database.New(&database.Config{
		DataDir:      n.config.dataDir,
		Logger:       n.config.logger,
		PromRegistry: n.config.promRegistry,
	})
	if err != nil {
		return fmt.Errorf("failed to open projection store: %w", err)
	}
	n.store = store
	// Open ledger event log
	ledgerLog, err := ledgerlog.NewLog(ledgerlog.LogConfig{
		DataDir:      n.config.dataDir,
		Logger:       n.config.logger,
		PromRegistry: n.config.promRegistry,
	})
	if err != nil {
		return fmt.Errorf("failed to open ledger log: %w", err)
	}
	n.ledgerLog = ledgerLog
	// Configure state machine
	n.machine = escrow.NewMachine(escrow.MachineConfig{
		DAOAddress:       n.config.daoAddress,
		ReleaseThreshold: n.config.releaseThreshold,
	})
	// Configure ingestion pipeline
	n.pipeline = pipeline.New(&pipeline.Config{
		Logger:       n.config.logger,
		PromRegistry: n.config.promRegistry,
		Store:        n.store,
		Machine:      n.machine,
		EventBus:     n.eventBus,
		Workers:      n.config.pipelineWorkers,
	})
	// Configure realtime notifier
	n.notifier = notify.New(&notify.Config{
		Logger:       n.config.logger,
		EventBus:     n.eventBus,
		PromRegistry: n.config.promRegistry,
	})
	// Feed accepted ledger events into the pipeline. The gate buffers live
	// appends until catch-up below has replayed the log, so a fresh event
	// cannot reach its worker ahead of the older events it chains to.
	gate := newCatchupGate(n.pipeline.Submit)
	n.ledgerLog.AddAppendHook(gate.Submit)
	// Catch up the projection with events appended while we weren't
	// running. Already applied events are skipped by the dedup check.
	err = n.ledgerLog.Iterate(
		ledgerlog.Position{},
		func(env ledgerlog.EventEnvelope) error {
			n.pipeline.Submit(env)
			return nil
		},
	)
	if err != nil {
		return fmt.Errorf("failed to catch up projection: %w", err)
	}
	gate.Open()
	n.config.logger.Info(
		"escrow node started",
		"component", "node",
		"data_dir", n.config.dataDir,
	)

	// Wait for shutdown signal
	<-n.done
	return nil
}

// catchupGate buffers append hook deliveries while the startup catch-up
// replays the log. The hook is registered before the replay snapshot is
// taken, so every event lands in exactly one of two ordered streams: the
// replay (log order) or the buffer (append order). Events caught by both are
// absorbed by the pipeline's dedup check on the second delivery.
type catchupGate struct {
	submit  func(ledgerlog.EventEnvelope)
	pending []ledgerlog.EventEnvelope
	open    bool
	mu      sync.Mutex
}

func newCatchupGate(submit func(ledgerlog.EventEnvelope)) *catchupGate {
	return &catchupGate{submit: submit}
}

func (g *catchupGate) Submit(env ledgerlog.EventEnvelope) {
	g.mu.Lock()
	if !g.open {
		g.pending = append(g.pending, env)
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()
	g.submit(env)
}

// Open flushes buffered events in append order and passes subsequent
// deliveries straight through. The lock is held across the flush so a
// concurrent append cannot overtake the buffer.
func (g *catchupGate) Open() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, env := range g.pending {
		g.submit(env)
	}
	g.pending = nil
	g.open = true
}

// LedgerLog returns the node's ledger event log. Upstream ingesters append
// authoritative events here.
func (n *Node) LedgerLog() *ledgerlog.Log {
	return n.ledgerLog
}

// Store returns the node's projection store for read-only queries.
func (n *Node) Store() *database.Store {
	return n.store
}

// Notifier returns the node's realtime notifier.
func (n *Node) Notifier() *notify.Notifier {
	return n.notifier
}

// Pipeline returns the node's ingestion pipeline. Operators use it to resume
// deposits paused on a stream gap.
func (n *Node) Pipeline() *pipeline.Pipeline {
	return n.pipeline
}

// EventBus returns the node's event bus.
func (n *Node) EventBus() *event.EventBus {
	return n.eventBus
}

func (n *Node) Stop() error {
	var err error
	n.shutdownOnce.Do(func() {
		err = n.shutdown()
	})
	return err
}

func (n *Node) shutdown() error {
	// Create shutdown context with timeout (default 30s if not configured)
	shutdownTimeout := 30 * time.Second
	if n.config.shutdownTimeout > 0 {
		shutdownTimeout = n.config.shutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error

	n.config.logger.Debug("starting graceful shutdown")

	// Phase 1: Stop accepting new work and drain the pipeline
	n.config.logger.Debug("shutdown phase 1: draining pipeline")

	if n.pipeline != nil {
		n.pipeline.Stop()
	}

	// Phase 2: Stop notification fan-out
	n.config.logger.Debug("shutdown phase 2: stopping notifications")

	if n.notifier != nil {
		n.notifier.Stop()
	}
	if n.eventBus != nil {
		n.eventBus.Stop()
	}

	// Phase 3: Flush state and close storage
	n.config.logger.Debug("shutdown phase 3: closing storage")

	if n.ledgerLog != nil {
		if closeErr := n.ledgerLog.Close(); closeErr != nil {
			err = errors.Join(
				err,
				fmt.Errorf("ledger log close: %w", closeErr),
			)
		}
	}
	if n.store != nil {
		if closeErr := n.store.Close(); closeErr != nil {
			err = errors.Join(
				err,
				fmt.Errorf("projection store close: %w", closeErr),
			)
		}
	}

	// Phase 4: Cleanup resources
	n.config.logger.Debug("shutdown phase 4: cleanup resources")

	// Call registered shutdown functions
	for _, fn := range n.shutdownFuncs {
		if fnErr := fn(ctx); fnErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown function: %w", fnErr))
		}
	}
	n.shutdownFuncs = nil

	n.config.logger.Debug("graceful shutdown complete")
	close(n.done)
	return err
}
