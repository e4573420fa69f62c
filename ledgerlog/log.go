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

package ledgerlog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ErrEventNotFound      = errors.New("event not found")
	ErrNonMonotonicAppend = errors.New(
		"event position not after current log tip",
	)
)

var (
	keyPrefixEvent   = []byte("evt/")
	keyPrefixDeposit = []byte("dep/")
	keyPrefixTail    = []byte("tail/")
	keyLogTip        = []byte("tip")
)

// AppendHookFunc is invoked synchronously, in append order, for every event
// accepted by the log.
type AppendHookFunc func(EventEnvelope)

// LogConfig contains the configuration for a ledger event log.
type LogConfig struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	DataDir      string
}

// Log is the durable append-only record of authoritative ledger events,
// totally ordered by position. It is backed by badger, in memory when no data
// directory is configured. A secondary per-deposit index supports backfill
// range reads for a single deposit.
type Log struct {
	config      LogConfig
	db          *badger.DB
	logger      *slog.Logger
	metrics     *logMetrics
	appendHooks []AppendHookFunc
	appendMutex sync.Mutex
	hookMutex   sync.RWMutex
}

type logMetrics struct {
	eventsAppended prometheus.Counter
	tipBlockHeight prometheus.Gauge
}

// NewLog opens (or creates) a ledger event log.
func NewLog(cfg LogConfig) (*Log, error) {
	l := &Log{
		config: cfg,
		logger: cfg.Logger,
	}
	if l.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		l.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	var badgerOpts badger.Options
	if cfg.DataDir == "" {
		badgerOpts = badger.DefaultOptions("").
			WithLogger(newBadgerLogger(l.logger)).
			WithLoggingLevel(badger.WARNING).
			WithInMemory(true)
	} else {
		// Make sure that we can read data dir, and create if it doesn't exist
		if _, err := os.Stat(cfg.DataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		logDir := filepath.Join(cfg.DataDir, "ledgerlog")
		badgerOpts = badger.DefaultOptions(logDir).
			WithLogger(newBadgerLogger(l.logger)).
			WithLoggingLevel(badger.WARNING).
			WithCompression(options.Snappy)
	}
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger log: %w", err)
	}
	l.db = db
	if cfg.PromRegistry != nil {
		l.initMetrics(cfg.PromRegistry)
	}
	return l, nil
}

func (l *Log) initMetrics(promRegistry prometheus.Registerer) {
	l.metrics = &logMetrics{
		eventsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledgerlog_events_appended_total",
			Help: "total ledger events appended to the log",
		}),
		tipBlockHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledgerlog_tip_block_height",
			Help: "block height of the most recent event in the log",
		}),
	}
	promRegistry.MustRegister(l.metrics.eventsAppended)
	promRegistry.MustRegister(l.metrics.tipBlockHeight)
}

// Close shuts down the underlying badger store.
func (l *Log) Close() error {
	return l.db.Close()
}

// AddAppendHook registers a hook invoked for each appended event. Hooks run
// synchronously under the append lock, so appends observe strict log order.
func (l *Log) AddAppendHook(hook AppendHookFunc) {
	l.hookMutex.Lock()
	defer l.hookMutex.Unlock()
	l.appendHooks = append(l.appendHooks, hook)
}

func depositKey(depositID uint64, pos Position) []byte {
	ret := make([]byte, 0, len(keyPrefixDeposit)+8+16)
	ret = append(ret, keyPrefixDeposit...)
	ret = binary.BigEndian.AppendUint64(ret, depositID)
	ret = append(ret, pos.Key()...)
	return ret
}

func tailKey(depositID uint64) []byte {
	ret := make([]byte, 0, len(keyPrefixTail)+8)
	ret = append(ret, keyPrefixTail...)
	ret = binary.BigEndian.AppendUint64(ret, depositID)
	return ret
}

func eventKey(pos Position) []byte {
	ret := make([]byte, 0, len(keyPrefixEvent)+16)
	ret = append(ret, keyPrefixEvent...)
	ret = append(ret, pos.Key()...)
	return ret
}

// Append records an event at the given position. The event's Prev field is
// stamped from the per-deposit tail, which is how downstream consumers detect
// gaps. Appends must arrive in strictly increasing position order.
func (l *Log) Append(env EventEnvelope) (EventEnvelope, error) {
	if env.Event == nil {
		return env, errors.New("envelope has no event")
	}
	l.appendMutex.Lock()
	defer l.appendMutex.Unlock()
	depositID := env.Event.DepositID()
	err := l.db.Update(func(txn *badger.Txn) error {
		// Enforce total order on the log itself
		tip, err := getPosition(txn, keyLogTip)
		if err != nil {
			return err
		}
		if !tip.IsZero() && env.Position.Compare(tip) <= 0 {
			return fmt.Errorf(
				"%w: position %s, tip %s",
				ErrNonMonotonicAppend,
				env.Position,
				tip,
			)
		}
		// Stamp Prev from the per-deposit tail
		prev, err := getPosition(txn, tailKey(depositID))
		if err != nil {
			return err
		}
		env.Prev = prev
		data, err := MarshalEnvelope(env)
		if err != nil {
			return err
		}
		if err := txn.Set(eventKey(env.Position), data); err != nil {
			return err
		}
		if err := txn.Set(depositKey(depositID, env.Position), []byte{}); err != nil {
			return err
		}
		if err := txn.Set(tailKey(depositID), env.Position.Key()); err != nil {
			return err
		}
		return txn.Set(keyLogTip, env.Position.Key())
	})
	if err != nil {
		return env, err
	}
	if l.metrics != nil {
		l.metrics.eventsAppended.Inc()
		l.metrics.tipBlockHeight.Set(float64(env.Position.BlockHeight))
	}
	l.hookMutex.RLock()
	hooks := l.appendHooks
	l.hookMutex.RUnlock()
	for _, hook := range hooks {
		hook(env)
	}
	return env, nil
}

func getPosition(txn *badger.Txn, key []byte) (Position, error) {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return Position{}, nil
		}
		return Position{}, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return Position{}, err
	}
	return PositionFromKey(val)
}

// Tip returns the position of the most recent event in the log, or the zero
// position for an empty log.
func (l *Log) Tip() (Position, error) {
	var ret Position
	err := l.db.View(func(txn *badger.Txn) error {
		tip, err := getPosition(txn, keyLogTip)
		if err != nil {
			return err
		}
		ret = tip
		return nil
	})
	return ret, err
}

// Get returns the event stored at the given position.
func (l *Log) Get(pos Position) (EventEnvelope, error) {
	var ret EventEnvelope
	err := l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(eventKey(pos))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrEventNotFound
			}
			return err
		}
		data, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		ret, err = UnmarshalEnvelope(data)
		return err
	})
	return ret, err
}

// Iterate walks all events in ledger order, starting after the given position
// (use the zero position to start from the beginning). Iteration stops early
// if the callback returns an error.
func (l *Log) Iterate(
	after Position,
	fn func(EventEnvelope) error,
) error {
	return l.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = keyPrefixEvent
		it := txn.NewIterator(iterOpts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			pos, err := PositionFromKey(item.Key()[len(keyPrefixEvent):])
			if err != nil {
				return err
			}
			if pos.Compare(after) <= 0 {
				continue
			}
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			env, err := UnmarshalEnvelope(data)
			if err != nil {
				return err
			}
			if err := fn(env); err != nil {
				return err
			}
		}
		return nil
	})
}

// IterateDeposit walks a single deposit's events in ledger order, starting
// after the given position. This backs backfill requests for a paused deposit
// stream.
func (l *Log) IterateDeposit(
	depositID uint64,
	after Position,
	fn func(EventEnvelope) error,
) error {
	prefix := depositKey(depositID, Position{})[:len(keyPrefixDeposit)+8]
	return l.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			pos, err := PositionFromKey(it.Item().Key()[len(prefix):])
			if err != nil {
				return err
			}
			if pos.Compare(after) <= 0 {
				continue
			}
			item, err := txn.Get(eventKey(pos))
			if err != nil {
				return err
			}
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			env, err := UnmarshalEnvelope(data)
			if err != nil {
				return err
			}
			if err := fn(env); err != nil {
				return err
			}
		}
		return nil
	})
}

// badgerLogger adapts slog to the badger.Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func newBadgerLogger(logger *slog.Logger) *badgerLogger {
	return &badgerLogger{logger: logger}
}

func (b *badgerLogger) Errorf(format string, args ...any) {
	b.logger.Error(fmt.Sprintf(format, args...), "component", "ledgerlog")
}

func (b *badgerLogger) Warningf(format string, args ...any) {
	b.logger.Warn(fmt.Sprintf(format, args...), "component", "ledgerlog")
}

func (b *badgerLogger) Infof(format string, args ...any) {
	b.logger.Info(fmt.Sprintf(format, args...), "component", "ledgerlog")
}

func (b *badgerLogger) Debugf(format string, args ...any) {
	b.logger.Debug(fmt.Sprintf(format, args...), "component", "ledgerlog")
}
