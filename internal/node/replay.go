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

package node

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ultrarentz/escrowd/database"
	"github.com/ultrarentz/escrowd/escrow"
	"github.com/ultrarentz/escrowd/internal/config"
	"github.com/ultrarentz/escrowd/ledgerlog"
	"github.com/ultrarentz/escrowd/pipeline"
)

// Replay rebuilds the projection from the ledger event log in batch mode and
// exits. Events already applied are skipped, so running it against an intact
// projection is a no-op and running it against an empty one reconstructs
// byte-identical state.
func Replay(cfg *config.Config, logger *slog.Logger) error {
	store, err := database.New(&database.Config{
		DataDir: cfg.DataDir,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("failed to open projection store: %w", err)
	}
	ledgerLog, err := ledgerlog.NewLog(ledgerlog.LogConfig{
		DataDir: cfg.DataDir,
		Logger:  logger,
	})
	if err != nil {
		store.Close()
		return fmt.Errorf("failed to open ledger log: %w", err)
	}
	machine := escrow.NewMachine(escrow.MachineConfig{
		DAOAddress:       cfg.DaoAddress,
		ReleaseThreshold: cfg.ReleaseThreshold,
	})
	p := pipeline.New(&pipeline.Config{
		Logger:  logger,
		Store:   store,
		Machine: machine,
		Workers: cfg.PipelineWorkers,
	})

	var total int
	err = ledgerLog.Iterate(
		ledgerlog.Position{},
		func(env ledgerlog.EventEnvelope) error {
			p.Submit(env)
			total++
			return nil
		},
	)
	p.Stop()
	if err != nil {
		err = fmt.Errorf("replay aborted: %w", err)
	} else {
		stats, statsErr := store.GetStats(nil)
		if statsErr != nil {
			err = statsErr
		} else {
			logger.Info(
				"replay complete",
				"component", "node",
				"events", total,
				"deposits", stats.TotalDeposits,
				"open_disputes", stats.OpenDisputes,
				"paused", stats.PausedDeposits,
			)
		}
	}
	if closeErr := ledgerLog.Close(); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	if closeErr := store.Close(); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	return err
}
