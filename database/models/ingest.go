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

package models

import (
	"time"

	"github.com/ultrarentz/escrowd/ledgerlog"
)

// DepositCursor records the last applied ledger position for a deposit. The
// pipeline uses it for gap detection and as the replay restart point. Paused
// marks a deposit whose stream stopped on a detected gap and is awaiting
// backfill.
type DepositCursor struct {
	DepositID   uint64 `gorm:"primarykey;autoIncrement:false"`
	BlockHeight uint64
	TxIndex     uint32
	LogIndex    uint32
	Paused      bool
}

func (DepositCursor) TableName() string {
	return "deposit_cursor"
}

// Position returns the cursor as a ledger position.
func (c DepositCursor) Position() ledgerlog.Position {
	return ledgerlog.Position{
		BlockHeight: c.BlockHeight,
		TxIndex:     c.TxIndex,
		LogIndex:    c.LogIndex,
	}
}

// AppliedEvent is the dedup record for exactly-once event application, keyed
// by (event type, transaction hash, log index).
type AppliedEvent struct {
	EventType string `gorm:"uniqueIndex:uniq_applied_event;size:32"`
	TxHash    string `gorm:"uniqueIndex:uniq_applied_event;size:80"`
	ID        uint   `gorm:"primarykey"`
	DepositID uint64 `gorm:"index"`
	LogIndex  uint32 `gorm:"uniqueIndex:uniq_applied_event"`
}

func (AppliedEvent) TableName() string {
	return "applied_event"
}

// ReconciliationError is the audit record for a state machine rejection or a
// detected stream gap. These are never retried automatically.
type ReconciliationError struct {
	EventType string `gorm:"size:32"`
	TxHash    string `gorm:"size:80"`
	Reason    string `gorm:"size:512"`
	ID        uint   `gorm:"primarykey"`
	DepositID uint64 `gorm:"index"`
	LogIndex  uint32
	CreatedAt time.Time
}

func (ReconciliationError) TableName() string {
	return "reconciliation_error"
}
