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

package database

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/ultrarentz/escrowd/database/models"
	"github.com/ultrarentz/escrowd/ledgerlog"
)

// GetCursor returns the last applied position for a deposit, or nil when no
// event has been applied yet.
func (d *Store) GetCursor(
	depositID uint64,
	txn *gorm.DB,
) (*models.DepositCursor, error) {
	if txn == nil {
		txn = d.DB()
	}
	ret := &models.DepositCursor{}
	result := txn.Where("deposit_id = ?", depositID).First(ret)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return ret, nil
}

// SetCursor advances the cursor for a deposit to the given position.
func (d *Store) SetCursor(
	depositID uint64,
	position ledgerlog.Position,
	paused bool,
	txn *gorm.DB,
) error {
	db := d.DB()
	if txn != nil {
		db = txn
	}
	cursor := &models.DepositCursor{}
	result := db.FirstOrCreate(cursor, models.DepositCursor{
		DepositID: depositID,
	})
	if result.Error != nil {
		return fmt.Errorf(
			"failed to find or create cursor: %w",
			result.Error,
		)
	}
	updates := map[string]any{
		"block_height": position.BlockHeight,
		"tx_index":     position.TxIndex,
		"log_index":    position.LogIndex,
		"paused":       paused,
	}
	if err := db.Model(cursor).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update cursor: %w", err)
	}
	return nil
}

// SetCursorPaused flips the paused flag without moving the cursor position.
func (d *Store) SetCursorPaused(
	depositID uint64,
	paused bool,
	txn *gorm.DB,
) error {
	db := d.DB()
	if txn != nil {
		db = txn
	}
	result := db.
		Model(&models.DepositCursor{}).
		Where("deposit_id = ?", depositID).
		Update("paused", paused)
	if result.Error != nil {
		return fmt.Errorf("failed to update cursor: %w", result.Error)
	}
	return nil
}

// EventApplied reports whether an event with this dedup key has already been
// applied.
func (d *Store) EventApplied(
	eventType string,
	txHash string,
	logIndex uint32,
	txn *gorm.DB,
) (bool, error) {
	if txn == nil {
		txn = d.DB()
	}
	var count int64
	result := txn.
		Model(&models.AppliedEvent{}).
		Where(
			"event_type = ? AND tx_hash = ? AND log_index = ?",
			eventType,
			txHash,
			logIndex,
		).
		Count(&count)
	if result.Error != nil {
		return false, result.Error
	}
	return count > 0, nil
}

// MarkEventApplied records an event's dedup key so a replayed copy is
// recognized and skipped.
func (d *Store) MarkEventApplied(
	eventType string,
	txHash string,
	logIndex uint32,
	depositID uint64,
	txn *gorm.DB,
) error {
	db := d.DB()
	if txn != nil {
		db = txn
	}
	record := &models.AppliedEvent{}
	result := db.FirstOrCreate(record, models.AppliedEvent{
		EventType: eventType,
		TxHash:    txHash,
		LogIndex:  logIndex,
		DepositID: depositID,
	})
	if result.Error != nil {
		return fmt.Errorf(
			"failed to record applied event: %w",
			result.Error,
		)
	}
	return nil
}

// RecordReconciliationError saves an audit record for a rejected event or a
// detected stream gap.
func (d *Store) RecordReconciliationError(
	depositID uint64,
	eventType string,
	txHash string,
	logIndex uint32,
	reason string,
	txn *gorm.DB,
) error {
	db := d.DB()
	if txn != nil {
		db = txn
	}
	record := &models.ReconciliationError{
		DepositID: depositID,
		EventType: eventType,
		TxHash:    txHash,
		LogIndex:  logIndex,
		Reason:    reason,
	}
	if result := db.Create(record); result.Error != nil {
		return fmt.Errorf(
			"failed to record reconciliation error: %w",
			result.Error,
		)
	}
	return nil
}

// GetReconciliationErrors returns audit records for a deposit, oldest first.
func (d *Store) GetReconciliationErrors(
	depositID uint64,
	txn *gorm.DB,
) ([]models.ReconciliationError, error) {
	if txn == nil {
		txn = d.DB()
	}
	var ret []models.ReconciliationError
	result := txn.
		Where("deposit_id = ?", depositID).
		Order("id").
		Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}
