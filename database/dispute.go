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
	"github.com/ultrarentz/escrowd/escrow"
)

// SetDispute saves the dispute for a deposit. A deposit has at most one
// dispute row; resolution updates it rather than inserting a second.
func (d *Store) SetDispute(
	depositID uint64,
	state escrow.DisputeState,
	txn *gorm.DB,
) error {
	db := d.DB()
	if txn != nil {
		db = txn
	}

	dispute := &models.Dispute{}
	result := db.FirstOrCreate(dispute, models.Dispute{
		DepositID: depositID,
	})
	if result.Error != nil {
		return fmt.Errorf(
			"failed to find or create dispute: %w",
			result.Error,
		)
	}
	updates := map[string]any{
		"status":          string(state.Status),
		"triggered_by":    state.TriggeredBy,
		"resolved_by":     state.ResolvedBy,
		"amount":          state.Amount.String(),
		"tenant_amount":   state.TenantAmount.String(),
		"landlord_amount": state.LandlordAmount.String(),
	}
	if err := db.Model(dispute).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update dispute: %w", err)
	}
	return nil
}

// GetActiveDispute returns the active dispute for a deposit, or
// ErrDisputeNotFound when none is open.
func (d *Store) GetActiveDispute(
	depositID uint64,
	txn *gorm.DB,
) (*models.Dispute, error) {
	if txn == nil {
		txn = d.DB()
	}
	ret := &models.Dispute{}
	result := txn.
		Where(
			"deposit_id = ? AND status = ?",
			depositID,
			string(escrow.DisputeStatusActive),
		).
		First(ret)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, models.ErrDisputeNotFound
		}
		return nil, result.Error
	}
	return ret, nil
}

// GetLatestDispute returns the dispute for a deposit regardless of status.
func (d *Store) GetLatestDispute(
	depositID uint64,
	txn *gorm.DB,
) (*models.Dispute, error) {
	if txn == nil {
		txn = d.DB()
	}
	ret := &models.Dispute{}
	result := txn.
		Where("deposit_id = ?", depositID).
		Order("id DESC").
		First(ret)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, models.ErrDisputeNotFound
		}
		return nil, result.Error
	}
	return ret, nil
}
