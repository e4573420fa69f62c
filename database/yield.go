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
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ultrarentz/escrowd/database/models"
)

var ErrYieldNotFound = errors.New("yield record not found")

// AddYieldHistory appends a yield distribution record for a user.
func (d *Store) AddYieldHistory(
	depositID uint64,
	userAddress string,
	amount decimal.Decimal,
	txn *gorm.DB,
) error {
	db := d.DB()
	if txn != nil {
		db = txn
	}
	record := &models.YieldHistory{
		DepositID:   depositID,
		UserAddress: userAddress,
		Amount:      amount.String(),
	}
	if result := db.Create(record); result.Error != nil {
		return fmt.Errorf("failed to save yield record: %w", result.Error)
	}
	return nil
}

// GetYieldHistory returns yield records for a user, newest first.
func (d *Store) GetYieldHistory(
	userAddress string,
	unclaimedOnly bool,
	txn *gorm.DB,
) ([]models.YieldHistory, error) {
	if txn == nil {
		txn = d.DB()
	}
	query := txn.Where("user_address = ?", userAddress)
	if unclaimedOnly {
		query = query.Where("claimed = ?", false)
	}
	var ret []models.YieldHistory
	result := query.Order("id DESC").Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}

// MarkYieldClaimed flips a yield record to claimed and stamps the claim time.
// Claiming an already claimed record is an error.
func (d *Store) MarkYieldClaimed(
	yieldID uint,
	txn *gorm.DB,
) error {
	db := d.DB()
	if txn != nil {
		db = txn
	}
	record := &models.YieldHistory{}
	result := db.Where("id = ?", yieldID).First(record)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return ErrYieldNotFound
		}
		return result.Error
	}
	if record.Claimed {
		return fmt.Errorf("yield record %d already claimed", yieldID)
	}
	now := time.Now()
	updates := map[string]any{
		"claimed":    true,
		"claimed_at": &now,
	}
	if err := db.Model(record).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to mark yield claimed: %w", err)
	}
	return nil
}
