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
	"gorm.io/gorm"

	"github.com/ultrarentz/escrowd/database/models"
	"github.com/ultrarentz/escrowd/escrow"
)

// Stats is an aggregate summary of the projection.
type Stats struct {
	TotalDeposits    int64
	ActiveDeposits   int64
	DisputedDeposits int64
	ReleasedDeposits int64
	ResolvedDeposits int64
	OpenDisputes     int64
	PausedDeposits   int64
}

// GetStats computes deposit counts by status plus open dispute and paused
// deposit counts.
func (d *Store) GetStats(txn *gorm.DB) (Stats, error) {
	if txn == nil {
		txn = d.DB()
	}
	var ret Stats
	type statusCount struct {
		Status string
		Count  int64
	}
	var counts []statusCount
	result := txn.
		Model(&models.Deposit{}).
		Select("status, count(*) as count").
		Group("status").
		Find(&counts)
	if result.Error != nil {
		return ret, result.Error
	}
	for _, c := range counts {
		ret.TotalDeposits += c.Count
		switch escrow.DepositStatus(c.Status) {
		case escrow.StatusActive:
			ret.ActiveDeposits = c.Count
		case escrow.StatusDisputed:
			ret.DisputedDeposits = c.Count
		case escrow.StatusReleased:
			ret.ReleasedDeposits = c.Count
		case escrow.StatusResolved:
			ret.ResolvedDeposits = c.Count
		}
	}
	result = txn.
		Model(&models.Dispute{}).
		Where("status = ?", string(escrow.DisputeStatusActive)).
		Count(&ret.OpenDisputes)
	if result.Error != nil {
		return ret, result.Error
	}
	result = txn.
		Model(&models.DepositCursor{}).
		Where("paused = ?", true).
		Count(&ret.PausedDeposits)
	if result.Error != nil {
		return ret, result.Error
	}
	return ret, nil
}
