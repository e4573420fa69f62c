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
	"fmt"

	"gorm.io/gorm"

	"github.com/ultrarentz/escrowd/database/models"
	"github.com/ultrarentz/escrowd/escrow"
)

// SetVote saves a signatory's vote for one lane of a deposit. A repeat vote
// from the same signatory updates the existing row in place.
func (d *Store) SetVote(
	depositID uint64,
	voter string,
	lane escrow.VoteLane,
	choice escrow.VoteChoice,
	blockHeight uint64,
	txn *gorm.DB,
) error {
	db := d.DB()
	if txn != nil {
		db = txn
	}

	vote := &models.Vote{}
	result := db.FirstOrCreate(vote, models.Vote{
		DepositID: depositID,
		Voter:     voter,
		Lane:      string(lane),
	})
	if result.Error != nil {
		return fmt.Errorf("failed to find or create vote: %w", result.Error)
	}
	updates := map[string]any{
		"choice":       string(choice),
		"block_height": blockHeight,
	}
	if err := db.Model(vote).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update vote: %w", err)
	}
	return nil
}

// GetVotesForDeposit returns the current votes for one lane of a deposit.
func (d *Store) GetVotesForDeposit(
	depositID uint64,
	lane escrow.VoteLane,
	txn *gorm.DB,
) ([]models.Vote, error) {
	if txn == nil {
		txn = d.DB()
	}
	var ret []models.Vote
	result := txn.
		Where("deposit_id = ? AND lane = ?", depositID, string(lane)).
		Order("voter").
		Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}

// GetVotesByVoter returns every vote cast by an address across deposits.
func (d *Store) GetVotesByVoter(
	voter string,
	txn *gorm.DB,
) ([]models.Vote, error) {
	if txn == nil {
		txn = d.DB()
	}
	var ret []models.Vote
	result := txn.
		Where("voter = ?", voter).
		Order("deposit_id").
		Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}
