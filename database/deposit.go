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

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ultrarentz/escrowd/database/models"
	"github.com/ultrarentz/escrowd/escrow"
)

// GetDeposit gets a deposit by ID
func (d *Store) GetDeposit(
	depositID uint64,
	txn *gorm.DB,
) (*models.Deposit, error) {
	ret := &models.Deposit{}
	if txn == nil {
		txn = d.DB()
	}
	result := txn.Where("id = ?", depositID).First(ret)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, models.ErrDepositNotFound
		}
		return nil, result.Error
	}
	return ret, nil
}

// GetDepositsByParticipant returns every deposit where the address is the
// tenant, the landlord, or a signatory, ordered by deposit ID.
func (d *Store) GetDepositsByParticipant(
	address string,
	txn *gorm.DB,
) ([]models.Deposit, error) {
	if txn == nil {
		txn = d.DB()
	}
	var ret []models.Deposit
	result := txn.
		Where(
			"tenant = ? OR landlord = ? OR id IN (?)",
			address,
			address,
			txn.Session(&gorm.Session{NewDB: true}).
				Model(&models.Signatory{}).
				Select("deposit_id").
				Where("address = ?", address),
		).
		Order("id").
		Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}

// GetSignatories returns the signatory set for a deposit in index order.
func (d *Store) GetSignatories(
	depositID uint64,
	txn *gorm.DB,
) ([]models.Signatory, error) {
	if txn == nil {
		txn = d.DB()
	}
	var ret []models.Signatory
	result := txn.
		Where("deposit_id = ?", depositID).
		Order("idx").
		Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}

// SetDepositState saves the deposit row, the signatory set, and any dispute
// from an aggregate state. Vote rows are written separately so their block
// heights can be stamped per event.
func (d *Store) SetDepositState(
	state escrow.DepositState,
	txn *gorm.DB,
) error {
	db := d.DB()
	if txn != nil {
		db = txn
	}

	deposit := &models.Deposit{}
	result := db.FirstOrCreate(deposit, models.Deposit{ID: state.ID})
	if result.Error != nil {
		return fmt.Errorf(
			"failed to find or create deposit: %w",
			result.Error,
		)
	}
	updates := map[string]any{
		"tenant":            state.Tenant,
		"landlord":          state.Landlord,
		"token":             state.Token,
		"amount":            state.Amount.String(),
		"tenant_released":   state.TenantReleased.String(),
		"landlord_released": state.LandlordReleased.String(),
		"status":            string(state.Status),
		"release_winner":    frozenWinner(state.ReleaseTally),
		"dispute_winner":    frozenWinner(state.DisputeTally),
		"created_tx_hash":   state.CreatedTxHash,
		"released":          state.Released,
		"in_dispute":        state.InDispute,
	}
	if err := db.Model(deposit).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update deposit: %w", err)
	}

	for _, sig := range state.Signatories {
		tmpSig := &models.Signatory{}
		result := db.FirstOrCreate(tmpSig, models.Signatory{
			DepositID: state.ID,
			Address:   sig.Address,
			Idx:       sig.Index,
		})
		if result.Error != nil {
			return fmt.Errorf(
				"failed to save signatory: %w",
				result.Error,
			)
		}
	}

	if state.Dispute != nil {
		if err := d.SetDispute(state.ID, *state.Dispute, db); err != nil {
			return err
		}
	}
	return nil
}

func frozenWinner(t escrow.Tally) string {
	if !t.Frozen {
		return ""
	}
	return string(t.Winner)
}

// LoadDepositState reconstructs the aggregate state for a deposit from
// projection rows. Returns a zero state when the deposit does not exist, which
// the caller can detect with Exists.
func (d *Store) LoadDepositState(
	depositID uint64,
	threshold int,
	txn *gorm.DB,
) (escrow.DepositState, error) {
	if txn == nil {
		txn = d.DB()
	}
	var ret escrow.DepositState
	deposit, err := d.GetDeposit(depositID, txn)
	if err != nil {
		if errors.Is(err, models.ErrDepositNotFound) {
			return ret, nil
		}
		return ret, err
	}

	amount, err := deposit.AmountDecimal()
	if err != nil {
		return ret, err
	}
	tenantReleased, err := decimal.NewFromString(deposit.TenantReleased)
	if err != nil {
		return ret, fmt.Errorf(
			"deposit %d: invalid stored tenant released amount: %w",
			depositID,
			err,
		)
	}
	landlordReleased, err := decimal.NewFromString(deposit.LandlordReleased)
	if err != nil {
		return ret, fmt.Errorf(
			"deposit %d: invalid stored landlord released amount: %w",
			depositID,
			err,
		)
	}
	ret = escrow.DepositState{
		ID:               deposit.ID,
		Tenant:           deposit.Tenant,
		Landlord:         deposit.Landlord,
		Token:            deposit.Token,
		CreatedTxHash:    deposit.CreatedTxHash,
		Status:           escrow.DepositStatus(deposit.Status),
		Amount:           amount,
		TenantReleased:   tenantReleased,
		LandlordReleased: landlordReleased,
		Released:         deposit.Released,
		InDispute:        deposit.InDispute,
	}

	sigs, err := d.GetSignatories(depositID, txn)
	if err != nil {
		return ret, err
	}
	ret.Signatories = make([]escrow.Signatory, 0, len(sigs))
	for _, sig := range sigs {
		ret.Signatories = append(ret.Signatories, escrow.Signatory{
			Address: sig.Address,
			Index:   sig.Idx,
		})
	}

	ret.ReleaseTally, err = d.loadTally(
		depositID,
		escrow.LaneRelease,
		threshold,
		deposit.ReleaseWinner,
		txn,
	)
	if err != nil {
		return ret, err
	}
	ret.DisputeTally, err = d.loadTally(
		depositID,
		escrow.LaneDispute,
		threshold,
		deposit.DisputeWinner,
		txn,
	)
	if err != nil {
		return ret, err
	}

	if deposit.InDispute ||
		escrow.DepositStatus(deposit.Status) == escrow.StatusResolved {
		dispute, err := d.GetLatestDispute(depositID, txn)
		if err != nil && !errors.Is(err, models.ErrDisputeNotFound) {
			return ret, err
		}
		if dispute != nil {
			tmpDispute, err := disputeStateFromModel(dispute)
			if err != nil {
				return ret, err
			}
			ret.Dispute = &tmpDispute
		}
	}
	return ret, nil
}

func (d *Store) loadTally(
	depositID uint64,
	lane escrow.VoteLane,
	threshold int,
	winner string,
	txn *gorm.DB,
) (escrow.Tally, error) {
	ret := escrow.NewTally(threshold)
	votes, err := d.GetVotesForDeposit(depositID, lane, txn)
	if err != nil {
		return ret, err
	}
	for _, vote := range votes {
		ret.Votes[vote.Voter] = escrow.VoteChoice(vote.Choice)
	}
	if winner != "" {
		ret.Frozen = true
		ret.Winner = escrow.VoteChoice(winner)
	}
	return ret, nil
}

func disputeStateFromModel(
	dispute *models.Dispute,
) (escrow.DisputeState, error) {
	var ret escrow.DisputeState
	amount, err := decimal.NewFromString(dispute.Amount)
	if err != nil {
		return ret, fmt.Errorf(
			"dispute %d: invalid stored amount: %w",
			dispute.ID,
			err,
		)
	}
	tenantAmount := decimal.Zero
	if dispute.TenantAmount != "" {
		tenantAmount, err = decimal.NewFromString(dispute.TenantAmount)
		if err != nil {
			return ret, fmt.Errorf(
				"dispute %d: invalid stored tenant amount: %w",
				dispute.ID,
				err,
			)
		}
	}
	landlordAmount := decimal.Zero
	if dispute.LandlordAmount != "" {
		landlordAmount, err = decimal.NewFromString(dispute.LandlordAmount)
		if err != nil {
			return ret, fmt.Errorf(
				"dispute %d: invalid stored landlord amount: %w",
				dispute.ID,
				err,
			)
		}
	}
	ret = escrow.DisputeState{
		Status:         escrow.DisputeStatus(dispute.Status),
		TriggeredBy:    dispute.TriggeredBy,
		ResolvedBy:     dispute.ResolvedBy,
		Amount:         amount,
		TenantAmount:   tenantAmount,
		LandlordAmount: landlordAmount,
	}
	return ret, nil
}
