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
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrDepositNotFound = errors.New("deposit not found")

// Deposit is the projected state of one escrowed rent deposit. The ID is
// chain-assigned and immutable; deposits are never deleted, so historical
// deposits remain queryable. Amounts are stored as canonical decimal strings
// to preserve exact values.
type Deposit struct {
	Tenant           string `gorm:"index;size:64"`
	Landlord         string `gorm:"index;size:64"`
	Token            string `gorm:"size:64"`
	Amount           string `gorm:"size:80"`
	TenantReleased   string `gorm:"size:80"`
	LandlordReleased string `gorm:"size:80"`
	Status           string `gorm:"index;size:16"`
	ReleaseWinner    string `gorm:"size:16"`
	DisputeWinner    string `gorm:"size:16"`
	CreatedTxHash    string `gorm:"size:80"`
	ID               uint64 `gorm:"primarykey;autoIncrement:false"`
	Released         bool
	InDispute        bool
}

func (Deposit) TableName() string {
	return "deposit"
}

// AmountDecimal parses the stored amount string.
func (d *Deposit) AmountDecimal() (decimal.Decimal, error) {
	ret, err := decimal.NewFromString(d.Amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf(
			"deposit %d: invalid stored amount %q: %w",
			d.ID,
			d.Amount,
			err,
		)
	}
	return ret, nil
}

// Signatory is one of the six addresses eligible to vote on a deposit's
// release, unique per (deposit, index) and per (deposit, address). Created
// once at deposit activation, immutable thereafter.
type Signatory struct {
	Address   string `gorm:"uniqueIndex:uniq_signatory_address;size:64"`
	ID        uint   `gorm:"primarykey"`
	DepositID uint64 `gorm:"uniqueIndex:uniq_signatory_address;uniqueIndex:uniq_signatory_index"`
	Idx       int    `gorm:"uniqueIndex:uniq_signatory_index"`
}

func (Signatory) TableName() string {
	return "signatory"
}
