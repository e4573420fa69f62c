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

import "errors"

var ErrDisputeNotFound = errors.New("dispute not found")

// Dispute is the projection of a dispute raised against a deposit. At most
// one Active dispute exists per deposit. Once resolved, the tenant and
// landlord amounts sum to the disputed amount exactly.
type Dispute struct {
	Status         string `gorm:"index;size:16"`
	TriggeredBy    string `gorm:"size:64"`
	ResolvedBy     string `gorm:"size:64"`
	Amount         string `gorm:"size:80"`
	TenantAmount   string `gorm:"size:80"`
	LandlordAmount string `gorm:"size:80"`
	ID             uint   `gorm:"primarykey"`
	DepositID      uint64 `gorm:"index"`
}

func (Dispute) TableName() string {
	return "dispute"
}
