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

import "time"

// YieldHistory records yield distributed to a user for a deposit. Rows are
// append-only; the only permitted mutation is flipping Claimed and stamping
// ClaimedAt.
type YieldHistory struct {
	UserAddress string `gorm:"index;size:64"`
	Amount      string `gorm:"size:80"`
	ID          uint   `gorm:"primarykey"`
	DepositID   uint64 `gorm:"index"`
	Claimed     bool
	ClaimedAt   *time.Time
	CreatedAt   time.Time
}

func (YieldHistory) TableName() string {
	return "yield_history"
}
