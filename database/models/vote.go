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

// Vote is a signatory's current choice for one lane (release approval or
// dispute resolution) of one deposit. Unique per (deposit, voter, lane); a
// repeat vote from the same signatory updates the row in place rather than
// inserting a duplicate.
type Vote struct {
	Voter       string `gorm:"uniqueIndex:uniq_vote;size:64"`
	Lane        string `gorm:"uniqueIndex:uniq_vote;size:16"`
	Choice      string `gorm:"size:16"`
	ID          uint   `gorm:"primarykey"`
	DepositID   uint64 `gorm:"uniqueIndex:uniq_vote;index"`
	BlockHeight uint64 `gorm:"index"`
}

func (Vote) TableName() string {
	return "vote"
}
