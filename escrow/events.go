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

package escrow

import "github.com/shopspring/decimal"

// DomainEventType identifies a state change emitted by the state machine.
type DomainEventType string

const (
	DepositCreatedEventType  DomainEventType = "deposit.created"
	VoteRecordedEventType    DomainEventType = "deposit.vote"
	DepositReleasedEventType DomainEventType = "deposit.released"
	DisputeOpenedEventType   DomainEventType = "deposit.disputed"
	DisputeResolvedEventType DomainEventType = "deposit.resolved"
)

// DomainEvent describes a state change produced by applying a ledger event.
// These are notification hints for downstream consumers, not authoritative
// deltas.
type DomainEvent struct {
	Payload   any
	Type      DomainEventType
	DepositID uint64
}

// DepositCreatedEvent is emitted when a deposit is created and activated.
type DepositCreatedEvent struct {
	Tenant      string
	Landlord    string
	Token       string
	Amount      decimal.Decimal
	Signatories []string
}

// VoteRecordedEvent is emitted for each recorded signatory vote.
type VoteRecordedEvent struct {
	Voter  string
	Choice VoteChoice
	Lane   VoteLane
	// Counts holds the current vote counts for the lane after this vote
	Counts map[VoteChoice]int
}

// DepositReleasedEvent is emitted when escrowed funds are disbursed through
// the release path.
type DepositReleasedEvent struct {
	Choice         VoteChoice
	TenantAmount   decimal.Decimal
	LandlordAmount decimal.Decimal
}

// DisputeOpenedEvent is emitted when a dispute locks a deposit.
type DisputeOpenedEvent struct {
	TriggeredBy string
	Amount      decimal.Decimal
}

// DisputeResolvedEvent is emitted when a dispute resolves, either by vote
// threshold or DAO override.
type DisputeResolvedEvent struct {
	ResolvedBy     string
	Choice         VoteChoice
	TenantAmount   decimal.Decimal
	LandlordAmount decimal.Decimal
}
