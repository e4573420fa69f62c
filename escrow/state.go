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

import (
	"github.com/shopspring/decimal"

	"github.com/ultrarentz/escrowd/ledgerlog"
)

// VoteChoice aliases the wire-level vote choice so callers don't need to
// import both packages.
type VoteChoice = ledgerlog.VoteChoice

const (
	ChoicePending      = ledgerlog.ChoicePending
	ChoiceRefundTenant = ledgerlog.ChoiceRefundTenant
	ChoicePayLandlord  = ledgerlog.ChoicePayLandlord
	ChoiceSplit        = ledgerlog.ChoiceSplit
)

// DepositStatus is the lifecycle state of a deposit.
type DepositStatus string

const (
	StatusPending  DepositStatus = "Pending"
	StatusActive   DepositStatus = "Active"
	StatusDisputed DepositStatus = "Disputed"
	StatusReleased DepositStatus = "Released"
	StatusResolved DepositStatus = "Resolved"
)

// Terminal returns true for statuses with no outgoing transitions.
func (s DepositStatus) Terminal() bool {
	return s == StatusReleased || s == StatusResolved
}

// DisputeStatus is the lifecycle state of a dispute.
type DisputeStatus string

const (
	DisputeStatusActive   DisputeStatus = "Active"
	DisputeStatusResolved DisputeStatus = "Resolved"
)

// SignatoryCount is the fixed number of addresses eligible to vote on a
// deposit's release or dispute resolution.
const SignatoryCount = 6

// ThresholdFor returns the minimum number of matching votes required for a
// winning choice among n signatories: ceil(2n/3). For the concrete six
// signatory system this is four.
func ThresholdFor(n int) int {
	if n <= 0 {
		return 0
	}
	return (2*n + 2) / 3
}

// Signatory is one of the addresses eligible to vote on a deposit, assigned
// an index at deposit activation. Immutable thereafter.
type Signatory struct {
	Address string
	Index   int
}

// DisputeState tracks an open or resolved dispute for a deposit.
type DisputeState struct {
	Status         DisputeStatus
	TriggeredBy    string
	ResolvedBy     string
	Amount         decimal.Decimal
	TenantAmount   decimal.Decimal
	LandlordAmount decimal.Decimal
}

// DepositState is the full aggregate state for one escrowed deposit. It holds
// no cross-deposit state and is safe to apply events to independently of any
// other deposit.
type DepositState struct {
	ID               uint64
	Tenant           string
	Landlord         string
	Token            string
	CreatedTxHash    string
	Status           DepositStatus
	Amount           decimal.Decimal
	TenantReleased   decimal.Decimal
	LandlordReleased decimal.Decimal
	Signatories      []Signatory
	ReleaseTally     Tally
	DisputeTally     Tally
	Dispute          *DisputeState
	Released         bool
	InDispute        bool
}

// Exists returns true if the deposit has been created.
func (s DepositState) Exists() bool {
	return s.Status != ""
}

// SignatoryByAddress looks up a signatory of this deposit by address.
func (s DepositState) SignatoryByAddress(addr string) (Signatory, bool) {
	for _, sig := range s.Signatories {
		if sig.Address == addr {
			return sig, true
		}
	}
	return Signatory{}, false
}

// IsParticipant returns true if the address is the tenant, the landlord, or
// one of the signatories.
func (s DepositState) IsParticipant(addr string) bool {
	if addr == s.Tenant || addr == s.Landlord {
		return true
	}
	_, ok := s.SignatoryByAddress(addr)
	return ok
}

// Participants returns every address associated with the deposit, used to
// scope notification channels.
func (s DepositState) Participants() []string {
	ret := make([]string, 0, len(s.Signatories)+2)
	ret = append(ret, s.Tenant, s.Landlord)
	for _, sig := range s.Signatories {
		ret = append(ret, sig.Address)
	}
	return ret
}

// Clone returns a deep copy of the state. Apply operates on a clone so a
// rejected event can never leave partial mutations behind.
func (s DepositState) Clone() DepositState {
	ret := s
	ret.Signatories = make([]Signatory, len(s.Signatories))
	copy(ret.Signatories, s.Signatories)
	ret.ReleaseTally = s.ReleaseTally.Clone()
	ret.DisputeTally = s.DisputeTally.Clone()
	if s.Dispute != nil {
		tmpDispute := *s.Dispute
		ret.Dispute = &tmpDispute
	}
	return ret
}
