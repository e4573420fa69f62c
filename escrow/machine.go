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
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ultrarentz/escrowd/ledgerlog"
)

// MachineConfig contains the configuration for the escrow state machine.
type MachineConfig struct {
	// DAOAddress is the only address allowed to force-resolve a dispute
	DAOAddress string
	// ReleaseThreshold overrides the default ceil(2N/3) winning threshold
	ReleaseThreshold int
}

// Machine is the pure escrow transition function. It holds configuration
// only, never deposit state, so replaying the same events always produces
// the same states.
type Machine struct {
	config MachineConfig
}

// NewMachine creates an escrow state machine.
func NewMachine(cfg MachineConfig) *Machine {
	if cfg.ReleaseThreshold <= 0 {
		cfg.ReleaseThreshold = ThresholdFor(SignatoryCount)
	}
	return &Machine{config: cfg}
}

// Threshold returns the configured winning vote threshold.
func (m *Machine) Threshold() int {
	return m.config.ReleaseThreshold
}

// Apply maps (state, ledger event) to (new state, emitted domain events). It
// performs no I/O and holds no hidden state. On error the input state is
// returned unchanged; a rejected event never leaves partial mutations.
func (m *Machine) Apply(
	state DepositState,
	evt ledgerlog.Event,
) (DepositState, []DomainEvent, error) {
	switch e := evt.(type) {
	case ledgerlog.DepositReceived:
		return m.applyDepositReceived(state, e)
	case ledgerlog.SignatoryVote:
		return m.applySignatoryVote(state, e)
	case ledgerlog.ReleaseApproved:
		return m.applyReleaseApproved(state, e)
	case ledgerlog.DepositReleased:
		return m.applyDepositReleased(state, e)
	case ledgerlog.DisputeTriggered:
		return m.applyDisputeTriggered(state, e)
	case ledgerlog.DAOResolved:
		return m.applyDAOResolved(state, e)
	default:
		return state, nil, fmt.Errorf("unhandled ledger event type %T", evt)
	}
}

func (m *Machine) applyDepositReceived(
	state DepositState,
	evt ledgerlog.DepositReceived,
) (DepositState, []DomainEvent, error) {
	if state.Exists() {
		return state, nil, fmt.Errorf(
			"%w: deposit %d already exists",
			ErrInvalidDeposit,
			evt.ID,
		)
	}
	if !evt.Amount.IsPositive() {
		return state, nil, fmt.Errorf(
			"%w: amount must be positive, got %s",
			ErrInvalidDeposit,
			evt.Amount,
		)
	}
	if evt.Tenant == "" || evt.Landlord == "" {
		return state, nil, fmt.Errorf(
			"%w: missing tenant or landlord address",
			ErrInvalidDeposit,
		)
	}
	if evt.Tenant == evt.Landlord {
		return state, nil, fmt.Errorf(
			"%w: tenant and landlord must differ",
			ErrInvalidDeposit,
		)
	}
	if len(evt.Signatories) != SignatoryCount {
		return state, nil, fmt.Errorf(
			"%w: expected %d signatories, got %d",
			ErrInvalidDeposit,
			SignatoryCount,
			len(evt.Signatories),
		)
	}
	signatories := make([]Signatory, 0, len(evt.Signatories))
	seen := make(map[string]struct{}, len(evt.Signatories))
	for idx, addr := range evt.Signatories {
		if addr == "" {
			return state, nil, fmt.Errorf(
				"%w: empty signatory address at index %d",
				ErrInvalidDeposit,
				idx,
			)
		}
		if _, ok := seen[addr]; ok {
			return state, nil, fmt.Errorf(
				"%w: duplicate signatory address %s",
				ErrInvalidDeposit,
				addr,
			)
		}
		seen[addr] = struct{}{}
		signatories = append(signatories, Signatory{
			Index:   idx,
			Address: addr,
		})
	}
	newState := DepositState{
		ID:               evt.ID,
		Tenant:           evt.Tenant,
		Landlord:         evt.Landlord,
		Token:            evt.Token,
		Amount:           evt.Amount,
		Status:           StatusActive,
		Signatories:      signatories,
		ReleaseTally:     NewTally(m.config.ReleaseThreshold),
		DisputeTally:     NewTally(m.config.ReleaseThreshold),
		TenantReleased:   decimal.Zero,
		LandlordReleased: decimal.Zero,
	}
	events := []DomainEvent{
		{
			Type:      DepositCreatedEventType,
			DepositID: evt.ID,
			Payload: DepositCreatedEvent{
				Tenant:      evt.Tenant,
				Landlord:    evt.Landlord,
				Token:       evt.Token,
				Amount:      evt.Amount,
				Signatories: evt.Signatories,
			},
		},
	}
	return newState, events, nil
}

func (m *Machine) applySignatoryVote(
	state DepositState,
	evt ledgerlog.SignatoryVote,
) (DepositState, []DomainEvent, error) {
	if !state.Exists() {
		return state, nil, fmt.Errorf(
			"%w: deposit %d",
			ErrUnknownDeposit,
			evt.ID,
		)
	}
	if state.Status == StatusDisputed {
		return m.recordDisputeVote(state, evt.Signatory, evt.Choice)
	}
	if state.Status == StatusResolved && state.Dispute != nil {
		// History-only vote on the resolved dispute lane
		return m.recordDisputeVote(state, evt.Signatory, evt.Choice)
	}
	return m.recordReleaseVote(state, evt.Signatory, evt.Choice)
}

func (m *Machine) applyReleaseApproved(
	state DepositState,
	evt ledgerlog.ReleaseApproved,
) (DepositState, []DomainEvent, error) {
	if !state.Exists() {
		return state, nil, fmt.Errorf(
			"%w: deposit %d",
			ErrUnknownDeposit,
			evt.ID,
		)
	}
	if state.Status == StatusDisputed {
		// Release voting is locked for the duration of a dispute
		return state, nil, fmt.Errorf(
			"%w: deposit %d",
			ErrDepositLocked,
			evt.ID,
		)
	}
	if err := terminalStatusError(state); err != nil {
		return state, nil, err
	}
	// A release approval is a vote to pay out the landlord
	return m.recordReleaseVote(state, evt.Signatory, ChoicePayLandlord)
}

// recordReleaseVote applies a release-lane vote. On reaching the winning
// threshold the deposit transitions to Released with amounts conserved
// exactly.
func (m *Machine) recordReleaseVote(
	state DepositState,
	voter string,
	choice VoteChoice,
) (DepositState, []DomainEvent, error) {
	newState := state.Clone()
	tally, result, err := newState.ReleaseTally.Record(
		newState.Signatories,
		voter,
		choice,
	)
	if err != nil {
		return state, nil, fmt.Errorf("deposit %d: %w", state.ID, err)
	}
	newState.ReleaseTally = tally
	events := []DomainEvent{
		{
			Type:      VoteRecordedEventType,
			DepositID: state.ID,
			Payload: VoteRecordedEvent{
				Voter:  voter,
				Choice: choice,
				Lane:   LaneRelease,
				Counts: result.Counts,
			},
		},
	}
	if !result.ThresholdReached || state.Status.Terminal() {
		return newState, events, nil
	}
	tenantAmount, landlordAmount := payoutFor(result.Winning, newState.Amount)
	newState.Status = StatusReleased
	newState.Released = true
	newState.TenantReleased = tenantAmount
	newState.LandlordReleased = landlordAmount
	events = append(events, DomainEvent{
		Type:      DepositReleasedEventType,
		DepositID: state.ID,
		Payload: DepositReleasedEvent{
			Choice:         result.Winning,
			TenantAmount:   tenantAmount,
			LandlordAmount: landlordAmount,
		},
	})
	return newState, events, nil
}

// recordDisputeVote applies a dispute-lane vote. On reaching the winning
// threshold the dispute resolves and the deposit transitions to Resolved.
func (m *Machine) recordDisputeVote(
	state DepositState,
	voter string,
	choice VoteChoice,
) (DepositState, []DomainEvent, error) {
	newState := state.Clone()
	tally, result, err := newState.DisputeTally.Record(
		newState.Signatories,
		voter,
		choice,
	)
	if err != nil {
		return state, nil, fmt.Errorf("deposit %d: %w", state.ID, err)
	}
	newState.DisputeTally = tally
	events := []DomainEvent{
		{
			Type:      VoteRecordedEventType,
			DepositID: state.ID,
			Payload: VoteRecordedEvent{
				Voter:  voter,
				Choice: choice,
				Lane:   LaneDispute,
				Counts: result.Counts,
			},
		},
	}
	if !result.ThresholdReached || state.Status.Terminal() {
		return newState, events, nil
	}
	tenantAmount, landlordAmount := payoutFor(
		result.Winning,
		newState.Dispute.Amount,
	)
	resolveDispute(&newState, "", tenantAmount, landlordAmount)
	events = append(events, DomainEvent{
		Type:      DisputeResolvedEventType,
		DepositID: state.ID,
		Payload: DisputeResolvedEvent{
			Choice:         result.Winning,
			TenantAmount:   tenantAmount,
			LandlordAmount: landlordAmount,
		},
	})
	return newState, events, nil
}

func (m *Machine) applyDepositReleased(
	state DepositState,
	evt ledgerlog.DepositReleased,
) (DepositState, []DomainEvent, error) {
	if !state.Exists() {
		return state, nil, fmt.Errorf(
			"%w: deposit %d",
			ErrUnknownDeposit,
			evt.ID,
		)
	}
	if state.Status == StatusDisputed {
		return state, nil, fmt.Errorf(
			"%w: deposit %d",
			ErrDepositLocked,
			evt.ID,
		)
	}
	if err := terminalStatusError(state); err != nil {
		return state, nil, err
	}
	if !evt.Amount.Equal(state.Amount) {
		// A release must conserve the full deposit amount
		return state, nil, fmt.Errorf(
			"%w: released %s of deposit amount %s",
			ErrResolutionAmountMismatch,
			evt.Amount,
			state.Amount,
		)
	}
	newState := state.Clone()
	newState.Status = StatusReleased
	newState.Released = true
	newState.TenantReleased = decimal.Zero
	newState.LandlordReleased = evt.Amount
	events := []DomainEvent{
		{
			Type:      DepositReleasedEventType,
			DepositID: state.ID,
			Payload: DepositReleasedEvent{
				Choice:         ChoicePayLandlord,
				TenantAmount:   decimal.Zero,
				LandlordAmount: evt.Amount,
			},
		},
	}
	return newState, events, nil
}

func (m *Machine) applyDisputeTriggered(
	state DepositState,
	evt ledgerlog.DisputeTriggered,
) (DepositState, []DomainEvent, error) {
	if !state.Exists() {
		return state, nil, fmt.Errorf(
			"%w: deposit %d",
			ErrUnknownDeposit,
			evt.ID,
		)
	}
	if state.Status == StatusDisputed {
		return state, nil, fmt.Errorf(
			"%w: deposit %d",
			ErrDisputeAlreadyActive,
			evt.ID,
		)
	}
	if err := terminalStatusError(state); err != nil {
		return state, nil, err
	}
	if evt.TriggeredBy != state.Tenant && evt.TriggeredBy != state.Landlord {
		return state, nil, fmt.Errorf(
			"%w: %s cannot dispute deposit %d",
			ErrNotParticipant,
			evt.TriggeredBy,
			evt.ID,
		)
	}
	newState := state.Clone()
	newState.Status = StatusDisputed
	newState.InDispute = true
	newState.Dispute = &DisputeState{
		Status:      DisputeStatusActive,
		TriggeredBy: evt.TriggeredBy,
		Amount:      newState.Amount,
	}
	newState.DisputeTally = NewTally(m.config.ReleaseThreshold)
	events := []DomainEvent{
		{
			Type:      DisputeOpenedEventType,
			DepositID: state.ID,
			Payload: DisputeOpenedEvent{
				TriggeredBy: evt.TriggeredBy,
				Amount:      newState.Dispute.Amount,
			},
		},
	}
	return newState, events, nil
}

func (m *Machine) applyDAOResolved(
	state DepositState,
	evt ledgerlog.DAOResolved,
) (DepositState, []DomainEvent, error) {
	if !state.Exists() {
		return state, nil, fmt.Errorf(
			"%w: deposit %d",
			ErrUnknownDeposit,
			evt.ID,
		)
	}
	if err := terminalStatusError(state); err != nil {
		return state, nil, err
	}
	if state.Status != StatusDisputed {
		return state, nil, fmt.Errorf(
			"%w: deposit %d",
			ErrNoActiveDispute,
			evt.ID,
		)
	}
	if m.config.DAOAddress == "" || evt.ResolvedBy != m.config.DAOAddress {
		return state, nil, fmt.Errorf(
			"%w: %s",
			ErrUnauthorizedResolver,
			evt.ResolvedBy,
		)
	}
	if evt.TenantAmount.IsNegative() || evt.LandlordAmount.IsNegative() {
		return state, nil, fmt.Errorf(
			"%w: negative resolution amount",
			ErrResolutionAmountMismatch,
		)
	}
	total := evt.TenantAmount.Add(evt.LandlordAmount)
	if !total.Equal(state.Dispute.Amount) {
		// Fail closed: the event is rejected without mutating state
		return state, nil, fmt.Errorf(
			"%w: %s + %s != %s",
			ErrResolutionAmountMismatch,
			evt.TenantAmount,
			evt.LandlordAmount,
			state.Dispute.Amount,
		)
	}
	newState := state.Clone()
	resolveDispute(&newState, evt.ResolvedBy, evt.TenantAmount, evt.LandlordAmount)
	events := []DomainEvent{
		{
			Type:      DisputeResolvedEventType,
			DepositID: state.ID,
			Payload: DisputeResolvedEvent{
				ResolvedBy:     evt.ResolvedBy,
				TenantAmount:   evt.TenantAmount,
				LandlordAmount: evt.LandlordAmount,
			},
		},
	}
	return newState, events, nil
}

// resolveDispute moves a disputed deposit to its terminal Resolved state and
// records the per-party payout amounts.
func resolveDispute(
	state *DepositState,
	resolvedBy string,
	tenantAmount, landlordAmount decimal.Decimal,
) {
	state.Status = StatusResolved
	state.Released = true
	state.InDispute = false
	state.TenantReleased = tenantAmount
	state.LandlordReleased = landlordAmount
	state.Dispute.Status = DisputeStatusResolved
	state.Dispute.ResolvedBy = resolvedBy
	state.Dispute.TenantAmount = tenantAmount
	state.Dispute.LandlordAmount = landlordAmount
}

// terminalStatusError maps a terminal deposit status to its rejection error.
func terminalStatusError(state DepositState) error {
	switch state.Status {
	case StatusReleased:
		return fmt.Errorf("%w: deposit %d", ErrAlreadyReleased, state.ID)
	case StatusResolved:
		return fmt.Errorf("%w: deposit %d", ErrAlreadyResolved, state.ID)
	default:
		return nil
	}
}

// payoutFor computes the per-party disbursement for a winning choice. The two
// amounts always sum to the input amount exactly; a split gives any odd
// remainder in the smallest represented unit to the landlord.
func payoutFor(
	choice VoteChoice,
	amount decimal.Decimal,
) (decimal.Decimal, decimal.Decimal) {
	switch choice {
	case ChoiceRefundTenant:
		return amount, decimal.Zero
	case ChoiceSplit:
		places := int32(0)
		if amount.Exponent() < 0 {
			places = -amount.Exponent()
		}
		tenantAmount := amount.Div(decimal.NewFromInt(2)).Truncate(places)
		return tenantAmount, amount.Sub(tenantAmount)
	default:
		// PayLandlord
		return decimal.Zero, amount
	}
}
