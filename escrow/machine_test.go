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

package escrow_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ultrarentz/escrowd/escrow"
	"github.com/ultrarentz/escrowd/ledgerlog"
)

const (
	testDepositID  = uint64(42)
	testTenant     = "tenant1"
	testLandlord   = "landlord1"
	testDAOAddress = "dao1"
)

var testSignatoryAddrs = []string{
	"sig0", "sig1", "sig2", "sig3", "sig4", "sig5",
}

func testMachine() *escrow.Machine {
	return escrow.NewMachine(escrow.MachineConfig{
		DAOAddress: testDAOAddress,
	})
}

func depositReceived(amount string) ledgerlog.DepositReceived {
	return ledgerlog.DepositReceived{
		ID:          testDepositID,
		Tenant:      testTenant,
		Landlord:    testLandlord,
		Token:       "USDC",
		Amount:      decimal.RequireFromString(amount),
		Signatories: testSignatoryAddrs,
	}
}

// activeDeposit creates a deposit in Active status by applying a creation
// event to an empty state.
func activeDeposit(t *testing.T, m *escrow.Machine, amount string) escrow.DepositState {
	t.Helper()
	state, events, err := m.Apply(
		escrow.DepositState{},
		depositReceived(amount),
	)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, escrow.StatusActive, state.Status)
	return state
}

// disputedDeposit creates a deposit and puts it in Disputed status.
func disputedDeposit(t *testing.T, m *escrow.Machine, amount string) escrow.DepositState {
	t.Helper()
	state := activeDeposit(t, m, amount)
	state, _, err := m.Apply(state, ledgerlog.DisputeTriggered{
		ID:          testDepositID,
		TriggeredBy: testTenant,
	})
	require.NoError(t, err)
	require.Equal(t, escrow.StatusDisputed, state.Status)
	return state
}

func vote(voter string, choice escrow.VoteChoice) ledgerlog.SignatoryVote {
	return ledgerlog.SignatoryVote{
		ID:        testDepositID,
		Signatory: voter,
		Choice:    choice,
	}
}

func TestDepositReceived(t *testing.T) {
	m := testMachine()
	state := activeDeposit(t, m, "100")
	assert.Equal(t, testTenant, state.Tenant)
	assert.Equal(t, testLandlord, state.Landlord)
	assert.True(t, state.Amount.Equal(decimal.RequireFromString("100")))
	assert.Len(t, state.Signatories, escrow.SignatoryCount)
	assert.False(t, state.Released)
	assert.False(t, state.InDispute)
	for idx, sig := range state.Signatories {
		assert.Equal(t, idx, sig.Index)
		assert.Equal(t, testSignatoryAddrs[idx], sig.Address)
	}
}

func TestDepositReceivedValidation(t *testing.T) {
	m := testMachine()
	testDefs := []struct {
		name   string
		mutate func(*ledgerlog.DepositReceived)
	}{
		{
			name: "zero amount",
			mutate: func(e *ledgerlog.DepositReceived) {
				e.Amount = decimal.Zero
			},
		},
		{
			name: "negative amount",
			mutate: func(e *ledgerlog.DepositReceived) {
				e.Amount = decimal.RequireFromString("-5")
			},
		},
		{
			name: "tenant equals landlord",
			mutate: func(e *ledgerlog.DepositReceived) {
				e.Landlord = e.Tenant
			},
		},
		{
			name: "missing tenant",
			mutate: func(e *ledgerlog.DepositReceived) {
				e.Tenant = ""
			},
		},
		{
			name: "too few signatories",
			mutate: func(e *ledgerlog.DepositReceived) {
				e.Signatories = e.Signatories[:4]
			},
		},
		{
			name: "duplicate signatory",
			mutate: func(e *ledgerlog.DepositReceived) {
				e.Signatories = []string{
					"sig0", "sig1", "sig2", "sig3", "sig4", "sig0",
				}
			},
		},
		{
			name: "empty signatory address",
			mutate: func(e *ledgerlog.DepositReceived) {
				e.Signatories = []string{
					"sig0", "sig1", "sig2", "sig3", "sig4", "",
				}
			},
		},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			evt := depositReceived("100")
			testDef.mutate(&evt)
			_, _, err := m.Apply(escrow.DepositState{}, evt)
			require.ErrorIs(t, err, escrow.ErrInvalidDeposit)
		})
	}
}

func TestDepositReceivedDuplicate(t *testing.T) {
	m := testMachine()
	state := activeDeposit(t, m, "100")
	_, _, err := m.Apply(state, depositReceived("100"))
	require.ErrorIs(t, err, escrow.ErrInvalidDeposit)
}

func TestVoteOnUnknownDeposit(t *testing.T) {
	m := testMachine()
	_, _, err := m.Apply(
		escrow.DepositState{},
		vote("sig0", escrow.ChoicePayLandlord),
	)
	require.ErrorIs(t, err, escrow.ErrUnknownDeposit)
}

func TestFourOfSixReleasesFullAmount(t *testing.T) {
	m := testMachine()
	state := activeDeposit(t, m, "100")
	var events []escrow.DomainEvent
	var err error
	for _, voter := range []string{"sig0", "sig1", "sig2"} {
		state, events, err = m.Apply(
			state,
			vote(voter, escrow.ChoicePayLandlord),
		)
		require.NoError(t, err)
		require.Len(
			t,
			events,
			1,
			"three approvals must never trigger a release",
		)
		assert.Equal(t, escrow.StatusActive, state.Status)
	}
	state, events, err = m.Apply(state, vote("sig3", escrow.ChoicePayLandlord))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, escrow.VoteRecordedEventType, events[0].Type)
	assert.Equal(t, escrow.DepositReleasedEventType, events[1].Type)
	assert.Equal(t, escrow.StatusReleased, state.Status)
	assert.True(t, state.Released)
	assert.True(t, state.TenantReleased.IsZero())
	assert.True(
		t,
		state.LandlordReleased.Equal(decimal.RequireFromString("100")),
	)
}

func TestRepeatVotesCannotReachThreshold(t *testing.T) {
	m := testMachine()
	state := activeDeposit(t, m, "100")
	var err error
	// One signatory voting four times counts as a single vote
	for i := 0; i < 4; i++ {
		state, _, err = m.Apply(state, vote("sig0", escrow.ChoicePayLandlord))
		require.NoError(t, err)
	}
	assert.Equal(t, escrow.StatusActive, state.Status)
	assert.Equal(t, 1, state.ReleaseTally.Count(escrow.ChoicePayLandlord))
}

func TestReleaseApprovedCountsAsPayLandlordVote(t *testing.T) {
	m := testMachine()
	state := activeDeposit(t, m, "250.50")
	var err error
	for _, voter := range []string{"sig0", "sig1", "sig2", "sig3"} {
		state, _, err = m.Apply(state, ledgerlog.ReleaseApproved{
			ID:        testDepositID,
			Signatory: voter,
		})
		require.NoError(t, err)
	}
	assert.Equal(t, escrow.StatusReleased, state.Status)
	assert.True(
		t,
		state.LandlordReleased.Equal(decimal.RequireFromString("250.50")),
	)
}

func TestNonSignatoryVoteRejected(t *testing.T) {
	m := testMachine()
	state := activeDeposit(t, m, "100")
	_, _, err := m.Apply(state, vote(testTenant, escrow.ChoicePayLandlord))
	require.ErrorIs(t, err, escrow.ErrUnknownSignatory)
}

func TestDisputeLocksRelease(t *testing.T) {
	m := testMachine()
	state := disputedDeposit(t, m, "100")

	_, _, err := m.Apply(state, ledgerlog.ReleaseApproved{
		ID:        testDepositID,
		Signatory: "sig0",
	})
	require.ErrorIs(t, err, escrow.ErrDepositLocked)

	_, _, err = m.Apply(state, ledgerlog.DepositReleased{
		ID:     testDepositID,
		Amount: decimal.RequireFromString("100"),
	})
	require.ErrorIs(t, err, escrow.ErrDepositLocked)
}

func TestDisputeTriggeredValidation(t *testing.T) {
	m := testMachine()
	state := activeDeposit(t, m, "100")

	// Only the tenant or landlord may dispute
	_, _, err := m.Apply(state, ledgerlog.DisputeTriggered{
		ID:          testDepositID,
		TriggeredBy: "sig0",
	})
	require.ErrorIs(t, err, escrow.ErrNotParticipant)

	state, _, err = m.Apply(state, ledgerlog.DisputeTriggered{
		ID:          testDepositID,
		TriggeredBy: testLandlord,
	})
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusDisputed, state.Status)
	assert.True(t, state.InDispute)
	require.NotNil(t, state.Dispute)
	assert.Equal(t, testLandlord, state.Dispute.TriggeredBy)
	assert.True(t, state.Dispute.Amount.Equal(state.Amount))

	// A second dispute on an already disputed deposit is rejected
	_, _, err = m.Apply(state, ledgerlog.DisputeTriggered{
		ID:          testDepositID,
		TriggeredBy: testTenant,
	})
	require.ErrorIs(t, err, escrow.ErrDisputeAlreadyActive)
}

func TestDisputeVotesResolveRefundTenant(t *testing.T) {
	m := testMachine()
	state := disputedDeposit(t, m, "100")
	var events []escrow.DomainEvent
	var err error
	for _, voter := range []string{"sig0", "sig1", "sig2"} {
		state, events, err = m.Apply(
			state,
			vote(voter, escrow.ChoiceRefundTenant),
		)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, escrow.StatusDisputed, state.Status)
	}
	state, events, err = m.Apply(state, vote("sig3", escrow.ChoiceRefundTenant))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, escrow.DisputeResolvedEventType, events[1].Type)
	assert.Equal(t, escrow.StatusResolved, state.Status)
	assert.False(t, state.InDispute)
	assert.Equal(t, escrow.DisputeStatusResolved, state.Dispute.Status)
	assert.True(
		t,
		state.TenantReleased.Equal(decimal.RequireFromString("100")),
	)
	assert.True(t, state.LandlordReleased.IsZero())
}

func TestDisputeVotesResolveSplitOddAmount(t *testing.T) {
	m := testMachine()
	state := disputedDeposit(t, m, "101")
	var err error
	for _, voter := range []string{"sig0", "sig1", "sig2", "sig3"} {
		state, _, err = m.Apply(state, vote(voter, escrow.ChoiceSplit))
		require.NoError(t, err)
	}
	assert.Equal(t, escrow.StatusResolved, state.Status)
	// Odd remainder in the smallest unit goes to the landlord
	assert.True(t, state.TenantReleased.Equal(decimal.RequireFromString("50")))
	assert.True(
		t,
		state.LandlordReleased.Equal(decimal.RequireFromString("51")),
	)
	total := state.TenantReleased.Add(state.LandlordReleased)
	assert.True(t, total.Equal(state.Amount))
}

func TestDisputeVotesResolveSplitFractional(t *testing.T) {
	m := testMachine()
	state := disputedDeposit(t, m, "0.03")
	var err error
	for _, voter := range []string{"sig0", "sig1", "sig2", "sig3"} {
		state, _, err = m.Apply(state, vote(voter, escrow.ChoiceSplit))
		require.NoError(t, err)
	}
	assert.True(
		t,
		state.TenantReleased.Equal(decimal.RequireFromString("0.01")),
	)
	assert.True(
		t,
		state.LandlordReleased.Equal(decimal.RequireFromString("0.02")),
	)
	total := state.TenantReleased.Add(state.LandlordReleased)
	assert.True(t, total.Equal(state.Amount))
}

func TestVotesAfterResolutionAreHistoryOnly(t *testing.T) {
	m := testMachine()
	state := disputedDeposit(t, m, "100")
	var err error
	for _, voter := range []string{"sig0", "sig1", "sig2", "sig3"} {
		state, _, err = m.Apply(state, vote(voter, escrow.ChoiceRefundTenant))
		require.NoError(t, err)
	}
	require.Equal(t, escrow.StatusResolved, state.Status)
	tenantReleased := state.TenantReleased

	// Late votes are recorded but never change the outcome
	state, events, err := m.Apply(state, vote("sig4", escrow.ChoicePayLandlord))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, escrow.StatusResolved, state.Status)
	assert.True(t, state.TenantReleased.Equal(tenantReleased))
	assert.Contains(t, state.DisputeTally.Votes, "sig4")
}

func TestDAOResolvesDisputeWithExplicitAmounts(t *testing.T) {
	m := testMachine()
	state := disputedDeposit(t, m, "100")
	state, events, err := m.Apply(state, ledgerlog.DAOResolved{
		ID:             testDepositID,
		ResolvedBy:     testDAOAddress,
		TenantAmount:   decimal.RequireFromString("40"),
		LandlordAmount: decimal.RequireFromString("60"),
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, escrow.DisputeResolvedEventType, events[0].Type)
	assert.Equal(t, escrow.StatusResolved, state.Status)
	assert.Equal(t, testDAOAddress, state.Dispute.ResolvedBy)
	assert.True(t, state.TenantReleased.Equal(decimal.RequireFromString("40")))
	assert.True(
		t,
		state.LandlordReleased.Equal(decimal.RequireFromString("60")),
	)
}

func TestDAOResolutionAuthorization(t *testing.T) {
	m := testMachine()
	state := disputedDeposit(t, m, "100")
	_, _, err := m.Apply(state, ledgerlog.DAOResolved{
		ID:             testDepositID,
		ResolvedBy:     testLandlord,
		TenantAmount:   decimal.RequireFromString("40"),
		LandlordAmount: decimal.RequireFromString("60"),
	})
	require.ErrorIs(t, err, escrow.ErrUnauthorizedResolver)
}

func TestDAOResolutionMustConserveAmount(t *testing.T) {
	m := testMachine()
	state := disputedDeposit(t, m, "100")

	testDefs := []struct {
		name           string
		tenantAmount   string
		landlordAmount string
	}{
		{name: "short", tenantAmount: "40", landlordAmount: "59"},
		{name: "over", tenantAmount: "40", landlordAmount: "61"},
		{name: "negative", tenantAmount: "-10", landlordAmount: "110"},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			newState, _, err := m.Apply(state, ledgerlog.DAOResolved{
				ID:         testDepositID,
				ResolvedBy: testDAOAddress,
				TenantAmount: decimal.RequireFromString(
					testDef.tenantAmount,
				),
				LandlordAmount: decimal.RequireFromString(
					testDef.landlordAmount,
				),
			})
			require.ErrorIs(t, err, escrow.ErrResolutionAmountMismatch)
			// Rejection must not mutate state
			assert.Equal(t, escrow.StatusDisputed, newState.Status)
			assert.Equal(
				t,
				escrow.DisputeStatusActive,
				newState.Dispute.Status,
			)
		})
	}
}

func TestDAOResolutionRequiresActiveDispute(t *testing.T) {
	m := testMachine()
	state := activeDeposit(t, m, "100")
	_, _, err := m.Apply(state, ledgerlog.DAOResolved{
		ID:             testDepositID,
		ResolvedBy:     testDAOAddress,
		TenantAmount:   decimal.RequireFromString("50"),
		LandlordAmount: decimal.RequireFromString("50"),
	})
	require.ErrorIs(t, err, escrow.ErrNoActiveDispute)
}

func TestDepositReleasedRequiresFullAmount(t *testing.T) {
	m := testMachine()
	state := activeDeposit(t, m, "100")
	_, _, err := m.Apply(state, ledgerlog.DepositReleased{
		ID:     testDepositID,
		Amount: decimal.RequireFromString("99"),
	})
	require.ErrorIs(t, err, escrow.ErrResolutionAmountMismatch)

	state, events, err := m.Apply(state, ledgerlog.DepositReleased{
		ID:     testDepositID,
		Amount: decimal.RequireFromString("100"),
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, escrow.StatusReleased, state.Status)
	assert.True(
		t,
		state.LandlordReleased.Equal(decimal.RequireFromString("100")),
	)
}

func TestTerminalStatesRejectFurtherTransitions(t *testing.T) {
	m := testMachine()
	state := activeDeposit(t, m, "100")
	var err error
	state, _, err = m.Apply(state, ledgerlog.DepositReleased{
		ID:     testDepositID,
		Amount: decimal.RequireFromString("100"),
	})
	require.NoError(t, err)
	require.Equal(t, escrow.StatusReleased, state.Status)

	_, _, err = m.Apply(state, ledgerlog.DepositReleased{
		ID:     testDepositID,
		Amount: decimal.RequireFromString("100"),
	})
	require.ErrorIs(t, err, escrow.ErrAlreadyReleased)

	_, _, err = m.Apply(state, ledgerlog.DisputeTriggered{
		ID:          testDepositID,
		TriggeredBy: testTenant,
	})
	require.ErrorIs(t, err, escrow.ErrAlreadyReleased)

	_, _, err = m.Apply(state, ledgerlog.DAOResolved{
		ID:             testDepositID,
		ResolvedBy:     testDAOAddress,
		TenantAmount:   decimal.RequireFromString("50"),
		LandlordAmount: decimal.RequireFromString("50"),
	})
	require.ErrorIs(t, err, escrow.ErrAlreadyReleased)
}

func TestVotesAfterReleaseCannotReleaseAgain(t *testing.T) {
	m := testMachine()
	state := activeDeposit(t, m, "100")
	var err error
	state, _, err = m.Apply(state, ledgerlog.DepositReleased{
		ID:     testDepositID,
		Amount: decimal.RequireFromString("100"),
	})
	require.NoError(t, err)

	// Release-lane votes on a released deposit are history only, even if
	// they reach the threshold
	for _, voter := range []string{"sig0", "sig1", "sig2", "sig3"} {
		var events []escrow.DomainEvent
		state, events, err = m.Apply(
			state,
			vote(voter, escrow.ChoicePayLandlord),
		)
		require.NoError(t, err)
		require.Len(t, events, 1)
	}
	assert.Equal(t, escrow.StatusReleased, state.Status)
	assert.True(
		t,
		state.LandlordReleased.Equal(decimal.RequireFromString("100")),
	)
}

func TestApplyIsDeterministic(t *testing.T) {
	run := func() escrow.DepositState {
		m := testMachine()
		state := activeDeposit(t, m, "100")
		var err error
		state, _, err = m.Apply(state, ledgerlog.DisputeTriggered{
			ID:          testDepositID,
			TriggeredBy: testTenant,
		})
		require.NoError(t, err)
		for _, voter := range []string{"sig0", "sig1", "sig2", "sig3"} {
			state, _, err = m.Apply(state, vote(voter, escrow.ChoiceSplit))
			require.NoError(t, err)
		}
		return state
	}
	first := run()
	second := run()
	assert.Equal(t, first, second)
}
