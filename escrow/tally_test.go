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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ultrarentz/escrowd/escrow"
)

func testSignatories() []escrow.Signatory {
	return []escrow.Signatory{
		{Address: "sig0", Index: 0},
		{Address: "sig1", Index: 1},
		{Address: "sig2", Index: 2},
		{Address: "sig3", Index: 3},
		{Address: "sig4", Index: 4},
		{Address: "sig5", Index: 5},
	}
}

func TestThresholdFor(t *testing.T) {
	testDefs := []struct {
		signatories int
		expected    int
	}{
		{signatories: 6, expected: 4},
		{signatories: 3, expected: 2},
		{signatories: 9, expected: 6},
		{signatories: 1, expected: 1},
		{signatories: 0, expected: 0},
	}
	for _, testDef := range testDefs {
		assert.Equal(
			t,
			testDef.expected,
			escrow.ThresholdFor(testDef.signatories),
			"unexpected threshold for %d signatories",
			testDef.signatories,
		)
	}
}

func TestTallyRecordUnknownSignatory(t *testing.T) {
	tally := escrow.NewTally(4)
	_, _, err := tally.Record(
		testSignatories(),
		"stranger",
		escrow.ChoicePayLandlord,
	)
	require.ErrorIs(t, err, escrow.ErrUnknownSignatory)
}

func TestTallyRecordInvalidChoice(t *testing.T) {
	tally := escrow.NewTally(4)
	_, _, err := tally.Record(
		testSignatories(),
		"sig0",
		escrow.ChoicePending,
	)
	require.ErrorIs(t, err, escrow.ErrInvalidChoice)
	_, _, err = tally.Record(
		testSignatories(),
		"sig0",
		escrow.VoteChoice("Bogus"),
	)
	require.ErrorIs(t, err, escrow.ErrInvalidChoice)
}

func TestTallyRepeatVoteOverwrites(t *testing.T) {
	sigs := testSignatories()
	tally := escrow.NewTally(4)
	tally, result, err := tally.Record(sigs, "sig0", escrow.ChoicePayLandlord)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Counts[escrow.ChoicePayLandlord])
	// Same signatory votes again with the same choice
	tally, result, err = tally.Record(sigs, "sig0", escrow.ChoicePayLandlord)
	require.NoError(t, err)
	assert.Equal(
		t,
		1,
		result.Counts[escrow.ChoicePayLandlord],
		"repeat vote must not double-count",
	)
	// Same signatory changes their vote
	tally, result, err = tally.Record(sigs, "sig0", escrow.ChoiceRefundTenant)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Counts[escrow.ChoicePayLandlord])
	assert.Equal(t, 1, result.Counts[escrow.ChoiceRefundTenant])
	assert.Equal(t, 1, len(tally.Votes))
}

func TestTallyThresholdFreezes(t *testing.T) {
	sigs := testSignatories()
	tally := escrow.NewTally(4)
	var result escrow.TallyResult
	var err error
	for _, voter := range []string{"sig0", "sig1", "sig2"} {
		tally, result, err = tally.Record(
			sigs,
			voter,
			escrow.ChoicePayLandlord,
		)
		require.NoError(t, err)
		assert.False(t, result.ThresholdReached)
	}
	tally, result, err = tally.Record(sigs, "sig3", escrow.ChoicePayLandlord)
	require.NoError(t, err)
	assert.True(t, result.ThresholdReached)
	assert.Equal(t, escrow.ChoicePayLandlord, result.Winning)
	assert.True(t, tally.Frozen)

	// A later vote cannot change the winner, even if it would create a
	// competing majority
	for _, voter := range []string{"sig4", "sig5", "sig0", "sig1"} {
		tally, result, err = tally.Record(
			sigs,
			voter,
			escrow.ChoiceRefundTenant,
		)
		require.NoError(t, err)
		assert.False(t, result.ThresholdReached)
		assert.True(t, result.Frozen)
		assert.Equal(t, escrow.ChoicePayLandlord, result.Winning)
	}
	assert.Equal(t, escrow.ChoicePayLandlord, tally.Winner)
}

func TestTallyCloneIsDeep(t *testing.T) {
	sigs := testSignatories()
	tally := escrow.NewTally(4)
	tally, _, err := tally.Record(sigs, "sig0", escrow.ChoiceSplit)
	require.NoError(t, err)
	clone := tally.Clone()
	clone.Votes["sig1"] = escrow.ChoiceSplit
	assert.Equal(t, 1, len(tally.Votes))
	assert.Equal(t, 2, len(clone.Votes))
}
