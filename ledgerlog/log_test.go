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

package ledgerlog_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ultrarentz/escrowd/ledgerlog"
)

func testLog(t *testing.T) *ledgerlog.Log {
	t.Helper()
	l, err := ledgerlog.NewLog(ledgerlog.LogConfig{})
	require.NoError(t, err)
	t.Cleanup(func() {
		l.Close()
	})
	return l
}

func pos(height uint64, txIdx, logIdx uint32) ledgerlog.Position {
	return ledgerlog.Position{
		BlockHeight: height,
		TxIndex:     txIdx,
		LogIndex:    logIdx,
	}
}

func TestPositionCompare(t *testing.T) {
	assert.Equal(t, 0, pos(1, 2, 3).Compare(pos(1, 2, 3)))
	assert.Equal(t, -1, pos(1, 2, 3).Compare(pos(2, 0, 0)))
	assert.Equal(t, -1, pos(1, 2, 3).Compare(pos(1, 3, 0)))
	assert.Equal(t, -1, pos(1, 2, 3).Compare(pos(1, 2, 4)))
	assert.Equal(t, 1, pos(2, 0, 0).Compare(pos(1, 9, 9)))
	assert.True(t, ledgerlog.Position{}.IsZero())
	assert.False(t, pos(0, 0, 1).IsZero())
}

func TestPositionKeyRoundTrip(t *testing.T) {
	orig := pos(123456, 42, 7)
	decoded, err := ledgerlog.PositionFromKey(orig.Key())
	require.NoError(t, err)
	assert.Equal(t, orig, decoded)
}

// Key encoding must sort the same way Compare does, since badger iterates
// keys in byte order.
func TestPositionKeyOrderingMatchesCompare(t *testing.T) {
	positions := []ledgerlog.Position{
		pos(1, 0, 0),
		pos(1, 0, 1),
		pos(1, 1, 0),
		pos(2, 0, 0),
		pos(256, 0, 0),
		pos(256, 256, 256),
	}
	for i := 1; i < len(positions); i++ {
		prev := positions[i-1]
		cur := positions[i]
		assert.Equal(t, -1, prev.Compare(cur))
		assert.Less(t, string(prev.Key()), string(cur.Key()))
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env := ledgerlog.EventEnvelope{
		Position: pos(10, 1, 2),
		Prev:     pos(9, 0, 0),
		TxHash:   "0xabc",
		Event: ledgerlog.DepositReceived{
			ID:       7,
			Tenant:   "tenant1",
			Landlord: "landlord1",
			Token:    "USDC",
			Amount:   decimal.RequireFromString("123.45"),
			Signatories: []string{
				"sig0", "sig1", "sig2", "sig3", "sig4", "sig5",
			},
		},
	}
	data, err := ledgerlog.MarshalEnvelope(env)
	require.NoError(t, err)
	decoded, err := ledgerlog.UnmarshalEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, env.Position, decoded.Position)
	assert.Equal(t, env.Prev, decoded.Prev)
	assert.Equal(t, env.TxHash, decoded.TxHash)
	evt, ok := decoded.Event.(ledgerlog.DepositReceived)
	require.True(t, ok)
	assert.Equal(t, uint64(7), evt.ID)
	assert.True(t, evt.Amount.Equal(decimal.RequireFromString("123.45")))
	assert.Len(t, evt.Signatories, 6)
}

func TestEnvelopeRoundTripVote(t *testing.T) {
	env := ledgerlog.EventEnvelope{
		Position: pos(11, 0, 0),
		TxHash:   "0xdef",
		Event: ledgerlog.SignatoryVote{
			ID:        7,
			Signatory: "sig2",
			Choice:    ledgerlog.ChoiceSplit,
		},
	}
	data, err := ledgerlog.MarshalEnvelope(env)
	require.NoError(t, err)
	decoded, err := ledgerlog.UnmarshalEnvelope(data)
	require.NoError(t, err)
	evt, ok := decoded.Event.(ledgerlog.SignatoryVote)
	require.True(t, ok)
	assert.Equal(t, ledgerlog.ChoiceSplit, evt.Choice)
	assert.Equal(t, "sig2", evt.Signatory)
}

func TestDedupKey(t *testing.T) {
	env := ledgerlog.EventEnvelope{
		Position: pos(10, 1, 2),
		TxHash:   "0xabc",
		Event: ledgerlog.SignatoryVote{
			ID:        7,
			Signatory: "sig0",
			Choice:    ledgerlog.ChoicePayLandlord,
		},
	}
	assert.Equal(t, "SignatoryVote:0xabc:2", env.DedupKey())
}

func TestLogAppendStampsPrev(t *testing.T) {
	l := testLog(t)
	env1, err := l.Append(ledgerlog.EventEnvelope{
		Position: pos(1, 0, 0),
		TxHash:   "0x01",
		Event:    ledgerlog.SignatoryVote{ID: 7, Signatory: "sig0"},
	})
	require.NoError(t, err)
	assert.True(t, env1.Prev.IsZero(), "first event for a deposit has no prev")

	env2, err := l.Append(ledgerlog.EventEnvelope{
		Position: pos(2, 0, 0),
		TxHash:   "0x02",
		Event:    ledgerlog.SignatoryVote{ID: 7, Signatory: "sig1"},
	})
	require.NoError(t, err)
	assert.Equal(t, env1.Position, env2.Prev)

	// A different deposit gets its own prev chain
	env3, err := l.Append(ledgerlog.EventEnvelope{
		Position: pos(3, 0, 0),
		TxHash:   "0x03",
		Event:    ledgerlog.SignatoryVote{ID: 8, Signatory: "sig0"},
	})
	require.NoError(t, err)
	assert.True(t, env3.Prev.IsZero())

	tip, err := l.Tip()
	require.NoError(t, err)
	assert.Equal(t, pos(3, 0, 0), tip)
}

func TestLogAppendRejectsNonMonotonic(t *testing.T) {
	l := testLog(t)
	_, err := l.Append(ledgerlog.EventEnvelope{
		Position: pos(5, 0, 0),
		TxHash:   "0x01",
		Event:    ledgerlog.SignatoryVote{ID: 7, Signatory: "sig0"},
	})
	require.NoError(t, err)
	_, err = l.Append(ledgerlog.EventEnvelope{
		Position: pos(5, 0, 0),
		TxHash:   "0x02",
		Event:    ledgerlog.SignatoryVote{ID: 7, Signatory: "sig1"},
	})
	require.ErrorIs(t, err, ledgerlog.ErrNonMonotonicAppend)
	_, err = l.Append(ledgerlog.EventEnvelope{
		Position: pos(4, 9, 9),
		TxHash:   "0x03",
		Event:    ledgerlog.SignatoryVote{ID: 7, Signatory: "sig1"},
	})
	require.ErrorIs(t, err, ledgerlog.ErrNonMonotonicAppend)
}

func TestLogGet(t *testing.T) {
	l := testLog(t)
	_, err := l.Append(ledgerlog.EventEnvelope{
		Position: pos(1, 0, 0),
		TxHash:   "0x01",
		Event: ledgerlog.DepositReleased{
			ID:     7,
			Amount: decimal.RequireFromString("100"),
		},
	})
	require.NoError(t, err)
	env, err := l.Get(pos(1, 0, 0))
	require.NoError(t, err)
	evt, ok := env.Event.(ledgerlog.DepositReleased)
	require.True(t, ok)
	assert.Equal(t, uint64(7), evt.ID)

	_, err = l.Get(pos(9, 9, 9))
	require.ErrorIs(t, err, ledgerlog.ErrEventNotFound)
}

func TestLogIterateOrder(t *testing.T) {
	l := testLog(t)
	expected := []ledgerlog.Position{
		pos(1, 0, 0),
		pos(1, 0, 1),
		pos(2, 3, 0),
		pos(5, 0, 0),
	}
	for i, p := range expected {
		_, err := l.Append(ledgerlog.EventEnvelope{
			Position: p,
			TxHash:   "0x01",
			Event: ledgerlog.SignatoryVote{
				ID:        uint64(i%2 + 1),
				Signatory: "sig0",
			},
		})
		require.NoError(t, err)
	}
	var got []ledgerlog.Position
	err := l.Iterate(
		ledgerlog.Position{},
		func(env ledgerlog.EventEnvelope) error {
			got = append(got, env.Position)
			return nil
		},
	)
	require.NoError(t, err)
	assert.Equal(t, expected, got)

	// Iterating after a position skips everything at or before it
	got = nil
	err = l.Iterate(pos(1, 0, 1), func(env ledgerlog.EventEnvelope) error {
		got = append(got, env.Position)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, expected[2:], got)
}

func TestLogIterateDeposit(t *testing.T) {
	l := testLog(t)
	for i, depositID := range []uint64{1, 2, 1, 2, 1} {
		_, err := l.Append(ledgerlog.EventEnvelope{
			Position: pos(uint64(i+1), 0, 0),
			TxHash:   "0x01",
			Event: ledgerlog.SignatoryVote{
				ID:        depositID,
				Signatory: "sig0",
			},
		})
		require.NoError(t, err)
	}
	var got []ledgerlog.Position
	err := l.IterateDeposit(
		1,
		ledgerlog.Position{},
		func(env ledgerlog.EventEnvelope) error {
			got = append(got, env.Position)
			assert.Equal(t, uint64(1), env.Event.DepositID())
			return nil
		},
	)
	require.NoError(t, err)
	assert.Equal(
		t,
		[]ledgerlog.Position{pos(1, 0, 0), pos(3, 0, 0), pos(5, 0, 0)},
		got,
	)
}

func TestLogAppendHookOrder(t *testing.T) {
	l := testLog(t)
	var hooked []ledgerlog.EventEnvelope
	l.AddAppendHook(func(env ledgerlog.EventEnvelope) {
		hooked = append(hooked, env)
	})
	for i := 0; i < 3; i++ {
		_, err := l.Append(ledgerlog.EventEnvelope{
			Position: pos(uint64(i+1), 0, 0),
			TxHash:   "0x01",
			Event: ledgerlog.SignatoryVote{
				ID:        7,
				Signatory: "sig0",
			},
		})
		require.NoError(t, err)
	}
	require.Len(t, hooked, 3)
	for i, env := range hooked {
		assert.Equal(t, pos(uint64(i+1), 0, 0), env.Position)
	}
	// Hooks see the stamped Prev, not the submitted one
	assert.True(t, hooked[0].Prev.IsZero())
	assert.Equal(t, hooked[0].Position, hooked[1].Prev)
}
