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

package escrowd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ultrarentz/escrowd/ledgerlog"
)

func gateEnvelope(blockHeight uint64) ledgerlog.EventEnvelope {
	return ledgerlog.EventEnvelope{
		Position: ledgerlog.Position{BlockHeight: blockHeight},
		Event:    ledgerlog.DepositReceived{ID: 7},
	}
}

func TestCatchupGateBuffersUntilOpen(t *testing.T) {
	var delivered []uint64
	gate := newCatchupGate(func(env ledgerlog.EventEnvelope) {
		delivered = append(delivered, env.Position.BlockHeight)
	})

	// Live appends arriving during catch-up are held back
	gate.Submit(gateEnvelope(4))
	gate.Submit(gateEnvelope(5))
	assert.Empty(t, delivered, "events must not bypass the replay")

	// Opening flushes the buffer in append order
	gate.Open()
	require.Equal(t, []uint64{4, 5}, delivered)

	// After opening, deliveries pass straight through
	gate.Submit(gateEnvelope(6))
	assert.Equal(t, []uint64{4, 5, 6}, delivered)
}

func TestCatchupGateOpenWithEmptyBuffer(t *testing.T) {
	var delivered []uint64
	gate := newCatchupGate(func(env ledgerlog.EventEnvelope) {
		delivered = append(delivered, env.Position.BlockHeight)
	})
	gate.Open()
	assert.Empty(t, delivered)
	gate.Submit(gateEnvelope(1))
	assert.Equal(t, []uint64{1}, delivered)
}
