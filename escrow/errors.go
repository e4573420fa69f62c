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

import "errors"

// Validation errors. These reject an event at the state machine boundary
// without mutating state.
var (
	ErrInvalidDeposit           = errors.New("invalid deposit")
	ErrUnknownDeposit           = errors.New("unknown deposit")
	ErrUnknownSignatory         = errors.New("unknown signatory")
	ErrInvalidChoice            = errors.New("invalid vote choice")
	ErrNotParticipant           = errors.New("address is not a deposit participant")
	ErrResolutionAmountMismatch = errors.New(
		"resolution amounts do not sum to disputed amount",
	)
	ErrUnauthorizedResolver = errors.New("resolver is not the configured DAO")
)

// Concurrency errors. These are expected outcomes of the state machine's own
// invariants; callers treat them as terminal for the rejected event.
var (
	ErrDepositLocked        = errors.New("deposit locked by active dispute")
	ErrAlreadyReleased      = errors.New("deposit already released")
	ErrAlreadyResolved      = errors.New("deposit already resolved")
	ErrDisputeAlreadyActive = errors.New("dispute already active")
	ErrNoActiveDispute      = errors.New("no active dispute")
)
