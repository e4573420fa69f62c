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

package ledgerlog

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/shopspring/decimal"
)

// EventType identifies one of the closed set of ledger event kinds.
type EventType string

const (
	EventTypeDepositReceived  EventType = "DepositReceived"
	EventTypeSignatoryVote    EventType = "SignatoryVote"
	EventTypeReleaseApproved  EventType = "ReleaseApproved"
	EventTypeDepositReleased  EventType = "DepositReleased"
	EventTypeDisputeTriggered EventType = "DisputeTriggered"
	EventTypeDAOResolved      EventType = "DAOResolved"
)

// VoteChoice is a signatory's recorded choice. It is part of the wire schema
// for SignatoryVote events.
type VoteChoice string

const (
	ChoicePending      VoteChoice = "Pending"
	ChoiceRefundTenant VoteChoice = "RefundTenant"
	ChoicePayLandlord  VoteChoice = "PayLandlord"
	ChoiceSplit        VoteChoice = "Split"
)

// Valid returns true for a choice a signatory may actually cast. Pending is a
// placeholder state, never a castable choice.
func (c VoteChoice) Valid() bool {
	switch c {
	case ChoiceRefundTenant, ChoicePayLandlord, ChoiceSplit:
		return true
	default:
		return false
	}
}

// Event is the closed sum of authoritative ledger events. Each variant is
// exhaustively matched by the escrow state machine.
type Event interface {
	DepositID() uint64
	Type() EventType
}

// DepositReceived creates a deposit and attaches its signatory set.
type DepositReceived struct {
	ID          uint64
	Tenant      string
	Landlord    string
	Token       string
	Amount      decimal.Decimal
	Signatories []string
}

func (e DepositReceived) DepositID() uint64 { return e.ID }
func (e DepositReceived) Type() EventType   { return EventTypeDepositReceived }

// SignatoryVote records a signatory's choice for release approval (while
// active) or dispute resolution (while disputed).
type SignatoryVote struct {
	ID        uint64
	Signatory string
	Choice    VoteChoice
}

func (e SignatoryVote) DepositID() uint64 { return e.ID }
func (e SignatoryVote) Type() EventType   { return EventTypeSignatoryVote }

// ReleaseApproved is a signatory's approval to release the deposit to the
// landlord. Only meaningful while the deposit is active.
type ReleaseApproved struct {
	ID        uint64
	Signatory string
}

func (e ReleaseApproved) DepositID() uint64 { return e.ID }
func (e ReleaseApproved) Type() EventType   { return EventTypeReleaseApproved }

// DepositReleased confirms an on-ledger release of the full deposit amount.
type DepositReleased struct {
	ID     uint64
	Amount decimal.Decimal
}

func (e DepositReleased) DepositID() uint64 { return e.ID }
func (e DepositReleased) Type() EventType   { return EventTypeDepositReleased }

// DisputeTriggered opens a dispute and locks release voting.
type DisputeTriggered struct {
	ID          uint64
	TriggeredBy string
}

func (e DisputeTriggered) DepositID() uint64 { return e.ID }
func (e DisputeTriggered) Type() EventType   { return EventTypeDisputeTriggered }

// DAOResolved is a privileged override resolving an active dispute with
// explicit per-party amounts.
type DAOResolved struct {
	ID             uint64
	ResolvedBy     string
	TenantAmount   decimal.Decimal
	LandlordAmount decimal.Decimal
}

func (e DAOResolved) DepositID() uint64 { return e.ID }
func (e DAOResolved) Type() EventType   { return EventTypeDAOResolved }

// EventEnvelope wraps a ledger event with its position, originating
// transaction hash, and the position of the previous event for the same
// deposit. Prev is the zero position for a deposit's first event and is what
// allows consumers to detect gaps in a deposit's stream.
type EventEnvelope struct {
	Position Position
	Prev     Position
	TxHash   string
	Event    Event
}

// DedupKey returns the event identity used for exactly-once application:
// (event type, transaction hash, log index).
func (e EventEnvelope) DedupKey() string {
	return fmt.Sprintf(
		"%s:%s:%d",
		e.Event.Type(),
		e.TxHash,
		e.Position.LogIndex,
	)
}

// wireEnvelope is the CBOR encoding of an EventEnvelope. The event payload is
// stored as a tagged raw message so the sum type round-trips.
type wireEnvelope struct {
	Position  Position
	Prev      Position
	TxHash    string
	EventType EventType
	Event     cbor.RawMessage
}

// MarshalEnvelope encodes an envelope to CBOR for storage.
func MarshalEnvelope(env EventEnvelope) ([]byte, error) {
	if env.Event == nil {
		return nil, fmt.Errorf("envelope has no event")
	}
	evtData, err := cbor.Marshal(env.Event)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return cbor.Marshal(wireEnvelope{
		Position:  env.Position,
		Prev:      env.Prev,
		TxHash:    env.TxHash,
		EventType: env.Event.Type(),
		Event:     evtData,
	})
}

// UnmarshalEnvelope decodes an envelope from its CBOR encoding.
func UnmarshalEnvelope(data []byte) (EventEnvelope, error) {
	var wire wireEnvelope
	if err := cbor.Unmarshal(data, &wire); err != nil {
		return EventEnvelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	ret := EventEnvelope{
		Position: wire.Position,
		Prev:     wire.Prev,
		TxHash:   wire.TxHash,
	}
	var err error
	switch wire.EventType {
	case EventTypeDepositReceived:
		var evt DepositReceived
		err = cbor.Unmarshal(wire.Event, &evt)
		ret.Event = evt
	case EventTypeSignatoryVote:
		var evt SignatoryVote
		err = cbor.Unmarshal(wire.Event, &evt)
		ret.Event = evt
	case EventTypeReleaseApproved:
		var evt ReleaseApproved
		err = cbor.Unmarshal(wire.Event, &evt)
		ret.Event = evt
	case EventTypeDepositReleased:
		var evt DepositReleased
		err = cbor.Unmarshal(wire.Event, &evt)
		ret.Event = evt
	case EventTypeDisputeTriggered:
		var evt DisputeTriggered
		err = cbor.Unmarshal(wire.Event, &evt)
		ret.Event = evt
	case EventTypeDAOResolved:
		var evt DAOResolved
		err = cbor.Unmarshal(wire.Event, &evt)
		ret.Event = evt
	default:
		return EventEnvelope{}, fmt.Errorf(
			"unknown event type: %s",
			wire.EventType,
		)
	}
	if err != nil {
		return EventEnvelope{}, fmt.Errorf(
			"unmarshal %s event: %w",
			wire.EventType,
			err,
		)
	}
	return ret, nil
}
